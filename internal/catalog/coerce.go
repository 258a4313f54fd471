package catalog

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"

	"rikapay/apps/gateway/internal/domain"
)

// Coerce converts a loosely typed value (as decoded from JSON or extracted
// from text) into a domain.Value of the parameter's declared kind.
func Coerce(spec ParameterSpec, raw interface{}) (domain.Value, error) {
	switch spec.Kind {
	case domain.KindAddress:
		s, ok := raw.(string)
		if !ok {
			return domain.Value{}, fmt.Errorf("%w: %s must be an address string", ErrInvalidValue, spec.Name)
		}
		// Addresses stay opaque; the payroll API rejects bad ones.
		s = strings.TrimSpace(s)
		if s == "" {
			return domain.Value{}, fmt.Errorf("%w: %s is empty", ErrInvalidValue, spec.Name)
		}
		return domain.AddressValue(s), nil
	case domain.KindText:
		s, ok := raw.(string)
		if !ok {
			return domain.Value{}, fmt.Errorf("%w: %s must be text", ErrInvalidValue, spec.Name)
		}
		s = strings.TrimSpace(s)
		if s == "" {
			return domain.Value{}, fmt.Errorf("%w: %s is empty", ErrInvalidValue, spec.Name)
		}
		return domain.TextValue(s), nil
	case domain.KindInteger, domain.KindTimestamp, domain.KindEnum:
		n, err := toInt(raw)
		if err != nil {
			return domain.Value{}, fmt.Errorf("%w: %s: %v", ErrInvalidValue, spec.Name, err)
		}
		if n < 0 {
			return domain.Value{}, fmt.Errorf("%w: %s must not be negative", ErrInvalidValue, spec.Name)
		}
		switch spec.Kind {
		case domain.KindTimestamp:
			return domain.TimestampValue(n), nil
		case domain.KindEnum:
			if !enumAllows(spec.Enum, n) {
				return domain.Value{}, fmt.Errorf("%w: %s=%d is not an allowed option", ErrInvalidValue, spec.Name, n)
			}
			return domain.EnumValue(n), nil
		default:
			return domain.IntegerValue(n), nil
		}
	default:
		return domain.Value{}, fmt.Errorf("%w: %s has unknown kind %q", ErrInvalidValue, spec.Name, spec.Kind)
	}
}

// EnumByLabel maps a label such as "weekly" to its option value.
func EnumByLabel(spec ParameterSpec, label string) (int64, bool) {
	label = strings.ToLower(strings.TrimSpace(label))
	for _, opt := range spec.Enum {
		if strings.ToLower(opt.Label) == label {
			return opt.Value, true
		}
	}
	return 0, false
}

func enumAllows(options []EnumOption, n int64) bool {
	for _, opt := range options {
		if opt.Value == n {
			return true
		}
	}
	return false
}

func toInt(raw interface{}) (int64, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case int32:
		return int64(v), nil
	case float64:
		if math.IsNaN(v) || math.IsInf(v, 0) || v != math.Trunc(v) {
			return 0, fmt.Errorf("%v is not an integer", v)
		}
		if v > math.MaxInt64 || v < math.MinInt64 {
			return 0, fmt.Errorf("%v is out of range", v)
		}
		return int64(v), nil
	case json.Number:
		return parseIntText(v.String())
	case string:
		return parseIntText(v)
	default:
		return 0, fmt.Errorf("unsupported value type %T", raw)
	}
}

func parseIntText(s string) (int64, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "$")
	s = strings.ReplaceAll(s, ",", "")
	s = strings.ReplaceAll(s, "_", "")
	if s == "" {
		return 0, fmt.Errorf("empty number")
	}
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || f != math.Trunc(f) {
		return 0, fmt.Errorf("%q is not an integer", s)
	}
	return toInt(f)
}
