package validate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"rikapay/apps/gateway/internal/catalog"
	"rikapay/apps/gateway/internal/domain"
	"rikapay/apps/gateway/internal/observability"
	"rikapay/apps/gateway/internal/service/intent"
	"rikapay/apps/gateway/internal/service/ports"
)

var errSchema = errors.New("resolver output does not match the decision schema")

// Validator turns raw resolver output into a Decision. It never returns an
// error: anything that cannot be made to conform becomes Unclear.
type Validator struct {
	cat      *catalog.Catalog
	repairer ports.Repairer
}

// NewValidator builds a validator. repairer may be nil, in which case
// malformed output is downgraded without a second attempt.
func NewValidator(cat *catalog.Catalog, repairer ports.Repairer) *Validator {
	return &Validator{cat: cat, repairer: repairer}
}

type output struct {
	route      string
	parameters map[string]interface{}
	errMsg     string
}

func (v *Validator) Validate(ctx context.Context, raw domain.RawDecision) domain.Decision {
	log := observability.LoggerFromContext(ctx)

	out, err := parseOutput(raw.Text)
	if err != nil && v.repairer != nil {
		log.Info("resolver output malformed, attempting repair", zap.Error(err))
		repaired, repairErr := v.repairer.Repair(ctx, raw.Text, v.cat)
		if repairErr != nil {
			log.Warn("resolver repair failed", zap.Error(repairErr))
		} else {
			out, err = parseOutput(repaired.Text)
		}
	}
	if err != nil {
		log.Warn("schema violation downgraded to unclear", zap.Error(err))
		return domain.Unclear{}
	}
	return v.decide(log, out)
}

func (v *Validator) decide(log *zap.Logger, out output) domain.Decision {
	declaredMissing, isMissing := intent.ParseMissingError(out.errMsg)

	if out.route != "" {
		op, ok := v.cat.Find(out.route)
		if !ok {
			log.Warn("resolver named an operation outside the catalog", zap.String("api_route", out.route))
			if isMissing {
				return v.bestEffort(declaredMissing)
			}
			return domain.Unclear{}
		}
		if out.errMsg != "" && !isMissing {
			return domain.Unclear{}
		}
		params, missing := v.bind(log, op, out.parameters, declaredMissing)
		if len(missing) == 0 {
			return domain.Resolved{OperationID: op.ID, Parameters: params}
		}
		return domain.MissingParameters{OperationHint: op.ID, Missing: missing}
	}

	if isMissing {
		return v.bestEffort(declaredMissing)
	}
	return domain.Unclear{}
}

// bind coerces the declared parameters of op. Undeclared names are dropped.
// A parameter is missing when it is absent, null, fails its kind check, or
// was reported missing by the resolver.
func (v *Validator) bind(log *zap.Logger, op catalog.OperationSpec, raw map[string]interface{}, reported []string) (map[string]domain.Value, []string) {
	for name := range raw {
		if _, ok := op.Param(name); !ok {
			log.Debug("dropping undeclared parameter", zap.String("api_route", op.ID), zap.String("param", name))
		}
	}
	reportedSet := map[string]bool{}
	for _, name := range reported {
		reportedSet[name] = true
	}

	params := make(map[string]domain.Value, len(op.Params))
	var missing []string
	for _, spec := range op.Params {
		value, present := raw[spec.Name]
		if !present || value == nil || reportedSet[spec.Name] {
			missing = append(missing, spec.Name)
			continue
		}
		coerced, err := catalog.Coerce(spec, value)
		if err != nil {
			log.Info("parameter failed kind check", zap.String("api_route", op.ID), zap.String("param", spec.Name), zap.Error(err))
			missing = append(missing, spec.Name)
			continue
		}
		params[spec.Name] = coerced
	}
	return params, missing
}

func (v *Validator) bestEffort(names []string) domain.Decision {
	known := make([]string, 0, len(names))
	seen := map[string]bool{}
	for _, name := range names {
		if seen[name] || !v.cat.KnownParam(name) {
			continue
		}
		seen[name] = true
		known = append(known, name)
	}
	if len(known) == 0 {
		return domain.Unclear{}
	}
	return domain.MissingParameters{Missing: v.cat.OrderParams("", known)}
}

func parseOutput(text string) (output, error) {
	obj, ok := extractObject(text)
	if !ok {
		return output{}, fmt.Errorf("%w: no json object found", errSchema)
	}
	var fields map[string]json.RawMessage
	dec := json.NewDecoder(bytes.NewReader([]byte(obj)))
	dec.UseNumber()
	if err := dec.Decode(&fields); err != nil {
		return output{}, fmt.Errorf("%w: %v", errSchema, err)
	}

	_, hasRoute := fields["api_route"]
	_, hasError := fields["error"]
	if !hasRoute && !hasError {
		return output{}, fmt.Errorf("%w: neither api_route nor error present", errSchema)
	}

	var out output
	var err error
	if out.route, err = optionalString(fields, "api_route"); err != nil {
		return output{}, err
	}
	if out.errMsg, err = optionalString(fields, "error"); err != nil {
		return output{}, err
	}
	if rawParams, ok := fields["parameters"]; ok && !isNull(rawParams) {
		pdec := json.NewDecoder(bytes.NewReader(rawParams))
		pdec.UseNumber()
		if err := pdec.Decode(&out.parameters); err != nil {
			return output{}, fmt.Errorf("%w: parameters must be an object", errSchema)
		}
	}
	return out, nil
}

func optionalString(fields map[string]json.RawMessage, key string) (string, error) {
	raw, ok := fields[key]
	if !ok || isNull(raw) {
		return "", nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", fmt.Errorf("%w: %s must be a string or null", errSchema, key)
	}
	return strings.TrimSpace(s), nil
}

func isNull(raw json.RawMessage) bool {
	return len(bytes.TrimSpace(raw)) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
