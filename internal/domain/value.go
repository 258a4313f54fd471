package domain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type ParamKind string

const (
	KindAddress   ParamKind = "address"
	KindText      ParamKind = "text"
	KindInteger   ParamKind = "integer"
	KindTimestamp ParamKind = "timestamp"
	KindEnum      ParamKind = "enum"
)

func (k ParamKind) Valid() bool {
	switch k {
	case KindAddress, KindText, KindInteger, KindTimestamp, KindEnum:
		return true
	default:
		return false
	}
}

// Numeric reports whether values of this kind carry an integer.
func (k ParamKind) Numeric() bool {
	return k == KindInteger || k == KindTimestamp || k == KindEnum
}

// Value is a typed operation parameter. Address and text values use Str,
// the numeric kinds use Int.
type Value struct {
	Kind ParamKind
	Str  string
	Int  int64
}

func AddressValue(addr string) Value { return Value{Kind: KindAddress, Str: addr} }
func TextValue(text string) Value    { return Value{Kind: KindText, Str: text} }
func IntegerValue(n int64) Value     { return Value{Kind: KindInteger, Int: n} }
func TimestampValue(n int64) Value   { return Value{Kind: KindTimestamp, Int: n} }
func EnumValue(n int64) Value        { return Value{Kind: KindEnum, Int: n} }

// Interface returns the plain Go value used on the wire.
func (v Value) Interface() interface{} {
	if v.Kind.Numeric() {
		return v.Int
	}
	return v.Str
}

// String renders the value the way it would be written into a query string.
func (v Value) String() string {
	if v.Kind.Numeric() {
		return strconv.FormatInt(v.Int, 10)
	}
	return v.Str
}

func (v Value) MarshalJSON() ([]byte, error) {
	if !v.Kind.Valid() {
		return nil, fmt.Errorf("value has unknown kind %q", v.Kind)
	}
	return json.Marshal(v.Interface())
}

// ValuesToMap flattens typed parameters into a JSON-ready map.
func ValuesToMap(params map[string]Value) map[string]interface{} {
	out := make(map[string]interface{}, len(params))
	for name, v := range params {
		out[name] = v.Interface()
	}
	return out
}
