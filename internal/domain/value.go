package domain

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
)

// Kind identifies the dynamic type carried by a Value.
type Kind uint8

const (
	// KindUndefined is the zero Kind. It marks a value that was never set,
	// such as a condition without a "value" key.
	KindUndefined Kind = iota
	KindNull
	KindBool
	KindNumber
	KindString
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "boolean"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	default:
		return "undefined"
	}
}

// ErrNotScalar is returned when a JSON array or object appears where a
// scalar fact or literal is required.
var ErrNotScalar = errors.New("value must be a string, number, boolean or null")

// Value is a dynamically typed scalar: a fact value, a rule literal or a
// formula multiplier.
type Value struct {
	Kind Kind
	Num  float64
	Str  string
	Bool bool
}

// NumberValue returns a numeric Value.
func NumberValue(f float64) Value { return Value{Kind: KindNumber, Num: f} }

// StringValue returns a string Value.
func StringValue(s string) Value { return Value{Kind: KindString, Str: s} }

// BoolValue returns a boolean Value.
func BoolValue(b bool) Value { return Value{Kind: KindBool, Bool: b} }

// NullValue returns the null Value.
func NullValue() Value { return Value{Kind: KindNull} }

// ValueOf converts a decoded Go scalar into a Value.
// Integers of any width are widened to float64.
func ValueOf(v any) (Value, error) {
	switch x := v.(type) {
	case nil:
		return NullValue(), nil
	case Value:
		return x, nil
	case bool:
		return BoolValue(x), nil
	case string:
		return StringValue(x), nil
	case float64:
		return NumberValue(x), nil
	case float32:
		return NumberValue(float64(x)), nil
	case int:
		return NumberValue(float64(x)), nil
	case int8:
		return NumberValue(float64(x)), nil
	case int16:
		return NumberValue(float64(x)), nil
	case int32:
		return NumberValue(float64(x)), nil
	case int64:
		return NumberValue(float64(x)), nil
	case uint:
		return NumberValue(float64(x)), nil
	case uint8:
		return NumberValue(float64(x)), nil
	case uint16:
		return NumberValue(float64(x)), nil
	case uint32:
		return NumberValue(float64(x)), nil
	case uint64:
		return NumberValue(float64(x)), nil
	case json.Number:
		f, err := strconv.ParseFloat(string(x), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return Value{}, fmt.Errorf("invalid number %q: %w", x, err)
		}
		return NumberValue(f), nil
	default:
		return Value{}, fmt.Errorf("%w: got %T", ErrNotScalar, v)
	}
}

// Interface returns the Go representation of v: nil, bool, float64 or string.
func (v Value) Interface() any {
	switch v.Kind {
	case KindBool:
		return v.Bool
	case KindNumber:
		return v.Num
	case KindString:
		return v.Str
	default:
		return nil
	}
}

// IsDefined reports whether v carries anything other than undefined.
func (v Value) IsDefined() bool { return v.Kind != KindUndefined }

// MarshalJSON encodes v as a JSON scalar. Undefined and non-finite numbers
// encode as null.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.Kind {
	case KindBool:
		return strconv.AppendBool(nil, v.Bool), nil
	case KindNumber:
		if math.IsNaN(v.Num) || math.IsInf(v.Num, 0) {
			return []byte("null"), nil
		}
		return json.Marshal(v.Num)
	case KindString:
		return json.Marshal(v.Str)
	default:
		return []byte("null"), nil
	}
}

// UnmarshalJSON decodes a JSON scalar. Arrays and objects are rejected.
func (v *Value) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return fmt.Errorf("%w: empty input", ErrNotScalar)
	}
	switch data[0] {
	case 'n':
		*v = NullValue()
		return nil
	case 't', 'f':
		var b bool
		if err := json.Unmarshal(data, &b); err != nil {
			return err
		}
		*v = BoolValue(b)
		return nil
	case '"':
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*v = StringValue(s)
		return nil
	case '[', '{':
		return fmt.Errorf("%w: got %s", ErrNotScalar, data)
	default:
		f, err := strconv.ParseFloat(string(data), 64)
		if err != nil && !errors.Is(err, strconv.ErrRange) {
			return fmt.Errorf("invalid number %s: %w", data, err)
		}
		*v = NumberValue(f)
		return nil
	}
}

// FactMap holds the key/value facts a rule is evaluated against.
// A missing key means the fact is absent.
type FactMap map[string]Value

// FactsFrom converts a generic decoded map into a FactMap.
func FactsFrom(m map[string]any) (FactMap, error) {
	facts := make(FactMap, len(m))
	for k, raw := range m {
		v, err := ValueOf(raw)
		if err != nil {
			return nil, fmt.Errorf("fact %q: %w", k, err)
		}
		facts[k] = v
	}
	return facts, nil
}

// Lookup returns the fact stored under key and whether it was present.
func (f FactMap) Lookup(key string) (Value, bool) {
	v, ok := f[key]
	return v, ok
}
