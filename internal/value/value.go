package value

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Value is a sealed interface over the state value variants.
// Only Absent, Int and Text implement it.
type Value interface {
	stateValue()
}

// Absent is the explicit "no value" variant.
// It is a real value: writing Absent closes the open interval and starts
// an interval whose value is Absent.
type Absent struct{}

func (Absent) stateValue() {}

// MarshalJSON renders Absent as null. Int and Text already encode as a
// number and a string.
func (Absent) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// Int is an integer state value.
type Int int64

func (Int) stateValue() {}

// Text is a string state value.
type Text string

func (Text) stateValue() {}

// Kind names a variant. Used as the discriminator in persisted rows.
type Kind string

const (
	KindAbsent Kind = "absent"
	KindInt    Kind = "int"
	KindText   Kind = "text"
)

// KindOf returns the variant name of v. A nil interface counts as Absent.
func KindOf(v Value) Kind {
	switch v.(type) {
	case Int:
		return KindInt
	case Text:
		return KindText
	default:
		return KindAbsent
	}
}

// IsAbsent reports whether v is Absent (or nil).
func IsAbsent(v Value) bool {
	return KindOf(v) == KindAbsent
}

// Equal compares two values by variant and payload.
func Equal(a, b Value) bool {
	switch av := a.(type) {
	case Int:
		bv, ok := b.(Int)
		return ok && av == bv
	case Text:
		bv, ok := b.(Text)
		return ok && av == bv
	default:
		return IsAbsent(b)
	}
}

// Format renders v for human output: Absent as "<absent>", Int in decimal,
// Text quoted.
func Format(v Value) string {
	switch val := v.(type) {
	case Int:
		return strconv.FormatInt(int64(val), 10)
	case Text:
		return strconv.Quote(string(val))
	default:
		return "<absent>"
	}
}

// Marshal encodes v as plain JSON: null, a number or a string.
func Marshal(v Value) ([]byte, error) {
	switch val := v.(type) {
	case Int:
		return []byte(strconv.FormatInt(int64(val), 10)), nil
	case Text:
		return json.Marshal(string(val))
	case Absent, nil:
		return []byte("null"), nil
	default:
		return nil, fmt.Errorf("unknown state value type: %T", v)
	}
}

// Unmarshal decodes null, an integer or a string into a Value.
// Floats, booleans and composites are rejected.
func Unmarshal(data []byte) (Value, error) {
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, fmt.Errorf("empty JSON value")
	}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	return FromAny(raw)
}

// FromAny converts a decoded JSON or YAML scalar into a Value.
// nil maps to Absent; json.Number and Go integers map to Int.
func FromAny(raw any) (Value, error) {
	switch val := raw.(type) {
	case nil:
		return Absent{}, nil
	case Value:
		return val, nil
	case string:
		return Text(val), nil
	case int:
		return Int(val), nil
	case int64:
		return Int(val), nil
	case uint64:
		if val > 1<<63-1 {
			return nil, fmt.Errorf("integer out of int64 range: %d", val)
		}
		return Int(int64(val)), nil
	case json.Number:
		s := string(val)
		if strings.ContainsAny(s, ".eE") {
			return nil, fmt.Errorf("floats are not state values: %s", s)
		}
		n, err := val.Int64()
		if err != nil {
			return nil, fmt.Errorf("number out of int64 range: %s", s)
		}
		return Int(n), nil
	case float64, float32:
		return nil, fmt.Errorf("floats are not state values: %v", val)
	default:
		return nil, fmt.Errorf("unsupported state value type: %T", raw)
	}
}
