// Package payload defines the value model carried by mutations.
//
// A payload is a JSON object whose leaves are restricted to strings, 64-bit
// integers, booleans and null. Floats are rejected everywhere because two
// encoders can disagree on their textual form, which would make the same
// logical mutation hash to different idempotency keys.
package payload

import (
	"bytes"
	"encoding/json"
	"fmt"
	"slices"
	"unicode/utf16"
)

// Value is a sealed interface over the permitted payload value types.
type Value interface {
	payloadValue()
}

// Null is an explicit JSON null.
type Null struct{}

// String is a string leaf.
type String string

// Int is an integer leaf. Always int64, never float64.
type Int int64

// Bool is a boolean leaf.
type Bool bool

// Array is an ordered list of values.
type Array []Value

// Object maps keys to values. Use SortedKeys for deterministic iteration.
type Object map[string]Value

func (Null) payloadValue()   {}
func (String) payloadValue() {}
func (Int) payloadValue()    {}
func (Bool) payloadValue()   {}
func (Array) payloadValue()  {}
func (Object) payloadValue() {}

// Pair is a key/value pair for typed Object construction.
type Pair struct {
	Key   string
	Value Value
}

// P is shorthand for Pair.
//
//	payload.New(payload.P("points", payload.Int(5)), payload.P("reason", payload.String("streak")))
func P(key string, v Value) Pair {
	return Pair{Key: key, Value: v}
}

// New builds an Object from pairs. Later pairs win on duplicate keys.
func New(pairs ...Pair) Object {
	obj := make(Object, len(pairs))
	for _, p := range pairs {
		obj[p.Key] = p.Value
	}
	return obj
}

// SortedKeys returns keys in RFC 8785 order (UTF-16 code units).
// Go's native string ordering compares UTF-8 bytes, which differs for
// characters outside the BMP.
func (obj Object) SortedKeys() []string {
	keys := make([]string, 0, len(obj))
	for k := range obj {
		keys = append(keys, k)
	}
	slices.SortFunc(keys, compareUTF16)
	return keys
}

func compareUTF16(a, b string) int {
	a16 := utf16.Encode([]rune(a))
	b16 := utf16.Encode([]rune(b))
	n := min(len(a16), len(b16))
	for i := 0; i < n; i++ {
		if a16[i] != b16[i] {
			if a16[i] < b16[i] {
				return -1
			}
			return 1
		}
	}
	return len(a16) - len(b16)
}

// Clone returns a deep copy of the object.
func (obj Object) Clone() Object {
	if obj == nil {
		return nil
	}
	out := make(Object, len(obj))
	for k, v := range obj {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v Value) Value {
	switch val := v.(type) {
	case Object:
		return val.Clone()
	case Array:
		out := make(Array, len(val))
		for i, elem := range val {
			out[i] = cloneValue(elem)
		}
		return out
	default:
		return v
	}
}

// MarshalJSON encodes the object with sorted keys. This is a transport
// encoding; use Canonical for hashing.
func (obj Object) MarshalJSON() ([]byte, error) {
	return Canonical(obj)
}

// MarshalJSON encodes the array element by element.
func (arr Array) MarshalJSON() ([]byte, error) {
	return Canonical(arr)
}

// MarshalJSON encodes null.
func (Null) MarshalJSON() ([]byte, error) {
	return []byte("null"), nil
}

// UnmarshalJSON decodes a JSON object, rejecting floats.
func (obj *Object) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	o, ok := v.(Object)
	if !ok {
		return fmt.Errorf("payload must be a JSON object, got %T", v)
	}
	*obj = o
	return nil
}

// UnmarshalJSON decodes a JSON array, rejecting floats.
func (arr *Array) UnmarshalJSON(data []byte) error {
	v, err := Decode(data)
	if err != nil {
		return err
	}
	a, ok := v.(Array)
	if !ok {
		return fmt.Errorf("expected JSON array, got %T", v)
	}
	*arr = a
	return nil
}

// Decode parses arbitrary JSON into a Value. Numbers must be integers that
// fit in int64.
func Decode(data []byte) (Value, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	var raw any
	if err := dec.Decode(&raw); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return FromAny(raw)
}

// DecodeObject parses JSON that must be an object.
func DecodeObject(data []byte) (Object, error) {
	var obj Object
	if err := obj.UnmarshalJSON(data); err != nil {
		return nil, err
	}
	return obj, nil
}
