// Package optional provides a field-presence wrapper for partial updates.
//
// A Value distinguishes three JSON states: the key is absent, the key is
// present with null, and the key is present with a value.
package optional

import (
	"bytes"
	"encoding/json"
)

// Value holds an optional T.
type Value[T any] struct {
	value T
	set   bool
	null  bool
}

// Of returns a present value.
func Of[T any](v T) Value[T] {
	return Value[T]{value: v, set: true}
}

// Null returns a present, explicitly null value.
func Null[T any]() Value[T] {
	return Value[T]{set: true, null: true}
}

// IsSet reports whether the field was supplied at all.
func (v Value[T]) IsSet() bool { return v.set }

// IsNull reports whether the field was supplied as null.
func (v Value[T]) IsNull() bool { return v.set && v.null }

// Get returns the value and whether a non-null value is present.
func (v Value[T]) Get() (T, bool) {
	return v.value, v.set && !v.null
}

// Ptr returns a pointer to the value, or nil when absent or null.
func (v Value[T]) Ptr() *T {
	if !v.set || v.null {
		return nil
	}
	out := v.value
	return &out
}

// UnmarshalJSON marks the value as present. It is only called when the key exists.
func (v *Value[T]) UnmarshalJSON(data []byte) error {
	v.set = true
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		v.null = true
		var zero T
		v.value = zero
		return nil
	}
	v.null = false
	return json.Unmarshal(data, &v.value)
}

// MarshalJSON writes null for absent or null values.
func (v Value[T]) MarshalJSON() ([]byte, error) {
	if !v.set || v.null {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}
