// SPDX-FileCopyrightText: Winni Neessen <wn@neessen.dev>
//
// SPDX-License-Identifier: MIT

// Package vartype provides values that know whether they were ever set.
package vartype

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// VarFloat64 is an optional float64, used for altitudes.
type VarFloat64 = Variable[float64]

// Variable holds a value of T and whether it was set. The zero Variable is unset.
type Variable[T any] struct {
	value T
	isset bool
}

// NewVariable returns a Variable set to value.
func NewVariable[T any](value T) Variable[T] {
	return Variable[T]{value: value, isset: true}
}

// Set assigns val and marks the Variable as set.
func (v *Variable[T]) Set(val T) {
	v.value, v.isset = val, true
}

// IsSet reports whether the Variable holds a value.
func (v Variable[T]) IsSet() bool {
	return v.isset
}

// Value returns the value, or the zero value of T if unset.
func (v Variable[T]) Value() T {
	return v.value
}

// ValueOr returns the value, or def if unset.
func (v Variable[T]) ValueOr(def T) T {
	if !v.isset {
		return def
	}
	return v.value
}

// Ptr returns a pointer to a copy of the value, or nil if unset.
func (v Variable[T]) Ptr() *T {
	if !v.isset {
		return nil
	}
	val := v.value
	return &val
}

func (v Variable[T]) String() string {
	if !v.isset {
		return "unset"
	}
	return fmt.Sprint(v.value)
}

// MarshalJSON encodes an unset Variable as null.
func (v Variable[T]) MarshalJSON() ([]byte, error) {
	if !v.isset {
		return []byte("null"), nil
	}
	return json.Marshal(v.value)
}

// UnmarshalJSON decodes null as unset and any other value as set.
func (v *Variable[T]) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*v = Variable[T]{}
		return nil
	}
	var val T
	if err := json.Unmarshal(data, &val); err != nil {
		return err
	}
	v.Set(val)
	return nil
}
