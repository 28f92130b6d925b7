package model

import "encoding/json"

// Optional wraps a partial-update field so that an explicit zero value
// (false, "", 0) is distinguishable from "not provided". A plain JSON
// payload cannot tell the two apart, which is how boolean fields get
// silently clobbered during merges.
//
// The zero Optional is "unset" and reports IsZero() == true, so fields
// tagged `json:",omitzero"` vanish from marshalled payloads entirely.
type Optional[T any] struct {
	value T
	set   bool
}

// Some returns an Optional holding v.
func Some[T any](v T) Optional[T] {
	return Optional[T]{value: v, set: true}
}

// Get returns the value and whether it was set.
func (o Optional[T]) Get() (T, bool) {
	return o.value, o.set
}

// IsSet reports whether a value was provided.
func (o Optional[T]) IsSet() bool {
	return o.set
}

// IsZero implements the encoding/json omitzero check.
func (o Optional[T]) IsZero() bool {
	return !o.set
}

// MarshalJSON encodes the wrapped value.
func (o Optional[T]) MarshalJSON() ([]byte, error) {
	return json.Marshal(o.value)
}

// UnmarshalJSON decodes the wrapped value and marks it as set. A key
// absent from the payload never reaches here, leaving the field unset.
func (o *Optional[T]) UnmarshalJSON(data []byte) error {
	if err := json.Unmarshal(data, &o.value); err != nil {
		return err
	}
	o.set = true
	return nil
}
