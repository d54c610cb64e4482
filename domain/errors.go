package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates that no entity matches the requested id.
var ErrNotFound = errors.New("not found")

// InvalidFieldError rejects a payload key that is not part of an entity's
// declared field set, or a declared key carrying a value of the wrong shape.
type InvalidFieldError struct {
	Entity string
	Field  string
	Cause  error
}

func (e InvalidFieldError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("invalid value for %s field %q: %v", e.Entity, e.Field, e.Cause)
	}
	return fmt.Sprintf("%s has no field named %q", e.Entity, e.Field)
}

func (e InvalidFieldError) Unwrap() error { return e.Cause }
