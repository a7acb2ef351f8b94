package models

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrConflict             = errors.New("conflict")
	ErrForbidden            = errors.New("forbidden")
	ErrSubscriptionRequired = errors.New("active subscription required")

	// ErrStaleWrite is returned when a document changed after it was read.
	ErrStaleWrite = fmt.Errorf("%w: document changed since it was read", ErrConflict)
)
