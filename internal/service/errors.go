package service

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound covers unknown event or registration ids.
	ErrNotFound = errors.New("not found")
	// ErrPermissionDenied means the actor does not own the registration.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrValidation is the base of every domain validation failure; match it
	// with errors.Is, read the reason from the wrapped message.
	ErrValidation = errors.New("validation failed")
)

func validationError(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
