package domain

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrNotFound     = errors.New("not found")
)

// CollaboratorError marks a failure of an external model, extraction or
// directory service. Callers match it with errors.As to pick a fallback.
type CollaboratorError struct {
	Service string
	Op      string
	Err     error
}

func (e *CollaboratorError) Error() string {
	return fmt.Sprintf("%s %s failed: %v", e.Service, e.Op, e.Err)
}

func (e *CollaboratorError) Unwrap() error {
	return e.Err
}

func NewCollaboratorError(service, op string, err error) error {
	if err == nil {
		return nil
	}
	return &CollaboratorError{Service: service, Op: op, Err: err}
}

// IsCollaboratorError reports whether err came from an external service.
func IsCollaboratorError(err error) bool {
	var cerr *CollaboratorError
	return errors.As(err, &cerr)
}
