package core

import "github.com/pkg/errors"

// ErrUniqueViolation is returned by repositories when an insert or update hits a unique index.
var ErrUniqueViolation = errors.New("unique constraint violated")

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

type ValidationError struct {
	Err    error
	Fields []FieldError
}

func NewValidationError(err error, flds ...FieldError) error {
	return &ValidationError{err, flds}
}

func (err ValidationError) Error() string {
	if err.Err == nil {
		return ""
	}
	return err.Err.Error()
}

// IsUniqueViolation reports whether err was caused by a unique constraint violation.
func IsUniqueViolation(err error) bool {
	return errors.Cause(err) == ErrUniqueViolation
}
