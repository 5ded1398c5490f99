package core

import "github.com/pkg/errors"

var (
	ErrForbidden = NewPermissionError(errors.New("permission denied"))
)

// FieldError is used to indicate an error with a specific struct field.
type FieldError struct {
	Field string
	Error string
}

// ValidationError reports missing or malformed input. Nothing has been mutated.
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

// NotFoundError reports that a resource id does not resolve.
type NotFoundError struct {
	Err error
}

func NewNotFoundError(err error) error {
	return &NotFoundError{err}
}

func (err NotFoundError) Error() string { return err.Err.Error() }

// PermissionError reports a failed authorization rule.
type PermissionError struct {
	Err error
}

func NewPermissionError(err error) error {
	return &PermissionError{err}
}

func (err PermissionError) Error() string { return err.Err.Error() }

// ConflictError reports a uniqueness violation.
type ConflictError struct {
	Err    error
	Detail map[string]interface{}
}

func NewConflictError(err error, detail ...map[string]interface{}) error {
	cErr := &ConflictError{Err: err}
	if len(detail) > 0 {
		cErr.Detail = detail[0]
	}
	return cErr
}

func (err ConflictError) Error() string { return err.Err.Error() }

func IsNotFound(err error) bool {
	_, ok := errors.Cause(err).(*NotFoundError)
	return ok
}

func IsPermission(err error) bool {
	_, ok := errors.Cause(err).(*PermissionError)
	return ok
}

func IsConflict(err error) bool {
	_, ok := errors.Cause(err).(*ConflictError)
	return ok
}

func IsValidation(err error) bool {
	_, ok := errors.Cause(err).(*ValidationError)
	return ok
}

type shutdown struct {
	message string
}

func NewShutdownError(msg string) error {
	return &shutdown{message: msg}
}

func (s shutdown) Error() string {
	return s.message
}

func IsShutdown(err error) bool {
	_, ok := errors.Cause(err).(*shutdown)
	return ok
}
