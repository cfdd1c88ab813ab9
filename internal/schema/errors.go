package schema

import (
	"errors"
	"fmt"
	"strings"

	"github.com/opted/inventory/internal/auth"
)

// Code classifies a field error.
type Code string

const (
	CodeInvalid        Code = "invalid"
	CodeRequired       Code = "required"
	CodeTypeConstraint Code = "type_constraint"
	CodeNotFound       Code = "not_found"
	CodeDuplicate      Code = "duplicate"
	CodeReadOnly       Code = "read_only"
)

// ErrTypeConstraint matches field errors raised for relationship targets
// of a type the field does not allow.
var ErrTypeConstraint = errors.New("type constraint violation")

// FieldError is a problem with one field's value.
type FieldError struct {
	Field   string `json:"field"`
	Code    Code   `json:"code"`
	Message string `json:"message"`
}

func (e *FieldError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return e.Field + ": " + e.Message
}

// Is lets errors.Is match type constraint violations.
func (e *FieldError) Is(target error) bool {
	return target == ErrTypeConstraint && e.Code == CodeTypeConstraint
}

func fieldErr(code Code, format string, args ...any) *FieldError {
	return &FieldError{Code: code, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) *FieldError {
	return fieldErr(CodeInvalid, format, args...)
}

// ValidationError collects the field errors of one payload.
type ValidationError struct {
	Errors []*FieldError `json:"errors"`
}

func (e *ValidationError) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, fe := range e.Errors {
		msgs[i] = fe.Error()
	}
	return "validation failed: " + strings.Join(msgs, "; ")
}

func (e *ValidationError) Unwrap() []error {
	out := make([]error, len(e.Errors))
	for i, fe := range e.Errors {
		out[i] = fe
	}
	return out
}

// Add records fe unless its field already has an error.
func (e *ValidationError) Add(fe *FieldError) {
	if e.Field(fe.Field) != nil {
		return
	}
	e.Errors = append(e.Errors, fe)
}

// Field returns the error recorded for name.
func (e *ValidationError) Field(name string) *FieldError {
	for _, fe := range e.Errors {
		if fe.Field == name {
			return fe
		}
	}
	return nil
}

// Err returns e, or nil when nothing was recorded.
func (e *ValidationError) Err() error {
	if len(e.Errors) == 0 {
		return nil
	}
	return e
}

// PermissionError reports an actor lacking the role a field or action
// requires.
type PermissionError struct {
	Field    string
	Action   string
	Required auth.Role
	Actual   auth.Role
}

func (e *PermissionError) Error() string {
	target := e.Action
	if e.Field != "" {
		target = "field " + e.Field
	}
	return fmt.Sprintf("permission denied: %s requires %s, actor is %s", target, e.Required, e.Actual)
}
