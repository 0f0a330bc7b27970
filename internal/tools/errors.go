package tools

import (
	"errors"
	"fmt"

	"github.com/haasonsaas/gridiron/pkg/models"
)

// Error lets a handler choose the error kind reported to the model.
// Any other handler error is reported as HandlerFault.
type Error struct {
	Kind    models.ToolErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil && e.Message == "" {
		return e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Errorf returns an *Error of the given kind.
func Errorf(kind models.ToolErrorKind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// PolicyViolation wraps err as a PolicyViolation tool error.
func PolicyViolation(err error) *Error {
	return &Error{Kind: models.ToolErrorPolicyViolation, Message: err.Error(), Cause: err}
}

// InvalidArguments reports arguments the handler could not use.
func InvalidArguments(format string, args ...any) *Error {
	return Errorf(models.ToolErrorInvalidArguments, format, args...)
}

// kindOf maps a handler error to a tool error kind.
func kindOf(err error) models.ToolErrorKind {
	var toolErr *Error
	if errors.As(err, &toolErr) && toolErr.Kind != "" {
		return toolErr.Kind
	}
	return models.ToolErrorHandlerFault
}
