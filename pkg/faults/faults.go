// Package faults defines the closed error taxonomy used across the server
// and the guarded-execution handler that classifies, logs, and propagates
// failures. Every error that crosses a package boundary is an *Error; raw
// failures are classified at the point of first catch.
package faults

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/asksonar/perplexity-mcp/pkg/reqctx"
)

// Code categorizes a failure. The set is closed; callers switch on these
// values rather than inspecting messages.
type Code string

const (
	CodeValidation      Code = "validation"
	CodeNotFound        Code = "not_found"
	CodeRateLimited     Code = "rate_limited"
	CodeTimeout         Code = "timeout"
	CodeExternalService Code = "external_service"
	CodeUnauthorized    Code = "unauthorized"
	CodeInternal        Code = "internal"
)

// Error is the uniform failure representation: a taxonomy code, a
// human-readable message, the correlation context in which the failure
// occurred, and the underlying cause when one exists.
type Error struct {
	Code    Code
	Message string
	Ctx     reqctx.Context
	Cause   error

	// logged is latched by the handler on first emission so that nested
	// guards never log the same underlying failure twice.
	logged bool
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// IsRetryable reports whether the failure is potentially recoverable
// with a retry.
func (e *Error) IsRetryable() bool {
	switch e.Code {
	case CodeRateLimited, CodeTimeout, CodeExternalService:
		return true
	}
	return false
}

// WithContext augments the error with a correlation context when it does
// not already carry one. An existing context is never replaced.
func (e *Error) WithContext(ctx reqctx.Context) *Error {
	if e.Ctx.RequestID == "" {
		e.Ctx = ctx
	}
	return e
}

// New creates a classified error with no underlying cause.
func New(code Code, message string, ctx reqctx.Context) *Error {
	return &Error{Code: code, Message: message, Ctx: ctx}
}

// Wrap classifies an underlying error. If err is already classified it is
// returned unchanged apart from context augmentation, preserving the code
// assigned at the innermost boundary.
func Wrap(err error, code Code, message string, ctx reqctx.Context) *Error {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.WithContext(ctx)
	}
	return &Error{Code: code, Message: message, Ctx: ctx, Cause: err}
}

// CodeOf returns the taxonomy code carried by err, or CodeInternal for an
// unclassified error.
func CodeOf(err error) Code {
	var classified *Error
	if errors.As(err, &classified) {
		return classified.Code
	}
	return CodeInternal
}

// IsCode reports whether err carries the given taxonomy code.
func IsCode(err error, code Code) bool {
	return CodeOf(err) == code
}

// ClassifyHTTPStatus maps an HTTP response status to a taxonomy code.
func ClassifyHTTPStatus(status int) Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return CodeUnauthorized
	case http.StatusTooManyRequests:
		return CodeRateLimited
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return CodeValidation
	case http.StatusNotFound:
		return CodeNotFound
	case http.StatusRequestTimeout, http.StatusGatewayTimeout:
		return CodeTimeout
	default:
		if status >= 500 {
			return CodeExternalService
		}
		return CodeInternal
	}
}
