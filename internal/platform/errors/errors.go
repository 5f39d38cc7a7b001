// Package errors carries typed application errors that map onto HTTP responses.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

type ErrorType string

const (
	TypeValidation   ErrorType = "validation"
	TypeNotFound     ErrorType = "not_found"
	TypeConflict     ErrorType = "conflict"
	TypeUnauthorized ErrorType = "unauthorized"
	TypeRateLimited  ErrorType = "rate_limited"
	TypeInternal     ErrorType = "internal"
	TypeExternal     ErrorType = "external"
)

var statusByType = map[ErrorType]int{
	TypeValidation:   http.StatusBadRequest,
	TypeNotFound:     http.StatusNotFound,
	TypeConflict:     http.StatusConflict,
	TypeUnauthorized: http.StatusUnauthorized,
	TypeRateLimited:  http.StatusTooManyRequests,
	TypeInternal:     http.StatusInternalServerError,
	TypeExternal:     http.StatusBadGateway,
}

// Error is an error with a category, a client-safe message and optional
// structured fields that are echoed in the response body.
type Error struct {
	Type    ErrorType
	Message string
	Cause   error
	Context map[string]any
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Type, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

func (e *Error) HTTPStatus() int {
	if status, ok := statusByType[e.Type]; ok {
		return status
	}
	return http.StatusInternalServerError
}

func newError(t ErrorType, message string, cause error) *Error {
	return &Error{Type: t, Message: message, Cause: cause, Context: make(map[string]any)}
}

func ValidationError(message string) *Error   { return newError(TypeValidation, message, nil) }
func NotFoundError(message string) *Error     { return newError(TypeNotFound, message, nil) }
func ConflictError(message string) *Error     { return newError(TypeConflict, message, nil) }
func UnauthorizedError(message string) *Error { return newError(TypeUnauthorized, message, nil) }
func RateLimitedError(message string) *Error  { return newError(TypeRateLimited, message, nil) }

func InternalError(message string, cause error) *Error {
	return newError(TypeInternal, message, cause)
}

func ExternalError(message string, cause error) *Error {
	return newError(TypeExternal, message, cause)
}

// WithCause attaches an underlying error without changing the client message.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithField adds a response context field (chainable).
func (e *Error) WithField(key string, value any) *Error {
	if e.Context == nil {
		e.Context = make(map[string]any)
	}
	e.Context[key] = value
	return e
}

type ErrorResponse struct {
	Error   string         `json:"error"`
	Type    ErrorType      `json:"type"`
	Context map[string]any `json:"context,omitempty"`
}

func (e *Error) ToResponse() ErrorResponse {
	resp := ErrorResponse{Error: e.Message, Type: e.Type}
	if len(e.Context) > 0 {
		resp.Context = e.Context
	}
	return resp
}

// AsStructuredError returns err as an *Error, wrapping unknown errors as internal.
func AsStructuredError(err error) *Error {
	if err == nil {
		return nil
	}

	var structuredErr *Error
	if errors.As(err, &structuredErr) {
		return structuredErr
	}

	return InternalError("internal server error", err)
}

// FromStatus builds a structured error from an HTTP status code, used to
// normalise errors raised by framework middleware.
func FromStatus(status int, message string) *Error {
	t := TypeInternal
	switch {
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		t = TypeValidation
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		t = TypeUnauthorized
	case status == http.StatusNotFound, status == http.StatusMethodNotAllowed:
		t = TypeNotFound
	case status == http.StatusConflict:
		t = TypeConflict
	case status == http.StatusTooManyRequests:
		t = TypeRateLimited
	case status == http.StatusBadGateway, status == http.StatusServiceUnavailable:
		t = TypeExternal
	}
	if message == "" {
		message = http.StatusText(status)
	}
	return newError(t, message, nil)
}
