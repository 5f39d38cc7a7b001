package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConstructors_StatusMapping(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		typ    ErrorType
		status int
	}{
		{"validation", ValidationError("bad"), TypeValidation, http.StatusBadRequest},
		{"not found", NotFoundError("missing"), TypeNotFound, http.StatusNotFound},
		{"conflict", ConflictError("taken"), TypeConflict, http.StatusConflict},
		{"unauthorized", UnauthorizedError("no token"), TypeUnauthorized, http.StatusUnauthorized},
		{"rate limited", RateLimitedError("slow down"), TypeRateLimited, http.StatusTooManyRequests},
		{"internal", InternalError("boom", nil), TypeInternal, http.StatusInternalServerError},
		{"external", ExternalError("redis down", nil), TypeExternal, http.StatusBadGateway},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.typ, tt.err.Type)
			assert.Equal(t, tt.status, tt.err.HTTPStatus())
			assert.NotNil(t, tt.err.Context)
			assert.Contains(t, tt.err.Error(), string(tt.typ))
		})
	}
}

func TestUnknownTypeIsInternalServerError(t *testing.T) {
	err := &Error{Type: "weird", Message: "?"}
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
}

func TestInternalError_IncludesCause(t *testing.T) {
	cause := fmt.Errorf("database connection failed")
	err := InternalError("failed to save vote", cause)

	assert.Contains(t, err.Error(), "failed to save vote")
	assert.Contains(t, err.Error(), "database connection failed")
	assert.ErrorIs(t, err, cause)
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestWithCause_KeepsMessage(t *testing.T) {
	cause := errors.New("duplicate key")
	err := ConflictError("email already registered").WithCause(cause)

	assert.Equal(t, "email already registered", err.Message)
	assert.ErrorIs(t, err, cause)
}

func TestWithField_Chainable(t *testing.T) {
	err := ValidationError("invalid option").
		WithField("poll_id", "p1").
		WithField("option_id", "o1")

	assert.Equal(t, "p1", err.Context["poll_id"])
	assert.Equal(t, "o1", err.Context["option_id"])
}

func TestWithField_NilContext(t *testing.T) {
	err := &Error{Type: TypeValidation, Message: "x"}
	err.WithField("k", "v")
	assert.Equal(t, "v", err.Context["k"])
}

func TestToResponse(t *testing.T) {
	resp := NotFoundError("poll not found").WithField("poll_id", "p1").ToResponse()

	assert.Equal(t, "poll not found", resp.Error)
	assert.Equal(t, TypeNotFound, resp.Type)
	assert.Equal(t, "p1", resp.Context["poll_id"])
}

func TestToResponse_OmitsEmptyContext(t *testing.T) {
	resp := ValidationError("bad").ToResponse()
	assert.Nil(t, resp.Context)
}

func TestAsStructuredError(t *testing.T) {
	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, AsStructuredError(nil))
	})

	t.Run("already structured", func(t *testing.T) {
		orig := NotFoundError("missing")
		assert.Same(t, orig, AsStructuredError(orig))
	})

	t.Run("wrapped structured", func(t *testing.T) {
		orig := ConflictError("taken")
		got := AsStructuredError(fmt.Errorf("register: %w", orig))
		assert.Same(t, orig, got)
	})

	t.Run("plain error becomes internal", func(t *testing.T) {
		plain := errors.New("boom")
		got := AsStructuredError(plain)
		require.NotNil(t, got)
		assert.Equal(t, TypeInternal, got.Type)
		assert.Equal(t, "internal server error", got.Message)
		assert.ErrorIs(t, got, plain)
	})
}

func TestFromStatus(t *testing.T) {
	tests := []struct {
		status int
		want   ErrorType
	}{
		{http.StatusBadRequest, TypeValidation},
		{http.StatusUnauthorized, TypeUnauthorized},
		{http.StatusForbidden, TypeUnauthorized},
		{http.StatusNotFound, TypeNotFound},
		{http.StatusMethodNotAllowed, TypeNotFound},
		{http.StatusConflict, TypeConflict},
		{http.StatusTooManyRequests, TypeRateLimited},
		{http.StatusServiceUnavailable, TypeExternal},
		{http.StatusTeapot, TypeInternal},
	}

	for _, tt := range tests {
		t.Run(http.StatusText(tt.status), func(t *testing.T) {
			got := FromStatus(tt.status, "")
			assert.Equal(t, tt.want, got.Type)
			assert.Equal(t, http.StatusText(tt.status), got.Message)
		})
	}
}
