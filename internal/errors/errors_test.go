package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidationError(t *testing.T) {
	err := ValidationError("invalid input")

	assert.Equal(t, TypeValidation, err.Type)
	assert.Equal(t, "invalid input", err.Message)
	assert.Nil(t, err.Cause)
	assert.NotNil(t, err.Context)
	assert.Equal(t, http.StatusBadRequest, err.HTTPStatus())
	assert.Contains(t, err.Error(), "validation")
	assert.Contains(t, err.Error(), "invalid input")
}

func TestNotFoundError(t *testing.T) {
	err := NotFoundError("topic not found")

	assert.Equal(t, TypeNotFound, err.Type)
	assert.Equal(t, http.StatusNotFound, err.HTTPStatus())
	assert.Contains(t, err.Error(), "not_found")
}

func TestTooManyRequestsError(t *testing.T) {
	err := TooManyRequestsError("topic is full")

	assert.Equal(t, TypeTooManyRequests, err.Type)
	assert.Equal(t, http.StatusTooManyRequests, err.HTTPStatus())
	assert.Contains(t, err.Error(), "too_many_requests")
	assert.Contains(t, err.Error(), "topic is full")
}

func TestInternalError(t *testing.T) {
	cause := fmt.Errorf("database connection failed")
	err := InternalError("failed to load labels", cause)

	assert.Equal(t, TypeInternal, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusInternalServerError, err.HTTPStatus())
	assert.Contains(t, err.Error(), "failed to load labels")
	assert.Contains(t, err.Error(), "database connection failed")
}

func TestInternalErrorWithoutCause(t *testing.T) {
	err := InternalError("something went wrong", nil)

	assert.Nil(t, err.Cause)
	assert.NotContains(t, err.Error(), "<nil>")
}

func TestExternalError(t *testing.T) {
	cause := fmt.Errorf("redis timeout")
	err := ExternalError("failed to reach redis", cause)

	assert.Equal(t, TypeExternal, err.Type)
	assert.Equal(t, cause, err.Cause)
	assert.Equal(t, http.StatusBadGateway, err.HTTPStatus())
}

func TestWithContextChaining(t *testing.T) {
	err := ValidationError("invalid input").
		WithContext("topic_id", "poll-1").
		WithContext("subscriber_id", "alice")

	assert.Len(t, err.Context, 2)
	assert.Equal(t, "poll-1", err.Context["topic_id"])
	assert.Equal(t, "alice", err.Context["subscriber_id"])
}

func TestWithContextNilMap(t *testing.T) {
	err := &Error{
		Type:    TypeValidation,
		Message: "test",
		Context: nil,
	}

	err = err.WithContext("key", "value")

	assert.NotNil(t, err.Context)
	assert.Equal(t, "value", err.Context["key"])
}

func TestToResponse(t *testing.T) {
	err := ValidationError("invalid topic").
		WithContext("topic_id", "").
		WithContext("max_clients", 50)

	resp := err.ToResponse()

	assert.Equal(t, "invalid topic", resp.Error)
	assert.Equal(t, TypeValidation, resp.Type)
	assert.Len(t, resp.Context, 2)
	assert.Equal(t, 50, resp.Context["max_clients"])
}

func TestUnwrap(t *testing.T) {
	cause := fmt.Errorf("root cause")
	err := InternalError("wrapped", cause)

	assert.Equal(t, cause, errors.Unwrap(err))
	assert.True(t, errors.Is(err, cause))
}

func TestErrorsAs(t *testing.T) {
	err := ValidationError("test")

	var target *Error
	require.True(t, errors.As(err, &target))
	assert.Equal(t, TypeValidation, target.Type)
}

func TestAsStructuredErrorPassthrough(t *testing.T) {
	original := ValidationError("original")
	assert.Equal(t, original, AsStructuredError(original))
}

func TestAsStructuredErrorWrapsStandardError(t *testing.T) {
	original := fmt.Errorf("standard error")
	result := AsStructuredError(original)

	require.NotNil(t, result)
	assert.Equal(t, TypeInternal, result.Type)
	assert.Equal(t, "internal server error", result.Message)
	assert.Equal(t, original, result.Cause)
}

func TestAsStructuredErrorWithNil(t *testing.T) {
	assert.Nil(t, AsStructuredError(nil))
}

func TestAsStructuredErrorWithWrappedStructuredError(t *testing.T) {
	original := NotFoundError("topic not found")
	wrapped := fmt.Errorf("wrapped: %w", original)

	result := AsStructuredError(wrapped)

	require.NotNil(t, result)
	assert.Equal(t, TypeNotFound, result.Type)
	assert.Equal(t, "topic not found", result.Message)
}

func TestHTTPStatusAllTypes(t *testing.T) {
	tests := []struct {
		name       string
		errorType  ErrorType
		wantStatus int
	}{
		{"validation", TypeValidation, http.StatusBadRequest},
		{"not_found", TypeNotFound, http.StatusNotFound},
		{"too_many_requests", TypeTooManyRequests, http.StatusTooManyRequests},
		{"internal", TypeInternal, http.StatusInternalServerError},
		{"external", TypeExternal, http.StatusBadGateway},
		{"unknown", ErrorType("unknown"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := &Error{Type: tt.errorType}
			assert.Equal(t, tt.wantStatus, err.HTTPStatus())
		})
	}
}
