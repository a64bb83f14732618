package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAppError_ErrorAndUnwrap(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewExternalError("mail-provider", "fetch failed").WithCause(cause)

	assert.Contains(t, err.Error(), "fetch failed")
	assert.Contains(t, err.Error(), "connection refused")
	assert.Same(t, cause, errors.Unwrap(err))
}

func TestTypedConstructors(t *testing.T) {
	tests := []struct {
		name     string
		err      *AppError
		wantType ErrorType
		wantCode string
	}{
		{"circuit open", NewCircuitOpenError("mail"), ErrorTypeUnavailable, "CIRCUIT_OPEN"},
		{"unknown dependency", NewUnknownDependencyError("mail"), ErrorTypeNotFound, "UNKNOWN_DEPENDENCY"},
		{"insufficient resources", NewInsufficientResourcesError("LITE", "MINIMAL"), ErrorTypeExhausted, "INSUFFICIENT_RESOURCES"},
		{"sampling", NewSamplingError(errors.New("read failed")), ErrorTypeSampling, "SAMPLING_FAILED"},
		{"construction", NewConstructionError("model", errors.New("oom")), ErrorTypeConstruction, "CONSTRUCTION_FAILED"},
		{"timeout", NewTimeoutError("fetch"), ErrorTypeTimeout, "TIMEOUT"},
		{"validation", NewValidationError("bad input"), ErrorTypeValidation, "VALIDATION_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.wantType, tt.err.Type)
			assert.Equal(t, tt.wantCode, tt.err.Code)
			assert.False(t, tt.err.Timestamp.IsZero())
		})
	}
}

func TestIsCircuitOpen(t *testing.T) {
	assert.True(t, IsCircuitOpen(NewCircuitOpenError("mail")))
	assert.False(t, IsCircuitOpen(NewTimeoutError("fetch")))
	assert.False(t, IsCircuitOpen(errors.New("plain")))
	assert.False(t, IsCircuitOpen(nil))
}

func TestIsCircuitOpen_Wrapped(t *testing.T) {
	wrapped := fmt.Errorf("sync failed: %w", NewCircuitOpenError("mail"))
	assert.True(t, IsCircuitOpen(wrapped))
}

func TestIsTypeAndGetters(t *testing.T) {
	err := NewInsufficientResourcesError("FULL", "LITE")

	assert.True(t, IsType(err, ErrorTypeExhausted))
	assert.False(t, IsType(err, ErrorTypeTimeout))
	assert.Equal(t, "INSUFFICIENT_RESOURCES", GetCode(err))
	assert.Equal(t, ErrorTypeExhausted, GetType(err))

	assert.Equal(t, "UNKNOWN_ERROR", GetCode(errors.New("plain")))
	assert.Equal(t, ErrorTypeInternal, GetType(errors.New("plain")))
}

func TestWithDetail(t *testing.T) {
	err := NewCircuitOpenError("mail-provider")
	require.NotNil(t, err.Details)
	assert.Equal(t, "mail-provider", err.Details["breaker"])

	err = err.WithDetail("attempt", "3")
	assert.Equal(t, "3", err.Details["attempt"])
}
