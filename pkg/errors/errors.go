package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// ErrorType represents the type of error
type ErrorType string

const (
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeUnavailable  ErrorType = "unavailable"
	ErrorTypeExhausted    ErrorType = "resource_exhausted"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"
	ErrorTypeTimeout      ErrorType = "timeout"
	ErrorTypeSampling     ErrorType = "sampling"
	ErrorTypeConstruction ErrorType = "construction"
)

// AppError represents an application error with context
type AppError struct {
	Type      ErrorType         `json:"type"`
	Code      string            `json:"code"`
	Message   string            `json:"message"`
	Details   map[string]string `json:"details,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Cause     error             `json:"-"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause
func (e *AppError) Unwrap() error {
	return e.Cause
}

// NewAppError creates a new application error
func NewAppError(errorType ErrorType, code, message string) *AppError {
	return &AppError{
		Type:      errorType,
		Code:      code,
		Message:   message,
		Details:   make(map[string]string),
		Timestamp: time.Now(),
	}
}

// WithCause adds a cause to the error
func (e *AppError) WithCause(cause error) *AppError {
	e.Cause = cause
	return e
}

// WithDetail adds a detail to the error
func (e *AppError) WithDetail(key, value string) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]string)
	}
	e.Details[key] = value
	return e
}

// Common error constructors
func NewValidationError(message string) *AppError {
	return NewAppError(ErrorTypeValidation, "VALIDATION_ERROR", message)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorTypeInternal, "INTERNAL_ERROR", message)
}

func NewExternalError(dependency, message string) *AppError {
	return NewAppError(ErrorTypeExternal, "EXTERNAL_DEPENDENCY_ERROR", message).
		WithDetail("dependency", dependency)
}

func NewTimeoutError(operation string) *AppError {
	return NewAppError(ErrorTypeTimeout, "TIMEOUT", fmt.Sprintf("%s timed out", operation))
}

// NewCircuitOpenError indicates a breaker rejected the call without
// invoking the dependency.
func NewCircuitOpenError(name string) *AppError {
	return NewAppError(ErrorTypeUnavailable, "CIRCUIT_OPEN",
		fmt.Sprintf("circuit breaker %q is open", name)).
		WithDetail("breaker", name)
}

// NewUnknownDependencyError indicates a breaker name was never registered.
func NewUnknownDependencyError(name string) *AppError {
	return NewAppError(ErrorTypeNotFound, "UNKNOWN_DEPENDENCY",
		fmt.Sprintf("no circuit breaker registered for %q", name)).
		WithDetail("breaker", name)
}

// NewUnknownCapabilityError indicates a capability name was never registered.
func NewUnknownCapabilityError(name string) *AppError {
	return NewAppError(ErrorTypeNotFound, "UNKNOWN_CAPABILITY",
		fmt.Sprintf("no capability registered as %q", name)).
		WithDetail("capability", name)
}

// NewInsufficientResourcesError indicates the current memory mode is
// below what the operation requires.
func NewInsufficientResourcesError(required, current string) *AppError {
	return NewAppError(ErrorTypeExhausted, "INSUFFICIENT_RESOURCES",
		fmt.Sprintf("operation requires mode %s but system is in %s", required, current)).
		WithDetail("required_mode", required).
		WithDetail("current_mode", current)
}

// NewSamplingError indicates the memory probe failed. The controller
// holds its previous mode rather than reacting to a bogus reading.
func NewSamplingError(cause error) *AppError {
	return NewAppError(ErrorTypeSampling, "SAMPLING_FAILED", "failed to sample system memory").
		WithCause(cause)
}

// NewConstructionError indicates the resource factory failed. It is
// delivered to every waiter of the attempt before the loader resets.
func NewConstructionError(resource string, cause error) *AppError {
	return NewAppError(ErrorTypeConstruction, "CONSTRUCTION_FAILED",
		fmt.Sprintf("failed to construct %s", resource)).
		WithDetail("resource", resource).
		WithCause(cause)
}

// IsType checks if the error is of a specific type
func IsType(err error, errorType ErrorType) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type == errorType
	}
	return false
}

// IsCircuitOpen reports whether the error is a breaker rejection,
// unwrapping as needed.
func IsCircuitOpen(err error) bool {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code == "CIRCUIT_OPEN"
	}
	return false
}

// GetCode returns the error code if it's an AppError
func GetCode(err error) string {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Code
	}
	return "UNKNOWN_ERROR"
}

// GetType returns the error type if it's an AppError
func GetType(err error) ErrorType {
	var appErr *AppError
	if stderrors.As(err, &appErr) {
		return appErr.Type
	}
	return ErrorTypeInternal
}
