package services

import (
	"context"
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound           ErrorType = "not_found"
	ErrorTypeValidation         ErrorType = "validation"
	ErrorTypeConflict           ErrorType = "conflict"
	ErrorTypeInternal           ErrorType = "internal"
	ErrorTypeConfiguration      ErrorType = "configuration"
	ErrorTypeTimeout            ErrorType = "timeout"
	ErrorTypeRetrievalFailure   ErrorType = "retrieval_failure"
	ErrorTypeEmptyResult        ErrorType = "empty_result"
	ErrorTypeUpstreamCompletion ErrorType = "upstream_completion_failure"
)

// DomainError represents a structured error with additional context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
	Details map[string]interface{}
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s (%v)", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// Unwrap implements errors.Unwrap
func (e *DomainError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is
func (e *DomainError) Is(target error) bool {
	t, ok := target.(*DomainError)
	if !ok {
		return false
	}
	return e.Type == t.Type
}

// WithDetail adds a detail to the error
func (e *DomainError) WithDetail(key string, value interface{}) *DomainError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// NewDomainError creates a new domain error
func NewDomainError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
		Details: make(map[string]interface{}),
	}
}

// Domain error variables

var (
	// Not Found Errors
	ErrSessionNotFound = NewDomainError(ErrorTypeNotFound, "session not found", nil)

	// Validation Errors
	ErrEmptyPrompt = NewDomainError(ErrorTypeValidation, "prompt cannot be empty", nil)
	ErrInvalidMode = NewDomainError(ErrorTypeValidation, "invalid chat mode", nil)

	// Conflict Errors
	ErrTurnInProgress = NewDomainError(ErrorTypeConflict, "a turn is already in progress for this session", nil)

	// Configuration Errors
	ErrDimensionMismatch = NewDomainError(ErrorTypeConfiguration, "embedding dimension mismatch", nil)

	// Retrieval Errors
	ErrNoRelevantChunk = NewDomainError(ErrorTypeEmptyResult, "no relevant chunk found", nil)

	// Upstream Errors
	ErrEmptyCompletion = NewDomainError(ErrorTypeUpstreamCompletion, "completion returned no choices", nil)

	// Internal Errors
	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)
)

// Error type checking helper functions

func isType(err error, errType ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == errType
	}
	return false
}

// IsNotFoundError checks if an error is a not found error
func IsNotFoundError(err error) bool {
	return isType(err, ErrorTypeNotFound)
}

// IsValidationError checks if an error is a validation error
func IsValidationError(err error) bool {
	return isType(err, ErrorTypeValidation)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsConfigurationError checks if an error is a configuration error
func IsConfigurationError(err error) bool {
	return isType(err, ErrorTypeConfiguration)
}

// IsTimeoutError checks if an error is a timeout error
func IsTimeoutError(err error) bool {
	return isType(err, ErrorTypeTimeout)
}

// IsRetrievalFailure checks if an error is a retrieval failure
func IsRetrievalFailure(err error) bool {
	return isType(err, ErrorTypeRetrievalFailure)
}

// IsEmptyResultError checks if an error is an empty retrieval result
func IsEmptyResultError(err error) bool {
	return isType(err, ErrorTypeEmptyResult)
}

// IsUpstreamCompletionError checks if an error is an upstream completion failure
func IsUpstreamCompletionError(err error) bool {
	return isType(err, ErrorTypeUpstreamCompletion)
}

// GetErrorType returns the ErrorType of a domain error, or empty string if not a domain error
func GetErrorType(err error) ErrorType {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type
	}
	return ""
}

// GetErrorDetails returns the details map of a domain error, or nil if not a domain error
func GetErrorDetails(err error) map[string]interface{} {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Details
	}
	return nil
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapUpstream wraps a completion call failure. Deadline overruns are reported
// as timeouts so callers can tell a hung server from a failing one.
func WrapUpstream(message string, err error) *DomainError {
	if errors.Is(err, context.DeadlineExceeded) {
		return NewDomainError(ErrorTypeTimeout, message, err)
	}
	return NewDomainError(ErrorTypeUpstreamCompletion, message, err)
}

// WrapRetrieval wraps an embedding or similarity search failure. Deadline
// overruns become TimeoutFailure, everything else RetrievalFailure.
func WrapRetrieval(stage string, err error) error {
	if IsConfigurationError(err) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return NewDomainError(ErrorTypeTimeout, stage+" timed out", err).WithDetail("stage", stage)
	}
	return NewDomainError(ErrorTypeRetrievalFailure, stage+" failed", err).WithDetail("stage", stage)
}

// NewDimensionMismatch reports a query vector whose length differs from the
// dimension the similarity backend was built with.
func NewDimensionMismatch(expected, actual int) *DomainError {
	return NewDomainError(ErrorTypeConfiguration,
		fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", expected, actual), nil).
		WithDetail("expected", expected).
		WithDetail("actual", actual)
}
