package domain

import (
	"errors"
	"fmt"
)

// DomainError represents a domain-specific error
type DomainError struct {
	Code    string
	Message string
	Err     error
}

// Error implements the error interface
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewDomainError creates a new DomainError
func NewDomainError(code, message string) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
	}
}

// NewDomainErrorWithCause creates a new DomainError with an underlying cause
func NewDomainErrorWithCause(code, message string, err error) *DomainError {
	return &DomainError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// Common domain error codes
const (
	ErrCodeValidation    = "VALIDATION_ERROR"
	ErrCodeNotFound      = "NOT_FOUND"
	ErrCodeUnauthorized  = "UNAUTHORIZED"
	ErrCodeUnavailable   = "UNAVAILABLE"
	ErrCodeTooLarge      = "PAYLOAD_TOO_LARGE"
	ErrCodeInternalError = "INTERNAL_ERROR"
)

// Request errors. These are the only errors a chat caller ever sees.
var (
	ErrMissingMessage       = NewDomainError(ErrCodeValidation, "message is required")
	ErrMalformedRequest     = NewDomainError(ErrCodeValidation, "malformed request body")
	ErrMissingRequiredField = NewDomainError(ErrCodeValidation, "missing required field")
	ErrInvalidAPIKey        = NewDomainError(ErrCodeUnauthorized, "invalid api key")
	ErrBodyTooLarge         = NewDomainError(ErrCodeTooLarge, "request body too large")
)

// Retrieval errors. The engine degrades on these instead of returning them.
var (
	ErrIndexUnavailable = NewDomainError(ErrCodeUnavailable, "retrieval index unavailable")
	ErrEmptyCorpus      = NewDomainError(ErrCodeUnavailable, "corpus contains no chunks")
	ErrEmbeddingFailed  = NewDomainError(ErrCodeUnavailable, "query embedding failed")
)

// LLM enhancement outcomes that mark a response as degraded.
var (
	ErrLLMTimeout       = NewDomainError(ErrCodeUnavailable, "llm enhancement timed out")
	ErrLLMEmptyResponse = NewDomainError(ErrCodeUnavailable, "llm returned an empty response")
	ErrLLMBackend       = NewDomainError(ErrCodeUnavailable, "llm backend error")
)

// Code extracts the domain error code from err, or ErrCodeInternalError.
func Code(err error) string {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Code
	}
	return ErrCodeInternalError
}
