package services

import (
	"errors"
	"fmt"
)

// ErrorType represents the type/category of error
type ErrorType string

const (
	ErrorTypeNotFound     ErrorType = "not_found"
	ErrorTypeValidation   ErrorType = "validation"
	ErrorTypeUnauthorized ErrorType = "unauthorized"
	ErrorTypeForbidden    ErrorType = "forbidden"
	ErrorTypeRateLimit    ErrorType = "rate_limit"
	ErrorTypeConflict     ErrorType = "conflict"
	ErrorTypeInternal     ErrorType = "internal"
	ErrorTypeExternal     ErrorType = "external"

	// Governor failure taxonomy
	ErrorTypeParseFailure           ErrorType = "parse_failure"
	ErrorTypeLowConfidence          ErrorType = "low_confidence"
	ErrorTypeSchemaViolation        ErrorType = "schema_violation"
	ErrorTypeScopeViolation         ErrorType = "scope_violation"
	ErrorTypePermissionDenied       ErrorType = "permission_denied"
	ErrorTypeEstimationFailure      ErrorType = "estimation_failure"
	ErrorTypeConcurrentModification ErrorType = "concurrent_modification"
	ErrorTypeConstraintViolation    ErrorType = "constraint_violation"
	ErrorTypeExecutionFailure       ErrorType = "execution_failure"
	ErrorTypeLedgerWriteFailure     ErrorType = "ledger_write_failure"
	ErrorTypeRollbackFailure        ErrorType = "rollback_failure"
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

// Sentinel values for errors.Is comparisons. Never attach details to these;
// build a fresh error with NewDomainError instead.
var (
	ErrNotFound          = NewDomainError(ErrorTypeNotFound, "not found", nil)
	ErrActionLogNotFound = NewDomainError(ErrorTypeNotFound, "action log not found", nil)

	ErrInvalidInput = NewDomainError(ErrorTypeValidation, "invalid input", nil)

	ErrUnauthorized = NewDomainError(ErrorTypeUnauthorized, "unauthorized", nil)
	ErrInvalidToken = NewDomainError(ErrorTypeUnauthorized, "invalid authentication token", nil)
	ErrTokenExpired = NewDomainError(ErrorTypeUnauthorized, "authentication token expired", nil)

	ErrForbidden = NewDomainError(ErrorTypeForbidden, "access forbidden", nil)

	ErrRateLimitExceeded = NewDomainError(ErrorTypeRateLimit, "rate limit exceeded", nil)

	ErrInternal = NewDomainError(ErrorTypeInternal, "internal server error", nil)

	ErrProviderUnavailable = NewDomainError(ErrorTypeExternal, "LLM provider unavailable", nil)

	ErrParseFailure           = NewDomainError(ErrorTypeParseFailure, "command could not be interpreted", nil)
	ErrLowConfidence          = NewDomainError(ErrorTypeLowConfidence, "command needs clarification", nil)
	ErrSchemaViolation        = NewDomainError(ErrorTypeSchemaViolation, "command does not match the schema", nil)
	ErrScopeViolation         = NewDomainError(ErrorTypeScopeViolation, "command exceeds department scope", nil)
	ErrPermissionDenied       = NewDomainError(ErrorTypePermissionDenied, "permission denied", nil)
	ErrEstimationFailure      = NewDomainError(ErrorTypeEstimationFailure, "impact estimation failed", nil)
	ErrConcurrentModification = NewDomainError(ErrorTypeConcurrentModification, "records changed since assessment", nil)
	ErrConstraintViolation    = NewDomainError(ErrorTypeConstraintViolation, "constraint violation", nil)
	ErrExecutionFailure       = NewDomainError(ErrorTypeExecutionFailure, "execution failed", nil)
	ErrLedgerWriteFailure     = NewDomainError(ErrorTypeLedgerWriteFailure, "audit ledger write failed", nil)
	ErrRollbackFailure        = NewDomainError(ErrorTypeRollbackFailure, "rollback not permitted", nil)
)

// Error type checking helper functions

func isType(err error, t ErrorType) bool {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Type == t
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

// IsUnauthorizedError checks if an error is an unauthorized error
func IsUnauthorizedError(err error) bool {
	return isType(err, ErrorTypeUnauthorized)
}

// IsForbiddenError checks if an error is a forbidden error
func IsForbiddenError(err error) bool {
	return isType(err, ErrorTypeForbidden)
}

// IsRateLimitError checks if an error is a rate limit error
func IsRateLimitError(err error) bool {
	return isType(err, ErrorTypeRateLimit)
}

// IsConflictError checks if an error is a conflict error
func IsConflictError(err error) bool {
	return isType(err, ErrorTypeConflict)
}

// IsInternalError checks if an error is an internal error
func IsInternalError(err error) bool {
	return isType(err, ErrorTypeInternal)
}

// IsExternalError checks if an error is an external provider error
func IsExternalError(err error) bool {
	return isType(err, ErrorTypeExternal)
}

// IsClarificationError reports whether the caller should be asked to
// rephrase: ParseFailure or LowConfidence. These never reach the ledger.
func IsClarificationError(err error) bool {
	return isType(err, ErrorTypeParseFailure) || isType(err, ErrorTypeLowConfidence)
}

// IsLedgerWriteFailure checks for the fatal unaudited-write condition
func IsLedgerWriteFailure(err error) bool {
	return isType(err, ErrorTypeLedgerWriteFailure)
}

// IsRollbackFailure checks if an error is a rollback eligibility failure
func IsRollbackFailure(err error) bool {
	return isType(err, ErrorTypeRollbackFailure)
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

// GetErrorMessage returns the user-facing message of a domain error
func GetErrorMessage(err error) string {
	var domainErr *DomainError
	if errors.As(err, &domainErr) {
		return domainErr.Message
	}
	return ErrInternal.Message
}

// WrapError wraps an error with additional context
func WrapError(errType ErrorType, message string, err error) error {
	return NewDomainError(errType, message, err)
}

// WrapInternal wraps an error as an internal error
func WrapInternal(message string, err error) error {
	return NewDomainError(ErrorTypeInternal, message, err)
}

// WrapExternal wraps an error as an external provider error
func WrapExternal(message string, err error) error {
	return NewDomainError(ErrorTypeExternal, message, err)
}
