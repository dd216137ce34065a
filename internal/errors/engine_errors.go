package errors

import (
	"fmt"
	"strings"
)

// ErrorCategory represents the category of error
type ErrorCategory string

const (
	// ErrorCategoryGraph represents graph construction errors
	ErrorCategoryGraph ErrorCategory = "GRAPH"
	// ErrorCategoryOperation represents task invocation errors
	ErrorCategoryOperation ErrorCategory = "OPERATION"
	// ErrorCategoryResume represents resume precondition errors
	ErrorCategoryResume ErrorCategory = "RESUME"
	// ErrorCategoryExecution represents execution lifecycle errors
	ErrorCategoryExecution ErrorCategory = "EXECUTION"
	// ErrorCategoryPersistence represents store errors
	ErrorCategoryPersistence ErrorCategory = "PERSISTENCE"
	// ErrorCategoryConfiguration represents configuration errors
	ErrorCategoryConfiguration ErrorCategory = "CONFIGURATION"
	// ErrorCategoryValidation represents input validation errors
	ErrorCategoryValidation ErrorCategory = "VALIDATION"
)

// EngineError represents a structured error with context and troubleshooting information
type EngineError struct {
	Category        ErrorCategory
	Code            string
	Message         string
	Operation       string
	Context         map[string]interface{}
	Troubleshooting []string
	OriginalError   error
}

// Error implements the error interface
func (e *EngineError) Error() string {
	var sb strings.Builder

	sb.WriteString(fmt.Sprintf("%s-%s: %s", e.Category, e.Code, e.Message))

	if e.Operation != "" {
		sb.WriteString(fmt.Sprintf(" (operation: %s)", e.Operation))
	}

	if e.OriginalError != nil {
		sb.WriteString(fmt.Sprintf(": %v", e.OriginalError))
	}

	return sb.String()
}

// Unwrap returns the original error for error chain compatibility
func (e *EngineError) Unwrap() error {
	return e.OriginalError
}

// Is reports whether target is an EngineError of the same category and code,
// so constructed errors match the package sentinels with errors.Is.
func (e *EngineError) Is(target error) bool {
	t, ok := target.(*EngineError)
	if !ok {
		return false
	}
	return t.Category == e.Category && t.Code == e.Code
}

// NewEngineError creates a new engine error with the specified parameters
func NewEngineError(category ErrorCategory, code, message, operation string) *EngineError {
	return &EngineError{
		Category:        category,
		Code:            code,
		Message:         message,
		Operation:       operation,
		Context:         make(map[string]interface{}),
		Troubleshooting: []string{},
	}
}

// WithContext adds context information to the error
func (e *EngineError) WithContext(key string, value interface{}) *EngineError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// WithTroubleshooting adds troubleshooting steps to the error
func (e *EngineError) WithTroubleshooting(steps ...string) *EngineError {
	e.Troubleshooting = append(e.Troubleshooting, steps...)
	return e
}

// WithOriginalError adds the original error to the engine error
func (e *EngineError) WithOriginalError(err error) *EngineError {
	e.OriginalError = err
	return e
}

// NewValidationError creates a new validation error
func NewValidationError(code, message, operation string) *EngineError {
	return NewEngineError(ErrorCategoryValidation, code, message, operation)
}

// NewConfigurationError creates a new configuration error
func NewConfigurationError(code, message, operation string) *EngineError {
	return NewEngineError(ErrorCategoryConfiguration, code, message, operation)
}

// NewPersistenceError creates a new store error wrapping the driver error
func NewPersistenceError(code, message, operation string, originalErr error) *EngineError {
	return NewEngineError(ErrorCategoryPersistence, code, message, operation).
		WithOriginalError(originalErr)
}
