// Package errors holds the error definitions shared by every vitals package.
//
// It provides:
//   - Sentinel errors for all error conditions
//   - Error category checking functions
//   - ErrorToCode mapping used by vitalsctl exit codes
//   - Error wrapping utilities
package errors

import (
	"errors"
	"fmt"
)

// ============================================================================
// Exit codes - returned by vitalsctl so scripts can branch on failure kind
// ============================================================================

const (
	CodeOK              int = 0
	CodeUnknown         int = 1
	CodeInvalidArgument int = 2
	CodeNotFound        int = 3
	CodeAlreadyExists   int = 4
	CodeInternal        int = 5
	CodeUnsupported     int = 6
	CodeTimeout         int = 7
)

// CodeName returns a human-readable name for an exit code.
func CodeName(code int) string {
	switch code {
	case CodeOK:
		return "OK"
	case CodeUnknown:
		return "Unknown"
	case CodeInvalidArgument:
		return "InvalidArgument"
	case CodeNotFound:
		return "NotFound"
	case CodeAlreadyExists:
		return "AlreadyExists"
	case CodeInternal:
		return "Internal"
	case CodeUnsupported:
		return "Unsupported"
	case CodeTimeout:
		return "Timeout"
	default:
		return fmt.Sprintf("Code(%d)", code)
	}
}

// ============================================================================
// Sentinel errors
// ============================================================================

var (
	// Not found errors
	ErrNotFound           = errors.New("not found")
	ErrDataSourceNotFound = errors.New("data source not found")
	ErrSampleNotFound     = errors.New("sample not found")
	ErrSettingsNotFound   = errors.New("archival settings not found")

	// Already exists errors
	ErrAlreadyExists = errors.New("already exists")

	// Validation errors
	ErrInvalidArgument       = errors.New("invalid argument")
	ErrEmptySeriesTypes      = fmt.Errorf("series types must not be empty: %w", ErrInvalidArgument)
	ErrInvalidCursor         = fmt.Errorf("invalid cursor: %w", ErrInvalidArgument)
	ErrInvalidTimeRange      = fmt.Errorf("invalid time range: %w", ErrInvalidArgument)
	ErrInvalidConfig         = errors.New("invalid configuration")
	ErrMissingField          = errors.New("missing required field")
	ErrUnsupportedSeriesType = errors.New("unsupported series type")
	ErrUnknownProvider       = errors.New("unknown provider")

	// Store errors
	ErrDatabase           = errors.New("database error")
	ErrSingletonViolation = errors.New("singleton row violated")
	ErrConflict           = errors.New("write conflict")

	// Scheduled job errors
	ErrRunBudgetExhausted = errors.New("run budget exhausted")
	ErrTimeout            = errors.New("timeout")
	ErrNotRunning         = errors.New("service not running")
)

// ============================================================================
// Helper functions for error checking
// ============================================================================

// Is is a convenience wrapper for errors.Is
var Is = errors.Is

// As is a convenience wrapper for errors.As
var As = errors.As

// New is a convenience wrapper for errors.New
var New = errors.New

// Join is a convenience wrapper for errors.Join
var Join = errors.Join

// IsNotFound returns true if err is a not-found error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrDataSourceNotFound) ||
		errors.Is(err, ErrSampleNotFound) ||
		errors.Is(err, ErrSettingsNotFound)
}

// IsValidation returns true if err is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrInvalidArgument) ||
		errors.Is(err, ErrInvalidConfig) ||
		errors.Is(err, ErrMissingField) ||
		errors.Is(err, ErrUnknownProvider)
}

// IsRetriable returns true if the error is potentially retriable.
func IsRetriable(err error) bool {
	return errors.Is(err, ErrTimeout) ||
		errors.Is(err, ErrConflict)
}

// ============================================================================
// Error to exit code mapping
// ============================================================================

// ErrorToCode maps an error to its vitalsctl exit code.
func ErrorToCode(err error) int {
	switch {
	case err == nil:
		return CodeOK
	case IsNotFound(err):
		return CodeNotFound
	case Is(err, ErrAlreadyExists):
		return CodeAlreadyExists
	case Is(err, ErrUnsupportedSeriesType):
		return CodeUnsupported
	case IsValidation(err):
		return CodeInvalidArgument
	case Is(err, ErrTimeout):
		return CodeTimeout
	default:
		return CodeInternal
	}
}

// ============================================================================
// Error wrapping utilities
// ============================================================================

// Wrap wraps an error with additional context.
func Wrap(err error, message string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", message, err)
}

// Wrapf wraps an error with formatted context.
func Wrapf(err error, format string, args ...interface{}) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", fmt.Sprintf(format, args...), err)
}

// ============================================================================
// Error constructors with context
// ============================================================================

// NewNotFound creates a not-found error with context.
func NewNotFound(entityType, identifier string) error {
	return fmt.Errorf("%s '%s': %w", entityType, identifier, ErrNotFound)
}

// NewValidation creates a validation error with context.
func NewValidation(field, reason string) error {
	return fmt.Errorf("invalid %s: %s: %w", field, reason, ErrInvalidArgument)
}

// NewMissingField creates a missing field error.
func NewMissingField(field string) error {
	return fmt.Errorf("%s: %w", field, ErrMissingField)
}

// NewInvalidValue creates an invalid value error.
func NewInvalidValue(field string, value interface{}, reason string) error {
	return fmt.Errorf("invalid %s '%v': %s: %w", field, value, reason, ErrInvalidArgument)
}

// ============================================================================
// Validation Errors Collection
// ============================================================================

// ValidationErrors collects multiple validation errors.
type ValidationErrors struct {
	Errors []error
}

// NewValidationErrors creates a new ValidationErrors collector.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{}
}

// Add adds an error to the collection.
func (v *ValidationErrors) Add(err error) {
	if err != nil {
		v.Errors = append(v.Errors, err)
	}
}

// AddField adds a field validation error.
func (v *ValidationErrors) AddField(field, reason string) {
	v.Errors = append(v.Errors, NewValidation(field, reason))
}

// AddMissing adds a missing field error.
func (v *ValidationErrors) AddMissing(field string) {
	v.Errors = append(v.Errors, NewMissingField(field))
}

// HasErrors returns true if there are any errors.
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// Error implements the error interface.
func (v *ValidationErrors) Error() string {
	if len(v.Errors) == 0 {
		return ""
	}
	if len(v.Errors) == 1 {
		return v.Errors[0].Error()
	}

	msg := fmt.Sprintf("validation failed with %d errors:", len(v.Errors))
	for _, err := range v.Errors {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Err returns nil if no errors, otherwise returns the ValidationErrors.
func (v *ValidationErrors) Err() error {
	if len(v.Errors) == 0 {
		return nil
	}
	return v
}

// Unwrap returns the collected errors for errors.Is/As support.
func (v *ValidationErrors) Unwrap() []error {
	return v.Errors
}
