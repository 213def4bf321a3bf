// Package apperror provides a structured way to handle application errors
// with specific codes, severity levels, and additional details. It also
// includes a mapping from application error codes to HTTP status codes.
package apperror

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents a specific application error code.
type ErrorCode string

const (
	// Input validation
	CodeInvalidInput     ErrorCode = "INVALID_INPUT"
	CodeInvalidPosition  ErrorCode = "INVALID_POSITION"
	CodeInvalidPagination ErrorCode = "INVALID_PAGINATION"
	CodeNilInput         ErrorCode = "NIL_INPUT"

	// Resource lookup
	CodeNotFound        ErrorCode = "NOT_FOUND"
	CodeShipmentNotFound ErrorCode = "SHIPMENT_NOT_FOUND"
	CodeVehicleUnknown  ErrorCode = "VEHICLE_UNKNOWN"
	CodeRerouteNotFound ErrorCode = "REROUTE_NOT_FOUND"

	// State conflicts
	CodeStateConflict      ErrorCode = "STATE_CONFLICT"
	CodeShipmentNotActive  ErrorCode = "SHIPMENT_NOT_ACTIVE"
	CodeRerouteNotProposed ErrorCode = "REROUTE_NOT_PROPOSED"
	CodeRerouteExpired     ErrorCode = "REROUTE_EXPIRED"

	// Upstream collaborators
	CodeRoutingUnavailable ErrorCode = "ROUTING_UNAVAILABLE"
	CodeSignalUnavailable  ErrorCode = "SIGNAL_UNAVAILABLE"
	CodeTransient          ErrorCode = "TRANSIENT"
	CodeTimeout            ErrorCode = "DEADLINE_EXCEEDED"

	// Admission / backpressure
	CodeOverload ErrorCode = "OVERLOAD"

	// Auth-adjacent (kept minimal; full authn/authz is out of scope)
	CodeUnauthenticated  ErrorCode = "UNAUTHENTICATED"
	CodePermissionDenied ErrorCode = "PERMISSION_DENIED"

	// General
	CodeInternal      ErrorCode = "INTERNAL_ERROR"
	CodeUnimplemented ErrorCode = "UNIMPLEMENTED"
)

// Severity defines the criticality level of an error.
type Severity int

const (
	// SeverityWarning indicates a non-critical issue that can be ignored or automatically resolved.
	SeverityWarning Severity = iota
	// SeverityError indicates a standard error that requires attention.
	SeverityError
	// SeverityCritical indicates a severe error that might require immediate human intervention.
	SeverityCritical
)

// String returns the string representation of the Severity.
func (s Severity) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityError:
		return "error"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Error is a custom error type that includes an ErrorCode, message,
// an optional field, additional details, an underlying cause, and a severity level.
type Error struct {
	Code     ErrorCode      // Code is a unique identifier for the type of error.
	Message  string         // Message is a human-readable description of the error.
	Field    string         // Field indicates which input field caused the error, if applicable.
	Details  map[string]any // Details provides additional structured information about the error.
	Cause    error          // Cause is the underlying error that triggered this application error.
	Severity Severity       // Severity indicates the criticality level of the error.
}

// Error implements the error interface, returning a string representation of the error.
func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error, allowing for error chain introspection.
func (e *Error) Unwrap() error {
	return e.Cause
}

// HTTPStatus maps the error to the HTTP status code a transport layer
// should report for it.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case CodeInvalidInput, CodeInvalidPosition, CodeInvalidPagination, CodeNilInput:
		return http.StatusBadRequest

	case CodeNotFound, CodeShipmentNotFound, CodeVehicleUnknown, CodeRerouteNotFound:
		return http.StatusNotFound

	case CodeStateConflict, CodeShipmentNotActive, CodeRerouteNotProposed, CodeRerouteExpired:
		return http.StatusConflict

	case CodeUnauthenticated:
		return http.StatusUnauthorized

	case CodePermissionDenied:
		return http.StatusForbidden

	case CodeTimeout:
		return http.StatusGatewayTimeout

	case CodeRoutingUnavailable, CodeSignalUnavailable, CodeTransient:
		return http.StatusBadGateway

	case CodeOverload:
		return http.StatusTooManyRequests

	case CodeUnimplemented:
		return http.StatusNotImplemented

	default:
		return http.StatusInternalServerError
	}
}

// New creates a new application error with the given code and message.
// The default severity is SeverityError.
func New(code ErrorCode, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Details:  make(map[string]any),
		Severity: SeverityError,
	}
}

// NewWithField creates a new application error with the given code, message, and field.
// The default severity is SeverityError.
func NewWithField(code ErrorCode, message, field string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Field:    field,
		Details:  make(map[string]any),
		Severity: SeverityError,
	}
}

// NewWarning creates a new application error with SeverityWarning.
func NewWarning(code ErrorCode, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Details:  make(map[string]any),
		Severity: SeverityWarning,
	}
}

// NewCritical creates a new application error with SeverityCritical.
func NewCritical(code ErrorCode, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Details:  make(map[string]any),
		Severity: SeverityCritical,
	}
}

// Wrap creates a new application error that wraps an existing error,
// providing additional context with a code and message.
// The default severity is SeverityError.
func Wrap(cause error, code ErrorCode, message string) *Error {
	return &Error{
		Code:     code,
		Message:  message,
		Cause:    cause,
		Details:  make(map[string]any),
		Severity: SeverityError,
	}
}

// WithDetails adds a key-value pair to the error's details map and returns the modified error.
func (e *Error) WithDetails(key string, value any) *Error {
	e.Details[key] = value
	return e
}

// WithField sets the field associated with the error and returns the modified error.
func (e *Error) WithField(field string) *Error {
	e.Field = field
	return e
}

// WithSeverity sets the severity level of the error and returns the modified error.
func (e *Error) WithSeverity(s Severity) *Error {
	e.Severity = s
	return e
}

// WithCause attaches an underlying error and returns the modified error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// Is checks if the given error is an application error with a matching ErrorCode.
// It uses errors.As to unwrap the error chain.
func Is(err error, code ErrorCode) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code == code
	}
	return false
}

// Code extracts the ErrorCode from an error. If the error is not an *Error,
// it returns CodeInternal.
func Code(err error) ErrorCode {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return CodeInternal
}

// HTTPStatus extracts the HTTP status an error should be reported as.
// Non-*Error values map to 500.
func HTTPStatus(err error) int {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.HTTPStatus()
	}
	return http.StatusInternalServerError
}

// IsTransient reports whether retrying the operation that produced err
// might succeed without any change in caller behavior.
func IsTransient(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		switch appErr.Code {
		case CodeTransient, CodeTimeout, CodeRoutingUnavailable, CodeSignalUnavailable, CodeOverload:
			return true
		}
	}
	return false
}

// IsWarning checks if the given error is an application error with SeverityWarning.
func IsWarning(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityWarning
	}
	return false
}

// IsCritical checks if the given error is an application error with SeverityCritical.
func IsCritical(err error) bool {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Severity == SeverityCritical
	}
	return false
}

// Predefined errors for common scenarios.
var (
	ErrShipmentNotFound  = New(CodeShipmentNotFound, "shipment not found")
	ErrVehicleUnknown    = New(CodeVehicleUnknown, "vehicle is not associated with an active shipment")
	ErrShipmentNotActive = New(CodeShipmentNotActive, "shipment is not in an active state")
	ErrRerouteNotFound   = New(CodeRerouteNotFound, "reroute proposal not found")
	ErrRerouteExpired    = New(CodeRerouteExpired, "reroute proposal has expired")
	ErrRoutingUnavailable = New(CodeRoutingUnavailable, "routing provider unavailable")
	ErrTimeout           = New(CodeTimeout, "operation timed out")
	ErrNilInput          = New(CodeNilInput, "input is nil")
	ErrOverload          = New(CodeOverload, "system is overloaded")
)

// ValidationErrors is a collection of application errors and warnings,
// typically used for aggregating results of multiple validation checks.
type ValidationErrors struct {
	Errors   []*Error // Errors contains all collected errors (SeverityError and SeverityCritical).
	Warnings []*Error // Warnings contains all collected warnings (SeverityWarning).
}

// NewValidationErrors creates and returns a new empty ValidationErrors collection.
func NewValidationErrors() *ValidationErrors {
	return &ValidationErrors{
		Errors:   make([]*Error, 0),
		Warnings: make([]*Error, 0),
	}
}

// Add appends an *Error to the appropriate slice (Errors or Warnings)
// based on its Severity.
func (v *ValidationErrors) Add(err *Error) {
	if err.Severity == SeverityWarning {
		v.Warnings = append(v.Warnings, err)
	} else {
		v.Errors = append(v.Errors, err)
	}
}

// AddError creates and adds a new application error with SeverityError.
func (v *ValidationErrors) AddError(code ErrorCode, message string) {
	v.Errors = append(v.Errors, New(code, message))
}

// AddWarning creates and adds a new application error with SeverityWarning.
func (v *ValidationErrors) AddWarning(code ErrorCode, message string) {
	v.Warnings = append(v.Warnings, NewWarning(code, message))
}

// AddErrorWithField creates and adds a new application error with a specific field.
func (v *ValidationErrors) AddErrorWithField(code ErrorCode, message, field string) {
	v.Errors = append(v.Errors, NewWithField(code, message, field))
}

// HasErrors returns true if the collection contains any errors (non-warning severity).
func (v *ValidationErrors) HasErrors() bool {
	return len(v.Errors) > 0
}

// HasWarnings returns true if the collection contains any warnings.
func (v *ValidationErrors) HasWarnings() bool {
	return len(v.Warnings) > 0
}

// IsValid returns true if the collection contains no errors (warnings do not affect validity).
func (v *ValidationErrors) IsValid() bool {
	return !v.HasErrors()
}

// Merge combines the current ValidationErrors collection with another one.
// All errors and warnings from the 'other' collection are appended to the current one.
func (v *ValidationErrors) Merge(other *ValidationErrors) {
	if other == nil {
		return
	}
	v.Errors = append(v.Errors, other.Errors...)
	v.Warnings = append(v.Warnings, other.Warnings...)
}

// ErrorMessages returns a slice of string messages for all collected errors.
func (v *ValidationErrors) ErrorMessages() []string {
	messages := make([]string, len(v.Errors))
	for i, err := range v.Errors {
		messages[i] = err.Error()
	}
	return messages
}

// WarningMessages returns a slice of string messages for all collected warnings.
func (v *ValidationErrors) WarningMessages() []string {
	messages := make([]string, len(v.Warnings))
	for i, warn := range v.Warnings {
		messages[i] = warn.Message
	}
	return messages
}
