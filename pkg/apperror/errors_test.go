// Package apperror provides tests for the custom error types and utility functions.
package apperror

import (
	"errors"
	"net/http"
	"testing"
)

// TestError_Error verifies that the Error() method returns the correct string format.
func TestError_Error(t *testing.T) {
	tests := []struct {
		name     string
		err      *Error
		expected string
	}{
		{
			name:     "without field",
			err:      New(CodeInvalidInput, "payload is invalid"),
			expected: "[INVALID_INPUT] payload is invalid",
		},
		{
			name:     "with field",
			err:      NewWithField(CodeInvalidPosition, "position out of range", "lat"),
			expected: "[INVALID_POSITION] position out of range (field: lat)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.expected {
				t.Errorf("Error() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestError_Unwrap verifies that the Unwrap() method correctly returns the underlying cause.
func TestError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := Wrap(cause, CodeInternal, "wrapped error")

	if unwrapped := err.Unwrap(); unwrapped != cause {
		t.Errorf("Unwrap() = %v, want %v", unwrapped, cause)
	}
}

// TestError_HTTPStatus verifies that HTTPStatus() maps ErrorCodes to the right status codes.
func TestError_HTTPStatus(t *testing.T) {
	tests := []struct {
		name     string
		code     ErrorCode
		expected int
	}{
		{"invalid input", CodeInvalidInput, http.StatusBadRequest},
		{"not found", CodeShipmentNotFound, http.StatusNotFound},
		{"timeout", CodeTimeout, http.StatusGatewayTimeout},
		{"unauthenticated", CodeUnauthenticated, http.StatusUnauthorized},
		{"permission denied", CodePermissionDenied, http.StatusForbidden},
		{"state conflict", CodeShipmentNotActive, http.StatusConflict},
		{"routing unavailable", CodeRoutingUnavailable, http.StatusBadGateway},
		{"overload", CodeOverload, http.StatusTooManyRequests},
		{"internal", CodeInternal, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := New(tt.code, "test message")
			if got := err.HTTPStatus(); got != tt.expected {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.expected)
			}
		})
	}
}

// TestNew verifies the New function correctly initializes an Error.
func TestNew(t *testing.T) {
	err := New(CodeShipmentNotFound, "shipment is missing")

	if err.Code != CodeShipmentNotFound {
		t.Errorf("Code = %v, want %v", err.Code, CodeShipmentNotFound)
	}
	if err.Message != "shipment is missing" {
		t.Errorf("Message = %v, want %v", err.Message, "shipment is missing")
	}
	if err.Severity != SeverityError {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityError)
	}
}

// TestNewWarning verifies the NewWarning function correctly initializes an Error with SeverityWarning.
func TestNewWarning(t *testing.T) {
	err := NewWarning(CodeSignalUnavailable, "weather provider degraded")

	if err.Severity != SeverityWarning {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityWarning)
	}
}

// TestNewCritical verifies the NewCritical function correctly initializes an Error with SeverityCritical.
func TestNewCritical(t *testing.T) {
	err := NewCritical(CodeInternal, "critical failure")

	if err.Severity != SeverityCritical {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityCritical)
	}
}

// TestWithDetails verifies that WithDetails adds key-value pairs to the error's details map.
func TestWithDetails(t *testing.T) {
	err := New(CodeInvalidInput, "invalid").
		WithDetails("field_count", 5).
		WithDetails("reference_id", "abc")

	if err.Details["field_count"] != 5 {
		t.Errorf("Details[field_count] = %v, want 5", err.Details["field_count"])
	}
	if err.Details["reference_id"] != "abc" {
		t.Errorf("Details[reference_id] = %v, want abc", err.Details["reference_id"])
	}
}

// TestWithField verifies that WithField sets the field of the error.
func TestWithField(t *testing.T) {
	err := New(CodeInvalidPosition, "invalid position").WithField("lat")

	if err.Field != "lat" {
		t.Errorf("Field = %v, want lat", err.Field)
	}
}

// TestWithSeverity verifies that WithSeverity sets the severity level of the error.
func TestWithSeverity(t *testing.T) {
	err := New(CodeInvalidInput, "invalid").WithSeverity(SeverityCritical)

	if err.Severity != SeverityCritical {
		t.Errorf("Severity = %v, want %v", err.Severity, SeverityCritical)
	}
}

// TestIs verifies the Is function correctly identifies errors by their ErrorCode.
func TestIs(t *testing.T) {
	err := New(CodeShipmentNotFound, "not found")

	if !Is(err, CodeShipmentNotFound) {
		t.Error("Is() should return true for matching code")
	}
	if Is(err, CodeInvalidInput) {
		t.Error("Is() should return false for non-matching code")
	}
	if Is(errors.New("regular error"), CodeShipmentNotFound) {
		t.Error("Is() should return false for non-Error")
	}
}

// TestCode verifies the Code function correctly extracts the ErrorCode.
func TestCode(t *testing.T) {
	err := New(CodeRerouteNotFound, "no such reroute")

	if Code(err) != CodeRerouteNotFound {
		t.Errorf("Code() = %v, want %v", Code(err), CodeRerouteNotFound)
	}

	regularErr := errors.New("regular error")
	if Code(regularErr) != CodeInternal {
		t.Errorf("Code() for regular error = %v, want %v", Code(regularErr), CodeInternal)
	}
}

// TestHTTPStatusHelper verifies the package-level HTTPStatus function.
func TestHTTPStatusHelper(t *testing.T) {
	t.Run("app error", func(t *testing.T) {
		err := New(CodeInvalidInput, "invalid")
		if got := HTTPStatus(err); got != http.StatusBadRequest {
			t.Errorf("HTTPStatus() = %v, want %v", got, http.StatusBadRequest)
		}
	})

	t.Run("regular error", func(t *testing.T) {
		err := errors.New("regular error")
		if got := HTTPStatus(err); got != http.StatusInternalServerError {
			t.Errorf("HTTPStatus() = %v, want %v", got, http.StatusInternalServerError)
		}
	})
}

// TestIsTransient verifies the IsTransient classification used for retry decisions.
func TestIsTransient(t *testing.T) {
	if !IsTransient(New(CodeTransient, "blip")) {
		t.Error("CodeTransient should be transient")
	}
	if !IsTransient(New(CodeRoutingUnavailable, "down")) {
		t.Error("CodeRoutingUnavailable should be transient")
	}
	if IsTransient(New(CodeInvalidInput, "bad")) {
		t.Error("CodeInvalidInput should not be transient")
	}
	if IsTransient(errors.New("regular")) {
		t.Error("non-Error should not be transient")
	}
}

// TestIsWarning verifies the IsWarning function correctly identifies warning errors.
func TestIsWarning(t *testing.T) {
	warning := NewWarning(CodeSignalUnavailable, "degraded")
	err := New(CodeInvalidInput, "invalid")

	if !IsWarning(warning) {
		t.Error("IsWarning() should return true for warning")
	}
	if IsWarning(err) {
		t.Error("IsWarning() should return false for error")
	}
}

// TestIsCritical verifies the IsCritical function correctly identifies critical errors.
func TestIsCritical(t *testing.T) {
	critical := NewCritical(CodeInternal, "critical")
	err := New(CodeInvalidInput, "invalid")

	if !IsCritical(critical) {
		t.Error("IsCritical() should return true for critical")
	}
	if IsCritical(err) {
		t.Error("IsCritical() should return false for error")
	}
}

// TestSeverity_String verifies the String method of Severity returns the correct string representation.
func TestSeverity_String(t *testing.T) {
	tests := []struct {
		severity Severity
		expected string
	}{
		{SeverityWarning, "warning"},
		{SeverityError, "error"},
		{SeverityCritical, "critical"},
		{Severity(99), "unknown"},
	}

	for _, tt := range tests {
		if got := tt.severity.String(); got != tt.expected {
			t.Errorf("Severity.String() = %v, want %v", got, tt.expected)
		}
	}
}

// TestValidationErrors verifies the functionality of the ValidationErrors collection.
func TestValidationErrors(t *testing.T) {
	t.Run("new validation errors", func(t *testing.T) {
		ve := NewValidationErrors()
		if ve.HasErrors() {
			t.Error("new ValidationErrors should not have errors")
		}
		if ve.HasWarnings() {
			t.Error("new ValidationErrors should not have warnings")
		}
		if !ve.IsValid() {
			t.Error("new ValidationErrors should be valid")
		}
	})

	t.Run("add error", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddError(CodeInvalidInput, "invalid payload")

		if !ve.HasErrors() {
			t.Error("should have errors")
		}
		if ve.IsValid() {
			t.Error("should not be valid")
		}
		if len(ve.Errors) != 1 {
			t.Errorf("errors count = %d, want 1", len(ve.Errors))
		}
	})

	t.Run("add warning", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddWarning(CodeSignalUnavailable, "weather degraded")

		if !ve.HasWarnings() {
			t.Error("should have warnings")
		}
		if !ve.IsValid() {
			t.Error("should be valid (warnings don't affect validity)")
		}
	})

	t.Run("add error with field", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddErrorWithField(CodeInvalidPosition, "invalid", "lat")

		if ve.Errors[0].Field != "lat" {
			t.Errorf("Field = %v, want lat", ve.Errors[0].Field)
		}
	})

	t.Run("add via Add method", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.Add(NewWarning(CodeSignalUnavailable, "warning"))
		ve.Add(New(CodeInvalidInput, "error"))

		if len(ve.Warnings) != 1 {
			t.Errorf("warnings count = %d, want 1", len(ve.Warnings))
		}
		if len(ve.Errors) != 1 {
			t.Errorf("errors count = %d, want 1", len(ve.Errors))
		}
	})

	t.Run("merge", func(t *testing.T) {
		ve1 := NewValidationErrors()
		ve1.AddError(CodeInvalidInput, "error1")

		ve2 := NewValidationErrors()
		ve2.AddError(CodeInvalidPosition, "error2")
		ve2.AddWarning(CodeSignalUnavailable, "warning")

		ve1.Merge(ve2)

		if len(ve1.Errors) != 2 {
			t.Errorf("errors count = %d, want 2", len(ve1.Errors))
		}
		if len(ve1.Warnings) != 1 {
			t.Errorf("warnings count = %d, want 1", len(ve1.Warnings))
		}
	})

	t.Run("merge nil", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.Merge(nil) // should not panic
	})

	t.Run("error messages", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddError(CodeInvalidInput, "error1")
		ve.AddError(CodeInvalidPosition, "error2")

		messages := ve.ErrorMessages()
		if len(messages) != 2 {
			t.Errorf("messages count = %d, want 2", len(messages))
		}
	})

	t.Run("warning messages", func(t *testing.T) {
		ve := NewValidationErrors()
		ve.AddWarning(CodeSignalUnavailable, "warning1")

		messages := ve.WarningMessages()
		if len(messages) != 1 {
			t.Errorf("messages count = %d, want 1", len(messages))
		}
		if messages[0] != "warning1" {
			t.Errorf("message = %v, want warning1", messages[0])
		}
	})
}

// TestPredefinedErrors verifies that all predefined errors are correctly initialized.
func TestPredefinedErrors(t *testing.T) {
	predefinedErrors := []*Error{
		ErrShipmentNotFound,
		ErrVehicleUnknown,
		ErrShipmentNotActive,
		ErrRerouteNotFound,
		ErrRerouteExpired,
		ErrRoutingUnavailable,
		ErrTimeout,
		ErrNilInput,
		ErrOverload,
	}

	for _, err := range predefinedErrors {
		if err == nil {
			t.Error("predefined error should not be nil")
			continue
		}
		if err.Code == "" {
			t.Error("predefined error should have a code")
		}
		if err.Message == "" {
			t.Error("predefined error should have a message")
		}
	}
}
