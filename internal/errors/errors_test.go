package errors

import (
	"fmt"
	"net/http"
	"testing"
	"time"
)

func TestNewAppError(t *testing.T) {
	err := NewAppError(ErrCodeInvalidRequest, "Test error", nil)

	if err.Code != ErrCodeInvalidRequest {
		t.Errorf("Expected code %s, got %s", ErrCodeInvalidRequest, err.Code)
	}

	if err.Message != "Test error" {
		t.Errorf("Expected message 'Test error', got %s", err.Message)
	}

	if err.Severity != SeverityLow {
		t.Errorf("Expected severity %s, got %s", SeverityLow, err.Severity)
	}
}

func TestAppErrorHTTPStatus(t *testing.T) {
	tests := []struct {
		code           ErrorCode
		expectedStatus int
	}{
		{ErrCodeNotFound, http.StatusNotFound},
		{ErrCodeInvalidRequest, http.StatusBadRequest},
		{ErrCodeUpstream, http.StatusBadGateway},
		{ErrCodeStore, http.StatusServiceUnavailable},
		{ErrCodeTimeout, http.StatusGatewayTimeout},
		{ErrCodeInternal, http.StatusInternalServerError},
	}

	for _, test := range tests {
		err := NewAppError(test.code, "Test", nil)
		status := err.HTTPStatus()

		if status != test.expectedStatus {
			t.Errorf("Code %s: expected status %d, got %d", test.code, test.expectedStatus, status)
		}
	}
}

func TestAppErrorWithContext(t *testing.T) {
	err := NewAppError(ErrCodeUpstream, "Test error", nil)
	err = err.WithContext("provider", "tiingo")
	err = err.WithRequestID("req_456")

	if err.Context["provider"] != "tiingo" {
		t.Errorf("Expected context provider 'tiingo', got %v", err.Context["provider"])
	}

	if err.RequestID != "req_456" {
		t.Errorf("Expected request ID 'req_456', got %s", err.RequestID)
	}
}

func TestAppErrorIsRetryable(t *testing.T) {
	for _, code := range []ErrorCode{ErrCodeTimeout, ErrCodeUpstream, ErrCodeStore} {
		if !NewAppError(code, "x", nil).IsRetryable() {
			t.Errorf("%s should be retryable", code)
		}
	}

	for _, code := range []ErrorCode{ErrCodeNotFound, ErrCodeInvalidRequest} {
		if NewAppError(code, "x", nil).IsRetryable() {
			t.Errorf("%s should not be retryable", code)
		}
	}
}

func TestWrapError(t *testing.T) {
	originalErr := fmt.Errorf("connection refused")
	wrappedErr := WrapError(originalErr, ErrCodeStore, "Store error")

	if wrappedErr.Code != ErrCodeStore {
		t.Errorf("Expected code %s, got %s", ErrCodeStore, wrappedErr.Code)
	}

	if wrappedErr.Cause != originalErr {
		t.Error("Wrapped error should preserve original error")
	}

	if WrapError(nil, ErrCodeStore, "nothing") != nil {
		t.Error("Wrapping nil should return nil")
	}

	// an AppError is returned untouched
	appErr := NotFound("no data")
	if WrapError(appErr, ErrCodeStore, "ignored") != appErr {
		t.Error("WrapError should not rewrap an AppError")
	}
}

func TestErrorResponse(t *testing.T) {
	err := NotFound("Resource not found")
	response := NewErrorResponse(err, "/api/prices")

	if response.Error != err {
		t.Error("Response should contain the error")
	}

	if response.Success {
		t.Error("Response success should be false")
	}

	if time.Since(response.Timestamp) > time.Second {
		t.Error("Response timestamp should be recent")
	}
}

func TestGetSeverityByCode(t *testing.T) {
	tests := []struct {
		code             ErrorCode
		expectedSeverity ErrorSeverity
	}{
		{ErrCodeInternal, SeverityCritical},
		{ErrCodeStore, SeverityHigh},
		{ErrCodeUpstream, SeverityMedium},
		{ErrCodeTimeout, SeverityMedium},
		{ErrCodeNotFound, SeverityLow},
	}

	for _, test := range tests {
		severity := getSeverityByCode(test.code)
		if severity != test.expectedSeverity {
			t.Errorf("Code %s: expected severity %s, got %s", test.code, test.expectedSeverity, severity)
		}
	}
}

func TestGetAppErrorThroughWrapping(t *testing.T) {
	appErr := Upstream("tiingo unavailable", nil)
	wrapped := fmt.Errorf("fetch batch: %w", appErr)

	if GetAppError(wrapped) != appErr {
		t.Error("Should find AppError through fmt wrapping")
	}

	if !Is(wrapped, ErrCodeUpstream) {
		t.Error("Is should match the wrapped code")
	}

	if Is(wrapped, ErrCodeNotFound) {
		t.Error("Is should not match a different code")
	}

	if CodeOf(fmt.Errorf("plain")) != ErrCodeInternal {
		t.Error("Foreign errors should map to INTERNAL_ERROR")
	}

	if GetAppError(fmt.Errorf("standard error")) != nil {
		t.Error("Should return nil for standard error")
	}
}
