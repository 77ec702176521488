package errors

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

func TestAppError_Error(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	expected := "INVALID_INPUT: test error"
	if err.Error() != expected {
		t.Errorf("Error() = %v, want %v", err.Error(), expected)
	}
}

func TestAppError_WithCause(t *testing.T) {
	originalErr := errors.New("original error")
	err := WrapError(originalErr, ErrCodeInternal, "wrapped error", 500)

	if err.Cause != originalErr {
		t.Errorf("Cause = %v, want %v", err.Cause, originalErr)
	}
	if !errors.Is(err, originalErr) {
		t.Errorf("errors.Is should find the cause")
	}
}

func TestAppError_WithContext(t *testing.T) {
	err := NewAppError(ErrCodeInvalidInput, "test error", 400)
	err.WithContext("field", "value").WithContext("count", 42)

	if err.Context["field"] != "value" {
		t.Errorf("Context[field] = %v, want 'value'", err.Context["field"])
	}
	if err.Context["count"] != 42 {
		t.Errorf("Context[count] = %v, want 42", err.Context["count"])
	}
}

func TestNew_UsesDefaultStatus(t *testing.T) {
	cases := map[ErrorCode]int{
		ErrCodeCameraBusy:             http.StatusConflict,
		ErrCodeTimeout:                http.StatusGatewayTimeout,
		ErrCodeInvalidCameraSelection: http.StatusBadRequest,
		ErrorCode("SOMETHING_ELSE"):     http.StatusInternalServerError,
	}
	for code, status := range cases {
		err := New(code, "x")
		if err.HTTPStatus != status {
			t.Errorf("%s: HTTPStatus = %d, want %d", code, err.HTTPStatus, status)
		}
	}
}

func TestIs_MatchesByCode(t *testing.T) {
	err := fmt.Errorf("snap: %w", NewCameraBusyError("snap"))

	if !errors.Is(err, ErrCameraBusy) {
		t.Fatalf("expected errors.Is to match ErrCameraBusy")
	}
	if errors.Is(err, ErrTimeout) {
		t.Fatalf("did not expect errors.Is to match ErrTimeout")
	}
	if !HasCode(err, ErrCodeCameraBusy) {
		t.Fatalf("HasCode should match wrapped code")
	}
}

func TestGetAppError_Unwraps(t *testing.T) {
	inner := NewTimeoutError(1, 1000)
	wrapped := fmt.Errorf("pass failed: %w", inner)

	got := GetAppError(wrapped)
	if got != inner {
		t.Fatalf("GetAppError() = %v, want %v", got, inner)
	}
	if got.Context["stream"] != 1 {
		t.Errorf("Context[stream] = %v, want 1", got.Context["stream"])
	}
	if GetAppError(errors.New("plain")) != nil {
		t.Errorf("plain errors should not yield an AppError")
	}
	if IsAppError(nil) {
		t.Errorf("nil is not an AppError")
	}
}
