package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// ErrorCode represents application error codes
type ErrorCode string

const (
	ErrCodeInvalidInput   ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound       ErrorCode = "NOT_FOUND"
	ErrCodeUnauthorized   ErrorCode = "UNAUTHORIZED"
	ErrCodeRateLimit      ErrorCode = "RATE_LIMIT_EXCEEDED"
	ErrCodeInternal       ErrorCode = "INTERNAL_ERROR"
	ErrCodeNotInitialized ErrorCode = "NOT_INITIALIZED"
	ErrCodeUnavailable    ErrorCode = "STORE_UNAVAILABLE"

	// Acquisition taxonomy
	ErrCodeInitFailed                 ErrorCode = "INIT_FAILED"
	ErrCodeInvalidCameraSelection     ErrorCode = "INVALID_CAMERA_SELECTION"
	ErrCodeConfigureFailed            ErrorCode = "CONFIGURE_FAILED"
	ErrCodeUnsupportedPixelType       ErrorCode = "UNSUPPORTED_PIXEL_TYPE"
	ErrCodeUnknownPixelType           ErrorCode = "UNKNOWN_PIXEL_TYPE"
	ErrCodeSoftwareTriggerUnavailable ErrorCode = "SOFTWARE_TRIGGER_UNAVAILABLE"
	ErrCodeTimeout                    ErrorCode = "TIMEOUT"
	ErrCodeMissedFrame                ErrorCode = "MISSED_FRAME"
	ErrCodeDirectoryCreateFailed      ErrorCode = "DIRECTORY_CREATE_FAILED"
	ErrCodeCameraBusy                 ErrorCode = "CAMERA_BUSY"
	ErrCodeBufferOverflow             ErrorCode = "BUFFER_OVERFLOW"
	ErrCodeRuntime                    ErrorCode = "RUNTIME_ERROR"
)

var httpStatus = map[ErrorCode]int{
	ErrCodeInvalidInput:               http.StatusBadRequest,
	ErrCodeNotFound:                   http.StatusNotFound,
	ErrCodeUnauthorized:               http.StatusUnauthorized,
	ErrCodeRateLimit:                  http.StatusTooManyRequests,
	ErrCodeInternal:                   http.StatusInternalServerError,
	ErrCodeNotInitialized:             http.StatusServiceUnavailable,
	ErrCodeUnavailable:                http.StatusServiceUnavailable,
	ErrCodeInitFailed:                 http.StatusServiceUnavailable,
	ErrCodeInvalidCameraSelection:     http.StatusBadRequest,
	ErrCodeConfigureFailed:            http.StatusUnprocessableEntity,
	ErrCodeUnsupportedPixelType:       http.StatusBadRequest,
	ErrCodeUnknownPixelType:           http.StatusBadRequest,
	ErrCodeSoftwareTriggerUnavailable: http.StatusConflict,
	ErrCodeTimeout:                    http.StatusGatewayTimeout,
	ErrCodeMissedFrame:                http.StatusInternalServerError,
	ErrCodeDirectoryCreateFailed:      http.StatusInternalServerError,
	ErrCodeCameraBusy:                 http.StatusConflict,
	ErrCodeBufferOverflow:             http.StatusInsufficientStorage,
	ErrCodeRuntime:                    http.StatusBadGateway,
}

// StatusFor returns the HTTP status associated with an error code.
func StatusFor(code ErrorCode) int {
	if s, ok := httpStatus[code]; ok {
		return s
	}
	return http.StatusInternalServerError
}

// AppError represents an application error with code and context
type AppError struct {
	Code       ErrorCode
	Message    string
	HTTPStatus int
	Cause      error
	Context    map[string]interface{}
}

// Error implements error interface
func (e *AppError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s (caused by: %v)", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error
func (e *AppError) Unwrap() error {
	return e.Cause
}

// Is matches any AppError carrying the same code, so sentinels like ErrCameraBusy
// can be used with errors.Is.
func (e *AppError) Is(target error) bool {
	t, ok := target.(*AppError)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

// WithContext adds context to the error
func (e *AppError) WithContext(key string, value interface{}) *AppError {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// NewAppError creates a new application error
func NewAppError(code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Context:    make(map[string]interface{}),
	}
}

// WrapError wraps an existing error with application error
func WrapError(err error, code ErrorCode, message string, httpStatus int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		HTTPStatus: httpStatus,
		Cause:      err,
		Context:    make(map[string]interface{}),
	}
}

// New creates an error for code using the code's default HTTP status.
func New(code ErrorCode, format string, args ...interface{}) *AppError {
	return NewAppError(code, fmt.Sprintf(format, args...), StatusFor(code))
}

// Wrap wraps err under code using the code's default HTTP status.
func Wrap(err error, code ErrorCode, format string, args ...interface{}) *AppError {
	return WrapError(err, code, fmt.Sprintf(format, args...), StatusFor(code))
}

// Sentinels for errors.Is comparisons. Never return these directly; they are
// shared values and WithContext would mutate them.
var (
	ErrInitFailed                 = &AppError{Code: ErrCodeInitFailed}
	ErrInvalidCameraSelection     = &AppError{Code: ErrCodeInvalidCameraSelection}
	ErrConfigureFailed            = &AppError{Code: ErrCodeConfigureFailed}
	ErrUnsupportedPixelType       = &AppError{Code: ErrCodeUnsupportedPixelType}
	ErrUnknownPixelType           = &AppError{Code: ErrCodeUnknownPixelType}
	ErrSoftwareTriggerUnavailable = &AppError{Code: ErrCodeSoftwareTriggerUnavailable}
	ErrTimeout                    = &AppError{Code: ErrCodeTimeout}
	ErrMissedFrame                = &AppError{Code: ErrCodeMissedFrame}
	ErrDirectoryCreateFailed      = &AppError{Code: ErrCodeDirectoryCreateFailed}
	ErrCameraBusy                 = &AppError{Code: ErrCodeCameraBusy}
	ErrBufferOverflow             = &AppError{Code: ErrCodeBufferOverflow}
	ErrNotInitialized             = &AppError{Code: ErrCodeNotInitialized}
)

// Common error constructors
func NewInvalidInputError(message string) *AppError {
	return NewAppError(ErrCodeInvalidInput, message, http.StatusBadRequest)
}

func NewNotFoundError(resource string) *AppError {
	return NewAppError(ErrCodeNotFound, fmt.Sprintf("%s not found", resource), http.StatusNotFound)
}

func NewUnauthorizedError(message string) *AppError {
	return NewAppError(ErrCodeUnauthorized, message, http.StatusUnauthorized)
}

func NewRateLimitError() *AppError {
	return NewAppError(ErrCodeRateLimit, "rate limit exceeded", http.StatusTooManyRequests)
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrCodeInternal, message, http.StatusInternalServerError)
}

func NewCameraBusyError(operation string) *AppError {
	return New(ErrCodeCameraBusy, "%s rejected: camera is acquiring", operation)
}

func NewTimeoutError(stream int, attempts int) *AppError {
	return New(ErrCodeTimeout, "no frames on stream %d after %d polls", stream, attempts).
		WithContext("stream", stream)
}

// IsAppError checks if error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// GetAppError extracts AppError from error chain
func GetAppError(err error) *AppError {
	if err == nil {
		return nil
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return nil
}

// HasCode reports whether any AppError in err's chain carries code.
func HasCode(err error, code ErrorCode) bool {
	return errors.Is(err, &AppError{Code: code})
}
