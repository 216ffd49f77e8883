package apperrors

import (
	"errors"

	"github.com/strefethen/sonos-fleet-go/internal/sonos/soap"
)

// =============================================================================
// Error Codes
// =============================================================================

type ErrorCode string

const (
	ErrorCodeInternalError    ErrorCode = "INTERNAL_ERROR"
	ErrorCodeValidationError  ErrorCode = "VALIDATION_ERROR"
	ErrorCodeNotFound         ErrorCode = "NOT_FOUND"
	ErrorCodeSonosTimeout     ErrorCode = "SONOS_TIMEOUT"
	ErrorCodeSonosUnreachable ErrorCode = "SONOS_UNREACHABLE"
	ErrorCodeSonosRejected    ErrorCode = "SONOS_REJECTED"
	ErrorCodeDeviceNotFound   ErrorCode = "DEVICE_NOT_FOUND"
	ErrorCodeGroupNotFound    ErrorCode = "GROUP_NOT_FOUND"
	ErrorCodeNoGroups         ErrorCode = "NO_GROUPS"
)

// ErrorType categorizes errors following Stripe API conventions.
type ErrorType string

const (
	// ErrorTypeInvalidRequest indicates invalid parameters, missing resources, etc.
	ErrorTypeInvalidRequest ErrorType = "invalid_request_error"
	// ErrorTypeAPIError indicates an internal API error.
	ErrorTypeAPIError ErrorType = "api_error"
	// ErrorTypeDeviceError indicates a player failed or refused a command.
	ErrorTypeDeviceError ErrorType = "device_error"
)

// StripeErrorBody is the Stripe-style error payload.
// Format: {"type": "invalid_request_error", "code": "NOT_FOUND", "message": "..."}
type StripeErrorBody struct {
	Type    ErrorType      `json:"type"`
	Code    string         `json:"code"`
	Message string         `json:"message"`
	Details map[string]any `json:"details,omitempty"`
}

// AppError is the base error type for HTTP responses.
type AppError struct {
	Code       ErrorCode
	Message    string
	StatusCode int
	Details    map[string]any
}

func (err *AppError) Error() string {
	return err.Message
}

// StripeErrorBody returns the error in Stripe API format.
func (err *AppError) StripeErrorBody() StripeErrorBody {
	errType := ErrorTypeAPIError
	switch {
	case err.StatusCode == 502 || err.StatusCode == 504:
		errType = ErrorTypeDeviceError
	case err.StatusCode >= 400 && err.StatusCode < 500:
		errType = ErrorTypeInvalidRequest
	}

	return StripeErrorBody{
		Type:    errType,
		Code:    string(err.Code),
		Message: err.Message,
		Details: err.Details,
	}
}

func NewAppError(code ErrorCode, message string, statusCode int, details map[string]any) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
		Details:    details,
	}
}

func NewValidationError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeValidationError, message, 400, details)
}

func NewNotFoundError(message string, details map[string]any) *AppError {
	return NewAppError(ErrorCodeNotFound, message, 404, details)
}

func NewDeviceNotFound(udn string) *AppError {
	return NewAppError(ErrorCodeDeviceNotFound, "Device not found: "+udn, 404, map[string]any{"udn": udn})
}

func NewGroupNotFound(id string) *AppError {
	return NewAppError(ErrorCodeGroupNotFound, "Group not found: "+id, 404, map[string]any{"id": id})
}

func NewInternalError(message string) *AppError {
	return NewAppError(ErrorCodeInternalError, message, 500, nil)
}

// FromSonosError maps a player command failure onto an HTTP error.
// Errors that are not player failures become internal errors with message.
func FromSonosError(err error, message string) *AppError {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var timeoutErr *soap.SonosTimeoutError
	if errors.As(err, &timeoutErr) {
		return NewAppError(ErrorCodeSonosTimeout, message+": player timed out", 504, map[string]any{"action": timeoutErr.Action})
	}

	var unreachableErr *soap.SonosUnreachableError
	if errors.As(err, &unreachableErr) {
		return NewAppError(ErrorCodeSonosUnreachable, message+": player unreachable", 502, map[string]any{"action": unreachableErr.Action})
	}

	var rejectedErr *soap.SonosRejectedError
	if errors.As(err, &rejectedErr) {
		return NewAppError(ErrorCodeSonosRejected, message+": player rejected the command", 502, map[string]any{
			"action":     rejectedErr.Action,
			"upnp_error": rejectedErr.Code,
		})
	}

	return NewInternalError(message)
}

// EnsureAppError converts an arbitrary error into an AppError.
func EnsureAppError(err error) *AppError {
	if err == nil {
		return NewInternalError("Unknown error")
	}
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}
	return NewInternalError("Internal server error")
}
