package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrorCode represents an SPR error code.
type ErrorCode string

const (
	ErrInvalidRequest ErrorCode = "INVALID_REQUEST"        // 400
	ErrForbidden      ErrorCode = "FORBIDDEN"              // 403
	ErrNotFound       ErrorCode = "NOT_FOUND"              // 404
	ErrNotConfigured  ErrorCode = "NOT_CONFIGURED"         // 412
	ErrMediaType      ErrorCode = "UNSUPPORTED_MEDIA_TYPE" // 415
	ErrStorage        ErrorCode = "STORAGE"                // 500
	ErrInternal       ErrorCode = "INTERNAL"               // 500
	ErrDelivery       ErrorCode = "DELIVERY_FAILED"        // 502
)

// SPRError represents a structured error with code, status, and details.
type SPRError struct {
	Code    ErrorCode
	Status  int
	Message string
	Details map[string]any
}

// Error implements the error interface.
func (e *SPRError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// NewInvalidRequest creates a 400 error for invalid request parameters.
func NewInvalidRequest(msg string) *SPRError {
	return &SPRError{
		Code:    ErrInvalidRequest,
		Status:  400,
		Message: msg,
	}
}

// NewForbidden creates a 403 error for a request from an origin that may not call the local server.
func NewForbidden(origin string) *SPRError {
	return &SPRError{
		Code:    ErrForbidden,
		Status:  403,
		Message: fmt.Sprintf("origin not allowed: %s", origin),
		Details: map[string]any{"origin": origin},
	}
}

// NewMediaType creates a 415 error for a body that is not JSON.
func NewMediaType(contentType string) *SPRError {
	return &SPRError{
		Code:    ErrMediaType,
		Status:  415,
		Message: "Content-Type must be application/json",
		Details: map[string]any{"content_type": contentType},
	}
}

// NewNotFound creates a 404 error for when a captured prompt cannot be found.
func NewNotFound(localID string) *SPRError {
	return &SPRError{
		Code:    ErrNotFound,
		Status:  404,
		Message: fmt.Sprintf("prompt not found: %s", localID),
		Details: map[string]any{"local_id": localID},
	}
}

// NewNotConfigured creates a 412 error when a required setting is missing.
func NewNotConfigured(setting string) *SPRError {
	return &SPRError{
		Code:    ErrNotConfigured,
		Status:  412,
		Message: fmt.Sprintf("%s is not configured", setting),
		Details: map[string]any{"setting": setting},
	}
}

// NewStorage creates a 500 error for a failed read or write of the local store.
// Storage errors abort the operation that hit them.
func NewStorage(err error) *SPRError {
	msg := "storage error"
	if err != nil {
		msg = err.Error()
	}
	return &SPRError{
		Code:    ErrStorage,
		Status:  500,
		Message: msg,
	}
}

// NewDelivery creates a 502 error describing a failed exchange with the sync server.
func NewDelivery(statusCode int, msg, requestID string) *SPRError {
	details := map[string]any{"status_code": statusCode}
	if requestID != "" {
		details["request_id"] = requestID
	}
	return &SPRError{
		Code:    ErrDelivery,
		Status:  502,
		Message: msg,
		Details: details,
	}
}

// NewInternal creates a 500 error for unexpected internal errors.
// The message is generic; the original error is kept in Details for logging.
func NewInternal(err error) *SPRError {
	details := map[string]any{}
	if err != nil {
		details["internal_error"] = err.Error()
	}
	return &SPRError{
		Code:    ErrInternal,
		Status:  500,
		Message: "an internal error occurred",
		Details: details,
	}
}

// Is checks if an error (or anything it wraps) is an SPRError with the given code.
func Is(err error, code ErrorCode) bool {
	var sErr *SPRError
	if stderrors.As(err, &sErr) {
		return sErr.Code == code
	}
	return false
}
