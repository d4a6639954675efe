package livelink

import (
	"fmt"
	"net/url"
)

// Error is the canonical SDK error.
type Error struct {
	Type    ErrorType `json:"type"`
	Message string    `json:"message"`
	Param   string    `json:"param,omitempty"`
	Code    string    `json:"code,omitempty"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("%s: %s (code: %s)", e.Type, e.Message, e.Code)
	}
	return fmt.Sprintf("%s: %s", e.Type, e.Message)
}

// ErrorType categorizes errors.
type ErrorType string

const (
	// ErrInvalidRequest marks caller contract violations: rejected
	// synchronously, never a state change.
	ErrInvalidRequest ErrorType = "invalid_request_error"

	// ErrNotConnected marks operations that require a connected session.
	ErrNotConnected ErrorType = "not_connected_error"

	// ErrPermission marks a declined capture-device permission.
	ErrPermission ErrorType = "permission_error"

	// ErrDeviceUnavailable marks any other capture-device acquisition failure.
	ErrDeviceUnavailable ErrorType = "device_unavailable_error"

	// ErrAPI marks errors reported by the relay or upstream service.
	ErrAPI ErrorType = "api_error"
)

// NewInvalidRequestError creates an invalid request error.
func NewInvalidRequestError(message string) *Error {
	return &Error{Type: ErrInvalidRequest, Message: message}
}

// NewNotConnectedError creates a not-connected error.
func NewNotConnectedError(message string) *Error {
	return &Error{Type: ErrNotConnected, Message: message}
}

// NewPermissionError creates a permission error.
func NewPermissionError(message string) *Error {
	return &Error{Type: ErrPermission, Message: message}
}

// NewDeviceUnavailableError creates a device unavailable error.
func NewDeviceUnavailableError(message string) *Error {
	return &Error{Type: ErrDeviceUnavailable, Message: message}
}

// NewAPIError creates a generic API error.
func NewAPIError(message string) *Error {
	return &Error{Type: ErrAPI, Message: message}
}

// TransportError represents socket-level failures (DNS, dial timeouts,
// connection reset, abnormal closure) while talking to the relay.
//
// Use errors.As(err, &TransportError{}) to distinguish transport failures
// from canonical *Error values.
type TransportError struct {
	Op  string
	URL string
	Err error
}

func (e *TransportError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Op != "" && e.URL != "":
		return fmt.Sprintf("transport error during %s %s: %v", e.Op, redactURLUserInfo(e.URL), e.Err)
	case e.Op != "":
		return fmt.Sprintf("transport error during %s: %v", e.Op, e.Err)
	default:
		return fmt.Sprintf("transport error: %v", e.Err)
	}
}

func (e *TransportError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

func redactURLUserInfo(raw string) string {
	if raw == "" {
		return raw
	}
	parsed, err := url.Parse(raw)
	if err != nil || parsed == nil {
		return raw
	}
	parsed.User = nil
	return parsed.String()
}
