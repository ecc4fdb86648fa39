package transport

import (
	"errors"
	"fmt"
	"net/http"
)

// Code classifies a failure reported by, or on the way to, the identity service.
type Code string

const (
	CodeAuthentication     Code = "AUTHENTICATION_FAILED"
	CodeAuthorization      Code = "AUTHORIZATION_FAILED"
	CodeSessionExpired     Code = "SESSION_EXPIRED"
	CodeTOTPRequired       Code = "TOTP_REQUIRED"
	CodeDeviceNotAvailable Code = "DEVICE_NOT_AVAILABLE"
	CodeInvalidInput       Code = "INVALID_INPUT"
	CodeNetwork            Code = "NETWORK_ERROR"
	CodeServer             Code = "SERVER_ERROR"
)

// Error is the typed failure returned by [Client]. Two errors match under
// errors.Is when their codes are equal, so the sentinel values below can be
// used as classifiers.
type Error struct {
	Code      Code
	Message   string
	RequestID string
	Status    int

	cause error
}

var (
	ErrAuthentication     = &Error{Code: CodeAuthentication, Message: "Authentication failed"}
	ErrAuthorization      = &Error{Code: CodeAuthorization, Message: "Authorization failed"}
	ErrSessionExpired     = &Error{Code: CodeSessionExpired, Message: "Session expired"}
	ErrTOTPRequired       = &Error{Code: CodeTOTPRequired, Message: "TOTP verification required"}
	ErrDeviceNotAvailable = &Error{Code: CodeDeviceNotAvailable, Message: "Device not available"}
	ErrInvalidInput       = &Error{Code: CodeInvalidInput, Message: "An error occurred"}
	ErrNetwork            = &Error{Code: CodeNetwork, Message: "Network error occurred"}
	ErrServer             = &Error{Code: CodeServer, Message: "Server error occurred"}
)

func (e *Error) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("%s (code: %s, request_id: %s)", e.Message, e.Code, e.RequestID)
	}
	return fmt.Sprintf("%s (code: %s)", e.Message, e.Code)
}

// Is reports whether target is an *Error carrying the same code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Code == e.Code
}

func (e *Error) Unwrap() error {
	return e.cause
}

// Retryable reports whether the failure is transient: a network error or a
// 5xx answer. A SERVER_ERROR carrying a 2xx status means the call was accepted
// and must not be repeated.
func (e *Error) Retryable() bool {
	if e == nil {
		return false
	}
	switch e.Code {
	case CodeNetwork:
		return true
	case CodeServer:
		return e.Status == 0 || e.Status >= http.StatusInternalServerError
	}
	return false
}

// IsRetryable reports whether err is a transport error worth retrying.
func IsRetryable(err error) bool {
	var te *Error
	return errors.As(err, &te) && te.Retryable()
}

func newError(code Code, message, fallback, requestID string, status int) *Error {
	if message == "" {
		message = fallback
	}
	return &Error{
		Code:      code,
		Message:   message,
		RequestID: requestID,
		Status:    status,
	}
}

// NewNetworkError wraps cause as a NETWORK_ERROR.
func NewNetworkError(message string, cause error) *Error {
	e := newError(CodeNetwork, message, ErrNetwork.Message, "", 0)
	e.cause = cause
	return e
}

// FromResponse maps a non-2xx status and its decoded JSON payload to an *Error.
// Payload codes take precedence over the bare status.
func FromResponse(status int, payload map[string]any, requestID string) *Error {
	message := stringField(payload, "message")
	code := stringField(payload, "code")
	if requestID == "" {
		requestID = stringField(payload, "requestId")
	}
	if requestID == "" {
		if nested, ok := payload["error"].(map[string]any); ok {
			requestID = stringField(nested, "requestId")
		}
	}

	switch {
	case status == http.StatusUnauthorized && code == string(CodeSessionExpired):
		return newError(CodeSessionExpired, message, ErrSessionExpired.Message, requestID, status)
	case code == string(CodeTOTPRequired),
		status == http.StatusUnauthorized && boolField(payload, "requiresTOTP"):
		return newError(CodeTOTPRequired, message, ErrTOTPRequired.Message, requestID, status)
	case code == string(CodeDeviceNotAvailable):
		return newError(CodeDeviceNotAvailable, message, ErrDeviceNotAvailable.Message, requestID, status)
	case status == http.StatusUnauthorized:
		return newError(CodeAuthentication, message, ErrAuthentication.Message, requestID, status)
	case status == http.StatusForbidden:
		return newError(CodeAuthorization, message, ErrAuthorization.Message, requestID, status)
	case status >= http.StatusInternalServerError:
		return newError(CodeServer, message, ErrServer.Message, requestID, status)
	}

	fallbackCode := CodeInvalidInput
	if code != "" {
		fallbackCode = Code(code)
	}
	return newError(fallbackCode, message, ErrInvalidInput.Message, requestID, status)
}

func stringField(m map[string]any, key string) string {
	if m == nil {
		return ""
	}
	s, _ := m[key].(string)
	return s
}

func boolField(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	b, _ := m[key].(bool)
	return b
}
