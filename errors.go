package aethergate

import (
	"errors"

	"github.com/skygenesisenterprise/aethergate/transport"
)

var (
	// ErrServerNotReady is returned by methods called on a nil or closed Server.
	ErrServerNotReady = errors.New("server not initialized")
	// ErrConfigInvalid wraps every configuration validation failure.
	ErrConfigInvalid = errors.New("invalid configuration")
	// ErrBuilderUsed is returned when Build is called twice on one Builder.
	ErrBuilderUsed = errors.New("builder already used")
	// ErrSystemKeyRequired is returned by privileged calls when no system key is configured.
	ErrSystemKeyRequired = errors.New("system key required")
	ErrTokenMissing      = errors.New("token missing")
	ErrTokenInvalid      = errors.New("invalid token")
	// ErrTokenExpired marks a JWT whose exp claim has passed; no remote call is made.
	ErrTokenExpired   = errors.New("token expired")
	ErrContextInvalid = errors.New("invalid context")
)

// IdentityError is the typed error returned for failed identity service calls.
type IdentityError = transport.Error

// ErrorCode classifies an [IdentityError].
type ErrorCode = transport.Code

const (
	CodeAuthenticationFailed = transport.CodeAuthentication
	CodeAuthorizationFailed  = transport.CodeAuthorization
	CodeSessionExpired       = transport.CodeSessionExpired
	CodeTOTPRequired         = transport.CodeTOTPRequired
	CodeDeviceNotAvailable   = transport.CodeDeviceNotAvailable
	CodeInvalidInput         = transport.CodeInvalidInput
	CodeNetworkError         = transport.CodeNetwork
	CodeServerError          = transport.CodeServer
)

// ErrorCodeOf returns the code of the IdentityError in err's chain.
func ErrorCodeOf(err error) (ErrorCode, bool) {
	var ie *IdentityError
	if !errors.As(err, &ie) {
		return "", false
	}
	return ie.Code, true
}

func errorMessage(err error) string {
	var ie *IdentityError
	if errors.As(err, &ie) {
		return ie.Message
	}
	if err == nil {
		return ""
	}
	return err.Error()
}
