package aethergate

import (
	"maps"
	"slices"
	"time"
)

// ContextType classifies the surface a caller authenticated from. It selects
// which MFA and authorization policy applies.
type ContextType string

const (
	ContextUser    ContextType = "user"
	ContextAdmin   ContextType = "admin"
	ContextCLI     ContextType = "cli"
	ContextDevice  ContextType = "device"
	ContextConsole ContextType = "console"
)

// Valid reports whether c is one of the known classifiers.
func (c ContextType) Valid() bool {
	switch c {
	case ContextUser, ContextAdmin, ContextCLI, ContextDevice, ContextConsole:
		return true
	default:
		return false
	}
}

// UserContext is the validated identity of a caller as returned by the
// identity service. Values handed out by [Server] are copies; mutating them
// never affects cached state.
type UserContext struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	Name        string         `json:"name"`
	Roles       []string       `json:"roles"`
	Permissions []string       `json:"permissions"`
	Context     ContextType    `json:"context"`
	MFAVerified bool           `json:"mfaVerified"`
	SessionID   string         `json:"sessionId,omitempty"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Clone returns a copy of u that shares no slices or maps with it.
func (u UserContext) Clone() UserContext {
	u.Roles = slices.Clone(u.Roles)
	u.Permissions = slices.Clone(u.Permissions)
	u.Metadata = maps.Clone(u.Metadata)
	return u
}

// TokenResponse is the token pair returned by login, refresh and generate.
type TokenResponse struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken"`
	ExpiresIn    int    `json:"expiresIn"`
	TokenType    string `json:"tokenType"`
}

// LoginCredentials is the input of [Server.Login]. TOTPCode and Context are
// optional.
type LoginCredentials struct {
	Email    string
	Password string
	TOTPCode string
	Context  ContextType
}

// GenerateTokenInput is the input of [Server.GenerateToken]. Zero values of
// Roles, Permissions, Context and ExpiresIn select the defaults
// (["user"], [], "user", 3600 seconds).
type GenerateTokenInput struct {
	UserID      string
	Email       string
	Name        string
	Roles       []string
	Permissions []string
	Context     ContextType
	ExpiresIn   int
	Metadata    map[string]any
}

// ValidationResult is the outcome of [Server.ValidateToken]. Callers branch on
// Valid; validation failures are never returned as errors.
type ValidationResult struct {
	Valid     bool
	User      *UserContext
	ExpiresAt time.Time
	// Err carries the cause of an invalid result for errors.Is matching.
	Err error
	// Error is a human-readable failure message, empty when Valid.
	Error string
}

// RequestMeta describes the inbound request on whose behalf a helper runs. It
// only feeds hook contexts.
type RequestMeta struct {
	IP        string
	UserAgent string
	Path      string
}
