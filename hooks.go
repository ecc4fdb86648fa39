package aethergate

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// HookContext carries the request-scoped facts every hook receives. Values
// are built fresh per event and never retained by the Server.
type HookContext struct {
	User      *UserContext
	Token     string
	IP        string
	UserAgent string
	Timestamp time.Time
	RequestID string
	Path      string
	Metadata  map[string]any
}

type LoginHookContext struct {
	HookContext
}

type LogoutHookContext struct {
	HookContext
}

type TokenRefreshHookContext struct {
	HookContext
	OldToken string
	NewToken string
}

// MFAMethod names the second factor a user is asked for.
type MFAMethod string

const (
	MFAMethodTOTP  MFAMethod = "totp"
	MFAMethodEmail MFAMethod = "email"
	MFAMethodSMS   MFAMethod = "sms"
)

type MFARequiredHookContext struct {
	HookContext
	Method MFAMethod
}

// RoleCheckHookContext records one role gate decision, allowed or not.
type RoleCheckHookContext struct {
	HookContext
	RequiredRoles []string
	HasRole       bool
}

// UnauthorizedInfo describes a rejected request. AttemptedRole lists the
// required roles joined with ", " when the rejection came from a role gate.
type UnauthorizedInfo struct {
	IP            string
	UserAgent     string
	Timestamp     time.Time
	Reason        string
	Path          string
	AttemptedRole string
	Token         string
}

// Rejection reasons reported in [UnauthorizedInfo.Reason].
const (
	ReasonNoToken          = "No token provided"
	ReasonInvalidToken     = "Invalid token"
	ReasonNotAuthenticated = "User not authenticated"
	ReasonInsufficientRole = "Insufficient role"
	ReasonWrongContext     = "Wrong context"
)

// Hooks is the set of optional observer callbacks. Callbacks run on the
// dispatcher goroutine, never on the request path; returned errors and panics
// are logged and discarded.
type Hooks struct {
	OnLogin               func(ctx context.Context, hc LoginHookContext) error
	OnLogout              func(ctx context.Context, hc LogoutHookContext) error
	OnTokenRefresh        func(ctx context.Context, hc TokenRefreshHookContext) error
	OnUnauthorizedAttempt func(ctx context.Context, hc HookContext, info UnauthorizedInfo) error
	OnMFARequired         func(ctx context.Context, hc MFARequiredHookContext) error
	OnRoleCheck           func(ctx context.Context, hc RoleCheckHookContext) error
}

// NewHookContext returns a base context for meta stamped with a fresh request
// id and the current time.
func (s *Server) NewHookContext(meta RequestMeta) HookContext {
	now := time.Now()
	if s != nil && s.now != nil {
		now = s.now()
	}
	return HookContext{
		IP:        meta.IP,
		UserAgent: meta.UserAgent,
		Timestamp: now,
		RequestID: uuid.NewString(),
		Path:      meta.Path,
	}
}

// RegisterHooks replaces the whole hook set. Events already queued keep the
// set that was active when they were emitted.
func (s *Server) RegisterHooks(h Hooks) {
	if s == nil {
		return
	}
	s.hooks.Store(&h)
}

// TriggerUnauthorizedAttempt queues the unauthorized-attempt hook.
func (s *Server) TriggerUnauthorizedAttempt(ctx context.Context, hc HookContext, info UnauthorizedInfo) {
	if s == nil {
		return
	}
	s.metrics.Inc(MetricUnauthorizedAttempt)
	h := s.hooks.Load()
	if h == nil || h.OnUnauthorizedAttempt == nil {
		return
	}
	fn := h.OnUnauthorizedAttempt
	s.dispatcher.Emit(ctx, "unauthorized_attempt", func(ctx context.Context) error {
		return fn(ctx, hc, info)
	})
}

// TriggerRoleCheck queues the role-check hook.
func (s *Server) TriggerRoleCheck(ctx context.Context, hc RoleCheckHookContext) {
	if s == nil {
		return
	}
	if !hc.HasRole {
		s.metrics.Inc(MetricRoleCheckDenied)
	}
	h := s.hooks.Load()
	if h == nil || h.OnRoleCheck == nil {
		return
	}
	fn := h.OnRoleCheck
	s.dispatcher.Emit(ctx, "role_check", func(ctx context.Context) error {
		return fn(ctx, hc)
	})
}

// TriggerMFARequired queues the MFA-required hook.
func (s *Server) TriggerMFARequired(ctx context.Context, hc MFARequiredHookContext) {
	if s == nil {
		return
	}
	s.metrics.Inc(MetricMFARequired)
	h := s.hooks.Load()
	if h == nil || h.OnMFARequired == nil {
		return
	}
	fn := h.OnMFARequired
	s.dispatcher.Emit(ctx, "mfa_required", func(ctx context.Context) error {
		return fn(ctx, hc)
	})
}

func (s *Server) triggerLogin(ctx context.Context, hc LoginHookContext) {
	h := s.hooks.Load()
	if h == nil || h.OnLogin == nil {
		return
	}
	fn := h.OnLogin
	s.dispatcher.Emit(ctx, "login", func(ctx context.Context) error {
		return fn(ctx, hc)
	})
}

func (s *Server) triggerLogout(ctx context.Context, hc LogoutHookContext) {
	h := s.hooks.Load()
	if h == nil || h.OnLogout == nil {
		return
	}
	fn := h.OnLogout
	s.dispatcher.Emit(ctx, "logout", func(ctx context.Context) error {
		return fn(ctx, hc)
	})
}

func (s *Server) triggerTokenRefresh(ctx context.Context, hc TokenRefreshHookContext) {
	h := s.hooks.Load()
	if h == nil || h.OnTokenRefresh == nil {
		return
	}
	fn := h.OnTokenRefresh
	s.dispatcher.Emit(ctx, "token_refresh", func(ctx context.Context) error {
		return fn(ctx, hc)
	})
}
