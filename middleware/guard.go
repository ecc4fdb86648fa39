package middleware

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"slices"
	"strings"

	"github.com/skygenesisenterprise/aethergate"
)

// Authority is the part of *aethergate.Server the gates depend on.
type Authority interface {
	Config() aethergate.ValidatedConfig
	ExtractTokenFromHeader(value string) (string, bool)
	ValidateToken(ctx context.Context, token string) aethergate.ValidationResult
	HasRole(user *aethergate.UserContext, roles []string) bool
	RequiresMFA(c aethergate.ContextType) bool
	NewHookContext(meta aethergate.RequestMeta) aethergate.HookContext
	TriggerUnauthorizedAttempt(ctx context.Context, hc aethergate.HookContext, info aethergate.UnauthorizedInfo)
	TriggerRoleCheck(ctx context.Context, hc aethergate.RoleCheckHookContext)
	TriggerMFARequired(ctx context.Context, hc aethergate.MFARequiredHookContext)
}

const unknown = "unknown"

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Code    string `json:"code,omitempty"`
}

// Authenticate rejects requests without a valid token and attaches the
// resolved principal to the request context.
func Authenticate(a Authority) func(http.Handler) http.Handler {
	return Protect(a)
}

// Protect authenticates the request and, when roles are given, requires at
// least one of them in the same pass.
func Protect(a Authority, roles ...string) func(http.Handler) http.Handler {
	roles = slices.Clone(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if a == nil {
				writeError(w, http.StatusUnauthorized, "Unauthorized", aethergate.ReasonInvalidToken, "")
				return
			}

			p, ok := authenticate(a, w, r)
			if !ok {
				return
			}
			if len(roles) > 0 && !authorize(a, w, r, p, roles) {
				return
			}

			next.ServeHTTP(w, r.WithContext(aethergate.WithPrincipal(r.Context(), p)))
		})
	}
}

func authenticate(a Authority, w http.ResponseWriter, r *http.Request) (*aethergate.Principal, bool) {
	token, ok := extractToken(a, r)
	if !ok {
		unauthorized(a, r, aethergate.ReasonNoToken, "", "")
		writeError(w, http.StatusUnauthorized, "Unauthorized", aethergate.ReasonNoToken, "")
		return nil, false
	}

	res := a.ValidateToken(r.Context(), token)
	if !res.Valid || res.User == nil {
		unauthorized(a, r, aethergate.ReasonInvalidToken, token, "")
		writeError(w, http.StatusUnauthorized, "Unauthorized", aethergate.ReasonInvalidToken, "")
		return nil, false
	}

	return &aethergate.Principal{User: res.User, Token: token, Context: res.User.Context}, true
}

func authorize(a Authority, w http.ResponseWriter, r *http.Request, p *aethergate.Principal, roles []string) bool {
	has := a.HasRole(p.User, roles)

	hc := a.NewHookContext(requestMeta(r))
	hc.User = p.User
	hc.Token = p.Token
	a.TriggerRoleCheck(r.Context(), aethergate.RoleCheckHookContext{
		HookContext:   hc,
		RequiredRoles: slices.Clone(roles),
		HasRole:       has,
	})
	if has {
		return true
	}

	a.TriggerUnauthorizedAttempt(r.Context(), hc, aethergate.UnauthorizedInfo{
		IP:            hc.IP,
		UserAgent:     hc.UserAgent,
		Timestamp:     hc.Timestamp,
		Reason:        aethergate.ReasonInsufficientRole,
		Path:          hc.Path,
		AttemptedRole: strings.Join(roles, ", "),
		Token:         p.Token,
	})
	writeError(w, http.StatusForbidden, "Forbidden", "Insufficient permissions", "")
	return false
}

// extractToken reads the configured header first, then the configured
// cookie. A multi-valued header contributes only its first value. A present
// but malformed header rejects the request without consulting the cookie.
func extractToken(a Authority, r *http.Request) (string, bool) {
	cfg := a.Config()
	if v := r.Header.Get(cfg.TokenHeader()); v != "" {
		return a.ExtractTokenFromHeader(v)
	}
	if c, err := r.Cookie(cfg.CookieName()); err == nil && c.Value != "" {
		return c.Value, true
	}
	return "", false
}

// principal returns the principal a previous gate attached, rejecting the
// request with 401 when there is none. A nil Authority rejects everything.
func principal(a Authority, w http.ResponseWriter, r *http.Request) (*aethergate.Principal, bool) {
	if a == nil {
		writeError(w, http.StatusUnauthorized, "Unauthorized", aethergate.ReasonNotAuthenticated, "")
		return nil, false
	}
	p, ok := aethergate.PrincipalFromContext(r.Context())
	if !ok {
		unauthorized(a, r, aethergate.ReasonNotAuthenticated, "", "")
		writeError(w, http.StatusUnauthorized, "Unauthorized", aethergate.ReasonNotAuthenticated, "")
		return nil, false
	}
	return p, true
}

func unauthorized(a Authority, r *http.Request, reason, token, attemptedRole string) {
	hc := a.NewHookContext(requestMeta(r))
	a.TriggerUnauthorizedAttempt(r.Context(), hc, aethergate.UnauthorizedInfo{
		IP:            hc.IP,
		UserAgent:     hc.UserAgent,
		Timestamp:     hc.Timestamp,
		Reason:        reason,
		Path:          hc.Path,
		AttemptedRole: attemptedRole,
		Token:         token,
	})
}

func requestMeta(r *http.Request) aethergate.RequestMeta {
	ua := r.UserAgent()
	if ua == "" {
		ua = unknown
	}
	path := ""
	if r.URL != nil {
		path = r.URL.Path
	}
	return aethergate.RequestMeta{IP: clientIP(r), UserAgent: ua, Path: path}
}

func clientIP(r *http.Request) string {
	if r.RemoteAddr == "" {
		return unknown
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil || host == "" {
		return r.RemoteAddr
	}
	return host
}

func writeError(w http.ResponseWriter, status int, title, message, code string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: title, Message: message, Code: code})
}
