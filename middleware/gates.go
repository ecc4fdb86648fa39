package middleware

import (
	"fmt"
	"net/http"
	"slices"

	"github.com/skygenesisenterprise/aethergate"
)

// RequireRoles admits an authenticated principal holding at least one of
// roles. The role-check hook fires for every decision.
func RequireRoles(a Authority, roles ...string) func(http.Handler) http.Handler {
	roles = slices.Clone(roles)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principal(a, w, r)
			if !ok {
				return
			}
			if !authorize(a, w, r, p, roles) {
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireMFA rejects principals whose context falls under the MFA policy but
// who have not verified a second factor.
func RequireMFA(a Authority) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principal(a, w, r)
			if !ok {
				return
			}
			if a.RequiresMFA(p.User.Context) && !p.User.MFAVerified {
				hc := a.NewHookContext(requestMeta(r))
				hc.User = p.User
				hc.Token = p.Token
				a.TriggerMFARequired(r.Context(), aethergate.MFARequiredHookContext{
					HookContext: hc,
					Method:      aethergate.MFAMethodTOTP,
				})
				writeError(w, http.StatusForbidden, "MFA Required", "Multi-factor authentication required", "MFA_REQUIRED")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireContext admits principals whose context classifier equals want.
func RequireContext(a Authority, want aethergate.ContextType) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := principal(a, w, r)
			if !ok {
				return
			}
			if p.User.Context != want {
				unauthorized(a, r, aethergate.ReasonWrongContext, p.Token, "")
				writeError(w, http.StatusForbidden, "Forbidden", fmt.Sprintf("This endpoint requires %s context", want), "")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
