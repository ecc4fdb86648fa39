package observe

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"io"
	"strings"

	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate"
)

// Event types.
const (
	EventLogin        = "login"
	EventLogout       = "logout"
	EventTokenRefresh = "token_refresh"
	EventUnauthorized = "unauthorized_attempt"
	EventMFARequired  = "mfa_required"
	EventRoleCheck    = "role_check"
)

// JSONLines returns hooks writing one JSON line per event to w.
func JSONLines(w io.Writer) aethergate.Hooks {
	return Hooks(NewJSONWriterSink(w))
}

// Logger returns hooks logging every event through l.
func Logger(l *zap.Logger) aethergate.Hooks {
	return Hooks(NewLoggerSink(l))
}

// Hooks returns a hook set that converts every callback into an [Event] for
// sink.
func Hooks(sink Sink) aethergate.Hooks {
	if sink == nil {
		sink = NoOpSink{}
	}
	return aethergate.Hooks{
		OnLogin: func(ctx context.Context, hc aethergate.LoginHookContext) error {
			sink.Emit(ctx, fromHookContext(EventLogin, hc.HookContext, true))
			return nil
		},
		OnLogout: func(ctx context.Context, hc aethergate.LogoutHookContext) error {
			sink.Emit(ctx, fromHookContext(EventLogout, hc.HookContext, true))
			return nil
		},
		OnTokenRefresh: func(ctx context.Context, hc aethergate.TokenRefreshHookContext) error {
			ev := fromHookContext(EventTokenRefresh, hc.HookContext, true)
			ev.TokenFingerprint = Fingerprint(hc.NewToken)
			ev.Metadata = map[string]string{"previous_fp": Fingerprint(hc.OldToken)}
			sink.Emit(ctx, ev)
			return nil
		},
		OnUnauthorizedAttempt: func(ctx context.Context, hc aethergate.HookContext, info aethergate.UnauthorizedInfo) error {
			ev := fromHookContext(EventUnauthorized, hc, false)
			ev.Timestamp = info.Timestamp
			ev.IP = info.IP
			ev.UserAgent = info.UserAgent
			ev.Path = info.Path
			ev.Reason = info.Reason
			ev.TokenFingerprint = Fingerprint(info.Token)
			if info.AttemptedRole != "" {
				ev.Metadata = map[string]string{"attempted_role": info.AttemptedRole}
			}
			sink.Emit(ctx, ev)
			return nil
		},
		OnMFARequired: func(ctx context.Context, hc aethergate.MFARequiredHookContext) error {
			ev := fromHookContext(EventMFARequired, hc.HookContext, false)
			ev.Metadata = map[string]string{"method": string(hc.Method)}
			sink.Emit(ctx, ev)
			return nil
		},
		OnRoleCheck: func(ctx context.Context, hc aethergate.RoleCheckHookContext) error {
			ev := fromHookContext(EventRoleCheck, hc.HookContext, hc.HasRole)
			ev.Metadata = map[string]string{"required_roles": strings.Join(hc.RequiredRoles, ",")}
			sink.Emit(ctx, ev)
			return nil
		},
	}
}

// Chain fans every callback out to each hook set in order. All sets run even
// when one fails; their errors are joined.
func Chain(sets ...aethergate.Hooks) aethergate.Hooks {
	return aethergate.Hooks{
		OnLogin: func(ctx context.Context, hc aethergate.LoginHookContext) error {
			var errs []error
			for _, h := range sets {
				if h.OnLogin != nil {
					errs = append(errs, h.OnLogin(ctx, hc))
				}
			}
			return errors.Join(errs...)
		},
		OnLogout: func(ctx context.Context, hc aethergate.LogoutHookContext) error {
			var errs []error
			for _, h := range sets {
				if h.OnLogout != nil {
					errs = append(errs, h.OnLogout(ctx, hc))
				}
			}
			return errors.Join(errs...)
		},
		OnTokenRefresh: func(ctx context.Context, hc aethergate.TokenRefreshHookContext) error {
			var errs []error
			for _, h := range sets {
				if h.OnTokenRefresh != nil {
					errs = append(errs, h.OnTokenRefresh(ctx, hc))
				}
			}
			return errors.Join(errs...)
		},
		OnUnauthorizedAttempt: func(ctx context.Context, hc aethergate.HookContext, info aethergate.UnauthorizedInfo) error {
			var errs []error
			for _, h := range sets {
				if h.OnUnauthorizedAttempt != nil {
					errs = append(errs, h.OnUnauthorizedAttempt(ctx, hc, info))
				}
			}
			return errors.Join(errs...)
		},
		OnMFARequired: func(ctx context.Context, hc aethergate.MFARequiredHookContext) error {
			var errs []error
			for _, h := range sets {
				if h.OnMFARequired != nil {
					errs = append(errs, h.OnMFARequired(ctx, hc))
				}
			}
			return errors.Join(errs...)
		},
		OnRoleCheck: func(ctx context.Context, hc aethergate.RoleCheckHookContext) error {
			var errs []error
			for _, h := range sets {
				if h.OnRoleCheck != nil {
					errs = append(errs, h.OnRoleCheck(ctx, hc))
				}
			}
			return errors.Join(errs...)
		},
	}
}

// Fingerprint returns the first 8 bytes of the token's SHA-256 as hex, or ""
// for an empty token.
func Fingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:8])
}

func fromHookContext(eventType string, hc aethergate.HookContext, success bool) Event {
	ev := Event{
		Timestamp:        hc.Timestamp,
		EventType:        eventType,
		RequestID:        hc.RequestID,
		IP:               hc.IP,
		UserAgent:        hc.UserAgent,
		Path:             hc.Path,
		Success:          success,
		TokenFingerprint: Fingerprint(hc.Token),
	}
	if hc.User != nil {
		ev.UserID = hc.User.ID
		ev.SessionID = hc.User.SessionID
		ev.Context = string(hc.User.Context)
	}
	return ev
}
