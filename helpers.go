package aethergate

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate/transport"
)

type loginRequest struct {
	Email    string      `json:"email"`
	Password string      `json:"password"`
	TOTPCode string      `json:"totpCode,omitempty"`
	Context  ContextType `json:"context,omitempty"`
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

type validateRequest struct {
	Token string `json:"token"`
}

type generateRequest struct {
	UserID      string         `json:"userId"`
	Email       string         `json:"email"`
	Name        string         `json:"name,omitempty"`
	Roles       []string       `json:"roles"`
	Permissions []string       `json:"permissions"`
	Context     ContextType    `json:"context"`
	ExpiresIn   int            `json:"expiresIn"`
	Metadata    map[string]any `json:"metadata,omitempty"`
}

// Login exchanges credentials for a token pair. The access token is resolved
// through the normal validation path and the login hook fires when it
// resolves to a user.
func (s *Server) Login(ctx context.Context, creds LoginCredentials, meta RequestMeta) (*TokenResponse, error) {
	if s == nil {
		return nil, ErrServerNotReady
	}
	if creds.Context != "" && !creds.Context.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrContextInvalid, creds.Context)
	}

	var resp TokenResponse
	err := s.client.Post(ctx, EndpointLogin, loginRequest{
		Email:    creds.Email,
		Password: creds.Password,
		TOTPCode: creds.TOTPCode,
		Context:  creds.Context,
	}, transport.UseSystemKey, &resp)
	if err != nil {
		s.metrics.Inc(MetricLoginFailure)
		return nil, err
	}
	s.metrics.Inc(MetricLoginSuccess)

	if user, ok := s.GetUserFromToken(ctx, resp.AccessToken); ok {
		s.triggerLogin(ctx, LoginHookContext{HookContext: s.hookContext(meta, user, resp.AccessToken)})
	}

	return &resp, nil
}

// Logout revokes token remotely on a best-effort basis and always removes it
// from the cache. It never fails for remote reasons, so calling it twice is
// safe.
func (s *Server) Logout(ctx context.Context, token string, meta RequestMeta) error {
	if s == nil {
		return ErrServerNotReady
	}
	if token == "" {
		return nil
	}

	user, resolved := s.GetUserFromToken(ctx, token)

	if err := s.client.Post(ctx, EndpointLogout, nil, transport.Bearer(token), nil); err != nil {
		s.logger.Warn("remote logout failed", zap.Error(err))
	}

	s.invalidate(ctx, token)
	s.metrics.Inc(MetricLogout)

	if resolved {
		s.triggerLogout(ctx, LogoutHookContext{HookContext: s.hookContext(meta, user, token)})
	}
	return nil
}

// RefreshToken exchanges a refresh token for a new pair and fires the refresh
// hook with both token references.
func (s *Server) RefreshToken(ctx context.Context, refreshToken string, meta RequestMeta) (*TokenResponse, error) {
	if s == nil {
		return nil, ErrServerNotReady
	}

	var resp TokenResponse
	err := s.client.Post(ctx, EndpointRefresh, refreshRequest{RefreshToken: refreshToken}, transport.UseSystemKey, &resp)
	if err != nil {
		s.metrics.Inc(MetricRefreshFailure)
		return nil, err
	}
	s.metrics.Inc(MetricRefreshSuccess)

	if user, ok := s.GetUserFromToken(ctx, resp.AccessToken); ok {
		s.triggerTokenRefresh(ctx, TokenRefreshHookContext{
			HookContext: s.hookContext(meta, user, resp.AccessToken),
			OldToken:    refreshToken,
			NewToken:    resp.AccessToken,
		})
	}

	return &resp, nil
}

// ValidateToken resolves token to a user, cache first. It never returns an
// error: failures are reported through [ValidationResult.Valid].
func (s *Server) ValidateToken(ctx context.Context, token string) ValidationResult {
	if s == nil {
		return invalid(ErrServerNotReady)
	}

	start := time.Now()
	defer func() {
		s.metrics.Observe(MetricValidateLatency, time.Since(start))
	}()

	if token == "" {
		return invalid(ErrTokenMissing)
	}

	if entry, ok := s.cache.Get(token); ok {
		s.metrics.Inc(MetricValidateCacheHit)
		return valid(entry.Value, entry.ExpiresAt)
	}
	s.metrics.Inc(MetricValidateCacheMiss)

	if s.shared != nil {
		entry, ok, err := s.shared.Get(ctx, token)
		switch {
		case err != nil:
			s.metrics.Inc(MetricSharedCacheError)
			s.logger.Warn("shared cache lookup failed", zap.Error(err))
		case ok:
			s.metrics.Inc(MetricValidateSharedCacheHit)
			s.cache.Set(token, entry.Value, entry.ValidUntil)
			return valid(entry.Value, entry.ExpiresAt)
		}
	}

	now := s.now()
	exp, hasExp := tokenExpiry(token)
	if hasExp && !now.Before(exp) {
		s.metrics.Inc(MetricValidateExpiredLocal)
		s.metrics.Inc(MetricValidateFailure)
		return invalid(ErrTokenExpired)
	}

	if !s.client.HasSystemKey() {
		s.metrics.Inc(MetricValidateFailure)
		return invalid(ErrSystemKeyRequired)
	}

	var user UserContext
	if err := s.client.Post(ctx, EndpointValidate, validateRequest{Token: token}, transport.UseSystemKey, &user); err != nil {
		s.metrics.Inc(MetricValidateFailure)
		return invalid(err)
	}
	if user.ID == "" {
		s.metrics.Inc(MetricValidateFailure)
		return invalid(ErrTokenInvalid)
	}

	expiresAt := now.Add(s.config.ValidationExpiry())
	if hasExp && exp.Before(expiresAt) {
		expiresAt = exp
	}

	s.cache.Set(token, user, expiresAt)
	if s.shared != nil {
		if err := s.shared.Set(ctx, token, user, expiresAt); err != nil {
			s.metrics.Inc(MetricSharedCacheError)
			s.logger.Warn("shared cache store failed", zap.Error(err))
		}
	}

	s.metrics.Inc(MetricValidateSuccess)
	return valid(user, expiresAt)
}

// GenerateToken mints a token for a user without the credential flow. It
// requires a system key.
func (s *Server) GenerateToken(ctx context.Context, in GenerateTokenInput) (*TokenResponse, error) {
	if s == nil {
		return nil, ErrServerNotReady
	}
	if !s.client.HasSystemKey() {
		return nil, ErrSystemKeyRequired
	}

	req := generateRequest{
		UserID:      in.UserID,
		Email:       in.Email,
		Name:        in.Name,
		Roles:       in.Roles,
		Permissions: in.Permissions,
		Context:     in.Context,
		ExpiresIn:   in.ExpiresIn,
		Metadata:    in.Metadata,
	}
	if req.Roles == nil {
		req.Roles = []string{"user"}
	}
	if req.Permissions == nil {
		req.Permissions = []string{}
	}
	if req.Context == "" {
		req.Context = ContextUser
	}
	if !req.Context.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrContextInvalid, req.Context)
	}
	if req.ExpiresIn <= 0 {
		req.ExpiresIn = 3600
	}

	var resp TokenResponse
	if err := s.client.Post(ctx, EndpointGenerate, req, transport.UseSystemKey, &resp); err != nil {
		s.metrics.Inc(MetricGenerateFailure)
		return nil, err
	}
	s.metrics.Inc(MetricGenerateSuccess)
	return &resp, nil
}

// GetUserFromToken returns the user token resolves to, or false.
func (s *Server) GetUserFromToken(ctx context.Context, token string) (*UserContext, bool) {
	res := s.ValidateToken(ctx, token)
	if !res.Valid || res.User == nil {
		return nil, false
	}
	return res.User, true
}

// HasRole reports whether user holds at least one of roles. An empty list
// grants nothing.
func (s *Server) HasRole(user *UserContext, roles []string) bool {
	return HasRole(user, roles)
}

// HasPermission reports whether user holds every one of perms.
func (s *Server) HasPermission(user *UserContext, perms []string) bool {
	return HasPermission(user, perms)
}

// HasRole is the OR predicate behind role gates.
func HasRole(user *UserContext, roles []string) bool {
	if user == nil {
		return false
	}
	for _, r := range roles {
		if slices.Contains(user.Roles, r) {
			return true
		}
	}
	return false
}

// HasPermission is the AND predicate: permissions accumulate. An empty list is
// satisfied by any user.
func HasPermission(user *UserContext, perms []string) bool {
	if user == nil {
		return false
	}
	for _, p := range perms {
		if !slices.Contains(user.Permissions, p) {
			return false
		}
	}
	return true
}

// RequiresMFA resolves the configured MFA policy for c.
func (s *Server) RequiresMFA(c ContextType) bool {
	if s == nil {
		return false
	}
	return s.config.RequiresMFA(c)
}

// ExtractTokenFromHeader parses "<prefix> <token>". The prefix comparison is
// case-insensitive; anything but exactly two space-separated parts is
// rejected.
func (s *Server) ExtractTokenFromHeader(value string) (string, bool) {
	if s == nil || value == "" {
		return "", false
	}
	parts := strings.Split(value, " ")
	if len(parts) != 2 {
		return "", false
	}
	if !strings.EqualFold(parts[0], s.config.TokenPrefix()) || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

func (s *Server) invalidate(ctx context.Context, token string) {
	s.cache.Delete(token)
	if s.shared == nil {
		return
	}
	if err := s.shared.Delete(ctx, token); err != nil {
		s.metrics.Inc(MetricSharedCacheError)
		s.logger.Warn("shared cache delete failed", zap.Error(err))
	}
}

func valid(user UserContext, expiresAt time.Time) ValidationResult {
	u := user.Clone()
	return ValidationResult{Valid: true, User: &u, ExpiresAt: expiresAt}
}

func invalid(err error) ValidationResult {
	return ValidationResult{Err: err, Error: errorMessage(err)}
}
