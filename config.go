package aethergate

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

const (
	DefaultTokenHeader      = "authorization"
	DefaultCookieName       = "aether_token"
	DefaultTokenPrefix      = "bearer"
	DefaultContext          = ContextUser
	DefaultCacheTTL         = 300 * time.Second
	DefaultCacheSize        = 1000
	DefaultRateLimitWindow  = 15 * time.Minute
	DefaultRateLimitMax     = 100
	DefaultMaxRetries       = 3
	DefaultRetryDelay       = time.Second
	DefaultValidationExpiry = time.Hour
	DefaultHookBufferSize   = 256
	DefaultSharedPrefix     = "ag:tok:"
)

// Config defines a public type used by aethergate APIs.
//
// Zero-valued fields select the documented defaults during [NormalizeConfig].
type Config struct {
	// BaseURL of the identity service. Required.
	BaseURL string
	// ClientID sent as X-Client-ID on every call. Required.
	ClientID string
	// SystemKey authenticates privileged calls (validate, generate).
	SystemKey string

	DefaultContext ContextType
	MFARequired    MFAPolicy

	TokenHeader string
	CookieName  string
	TokenPrefix string

	Cache     CacheConfig
	RateLimit RateLimitConfig
	Retry     RetryConfig

	HookDispatch HookDispatchConfig

	// ValidationExpiry is the lifetime assumed for a token after a successful
	// remote validation, since the validate endpoint reports none. A readable
	// JWT exp claim shortens it.
	ValidationExpiry time.Duration

	SharedCache SharedCacheConfig
	Metrics     MetricsConfig
}

// MFAPolicy selects the contexts in which a verified second factor is
// mandatory: every context when All is set, otherwise those listed.
type MFAPolicy struct {
	All      bool
	Contexts []ContextType
}

// MFAAlways requires MFA in every context.
func MFAAlways() MFAPolicy {
	return MFAPolicy{All: true}
}

// MFAFor requires MFA in the listed contexts only.
func MFAFor(contexts ...ContextType) MFAPolicy {
	return MFAPolicy{Contexts: slices.Clone(contexts)}
}

// Applies reports whether the policy demands MFA for c.
func (p MFAPolicy) Applies(c ContextType) bool {
	if p.All {
		return true
	}
	return slices.Contains(p.Contexts, c)
}

// CacheConfig controls the in-process token cache.
type CacheConfig struct {
	Disabled bool
	TTL      time.Duration
	MaxSize  int
}

// RateLimitConfig is carried for the host. aethergate never enforces it
// itself; see the ratelimit package.
type RateLimitConfig struct {
	Window      time.Duration
	MaxAttempts int
}

// RetryConfig controls transport retries. A negative MaxRetries disables
// retrying.
type RetryConfig struct {
	MaxRetries int
	RetryDelay time.Duration
}

// HookDispatchConfig sizes the asynchronous hook queue.
type HookDispatchConfig struct {
	BufferSize int
	// BlockIfFull makes a request wait for queue space, up to the end of its
	// context, instead of dropping the event.
	BlockIfFull bool
}

// SharedCacheConfig enables the Redis-backed second cache tier. It requires a
// client supplied through [Builder.WithSharedCache].
type SharedCacheConfig struct {
	Enabled bool
	Prefix  string
}

// MetricsConfig defines a public type used by aethergate APIs.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns a Config with every default filled in. BaseURL and
// ClientID are left empty.
func DefaultConfig() Config {
	return Config{
		DefaultContext: DefaultContext,
		TokenHeader:    DefaultTokenHeader,
		CookieName:     DefaultCookieName,
		TokenPrefix:    DefaultTokenPrefix,
		Cache: CacheConfig{
			TTL:     DefaultCacheTTL,
			MaxSize: DefaultCacheSize,
		},
		RateLimit: RateLimitConfig{
			Window:      DefaultRateLimitWindow,
			MaxAttempts: DefaultRateLimitMax,
		},
		Retry: RetryConfig{
			MaxRetries: DefaultMaxRetries,
			RetryDelay: DefaultRetryDelay,
		},
		HookDispatch: HookDispatchConfig{
			BufferSize: DefaultHookBufferSize,
		},
		ValidationExpiry: DefaultValidationExpiry,
		SharedCache: SharedCacheConfig{
			Prefix: DefaultSharedPrefix,
		},
	}
}

// ValidatedConfig is the normalized configuration a [Server] runs with. It is
// produced once by [NormalizeConfig] and exposes read-only accessors.
type ValidatedConfig struct {
	cfg Config
}

// NormalizeConfig validates cfg and fills defaults. Errors wrap
// [ErrConfigInvalid].
func NormalizeConfig(cfg Config) (ValidatedConfig, error) {
	cfg = cloneConfig(cfg)

	cfg.BaseURL = strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if cfg.BaseURL == "" {
		return ValidatedConfig{}, configError("BaseURL is required")
	}
	cfg.ClientID = strings.TrimSpace(cfg.ClientID)
	if cfg.ClientID == "" {
		return ValidatedConfig{}, configError("ClientID is required")
	}

	if cfg.DefaultContext == "" {
		cfg.DefaultContext = DefaultContext
	}
	if !cfg.DefaultContext.Valid() {
		return ValidatedConfig{}, configError("unknown DefaultContext %q", cfg.DefaultContext)
	}
	for _, c := range cfg.MFARequired.Contexts {
		if !c.Valid() {
			return ValidatedConfig{}, configError("unknown MFA context %q", c)
		}
	}

	cfg.TokenHeader = lowerOr(cfg.TokenHeader, DefaultTokenHeader)
	cfg.TokenPrefix = lowerOr(cfg.TokenPrefix, DefaultTokenPrefix)
	if strings.ContainsAny(cfg.TokenPrefix, " \t") {
		return ValidatedConfig{}, configError("TokenPrefix must be a single word")
	}
	cfg.CookieName = strings.TrimSpace(cfg.CookieName)
	if cfg.CookieName == "" {
		cfg.CookieName = DefaultCookieName
	}

	if cfg.Cache.TTL < 0 {
		return ValidatedConfig{}, configError("Cache TTL must be >= 0")
	}
	if cfg.Cache.TTL == 0 {
		cfg.Cache.TTL = DefaultCacheTTL
	}
	if cfg.Cache.MaxSize < 0 {
		return ValidatedConfig{}, configError("Cache MaxSize must be >= 0")
	}
	if cfg.Cache.MaxSize == 0 {
		cfg.Cache.MaxSize = DefaultCacheSize
	}

	if cfg.RateLimit.Window < 0 || cfg.RateLimit.MaxAttempts < 0 {
		return ValidatedConfig{}, configError("RateLimit values must be >= 0")
	}
	if cfg.RateLimit.Window == 0 {
		cfg.RateLimit.Window = DefaultRateLimitWindow
	}
	if cfg.RateLimit.MaxAttempts == 0 {
		cfg.RateLimit.MaxAttempts = DefaultRateLimitMax
	}

	if cfg.Retry.MaxRetries == 0 {
		cfg.Retry.MaxRetries = DefaultMaxRetries
	}
	if cfg.Retry.MaxRetries < 0 {
		cfg.Retry.MaxRetries = -1
	}
	if cfg.Retry.RetryDelay < 0 {
		return ValidatedConfig{}, configError("Retry RetryDelay must be >= 0")
	}
	if cfg.Retry.RetryDelay == 0 {
		cfg.Retry.RetryDelay = DefaultRetryDelay
	}

	if cfg.HookDispatch.BufferSize < 0 {
		return ValidatedConfig{}, configError("HookDispatch BufferSize must be >= 0")
	}
	if cfg.HookDispatch.BufferSize == 0 {
		cfg.HookDispatch.BufferSize = DefaultHookBufferSize
	}

	if cfg.ValidationExpiry < 0 {
		return ValidatedConfig{}, configError("ValidationExpiry must be >= 0")
	}
	if cfg.ValidationExpiry == 0 {
		cfg.ValidationExpiry = DefaultValidationExpiry
	}

	if cfg.SharedCache.Prefix == "" {
		cfg.SharedCache.Prefix = DefaultSharedPrefix
	}

	return ValidatedConfig{cfg: cfg}, nil
}

func configError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrConfigInvalid}, args...)...)
}

func lowerOr(v, fallback string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return fallback
	}
	return v
}

func cloneConfig(cfg Config) Config {
	cfg.MFARequired.Contexts = slices.Clone(cfg.MFARequired.Contexts)
	return cfg
}

func (c ValidatedConfig) BaseURL() string             { return c.cfg.BaseURL }
func (c ValidatedConfig) ClientID() string            { return c.cfg.ClientID }
func (c ValidatedConfig) HasSystemKey() bool          { return c.cfg.SystemKey != "" }
func (c ValidatedConfig) DefaultContext() ContextType { return c.cfg.DefaultContext }
func (c ValidatedConfig) TokenHeader() string         { return c.cfg.TokenHeader }
func (c ValidatedConfig) CookieName() string          { return c.cfg.CookieName }
func (c ValidatedConfig) TokenPrefix() string         { return c.cfg.TokenPrefix }
func (c ValidatedConfig) Cache() CacheConfig          { return c.cfg.Cache }
func (c ValidatedConfig) RateLimit() RateLimitConfig  { return c.cfg.RateLimit }
func (c ValidatedConfig) Retry() RetryConfig          { return c.cfg.Retry }
func (c ValidatedConfig) HookDispatch() HookDispatchConfig {
	return c.cfg.HookDispatch
}
func (c ValidatedConfig) ValidationExpiry() time.Duration { return c.cfg.ValidationExpiry }
func (c ValidatedConfig) SharedCache() SharedCacheConfig  { return c.cfg.SharedCache }
func (c ValidatedConfig) Metrics() MetricsConfig          { return c.cfg.Metrics }

// MFARequired returns a copy of the MFA policy.
func (c ValidatedConfig) MFARequired() MFAPolicy {
	return MFAPolicy{All: c.cfg.MFARequired.All, Contexts: slices.Clone(c.cfg.MFARequired.Contexts)}
}

// RequiresMFA reports whether the MFA policy applies to ctx.
func (c ValidatedConfig) RequiresMFA(ctx ContextType) bool {
	return c.cfg.MFARequired.Applies(ctx)
}

// Config returns a copy of the normalized settings. The system key is
// redacted.
func (c ValidatedConfig) Config() Config {
	out := cloneConfig(c.cfg)
	if out.SystemKey != "" {
		out.SystemKey = "[redacted]"
	}
	return out
}

func (c ValidatedConfig) systemKey() string { return c.cfg.SystemKey }
