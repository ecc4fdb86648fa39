// Package appconfig loads gateway settings from a config file, a .env file
// and AETHERGATE_* environment variables, in increasing precedence.
package appconfig

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/skygenesisenterprise/aethergate"
	"github.com/skygenesisenterprise/aethergate/internal/logging"
)

// EnvPrefix namespaces every environment override, e.g. AETHERGATE_CACHE_TTL.
const EnvPrefix = "AETHERGATE"

const redacted = "[redacted]"

// Settings is the full gateway configuration.
type Settings struct {
	Listen   string `mapstructure:"listen"`
	Upstream string `mapstructure:"upstream"`

	BaseURL          string        `mapstructure:"base_url"`
	ClientID         string        `mapstructure:"client_id"`
	SystemKey        string        `mapstructure:"system_key"`
	DefaultContext   string        `mapstructure:"default_context"`
	TokenHeader      string        `mapstructure:"token_header"`
	CookieName       string        `mapstructure:"cookie_name"`
	TokenPrefix      string        `mapstructure:"token_prefix"`
	ValidationExpiry time.Duration `mapstructure:"validation_expiry"`

	MFA         MFASettings         `mapstructure:"mfa"`
	Cache       CacheSettings       `mapstructure:"cache"`
	RateLimit   RateLimitSettings   `mapstructure:"rate_limit"`
	Retry       RetrySettings       `mapstructure:"retry"`
	Hooks       HookSettings        `mapstructure:"hooks"`
	SharedCache SharedCacheSettings `mapstructure:"shared_cache"`
	Metrics     MetricsSettings     `mapstructure:"metrics"`
	Gateway     GatewaySettings     `mapstructure:"gateway"`
	Log         LogSettings         `mapstructure:"log"`
	Redis       RedisSettings       `mapstructure:"redis"`
}

type MFASettings struct {
	All      bool     `mapstructure:"all"`
	Contexts []string `mapstructure:"contexts"`
}

type CacheSettings struct {
	Disabled bool          `mapstructure:"disabled"`
	TTL      time.Duration `mapstructure:"ttl"`
	MaxSize  int           `mapstructure:"max_size"`
}

type RateLimitSettings struct {
	Window      time.Duration `mapstructure:"window"`
	MaxAttempts int           `mapstructure:"max_attempts"`
}

type RetrySettings struct {
	MaxRetries int           `mapstructure:"max_retries"`
	RetryDelay time.Duration `mapstructure:"retry_delay"`
}

type HookSettings struct {
	BufferSize  int  `mapstructure:"buffer_size"`
	BlockIfFull bool `mapstructure:"block_if_full"`
}

type SharedCacheSettings struct {
	Enabled bool   `mapstructure:"enabled"`
	Prefix  string `mapstructure:"prefix"`
}

type MetricsSettings struct {
	Enabled    bool         `mapstructure:"enabled"`
	Histograms bool         `mapstructure:"histograms"`
	OTel       OTelSettings `mapstructure:"otel"`
}

// OTelSettings configure the optional OpenTelemetry push pipeline. An empty
// Exporter leaves it off; /metrics is served either way.
type OTelSettings struct {
	// Exporter is "stdout" or "otlp".
	Exporter    string        `mapstructure:"exporter"`
	Endpoint    string        `mapstructure:"endpoint"`
	Insecure    bool          `mapstructure:"insecure"`
	Interval    time.Duration `mapstructure:"interval"`
	ServiceName string        `mapstructure:"service_name"`
}

const (
	OTelExporterStdout = "stdout"
	OTelExporterOTLP   = "otlp"
)

// GatewaySettings shape the routes the gateway mounts.
type GatewaySettings struct {
	// Roles gate /api/*; empty admits any authenticated caller.
	Roles []string `mapstructure:"roles"`
	// AdminRoles gate /admin/* on top of the admin context check.
	AdminRoles      []string      `mapstructure:"admin_roles"`
	RequireMFA      bool          `mapstructure:"require_mfa"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

type LogSettings struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

// RedisSettings locate the Redis used by the shared cache and the login
// limiter. Embedded starts an in-process miniredis instead.
type RedisSettings struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
	Embedded bool   `mapstructure:"embedded"`
}

// Options locate the optional inputs of [Load].
type Options struct {
	// ConfigFile is read when set; its format follows the extension.
	ConfigFile string
	// EnvFile is loaded into the process environment before variables are
	// read. Defaults to ".env"; a missing default file is ignored.
	EnvFile string
}

// Load resolves Settings. The returned viper instance reflects the merged
// view and backs the config command.
func Load(opts Options) (*Settings, *viper.Viper, error) {
	if err := loadEnvFile(opts.EnvFile); err != nil {
		return nil, nil, err
	}

	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if opts.ConfigFile != "" {
		v.SetConfigFile(opts.ConfigFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, nil, fmt.Errorf("read config file: %w", err)
		}
	}

	var s Settings
	if err := v.Unmarshal(&s); err != nil {
		return nil, nil, fmt.Errorf("unmarshal config: %w", err)
	}
	return &s, v, nil
}

func loadEnvFile(path string) error {
	explicit := path != ""
	if !explicit {
		path = ".env"
	}
	err := godotenv.Load(path)
	if err == nil {
		return nil
	}
	if !explicit && errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	return fmt.Errorf("load env file %s: %w", path, err)
}

func setDefaults(v *viper.Viper) {
	def := aethergate.DefaultConfig()

	v.SetDefault("listen", ":8080")
	v.SetDefault("upstream", "")
	v.SetDefault("base_url", "")
	v.SetDefault("client_id", "")
	v.SetDefault("system_key", "")
	v.SetDefault("default_context", string(def.DefaultContext))
	v.SetDefault("token_header", def.TokenHeader)
	v.SetDefault("cookie_name", def.CookieName)
	v.SetDefault("token_prefix", def.TokenPrefix)
	v.SetDefault("validation_expiry", def.ValidationExpiry)

	v.SetDefault("mfa.all", false)
	v.SetDefault("mfa.contexts", []string{})

	v.SetDefault("cache.disabled", false)
	v.SetDefault("cache.ttl", def.Cache.TTL)
	v.SetDefault("cache.max_size", def.Cache.MaxSize)

	v.SetDefault("rate_limit.window", def.RateLimit.Window)
	v.SetDefault("rate_limit.max_attempts", def.RateLimit.MaxAttempts)

	v.SetDefault("retry.max_retries", def.Retry.MaxRetries)
	v.SetDefault("retry.retry_delay", def.Retry.RetryDelay)

	v.SetDefault("hooks.buffer_size", def.HookDispatch.BufferSize)
	v.SetDefault("hooks.block_if_full", def.HookDispatch.BlockIfFull)

	v.SetDefault("shared_cache.enabled", false)
	v.SetDefault("shared_cache.prefix", aethergate.DefaultSharedPrefix)

	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.histograms", true)
	v.SetDefault("metrics.otel.exporter", "")
	v.SetDefault("metrics.otel.endpoint", "localhost:4317")
	v.SetDefault("metrics.otel.insecure", true)
	v.SetDefault("metrics.otel.interval", 30*time.Second)
	v.SetDefault("metrics.otel.service_name", "aethergate")

	v.SetDefault("gateway.roles", []string{})
	v.SetDefault("gateway.admin_roles", []string{"admin"})
	v.SetDefault("gateway.require_mfa", false)
	v.SetDefault("gateway.shutdown_timeout", 15*time.Second)

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "json")
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", 100)
	v.SetDefault("log.max_backups", 5)
	v.SetDefault("log.max_age_days", 28)
	v.SetDefault("log.compress", true)

	v.SetDefault("redis.addr", "")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.embedded", false)
}

// Config maps the settings onto the library configuration. Validation is
// left to aethergate.NormalizeConfig.
func (s *Settings) Config() aethergate.Config {
	contexts := make([]aethergate.ContextType, 0, len(s.MFA.Contexts))
	for _, c := range s.MFA.Contexts {
		contexts = append(contexts, aethergate.ContextType(c))
	}

	return aethergate.Config{
		BaseURL:        s.BaseURL,
		ClientID:       s.ClientID,
		SystemKey:      s.SystemKey,
		DefaultContext: aethergate.ContextType(s.DefaultContext),
		MFARequired:    aethergate.MFAPolicy{All: s.MFA.All, Contexts: contexts},
		TokenHeader:    s.TokenHeader,
		CookieName:     s.CookieName,
		TokenPrefix:    s.TokenPrefix,
		Cache: aethergate.CacheConfig{
			Disabled: s.Cache.Disabled,
			TTL:      s.Cache.TTL,
			MaxSize:  s.Cache.MaxSize,
		},
		RateLimit: aethergate.RateLimitConfig{
			Window:      s.RateLimit.Window,
			MaxAttempts: s.RateLimit.MaxAttempts,
		},
		Retry: aethergate.RetryConfig{
			MaxRetries: s.Retry.MaxRetries,
			RetryDelay: s.Retry.RetryDelay,
		},
		HookDispatch: aethergate.HookDispatchConfig{
			BufferSize:  s.Hooks.BufferSize,
			BlockIfFull: s.Hooks.BlockIfFull,
		},
		ValidationExpiry: s.ValidationExpiry,
		SharedCache: aethergate.SharedCacheConfig{
			Enabled: s.SharedCache.Enabled,
			Prefix:  s.SharedCache.Prefix,
		},
		Metrics: aethergate.MetricsConfig{
			Enabled:                 s.Metrics.Enabled,
			EnableLatencyHistograms: s.Metrics.Histograms,
		},
	}
}

func (s *Settings) Logging() logging.Options {
	return logging.Options{
		Level:      s.Log.Level,
		Format:     s.Log.Format,
		File:       s.Log.File,
		MaxSizeMB:  s.Log.MaxSizeMB,
		MaxBackups: s.Log.MaxBackups,
		MaxAgeDays: s.Log.MaxAgeDays,
		Compress:   s.Log.Compress,
	}
}

// Validate checks the gateway-only settings. Library settings are checked
// when the server is built.
func (s *Settings) Validate() error {
	if s.Listen == "" {
		return errors.New("listen is required")
	}
	if s.Upstream == "" {
		return errors.New("upstream is required")
	}
	if s.SharedCache.Enabled && s.Redis.Addr == "" && !s.Redis.Embedded {
		return errors.New("shared_cache.enabled requires redis.addr or redis.embedded")
	}
	switch s.Metrics.OTel.Exporter {
	case "", OTelExporterStdout:
	case OTelExporterOTLP:
		if s.Metrics.OTel.Endpoint == "" {
			return errors.New("metrics.otel.endpoint is required for the otlp exporter")
		}
	default:
		return fmt.Errorf("metrics.otel.exporter %q is not one of stdout, otlp", s.Metrics.OTel.Exporter)
	}
	return nil
}

// Redacted returns the merged settings with secrets masked, for display.
func Redacted(v *viper.Viper) map[string]any {
	all := v.AllSettings()
	if s, ok := all["system_key"].(string); ok && s != "" {
		all["system_key"] = redacted
	}
	if redis, ok := all["redis"].(map[string]any); ok {
		if s, ok := redis["password"].(string); ok && s != "" {
			redis["password"] = redacted
		}
	}
	return all
}
