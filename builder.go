package aethergate

import (
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate/cache"
	"github.com/skygenesisenterprise/aethergate/cache/rediscache"
	"github.com/skygenesisenterprise/aethergate/transport"
)

// Builder assembles a [Server].
//
// Builder instances are intended to be configured during initialization and
// used for exactly one Build.
type Builder struct {
	config     Config
	hooks      Hooks
	httpClient *http.Client
	logger     *zap.Logger
	redis      redis.UniversalClient
	now        func() time.Time

	built bool
}

// New returns a Builder seeded with [DefaultConfig].
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

// WithConfig replaces the whole configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithHooks sets the initial hook set. [Server.RegisterHooks] replaces it
// later.
func (b *Builder) WithHooks(h Hooks) *Builder {
	b.hooks = h
	return b
}

// WithHTTPClient sets the client used to reach the identity service.
func (b *Builder) WithHTTPClient(c *http.Client) *Builder {
	b.httpClient = c
	return b
}

func (b *Builder) WithLogger(l *zap.Logger) *Builder {
	b.logger = l
	return b
}

// WithSharedCache supplies the Redis client backing the shared cache tier.
// Supplying a client enables the tier.
func (b *Builder) WithSharedCache(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.config.Metrics.EnableLatencyHistograms = enabled
	return b
}

// WithClock replaces time.Now for cache and hook timestamps.
func (b *Builder) WithClock(now func() time.Time) *Builder {
	b.now = now
	return b
}

// Build validates the configuration and starts the hook dispatcher. The
// returned Server must be closed with [Server.Close].
func (b *Builder) Build() (*Server, error) {
	if b.built {
		return nil, ErrBuilderUsed
	}

	vc, err := NormalizeConfig(b.config)
	if err != nil {
		return nil, err
	}
	sharedEnabled := vc.SharedCache().Enabled || b.redis != nil
	if sharedEnabled && b.redis == nil {
		return nil, configError("SharedCache requires a redis client")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := b.now
	if now == nil {
		now = time.Now
	}

	s := &Server{
		config:  vc,
		logger:  logger,
		metrics: NewMetrics(vc.Metrics()),
		now:     now,
	}

	retry := vc.Retry()
	s.client = transport.New(transport.Config{
		BaseURL:    vc.BaseURL(),
		ClientID:   vc.ClientID(),
		SystemKey:  vc.systemKey(),
		HTTPClient: b.httpClient,
		MaxRetries: retry.MaxRetries,
		RetryDelay: retry.RetryDelay,
		Logger:     logger.Named("transport"),
		OnRetry: func(int, error) {
			s.metrics.Inc(MetricTransportRetry)
		},
	})

	cc := vc.Cache()
	size := cc.MaxSize
	if cc.Disabled {
		size = 0
	}
	s.cache = cache.New[UserContext](size, cc.TTL, cache.WithClock(now))

	if sharedEnabled && !cc.Disabled {
		s.shared = rediscache.New[UserContext](b.redis, vc.SharedCache().Prefix, cc.TTL)
	}

	s.dispatcher = newHookDispatcher(vc.HookDispatch(), logger.Named("hooks"), s.metrics)
	hooks := b.hooks
	s.hooks.Store(&hooks)

	b.built = true

	return s, nil
}

// NewServer is shorthand for New().WithConfig(cfg).WithHooks(hooks).Build().
func NewServer(cfg Config, hooks Hooks) (*Server, error) {
	return New().WithConfig(cfg).WithHooks(hooks).Build()
}
