package aethergate

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate/cache"
	"github.com/skygenesisenterprise/aethergate/cache/rediscache"
	"github.com/skygenesisenterprise/aethergate/transport"
)

// Identity service endpoints.
const (
	EndpointLogin    = "/api/v1/auth/login"
	EndpointLogout   = "/api/v1/auth/logout"
	EndpointRefresh  = "/api/v1/auth/refresh"
	EndpointValidate = "/api/v1/auth/validate"
	EndpointGenerate = "/api/v1/auth/token/generate"
)

// Server authenticates requests against the remote identity service.
//
// Server is the only writer of its token cache. It is safe for concurrent use
// after [Builder.Build] returns.
type Server struct {
	config     ValidatedConfig
	client     *transport.Client
	cache      *cache.TokenCache[UserContext]
	shared     *rediscache.Cache[UserContext]
	hooks      atomic.Pointer[Hooks]
	dispatcher *hookDispatcher
	metrics    *Metrics
	logger     *zap.Logger
	now        func() time.Time
}

// Config returns the normalized configuration.
func (s *Server) Config() ValidatedConfig {
	if s == nil {
		return ValidatedConfig{}
	}
	return s.config
}

// ClearCache drops every cached validation, including the shared tier.
func (s *Server) ClearCache(ctx context.Context) {
	if s == nil {
		return
	}
	s.cache.Clear()
	if s.shared != nil {
		if err := s.shared.Clear(ctx); err != nil {
			s.metrics.Inc(MetricSharedCacheError)
			s.logger.Warn("shared cache clear failed", zap.Error(err))
		}
	}
}

// CacheSize returns the number of entries in the in-process cache.
func (s *Server) CacheSize() int {
	if s == nil {
		return 0
	}
	return s.cache.Len()
}

func (s *Server) CacheStats() cache.Stats {
	if s == nil {
		return cache.Stats{}
	}
	return s.cache.Stats()
}

func (s *Server) MetricsSnapshot() MetricsSnapshot {
	if s == nil {
		return MetricsSnapshot{}
	}
	return s.metrics.Snapshot()
}

// HookDropped returns the number of hook events dropped because the queue was
// full or the emitting request ended first.
func (s *Server) HookDropped() uint64 {
	if s == nil {
		return 0
	}
	return s.dispatcher.Dropped()
}

// FlushHooks waits until every hook event emitted so far has been delivered.
func (s *Server) FlushHooks(ctx context.Context) error {
	if s == nil {
		return ErrServerNotReady
	}
	return s.dispatcher.Flush(ctx)
}

// Close stops the hook dispatcher after delivering queued events. Helpers keep
// working after Close but hooks no longer fire.
func (s *Server) Close() {
	if s == nil {
		return
	}
	s.dispatcher.Close()
}

func (s *Server) hookContext(meta RequestMeta, user *UserContext, token string) HookContext {
	hc := s.NewHookContext(meta)
	hc.User = user
	hc.Token = token
	return hc
}
