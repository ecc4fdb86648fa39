package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"os"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate"
	"github.com/skygenesisenterprise/aethergate/internal/appconfig"
	"github.com/skygenesisenterprise/aethergate/observe"
	"github.com/skygenesisenterprise/aethergate/ratelimit"
)

// Runtime is a fully assembled gateway with the resources it owns.
type Runtime struct {
	Gateway *Gateway
	Auth    *aethergate.Server
	// Meters is the OTel push pipeline; nil unless metrics.otel.exporter is set.
	Meters *sdkmetric.MeterProvider

	settings *appconfig.Settings
	log      *zap.Logger
	closers  []func()
}

// OpenRedis connects to redis.addr, or starts an in-process miniredis when
// redis.embedded is set. A nil client means neither is configured.
func OpenRedis(s appconfig.RedisSettings) (redis.UniversalClient, func(), error) {
	addr := s.Addr
	cleanup := func() {}
	if s.Embedded {
		mr, err := miniredis.Run()
		if err != nil {
			return nil, nil, fmt.Errorf("start embedded redis: %w", err)
		}
		addr = mr.Addr()
		cleanup = mr.Close
	}
	if addr == "" {
		return nil, cleanup, nil
	}

	client := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{addr},
		Password: s.Password,
		DB:       s.DB,
	})
	return client, func() {
		_ = client.Close()
		cleanup()
	}, nil
}

// Assemble builds the auth server, limiter and router from settings.
func Assemble(s *appconfig.Settings, log *zap.Logger) (*Runtime, error) {
	if err := s.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", aethergate.ErrConfigInvalid, err)
	}
	upstream, err := url.Parse(s.Upstream)
	if err != nil || upstream.Scheme == "" || upstream.Host == "" {
		return nil, fmt.Errorf("%w: upstream must be an absolute URL", aethergate.ErrConfigInvalid)
	}

	rt := &Runtime{settings: s, log: log}

	client, closeRedis, err := OpenRedis(s.Redis)
	if err != nil {
		return nil, err
	}
	rt.closers = append(rt.closers, closeRedis)

	b := aethergate.New().
		WithConfig(s.Config()).
		WithLogger(log.Named("auth")).
		WithHooks(observe.Logger(log.Named("hooks")))
	if client != nil && s.SharedCache.Enabled {
		b = b.WithSharedCache(client)
	}
	auth, err := b.Build()
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Auth = auth
	rt.closers = append(rt.closers, auth.Close)

	if err := rt.startTelemetry(os.Stdout); err != nil {
		rt.Close()
		return nil, err
	}

	var limiter ratelimit.Limiter
	window, maxAttempts := auth.Config().RateLimit().Window, auth.Config().RateLimit().MaxAttempts
	if client != nil {
		limiter = ratelimit.NewRedis(client, window, maxAttempts)
	} else {
		limiter = ratelimit.NewMemory(window, maxAttempts)
	}

	gw, err := New(Options{
		Auth:       auth,
		Upstream:   upstream,
		Limiter:    limiter,
		Logger:     log,
		Roles:      s.Gateway.Roles,
		AdminRoles: s.Gateway.AdminRoles,
		RequireMFA: s.Gateway.RequireMFA,
	})
	if err != nil {
		rt.Close()
		return nil, err
	}
	rt.Gateway = gw
	return rt, nil
}

// startTelemetry pushes the server's metrics through the configured OTel
// exporter, if any.
func (rt *Runtime) startTelemetry(w io.Writer) error {
	mp, err := OpenMeterProvider(context.Background(), rt.settings.Metrics.OTel, w)
	if err != nil || mp == nil {
		return err
	}
	rt.closers = append(rt.closers, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := mp.Shutdown(ctx); err != nil {
			rt.log.Warn("meter provider shutdown", zap.Error(err))
		}
	})

	exp, err := instrument(mp, rt.Auth)
	if err != nil {
		return fmt.Errorf("register otel instruments: %w", err)
	}
	rt.Meters = mp
	rt.closers = append(rt.closers, func() { _ = exp.Close() })
	rt.log.Info("otel metrics enabled",
		zap.String("exporter", rt.settings.Metrics.OTel.Exporter),
		zap.Duration("interval", rt.settings.Metrics.OTel.Interval))
	return nil
}

// Serve listens on ln until ctx is cancelled, then shuts down within the
// configured timeout and delivers queued hook events.
func (rt *Runtime) Serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           rt.Gateway.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Serve(ln) }()
	rt.log.Info("gateway listening", zap.String("addr", ln.Addr().String()), zap.String("upstream", rt.settings.Upstream))

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	timeout := rt.settings.Gateway.ShutdownTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	rt.log.Info("gateway shutting down")
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	if err := rt.Auth.FlushHooks(shutdownCtx); err != nil {
		rt.log.Warn("hook flush incomplete", zap.Error(err))
	}
	return nil
}

// Close releases everything Assemble opened, in reverse order.
func (rt *Runtime) Close() {
	for i := len(rt.closers) - 1; i >= 0; i-- {
		rt.closers[i]()
	}
	rt.closers = nil
}
