package ratelimit

import (
	"encoding/json"
	"math"
	"net"
	"net/http"
	"strconv"

	"go.uber.org/zap"
)

// KeyFunc derives the limiter key for a request. An empty key skips limiting.
type KeyFunc func(r *http.Request) string

// ByIP keys requests by the host part of RemoteAddr.
func ByIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

type middlewareOptions struct {
	logger *zap.Logger
}

type MiddlewareOption func(*middlewareOptions)

// WithLogger logs limiter failures through l.
func WithLogger(l *zap.Logger) MiddlewareOption {
	return func(o *middlewareOptions) { o.logger = l }
}

// Middleware rejects requests over budget with 429 and a Retry-After header.
// Limiter errors are logged and the request proceeds.
func Middleware(l Limiter, key KeyFunc, opts ...MiddlewareOption) func(http.Handler) http.Handler {
	o := middlewareOptions{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if key == nil {
		key = ByIP
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			k := key(r)
			if l == nil || k == "" {
				next.ServeHTTP(w, r)
				return
			}

			d, err := l.Allow(r.Context(), k)
			if err != nil {
				o.logger.Warn("rate limiter unavailable, allowing request", zap.String("path", r.URL.Path), zap.Error(err))
				next.ServeHTTP(w, r)
				return
			}
			if !d.Allowed {
				secs := int(math.Ceil(d.RetryAfter.Seconds()))
				if secs < 1 {
					secs = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(secs))
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusTooManyRequests)
				_ = json.NewEncoder(w).Encode(map[string]string{
					"error":   "Too Many Requests",
					"message": "Rate limit exceeded",
				})
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
