// Package loadtest drives concurrent token validation against a fake
// identity service and reports latency percentiles for the cold (remote) and
// warm (cached) paths.
package loadtest

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand/v2"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate"
	"github.com/skygenesisenterprise/aethergate/identitytest"
)

type Options struct {
	Tokens      int
	Concurrency int
	// Ops is the number of validations in the warm phase.
	Ops int
	// Redis enables the shared cache tier when set.
	Redis  redis.UniversalClient
	Logger *zap.Logger
}

type PhaseStats struct {
	Total    time.Duration
	Ops      int
	Failures int64
	P50      time.Duration
	P95      time.Duration
	P99      time.Duration
	OpsPerS  float64
}

type Report struct {
	Cold         PhaseStats
	Warm         PhaseStats
	RemoteCalls  int
	CacheHits    uint64
	SharedHits   uint64
	HooksDropped uint64
}

// Run seeds opts.Tokens tokens, validates each once, then performs opts.Ops
// random validations that should all be served from cache.
func Run(ctx context.Context, opts Options) (Report, error) {
	if opts.Tokens <= 0 || opts.Concurrency <= 0 || opts.Ops <= 0 {
		return Report{}, errors.New("tokens, concurrency, and ops must be > 0")
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	idp := identitytest.New()
	defer idp.Close()

	cfg := aethergate.DefaultConfig()
	cfg.BaseURL = idp.URL()
	cfg.ClientID = idp.ClientID()
	cfg.SystemKey = idp.SystemKey()
	cfg.Cache.MaxSize = opts.Tokens
	cfg.Retry.MaxRetries = -1
	cfg.SharedCache.Enabled = opts.Redis != nil

	b := aethergate.New().
		WithConfig(cfg).
		WithLogger(opts.Logger).
		WithMetricsEnabled(true).
		WithLatencyHistograms(true)
	if opts.Redis != nil {
		b = b.WithSharedCache(opts.Redis)
	}
	srv, err := b.Build()
	if err != nil {
		return Report{}, err
	}
	defer srv.Close()

	tokens := make([]string, opts.Tokens)
	for i := range tokens {
		email := fmt.Sprintf("user-%d@example.com", i)
		idp.AddUser(identitytest.User{Email: email, Roles: []string{"user"}})
		tokens[i] = idp.IssueToken(email)
	}

	var coldCursor atomic.Int64
	cold := runPhase(ctx, opts.Concurrency, len(tokens), func(_ *rand.Rand) bool {
		i := int(coldCursor.Add(1)) - 1
		return srv.ValidateToken(ctx, tokens[i]).Valid
	})
	warm := runPhase(ctx, opts.Concurrency, opts.Ops, func(r *rand.Rand) bool {
		return srv.ValidateToken(ctx, tokens[r.IntN(len(tokens))]).Valid
	})

	snap := srv.MetricsSnapshot()
	return Report{
		Cold:         cold,
		Warm:         warm,
		RemoteCalls:  idp.Calls(identitytest.PathValidate),
		CacheHits:    snap.Counters[aethergate.MetricValidateCacheHit],
		SharedHits:   snap.Counters[aethergate.MetricValidateSharedCacheHit],
		HooksDropped: srv.HookDropped(),
	}, nil
}

func runPhase(ctx context.Context, concurrency, ops int, op func(r *rand.Rand) bool) PhaseStats {
	var (
		wg        sync.WaitGroup
		cursor    atomic.Int64
		failures  atomic.Int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), uint64(worker)*7919))
			for ctx.Err() == nil {
				if int(cursor.Add(1)) > ops {
					return
				}
				t0 := time.Now()
				ok := op(r)
				d := time.Since(t0)
				if !ok {
					failures.Add(1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	return computeStats(time.Since(start), latencies, failures.Load())
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) PhaseStats {
	if len(samples) == 0 {
		return PhaseStats{Total: total, Failures: failures}
	}
	slices.Sort(samples)
	return PhaseStats{
		Total:    total,
		Ops:      len(samples),
		Failures: failures,
		P50:      percentile(samples, 50),
		P95:      percentile(samples, 95),
		P99:      percentile(samples, 99),
		OpsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

// Print writes the report in the one-line-per-phase format.
func (r Report) Print(w io.Writer) {
	printStats(w, "cold", r.Cold)
	printStats(w, "warm", r.Warm)
	fmt.Fprintf(w, "remote_calls=%d cache_hits=%d shared_hits=%d hooks_dropped=%d\n",
		r.RemoteCalls, r.CacheHits, r.SharedHits, r.HooksDropped)
}

func printStats(w io.Writer, name string, s PhaseStats) {
	fmt.Fprintf(w, "%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.Ops,
		s.Failures,
		s.Total.Round(time.Millisecond),
		s.OpsPerS,
		s.P50.Round(time.Microsecond),
		s.P95.Round(time.Microsecond),
		s.P99.Round(time.Microsecond),
	)
}
