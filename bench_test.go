package aethergate

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/skygenesisenterprise/aethergate/identitytest"
)

func BenchmarkMetricsIncParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true})
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Inc(MetricValidateCacheHit)
		}
	})
}

func BenchmarkMetricsObserveLatencyParallel(b *testing.B) {
	m := NewMetrics(MetricsConfig{Enabled: true, EnableLatencyHistograms: true})
	d := 12 * time.Millisecond
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			m.Observe(MetricValidateLatency, d)
		}
	})
}

func BenchmarkValidateTokenCached(b *testing.B) {
	idp := identitytest.New()
	defer idp.Close()
	idp.AddUser(identitytest.User{Email: "bench@example.com", Roles: []string{"user"}})
	token := idp.IssueToken("bench@example.com")

	s, err := New().WithConfig(Config{
		BaseURL:   idp.URL(),
		ClientID:  idp.ClientID(),
		SystemKey: idp.SystemKey(),
	}).WithLogger(zap.NewNop()).WithMetricsEnabled(true).Build()
	if err != nil {
		b.Fatal(err)
	}
	defer s.Close()

	ctx := context.Background()
	if !s.ValidateToken(ctx, token).Valid {
		b.Fatal("warm-up validation failed")
	}
	b.ReportAllocs()
	b.ResetTimer()

	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			if !s.ValidateToken(ctx, token).Valid {
				b.Error("cached validation failed")
				return
			}
		}
	})
}
