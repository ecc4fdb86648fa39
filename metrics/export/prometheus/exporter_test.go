package prometheus

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/skygenesisenterprise/aethergate"
)

type fakeSource struct {
	snapshot aethergate.MetricsSnapshot
	dropped  uint64
}

func (f fakeSource) MetricsSnapshot() aethergate.MetricsSnapshot { return f.snapshot }
func (f fakeSource) HookDropped() uint64                         { return f.dropped }

func TestCollectEmptyWhenMetricsDisabled(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: aethergate.MetricsSnapshot{
			Counters:   map[aethergate.MetricID]uint64{},
			Histograms: map[aethergate.MetricID][]uint64{},
		},
	})

	assert.Equal(t, 0, testutil.CollectAndCount(c))
}

func TestCollectCountersAndHistogram(t *testing.T) {
	c := NewCollector(fakeSource{
		snapshot: aethergate.MetricsSnapshot{
			Counters: map[aethergate.MetricID]uint64{
				aethergate.MetricLoginSuccess: 7,
			},
			Histograms: map[aethergate.MetricID][]uint64{
				aethergate.MetricValidateLatency: {1, 2, 3, 4, 5, 6, 7, 8},
			},
		},
		dropped: 2,
	})

	expected := `
# HELP aethergate_login_success_total Successful logins.
# TYPE aethergate_login_success_total counter
aethergate_login_success_total 7
# HELP aethergate_hook_dropped_total Hook events dropped due to dispatcher backpressure.
# TYPE aethergate_hook_dropped_total counter
aethergate_hook_dropped_total 2
# HELP aethergate_validate_latency_seconds ValidateToken latency.
# TYPE aethergate_validate_latency_seconds histogram
aethergate_validate_latency_seconds_bucket{le="0.005"} 1
aethergate_validate_latency_seconds_bucket{le="0.01"} 3
aethergate_validate_latency_seconds_bucket{le="0.025"} 6
aethergate_validate_latency_seconds_bucket{le="0.05"} 10
aethergate_validate_latency_seconds_bucket{le="0.1"} 15
aethergate_validate_latency_seconds_bucket{le="0.25"} 21
aethergate_validate_latency_seconds_bucket{le="0.5"} 28
aethergate_validate_latency_seconds_bucket{le="+Inf"} 36
aethergate_validate_latency_seconds_sum 0
aethergate_validate_latency_seconds_count 36
`
	err := testutil.CollectAndCompare(c, strings.NewReader(expected),
		"aethergate_login_success_total",
		"aethergate_hook_dropped_total",
		"aethergate_validate_latency_seconds",
	)
	require.NoError(t, err)
}

func TestCollectorRegistersCleanly(t *testing.T) {
	reg := prom.NewPedanticRegistry()
	require.NoError(t, reg.Register(NewCollector(fakeSource{})))
}

func TestHandlerServesTextFormat(t *testing.T) {
	h, err := Handler(fakeSource{
		snapshot: aethergate.MetricsSnapshot{
			Counters:   map[aethergate.MetricID]uint64{aethergate.MetricLogout: 1},
			Histograms: map[aethergate.MetricID][]uint64{},
		},
	})
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/plain")
	assert.Contains(t, rec.Body.String(), "aethergate_logout_total 1")
}

func BenchmarkCollect(b *testing.B) {
	c := NewCollector(fakeSource{
		snapshot: aethergate.MetricsSnapshot{
			Counters: map[aethergate.MetricID]uint64{
				aethergate.MetricLoginSuccess:     1000,
				aethergate.MetricLoginFailure:     40,
				aethergate.MetricValidateCacheHit: 90000,
			},
			Histograms: map[aethergate.MetricID][]uint64{
				aethergate.MetricValidateLatency: {10, 20, 30, 40, 50, 60, 70, 80},
			},
		},
	})

	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = testutil.CollectAndCount(c)
	}
}
