package internaldefs

import (
	"github.com/skygenesisenterprise/aethergate"
)

// Source is what the exporters read. *aethergate.Server satisfies it.
type Source interface {
	MetricsSnapshot() aethergate.MetricsSnapshot
	HookDropped() uint64
}

// CounterDef names one counter.
type CounterDef struct {
	ID   aethergate.MetricID
	Name string
	Help string
}

type HistogramDef struct {
	ID   aethergate.MetricID
	Name string
	Help string
}

// HookDropped names the dispatcher backpressure counter, which is read from
// Source.HookDropped rather than the snapshot.
var HookDropped = CounterDef{
	Name: "aethergate_hook_dropped_total",
	Help: "Hook events dropped due to dispatcher backpressure.",
}

var CounterDefs = []CounterDef{
	{ID: aethergate.MetricLoginSuccess, Name: "aethergate_login_success_total", Help: "Successful logins."},
	{ID: aethergate.MetricLoginFailure, Name: "aethergate_login_failure_total", Help: "Failed logins."},
	{ID: aethergate.MetricLogout, Name: "aethergate_logout_total", Help: "Logout operations."},
	{ID: aethergate.MetricRefreshSuccess, Name: "aethergate_refresh_success_total", Help: "Successful token refreshes."},
	{ID: aethergate.MetricRefreshFailure, Name: "aethergate_refresh_failure_total", Help: "Failed token refreshes."},
	{ID: aethergate.MetricValidateCacheHit, Name: "aethergate_validate_cache_hit_total", Help: "Validations served from the in-process cache."},
	{ID: aethergate.MetricValidateCacheMiss, Name: "aethergate_validate_cache_miss_total", Help: "Validations missing the in-process cache."},
	{ID: aethergate.MetricValidateSharedCacheHit, Name: "aethergate_validate_shared_cache_hit_total", Help: "Validations served from the shared cache."},
	{ID: aethergate.MetricValidateSuccess, Name: "aethergate_validate_success_total", Help: "Successful remote validations."},
	{ID: aethergate.MetricValidateFailure, Name: "aethergate_validate_failure_total", Help: "Failed validations."},
	{ID: aethergate.MetricValidateExpiredLocal, Name: "aethergate_validate_expired_local_total", Help: "Expired JWTs rejected without a remote call."},
	{ID: aethergate.MetricGenerateSuccess, Name: "aethergate_generate_success_total", Help: "Tokens generated with the system key."},
	{ID: aethergate.MetricGenerateFailure, Name: "aethergate_generate_failure_total", Help: "Failed token generations."},
	{ID: aethergate.MetricUnauthorizedAttempt, Name: "aethergate_unauthorized_attempt_total", Help: "Requests rejected by a gate."},
	{ID: aethergate.MetricRoleCheckDenied, Name: "aethergate_role_check_denied_total", Help: "Role checks that denied access."},
	{ID: aethergate.MetricMFARequired, Name: "aethergate_mfa_required_total", Help: "Requests rejected for missing MFA."},
	{ID: aethergate.MetricTransportRetry, Name: "aethergate_transport_retry_total", Help: "Identity service calls retried."},
	{ID: aethergate.MetricHookFailed, Name: "aethergate_hook_failed_total", Help: "Hook callbacks that returned an error or panicked."},
	{ID: aethergate.MetricSharedCacheError, Name: "aethergate_shared_cache_error_total", Help: "Shared cache operations that failed."},
}

var HistogramDefs = []HistogramDef{
	{ID: aethergate.MetricValidateLatency, Name: "aethergate_validate_latency_seconds", Help: "ValidateToken latency."},
}

// HistogramBounds are the bucket upper bounds in seconds. The last bucket is
// +Inf.
var HistogramBounds = []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5}

var HistogramBoundSuffix = []string{
	"0_005",
	"0_01",
	"0_025",
	"0_05",
	"0_1",
	"0_25",
	"0_5",
	"inf",
}

// NormalizeBuckets copies raw into a fixed array, zero-filling missing
// buckets.
func NormalizeBuckets(raw []uint64) [8]uint64 {
	var out [8]uint64
	for i := 0; i < len(out) && i < len(raw); i++ {
		out[i] = raw[i]
	}
	return out
}

// CumulativeBuckets turns per-bucket counts into running totals.
func CumulativeBuckets(raw [8]uint64) [8]uint64 {
	var out [8]uint64
	var running uint64
	for i := 0; i < len(raw); i++ {
		running += raw[i]
		out[i] = running
	}
	return out
}
