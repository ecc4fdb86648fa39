package otel

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/skygenesisenterprise/aethergate"
	"github.com/skygenesisenterprise/aethergate/metrics/export/internaldefs"
)

var (
	ErrNilMeter  = errors.New("nil meter")
	ErrNilSource = errors.New("nil metrics source")
)

// Instrument names. Counters carry attributes instead of one name per outcome.
const (
	OperationsName    = "aethergate.auth.operations"
	CacheLookupsName  = "aethergate.validate.cache.lookups"
	RejectionsName    = "aethergate.gate.rejections"
	HookEventsName    = "aethergate.hook.events"
	RetriesName       = "aethergate.transport.retries"
	SharedErrorsName  = "aethergate.shared_cache.errors"
	LatencyBucketName = "aethergate.validate.latency.bucket"
	LatencyCountName  = "aethergate.validate.latency.count"
)

// reader extracts one value from a collection cycle.
type reader func(snap aethergate.MetricsSnapshot, src internaldefs.Source) uint64

func counter(id aethergate.MetricID) reader {
	return func(snap aethergate.MetricsSnapshot, _ internaldefs.Source) uint64 {
		return snap.Counters[id]
	}
}

func hookDropped(_ aethergate.MetricsSnapshot, src internaldefs.Source) uint64 {
	return src.HookDropped()
}

type series struct {
	id    aethergate.MetricID
	attrs attribute.Set
	read  reader
}

type instrumentDef struct {
	name   string
	help   string
	series []series
}

func op(id aethergate.MetricID, operation, result string) series {
	return series{
		id:    id,
		attrs: attribute.NewSet(attribute.String("operation", operation), attribute.String("result", result)),
		read:  counter(id),
	}
}

func tagged(id aethergate.MetricID, key, value string) series {
	return series{id: id, attrs: attribute.NewSet(attribute.String(key, value)), read: counter(id)}
}

// instruments maps every counter of the snapshot onto an attributed series.
var instruments = []instrumentDef{
	{
		name: OperationsName,
		help: "Identity operations by outcome.",
		series: []series{
			op(aethergate.MetricLoginSuccess, "login", "success"),
			op(aethergate.MetricLoginFailure, "login", "failure"),
			op(aethergate.MetricLogout, "logout", "success"),
			op(aethergate.MetricRefreshSuccess, "refresh", "success"),
			op(aethergate.MetricRefreshFailure, "refresh", "failure"),
			op(aethergate.MetricValidateSuccess, "validate", "success"),
			op(aethergate.MetricValidateFailure, "validate", "failure"),
			op(aethergate.MetricValidateExpiredLocal, "validate", "expired"),
			op(aethergate.MetricGenerateSuccess, "generate", "success"),
			op(aethergate.MetricGenerateFailure, "generate", "failure"),
		},
	},
	{
		name: CacheLookupsName,
		help: "Validation cache lookups by tier.",
		series: []series{
			{
				id:    aethergate.MetricValidateCacheHit,
				attrs: attribute.NewSet(attribute.String("tier", "local"), attribute.String("result", "hit")),
				read:  counter(aethergate.MetricValidateCacheHit),
			},
			{
				id:    aethergate.MetricValidateCacheMiss,
				attrs: attribute.NewSet(attribute.String("tier", "local"), attribute.String("result", "miss")),
				read:  counter(aethergate.MetricValidateCacheMiss),
			},
			{
				id:    aethergate.MetricValidateSharedCacheHit,
				attrs: attribute.NewSet(attribute.String("tier", "shared"), attribute.String("result", "hit")),
				read:  counter(aethergate.MetricValidateSharedCacheHit),
			},
		},
	},
	{
		name: RejectionsName,
		help: "Requests rejected by a middleware gate.",
		series: []series{
			tagged(aethergate.MetricUnauthorizedAttempt, "reason", "unauthorized"),
			tagged(aethergate.MetricRoleCheckDenied, "reason", "role_denied"),
			tagged(aethergate.MetricMFARequired, "reason", "mfa_required"),
		},
	},
	{
		name: HookEventsName,
		help: "Hook events that failed or were dropped.",
		series: []series{
			tagged(aethergate.MetricHookFailed, "state", "failed"),
			{
				id:    aethergate.MetricHookDropped,
				attrs: attribute.NewSet(attribute.String("state", "dropped")),
				read:  hookDropped,
			},
		},
	},
	{
		name:   RetriesName,
		help:   "Identity service calls retried.",
		series: []series{{id: aethergate.MetricTransportRetry, read: counter(aethergate.MetricTransportRetry)}},
	},
	{
		name:   SharedErrorsName,
		help:   "Shared cache operations that failed.",
		series: []series{{id: aethergate.MetricSharedCacheError, read: counter(aethergate.MetricSharedCacheError)}},
	},
}

type observedCounter struct {
	instrument metric.Int64ObservableCounter
	series     []series
}

// Exporter keeps observable instruments registered on a meter until Close.
type Exporter struct {
	source       internaldefs.Source
	registration metric.Registration
	counters     []observedCounter
	latency      metric.Int64ObservableGauge
	latencyCount metric.Int64ObservableGauge
	bucketAttrs  [8]attribute.Set
}

// NewExporter registers the attributed counters and the validation latency
// gauges on meter. Values are read from source at collection time.
func NewExporter(meter metric.Meter, source internaldefs.Source) (*Exporter, error) {
	if meter == nil {
		return nil, ErrNilMeter
	}
	if source == nil {
		return nil, ErrNilSource
	}

	e := &Exporter{source: source}
	observables := make([]metric.Observable, 0, len(instruments)+2)

	for _, def := range instruments {
		ins, err := meter.Int64ObservableCounter(def.name, metric.WithDescription(def.help))
		if err != nil {
			return nil, fmt.Errorf("create counter %s: %w", def.name, err)
		}
		e.counters = append(e.counters, observedCounter{instrument: ins, series: def.series})
		observables = append(observables, ins)
	}

	var err error
	e.latency, err = meter.Int64ObservableGauge(LatencyBucketName,
		metric.WithDescription("Cumulative validation latency samples at or below the le bound (seconds)."))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", LatencyBucketName, err)
	}
	e.latencyCount, err = meter.Int64ObservableGauge(LatencyCountName,
		metric.WithDescription("Validation latency samples observed."))
	if err != nil {
		return nil, fmt.Errorf("create gauge %s: %w", LatencyCountName, err)
	}
	observables = append(observables, e.latency, e.latencyCount)

	for i := range e.bucketAttrs {
		le := "+Inf"
		if i < len(internaldefs.HistogramBounds) {
			le = strconv.FormatFloat(internaldefs.HistogramBounds[i], 'f', -1, 64)
		}
		e.bucketAttrs[i] = attribute.NewSet(attribute.String("le", le))
	}

	e.registration, err = meter.RegisterCallback(e.observe, observables...)
	if err != nil {
		return nil, fmt.Errorf("register callback: %w", err)
	}
	return e, nil
}

func (e *Exporter) observe(_ context.Context, o metric.Observer) error {
	snap := e.source.MetricsSnapshot()
	for _, c := range e.counters {
		for _, s := range c.series {
			o.ObserveInt64(c.instrument, int64(s.read(snap, e.source)), metric.WithAttributeSet(s.attrs))
		}
	}

	raw, ok := snap.Histograms[aethergate.MetricValidateLatency]
	if !ok {
		return nil
	}
	cumulative := internaldefs.CumulativeBuckets(internaldefs.NormalizeBuckets(raw))
	for i, n := range cumulative {
		o.ObserveInt64(e.latency, int64(n), metric.WithAttributeSet(e.bucketAttrs[i]))
	}
	o.ObserveInt64(e.latencyCount, int64(cumulative[len(cumulative)-1]))
	return nil
}

// Close unregisters the collection callback.
func (e *Exporter) Close() error {
	if e == nil || e.registration == nil {
		return nil
	}
	return e.registration.Unregister()
}
