// Package otel binds aethergate metrics to an OpenTelemetry meter.
//
// [NewExporter] groups the server counters into a few attributed
// instruments, for example aethergate.auth.operations{operation,result} and
// aethergate.validate.cache.lookups{tier,result}. Validation latency is
// exposed as cumulative gauges keyed by an "le" attribute. One callback reads
// the source snapshot on each collection cycle.
//
// # What this package must NOT do
//
//   - Own the MeterProvider; callers supply the Meter.
//   - Mutate server state.
package otel
