// Package prometheus exposes aethergate metrics as a Prometheus collector.
//
// [NewCollector] reads a snapshot on every scrape and emits one counter per
// metric (aethergate_*_total) plus the aethergate_validate_latency_seconds
// histogram. [Handler] serves a private registry holding only the collector.
//
// # What this package must NOT do
//
//   - Register into the global Prometheus registry; callers choose.
//   - Mutate server state.
package prometheus
