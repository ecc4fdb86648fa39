// Package observe provides ready-made hook sets that turn authentication
// events into audit records.
//
// [JSONLines] writes one JSON object per event, [Logger] logs through zap, and
// [Chain] fans several hook sets out in order. Records carry a short token
// fingerprint, never the raw token.
//
// # What this package must NOT do
//
//   - Write raw tokens or refresh tokens to any sink.
//   - Block the caller; hooks already run on the dispatcher goroutine.
package observe
