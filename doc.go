// Package aethergate authenticates HTTP requests against a remote Aether
// identity service. It validates opaque or JWT-shaped tokens through the
// service, caches validated users for a bounded time, and reports every
// authentication decision to optional observer hooks.
//
// The package is designed for concurrent server workloads: Server methods are
// safe to call from multiple goroutines after initialization through
// [Builder.Build].
//
// # Architecture boundaries
//
// aethergate is the public surface. It exposes [Server], [Builder], [Config],
// the helpers (Login, Logout, RefreshToken, ValidateToken, GenerateToken) and
// the predicates (HasRole, HasPermission, RequiresMFA). HTTP calls live in
// transport/, the cache in cache/, and request gates in middleware/.
//
// # What this package must NOT do
//
//   - Issue, sign or cryptographically verify tokens. The identity service is
//     the only authority; a JWT exp claim is read only to shorten caching.
//   - Let a hook failure or a slow hook change an authentication outcome.
//   - Serve a cached validation past the token's expiry or the cache TTL.
//   - Enforce rate limits. The carried RateLimit values are for the host.
//
// # Performance contract
//
// ValidateToken is the hot path. A cache hit takes one mutex and performs no
// I/O. A miss costs one identity service round-trip plus retries on transient
// failures.
package aethergate
