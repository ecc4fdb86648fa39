// Package gateway is the aethergate reverse proxy.
//
// It mounts the auth endpoints (/auth/login, /auth/logout, /auth/refresh,
// /auth/me), forwards /api/* and /admin/* to the upstream application behind
// the middleware gates, and exposes /metrics and /healthz. Upstream requests
// carry the resolved identity in X-Aether-* headers.
//
// # Architecture boundaries
//
// Handlers call *aethergate.Server helpers and never talk to the identity
// service directly. Rate limiting applies to the login route only.
package gateway
