// Package middleware exposes net/http gates that authenticate and authorize
// requests through an [Authority], normally an *aethergate.Server.
//
// # Gates
//
//   - [Authenticate] resolves the request token and attaches a Principal.
//   - [RequireRoles] admits principals holding at least one of the roles.
//   - [Protect] is Authenticate and RequireRoles fused into one handler.
//   - [RequireMFA] rejects principals whose context demands a verified
//     second factor they do not have.
//   - [RequireContext] admits principals of one context classifier only.
//
// Every gate is fail-closed: a rejection writes a JSON body
// {"error", "message"[, "code"]} with status 401 or 403, never calls the next
// handler, and fires exactly one hook (the MFA-required hook for the MFA gate,
// the unauthorized-attempt hook otherwise).
//
// # Architecture boundaries
//
// This package translates HTTP semantics into Authority calls. Token
// validation, caching and hook delivery are delegated; the gates never touch
// the token cache directly.
//
// # What this package must NOT do
//
//   - Parse or verify tokens itself.
//   - Pass a request with a missing or invalid credential as anonymous.
//   - Serialize internal error detail into responses.
package middleware
