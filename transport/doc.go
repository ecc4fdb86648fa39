// Package transport issues JSON calls to the remote identity service and
// classifies every non-2xx answer into a typed [Error].
//
// # Retry policy
//
// Network failures and SERVER_ERROR responses are retried with linear backoff:
// the n-th retry waits n*RetryDelay. A client configured with MaxRetries=3
// performs at most four attempts. Every other code propagates immediately.
//
// # Architecture boundaries
//
// transport knows endpoints only as strings and bodies only as JSON values.
// It holds no cache and fires no hooks.
//
// # What this package must NOT do
//
//   - Retry AUTHENTICATION_FAILED, AUTHORIZATION_FAILED or INVALID_INPUT.
//   - Log tokens, system keys or request bodies.
//   - Sleep past the caller's context deadline.
package transport
