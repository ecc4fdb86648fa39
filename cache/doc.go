// Package cache holds validated tokens in process memory so that repeated
// requests with the same token skip the identity service.
//
// An entry never outlives the earlier of the token's real expiry and the
// configured TTL. The cache performs no I/O.
//
// The rediscache sub-package provides a shared tier with the same bounds for
// deployments running several replicas.
package cache
