// Package ratelimit throttles host routes such as login using the window and
// attempt budget carried in aethergate.Config.RateLimit.
//
// # Window semantics
//
// [RedisLimiter] uses fixed-window counters shared across replicas: INCR plus
// EXPIRE on the first hit of a window. [MemoryLimiter] keeps a token bucket
// per key in process, refilling max tokens per window.
//
// # What this package must NOT do
//
//   - Decide authentication outcomes. A limiter failure fails open.
//   - Be consulted by aethergate itself; only hosts wire it in.
package ratelimit
