// Package cache provides a generic, thread-safe TTL cache.
//
// Entries carry an optional expiry timestamp; a zero timestamp means the
// entry never expires. Expired entries are never observable: Get, Contains
// and Len all treat them as absent. Cleanup happens two ways:
//
//   - Lazily: a lookup that finds an expired entry evicts it on the spot.
//   - Periodically: a janitor goroutine sweeps the whole map on a fixed
//     interval, so keys that are written once and never re-read still get
//     reclaimed.
//
// GetOrCompute folds the miss-then-fill sequence into a single call for
// callers that want read-through behavior. It deliberately does not
// deduplicate concurrent computes for the same key; duplicate loads are
// tolerated and the last writer wins. Callers that want stampede protection
// wrap the compute in singleflight.
//
// The clock is injectable (WithClock) so tests can expire entries with a
// simulated clock instead of sleeping.
package cache
