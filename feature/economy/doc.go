// Package economy is the repository facade over player accounts and the
// transaction ledger.
//
// Reads follow cache-aside: a live cache entry answers immediately and a
// miss dispatches a worker task that queries the store, decodes the document
// and populates the caches with a fixed TTL. When the store cannot answer,
// reads degrade to the last known balance and finally to a configured
// default; they do not fail. Writes are store-first: the cache is updated
// and the derived account projection invalidated only after the store
// confirms, so a failed write never leaves speculative values behind.
//
// Bounded variants cap the wait at the host's latency budget. On timeout the
// caller gets the fallback immediately while the in-flight load keeps
// running and may refresh the caches for the next caller. The existence
// check's timeout fallback is configurable because assuming existence can
// mask genuinely missing accounts.
//
// Validation failures (negative amounts, empty ids, unknown transaction
// types) are rejected before any dispatch, store or cache interaction.
//
// The Archiver is an optional maintenance task that exports aged ledger
// entries to object storage and prunes them from the hot collection.
package economy
