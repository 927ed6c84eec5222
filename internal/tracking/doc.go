// Package tracking turns per-frame detector output into object lifecycles.
//
// The Ledger keeps one TrackedObject per live track id, ages out objects the
// detector stops reporting, and hands each finished object to an eviction
// callback exactly once. It also owns a best-effort cache of high resolution
// frames keyed by logical frame id; the cache is pruned every cycle so it
// never holds a frame no live object references.
//
// The ledger is single-threaded. Update runs the eviction callback inline, so
// callers that do slow work on evicted objects should queue the snapshot and
// return quickly.
package tracking
