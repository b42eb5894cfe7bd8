// Package store provides SQLite-backed durable storage for replayed state
// histories.
//
// A stored session holds three things:
//   - Sessions: one header row per replay (source, counters, fingerprint)
//   - Attributes: every node of the attribute tree, keyed by handle, with
//     its path as canonical JSON
//   - Intervals: every interval of every mutated attribute; an open
//     interval has a NULL end_ts
//
// # Deterministic Query Results
//
// All multi-row queries carry an explicit ORDER BY (sessions by id,
// attributes by handle, intervals by handle then start_ts), so the same
// database always yields the same output.
//
// # Database Configuration
//
//   - WAL mode: Concurrent reads during writes
//   - synchronous=NORMAL: Balance durability/performance
//   - busy_timeout=5000: Wait for locks up to 5 seconds
//   - foreign_keys=ON: Enforce referential integrity
//
// Fingerprints are recomputed from disk with the same canonical document
// form the engine uses, so a stored session can be verified against the
// fingerprint recorded at replay time.
package store
