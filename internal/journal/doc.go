// Package journal persists finalized crossing events in SQLite.
//
// Only the outcome of each crossing is stored (who, which way, when, and
// what the plate reader saw). Ledger history and frames never reach disk.
// The schema is embedded and versioned; a database written by a different
// schema version is rejected with ErrSchemaMismatch rather than migrated.
package journal
