// Package store defines the persistence contract for analysis tasks.
//
// Implementations live under internal/platform (Postgres and SQLite). Each
// one runs domain.ValidateChange inside its write transaction so that the
// transition table, monotonic progress and cross-field invariants are
// enforced at the persistence boundary rather than by callers.
package store
