// Package storage provides persistence backends for pattern state, the
// override ledger, exception rules and the global step counter.
//
// # Overview
//
// Three implementations of Backend are provided:
//
//   - File: JSON documents and a JSONL ledger under a directory, guarded by
//     advisory file locks (default)
//   - SQLite: a single database file, via modernc.org/sqlite or
//     github.com/mattn/go-sqlite3
//   - Memory: map-backed, for tests and embedding
//
// # Optimistic Concurrency
//
// Every PatternState and ExceptionRule carries a version. Save and
// UpsertRule only succeed when the stored version equals the version the
// caller read, and bump it on success. Losers receive tuning.ErrConflict and
// are expected to reload and re-apply their change; Mutate and MutateRule
// implement that loop with jittered backoff:
//
//	saved, attempts, err := storage.Mutate(ctx, backend, storage.DefaultRetryPolicy(), state,
//	    func(s *tuning.PatternState) bool {
//	        s.Detections++
//	        return true
//	    })
//
// # Corruption
//
// A state document that cannot be decoded or violates an invariant is
// reported as tuning.ErrCorruptState. Ledger lines that cannot be decoded,
// such as a partially written trailing line, are skipped.
package storage
