// ABOUTME: Package documentation for the loom persistence layer
// ABOUTME: Describes the dialect architecture, data models, and error taxonomy

// Package store provides persistent storage for conversation threads, the
// execution steps an assistant performs inside them, attachments, feedback,
// and per-thread resumable checkpoint state.
//
// # Architecture
//
// One logical schema is implemented against two backends through a small
// Dialect adapter:
//
//   - sqlite: embedded single-file store (modernc.org/sqlite), booleans as
//     0/1 integers, JSON columns as text blobs
//   - postgres: client-server store (lib/pq), native booleans, JSONB columns,
//     soft-delete marker on threads
//
// SQLStore implements every repository operation exactly once; only the
// Dialect knows which backend is active. Callers never branch on the backend.
//
// # Data Models
//
//   - User: account with a globally unique human-facing identifier
//   - Thread: one conversation session, the root aggregate
//   - Step: one unit of assistant or tool execution, possibly nested under a
//     parent Step, possibly streamed incrementally (open/closed lifecycle)
//   - Element: attachment produced by or attached to a Step
//   - Feedback: user rating targeting a Step
//   - thread_state: single-row-per-thread resumable checkpoint blob
//
// # Error Taxonomy
//
// Operations return sentinel errors checked with errors.Is: ErrNotFound for
// absent rows, ErrDuplicateKey for unique-constraint violations,
// ErrCorruptRecord when stored JSON fails to deserialize, ErrAlreadyClosed
// for a double step close, and ErrBackendUnavailable for connectivity
// failures. The layer performs no retries; retry policy belongs to callers.
//
// # Schema Initialization
//
// EnsureSchema creates tables and indexes if absent and is safe to call
// repeatedly. It runs once during process startup; no operation performs
// implicit schema creation.
//
// # SQLite Configuration
//
// The embedded dialect sets per-connection pragmas through the DSN: WAL mode
// for concurrent reads, foreign_keys for the cascade deletes, and a
// busy_timeout so concurrent writers queue instead of failing:
//
//	?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)
package store
