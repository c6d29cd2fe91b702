// ABOUTME: Idempotent schema creation for both dialects
// ABOUTME: EnsureSchema creates tables and indexes only if absent, never alters

package store

import "context"

// EnsureSchema creates all tables and indexes for the active dialect if they
// do not already exist. It is idempotent and safe to call repeatedly, but is
// intended to run exactly once during process startup; no other operation
// creates schema implicitly. Existing column types are never altered.
func (s *SQLStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, s.dialect.DDL()); err != nil {
		return s.wrap("creating schema", err)
	}
	s.logger.Info("schema ensured")
	return nil
}

// sqliteSchema is the embedded encoding of the logical schema: text ids,
// 0/1 integer booleans, JSON columns as text blobs defaulting to '{}'/'[]',
// RFC3339 text timestamps, ON DELETE CASCADE down the aggregate.
const sqliteSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		identifier TEXT NOT NULL UNIQUE,
		metadata TEXT NOT NULL DEFAULT '{}',
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_created ON users(created_at);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		name TEXT,
		user_id TEXT REFERENCES users(id) ON DELETE CASCADE,
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_threads_created ON threads(created_at);
	CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id);

	CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		parent_id TEXT REFERENCES steps(id) ON DELETE CASCADE,
		streaming INTEGER NOT NULL DEFAULT 0,
		wait_for_answer INTEGER NOT NULL DEFAULT 0,
		is_error INTEGER NOT NULL DEFAULT 0,
		input TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		command TEXT,
		start_time TEXT NOT NULL,
		end_time TEXT,
		generation TEXT NOT NULL DEFAULT '{}',
		tags TEXT NOT NULL DEFAULT '[]',
		metadata TEXT NOT NULL DEFAULT '{}',
		indent INTEGER NOT NULL DEFAULT 0,
		default_open INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_steps_thread ON steps(thread_id);
	CREATE INDEX IF NOT EXISTS idx_steps_parent ON steps(parent_id);
	CREATE INDEX IF NOT EXISTS idx_steps_type ON steps(type);
	CREATE INDEX IF NOT EXISTS idx_steps_name ON steps(name);
	CREATE INDEX IF NOT EXISTS idx_steps_start ON steps(start_time);
	CREATE INDEX IF NOT EXISTS idx_steps_end ON steps(end_time);
	CREATE INDEX IF NOT EXISTS idx_steps_created ON steps(created_at);
	CREATE INDEX IF NOT EXISTS idx_steps_timeline ON steps(thread_id, start_time, end_time);

	CREATE TABLE IF NOT EXISTS elements (
		id TEXT PRIMARY KEY,
		thread_id TEXT REFERENCES threads(id) ON DELETE CASCADE,
		step_id TEXT NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		url TEXT,
		object_key TEXT,
		name TEXT NOT NULL,
		mime TEXT,
		display TEXT,
		size TEXT,
		page INTEGER,
		language TEXT,
		props TEXT NOT NULL DEFAULT '{}'
	);

	CREATE INDEX IF NOT EXISTS idx_elements_thread ON elements(thread_id);
	CREATE INDEX IF NOT EXISTS idx_elements_step ON elements(step_id);

	CREATE TABLE IF NOT EXISTS feedbacks (
		id TEXT PRIMARY KEY,
		step_id TEXT NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
		thread_id TEXT NOT NULL,
		value INTEGER NOT NULL,
		comment TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_feedbacks_step ON feedbacks(step_id);
	CREATE INDEX IF NOT EXISTS idx_feedbacks_thread ON feedbacks(thread_id);

	CREATE TABLE IF NOT EXISTS thread_state (
		thread_id TEXT PRIMARY KEY REFERENCES threads(id) ON DELETE CASCADE,
		state TEXT NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
`

// postgresSchema is the client-server encoding: native booleans, JSONB
// columns, RFC3339 text timestamps, the same cascade rules, plus a
// deleted_at soft-delete marker on threads that coexists with hard delete.
const postgresSchema = `
	CREATE TABLE IF NOT EXISTS users (
		id TEXT PRIMARY KEY,
		identifier TEXT NOT NULL UNIQUE,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_users_created ON users(created_at);

	CREATE TABLE IF NOT EXISTS threads (
		id TEXT PRIMARY KEY,
		created_at TEXT NOT NULL,
		name TEXT,
		user_id TEXT REFERENCES users(id) ON DELETE CASCADE,
		tags JSONB NOT NULL DEFAULT '[]'::jsonb,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		deleted_at TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_threads_created ON threads(created_at);
	CREATE INDEX IF NOT EXISTS idx_threads_user ON threads(user_id);

	CREATE TABLE IF NOT EXISTS steps (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		type TEXT NOT NULL,
		thread_id TEXT NOT NULL REFERENCES threads(id) ON DELETE CASCADE,
		parent_id TEXT REFERENCES steps(id) ON DELETE CASCADE,
		streaming BOOLEAN NOT NULL DEFAULT FALSE,
		wait_for_answer BOOLEAN NOT NULL DEFAULT FALSE,
		is_error BOOLEAN NOT NULL DEFAULT FALSE,
		input TEXT NOT NULL DEFAULT '',
		output TEXT NOT NULL DEFAULT '',
		command TEXT,
		start_time TEXT NOT NULL,
		end_time TEXT,
		generation JSONB NOT NULL DEFAULT '{}'::jsonb,
		tags JSONB NOT NULL DEFAULT '[]'::jsonb,
		metadata JSONB NOT NULL DEFAULT '{}'::jsonb,
		indent INTEGER NOT NULL DEFAULT 0,
		default_open BOOLEAN NOT NULL DEFAULT FALSE,
		created_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_steps_thread ON steps(thread_id);
	CREATE INDEX IF NOT EXISTS idx_steps_parent ON steps(parent_id);
	CREATE INDEX IF NOT EXISTS idx_steps_type ON steps(type);
	CREATE INDEX IF NOT EXISTS idx_steps_name ON steps(name);
	CREATE INDEX IF NOT EXISTS idx_steps_start ON steps(start_time);
	CREATE INDEX IF NOT EXISTS idx_steps_end ON steps(end_time);
	CREATE INDEX IF NOT EXISTS idx_steps_created ON steps(created_at);
	CREATE INDEX IF NOT EXISTS idx_steps_timeline ON steps(thread_id, start_time, end_time);

	CREATE TABLE IF NOT EXISTS elements (
		id TEXT PRIMARY KEY,
		thread_id TEXT REFERENCES threads(id) ON DELETE CASCADE,
		step_id TEXT NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
		type TEXT NOT NULL,
		url TEXT,
		object_key TEXT,
		name TEXT NOT NULL,
		mime TEXT,
		display TEXT,
		size TEXT,
		page INTEGER,
		language TEXT,
		props JSONB NOT NULL DEFAULT '{}'::jsonb
	);

	CREATE INDEX IF NOT EXISTS idx_elements_thread ON elements(thread_id);
	CREATE INDEX IF NOT EXISTS idx_elements_step ON elements(step_id);

	CREATE TABLE IF NOT EXISTS feedbacks (
		id TEXT PRIMARY KEY,
		step_id TEXT NOT NULL REFERENCES steps(id) ON DELETE CASCADE,
		thread_id TEXT NOT NULL,
		value INTEGER NOT NULL,
		comment TEXT
	);

	CREATE INDEX IF NOT EXISTS idx_feedbacks_step ON feedbacks(step_id);
	CREATE INDEX IF NOT EXISTS idx_feedbacks_thread ON feedbacks(thread_id);

	CREATE TABLE IF NOT EXISTS thread_state (
		thread_id TEXT PRIMARY KEY REFERENCES threads(id) ON DELETE CASCADE,
		state JSONB NOT NULL,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	);
`
