// ABOUTME: Per-thread checkpoint state row with most-recent-write-wins upsert
// ABOUTME: Single atomic upsert, never read-modify-write, so concurrent saves linearize

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveState upserts the checkpoint state for a thread. The write is a single
// atomic statement: if no row exists it is inserted, otherwise state and
// updated_at are replaced entirely. Whole-value replacement is deliberate —
// the caller always serializes its complete resumable state, and merging
// would risk resurrecting stale fields. Concurrent saves for the same
// threadID linearize on the backing store's primary-key write serialization;
// there is no read-then-write window for a stale save to win.
func (s *SQLStore) SaveState(ctx context.Context, threadID string, raw []byte) error {
	now := formatTime(time.Now().UTC())

	query := `
		INSERT INTO thread_state (thread_id, state, created_at, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (thread_id) DO UPDATE
		SET state = excluded.state, updated_at = excluded.updated_at
	`
	_, err := s.exec(ctx, query, threadID, s.dialect.RawJSONValue(raw), now, now)
	if err != nil {
		return s.wrap("saving thread state", err)
	}

	s.logger.Debug("saved thread state", "thread_id", threadID, "size", len(raw))
	return nil
}

// LoadState retrieves the checkpoint state for a thread. A thread that has
// never been checkpointed yields ok=false with a nil error — cold start is
// an expected result, not a failure.
func (s *SQLStore) LoadState(ctx context.Context, threadID string) ([]byte, bool, error) {
	var raw jsonText
	err := s.queryRow(ctx, `SELECT state FROM thread_state WHERE thread_id = ?`, threadID).Scan(&raw)
	if err == sql.ErrNoRows {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, s.wrap("querying thread state", err)
	}
	return []byte(raw), true, nil
}

// DeleteState removes the checkpoint row for a thread. Deleting a thread
// that was never checkpointed is a no-op, not an error.
func (s *SQLStore) DeleteState(ctx context.Context, threadID string) error {
	result, err := s.exec(ctx, `DELETE FROM thread_state WHERE thread_id = ?`, threadID)
	if err != nil {
		return s.wrap("deleting thread state", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected > 0 {
		s.logger.Debug("deleted thread state", "thread_id", threadID)
	}
	return nil
}
