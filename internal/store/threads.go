// ABOUTME: Thread repository operations including transactional cascade delete
// ABOUTME: Partial updates, soft delete (client-server dialect), and listings

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// CreateThread inserts a new thread. An empty ID is filled from the
// dialect's id generator, a zero CreatedAt from the current time.
func (s *SQLStore) CreateThread(ctx context.Context, thread *Thread) error {
	if thread.ID == "" {
		thread.ID = s.dialect.NextID()
	}
	if thread.CreatedAt.IsZero() {
		thread.CreatedAt = time.Now().UTC()
	}
	if thread.Tags == nil {
		thread.Tags = []string{}
	}
	if thread.Metadata == nil {
		thread.Metadata = map[string]any{}
	}

	tags, err := s.dialect.JSONValue(thread.Tags)
	if err != nil {
		return fmt.Errorf("encoding thread tags: %w", err)
	}
	metadata, err := s.dialect.JSONValue(thread.Metadata)
	if err != nil {
		return fmt.Errorf("encoding thread metadata: %w", err)
	}

	query := `
		INSERT INTO threads (id, created_at, name, user_id, tags, metadata)
		VALUES (?, ?, ?, ?, ?, ?)
	`
	_, err = s.exec(ctx, query,
		thread.ID,
		formatTime(thread.CreatedAt),
		thread.Name,
		thread.UserID,
		tags,
		metadata,
	)
	if err != nil {
		return s.wrap("inserting thread", err)
	}

	s.logger.Debug("created thread", "id", thread.ID)
	return nil
}

// threadColumns yields the select list for threads. The soft-delete marker
// only exists on dialects that support it; others select a NULL literal so
// scanning stays uniform.
func (s *SQLStore) threadColumns() string {
	if s.dialect.SupportsSoftDelete() {
		return "id, created_at, name, user_id, tags, metadata, deleted_at"
	}
	return "id, created_at, name, user_id, tags, metadata, NULL"
}

// notDeletedClause filters out soft-deleted threads on dialects that have
// the marker. It composes after a WHERE condition.
func (s *SQLStore) notDeletedClause() string {
	if s.dialect.SupportsSoftDelete() {
		return " AND deleted_at IS NULL"
	}
	return ""
}

// GetThread retrieves a thread by id, including soft-deleted threads (they
// remain queryable until hard-deleted). Returns ErrNotFound if absent.
func (s *SQLStore) GetThread(ctx context.Context, id string) (*Thread, error) {
	query := `SELECT ` + s.threadColumns() + ` FROM threads WHERE id = ?`
	return s.scanThread(s.queryRow(ctx, query, id))
}

func (s *SQLStore) scanThread(row rowScanner) (*Thread, error) {
	var thread Thread
	var createdAt string
	var name, userID, deletedAt sql.NullString
	var tags jsonStrings
	var metadata jsonMap

	err := row.Scan(&thread.ID, &createdAt, &name, &userID, &tags, &metadata, &deletedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("scanning thread", err)
	}

	if name.Valid {
		thread.Name = &name.String
	}
	if userID.Valid {
		thread.UserID = &userID.String
	}
	thread.Tags = []string(tags)
	thread.Metadata = map[string]any(metadata)
	thread.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	if deletedAt.Valid {
		t, err := parseTime(deletedAt.String)
		if err != nil {
			return nil, err
		}
		thread.DeletedAt = &t
	}
	return &thread, nil
}

// UpdateThread applies a partial update. Nil fields in upd are left
// untouched, never reset to defaults. Returns ErrNotFound if the thread
// does not exist.
func (s *SQLStore) UpdateThread(ctx context.Context, id string, upd ThreadUpdate) error {
	var sets []string
	var args []any

	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.UserID != nil {
		sets = append(sets, "user_id = ?")
		args = append(args, *upd.UserID)
	}
	if upd.Tags != nil {
		tags, err := s.dialect.JSONValue(*upd.Tags)
		if err != nil {
			return fmt.Errorf("encoding thread tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}
	if upd.Metadata != nil {
		metadata, err := s.dialect.JSONValue(*upd.Metadata)
		if err != nil {
			return fmt.Errorf("encoding thread metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metadata)
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := `UPDATE threads SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`

	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return s.wrap("updating thread", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated thread", "id", id)
	return nil
}

// ListThreads returns threads ordered by creation time, newest first,
// excluding soft-deleted threads. If limit is 0 or negative, a default of
// 100 is used.
func (s *SQLStore) ListThreads(ctx context.Context, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + s.threadColumns() + ` FROM threads WHERE 1 = 1` +
		s.notDeletedClause() + ` ORDER BY created_at DESC LIMIT ?`

	return s.listThreads(ctx, query, limit)
}

// ListUserThreads returns the threads owned by a user, newest first,
// excluding soft-deleted threads.
func (s *SQLStore) ListUserThreads(ctx context.Context, userID string, limit int) ([]*Thread, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `SELECT ` + s.threadColumns() + ` FROM threads WHERE user_id = ?` +
		s.notDeletedClause() + ` ORDER BY created_at DESC LIMIT ?`

	return s.listThreads(ctx, query, userID, limit)
}

func (s *SQLStore) listThreads(ctx context.Context, query string, args ...any) ([]*Thread, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("querying threads", err)
	}
	defer rows.Close()

	var threads []*Thread
	for rows.Next() {
		thread, err := s.scanThread(rows)
		if err != nil {
			return nil, err
		}
		threads = append(threads, thread)
	}

	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterating thread rows", err)
	}
	return threads, nil
}

// DeleteThread hard-deletes a thread and everything it owns: feedback,
// elements, steps, and the checkpoint state row, in dependency order, in a
// single transaction. A reader can never observe a half-deleted thread.
// Returns ErrNotFound if the thread does not exist.
func (s *SQLStore) DeleteThread(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("beginning transaction", err)
	}
	defer tx.Rollback()

	if err := s.deleteThreadTx(ctx, tx, id); err != nil {
		return err
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("committing thread delete", err)
	}

	s.logger.Debug("deleted thread", "id", id)
	return nil
}

// deleteThreadTx runs the cascade inside an existing transaction. The DDL
// declares ON DELETE CASCADE as well; explicit deletes keep both dialects on
// one code path and make the dependency order visible.
func (s *SQLStore) deleteThreadTx(ctx context.Context, tx *sql.Tx, id string) error {
	statements := []struct {
		op    string
		query string
		args  []any
	}{
		{"deleting thread feedbacks", `DELETE FROM feedbacks WHERE thread_id = ?`, []any{id}},
		{"deleting thread elements", `DELETE FROM elements WHERE thread_id = ? OR step_id IN (SELECT id FROM steps WHERE thread_id = ?)`, []any{id, id}},
		{"deleting thread steps", `DELETE FROM steps WHERE thread_id = ?`, []any{id}},
		{"deleting thread state", `DELETE FROM thread_state WHERE thread_id = ?`, []any{id}},
	}

	for _, st := range statements {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(st.query), st.args...); err != nil {
			return s.wrap(st.op, err)
		}
	}

	result, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM threads WHERE id = ?`), id)
	if err != nil {
		return s.wrap("deleting thread", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// SoftDeleteThread marks a thread deleted without removing its rows. The
// thread stays readable via GetThread and its steps and elements remain
// queryable until a hard delete cascades them away. Returns ErrUnsupported
// on dialects without the marker and ErrNotFound if the thread is absent or
// already marked.
func (s *SQLStore) SoftDeleteThread(ctx context.Context, id string) error {
	if !s.dialect.SupportsSoftDelete() {
		return fmt.Errorf("soft delete: %w", ErrUnsupported)
	}

	result, err := s.exec(ctx,
		`UPDATE threads SET deleted_at = ? WHERE id = ? AND deleted_at IS NULL`,
		formatTime(time.Now().UTC()), id)
	if err != nil {
		return s.wrap("soft-deleting thread", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("soft-deleted thread", "id", id)
	return nil
}
