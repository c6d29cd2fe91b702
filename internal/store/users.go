// ABOUTME: User repository operations over the dialect adapter
// ABOUTME: CRUD plus identifier lookup and cascading user deletion

package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// CreateUser inserts a new user. An empty ID is filled from the dialect's
// id generator and a zero CreatedAt from the current time. Returns
// ErrDuplicateKey if the identifier is already taken.
func (s *SQLStore) CreateUser(ctx context.Context, user *User) error {
	if user.ID == "" {
		user.ID = s.dialect.NextID()
	}
	if user.CreatedAt.IsZero() {
		user.CreatedAt = time.Now().UTC()
	}
	if user.Metadata == nil {
		user.Metadata = map[string]any{}
	}

	metadata, err := s.dialect.JSONValue(user.Metadata)
	if err != nil {
		return fmt.Errorf("encoding user metadata: %w", err)
	}

	query := `
		INSERT INTO users (id, identifier, metadata, created_at)
		VALUES (?, ?, ?, ?)
	`
	_, err = s.exec(ctx, query, user.ID, user.Identifier, metadata, formatTime(user.CreatedAt))
	if err != nil {
		return s.wrap("inserting user", err)
	}

	s.logger.Debug("created user", "id", user.ID, "identifier", user.Identifier)
	return nil
}

// GetUser retrieves a user by id. Returns ErrNotFound if absent.
func (s *SQLStore) GetUser(ctx context.Context, id string) (*User, error) {
	query := `
		SELECT id, identifier, metadata, created_at
		FROM users
		WHERE id = ?
	`
	return s.scanUser(s.queryRow(ctx, query, id))
}

// GetUserByIdentifier retrieves a user by the human-facing identifier.
// Returns ErrNotFound if absent.
func (s *SQLStore) GetUserByIdentifier(ctx context.Context, identifier string) (*User, error) {
	query := `
		SELECT id, identifier, metadata, created_at
		FROM users
		WHERE identifier = ?
	`
	return s.scanUser(s.queryRow(ctx, query, identifier))
}

func (s *SQLStore) scanUser(row rowScanner) (*User, error) {
	var user User
	var metadata jsonMap
	var createdAt string

	err := row.Scan(&user.ID, &user.Identifier, &metadata, &createdAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("scanning user", err)
	}

	user.Metadata = map[string]any(metadata)
	user.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &user, nil
}

// UpdateUser replaces the user's metadata map. Returns ErrNotFound if the
// user does not exist.
func (s *SQLStore) UpdateUser(ctx context.Context, id string, metadata map[string]any) error {
	value, err := s.dialect.JSONValue(metadata)
	if err != nil {
		return fmt.Errorf("encoding user metadata: %w", err)
	}

	result, err := s.exec(ctx, `UPDATE users SET metadata = ? WHERE id = ?`, value, id)
	if err != nil {
		return s.wrap("updating user", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated user", "id", id)
	return nil
}

// ListUsers returns users ordered by creation time, newest first.
// If limit is 0 or negative, a default of 100 is used.
func (s *SQLStore) ListUsers(ctx context.Context, limit int) ([]*User, error) {
	if limit <= 0 {
		limit = 100
	}

	query := `
		SELECT id, identifier, metadata, created_at
		FROM users
		ORDER BY created_at DESC
		LIMIT ?
	`
	rows, err := s.query(ctx, query, limit)
	if err != nil {
		return nil, s.wrap("querying users", err)
	}
	defer rows.Close()

	var users []*User
	for rows.Next() {
		user, err := s.scanUser(rows)
		if err != nil {
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterating user rows", err)
	}
	return users, nil
}

// DeleteUser removes a user and cascades over every thread the user owns,
// including each thread's steps, elements, feedback, and checkpoint state.
// The whole cascade runs in one transaction: either all of it succeeds or
// none of it is visible.
func (s *SQLStore) DeleteUser(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("beginning transaction", err)
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, s.dialect.Rebind(`SELECT id FROM threads WHERE user_id = ?`), id)
	if err != nil {
		return s.wrap("querying user threads", err)
	}
	var threadIDs []string
	for rows.Next() {
		var threadID string
		if err := rows.Scan(&threadID); err != nil {
			rows.Close()
			return s.wrap("scanning thread id", err)
		}
		threadIDs = append(threadIDs, threadID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return s.wrap("iterating thread ids", err)
	}
	rows.Close()

	for _, threadID := range threadIDs {
		if err := s.deleteThreadTx(ctx, tx, threadID); err != nil {
			return err
		}
	}

	result, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM users WHERE id = ?`), id)
	if err != nil {
		return s.wrap("deleting user", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("committing user delete", err)
	}

	s.logger.Debug("deleted user", "id", id, "threads", len(threadIDs))
	return nil
}
