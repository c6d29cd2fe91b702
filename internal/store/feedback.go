// ABOUTME: Feedback repository operations for user ratings on steps
// ABOUTME: Values are bounded; out-of-range ratings are rejected before insert

package store

import (
	"context"
	"database/sql"
	"fmt"
)

func validateFeedbackValue(value int) error {
	if value < FeedbackValueMin || value > FeedbackValueMax {
		return fmt.Errorf("feedback value %d out of range [%d, %d]",
			value, FeedbackValueMin, FeedbackValueMax)
	}
	return nil
}

// CreateFeedback inserts a new feedback row targeting a step. An empty ID is
// filled from the dialect's id generator. The value must be within the
// documented bounds.
func (s *SQLStore) CreateFeedback(ctx context.Context, fb *Feedback) error {
	if err := validateFeedbackValue(fb.Value); err != nil {
		return err
	}
	if fb.ID == "" {
		fb.ID = s.dialect.NextID()
	}

	query := `
		INSERT INTO feedbacks (id, step_id, thread_id, value, comment)
		VALUES (?, ?, ?, ?, ?)
	`
	_, err := s.exec(ctx, query, fb.ID, fb.StepID, fb.ThreadID, fb.Value, fb.Comment)
	if err != nil {
		return s.wrap("inserting feedback", err)
	}

	s.logger.Debug("created feedback", "id", fb.ID, "step_id", fb.StepID, "value", fb.Value)
	return nil
}

func (s *SQLStore) scanFeedback(row rowScanner) (*Feedback, error) {
	var fb Feedback
	var comment sql.NullString

	err := row.Scan(&fb.ID, &fb.StepID, &fb.ThreadID, &fb.Value, &comment)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("scanning feedback", err)
	}
	if comment.Valid {
		fb.Comment = &comment.String
	}
	return &fb, nil
}

// GetFeedback retrieves a feedback row by id. Returns ErrNotFound if absent.
func (s *SQLStore) GetFeedback(ctx context.Context, id string) (*Feedback, error) {
	query := `SELECT id, step_id, thread_id, value, comment FROM feedbacks WHERE id = ?`
	return s.scanFeedback(s.queryRow(ctx, query, id))
}

// UpdateFeedback replaces the value and comment of an existing feedback row.
// Returns ErrNotFound if absent.
func (s *SQLStore) UpdateFeedback(ctx context.Context, id string, value int, comment *string) error {
	if err := validateFeedbackValue(value); err != nil {
		return err
	}

	result, err := s.exec(ctx,
		`UPDATE feedbacks SET value = ?, comment = ? WHERE id = ?`,
		value, comment, id)
	if err != nil {
		return s.wrap("updating feedback", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("updated feedback", "id", id, "value", value)
	return nil
}

// ListThreadFeedbacks returns all feedback rows in a thread.
func (s *SQLStore) ListThreadFeedbacks(ctx context.Context, threadID string) ([]*Feedback, error) {
	query := `SELECT id, step_id, thread_id, value, comment FROM feedbacks WHERE thread_id = ? ORDER BY id`
	rows, err := s.query(ctx, query, threadID)
	if err != nil {
		return nil, s.wrap("querying feedbacks", err)
	}
	defer rows.Close()

	var feedbacks []*Feedback
	for rows.Next() {
		fb, err := s.scanFeedback(rows)
		if err != nil {
			return nil, err
		}
		feedbacks = append(feedbacks, fb)
	}

	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterating feedback rows", err)
	}
	return feedbacks, nil
}

// DeleteFeedback removes a feedback row by id. Returns ErrNotFound if absent.
func (s *SQLStore) DeleteFeedback(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM feedbacks WHERE id = ?`, id)
	if err != nil {
		return s.wrap("deleting feedback", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted feedback", "id", id)
	return nil
}
