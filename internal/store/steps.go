// ABOUTME: Step repository operations: streamed create/update lifecycle and timeline queries
// ABOUTME: CloseStep flips end_time and streaming in one atomic guarded update

package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

const stepColumns = `id, name, type, thread_id, parent_id, streaming, wait_for_answer,
	is_error, input, output, command, start_time, end_time, generation, tags, metadata,
	indent, default_open, created_at`

// CreateStep inserts a new step. An empty ID is filled from the dialect's id
// generator; a zero Start defaults to CreatedAt so the timeline ordering is
// total. If ParentID is set, the parent must already exist in the same
// thread.
func (s *SQLStore) CreateStep(ctx context.Context, step *Step) error {
	if step.ID == "" {
		step.ID = s.dialect.NextID()
	}
	if step.CreatedAt.IsZero() {
		step.CreatedAt = time.Now().UTC()
	}
	if step.Start.IsZero() {
		step.Start = step.CreatedAt
	}
	if step.Generation == nil {
		step.Generation = map[string]any{}
	}
	if step.Tags == nil {
		step.Tags = []string{}
	}
	if step.Metadata == nil {
		step.Metadata = map[string]any{}
	}

	if step.ParentID != nil {
		var parentThread string
		err := s.queryRow(ctx, `SELECT thread_id FROM steps WHERE id = ?`, *step.ParentID).Scan(&parentThread)
		if err == sql.ErrNoRows {
			return fmt.Errorf("parent step %s: %w", *step.ParentID, ErrNotFound)
		}
		if err != nil {
			return s.wrap("querying parent step", err)
		}
		if parentThread != step.ThreadID {
			return fmt.Errorf("parent step %s belongs to thread %s, not %s",
				*step.ParentID, parentThread, step.ThreadID)
		}
	}

	generation, err := s.dialect.JSONValue(step.Generation)
	if err != nil {
		return fmt.Errorf("encoding step generation: %w", err)
	}
	tags, err := s.dialect.JSONValue(step.Tags)
	if err != nil {
		return fmt.Errorf("encoding step tags: %w", err)
	}
	metadata, err := s.dialect.JSONValue(step.Metadata)
	if err != nil {
		return fmt.Errorf("encoding step metadata: %w", err)
	}

	var endTime any
	if step.End != nil {
		endTime = formatTime(*step.End)
	}

	query := `
		INSERT INTO steps (` + stepColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.exec(ctx, query,
		step.ID,
		step.Name,
		string(step.Type),
		step.ThreadID,
		step.ParentID,
		s.dialect.BoolValue(step.Streaming),
		s.dialect.BoolValue(step.WaitForAnswer),
		s.dialect.BoolValue(step.IsError),
		step.Input,
		step.Output,
		step.Command,
		formatTime(step.Start),
		endTime,
		generation,
		tags,
		metadata,
		step.Indent,
		s.dialect.BoolValue(step.DefaultOpen),
		formatTime(step.CreatedAt),
	)
	if err != nil {
		return s.wrap("inserting step", err)
	}

	s.logger.Debug("created step",
		"id", step.ID,
		"thread_id", step.ThreadID,
		"type", step.Type,
		"streaming", step.Streaming,
	)
	return nil
}

func (s *SQLStore) scanStep(row rowScanner) (*Step, error) {
	var step Step
	var stepType string
	var parentID, command, endTime sql.NullString
	var streaming, waitForAnswer, isError, defaultOpen boolColumn
	var startTime, createdAt string
	var generation, metadata jsonMap
	var tags jsonStrings

	err := row.Scan(
		&step.ID,
		&step.Name,
		&stepType,
		&step.ThreadID,
		&parentID,
		&streaming,
		&waitForAnswer,
		&isError,
		&step.Input,
		&step.Output,
		&command,
		&startTime,
		&endTime,
		&generation,
		&tags,
		&metadata,
		&step.Indent,
		&defaultOpen,
		&createdAt,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("scanning step", err)
	}

	step.Type = StepType(stepType)
	if parentID.Valid {
		step.ParentID = &parentID.String
	}
	step.Streaming = bool(streaming)
	step.WaitForAnswer = bool(waitForAnswer)
	step.IsError = bool(isError)
	if command.Valid {
		step.Command = &command.String
	}
	step.Start, err = parseTime(startTime)
	if err != nil {
		return nil, err
	}
	if endTime.Valid {
		t, err := parseTime(endTime.String)
		if err != nil {
			return nil, err
		}
		step.End = &t
	}
	step.Generation = map[string]any(generation)
	step.Tags = []string(tags)
	step.Metadata = map[string]any(metadata)
	step.CreatedAt, err = parseTime(createdAt)
	if err != nil {
		return nil, err
	}
	return &step, nil
}

// GetStep retrieves a step by id. Returns ErrNotFound if absent.
func (s *SQLStore) GetStep(ctx context.Context, id string) (*Step, error) {
	query := `SELECT ` + stepColumns + ` FROM steps WHERE id = ?`
	return s.scanStep(s.queryRow(ctx, query, id))
}

// UpdateStep applies a partial update. Nil fields in upd are left untouched,
// never reset to defaults — streaming updates only touch output. Callers
// issue updates to one step in order; the layer never reorders writes to the
// same row. Returns ErrNotFound if the step does not exist.
func (s *SQLStore) UpdateStep(ctx context.Context, id string, upd StepUpdate) error {
	var sets []string
	var args []any

	if upd.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *upd.Name)
	}
	if upd.Type != nil {
		sets = append(sets, "type = ?")
		args = append(args, string(*upd.Type))
	}
	if upd.Streaming != nil {
		sets = append(sets, "streaming = ?")
		args = append(args, s.dialect.BoolValue(*upd.Streaming))
	}
	if upd.WaitForAnswer != nil {
		sets = append(sets, "wait_for_answer = ?")
		args = append(args, s.dialect.BoolValue(*upd.WaitForAnswer))
	}
	if upd.IsError != nil {
		sets = append(sets, "is_error = ?")
		args = append(args, s.dialect.BoolValue(*upd.IsError))
	}
	if upd.Input != nil {
		sets = append(sets, "input = ?")
		args = append(args, *upd.Input)
	}
	if upd.Output != nil {
		sets = append(sets, "output = ?")
		args = append(args, *upd.Output)
	}
	if upd.Command != nil {
		sets = append(sets, "command = ?")
		args = append(args, *upd.Command)
	}
	if upd.Generation != nil {
		generation, err := s.dialect.JSONValue(*upd.Generation)
		if err != nil {
			return fmt.Errorf("encoding step generation: %w", err)
		}
		sets = append(sets, "generation = ?")
		args = append(args, generation)
	}
	if upd.Tags != nil {
		tags, err := s.dialect.JSONValue(*upd.Tags)
		if err != nil {
			return fmt.Errorf("encoding step tags: %w", err)
		}
		sets = append(sets, "tags = ?")
		args = append(args, tags)
	}
	if upd.Metadata != nil {
		metadata, err := s.dialect.JSONValue(*upd.Metadata)
		if err != nil {
			return fmt.Errorf("encoding step metadata: %w", err)
		}
		sets = append(sets, "metadata = ?")
		args = append(args, metadata)
	}
	if upd.DefaultOpen != nil {
		sets = append(sets, "default_open = ?")
		args = append(args, s.dialect.BoolValue(*upd.DefaultOpen))
	}
	if len(sets) == 0 {
		return nil
	}

	args = append(args, id)
	query := `UPDATE steps SET ` + strings.Join(sets, ", ") + ` WHERE id = ?`

	result, err := s.exec(ctx, query, args...)
	if err != nil {
		return s.wrap("updating step", err)
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

// CloseStep transitions a step from open to closed: end_time is set,
// streaming flips to false, and the final output and error flag are
// recorded, all in one atomic update so no reader can observe a step with
// end_time set but streaming still true. A nil finalOutput keeps the output
// already streamed in. The first close wins; a second call returns
// ErrAlreadyClosed and never mutates end_time.
func (s *SQLStore) CloseStep(ctx context.Context, id string, finalOutput *string, isError bool) error {
	query := `
		UPDATE steps
		SET end_time = ?, streaming = ?, is_error = ?, output = COALESCE(?, output)
		WHERE id = ? AND end_time IS NULL
	`
	result, err := s.exec(ctx, query,
		formatTime(time.Now().UTC()),
		s.dialect.BoolValue(false),
		s.dialect.BoolValue(isError),
		finalOutput,
		id,
	)
	if err != nil {
		return s.wrap("closing step", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 1 {
		s.logger.Debug("closed step", "id", id, "is_error", isError)
		return nil
	}

	// Zero rows: the step is either gone or already closed.
	var exists int
	err = s.queryRow(ctx, `SELECT 1 FROM steps WHERE id = ?`, id).Scan(&exists)
	if err == sql.ErrNoRows {
		return ErrNotFound
	}
	if err != nil {
		return s.wrap("checking step", err)
	}
	return ErrAlreadyClosed
}

// ListSteps returns all steps of a thread ordered ascending by start time,
// ties broken by insertion order, so partially-interleaved concurrent steps
// reconstruct a stable, deterministic timeline.
func (s *SQLStore) ListSteps(ctx context.Context, threadID string) ([]*Step, error) {
	query := `
		SELECT ` + stepColumns + `
		FROM steps
		WHERE thread_id = ?
		ORDER BY start_time ASC, created_at ASC, id ASC
	`
	rows, err := s.query(ctx, query, threadID)
	if err != nil {
		return nil, s.wrap("querying steps", err)
	}
	defer rows.Close()

	var steps []*Step
	for rows.Next() {
		step, err := s.scanStep(rows)
		if err != nil {
			return nil, err
		}
		steps = append(steps, step)
	}

	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterating step rows", err)
	}
	return steps, nil
}

// DeleteStep removes a step, its descendant steps, and every element and
// feedback row attached to the subtree, in a single transaction.
// Returns ErrNotFound if the step does not exist.
func (s *SQLStore) DeleteStep(ctx context.Context, id string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return s.wrap("beginning transaction", err)
	}
	defer tx.Rollback()

	// Collect the subtree rooted at id; elements and feedback reference
	// concrete step ids, so the cascade needs the full list.
	subtreeQuery := s.dialect.Rebind(`
		WITH RECURSIVE subtree(id) AS (
			SELECT id FROM steps WHERE id = ?
			UNION ALL
			SELECT st.id FROM steps st JOIN subtree sub ON st.parent_id = sub.id
		)
		SELECT id FROM subtree
	`)
	rows, err := tx.QueryContext(ctx, subtreeQuery, id)
	if err != nil {
		return s.wrap("querying step subtree", err)
	}
	var ids []any
	for rows.Next() {
		var stepID string
		if err := rows.Scan(&stepID); err != nil {
			rows.Close()
			return s.wrap("scanning subtree id", err)
		}
		ids = append(ids, stepID)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return s.wrap("iterating subtree ids", err)
	}
	rows.Close()

	if len(ids) == 0 {
		return ErrNotFound
	}

	in := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(ids)), ", ") + ")"
	for _, st := range []struct {
		op    string
		query string
	}{
		{"deleting step feedbacks", `DELETE FROM feedbacks WHERE step_id IN ` + in},
		{"deleting step elements", `DELETE FROM elements WHERE step_id IN ` + in},
	} {
		if _, err := tx.ExecContext(ctx, s.dialect.Rebind(st.query), ids...); err != nil {
			return s.wrap(st.op, err)
		}
	}

	// Descendants cascade through the parent_id foreign key.
	if _, err := tx.ExecContext(ctx, s.dialect.Rebind(`DELETE FROM steps WHERE id = ?`), id); err != nil {
		return s.wrap("deleting step", err)
	}

	if err := tx.Commit(); err != nil {
		return s.wrap("committing step delete", err)
	}

	s.logger.Debug("deleted step", "id", id, "subtree", len(ids))
	return nil
}
