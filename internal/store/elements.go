// ABOUTME: Element repository operations for step attachments
// ABOUTME: Elements are step-scoped; deleting the owning step or thread removes them

package store

import (
	"context"
	"database/sql"
	"fmt"
)

const elementColumns = `id, thread_id, step_id, type, url, object_key, name, mime,
	display, size, page, language, props`

// CreateElement inserts a new element. StepID is required; ThreadID is
// optional and only used for thread-level listings. An empty ID is filled
// from the dialect's id generator.
func (s *SQLStore) CreateElement(ctx context.Context, el *Element) error {
	if el.StepID == "" {
		return fmt.Errorf("element requires a step id")
	}
	if el.ID == "" {
		el.ID = s.dialect.NextID()
	}
	if el.Props == nil {
		el.Props = map[string]any{}
	}

	props, err := s.dialect.JSONValue(el.Props)
	if err != nil {
		return fmt.Errorf("encoding element props: %w", err)
	}

	query := `
		INSERT INTO elements (` + elementColumns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`
	_, err = s.exec(ctx, query,
		el.ID,
		el.ThreadID,
		el.StepID,
		el.Type,
		el.URL,
		el.ObjectKey,
		el.Name,
		el.Mime,
		el.Display,
		el.Size,
		el.Page,
		el.Language,
		props,
	)
	if err != nil {
		return s.wrap("inserting element", err)
	}

	s.logger.Debug("created element", "id", el.ID, "step_id", el.StepID, "type", el.Type)
	return nil
}

func (s *SQLStore) scanElement(row rowScanner) (*Element, error) {
	var el Element
	var threadID, url, objectKey, mime, display, size, language sql.NullString
	var page sql.NullInt64
	var props jsonMap

	err := row.Scan(
		&el.ID,
		&threadID,
		&el.StepID,
		&el.Type,
		&url,
		&objectKey,
		&el.Name,
		&mime,
		&display,
		&size,
		&page,
		&language,
		&props,
	)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, s.wrap("scanning element", err)
	}

	if threadID.Valid {
		el.ThreadID = &threadID.String
	}
	if url.Valid {
		el.URL = &url.String
	}
	if objectKey.Valid {
		el.ObjectKey = &objectKey.String
	}
	el.Mime = mime.String
	el.Display = display.String
	el.Size = size.String
	if page.Valid {
		p := int(page.Int64)
		el.Page = &p
	}
	if language.Valid {
		el.Language = &language.String
	}
	el.Props = map[string]any(props)
	return &el, nil
}

// GetElement retrieves an element by id. Returns ErrNotFound if absent.
func (s *SQLStore) GetElement(ctx context.Context, id string) (*Element, error) {
	query := `SELECT ` + elementColumns + ` FROM elements WHERE id = ?`
	return s.scanElement(s.queryRow(ctx, query, id))
}

// ListThreadElements returns all elements attached to a thread, directly or
// through its steps.
func (s *SQLStore) ListThreadElements(ctx context.Context, threadID string) ([]*Element, error) {
	query := `
		SELECT ` + elementColumns + `
		FROM elements
		WHERE thread_id = ? OR step_id IN (SELECT id FROM steps WHERE thread_id = ?)
		ORDER BY id
	`
	return s.listElements(ctx, query, threadID, threadID)
}

// ListStepElements returns all elements attached to one step.
func (s *SQLStore) ListStepElements(ctx context.Context, stepID string) ([]*Element, error) {
	query := `SELECT ` + elementColumns + ` FROM elements WHERE step_id = ? ORDER BY id`
	return s.listElements(ctx, query, stepID)
}

func (s *SQLStore) listElements(ctx context.Context, query string, args ...any) ([]*Element, error) {
	rows, err := s.query(ctx, query, args...)
	if err != nil {
		return nil, s.wrap("querying elements", err)
	}
	defer rows.Close()

	var elements []*Element
	for rows.Next() {
		el, err := s.scanElement(rows)
		if err != nil {
			return nil, err
		}
		elements = append(elements, el)
	}

	if err := rows.Err(); err != nil {
		return nil, s.wrap("iterating element rows", err)
	}
	return elements, nil
}

// DeleteElement removes an element by id. Returns ErrNotFound if absent.
func (s *SQLStore) DeleteElement(ctx context.Context, id string) error {
	result, err := s.exec(ctx, `DELETE FROM elements WHERE id = ?`, id)
	if err != nil {
		return s.wrap("deleting element", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("getting rows affected: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	s.logger.Debug("deleted element", "id", id)
	return nil
}
