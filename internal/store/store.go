// ABOUTME: Entity types, error taxonomy, and the Store interface for loom persistence
// ABOUTME: Defines User, Thread, Step, Element, Feedback structs and partial-update types

package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
// Callers routinely probe for optional rows, so treat this as a normal
// result, not a failure.
var ErrNotFound = errors.New("not found")

// ErrDuplicateKey is returned when an insert violates a unique constraint,
// e.g. creating a second user with the same identifier.
var ErrDuplicateKey = errors.New("duplicate key")

// ErrCorruptRecord is returned when stored structured data fails to
// deserialize. It is never silently defaulted, since defaulting would hide
// data loss.
var ErrCorruptRecord = errors.New("corrupt record")

// ErrAlreadyClosed is returned when closing a step that has already been
// closed. The first close wins; end_time is never mutated again.
var ErrAlreadyClosed = errors.New("step already closed")

// ErrBackendUnavailable is returned on connectivity or timeout failures
// against the backing store.
var ErrBackendUnavailable = errors.New("backend unavailable")

// ErrUnsupported is returned when an operation requires a dialect capability
// the active backend does not have (e.g. soft delete on sqlite).
var ErrUnsupported = errors.New("not supported by this dialect")

// User represents an account with a globally unique human-facing identifier.
type User struct {
	ID         string
	Identifier string
	Metadata   map[string]any
	CreatedAt  time.Time
}

// Thread represents one conversation session. It is the root aggregate for
// steps, elements, and checkpoint state: deleting a thread cascades to all
// of them.
type Thread struct {
	ID        string
	Name      *string
	UserID    *string
	Tags      []string
	Metadata  map[string]any
	CreatedAt time.Time

	// DeletedAt is set by SoftDeleteThread on dialects that support it.
	// Soft-deleted threads stay readable via GetThread until hard-deleted.
	DeletedAt *time.Time
}

// StepType tags the role a step plays in the execution timeline.
type StepType string

const (
	StepTypeRun       StepType = "run"
	StepTypeMessage   StepType = "message"
	StepTypeToolCall  StepType = "tool-call"
	StepTypeReasoning StepType = "reasoning"
)

// Step represents one unit of assistant or tool execution within a thread.
// A step is open while Streaming is true and End is unset, and closed once
// both flip in the same atomic update.
type Step struct {
	ID            string
	Name          string
	Type          StepType
	ThreadID      string
	ParentID      *string // references another step in the same thread
	Streaming     bool
	WaitForAnswer bool
	IsError       bool
	Input         string
	Output        string
	Command       *string
	Start         time.Time
	End           *time.Time
	Generation    map[string]any
	Tags          []string
	Metadata      map[string]any
	Indent        int
	DefaultOpen   bool
	CreatedAt     time.Time
}

// Open reports whether the step is still streaming output.
func (s *Step) Open() bool {
	return s.End == nil
}

// Element represents an attachment produced by or attached to a step.
type Element struct {
	ID        string
	ThreadID  *string
	StepID    string
	Type      string
	URL       *string
	ObjectKey *string
	Name      string
	Mime      string
	Display   string
	Size      string
	Page      *int
	Language  *string
	Props     map[string]any
}

// Feedback bounds for Feedback.Value.
const (
	FeedbackValueMin = -1
	FeedbackValueMax = 1
)

// Feedback represents a user rating targeting a step.
type Feedback struct {
	ID       string
	StepID   string
	ThreadID string
	Value    int // bounded to [FeedbackValueMin, FeedbackValueMax]
	Comment  *string
}

// ThreadUpdate describes a partial update to a thread. Nil fields are left
// untouched, never reset to defaults.
type ThreadUpdate struct {
	Name     *string
	UserID   *string
	Tags     *[]string
	Metadata *map[string]any
}

// StepUpdate describes a partial update to a step. Nil fields are left
// untouched — essential during streaming, where updates only touch output.
type StepUpdate struct {
	Name          *string
	Type          *StepType
	Streaming     *bool
	WaitForAnswer *bool
	IsError       *bool
	Input         *string
	Output        *string
	Command       *string
	Generation    *map[string]any
	Tags          *[]string
	Metadata      *map[string]any
	DefaultOpen   *bool
}

// Store defines the repository operations over the logical schema.
// SQLStore implements it for both dialects.
type Store interface {
	// Schema
	EnsureSchema(ctx context.Context) error

	// Users
	CreateUser(ctx context.Context, user *User) error
	GetUser(ctx context.Context, id string) (*User, error)
	GetUserByIdentifier(ctx context.Context, identifier string) (*User, error)
	UpdateUser(ctx context.Context, id string, metadata map[string]any) error
	ListUsers(ctx context.Context, limit int) ([]*User, error)
	DeleteUser(ctx context.Context, id string) error

	// Threads
	CreateThread(ctx context.Context, thread *Thread) error
	GetThread(ctx context.Context, id string) (*Thread, error)
	UpdateThread(ctx context.Context, id string, upd ThreadUpdate) error
	ListThreads(ctx context.Context, limit int) ([]*Thread, error)
	ListUserThreads(ctx context.Context, userID string, limit int) ([]*Thread, error)
	DeleteThread(ctx context.Context, id string) error
	SoftDeleteThread(ctx context.Context, id string) error

	// Steps
	CreateStep(ctx context.Context, step *Step) error
	GetStep(ctx context.Context, id string) (*Step, error)
	UpdateStep(ctx context.Context, id string, upd StepUpdate) error
	CloseStep(ctx context.Context, id string, finalOutput *string, isError bool) error
	ListSteps(ctx context.Context, threadID string) ([]*Step, error)
	DeleteStep(ctx context.Context, id string) error

	// Elements
	CreateElement(ctx context.Context, el *Element) error
	GetElement(ctx context.Context, id string) (*Element, error)
	ListThreadElements(ctx context.Context, threadID string) ([]*Element, error)
	ListStepElements(ctx context.Context, stepID string) ([]*Element, error)
	DeleteElement(ctx context.Context, id string) error

	// Feedback
	CreateFeedback(ctx context.Context, fb *Feedback) error
	GetFeedback(ctx context.Context, id string) (*Feedback, error)
	UpdateFeedback(ctx context.Context, id string, value int, comment *string) error
	ListThreadFeedbacks(ctx context.Context, threadID string) ([]*Feedback, error)
	DeleteFeedback(ctx context.Context, id string) error

	// Checkpoint state
	SaveState(ctx context.Context, threadID string, raw []byte) error
	LoadState(ctx context.Context, threadID string) ([]byte, bool, error)
	DeleteState(ctx context.Context, threadID string) error

	// Close releases any resources held by the store
	Close() error
}

// SQLStore implements Store against either dialect through the Dialect
// adapter. All repository operations are expressed once; only the dialect
// knows which backend is active.
type SQLStore struct {
	db      *sql.DB
	dialect Dialect
	logger  *slog.Logger
}

// NewSQLStore wraps an open database handle with the given dialect.
// Prefer OpenSQLite or OpenPostgres unless the caller manages the pool.
func NewSQLStore(db *sql.DB, dialect Dialect) *SQLStore {
	return &SQLStore{
		db:      db,
		dialect: dialect,
		logger:  slog.Default().With("component", "store", "dialect", dialect.Name()),
	}
}

// Dialect returns the active dialect adapter.
func (s *SQLStore) Dialect() Dialect {
	return s.dialect
}

// Close closes the database connection.
func (s *SQLStore) Close() error {
	s.logger.Info("closing store")
	return s.db.Close()
}

// rowScanner abstracts sql.Row and sql.Rows for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// exec runs a statement after rebinding placeholders for the active dialect.
func (s *SQLStore) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.Rebind(query), args...)
}

// queryRow runs a single-row query after rebinding placeholders.
func (s *SQLStore) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.Rebind(query), args...)
}

// query runs a multi-row query after rebinding placeholders.
func (s *SQLStore) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.Rebind(query), args...)
}

// wrap classifies a driver error into the store taxonomy and annotates it
// with the failed operation.
func (s *SQLStore) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case s.dialect.IsDuplicate(err):
		return fmt.Errorf("%s: %w (%v)", op, ErrDuplicateKey, err)
	case s.dialect.IsUnavailable(err):
		return fmt.Errorf("%s: %w (%v)", op, ErrBackendUnavailable, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Ensure SQLStore implements the Store interface
var _ Store = (*SQLStore)(nil)
