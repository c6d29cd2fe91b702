// ABOUTME: Step Tracker managing the open/closed lifecycle of streaming steps
// ABOUTME: Buffers streamed output chunks and writes the full value on each append

// Package tracker manages the create-then-update lifecycle of a Step while
// an assistant action is streaming. A step is created in the Open state
// (start set, streaming true, end unset), receives zero or more partial
// output updates, and is closed exactly once. The backing store always holds
// the latest full output value, not a delta log.
package tracker

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/loomhq/loom/internal/store"
)

// Store is the subset of repository operations the tracker needs.
type Store interface {
	CreateStep(ctx context.Context, step *store.Step) error
	GetStep(ctx context.Context, id string) (*store.Step, error)
	UpdateStep(ctx context.Context, id string, upd store.StepUpdate) error
	CloseStep(ctx context.Context, id string, finalOutput *string, isError bool) error
}

// openStep carries the accumulated output of a step that is still streaming.
// Its mutex serializes appends and the final close so writes to the row are
// applied in the order the caller issued them.
type openStep struct {
	mu  sync.Mutex
	buf strings.Builder
}

// Tracker coordinates streaming step writes for one orchestration process.
// It is safe for concurrent use; different steps never block each other.
type Tracker struct {
	store  Store
	logger *slog.Logger

	mu   sync.Mutex
	open map[string]*openStep
}

// New creates a Tracker over the given store.
func New(st Store) *Tracker {
	return &Tracker{
		store:  st,
		logger: slog.Default().With("component", "tracker"),
		open:   map[string]*openStep{},
	}
}

// OpenStepParams describes a step to open.
type OpenStepParams struct {
	ThreadID string
	ParentID *string // must reference an existing step in the same thread
	Type     store.StepType
	Name     string
	Input    string
}

// OpenStep creates a step in the Open state and returns its id. The step has
// start set to now, streaming true, and end unset.
func (t *Tracker) OpenStep(ctx context.Context, p OpenStepParams) (string, error) {
	step := &store.Step{
		Name:      p.Name,
		Type:      p.Type,
		ThreadID:  p.ThreadID,
		ParentID:  p.ParentID,
		Streaming: true,
		Input:     p.Input,
		Start:     time.Now().UTC(),
	}
	if err := t.store.CreateStep(ctx, step); err != nil {
		return "", fmt.Errorf("opening step: %w", err)
	}

	t.mu.Lock()
	t.open[step.ID] = &openStep{}
	t.mu.Unlock()

	t.logger.Debug("opened step", "id", step.ID, "thread_id", p.ThreadID, "type", p.Type)
	return step.ID, nil
}

// lookup returns the in-memory buffer for an open step, reconstructing it
// from the store when the tracker has no record (e.g. after a restart that
// resumed a thread with a step left open). Returns ErrAlreadyClosed if the
// step has already been closed.
func (t *Tracker) lookup(ctx context.Context, id string) (*openStep, error) {
	t.mu.Lock()
	os, ok := t.open[id]
	t.mu.Unlock()
	if ok {
		return os, nil
	}

	step, err := t.store.GetStep(ctx, id)
	if err != nil {
		return nil, err
	}
	if !step.Open() {
		return nil, store.ErrAlreadyClosed
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if existing, ok := t.open[id]; ok {
		return existing, nil
	}
	os = &openStep{}
	os.buf.WriteString(step.Output)
	t.open[id] = os
	return os, nil
}

// AppendOutput appends a streamed chunk to an open step. Each call writes
// the full accumulated value to the store; repeated calls from one caller
// are applied in order. Valid zero or many times before closing.
func (t *Tracker) AppendOutput(ctx context.Context, id string, chunk string) error {
	os, err := t.lookup(ctx, id)
	if err != nil {
		return fmt.Errorf("appending output: %w", err)
	}

	os.mu.Lock()
	defer os.mu.Unlock()

	os.buf.WriteString(chunk)
	output := os.buf.String()
	if err := t.store.UpdateStep(ctx, id, store.StepUpdate{Output: &output}); err != nil {
		return fmt.Errorf("appending output: %w", err)
	}
	return nil
}

// CloseStep transitions a step to Closed: end is set to the current time and
// streaming flips to false in the same atomic update, so no reader observes
// a half-closed step. A nil finalOutput keeps the accumulated streamed
// output. Closing twice returns store.ErrAlreadyClosed and never mutates the
// recorded end time.
func (t *Tracker) CloseStep(ctx context.Context, id string, finalOutput *string, isError bool) error {
	t.mu.Lock()
	os := t.open[id]
	t.mu.Unlock()

	if os != nil {
		os.mu.Lock()
		defer os.mu.Unlock()
	}

	if err := t.store.CloseStep(ctx, id, finalOutput, isError); err != nil {
		return err
	}

	t.mu.Lock()
	delete(t.open, id)
	t.mu.Unlock()

	t.logger.Debug("closed step", "id", id, "is_error", isError)
	return nil
}

// Abandon forgets an open step without closing it, e.g. when the enclosing
// task is cancelled. The row stays Open in the store and is reconciled only
// by future application logic.
func (t *Tracker) Abandon(id string) {
	t.mu.Lock()
	delete(t.open, id)
	t.mu.Unlock()
	t.logger.Debug("abandoned step", "id", id)
}
