// ABOUTME: Checkpoint Store persisting the resumable execution state per thread
// ABOUTME: Whole-value JSON replacement on save; absent rows signal cold start

// Package checkpoint persists the serialized resumable execution state of
// the orchestration graph, one row per thread. Every save replaces the row
// wholesale — the graph always serializes its complete state, so merging
// could silently resurrect stale fields. Loading a thread that was never
// checkpointed is a cold-start signal, not an error.
package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/loomhq/loom/internal/store"
)

// StateStore is the subset of repository operations the checkpoint store
// needs.
type StateStore interface {
	SaveState(ctx context.Context, threadID string, raw []byte) error
	LoadState(ctx context.Context, threadID string) ([]byte, bool, error)
	DeleteState(ctx context.Context, threadID string) error
}

// Store saves and loads per-thread checkpoints.
type Store struct {
	store  StateStore
	logger *slog.Logger
}

// New creates a checkpoint store over the given state store.
func New(st StateStore) *Store {
	return &Store{
		store:  st,
		logger: slog.Default().With("component", "checkpoint"),
	}
}

// Save serializes state and upserts it for the thread. The write is a
// single atomic upsert; concurrent saves for the same thread linearize on
// the backing store, and a subsequent Load observes the most recently
// completed save. A failed save is returned to the caller unmodified —
// silently losing a checkpoint would silently lose resumability.
func (s *Store) Save(ctx context.Context, threadID string, state map[string]any) error {
	raw, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("serializing checkpoint: %w", err)
	}
	if err := s.store.SaveState(ctx, threadID, raw); err != nil {
		return err
	}
	s.logger.Debug("saved checkpoint", "thread_id", threadID, "size", len(raw))
	return nil
}

// Load retrieves and deserializes the checkpoint for a thread. A thread
// with no checkpoint yields ok=false and a nil error. Stored state that
// fails to deserialize surfaces as store.ErrCorruptRecord rather than
// silently defaulting.
func (s *Store) Load(ctx context.Context, threadID string) (map[string]any, bool, error) {
	raw, ok, err := s.store.LoadState(ctx, threadID)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}

	state := map[string]any{}
	if err := json.Unmarshal(raw, &state); err != nil {
		return nil, false, fmt.Errorf("%w: checkpoint for thread %s: %v",
			store.ErrCorruptRecord, threadID, err)
	}
	return state, true, nil
}

// Clear removes the checkpoint for a thread. Clearing a thread that was
// never checkpointed is a no-op.
func (s *Store) Clear(ctx context.Context, threadID string) error {
	return s.store.DeleteState(ctx, threadID)
}
