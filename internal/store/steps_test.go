package store

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStore_CreateStep_Defaults(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)

	step := &Step{Name: "answer", Type: StepTypeMessage, ThreadID: threadID}
	require.NoError(t, s.CreateStep(ctx, step))
	require.NotEmpty(t, step.ID)

	retrieved, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.False(t, retrieved.Start.IsZero(), "start defaults to creation time")
	assert.Nil(t, retrieved.End)
	assert.False(t, retrieved.Streaming)
	assert.NotNil(t, retrieved.Generation)
	assert.NotNil(t, retrieved.Tags)
	assert.NotNil(t, retrieved.Metadata)
}

func TestStore_CreateStep_ParentInDifferentThread(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadA := mustCreateThread(t, s, nil)
	threadB := mustCreateThread(t, s, nil)

	parent := &Step{Name: "run", Type: StepTypeRun, ThreadID: threadA}
	require.NoError(t, s.CreateStep(ctx, parent))

	child := &Step{Name: "search", Type: StepTypeToolCall, ThreadID: threadB, ParentID: &parent.ID}
	err := s.CreateStep(ctx, child)
	assert.Error(t, err, "parent must reference a step in the same thread")
}

func TestStore_CreateStep_ParentMissing(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)
	missing := "no-such-step"
	step := &Step{Name: "search", Type: StepTypeToolCall, ThreadID: threadID, ParentID: &missing}

	err := s.CreateStep(ctx, step)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_ListSteps_OrderedByStart(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)
	base := time.Now().UTC()

	// Insert out of start-time order.
	for _, tc := range []struct {
		id     string
		offset time.Duration
	}{
		{"s3", 2 * time.Second},
		{"s1", 0},
		{"s2", time.Second},
	} {
		require.NoError(t, s.CreateStep(ctx, &Step{
			ID:       tc.id,
			Name:     tc.id,
			Type:     StepTypeToolCall,
			ThreadID: threadID,
			Start:    base.Add(tc.offset),
		}))
	}

	steps, err := s.ListSteps(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, steps, 3)
	assert.Equal(t, "s1", steps[0].ID)
	assert.Equal(t, "s2", steps[1].ID)
	assert.Equal(t, "s3", steps[2].ID)
}

func TestStore_ListSteps_TieBrokenByInsertionOrder(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)
	start := time.Now().UTC()

	for i := 0; i < 5; i++ {
		require.NoError(t, s.CreateStep(ctx, &Step{
			ID:        fmt.Sprintf("s%d", i),
			Name:      fmt.Sprintf("s%d", i),
			Type:      StepTypeToolCall,
			ThreadID:  threadID,
			Start:     start,
			CreatedAt: start.Add(time.Duration(i) * time.Millisecond),
		}))
	}

	steps, err := s.ListSteps(ctx, threadID)
	require.NoError(t, err)
	require.Len(t, steps, 5)
	for i, step := range steps {
		assert.Equal(t, fmt.Sprintf("s%d", i), step.ID)
	}
}

func TestStore_UpdateStep_PartialFields(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)
	step := &Step{
		Name:     "search",
		Type:     StepTypeToolCall,
		ThreadID: threadID,
		Input:    `{"query":"weather"}`,
	}
	require.NoError(t, s.CreateStep(ctx, step))

	// Streaming updates only touch output; everything else stays put.
	output := "partial result"
	require.NoError(t, s.UpdateStep(ctx, step.ID, StepUpdate{Output: &output}))

	retrieved, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, "partial result", retrieved.Output)
	assert.Equal(t, `{"query":"weather"}`, retrieved.Input)
	assert.Equal(t, "search", retrieved.Name)
}

func TestStore_CloseStep(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)
	step := &Step{Name: "search", Type: StepTypeToolCall, ThreadID: threadID, Streaming: true}
	require.NoError(t, s.CreateStep(ctx, step))

	final := "done"
	require.NoError(t, s.CloseStep(ctx, step.ID, &final, false))

	retrieved, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	require.NotNil(t, retrieved.End)
	assert.False(t, retrieved.Streaming, "end set and streaming cleared in the same update")
	assert.False(t, retrieved.End.Before(retrieved.Start), "end must be >= start")
	assert.Equal(t, "done", retrieved.Output)
}

func TestStore_CloseStep_Twice(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)
	step := &Step{Name: "search", Type: StepTypeToolCall, ThreadID: threadID, Streaming: true}
	require.NoError(t, s.CreateStep(ctx, step))

	require.NoError(t, s.CloseStep(ctx, step.ID, nil, false))

	closed, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	firstEnd := *closed.End

	err = s.CloseStep(ctx, step.ID, nil, true)
	assert.ErrorIs(t, err, ErrAlreadyClosed)

	// The recorded end time never moves.
	again, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, firstEnd, *again.End)
	assert.False(t, again.IsError, "failed second close must not flip the error flag")
}

func TestStore_CloseStep_NotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.CloseStep(context.Background(), "nonexistent", nil, false)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_CloseStep_KeepsStreamedOutput(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)
	step := &Step{Name: "answer", Type: StepTypeMessage, ThreadID: threadID, Streaming: true}
	require.NoError(t, s.CreateStep(ctx, step))

	streamed := "streamed so far"
	require.NoError(t, s.UpdateStep(ctx, step.ID, StepUpdate{Output: &streamed}))

	// nil final output keeps whatever streaming wrote last.
	require.NoError(t, s.CloseStep(ctx, step.ID, nil, false))

	retrieved, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, "streamed so far", retrieved.Output)
}

func TestStore_DeleteStep_Subtree(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)

	root := &Step{Name: "run", Type: StepTypeRun, ThreadID: threadID}
	require.NoError(t, s.CreateStep(ctx, root))
	child := &Step{Name: "search", Type: StepTypeToolCall, ThreadID: threadID, ParentID: &root.ID}
	require.NoError(t, s.CreateStep(ctx, child))
	grandchild := &Step{Name: "fetch", Type: StepTypeToolCall, ThreadID: threadID, ParentID: &child.ID}
	require.NoError(t, s.CreateStep(ctx, grandchild))

	el := &Element{StepID: grandchild.ID, Type: "file", Name: "page.html"}
	require.NoError(t, s.CreateElement(ctx, el))

	sibling := &Step{Name: "aside", Type: StepTypeMessage, ThreadID: threadID}
	require.NoError(t, s.CreateStep(ctx, sibling))

	require.NoError(t, s.DeleteStep(ctx, child.ID))

	_, err := s.GetStep(ctx, child.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetStep(ctx, grandchild.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetElement(ctx, el.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	// Unrelated steps survive.
	_, err = s.GetStep(ctx, root.ID)
	assert.NoError(t, err)
	_, err = s.GetStep(ctx, sibling.ID)
	assert.NoError(t, err)
}

func TestStore_DeleteStep_NotFound(t *testing.T) {
	s := setupTestStore(t)

	err := s.DeleteStep(context.Background(), "nonexistent")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestStore_GenerationRoundTrip(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	threadID := mustCreateThread(t, s, nil)
	generation := map[string]any{
		"provider": "bedrock",
		"usage":    map[string]any{"input_tokens": float64(120), "output_tokens": float64(48)},
	}
	step := &Step{Name: "answer", Type: StepTypeMessage, ThreadID: threadID, Generation: generation}
	require.NoError(t, s.CreateStep(ctx, step))

	retrieved, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.Equal(t, generation, retrieved.Generation)
}

// Scenario from the assistant runtime: a tool call is opened, streams twice,
// and closes successfully.
func TestStore_StreamingStepScenario(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	user := &User{Identifier: "alice"}
	require.NoError(t, s.CreateUser(ctx, user))

	thread := &Thread{UserID: &user.ID}
	require.NoError(t, s.CreateThread(ctx, thread))

	step := &Step{
		Name:      "search",
		Type:      StepTypeToolCall,
		ThreadID:  thread.ID,
		Streaming: true,
		Input:     `{"query":"go sqlite driver"}`,
	}
	require.NoError(t, s.CreateStep(ctx, step))

	first := "partial…"
	require.NoError(t, s.UpdateStep(ctx, step.ID, StepUpdate{Output: &first}))
	second := "partial…partial…"
	require.NoError(t, s.UpdateStep(ctx, step.ID, StepUpdate{Output: &second}))

	require.NoError(t, s.CloseStep(ctx, step.ID, nil, false))

	retrieved, err := s.GetStep(ctx, step.ID)
	require.NoError(t, err)
	assert.False(t, retrieved.Streaming)
	require.NotNil(t, retrieved.End)
	assert.Equal(t, "partial…partial…", retrieved.Output)
	assert.False(t, retrieved.IsError)
}
