package usecase

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"inkdesk/internal/domain"
)

func newTestQueue(t *testing.T) *TaskQueue {
	t.Helper()
	q, err := OpenTaskQueue(filepath.Join(t.TempDir(), "tasks.db"))
	require.NoError(t, err)
	t.Cleanup(func() { q.Close() })
	return q
}

func TestEnqueueListComplete(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	now := time.Now()
	require.NoError(t, q.Enqueue(ctx, domain.DeferredTask{
		ID: "t1", Description: "first", Reason: "busy", AgentID: "a1", CreatedAt: now,
	}))
	require.NoError(t, q.Enqueue(ctx, domain.DeferredTask{
		ID: "t2", Description: "second", AgentID: "a1", CreatedAt: now.Add(time.Second),
	}))

	tasks, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "first", tasks[0].Description, "oldest first")
	assert.Equal(t, "busy", tasks[0].Reason)
	assert.Equal(t, "a1", tasks[0].AgentID)

	require.NoError(t, q.Complete(ctx, "t1"))
	tasks, err = q.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "t2", tasks[0].ID)
}

func TestCreatedAtRoundTrips(t *testing.T) {
	q := newTestQueue(t)
	ctx := context.Background()

	created := time.Date(2026, 8, 29, 14, 30, 0, 0, time.UTC)
	require.NoError(t, q.Enqueue(ctx, domain.DeferredTask{
		ID: "t1", Description: "timed", CreatedAt: created,
	}))

	tasks, err := q.List(ctx)
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.True(t, tasks[0].CreatedAt.Equal(created),
		"got %s, want %s", tasks[0].CreatedAt, created)
}

func TestEnqueueRequiresDescription(t *testing.T) {
	q := newTestQueue(t)
	err := q.Enqueue(context.Background(), domain.DeferredTask{ID: "t1"})
	require.ErrorIs(t, err, domain.ErrInvalidArgument)
}

func TestCompleteUnknownID(t *testing.T) {
	q := newTestQueue(t)
	err := q.Complete(context.Background(), "stale")
	require.ErrorIs(t, err, domain.ErrNotFound)
}

func TestQueueSurvivesReopen(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tasks.db")

	q, err := OpenTaskQueue(path)
	require.NoError(t, err)
	require.NoError(t, q.Enqueue(context.Background(), domain.DeferredTask{
		ID: "t1", Description: "persisted", CreatedAt: time.Now(),
	}))
	require.NoError(t, q.Close())

	q2, err := OpenTaskQueue(path)
	require.NoError(t, err)
	t.Cleanup(func() { q2.Close() })

	tasks, err := q2.List(context.Background())
	require.NoError(t, err)
	require.Len(t, tasks, 1)
	assert.Equal(t, "persisted", tasks[0].Description)
}
