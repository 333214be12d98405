package redis

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shamba-labs/shamba-core/internal/core/domain"
	"github.com/shamba-labs/shamba-core/internal/core/ports/driven"
)

func setupTestQueue(t *testing.T) (*Queue, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: mr.Addr(),
	})

	q, err := NewQueue(client, "worker-test")
	require.NoError(t, err)

	return q, func() {
		client.Close()
		mr.Close()
	}
}

func TestNewQueue_NilClient(t *testing.T) {
	q, err := NewQueue(nil, "worker-test")

	require.Error(t, err)
	assert.Nil(t, q)
}

func TestNewQueue_ExistingGroup(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	// A second worker against the same stream must tolerate BUSYGROUP.
	q2, err := NewQueue(q.client, "worker-test-2")

	require.NoError(t, err)
	assert.NotNil(t, q2)
}

func TestQueue_EnqueueDequeueAck(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewTask(domain.TaskTypePurgeSyncLogs, map[string]string{"retention": "720h"})
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.TaskTypePurgeSyncLogs, got.Type)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
	assert.Equal(t, 1, got.Attempts)
	assert.Equal(t, "720h", got.Payload["retention"])

	require.NoError(t, q.Ack(ctx, got.ID))

	stored, err := q.GetTask(ctx, got.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.TaskStatusCompleted, stored.Status)
	assert.NotNil(t, stored.CompletedAt)
	assert.Empty(t, stored.Error)
}

func TestQueue_DequeueEmpty(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	got, err := q.DequeueWithTimeout(context.Background(), 1)

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_Nack_Retries(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewTask(domain.TaskTypePurgeTombstones, nil)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, q.Nack(ctx, got.ID, "store unavailable"))

	stored, err := q.GetTask(ctx, got.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
	assert.Equal(t, "store unavailable", stored.Error)
	assert.Equal(t, 1, stored.Attempts)
	assert.True(t, stored.ScheduledFor.After(time.Now()), "retry should be backed off")

	// Not redelivered before the backoff expires.
	again, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, again)
}

func TestQueue_Nack_MaxAttemptsFails(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewTask(domain.TaskTypePurgeSyncLogs, nil)
	task.MaxAttempts = 1
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)

	require.NoError(t, q.Nack(ctx, got.ID, "schema rejected"))

	stored, err := q.GetTask(ctx, got.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, "schema rejected", stored.Error)
}

func TestQueue_Enqueue_DelayedNotDelivered(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewTask(domain.TaskTypePurgeSyncLogs, nil)
	task.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	assert.Nil(t, got)

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.TaskStatusPending, stored.Status)
}

func TestQueue_PromotesDueScheduledTask(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewTask(domain.TaskTypePurgeTombstones, nil)
	task.ScheduledFor = time.Now().Add(50 * time.Millisecond)
	require.NoError(t, q.Enqueue(ctx, task))

	time.Sleep(100 * time.Millisecond)

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, task.ID, got.ID)
	assert.Equal(t, domain.TaskStatusProcessing, got.Status)
}

func TestQueue_EnqueueBatch(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	first := domain.NewTask(domain.TaskTypePurgeSyncLogs, nil)
	second := domain.NewTask(domain.TaskTypePurgeTombstones, nil)
	require.NoError(t, q.EnqueueBatch(ctx, []*domain.Task{first, second}))

	got1, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got1)
	assert.Equal(t, first.ID, got1.ID)

	got2, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got2)
	assert.Equal(t, second.ID, got2.ID)
}

func TestQueue_GetTask_NotFound(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	got, err := q.GetTask(context.Background(), "no-such-task")

	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQueue_ListTasks(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	done := domain.NewTask(domain.TaskTypePurgeSyncLogs, nil)
	waiting := domain.NewTask(domain.TaskTypePurgeTombstones, nil)
	scheduled := domain.NewTask(domain.TaskTypePurgeSyncLogs, nil)
	scheduled.ScheduledFor = time.Now().Add(time.Hour)

	require.NoError(t, q.Enqueue(ctx, done))
	require.NoError(t, q.Enqueue(ctx, waiting))
	require.NoError(t, q.Enqueue(ctx, scheduled))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, done.ID, got.ID)
	require.NoError(t, q.Ack(ctx, got.ID))

	pending, err := q.ListTasks(ctx, driven.TaskFilter{Status: domain.TaskStatusPending})
	require.NoError(t, err)
	assert.Len(t, pending, 2)

	completed, err := q.ListTasks(ctx, driven.TaskFilter{Status: domain.TaskStatusCompleted})
	require.NoError(t, err)
	require.Len(t, completed, 1)
	assert.Equal(t, done.ID, completed[0].ID)

	tombstones, err := q.ListTasks(ctx, driven.TaskFilter{Type: domain.TaskTypePurgeTombstones})
	require.NoError(t, err)
	require.Len(t, tombstones, 1)
	assert.Equal(t, waiting.ID, tombstones[0].ID)
}

func TestQueue_CancelTask(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewTask(domain.TaskTypePurgeSyncLogs, nil)
	task.ScheduledFor = time.Now().Add(time.Hour)
	require.NoError(t, q.Enqueue(ctx, task))

	require.NoError(t, q.CancelTask(ctx, task.ID))

	stored, err := q.GetTask(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, domain.TaskStatusFailed, stored.Status)
	assert.Equal(t, "cancelled", stored.Error)
}

func TestQueue_CancelTask_Processing(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	task := domain.NewTask(domain.TaskTypePurgeSyncLogs, nil)
	require.NoError(t, q.Enqueue(ctx, task))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Error(t, q.CancelTask(ctx, got.ID))
}

func TestQueue_CancelTask_NotFound(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	assert.Error(t, q.CancelTask(context.Background(), "no-such-task"))
}

func TestQueue_PurgeTasks(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()
	ctx := context.Background()

	done := domain.NewTask(domain.TaskTypePurgeSyncLogs, nil)
	keep := domain.NewTask(domain.TaskTypePurgeTombstones, nil)
	require.NoError(t, q.Enqueue(ctx, done))
	require.NoError(t, q.Enqueue(ctx, keep))

	got, err := q.DequeueWithTimeout(ctx, 1)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, done.ID, got.ID)
	require.NoError(t, q.Ack(ctx, got.ID))

	purged, err := q.PurgeTasks(ctx, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, purged)

	gone, err := q.GetTask(ctx, done.ID)
	require.NoError(t, err)
	assert.Nil(t, gone)

	still, err := q.GetTask(ctx, keep.ID)
	require.NoError(t, err)
	require.NotNil(t, still)
	assert.Equal(t, domain.TaskStatusPending, still.Status)
}

func TestQueue_Ping(t *testing.T) {
	q, cleanup := setupTestQueue(t)
	defer cleanup()

	assert.NoError(t, q.Ping(context.Background()))
}
