package distributed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setupRetryQueue(t *testing.T) (*miniredis.Miniredis, *RetryQueue) {
	mr := miniredis.RunT(t)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	queue := NewRetryQueue(client, "webhooks", time.Second)
	return mr, queue
}

func newTask() *DeliveryTask {
	body, _ := json.Marshal(map[string]string{"type": "MATCH_READY"})
	return &DeliveryTask{
		ID:          uuid.New().String(),
		Channel:     "webhook",
		Target:      "http://voice-system.internal/hooks/queue",
		Body:        body,
		MaxAttempts: 3,
	}
}

func TestRetryQueue_EnqueueDequeue(t *testing.T) {
	_, queue := setupRetryQueue(t)
	ctx := context.Background()

	task := newTask()
	require.NoError(t, queue.Enqueue(ctx, task, time.Now()))

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)

	dequeued, err := queue.Dequeue(ctx)
	require.NoError(t, err)
	assert.Equal(t, task.ID, dequeued.ID)
	assert.Equal(t, task.Target, dequeued.Target)

	// Queue drained, task is in-flight
	_, err = queue.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRetryQueue_NotDueYet(t *testing.T) {
	_, queue := setupRetryQueue(t)
	ctx := context.Background()

	require.NoError(t, queue.Enqueue(ctx, newTask(), time.Now().Add(time.Hour)))

	_, err := queue.Dequeue(ctx)
	assert.ErrorIs(t, err, ErrQueueEmpty)
}

func TestRetryQueue_RetryBacksOff(t *testing.T) {
	_, queue := setupRetryQueue(t)
	ctx := context.Background()

	task := newTask()
	require.NoError(t, queue.Enqueue(ctx, task, time.Now()))

	dequeued, err := queue.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, queue.Retry(ctx, dequeued))
	assert.Equal(t, 1, dequeued.Attempts)

	// Back on the schedule, not immediately due
	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), size)
}

func TestRetryQueue_ExhaustedGoesToDLQ(t *testing.T) {
	_, queue := setupRetryQueue(t)
	ctx := context.Background()

	task := newTask()
	task.Attempts = task.MaxAttempts - 1
	require.NoError(t, queue.Enqueue(ctx, task, time.Now()))

	dequeued, err := queue.Dequeue(ctx)
	require.NoError(t, err)

	require.NoError(t, queue.Retry(ctx, dequeued))

	dlqSize, err := queue.DLQSize(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(1), dlqSize)

	size, err := queue.Size(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(0), size)
}

func TestRetryQueue_Complete(t *testing.T) {
	_, queue := setupRetryQueue(t)
	ctx := context.Background()

	task := newTask()
	require.NoError(t, queue.Enqueue(ctx, task, time.Now()))

	dequeued, err := queue.Dequeue(ctx)
	require.NoError(t, err)

	assert.NoError(t, queue.Complete(ctx, dequeued.ID))
}
