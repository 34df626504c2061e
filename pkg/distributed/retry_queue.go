package distributed

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

var ErrQueueEmpty = errors.New("queue is empty")

// DeliveryTask is one pending notification delivery on an external channel.
type DeliveryTask struct {
	ID          string          `json:"id"`
	Channel     string          `json:"channel"` // "webhook", "push", "email"
	Target      string          `json:"target"`  // endpoint URL, device token, address
	Body        json.RawMessage `json:"body"`
	Attempts    int             `json:"attempts"`
	MaxAttempts int             `json:"max_attempts"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
}

// RetryQueue is a Redis-backed delivery queue with exponential backoff and a
// dead letter queue. Tasks are scored by the wall-clock time they become due,
// so a backed-off task is invisible to workers until its retry moment.
type RetryQueue struct {
	client        *redis.Client
	queueKey      string // due tasks (sorted set, score = due unix seconds)
	processingKey string // in-flight tasks (hash)
	dlqKey        string // exhausted tasks (list)
	backoffBase   time.Duration
}

func NewRetryQueue(client *redis.Client, name string, backoffBase time.Duration) *RetryQueue {
	return &RetryQueue{
		client:        client,
		queueKey:      fmt.Sprintf("delivery:%s", name),
		processingKey: fmt.Sprintf("delivery:%s:processing", name),
		dlqKey:        fmt.Sprintf("delivery:%s:dlq", name),
		backoffBase:   backoffBase,
	}
}

// Enqueue schedules the task to become due at the given time.
func (q *RetryQueue) Enqueue(ctx context.Context, task *DeliveryTask, due time.Time) error {
	now := time.Now()
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = now

	data, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("failed to marshal task: %w", err)
	}

	if err := q.client.ZAdd(ctx, q.queueKey, redis.Z{
		Score:  float64(due.Unix()),
		Member: data,
	}).Err(); err != nil {
		return fmt.Errorf("failed to enqueue task: %w", err)
	}

	return nil
}

// Dequeue atomically pops the oldest due task and parks it in the processing
// hash. Returns ErrQueueEmpty when nothing is due yet.
func (q *RetryQueue) Dequeue(ctx context.Context) (*DeliveryTask, error) {
	script := redis.NewScript(`
		local queue_key = KEYS[1]
		local processing_key = KEYS[2]
		local now = ARGV[1]

		local items = redis.call('ZRANGEBYSCORE', queue_key, '-inf', now, 'LIMIT', 0, 1)
		if #items == 0 then
			return false
		end

		local task_data = items[1]
		redis.call('ZREM', queue_key, task_data)

		local task_id = cjson.decode(task_data).id
		redis.call('HSET', processing_key, task_id, task_data)

		return task_data
	`)

	result, err := script.Run(ctx, q.client, []string{q.queueKey, q.processingKey}, time.Now().Unix()).Result()
	if err == redis.Nil || result == nil {
		return nil, ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("failed to dequeue task: %w", err)
	}

	var task DeliveryTask
	if err := json.Unmarshal([]byte(result.(string)), &task); err != nil {
		return nil, fmt.Errorf("failed to unmarshal task: %w", err)
	}

	return &task, nil
}

// Complete drops a delivered task from the processing hash.
func (q *RetryQueue) Complete(ctx context.Context, taskID string) error {
	if err := q.client.HDel(ctx, q.processingKey, taskID).Err(); err != nil {
		return fmt.Errorf("failed to complete task: %w", err)
	}
	return nil
}

// Retry reschedules a failed task with exponential backoff, or moves it to
// the DLQ once attempts are exhausted.
func (q *RetryQueue) Retry(ctx context.Context, task *DeliveryTask) error {
	task.Attempts++
	task.UpdatedAt = time.Now()

	if task.Attempts >= task.MaxAttempts {
		return q.MoveToDLQ(ctx, task, "max delivery attempts exceeded")
	}

	if err := q.Complete(ctx, task.ID); err != nil {
		return err
	}

	delay := q.backoffBase * (1 << uint(task.Attempts-1))
	return q.Enqueue(ctx, task, time.Now().Add(delay))
}

// MoveToDLQ records the task as undeliverable.
func (q *RetryQueue) MoveToDLQ(ctx context.Context, task *DeliveryTask, reason string) error {
	entry := map[string]interface{}{
		"task":          task,
		"reason":        reason,
		"moved_at":      time.Now(),
		"final_attempt": task.Attempts,
	}

	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal DLQ entry: %w", err)
	}

	if err := q.client.LPush(ctx, q.dlqKey, data).Err(); err != nil {
		return fmt.Errorf("failed to move task to DLQ: %w", err)
	}

	return q.Complete(ctx, task.ID)
}

// Size returns the number of scheduled (not in-flight) tasks.
func (q *RetryQueue) Size(ctx context.Context) (int64, error) {
	return q.client.ZCard(ctx, q.queueKey).Result()
}

// DLQSize returns the number of permanently failed tasks.
func (q *RetryQueue) DLQSize(ctx context.Context) (int64, error) {
	return q.client.LLen(ctx, q.dlqKey).Result()
}
