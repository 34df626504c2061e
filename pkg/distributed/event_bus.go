package distributed

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// EventBus mirrors queue lifecycle events onto a Redis pub/sub channel so
// sibling services (gateway, stats aggregator) can observe matchmaking
// without polling this service.
type EventBus struct {
	client     *redis.Client
	logger     *zap.Logger
	instanceID string
	channel    string
	stopChan   chan struct{}
	cancelSub  context.CancelFunc
}

func NewEventBus(client *redis.Client, logger *zap.Logger) *EventBus {
	return &EventBus{
		client:     client,
		logger:     logger,
		instanceID: uuid.New().String(),
		channel:    "matchmaking:events",
		stopChan:   make(chan struct{}),
	}
}

// Publish serializes the payload and fires it on the shared channel.
func (b *EventBus) Publish(ctx context.Context, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	if err := b.client.Publish(ctx, b.channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	return nil
}

// Start subscribes and feeds raw event payloads to the handler until Stop or
// context cancellation.
func (b *EventBus) Start(ctx context.Context, handler func(payload []byte) error) error {
	subCtx, cancel := context.WithCancel(ctx)
	b.cancelSub = cancel

	pubsub := b.client.Subscribe(subCtx, b.channel)
	defer pubsub.Close()

	if _, err := pubsub.Receive(subCtx); err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	b.logger.Info("Event bus started",
		zap.String("instance_id", b.instanceID),
		zap.String("channel", b.channel))

	ch := pubsub.Channel()
	for {
		select {
		case msg := <-ch:
			if msg == nil {
				continue
			}

			if err := handler([]byte(msg.Payload)); err != nil {
				b.logger.Error("Failed to handle bus event", zap.Error(err))
			}

		case <-b.stopChan:
			b.logger.Info("Event bus stopped")
			return nil

		case <-subCtx.Done():
			return subCtx.Err()
		}
	}
}

// Stop terminates the subscription loop.
func (b *EventBus) Stop() {
	close(b.stopChan)
	if b.cancelSub != nil {
		b.cancelSub()
	}
}
