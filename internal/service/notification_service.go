package service

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/websocket"
	"github.com/gc-lover/necpgame-monorepo-sub002/pkg/distributed"
)

// Notifier fans queue lifecycle traffic out to interested observers.
// Delivery is best-effort: implementations must never block or fail the
// state machines that call them.
type Notifier interface {
	PublishEvent(event *models.QueueEvent)
	NotifyPlayers(playerIDs []string, notification *models.QueueNotification)
}

// NotificationService delivers events over the in-game websocket hub, the
// Redis event bus, and an optional webhook sink. Webhook failures go through
// the retry queue; nothing here ever rolls back a queue transition.
type NotificationService struct {
	hub         *websocket.Hub
	bus         *distributed.EventBus
	retryQueue  *distributed.RetryQueue
	webhookURL  string
	maxAttempts int
	httpClient  *http.Client
	logger      *zap.Logger

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex
}

func NewNotificationService(
	hub *websocket.Hub,
	bus *distributed.EventBus,
	retryQueue *distributed.RetryQueue,
	webhookURL string,
	maxAttempts int,
	logger *zap.Logger,
) *NotificationService {
	return &NotificationService{
		hub:         hub,
		bus:         bus,
		retryQueue:  retryQueue,
		webhookURL:  webhookURL,
		maxAttempts: maxAttempts,
		httpClient:  &http.Client{Timeout: 10 * time.Second},
		logger:      logger,
		stopChan:    make(chan struct{}),
	}
}

// Start launches the webhook retry worker.
func (s *NotificationService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	if s.retryQueue != nil {
		s.wg.Add(1)
		go s.retryLoop()
	}
}

// Stop drains the retry worker.
func (s *NotificationService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	close(s.stopChan)
	s.wg.Wait()
}

// PublishEvent mirrors a queue event onto the service mesh bus.
func (s *NotificationService) PublishEvent(event *models.QueueEvent) {
	if event.ID == "" {
		event.ID = uuid.New().String()
	}
	if event.EmittedAt.IsZero() {
		event.EmittedAt = time.Now()
	}

	s.logger.Debug("Queue event",
		zap.String("type", string(event.Type)),
		zap.String("ticketId", event.TicketID))

	if s.bus == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := s.bus.Publish(ctx, event); err != nil {
			s.logger.Error("Failed to publish queue event",
				zap.String("type", string(event.Type)),
				zap.Error(err))
		}
	}()
}

// NotifyPlayers pushes a notification to every listed player on each channel
// they can receive.
func (s *NotificationService) NotifyPlayers(playerIDs []string, notification *models.QueueNotification) {
	if notification.ID == "" {
		notification.ID = uuid.New().String()
	}
	if notification.SentAt.IsZero() {
		notification.SentAt = time.Now()
	}

	if s.hub != nil {
		for _, playerID := range playerIDs {
			s.hub.SendToPlayer(playerID, string(notification.Type), notification)
		}
	}

	if s.webhookURL != "" {
		go s.deliverWebhook(notification)
	}
}

// deliverWebhook makes the first delivery attempt inline; a failure hands
// the task to the retry queue.
func (s *NotificationService) deliverWebhook(notification *models.QueueNotification) {
	body, err := json.Marshal(notification)
	if err != nil {
		s.logger.Error("Failed to marshal notification", zap.Error(err))
		return
	}

	err = s.post(s.webhookURL, body)
	if err == nil {
		return
	}
	s.logger.Warn("Webhook delivery failed, scheduling retry",
		zap.String("notificationId", notification.ID),
		zap.Error(err))

	if s.retryQueue == nil {
		return
	}

	task := &distributed.DeliveryTask{
		ID:          notification.ID,
		Channel:     "webhook",
		Target:      s.webhookURL,
		Body:        body,
		Attempts:    1,
		MaxAttempts: s.maxAttempts,
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.retryQueue.Enqueue(ctx, task, time.Now()); err != nil {
		s.logger.Error("Failed to schedule webhook retry",
			zap.String("notificationId", notification.ID),
			zap.Error(err))
	}
}

// retryLoop drains due webhook retries.
func (s *NotificationService) retryLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			s.drainRetries()
		case <-s.stopChan:
			return
		}
	}
}

func (s *NotificationService) drainRetries() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	for {
		task, err := s.retryQueue.Dequeue(ctx)
		if err == distributed.ErrQueueEmpty {
			return
		}
		if err != nil {
			s.logger.Error("Failed to dequeue delivery task", zap.Error(err))
			return
		}

		if err := s.post(task.Target, task.Body); err != nil {
			s.logger.Warn("Webhook retry failed",
				zap.String("taskId", task.ID),
				zap.Int("attempts", task.Attempts),
				zap.Error(err))
			if err := s.retryQueue.Retry(ctx, task); err != nil {
				s.logger.Error("Failed to reschedule delivery task",
					zap.String("taskId", task.ID),
					zap.Error(err))
			}
			continue
		}

		if err := s.retryQueue.Complete(ctx, task.ID); err != nil {
			s.logger.Error("Failed to complete delivery task",
				zap.String("taskId", task.ID),
				zap.Error(err))
		}
	}
}

func (s *NotificationService) post(target string, body []byte) error {
	resp, err := s.httpClient.Post(target, "application/json", bytes.NewReader(body))
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook sink returned %d", resp.StatusCode)
	}

	return nil
}
