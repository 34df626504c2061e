package models

import "time"

type QueueEventType string

const (
	QueueEventRangeExpanded QueueEventType = "queue.rangeExpanded"
	QueueEventPriorityBoost QueueEventType = "queue.priorityBoost"
	QueueEventMatchReady    QueueEventType = "queue.matchReady"
	QueueEventTicketExpired QueueEventType = "queue.ticketExpired"
)

// QueueEvent describes one ticket lifecycle transition. Ephemeral,
// fire-and-forget; not persisted beyond delivery.
type QueueEvent struct {
	ID        string                 `json:"eventId"`
	Type      QueueEventType         `json:"type"`
	TicketID  string                 `json:"ticketId"`
	MatchID   *string                `json:"matchId,omitempty"`
	EmittedAt time.Time              `json:"emittedAt"`
	Payload   map[string]interface{} `json:"payload,omitempty"`
}

type QueueNotificationType string

const (
	NotificationMatchReady      QueueNotificationType = "MATCH_READY"
	NotificationRangeExpanded   QueueNotificationType = "RANGE_EXPANDED"
	NotificationPriorityBoost   QueueNotificationType = "PRIORITY_BOOST"
	NotificationTicketCancelled QueueNotificationType = "TICKET_CANCELLED"
	NotificationTicketExpired   QueueNotificationType = "TICKET_EXPIRED"
)

// QueueNotification is a player-facing message pushed over whichever
// channels the player opted into.
type QueueNotification struct {
	ID      string                 `json:"notificationId"`
	Type    QueueNotificationType  `json:"type"`
	SentAt  time.Time              `json:"sentAt"`
	Channel *string                `json:"channel,omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty"`
}
