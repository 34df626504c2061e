package models

import "time"

type TicketStatus string

const (
	TicketStatusQueued     TicketStatus = "QUEUED"
	TicketStatusBuilding   TicketStatus = "BUILDING"
	TicketStatusMatchFound TicketStatus = "MATCH_FOUND"

	// Terminal statuses; the ticket is removed from the store right after.
	TicketStatusCancelled TicketStatus = "CANCELLED"
	TicketStatusExpired   TicketStatus = "EXPIRED"
)

// SearchTicket is one party's request to be matched. Owned by the queue
// manager until matched; destroyed on cancellation, expiry, or lock.
type SearchTicket struct {
	ID        string       `json:"ticketId"`
	PartyIDs  []string     `json:"partyIds"` // one entry for solo players
	Mode      string       `json:"mode"`
	Region    string       `json:"region"`
	Rating    int          `json:"rating"` // party average, search anchor
	Status    TicketStatus `json:"status"`
	Tolerance int          `json:"tolerance"` // current +/- search range
	QueuedAt  time.Time    `json:"queuedAt"`
	ExpiresAt time.Time    `json:"expiresAt"`
	QueueIDs  []string     `json:"queueIds"`

	// Boost is wait-time credit granted when a ready check or lock fails
	// through no fault of the party. It shortens the effective wait used for
	// tolerance expansion and ordering.
	Boost time.Duration `json:"-"`

	// CandidateID is set while the ticket is frozen inside a proposed match.
	CandidateID *string `json:"-"`

	EstimatedWaitSeconds int `json:"estimatedWaitSeconds"`
}

// EffectiveQueuedAt is the queue timestamp minus any priority boost.
func (t *SearchTicket) EffectiveQueuedAt() time.Time {
	return t.QueuedAt.Add(-t.Boost)
}

// WaitTime reports how long the ticket has effectively been waiting.
func (t *SearchTicket) WaitTime(now time.Time) time.Duration {
	return now.Sub(t.EffectiveQueuedAt())
}

// ModeConfig describes the roster shape and features of a game mode.
type ModeConfig struct {
	Name      string
	TeamSize  int
	TeamCount int
	Voice     bool
}

// SupportedModes is the ranked mode catalog. Casual and event playlists are
// handled by a separate service.
var SupportedModes = map[string]ModeConfig{
	"ranked-duel": {Name: "ranked-duel", TeamSize: 1, TeamCount: 2, Voice: false},
	"ranked-3v3":  {Name: "ranked-3v3", TeamSize: 3, TeamCount: 2, Voice: true},
	"ranked-5v5":  {Name: "ranked-5v5", TeamSize: 5, TeamCount: 2, Voice: true},
}
