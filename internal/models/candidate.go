package models

import "time"

// MatchParticipant is one player inside a proposed match.
type MatchParticipant struct {
	PlayerID string `json:"playerId"`
	TicketID string `json:"ticketId"`
	Rating   int    `json:"rating"`
	Role     string `json:"role,omitempty"`
}

// MatchTeam is an ordered roster with its computed average rating.
type MatchTeam struct {
	Participants  []MatchParticipant `json:"participants"`
	AverageRating int                `json:"averageRating"`
	MixedParty    bool               `json:"mixedParty"` // true when built from more than one ticket
}

// MatchCandidate is a transient grouping of tickets that exists only between
// matching and lock or dissolution.
type MatchCandidate struct {
	ID        string      `json:"matchId"`
	Mode      string      `json:"mode"`
	Region    string      `json:"region"`
	Teams     []MatchTeam `json:"teams"`
	CreatedAt time.Time   `json:"createdAt"`
}

// TicketIDs lists every ticket frozen in the candidate.
func (c *MatchCandidate) TicketIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, team := range c.Teams {
		for _, p := range team.Participants {
			if !seen[p.TicketID] {
				seen[p.TicketID] = true
				ids = append(ids, p.TicketID)
			}
		}
	}
	return ids
}

// RatingSpread is the gap between the strongest and weakest participant.
func (c *MatchCandidate) RatingSpread() int {
	min, max := 0, 0
	first := true
	for _, team := range c.Teams {
		for _, p := range team.Participants {
			if first {
				min, max = p.Rating, p.Rating
				first = false
				continue
			}
			if p.Rating < min {
				min = p.Rating
			}
			if p.Rating > max {
				max = p.Rating
			}
		}
	}
	return max - min
}

type LockStatus string

const (
	LockStatusLocked LockStatus = "LOCKED"
	LockStatusFailed LockStatus = "FAILED"
)

// MatchLockResult is the outcome of resource reservation for a readied match.
// Produced exactly once per successfully readied candidate.
type MatchLockResult struct {
	MatchID         string     `json:"matchId"`
	Status          LockStatus `json:"status"`
	VoiceLobbyID    *string    `json:"voiceLobbyId,omitempty"`
	SessionServerID *string    `json:"sessionServerId,omitempty"`
	LockedAt        *time.Time `json:"lockedAt,omitempty"`
}
