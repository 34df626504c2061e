package models

import "time"

// Ladder tiers, coarse to fine. Division 1 is the highest within a tier.
var Tiers = []string{"Bronze", "Silver", "Gold", "Platinum", "Diamond", "Legend"}

const DivisionsPerTier = 4

// PlayerRatingRecord is the persisted skill state of one player. Mutated only
// by the rating engine under a per-player lock.
type PlayerRatingRecord struct {
	PlayerID           string    `json:"playerId" db:"player_id"`
	Rating             int       `json:"rating" db:"rating"`
	Tier               string    `json:"tier" db:"tier"`
	Division           int       `json:"division" db:"division"`
	GamesRequired      int       `json:"gamesRequired" db:"games_required"`
	GamesPlayed        int       `json:"gamesPlayed" db:"games_played"`
	PlacementCompleted bool      `json:"placementCompleted" db:"placement_completed"`
	ProvisionalRating  *int      `json:"provisionalRating,omitempty" db:"provisional_rating"`
	UpdatedAt          time.Time `json:"updatedAt" db:"updated_at"`
}

type TierChangeType string

const (
	TierChangePromotion TierChangeType = "PROMOTION"
	TierChangeDemotion  TierChangeType = "DEMOTION"
	TierChangeStay      TierChangeType = "STAY"
)

// TierChange reports a tier or division transition caused by one match.
type TierChange struct {
	Type         TierChangeType `json:"type"`
	FromTier     string         `json:"fromTier"`
	FromDivision int            `json:"fromDivision"`
	ToTier       string         `json:"toTier"`
	ToDivision   int            `json:"toDivision"`
}

// RatingDeltaResult is the immutable outcome of one match for one player.
type RatingDeltaResult struct {
	PlayerID         string      `json:"playerId"`
	OldRating        int         `json:"oldRating"`
	NewRating        int         `json:"newRating"`
	Delta            int         `json:"delta"`
	TierChange       *TierChange `json:"tierChange,omitempty"`
	SmurfTriggered   bool        `json:"smurfTriggered"`
	AnalyticsEventID string      `json:"analyticsEventId"`
}

// PlacementStatus is the public view of a player's placement progress.
// Progress fields are absent once placement is completed.
type PlacementStatus struct {
	PlayerID           string  `json:"playerId"`
	PlacementCompleted bool    `json:"placementCompleted"`
	GamesRequired      *int    `json:"gamesRequired,omitempty"`
	GamesPlayed        *int    `json:"gamesPlayed,omitempty"`
	ProvisionalRating  *int    `json:"provisionalRating,omitempty"`
	RecommendedTier    *string `json:"recommendedTier,omitempty"`
}

// TeamOutcome is one team's share of a match result.
type TeamOutcome struct {
	Team  int     `json:"team"` // index into the candidate's teams
	Score float64 `json:"score"`
}

// MatchOutcome is the resolved result of a locked match. WinningTeam is nil
// for a draw.
type MatchOutcome struct {
	MatchID     string        `json:"matchId"`
	WinningTeam *int          `json:"winningTeam,omitempty"`
	Teams       []TeamOutcome `json:"teams"`
	ReportedAt  time.Time     `json:"reportedAt"`
}
