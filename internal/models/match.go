package models

import "time"

// LockedMatch is the durable record of a match whose resources were
// reserved. The stats aggregator reads these rows; the rating engine uses
// completed_at as the replay guard.
type LockedMatch struct {
	ID              string      `json:"matchId" db:"id"`
	Mode            string      `json:"mode" db:"mode"`
	Region          string      `json:"region" db:"region"`
	Teams           []MatchTeam `json:"teams" db:"teams"`
	SessionServerID string      `json:"sessionServerId" db:"session_server_id"`
	VoiceLobbyID    *string     `json:"voiceLobbyId,omitempty" db:"voice_lobby_id"`
	LockedAt        time.Time   `json:"lockedAt" db:"locked_at"`
	CompletedAt     *time.Time  `json:"completedAt,omitempty" db:"completed_at"`
	WinningTeam     *int        `json:"winningTeam,omitempty" db:"winning_team"`
}
