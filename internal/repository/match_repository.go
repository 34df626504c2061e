package repository

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/pkg/database"
)

var ErrMatchAlreadyCompleted = errors.New("match result already applied")

// MatchRepository persists locked matches and their resolved outcomes for
// the stats aggregator and the rating replay guard.
type MatchRepository struct {
	db *database.DB
}

func NewMatchRepository(db *database.DB) *MatchRepository {
	return &MatchRepository{db: db}
}

// Create records a freshly locked match.
func (r *MatchRepository) Create(match *models.LockedMatch) error {
	teams, err := json.Marshal(match.Teams)
	if err != nil {
		return fmt.Errorf("failed to marshal teams: %w", err)
	}

	query := `
		INSERT INTO locked_matches
			(id, mode, region, teams, session_server_id, voice_lobby_id, locked_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err = r.db.Exec(query,
		match.ID,
		match.Mode,
		match.Region,
		teams,
		match.SessionServerID,
		match.VoiceLobbyID,
		match.LockedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create match record: %w", err)
	}

	return nil
}

// Get returns the match, or nil when unknown.
func (r *MatchRepository) Get(id string) (*models.LockedMatch, error) {
	query := `
		SELECT id, mode, region, teams, session_server_id, voice_lobby_id,
		       locked_at, completed_at, winning_team
		FROM locked_matches
		WHERE id = $1
	`

	match := &models.LockedMatch{}
	var teams []byte
	err := r.db.QueryRow(query, id).Scan(
		&match.ID,
		&match.Mode,
		&match.Region,
		&teams,
		&match.SessionServerID,
		&match.VoiceLobbyID,
		&match.LockedAt,
		&match.CompletedAt,
		&match.WinningTeam,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get match record: %w", err)
	}

	if err := json.Unmarshal(teams, &match.Teams); err != nil {
		return nil, fmt.Errorf("failed to unmarshal teams: %w", err)
	}

	return match, nil
}

// MarkCompleted claims the match for rating application. The WHERE guard on
// completed_at makes the claim atomic: a replayed result finds zero rows.
func (r *MatchRepository) MarkCompleted(id string, winningTeam *int, completedAt time.Time) error {
	query := `
		UPDATE locked_matches
		SET completed_at = $2, winning_team = $3
		WHERE id = $1 AND completed_at IS NULL
	`

	result, err := r.db.Exec(query, id, completedAt, winningTeam)
	if err != nil {
		return fmt.Errorf("failed to mark match completed: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check completion result: %w", err)
	}
	if rows == 0 {
		return ErrMatchAlreadyCompleted
	}

	return nil
}
