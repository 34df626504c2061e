package repository

import (
	"database/sql"
	"fmt"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/pkg/database"
)

// RatingRepository persists player rating records. Pure data access; the
// per-player serialization lives in the rating engine.
type RatingRepository struct {
	db *database.DB
}

func NewRatingRepository(db *database.DB) *RatingRepository {
	return &RatingRepository{db: db}
}

// Get returns the record, or nil when the player has no rating row yet.
func (r *RatingRepository) Get(playerID string) (*models.PlayerRatingRecord, error) {
	query := `
		SELECT player_id, rating, tier, division, games_required, games_played,
		       placement_completed, provisional_rating, updated_at
		FROM player_ratings
		WHERE player_id = $1
	`

	record := &models.PlayerRatingRecord{}
	err := r.db.QueryRow(query, playerID).Scan(
		&record.PlayerID,
		&record.Rating,
		&record.Tier,
		&record.Division,
		&record.GamesRequired,
		&record.GamesPlayed,
		&record.PlacementCompleted,
		&record.ProvisionalRating,
		&record.UpdatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rating record: %w", err)
	}

	return record, nil
}

// Create inserts a fresh record. Inserting an existing player is a no-op so
// two concurrent first matches cannot double-create.
func (r *RatingRepository) Create(record *models.PlayerRatingRecord) error {
	query := `
		INSERT INTO player_ratings
			(player_id, rating, tier, division, games_required, games_played,
			 placement_completed, provisional_rating, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (player_id) DO NOTHING
	`

	_, err := r.db.Exec(query,
		record.PlayerID,
		record.Rating,
		record.Tier,
		record.Division,
		record.GamesRequired,
		record.GamesPlayed,
		record.PlacementCompleted,
		record.ProvisionalRating,
	)
	if err != nil {
		return fmt.Errorf("failed to create rating record: %w", err)
	}

	return nil
}

// Update writes the full row back.
func (r *RatingRepository) Update(record *models.PlayerRatingRecord) error {
	query := `
		UPDATE player_ratings
		SET rating = $2, tier = $3, division = $4, games_required = $5,
		    games_played = $6, placement_completed = $7, provisional_rating = $8,
		    updated_at = NOW()
		WHERE player_id = $1
	`

	result, err := r.db.Exec(query,
		record.PlayerID,
		record.Rating,
		record.Tier,
		record.Division,
		record.GamesRequired,
		record.GamesPlayed,
		record.PlacementCompleted,
		record.ProvisionalRating,
	)
	if err != nil {
		return fmt.Errorf("failed to update rating record: %w", err)
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check update result: %w", err)
	}
	if rows == 0 {
		return fmt.Errorf("rating record for player %s does not exist", record.PlayerID)
	}

	return nil
}
