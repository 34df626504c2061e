package repository

import (
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/pkg/database"
)

func setupRatingRepo(t *testing.T) (*RatingRepository, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	return NewRatingRepository(&database.DB{DB: db}), mock
}

func TestRatingRepository_Get(t *testing.T) {
	repo, mock := setupRatingRepo(t)

	provisional := 1540
	rows := sqlmock.NewRows([]string{
		"player_id", "rating", "tier", "division", "games_required",
		"games_played", "placement_completed", "provisional_rating", "updated_at",
	}).AddRow("player-1", 1540, "Gold", 2, 5, 3, false, provisional, time.Now())

	mock.ExpectQuery("SELECT player_id, rating").
		WithArgs("player-1").
		WillReturnRows(rows)

	record, err := repo.Get("player-1")
	require.NoError(t, err)
	require.NotNil(t, record)
	assert.Equal(t, 1540, record.Rating)
	assert.Equal(t, "Gold", record.Tier)
	assert.Equal(t, 3, record.GamesPlayed)
	assert.False(t, record.PlacementCompleted)
	require.NotNil(t, record.ProvisionalRating)
	assert.Equal(t, provisional, *record.ProvisionalRating)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRatingRepository_Get_Missing(t *testing.T) {
	repo, mock := setupRatingRepo(t)

	mock.ExpectQuery("SELECT player_id, rating").
		WithArgs("nobody").
		WillReturnRows(sqlmock.NewRows([]string{"player_id"}))

	record, err := repo.Get("nobody")
	require.NoError(t, err)
	assert.Nil(t, record)
}

func TestRatingRepository_Create(t *testing.T) {
	repo, mock := setupRatingRepo(t)

	mock.ExpectExec("INSERT INTO player_ratings").
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.PlayerRatingRecord{
		PlayerID:      "player-1",
		Rating:        1500,
		Tier:          "Silver",
		Division:      1,
		GamesRequired: 5,
	}

	assert.NoError(t, repo.Create(record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRatingRepository_Update(t *testing.T) {
	repo, mock := setupRatingRepo(t)

	mock.ExpectExec("UPDATE player_ratings").
		WillReturnResult(sqlmock.NewResult(0, 1))

	record := &models.PlayerRatingRecord{
		PlayerID: "player-1",
		Rating:   1523,
		Tier:     "Gold",
		Division: 4,
	}

	assert.NoError(t, repo.Update(record))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRatingRepository_Update_Missing(t *testing.T) {
	repo, mock := setupRatingRepo(t)

	mock.ExpectExec("UPDATE player_ratings").
		WillReturnResult(sqlmock.NewResult(0, 0))

	record := &models.PlayerRatingRecord{PlayerID: "ghost"}

	assert.Error(t, repo.Update(record))
}

func TestMatchRepository_MarkCompleted_Replay(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	repo := NewMatchRepository(&database.DB{DB: db})

	// First application claims the row, replay finds nothing to claim
	mock.ExpectExec("UPDATE locked_matches").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec("UPDATE locked_matches").
		WillReturnResult(sqlmock.NewResult(0, 0))

	winner := 0
	now := time.Now()
	require.NoError(t, repo.MarkCompleted("match-1", &winner, now))

	err = repo.MarkCompleted("match-1", &winner, now)
	assert.ErrorIs(t, err, ErrMatchAlreadyCompleted)
}
