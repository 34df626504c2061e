package service

import (
	"errors"
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/config"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/repository"
)

// MatchReader is the match persistence surface the rating engine needs.
// Implemented by repository.MatchRepository.
type MatchReader interface {
	Get(id string) (*models.LockedMatch, error)
	MarkCompleted(id string, winningTeam *int, completedAt time.Time) error
}

// RatingStore is the record persistence surface. Implemented by
// repository.RatingRepository.
type RatingStore interface {
	Get(playerID string) (*models.PlayerRatingRecord, error)
	Create(record *models.PlayerRatingRecord) error
	Update(record *models.PlayerRatingRecord) error
}

// RatingService applies match outcomes to player ratings: expected-score
// Elo deltas, placement bookkeeping, tier transitions, and the smurf
// escalation flag. All mutation of one player's record is serialized
// through a per-player lock.
type RatingService struct {
	matches MatchReader
	store   RatingStore
	logger  *zap.Logger
	cfg     *config.Config

	mu    sync.Mutex
	locks map[string]*sync.Mutex // player id

	now func() time.Time
}

func NewRatingService(matches MatchReader, store RatingStore, cfg *config.Config, logger *zap.Logger) *RatingService {
	return &RatingService{
		matches: matches,
		store:   store,
		logger:  logger,
		cfg:     cfg,
		locks:   make(map[string]*sync.Mutex),
		now:     time.Now,
	}
}

func (s *RatingService) playerLock(playerID string) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	lock, ok := s.locks[playerID]
	if !ok {
		lock = &sync.Mutex{}
		s.locks[playerID] = lock
	}
	return lock
}

// RatingFor returns the player's current rating, creating the default
// record on first sight.
func (s *RatingService) RatingFor(playerID string) (int, error) {
	record, err := s.getOrCreate(playerID)
	if err != nil {
		return 0, err
	}
	return record.Rating, nil
}

// PlacementStatus reports the player's placement progress. Progress detail
// is omitted once placement completed.
func (s *RatingService) PlacementStatus(playerID string) (*models.PlacementStatus, error) {
	record, err := s.getOrCreate(playerID)
	if err != nil {
		return nil, err
	}

	status := &models.PlacementStatus{
		PlayerID:           playerID,
		PlacementCompleted: record.PlacementCompleted,
	}
	if !record.PlacementCompleted {
		required := record.GamesRequired
		played := record.GamesPlayed
		provisional := record.Rating
		tier, _ := s.tierFor(record.Rating)
		status.GamesRequired = &required
		status.GamesPlayed = &played
		status.ProvisionalRating = &provisional
		status.RecommendedTier = &tier
	}
	return status, nil
}

// Record returns the player's full rating record.
func (s *RatingService) Record(playerID string) (*models.PlayerRatingRecord, error) {
	return s.getOrCreate(playerID)
}

// ApplyMatchResult claims the match and writes a rating delta for every
// participant. The claim is the idempotency gate: a replayed outcome stops
// at the repository with zero deltas applied.
func (s *RatingService) ApplyMatchResult(matchID string, outcome *models.MatchOutcome) ([]models.RatingDeltaResult, error) {
	match, err := s.matches.Get(matchID)
	if err != nil {
		return nil, err
	}
	if match == nil {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}

	if err := validateOutcome(match, outcome); err != nil {
		return nil, err
	}

	reportedAt := outcome.ReportedAt
	if reportedAt.IsZero() {
		reportedAt = s.now()
	}

	err = s.matches.MarkCompleted(matchID, outcome.WinningTeam, reportedAt)
	if errors.Is(err, repository.ErrMatchAlreadyCompleted) {
		return nil, fmt.Errorf("%w: match %s", ErrResultAlreadyApplied, matchID)
	}
	if err != nil {
		return nil, err
	}

	scores := teamScores(match, outcome)

	var results []models.RatingDeltaResult
	for teamIdx, team := range match.Teams {
		oppAvg := opponentAverage(match.Teams, teamIdx)
		for _, p := range team.Participants {
			result, err := s.applyDelta(p.PlayerID, scores[teamIdx], oppAvg)
			if err != nil {
				// The match is claimed; surviving deltas stand. Log and
				// continue so one bad row does not starve the rest.
				s.logger.Error("Failed to apply rating delta",
					zap.String("matchId", matchID),
					zap.String("playerId", p.PlayerID),
					zap.Error(err))
				continue
			}
			results = append(results, *result)
		}
	}

	s.logger.Info("Match result applied",
		zap.String("matchId", matchID),
		zap.Int("deltas", len(results)))

	return results, nil
}

// applyDelta recomputes one player's record under their lock.
func (s *RatingService) applyDelta(playerID string, score, opponentAvg float64) (*models.RatingDeltaResult, error) {
	lock := s.playerLock(playerID)
	lock.Lock()
	defer lock.Unlock()

	record, err := s.getOrCreate(playerID)
	if err != nil {
		return nil, err
	}

	oldRating := record.Rating
	oldTier, oldDivision := record.Tier, record.Division

	k := s.cfg.EstablishedKFactor
	if !record.PlacementCompleted {
		k = s.cfg.PlacementKFactor
	}

	expected := expectedScore(record.Rating, opponentAvg)
	delta := s.clampDelta(int(math.Round(k * (score - expected))))

	record.Rating = oldRating + delta
	record.Tier, record.Division = s.tierFor(record.Rating)

	smurf := false
	if !record.PlacementCompleted {
		provisional := record.Rating
		record.ProvisionalRating = &provisional
		record.GamesPlayed++
		if record.GamesPlayed >= record.GamesRequired {
			record.PlacementCompleted = true
		}
		if delta >= s.cfg.SmurfDeltaThreshold {
			smurf = true
		}
	}

	if err := s.store.Update(record); err != nil {
		return nil, err
	}

	result := &models.RatingDeltaResult{
		PlayerID:         playerID,
		OldRating:        oldRating,
		NewRating:        record.Rating,
		Delta:            delta,
		SmurfTriggered:   smurf,
		AnalyticsEventID: uuid.New().String(),
	}
	if change := tierChange(oldTier, oldDivision, record.Tier, record.Division); change != nil {
		result.TierChange = change
	}

	if smurf {
		s.logger.Warn("Smurf escalation triggered",
			zap.String("playerId", playerID),
			zap.Int("delta", delta),
			zap.Int("gamesPlayed", record.GamesPlayed))
	}

	return result, nil
}

// getOrCreate loads the record, inserting the default on first sight. The
// Create is a conflict-tolerant no-op, so a concurrent first match only
// costs one extra read.
func (s *RatingService) getOrCreate(playerID string) (*models.PlayerRatingRecord, error) {
	if playerID == "" {
		return nil, fmt.Errorf("%w: empty player id", ErrValidation)
	}

	record, err := s.store.Get(playerID)
	if err != nil {
		return nil, err
	}
	if record != nil {
		return record, nil
	}

	tier, division := s.tierFor(s.cfg.DefaultRating)
	provisional := s.cfg.DefaultRating
	record = &models.PlayerRatingRecord{
		PlayerID:          playerID,
		Rating:            s.cfg.DefaultRating,
		Tier:              tier,
		Division:          division,
		GamesRequired:     s.cfg.PlacementGames,
		ProvisionalRating: &provisional,
		UpdatedAt:         s.now(),
	}
	if err := s.store.Create(record); err != nil {
		return nil, err
	}

	fresh, err := s.store.Get(playerID)
	if err != nil {
		return nil, err
	}
	if fresh != nil {
		return fresh, nil
	}
	return record, nil
}

// clampDelta bounds the magnitude while preserving sign. A zero raw delta
// stays zero: dead-even expectations move nothing.
func (s *RatingService) clampDelta(delta int) int {
	if delta == 0 {
		return 0
	}
	magnitude := delta
	sign := 1
	if magnitude < 0 {
		magnitude = -magnitude
		sign = -1
	}
	if magnitude < s.cfg.MinDeltaMagnitude {
		magnitude = s.cfg.MinDeltaMagnitude
	}
	if magnitude > s.cfg.MaxDeltaMagnitude {
		magnitude = s.cfg.MaxDeltaMagnitude
	}
	return sign * magnitude
}

// tierFor maps a rating onto the ladder. Ratings below the base land in the
// lowest division of the lowest tier; the top division of the top tier is
// uncapped.
func (s *RatingService) tierFor(rating int) (string, int) {
	idx := (rating - s.cfg.TierBaseRating) / s.cfg.TierDivisionStep
	maxIdx := len(models.Tiers)*models.DivisionsPerTier - 1
	if idx < 0 {
		idx = 0
	}
	if idx > maxIdx {
		idx = maxIdx
	}
	tier := models.Tiers[idx/models.DivisionsPerTier]
	division := models.DivisionsPerTier - idx%models.DivisionsPerTier
	return tier, division
}

// expectedScore is the standard Elo win expectation for a player at
// `rating` against opposition averaging `opponent`.
func expectedScore(rating int, opponent float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (opponent-float64(rating))/400.0))
}

func opponentAverage(teams []models.MatchTeam, teamIdx int) float64 {
	sum, count := 0, 0
	for idx, team := range teams {
		if idx == teamIdx {
			continue
		}
		for _, p := range team.Participants {
			sum += p.Rating
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return float64(sum) / float64(count)
}

// teamScores resolves each team's score: explicit per-team scores win,
// otherwise WinningTeam decides, otherwise a draw.
func teamScores(match *models.LockedMatch, outcome *models.MatchOutcome) []float64 {
	scores := make([]float64, len(match.Teams))

	if len(outcome.Teams) > 0 {
		for _, t := range outcome.Teams {
			scores[t.Team] = t.Score
		}
		return scores
	}

	for idx := range scores {
		switch {
		case outcome.WinningTeam == nil:
			scores[idx] = 0.5
		case *outcome.WinningTeam == idx:
			scores[idx] = 1.0
		default:
			scores[idx] = 0.0
		}
	}
	return scores
}

func validateOutcome(match *models.LockedMatch, outcome *models.MatchOutcome) error {
	if outcome == nil {
		return fmt.Errorf("%w: missing outcome", ErrValidation)
	}
	if outcome.WinningTeam != nil {
		if *outcome.WinningTeam < 0 || *outcome.WinningTeam >= len(match.Teams) {
			return fmt.Errorf("%w: winning team %d out of range", ErrValidation, *outcome.WinningTeam)
		}
	}
	for _, t := range outcome.Teams {
		if t.Team < 0 || t.Team >= len(match.Teams) {
			return fmt.Errorf("%w: team %d out of range", ErrValidation, t.Team)
		}
		if t.Score < 0 || t.Score > 1 {
			return fmt.Errorf("%w: team score must be within [0, 1]", ErrValidation)
		}
	}
	return nil
}

// tierChange classifies a ladder move. Returns nil when nothing moved.
func tierChange(fromTier string, fromDivision int, toTier string, toDivision int) *models.TierChange {
	if fromTier == toTier && fromDivision == toDivision {
		return nil
	}

	change := &models.TierChange{
		FromTier:     fromTier,
		FromDivision: fromDivision,
		ToTier:       toTier,
		ToDivision:   toDivision,
	}

	fromIdx := tierIndex(fromTier)
	toIdx := tierIndex(toTier)
	switch {
	case toIdx > fromIdx:
		change.Type = models.TierChangePromotion
	case toIdx < fromIdx:
		change.Type = models.TierChangeDemotion
	default:
		change.Type = models.TierChangeStay
	}
	return change
}

func tierIndex(tier string) int {
	for idx, t := range models.Tiers {
		if t == tier {
			return idx
		}
	}
	return -1
}
