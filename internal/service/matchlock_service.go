package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/config"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/pkg/distributed"
)

// MatchRecorder persists a locked match. Implemented by
// repository.MatchRepository.
type MatchRecorder interface {
	Create(match *models.LockedMatch) error
}

// MatchLockService reserves a session server, and a voice lobby for modes
// that use one, then records the match. Reservation order is fixed:
// session server first, voice second, so a voice failure never strands a
// server without a rollback path.
type MatchLockService struct {
	sessions *distributed.ReservationPool
	voice    *distributed.ReservationPool
	matches  MatchRecorder
	logger   *zap.Logger
	cfg      *config.Config

	now func() time.Time
}

func NewMatchLockService(
	sessions *distributed.ReservationPool,
	voice *distributed.ReservationPool,
	matches MatchRecorder,
	cfg *config.Config,
	logger *zap.Logger,
) *MatchLockService {
	return &MatchLockService{
		sessions: sessions,
		voice:    voice,
		matches:  matches,
		logger:   logger,
		cfg:      cfg,
		now:      time.Now,
	}
}

// RegisterResources seeds both pools from configuration. Called once at
// startup; SAdd makes it safe across restarts.
func (s *MatchLockService) RegisterResources(ctx context.Context) error {
	if err := s.sessions.Register(ctx, s.cfg.SessionServers...); err != nil {
		return fmt.Errorf("failed to register session servers: %w", err)
	}
	if err := s.voice.Register(ctx, s.cfg.VoiceLobbies...); err != nil {
		return fmt.Errorf("failed to register voice lobbies: %w", err)
	}
	return nil
}

// Lock reserves everything the candidate's mode needs. On any failure all
// partial reservations are released before the FAILED result is returned,
// so the pools never leak.
func (s *MatchLockService) Lock(ctx context.Context, candidate *models.MatchCandidate) (*models.MatchLockResult, error) {
	modeCfg, ok := models.SupportedModes[candidate.Mode]
	if !ok {
		return nil, fmt.Errorf("%w: unknown mode %s", ErrValidation, candidate.Mode)
	}

	failed := &models.MatchLockResult{MatchID: candidate.ID, Status: models.LockStatusFailed}

	session, err := s.reserveWithRetry(ctx, s.sessions, candidate.ID)
	if err != nil {
		s.logger.Warn("Session server reservation failed",
			zap.String("matchId", candidate.ID),
			zap.Error(err))
		return failed, fmt.Errorf("%w: no session server available", ErrResourceExhausted)
	}

	var voice *distributed.Reservation
	if modeCfg.Voice {
		voice, err = s.reserveWithRetry(ctx, s.voice, candidate.ID)
		if err != nil {
			s.release(session)
			s.logger.Warn("Voice lobby reservation failed",
				zap.String("matchId", candidate.ID),
				zap.Error(err))
			return failed, fmt.Errorf("%w: no voice lobby available", ErrResourceExhausted)
		}
	}

	now := s.now()
	match := &models.LockedMatch{
		ID:              candidate.ID,
		Mode:            candidate.Mode,
		Region:          candidate.Region,
		Teams:           candidate.Teams,
		SessionServerID: session.ResourceID,
		LockedAt:        now,
	}
	if voice != nil {
		lobbyID := voice.ResourceID
		match.VoiceLobbyID = &lobbyID
	}

	if err := s.matches.Create(match); err != nil {
		s.release(session)
		if voice != nil {
			s.release(voice)
		}
		s.logger.Error("Failed to persist locked match",
			zap.String("matchId", candidate.ID),
			zap.Error(err))
		return failed, fmt.Errorf("failed to persist match: %w", err)
	}

	result := &models.MatchLockResult{
		MatchID:         candidate.ID,
		Status:          models.LockStatusLocked,
		SessionServerID: &match.SessionServerID,
		VoiceLobbyID:    match.VoiceLobbyID,
		LockedAt:        &now,
	}

	s.logger.Info("Match resources locked",
		zap.String("matchId", candidate.ID),
		zap.String("sessionServerId", match.SessionServerID),
		zap.Stringp("voiceLobbyId", match.VoiceLobbyID))

	return result, nil
}

// reserveWithRetry retries transient reservation failures with a fixed
// backoff. Pool exhaustion is retried too: a concurrent release may free a
// resource between attempts.
func (s *MatchLockService) reserveWithRetry(ctx context.Context, pool *distributed.ReservationPool, holder string) (*distributed.Reservation, error) {
	var lastErr error
	for attempt := 0; attempt < s.cfg.MaxLockRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(s.cfg.LockRetryBackoff):
			}
		}

		reservation, err := pool.Reserve(ctx, holder)
		if err == nil {
			return reservation, nil
		}
		lastErr = err
		if !errors.Is(err, distributed.ErrPoolExhausted) {
			s.logger.Warn("Reservation attempt errored",
				zap.String("holder", holder),
				zap.Int("attempt", attempt+1),
				zap.Error(err))
		}
	}
	return nil, lastErr
}

func (s *MatchLockService) release(r *distributed.Reservation) {
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.Release(ctx); err != nil {
		s.logger.Error("Failed to release reservation",
			zap.String("resourceId", r.ResourceID),
			zap.Error(err))
	}
}
