package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/config"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
)

// MatchLocker reserves the infrastructure for a confirmed candidate.
// Implemented by MatchLockService.
type MatchLocker interface {
	Lock(ctx context.Context, candidate *models.MatchCandidate) (*models.MatchLockResult, error)
}

// TicketDisposer handles the queue-side consequences of a finished ready
// check. Implemented by QueueService.
type TicketDisposer interface {
	Requeue(ticketIDs []string)
	Discard(ticketID string, reason models.QueueNotificationType)
	Destroy(ticketIDs []string)
}

// terminalRetention keeps finished checks and lock results queryable for a
// grace period so late pollers still see the outcome.
const terminalRetention = 2 * time.Minute

type readyCheck struct {
	mu        sync.Mutex
	state     *models.ReadyCheckState
	candidate *models.MatchCandidate
	timer     *time.Timer
}

// snapshot copies the state under the check's lock.
func (c *readyCheck) snapshot() *models.ReadyCheckState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return copyState(c.state)
}

func copyState(s *models.ReadyCheckState) *models.ReadyCheckState {
	out := *s
	out.Responses = make(map[string]models.ReadyResponse, len(s.Responses))
	for k, v := range s.Responses {
		out.Responses[k] = v
	}
	return &out
}

// ReadyCheckService collects accept/decline votes for each candidate and
// routes the outcome: a unanimous accept goes to the locker, anything else
// sends the accepters back to the queue with priority.
type ReadyCheckService struct {
	locker   MatchLocker
	queue    TicketDisposer
	notifier Notifier
	logger   *zap.Logger
	cfg      *config.Config

	mu          sync.RWMutex
	checks      map[string]*readyCheck // ready check id
	byMatch     map[string]string      // match id -> ready check id
	lockClaimed map[string]bool        // match id, set before the lock attempt runs
	lockResults map[string]*models.MatchLockResult

	now func() time.Time
}

func NewReadyCheckService(
	locker MatchLocker,
	queue TicketDisposer,
	notifier Notifier,
	cfg *config.Config,
	logger *zap.Logger,
) *ReadyCheckService {
	return &ReadyCheckService{
		locker:      locker,
		queue:       queue,
		notifier:    notifier,
		logger:      logger,
		cfg:         cfg,
		checks:      make(map[string]*readyCheck),
		byMatch:     make(map[string]string),
		lockClaimed: make(map[string]bool),
		lockResults: make(map[string]*models.MatchLockResult),
		now:         time.Now,
	}
}

// Initiate opens a ready check for the candidate and starts its deadline
// clock. Called by the queue's candidate callback.
func (s *ReadyCheckService) Initiate(candidate *models.MatchCandidate) *models.ReadyCheckState {
	state := &models.ReadyCheckState{
		ID:          uuid.New().String(),
		MatchID:     candidate.ID,
		Status:      models.ReadyCheckStatusInitiated,
		InitiatedBy: "system",
		ExpiresAt:   s.now().Add(s.cfg.ReadyCheckTimeout),
		Responses:   make(map[string]models.ReadyResponse),
	}
	for _, ticketID := range candidate.TicketIDs() {
		state.Responses[ticketID] = models.ReadyResponseNoResponse
	}

	check := &readyCheck{state: state, candidate: candidate}
	check.timer = time.AfterFunc(s.cfg.ReadyCheckTimeout, func() {
		s.expire(state.ID)
	})

	s.mu.Lock()
	s.checks[state.ID] = check
	s.byMatch[candidate.ID] = state.ID
	s.mu.Unlock()

	s.logger.Info("Ready check initiated",
		zap.String("readyCheckId", state.ID),
		zap.String("matchId", candidate.ID),
		zap.Int("participants", len(state.Responses)))

	for _, team := range candidate.Teams {
		for _, p := range team.Participants {
			s.notifier.NotifyPlayers([]string{p.PlayerID}, &models.QueueNotification{
				Type: models.NotificationMatchReady,
				Payload: map[string]interface{}{
					"readyCheckId": state.ID,
					"matchId":      candidate.ID,
					"ticketId":     p.TicketID,
					"expiresAt":    state.ExpiresAt,
				},
			})
		}
	}

	return copyState(state)
}

// Respond records one ticket's vote. Responses after the check reached a
// terminal status are acknowledged with the final state rather than
// rejected, so a decline racing the deadline is harmless.
func (s *ReadyCheckService) Respond(checkID, ticketID string, accept bool) (*models.ReadyCheckState, error) {
	s.mu.RLock()
	check, ok := s.checks[checkID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: ready check %s", ErrNotFound, checkID)
	}

	check.mu.Lock()

	if _, participant := check.state.Responses[ticketID]; !participant {
		check.mu.Unlock()
		return nil, fmt.Errorf("%w: ticket %s", ErrNotParticipant, ticketID)
	}

	if check.state.Status.IsTerminal() {
		out := copyState(check.state)
		check.mu.Unlock()
		return out, nil
	}

	if accept {
		check.state.Responses[ticketID] = models.ReadyResponseAccept
	} else {
		check.state.Responses[ticketID] = models.ReadyResponseDecline
	}
	if check.state.Status == models.ReadyCheckStatusInitiated {
		check.state.Status = models.ReadyCheckStatusInProgress
	}

	var terminal models.ReadyCheckStatus
	if !accept {
		terminal = models.ReadyCheckStatusFailed
	} else if allAccepted(check.state.Responses) {
		terminal = models.ReadyCheckStatusSucceeded
	}

	if terminal != "" {
		check.state.Status = terminal
		check.timer.Stop()
	}
	out := copyState(check.state)
	check.mu.Unlock()

	if terminal != "" {
		go s.settle(check, out)
	}

	return out, nil
}

// Get returns the current state of a ready check.
func (s *ReadyCheckService) Get(checkID string) (*models.ReadyCheckState, error) {
	s.mu.RLock()
	check, ok := s.checks[checkID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: ready check %s", ErrNotFound, checkID)
	}
	return check.snapshot(), nil
}

// LockResult returns the recorded lock outcome for a match, if the ready
// check succeeded and a lock was attempted.
func (s *ReadyCheckService) LockResult(matchID string) (*models.MatchLockResult, error) {
	s.mu.RLock()
	result, ok := s.lockResults[matchID]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}
	out := *result
	return &out, nil
}

// LockMatch attempts the lock directly, for operator tooling. A match whose
// lock already ran, or is running, reports a conflict with the recorded
// result intact. The tickets get the same post-lock treatment as the
// automatic path, so a failed manual lock never strands them.
func (s *ReadyCheckService) LockMatch(ctx context.Context, matchID string) (*models.MatchLockResult, error) {
	s.mu.RLock()
	checkID, ok := s.byMatch[matchID]
	var check *readyCheck
	if ok {
		check = s.checks[checkID]
	}
	s.mu.RUnlock()

	if check == nil {
		return nil, fmt.Errorf("%w: match %s", ErrNotFound, matchID)
	}

	state := check.snapshot()
	switch state.Status {
	case models.ReadyCheckStatusSucceeded:
	case models.ReadyCheckStatusExpired, models.ReadyCheckStatusFailed:
		return nil, fmt.Errorf("%w: ready check for match %s is %s", ErrExpired, matchID, state.Status)
	default:
		return nil, fmt.Errorf("%w: ready check for match %s is still %s", ErrValidation, matchID, state.Status)
	}

	if !s.claimLock(matchID) {
		return nil, fmt.Errorf("%w: match %s", ErrAlreadyLocked, matchID)
	}
	result, err := s.runLock(ctx, check.candidate)
	s.finishLock(check.candidate, result, err)
	return result, err
}

// claimLock marks the match's lock attempt as taken. Only the first caller
// for a match proceeds to the locker.
func (s *ReadyCheckService) claimLock(matchID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.lockClaimed[matchID] {
		return false
	}
	s.lockClaimed[matchID] = true
	return true
}

// runLock invokes the locker and records the outcome.
func (s *ReadyCheckService) runLock(ctx context.Context, candidate *models.MatchCandidate) (*models.MatchLockResult, error) {
	result, err := s.locker.Lock(ctx, candidate)
	if result == nil {
		result = &models.MatchLockResult{MatchID: candidate.ID, Status: models.LockStatusFailed}
	}

	s.mu.Lock()
	s.lockResults[candidate.ID] = result
	s.mu.Unlock()

	return result, err
}

// expire fires at the deadline. Loses gracefully against a racing final
// response.
func (s *ReadyCheckService) expire(checkID string) {
	s.mu.RLock()
	check, ok := s.checks[checkID]
	s.mu.RUnlock()
	if !ok {
		return
	}

	check.mu.Lock()
	if check.state.Status.IsTerminal() {
		check.mu.Unlock()
		return
	}
	check.state.Status = models.ReadyCheckStatusExpired
	out := copyState(check.state)
	check.mu.Unlock()

	s.logger.Info("Ready check expired",
		zap.String("readyCheckId", checkID),
		zap.String("matchId", out.MatchID))

	s.settle(check, out)
}

// settle dispatches the consequences of a terminal check exactly once: the
// status transition above is the commit point, so only one caller gets here
// per check.
func (s *ReadyCheckService) settle(check *readyCheck, state *models.ReadyCheckState) {
	switch state.Status {
	case models.ReadyCheckStatusSucceeded:
		s.lockAndFinish(check)
	case models.ReadyCheckStatusFailed, models.ReadyCheckStatusExpired:
		s.disband(check, state)
	}
	s.scheduleCleanup(state.ID, state.MatchID)
}

func (s *ReadyCheckService) lockAndFinish(check *readyCheck) {
	candidate := check.candidate

	if !s.claimLock(candidate.ID) {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	result, err := s.runLock(ctx, candidate)
	s.finishLock(candidate, result, err)
}

// finishLock settles the parties after a lock attempt, whichever path ran
// it: a failed lock requeues everyone with priority, a locked match destroys
// the tickets and tells the players where to go.
func (s *ReadyCheckService) finishLock(candidate *models.MatchCandidate, result *models.MatchLockResult, err error) {
	if result.Status != models.LockStatusLocked {
		if err != nil && !errors.Is(err, ErrResourceExhausted) {
			s.logger.Error("Match lock failed",
				zap.String("matchId", candidate.ID),
				zap.Error(err))
		} else {
			s.logger.Warn("Match lock failed, requeueing parties",
				zap.String("matchId", candidate.ID))
		}
		s.queue.Requeue(candidate.TicketIDs())
		return
	}

	s.logger.Info("Match locked",
		zap.String("matchId", candidate.ID),
		zap.Stringp("sessionServerId", result.SessionServerID),
		zap.Stringp("voiceLobbyId", result.VoiceLobbyID))

	s.queue.Destroy(candidate.TicketIDs())

	payload := map[string]interface{}{
		"matchId":         candidate.ID,
		"sessionServerId": result.SessionServerID,
	}
	if result.VoiceLobbyID != nil {
		payload["voiceLobbyId"] = *result.VoiceLobbyID
	}
	for _, team := range candidate.Teams {
		for _, p := range team.Participants {
			s.notifier.NotifyPlayers([]string{p.PlayerID}, &models.QueueNotification{
				Type:    models.NotificationMatchReady,
				Payload: payload,
			})
		}
	}
}

// disband sends accepters back with priority and drops everyone who
// declined or sat out.
func (s *ReadyCheckService) disband(check *readyCheck, state *models.ReadyCheckState) {
	var requeue []string
	for ticketID, response := range state.Responses {
		switch response {
		case models.ReadyResponseAccept:
			requeue = append(requeue, ticketID)
		case models.ReadyResponseDecline:
			s.queue.Discard(ticketID, models.NotificationTicketCancelled)
		default:
			s.queue.Discard(ticketID, models.NotificationTicketExpired)
		}
	}
	if len(requeue) > 0 {
		s.queue.Requeue(requeue)
	}

	s.logger.Info("Ready check disbanded",
		zap.String("readyCheckId", state.ID),
		zap.String("status", string(state.Status)),
		zap.Int("requeued", len(requeue)))
}

func (s *ReadyCheckService) scheduleCleanup(checkID, matchID string) {
	time.AfterFunc(terminalRetention, func() {
		s.mu.Lock()
		delete(s.checks, checkID)
		delete(s.byMatch, matchID)
		delete(s.lockClaimed, matchID)
		delete(s.lockResults, matchID)
		s.mu.Unlock()
	})
}

func allAccepted(responses map[string]models.ReadyResponse) bool {
	for _, r := range responses {
		if r != models.ReadyResponseAccept {
			return false
		}
	}
	return true
}
