package service

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/config"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/repository"
)

// RatingProvider supplies the current rating used as a ticket's search
// anchor. Implemented by RatingService.
type RatingProvider interface {
	RatingFor(playerID string) (int, error)
}

// errTicketBusy signals that a ticket changed state under a racing
// transition; the loop simply leaves it alone.
var errTicketBusy = errors.New("ticket changed state concurrently")

// EnqueueRequest is the validated body of a ticket creation call.
type EnqueueRequest struct {
	PartyIDs []string `json:"partyIds"`
	Mode     string   `json:"mode"`
	Region   string   `json:"region"`
}

// QueueService owns the live ticket pool: it accepts and cancels search
// tickets, widens each ticket's search range as it waits, expires overdue
// tickets, and packs compatible tickets into match candidates.
type QueueService struct {
	tickets  *repository.TicketStore
	ratings  RatingProvider
	notifier Notifier
	logger   *zap.Logger
	cfg      *config.Config

	// onCandidate receives each assembled candidate; wired to the ready
	// check coordinator.
	onCandidate func(candidate *models.MatchCandidate)

	stopChan chan struct{}
	wg       sync.WaitGroup
	running  bool
	mu       sync.Mutex

	now func() time.Time
}

func NewQueueService(
	tickets *repository.TicketStore,
	ratings RatingProvider,
	notifier Notifier,
	cfg *config.Config,
	logger *zap.Logger,
) *QueueService {
	return &QueueService{
		tickets:  tickets,
		ratings:  ratings,
		notifier: notifier,
		logger:   logger,
		cfg:      cfg,
		stopChan: make(chan struct{}),
		now:      time.Now,
	}
}

// OnCandidate registers the consumer of assembled match candidates. Must be
// called before Start.
func (s *QueueService) OnCandidate(fn func(candidate *models.MatchCandidate)) {
	s.onCandidate = fn
}

// Start launches the periodic matching loop.
func (s *QueueService) Start() {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return
	}
	s.running = true
	s.mu.Unlock()

	s.logger.Info("Starting QueueService", zap.Duration("interval", s.cfg.MatchmakingInterval))

	s.wg.Add(1)
	go s.matchingLoop()
}

// Stop halts the matching loop and waits for the current pass to finish.
func (s *QueueService) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	s.mu.Unlock()

	s.logger.Info("Stopping QueueService")
	close(s.stopChan)
	s.wg.Wait()
	s.logger.Info("QueueService stopped")
}

func (s *QueueService) matchingLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.MatchmakingInterval)
	defer ticker.Stop()

	// One pass right away so a restart does not delay waiting players
	s.RunMatchingPass()

	for {
		select {
		case <-ticker.C:
			s.RunMatchingPass()
		case <-s.stopChan:
			return
		}
	}
}

// RunMatchingPass scans every mode once. Exported so tests can drive the
// loop deterministically.
func (s *QueueService) RunMatchingPass() {
	for mode := range models.SupportedModes {
		s.matchMode(mode)
	}
}

// Enqueue validates the request, creates the ticket, and starts its
// search-range countdown.
func (s *QueueService) Enqueue(req *EnqueueRequest) (*models.SearchTicket, error) {
	if len(req.PartyIDs) == 0 {
		return nil, ErrEmptyParty
	}
	for _, playerID := range req.PartyIDs {
		if playerID == "" {
			return nil, fmt.Errorf("%w: empty player id in party", ErrValidation)
		}
	}

	modeCfg, ok := models.SupportedModes[req.Mode]
	if !ok {
		return nil, ErrUnsupportedMode
	}
	if len(req.PartyIDs) > modeCfg.TeamSize {
		return nil, ErrPartyTooLarge
	}

	region := req.Region
	if region == "" {
		region = "global"
	}

	total := 0
	for _, playerID := range req.PartyIDs {
		rating, err := s.ratings.RatingFor(playerID)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve rating for %s: %w", playerID, err)
		}
		total += rating
	}

	now := s.now()
	ticket := &models.SearchTicket{
		ID:                   uuid.New().String(),
		PartyIDs:             req.PartyIDs,
		Mode:                 req.Mode,
		Region:               region,
		Rating:               total / len(req.PartyIDs),
		Status:               models.TicketStatusQueued,
		Tolerance:            s.cfg.InitialTolerance,
		QueuedAt:             now,
		ExpiresAt:            now.Add(s.cfg.TicketTTL),
		QueueIDs:             []string{fmt.Sprintf("%s:%s", req.Mode, region)},
		EstimatedWaitSeconds: s.estimateWait(req.Mode, modeCfg),
	}

	if err := s.tickets.PutExclusive(ticket); err != nil {
		var conflict *repository.PlayerConflictError
		if errors.As(err, &conflict) {
			return nil, fmt.Errorf("%w (player %s, ticket %s)", ErrPlayerAlreadyQueued, conflict.PlayerID, conflict.TicketID)
		}
		return nil, err
	}

	s.logger.Info("Ticket enqueued",
		zap.String("ticketId", ticket.ID),
		zap.String("mode", ticket.Mode),
		zap.String("region", ticket.Region),
		zap.Int("rating", ticket.Rating),
		zap.Int("partySize", len(ticket.PartyIDs)))

	snapshot := *ticket
	return &snapshot, nil
}

// Cancel removes a ticket that is still searching. A ticket already frozen
// in a candidate cannot be cancelled; the caller must decline the ready
// check instead.
func (s *QueueService) Cancel(ticketID string) error {
	err := s.tickets.WithTicket(ticketID, func(t *models.SearchTicket) error {
		if t.Status != models.TicketStatusQueued {
			return ErrTicketNotCancelable
		}
		t.Status = models.TicketStatusCancelled
		return nil
	})
	if errors.Is(err, repository.ErrTicketNotFound) {
		return fmt.Errorf("%w: ticket %s", ErrNotFound, ticketID)
	}
	if err != nil {
		return err
	}

	s.tickets.Remove(ticketID)
	s.logger.Info("Ticket cancelled", zap.String("ticketId", ticketID))
	return nil
}

// Requeue returns tickets to the searching pool with a priority boost.
// Used after a failed ready check or lock; the party keeps its place in
// line through the wait-time credit.
func (s *QueueService) Requeue(ticketIDs []string) {
	now := s.now()

	for _, ticketID := range ticketIDs {
		var party []string
		err := s.tickets.WithTicket(ticketID, func(t *models.SearchTicket) error {
			t.Status = models.TicketStatusQueued
			t.CandidateID = nil
			t.Boost += s.cfg.PriorityBoost
			t.ExpiresAt = now.Add(s.cfg.TicketTTL)
			party = t.PartyIDs
			return nil
		})
		if err != nil {
			continue
		}

		s.notifier.PublishEvent(&models.QueueEvent{
			Type:     models.QueueEventPriorityBoost,
			TicketID: ticketID,
			Payload:  map[string]interface{}{"boostSeconds": int(s.cfg.PriorityBoost.Seconds())},
		})
		s.notifier.NotifyPlayers(party, &models.QueueNotification{
			Type:    models.NotificationPriorityBoost,
			Payload: map[string]interface{}{"ticketId": ticketID},
		})
	}
}

// Discard cancels a ticket on the player's behalf (decline, no response)
// and tells the party why.
func (s *QueueService) Discard(ticketID string, reason models.QueueNotificationType) {
	var party []string
	err := s.tickets.WithTicket(ticketID, func(t *models.SearchTicket) error {
		t.Status = models.TicketStatusCancelled
		party = t.PartyIDs
		return nil
	})
	if err != nil {
		return
	}

	s.tickets.Remove(ticketID)
	s.notifier.NotifyPlayers(party, &models.QueueNotification{
		Type:    reason,
		Payload: map[string]interface{}{"ticketId": ticketID},
	})
}

// Destroy removes tickets whose match locked successfully.
func (s *QueueService) Destroy(ticketIDs []string) {
	for _, ticketID := range ticketIDs {
		s.tickets.Remove(ticketID)
	}
}

// QueueStatus reports live ticket counts per mode.
func (s *QueueService) QueueStatus() map[string]int {
	return s.tickets.Count()
}

func (s *QueueService) estimateWait(mode string, modeCfg models.ModeConfig) int {
	base := int(s.cfg.MatchmakingInterval.Seconds())
	if base < 1 {
		base = 1
	}

	waiting := len(s.tickets.ListByMode(mode))
	rosterSize := modeCfg.TeamSize * modeCfg.TeamCount
	if waiting+1 >= rosterSize {
		return base * 2
	}
	return base * 6
}

// matchMode runs one pass over a mode's tickets: expiry, tolerance
// expansion, then candidate packing per region.
func (s *QueueService) matchMode(mode string) {
	modeCfg := models.SupportedModes[mode]
	now := s.now()

	var queued []*models.SearchTicket
	for _, t := range s.tickets.ListByMode(mode) {
		if t.Status != models.TicketStatusQueued {
			continue
		}
		if now.After(t.ExpiresAt) {
			s.expireTicket(t.ID)
			continue
		}
		s.expandTolerance(t, now)
		queued = append(queued, t)
	}

	byRegion := make(map[string][]*models.SearchTicket)
	for _, t := range queued {
		byRegion[t.Region] = append(byRegion[t.Region], t)
	}

	for region, tickets := range byRegion {
		s.packRegion(mode, region, modeCfg, tickets)
	}
}

func (s *QueueService) expireTicket(ticketID string) {
	var party []string
	err := s.tickets.WithTicket(ticketID, func(t *models.SearchTicket) error {
		if t.Status != models.TicketStatusQueued {
			return errTicketBusy
		}
		t.Status = models.TicketStatusExpired
		party = t.PartyIDs
		return nil
	})
	if err != nil {
		return
	}

	s.tickets.Remove(ticketID)
	s.logger.Info("Ticket expired", zap.String("ticketId", ticketID))

	s.notifier.PublishEvent(&models.QueueEvent{
		Type:     models.QueueEventTicketExpired,
		TicketID: ticketID,
	})
	s.notifier.NotifyPlayers(party, &models.QueueNotification{
		Type:    models.NotificationTicketExpired,
		Payload: map[string]interface{}{"ticketId": ticketID},
	})
}

// expandTolerance widens the search range monotonically with effective wait
// time, up to the configured cap.
func (s *QueueService) expandTolerance(snapshot *models.SearchTicket, now time.Time) {
	wait := snapshot.WaitTime(now)
	target := s.cfg.InitialTolerance + s.cfg.ToleranceGrowthPerSec*int(wait.Seconds())
	if target > s.cfg.MaxTolerance {
		target = s.cfg.MaxTolerance
	}
	if target <= snapshot.Tolerance {
		return
	}

	old := snapshot.Tolerance
	expanded := false
	_ = s.tickets.WithTicket(snapshot.ID, func(t *models.SearchTicket) error {
		if t.Status == models.TicketStatusQueued && target > t.Tolerance {
			t.Tolerance = target
			expanded = true
		}
		return nil
	})
	if !expanded {
		return
	}

	snapshot.Tolerance = target
	s.notifier.PublishEvent(&models.QueueEvent{
		Type:     models.QueueEventRangeExpanded,
		TicketID: snapshot.ID,
		Payload:  map[string]interface{}{"from": old, "to": target},
	})
	s.notifier.NotifyPlayers(snapshot.PartyIDs, &models.QueueNotification{
		Type:    models.NotificationRangeExpanded,
		Payload: map[string]interface{}{"ticketId": snapshot.ID, "tolerance": target},
	})
}

// packRegion assembles as many full rosters as the pool allows. Tickets are
// sorted by rating so every viable grouping is a contiguous window; among
// feasible windows the one with the smallest rating spread wins, ties going
// to the longest-waiting ticket.
func (s *QueueService) packRegion(mode, region string, modeCfg models.ModeConfig, tickets []*models.SearchTicket) {
	rosterSize := modeCfg.TeamSize * modeCfg.TeamCount

	sort.Slice(tickets, func(i, j int) bool {
		return tickets[i].Rating < tickets[j].Rating
	})

	remaining := tickets
	for {
		window := s.bestWindow(remaining, rosterSize)
		if window == nil {
			return
		}

		candidate := s.buildCandidate(mode, region, modeCfg, window)
		if candidate == nil {
			// Roster cannot split into whole-party teams; drop the window's
			// first ticket from this pass so packing can continue past it.
			remaining = withoutTicket(remaining, window[0].ID)
			continue
		}

		if s.promote(candidate, window) {
			inWindow := make(map[string]bool, len(window))
			for _, t := range window {
				inWindow[t.ID] = true
			}
			kept := remaining[:0]
			for _, t := range remaining {
				if !inWindow[t.ID] {
					kept = append(kept, t)
				}
			}
			remaining = kept
			continue
		}

		// A ticket changed state mid-promotion; retry on the next pass
		return
	}
}

// bestWindow picks the feasible contiguous window that minimizes rating
// spread. Feasible means the roster fills exactly and the spread fits the
// tightest member's tolerance.
func (s *QueueService) bestWindow(sorted []*models.SearchTicket, rosterSize int) []*models.SearchTicket {
	var best []*models.SearchTicket
	bestSpread := 0
	var bestWait time.Time

	for i := 0; i < len(sorted); i++ {
		players := 0
		minTolerance := sorted[i].Tolerance

		for j := i; j < len(sorted); j++ {
			players += len(sorted[j].PartyIDs)
			if sorted[j].Tolerance < minTolerance {
				minTolerance = sorted[j].Tolerance
			}
			if players < rosterSize {
				continue
			}
			if players > rosterSize {
				break
			}

			spread := sorted[j].Rating - sorted[i].Rating
			if spread > minTolerance {
				break
			}

			window := sorted[i : j+1]
			earliest := window[0].EffectiveQueuedAt()
			for _, t := range window[1:] {
				if eq := t.EffectiveQueuedAt(); eq.Before(earliest) {
					earliest = eq
				}
			}

			if best == nil || spread < bestSpread ||
				(spread == bestSpread && earliest.Before(bestWait)) {
				best = window
				bestSpread = spread
				bestWait = earliest
			}
			break
		}
	}

	return best
}

// buildCandidate splits the window into balanced teams, keeping parties
// whole. Returns nil when the party sizes cannot fill the teams exactly.
func (s *QueueService) buildCandidate(mode, region string, modeCfg models.ModeConfig, window []*models.SearchTicket) *models.MatchCandidate {
	type teamBuild struct {
		participants []models.MatchParticipant
		size         int
		ratingSum    int
		ticketCount  int
	}

	teams := make([]teamBuild, modeCfg.TeamCount)

	// Place big parties first, then strong tickets, each into the emptiest
	// team (lowest total rating breaks ties) that still has room.
	placing := make([]*models.SearchTicket, len(window))
	copy(placing, window)
	sort.Slice(placing, func(i, j int) bool {
		if len(placing[i].PartyIDs) != len(placing[j].PartyIDs) {
			return len(placing[i].PartyIDs) > len(placing[j].PartyIDs)
		}
		return placing[i].Rating > placing[j].Rating
	})

	for _, t := range placing {
		bestTeam := -1
		for idx := range teams {
			if teams[idx].size+len(t.PartyIDs) > modeCfg.TeamSize {
				continue
			}
			if bestTeam == -1 ||
				teams[idx].size < teams[bestTeam].size ||
				(teams[idx].size == teams[bestTeam].size && teams[idx].ratingSum < teams[bestTeam].ratingSum) {
				bestTeam = idx
			}
		}
		if bestTeam == -1 {
			return nil
		}

		for _, playerID := range t.PartyIDs {
			teams[bestTeam].participants = append(teams[bestTeam].participants, models.MatchParticipant{
				PlayerID: playerID,
				TicketID: t.ID,
				Rating:   t.Rating,
			})
		}
		teams[bestTeam].size += len(t.PartyIDs)
		teams[bestTeam].ratingSum += t.Rating * len(t.PartyIDs)
		teams[bestTeam].ticketCount++
	}

	candidate := &models.MatchCandidate{
		ID:        uuid.New().String(),
		Mode:      mode,
		Region:    region,
		CreatedAt: s.now(),
	}
	for _, team := range teams {
		if team.size != modeCfg.TeamSize {
			return nil
		}
		candidate.Teams = append(candidate.Teams, models.MatchTeam{
			Participants:  team.participants,
			AverageRating: team.ratingSum / team.size,
			MixedParty:    team.ticketCount > 1,
		})
	}

	return candidate
}

// promote freezes the window's tickets into the candidate. Two phases: all
// tickets move QUEUED -> BUILDING or none do, then BUILDING -> MATCH_FOUND.
// A cancel that won the race on any ticket rolls the whole grouping back.
func (s *QueueService) promote(candidate *models.MatchCandidate, window []*models.SearchTicket) bool {
	var promoted []string

	for _, t := range window {
		err := s.tickets.WithTicket(t.ID, func(live *models.SearchTicket) error {
			if live.Status != models.TicketStatusQueued {
				return errTicketBusy
			}
			live.Status = models.TicketStatusBuilding
			candidateID := candidate.ID
			live.CandidateID = &candidateID
			return nil
		})
		if err != nil {
			for _, id := range promoted {
				_ = s.tickets.WithTicket(id, func(live *models.SearchTicket) error {
					if live.CandidateID != nil && *live.CandidateID == candidate.ID {
						live.Status = models.TicketStatusQueued
						live.CandidateID = nil
					}
					return nil
				})
			}
			return false
		}
		promoted = append(promoted, t.ID)
	}

	matchID := candidate.ID
	for _, t := range window {
		_ = s.tickets.WithTicket(t.ID, func(live *models.SearchTicket) error {
			live.Status = models.TicketStatusMatchFound
			return nil
		})

		s.notifier.PublishEvent(&models.QueueEvent{
			Type:     models.QueueEventMatchReady,
			TicketID: t.ID,
			MatchID:  &matchID,
		})
		s.notifier.NotifyPlayers(t.PartyIDs, &models.QueueNotification{
			Type: models.NotificationMatchReady,
			Payload: map[string]interface{}{
				"ticketId": t.ID,
				"matchId":  candidate.ID,
			},
		})
	}

	s.logger.Info("Match candidate assembled",
		zap.String("matchId", candidate.ID),
		zap.String("mode", candidate.Mode),
		zap.String("region", candidate.Region),
		zap.Int("spread", candidate.RatingSpread()),
		zap.Int("tickets", len(window)))

	if s.onCandidate != nil {
		go s.onCandidate(candidate)
	}

	return true
}

func withoutTicket(tickets []*models.SearchTicket, id string) []*models.SearchTicket {
	out := tickets[:0]
	for _, t := range tickets {
		if t.ID != id {
			out = append(out, t)
		}
	}
	return out
}
