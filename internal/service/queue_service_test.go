package service

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/config"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/repository"
)

func queueTestConfig() *config.Config {
	return &config.Config{
		MatchmakingInterval:   100 * time.Millisecond,
		InitialTolerance:      50,
		ToleranceGrowthPerSec: 5,
		MaxTolerance:          500,
		TicketTTL:             10 * time.Minute,
		PriorityBoost:         30 * time.Second,
	}
}

// staticRatings serves fixed ratings; unknown players get 1500.
type staticRatings map[string]int

func (r staticRatings) RatingFor(playerID string) (int, error) {
	if rating, ok := r[playerID]; ok {
		return rating, nil
	}
	return 1500, nil
}

type sentNotification struct {
	players      []string
	notification *models.QueueNotification
}

// recorderNotifier captures everything published for assertion.
type recorderNotifier struct {
	mu            sync.Mutex
	events        []*models.QueueEvent
	notifications []sentNotification
}

func (r *recorderNotifier) PublishEvent(event *models.QueueEvent) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, event)
}

func (r *recorderNotifier) NotifyPlayers(playerIDs []string, notification *models.QueueNotification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notifications = append(r.notifications, sentNotification{players: playerIDs, notification: notification})
}

func (r *recorderNotifier) eventsOfType(eventType models.QueueEventType) []*models.QueueEvent {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.QueueEvent
	for _, e := range r.events {
		if e.Type == eventType {
			out = append(out, e)
		}
	}
	return out
}

func (r *recorderNotifier) notificationsOfType(notificationType models.QueueNotificationType) []sentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentNotification
	for _, n := range r.notifications {
		if n.notification.Type == notificationType {
			out = append(out, n)
		}
	}
	return out
}

type queueFixture struct {
	svc        *QueueService
	store      *repository.TicketStore
	notifier   *recorderNotifier
	candidates chan *models.MatchCandidate
	clock      time.Time
}

func newQueueFixture(t *testing.T, ratings staticRatings) *queueFixture {
	f := &queueFixture{
		store:      repository.NewTicketStore(),
		notifier:   &recorderNotifier{},
		candidates: make(chan *models.MatchCandidate, 8),
		clock:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
	}
	f.svc = NewQueueService(f.store, ratings, f.notifier, queueTestConfig(), zaptest.NewLogger(t))
	f.svc.now = func() time.Time { return f.clock }
	f.svc.OnCandidate(func(c *models.MatchCandidate) { f.candidates <- c })
	return f
}

func (f *queueFixture) waitCandidate(t *testing.T) *models.MatchCandidate {
	t.Helper()
	select {
	case c := <-f.candidates:
		return c
	case <-time.After(2 * time.Second):
		t.Fatal("no candidate delivered")
		return nil
	}
}

func (f *queueFixture) assertNoCandidate(t *testing.T) {
	t.Helper()
	select {
	case c := <-f.candidates:
		t.Fatalf("unexpected candidate %s", c.ID)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestEnqueue_Validation(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	tests := []struct {
		name    string
		req     *EnqueueRequest
		wantErr error
	}{
		{"empty party", &EnqueueRequest{Mode: "ranked-duel"}, ErrEmptyParty},
		{"unknown mode", &EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "casual-ffa"}, ErrUnsupportedMode},
		{"party exceeds team size", &EnqueueRequest{PartyIDs: []string{"p1", "p2"}, Mode: "ranked-duel"}, ErrPartyTooLarge},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := f.svc.Enqueue(tt.req)
			assert.ErrorIs(t, err, tt.wantErr)
			assert.ErrorIs(t, err, ErrValidation)
		})
	}
}

func TestEnqueue_CreatesTicket(t *testing.T) {
	f := newQueueFixture(t, staticRatings{"p1": 1480, "p2": 1520})

	ticket, err := f.svc.Enqueue(&EnqueueRequest{
		PartyIDs: []string{"p1", "p2"},
		Mode:     "ranked-3v3",
		Region:   "us-east",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, ticket.ID)
	assert.Equal(t, models.TicketStatusQueued, ticket.Status)
	assert.Equal(t, 1500, ticket.Rating) // party average
	assert.Equal(t, 50, ticket.Tolerance)
	assert.Equal(t, f.clock.Add(10*time.Minute), ticket.ExpiresAt)
	assert.Positive(t, ticket.EstimatedWaitSeconds)
}

func TestEnqueue_RejectsDoubleQueue(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	_, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	require.NoError(t, err)

	_, err = f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	assert.ErrorIs(t, err, ErrPlayerAlreadyQueued)
	assert.ErrorIs(t, err, ErrConflict)
}

func TestCancel(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	ticket, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(ticket.ID))

	// Gone from the store and from the queue count
	assert.ErrorIs(t, f.svc.Cancel(ticket.ID), ErrNotFound)
	assert.Zero(t, f.svc.QueueStatus()["ranked-duel"])

	// The player can queue again immediately
	_, err = f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	assert.NoError(t, err)
}

func TestMatchingPass_PairsCloseRatings(t *testing.T) {
	f := newQueueFixture(t, staticRatings{"p1": 1500, "p2": 1520})

	t1, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel", Region: "us-east"})
	require.NoError(t, err)
	t2, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p2"}, Mode: "ranked-duel", Region: "us-east"})
	require.NoError(t, err)

	f.svc.RunMatchingPass()

	candidate := f.waitCandidate(t)
	assert.Equal(t, "ranked-duel", candidate.Mode)
	assert.Equal(t, "us-east", candidate.Region)
	assert.ElementsMatch(t, []string{t1.ID, t2.ID}, candidate.TicketIDs())
	assert.Equal(t, 20, candidate.RatingSpread())
	require.Len(t, candidate.Teams, 2)
	for _, team := range candidate.Teams {
		assert.Len(t, team.Participants, 1)
		assert.False(t, team.MixedParty)
	}

	for _, id := range []string{t1.ID, t2.ID} {
		stored, err := f.store.Get(id)
		require.NoError(t, err)
		assert.Equal(t, models.TicketStatusMatchFound, stored.Status)
		require.NotNil(t, stored.CandidateID)
		assert.Equal(t, candidate.ID, *stored.CandidateID)
	}

	assert.Len(t, f.notifier.eventsOfType(models.QueueEventMatchReady), 2)
	assert.Len(t, f.notifier.notificationsOfType(models.NotificationMatchReady), 2)
}

func TestMatchingPass_RespectsRegions(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	_, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel", Region: "us-east"})
	require.NoError(t, err)
	_, err = f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p2"}, Mode: "ranked-duel", Region: "eu-west"})
	require.NoError(t, err)

	f.svc.RunMatchingPass()
	f.assertNoCandidate(t)
}

func TestMatchingPass_ToleranceGates(t *testing.T) {
	f := newQueueFixture(t, staticRatings{"p1": 1500, "p2": 1700})

	_, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	require.NoError(t, err)
	_, err = f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p2"}, Mode: "ranked-duel"})
	require.NoError(t, err)

	// Spread 200 > initial tolerance 50: no match
	f.svc.RunMatchingPass()
	f.assertNoCandidate(t)

	// After 30s of waiting the tolerance has grown to 50 + 5*30 = 200
	f.clock = f.clock.Add(30 * time.Second)
	f.svc.RunMatchingPass()
	f.waitCandidate(t)

	expansions := f.notifier.eventsOfType(models.QueueEventRangeExpanded)
	require.NotEmpty(t, expansions)
	assert.Equal(t, 50, expansions[0].Payload["from"])
	assert.Equal(t, 200, expansions[0].Payload["to"])
}

func TestMatchingPass_ToleranceCapped(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	ticket, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	require.NoError(t, err)

	f.clock = f.clock.Add(5 * time.Minute)
	f.svc.RunMatchingPass()

	stored, err := f.store.Get(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, 500, stored.Tolerance)
}

func TestMatchingPass_ExpiresOverdueTickets(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	ticket, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	require.NoError(t, err)

	f.clock = f.clock.Add(11 * time.Minute)
	f.svc.RunMatchingPass()

	_, err = f.store.Get(ticket.ID)
	assert.ErrorIs(t, err, repository.ErrTicketNotFound)

	expired := f.notifier.eventsOfType(models.QueueEventTicketExpired)
	require.Len(t, expired, 1)
	assert.Equal(t, ticket.ID, expired[0].TicketID)
	assert.Len(t, f.notifier.notificationsOfType(models.NotificationTicketExpired), 1)
}

func TestMatchingPass_CancelledTicketNeverMatched(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	t1, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	require.NoError(t, err)
	_, err = f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p2"}, Mode: "ranked-duel"})
	require.NoError(t, err)

	require.NoError(t, f.svc.Cancel(t1.ID))

	f.svc.RunMatchingPass()
	f.assertNoCandidate(t)
}

func TestMatchingPass_PrefersTightestSpread(t *testing.T) {
	f := newQueueFixture(t, staticRatings{"p1": 1500, "p2": 1540, "p3": 1545})

	for _, p := range []string{"p1", "p2", "p3"} {
		_, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{p}, Mode: "ranked-duel"})
		require.NoError(t, err)
	}

	f.svc.RunMatchingPass()

	candidate := f.waitCandidate(t)
	assert.Equal(t, 5, candidate.RatingSpread()) // 1540 and 1545, not 1500 and 1540
}

func TestMatchingPass_KeepsPartiesWhole(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	duo, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1", "p2"}, Mode: "ranked-3v3"})
	require.NoError(t, err)
	for _, p := range []string{"p3", "p4", "p5", "p6"} {
		_, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{p}, Mode: "ranked-3v3"})
		require.NoError(t, err)
	}

	f.svc.RunMatchingPass()

	candidate := f.waitCandidate(t)
	require.Len(t, candidate.Teams, 2)

	for _, team := range candidate.Teams {
		assert.Len(t, team.Participants, 3)
		// The duo's two players must share a team
		count := 0
		for _, p := range team.Participants {
			if p.TicketID == duo.ID {
				count++
			}
		}
		assert.Contains(t, []int{0, 2}, count)
	}
}

func TestMatchingPass_Deterministic(t *testing.T) {
	// Same pool, same pass, same grouping every time
	var spreads []int
	for run := 0; run < 5; run++ {
		f := newQueueFixture(t, staticRatings{"p1": 1500, "p2": 1540, "p3": 1545, "p4": 1700})
		for _, p := range []string{"p1", "p2", "p3", "p4"} {
			_, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{p}, Mode: "ranked-duel"})
			require.NoError(t, err)
		}
		f.svc.RunMatchingPass()
		spreads = append(spreads, f.waitCandidate(t).RatingSpread())
	}
	for _, s := range spreads {
		assert.Equal(t, spreads[0], s)
	}
}

func TestRequeue_BoostsPriority(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	ticket, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	require.NoError(t, err)

	// Simulate a candidate freeze, then a failed ready check
	require.NoError(t, f.store.WithTicket(ticket.ID, func(live *models.SearchTicket) error {
		live.Status = models.TicketStatusMatchFound
		id := "m1"
		live.CandidateID = &id
		return nil
	}))

	f.svc.Requeue([]string{ticket.ID})

	stored, err := f.store.Get(ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, models.TicketStatusQueued, stored.Status)
	assert.Nil(t, stored.CandidateID)
	assert.Equal(t, 30*time.Second, stored.Boost)
	assert.Equal(t, stored.QueuedAt.Add(-30*time.Second), stored.EffectiveQueuedAt())

	boosts := f.notifier.eventsOfType(models.QueueEventPriorityBoost)
	require.Len(t, boosts, 1)
	assert.Equal(t, 30, boosts[0].Payload["boostSeconds"])
}

func TestDiscard_RemovesAndNotifies(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	ticket, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	require.NoError(t, err)

	f.svc.Discard(ticket.ID, models.NotificationTicketCancelled)

	_, err = f.store.Get(ticket.ID)
	assert.ErrorIs(t, err, repository.ErrTicketNotFound)
	assert.Len(t, f.notifier.notificationsOfType(models.NotificationTicketCancelled), 1)
}

func TestQueueStatus(t *testing.T) {
	f := newQueueFixture(t, staticRatings{})

	_, err := f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p1"}, Mode: "ranked-duel"})
	require.NoError(t, err)
	_, err = f.svc.Enqueue(&EnqueueRequest{PartyIDs: []string{"p2", "p3"}, Mode: "ranked-3v3"})
	require.NoError(t, err)

	status := f.svc.QueueStatus()
	assert.Equal(t, 1, status["ranked-duel"])
	assert.Equal(t, 1, status["ranked-3v3"])
}
