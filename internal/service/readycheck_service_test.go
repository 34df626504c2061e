package service

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/gc-lover/necpgame-monorepo-sub002/internal/config"
	"github.com/gc-lover/necpgame-monorepo-sub002/internal/models"
)

// fakeLocker returns a canned result and records invocations.
type fakeLocker struct {
	mu     sync.Mutex
	result *models.MatchLockResult
	err    error
	calls  int
}

func (l *fakeLocker) Lock(ctx context.Context, candidate *models.MatchCandidate) (*models.MatchLockResult, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.calls++
	if l.result != nil {
		out := *l.result
		out.MatchID = candidate.ID
		return &out, l.err
	}
	return nil, l.err
}

func (l *fakeLocker) callCount() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.calls
}

// fakeDisposer records the queue-side dispositions.
type fakeDisposer struct {
	mu        sync.Mutex
	requeued  []string
	discarded map[string]models.QueueNotificationType
	destroyed []string
}

func newFakeDisposer() *fakeDisposer {
	return &fakeDisposer{discarded: make(map[string]models.QueueNotificationType)}
}

func (d *fakeDisposer) Requeue(ticketIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.requeued = append(d.requeued, ticketIDs...)
}

func (d *fakeDisposer) Discard(ticketID string, reason models.QueueNotificationType) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.discarded[ticketID] = reason
}

func (d *fakeDisposer) Destroy(ticketIDs []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.destroyed = append(d.destroyed, ticketIDs...)
}

func (d *fakeDisposer) snapshot() (requeued []string, discarded map[string]models.QueueNotificationType, destroyed []string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	requeued = append([]string(nil), d.requeued...)
	destroyed = append([]string(nil), d.destroyed...)
	discarded = make(map[string]models.QueueNotificationType, len(d.discarded))
	for k, v := range d.discarded {
		discarded[k] = v
	}
	return
}

func testCandidate() *models.MatchCandidate {
	return &models.MatchCandidate{
		ID:     "match-1",
		Mode:   "ranked-duel",
		Region: "us-east",
		Teams: []models.MatchTeam{
			{Participants: []models.MatchParticipant{{PlayerID: "alice", TicketID: "t-a", Rating: 1500}}, AverageRating: 1500},
			{Participants: []models.MatchParticipant{{PlayerID: "bob", TicketID: "t-b", Rating: 1520}}, AverageRating: 1520},
		},
		CreatedAt: time.Now(),
	}
}

func newReadyCheckFixture(t *testing.T, locker *fakeLocker) (*ReadyCheckService, *fakeDisposer, *recorderNotifier) {
	disposer := newFakeDisposer()
	notifier := &recorderNotifier{}
	cfg := &config.Config{ReadyCheckTimeout: time.Minute}
	svc := NewReadyCheckService(locker, disposer, notifier, cfg, zaptest.NewLogger(t))
	return svc, disposer, notifier
}

func lockedResult() *models.MatchLockResult {
	server := "gs-1"
	now := time.Now()
	return &models.MatchLockResult{
		Status:          models.LockStatusLocked,
		SessionServerID: &server,
		LockedAt:        &now,
	}
}

func TestReadyCheck_Initiate(t *testing.T) {
	svc, _, notifier := newReadyCheckFixture(t, &fakeLocker{result: lockedResult()})

	state := svc.Initiate(testCandidate())

	assert.Equal(t, models.ReadyCheckStatusInitiated, state.Status)
	assert.Equal(t, "match-1", state.MatchID)
	require.Len(t, state.Responses, 2)
	for _, r := range state.Responses {
		assert.Equal(t, models.ReadyResponseNoResponse, r)
	}

	// Every participant is told their match is ready
	assert.Len(t, notifier.notificationsOfType(models.NotificationMatchReady), 2)
}

func TestReadyCheck_AllAcceptLocksMatch(t *testing.T) {
	locker := &fakeLocker{result: lockedResult()}
	svc, disposer, _ := newReadyCheckFixture(t, locker)

	state := svc.Initiate(testCandidate())

	mid, err := svc.Respond(state.ID, "t-a", true)
	require.NoError(t, err)
	assert.Equal(t, models.ReadyCheckStatusInProgress, mid.Status)

	final, err := svc.Respond(state.ID, "t-b", true)
	require.NoError(t, err)
	assert.Equal(t, models.ReadyCheckStatusSucceeded, final.Status)

	require.Eventually(t, func() bool {
		_, _, destroyed := disposer.snapshot()
		return len(destroyed) == 2
	}, 2*time.Second, 10*time.Millisecond)

	assert.Equal(t, 1, locker.callCount())

	result, err := svc.LockResult("match-1")
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusLocked, result.Status)
	require.NotNil(t, result.SessionServerID)
	assert.Equal(t, "gs-1", *result.SessionServerID)

	requeued, discarded, _ := disposer.snapshot()
	assert.Empty(t, requeued)
	assert.Empty(t, discarded)
}

func TestReadyCheck_DeclineFailsCheck(t *testing.T) {
	locker := &fakeLocker{result: lockedResult()}
	svc, disposer, _ := newReadyCheckFixture(t, locker)

	state := svc.Initiate(testCandidate())

	_, err := svc.Respond(state.ID, "t-a", true)
	require.NoError(t, err)

	final, err := svc.Respond(state.ID, "t-b", false)
	require.NoError(t, err)
	assert.Equal(t, models.ReadyCheckStatusFailed, final.Status)

	require.Eventually(t, func() bool {
		requeued, discarded, _ := disposer.snapshot()
		return len(requeued) == 1 && len(discarded) == 1
	}, 2*time.Second, 10*time.Millisecond)

	requeued, discarded, destroyed := disposer.snapshot()
	assert.Equal(t, []string{"t-a"}, requeued)
	assert.Equal(t, models.NotificationTicketCancelled, discarded["t-b"])
	assert.Empty(t, destroyed)
	assert.Zero(t, locker.callCount())
}

func TestReadyCheck_ExpiryDisbands(t *testing.T) {
	locker := &fakeLocker{result: lockedResult()}
	svc, disposer, _ := newReadyCheckFixture(t, locker)

	state := svc.Initiate(testCandidate())

	_, err := svc.Respond(state.ID, "t-a", true)
	require.NoError(t, err)

	svc.expire(state.ID)

	final, err := svc.Get(state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReadyCheckStatusExpired, final.Status)

	requeued, discarded, _ := disposer.snapshot()
	assert.Equal(t, []string{"t-a"}, requeued)
	assert.Equal(t, models.NotificationTicketExpired, discarded["t-b"])
	assert.Zero(t, locker.callCount())
}

func TestReadyCheck_ResponseAfterTerminalIsIdempotent(t *testing.T) {
	svc, _, _ := newReadyCheckFixture(t, &fakeLocker{result: lockedResult()})

	state := svc.Initiate(testCandidate())
	svc.expire(state.ID)

	// A decline racing the deadline just sees the final state
	final, err := svc.Respond(state.ID, "t-b", false)
	require.NoError(t, err)
	assert.Equal(t, models.ReadyCheckStatusExpired, final.Status)
	assert.Equal(t, models.ReadyResponseNoResponse, final.Responses["t-b"])
}

func TestReadyCheck_ExpiryAfterTerminalIsNoop(t *testing.T) {
	locker := &fakeLocker{result: lockedResult()}
	svc, disposer, _ := newReadyCheckFixture(t, locker)

	state := svc.Initiate(testCandidate())

	_, err := svc.Respond(state.ID, "t-a", true)
	require.NoError(t, err)
	_, err = svc.Respond(state.ID, "t-b", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, destroyed := disposer.snapshot()
		return len(destroyed) == 2
	}, 2*time.Second, 10*time.Millisecond)

	// The deadline firing late must not disband a succeeded check
	svc.expire(state.ID)

	final, err := svc.Get(state.ID)
	require.NoError(t, err)
	assert.Equal(t, models.ReadyCheckStatusSucceeded, final.Status)

	requeued, discarded, _ := disposer.snapshot()
	assert.Empty(t, requeued)
	assert.Empty(t, discarded)
	assert.Equal(t, 1, locker.callCount())
}

func TestReadyCheck_NonParticipant(t *testing.T) {
	svc, _, _ := newReadyCheckFixture(t, &fakeLocker{result: lockedResult()})

	state := svc.Initiate(testCandidate())

	_, err := svc.Respond(state.ID, "t-stranger", true)
	assert.ErrorIs(t, err, ErrNotParticipant)
}

func TestReadyCheck_UnknownCheck(t *testing.T) {
	svc, _, _ := newReadyCheckFixture(t, &fakeLocker{result: lockedResult()})

	_, err := svc.Respond("missing", "t-a", true)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Get("missing")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.LockResult("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReadyCheck_LockFailureRequeuesEveryone(t *testing.T) {
	locker := &fakeLocker{
		result: &models.MatchLockResult{Status: models.LockStatusFailed},
		err:    ErrResourceExhausted,
	}
	svc, disposer, _ := newReadyCheckFixture(t, locker)

	state := svc.Initiate(testCandidate())

	_, err := svc.Respond(state.ID, "t-a", true)
	require.NoError(t, err)
	_, err = svc.Respond(state.ID, "t-b", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		requeued, _, _ := disposer.snapshot()
		return len(requeued) == 2
	}, 2*time.Second, 10*time.Millisecond)

	requeued, _, destroyed := disposer.snapshot()
	assert.ElementsMatch(t, []string{"t-a", "t-b"}, requeued)
	assert.Empty(t, destroyed)

	result, err := svc.LockResult("match-1")
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusFailed, result.Status)
}

func TestReadyCheck_ManualLockConflictsAfterAutoLock(t *testing.T) {
	locker := &fakeLocker{result: lockedResult()}
	svc, disposer, _ := newReadyCheckFixture(t, locker)

	state := svc.Initiate(testCandidate())

	_, err := svc.Respond(state.ID, "t-a", true)
	require.NoError(t, err)
	_, err = svc.Respond(state.ID, "t-b", true)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		_, _, destroyed := disposer.snapshot()
		return len(destroyed) == 2
	}, 2*time.Second, 10*time.Millisecond)

	_, err = svc.LockMatch(context.Background(), "match-1")
	assert.ErrorIs(t, err, ErrAlreadyLocked)
	assert.ErrorIs(t, err, ErrConflict)
	assert.Equal(t, 1, locker.callCount())
}

func TestReadyCheck_ManualLockFailureRequeuesParties(t *testing.T) {
	locker := &fakeLocker{err: fmt.Errorf("%w: no session servers free", ErrResourceExhausted)}
	svc, disposer, _ := newReadyCheckFixture(t, locker)

	state := svc.Initiate(testCandidate())

	// Drive the check to success without letting the automatic settle run,
	// so the manual path owns the lock attempt.
	svc.mu.RLock()
	check := svc.checks[state.ID]
	svc.mu.RUnlock()
	check.mu.Lock()
	check.state.Status = models.ReadyCheckStatusSucceeded
	check.timer.Stop()
	check.mu.Unlock()

	result, err := svc.LockMatch(context.Background(), "match-1")
	assert.ErrorIs(t, err, ErrResourceExhausted)
	require.NotNil(t, result)
	assert.Equal(t, models.LockStatusFailed, result.Status)

	requeued, discarded, destroyed := disposer.snapshot()
	assert.ElementsMatch(t, []string{"t-a", "t-b"}, requeued)
	assert.Empty(t, discarded)
	assert.Empty(t, destroyed)

	recorded, err := svc.LockResult("match-1")
	require.NoError(t, err)
	assert.Equal(t, models.LockStatusFailed, recorded.Status)
}

func TestReadyCheck_ManualLockRaceLeavesNoTicketStranded(t *testing.T) {
	locker := &fakeLocker{err: fmt.Errorf("%w: no session servers free", ErrResourceExhausted)}
	svc, disposer, _ := newReadyCheckFixture(t, locker)

	state := svc.Initiate(testCandidate())

	_, err := svc.Respond(state.ID, "t-a", true)
	require.NoError(t, err)
	_, err = svc.Respond(state.ID, "t-b", true)
	require.NoError(t, err)

	// Races the automatic settle for the claim; whichever side wins, the
	// failed lock must send both parties back to the queue.
	_, _ = svc.LockMatch(context.Background(), "match-1")

	require.Eventually(t, func() bool {
		requeued, _, _ := disposer.snapshot()
		return len(requeued) == 2
	}, 2*time.Second, 10*time.Millisecond)

	requeued, discarded, destroyed := disposer.snapshot()
	assert.ElementsMatch(t, []string{"t-a", "t-b"}, requeued)
	assert.Empty(t, discarded)
	assert.Empty(t, destroyed)
	assert.Equal(t, 1, locker.callCount())
}

func TestReadyCheck_ManualLockRequiresSuccess(t *testing.T) {
	svc, _, _ := newReadyCheckFixture(t, &fakeLocker{result: lockedResult()})

	state := svc.Initiate(testCandidate())

	_, err := svc.LockMatch(context.Background(), "match-1")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = svc.LockMatch(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrNotFound)

	// Once the check expires the match is gone for good
	svc.expire(state.ID)
	_, err = svc.LockMatch(context.Background(), "match-1")
	assert.ErrorIs(t, err, ErrExpired)
}
