package timer_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"

	"github.com/devforge/arena/go/internal/arena/events"
	"github.com/devforge/arena/go/internal/arena/session"
	"github.com/devforge/arena/go/internal/arena/submissions"
	"github.com/devforge/arena/go/internal/arena/timer"
)

type nopBroadcaster struct{}

func (nopBroadcaster) BroadcastToRoom(uuid.UUID, *events.SessionEvent)                {}
func (nopBroadcaster) BroadcastToObservers(uuid.UUID, *events.SessionEvent)           {}
func (nopBroadcaster) BroadcastToParticipant(uuid.UUID, string, *events.SessionEvent) {}

type stubScorer struct {
	score float64
}

func (s stubScorer) ScoreSubmission(context.Context, uuid.UUID, string, string) (float64, error) {
	return s.score, nil
}

type memStore struct {
	mu   sync.Mutex
	subs []submissions.Submission
}

func (m *memStore) SaveSubmission(_ context.Context, sub submissions.Submission) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, sub)
	return nil
}

func (m *memStore) GetSessionSubmissions(_ context.Context, sessionID uuid.UUID) ([]submissions.Submission, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []submissions.Submission
	for _, sub := range m.subs {
		if sub.SessionID == sessionID {
			out = append(out, sub)
		}
	}
	return out, nil
}

func (m *memStore) saved() []submissions.Submission {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]submissions.Submission(nil), m.subs...)
}

func TestControllerExpiresSessionAndAutoSubmits(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := session.NewRegistry(session.RegistryConfig{
		Broadcaster: nopBroadcaster{},
		Clock:       clock,
	})
	store := &memStore{}
	controller := timer.NewController(timer.Config{
		Registry: registry,
		Scorer:   stubScorer{score: 63},
		Store:    store,
		Clock:    clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go controller.Run(ctx)

	sessionID := uuid.New()
	s, err := registry.StartSession(sessionID, 600)
	require.NoError(t, err)

	_, err = s.Join("alice", "Alice")
	require.NoError(t, err)
	require.NoError(t, s.ApplyCodeUpdate("alice", "half-done", clock.Now().Add(time.Second)))
	s.MarkDisconnected("alice")

	// A second participant stays connected so the empty-room eviction does
	// not fire during the jump past the deadline.
	_, err = s.Join("bob", "Bob")
	require.NoError(t, err)

	// Past the deadline the controller fires the expiry; the disconnected
	// participant's last snapshot is graded and recorded server-side. The
	// advance may land before the controller re-arms, in which case the
	// recomputed wait is zero and it fires immediately.
	clock.Advance(601 * time.Second)

	require.Eventually(t, func() bool {
		snap, err := s.Snapshot()
		if err != nil {
			return false
		}
		return len(snap.Leaderboard) == 1
	}, 3*time.Second, 10*time.Millisecond)

	snap, err := s.Snapshot()
	require.NoError(t, err)
	require.Equal(t, "alice", snap.Leaderboard[0].ParticipantID)
	require.Equal(t, float64(63), snap.Leaderboard[0].Score)
	require.True(t, snap.Participants["alice"].Submitted)

	saved := store.saved()
	require.Len(t, saved, 1)
	require.Equal(t, submissions.SourceAuto, saved[0].Source)
	require.Equal(t, "half-done", saved[0].Snapshot)
}

func TestControllerIgnoresAlreadyStoppedSession(t *testing.T) {
	clock := clockwork.NewFakeClock()
	registry := session.NewRegistry(session.RegistryConfig{
		Broadcaster: nopBroadcaster{},
		Clock:       clock,
	})
	store := &memStore{}
	controller := timer.NewController(timer.Config{
		Registry: registry,
		Scorer:   stubScorer{score: 63},
		Store:    store,
		Clock:    clock,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go controller.Run(ctx)

	sessionID := uuid.New()
	s, err := registry.StartSession(sessionID, 600)
	require.NoError(t, err)
	_, err = s.Join("alice", "Alice")
	require.NoError(t, err)
	require.NoError(t, s.ApplyCodeUpdate("alice", "half-done", clock.Now().Add(time.Second)))
	s.MarkDisconnected("alice")

	// Administrator stop beats the deadline: no server-side submissions.
	require.NoError(t, registry.StopSession(sessionID))
	clock.Advance(601 * time.Second)

	// The advance also burned the eviction grace period.
	require.Eventually(t, func() bool {
		_, err := registry.Get(sessionID)
		return err != nil
	}, 3*time.Second, 10*time.Millisecond)

	require.Empty(t, store.saved())
}
