package session

import (
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/devforge/arena/go/internal/arena/events"
	"github.com/devforge/arena/go/internal/models"
)

// Broadcaster delivers session events to the members of a session's room.
// The gateway's connection manager implements it; fakes implement it in
// tests. Delivery must not block the caller.
type Broadcaster interface {
	BroadcastToRoom(sessionID uuid.UUID, event *events.SessionEvent)
	BroadcastToObservers(sessionID uuid.UUID, event *events.SessionEvent)
	BroadcastToParticipant(sessionID uuid.UUID, participantID string, event *events.SessionEvent)
}

// EventPublisher mirrors session events onto the downstream event bus for
// external consumers. Publishing must not block; failures are the
// publisher's problem, not the session's.
type EventPublisher interface {
	Publish(event *events.SessionEvent)
}

// NopPublisher drops every event. Used when no event bus is configured.
type NopPublisher struct{}

func (NopPublisher) Publish(*events.SessionEvent) {}

// TimerState is the session timer state machine. Expired is terminal.
type TimerState string

const (
	TimerNotStarted TimerState = "NOT_STARTED"
	TimerRunning    TimerState = "RUNNING"
	TimerPaused     TimerState = "PAUSED"
	TimerExpired    TimerState = "EXPIRED"
)

// AutoSubmitAction asks the caller to submit a disconnected participant's
// last known snapshot on their behalf after the deadline fired.
type AutoSubmitAction struct {
	SessionID     uuid.UUID
	ParticipantID string
	Snapshot      string
}

// Session is the single logical owner of one ChallengeSession. All mutations
// are funneled through a command loop, so state is touched by exactly one
// goroutine and operations apply one at a time in arrival order. Sessions for
// different ids never share state.
type Session struct {
	id          uuid.UUID
	state       *models.ChallengeSession
	broadcaster Broadcaster
	publisher   EventPublisher
	clock       clockwork.Clock

	timerState TimerState
	deadline   time.Time     // valid while timerState == TimerRunning
	remaining  time.Duration // valid while timerState == TimerPaused

	connectedParticipants int
	onEmpty               func(uuid.UUID) // last connected participant left
	onOccupied            func(uuid.UUID) // a participant (re)connected

	cmdCh chan func()
	done  chan struct{}
	stop  bool
}

func newSession(id uuid.UUID, durationSeconds int, deps sessionDeps) *Session {
	now := deps.clock.Now()
	s := &Session{
		id: id,
		state: &models.ChallengeSession{
			ID:              id,
			Status:          models.SessionStatusLive,
			DurationSeconds: durationSeconds,
			Participants:    make(map[string]*models.ParticipantState),
			Leaderboard:     []models.LeaderboardEntry{},
			StartedAt:       &now,
		},
		broadcaster: deps.broadcaster,
		publisher:   deps.publisher,
		clock:       deps.clock,
		timerState:  TimerRunning,
		deadline:    now.Add(time.Duration(durationSeconds) * time.Second),
		onEmpty:     deps.onEmpty,
		onOccupied:  deps.onOccupied,
		cmdCh:       make(chan func(), 64),
		done:        make(chan struct{}),
	}

	go s.run()

	s.do(func() {
		s.broadcastStatus()
	})

	return s
}

type sessionDeps struct {
	broadcaster Broadcaster
	publisher   EventPublisher
	clock       clockwork.Clock
	onEmpty     func(uuid.UUID)
	onOccupied  func(uuid.UUID)
}

// run applies commands one at a time until the session is closed.
func (s *Session) run() {
	for cmd := range s.cmdCh {
		cmd()
		if s.stop {
			close(s.done)
			return
		}
	}
}

// do runs fn on the session's command loop and waits for it to complete.
// Returns ErrSessionClosed if the session was evicted.
func (s *Session) do(fn func()) error {
	reply := make(chan struct{})
	wrapped := func() {
		fn()
		close(reply)
	}

	select {
	case s.cmdCh <- wrapped:
	case <-s.done:
		return ErrSessionClosed
	}

	select {
	case <-reply:
		return nil
	case <-s.done:
		return ErrSessionClosed
	}
}

// close shuts the command loop down. Called by the registry on eviction.
func (s *Session) close() {
	_ = s.do(func() {
		s.stop = true
	})
}

// ID returns the session id.
func (s *Session) ID() uuid.UUID {
	return s.id
}

// Status returns the session's current lifecycle status.
func (s *Session) Status() models.SessionStatus {
	var st models.SessionStatus
	if err := s.do(func() { st = s.state.Status }); err != nil {
		return models.SessionStatusCompleted
	}
	return st
}

// Deadline returns the running timer's deadline. ok is false when the timer
// is not running (not started, paused, or expired).
func (s *Session) Deadline() (deadline time.Time, ok bool) {
	_ = s.do(func() {
		if s.timerState == TimerRunning {
			deadline, ok = s.deadline, true
		}
	})
	return deadline, ok
}

// Snapshot returns a full point-in-time copy of the session state, used for
// the init_participants message sent to a newly joined observer.
func (s *Session) Snapshot() (events.InitParticipantsPayload, error) {
	var snap events.InitParticipantsPayload
	err := s.do(func() {
		participants := make(map[string]models.ParticipantState, len(s.state.Participants))
		for id, p := range s.state.Participants {
			participants[id] = *p
		}
		leaderboard := make([]models.LeaderboardEntry, len(s.state.Leaderboard))
		copy(leaderboard, s.state.Leaderboard)

		snap = events.InitParticipantsPayload{
			SessionID:       s.id.String(),
			Status:          s.state.Status,
			Participants:    participants,
			Leaderboard:     leaderboard,
			TimeRemainingMS: s.timeRemaining().Milliseconds(),
		}
	})
	return snap, err
}

// Participant returns a copy of the participant's state, if present.
func (s *Session) Participant(participantID string) (models.ParticipantState, bool) {
	var (
		out   models.ParticipantState
		found bool
	)
	if err := s.do(func() {
		if p, ok := s.state.Participants[participantID]; ok {
			out, found = *p, true
		}
	}); err != nil {
		return models.ParticipantState{}, false
	}
	return out, found
}

// Join creates or resumes the participant's state and marks it connected.
// A rejoin after a network drop resumes the same identity.
func (s *Session) Join(participantID, displayName string) (models.ParticipantState, error) {
	var out models.ParticipantState
	err := s.do(func() {
		p, ok := s.state.Participants[participantID]
		if !ok {
			// LastUpdateAt stays zero until the first code update so a
			// client whose clock trails the server's is not rejected as
			// stale on its first snapshot.
			p = &models.ParticipantState{
				ParticipantID: participantID,
				DisplayName:   displayName,
			}
			s.state.Participants[participantID] = p
		}
		if displayName != "" {
			p.DisplayName = displayName
		}

		wasConnected := p.ConnectionStatus == models.ConnectionStatusConnected
		p.ConnectionStatus = models.ConnectionStatusConnected
		if !wasConnected {
			s.connectedParticipants++
			if s.connectedParticipants == 1 && s.onOccupied != nil {
				s.onOccupied(s.id)
			}
		}

		out = *p
		s.broadcastParticipant(p)
	})
	return out, err
}

// MarkDisconnected flips the participant's connection status; the state
// itself survives so the participant can rejoin.
func (s *Session) MarkDisconnected(participantID string) {
	_ = s.do(func() {
		p, ok := s.state.Participants[participantID]
		if !ok || p.ConnectionStatus == models.ConnectionStatusDisconnected {
			return
		}
		p.ConnectionStatus = models.ConnectionStatusDisconnected
		s.connectedParticipants--
		if s.connectedParticipants == 0 && s.onEmpty != nil {
			s.onEmpty(s.id)
		}
		s.broadcastParticipant(p)
	})
}

// Pause freezes the timer and marks the session paused.
func (s *Session) Pause() error {
	var opErr error
	err := s.do(func() {
		if s.state.Status != models.SessionStatusLive {
			opErr = ErrInvalidTransition
			return
		}
		s.state.Status = models.SessionStatusPaused
		if s.timerState == TimerRunning {
			s.remaining = s.deadline.Sub(s.clock.Now())
			if s.remaining < 0 {
				s.remaining = 0
			}
			s.timerState = TimerPaused
		}
		s.broadcastStatus()
	})
	if err != nil {
		return err
	}
	return opErr
}

// Resume restarts the timer from the remaining time recorded at pause.
func (s *Session) Resume() error {
	var opErr error
	err := s.do(func() {
		if s.state.Status != models.SessionStatusPaused {
			opErr = ErrInvalidTransition
			return
		}
		s.state.Status = models.SessionStatusLive
		if s.timerState == TimerPaused {
			s.deadline = s.clock.Now().Add(s.remaining)
			s.timerState = TimerRunning
		}
		s.broadcastStatus()
	})
	if err != nil {
		return err
	}
	return opErr
}

// Complete force-ends the session (administrator stop). The timer is stopped
// and never fires afterwards.
func (s *Session) Complete() error {
	return s.do(func() {
		if s.state.Status == models.SessionStatusCompleted {
			return
		}
		s.completeLocked()
		s.broadcastStatus()
	})
}

// ExpireTimer transitions the timer Running → Expired exactly once. Every
// still-connected participant that has not submitted receives one
// auto_submit trigger; disconnected participants with a non-empty snapshot
// are returned as actions for server-side submission. A second call is a
// no-op, and so is a call while the deadline is still in the future — a fire
// scheduled for an old deadline can race a pause/resume that re-armed it.
func (s *Session) ExpireTimer() ([]AutoSubmitAction, bool) {
	var (
		actions []AutoSubmitAction
		fired   bool
	)
	_ = s.do(func() {
		if s.timerState != TimerRunning {
			return
		}
		now := s.clock.Now()
		if now.Before(s.deadline) {
			return
		}
		fired = true

		for _, p := range s.state.Participants {
			if p.Submitted {
				continue
			}
			if p.ConnectionStatus == models.ConnectionStatusConnected {
				s.emitToParticipant(p.ParticipantID, events.TypeAutoSubmit, events.AutoSubmitPayload{
					ParticipantID: p.ParticipantID,
					ExpiredAt:     now,
				})
				continue
			}
			if p.LastCodeSnapshot != "" {
				actions = append(actions, AutoSubmitAction{
					SessionID:     s.id,
					ParticipantID: p.ParticipantID,
					Snapshot:      p.LastCodeSnapshot,
				})
			}
		}

		s.completeLocked()
		s.broadcastStatus()

		log.Info().
			Str("session_id", s.id.String()).
			Int("server_side_submissions", len(actions)).
			Msg("session timer expired")
	})
	return actions, fired
}

// completeLocked runs on the command loop.
func (s *Session) completeLocked() {
	now := s.clock.Now()
	s.state.Status = models.SessionStatusCompleted
	s.state.CompletedAt = &now
	s.timerState = TimerExpired
}

// timeRemaining runs on the command loop.
func (s *Session) timeRemaining() time.Duration {
	switch s.timerState {
	case TimerRunning:
		if d := s.deadline.Sub(s.clock.Now()); d > 0 {
			return d
		}
		return 0
	case TimerPaused:
		return s.remaining
	default:
		return 0
	}
}

// broadcastStatus runs on the command loop.
func (s *Session) broadcastStatus() {
	s.emitToRoom(events.TypeSessionStatus, events.SessionStatusPayload{
		Status:          s.state.Status,
		DurationSeconds: s.state.DurationSeconds,
		TimeRemainingMS: s.timeRemaining().Milliseconds(),
		ChangedAt:       s.clock.Now(),
	})
}

// broadcastParticipant runs on the command loop. Work-in-progress state is
// private between a participant and the monitors, so this never reaches
// other participants.
func (s *Session) broadcastParticipant(p *models.ParticipantState) {
	s.emitToObservers(events.TypeParticipantUpdate, events.ParticipantUpdatePayload{
		Participant: *p,
	})
}

func (s *Session) emitToRoom(t events.Type, payload any) {
	ev, err := events.NewAt(s.id, t, payload, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_id", s.id.String()).Msg("failed to build session event")
		return
	}
	s.broadcaster.BroadcastToRoom(s.id, ev)
	s.publisher.Publish(ev)
}

func (s *Session) emitToObservers(t events.Type, payload any) {
	ev, err := events.NewAt(s.id, t, payload, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_id", s.id.String()).Msg("failed to build session event")
		return
	}
	s.broadcaster.BroadcastToObservers(s.id, ev)
	s.publisher.Publish(ev)
}

func (s *Session) emitToParticipant(participantID string, t events.Type, payload any) {
	ev, err := events.NewAt(s.id, t, payload, s.clock.Now())
	if err != nil {
		log.Error().Err(err).Str("session_id", s.id.String()).Msg("failed to build session event")
		return
	}
	s.broadcaster.BroadcastToParticipant(s.id, participantID, ev)
	s.publisher.Publish(ev)
}
