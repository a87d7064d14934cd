package session

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"
)

// RegistryConfig holds configuration for the session registry.
type RegistryConfig struct {
	Broadcaster Broadcaster
	Publisher   EventPublisher   // defaults to NopPublisher
	Clock       clockwork.Clock  // defaults to the real clock
	GracePeriod time.Duration    // eviction delay after completion or an empty room
}

// DefaultGracePeriod is how long a completed or empty session lingers in the
// registry so in-flight fan-out and late auto-submit scores can drain.
const DefaultGracePeriod = 30 * time.Second

// Registry is the in-memory table of active sessions and the serialization
// point for all session state: every component addresses sessions through it,
// and it guarantees at most one in-memory ChallengeSession per id.
type Registry struct {
	mu        sync.RWMutex
	sessions  map[uuid.UUID]*Session
	evictions map[uuid.UUID]clockwork.Timer

	broadcaster Broadcaster
	publisher   EventPublisher
	clock       clockwork.Clock
	gracePeriod time.Duration

	wakeCh chan struct{}
}

// NewRegistry creates an empty session registry.
func NewRegistry(cfg RegistryConfig) *Registry {
	if cfg.Publisher == nil {
		cfg.Publisher = NopPublisher{}
	}
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	if cfg.GracePeriod <= 0 {
		cfg.GracePeriod = DefaultGracePeriod
	}

	return &Registry{
		sessions:    make(map[uuid.UUID]*Session),
		evictions:   make(map[uuid.UUID]clockwork.Timer),
		broadcaster: cfg.Broadcaster,
		publisher:   cfg.Publisher,
		clock:       cfg.Clock,
		gracePeriod: cfg.GracePeriod,
		wakeCh:      make(chan struct{}, 1),
	}
}

// GetOrCreate returns the session for id, creating it live with the given
// duration if absent.
func (r *Registry) GetOrCreate(id uuid.UUID, durationSeconds int) *Session {
	r.mu.Lock()
	defer r.mu.Unlock()

	if s, ok := r.sessions[id]; ok {
		return s
	}
	return r.createLocked(id, durationSeconds)
}

// createLocked registers a new live session. Runs with r.mu held.
func (r *Registry) createLocked(id uuid.UUID, durationSeconds int) *Session {
	s := newSession(id, durationSeconds, sessionDeps{
		broadcaster: r.broadcaster,
		publisher:   r.publisher,
		clock:       r.clock,
		onEmpty:     r.scheduleEviction,
		onOccupied:  r.cancelEviction,
	})
	r.sessions[id] = s

	log.Info().
		Str("session_id", id.String()).
		Int("duration_seconds", durationSeconds).
		Int("active_sessions", len(r.sessions)).
		Msg("session registered")

	return s
}

// Get returns the session for id or ErrSessionNotFound.
func (r *Registry) Get(id uuid.UUID) (*Session, error) {
	r.mu.RLock()
	s, ok := r.sessions[id]
	r.mu.RUnlock()
	if !ok {
		return nil, ErrSessionNotFound
	}
	return s, nil
}

// Remove evicts the session from the registry and shuts its command loop
// down.
func (r *Registry) Remove(id uuid.UUID) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	if ok {
		delete(r.sessions, id)
	}
	if t, pending := r.evictions[id]; pending {
		t.Stop()
		delete(r.evictions, id)
	}
	r.mu.Unlock()

	if !ok {
		return
	}

	// Close outside the lock: the command loop may be mid-callback into the
	// registry.
	s.close()
	r.wake()

	log.Info().Str("session_id", id.String()).Msg("session evicted")
}

// StartSession transitions a session to live: it is created in the registry
// with its timer running. Starting an id that is already live is an error.
// The exists-check and the create are one atomic step, so concurrent starts
// of the same id yield exactly one session.
func (r *Registry) StartSession(id uuid.UUID, durationSeconds int) (*Session, error) {
	r.mu.Lock()
	if _, exists := r.sessions[id]; exists {
		r.mu.Unlock()
		return nil, ErrSessionExists
	}
	s := r.createLocked(id, durationSeconds)
	r.mu.Unlock()

	r.wake()
	return s, nil
}

// PauseSession freezes a live session's timer.
func (r *Registry) PauseSession(id uuid.UUID) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := s.Pause(); err != nil {
		return err
	}
	r.wake()
	return nil
}

// ResumeSession restarts a paused session's timer from its remaining time.
func (r *Registry) ResumeSession(id uuid.UUID) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := s.Resume(); err != nil {
		return err
	}
	r.wake()
	return nil
}

// StopSession force-ends a session (administrator action) and schedules its
// eviction after the grace period so in-flight fan-out can drain.
func (r *Registry) StopSession(id uuid.UUID) error {
	s, err := r.Get(id)
	if err != nil {
		return err
	}
	if err := s.Complete(); err != nil {
		return err
	}
	r.scheduleEviction(id)
	r.wake()
	return nil
}

// ExpireSession fires the session's deadline. The returned actions are
// participants whose last snapshot must be submitted server-side. fired is
// false when the timer had already fired or was stopped.
func (r *Registry) ExpireSession(id uuid.UUID) (actions []AutoSubmitAction, fired bool, err error) {
	s, err := r.Get(id)
	if err != nil {
		return nil, false, err
	}
	actions, fired = s.ExpireTimer()
	if fired {
		r.scheduleEviction(id)
	}
	return actions, fired, nil
}

// NextDeadline returns the earliest running deadline across all sessions.
func (r *Registry) NextDeadline() (id uuid.UUID, deadline time.Time, ok bool) {
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	for _, s := range sessions {
		d, running := s.Deadline()
		if !running {
			continue
		}
		if !ok || d.Before(deadline) {
			id, deadline, ok = s.ID(), d, true
		}
	}
	return id, deadline, ok
}

// Now returns the registry clock's current time. Everything that stamps
// session state uses the same clock so tests can fake it.
func (r *Registry) Now() time.Time {
	return r.clock.Now()
}

// Wake returns a channel that receives a tick whenever a deadline may have
// moved. The timer controller selects on it.
func (r *Registry) Wake() <-chan struct{} {
	return r.wakeCh
}

func (r *Registry) wake() {
	select {
	case r.wakeCh <- struct{}{}:
	default:
	}
}

// scheduleEviction arms (or re-arms) the grace-period eviction for a session
// that completed or lost its last connected participant.
func (r *Registry) scheduleEviction(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.sessions[id]; !ok {
		return
	}
	if t, pending := r.evictions[id]; pending {
		t.Stop()
	}
	r.evictions[id] = r.clock.AfterFunc(r.gracePeriod, func() {
		r.Remove(id)
	})

	log.Debug().
		Str("session_id", id.String()).
		Dur("grace_period", r.gracePeriod).
		Msg("session eviction scheduled")
}

// cancelEviction disarms a pending empty-room eviction when a participant
// reconnects. Completed sessions do not accept joins, so this only affects
// idle evictions.
func (r *Registry) cancelEviction(id uuid.UUID) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t, pending := r.evictions[id]; pending {
		t.Stop()
		delete(r.evictions, id)
	}
}
