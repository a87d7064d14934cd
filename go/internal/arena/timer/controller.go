package timer

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog/log"

	"github.com/devforge/arena/go/internal/arena/session"
	"github.com/devforge/arena/go/internal/arena/submissions"
)

// Scorer grades a code snapshot. Implemented by the grader HTTP client.
type Scorer interface {
	ScoreSubmission(ctx context.Context, sessionID uuid.UUID, participantID, snapshot string) (float64, error)
}

// Controller drives session deadlines. A single loop sleeps until the
// earliest deadline across all sessions, fires the expiry, then recomputes.
// Registry operations that move a deadline (start, pause, resume, stop) nudge
// the loop through the registry's wake channel.
type Controller struct {
	registry *session.Registry
	scorer   Scorer
	store    submissions.Store // optional; nil disables persistence
	clock    clockwork.Clock

	idlePoll time.Duration
}

// Config holds the timer controller dependencies.
type Config struct {
	Registry *session.Registry
	Scorer   Scorer
	Store    submissions.Store
	Clock    clockwork.Clock // defaults to the real clock
}

// NewController creates a session timer controller.
func NewController(cfg Config) *Controller {
	if cfg.Clock == nil {
		cfg.Clock = clockwork.NewRealClock()
	}
	return &Controller{
		registry: cfg.Registry,
		scorer:   cfg.Scorer,
		store:    cfg.Store,
		clock:    cfg.Clock,
		idlePoll: 5 * time.Second,
	}
}

// Run loops forever, sleeping until the next deadline and firing expiries.
func (c *Controller) Run(ctx context.Context) error {
	log.Info().Msg("timer controller started")

	timer := c.clock.NewTimer(0)
	defer timer.Stop()

	for {
		// Drain a pending wake so a nudge that arrived while we were
		// processing does not cause an extra spin.
		select {
		case <-c.registry.Wake():
		default:
		}

		id, deadline, ok := c.registry.NextDeadline()
		if !ok {
			timer.Reset(c.idlePoll)
			select {
			case <-timer.Chan():
				continue
			case <-c.registry.Wake():
				continue
			case <-ctx.Done():
				log.Info().Msg("timer controller shutting down")
				return nil
			}
		}

		wait := deadline.Sub(c.clock.Now())
		if wait < 0 {
			wait = 0
		}
		timer.Reset(wait)

		select {
		case <-timer.Chan():
			c.expire(ctx, id)
		case <-c.registry.Wake():
			// A deadline moved; recompute.
		case <-ctx.Done():
			log.Info().Msg("timer controller shutting down")
			return nil
		}
	}
}

// expire fires one session's deadline and launches server-side submissions
// for disconnected participants that left a snapshot behind.
func (c *Controller) expire(ctx context.Context, id uuid.UUID) {
	actions, fired, err := c.registry.ExpireSession(id)
	if err != nil {
		log.Error().Err(err).Str("session_id", id.String()).Msg("failed to expire session")
		return
	}
	if !fired {
		// The deadline moved (pause or stop) between the timer firing and
		// the expiry; the loop recomputes.
		return
	}

	log.Info().
		Str("session_id", id.String()).
		Int("auto_submissions", len(actions)).
		Msg("session deadline fired")

	for _, action := range actions {
		go c.autoSubmit(ctx, action)
	}
}

// autoSubmit grades and records one disconnected participant's last snapshot.
// Runs off the controller loop so a slow grader never delays other sessions.
func (c *Controller) autoSubmit(ctx context.Context, action session.AutoSubmitAction) {
	score, err := c.scorer.ScoreSubmission(ctx, action.SessionID, action.ParticipantID, action.Snapshot)
	if err != nil {
		log.Error().
			Err(err).
			Str("session_id", action.SessionID.String()).
			Str("participant_id", action.ParticipantID).
			Msg("failed to score auto-submission")
		return
	}

	submittedAt := c.clock.Now()

	if c.store != nil {
		if err := c.store.SaveSubmission(ctx, submissions.Submission{
			SessionID:     action.SessionID,
			ParticipantID: action.ParticipantID,
			Score:         score,
			Snapshot:      action.Snapshot,
			SubmittedAt:   submittedAt,
			Source:        submissions.SourceAuto,
		}); err != nil {
			log.Error().
				Err(err).
				Str("session_id", action.SessionID.String()).
				Str("participant_id", action.ParticipantID).
				Msg("failed to persist auto-submission")
		}
	}

	// The session lingers in the registry for the grace period; a score that
	// arrives after eviction is persisted but not broadcast.
	sess, err := c.registry.Get(action.SessionID)
	if err != nil {
		log.Warn().
			Str("session_id", action.SessionID.String()).
			Str("participant_id", action.ParticipantID).
			Msg("session evicted before auto-submission score arrived")
		return
	}
	if err := sess.RecordSubmission(action.ParticipantID, score, submittedAt); err != nil {
		log.Error().
			Err(err).
			Str("session_id", action.SessionID.String()).
			Str("participant_id", action.ParticipantID).
			Msg("failed to record auto-submission")
		return
	}

	log.Info().
		Str("session_id", action.SessionID.String()).
		Str("participant_id", action.ParticipantID).
		Float64("score", score).
		Msg("auto-submission recorded")
}
