package session

import (
	"github.com/rs/zerolog/log"

	"github.com/devforge/arena/go/internal/arena/events"
	"github.com/devforge/arena/go/internal/models"
)

// RecordViolation increments the participant's violation counter and alerts
// observers with the new count. The counter never decrements. No policy is
// applied here; disqualification decisions belong to whoever watches the
// alerts.
func (s *Session) RecordViolation(participantID, kind string) (int, error) {
	var (
		count int
		opErr error
	)
	err := s.do(func() {
		if s.state.Status == models.SessionStatusCompleted {
			opErr = ErrInvalidTransition
			return
		}
		p, ok := s.state.Participants[participantID]
		if !ok {
			opErr = ErrUnknownParticipant
			return
		}

		p.ViolationCount++
		count = p.ViolationCount

		log.Warn().
			Str("session_id", s.id.String()).
			Str("participant_id", participantID).
			Str("kind", kind).
			Int("violation_count", count).
			Msg("violation recorded")

		s.emitToObservers(events.TypeViolationAlert, events.ViolationAlertPayload{
			ParticipantID:  participantID,
			Kind:           kind,
			ViolationCount: count,
			OccurredAt:     s.clock.Now(),
		})
	})
	if err != nil {
		return 0, err
	}
	return count, opErr
}
