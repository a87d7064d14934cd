package session

import (
	"time"

	"github.com/rs/zerolog/log"

	"github.com/devforge/arena/go/internal/models"
)

// ApplyCodeUpdate applies a participant's code snapshot. Merge semantics are
// last-write-wins: an update whose timestamp is not newer than the recorded
// LastUpdateAt is dropped without error, which guards against out-of-order
// delivery after a reconnect. The full updated state fans out to observers
// only.
//
// Rate-shaping is the originating client's responsibility; the synchronizer
// applies whatever arrives.
func (s *Session) ApplyCodeUpdate(participantID, snapshot string, timestamp time.Time) error {
	var opErr error
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

		if !timestamp.After(p.LastUpdateAt) {
			log.Debug().
				Str("session_id", s.id.String()).
				Str("participant_id", participantID).
				Time("update_at", timestamp).
				Time("last_update_at", p.LastUpdateAt).
				Msg("dropping stale code update")
			return
		}

		p.LastCodeSnapshot = snapshot
		p.LastUpdateAt = timestamp
		s.broadcastParticipant(p)
	})
	if err != nil {
		return err
	}
	return opErr
}
