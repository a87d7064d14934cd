package session

import (
	"sort"
	"time"

	"github.com/devforge/arena/go/internal/arena/events"
	"github.com/devforge/arena/go/internal/models"
)

// RecordSubmission records a scored submission on the leaderboard. An
// existing entry for the participant is replaced, never appended, and the
// sequence is fully re-sorted before the call returns: descending by score,
// ties broken by earliest SubmittedAt. The updated leaderboard is broadcast
// to the whole room.
//
// Scoring happens before this call, outside the session's command loop, so a
// slow grader never blocks other updates to the session.
func (s *Session) RecordSubmission(participantID string, score float64, submittedAt time.Time) error {
	var opErr error
	err := s.do(func() {
		p, ok := s.state.Participants[participantID]
		if !ok {
			opErr = ErrUnknownParticipant
			return
		}
		p.Submitted = true

		entry := models.LeaderboardEntry{
			ParticipantID: participantID,
			Score:         score,
			SubmittedAt:   submittedAt,
		}

		replaced := false
		for i := range s.state.Leaderboard {
			if s.state.Leaderboard[i].ParticipantID == participantID {
				s.state.Leaderboard[i] = entry
				replaced = true
				break
			}
		}
		if !replaced {
			s.state.Leaderboard = append(s.state.Leaderboard, entry)
		}

		sortLeaderboard(s.state.Leaderboard)

		leaderboard := make([]models.LeaderboardEntry, len(s.state.Leaderboard))
		copy(leaderboard, s.state.Leaderboard)
		s.emitToRoom(events.TypeLeaderboardUpdate, events.LeaderboardUpdatePayload{
			Leaderboard: leaderboard,
		})
	})
	if err != nil {
		return err
	}
	return opErr
}

func sortLeaderboard(entries []models.LeaderboardEntry) {
	sort.SliceStable(entries, func(i, j int) bool {
		if entries[i].Score != entries[j].Score {
			return entries[i].Score > entries[j].Score
		}
		return entries[i].SubmittedAt.Before(entries[j].SubmittedAt)
	})
}
