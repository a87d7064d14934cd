package models

import "time"

// LeaderboardEntry is one row of a session's ranking. The containing slice is
// the ranking: sorted descending by score, ties broken by earliest
// SubmittedAt, with at most one entry per participant.
type LeaderboardEntry struct {
	ParticipantID string    `json:"participant_id"`
	Score         float64   `json:"score"`
	SubmittedAt   time.Time `json:"submitted_at"`
}
