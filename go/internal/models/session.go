package models

import (
	"time"

	"github.com/google/uuid"
)

// SessionStatus defines the lifecycle status of a challenge session.
type SessionStatus string

const (
	SessionStatusDraft     SessionStatus = "DRAFT"
	SessionStatusScheduled SessionStatus = "SCHEDULED"
	SessionStatusLive      SessionStatus = "LIVE"
	SessionStatusPaused    SessionStatus = "PAUSED"
	SessionStatusCompleted SessionStatus = "COMPLETED"
)

// ChallengeSession is the in-memory state of one live competition session.
// The session registry is the only long-lived owner of this struct; all other
// components see copies handed out during a single mutation.
type ChallengeSession struct {
	ID              uuid.UUID                    `json:"id"`
	Status          SessionStatus                `json:"status"`
	DurationSeconds int                          `json:"duration_seconds"`
	Participants    map[string]*ParticipantState `json:"participants"`
	Leaderboard     []LeaderboardEntry           `json:"leaderboard"`
	StartedAt       *time.Time                   `json:"started_at,omitempty"`
	CompletedAt     *time.Time                   `json:"completed_at,omitempty"`
}
