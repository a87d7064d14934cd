package events

import (
	"time"

	"github.com/devforge/arena/go/internal/models"
)

// Event payload types shared between the session actor and the gateway.

// InitParticipantsPayload is the full snapshot sent to a late-joining
// observer: the participants map and the current ranking at the instant of
// join.
type InitParticipantsPayload struct {
	SessionID       string                              `json:"session_id"`
	Status          models.SessionStatus                `json:"status"`
	Participants    map[string]models.ParticipantState  `json:"participants"`
	Leaderboard     []models.LeaderboardEntry           `json:"leaderboard"`
	TimeRemainingMS int64                               `json:"time_remaining_ms"`
}

// ParticipantUpdatePayload carries the full current state of one participant.
type ParticipantUpdatePayload struct {
	Participant models.ParticipantState `json:"participant"`
}

// ViolationAlertPayload is the payload for a violation_alert event.
type ViolationAlertPayload struct {
	ParticipantID  string    `json:"participant_id"`
	Kind           string    `json:"kind"`
	ViolationCount int       `json:"violation_count"`
	OccurredAt     time.Time `json:"occurred_at"`
}

// LeaderboardUpdatePayload carries the full sorted leaderboard.
type LeaderboardUpdatePayload struct {
	Leaderboard []models.LeaderboardEntry `json:"leaderboard"`
}

// SessionStatusPayload is the payload for a session_status event, broadcast
// on every lifecycle transition.
type SessionStatusPayload struct {
	Status          models.SessionStatus `json:"status"`
	DurationSeconds int                  `json:"duration_seconds"`
	TimeRemainingMS int64                `json:"time_remaining_ms"`
	ChangedAt       time.Time            `json:"changed_at"`
}

// AutoSubmitPayload tells one still-connected participant that the session
// deadline passed and their current work should be submitted now.
type AutoSubmitPayload struct {
	ParticipantID string    `json:"participant_id"`
	ExpiredAt     time.Time `json:"expired_at"`
}

// ErrorPayload is sent to the offending connection on a protocol error.
type ErrorPayload struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}
