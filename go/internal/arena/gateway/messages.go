package gateway

import (
	"encoding/json"
	"time"
)

// ClientMessage is the envelope for every inbound message. The message set
// is closed: join_session, code_update, violation, submission. Dispatch is
// an explicit switch so adding a kind is a compile-visible change, not a
// listener registration.
type ClientMessage struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data"`
}

const (
	MessageJoinSession = "join_session"
	MessageCodeUpdate  = "code_update"
	MessageViolation   = "violation"
	MessageSubmission  = "submission"
)

// JoinSessionPayload carries the claimed role and identity for a connection.
// ParticipantID and DisplayName are required for the participant role.
type JoinSessionPayload struct {
	SessionID     string `json:"session_id"`
	Role          Role   `json:"role"`
	ParticipantID string `json:"participant_id,omitempty"`
	DisplayName   string `json:"display_name,omitempty"`
}

// CodeUpdatePayload is a participant's code snapshot. Timestamp is the
// client-side generation time used for stale-update rejection.
type CodeUpdatePayload struct {
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id"`
	Snapshot      string    `json:"snapshot"`
	Timestamp     time.Time `json:"timestamp"`
}

// ViolationPayload reports an anti-cheat signal (focus-lost,
// fullscreen-exit, clipboard-blocked). The kind is an opaque tag.
type ViolationPayload struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	Kind          string `json:"kind"`
}

// SubmissionPayload reports an already-scored submission for the
// leaderboard.
type SubmissionPayload struct {
	SessionID     string    `json:"session_id"`
	ParticipantID string    `json:"participant_id"`
	Score         float64   `json:"score"`
	SubmittedAt   time.Time `json:"submitted_at"`
}
