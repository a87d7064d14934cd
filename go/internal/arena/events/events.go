package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SessionEvent is the envelope for every server-originated message, both on
// the WebSocket fan-out and on the downstream event bus.
type SessionEvent struct {
	ID        string          `json:"id"`         // Event UUID
	SessionID string          `json:"session_id"` // Session UUID
	Type      Type            `json:"type"`       // Event type
	Timestamp time.Time       `json:"timestamp"`  // Event creation time
	Data      json.RawMessage `json:"data"`       // Event-specific payload
}

// Type tags a server-to-client session event.
type Type string

const (
	TypeInitParticipants  Type = "init_participants"
	TypeParticipantUpdate Type = "participant_update"
	TypeViolationAlert    Type = "violation_alert"
	TypeLeaderboardUpdate Type = "leaderboard_update"
	TypeSessionStatus     Type = "session_status"
	TypeAutoSubmit        Type = "auto_submit"
	TypeError             Type = "error"
)

// New builds a SessionEvent envelope around a marshalled payload, stamped
// with the wall clock.
func New(sessionID uuid.UUID, t Type, payload any) (*SessionEvent, error) {
	return NewAt(sessionID, t, payload, time.Now())
}

// NewAt builds a SessionEvent envelope stamped at the given time. Callers
// that run on an injected clock pass its now so envelopes stay consistent
// with session state.
func NewAt(sessionID uuid.UUID, t Type, payload any, at time.Time) (*SessionEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s payload: %w", t, err)
	}

	return &SessionEvent{
		ID:        uuid.New().String(),
		SessionID: sessionID.String(),
		Type:      t,
		Timestamp: at,
		Data:      data,
	}, nil
}
