package models

import "time"

// ConnectionStatus defines whether a participant currently holds a live
// connection to the session room.
type ConnectionStatus string

const (
	ConnectionStatusConnected    ConnectionStatus = "CONNECTED"
	ConnectionStatusDisconnected ConnectionStatus = "DISCONNECTED"
)

// ParticipantState is the per-participant slice of session state. It is
// created on first join and never deleted mid-session; a disconnect only
// flips ConnectionStatus, so a rejoin resumes the same identity.
type ParticipantState struct {
	ParticipantID    string           `json:"participant_id"`
	DisplayName      string           `json:"display_name"`
	LastCodeSnapshot string           `json:"last_code_snapshot"`
	ViolationCount   int              `json:"violation_count"`
	ConnectionStatus ConnectionStatus `json:"connection_status"`
	LastUpdateAt     time.Time        `json:"last_update_at"`
	Submitted        bool             `json:"submitted"`
}
