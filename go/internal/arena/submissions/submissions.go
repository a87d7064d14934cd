package submissions

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Source records which path produced a submission.
type Source string

const (
	// SourceClient is a pre-scored submission reported over the WebSocket.
	SourceClient Source = "client"
	// SourceGraded is a snapshot scored by the external grader over HTTP.
	SourceGraded Source = "graded"
	// SourceAuto is a server-side submission of a disconnected participant's
	// last snapshot at session expiry.
	SourceAuto Source = "auto"
)

// Submission is the durable record of one scored submission. The leaderboard
// itself is in-memory; this is the audit trail that survives restarts.
type Submission struct {
	SessionID     uuid.UUID
	ParticipantID string
	Score         float64
	Snapshot      string
	SubmittedAt   time.Time
	Source        Source
}

// Store persists submissions.
type Store interface {
	SaveSubmission(ctx context.Context, sub Submission) error
	GetSessionSubmissions(ctx context.Context, sessionID uuid.UUID) ([]Submission, error)
}
