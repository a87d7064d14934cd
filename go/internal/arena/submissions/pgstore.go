package submissions

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PGStore persists submissions in Postgres. One row per (session,
// participant): a resubmission overwrites the previous record, matching the
// replace-or-insert rule the leaderboard applies in memory.
type PGStore struct {
	pool *pgxpool.Pool
}

// NewPGStore creates a Postgres-backed submission store.
func NewPGStore(pool *pgxpool.Pool) *PGStore {
	return &PGStore{pool: pool}
}

const saveSubmissionSQL = `
INSERT INTO submissions (session_id, participant_id, score, snapshot, submitted_at, source)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (session_id, participant_id)
DO UPDATE SET score = EXCLUDED.score,
              snapshot = EXCLUDED.snapshot,
              submitted_at = EXCLUDED.submitted_at,
              source = EXCLUDED.source`

// SaveSubmission upserts the participant's submission for the session.
func (s *PGStore) SaveSubmission(ctx context.Context, sub Submission) error {
	_, err := s.pool.Exec(ctx, saveSubmissionSQL,
		sub.SessionID, sub.ParticipantID, sub.Score, sub.Snapshot, sub.SubmittedAt, string(sub.Source))
	if err != nil {
		return fmt.Errorf("save submission: %w", err)
	}
	return nil
}

const getSessionSubmissionsSQL = `
SELECT session_id, participant_id, score, snapshot, submitted_at, source
FROM submissions
WHERE session_id = $1
ORDER BY score DESC, submitted_at ASC`

// GetSessionSubmissions returns all submissions for a session in leaderboard
// order.
func (s *PGStore) GetSessionSubmissions(ctx context.Context, sessionID uuid.UUID) ([]Submission, error) {
	rows, err := s.pool.Query(ctx, getSessionSubmissionsSQL, sessionID)
	if err != nil {
		return nil, fmt.Errorf("query submissions: %w", err)
	}
	defer rows.Close()

	var subs []Submission
	for rows.Next() {
		var (
			sub    Submission
			source string
		)
		if err := rows.Scan(&sub.SessionID, &sub.ParticipantID, &sub.Score, &sub.Snapshot, &sub.SubmittedAt, &source); err != nil {
			return nil, fmt.Errorf("scan submission: %w", err)
		}
		sub.Source = Source(source)
		subs = append(subs, sub)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate submissions: %w", err)
	}
	return subs, nil
}
