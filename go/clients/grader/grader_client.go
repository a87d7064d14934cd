package grader

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
)

// Client calls the external grading service over HTTP. Scoring a snapshot is
// a blocking call; callers decide where it runs (never inside a session's
// command loop).
type Client struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

// NewClient creates a grader client. apiKey may be empty for an unsecured
// grader.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		client: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type scoreRequest struct {
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	Snapshot      string `json:"snapshot"`
}

type scoreResponse struct {
	Score float64 `json:"score"`
}

// ScoreSubmission sends the snapshot to the grading service and returns the
// score.
func (c *Client) ScoreSubmission(ctx context.Context, sessionID uuid.UUID, participantID, snapshot string) (float64, error) {
	body, err := json.Marshal(scoreRequest{
		SessionID:     sessionID.String(),
		ParticipantID: participantID,
		Snapshot:      snapshot,
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal score request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/grade", bytes.NewReader(body))
	if err != nil {
		return 0, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		responseBody, _ := io.ReadAll(resp.Body)
		return 0, fmt.Errorf("grader returned status code: %d, response: %s", resp.StatusCode, string(responseBody))
	}

	var scored scoreResponse
	if err := json.NewDecoder(resp.Body).Decode(&scored); err != nil {
		return 0, fmt.Errorf("failed to decode score response: %w", err)
	}

	return scored.Score, nil
}
