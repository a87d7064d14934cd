package grader_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/devforge/arena/go/clients/grader"
)

func TestScoreSubmission(t *testing.T) {
	sessionID := uuid.New()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/grade", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		var req struct {
			SessionID     string `json:"session_id"`
			ParticipantID string `json:"participant_id"`
			Snapshot      string `json:"snapshot"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.Equal(t, sessionID.String(), req.SessionID)
		require.Equal(t, "alice", req.ParticipantID)
		require.Equal(t, "package main", req.Snapshot)

		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(map[string]float64{"score": 87.5})
	}))
	defer server.Close()

	client := grader.NewClient(server.URL, "test-key")
	score, err := client.ScoreSubmission(context.Background(), sessionID, "alice", "package main")
	require.NoError(t, err)
	require.Equal(t, 87.5, score)
}

func TestScoreSubmissionGraderError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "grader overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := grader.NewClient(server.URL, "")
	_, err := client.ScoreSubmission(context.Background(), uuid.New(), "alice", "package main")
	require.Error(t, err)
	require.Contains(t, err.Error(), "503")
}

func TestScoreSubmissionRespectsContext(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer server.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	client := grader.NewClient(server.URL, "")
	_, err := client.ScoreSubmission(ctx, uuid.New(), "alice", "package main")
	require.Error(t, err)
}
