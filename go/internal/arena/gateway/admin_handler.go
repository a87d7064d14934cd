package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/devforge/arena/go/internal/arena/session"
	"github.com/devforge/arena/go/internal/arena/submissions"
)

// registerAdminRoutes wires the session lifecycle and grading REST endpoints.
func (s *Service) registerAdminRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/sessions/{id}/start", s.withAdminAuth(s.handleStartSession))
	mux.HandleFunc("POST /api/sessions/{id}/pause", s.withAdminAuth(s.handlePauseSession))
	mux.HandleFunc("POST /api/sessions/{id}/resume", s.withAdminAuth(s.handleResumeSession))
	mux.HandleFunc("POST /api/sessions/{id}/stop", s.withAdminAuth(s.handleStopSession))
	mux.HandleFunc("GET /api/sessions/{id}/state", s.withAdminAuth(s.handleSessionState))
	mux.HandleFunc("POST /api/sessions/{id}/submissions", s.handleGradedSubmission)
}

// withAdminAuth gates lifecycle endpoints behind the admin token. An empty
// configured token disables the check (development mode).
func (s *Service) withAdminAuth(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.adminToken != "" && r.Header.Get("X-Admin-Token") != s.adminToken {
			writeJSONError(w, http.StatusUnauthorized, "invalid admin token")
			return
		}
		next(w, r)
	}
}

type startSessionRequest struct {
	DurationSeconds int `json:"duration_seconds"`
}

func (s *Service) handleStartSession(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.DurationSeconds <= 0 {
		writeJSONError(w, http.StatusBadRequest, "duration_seconds must be positive")
		return
	}

	sess, err := s.registry.StartSession(sessionID, req.DurationSeconds)
	if err != nil {
		if errors.Is(err, session.ErrSessionExists) {
			writeJSONError(w, http.StatusConflict, "session is already live")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, "failed to start session")
		return
	}

	log.Info().
		Str("session_id", sessionID.String()).
		Int("duration_seconds", req.DurationSeconds).
		Msg("session started")

	writeSessionState(w, sess)
}

func (s *Service) handlePauseSession(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.registry.PauseSession, "pause")
}

func (s *Service) handleResumeSession(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.registry.ResumeSession, "resume")
}

func (s *Service) handleStopSession(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, s.registry.StopSession, "stop")
}

func (s *Service) handleTransition(w http.ResponseWriter, r *http.Request, transition func(uuid.UUID) error, name string) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	if err := transition(sessionID); err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeJSONError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, session.ErrInvalidTransition):
			writeJSONError(w, http.StatusConflict, "session is not in a state that allows "+name)
		default:
			writeJSONError(w, http.StatusInternalServerError, "failed to "+name+" session")
		}
		return
	}

	log.Info().Str("session_id", sessionID.String()).Str("action", name).Msg("session transition applied")

	sess, err := s.registry.Get(sessionID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	writeSessionState(w, sess)
}

func (s *Service) handleSessionState(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	sess, err := s.registry.Get(sessionID)
	if err != nil {
		writeJSONError(w, http.StatusNotFound, "session not found")
		return
	}
	writeSessionState(w, sess)
}

type gradedSubmissionRequest struct {
	ParticipantID string `json:"participant_id"`
	Snapshot      string `json:"snapshot"`
}

type gradedSubmissionResponse struct {
	ParticipantID string  `json:"participant_id"`
	Score         float64 `json:"score"`
}

// handleGradedSubmission is the HTTP submission path: the snapshot is scored
// synchronously by the external grader, persisted, and applied to the
// leaderboard. The response carries the score so the client can show it
// without waiting for the broadcast.
func (s *Service) handleGradedSubmission(w http.ResponseWriter, r *http.Request) {
	sessionID, ok := parseSessionID(w, r)
	if !ok {
		return
	}

	var req gradedSubmissionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.ParticipantID == "" {
		writeJSONError(w, http.StatusBadRequest, "participant_id is required")
		return
	}

	score, err := s.SubmitForGrading(r.Context(), sessionID, req.ParticipantID, req.Snapshot)
	if err != nil {
		switch {
		case errors.Is(err, session.ErrSessionNotFound):
			writeJSONError(w, http.StatusNotFound, "session not found")
		case errors.Is(err, session.ErrUnknownParticipant):
			writeJSONError(w, http.StatusNotFound, "participant not found in session")
		default:
			log.Error().
				Err(err).
				Str("session_id", sessionID.String()).
				Str("participant_id", req.ParticipantID).
				Msg("failed to grade submission")
			writeJSONError(w, http.StatusBadGateway, "failed to grade submission")
		}
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(gradedSubmissionResponse{
		ParticipantID: req.ParticipantID,
		Score:         score,
	})
}

// SubmitForGrading scores a snapshot with the external grader and applies the
// result to the session leaderboard. The grader call happens outside the
// session's command loop; only the finished score is applied.
func (s *Service) SubmitForGrading(ctx context.Context, sessionID uuid.UUID, participantID, snapshot string) (float64, error) {
	sess, err := s.registry.Get(sessionID)
	if err != nil {
		return 0, err
	}
	if _, ok := sess.Participant(participantID); !ok {
		return 0, session.ErrUnknownParticipant
	}

	score, err := s.scorer.ScoreSubmission(ctx, sessionID, participantID, snapshot)
	if err != nil {
		return 0, err
	}

	submittedAt := s.registry.Now()
	s.persist(submissions.Submission{
		SessionID:     sessionID,
		ParticipantID: participantID,
		Score:         score,
		Snapshot:      snapshot,
		SubmittedAt:   submittedAt,
		Source:        submissions.SourceGraded,
	})

	if err := sess.RecordSubmission(participantID, score, submittedAt); err != nil {
		return 0, err
	}
	return score, nil
}

func parseSessionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid session id")
		return uuid.Nil, false
	}
	return id, true
}

func writeSessionState(w http.ResponseWriter, sess *session.Session) {
	snap, err := sess.Snapshot()
	if err != nil {
		writeJSONError(w, http.StatusGone, "session is shutting down")
		return
	}
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(snap)
}

func writeJSONError(w http.ResponseWriter, status int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
