package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/devforge/arena/go/internal/arena/events"
	"github.com/devforge/arena/go/internal/arena/session"
	"github.com/devforge/arena/go/internal/arena/submissions"
	"github.com/devforge/arena/go/internal/models"
)

// Scorer is the external grading capability. The call may be slow; it is
// never made while holding a session's serialization point.
type Scorer interface {
	ScoreSubmission(ctx context.Context, sessionID uuid.UUID, participantID, snapshot string) (float64, error)
}

// Service ties the connection manager to the session registry: it routes the
// closed inbound message set, enforces role rules, and exposes the HTTP
// surface (WebSocket upgrade, admin lifecycle, graded submissions).
type Service struct {
	manager  *ConnectionManager
	registry *session.Registry
	scorer   Scorer
	store    submissions.Store

	observerToken string
	adminToken    string

	persistTimeout time.Duration
}

// ServiceConfig holds the gateway service dependencies.
type ServiceConfig struct {
	Manager  *ConnectionManager
	Registry *session.Registry
	Scorer   Scorer
	Store    submissions.Store // optional; nil disables persistence

	// ObserverToken gates the observer role. Empty allows any observer
	// (development mode).
	ObserverToken string
	// AdminToken gates the lifecycle REST endpoints. Empty allows anyone.
	AdminToken string
}

// NewService creates the gateway service and wires it as the connection
// manager's message handler.
func NewService(cfg ServiceConfig) *Service {
	s := &Service{
		manager:        cfg.Manager,
		registry:       cfg.Registry,
		scorer:         cfg.Scorer,
		store:          cfg.Store,
		observerToken:  cfg.ObserverToken,
		adminToken:     cfg.AdminToken,
		persistTimeout: 10 * time.Second,
	}
	cfg.Manager.SetHandler(s)
	return s
}

// Start begins the broadcast loop. Blocks until ctx is cancelled.
func (s *Service) Start(ctx context.Context) {
	s.manager.Start(ctx)
}

// HandleMessage dispatches one inbound client message. The message set is
// closed; anything else is a protocol error.
func (s *Service) HandleMessage(conn *Connection, raw []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		s.sendError(conn, "malformed_message", "message is not valid JSON", false)
		return
	}

	switch msg.Type {
	case MessageJoinSession:
		s.handleJoin(conn, msg.Data)
	case MessageCodeUpdate:
		s.handleCodeUpdate(conn, msg.Data)
	case MessageViolation:
		s.handleViolation(conn, msg.Data)
	case MessageSubmission:
		s.handleSubmission(conn, msg.Data)
	default:
		s.sendError(conn, "unknown_message", "unknown message type: "+msg.Type, false)
	}
}

// HandleDisconnect flips the participant's connection status. The state
// survives in the registry for rejoin.
func (s *Service) HandleDisconnect(conn *Connection) {
	if !conn.joined || conn.Role != RoleParticipant {
		return
	}
	sess, err := s.registry.Get(conn.SessionID)
	if err != nil {
		return
	}
	sess.MarkDisconnected(conn.ParticipantID)
}

func (s *Service) handleJoin(conn *Connection, data json.RawMessage) {
	if conn.joined {
		s.sendError(conn, "already_joined", "connection already joined a session", false)
		return
	}

	var payload JoinSessionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(conn, "malformed_message", "invalid join_session payload", true)
		return
	}

	sessionID, err := uuid.Parse(payload.SessionID)
	if err != nil {
		s.sendError(conn, "invalid_session", "invalid session id", true)
		return
	}

	// Role and session checks happen before any state mutation.
	switch payload.Role {
	case RoleObserver:
		if s.observerToken != "" && conn.observerToken != s.observerToken {
			s.sendError(conn, "unauthorized", "observer role requires a valid token", true)
			return
		}
	case RoleParticipant:
		if payload.ParticipantID == "" {
			s.sendError(conn, "invalid_join", "participant_id is required for participants", true)
			return
		}
	default:
		s.sendError(conn, "invalid_role", "role must be participant or observer", true)
		return
	}

	sess, err := s.registry.Get(sessionID)
	if err != nil {
		s.sendError(conn, "session_not_found", "unknown or expired session", true)
		return
	}
	if sess.Status() == models.SessionStatusCompleted {
		s.sendError(conn, "session_completed", "session has ended", true)
		return
	}

	conn.SessionID = sessionID
	conn.Role = payload.Role
	conn.ParticipantID = payload.ParticipantID
	conn.DisplayName = payload.DisplayName
	conn.joined = true
	s.manager.register(conn)

	switch payload.Role {
	case RoleParticipant:
		if _, err := sess.Join(payload.ParticipantID, payload.DisplayName); err != nil {
			s.sendError(conn, "join_failed", "session is shutting down", true)
			return
		}
		log.Info().
			Str("session_id", sessionID.String()).
			Str("participant_id", payload.ParticipantID).
			Msg("participant joined session")

	case RoleObserver:
		// Late-joining observers get a complete snapshot so they never miss
		// prior state.
		snap, err := sess.Snapshot()
		if err != nil {
			s.sendError(conn, "join_failed", "session is shutting down", true)
			return
		}
		ev, err := events.New(sessionID, events.TypeInitParticipants, snap)
		if err != nil {
			log.Error().Err(err).Msg("failed to build init_participants event")
			return
		}
		s.manager.SendEvent(conn, ev)
		log.Info().
			Str("session_id", sessionID.String()).
			Msg("observer joined session")
	}
}

func (s *Service) handleCodeUpdate(conn *Connection, data json.RawMessage) {
	sess, ok := s.requireParticipant(conn)
	if !ok {
		return
	}

	var payload CodeUpdatePayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(conn, "malformed_message", "invalid code_update payload", false)
		return
	}
	if payload.ParticipantID != conn.ParticipantID {
		s.sendError(conn, "forbidden", "participant id does not match connection", false)
		return
	}

	if err := sess.ApplyCodeUpdate(conn.ParticipantID, payload.Snapshot, payload.Timestamp); err != nil {
		s.sendError(conn, "update_failed", err.Error(), false)
	}
}

func (s *Service) handleViolation(conn *Connection, data json.RawMessage) {
	sess, ok := s.requireParticipant(conn)
	if !ok {
		return
	}

	var payload ViolationPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(conn, "malformed_message", "invalid violation payload", false)
		return
	}
	if payload.ParticipantID != conn.ParticipantID {
		s.sendError(conn, "forbidden", "participant id does not match connection", false)
		return
	}

	if _, err := sess.RecordViolation(conn.ParticipantID, payload.Kind); err != nil {
		s.sendError(conn, "update_failed", err.Error(), false)
	}
}

func (s *Service) handleSubmission(conn *Connection, data json.RawMessage) {
	sess, ok := s.requireParticipant(conn)
	if !ok {
		return
	}

	var payload SubmissionPayload
	if err := json.Unmarshal(data, &payload); err != nil {
		s.sendError(conn, "malformed_message", "invalid submission payload", false)
		return
	}
	if payload.ParticipantID != conn.ParticipantID {
		s.sendError(conn, "forbidden", "participant id does not match connection", false)
		return
	}

	submittedAt := payload.SubmittedAt
	if submittedAt.IsZero() {
		submittedAt = time.Now()
	}

	if err := sess.RecordSubmission(conn.ParticipantID, payload.Score, submittedAt); err != nil {
		s.sendError(conn, "update_failed", err.Error(), false)
		return
	}

	s.persist(submissions.Submission{
		SessionID:     conn.SessionID,
		ParticipantID: conn.ParticipantID,
		Score:         payload.Score,
		SubmittedAt:   submittedAt,
		Source:        submissions.SourceClient,
	})
}

// requireParticipant checks the connection joined as a participant and its
// session is still in the registry.
func (s *Service) requireParticipant(conn *Connection) (*session.Session, bool) {
	if !conn.joined {
		s.sendError(conn, "not_joined", "join_session must be sent first", false)
		return nil, false
	}
	if conn.Role != RoleParticipant {
		// Observers never emit code/violation/submission events.
		s.sendError(conn, "forbidden", "observers cannot emit participant events", false)
		return nil, false
	}
	sess, err := s.registry.Get(conn.SessionID)
	if err != nil {
		s.sendError(conn, "session_not_found", "session has ended", true)
		return nil, false
	}
	return sess, true
}

// persist writes a submission to durable storage, fire-and-forget: a persist
// failure never rolls back the in-memory leaderboard.
func (s *Service) persist(sub submissions.Submission) {
	if s.store == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), s.persistTimeout)
		defer cancel()
		if err := s.store.SaveSubmission(ctx, sub); err != nil {
			log.Error().
				Err(err).
				Str("session_id", sub.SessionID.String()).
				Str("participant_id", sub.ParticipantID).
				Msg("failed to persist submission")
		}
	}()
}

func (s *Service) sendError(conn *Connection, code, message string, closeConn bool) {
	log.Debug().
		Str("connection_id", conn.ID).
		Str("code", code).
		Str("message", message).
		Msg("protocol error")

	ev, err := events.New(conn.SessionID, events.TypeError, events.ErrorPayload{
		Code:    code,
		Message: message,
	})
	if err == nil {
		s.manager.SendEvent(conn, ev)
	}

	if closeConn {
		// Give the write pump a moment to flush, then close.
		go func() {
			time.Sleep(100 * time.Millisecond)
			conn.Conn.Close()
		}()
	}
}

// RegisterRoutes registers the WebSocket and REST routes.
func (s *Service) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/ws/arena", s.HandleArenaConnection)
	mux.HandleFunc("/ws/stats", s.HandleConnectionStats)
	s.registerAdminRoutes(mux)
	log.Info().Msg("arena gateway routes registered")
}
