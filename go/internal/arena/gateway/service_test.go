package gateway_test

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/devforge/arena/go/internal/arena/events"
	"github.com/devforge/arena/go/internal/arena/gateway"
	"github.com/devforge/arena/go/internal/arena/session"
)

type stubScorer struct {
	score float64
}

func (s stubScorer) ScoreSubmission(context.Context, uuid.UUID, string, string) (float64, error) {
	return s.score, nil
}

type fixture struct {
	server   *httptest.Server
	registry *session.Registry
}

func makeFixture(t *testing.T) *fixture {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	manager := gateway.NewConnectionManager(gateway.DefaultConnectionConfig())
	registry := session.NewRegistry(session.RegistryConfig{Broadcaster: manager})
	service := gateway.NewService(gateway.ServiceConfig{
		Manager:  manager,
		Registry: registry,
		Scorer:   stubScorer{score: 87.5},
	})
	go service.Start(ctx)

	mux := http.NewServeMux()
	service.RegisterRoutes(mux)
	server := httptest.NewServer(mux)
	t.Cleanup(server.Close)

	return &fixture{server: server, registry: registry}
}

func (f *fixture) dial(t *testing.T) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(f.server.URL, "http") + "/ws/arena"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func send(t *testing.T, conn *websocket.Conn, msgType string, payload any) {
	t.Helper()
	data, err := json.Marshal(payload)
	require.NoError(t, err)
	msg, err := json.Marshal(gateway.ClientMessage{Type: msgType, Data: data})
	require.NoError(t, err)
	require.NoError(t, conn.WriteMessage(websocket.TextMessage, msg))
}

// readUntil reads events until one of the wanted type arrives, skipping the
// rest. Fails the test if nothing arrives in time.
func readUntil(t *testing.T, conn *websocket.Conn, want events.Type) events.SessionEvent {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		require.NoError(t, conn.SetReadDeadline(deadline))
		_, raw, err := conn.ReadMessage()
		require.NoError(t, err, "waiting for %s", want)

		var ev events.SessionEvent
		require.NoError(t, json.Unmarshal(raw, &ev))
		if ev.Type == want {
			return ev
		}
	}
}

// expectSilence asserts no message arrives within the window.
func expectSilence(t *testing.T, conn *websocket.Conn) {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(300*time.Millisecond)))
	_, raw, err := conn.ReadMessage()
	require.Error(t, err, "expected no message, got: %s", raw)
}

func joinParticipant(t *testing.T, f *fixture, sessionID uuid.UUID, participantID string) *websocket.Conn {
	t.Helper()
	conn := f.dial(t)
	send(t, conn, gateway.MessageJoinSession, gateway.JoinSessionPayload{
		SessionID:     sessionID.String(),
		Role:          gateway.RoleParticipant,
		ParticipantID: participantID,
		DisplayName:   strings.ToUpper(participantID[:1]) + participantID[1:],
	})
	return conn
}

func joinObserver(t *testing.T, f *fixture, sessionID uuid.UUID) *websocket.Conn {
	t.Helper()
	conn := f.dial(t)
	send(t, conn, gateway.MessageJoinSession, gateway.JoinSessionPayload{
		SessionID: sessionID.String(),
		Role:      gateway.RoleObserver,
	})
	return conn
}

func TestObserverReceivesSnapshotOnJoin(t *testing.T) {
	f := makeFixture(t)
	sessionID := uuid.New()
	_, err := f.registry.StartSession(sessionID, 600)
	require.NoError(t, err)

	alice := joinParticipant(t, f, sessionID, "alice")
	defer alice.Close()
	send(t, alice, gateway.MessageCodeUpdate, gateway.CodeUpdatePayload{
		SessionID:     sessionID.String(),
		ParticipantID: "alice",
		Snapshot:      "package main",
		Timestamp:     time.Now(),
	})

	// Give the update time to land before the observer snapshots.
	require.Eventually(t, func() bool {
		s, err := f.registry.Get(sessionID)
		if err != nil {
			return false
		}
		p, ok := s.Participant("alice")
		return ok && p.LastCodeSnapshot == "package main"
	}, 2*time.Second, 10*time.Millisecond)

	observer := joinObserver(t, f, sessionID)
	ev := readUntil(t, observer, events.TypeInitParticipants)

	var snap events.InitParticipantsPayload
	require.NoError(t, json.Unmarshal(ev.Data, &snap))
	require.Equal(t, sessionID.String(), snap.SessionID)
	require.Contains(t, snap.Participants, "alice")
	require.Equal(t, "package main", snap.Participants["alice"].LastCodeSnapshot)
	require.Positive(t, snap.TimeRemainingMS)
}

func TestCodeUpdatesReachObserversNotPeers(t *testing.T) {
	f := makeFixture(t)
	sessionID := uuid.New()
	_, err := f.registry.StartSession(sessionID, 600)
	require.NoError(t, err)

	alice := joinParticipant(t, f, sessionID, "alice")
	bob := joinParticipant(t, f, sessionID, "bob")
	observer := joinObserver(t, f, sessionID)
	readUntil(t, observer, events.TypeInitParticipants)

	send(t, alice, gateway.MessageCodeUpdate, gateway.CodeUpdatePayload{
		SessionID:     sessionID.String(),
		ParticipantID: "alice",
		Snapshot:      "attempt one",
		Timestamp:     time.Now(),
	})

	// Joins also emit participant updates; wait for the one that carries the
	// snapshot.
	var update events.ParticipantUpdatePayload
	for {
		ev := readUntil(t, observer, events.TypeParticipantUpdate)
		require.NoError(t, json.Unmarshal(ev.Data, &update))
		if update.Participant.LastCodeSnapshot != "" {
			break
		}
	}
	require.Equal(t, "alice", update.Participant.ParticipantID)
	require.Equal(t, "attempt one", update.Participant.LastCodeSnapshot)

	// A competitor never sees someone else's work in progress.
	expectSilence(t, bob)
}

func TestViolationAlertsCarryRunningCount(t *testing.T) {
	f := makeFixture(t)
	sessionID := uuid.New()
	_, err := f.registry.StartSession(sessionID, 600)
	require.NoError(t, err)

	alice := joinParticipant(t, f, sessionID, "alice")
	observer := joinObserver(t, f, sessionID)
	readUntil(t, observer, events.TypeInitParticipants)

	for i, kind := range []string{"focus-lost", "fullscreen-exit"} {
		send(t, alice, gateway.MessageViolation, gateway.ViolationPayload{
			SessionID:     sessionID.String(),
			ParticipantID: "alice",
			Kind:          kind,
		})

		ev := readUntil(t, observer, events.TypeViolationAlert)
		var alert events.ViolationAlertPayload
		require.NoError(t, json.Unmarshal(ev.Data, &alert))
		require.Equal(t, "alice", alert.ParticipantID)
		require.Equal(t, kind, alert.Kind)
		require.Equal(t, i+1, alert.ViolationCount)
	}
}

func TestSubmissionBroadcastsLeaderboardToRoom(t *testing.T) {
	f := makeFixture(t)
	sessionID := uuid.New()
	_, err := f.registry.StartSession(sessionID, 600)
	require.NoError(t, err)

	alice := joinParticipant(t, f, sessionID, "alice")
	bob := joinParticipant(t, f, sessionID, "bob")

	send(t, alice, gateway.MessageSubmission, gateway.SubmissionPayload{
		SessionID:     sessionID.String(),
		ParticipantID: "alice",
		Score:         92,
		SubmittedAt:   time.Now(),
	})

	// Rankings are public: both participants see the update.
	for _, conn := range []*websocket.Conn{alice, bob} {
		ev := readUntil(t, conn, events.TypeLeaderboardUpdate)
		var update events.LeaderboardUpdatePayload
		require.NoError(t, json.Unmarshal(ev.Data, &update))
		require.Len(t, update.Leaderboard, 1)
		require.Equal(t, "alice", update.Leaderboard[0].ParticipantID)
		require.Equal(t, float64(92), update.Leaderboard[0].Score)
	}
}

func TestObserverCannotEmitParticipantEvents(t *testing.T) {
	f := makeFixture(t)
	sessionID := uuid.New()
	_, err := f.registry.StartSession(sessionID, 600)
	require.NoError(t, err)

	observer := joinObserver(t, f, sessionID)
	readUntil(t, observer, events.TypeInitParticipants)

	send(t, observer, gateway.MessageViolation, gateway.ViolationPayload{
		SessionID:     sessionID.String(),
		ParticipantID: "alice",
		Kind:          "focus-lost",
	})

	ev := readUntil(t, observer, events.TypeError)
	var perr events.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &perr))
	require.Equal(t, "forbidden", perr.Code)
}

func TestJoinUnknownSessionRejected(t *testing.T) {
	f := makeFixture(t)

	conn := f.dial(t)
	send(t, conn, gateway.MessageJoinSession, gateway.JoinSessionPayload{
		SessionID:     uuid.New().String(),
		Role:          gateway.RoleParticipant,
		ParticipantID: "alice",
	})

	ev := readUntil(t, conn, events.TypeError)
	var perr events.ErrorPayload
	require.NoError(t, json.Unmarshal(ev.Data, &perr))
	require.Equal(t, "session_not_found", perr.Code)
}

func TestAdminLifecycleEndpoints(t *testing.T) {
	f := makeFixture(t)
	sessionID := uuid.New()

	post := func(path string, body string) *http.Response {
		t.Helper()
		resp, err := http.Post(f.server.URL+path, "application/json", strings.NewReader(body))
		require.NoError(t, err)
		return resp
	}

	resp := post(fmt.Sprintf("/api/sessions/%s/start", sessionID), `{"duration_seconds": 600}`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Starting a live session again conflicts.
	resp = post(fmt.Sprintf("/api/sessions/%s/start", sessionID), `{"duration_seconds": 600}`)
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = post(fmt.Sprintf("/api/sessions/%s/pause", sessionID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	// Pausing a paused session conflicts.
	resp = post(fmt.Sprintf("/api/sessions/%s/pause", sessionID), "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	resp = post(fmt.Sprintf("/api/sessions/%s/resume", sessionID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	stateResp, err := http.Get(f.server.URL + fmt.Sprintf("/api/sessions/%s/state", sessionID))
	require.NoError(t, err)
	var snap events.InitParticipantsPayload
	require.NoError(t, json.NewDecoder(stateResp.Body).Decode(&snap))
	stateResp.Body.Close()
	require.Equal(t, "LIVE", string(snap.Status))

	resp = post(fmt.Sprintf("/api/sessions/%s/stop", sessionID), "")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = post(fmt.Sprintf("/api/sessions/%s/pause", sessionID), "")
	require.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()
}

func TestGradedSubmissionEndpoint(t *testing.T) {
	f := makeFixture(t)
	sessionID := uuid.New()
	_, err := f.registry.StartSession(sessionID, 600)
	require.NoError(t, err)

	alice := joinParticipant(t, f, sessionID, "alice")

	// Participant must exist before its HTTP submission is accepted.
	require.Eventually(t, func() bool {
		s, err := f.registry.Get(sessionID)
		if err != nil {
			return false
		}
		_, ok := s.Participant("alice")
		return ok
	}, 2*time.Second, 10*time.Millisecond)

	body := `{"participant_id": "alice", "snapshot": "package main"}`
	resp, err := http.Post(
		f.server.URL+fmt.Sprintf("/api/sessions/%s/submissions", sessionID),
		"application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var graded struct {
		ParticipantID string  `json:"participant_id"`
		Score         float64 `json:"score"`
	}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&graded))
	require.Equal(t, "alice", graded.ParticipantID)
	require.Equal(t, 87.5, graded.Score)

	// The score lands on the leaderboard and fans out to the room.
	ev := readUntil(t, alice, events.TypeLeaderboardUpdate)
	var update events.LeaderboardUpdatePayload
	require.NoError(t, json.Unmarshal(ev.Data, &update))
	require.Len(t, update.Leaderboard, 1)
	require.Equal(t, 87.5, update.Leaderboard[0].Score)
}
