package gateway

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/devforge/arena/go/internal/arena/events"
)

// TestBroadcastRacingDisconnectDoesNotPanic drives fan-out concurrently with
// the disconnect path. A client dropping mid-broadcast must only lose its own
// messages; the broadcast goroutine owns every other room in the process.
func TestBroadcastRacingDisconnectDoesNotPanic(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	sessionID := uuid.New()

	upgrader := websocket.Upgrader{}
	serverConns := make(chan *websocket.Conn, 1)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		serverConns <- c
	}))
	defer srv.Close()
	url := "ws" + strings.TrimPrefix(srv.URL, "http")

	ev, err := events.New(sessionID, events.TypeSessionStatus, events.SessionStatusPayload{})
	require.NoError(t, err)
	msg := BroadcastMessage{SessionID: sessionID, Event: ev, Audience: AudienceRoom}

	for i := 0; i < 50; i++ {
		client, _, err := websocket.DefaultDialer.Dial(url, nil)
		require.NoError(t, err)
		serverSide := <-serverConns

		conn := &Connection{
			ID:        uuid.New().String(),
			SessionID: sessionID,
			Role:      RoleParticipant,
			Conn:      serverSide,
			Send:      make(chan []byte, 1),
			Manager:   cm,
			joined:    true,
		}
		cm.register(conn)

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			cm.unregister(conn)
		}()
		go func() {
			defer wg.Done()
			// Two rounds: the second can land after the buffer filled or the
			// channel was torn down.
			cm.handleBroadcast(msg)
			cm.handleBroadcast(msg)
		}()
		wg.Wait()

		client.Close()
		serverSide.Close()
	}
}

// TestSendAfterUnregisterIsDropped covers the direct-send path against a
// connection that already left its room.
func TestSendAfterUnregisterIsDropped(t *testing.T) {
	cm := NewConnectionManager(DefaultConnectionConfig())
	sessionID := uuid.New()

	conn := &Connection{
		ID:        uuid.New().String(),
		SessionID: sessionID,
		Role:      RoleObserver,
		Send:      make(chan []byte, 1),
		Manager:   cm,
		joined:    true,
	}
	cm.register(conn)
	cm.unregister(conn)

	ev, err := events.New(sessionID, events.TypeError, events.ErrorPayload{Code: "x"})
	require.NoError(t, err)

	// Must not panic on the closed channel, just drop.
	cm.SendEvent(conn, ev)
	require.False(t, conn.trySend([]byte("late")))
}
