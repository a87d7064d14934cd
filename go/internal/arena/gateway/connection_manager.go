package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"

	"github.com/devforge/arena/go/internal/arena/events"
)

// Role is the claimed role of a connection within a session room.
type Role string

const (
	RoleParticipant Role = "participant"
	RoleObserver    Role = "observer"
)

// Audience selects which room members a broadcast reaches.
type Audience string

const (
	AudienceRoom        Audience = "room"
	AudienceObservers   Audience = "observers"
	AudienceParticipant Audience = "participant"
)

// ConnectionManager owns WebSocket connections and room membership. Rooms
// are keyed by session id; the manager only routes, session state lives in
// the registry.
type ConnectionManager struct {
	rooms map[uuid.UUID]map[*Connection]bool
	mu    sync.RWMutex

	upgrader websocket.Upgrader
	config   ConnectionConfig
	handler  MessageHandler

	broadcastCh chan BroadcastMessage
}

// Connection represents one WebSocket connection. Role, SessionID and
// ParticipantID are set once on a successful join, before the connection is
// registered into a room, and are immutable afterwards.
type Connection struct {
	ID            string
	SessionID     uuid.UUID
	Role          Role
	ParticipantID string
	DisplayName   string
	Conn          *websocket.Conn
	Send          chan []byte
	Manager       *ConnectionManager

	// observerToken is the credential presented at upgrade time, checked
	// when the connection claims the observer role.
	observerToken string
	joined        bool

	// sendMu guards Send against a close from unregister racing a send from
	// the broadcast goroutine.
	sendMu     sync.Mutex
	sendClosed bool

	ConnectedAt time.Time
	LastPing    time.Time
}

// MessageHandler receives inbound client messages and disconnects. The
// gateway service implements it.
type MessageHandler interface {
	HandleMessage(conn *Connection, raw []byte)
	HandleDisconnect(conn *Connection)
}

// ConnectionConfig holds configuration for WebSocket connections.
type ConnectionConfig struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// BroadcastMessage is one fan-out instruction for the broadcast loop.
type BroadcastMessage struct {
	SessionID     uuid.UUID
	Event         *events.SessionEvent
	Audience      Audience
	ParticipantID string // set when Audience == AudienceParticipant
}

// DefaultConnectionConfig returns default WebSocket configuration. The
// message size limit is generous because code snapshots ride inbound
// messages.
func DefaultConnectionConfig() ConnectionConfig {
	return ConnectionConfig{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  256 * 1024,
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// NewConnectionManager creates a new WebSocket connection manager.
func NewConnectionManager(config ConnectionConfig) *ConnectionManager {
	return &ConnectionManager{
		rooms: make(map[uuid.UUID]map[*Connection]bool),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config:      config,
		broadcastCh: make(chan BroadcastMessage, 1000), // Buffer for high throughput
	}
}

// SetHandler wires the inbound message handler. Must be called before any
// connection is accepted.
func (cm *ConnectionManager) SetHandler(h MessageHandler) {
	cm.handler = h
}

// Start begins processing broadcast messages.
func (cm *ConnectionManager) Start(ctx context.Context) {
	log.Info().Msg("connection manager started")

	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("connection manager shutting down")
			return
		case message := <-cm.broadcastCh:
			cm.handleBroadcast(message)
		}
	}
}

// UpgradeConnection upgrades an HTTP connection to WebSocket. The connection
// belongs to no room until its join_session message is accepted.
func (cm *ConnectionManager) UpgradeConnection(w http.ResponseWriter, r *http.Request, observerToken string) error {
	conn, err := cm.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Msg("failed to upgrade WebSocket connection")
		return fmt.Errorf("failed to upgrade connection: %w", err)
	}

	connection := &Connection{
		ID:            uuid.New().String(),
		Conn:          conn,
		Send:          make(chan []byte, 256),
		Manager:       cm,
		observerToken: observerToken,
		ConnectedAt:   time.Now(),
		LastPing:      time.Now(),
	}

	go connection.writePump()
	go connection.readPump()

	log.Info().
		Str("connection_id", connection.ID).
		Msg("WebSocket connection established")

	return nil
}

// register adds a joined connection to its session room.
func (cm *ConnectionManager) register(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if cm.rooms[conn.SessionID] == nil {
		cm.rooms[conn.SessionID] = make(map[*Connection]bool)
	}
	cm.rooms[conn.SessionID][conn] = true

	log.Debug().
		Str("connection_id", conn.ID).
		Str("session_id", conn.SessionID.String()).
		Str("role", string(conn.Role)).
		Int("room_size", len(cm.rooms[conn.SessionID])).
		Msg("connection joined room")
}

// unregister removes a connection from its room, if it ever joined one.
func (cm *ConnectionManager) unregister(conn *Connection) {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	if room, exists := cm.rooms[conn.SessionID]; exists {
		if _, exists := room[conn]; exists {
			delete(room, conn)
			conn.closeSend()

			if len(room) == 0 {
				delete(cm.rooms, conn.SessionID)
			}

			log.Info().
				Str("connection_id", conn.ID).
				Str("session_id", conn.SessionID.String()).
				Str("role", string(conn.Role)).
				Msg("connection left room")
		}
	}
}

// BroadcastToRoom sends an event to every connection in the session's room.
func (cm *ConnectionManager) BroadcastToRoom(sessionID uuid.UUID, event *events.SessionEvent) {
	cm.enqueue(BroadcastMessage{SessionID: sessionID, Event: event, Audience: AudienceRoom})
}

// BroadcastToObservers sends an event to the observer sub-audience only.
func (cm *ConnectionManager) BroadcastToObservers(sessionID uuid.UUID, event *events.SessionEvent) {
	cm.enqueue(BroadcastMessage{SessionID: sessionID, Event: event, Audience: AudienceObservers})
}

// BroadcastToParticipant sends an event to one participant's connections.
func (cm *ConnectionManager) BroadcastToParticipant(sessionID uuid.UUID, participantID string, event *events.SessionEvent) {
	cm.enqueue(BroadcastMessage{
		SessionID:     sessionID,
		Event:         event,
		Audience:      AudienceParticipant,
		ParticipantID: participantID,
	})
}

func (cm *ConnectionManager) enqueue(message BroadcastMessage) {
	select {
	case cm.broadcastCh <- message:
	default:
		log.Warn().
			Str("session_id", message.SessionID.String()).
			Str("event_type", string(message.Event.Type)).
			Msg("broadcast channel full, dropping message")
	}
}

// handleBroadcast delivers one broadcast to its audience.
func (cm *ConnectionManager) handleBroadcast(message BroadcastMessage) {
	cm.mu.RLock()
	room, exists := cm.rooms[message.SessionID]
	if !exists {
		cm.mu.RUnlock()
		return
	}

	// Snapshot the targets to avoid holding the lock during sends.
	var targets []*Connection
	for conn := range room {
		switch message.Audience {
		case AudienceObservers:
			if conn.Role != RoleObserver {
				continue
			}
		case AudienceParticipant:
			if conn.Role != RoleParticipant || conn.ParticipantID != message.ParticipantID {
				continue
			}
		}
		targets = append(targets, conn)
	}
	cm.mu.RUnlock()

	data, err := json.Marshal(message.Event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event for broadcast")
		return
	}

	for _, conn := range targets {
		if conn.trySend(data) {
			continue
		}
		// Connection is slow or already gone, close it.
		log.Warn().
			Str("connection_id", conn.ID).
			Msg("connection send buffer full, closing connection")
		cm.unregister(conn)
		conn.Conn.Close()
	}

	log.Debug().
		Str("event_type", string(message.Event.Type)).
		Str("session_id", message.SessionID.String()).
		Str("audience", string(message.Audience)).
		Int("connections", len(targets)).
		Msg("event broadcasted")
}

// SendEvent writes an event to a single connection, bypassing room fan-out.
// Used for the observer snapshot and protocol errors.
func (cm *ConnectionManager) SendEvent(conn *Connection, event *events.SessionEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Msg("failed to marshal event")
		return
	}
	if !conn.trySend(data) {
		log.Warn().Str("connection_id", conn.ID).Msg("send buffer full, dropping direct event")
	}
}

// trySend queues data for the write pump. Reports false when the buffer is
// full or the connection is already closed.
func (c *Connection) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if c.sendClosed {
		return false
	}
	select {
	case c.Send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the Send channel exactly once. Senders go through trySend,
// so a close can never race a send.
func (c *Connection) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()

	if !c.sendClosed {
		c.sendClosed = true
		close(c.Send)
	}
}

// Stats returns statistics about active connections.
func (cm *ConnectionManager) Stats() (totalConnections, activeRooms int) {
	cm.mu.RLock()
	defer cm.mu.RUnlock()

	for _, room := range cm.rooms {
		totalConnections += len(room)
	}
	return totalConnections, len(cm.rooms)
}

// writePump handles sending messages to the WebSocket connection.
func (c *Connection) writePump() {
	ticker := time.NewTicker(c.Manager.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Conn.Close()
		c.Manager.unregister(c)
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if !ok {
				// Channel was closed
				c.Conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("failed to write message to WebSocket")
				return
			}

		case <-ticker.C:
			c.Conn.SetWriteDeadline(time.Now().Add(c.Manager.config.WriteTimeout))
			if err := c.Conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
			c.LastPing = time.Now()
		}
	}
}

// readPump handles reading messages from the WebSocket connection.
func (c *Connection) readPump() {
	defer func() {
		if c.Manager.handler != nil {
			c.Manager.handler.HandleDisconnect(c)
		}
		c.Manager.unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.Manager.config.MaxMessageSize)
	c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	c.Conn.SetPongHandler(func(string) error {
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
		c.LastPing = time.Now()
		return nil
	})

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure, websocket.CloseNormalClosure) {
				log.Error().
					Err(err).
					Str("connection_id", c.ID).
					Msg("unexpected WebSocket close error")
			}
			break
		}

		if c.Manager.handler != nil {
			c.Manager.handler.HandleMessage(c, message)
		}
		c.Conn.SetReadDeadline(time.Now().Add(c.Manager.config.ReadTimeout))
	}
}
