package gateway

import (
	"encoding/json"
	"net/http"

	"github.com/rs/zerolog/log"
)

// HandleArenaConnection upgrades the HTTP request to a WebSocket connection.
// The connection is anonymous until it sends join_session; an observer token
// may be presented as a query parameter and is checked at join time.
func (s *Service) HandleArenaConnection(w http.ResponseWriter, r *http.Request) {
	observerToken := r.URL.Query().Get("observer_token")

	if err := s.manager.UpgradeConnection(w, r, observerToken); err != nil {
		log.Error().Err(err).Msg("failed to establish WebSocket connection")
		http.Error(w, "Failed to establish WebSocket connection", http.StatusInternalServerError)
		return
	}
}

// HandleConnectionStats returns connection statistics for monitoring.
func (s *Service) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	totalConnections, activeRooms := s.manager.Stats()

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]any{
		"total_connections": totalConnections,
		"active_rooms":      activeRooms,
	})
}
