package gateway

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Config holds configuration for live WebSocket connections
type Config struct {
	WriteTimeout    time.Duration
	ReadTimeout     time.Duration
	PingInterval    time.Duration
	MaxMessageSize  int64
	ReadBufferSize  int
	WriteBufferSize int
	CheckOrigin     func(r *http.Request) bool
}

// DefaultConfig returns default WebSocket configuration
func DefaultConfig() Config {
	return Config{
		WriteTimeout:    10 * time.Second,
		ReadTimeout:     60 * time.Second,
		PingInterval:    30 * time.Second,
		MaxMessageSize:  4096,
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			// Allow all origins in development - restrict in production
			return true
		},
	}
}

// WebSocketHandler upgrades HTTP requests to live event-stream connections
// and runs the subscribe/unsubscribe command protocol on them.
type WebSocketHandler struct {
	registry *Registry
	upgrader websocket.Upgrader
	config   Config
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(registry *Registry, config Config) *WebSocketHandler {
	return &WebSocketHandler{
		registry: registry,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  config.ReadBufferSize,
			WriteBufferSize: config.WriteBufferSize,
			CheckOrigin:     config.CheckOrigin,
		},
		config: config,
	}
}

// HandleEventStream handles a WebSocket connection for /ws/{client_id}
func (h *WebSocketHandler) HandleEventStream(w http.ResponseWriter, r *http.Request) {
	clientID := mux.Vars(r)["client_id"]
	if clientID == "" || clientID == "generate" {
		clientID = "ws-" + uuid.New().String()
	}

	wsConn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Error().Err(err).Str("client_id", clientID).Msg("failed to upgrade WebSocket connection")
		return
	}

	conn := h.registry.Register(clientID, &wsTransport{
		conn:         wsConn,
		writeTimeout: h.config.WriteTimeout,
	})

	log.Info().Str("client_id", clientID).Msg("WebSocket connection established")

	if err := conn.Send(connectionEstablished{
		Type:     "connection_established",
		ClientID: clientID,
		Message:  "Connected to event stream",
	}); err != nil {
		h.registry.UnregisterConnection(conn)
		_ = wsConn.Close()
		return
	}

	stopPing := make(chan struct{})
	go h.pingLoop(wsConn, clientID, stopPing)

	h.readLoop(wsConn, conn, clientID)

	close(stopPing)
	// Unregister by identity: if another connection took over this client id
	// while we were serving, its registration must survive our teardown.
	h.registry.UnregisterConnection(conn)
	_ = wsConn.Close()
}

// HandleConnectionStats returns statistics about active connections
func (h *WebSocketHandler) HandleConnectionStats(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(h.registry.Stats()); err != nil {
		log.Error().Err(err).Msg("failed to write connection stats")
	}
}

// RegisterRoutes registers WebSocket routes on the router
func (h *WebSocketHandler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/ws/{client_id}", h.HandleEventStream)
	router.HandleFunc("/ws/stats", h.HandleConnectionStats).Methods(http.MethodGet)
}

// readLoop consumes client commands until the connection drops
func (h *WebSocketHandler) readLoop(wsConn *websocket.Conn, conn *ClientConnection, clientID string) {
	wsConn.SetReadLimit(h.config.MaxMessageSize)
	_ = wsConn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	wsConn.SetPongHandler(func(string) error {
		return wsConn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))
	})

	for {
		_, raw, err := wsConn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				log.Error().Err(err).Str("client_id", clientID).Msg("unexpected WebSocket close")
			}
			return
		}
		_ = wsConn.SetReadDeadline(time.Now().Add(h.config.ReadTimeout))

		h.handleCommand(conn, clientID, raw)
	}
}

// handleCommand applies one subscribe/unsubscribe command and acks it
func (h *WebSocketHandler) handleCommand(conn *ClientConnection, clientID string, raw []byte) {
	var cmd Command
	if err := json.Unmarshal(raw, &cmd); err != nil {
		h.sendError(conn, clientID, "invalid command: "+err.Error())
		return
	}

	switch cmd.Action {
	case actionSubscribe:
		h.registry.Subscribe(clientID, cmd.EventTypes)
		h.sendAck(conn, clientID, "subscribed", cmd.EventTypes)
	case actionUnsubscribe:
		h.registry.Unsubscribe(clientID, cmd.EventTypes)
		h.sendAck(conn, clientID, "unsubscribed", cmd.EventTypes)
	default:
		h.sendError(conn, clientID, "unknown action: "+cmd.Action)
	}
}

func (h *WebSocketHandler) sendAck(conn *ClientConnection, clientID, status string, eventTypes []string) {
	err := conn.Send(subscriptionUpdate{
		Type:       "subscription_update",
		Status:     status,
		EventTypes: eventTypes,
	})
	if err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("failed to send subscription ack")
	}
}

func (h *WebSocketHandler) sendError(conn *ClientConnection, clientID, message string) {
	if err := conn.Send(errorMessage{Type: "error", Message: message}); err != nil {
		log.Warn().Err(err).Str("client_id", clientID).Msg("failed to send error frame")
	}
}

// pingLoop keeps the connection alive; WriteControl is safe to call
// concurrently with other writes.
func (h *WebSocketHandler) pingLoop(wsConn *websocket.Conn, clientID string, stop <-chan struct{}) {
	ticker := time.NewTicker(h.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			deadline := time.Now().Add(h.config.WriteTimeout)
			if err := wsConn.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				log.Debug().Err(err).Str("client_id", clientID).Msg("ping failed")
				return
			}
		}
	}
}
