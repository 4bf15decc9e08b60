// internal/handler/websocket_handler.go
package handler

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"scope-service/internal/config"
	"scope-service/internal/eventlog"
	"scope-service/internal/model"
	"scope-service/internal/utils"
)

const (
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	writeWait      = 10 * time.Second
	clientBuffer   = 256
	subscribeDepth = 256
)

// WebSocketHandler streams the instrument log to WebSocket clients
type WebSocketHandler struct {
	upgrader    websocket.Upgrader
	connections *ConnectionManager
	journal     *eventlog.Journal
	logger      *utils.ServiceLogger
}

// NewWebSocketHandler creates a new WebSocket handler
func NewWebSocketHandler(journal *eventlog.Journal, security *config.SecurityConfig, logger *zap.Logger) *WebSocketHandler {
	allowed := make(map[string]bool, len(security.AllowedOrigins))
	for _, origin := range security.AllowedOrigins {
		allowed[origin] = true
	}

	upgrader := websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if len(allowed) == 0 || origin == "" {
				return true
			}
			return allowed[origin]
		},
	}

	return &WebSocketHandler{
		upgrader:    upgrader,
		connections: NewConnectionManager(),
		journal:     journal,
		logger:      utils.NewServiceLogger(logger, "websocket-handler"),
	}
}

// RegisterRoutes registers WebSocket routes
func (h *WebSocketHandler) RegisterRoutes(router *gin.RouterGroup) {
	router.GET("/log", h.HandleLogConnection)
}

// HandleLogConnection streams log events. Events newer than ?since=<seq> that
// are still journaled are replayed first.
func (h *WebSocketHandler) HandleLogConnection(c *gin.Context) {
	var since uint64
	if raw := c.Query("since"); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			utils.ErrorResponse(c, http.StatusBadRequest, "Invalid since parameter", err)
			return
		}
		since = parsed
	}

	// subscribe before the upgrade completes so a client that acts right
	// after the handshake still sees its own exchanges, and before the
	// snapshot so nothing falls between the two
	_, events, cancel := h.journal.Subscribe(subscribeDepth)
	backlog := h.journal.Snapshot(since)

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		cancel()
		h.logger.Error("Failed to upgrade WebSocket connection", zap.Error(err))
		return
	}

	client := &Client{
		ID:          uuid.New().String(),
		Connection:  conn,
		Send:        make(chan []byte, clientBuffer),
		UserAgent:   c.Request.UserAgent(),
		RemoteAddr:  c.Request.RemoteAddr,
		ConnectedAt: time.Now(),
		done:        make(chan struct{}),
	}

	h.connections.Register(client)
	h.logger.Info("Log WebSocket client connected",
		zap.String("client_id", client.ID),
		zap.String("remote_addr", client.RemoteAddr),
		zap.Int("backlog", len(backlog)),
	)

	go h.forwardEvents(client, backlog, events, cancel)
	go h.handleClientRead(client)
	go h.handleClientWrite(client)
}

// forwardEvents replays the backlog, then relays journal events to the client
// until it goes away. Live events already covered by the backlog are skipped.
func (h *WebSocketHandler) forwardEvents(client *Client, backlog []model.LogEvent, events <-chan model.LogEvent, cancel func()) {
	defer cancel()

	var last uint64
	for _, event := range backlog {
		messageBytes, err := json.Marshal(&WebSocketMessage{Type: MessageTypeLogEvent, Data: event, Timestamp: event.Timestamp})
		if err != nil {
			h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
			continue
		}
		select {
		case <-client.done:
			return
		case client.Send <- messageBytes:
		}
		last = event.Seq
	}

	for {
		select {
		case <-client.done:
			return
		case event, ok := <-events:
			if !ok {
				return
			}
			if event.Seq <= last {
				continue
			}
			h.sendMessage(client, &WebSocketMessage{Type: MessageTypeLogEvent, Data: event, Timestamp: event.Timestamp})
		}
	}
}

// handleClientRead handles reading messages from WebSocket client
func (h *WebSocketHandler) handleClientRead(client *Client) {
	defer func() {
		h.connections.Unregister(client)
		client.Connection.Close()
		h.logger.Info("Log WebSocket client disconnected", zap.String("client_id", client.ID))
	}()

	client.Connection.SetReadDeadline(time.Now().Add(pongWait))
	client.Connection.SetPongHandler(func(string) error {
		client.Connection.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, messageBytes, err := client.Connection.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Error("WebSocket read error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
			}
			return
		}

		var message WebSocketMessage
		if err := json.Unmarshal(messageBytes, &message); err != nil {
			h.sendError(client, "invalid message")
			continue
		}

		switch message.Type {
		case "ping":
			h.sendMessage(client, &WebSocketMessage{Type: MessageTypePong, Timestamp: time.Now()})
		default:
			h.logger.Warn("Unknown message type",
				zap.String("type", message.Type),
				zap.String("client_id", client.ID),
			)
			h.sendError(client, "unknown message type: "+message.Type)
		}
	}
}

// handleClientWrite handles writing messages to WebSocket client
func (h *WebSocketHandler) handleClientWrite(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Connection.Close()
	}()

	for {
		select {
		case <-client.done:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			client.Connection.WriteMessage(websocket.CloseMessage, []byte{})
			return

		case message := <-client.Send:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.TextMessage, message); err != nil {
				h.logger.Error("WebSocket write error",
					zap.Error(err),
					zap.String("client_id", client.ID),
				)
				return
			}

		case <-ticker.C:
			client.Connection.SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Connection.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// sendMessage queues a message for a client, dropping it if the client is slow
func (h *WebSocketHandler) sendMessage(client *Client, message *WebSocketMessage) {
	messageBytes, err := json.Marshal(message)
	if err != nil {
		h.logger.Error("Failed to marshal WebSocket message", zap.Error(err))
		return
	}

	select {
	case <-client.done:
	case client.Send <- messageBytes:
	default:
		h.logger.Warn("Client send channel full, dropping message",
			zap.String("client_id", client.ID),
		)
	}
}

// sendError sends an error message to a client
func (h *WebSocketHandler) sendError(client *Client, errorMsg string) {
	h.sendMessage(client, &WebSocketMessage{
		Type: MessageTypeError,
		Data: map[string]interface{}{
			"error": errorMsg,
		},
		Timestamp: time.Now(),
	})
}

// Broadcast pushes a message to every connected client
func (h *WebSocketHandler) Broadcast(messageType string, data interface{}) {
	message := &WebSocketMessage{
		Type:      messageType,
		Data:      data,
		Timestamp: time.Now(),
	}
	for _, client := range h.connections.GetClients() {
		h.sendMessage(client, message)
	}
}

// GetConnectionStats returns connection statistics
func (h *WebSocketHandler) GetConnectionStats() *ConnectionStats {
	return h.connections.GetStats()
}
