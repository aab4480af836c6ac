package websocket

import (
	"encoding/json"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	gorillaws "github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

var upgrader = gorillaws.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// TODO: validate origin once the deployment story settles
		return true
	},
}

// Handler upgrades HTTP connections into gateway clients.
type Handler struct {
	hub    *Hub
	logger *logger.Logger
}

// NewHandler creates the connection handler.
func NewHandler(hub *Hub, log *logger.Logger) *Handler {
	return &Handler{
		hub:    hub,
		logger: log.WithFields(zap.String("component", "ws-handler")),
	}
}

// HandleConnection upgrades the request and runs the client pumps.
func (h *Handler) HandleConnection(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade connection", zap.Error(err))
		return
	}

	clientID := uuid.New().String()
	h.logger.Debug("WebSocket connection established",
		zap.String("client_id", clientID),
		zap.String("remote_addr", c.Request.RemoteAddr))

	client := NewClient(clientID, conn, h.hub, h.logger)
	h.hub.Register(client)

	go client.WritePump()
	client.ReadPump(c.Request.Context())
}

// HandleEcho serves the secondary dev endpoint: same frame envelope, but
// every frame comes straight back. Tooling uses it to smoke-test transport
// plumbing without touching real state.
func (h *Handler) HandleEcho(c *gin.Context) {
	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Error("Failed to upgrade echo connection", zap.Error(err))
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		var msg wire.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			reply, _ := json.Marshal(wire.NewErrorMessage("", wire.ErrorCodeBadRequest, "invalid frame"))
			if conn.WriteMessage(gorillaws.TextMessage, reply) != nil {
				return
			}
			continue
		}
		if conn.WriteMessage(gorillaws.TextMessage, raw) != nil {
			return
		}
	}
}
