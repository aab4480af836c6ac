package websocket

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 512 * 1024 // 512KB

	// Per-client send buffer, in frames
	sendBufferSize = 256
)

// Client is one gateway connection. Its send buffer never blocks the hub:
// when full, the oldest queued frame is dropped to make room.
type Client struct {
	ID            string
	conn          *websocket.Conn
	hub           *Hub
	send          chan []byte
	subscriptions map[string]bool // topic paths this client is subscribed to
	dropped       int
	logger        *logger.Logger
}

// NewClient creates a gateway client.
func NewClient(id string, conn *websocket.Conn, hub *Hub, log *logger.Logger) *Client {
	return &Client{
		ID:            id,
		conn:          conn,
		hub:           hub,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[string]bool),
		logger:        log.WithFields(zap.String("client_id", id)),
	}
}

// ReadPump pumps frames from the connection into the hub until the
// connection drops.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket read error", zap.Error(err))
			}
			break
		}

		var msg wire.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			c.logger.Warn("Failed to parse frame", zap.Error(err))
			c.enqueue(wire.NewErrorMessage("", wire.ErrorCodeBadRequest, "invalid frame"))
			continue
		}
		c.handleFrame(ctx, &msg)
	}
}

// handleFrame processes one inbound frame: SUB/UNSUB mutate the hub's
// bridge state, PUB goes onto the bus, and RPC methods route through the
// wire router.
func (c *Client) handleFrame(ctx context.Context, msg *wire.Message) {
	switch msg.Method {
	case wire.MethodSub:
		c.handleSubscribe(msg)
	case wire.MethodUnsub:
		c.handleUnsubscribe(msg)
	case wire.MethodPub:
		if err := c.hub.PublishFromClient(ctx, msg); err != nil {
			c.logger.Warn("Failed to publish client frame",
				zap.String("topic", msg.Path), zap.Error(err))
		}
	case wire.MethodGet, wire.MethodPost, wire.MethodPut, wire.MethodDelete:
		c.handleRPC(ctx, msg)
	default:
		c.enqueue(wire.NewErrorMessage(msg.ID, wire.ErrorCodeBadRequest,
			"unknown method: "+string(msg.Method)))
	}
}

func (c *Client) handleSubscribe(msg *wire.Message) {
	if msg.Path == "" {
		c.enqueue(wire.NewErrorMessage(msg.ID, wire.ErrorCodeValidation, "path is required"))
		return
	}
	if err := c.hub.Subscribe(c, msg.Path); err != nil {
		c.enqueue(wire.NewErrorMessage(msg.ID, wire.ErrorCodeInternal, err.Error()))
		return
	}
	c.respondOK(msg)
}

func (c *Client) handleUnsubscribe(msg *wire.Message) {
	if msg.Path == "" {
		c.enqueue(wire.NewErrorMessage(msg.ID, wire.ErrorCodeValidation, "path is required"))
		return
	}
	c.hub.Unsubscribe(c, msg.Path)
	c.respondOK(msg)
}

func (c *Client) handleRPC(ctx context.Context, msg *wire.Message) {
	response, err := c.hub.router.Dispatch(ctx, msg)
	if err != nil {
		c.enqueue(wire.NewErrorMessage(msg.ID, apperrors.GetCode(err), err.Error()))
		return
	}
	if response != nil {
		c.enqueue(response)
	}
}

func (c *Client) respondOK(msg *wire.Message) {
	response, err := wire.NewResponse(msg.ID, map[string]interface{}{
		"success": true,
		"path":    msg.Path,
	})
	if err != nil {
		return
	}
	c.enqueue(response)
}

// enqueue queues a frame for the write pump, dropping the oldest queued
// frame when the buffer is full.
func (c *Client) enqueue(msg *wire.Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal frame", zap.Error(err))
		return
	}

	for {
		select {
		case c.send <- data:
			return
		default:
		}
		select {
		case <-c.send:
			c.dropped++
			if c.dropped%100 == 1 {
				c.logger.Warn("Send buffer full, dropping oldest frame",
					zap.Int("dropped_total", c.dropped))
			}
		default:
			// Buffer already drained by the write pump; retry the send.
		}
	}
}

// WritePump pumps queued frames to the connection and keeps the ping cycle
// going.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)

			// Batch additional queued frames
			n := len(c.send)
			for i := 0; i < n; i++ {
				w.Write([]byte{'\n'})
				w.Write(<-c.send)
			}

			if err := w.Close(); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
