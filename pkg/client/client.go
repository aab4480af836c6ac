// Package client is the Go SDK for the coordinator's frame protocol. It
// dials the gateway, correlates RPC responses, fans out topic pushes to
// registered handlers, and reconnects with exponential backoff, replaying
// its subscriptions after every successful reconnect.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

const (
	defaultRequestTimeout = 30 * time.Second
	defaultBackoffBase    = time.Second
	defaultBackoffMax     = 30 * time.Second
	defaultMaxAttempts    = 5
)

// Event is one topic push delivered to a subscription handler.
type Event struct {
	Topic     string
	Type      string
	Data      map[string]interface{}
	Timestamp string
}

// EventHandler consumes pushes for one topic. Handlers run on the read
// loop; they must not block.
type EventHandler func(event *Event)

// Client is one gateway connection.
type Client struct {
	url    string
	logger *logger.Logger

	connMu    sync.RWMutex
	conn      *websocket.Conn
	connected bool

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[string]chan *wire.Message

	subsMu sync.Mutex
	subs   map[string]EventHandler

	onReconnect func()

	requestTimeout time.Duration
	backoffBase    time.Duration
	backoffMax     time.Duration
	maxAttempts    int

	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a client for the given gateway URL (ws:// or wss://).
func New(url string, log *logger.Logger) *Client {
	return &Client{
		url:            url,
		logger:         log.WithFields(zap.String("component", "client")),
		pending:        make(map[string]chan *wire.Message),
		subs:           make(map[string]EventHandler),
		requestTimeout: defaultRequestTimeout,
		backoffBase:    defaultBackoffBase,
		backoffMax:     defaultBackoffMax,
		maxAttempts:    defaultMaxAttempts,
		closed:         make(chan struct{}),
	}
}

// SetBackoff overrides the reconnect schedule. Attempts below 1 are
// clamped to 1.
func (c *Client) SetBackoff(base, max time.Duration, attempts int) {
	if attempts < 1 {
		attempts = 1
	}
	c.backoffBase = base
	c.backoffMax = max
	c.maxAttempts = attempts
}

// OnReconnect registers a hook invoked after every successful reconnect,
// once subscriptions have been replayed. Must be set before Connect.
func (c *Client) OnReconnect(fn func()) {
	c.onReconnect = fn
}

// Connect dials the gateway and starts the read loop.
func (c *Client) Connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.connected {
		return nil
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.url, nil)
	if err != nil {
		return apperrors.Transport("failed to connect to gateway", err)
	}
	c.conn = conn
	c.connected = true
	c.logger.Info("Connected to gateway", zap.String("url", c.url))
	go c.readLoop(conn)
	return nil
}

// Close shuts the connection down for good; no reconnect follows.
func (c *Client) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.closed)
		c.connMu.Lock()
		c.connected = false
		if c.conn != nil {
			err = c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
		c.failPending()
	})
	return err
}

// IsConnected reports whether the connection is currently up.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

// Request sends an RPC frame and waits for the correlated response. A
// context without a deadline gets the client's default request timeout.
// Error responses come back as the error return, carrying the server's
// error code.
func (c *Client) Request(ctx context.Context, method wire.Method, path string, body interface{}) (*wire.Message, error) {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	id := uuid.New().String()
	msg, err := wire.NewRequest(id, method, path, body)
	if err != nil {
		return nil, err
	}

	respChan := make(chan *wire.Message, 1)
	c.pendingMu.Lock()
	c.pending[id] = respChan
	c.pendingMu.Unlock()

	if err := c.write(msg); err != nil {
		c.dropPending(id)
		return nil, err
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return nil, &ServerError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return resp, nil
	case <-ctx.Done():
		c.dropPending(id)
		if ctx.Err() == context.DeadlineExceeded {
			return nil, apperrors.Timeout(fmt.Sprintf("request %s %s timed out", method, path))
		}
		return nil, ctx.Err()
	}
}

// RequestPayload performs a request and unmarshals the response data into
// result when result is non-nil.
func (c *Client) RequestPayload(ctx context.Context, method wire.Method, path string, body, result interface{}) error {
	resp, err := c.Request(ctx, method, path, body)
	if err != nil {
		return err
	}
	if result != nil && len(resp.Data) > 0 {
		if err := json.Unmarshal(resp.Data, result); err != nil {
			return apperrors.Transport("failed to unmarshal response", err)
		}
	}
	return nil
}

// Subscribe registers a handler for a topic and sends the SUB frame. The
// subscription survives reconnects.
func (c *Client) Subscribe(ctx context.Context, path string, handler EventHandler) error {
	c.subsMu.Lock()
	c.subs[path] = handler
	c.subsMu.Unlock()
	return c.sendControl(ctx, wire.NewSubscribe(uuid.New().String(), path))
}

// Unsubscribe removes the handler and sends the UNSUB frame.
func (c *Client) Unsubscribe(ctx context.Context, path string) error {
	c.subsMu.Lock()
	delete(c.subs, path)
	c.subsMu.Unlock()
	return c.sendControl(ctx, wire.NewUnsubscribe(uuid.New().String(), path))
}

// Publish sends a fire-and-forget event onto a topic.
func (c *Client) Publish(_ context.Context, path, eventType string, data map[string]interface{}) error {
	msg, err := wire.NewPublish(path, map[string]interface{}{
		"type": eventType,
		"data": data,
	})
	if err != nil {
		return err
	}
	return c.write(msg)
}

// sendControl sends a SUB/UNSUB frame and waits for the acknowledgement.
func (c *Client) sendControl(ctx context.Context, msg *wire.Message) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.requestTimeout)
		defer cancel()
	}

	respChan := make(chan *wire.Message, 1)
	c.pendingMu.Lock()
	c.pending[msg.ID] = respChan
	c.pendingMu.Unlock()

	if err := c.write(msg); err != nil {
		c.dropPending(msg.ID)
		return err
	}

	select {
	case resp := <-respChan:
		if resp.Error != nil {
			return &ServerError{Code: resp.Error.Code, Message: resp.Error.Message}
		}
		return nil
	case <-ctx.Done():
		c.dropPending(msg.ID)
		return ctx.Err()
	}
}

func (c *Client) write(msg *wire.Message) error {
	c.connMu.RLock()
	conn, connected := c.conn, c.connected
	c.connMu.RUnlock()
	if !connected || conn == nil {
		return apperrors.Transport("not connected to gateway", nil)
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return apperrors.Transport("failed to send frame", err)
	}
	return nil
}

// readLoop consumes frames until the connection drops. The gateway batches
// queued frames into one message separated by newlines.
func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-c.closed:
				return
			default:
			}
			c.logger.Warn("Connection lost", zap.Error(err))
			c.handleDisconnect()
			go c.reconnect()
			return
		}
		for _, part := range bytes.Split(raw, []byte{'\n'}) {
			if len(part) == 0 {
				continue
			}
			var msg wire.Message
			if err := json.Unmarshal(part, &msg); err != nil {
				c.logger.Warn("Failed to parse frame", zap.Error(err))
				continue
			}
			c.handleFrame(&msg)
		}
	}
}

func (c *Client) handleFrame(msg *wire.Message) {
	if msg.Method == wire.MethodPub {
		c.handlePush(msg)
		return
	}

	c.pendingMu.Lock()
	ch, ok := c.pending[msg.ID]
	delete(c.pending, msg.ID)
	c.pendingMu.Unlock()
	if ok {
		ch <- msg
	}
}

func (c *Client) handlePush(msg *wire.Message) {
	c.subsMu.Lock()
	handler, ok := c.subs[msg.Path]
	c.subsMu.Unlock()
	if !ok {
		return
	}

	var payload struct {
		Type      string                 `json:"type"`
		Data      map[string]interface{} `json:"data"`
		Timestamp string                 `json:"timestamp"`
	}
	if err := msg.ParseData(&payload); err != nil {
		c.logger.Warn("Failed to parse push payload",
			zap.String("topic", msg.Path), zap.Error(err))
		return
	}
	handler(&Event{
		Topic:     msg.Path,
		Type:      payload.Type,
		Data:      payload.Data,
		Timestamp: payload.Timestamp,
	})
}

func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	c.conn = nil
	c.connMu.Unlock()
	c.failPending()
}

// dropPending removes one in-flight request without delivering a response.
func (c *Client) dropPending(id string) {
	c.pendingMu.Lock()
	delete(c.pending, id)
	c.pendingMu.Unlock()
}

// failPending unblocks every in-flight request with a transport error.
func (c *Client) failPending() {
	c.pendingMu.Lock()
	for id, ch := range c.pending {
		ch <- wire.NewErrorMessage(id, wire.ErrorCodeTransport, "connection lost")
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
}

// reconnect retries the dial with exponential backoff, then replays every
// subscription and fires the OnReconnect hook.
func (c *Client) reconnect() {
	backoff := c.backoffBase
	for attempt := 1; attempt <= c.maxAttempts; attempt++ {
		select {
		case <-c.closed:
			return
		case <-time.After(backoff):
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		err := c.Connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info("Reconnected to gateway", zap.Int("attempt", attempt))
			c.replaySubscriptions()
			if c.onReconnect != nil {
				c.onReconnect()
			}
			return
		}

		c.logger.Warn("Reconnect attempt failed",
			zap.Int("attempt", attempt),
			zap.Duration("backoff", backoff),
			zap.Error(err))
		backoff *= 2
		if backoff > c.backoffMax {
			backoff = c.backoffMax
		}
	}
	c.logger.Error("Giving up on reconnecting",
		zap.Int("attempts", c.maxAttempts))
}

func (c *Client) replaySubscriptions() {
	c.subsMu.Lock()
	paths := make([]string, 0, len(c.subs))
	for path := range c.subs {
		paths = append(paths, path)
	}
	c.subsMu.Unlock()

	for _, path := range paths {
		ctx, cancel := context.WithTimeout(context.Background(), c.requestTimeout)
		err := c.sendControl(ctx, wire.NewSubscribe(uuid.New().String(), path))
		cancel()
		if err != nil {
			c.logger.Error("Failed to replay subscription",
				zap.String("topic", path), zap.Error(err))
		}
	}
}
