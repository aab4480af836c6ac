// Package websocket is the transport gateway: it upgrades HTTP connections,
// routes RPC frames into the wire router, and bridges bus topics to
// subscribed clients.
package websocket

import (
	"context"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

// PresenceListener observes worker presence derived from topic
// subscriptions. The tracker implements it.
type PresenceListener interface {
	SetOnline(agentID string, online bool)
}

// topicState is the bridge bookkeeping for one subscribed topic path.
type topicState struct {
	clients map[*Client]bool
	busSub  bus.Subscription
}

// Hub manages all gateway connections and the bus→socket bridge. A bus
// subscription exists per topic only while at least one client wants it.
type Hub struct {
	eventBus bus.EventBus
	router   *wire.Router
	logger   *logger.Logger

	mu      sync.RWMutex
	clients map[*Client]bool
	topics  map[string]*topicState

	presence PresenceListener

	register   chan *Client
	unregister chan *Client
}

// NewHub creates the gateway hub.
func NewHub(eventBus bus.EventBus, router *wire.Router, log *logger.Logger) *Hub {
	return &Hub{
		eventBus:   eventBus,
		router:     router,
		logger:     log.WithFields(zap.String("component", "ws-hub")),
		clients:    make(map[*Client]bool),
		topics:     make(map[string]*topicState),
		register:   make(chan *Client),
		unregister: make(chan *Client),
	}
}

// SetPresenceListener attaches the presence observer. Must be called before
// Run.
func (h *Hub) SetPresenceListener(listener PresenceListener) {
	h.presence = listener
}

// Run processes client registration until the context ends, then closes
// every connection.
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("WebSocket hub started")
	defer h.logger.Info("WebSocket hub stopped")

	for {
		select {
		case <-ctx.Done():
			h.closeAllClients()
			return
		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Debug("Client registered", zap.String("client_id", client.ID))
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

// Register adds a client to the hub.
func (h *Hub) Register(client *Client) {
	h.register <- client
}

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) {
	h.unregister <- client
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
	for path, topic := range h.topics {
		if topic.busSub != nil {
			_ = topic.busSub.Unsubscribe()
		}
		delete(h.topics, path)
	}
}

func (h *Hub) removeClient(client *Client) {
	h.mu.Lock()
	var paths []string
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		for path := range client.subscriptions {
			paths = append(paths, path)
			h.dropSubscriberLocked(client, path)
		}
	}
	h.mu.Unlock()

	h.logger.Debug("Client unregistered", zap.String("client_id", client.ID))
	// A dropped connection detaches the worker from its task topic, which
	// flips presence just like an explicit UNSUB.
	for _, path := range paths {
		h.notifyPresence(path, false)
	}
}

// Subscribe attaches a client to a topic path, creating the bus bridge for
// that topic if it is the first subscriber. Worker subscriptions to an
// agent's task topic flip the agent's presence online.
func (h *Hub) Subscribe(client *Client, path string) error {
	h.mu.Lock()
	topic, ok := h.topics[path]
	if !ok {
		busSub, err := h.eventBus.Subscribe(events.PathToSubject(path), h.bridgeHandler(path))
		if err != nil {
			h.mu.Unlock()
			return err
		}
		topic = &topicState{clients: make(map[*Client]bool), busSub: busSub}
		h.topics[path] = topic
	}
	topic.clients[client] = true
	client.subscriptions[path] = true
	h.mu.Unlock()

	h.logger.Debug("Client subscribed",
		zap.String("client_id", client.ID), zap.String("topic", path))
	h.notifyPresence(path, true)
	return nil
}

// Unsubscribe detaches a client from a topic path, tearing down the bus
// bridge when the last subscriber leaves.
func (h *Hub) Unsubscribe(client *Client, path string) {
	h.mu.Lock()
	delete(client.subscriptions, path)
	h.dropSubscriberLocked(client, path)
	h.mu.Unlock()

	h.logger.Debug("Client unsubscribed",
		zap.String("client_id", client.ID), zap.String("topic", path))
	h.notifyPresence(path, false)
}

// dropSubscriberLocked removes the client from a topic and reports whether
// the topic went away. Callers hold h.mu.
func (h *Hub) dropSubscriberLocked(client *Client, path string) bool {
	topic, ok := h.topics[path]
	if !ok {
		return false
	}
	delete(topic.clients, client)
	if len(topic.clients) > 0 {
		return false
	}
	if topic.busSub != nil {
		_ = topic.busSub.Unsubscribe()
	}
	delete(h.topics, path)
	return true
}

// bridgeHandler forwards bus events for one topic to its socket
// subscribers.
func (h *Hub) bridgeHandler(path string) bus.EventHandler {
	return func(_ context.Context, event *bus.Event) error {
		frame, err := wire.NewPublish(path, map[string]interface{}{
			"type":      event.Type,
			"data":      event.Data,
			"timestamp": event.Timestamp.Format(time.RFC3339Nano),
		})
		if err != nil {
			h.logger.Error("Failed to build push frame", zap.Error(err))
			return nil
		}

		// Enqueue under the read lock: removeClient needs the write lock to
		// close a send channel, so no client can vanish mid-fanout.
		h.mu.RLock()
		if topic, ok := h.topics[path]; ok {
			for client := range topic.clients {
				client.enqueue(frame)
			}
		}
		h.mu.RUnlock()
		return nil
	}
}

// PublishFromClient forwards a PUB frame from a client onto the bus.
func (h *Hub) PublishFromClient(ctx context.Context, msg *wire.Message) error {
	var payload struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := msg.ParseData(&payload); err != nil {
		return err
	}
	if payload.Type == "" {
		payload.Type = "event"
	}
	return h.eventBus.Publish(ctx, events.PathToSubject(msg.Path),
		bus.NewEvent(payload.Type, "gateway", payload.Data))
}

// notifyPresence flips agent presence when the topic is an agent task
// topic.
func (h *Hub) notifyPresence(path string, online bool) {
	if h.presence == nil {
		return
	}
	if agentID, ok := agentIDFromTasksTopic(path); ok {
		h.presence.SetOnline(agentID, online)
	}
}

// agentIDFromTasksTopic extracts the agent id from /agents/{id}/tasks.
func agentIDFromTasksTopic(path string) (string, bool) {
	segments := strings.Split(strings.Trim(path, "/"), "/")
	if len(segments) == 3 && segments[0] == "agents" && segments[2] == "tasks" {
		return segments[1], true
	}
	return "", false
}
