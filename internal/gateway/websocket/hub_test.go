package websocket

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

type fakePresence struct {
	mu    sync.Mutex
	calls []string
}

func (f *fakePresence) SetOnline(agentID string, online bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, fmt.Sprintf("%s=%t", agentID, online))
}

func (f *fakePresence) snapshot() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.calls...)
}

func newTestHub(t *testing.T) (*Hub, *bus.MemoryEventBus, *fakePresence) {
	t.Helper()
	log := logger.Default()
	memBus := bus.NewMemoryEventBus(log)
	t.Cleanup(memBus.Close)

	hub := NewHub(memBus, wire.NewRouter(), log)
	presence := &fakePresence{}
	hub.SetPresenceListener(presence)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)
	return hub, memBus, presence
}

// newDetachedClient builds a client that is never registered with a real
// connection; tests read its send channel directly.
func newDetachedClient(hub *Hub, id string) *Client {
	return NewClient(id, nil, hub, logger.Default())
}

func readFrame(t *testing.T, client *Client) *wire.Message {
	t.Helper()
	select {
	case raw := <-client.send:
		var msg wire.Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			t.Fatalf("bad frame: %v", err)
		}
		return &msg
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for frame")
		return nil
	}
}

func TestHub_BridgesBusEventsToSubscribers(t *testing.T) {
	hub, memBus, _ := newTestHub(t)
	ctx := context.Background()

	subscriber := newDetachedClient(hub, "c1")
	bystander := newDetachedClient(hub, "c2")
	if err := hub.Subscribe(subscriber, wire.TopicTickets); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	err := memBus.Publish(ctx, events.SubjectTickets,
		bus.NewEvent(events.TicketCreated, "test", map[string]interface{}{"ticket_id": "t1"}))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}

	frame := readFrame(t, subscriber)
	if frame.Method != wire.MethodPub || frame.Path != wire.TopicTickets {
		t.Errorf("unexpected push frame: %+v", frame)
	}
	var payload struct {
		Type string                 `json:"type"`
		Data map[string]interface{} `json:"data"`
	}
	if err := frame.ParseData(&payload); err != nil {
		t.Fatalf("parse push: %v", err)
	}
	if payload.Type != events.TicketCreated || payload.Data["ticket_id"] != "t1" {
		t.Errorf("unexpected push payload: %+v", payload)
	}

	select {
	case raw := <-bystander.send:
		t.Errorf("bystander received frame: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHub_UnsubscribeTearsDownBridge(t *testing.T) {
	hub, memBus, _ := newTestHub(t)
	ctx := context.Background()

	client := newDetachedClient(hub, "c1")
	if err := hub.Subscribe(client, wire.TopicTickets); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	hub.Unsubscribe(client, wire.TopicTickets)

	err := memBus.Publish(ctx, events.SubjectTickets,
		bus.NewEvent(events.TicketCreated, "test", nil))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	select {
	case raw := <-client.send:
		t.Errorf("received frame after unsubscribe: %s", raw)
	case <-time.After(50 * time.Millisecond):
	}

	hub.mu.RLock()
	_, alive := hub.topics[wire.TopicTickets]
	hub.mu.RUnlock()
	if alive {
		t.Error("bridge must be torn down with the last subscriber")
	}
}

func TestHub_TaskTopicSubscriptionFlipsPresence(t *testing.T) {
	hub, _, presence := newTestHub(t)

	worker := newDetachedClient(hub, "w1")
	if err := hub.Subscribe(worker, wire.AgentTasksTopic("a1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	if err := hub.Subscribe(worker, wire.TopicTickets); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	hub.Unsubscribe(worker, wire.AgentTasksTopic("a1"))

	got := presence.snapshot()
	want := []string{"a1=true", "a1=false"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("presence call %d: expected %s, got %s", i, want[i], got[i])
		}
	}
}

func TestHub_DisconnectFlipsPresence(t *testing.T) {
	hub, _, presence := newTestHub(t)

	worker := newDetachedClient(hub, "w1")
	hub.Register(worker)
	if err := hub.Subscribe(worker, wire.AgentTasksTopic("a1")); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	hub.Unregister(worker)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		calls := presence.snapshot()
		if len(calls) == 2 && calls[1] == "a1=false" {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("presence never flipped offline: %v", presence.snapshot())
}

func TestClient_SendBufferDropsOldest(t *testing.T) {
	hub, _, _ := newTestHub(t)
	client := newDetachedClient(hub, "c1")

	for i := 0; i < sendBufferSize+10; i++ {
		frame, _ := wire.NewPublish(wire.TopicTickets, map[string]interface{}{"seq": i})
		client.enqueue(frame)
	}

	if len(client.send) != sendBufferSize {
		t.Fatalf("expected full buffer of %d, got %d", sendBufferSize, len(client.send))
	}
	// The first frames went overboard; the head of the queue is now seq 10.
	frame := readFrame(t, client)
	var payload struct {
		Data map[string]interface{} `json:"data"`
	}
	if err := frame.ParseData(&payload); err != nil {
		t.Fatalf("parse: %v", err)
	}
	if seq, ok := payload.Data["seq"].(float64); !ok || int(seq) != 10 {
		t.Errorf("expected oldest surviving frame seq=10, got %v", payload.Data["seq"])
	}
}

func TestHub_PublishFromClient(t *testing.T) {
	hub, memBus, _ := newTestHub(t)
	ctx := context.Background()

	received := make(chan *bus.Event, 1)
	_, err := memBus.Subscribe(events.SubjectAgents, func(_ context.Context, event *bus.Event) error {
		received <- event
		return nil
	})
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	frame, err := wire.NewPublish(wire.TopicAgents, map[string]interface{}{
		"type": events.AgentStatus,
		"data": map[string]interface{}{"agent_id": "a1", "status": "working"},
	})
	if err != nil {
		t.Fatalf("build frame: %v", err)
	}
	if err := hub.PublishFromClient(ctx, frame); err != nil {
		t.Fatalf("publish from client: %v", err)
	}

	select {
	case event := <-received:
		if event.Type != events.AgentStatus || event.Data["agent_id"] != "a1" {
			t.Errorf("unexpected bus event: %+v", event)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("bus event never arrived")
	}
}
