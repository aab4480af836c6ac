package client

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	"github.com/agentdesk/agentdesk/internal/gateway/websocket"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

type testGateway struct {
	url     string
	bus     *bus.MemoryEventBus
	hub     *websocket.Hub
	restart func()
}

func newTestGateway(t *testing.T) *testGateway {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Default()

	memBus := bus.NewMemoryEventBus(log)
	t.Cleanup(memBus.Close)

	router := wire.NewRouter()
	router.HandleFunc(wire.MethodGet, "/api/ping", func(_ context.Context, msg *wire.Message) (*wire.Message, error) {
		return wire.NewResponse(msg.ID, map[string]interface{}{"pong": true})
	})
	router.HandleFunc(wire.MethodGet, "/api/missing", func(_ context.Context, _ *wire.Message) (*wire.Message, error) {
		return nil, apperrors.NotFound("thing", "x")
	})
	router.HandleFunc(wire.MethodGet, "/api/slow", func(ctx context.Context, msg *wire.Message) (*wire.Message, error) {
		time.Sleep(300 * time.Millisecond)
		return wire.NewResponse(msg.ID, nil)
	})

	hub := websocket.NewHub(memBus, router, log)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)

	handler := websocket.NewHandler(hub, log)
	engine := gin.New()
	engine.GET("/ws", handler.HandleConnection)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	gw := &testGateway{
		url: "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		bus: memBus,
		hub: hub,
	}
	// restart drops every connection and brings the hub loop back up, so
	// reconnect tests exercise the full dial-and-replay path.
	gw.restart = func() {
		cancel()
		next, nextCancel := context.WithCancel(context.Background())
		cancel = nextCancel
		go hub.Run(next)
	}
	t.Cleanup(func() { cancel() })
	return gw
}

func newTestClient(t *testing.T, gw *testGateway) *Client {
	t.Helper()
	c := New(gw.url, logger.Default())
	c.SetBackoff(10*time.Millisecond, 100*time.Millisecond, 10)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestClient_RequestRoundTrip(t *testing.T) {
	gw := newTestGateway(t)
	c := newTestClient(t, gw)
	ctx := context.Background()

	require.NoError(t, c.Connect(ctx))
	assert.True(t, c.IsConnected())

	var result struct {
		Pong bool `json:"pong"`
	}
	require.NoError(t, c.RequestPayload(ctx, wire.MethodGet, "/api/ping", nil, &result))
	assert.True(t, result.Pong)

	_, err := c.Request(ctx, wire.MethodGet, "/api/missing", nil)
	assert.True(t, HasCode(err, wire.ErrorCodeNotFound), "got: %v", err)

	// Routes the server never registered come back as NOT_FOUND too.
	_, err = c.Request(ctx, wire.MethodGet, "/api/nope", nil)
	assert.True(t, HasCode(err, wire.ErrorCodeNotFound), "got: %v", err)
}

func TestClient_RequestBeforeConnect(t *testing.T) {
	gw := newTestGateway(t)
	c := newTestClient(t, gw)

	_, err := c.Request(context.Background(), wire.MethodGet, "/api/ping", nil)
	require.Error(t, err)
}

func TestClient_RequestDeadline(t *testing.T) {
	gw := newTestGateway(t)
	c := newTestClient(t, gw)
	require.NoError(t, c.Connect(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := c.Request(ctx, wire.MethodGet, "/api/slow", nil)
	assert.True(t, apperrors.IsTimeout(err), "got: %v", err)
}

func TestClient_SubscribeReceivesPush(t *testing.T) {
	gw := newTestGateway(t)
	c := newTestClient(t, gw)
	ctx := context.Background()
	require.NoError(t, c.Connect(ctx))

	received := make(chan *Event, 1)
	require.NoError(t, c.Subscribe(ctx, wire.TopicTickets, func(event *Event) {
		received <- event
	}))

	err := gw.bus.Publish(ctx, events.SubjectTickets,
		bus.NewEvent(events.TicketCreated, "test", map[string]interface{}{"ticket_id": "t1"}))
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, events.TicketCreated, event.Type)
		assert.Equal(t, "t1", event.Data["ticket_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("push never arrived")
	}
}

func TestClient_ReconnectReplaysSubscriptions(t *testing.T) {
	gw := newTestGateway(t)
	c := newTestClient(t, gw)
	ctx := context.Background()

	var reconnects atomic.Int32
	reconnected := make(chan struct{}, 4)
	c.OnReconnect(func() {
		reconnects.Add(1)
		reconnected <- struct{}{}
	})
	require.NoError(t, c.Connect(ctx))

	received := make(chan *Event, 4)
	require.NoError(t, c.Subscribe(ctx, wire.TopicTickets, func(event *Event) {
		received <- event
	}))

	gw.restart()

	select {
	case <-reconnected:
	case <-time.After(5 * time.Second):
		t.Fatal("client never reconnected")
	}
	assert.True(t, c.IsConnected())
	assert.GreaterOrEqual(t, reconnects.Load(), int32(1))

	// The replayed subscription must keep delivering pushes.
	err := gw.bus.Publish(ctx, events.SubjectTickets,
		bus.NewEvent(events.TicketUpdated, "test", map[string]interface{}{"ticket_id": "t2"}))
	require.NoError(t, err)

	select {
	case event := <-received:
		assert.Equal(t, events.TicketUpdated, event.Type)
	case <-time.After(2 * time.Second):
		t.Fatal("push after reconnect never arrived")
	}
}
