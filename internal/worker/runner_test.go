package worker

import (
	"context"
	"errors"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentrepo "github.com/agentdesk/agentdesk/internal/agent/repository"
	agentsvc "github.com/agentdesk/agentdesk/internal/agent/service"
	"github.com/agentdesk/agentdesk/internal/common/config"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/db"
	"github.com/agentdesk/agentdesk/internal/dispatch"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	"github.com/agentdesk/agentdesk/internal/gateway/handlers"
	"github.com/agentdesk/agentdesk/internal/gateway/websocket"
	ticketrepo "github.com/agentdesk/agentdesk/internal/ticket/repository"
	ticketsvc "github.com/agentdesk/agentdesk/internal/ticket/service"
	"github.com/agentdesk/agentdesk/internal/tracker"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
	"github.com/agentdesk/agentdesk/pkg/client"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

type testServer struct {
	url     string
	bus     *bus.MemoryEventBus
	queue   *dispatch.Queue
	broker  *dispatch.Broker
	agents  *agentsvc.Service
	tickets *ticketsvc.Service
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)
	log := logger.Default()

	pool, err := db.Open(config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "test.db"),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = pool.Close() })

	memBus := bus.NewMemoryEventBus(log)
	t.Cleanup(memBus.Close)

	agentRepo, err := agentrepo.New(pool)
	require.NoError(t, err)
	agents := agentsvc.NewService(agentRepo, memBus, log)

	ticketStore, err := ticketrepo.New(pool)
	require.NoError(t, err)
	tickets := ticketsvc.NewService(ticketStore, memBus, nil, log)
	streamer := ticketsvc.NewStreamer(tickets, time.Hour, log)

	dispatchRepo, err := dispatch.NewRepository(pool)
	require.NoError(t, err)
	queue := dispatch.NewQueue(dispatchRepo, memBus, log)
	broker := dispatch.NewBroker(queue, agents, memBus, time.Minute, log)

	trk := tracker.New(memBus, queue, 10*time.Millisecond, 10*time.Millisecond, log)

	router := wire.NewRouter()
	handlers.New(agents, tickets, streamer, queue, broker, trk, nil, nil, log).Register(router)

	hub := websocket.NewHub(memBus, router, log)
	hub.SetPresenceListener(trk)
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go hub.Run(ctx)

	wsHandler := websocket.NewHandler(hub, log)
	engine := gin.New()
	engine.GET("/ws", wsHandler.HandleConnection)
	server := httptest.NewServer(engine)
	t.Cleanup(server.Close)

	return &testServer{
		url:     "ws" + strings.TrimPrefix(server.URL, "http") + "/ws",
		bus:     memBus,
		queue:   queue,
		broker:  broker,
		agents:  agents,
		tickets: tickets,
	}
}

// fakeAgent records execution order. Payload flags drive its behavior:
// "fail" makes it error, "stream" makes it emit a streaming comment.
type fakeAgent struct {
	mu       sync.Mutex
	executed []string
	delay    time.Duration
}

func (f *fakeAgent) Execute(ctx context.Context, task *v1.Task, tk *Toolkit) (string, error) {
	if f.delay > 0 {
		time.Sleep(f.delay)
	}
	f.mu.Lock()
	f.executed = append(f.executed, task.ID)
	f.mu.Unlock()

	stream, _ := task.Payload["stream"].(bool)
	if stream {
		if err := tk.Emitter.Open(ctx, "starting", nil); err != nil {
			return "", err
		}
		if err := tk.Emitter.Update(ctx, "halfway"); err != nil {
			return "", err
		}
	}
	if fail, _ := task.Payload["fail"].(bool); fail {
		return "", errors.New("model exploded")
	}
	if stream {
		if err := tk.Emitter.Finalize(ctx, "all done"); err != nil {
			return "", err
		}
	}
	return "ok", nil
}

func (f *fakeAgent) order() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.executed...)
}

func startRunner(t *testing.T, server *testServer, agent Agent, agentID string) (*Runner, chan error) {
	t.Helper()
	c := client.New(server.url, logger.Default())
	c.SetBackoff(10*time.Millisecond, 100*time.Millisecond, 10)
	runner := NewRunner(c, agent, Config{
		AgentID:      agentID,
		DrainTimeout: 5 * time.Second,
	}, logger.Default())

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	done := make(chan error, 1)
	go func() { done <- runner.Run(ctx) }()
	return runner, done
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal(msg)
}

func createAgentRow(t *testing.T, server *testServer, name, agentType string) string {
	t.Helper()
	agent, err := server.agents.Create(context.Background(), &v1.CreateAgentRequest{
		Name: name,
		Type: agentType,
	})
	require.NoError(t, err)
	return agent.ID
}

func TestRunner_CatchUpThenLivePushes(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()
	agentID := createAgentRow(t, server, "dev-1", "developer")

	// Backlog enqueued before the worker exists.
	var backlog []string
	for i := 0; i < 3; i++ {
		task, err := server.broker.Trigger(ctx, agentID, &v1.TriggerRequest{})
		require.NoError(t, err)
		backlog = append(backlog, task.ID)
	}

	agent := &fakeAgent{}
	startRunner(t, server, agent, agentID)

	waitFor(t, 5*time.Second, func() bool { return len(agent.order()) == 3 }, "backlog never drained")
	assert.Equal(t, backlog, agent.order(), "catch-up must run oldest first")

	// A live push while connected.
	task, err := server.broker.Trigger(ctx, agentID, &v1.TriggerRequest{})
	require.NoError(t, err)
	waitFor(t, 5*time.Second, func() bool { return len(agent.order()) == 4 }, "live push never executed")

	stored, err := server.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, dispatch.StatusCompleted, stored.Status)
}

func TestRunner_SkipsTerminalTasks(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()
	agentID := createAgentRow(t, server, "dev-2", "developer")

	agent := &fakeAgent{}
	startRunner(t, server, agent, agentID)

	task, err := server.broker.Trigger(ctx, agentID, &v1.TriggerRequest{})
	require.NoError(t, err)
	waitFor(t, 5*time.Second, func() bool { return len(agent.order()) == 1 }, "task never executed")

	// A duplicate push for a finished task must be claim-skipped.
	err = server.bus.Publish(ctx, events.BuildAgentTasksSubject(agentID),
		bus.NewEvent(events.TaskPush, "test", map[string]interface{}{"task_id": task.ID}))
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	assert.Len(t, agent.order(), 1, "terminal task executed twice")
}

func TestRunner_FailureCapture(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()
	agentID := createAgentRow(t, server, "dev-3", "developer")

	ticket, err := server.tickets.Create(ctx, &v1.CreateTicketRequest{
		RepositoryID: "r1",
		Title:        "Doomed work",
	})
	require.NoError(t, err)

	errorEvents := make(chan *bus.Event, 1)
	_, err = server.bus.Subscribe(events.SubjectAgents, func(_ context.Context, event *bus.Event) error {
		if event.Type == events.AgentError {
			errorEvents <- event
		}
		return nil
	})
	require.NoError(t, err)

	agent := &fakeAgent{}
	startRunner(t, server, agent, agentID)

	task, err := server.broker.Trigger(ctx, agentID, &v1.TriggerRequest{
		Payload: map[string]interface{}{
			"ticket_id": ticket.ID,
			"stream":    true,
			"fail":      true,
		},
	})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		stored, getErr := server.queue.Get(ctx, task.ID)
		return getErr == nil && stored.Status == dispatch.StatusFailed
	}, "task never failed")

	stored, err := server.queue.Get(ctx, task.ID)
	require.NoError(t, err)
	require.NotNil(t, stored.Error)
	assert.Contains(t, *stored.Error, "model exploded")

	select {
	case event := <-errorEvents:
		assert.Equal(t, agentID, event.Data["agent_id"])
	case <-time.After(2 * time.Second):
		t.Fatal("agent:error never published")
	}

	// The streaming comment the agent opened must be abandoned, not stuck.
	comments, err := server.tickets.ListComments(ctx, ticket.ID)
	require.NoError(t, err)
	require.Len(t, comments, 1)
	assert.Equal(t, "failed", comments[0].Status)

	// The worker survives and keeps taking tasks.
	_, err = server.broker.Trigger(ctx, agentID, &v1.TriggerRequest{})
	require.NoError(t, err)
	waitFor(t, 5*time.Second, func() bool { return len(agent.order()) == 2 }, "worker died after failure")
}

func TestRunner_StreamingCommentLifecycle(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()
	agentID := createAgentRow(t, server, "dev-4", "developer")

	ticket, err := server.tickets.Create(ctx, &v1.CreateTicketRequest{
		RepositoryID: "r1",
		Title:        "Streamed work",
	})
	require.NoError(t, err)

	agent := &fakeAgent{}
	startRunner(t, server, agent, agentID)

	_, err = server.broker.Trigger(ctx, agentID, &v1.TriggerRequest{
		Payload: map[string]interface{}{"ticket_id": ticket.ID, "stream": true},
	})
	require.NoError(t, err)

	waitFor(t, 5*time.Second, func() bool {
		comments, listErr := server.tickets.ListComments(ctx, ticket.ID)
		return listErr == nil && len(comments) == 1 && comments[0].Status == "completed"
	}, "streaming comment never completed")

	comments, err := server.tickets.ListComments(ctx, ticket.ID)
	require.NoError(t, err)
	assert.Equal(t, "all done", comments[0].Content)
	assert.Equal(t, "agent", comments[0].AuthorKind)
}

func TestRunner_StopDrainsBacklog(t *testing.T) {
	server := newTestServer(t)
	ctx := context.Background()
	agentID := createAgentRow(t, server, "dev-5", "developer")

	agent := &fakeAgent{delay: 50 * time.Millisecond}
	_, done := startRunner(t, server, agent, agentID)

	var tasks []string
	for i := 0; i < 2; i++ {
		task, err := server.broker.Trigger(ctx, agentID, &v1.TriggerRequest{})
		require.NoError(t, err)
		tasks = append(tasks, task.ID)
	}
	waitFor(t, 5*time.Second, func() bool { return len(agent.order()) >= 1 }, "work never started")

	require.NoError(t, server.broker.StopAgent(ctx, agentID, "shutdown"))

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(10 * time.Second):
		t.Fatal("runner never exited after stop")
	}

	for _, id := range tasks {
		stored, err := server.queue.Get(ctx, id)
		require.NoError(t, err)
		assert.Equal(t, dispatch.StatusCompleted, stored.Status, "task %s not drained", id)
	}
}
