package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	agentrepo "github.com/agentdesk/agentdesk/internal/agent/repository"
	agentsvc "github.com/agentdesk/agentdesk/internal/agent/service"
	"github.com/agentdesk/agentdesk/internal/common/config"
	apperrors "github.com/agentdesk/agentdesk/internal/common/errors"
	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/db"
	"github.com/agentdesk/agentdesk/internal/dispatch"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	ticketrepo "github.com/agentdesk/agentdesk/internal/ticket/repository"
	ticketsvc "github.com/agentdesk/agentdesk/internal/ticket/service"
	"github.com/agentdesk/agentdesk/internal/tracker"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
	"github.com/agentdesk/agentdesk/pkg/wire"
)

type fixture struct {
	router *wire.Router
	rest   *REST
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
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
	New(agents, tickets, streamer, queue, broker, trk, nil, nil, log).Register(router)

	return &fixture{router: router, rest: NewREST(router, log)}
}

// call dispatches one frame and fails the test on handler errors.
func (f *fixture) call(t *testing.T, method wire.Method, path string, query map[string]string, body interface{}) *wire.Message {
	t.Helper()
	response, err := f.dispatch(t, method, path, query, body)
	require.NoError(t, err)
	require.NotNil(t, response)
	require.Nil(t, response.Error, "unexpected error frame: %+v", response.Error)
	return response
}

func (f *fixture) dispatch(t *testing.T, method wire.Method, path string, query map[string]string, body interface{}) (*wire.Message, error) {
	t.Helper()
	msg, err := wire.NewRequest("req-1", method, path, body)
	require.NoError(t, err)
	msg.Query = query
	return f.router.Dispatch(context.Background(), msg)
}

func decode(t *testing.T, msg *wire.Message, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(msg.Data, v))
}

func (f *fixture) createAgent(t *testing.T, name, agentType string) *v1.Agent {
	t.Helper()
	response := f.call(t, wire.MethodPost, "/api/agents", nil, &v1.CreateAgentRequest{
		Name: name,
		Type: agentType,
	})
	var agent v1.Agent
	decode(t, response, &agent)
	return &agent
}

func (f *fixture) createTicket(t *testing.T, repoID, title string) *v1.Ticket {
	t.Helper()
	response := f.call(t, wire.MethodPost, "/api/tickets", nil, &v1.CreateTicketRequest{
		RepositoryID: repoID,
		Title:        title,
	})
	var ticket v1.Ticket
	decode(t, response, &ticket)
	return &ticket
}

func TestHandlers_AgentLifecycle(t *testing.T) {
	f := newFixture(t)

	agent := f.createAgent(t, "planner-1", "planner")
	assert.True(t, agent.Enabled)

	response := f.call(t, wire.MethodGet, "/api/agents/"+agent.ID, nil, nil)
	var got v1.Agent
	decode(t, response, &got)
	assert.Equal(t, "planner-1", got.Name)

	desc := "plans tickets"
	response = f.call(t, wire.MethodPut, "/api/agents/"+agent.ID, nil, &v1.UpdateAgentRequest{
		Description: &desc,
	})
	decode(t, response, &got)
	require.NotNil(t, got.Description)
	assert.Equal(t, desc, *got.Description)

	response = f.call(t, wire.MethodGet, "/api/agents", nil, nil)
	var listing struct {
		Agents []v1.EnrichedAgent `json:"agents"`
	}
	decode(t, response, &listing)
	require.Len(t, listing.Agents, 1)
	assert.Equal(t, v1.AgentStatusOffline, listing.Agents[0].State.Status)

	response = f.call(t, wire.MethodPost, "/api/agents/"+agent.ID+"/subscribe", nil, nil)
	var binding struct {
		TasksTopic string `json:"tasks_topic"`
		StopTopic  string `json:"stop_topic"`
	}
	decode(t, response, &binding)
	assert.Equal(t, wire.AgentTasksTopic(agent.ID), binding.TasksTopic)
	assert.Equal(t, wire.AgentStopTopic(agent.ID), binding.StopTopic)

	f.call(t, wire.MethodDelete, "/api/agents/"+agent.ID, nil, nil)
	_, err := f.dispatch(t, wire.MethodGet, "/api/agents/"+agent.ID, nil, nil)
	assert.True(t, apperrors.IsNotFound(err))
}

func TestHandlers_TriggerClaimCompleteFlow(t *testing.T) {
	f := newFixture(t)
	agent := f.createAgent(t, "dev-1", "developer")

	response := f.call(t, wire.MethodPost, "/api/agents/"+agent.ID+"/trigger", nil, nil)
	var task v1.Task
	decode(t, response, &task)
	assert.Equal(t, v1.TaskTypeManual, task.Type)
	assert.Equal(t, v1.TaskStatusPending, task.Status)

	response = f.call(t, wire.MethodGet, "/api/agents/"+agent.ID+"/tasks/catchup", nil, nil)
	var backlog struct {
		Tasks []v1.Task `json:"tasks"`
	}
	decode(t, response, &backlog)
	require.Len(t, backlog.Tasks, 1)
	assert.Equal(t, task.ID, backlog.Tasks[0].ID)

	response = f.call(t, wire.MethodPost, "/api/tasks/"+task.ID+"/claim", nil, nil)
	var claimed v1.Task
	decode(t, response, &claimed)
	assert.Equal(t, v1.TaskStatusProcessing, claimed.Status)

	f.call(t, wire.MethodPost, "/api/tasks/"+task.ID+"/complete", nil, nil)

	response = f.call(t, wire.MethodGet, "/api/agents/"+agent.ID+"/stats", nil, nil)
	var stats v1.TaskStats
	decode(t, response, &stats)
	assert.Equal(t, 1, stats.Completed)
	assert.Equal(t, 0, stats.Pending)

	// A failed run keeps its error on the row.
	response = f.call(t, wire.MethodPost, "/api/agents/"+agent.ID+"/trigger", nil, nil)
	decode(t, response, &task)
	f.call(t, wire.MethodPost, "/api/tasks/"+task.ID+"/claim", nil, nil)
	f.call(t, wire.MethodPost, "/api/tasks/"+task.ID+"/fail", nil, map[string]string{
		"error": "model timeout",
	})

	response = f.call(t, wire.MethodGet, "/api/tasks/"+task.ID, nil, nil)
	decode(t, response, &task)
	assert.Equal(t, v1.TaskStatusFailed, task.Status)
	require.NotNil(t, task.Error)
	assert.Equal(t, "model timeout", *task.Error)

	response = f.call(t, wire.MethodGet, "/api/agents/"+agent.ID+"/tasks", map[string]string{"status": "failed"}, nil)
	decode(t, response, &backlog)
	require.Len(t, backlog.Tasks, 1)
}

func TestHandlers_TicketWorkflow(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "r1", "Add retry budget")

	status := "review"
	response := f.call(t, wire.MethodPut, "/api/tickets/"+ticket.ID, nil, &v1.UpdateTicketRequest{
		Status: &status,
	})
	var updated v1.Ticket
	decode(t, response, &updated)
	assert.Equal(t, v1.TicketStatusReview, updated.Status)

	response = f.call(t, wire.MethodPost, "/api/tickets/"+ticket.ID+"/approve", nil, nil)
	decode(t, response, &updated)
	assert.Equal(t, v1.TicketStatusClosed, updated.Status)

	_, err := f.dispatch(t, wire.MethodPost, "/api/tickets/"+ticket.ID+"/approve", nil, nil)
	assert.True(t, apperrors.IsConflict(err))

	response = f.call(t, wire.MethodPost, "/api/tickets/"+ticket.ID+"/reopen", nil, nil)
	decode(t, response, &updated)
	assert.Equal(t, v1.TicketStatusBacklog, updated.Status)
}

func TestHandlers_ListTicketsFilter(t *testing.T) {
	f := newFixture(t)
	f.createTicket(t, "r1", "First")
	f.createTicket(t, "r2", "Second")

	response := f.call(t, wire.MethodGet, "/api/tickets", map[string]string{"repository_id": "r1"}, nil)
	var listing struct {
		Tickets []v1.Ticket `json:"tickets"`
	}
	decode(t, response, &listing)
	require.Len(t, listing.Tickets, 1)
	assert.Equal(t, "First", listing.Tickets[0].Title)
}

func TestHandlers_CommentStreaming(t *testing.T) {
	f := newFixture(t)
	ticket := f.createTicket(t, "r1", "Streamed work")

	response := f.call(t, wire.MethodPost, "/api/tickets/"+ticket.ID+"/comments", nil, &v1.CreateCommentRequest{
		Content:    "Working on it",
		AuthorKind: "agent",
		AuthorID:   "dev-1",
		Status:     "generating",
	})
	var comment v1.Comment
	decode(t, response, &comment)
	assert.Equal(t, v1.CommentStatusGenerating, comment.Status)

	streamPath := "/api/tickets/" + ticket.ID + "/comments/" + comment.ID + "/stream"
	response = f.call(t, wire.MethodPost, streamPath, nil, &v1.StreamCommentRequest{
		Content: "Working on it\nStep one done",
	})
	decode(t, response, &comment)
	assert.Equal(t, v1.CommentStatusGenerating, comment.Status)

	response = f.call(t, wire.MethodPost, streamPath, nil, &v1.StreamCommentRequest{
		Content: "All done",
		Final:   true,
	})
	decode(t, response, &comment)
	assert.Equal(t, v1.CommentStatusCompleted, comment.Status)
	assert.Equal(t, "All done", comment.Content)

	f.call(t, wire.MethodPost,
		"/api/tickets/"+ticket.ID+"/comments/"+comment.ID+"/broadcast", nil,
		&v1.BroadcastCommentRequest{Type: "completed"})

	response = f.call(t, wire.MethodGet, "/api/tickets/"+ticket.ID+"/comments", nil, nil)
	var listing struct {
		Comments []v1.Comment `json:"comments"`
	}
	decode(t, response, &listing)
	require.Len(t, listing.Comments, 1)
}

func TestHandlers_OptionalServicesUnconfigured(t *testing.T) {
	f := newFixture(t)

	_, err := f.dispatch(t, wire.MethodGet, "/api/search", map[string]string{"q": "retry"}, nil)
	assert.True(t, apperrors.IsConflict(err))

	_, err = f.dispatch(t, wire.MethodPost, "/api/ci/run", nil, &v1.CIRunRequest{TicketID: "t1"})
	assert.True(t, apperrors.IsConflict(err))
}

func TestHandlers_UnknownRouteFrame(t *testing.T) {
	f := newFixture(t)

	response, err := f.dispatch(t, wire.MethodGet, "/api/nope", nil, nil)
	require.NoError(t, err)
	require.NotNil(t, response.Error)
	assert.Equal(t, wire.ErrorCodeNotFound, response.Error.Code)
}

func TestREST_MirrorsFrameRoutes(t *testing.T) {
	gin.SetMode(gin.TestMode)
	f := newFixture(t)
	engine := gin.New()
	f.rest.Mount(engine)

	body := `{"repository_id":"r1","title":"Via HTTP"}`
	request := httptest.NewRequest(http.MethodPost, "/api/tickets", strings.NewReader(body))
	recorder := httptest.NewRecorder()
	engine.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code, recorder.Body.String())

	var ticket v1.Ticket
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &ticket))
	assert.Equal(t, "Via HTTP", ticket.Title)

	request = httptest.NewRequest(http.MethodGet, "/api/tickets?repository_id=r1", nil)
	recorder = httptest.NewRecorder()
	engine.ServeHTTP(recorder, request)
	require.Equal(t, http.StatusOK, recorder.Code)
	var listing struct {
		Tickets []v1.Ticket `json:"tickets"`
	}
	require.NoError(t, json.Unmarshal(recorder.Body.Bytes(), &listing))
	require.Len(t, listing.Tickets, 1)

	request = httptest.NewRequest(http.MethodGet, "/api/tickets/missing", nil)
	recorder = httptest.NewRecorder()
	engine.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusNotFound, recorder.Code)

	request = httptest.NewRequest(http.MethodGet, "/api/no/such/route", nil)
	recorder = httptest.NewRecorder()
	engine.ServeHTTP(recorder, request)
	assert.Equal(t, http.StatusNotFound, recorder.Code)
}
