// Package tracker maintains the broker-side shadow state of every agent:
// liveness, current task, last heartbeat, and cached queue counters. It
// coalesces mutation bursts and broadcasts one cleaned snapshot per window.
package tracker

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/dispatch"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// StatsProvider supplies fresh queue counters for snapshot enrichment.
type StatsProvider interface {
	StatsAll(ctx context.Context) (map[string]dispatch.Stats, error)
}

// State is the in-memory shadow of one agent. The tracker owns it; workers
// never write it directly, they produce events the tracker applies.
type State struct {
	AgentID       string
	ServiceOnline bool
	Status        v1.AgentStatus
	CurrentTaskID *string
	LastHeartbeat *time.Time
	Stats         dispatch.Stats
}

// Update is a partial mutation; nil fields are left untouched.
type Update struct {
	AgentID       string
	ServiceOnline *bool
	Status        *v1.AgentStatus
	CurrentTaskID *string
	ClearTask     bool
	Heartbeat     bool
}

// Tracker holds the shadow state map behind a single mutex. Mutations mark
// the state dirty and arm a debounce timer; the publisher goroutine emits
// one /agents/state broadcast per group window. Writers never hold the lock
// across a broadcast.
type Tracker struct {
	eventBus bus.EventBus
	stats    StatsProvider
	logger   *logger.Logger

	debounce time.Duration
	throttle time.Duration

	mu       sync.Mutex
	states   map[string]*State
	dirty    bool
	timer    *time.Timer
	lastSent time.Time

	subscriptions []bus.Subscription
	stop          chan struct{}
	stopOnce      sync.Once
}

// New creates the tracker. Call Start to attach its bus subscriptions.
func New(eventBus bus.EventBus, stats StatsProvider, debounce, throttle time.Duration, log *logger.Logger) *Tracker {
	return &Tracker{
		eventBus: eventBus,
		stats:    stats,
		logger:   log.WithFields(zap.String("component", "agent-tracker")),
		debounce: debounce,
		throttle: throttle,
		states:   make(map[string]*State),
		stop:     make(chan struct{}),
	}
}

// Start subscribes the tracker to task transitions and worker status
// reports.
func (t *Tracker) Start() error {
	taskSub, err := t.eventBus.Subscribe(events.SubjectTasks, t.handleTaskEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe tracker to task events: %w", err)
	}
	t.subscriptions = append(t.subscriptions, taskSub)

	agentSub, err := t.eventBus.Subscribe(events.SubjectAgents, t.handleAgentEvent)
	if err != nil {
		return fmt.Errorf("failed to subscribe tracker to agent events: %w", err)
	}
	t.subscriptions = append(t.subscriptions, agentSub)
	return nil
}

// Stop detaches subscriptions and cancels any pending broadcast.
func (t *Tracker) Stop() {
	t.stopOnce.Do(func() { close(t.stop) })
	for _, sub := range t.subscriptions {
		_ = sub.Unsubscribe()
	}
	t.subscriptions = nil
	t.mu.Lock()
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.mu.Unlock()
}

// Get returns a copy of one agent's shadow state, or nil when untracked.
func (t *Tracker) Get(agentID string) *State {
	t.mu.Lock()
	defer t.mu.Unlock()
	state, ok := t.states[agentID]
	if !ok {
		return nil
	}
	copied := *state
	return &copied
}

// GetAll returns a copy of the whole shadow map.
func (t *Tracker) GetAll() map[string]State {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]State, len(t.states))
	for id, state := range t.states {
		out[id] = *state
	}
	return out
}

// Apply merges one partial update and schedules a broadcast when any
// observable field changed.
func (t *Tracker) Apply(update Update) {
	t.mu.Lock()
	changed := t.applyLocked(update)
	if changed {
		t.dirty = true
		t.armTimerLocked()
	}
	t.mu.Unlock()
}

// BatchApply merges several updates and schedules at most one broadcast.
func (t *Tracker) BatchApply(updates []Update) {
	t.mu.Lock()
	changed := false
	for _, update := range updates {
		if t.applyLocked(update) {
			changed = true
		}
	}
	if changed {
		t.dirty = true
		t.armTimerLocked()
	}
	t.mu.Unlock()
}

// SetOnline flips an agent's subscription presence. The gateway calls this
// when a worker subscribes to or detaches from its task topic.
func (t *Tracker) SetOnline(agentID string, online bool) {
	update := Update{AgentID: agentID, ServiceOnline: &online}
	if online {
		update.Heartbeat = true
		idle := v1.AgentStatusIdle
		update.Status = &idle
	}
	t.Apply(update)
}

func (t *Tracker) applyLocked(update Update) bool {
	state, ok := t.states[update.AgentID]
	if !ok {
		state = &State{AgentID: update.AgentID, Status: v1.AgentStatusOffline}
		t.states[update.AgentID] = state
	}

	changed := !ok
	if update.ServiceOnline != nil && state.ServiceOnline != *update.ServiceOnline {
		state.ServiceOnline = *update.ServiceOnline
		changed = true
	}
	if update.Status != nil && state.Status != *update.Status {
		state.Status = *update.Status
		changed = true
	}
	if update.ClearTask {
		if state.CurrentTaskID != nil {
			state.CurrentTaskID = nil
			changed = true
		}
	} else if update.CurrentTaskID != nil {
		if state.CurrentTaskID == nil || *state.CurrentTaskID != *update.CurrentTaskID {
			state.CurrentTaskID = update.CurrentTaskID
			changed = true
		}
	}
	if update.Heartbeat {
		now := time.Now().UTC()
		state.LastHeartbeat = &now
		// Heartbeats alone do not dirty the snapshot; they ride along with
		// the next observable change or the throttled path.
	}
	return changed
}

// armTimerLocked starts or extends the group window. Callers hold t.mu.
func (t *Tracker) armTimerLocked() {
	if t.timer != nil {
		t.timer.Reset(t.debounce)
		return
	}
	t.timer = time.AfterFunc(t.debounce, func() {
		select {
		case <-t.stop:
			return
		default:
		}
		t.Broadcast(context.Background())
	})
}

// Broadcast publishes the full cleaned snapshot enriched with fresh queue
// counters on the agents.state subject.
func (t *Tracker) Broadcast(ctx context.Context) {
	snapshot := t.snapshot(ctx)

	t.mu.Lock()
	t.dirty = false
	if t.timer != nil {
		t.timer.Stop()
		t.timer = nil
	}
	t.lastSent = time.Now()
	t.mu.Unlock()

	data := map[string]interface{}{"agents": snapshot}
	if err := t.eventBus.Publish(ctx, events.SubjectAgentsState, bus.NewEvent(events.AgentState, "agent-tracker", data)); err != nil {
		t.logger.Error("Failed to broadcast agent state", zap.Error(err))
	}
}

// Snapshot returns the cleaned, stats-enriched projection without
// broadcasting it.
func (t *Tracker) Snapshot(ctx context.Context) []v1.AgentState {
	return t.snapshot(ctx)
}

// ThrottledBroadcast broadcasts unless one went out within the throttle
// window. Heartbeat paths use it so reconnect storms cannot flood clients.
func (t *Tracker) ThrottledBroadcast(ctx context.Context) {
	t.mu.Lock()
	if time.Since(t.lastSent) < t.throttle {
		t.mu.Unlock()
		return
	}
	t.mu.Unlock()
	t.Broadcast(ctx)
}

// snapshot projects the cleaned state map. The derived rule: an agent with
// no live subscription reports offline unless a task is legitimately still
// in flight, which keeps status from flapping during reconnects.
func (t *Tracker) snapshot(ctx context.Context) []v1.AgentState {
	var statsAll map[string]dispatch.Stats
	if t.stats != nil {
		var err error
		statsAll, err = t.stats.StatsAll(ctx)
		if err != nil {
			t.logger.Warn("Failed to load task stats for snapshot", zap.Error(err))
			statsAll = nil
		}
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	out := make([]v1.AgentState, 0, len(t.states))
	for id, state := range t.states {
		stats := state.Stats
		if statsAll != nil {
			if fresh, ok := statsAll[id]; ok {
				stats = fresh
				state.Stats = fresh
			}
		}

		status := state.Status
		if !state.ServiceOnline && (status != v1.AgentStatusWorking || stats.Processing == 0) {
			status = v1.AgentStatusOffline
		}

		entry := v1.AgentState{
			AgentID:       id,
			ServiceOnline: state.ServiceOnline,
			Status:        status,
			TaskStats:     stats.ToAPI(),
		}
		if state.CurrentTaskID != nil {
			taskID := *state.CurrentTaskID
			entry.CurrentTaskID = &taskID
		}
		if state.LastHeartbeat != nil {
			hb := *state.LastHeartbeat
			entry.LastHeartbeat = &hb
		}
		out = append(out, entry)
	}
	return out
}

// handleTaskEvent reacts to queue transitions: counters change on every
// transition, and claims/terminals move the agent between working and idle.
func (t *Tracker) handleTaskEvent(_ context.Context, event *bus.Event) error {
	agentID, _ := event.Data["agent_id"].(string)
	if agentID == "" {
		return nil
	}
	taskID, _ := event.Data["task_id"].(string)

	update := Update{AgentID: agentID}
	switch event.Type {
	case events.TaskClaimed:
		working := v1.AgentStatusWorking
		update.Status = &working
		update.CurrentTaskID = &taskID
	case events.TaskCompleted, events.TaskFailed:
		idle := v1.AgentStatusIdle
		update.Status = &idle
		update.ClearTask = true
	case events.TaskEnqueued:
		// Counter-only change; the snapshot re-reads stats.
	default:
		return nil
	}
	t.Apply(update)

	// Enqueues only move counters, which applyLocked cannot observe. Force
	// the dirty flag so the snapshot still goes out.
	if event.Type == events.TaskEnqueued {
		t.mu.Lock()
		if _, ok := t.states[agentID]; ok {
			t.dirty = true
			t.armTimerLocked()
		}
		t.mu.Unlock()
	}
	return nil
}

// handleAgentEvent reacts to explicit worker status reports.
func (t *Tracker) handleAgentEvent(_ context.Context, event *bus.Event) error {
	if event.Type != events.AgentStatus && event.Type != events.AgentError {
		return nil
	}
	agentID, _ := event.Data["agent_id"].(string)
	if agentID == "" {
		return nil
	}

	update := Update{AgentID: agentID, Heartbeat: true}
	if event.Type == events.AgentError {
		errStatus := v1.AgentStatusError
		update.Status = &errStatus
	} else if raw, ok := event.Data["status"].(string); ok {
		status := v1.AgentStatus(raw)
		update.Status = &status
	}
	if taskID, ok := event.Data["task_id"].(string); ok && taskID != "" {
		update.CurrentTaskID = &taskID
	}
	t.Apply(update)
	return nil
}
