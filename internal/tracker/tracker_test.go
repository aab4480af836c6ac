package tracker

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/agentdesk/agentdesk/internal/common/logger"
	"github.com/agentdesk/agentdesk/internal/dispatch"
	"github.com/agentdesk/agentdesk/internal/events"
	"github.com/agentdesk/agentdesk/internal/events/bus"
	v1 "github.com/agentdesk/agentdesk/pkg/api/v1"
)

// fakeStats serves canned queue counters.
type fakeStats struct {
	mu    sync.Mutex
	stats map[string]dispatch.Stats
}

func (f *fakeStats) StatsAll(_ context.Context) (map[string]dispatch.Stats, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]dispatch.Stats, len(f.stats))
	for k, v := range f.stats {
		out[k] = v
	}
	return out, nil
}

func (f *fakeStats) set(agentID string, stats dispatch.Stats) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stats == nil {
		f.stats = make(map[string]dispatch.Stats)
	}
	f.stats[agentID] = stats
}

type stateCollector struct {
	mu        sync.Mutex
	snapshots [][]v1.AgentState
}

func (c *stateCollector) handle(_ context.Context, event *bus.Event) error {
	raw, ok := event.Data["agents"].([]v1.AgentState)
	if !ok {
		return nil
	}
	c.mu.Lock()
	c.snapshots = append(c.snapshots, raw)
	c.mu.Unlock()
	return nil
}

func (c *stateCollector) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.snapshots)
}

func (c *stateCollector) last() []v1.AgentState {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.snapshots) == 0 {
		return nil
	}
	return c.snapshots[len(c.snapshots)-1]
}

func (c *stateCollector) waitForCount(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if c.count() >= n {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %d snapshots, have %d", n, c.count())
}

func findState(states []v1.AgentState, agentID string) *v1.AgentState {
	for i := range states {
		if states[i].AgentID == agentID {
			return &states[i]
		}
	}
	return nil
}

func newTestTracker(t *testing.T, stats StatsProvider) (*Tracker, *stateCollector, *bus.MemoryEventBus) {
	t.Helper()
	log := logger.Default()
	memBus := bus.NewMemoryEventBus(log)
	t.Cleanup(memBus.Close)

	collector := &stateCollector{}
	if _, err := memBus.Subscribe(events.SubjectAgentsState, collector.handle); err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	tr := New(memBus, stats, 20*time.Millisecond, 2*time.Second, log)
	if err := tr.Start(); err != nil {
		t.Fatalf("start tracker: %v", err)
	}
	t.Cleanup(tr.Stop)
	return tr, collector, memBus
}

func TestTracker_DebounceCoalesces(t *testing.T) {
	tr, collector, _ := newTestTracker(t, &fakeStats{})

	// A burst of mutations inside the group window yields one broadcast.
	working := v1.AgentStatusWorking
	idle := v1.AgentStatusIdle
	for i := 0; i < 5; i++ {
		status := working
		if i%2 == 1 {
			status = idle
		}
		tr.Apply(Update{AgentID: "a1", Status: &status})
		time.Sleep(2 * time.Millisecond)
	}

	collector.waitForCount(t, 1)
	time.Sleep(100 * time.Millisecond)
	if got := collector.count(); got != 1 {
		t.Errorf("expected 1 coalesced broadcast, got %d", got)
	}

	state := findState(collector.last(), "a1")
	if state == nil {
		t.Fatal("a1 missing from snapshot")
	}
}

func TestTracker_BatchApplySingleBroadcast(t *testing.T) {
	tr, collector, _ := newTestTracker(t, &fakeStats{})

	working := v1.AgentStatusWorking
	tr.BatchApply([]Update{
		{AgentID: "a1", Status: &working},
		{AgentID: "a2", Status: &working},
		{AgentID: "a3", Status: &working},
	})

	collector.waitForCount(t, 1)
	time.Sleep(100 * time.Millisecond)
	if got := collector.count(); got != 1 {
		t.Errorf("expected 1 broadcast for the batch, got %d", got)
	}
	if len(collector.last()) != 3 {
		t.Errorf("expected 3 agents in snapshot, got %d", len(collector.last()))
	}
}

func TestTracker_DerivedOffline(t *testing.T) {
	stats := &fakeStats{}
	tr, collector, _ := newTestTracker(t, stats)

	tr.SetOnline("a1", true)
	collector.waitForCount(t, 1)
	state := findState(collector.last(), "a1")
	if state == nil || state.Status != v1.AgentStatusIdle || !state.ServiceOnline {
		t.Fatalf("expected online idle agent, got %+v", state)
	}

	// Disconnect with nothing processing: the agent projects offline.
	tr.SetOnline("a1", false)
	collector.waitForCount(t, 2)
	state = findState(collector.last(), "a1")
	if state == nil || state.Status != v1.AgentStatusOffline {
		t.Fatalf("expected offline projection, got %+v", state)
	}
}

func TestTracker_WorkingSurvivesReconnectWindow(t *testing.T) {
	stats := &fakeStats{}
	stats.set("a1", dispatch.Stats{Processing: 1})
	tr, collector, _ := newTestTracker(t, stats)

	working := v1.AgentStatusWorking
	online := true
	tr.Apply(Update{AgentID: "a1", ServiceOnline: &online, Status: &working})
	collector.waitForCount(t, 1)

	// Transport dropped mid-task: status stays working, not offline, because
	// a processing row still exists for the agent.
	tr.SetOnline("a1", false)
	collector.waitForCount(t, 2)
	state := findState(collector.last(), "a1")
	if state == nil {
		t.Fatal("a1 missing")
	}
	if state.Status != v1.AgentStatusWorking {
		t.Errorf("expected working during reconnect window, got %s", state.Status)
	}
	if state.ServiceOnline {
		t.Error("service_online must be false after disconnect")
	}
}

func TestTracker_TaskEventsDriveStatus(t *testing.T) {
	stats := &fakeStats{}
	tr, collector, memBus := newTestTracker(t, stats)
	ctx := context.Background()

	tr.SetOnline("a1", true)
	collector.waitForCount(t, 1)

	err := memBus.Publish(ctx, events.SubjectTasks, bus.NewEvent(events.TaskClaimed, "test", map[string]interface{}{
		"agent_id": "a1",
		"task_id":  "t1",
		"status":   "processing",
	}))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	collector.waitForCount(t, 2)
	state := findState(collector.last(), "a1")
	if state == nil || state.Status != v1.AgentStatusWorking {
		t.Fatalf("expected working after claim, got %+v", state)
	}
	if state.CurrentTaskID == nil || *state.CurrentTaskID != "t1" {
		t.Errorf("expected current task t1, got %v", state.CurrentTaskID)
	}

	err = memBus.Publish(ctx, events.SubjectTasks, bus.NewEvent(events.TaskCompleted, "test", map[string]interface{}{
		"agent_id": "a1",
		"task_id":  "t1",
		"status":   "completed",
	}))
	if err != nil {
		t.Fatalf("publish: %v", err)
	}
	collector.waitForCount(t, 3)
	state = findState(collector.last(), "a1")
	if state == nil || state.Status != v1.AgentStatusIdle {
		t.Fatalf("expected idle after completion, got %+v", state)
	}
	if state.CurrentTaskID != nil {
		t.Errorf("expected current task cleared, got %v", state.CurrentTaskID)
	}
}

func TestTracker_StatsEnrichment(t *testing.T) {
	stats := &fakeStats{}
	stats.set("a1", dispatch.Stats{Pending: 4, Completed: 9})
	tr, collector, _ := newTestTracker(t, stats)

	tr.SetOnline("a1", true)
	collector.waitForCount(t, 1)
	state := findState(collector.last(), "a1")
	if state == nil {
		t.Fatal("a1 missing")
	}
	if state.TaskStats.Pending != 4 || state.TaskStats.Completed != 9 {
		t.Errorf("expected fresh stats in snapshot, got %+v", state.TaskStats)
	}
}

func TestTracker_Throttle(t *testing.T) {
	tr, collector, _ := newTestTracker(t, &fakeStats{})
	ctx := context.Background()

	tr.SetOnline("a1", true)
	collector.waitForCount(t, 1)

	// The throttled path refuses a second broadcast inside the window.
	tr.ThrottledBroadcast(ctx)
	time.Sleep(50 * time.Millisecond)
	if got := collector.count(); got != 1 {
		t.Errorf("expected throttle to suppress broadcast, got %d", got)
	}
}

func TestTracker_GetAndGetAll(t *testing.T) {
	tr, _, _ := newTestTracker(t, &fakeStats{})

	if tr.Get("missing") != nil {
		t.Error("expected nil for untracked agent")
	}

	tr.SetOnline("a1", true)
	tr.SetOnline("a2", true)

	state := tr.Get("a1")
	if state == nil || !state.ServiceOnline {
		t.Fatalf("unexpected state: %+v", state)
	}
	// Mutating the copy must not leak into the tracker.
	state.ServiceOnline = false
	if !tr.Get("a1").ServiceOnline {
		t.Error("Get must return a copy")
	}

	all := tr.GetAll()
	if len(all) != 2 {
		t.Errorf("expected 2 agents, got %d", len(all))
	}
}
