package dispatch

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/domain/agent"
	"github.com/hivemesh/swarmcore/internal/domain/task"
	"github.com/hivemesh/swarmcore/internal/infrastructure/topology"
	"github.com/hivemesh/swarmcore/internal/shared"
)

func newTestEngine(t *testing.T, dispatchCfg *config.DispatchConfig) (*Engine, *agent.Registry) {
	t.Helper()
	cfg := config.Default()
	if dispatchCfg != nil {
		cfg.Dispatch = *dispatchCfg
	}
	cfg.Dispatch.AttemptTimeout = 0 // tests arm timeouts explicitly
	registry := agent.NewRegistry(cfg.Registry, cfg.Dispatch.DefaultAgentLoad, nil)
	e := NewEngine(registry, topology.NewMesh(), cfg.Dispatch, nil)
	t.Cleanup(e.Close)
	return e, registry
}

func register(t *testing.T, r *agent.Registry, id string, maxLoad int, caps ...string) {
	t.Helper()
	if _, err := r.Register(shared.AgentConfig{ID: id, Capabilities: caps, MaxLoad: maxLoad}); err != nil {
		t.Fatalf("Register(%s) error: %v", id, err)
	}
}

func submit(t *testing.T, e *Engine, id string, priority shared.TaskPriority, caps ...string) shared.Task {
	t.Helper()
	tk, err := e.Submit(task.Config{ID: id, Capabilities: caps, Priority: priority})
	if err != nil {
		t.Fatalf("Submit(%s) error: %v", id, err)
	}
	return tk
}

func TestAssignPicksLeastLoadedThenLowestID(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 2, "build")
	register(t, r, "a2", 2, "build")
	register(t, r, "a3", 2, "build")

	// a2 starts with one assignment's worth of load.
	if err := r.AddLoad("a2", 1); err != nil {
		t.Fatalf("AddLoad() error: %v", err)
	}

	submit(t, e, "t1", shared.PriorityMedium, "build")
	if n := e.AssignPending(); n != 1 {
		t.Fatalf("AssignPending() = %d, want 1", n)
	}

	got, _ := e.Get("t1")
	if got.Status != shared.TaskStatusAssigned || got.AssignedTo != "a1" {
		t.Fatalf("task = %s/%s, want assigned to a1 (least loaded, lowest id)", got.Status, got.AssignedTo)
	}
}

func TestAssignSpreadsLoadWithinOnePass(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 2, "build")
	register(t, r, "a2", 2, "build")

	for i := 1; i <= 4; i++ {
		submit(t, e, fmt.Sprintf("t%d", i), shared.PriorityMedium, "build")
	}
	if n := e.AssignPending(); n != 4 {
		t.Fatalf("AssignPending() = %d, want 4", n)
	}

	perAgent := map[string]int{}
	for _, tk := range e.List() {
		perAgent[tk.AssignedTo]++
	}
	if perAgent["a1"] != 2 || perAgent["a2"] != 2 {
		t.Fatalf("assignment spread = %v, want 2 per agent", perAgent)
	}
}

func TestAssignHonorsPriorityTiers(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 1, "build")

	submit(t, e, "t-low", shared.PriorityLow, "build")
	submit(t, e, "t-high", shared.PriorityHigh, "build")

	if n := e.AssignPending(); n != 1 {
		t.Fatalf("AssignPending() = %d, want 1", n)
	}
	high, _ := e.Get("t-high")
	low, _ := e.Get("t-low")
	if high.Status != shared.TaskStatusAssigned {
		t.Fatalf("high priority task = %s, want assigned first", high.Status)
	}
	if low.Status != shared.TaskStatusPending {
		t.Fatalf("low priority task = %s, want still pending", low.Status)
	}
}

func TestTaskWithoutCapableAgentStaysPending(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 1, "build")

	submit(t, e, "t1", shared.PriorityMedium, "deploy")
	if n := e.AssignPending(); n != 0 {
		t.Fatalf("AssignPending() = %d, want 0", n)
	}
	got, _ := e.Get("t1")
	if got.Status != shared.TaskStatusPending {
		t.Fatalf("status = %s, want pending", got.Status)
	}

	// The capability arrives later; the task is picked up then.
	register(t, r, "a2", 1, "deploy")
	if n := e.AssignPending(); n != 1 {
		t.Fatalf("AssignPending() after join = %d, want 1", n)
	}
}

func TestSubmitRejectsWhenQueueSaturated(t *testing.T) {
	cfg := config.Default().Dispatch
	cfg.MaxQueueDepth = 2
	e, _ := newTestEngine(t, &cfg)

	submit(t, e, "t1", shared.PriorityMedium, "build")
	submit(t, e, "t2", shared.PriorityMedium, "build")

	_, err := e.Submit(task.Config{ID: "t3", Capabilities: []string{"build"}})
	if !errors.Is(err, shared.ErrQueueSaturated) {
		t.Fatalf("Submit() error = %v, want ErrQueueSaturated", err)
	}
}

func TestSubmitValidation(t *testing.T) {
	e, _ := newTestEngine(t, nil)

	if _, err := e.Submit(task.Config{}); err == nil {
		t.Fatal("Submit() accepted task without capability tags")
	}
	submit(t, e, "t1", shared.PriorityMedium, "build")
	if _, err := e.Submit(task.Config{ID: "t1", Capabilities: []string{"build"}}); err == nil {
		t.Fatal("Submit() accepted duplicate task id")
	}
}

func TestCompleteReleasesAgentCapacity(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 1, "build")

	var completed []string
	e.SetOnCompleted(func(tk shared.Task, _ shared.TaskResult) {
		completed = append(completed, tk.ID)
	})

	submit(t, e, "t1", shared.PriorityMedium, "build")
	e.AssignPending()

	if err := e.MarkRunning("t1", "a1"); err != nil {
		t.Fatalf("MarkRunning() error: %v", err)
	}
	if err := e.ReportResult(shared.TaskResult{TaskID: "t1", AgentID: "a1", Success: true}); err != nil {
		t.Fatalf("ReportResult() error: %v", err)
	}

	got, _ := e.Get("t1")
	if got.Status != shared.TaskStatusCompleted {
		t.Fatalf("status = %s, want completed", got.Status)
	}
	if len(completed) != 1 || completed[0] != "t1" {
		t.Fatalf("completed callback saw %v", completed)
	}

	a, _ := r.Get("a1")
	if a.Load != 0 || a.Status != shared.AgentStatusIdle {
		t.Fatalf("agent after completion = %s load %d, want idle 0", a.Status, a.Load)
	}
}

func TestRetryExcludesFailedAgentThenExhausts(t *testing.T) {
	cfg := config.Default().Dispatch
	cfg.MaxRetries = 1
	e, r := newTestEngine(t, &cfg)
	register(t, r, "a1", 1, "build")
	register(t, r, "a2", 1, "build")

	var failed []string
	e.SetOnFailed(func(tk shared.Task) { failed = append(failed, tk.ID) })

	submit(t, e, "t1", shared.PriorityMedium, "build")
	e.AssignPending()

	first, _ := e.Get("t1")
	if err := e.ReportFailure("t1", first.AssignedTo, "boom"); err != nil {
		t.Fatalf("ReportFailure() error: %v", err)
	}

	got, _ := e.Get("t1")
	if got.Status != shared.TaskStatusPending || got.Retries != 1 {
		t.Fatalf("after first failure: %s retries %d, want pending/1", got.Status, got.Retries)
	}

	e.AssignPending()
	second, _ := e.Get("t1")
	if second.AssignedTo == first.AssignedTo || second.AssignedTo == "" {
		t.Fatalf("retry assigned to %q, want the other agent", second.AssignedTo)
	}

	if err := e.ReportFailure("t1", second.AssignedTo, "boom again"); err != nil {
		t.Fatalf("ReportFailure() error: %v", err)
	}
	final, _ := e.Get("t1")
	if final.Status != shared.TaskStatusFailed || final.FailureReason != "boom again" {
		t.Fatalf("final = %s %q, want failed with last reason", final.Status, final.FailureReason)
	}
	if len(failed) != 1 || failed[0] != "t1" {
		t.Fatalf("failed callback saw %v", failed)
	}
}

func TestFailureViaUnsuccessfulResult(t *testing.T) {
	cfg := config.Default().Dispatch
	cfg.MaxRetries = 0
	e, r := newTestEngine(t, &cfg)
	register(t, r, "a1", 1, "build")

	submit(t, e, "t1", shared.PriorityMedium, "build")
	e.AssignPending()

	if err := e.ReportResult(shared.TaskResult{TaskID: "t1", AgentID: "a1", Error: "crashed"}); err != nil {
		t.Fatalf("ReportResult() error: %v", err)
	}
	got, _ := e.Get("t1")
	if got.Status != shared.TaskStatusFailed || got.FailureReason != "crashed" {
		t.Fatalf("task = %s %q, want failed/crashed", got.Status, got.FailureReason)
	}
}

func TestStaleReportsAreIgnored(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 1, "build")
	register(t, r, "a2", 1, "build")

	submit(t, e, "t1", shared.PriorityMedium, "build")
	e.AssignPending()

	// a1 goes unreachable; the task moves to a2.
	if err := r.UpdateStatus("a1", shared.AgentStatusUnreachable); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	e.HandleUnreachable("a1")
	e.AssignPending()

	got, _ := e.Get("t1")
	if got.AssignedTo != "a2" {
		t.Fatalf("reassigned to %q, want a2", got.AssignedTo)
	}

	// The old assignee's report arrives late and must not complete the task.
	if err := e.ReportResult(shared.TaskResult{TaskID: "t1", AgentID: "a1", Success: true}); err != nil {
		t.Fatalf("stale ReportResult() error: %v", err)
	}
	got, _ = e.Get("t1")
	if got.Status != shared.TaskStatusAssigned || got.AssignedTo != "a2" {
		t.Fatalf("after stale report: %s/%s, want still assigned to a2", got.Status, got.AssignedTo)
	}
}

func TestReportResultIdempotentOnTerminal(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 1, "build")

	submit(t, e, "t1", shared.PriorityMedium, "build")
	e.AssignPending()

	res := shared.TaskResult{TaskID: "t1", AgentID: "a1", Success: true}
	if err := e.ReportResult(res); err != nil {
		t.Fatalf("first ReportResult() error: %v", err)
	}
	if err := e.ReportResult(res); err != nil {
		t.Fatalf("repeat ReportResult() error: %v", err)
	}
	a, _ := r.Get("a1")
	if a.Load != 0 {
		t.Fatalf("agent load = %d after duplicate report, want 0", a.Load)
	}
}

func TestUnreachableRequeuesWithoutRetryIncrement(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 2, "build")

	submit(t, e, "t1", shared.PriorityMedium, "build")
	submit(t, e, "t2", shared.PriorityMedium, "build")
	e.AssignPending()

	if err := r.UpdateStatus("a1", shared.AgentStatusUnreachable); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	requeued := e.HandleUnreachable("a1")
	if len(requeued) != 2 {
		t.Fatalf("requeued %d tasks, want 2", len(requeued))
	}
	for _, tk := range requeued {
		if tk.Status != shared.TaskStatusPending || tk.Retries != 0 || tk.AssignedTo != "" {
			t.Fatalf("requeued task %+v, want pending with zero retries", tk)
		}
	}
}

func TestUnreachableRequeueGoesAheadOfNewWork(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 1, "build")

	submit(t, e, "t-old", shared.PriorityMedium, "build")
	e.AssignPending()
	submit(t, e, "t-new", shared.PriorityMedium, "build")

	if err := r.UpdateStatus("a1", shared.AgentStatusUnreachable); err != nil {
		t.Fatalf("UpdateStatus() error: %v", err)
	}
	e.HandleUnreachable("a1")

	register(t, r, "a2", 1, "build")
	e.AssignPending()

	old, _ := e.Get("t-old")
	fresh, _ := e.Get("t-new")
	if old.Status != shared.TaskStatusAssigned {
		t.Fatalf("displaced task = %s, want reassigned first", old.Status)
	}
	if fresh.Status != shared.TaskStatusPending {
		t.Fatalf("new task = %s, want still pending behind displaced work", fresh.Status)
	}
}

func TestCancelSemantics(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 1, "build")

	var cancelled []string
	e.SetOnCancelled(func(tk shared.Task) { cancelled = append(cancelled, tk.ID) })

	submit(t, e, "t1", shared.PriorityMedium, "build")
	e.AssignPending()
	if err := e.Cancel("t1"); err != nil {
		t.Fatalf("Cancel() error: %v", err)
	}
	if err := e.Cancel("t1"); err != nil {
		t.Fatalf("repeat Cancel() error: %v, want no-op", err)
	}
	a, _ := r.Get("a1")
	if a.Load != 0 {
		t.Fatalf("agent load = %d after cancel, want 0", a.Load)
	}
	if len(cancelled) != 1 {
		t.Fatalf("cancelled callback saw %v", cancelled)
	}

	// Completed tasks refuse cancellation.
	submit(t, e, "t2", shared.PriorityMedium, "build")
	e.AssignPending()
	if err := e.ReportResult(shared.TaskResult{TaskID: "t2", AgentID: "a1", Success: true}); err != nil {
		t.Fatalf("ReportResult() error: %v", err)
	}
	if err := e.Cancel("t2"); err == nil {
		t.Fatal("Cancel() accepted a completed task")
	}

	if err := e.Cancel("missing"); !errors.Is(err, shared.ErrUnknownTask) {
		t.Fatalf("Cancel(missing) error = %v", err)
	}
}

func TestAttemptTimeoutFailsAsTimeout(t *testing.T) {
	cfg := config.Default().Dispatch
	cfg.MaxRetries = 0
	e, r := newTestEngine(t, &cfg)
	e.cfg.AttemptTimeout = 20 * time.Millisecond
	register(t, r, "a1", 1, "build")

	submit(t, e, "t1", shared.PriorityMedium, "build")
	e.AssignPending()

	deadline := time.Now().Add(2 * time.Second)
	for {
		got, _ := e.Get("t1")
		if got.Status == shared.TaskStatusFailed {
			if got.FailureReason != timeoutReason {
				t.Fatalf("failure reason = %q, want %q", got.FailureReason, timeoutReason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("task never timed out, status %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func TestApplyTopologySwitchesRouting(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 4, "build")
	register(t, r, "q1", 4, "build")
	if err := r.PromoteQueen("q1"); err != nil {
		t.Fatalf("PromoteQueen() error: %v", err)
	}

	star := topology.NewStar()
	topo := star.Plan(r.Snapshot(nil), config.Default().Topology)
	topo.Version = 2
	e.ApplyTopology(topo, star)

	if got := e.Topology(); got.Kind != shared.TopologyStar || got.Version != 2 {
		t.Fatalf("Topology() = %+v, want star v2", got)
	}

	// Under star, everything lands on the hub.
	submit(t, e, "t1", shared.PriorityMedium, "build")
	submit(t, e, "t2", shared.PriorityMedium, "build")
	e.AssignPending()
	for _, id := range []string{"t1", "t2"} {
		got, _ := e.Get(id)
		if got.AssignedTo != "q1" {
			t.Fatalf("%s assigned to %q, want hub q1", id, got.AssignedTo)
		}
	}
}

func TestRingRoutingAlternatesAcrossAssignments(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 4, "build")
	register(t, r, "a2", 4, "build")

	ring := topology.NewRing()
	e.ApplyTopology(ring.Plan(r.Snapshot(nil), config.Default().Topology), ring)

	for i := 1; i <= 4; i++ {
		submit(t, e, fmt.Sprintf("t%d", i), shared.PriorityMedium, "build")
	}
	e.AssignPending()

	want := map[string]string{"t1": "a1", "t2": "a2", "t3": "a1", "t4": "a2"}
	for id, agentID := range want {
		got, _ := e.Get(id)
		if got.AssignedTo != agentID {
			t.Fatalf("%s assigned to %q, want %q", id, got.AssignedTo, agentID)
		}
	}
}

func TestStatsCountsByStatus(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 1, "build")

	submit(t, e, "t1", shared.PriorityMedium, "build")
	submit(t, e, "t2", shared.PriorityMedium, "build")
	e.AssignPending()

	counts, depth := e.Stats()
	if counts[shared.TaskStatusAssigned] != 1 || counts[shared.TaskStatusPending] != 1 {
		t.Fatalf("counts = %v", counts)
	}
	if depth != 1 {
		t.Fatalf("queue depth = %d, want 1", depth)
	}
}

func TestSubmitLeavesSchedulingToCaller(t *testing.T) {
	e, r := newTestEngine(t, nil)
	register(t, r, "a1", 2, "build")

	submit(t, e, "t1", shared.PriorityMedium, "build")

	// The caller publishes the submission first and kicks afterwards;
	// Submit itself must not wake the assign loop.
	select {
	case <-e.kick:
		t.Fatal("Submit() scheduled an assignment pass")
	default:
	}

	got, err := e.Get("t1")
	if err != nil {
		t.Fatalf("Get() error: %v", err)
	}
	if got.Status != shared.TaskStatusPending {
		t.Fatalf("status = %s, want pending until a pass runs", got.Status)
	}

	e.Kick()
	select {
	case <-e.kick:
	default:
		t.Fatal("Kick() did not schedule a pass")
	}
}
