// Package dispatch implements task distribution: queueing, topology-aware
// assignment, retries, and reassignment away from unreachable agents.
package dispatch

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/domain/agent"
	"github.com/hivemesh/swarmcore/internal/domain/task"
	"github.com/hivemesh/swarmcore/internal/infrastructure/messaging"
	"github.com/hivemesh/swarmcore/internal/infrastructure/topology"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// timeoutReason marks attempts that outlived the per-attempt deadline.
const timeoutReason = "timeout"

// Engine owns the task table and the pending queue. Assignment is
// plan-then-commit: candidates are computed from a registry snapshot
// without holding the engine lock across registry calls, and the
// registry's capacity check arbitrates races at commit time.
type Engine struct {
	mu         sync.Mutex
	tasks      map[string]*shared.Task
	exclusions map[string]map[string]struct{}
	timers     map[string]*time.Timer
	topo       shared.Topology
	strategy   topology.Strategy

	pending  *messaging.PendingQueue
	registry *agent.Registry
	cfg      config.DispatchConfig
	logger   *zap.Logger
	clock    func() int64
	kick     chan struct{}

	onAssigned  func(shared.Task)
	onCompleted func(shared.Task, shared.TaskResult)
	onFailed    func(shared.Task)
	onCancelled func(shared.Task)
}

// NewEngine creates a dispatch engine routing under the given strategy.
func NewEngine(registry *agent.Registry, strat topology.Strategy, cfg config.DispatchConfig, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	if strat == nil {
		strat = topology.NewMesh()
	}
	return &Engine{
		tasks:      make(map[string]*shared.Task),
		exclusions: make(map[string]map[string]struct{}),
		timers:     make(map[string]*time.Timer),
		topo:       shared.Topology{Kind: strat.Kind()},
		strategy:   strat,
		pending:    messaging.NewPendingQueue(),
		registry:   registry,
		cfg:        cfg,
		logger:     logger,
		clock:      shared.Now,
		kick:       make(chan struct{}, 1),
	}
}

// SetClock overrides the time source. Intended for tests.
func (e *Engine) SetClock(clock func() int64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.clock = clock
}

// SetOnAssigned registers the callback fired after a task is assigned.
// All engine callbacks run outside the engine lock.
func (e *Engine) SetOnAssigned(fn func(shared.Task)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onAssigned = fn
}

// SetOnCompleted registers the callback fired when a task completes.
func (e *Engine) SetOnCompleted(fn func(shared.Task, shared.TaskResult)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCompleted = fn
}

// SetOnFailed registers the callback fired when a task goes terminal Failed.
func (e *Engine) SetOnFailed(fn func(shared.Task)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onFailed = fn
}

// SetOnCancelled registers the callback fired when a task is cancelled.
func (e *Engine) SetOnCancelled(fn func(shared.Task)) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.onCancelled = fn
}

// Submit validates and enqueues a task. Submissions beyond the queue
// bound fail with ErrQueueSaturated instead of buffering unbounded.
// Submit does not schedule an assignment pass; the caller kicks the
// engine once the submission has been published, which keeps the
// submitted event ahead of the assignment in the audit trail.
func (e *Engine) Submit(cfg task.Config) (shared.Task, error) {
	t, err := task.New(cfg)
	if err != nil {
		return shared.Task{}, err
	}

	e.mu.Lock()
	if _, exists := e.tasks[t.ID]; exists {
		e.mu.Unlock()
		return shared.Task{}, fmt.Errorf("task %s already submitted", t.ID)
	}
	if e.pending.Len() >= e.cfg.MaxQueueDepth {
		e.mu.Unlock()
		return shared.Task{}, fmt.Errorf("%w: depth %d", shared.ErrQueueSaturated, e.cfg.MaxQueueDepth)
	}
	stored := t
	e.tasks[t.ID] = &stored
	e.pending.Push(t.ID, t.Priority)
	e.mu.Unlock()

	e.logger.Debug("task submitted",
		zap.String("taskId", t.ID),
		zap.Strings("capabilities", t.Capabilities),
		zap.String("priority", string(t.Priority)))
	return shared.CloneTask(t), nil
}

// Kick schedules an assignment pass on the Run loop.
func (e *Engine) Kick() {
	select {
	case e.kick <- struct{}{}:
	default:
	}
}

// Run drives assignment passes until the context is cancelled. A slow
// ticker backstops missed kicks.
func (e *Engine) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-e.kick:
			e.AssignPending()
		case <-ticker.C:
			e.AssignPending()
		}
	}
}

// AssignPending walks the pending queue in priority order and assigns
// every task that has a candidate. Tasks without candidates stay queued.
func (e *Engine) AssignPending() int {
	snapshot := e.registry.Snapshot(nil)
	loads := make(map[string]*shared.AgentInfo, len(snapshot))
	for i := range snapshot {
		loads[snapshot[i].ID] = &snapshot[i]
	}

	assigned := 0
	for _, taskID := range e.pending.List() {
		if e.assignOne(taskID, snapshot, loads) {
			assigned++
		}
	}
	return assigned
}

// assignOne attempts a single plan-then-commit assignment. The local
// snapshot is advanced on success so later tasks in the same pass see
// the added load.
func (e *Engine) assignOne(taskID string, snapshot []shared.AgentInfo, loads map[string]*shared.AgentInfo) bool {
	e.mu.Lock()
	t, exists := e.tasks[taskID]
	if !exists || t.Status != shared.TaskStatusPending {
		e.mu.Unlock()
		return false
	}
	planVersion := e.topo.Version
	candidates := e.strategy.Route(e.topo, *t, snapshot)
	if excluded := e.exclusions[taskID]; len(excluded) > 0 {
		kept := candidates[:0]
		for _, id := range candidates {
			if _, skip := excluded[id]; !skip {
				kept = append(kept, id)
			}
		}
		candidates = kept
	}
	e.mu.Unlock()

	sortByLoad(candidates, loads)

	for _, agentID := range candidates {
		if err := e.registry.AddLoad(agentID, 1); err != nil {
			continue // lost the race or agent went away, try next
		}
		if e.commitAssignment(taskID, agentID, planVersion) {
			if a := loads[agentID]; a != nil {
				a.Load++
			}
			return true
		}
		// Task or topology changed between plan and commit; give the
		// slot back and let the next pass re-plan.
		_ = e.registry.AddLoad(agentID, -1)
		return false
	}
	return false
}

// commitAssignment finalizes an assignment if the task is still pending
// and the topology the plan was routed under has not been superseded.
func (e *Engine) commitAssignment(taskID, agentID string, planVersion int64) bool {
	e.mu.Lock()
	t, exists := e.tasks[taskID]
	if !exists || t.Status != shared.TaskStatusPending || e.topo.Version != planVersion {
		e.mu.Unlock()
		return false
	}

	t.Status = shared.TaskStatusAssigned
	t.AssignedTo = agentID
	t.UpdatedAt = e.clock()
	e.pending.Remove(taskID)
	if aware, ok := e.strategy.(topology.AssignmentAware); ok {
		aware.NoteAssigned(agentID)
	}
	e.armTimerLocked(t.ID, agentID)
	out := shared.CloneTask(*t)
	fn := e.onAssigned
	e.mu.Unlock()

	e.logger.Debug("task assigned",
		zap.String("taskId", taskID),
		zap.String("agentId", agentID))
	if fn != nil {
		fn(out)
	}
	return true
}

// MarkRunning records that the assigned agent started executing.
func (e *Engine) MarkRunning(taskID, agentID string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, exists := e.tasks[taskID]
	if !exists {
		return fmt.Errorf("%w: %s", shared.ErrUnknownTask, taskID)
	}
	if t.AssignedTo != agentID || t.Status != shared.TaskStatusAssigned {
		return fmt.Errorf("task %s is %s, not assigned to %s", taskID, t.Status, agentID)
	}
	t.Status = shared.TaskStatusRunning
	t.UpdatedAt = e.clock()
	return nil
}

// ReportResult records an agent-reported outcome. Reports on terminal
// tasks and reports from an agent the task is no longer assigned to are
// ignored, so stale deliveries after a reassignment cannot corrupt state.
func (e *Engine) ReportResult(res shared.TaskResult) error {
	e.mu.Lock()
	t, exists := e.tasks[res.TaskID]
	if !exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownTask, res.TaskID)
	}
	if t.Status.IsTerminal() {
		e.mu.Unlock()
		return nil
	}
	if t.AssignedTo != res.AgentID ||
		(t.Status != shared.TaskStatusAssigned && t.Status != shared.TaskStatusRunning) {
		e.mu.Unlock()
		return nil
	}

	if !res.Success {
		reason := res.Error
		if reason == "" {
			reason = "agent reported failure"
		}
		e.failLocked(t, res.AgentID, reason)
		return nil
	}

	t.Status = shared.TaskStatusCompleted
	t.UpdatedAt = e.clock()
	e.stopTimerLocked(t.ID)
	out := shared.CloneTask(*t)
	fn := e.onCompleted
	e.mu.Unlock()

	_ = e.registry.AddLoad(res.AgentID, -1)
	e.logger.Debug("task completed",
		zap.String("taskId", res.TaskID),
		zap.String("agentId", res.AgentID))
	if fn != nil {
		fn(out, res)
	}
	e.Kick()
	return nil
}

// ReportFailure records an agent-reported failure for its current
// assignment. The attempt counts against the retry budget.
func (e *Engine) ReportFailure(taskID, agentID, reason string) error {
	e.mu.Lock()
	t, exists := e.tasks[taskID]
	if !exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownTask, taskID)
	}
	if t.Status.IsTerminal() {
		e.mu.Unlock()
		return nil
	}
	if t.AssignedTo != agentID ||
		(t.Status != shared.TaskStatusAssigned && t.Status != shared.TaskStatusRunning) {
		e.mu.Unlock()
		return nil
	}
	if reason == "" {
		reason = "agent reported failure"
	}
	e.failLocked(t, agentID, reason)
	return nil
}

// failLocked handles one failed attempt: the failing agent is excluded
// from future attempts and the task either requeues or, once retries are
// exhausted, goes terminal Failed. Takes the engine lock held, releases it.
func (e *Engine) failLocked(t *shared.Task, agentID, reason string) {
	t.Retries++
	if e.exclusions[t.ID] == nil {
		e.exclusions[t.ID] = make(map[string]struct{})
	}
	e.exclusions[t.ID][agentID] = struct{}{}
	e.stopTimerLocked(t.ID)
	t.UpdatedAt = e.clock()

	terminal := t.Retries > e.cfg.MaxRetries
	if terminal {
		t.Status = shared.TaskStatusFailed
		t.FailureReason = reason
	} else {
		t.Status = shared.TaskStatusPending
		t.AssignedTo = ""
		e.pending.Push(t.ID, t.Priority)
	}
	out := shared.CloneTask(*t)
	fn := e.onFailed
	e.mu.Unlock()

	_ = e.registry.AddLoad(agentID, -1)
	e.logger.Debug("task attempt failed",
		zap.String("taskId", out.ID),
		zap.String("agentId", agentID),
		zap.String("reason", reason),
		zap.Int("retries", out.Retries),
		zap.Bool("terminal", terminal))
	if terminal && fn != nil {
		fn(out)
	}
	e.Kick()
}

// HandleUnreachable requeues every task held by an agent that went
// unreachable. Forced reassignment is not the task's fault: the retry
// count does not move, and the work goes to the front of its tier.
func (e *Engine) HandleUnreachable(agentID string) []shared.Task {
	e.mu.Lock()
	requeued := make([]shared.Task, 0)
	for _, t := range e.tasks {
		if t.AssignedTo != agentID {
			continue
		}
		if t.Status != shared.TaskStatusAssigned && t.Status != shared.TaskStatusRunning {
			continue
		}
		t.Status = shared.TaskStatusPending
		t.AssignedTo = ""
		t.UpdatedAt = e.clock()
		e.stopTimerLocked(t.ID)
		e.pending.PushFront(t.ID, t.Priority)
		requeued = append(requeued, shared.CloneTask(*t))
	}
	e.mu.Unlock()

	sort.Slice(requeued, func(i, j int) bool { return requeued[i].ID < requeued[j].ID })
	if len(requeued) > 0 {
		e.logger.Info("requeued tasks from unreachable agent",
			zap.String("agentId", agentID),
			zap.Int("count", len(requeued)))
		e.Kick()
	}
	return requeued
}

// Cancel stops a task wherever it is in its lifecycle. Cancelling an
// already-cancelled task is a no-op; other terminal states refuse.
func (e *Engine) Cancel(taskID string) error {
	e.mu.Lock()
	t, exists := e.tasks[taskID]
	if !exists {
		e.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownTask, taskID)
	}
	if t.Status == shared.TaskStatusCancelled {
		e.mu.Unlock()
		return nil
	}
	if t.Status.IsTerminal() {
		status := t.Status
		e.mu.Unlock()
		return fmt.Errorf("task %s is already %s", taskID, status)
	}

	assignee := t.AssignedTo
	t.Status = shared.TaskStatusCancelled
	t.AssignedTo = ""
	t.UpdatedAt = e.clock()
	e.pending.Remove(taskID)
	e.stopTimerLocked(taskID)
	out := shared.CloneTask(*t)
	fn := e.onCancelled
	e.mu.Unlock()

	if assignee != "" {
		_ = e.registry.AddLoad(assignee, -1)
	}
	if fn != nil {
		fn(out)
	}
	e.Kick()
	return nil
}

// ApplyTopology swaps the routing strategy. In-flight assignments keep
// running under their original agents; only future routing changes.
func (e *Engine) ApplyTopology(topo shared.Topology, strat topology.Strategy) {
	e.mu.Lock()
	e.topo = topo
	e.strategy = strat
	e.mu.Unlock()

	e.logger.Info("topology applied",
		zap.String("kind", string(topo.Kind)),
		zap.Int64("version", topo.Version))
	e.Kick()
}

// Topology returns the topology routing is currently under.
func (e *Engine) Topology() shared.Topology {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.topo
}

// Get returns a copy of a task.
func (e *Engine) Get(taskID string) (shared.Task, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	t, exists := e.tasks[taskID]
	if !exists {
		return shared.Task{}, fmt.Errorf("%w: %s", shared.ErrUnknownTask, taskID)
	}
	return shared.CloneTask(*t), nil
}

// List returns copies of all tasks, sorted by id.
func (e *Engine) List() []shared.Task {
	e.mu.Lock()
	out := make([]shared.Task, 0, len(e.tasks))
	for _, t := range e.tasks {
		out = append(out, shared.CloneTask(*t))
	}
	e.mu.Unlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Stats returns task counts by status plus the pending queue depth.
func (e *Engine) Stats() (map[shared.TaskStatus]int, int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	counts := make(map[shared.TaskStatus]int)
	for _, t := range e.tasks {
		counts[t.Status]++
	}
	return counts, e.pending.Len()
}

// Close stops all attempt timers.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()

	for id, timer := range e.timers {
		timer.Stop()
		delete(e.timers, id)
	}
}

// armTimerLocked starts the per-attempt deadline for a new assignment.
func (e *Engine) armTimerLocked(taskID, agentID string) {
	if e.cfg.AttemptTimeout <= 0 {
		return
	}
	if old, ok := e.timers[taskID]; ok {
		old.Stop()
	}
	e.timers[taskID] = time.AfterFunc(e.cfg.AttemptTimeout, func() {
		e.timeout(taskID, agentID)
	})
}

func (e *Engine) stopTimerLocked(taskID string) {
	if timer, ok := e.timers[taskID]; ok {
		timer.Stop()
		delete(e.timers, taskID)
	}
}

// timeout fails an attempt that outlived the per-attempt deadline. The
// agent id captured at arm time guards against firing on a newer
// assignment of the same task.
func (e *Engine) timeout(taskID, agentID string) {
	e.mu.Lock()
	t, exists := e.tasks[taskID]
	if !exists || t.AssignedTo != agentID ||
		(t.Status != shared.TaskStatusAssigned && t.Status != shared.TaskStatusRunning) {
		e.mu.Unlock()
		return
	}
	e.failLocked(t, agentID, timeoutReason)
}

// sortByLoad orders candidate ids least-loaded first, ties by id. Ids
// missing from the snapshot sort last.
func sortByLoad(candidates []string, loads map[string]*shared.AgentInfo) {
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := loads[candidates[i]], loads[candidates[j]]
		if a == nil || b == nil {
			return b == nil && a != nil
		}
		if a.Load != b.Load {
			return a.Load < b.Load
		}
		return a.ID < b.ID
	})
}
