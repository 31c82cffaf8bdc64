package agent

import (
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// Filter narrows a registry snapshot. Zero value matches every agent.
type Filter struct {
	Statuses   []shared.AgentStatus
	Capability string
	QueensOnly bool
}

func (f *Filter) matches(a *shared.AgentInfo) bool {
	if f == nil {
		return true
	}
	if f.QueensOnly && !a.Queen {
		return false
	}
	if f.Capability != "" && !a.HasCapabilities([]string{f.Capability}) {
		return false
	}
	if len(f.Statuses) > 0 {
		found := false
		for _, s := range f.Statuses {
			if a.Status == s {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// Registry tracks all registered agents. Other components hold only id
// references; every view handed out is a point-in-time copy.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*shared.AgentInfo

	cfg            config.RegistryConfig
	defaultMaxLoad int
	logger         *zap.Logger
	clock          func() int64

	onTransition func(Transition)
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.RegistryConfig, defaultMaxLoad int, logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	if defaultMaxLoad < 1 {
		defaultMaxLoad = 1
	}
	return &Registry{
		agents:         make(map[string]*shared.AgentInfo),
		cfg:            cfg,
		defaultMaxLoad: defaultMaxLoad,
		logger:         logger,
		clock:          shared.Now,
	}
}

// SetClock overrides the time source. Intended for tests.
func (r *Registry) SetClock(clock func() int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.clock = clock
}

// SetOnTransition registers the callback invoked after a status change
// is applied. The callback runs outside the registry lock.
func (r *Registry) SetOnTransition(fn func(Transition)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.onTransition = fn
}

// Register adds an agent with status Idle and zero load.
func (r *Registry) Register(cfg shared.AgentConfig) (string, error) {
	id := cfg.ID
	if id == "" {
		id = uuid.New().String()
	}

	r.mu.Lock()
	if _, exists := r.agents[id]; exists {
		r.mu.Unlock()
		return "", fmt.Errorf("%w: %s", shared.ErrDuplicateAgent, id)
	}

	maxLoad := cfg.MaxLoad
	if maxLoad < 1 {
		maxLoad = r.defaultMaxLoad
	}
	now := r.clock()
	r.agents[id] = &shared.AgentInfo{
		ID:            id,
		Capabilities:  shared.CloneStrings(cfg.Capabilities),
		Status:        shared.AgentStatusIdle,
		Load:          0,
		MaxLoad:       maxLoad,
		Queen:         cfg.Queen,
		LastHeartbeat: now,
		RegisteredAt:  now,
	}
	r.mu.Unlock()

	r.logger.Debug("agent registered",
		zap.String("agentId", id),
		zap.Strings("capabilities", cfg.Capabilities),
		zap.Bool("queen", cfg.Queen))
	return id, nil
}

// Deregister retires an agent. Retired agents are never routed to again.
func (r *Registry) Deregister(agentID string) error {
	return r.UpdateStatus(agentID, shared.AgentStatusRetired)
}

// Heartbeat records a liveness beat. A beat from an unreachable agent
// restores it to Idle with zero load; any tasks it held were already
// reassigned when it went unreachable.
func (r *Registry) Heartbeat(agentID string, ts int64) error {
	r.mu.Lock()
	a, exists := r.agents[agentID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownAgent, agentID)
	}
	if a.Status == shared.AgentStatusRetired {
		r.mu.Unlock()
		return fmt.Errorf("%w: agent %s is retired", shared.ErrInvalidTransition, agentID)
	}

	if ts <= 0 {
		ts = r.clock()
	}
	a.LastHeartbeat = ts

	var tr *Transition
	if a.Status == shared.AgentStatusUnreachable {
		tr = &Transition{AgentID: agentID, From: a.Status, To: shared.AgentStatusIdle, At: ts}
		a.Status = shared.AgentStatusIdle
		a.Load = 0
	}
	fn := r.onTransition
	r.mu.Unlock()

	if tr != nil && fn != nil {
		fn(*tr)
	}
	return nil
}

// UpdateStatus applies a validated status transition.
func (r *Registry) UpdateStatus(agentID string, status shared.AgentStatus) error {
	r.mu.Lock()
	a, exists := r.agents[agentID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownAgent, agentID)
	}
	if !ValidTransition(a.Status, status) {
		from := a.Status
		r.mu.Unlock()
		return fmt.Errorf("%w: %s -> %s", shared.ErrInvalidTransition, from, status)
	}
	if a.Status == status {
		r.mu.Unlock()
		return nil
	}

	tr := Transition{AgentID: agentID, From: a.Status, To: status, At: r.clock()}
	a.Status = status
	if status == shared.AgentStatusUnreachable || status == shared.AgentStatusRetired {
		a.Load = 0
	}
	fn := r.onTransition
	r.mu.Unlock()

	if fn != nil {
		fn(tr)
	}
	return nil
}

// AddLoad adjusts an agent's assignment count and mediates the
// Idle<->Busy flip. A positive delta fails when the agent has no
// remaining capacity, so assignment races resolve safely.
func (r *Registry) AddLoad(agentID string, delta int) error {
	r.mu.Lock()
	a, exists := r.agents[agentID]
	if !exists {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", shared.ErrUnknownAgent, agentID)
	}
	if a.Status != shared.AgentStatusIdle && a.Status != shared.AgentStatusBusy {
		r.mu.Unlock()
		return fmt.Errorf("%w: agent %s is %s", shared.ErrInvalidTransition, agentID, a.Status)
	}
	if delta > 0 && a.Load+delta > a.MaxLoad {
		r.mu.Unlock()
		return fmt.Errorf("agent %s is at capacity (%d/%d)", agentID, a.Load, a.MaxLoad)
	}

	a.Load += delta
	if a.Load < 0 {
		a.Load = 0
	}

	var tr *Transition
	if a.Load > 0 && a.Status == shared.AgentStatusIdle {
		tr = &Transition{AgentID: agentID, From: a.Status, To: shared.AgentStatusBusy, At: r.clock()}
		a.Status = shared.AgentStatusBusy
	} else if a.Load == 0 && a.Status == shared.AgentStatusBusy {
		tr = &Transition{AgentID: agentID, From: a.Status, To: shared.AgentStatusIdle, At: r.clock()}
		a.Status = shared.AgentStatusIdle
	}
	fn := r.onTransition
	r.mu.Unlock()

	if tr != nil && fn != nil {
		fn(*tr)
	}
	return nil
}

// PromoteQueen marks an agent eligible to vote in consensus proposals.
func (r *Registry) PromoteQueen(agentID string) error {
	return r.setQueen(agentID, true)
}

// DemoteQueen removes an agent's consensus eligibility.
func (r *Registry) DemoteQueen(agentID string) error {
	return r.setQueen(agentID, false)
}

func (r *Registry) setQueen(agentID string, queen bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, exists := r.agents[agentID]
	if !exists {
		return fmt.Errorf("%w: %s", shared.ErrUnknownAgent, agentID)
	}
	if a.Status == shared.AgentStatusRetired {
		return fmt.Errorf("%w: agent %s is retired", shared.ErrInvalidTransition, agentID)
	}
	a.Queen = queen
	return nil
}

// Get returns a copy of a single agent.
func (r *Registry) Get(agentID string) (shared.AgentInfo, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, exists := r.agents[agentID]
	if !exists {
		return shared.AgentInfo{}, false
	}
	return shared.CloneAgentInfo(*a), true
}

// Snapshot returns a point-in-time copy of agents matching the filter,
// sorted by id. Callers must not assume it remains valid under
// concurrent mutation.
func (r *Registry) Snapshot(filter *Filter) []shared.AgentInfo {
	r.mu.RLock()
	out := make([]shared.AgentInfo, 0, len(r.agents))
	for _, a := range r.agents {
		if filter.matches(a) {
			out = append(out, shared.CloneAgentInfo(*a))
		}
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// LiveQueens returns the Queens considered reachable right now: not
// unreachable or retired, with a heartbeat inside the miss window.
// This is the voter set used for quorum computation.
func (r *Registry) LiveQueens() []shared.AgentInfo {
	r.mu.RLock()
	now := r.clock()
	window := int64(r.cfg.MissedThreshold) * r.cfg.HeartbeatInterval.Milliseconds()
	out := make([]shared.AgentInfo, 0)
	for _, a := range r.agents {
		if !a.Queen {
			continue
		}
		if a.Status == shared.AgentStatusUnreachable || a.Status == shared.AgentStatusRetired {
			continue
		}
		if now-a.LastHeartbeat > window {
			continue
		}
		out = append(out, shared.CloneAgentInfo(*a))
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Count returns the number of registered, non-retired agents.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	count := 0
	for _, a := range r.agents {
		if a.Status != shared.AgentStatusRetired {
			count++
		}
	}
	return count
}

// CountByStatus returns agent counts keyed by status.
func (r *Registry) CountByStatus() map[shared.AgentStatus]int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	counts := make(map[shared.AgentStatus]int)
	for _, a := range r.agents {
		counts[a.Status]++
	}
	return counts
}

// Sweep marks agents unreachable after the miss window and retires them
// after the grace period. Returns applied transitions in id order; the
// per-transition callback also fires for each.
func (r *Registry) Sweep(now int64) []Transition {
	if now <= 0 {
		now = r.clock()
	}
	missWindow := int64(r.cfg.MissedThreshold) * r.cfg.HeartbeatInterval.Milliseconds()
	graceWindow := missWindow + r.cfg.RetireGrace.Milliseconds()

	r.mu.Lock()
	transitions := make([]Transition, 0)
	for _, a := range r.agents {
		silent := now - a.LastHeartbeat
		switch a.Status {
		case shared.AgentStatusIdle, shared.AgentStatusBusy:
			if silent > missWindow {
				transitions = append(transitions, Transition{AgentID: a.ID, From: a.Status, To: shared.AgentStatusUnreachable, At: now})
				a.Status = shared.AgentStatusUnreachable
				a.Load = 0
			}
		case shared.AgentStatusUnreachable:
			if silent > graceWindow {
				transitions = append(transitions, Transition{AgentID: a.ID, From: a.Status, To: shared.AgentStatusRetired, At: now})
				a.Status = shared.AgentStatusRetired
			}
		}
	}
	fn := r.onTransition
	r.mu.Unlock()

	sort.Slice(transitions, func(i, j int) bool { return transitions[i].AgentID < transitions[j].AgentID })
	if fn != nil {
		for _, tr := range transitions {
			fn(tr)
		}
	}
	return transitions
}
