// Package coordinator composes the registry, topology, dispatch, and
// consensus engines behind a single facade and emits the swarm's ordered
// lifecycle event stream.
package coordinator

import (
	"context"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/hivemesh/swarmcore/internal/application/consensus"
	"github.com/hivemesh/swarmcore/internal/application/dispatch"
	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/domain/agent"
	"github.com/hivemesh/swarmcore/internal/domain/task"
	"github.com/hivemesh/swarmcore/internal/infrastructure/events"
	"github.com/hivemesh/swarmcore/internal/infrastructure/journal"
	"github.com/hivemesh/swarmcore/internal/infrastructure/telemetry"
	"github.com/hivemesh/swarmcore/internal/infrastructure/topology"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// Status is a point-in-time summary of the swarm.
type Status struct {
	Agents     map[shared.AgentStatus]int `json:"agents"`
	Tasks      map[shared.TaskStatus]int  `json:"tasks"`
	QueueDepth int                        `json:"queueDepth"`
	LiveQueens int                        `json:"liveQueens"`
	Leader     string                     `json:"leader,omitempty"`
	Topology   shared.Topology            `json:"topology"`
}

// Swarm is the coordination facade. It is the only component that emits
// lifecycle events, so the stream reflects the order decisions were made.
type Swarm struct {
	registry  *agent.Registry
	sweeper   *agent.Sweeper
	dispatch  *dispatch.Engine
	consensus *consensus.Engine
	bus       *events.Bus
	journal   *journal.Store
	collector *telemetry.Collector

	cfg    config.Config
	logger *zap.Logger

	mu          sync.Mutex
	topoVersion int64
	leader      string
	cancel      context.CancelFunc
}

// Option configures a Swarm.
type Option func(*Swarm)

// WithMetrics registers Prometheus metrics with the given registerer.
func WithMetrics(reg prometheus.Registerer) Option {
	return func(s *Swarm) {
		s.collector = telemetry.NewCollector(reg)
	}
}

// New builds a swarm from configuration. The initial topology is a mesh
// at version 1; SwitchTopology moves off it.
func New(cfg config.Config, logger *zap.Logger, opts ...Option) (*Swarm, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	registry := agent.NewRegistry(cfg.Registry, cfg.Dispatch.DefaultAgentLoad, logger)
	s := &Swarm{
		registry:  registry,
		sweeper:   agent.NewSweeper(registry, cfg.Registry, logger),
		dispatch:  dispatch.NewEngine(registry, topology.NewMesh(), cfg.Dispatch, logger),
		consensus: consensus.NewEngine(registry, cfg.Consensus, logger),
		bus:       events.New(),
		cfg:       cfg,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if cfg.Journal.Path != "" {
		store, err := journal.Open(cfg.Journal.Path)
		if err != nil {
			return nil, err
		}
		s.journal = store
		s.bus.OnAll(func(e shared.Event) {
			if err := store.Append(e); err != nil {
				logger.Warn("journal append failed", zap.Error(err))
			}
		})
	}
	if s.collector != nil {
		s.bus.OnAll(s.collector.Observe)
	}

	s.mu.Lock()
	s.topoVersion = 1
	s.mu.Unlock()
	initial := shared.Topology{Kind: shared.TopologyMesh, Version: 1}
	s.dispatch.ApplyTopology(initial, topology.NewMesh())

	s.registry.SetOnTransition(s.onAgentTransition)
	s.consensus.SetOnResolved(s.onProposalResolved)
	s.dispatch.SetOnAssigned(func(t shared.Task) {
		s.emit(shared.EventTaskAssigned, t.ID, string(t.Status), map[string]interface{}{
			"agentId": t.AssignedTo,
		})
	})
	s.dispatch.SetOnCompleted(func(t shared.Task, res shared.TaskResult) {
		s.emit(shared.EventTaskCompleted, t.ID, string(t.Status), map[string]interface{}{
			"agentId":  res.AgentID,
			"duration": res.Duration,
		})
	})
	s.dispatch.SetOnFailed(func(t shared.Task) {
		s.emit(shared.EventTaskFailed, t.ID, string(t.Status), map[string]interface{}{
			"reason":  t.FailureReason,
			"retries": t.Retries,
		})
	})
	s.dispatch.SetOnCancelled(func(t shared.Task) {
		s.emit(shared.EventTaskCancelled, t.ID, string(t.Status), nil)
	})
	return s, nil
}

// Start launches the background loops: the health sweeper and the
// dispatch assignment loop.
func (s *Swarm) Start(ctx context.Context) {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()

	go s.sweeper.Run(ctx)
	go s.dispatch.Run(ctx)
	s.logger.Info("swarm started",
		zap.String("topology", string(s.dispatch.Topology().Kind)))
}

// Shutdown stops background loops and closes the engines, bus, and
// journal. The swarm must not be used afterwards.
func (s *Swarm) Shutdown() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}

	s.consensus.Close()
	s.dispatch.Close()
	s.bus.Close()
	if s.journal != nil {
		if err := s.journal.Close(); err != nil {
			s.logger.Warn("journal close failed", zap.Error(err))
		}
	}
	s.logger.Info("swarm stopped")
}

// ============================================================================
// Agents
// ============================================================================

// RegisterAgent adds an agent to the swarm and makes it routable.
func (s *Swarm) RegisterAgent(cfg shared.AgentConfig) (shared.AgentInfo, error) {
	id, err := s.registry.Register(cfg)
	if err != nil {
		return shared.AgentInfo{}, err
	}
	info, _ := s.registry.Get(id)

	s.emit(shared.EventAgentJoined, id, string(info.Status), map[string]interface{}{
		"capabilities": cfg.Capabilities,
		"queen":        cfg.Queen,
	})
	s.dispatch.Kick()
	return info, nil
}

// DeregisterAgent retires an agent. Its queued work is reassigned through
// the unreachable path before retirement would normally apply, so here
// in-flight tasks are requeued directly.
func (s *Swarm) DeregisterAgent(agentID string) error {
	s.dispatch.HandleUnreachable(agentID)
	return s.registry.Deregister(agentID)
}

// Heartbeat records a liveness beat from an agent.
func (s *Swarm) Heartbeat(agentID string) error {
	return s.registry.Heartbeat(agentID, 0)
}

// PromoteQueen grants an agent a consensus vote.
func (s *Swarm) PromoteQueen(agentID string) error {
	if err := s.registry.PromoteQueen(agentID); err != nil {
		return err
	}
	s.emit(shared.EventQueenPromoted, agentID, "queen", nil)
	return nil
}

// DemoteQueen revokes an agent's consensus vote.
func (s *Swarm) DemoteQueen(agentID string) error {
	if err := s.registry.DemoteQueen(agentID); err != nil {
		return err
	}
	s.emit(shared.EventQueenDemoted, agentID, "worker", nil)
	s.consensus.Reconcile()
	return nil
}

// GetAgent returns a copy of one agent.
func (s *Swarm) GetAgent(agentID string) (shared.AgentInfo, bool) {
	return s.registry.Get(agentID)
}

// ListAgents returns agents matching the filter, sorted by id.
func (s *Swarm) ListAgents(filter *agent.Filter) []shared.AgentInfo {
	return s.registry.Snapshot(filter)
}

// ============================================================================
// Tasks
// ============================================================================

// SubmitTask validates and enqueues a task for distribution.
func (s *Swarm) SubmitTask(cfg task.Config) (shared.Task, error) {
	t, err := s.dispatch.Submit(cfg)
	if err != nil {
		return shared.Task{}, err
	}
	s.emit(shared.EventTaskSubmitted, t.ID, string(t.Status), map[string]interface{}{
		"capabilities": t.Capabilities,
		"priority":     string(t.Priority),
	})
	s.dispatch.Kick()
	return t, nil
}

// MarkTaskRunning records that the assigned agent started executing.
func (s *Swarm) MarkTaskRunning(taskID, agentID string) error {
	return s.dispatch.MarkRunning(taskID, agentID)
}

// ReportTaskResult records an agent-reported outcome.
func (s *Swarm) ReportTaskResult(res shared.TaskResult) error {
	return s.dispatch.ReportResult(res)
}

// ReportTaskFailure records an agent-reported failure.
func (s *Swarm) ReportTaskFailure(taskID, agentID, reason string) error {
	return s.dispatch.ReportFailure(taskID, agentID, reason)
}

// CancelTask stops a task wherever it is in its lifecycle.
func (s *Swarm) CancelTask(taskID string) error {
	return s.dispatch.Cancel(taskID)
}

// GetTask returns a copy of one task.
func (s *Swarm) GetTask(taskID string) (shared.Task, error) {
	return s.dispatch.Get(taskID)
}

// ListTasks returns copies of all tasks, sorted by id.
func (s *Swarm) ListTasks() []shared.Task {
	return s.dispatch.List()
}

// ============================================================================
// Consensus
// ============================================================================

// Propose opens a consensus proposal among the live Queens.
func (s *Swarm) Propose(proposerID string, payload shared.ProposalPayload, rule shared.QuorumRule) (shared.Proposal, error) {
	p, err := s.consensus.Propose(proposerID, payload, rule)
	if err != nil {
		return shared.Proposal{}, err
	}
	s.emit(shared.EventConsensusOpened, p.ID, string(p.Status), map[string]interface{}{
		"kind":     p.Payload.Kind,
		"proposer": proposerID,
		"quorum":   string(p.Quorum.Kind),
	})
	return p, nil
}

// Vote records a Queen's vote on an open proposal.
func (s *Swarm) Vote(proposalID, voterID string, choice shared.VoteChoice) (shared.Proposal, error) {
	return s.consensus.Vote(proposalID, voterID, choice)
}

// GetProposal returns a copy of a proposal, open or resolved.
func (s *Swarm) GetProposal(proposalID string) (shared.Proposal, error) {
	return s.consensus.GetProposal(proposalID)
}

// ListProposals returns all proposals, oldest first.
func (s *Swarm) ListProposals() []shared.Proposal {
	return s.consensus.List()
}

// ElectLeader runs a single-round leader election among the live Queens.
func (s *Swarm) ElectLeader(nominations map[string]string) (string, error) {
	leader, err := s.consensus.ElectLeader(nominations)
	if err != nil {
		return "", err
	}
	s.mu.Lock()
	s.leader = leader
	s.mu.Unlock()

	s.emit(shared.EventLeaderElected, leader, "leader", map[string]interface{}{
		"nominations": len(nominations),
	})
	return leader, nil
}

// ============================================================================
// Topology
// ============================================================================

// SwitchTopology changes the coordination graph. An empty kind runs
// auto-selection over the current population and workload signals.
// With more than one live Queen the switch is consensus-gated: a
// majority proposal is opened and the change applies on commit, in which
// case the returned proposal is non-nil and the topology is unchanged.
func (s *Swarm) SwitchTopology(kind shared.TopologyKind, sel shared.SelectionContext) (shared.Topology, *shared.Proposal, error) {
	if kind == "" {
		kind = topology.AutoSelect(s.registry.Snapshot(nil), sel, s.cfg.Topology)
	}
	if !shared.ValidTopologyKind(kind) {
		return shared.Topology{}, nil, fmt.Errorf("unknown topology kind %q", kind)
	}

	live := s.registry.LiveQueens()
	if len(live) > 1 {
		p, err := s.Propose(live[0].ID, shared.ProposalPayload{
			Kind: shared.ProposalTopologySwitch,
			Data: map[string]interface{}{"kind": string(kind)},
		}, shared.QuorumRule{Kind: shared.QuorumMajority})
		if err != nil {
			return shared.Topology{}, nil, err
		}
		return s.dispatch.Topology(), &p, nil
	}

	return s.applyTopology(kind), nil, nil
}

// Topology returns the active coordination graph.
func (s *Swarm) Topology() shared.Topology {
	return s.dispatch.Topology()
}

// applyTopology plans and installs a topology, bumping the version.
func (s *Swarm) applyTopology(kind shared.TopologyKind) shared.Topology {
	strat := topology.ForKind(kind)
	topo := strat.Plan(s.registry.Snapshot(nil), s.cfg.Topology)

	s.mu.Lock()
	s.topoVersion++
	topo.Version = s.topoVersion
	s.mu.Unlock()

	s.dispatch.ApplyTopology(topo, strat)
	s.emit(shared.EventTopologyChanged, string(kind), string(kind), map[string]interface{}{
		"version": topo.Version,
		"rootId":  topo.RootID,
		"hubId":   topo.HubID,
	})
	return topo
}

// ============================================================================
// Events
// ============================================================================

// Events returns a channel of all lifecycle events plus the id to
// cancel the subscription with Unsubscribe.
func (s *Swarm) Events() (<-chan shared.Event, int64) {
	return s.bus.SubscribeAll()
}

// Subscribe returns a channel of events of one kind.
func (s *Swarm) Subscribe(kind shared.EventKind) (<-chan shared.Event, int64) {
	return s.bus.Subscribe(kind)
}

// Unsubscribe cancels an event subscription.
func (s *Swarm) Unsubscribe(id int64) {
	s.bus.Unsubscribe(id)
}

// ReplayEvents returns journaled events in append order. Without a
// configured journal it returns an error.
func (s *Swarm) ReplayEvents(limit int) ([]shared.Event, error) {
	if s.journal == nil {
		return nil, fmt.Errorf("event journal is not configured")
	}
	return s.journal.Replay(limit)
}

// GetStatus returns a point-in-time summary of the swarm.
func (s *Swarm) GetStatus() Status {
	tasks, depth := s.dispatch.Stats()
	s.mu.Lock()
	leader := s.leader
	s.mu.Unlock()
	return Status{
		Agents:     s.registry.CountByStatus(),
		Tasks:      tasks,
		QueueDepth: depth,
		LiveQueens: len(s.registry.LiveQueens()),
		Leader:     leader,
		Topology:   s.dispatch.Topology(),
	}
}

// ============================================================================
// Internal wiring
// ============================================================================

// onAgentTransition reacts to registry status changes. Work held by an
// agent that went unreachable is requeued before the event goes out.
func (s *Swarm) onAgentTransition(tr agent.Transition) {
	switch tr.To {
	case shared.AgentStatusUnreachable:
		s.dispatch.HandleUnreachable(tr.AgentID)
		s.emit(shared.EventAgentUnreachable, tr.AgentID, string(tr.To), map[string]interface{}{
			"from": string(tr.From),
		})
		s.reconcileIfQueen(tr.AgentID)
	case shared.AgentStatusRetired:
		s.emit(shared.EventAgentLeft, tr.AgentID, string(tr.To), map[string]interface{}{
			"from": string(tr.From),
		})
		s.reconcileIfQueen(tr.AgentID)
	}
}

// reconcileIfQueen re-tallies open proposals after a voter left the
// live set, so a vote whose electorate vanished expires immediately.
func (s *Swarm) reconcileIfQueen(agentID string) {
	if info, ok := s.registry.Get(agentID); ok && info.Queen {
		s.consensus.Reconcile()
	}
}

// onProposalResolved publishes the resolution and applies committed
// topology switches.
func (s *Swarm) onProposalResolved(p shared.Proposal) {
	s.emit(shared.EventConsensusResult, p.ID, string(p.Status), map[string]interface{}{
		"kind":      p.Payload.Kind,
		"approvals": countApprovals(p.Votes),
	})

	if p.Status != shared.ProposalCommitted {
		return
	}
	switch p.Payload.Kind {
	case shared.ProposalTopologySwitch:
		kind, _ := p.Payload.Data["kind"].(string)
		if shared.ValidTopologyKind(shared.TopologyKind(kind)) {
			s.applyTopology(shared.TopologyKind(kind))
		} else {
			s.logger.Warn("committed topology switch carries unknown kind",
				zap.String("proposalId", p.ID),
				zap.String("kind", kind))
		}
	case shared.ProposalRetireAgent:
		agentID, _ := p.Payload.Data["agentId"].(string)
		if agentID != "" {
			if err := s.DeregisterAgent(agentID); err != nil {
				s.logger.Warn("committed retirement failed",
					zap.String("agentId", agentID),
					zap.Error(err))
			}
		}
	}
}

// emit publishes one lifecycle event and refreshes the telemetry gauges.
func (s *Swarm) emit(kind shared.EventKind, entityID, state string, details map[string]interface{}) {
	s.bus.Emit(shared.Event{
		Kind:      kind,
		Timestamp: shared.Now(),
		EntityID:  entityID,
		State:     state,
		Details:   details,
	})
	if s.collector != nil {
		_, depth := s.dispatch.Stats()
		s.collector.SetQueueDepth(depth)
		s.collector.SetAgentCounts(s.registry.CountByStatus())
	}
}

func countApprovals(votes map[string]shared.VoteChoice) int {
	n := 0
	for _, v := range votes {
		if v == shared.VoteApprove {
			n++
		}
	}
	return n
}
