// Package swarmcore provides the public API for the swarm coordination
// engine: an agent registry, topology-aware task distribution, and
// quorum consensus among Queen agents.
//
// Example:
//
//	swarm, err := swarmcore.New(swarmcore.DefaultConfig(), logger)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer swarm.Shutdown()
//
//	swarm.RegisterAgent(swarmcore.AgentConfig{
//	    ID:           "worker-1",
//	    Capabilities: []string{"build"},
//	})
//	swarm.SubmitTask(swarmcore.TaskConfig{
//	    Capabilities: []string{"build"},
//	    Priority:     swarmcore.PriorityHigh,
//	})
package swarmcore

import (
	"go.uber.org/zap"

	"github.com/hivemesh/swarmcore/internal/application/coordinator"
	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/domain/agent"
	"github.com/hivemesh/swarmcore/internal/domain/task"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// Re-exported types for the public API.
type (
	// Agent types.
	AgentStatus = shared.AgentStatus
	AgentConfig = shared.AgentConfig
	AgentInfo   = shared.AgentInfo
	AgentFilter = agent.Filter

	// Task types.
	TaskPriority = shared.TaskPriority
	TaskStatus   = shared.TaskStatus
	TaskConfig   = task.Config
	Task         = shared.Task
	TaskResult   = shared.TaskResult

	// Topology types.
	TopologyKind     = shared.TopologyKind
	Topology         = shared.Topology
	SelectionContext = shared.SelectionContext

	// Consensus types.
	VoteChoice      = shared.VoteChoice
	QuorumKind      = shared.QuorumKind
	QuorumRule      = shared.QuorumRule
	ProposalStatus  = shared.ProposalStatus
	ProposalPayload = shared.ProposalPayload
	Proposal        = shared.Proposal

	// Event types.
	EventKind = shared.EventKind
	Event     = shared.Event

	// Engine types.
	Config = config.Config
	Swarm  = coordinator.Swarm
	Status = coordinator.Status
	Option = coordinator.Option
)

// Agent status values.
const (
	AgentStatusIdle        = shared.AgentStatusIdle
	AgentStatusBusy        = shared.AgentStatusBusy
	AgentStatusUnreachable = shared.AgentStatusUnreachable
	AgentStatusRetired     = shared.AgentStatusRetired
)

// Task priorities and statuses.
const (
	PriorityHigh   = shared.PriorityHigh
	PriorityMedium = shared.PriorityMedium
	PriorityLow    = shared.PriorityLow

	TaskStatusPending   = shared.TaskStatusPending
	TaskStatusAssigned  = shared.TaskStatusAssigned
	TaskStatusRunning   = shared.TaskStatusRunning
	TaskStatusCompleted = shared.TaskStatusCompleted
	TaskStatusFailed    = shared.TaskStatusFailed
	TaskStatusCancelled = shared.TaskStatusCancelled
)

// Topology kinds.
const (
	TopologyMesh         = shared.TopologyMesh
	TopologyHierarchical = shared.TopologyHierarchical
	TopologyRing         = shared.TopologyRing
	TopologyStar         = shared.TopologyStar
)

// Consensus values.
const (
	VoteApprove = shared.VoteApprove
	VoteReject  = shared.VoteReject
	VoteAbstain = shared.VoteAbstain

	QuorumMajority      = shared.QuorumMajority
	QuorumSupermajority = shared.QuorumSupermajority
	QuorumUnanimous     = shared.QuorumUnanimous

	ProposalOpen      = shared.ProposalOpen
	ProposalCommitted = shared.ProposalCommitted
	ProposalRejected  = shared.ProposalRejected
	ProposalExpired   = shared.ProposalExpired
)

// Event kinds.
const (
	EventAgentJoined      = shared.EventAgentJoined
	EventAgentLeft        = shared.EventAgentLeft
	EventAgentUnreachable = shared.EventAgentUnreachable
	EventQueenPromoted    = shared.EventQueenPromoted
	EventQueenDemoted     = shared.EventQueenDemoted
	EventTaskSubmitted    = shared.EventTaskSubmitted
	EventTaskAssigned     = shared.EventTaskAssigned
	EventTaskCompleted    = shared.EventTaskCompleted
	EventTaskFailed       = shared.EventTaskFailed
	EventTaskCancelled    = shared.EventTaskCancelled
	EventTopologyChanged  = shared.EventTopologyChanged
	EventConsensusOpened  = shared.EventConsensusOpened
	EventConsensusResult  = shared.EventConsensusResult
	EventLeaderElected    = shared.EventLeaderElected
)

// Sentinel errors.
var (
	ErrDuplicateAgent    = shared.ErrDuplicateAgent
	ErrUnknownAgent      = shared.ErrUnknownAgent
	ErrInvalidTransition = shared.ErrInvalidTransition
	ErrUnknownTask       = shared.ErrUnknownTask
	ErrQueueSaturated    = shared.ErrQueueSaturated
	ErrUnknownProposal   = shared.ErrUnknownProposal
	ErrProposalResolved  = shared.ErrProposalResolved
	ErrIneligibleVoter   = shared.ErrIneligibleVoter
	ErrDuplicateVote     = shared.ErrDuplicateVote
	ErrNoLiveQueens      = shared.ErrNoLiveQueens
)

// WithMetrics registers the swarm's Prometheus metrics.
var WithMetrics = coordinator.WithMetrics

// DefaultConfig returns the built-in configuration.
func DefaultConfig() Config {
	return config.Default()
}

// LoadConfig reads a YAML config file over the defaults, then applies
// SWARMCORE_* environment overrides.
func LoadConfig(path string) (Config, error) {
	return config.Load(path)
}

// New builds a swarm coordinator from configuration.
func New(cfg Config, logger *zap.Logger, opts ...Option) (*Swarm, error) {
	return coordinator.New(cfg, logger, opts...)
}
