// Package shared provides shared types used across all swarmcore components.
package shared

import "time"

// ============================================================================
// Agent Types
// ============================================================================

// AgentStatus represents the current status of an agent.
type AgentStatus string

const (
	AgentStatusIdle        AgentStatus = "idle"
	AgentStatusBusy        AgentStatus = "busy"
	AgentStatusUnreachable AgentStatus = "unreachable"
	AgentStatusRetired     AgentStatus = "retired"
)

// IsTerminal returns true if the status admits no further transitions.
func (s AgentStatus) IsTerminal() bool {
	return s == AgentStatusRetired
}

// AgentConfig holds configuration for registering an agent.
type AgentConfig struct {
	ID           string   `json:"id"`
	Capabilities []string `json:"capabilities"`
	MaxLoad      int      `json:"maxLoad,omitempty"`
	Queen        bool     `json:"queen,omitempty"`
}

// AgentInfo is the registry's view of a registered agent.
// Queens are ordinary agents carrying a role flag, not a distinct type.
type AgentInfo struct {
	ID            string      `json:"id"`
	Capabilities  []string    `json:"capabilities"`
	Status        AgentStatus `json:"status"`
	Load          int         `json:"load"`
	MaxLoad       int         `json:"maxLoad"`
	Queen         bool        `json:"queen,omitempty"`
	LastHeartbeat int64       `json:"lastHeartbeat"`
	RegisteredAt  int64       `json:"registeredAt"`
}

// HasCapacity returns true if the agent can accept one more task.
func (a AgentInfo) HasCapacity() bool {
	if a.Status != AgentStatusIdle && a.Status != AgentStatusBusy {
		return false
	}
	return a.Load < a.MaxLoad
}

// HasCapabilities returns true if the agent declares every required tag.
func (a AgentInfo) HasCapabilities(required []string) bool {
	for _, req := range required {
		found := false
		for _, cap := range a.Capabilities {
			if cap == req {
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

// ============================================================================
// Task Types
// ============================================================================

// TaskPriority represents the priority of a task.
type TaskPriority string

const (
	PriorityHigh   TaskPriority = "high"
	PriorityMedium TaskPriority = "medium"
	PriorityLow    TaskPriority = "low"
)

// TaskStatus represents the current status of a task.
type TaskStatus string

const (
	TaskStatusPending   TaskStatus = "pending"
	TaskStatusAssigned  TaskStatus = "assigned"
	TaskStatusRunning   TaskStatus = "running"
	TaskStatusCompleted TaskStatus = "completed"
	TaskStatusFailed    TaskStatus = "failed"
	TaskStatusCancelled TaskStatus = "cancelled"
)

// IsTerminal returns true if the task status admits no further transitions.
func (s TaskStatus) IsTerminal() bool {
	return s == TaskStatusCompleted || s == TaskStatusFailed || s == TaskStatusCancelled
}

// Task represents a unit of work executed by exactly one agent at a time.
// The payload is opaque to the engine.
type Task struct {
	ID            string                 `json:"id"`
	Capabilities  []string               `json:"capabilities"`
	Priority      TaskPriority           `json:"priority"`
	Payload       map[string]interface{} `json:"payload,omitempty"`
	Status        TaskStatus             `json:"status"`
	AssignedTo    string                 `json:"assignedTo,omitempty"`
	Retries       int                    `json:"retries"`
	FailureReason string                 `json:"failureReason,omitempty"`
	CreatedAt     int64                  `json:"createdAt"`
	UpdatedAt     int64                  `json:"updatedAt"`
}

// TaskResult represents an agent-reported execution outcome.
type TaskResult struct {
	TaskID   string                 `json:"taskId"`
	AgentID  string                 `json:"agentId"`
	Success  bool                   `json:"success"`
	Output   map[string]interface{} `json:"output,omitempty"`
	Error    string                 `json:"error,omitempty"`
	Duration int64                  `json:"duration,omitempty"`
}

// ============================================================================
// Topology Types
// ============================================================================

// TopologyKind represents the coordination graph family of a swarm.
type TopologyKind string

const (
	TopologyMesh         TopologyKind = "mesh"
	TopologyHierarchical TopologyKind = "hierarchical"
	TopologyRing         TopologyKind = "ring"
	TopologyStar         TopologyKind = "star"
)

// ValidTopologyKind returns true if the kind is one of the supported families.
func ValidTopologyKind(kind TopologyKind) bool {
	switch kind {
	case TopologyMesh, TopologyHierarchical, TopologyRing, TopologyStar:
		return true
	}
	return false
}

// Topology is the active coordination graph. Edges are computed on demand
// from the adjacency rule of the kind; only the designated roles are stored.
type Topology struct {
	Kind    TopologyKind `json:"kind"`
	RootID  string       `json:"rootId,omitempty"` // hierarchical root (queen)
	HubID   string       `json:"hubId,omitempty"`  // star hub
	Depth   int          `json:"depth,omitempty"`  // hierarchical depth limit
	Version int64        `json:"version"`          // incremented on every switch
}

// SelectionContext carries workload signals consumed by topology
// auto-selection. All values are supplied by the caller; zero values are
// treated as "no signal".
type SelectionContext struct {
	CollaborationRatio float64 `json:"collaborationRatio,omitempty"`
	HubAffinity        float64 `json:"hubAffinity,omitempty"`
	DependencyDensity  float64 `json:"dependencyDensity,omitempty"`
}

// ============================================================================
// Consensus Types
// ============================================================================

// VoteChoice represents a single vote on a proposal.
type VoteChoice string

const (
	VoteApprove VoteChoice = "approve"
	VoteReject  VoteChoice = "reject"
	VoteAbstain VoteChoice = "abstain"
)

// QuorumKind represents the agreement rule family for a proposal.
type QuorumKind string

const (
	QuorumMajority      QuorumKind = "majority"
	QuorumSupermajority QuorumKind = "supermajority"
	QuorumUnanimous     QuorumKind = "unanimous"
)

// QuorumRule describes how many live-Queen approvals commit a proposal.
// Fraction is only consulted for supermajority rules.
type QuorumRule struct {
	Kind     QuorumKind `json:"kind"`
	Fraction float64    `json:"fraction,omitempty"`
}

// Required returns the approval count needed over n live Queens.
func (r QuorumRule) Required(n int) int {
	if n <= 0 {
		return 0
	}
	switch r.Kind {
	case QuorumUnanimous:
		return n
	case QuorumSupermajority:
		frac := r.Fraction
		if frac <= 0 || frac > 1 {
			frac = 2.0 / 3.0
		}
		required := int(float64(n)*frac + 0.9999999)
		if required < 1 {
			required = 1
		}
		return required
	default: // majority: strictly more than half
		return n/2 + 1
	}
}

// ProposalStatus represents the state of a consensus proposal.
type ProposalStatus string

const (
	ProposalOpen      ProposalStatus = "open"
	ProposalCommitted ProposalStatus = "committed"
	ProposalRejected  ProposalStatus = "rejected"
	ProposalExpired   ProposalStatus = "expired"
)

// IsTerminal returns true once a proposal is resolved.
func (s ProposalStatus) IsTerminal() bool {
	return s != ProposalOpen
}

// ProposalPayload is the strategic choice under vote, opaque except for
// its kind tag which the coordinator dispatches on after commit.
type ProposalPayload struct {
	Kind string                 `json:"kind"`
	Data map[string]interface{} `json:"data,omitempty"`
}

// Well-known proposal payload kinds raised by the coordinator.
const (
	ProposalTopologySwitch = "topology-switch"
	ProposalRetireAgent    = "retire-agent"
)

// Proposal is a strategic choice requiring agreement among Queens.
type Proposal struct {
	ID         string                `json:"id"`
	ProposerID string                `json:"proposerId"`
	Payload    ProposalPayload       `json:"payload"`
	Votes      map[string]VoteChoice `json:"votes"`
	Status     ProposalStatus        `json:"status"`
	Quorum     QuorumRule            `json:"quorum"`
	CreatedAt  int64                 `json:"createdAt"`
	Deadline   int64                 `json:"deadline"`
	ResolvedAt int64                 `json:"resolvedAt,omitempty"`
}

// ============================================================================
// Event Types
// ============================================================================

// EventKind represents the kind of a lifecycle event.
type EventKind string

const (
	EventAgentJoined      EventKind = "agent:joined"
	EventAgentLeft        EventKind = "agent:left"
	EventAgentUnreachable EventKind = "agent:unreachable"
	EventQueenPromoted    EventKind = "queen:promoted"
	EventQueenDemoted     EventKind = "queen:demoted"
	EventTaskSubmitted    EventKind = "task:submitted"
	EventTaskAssigned     EventKind = "task:assigned"
	EventTaskCompleted    EventKind = "task:completed"
	EventTaskFailed       EventKind = "task:failed"
	EventTaskCancelled    EventKind = "task:cancelled"
	EventTopologyChanged  EventKind = "topology:changed"
	EventConsensusOpened  EventKind = "consensus:opened"
	EventConsensusResult  EventKind = "consensus:resolved"
	EventLeaderElected    EventKind = "leader:elected"
)

// Event is a single entry in the coordinator's ordered audit trail:
// what happened, when, to which entity, and the entity's new state.
type Event struct {
	Kind      EventKind              `json:"kind"`
	Timestamp int64                  `json:"timestamp"`
	EntityID  string                 `json:"entityId"`
	State     string                 `json:"state"`
	Details   map[string]interface{} `json:"details,omitempty"`
}

// ============================================================================
// Utility Functions
// ============================================================================

// Now returns the current time in milliseconds.
func Now() int64 {
	return time.Now().UnixMilli()
}
