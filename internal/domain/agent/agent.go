// Package agent provides the agent registry, the single source of truth
// for agent identity, capability, health and load.
package agent

import "github.com/hivemesh/swarmcore/internal/shared"

// ValidTransition reports whether a status change is legal.
// Legal moves: Idle<->Busy, any live status -> Unreachable, any live
// status -> Retired. Retired is terminal.
func ValidTransition(from, to shared.AgentStatus) bool {
	if from == to {
		return true
	}
	if from == shared.AgentStatusRetired {
		return false
	}
	switch to {
	case shared.AgentStatusUnreachable, shared.AgentStatusRetired:
		return true
	case shared.AgentStatusBusy:
		return from == shared.AgentStatusIdle
	case shared.AgentStatusIdle:
		return from == shared.AgentStatusBusy
	}
	return false
}

// Transition records a status change applied by the registry, delivered
// to the coordinator so reassignment and events happen in order.
type Transition struct {
	AgentID string
	From    shared.AgentStatus
	To      shared.AgentStatus
	At      int64
}
