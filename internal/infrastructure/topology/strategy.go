// Package topology provides the coordination graph strategies
// (mesh, hierarchical, ring, star) and deterministic auto-selection.
package topology

import (
	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// Strategy maps an agent population to a coordination graph and routes
// tasks under it. Strategies operate on point-in-time snapshots; they
// never reach into live registry state.
type Strategy interface {
	// Kind returns the topology family this strategy implements.
	Kind() shared.TopologyKind

	// Plan designates the topology's roles (root, hub) over a snapshot.
	// The returned Topology carries no version; the coordinator stamps it.
	Plan(snapshot []shared.AgentInfo, cfg config.TopologyConfig) shared.Topology

	// Route returns candidate agent ids for a task under the topology,
	// in deterministic (id-sorted) order. An empty result means the task
	// stays pending until the population changes.
	Route(topo shared.Topology, t shared.Task, snapshot []shared.AgentInfo) []string
}

// AssignmentAware is implemented by strategies whose routing depends on
// the previous assignment (ring round-robin). The dispatch engine calls
// NoteAssigned after committing an assignment.
type AssignmentAware interface {
	NoteAssigned(agentID string)
}

// ForKind returns a fresh strategy for the given kind, defaulting to mesh.
func ForKind(kind shared.TopologyKind) Strategy {
	switch kind {
	case shared.TopologyHierarchical:
		return NewHierarchical()
	case shared.TopologyRing:
		return NewRing()
	case shared.TopologyStar:
		return NewStar()
	default:
		return NewMesh()
	}
}

// available reports whether an agent can take on the task's tags now.
func available(a shared.AgentInfo, t shared.Task) bool {
	return a.HasCapacity() && a.HasCapabilities(t.Capabilities)
}

// capableAgents returns the ids of all agents that could accept the task,
// preserving the snapshot's id ordering.
func capableAgents(t shared.Task, snapshot []shared.AgentInfo) []string {
	out := make([]string, 0, len(snapshot))
	for _, a := range snapshot {
		if available(a, t) {
			out = append(out, a.ID)
		}
	}
	return out
}

// designateLeader picks the deterministic root/hub for a snapshot:
// the lowest-id live Queen, falling back to the lowest-id live agent.
func designateLeader(snapshot []shared.AgentInfo) string {
	var fallback string
	for _, a := range snapshot {
		if a.Status == shared.AgentStatusUnreachable || a.Status == shared.AgentStatusRetired {
			continue
		}
		if a.Queen {
			return a.ID // snapshot is id-sorted; first live queen wins
		}
		if fallback == "" {
			fallback = a.ID
		}
	}
	return fallback
}
