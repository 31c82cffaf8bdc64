package topology

import (
	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// Star funnels all work through a central hub that brokers it onward.
// Routing only ever offers the hub; when the hub is saturated, work
// queues rather than bypassing it.
type Star struct{}

// NewStar creates a star strategy.
func NewStar() *Star {
	return &Star{}
}

func (s *Star) Kind() shared.TopologyKind {
	return shared.TopologyStar
}

// Plan designates the hub: the lowest-id live Queen, or the lowest-id
// live agent when no Queen exists.
func (s *Star) Plan(snapshot []shared.AgentInfo, _ config.TopologyConfig) shared.Topology {
	return shared.Topology{
		Kind:  shared.TopologyStar,
		HubID: designateLeader(snapshot),
	}
}

// Route returns the hub if it is live and has capacity, otherwise
// nothing. The hub brokers work for the spokes, so its own capability
// tags are not consulted.
func (s *Star) Route(topo shared.Topology, _ shared.Task, snapshot []shared.AgentInfo) []string {
	for _, a := range snapshot {
		if a.ID == topo.HubID {
			if a.HasCapacity() {
				return []string{a.ID}
			}
			return nil
		}
	}
	return nil
}
