package topology

import (
	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// Mesh is the fully connected strategy: every agent is a peer and every
// capable agent with spare capacity is a routing candidate.
type Mesh struct{}

// NewMesh creates a mesh strategy.
func NewMesh() *Mesh {
	return &Mesh{}
}

func (m *Mesh) Kind() shared.TopologyKind {
	return shared.TopologyMesh
}

func (m *Mesh) Plan(_ []shared.AgentInfo, _ config.TopologyConfig) shared.Topology {
	return shared.Topology{Kind: shared.TopologyMesh}
}

func (m *Mesh) Route(_ shared.Topology, t shared.Task, snapshot []shared.AgentInfo) []string {
	return capableAgents(t, snapshot)
}
