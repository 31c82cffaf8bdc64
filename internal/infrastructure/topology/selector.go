package topology

import (
	"sort"
	"strings"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// AutoSelect picks a topology kind for a population and workload signals.
// The rules apply in fixed priority order so the same inputs always yield
// the same kind:
//
//  1. hierarchical when the population exceeds the threshold, or when it
//     groups into more capability clusters than a single node fans out to
//  2. mesh when the population is small or collaboration is high
//  3. star when hub affinity is high
//  4. ring when dependency density is high
//  5. mesh otherwise
func AutoSelect(snapshot []shared.AgentInfo, sel shared.SelectionContext, cfg config.TopologyConfig) shared.TopologyKind {
	n := 0
	for _, a := range snapshot {
		if a.Status != shared.AgentStatusRetired {
			n++
		}
	}

	if n > cfg.HierarchicalThreshold {
		return shared.TopologyHierarchical
	}
	if n > cfg.MeshMaxPopulation && capabilityClusters(snapshot) > cfg.BranchFactor {
		return shared.TopologyHierarchical
	}
	if n <= cfg.MeshMaxPopulation || sel.CollaborationRatio > cfg.CollaborationRatio {
		return shared.TopologyMesh
	}
	if sel.HubAffinity > cfg.HubAffinity {
		return shared.TopologyStar
	}
	if sel.DependencyDensity > cfg.DependencyDensity {
		return shared.TopologyRing
	}
	return shared.TopologyMesh
}

// capabilityClusters counts the distinct capability signatures among
// non-retired agents. Agents declaring the same tag set form one cluster.
func capabilityClusters(snapshot []shared.AgentInfo) int {
	seen := make(map[string]struct{})
	for _, a := range snapshot {
		if a.Status == shared.AgentStatusRetired {
			continue
		}
		caps := shared.CloneStrings(a.Capabilities)
		sort.Strings(caps)
		seen[strings.Join(caps, ",")] = struct{}{}
	}
	return len(seen)
}
