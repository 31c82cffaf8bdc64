package topology

import (
	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// Hierarchical arranges agents in a b-ary tree rooted at a Queen. Tasks
// flow down from the root; routing prefers capable agents closest to it.
type Hierarchical struct {
	branchFactor int
}

// NewHierarchical creates a hierarchical strategy.
func NewHierarchical() *Hierarchical {
	return &Hierarchical{}
}

func (h *Hierarchical) Kind() shared.TopologyKind {
	return shared.TopologyHierarchical
}

// Plan designates the root: the lowest-id live Queen, or the lowest-id
// live agent when no Queen exists.
func (h *Hierarchical) Plan(snapshot []shared.AgentInfo, cfg config.TopologyConfig) shared.Topology {
	h.branchFactor = cfg.BranchFactor
	if h.branchFactor < 2 {
		h.branchFactor = 4
	}
	return shared.Topology{
		Kind:   shared.TopologyHierarchical,
		RootID: designateLeader(snapshot),
		Depth:  cfg.DepthLimit,
	}
}

// Route returns the capable agents nearest the root. The tree is derived
// from the snapshot: the root first, the remaining agents in id order,
// laid out breadth-first with the planned branch factor. Agents beyond
// the depth limit are not candidates.
func (h *Hierarchical) Route(topo shared.Topology, t shared.Task, snapshot []shared.AgentInfo) []string {
	b := h.branchFactor
	if b < 2 {
		b = 4
	}

	// BFS order: root at index 0, then the id-sorted remainder.
	order := make([]shared.AgentInfo, 0, len(snapshot))
	for _, a := range snapshot {
		if a.ID == topo.RootID {
			order = append([]shared.AgentInfo{a}, order...)
		} else {
			order = append(order, a)
		}
	}

	best := -1
	var out []string
	for i, a := range order {
		d := treeDepth(i, b)
		if topo.Depth > 0 && d > topo.Depth {
			break // order is breadth-first, all later nodes are deeper
		}
		if !available(a, t) {
			continue
		}
		if best == -1 {
			best = d
		}
		if d != best {
			break
		}
		out = append(out, a.ID)
	}
	return out
}

// treeDepth returns the depth of breadth-first index i in a complete
// b-ary tree. The root has depth 0.
func treeDepth(i, b int) int {
	depth := 0
	levelStart := 0
	levelSize := 1
	for i >= levelStart+levelSize {
		levelStart += levelSize
		levelSize *= b
		depth++
	}
	return depth
}
