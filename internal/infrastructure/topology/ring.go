package topology

import (
	"sync"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/shared"
)

// Ring arranges agents in an id-ordered cycle and hands out work
// round-robin: each assignment starts scanning after the previously
// assigned agent. A single candidate is produced per route.
type Ring struct {
	mu           sync.Mutex
	lastAssigned string
}

// NewRing creates a ring strategy with an empty cursor.
func NewRing() *Ring {
	return &Ring{}
}

func (r *Ring) Kind() shared.TopologyKind {
	return shared.TopologyRing
}

func (r *Ring) Plan(_ []shared.AgentInfo, _ config.TopologyConfig) shared.Topology {
	return shared.Topology{Kind: shared.TopologyRing}
}

// NoteAssigned advances the cursor past the agent that just took work.
func (r *Ring) NoteAssigned(agentID string) {
	r.mu.Lock()
	r.lastAssigned = agentID
	r.mu.Unlock()
}

// Route returns the next capable agent after the cursor position in the
// id-sorted cycle, wrapping around. Unavailable agents are skipped.
func (r *Ring) Route(_ shared.Topology, t shared.Task, snapshot []shared.AgentInfo) []string {
	if len(snapshot) == 0 {
		return nil
	}

	r.mu.Lock()
	cursor := r.lastAssigned
	r.mu.Unlock()

	// Start just past the cursor; snapshot is id-sorted.
	start := 0
	if cursor != "" {
		for i, a := range snapshot {
			if a.ID > cursor {
				start = i
				break
			}
			if i == len(snapshot)-1 {
				start = 0 // cursor was at or past the end, wrap
			}
		}
	}

	for i := 0; i < len(snapshot); i++ {
		a := snapshot[(start+i)%len(snapshot)]
		if available(a, t) {
			return []string{a.ID}
		}
	}
	return nil
}
