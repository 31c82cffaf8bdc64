package topology

import (
	"fmt"
	"testing"

	"github.com/hivemesh/swarmcore/internal/config"
	"github.com/hivemesh/swarmcore/internal/shared"
)

func testAgent(id string, caps []string, status shared.AgentStatus, load, maxLoad int, queen bool) shared.AgentInfo {
	return shared.AgentInfo{
		ID:           id,
		Capabilities: caps,
		Status:       status,
		Load:         load,
		MaxLoad:      maxLoad,
		Queen:        queen,
	}
}

func testTask(caps ...string) shared.Task {
	return shared.Task{ID: "t1", Capabilities: caps, Status: shared.TaskStatusPending}
}

func TestMeshRouteReturnsAllCapable(t *testing.T) {
	snapshot := []shared.AgentInfo{
		testAgent("a1", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a2", []string{"build", "test"}, shared.AgentStatusBusy, 1, 2, false),
		testAgent("a3", []string{"test"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a4", []string{"build"}, shared.AgentStatusBusy, 1, 1, false), // saturated
		testAgent("a5", []string{"build"}, shared.AgentStatusUnreachable, 0, 1, false),
	}

	m := NewMesh()
	topo := m.Plan(snapshot, config.Default().Topology)
	got := m.Route(topo, testTask("build"), snapshot)

	want := []string{"a1", "a2"}
	if len(got) != len(want) {
		t.Fatalf("Route() = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("Route()[%d] = %s, want %s", i, got[i], want[i])
		}
	}
}

func TestHierarchicalPlanRootIsLowestQueen(t *testing.T) {
	snapshot := []shared.AgentInfo{
		testAgent("a1", nil, shared.AgentStatusIdle, 0, 1, false),
		testAgent("q1", nil, shared.AgentStatusIdle, 0, 1, true),
		testAgent("q2", nil, shared.AgentStatusIdle, 0, 1, true),
	}

	h := NewHierarchical()
	topo := h.Plan(snapshot, config.Default().Topology)
	if topo.RootID != "q1" {
		t.Fatalf("RootID = %s, want q1", topo.RootID)
	}
}

func TestHierarchicalPlanFallsBackWithoutQueen(t *testing.T) {
	snapshot := []shared.AgentInfo{
		testAgent("a1", nil, shared.AgentStatusUnreachable, 0, 1, false),
		testAgent("a2", nil, shared.AgentStatusIdle, 0, 1, false),
	}

	h := NewHierarchical()
	topo := h.Plan(snapshot, config.Default().Topology)
	if topo.RootID != "a2" {
		t.Fatalf("RootID = %s, want a2", topo.RootID)
	}
}

func TestHierarchicalRoutePrefersShallowestCapable(t *testing.T) {
	// Branch factor 2: q1 at depth 0, a1/a2 at depth 1, a3..a6 at depth 2.
	snapshot := []shared.AgentInfo{
		testAgent("a1", []string{"test"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a2", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a3", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a4", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("q1", []string{"plan"}, shared.AgentStatusIdle, 0, 1, true),
	}
	cfg := config.Default().Topology
	cfg.BranchFactor = 2

	h := NewHierarchical()
	topo := h.Plan(snapshot, cfg)

	got := h.Route(topo, testTask("build"), snapshot)
	if len(got) != 1 || got[0] != "a2" {
		t.Fatalf("Route() = %v, want [a2]", got)
	}
}

func TestHierarchicalRouteRespectsDepthLimit(t *testing.T) {
	snapshot := []shared.AgentInfo{
		testAgent("a1", []string{"test"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a2", []string{"test"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a3", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("q1", []string{"plan"}, shared.AgentStatusIdle, 0, 1, true),
	}
	cfg := config.Default().Topology
	cfg.BranchFactor = 2
	cfg.DepthLimit = 1

	h := NewHierarchical()
	topo := h.Plan(snapshot, cfg)

	// Only a3 can build, but it sits at depth 2, beyond the limit.
	if got := h.Route(topo, testTask("build"), snapshot); len(got) != 0 {
		t.Fatalf("Route() = %v, want empty beyond depth limit", got)
	}
}

func TestRingRouteRoundRobin(t *testing.T) {
	snapshot := []shared.AgentInfo{
		testAgent("a1", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a2", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a3", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
	}

	r := NewRing()
	topo := r.Plan(snapshot, config.Default().Topology)

	want := []string{"a1", "a2", "a3", "a1"}
	for i, expected := range want {
		got := r.Route(topo, testTask("build"), snapshot)
		if len(got) != 1 || got[0] != expected {
			t.Fatalf("round %d: Route() = %v, want [%s]", i, got, expected)
		}
		r.NoteAssigned(got[0])
	}
}

func TestRingRouteSkipsUnavailable(t *testing.T) {
	snapshot := []shared.AgentInfo{
		testAgent("a1", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("a2", []string{"build"}, shared.AgentStatusBusy, 1, 1, false),
		testAgent("a3", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
	}

	r := NewRing()
	r.NoteAssigned("a1")
	topo := r.Plan(snapshot, config.Default().Topology)

	got := r.Route(topo, testTask("build"), snapshot)
	if len(got) != 1 || got[0] != "a3" {
		t.Fatalf("Route() = %v, want [a3]", got)
	}
}

func TestStarRouteOnlyOffersHub(t *testing.T) {
	snapshot := []shared.AgentInfo{
		testAgent("a1", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("q1", []string{"plan"}, shared.AgentStatusIdle, 0, 4, true),
	}

	s := NewStar()
	topo := s.Plan(snapshot, config.Default().Topology)
	if topo.HubID != "q1" {
		t.Fatalf("HubID = %s, want q1", topo.HubID)
	}

	// The hub brokers work regardless of its own capability tags.
	got := s.Route(topo, testTask("build"), snapshot)
	if len(got) != 1 || got[0] != "q1" {
		t.Fatalf("Route() = %v, want [q1]", got)
	}
}

func TestStarRouteEmptyWhenHubSaturated(t *testing.T) {
	snapshot := []shared.AgentInfo{
		testAgent("a1", []string{"build"}, shared.AgentStatusIdle, 0, 1, false),
		testAgent("q1", nil, shared.AgentStatusBusy, 4, 4, true),
	}

	s := NewStar()
	topo := s.Plan(snapshot, config.Default().Topology)
	if got := s.Route(topo, testTask("build"), snapshot); len(got) != 0 {
		t.Fatalf("Route() = %v, want empty when hub saturated", got)
	}
}

func TestAutoSelectRules(t *testing.T) {
	cfg := config.Default().Topology

	small := make([]shared.AgentInfo, 5)
	medium := make([]shared.AgentInfo, 20)
	large := make([]shared.AgentInfo, 200)
	for _, pop := range [][]shared.AgentInfo{small, medium, large} {
		for i := range pop {
			pop[i] = testAgent(fmt.Sprintf("a%03d", i), []string{"work"}, shared.AgentStatusIdle, 0, 1, false)
		}
	}

	tests := []struct {
		name     string
		snapshot []shared.AgentInfo
		sel      shared.SelectionContext
		want     shared.TopologyKind
	}{
		{"large population goes hierarchical", large, shared.SelectionContext{}, shared.TopologyHierarchical},
		{"small population goes mesh", small, shared.SelectionContext{}, shared.TopologyMesh},
		{"high collaboration goes mesh", medium, shared.SelectionContext{CollaborationRatio: 0.8}, shared.TopologyMesh},
		{"hub affinity goes star", medium, shared.SelectionContext{HubAffinity: 0.9}, shared.TopologyStar},
		{"dependency density goes ring", medium, shared.SelectionContext{DependencyDensity: 0.8}, shared.TopologyRing},
		{"no signal defaults to mesh", medium, shared.SelectionContext{}, shared.TopologyMesh},
		{"star wins over ring when both signal", medium, shared.SelectionContext{HubAffinity: 0.9, DependencyDensity: 0.9}, shared.TopologyStar},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := AutoSelect(tt.snapshot, tt.sel, cfg); got != tt.want {
				t.Fatalf("AutoSelect() = %s, want %s", got, tt.want)
			}
		})
	}
}

func TestAutoSelectCapabilityClusters(t *testing.T) {
	cfg := config.Default().Topology

	// 20 agents in 5 distinct capability clusters, above the mesh bound
	// and beyond the branch factor of 4.
	snapshot := make([]shared.AgentInfo, 20)
	for i := range snapshot {
		cluster := fmt.Sprintf("skill-%d", i%5)
		snapshot[i] = testAgent(fmt.Sprintf("a%02d", i), []string{cluster}, shared.AgentStatusIdle, 0, 1, false)
	}

	if got := AutoSelect(snapshot, shared.SelectionContext{}, cfg); got != shared.TopologyHierarchical {
		t.Fatalf("AutoSelect() = %s, want hierarchical for clustered population", got)
	}
}

func TestForKindDefaultsToMesh(t *testing.T) {
	if got := ForKind("bogus").Kind(); got != shared.TopologyMesh {
		t.Fatalf("ForKind(bogus).Kind() = %s, want mesh", got)
	}
	for _, kind := range []shared.TopologyKind{
		shared.TopologyMesh, shared.TopologyHierarchical, shared.TopologyRing, shared.TopologyStar,
	} {
		if got := ForKind(kind).Kind(); got != kind {
			t.Fatalf("ForKind(%s).Kind() = %s", kind, got)
		}
	}
}
