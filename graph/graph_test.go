package graph

import (
	"testing"

	"github.com/BaSui01/phaseflow/types"
)

func buildGraph(t *testing.T, nodes []string, edges [][2]string) *DependencyGraph {
	t.Helper()
	g := NewDependencyGraph(nil)
	for _, id := range nodes {
		g.AddNode(id, nil)
	}
	for _, e := range edges {
		if err := g.AddEdge(e[0], e[1], EdgeLogic, ""); err != nil {
			t.Fatalf("add edge %v: %v", e, err)
		}
	}
	return g
}

func TestTopologicalLevels_DiamondFanIn(t *testing.T) {
	// A and B are independent, C needs both.
	g := buildGraph(t, []string{"A", "B", "C"}, [][2]string{{"A", "C"}, {"B", "C"}})

	levels, err := g.TopologicalLevels()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(levels) != 2 {
		t.Fatalf("expected 2 levels, got %d: %v", len(levels), levels)
	}
	if len(levels[0]) != 2 || levels[0][0] != "A" || levels[0][1] != "B" {
		t.Fatalf("expected level 0 = [A B] in insertion order, got %v", levels[0])
	}
	if len(levels[1]) != 1 || levels[1][0] != "C" {
		t.Fatalf("expected level 1 = [C], got %v", levels[1])
	}
}

func TestTopologicalLevels_Cycle(t *testing.T) {
	g := buildGraph(t, []string{"A", "B"}, [][2]string{{"A", "B"}, {"B", "A"}})

	if !g.DetectCycles() {
		t.Fatalf("expected cycle to be detected")
	}
	_, err := g.TopologicalLevels()
	if err == nil {
		t.Fatalf("expected error for cyclic graph")
	}
	if types.GetErrorCode(err) != types.ErrCircularDependency {
		t.Fatalf("expected CIRCULAR_DEPENDENCY, got %v", err)
	}
}

func TestTopologicalLevels_SelfLoop(t *testing.T) {
	g := buildGraph(t, []string{"A"}, [][2]string{{"A", "A"}})

	if !g.DetectCycles() {
		t.Fatalf("expected self-loop to be detected")
	}
	if _, err := g.TopologicalLevels(); types.GetErrorCode(err) != types.ErrCircularDependency {
		t.Fatalf("expected CIRCULAR_DEPENDENCY, got %v", err)
	}
}

func TestAddEdge_MissingEndpoint(t *testing.T) {
	g := NewDependencyGraph(nil)
	g.AddNode("A", nil)

	err := g.AddEdge("A", "ghost", EdgeData, "consumes output")
	if types.GetErrorCode(err) != types.ErrMissingNode {
		t.Fatalf("expected MISSING_NODE, got %v", err)
	}
	err = g.AddEdge("ghost", "A", EdgeData, "")
	if types.GetErrorCode(err) != types.ErrMissingNode {
		t.Fatalf("expected MISSING_NODE, got %v", err)
	}
}

func TestAddEdge_NoneAndDuplicatesIgnored(t *testing.T) {
	g := buildGraph(t, []string{"A", "B"}, nil)

	if err := g.AddEdge("A", "B", EdgeNone, ""); err != nil {
		t.Fatalf("none edge must be a no-op: %v", err)
	}
	if len(g.Edges()) != 0 {
		t.Fatalf("none edge must not be materialized")
	}

	if err := g.AddEdge("A", "B", EdgeOrder, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := g.AddEdge("A", "B", EdgeOrder, ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	node, _ := g.GetNode("B")
	if node.InDegree != 1 {
		t.Fatalf("duplicate edge must not bump in-degree, got %d", node.InDegree)
	}
}

func TestAddNode_DuplicateOverwritesMetadata(t *testing.T) {
	g := NewDependencyGraph(nil)
	g.AddNode("A", map[string]any{"v": 1})
	g.AddNode("A", map[string]any{"v": 2})

	if g.Len() != 1 {
		t.Fatalf("duplicate id must not grow the graph")
	}
	node, _ := g.GetNode("A")
	if node.Metadata["v"] != 2 {
		t.Fatalf("expected metadata overwrite, got %v", node.Metadata)
	}
}

func TestAdjacencyLists(t *testing.T) {
	g := buildGraph(t, []string{"A", "B", "C"}, [][2]string{{"A", "B"}, {"A", "C"}, {"B", "C"}})

	deps := g.GetDependencies("C")
	if len(deps) != 2 || deps[0] != "A" || deps[1] != "B" {
		t.Fatalf("unexpected dependencies of C: %v", deps)
	}
	dependents := g.GetDependents("A")
	if len(dependents) != 2 || dependents[0] != "B" || dependents[1] != "C" {
		t.Fatalf("unexpected dependents of A: %v", dependents)
	}
	if got := g.GetDependencies("A"); len(got) != 0 {
		t.Fatalf("expected A to have no dependencies, got %v", got)
	}
}
