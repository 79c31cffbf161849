package graph

import (
	"strings"

	"github.com/BaSui01/phaseflow/types"
)

// DetectCycles reports whether the graph contains a dependency cycle.
// It runs a DFS with a recursion-stack set in O(V+E).
func (g *DependencyGraph) DetectCycles() bool {
	visited := make(map[string]bool, len(g.nodes))
	onStack := make(map[string]bool, len(g.nodes))

	var visit func(id string) bool
	visit = func(id string) bool {
		visited[id] = true
		onStack[id] = true
		for _, next := range g.dependents[id] {
			if !visited[next] {
				if visit(next) {
					return true
				}
			} else if onStack[next] {
				return true
			}
		}
		onStack[id] = false
		return false
	}

	for _, id := range g.order {
		if !visited[id] {
			if visit(id) {
				return true
			}
		}
	}
	return false
}

// TopologicalLevels orders the graph into Kahn levels. Each level is the
// maximal set of unscheduled nodes whose remaining in-degree is zero, in
// node insertion order. It returns a CIRCULAR_DEPENDENCY error if cycle
// detection fails, or, as a safety net, if no node is ready while nodes
// remain.
func (g *DependencyGraph) TopologicalLevels() ([][]string, error) {
	if g.DetectCycles() {
		return nil, types.NewError(types.ErrCircularDependency, "dependency graph contains a cycle")
	}

	remaining := make(map[string]int, len(g.nodes))
	for id, node := range g.nodes {
		remaining[id] = node.InDegree
	}
	scheduled := make(map[string]bool, len(g.nodes))

	var levels [][]string
	for len(scheduled) < len(g.nodes) {
		var level []string
		for _, id := range g.order {
			if !scheduled[id] && remaining[id] == 0 {
				level = append(level, id)
			}
		}
		if len(level) == 0 {
			var stuck []string
			for _, id := range g.order {
				if !scheduled[id] {
					stuck = append(stuck, id)
				}
			}
			return nil, types.NewErrorf(types.ErrCircularDependency,
				"no schedulable node among remaining: %s", strings.Join(stuck, ", "))
		}
		for _, id := range level {
			scheduled[id] = true
			for _, next := range g.dependents[id] {
				remaining[next]--
			}
		}
		levels = append(levels, level)
	}
	return levels, nil
}
