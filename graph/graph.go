package graph

import (
	"go.uber.org/zap"

	"github.com/BaSui01/phaseflow/types"
)

// EdgeType classifies why one task depends on another.
type EdgeType string

const (
	// EdgeData means the target consumes data produced by the source.
	EdgeData EdgeType = "data"
	// EdgeFile means the target reads a file written by the source.
	EdgeFile EdgeType = "file"
	// EdgeAPI means the target calls an API the source provisions.
	EdgeAPI EdgeType = "api"
	// EdgeLogic means the target's logic builds on the source's outcome.
	EdgeLogic EdgeType = "logic"
	// EdgeOrder means the target must simply run after the source.
	EdgeOrder EdgeType = "order"
	// EdgeNone marks the absence of a dependency; it is never materialized
	// as a real edge.
	EdgeNone EdgeType = "none"
)

// TaskNode represents a single schedulable unit inside a phase.
type TaskNode struct {
	ID       string         `json:"id"`
	Metadata map[string]any `json:"metadata,omitempty"`
	// InDegree is the number of incoming dependency edges.
	InDegree int `json:"in_degree"`
}

// DependencyEdge is a typed, directed edge between two task nodes.
type DependencyEdge struct {
	From   string   `json:"from"`
	To     string   `json:"to"`
	Type   EdgeType `json:"type"`
	Reason string   `json:"reason,omitempty"`
}

// DependencyGraph owns all task nodes and edges of one phase's work plan.
type DependencyGraph struct {
	nodes map[string]*TaskNode
	// order preserves node insertion order for deterministic leveling.
	order []string
	edges []DependencyEdge
	// dependencies[id] lists the nodes id depends on (incoming edges).
	dependencies map[string][]string
	// dependents[id] lists the nodes depending on id (outgoing edges).
	dependents map[string][]string
	edgeSet    map[[2]string]struct{}
	logger     *zap.Logger
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph(logger *zap.Logger) *DependencyGraph {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DependencyGraph{
		nodes:        make(map[string]*TaskNode),
		dependencies: make(map[string][]string),
		dependents:   make(map[string][]string),
		edgeSet:      make(map[[2]string]struct{}),
		logger:       logger.With(zap.String("component", "dependency_graph")),
	}
}

// AddNode adds a node to the graph. Adding an existing ID overwrites the
// node's metadata and logs a warning; edges already attached to the ID are
// kept.
func (g *DependencyGraph) AddNode(id string, metadata map[string]any) *TaskNode {
	if existing, ok := g.nodes[id]; ok {
		g.logger.Warn("duplicate node id, overwriting metadata",
			zap.String("node_id", id))
		existing.Metadata = metadata
		return existing
	}
	node := &TaskNode{ID: id, Metadata: metadata}
	g.nodes[id] = node
	g.order = append(g.order, id)
	return node
}

// AddEdge adds a directed dependency edge from one node to another. Both
// endpoints must already exist. EdgeNone edges are dropped without effect;
// exact duplicate edges are ignored so in-degree stays consistent.
func (g *DependencyGraph) AddEdge(from, to string, edgeType EdgeType, reason string) error {
	if edgeType == EdgeNone {
		return nil
	}
	if _, ok := g.nodes[from]; !ok {
		return types.NewErrorf(types.ErrMissingNode, "edge source %q does not exist", from)
	}
	if _, ok := g.nodes[to]; !ok {
		return types.NewErrorf(types.ErrMissingNode, "edge target %q does not exist", to)
	}
	key := [2]string{from, to}
	if _, ok := g.edgeSet[key]; ok {
		return nil
	}
	g.edgeSet[key] = struct{}{}
	g.edges = append(g.edges, DependencyEdge{From: from, To: to, Type: edgeType, Reason: reason})
	g.dependencies[to] = append(g.dependencies[to], from)
	g.dependents[from] = append(g.dependents[from], to)
	g.nodes[to].InDegree++
	return nil
}

// GetNode retrieves a node by ID.
func (g *DependencyGraph) GetNode(id string) (*TaskNode, bool) {
	node, ok := g.nodes[id]
	return node, ok
}

// GetDependencies returns the IDs the given node depends on.
func (g *DependencyGraph) GetDependencies(id string) []string {
	return g.dependencies[id]
}

// GetDependents returns the IDs depending on the given node.
func (g *DependencyGraph) GetDependents(id string) []string {
	return g.dependents[id]
}

// Edges returns all materialized edges in insertion order.
func (g *DependencyGraph) Edges() []DependencyEdge {
	return g.edges
}

// NodeIDs returns all node IDs in insertion order.
func (g *DependencyGraph) NodeIDs() []string {
	ids := make([]string, len(g.order))
	copy(ids, g.order)
	return ids
}

// Len returns the number of nodes in the graph.
func (g *DependencyGraph) Len() int {
	return len(g.nodes)
}
