/*
Package graph implements the dependency graph used to schedule work inside
a single phase.

A DependencyGraph owns TaskNodes connected by typed DependencyEdges.
Membership is fixed at graph-build time; adding an edge only updates
in-degree and adjacency bookkeeping. Before any scheduling attempt the
graph must be acyclic: DetectCycles runs a DFS with a recursion-stack set,
and TopologicalLevels produces Kahn levels, where each level is the
maximal set of not-yet-scheduled nodes whose remaining in-degree is zero.
Within a level, nodes keep insertion order; there is no priority
scheduling.
*/
package graph
