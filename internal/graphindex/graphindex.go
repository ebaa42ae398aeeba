// Package graphindex implements GraphIndex: a typed knowledge graph over
// volume ids with BFS traversal (spec.md §4.2).
package graphindex

import (
	"fmt"
	"sort"
	"sync"

	"github.com/fyrsmithlabs/librarycore/internal/libcore"
)

// Neighbor is one hop out of a node: the edge describing the relation and
// the id on the other end of it.
type Neighbor struct {
	Edge    libcore.Edge
	OtherID string
}

// TraversalHit is one node reached by Traverse: its hop distance from the
// origin and the (shortest, first-discovered) path that reached it,
// origin included.
type TraversalHit struct {
	VolumeID string
	Depth    int
	Path     []string
}

// GraphIndex stores directed, typed, origin-tagged edges between volume
// ids and answers neighbor/traversal queries by adjacency-list BFS.
type GraphIndex struct {
	mu sync.RWMutex
	// edges[from][type][to] = origin of the from->to edge of that type.
	edges map[string]map[libcore.EdgeType]map[string]libcore.EdgeOrigin
	nodes map[string]bool
}

// New constructs an empty GraphIndex.
func New() *GraphIndex {
	return &GraphIndex{
		edges: make(map[string]map[libcore.EdgeType]map[string]libcore.EdgeOrigin),
		nodes: make(map[string]bool),
	}
}

// AddEdge inserts a directed edge from -> to of the given type and origin,
// and idempotently creates the type's dual edge to -> from with the same
// origin (spec.md §4.2): Related and Contradicts are symmetric so the dual
// has the same type; Parent/Child and FollowsFrom/PrecededBy are duals of
// each other. Inserting the same (from, to, type) twice is a no-op; the
// origin recorded on first insertion is retained.
func (g *GraphIndex) AddEdge(from, to string, edgeType libcore.EdgeType, origin libcore.EdgeOrigin) error {
	if from == "" || to == "" {
		return fmt.Errorf("%w: edge endpoints cannot be empty", libcore.ErrValidation)
	}
	if from == to {
		return fmt.Errorf("%w: self-loop edges are not supported", libcore.ErrValidation)
	}
	if origin == "" {
		origin = libcore.EdgeExplicit
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.nodes[from] = true
	g.nodes[to] = true

	g.insertDirected(from, to, edgeType, origin)
	g.insertDirected(to, from, edgeType.Inverse(), origin)
	return nil
}

func (g *GraphIndex) insertDirected(from, to string, edgeType libcore.EdgeType, origin libcore.EdgeOrigin) {
	if g.edges[from] == nil {
		g.edges[from] = make(map[libcore.EdgeType]map[string]libcore.EdgeOrigin)
	}
	if g.edges[from][edgeType] == nil {
		g.edges[from][edgeType] = make(map[string]libcore.EdgeOrigin)
	}
	if _, exists := g.edges[from][edgeType][to]; exists {
		return
	}
	g.edges[from][edgeType][to] = origin
}

// Neighbors returns the edges directly out of id, optionally filtered to a
// single edge type (pass "" for all types), each paired with the id on the
// other end.
func (g *GraphIndex) Neighbors(id string, edgeType libcore.EdgeType) []Neighbor {
	g.mu.RLock()
	defer g.mu.RUnlock()

	byType, ok := g.edges[id]
	if !ok {
		return nil
	}

	var out []Neighbor
	appendType := func(t libcore.EdgeType, targets map[string]libcore.EdgeOrigin) {
		for to, origin := range targets {
			out = append(out, Neighbor{
				Edge:    libcore.Edge{From: id, To: to, Type: t, Origin: origin},
				OtherID: to,
			})
		}
	}
	if edgeType != "" {
		appendType(edgeType, byType[edgeType])
		return out
	}
	for t, targets := range byType {
		appendType(t, targets)
	}
	return out
}

// Traverse performs a breadth-first search from id up to maxDepth hops,
// optionally restricted to a single edge type. Each reachable node is
// visited at most once, retaining the first (shortest) path found; nodes
// are returned in BFS order with ties at the same depth broken by id
// ascending (spec.md §4.2).
func (g *GraphIndex) Traverse(id string, maxDepth int, edgeType libcore.EdgeType) []TraversalHit {
	g.mu.RLock()
	defer g.mu.RUnlock()

	if _, ok := g.nodes[id]; !ok {
		return nil
	}

	visited := map[string]bool{id: true}
	paths := map[string][]string{id: {id}}
	frontier := []string{id}

	var hits []TraversalHit
	for depth := 1; depth <= maxDepth && len(frontier) > 0; depth++ {
		sort.Strings(frontier)

		discovered := map[string]bool{}
		for _, cur := range frontier {
			var targets []string
			for t, m := range g.edges[cur] {
				if edgeType != "" && t != edgeType {
					continue
				}
				for to := range m {
					targets = append(targets, to)
				}
			}
			sort.Strings(targets)
			for _, to := range targets {
				if visited[to] || discovered[to] {
					continue
				}
				discovered[to] = true
				path := make([]string, len(paths[cur])+1)
				copy(path, paths[cur])
				path[len(path)-1] = to
				paths[to] = path
			}
		}

		var next []string
		for to := range discovered {
			visited[to] = true
			next = append(next, to)
		}
		sort.Strings(next)

		for _, to := range next {
			hits = append(hits, TraversalHit{VolumeID: to, Depth: depth, Path: paths[to]})
		}
		frontier = next
	}
	return hits
}

// RemoveNode deletes id and every edge touching it, in either direction.
func (g *GraphIndex) RemoveNode(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.nodes, id)
	delete(g.edges, id)
	for _, byType := range g.edges {
		for _, targets := range byType {
			delete(targets, id)
		}
	}
}

// Clear removes every node and edge from the graph.
func (g *GraphIndex) Clear() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.edges = make(map[string]map[libcore.EdgeType]map[string]libcore.EdgeOrigin)
	g.nodes = make(map[string]bool)
}

// Nodes returns every node id currently present in the graph.
func (g *GraphIndex) Nodes() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	out := make([]string, 0, len(g.nodes))
	for id := range g.nodes {
		out = append(out, id)
	}
	return out
}

// Edges returns every edge currently stored, for snapshotting.
func (g *GraphIndex) Edges() []libcore.Edge {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var out []libcore.Edge
	for from, byType := range g.edges {
		for t, targets := range byType {
			for to, origin := range targets {
				out = append(out, libcore.Edge{From: from, To: to, Type: t, Origin: origin})
			}
		}
	}
	return out
}
