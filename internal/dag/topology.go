package dag

import (
	"errors"
	"fmt"
	"sort"

	"github.com/dominikbraun/graph"
)

// topology is the edge set and ordering derived from one hash snapshot.
// It is immutable once built and safe for concurrent reads.
type topology struct {
	edges  []Edge
	sorted []NodeKey
	order  map[NodeKey]int

	dependents map[NodeKey][]NodeKey // from -> nodes depending on it
	deps       map[NodeKey][]NodeKey // to -> its dependencies
}

// deriveTopology scans every dependency entry of every record into an edge
// (dep -> node) and sorts the result topologically. Vertices are every key in
// hashes plus every referenced dependency, so a dependency on a key that no
// longer has a record still orders before its dependents.
//
// Ties in the topological order break lexically. A cycle fails with
// ErrCycleFound naming its members.
func deriveTopology(hashes NodeHashes) (*topology, error) {
	t := &topology{
		order:      make(map[NodeKey]int),
		dependents: make(map[NodeKey][]NodeKey),
		deps:       make(map[NodeKey][]NodeKey),
	}

	g := graph.New(graph.StringHash, graph.Directed(), graph.PreventCycles())
	addVertex := func(k NodeKey) error {
		if err := g.AddVertex(k); err != nil && !errors.Is(err, graph.ErrVertexAlreadyExists) {
			return fmt.Errorf("add vertex %s: %w", k, err)
		}
		return nil
	}

	keys := hashes.Keys()
	for _, k := range keys {
		if err := addVertex(k); err != nil {
			return nil, err
		}
	}
	for _, k := range keys {
		for _, dep := range hashes[k].Dependencies() {
			t.edges = append(t.edges, Edge{From: dep, To: k})
		}
	}

	for _, e := range t.edges {
		if err := addVertex(e.From); err != nil {
			return nil, err
		}
		if err := g.AddEdge(e.From, e.To); err != nil {
			switch {
			case errors.Is(err, graph.ErrEdgeAlreadyExists):
				continue
			case errors.Is(err, graph.ErrEdgeCreatesCycle):
				return nil, cycleError(cycleThrough(g, e))
			default:
				return nil, fmt.Errorf("add edge %s -> %s: %w", e.From, e.To, err)
			}
		}
		t.dependents[e.From] = append(t.dependents[e.From], e.To)
		t.deps[e.To] = append(t.deps[e.To], e.From)
	}

	sorted, err := graph.StableTopologicalSort(g, func(a, b NodeKey) bool { return a < b })
	if err != nil {
		return nil, fmt.Errorf("topological sort: %w", err)
	}
	t.sorted = sorted
	for i, k := range sorted {
		t.order[k] = i
	}
	return t, nil
}

// cycleThrough returns the cycle that edge e would close, as
// e.From -> e.To -> ... -> e.From.
func cycleThrough(g graph.Graph[NodeKey, NodeKey], e Edge) []NodeKey {
	if e.From == e.To {
		return []NodeKey{e.From, e.From}
	}
	path, err := graph.ShortestPath(g, e.To, e.From)
	if err != nil || len(path) == 0 {
		return []NodeKey{e.From, e.To, e.From}
	}
	return append([]NodeKey{e.From}, path...)
}

// downstream returns every node that transitively depends on key.
func (t *topology) downstream(key NodeKey) []NodeKey {
	return t.closure(key, t.dependents)
}

// upstream returns every transitive dependency of key.
func (t *topology) upstream(key NodeKey) []NodeKey {
	return t.closure(key, t.deps)
}

// closure walks adj depth-first from key and returns the visited set, minus
// key itself, in topological order.
func (t *topology) closure(key NodeKey, adj map[NodeKey][]NodeKey) []NodeKey {
	visited := map[NodeKey]struct{}{key: {}}
	var dfs func(k NodeKey)
	dfs = func(k NodeKey) {
		for _, next := range adj[k] {
			if _, seen := visited[next]; seen {
				continue
			}
			visited[next] = struct{}{}
			dfs(next)
		}
	}
	dfs(key)
	delete(visited, key)

	out := make([]NodeKey, 0, len(visited))
	for _, k := range t.sorted {
		if _, ok := visited[k]; ok {
			out = append(out, k)
		}
	}
	return out
}

// ordered sorts keys by topological position; keys unknown to the topology
// (removed nodes nothing references) go last in lexical order.
func (t *topology) ordered(keys []NodeKey) []NodeKey {
	out := make([]NodeKey, len(keys))
	copy(out, keys)
	sort.SliceStable(out, func(i, j int) bool {
		pi, iok := t.order[out[i]]
		pj, jok := t.order[out[j]]
		switch {
		case iok && jok:
			return pi < pj
		case iok != jok:
			return iok
		default:
			return out[i] < out[j]
		}
	})
	return out
}
