package dag

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
)

// Backend supplies the collaborator hooks a Graph runs during Initialize.
type Backend interface {
	// Setup prepares access to the node source.
	Setup(ctx context.Context) error
	// Nodes returns the current node set.
	Nodes(ctx context.Context) (map[NodeKey]Node, error)
	// PreviousHashes loads the snapshot persisted by the last run.
	PreviousHashes(ctx context.Context) (NodeHashes, error)
	// NewHashes computes this run's snapshot. previous is the loaded snapshot
	// (never nil) so implementations can carry captured dependencies forward.
	NewHashes(ctx context.Context, previous NodeHashes) (NodeHashes, error)
	// PersistHashes stores hashes for the next run.
	PersistHashes(ctx context.Context, hashes NodeHashes) error
}

// Deriver is implemented by backends that read a node's dependencies out of
// its own content. Each method records dependency hashes into hashes[key].
type Deriver interface {
	ProcessLLMNode(ctx context.Context, key NodeKey, nodes map[NodeKey]Node, hashes NodeHashes) error
	ProcessExtractionNode(ctx context.Context, key NodeKey, nodes map[NodeKey]Node, hashes NodeHashes) error
}

// Unimplemented is a Deriver that derives nothing.
type Unimplemented struct{}

func (Unimplemented) ProcessLLMNode(context.Context, NodeKey, map[NodeKey]Node, NodeHashes) error {
	return ErrNotImplemented
}

func (Unimplemented) ProcessExtractionNode(context.Context, NodeKey, map[NodeKey]Node, NodeHashes) error {
	return ErrNotImplemented
}

// Options configures a Graph.
type Options struct {
	// BackPropagation additionally flags every ancestor of a changed node.
	BackPropagation bool
	Logger          *slog.Logger
}

// Graph tracks content-hashed nodes and their dependencies across runs and
// decides what changed, what must be redone, and in what order.
//
// All state is written once by Initialize and read-only afterwards.
type Graph struct {
	backend Backend
	opts    Options
	log     *slog.Logger

	once  sync.Once
	ready chan struct{}
	err   error

	hashes    NodeHashes
	previous  NodeHashes
	topo      *topology
	updates   NodeUpdates
	deriveErr []error
}

// NewGraph returns an uninitialized graph over backend.
func NewGraph(backend Backend, opts Options) *Graph {
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	return &Graph{
		backend: backend,
		opts:    opts,
		log:     log,
		ready:   make(chan struct{}),
	}
}

// Initialize runs setup, previous-hash load, new-hash computation, dependency
// derivation, topology derivation and update classification, in that order.
// Only the first call does work; concurrent and later callers get its result.
func (g *Graph) Initialize(ctx context.Context) error {
	g.once.Do(func() {
		g.err = g.initialize(ctx)
		close(g.ready)
	})
	return g.err
}

// Ready is closed once Initialize has finished, successfully or not.
func (g *Graph) Ready() <-chan struct{} { return g.ready }

// Wait blocks until Initialize has finished and returns its error.
func (g *Graph) Wait(ctx context.Context) error {
	select {
	case <-g.ready:
		return g.err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (g *Graph) initialize(ctx context.Context) error {
	if err := g.backend.Setup(ctx); err != nil {
		return fmt.Errorf("setup: %w", err)
	}

	previous, err := g.backend.PreviousHashes(ctx)
	if err != nil {
		g.log.Warn("previous hashes unavailable, treating all nodes as new", "err", err)
		previous = nil
	}
	if previous == nil {
		previous = NodeHashes{}
	}

	hashes, err := g.backend.NewHashes(ctx, previous)
	if err != nil {
		return fmt.Errorf("compute hashes: %w", err)
	}
	if hashes == nil {
		hashes = NodeHashes{}
	}
	if err := hashes.Validate(); err != nil {
		return err
	}

	if d, ok := g.backend.(Deriver); ok {
		if err := g.derive(ctx, d, hashes); err != nil {
			return err
		}
	}

	topo, err := deriveTopology(hashes)
	if err != nil {
		return err
	}

	g.previous = previous
	g.hashes = hashes
	g.topo = topo
	g.updates = classify(hashes, previous, topo, g.opts.BackPropagation, g.log)
	return nil
}

// derive runs the dependency hooks for every content-driven node. A failing
// node is logged and skipped; the run continues.
func (g *Graph) derive(ctx context.Context, d Deriver, hashes NodeHashes) error {
	nodes, err := g.backend.Nodes(ctx)
	if err != nil {
		return fmt.Errorf("read nodes: %w", err)
	}
	for _, key := range hashes.Keys() {
		if err := ctx.Err(); err != nil {
			return err
		}
		node, ok := nodes[key]
		if !ok {
			continue
		}
		var derr error
		switch node.Type {
		case NodeTypeLLM:
			derr = d.ProcessLLMNode(ctx, key, nodes, hashes)
		case NodeTypeExtraction:
			derr = d.ProcessExtractionNode(ctx, key, nodes, hashes)
		default:
			continue
		}
		if derr != nil {
			g.log.Error("dependency derivation failed", "node", key, "type", node.Type, "err", derr)
			g.deriveErr = append(g.deriveErr, fmt.Errorf("node %s: %w", key, derr))
		}
	}
	return nil
}

// state reports whether queries may be served.
func (g *Graph) state() error {
	select {
	case <-g.ready:
		if g.err != nil {
			return fmt.Errorf("%w: %w", ErrNotInitialized, g.err)
		}
		return nil
	default:
		return ErrNotInitialized
	}
}

// BackPropagation reports whether ancestors are invalidated too.
func (g *Graph) BackPropagation() bool { return g.opts.BackPropagation }

// NodeUpdates returns a copy of the classification.
func (g *Graph) NodeUpdates() (NodeUpdates, error) {
	if err := g.state(); err != nil {
		return nil, err
	}
	out := make(NodeUpdates, len(g.updates))
	for k, u := range g.updates {
		out[k] = u
	}
	return out, nil
}

// Hashes returns a copy of this run's snapshot.
func (g *Graph) Hashes() (NodeHashes, error) {
	if err := g.state(); err != nil {
		return nil, err
	}
	return g.hashes.Clone(), nil
}

// PreviousHashes returns a copy of the loaded snapshot.
func (g *Graph) PreviousHashes() (NodeHashes, error) {
	if err := g.state(); err != nil {
		return nil, err
	}
	return g.previous.Clone(), nil
}

// Dependencies returns the derived edges.
func (g *Graph) Dependencies() ([]Edge, error) {
	if err := g.state(); err != nil {
		return nil, err
	}
	out := make([]Edge, len(g.topo.edges))
	copy(out, g.topo.edges)
	return out, nil
}

// SortedNodes returns every node in topological order.
func (g *Graph) SortedNodes() ([]NodeKey, error) {
	if err := g.state(); err != nil {
		return nil, err
	}
	out := make([]NodeKey, len(g.topo.sorted))
	copy(out, g.topo.sorted)
	return out, nil
}

// DownstreamKeys returns every node that transitively depends on key, in
// topological order, excluding key.
func (g *Graph) DownstreamKeys(key NodeKey) ([]NodeKey, error) {
	if err := g.state(); err != nil {
		return nil, err
	}
	return g.topo.downstream(key), nil
}

// UpstreamKeys returns every transitive dependency of key, in topological
// order, excluding key.
func (g *Graph) UpstreamKeys(key NodeKey) ([]NodeKey, error) {
	if err := g.state(); err != nil {
		return nil, err
	}
	return g.topo.upstream(key), nil
}

// DerivationErrors returns the per-node failures recorded during derivation.
func (g *Graph) DerivationErrors() []error {
	if g.state() != nil {
		return nil
	}
	out := make([]error, len(g.deriveErr))
	copy(out, g.deriveErr)
	return out
}

// PersistHashes writes this run's snapshot through the backend.
func (g *Graph) PersistHashes(ctx context.Context) error {
	if err := g.state(); err != nil {
		return err
	}
	if err := g.backend.PersistHashes(ctx, g.hashes); err != nil {
		return fmt.Errorf("persist hashes: %w", err)
	}
	return nil
}
