// Package artifact implements the frozen-dependency graph. Dependencies are
// captured once by a definition graph and carried forward unchanged; each run
// only recomputes content hashes.
package artifact

import (
	"context"
	"log/slog"

	"github.com/google/uuid"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/hashing"
)

// RevisionField is the job payload field carrying the graph revision.
const RevisionField = "agrID"

// Options configures an artifact Graph.
type Options struct {
	BackPropagation bool
	HashWorkers     int
	// Revision identifies this graph's fabrication. Empty means a new UUID.
	Revision string
	Logger   *slog.Logger
}

// Backend hashes nodes and carries previously captured dependencies forward.
// It does not implement dag.Deriver.
type Backend struct {
	src     dag.NodeSource
	store   dag.HashStore
	workers int
}

// NewBackend returns a Backend over src and store.
func NewBackend(src dag.NodeSource, store dag.HashStore, workers int) *Backend {
	return &Backend{src: src, store: store, workers: workers}
}

func (b *Backend) Setup(ctx context.Context) error { return b.src.Setup(ctx) }

func (b *Backend) Nodes(ctx context.Context) (map[dag.NodeKey]dag.Node, error) {
	return b.src.Nodes(ctx)
}

func (b *Backend) PreviousHashes(ctx context.Context) (dag.NodeHashes, error) {
	return b.store.Load(ctx)
}

// NewHashes hashes every node, then copies each surviving node's previous
// dependencies into its new record. A carried dependency takes the
// dependency's fresh hash when it still exists and keeps the old captured
// value otherwise.
func (b *Backend) NewHashes(ctx context.Context, previous dag.NodeHashes) (dag.NodeHashes, error) {
	nodes, err := b.src.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	hashes, err := hashing.Nodes(ctx, nodes, b.workers)
	if err != nil {
		return nil, err
	}
	carryForward(hashes, previous)
	return hashes, nil
}

func carryForward(hashes, previous dag.NodeHashes) {
	for _, key := range previous.Keys() {
		rec, ok := hashes[key]
		if !ok {
			continue
		}
		old := previous[key]
		for _, dep := range old.Dependencies() {
			h, _ := old.Dependency(dep)
			if fresh, ok := hashes[dep]; ok {
				h = fresh.Current
			}
			rec.SetDependency(dep, h)
		}
	}
}

func (b *Backend) PersistHashes(ctx context.Context, hashes dag.NodeHashes) error {
	return b.store.Save(ctx, hashes)
}

// Graph is a frozen-dependency graph with a revision ID.
type Graph struct {
	*dag.Graph
	revision string
}

// NewGraph returns an uninitialized artifact graph.
func NewGraph(src dag.NodeSource, store dag.HashStore, opts Options) *Graph {
	rev := opts.Revision
	if rev == "" {
		rev = uuid.NewString()
	}
	backend := NewBackend(src, store, opts.HashWorkers)
	return &Graph{
		Graph: dag.NewGraph(backend, dag.Options{
			BackPropagation: opts.BackPropagation,
			Logger:          opts.Logger,
		}),
		revision: rev,
	}
}

// Revision returns the graph's revision ID.
func (g *Graph) Revision() string { return g.revision }

// UpdateFlow builds the update flow. Without an extra hook every job payload
// carries the revision under RevisionField.
func (g *Graph) UpdateFlow(d dag.FlowDetails, extra dag.ExtraJobData) (*dag.FlowJob, error) {
	if extra == nil {
		extra = func(dag.NodeKey, dag.NodeUpdate) map[string]any {
			return map[string]any{RevisionField: g.revision}
		}
	}
	return g.Graph.UpdateFlow(d, extra)
}
