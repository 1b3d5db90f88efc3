// Package prompt implements the definition graph: every run it reads each
// prompt's dependencies out of the prompt itself.
package prompt

import (
	"context"
	"log/slog"
	"strings"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/extract"
	"github.com/gyaneshwarpardhi/promptgraph/internal/hashing"
)

// Options configures a prompt Backend and its Graph.
type Options struct {
	BackPropagation bool
	// HashWorkers bounds parallel content hashing.
	HashWorkers int
	// Extractors defaults to extract.Default().
	Extractors *extract.Registry
	Logger     *slog.Logger
}

// Backend hashes nodes from a NodeSource, keeps snapshots in a HashStore and
// derives LLM and extraction dependencies from node content.
type Backend struct {
	src     dag.NodeSource
	store   dag.HashStore
	reg     *extract.Registry
	workers int
}

var _ dag.Deriver = (*Backend)(nil)

// NewBackend returns a Backend over src and store.
func NewBackend(src dag.NodeSource, store dag.HashStore, opts Options) *Backend {
	reg := opts.Extractors
	if reg == nil {
		reg = extract.Default()
	}
	return &Backend{src: src, store: store, reg: reg, workers: opts.HashWorkers}
}

// NewGraph returns an uninitialized definition graph.
func NewGraph(src dag.NodeSource, store dag.HashStore, opts Options) *dag.Graph {
	return dag.NewGraph(NewBackend(src, store, opts), dag.Options{
		BackPropagation: opts.BackPropagation,
		Logger:          opts.Logger,
	})
}

func (b *Backend) Setup(ctx context.Context) error { return b.src.Setup(ctx) }

func (b *Backend) Nodes(ctx context.Context) (map[dag.NodeKey]dag.Node, error) {
	return b.src.Nodes(ctx)
}

func (b *Backend) PreviousHashes(ctx context.Context) (dag.NodeHashes, error) {
	return b.store.Load(ctx)
}

// NewHashes hashes every node's content. Dependencies are filled in later by
// the Process hooks.
func (b *Backend) NewHashes(ctx context.Context, _ dag.NodeHashes) (dag.NodeHashes, error) {
	nodes, err := b.src.Nodes(ctx)
	if err != nil {
		return nil, err
	}
	return hashing.Nodes(ctx, nodes, b.workers)
}

func (b *Backend) PersistHashes(ctx context.Context, hashes dag.NodeHashes) error {
	return b.store.Save(ctx, hashes)
}

// ProcessLLMNode captures the current hash of every node the template
// references. If any referenced node does not exist nothing is captured.
func (b *Backend) ProcessLLMNode(ctx context.Context, key dag.NodeKey, nodes map[dag.NodeKey]dag.Node, hashes dag.NodeHashes) error {
	deps, err := b.dependencies(key, dag.NodeTypeLLM, nodes)
	if err != nil {
		return err
	}
	var missing []string
	for _, dep := range deps {
		if _, ok := hashes[dep]; !ok {
			missing = append(missing, dep)
		}
	}
	if len(missing) > 0 {
		return dag.Errorf(dag.ErrMissingDependency, "template %s references %s", key, strings.Join(missing, ", "))
	}
	for _, dep := range deps {
		hashes[key].SetDependency(dep, hashes[dep].Current)
	}
	return nil
}

// ProcessExtractionNode captures the hash of the extraction's source. External
// nodes cannot be a source.
func (b *Backend) ProcessExtractionNode(ctx context.Context, key dag.NodeKey, nodes map[dag.NodeKey]dag.Node, hashes dag.NodeHashes) error {
	deps, err := b.dependencies(key, dag.NodeTypeExtraction, nodes)
	if err != nil {
		return err
	}
	for _, src := range deps {
		node, ok := nodes[src]
		if !ok || hashes[src] == nil {
			return dag.Errorf(dag.ErrMissingDependency, "source %s not found for extraction %s", src, key)
		}
		if node.Type == dag.NodeTypeExternal {
			return dag.Errorf(dag.ErrInvalidSource, "extraction %s cannot read external node %s", key, src)
		}
	}
	for _, src := range deps {
		hashes[key].SetDependency(src, hashes[src].Current)
	}
	return nil
}

func (b *Backend) dependencies(key dag.NodeKey, t dag.NodeType, nodes map[dag.NodeKey]dag.Node) ([]dag.NodeKey, error) {
	node, ok := nodes[key]
	if !ok {
		return nil, dag.Errorf(dag.ErrUnknownNode, "%q", key)
	}
	ex, err := b.reg.Get(t)
	if err != nil {
		return nil, err
	}
	return ex.Dependencies(node.Content)
}
