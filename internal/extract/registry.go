package extract

import (
	"fmt"
	"sort"
	"sync"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// Extractor reads the keys a node depends on out of its content. It must not
// touch anything but its input.
type Extractor interface {
	Type() dag.NodeType
	Dependencies(content []byte) ([]dag.NodeKey, error)
}

// Registry maps node types to their extractors.
// It is safe for concurrent reads; Register should only be called at startup.
type Registry struct {
	mu         sync.RWMutex
	extractors map[dag.NodeType]Extractor
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[dag.NodeType]Extractor)}
}

// Default returns a registry holding Template for LLM nodes and Source for
// extraction nodes.
func Default() *Registry {
	r := NewRegistry()
	r.Register(Template{})
	r.Register(Source{})
	return r
}

// Register adds an extractor. Panics on duplicate type to surface misconfiguration early.
func (r *Registry) Register(e Extractor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.extractors[e.Type()]; exists {
		panic(fmt.Sprintf("extract registry: duplicate node type %s", e.Type()))
	}
	r.extractors[e.Type()] = e
}

// Get returns the extractor for the given node type.
func (r *Registry) Get(t dag.NodeType) (Extractor, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[t]
	if !ok {
		return nil, fmt.Errorf("%w: no extractor registered for node type %s", dag.ErrNotImplemented, t)
	}
	return e, nil
}

// Types returns all registered node types in ascending order.
func (r *Registry) Types() []dag.NodeType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]dag.NodeType, 0, len(r.extractors))
	for k := range r.extractors {
		out = append(out, k)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
