package dag

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// currentField is the name the node's own hash is persisted under.
const currentField = "current"

type depHash struct {
	key  NodeKey
	hash Hash
}

// NodeHash is a node's hash record: its own content hash plus the hash of each
// direct dependency captured when the record was last computed.
//
// Dependencies keep insertion order. The persisted form is a flat JSON object
// {"current": h, "<dep>": h, ...}.
type NodeHash struct {
	Current Hash
	deps    []depHash
}

// NewNodeHash returns a record with no dependencies.
func NewNodeHash(current Hash) *NodeHash {
	return &NodeHash{Current: current}
}

// SetDependency captures hash for dep, replacing an earlier capture in place.
func (h *NodeHash) SetDependency(dep NodeKey, hash Hash) {
	for i := range h.deps {
		if h.deps[i].key == dep {
			h.deps[i].hash = hash
			return
		}
	}
	h.deps = append(h.deps, depHash{key: dep, hash: hash})
}

// Dependency returns the captured hash for dep.
func (h *NodeHash) Dependency(dep NodeKey) (Hash, bool) {
	for _, d := range h.deps {
		if d.key == dep {
			return d.hash, true
		}
	}
	return "", false
}

// Dependencies returns the dependency keys in insertion order.
func (h *NodeHash) Dependencies() []NodeKey {
	out := make([]NodeKey, len(h.deps))
	for i, d := range h.deps {
		out[i] = d.key
	}
	return out
}

// Clone returns a deep copy.
func (h *NodeHash) Clone() *NodeHash {
	c := &NodeHash{Current: h.Current, deps: make([]depHash, len(h.deps))}
	copy(c.deps, h.deps)
	return c
}

// Equal reports whether both records hold the same hashes in the same order.
func (h *NodeHash) Equal(o *NodeHash) bool {
	if h == nil || o == nil {
		return h == o
	}
	if h.Current != o.Current || len(h.deps) != len(o.deps) {
		return false
	}
	for i := range h.deps {
		if h.deps[i] != o.deps[i] {
			return false
		}
	}
	return true
}

func (h *NodeHash) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	writePair := func(k, v string) error {
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(v)
		if err != nil {
			return err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
		return nil
	}
	if err := writePair(currentField, h.Current); err != nil {
		return nil, err
	}
	for _, d := range h.deps {
		buf.WriteByte(',')
		if err := writePair(d.key, d.hash); err != nil {
			return nil, err
		}
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

func (h *NodeHash) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("node hash: expected object, got %v", tok)
	}
	*h = NodeHash{}
	for dec.More() {
		kt, err := dec.Token()
		if err != nil {
			return err
		}
		key, _ := kt.(string)
		var val string
		if err := dec.Decode(&val); err != nil {
			return fmt.Errorf("node hash: field %q: %w", key, err)
		}
		if key == currentField {
			h.Current = val
			continue
		}
		h.SetDependency(key, val)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	return nil
}

// NodeHashes maps each node key to its hash record.
type NodeHashes map[NodeKey]*NodeHash

// Keys returns the node keys in lexical order.
func (m NodeHashes) Keys() []NodeKey {
	keys := make([]NodeKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Clone deep-copies every record.
func (m NodeHashes) Clone() NodeHashes {
	out := make(NodeHashes, len(m))
	for k, h := range m {
		out[k] = h.Clone()
	}
	return out
}

// Validate rejects keys that cannot round-trip through the persisted format.
func (m NodeHashes) Validate() error {
	for k, h := range m {
		if err := ValidateKey(k); err != nil {
			return err
		}
		if h == nil {
			return invalidf("node %q has no hash record", k)
		}
	}
	return nil
}

// ValidateKey rejects empty keys and the reserved "current" field name.
func ValidateKey(key NodeKey) error {
	if key == "" {
		return invalidf("empty node key")
	}
	if key == currentField {
		return &GraphError{Kind: ErrReservedKey, Msg: fmt.Sprintf("node key %q collides with the hash record field", key)}
	}
	return nil
}
