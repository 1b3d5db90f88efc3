package dag

import (
	"fmt"
	"strings"
)

// NodeKey identifies a node within one graph snapshot.
type NodeKey = string

// Hash is a hex content digest.
type Hash = string

// NodeType governs how a node's dependencies are derived.
type NodeType int

const (
	// NodeTypeExternal is content provided from outside; it depends on nothing.
	NodeTypeExternal NodeType = iota
	// NodeTypeLLM is a prompt template whose variables reference other nodes.
	NodeTypeLLM
	// NodeTypeExtraction pulls data out of a single source node.
	NodeTypeExtraction
)

func (t NodeType) String() string {
	switch t {
	case NodeTypeExternal:
		return "EXTERNAL"
	case NodeTypeLLM:
		return "LLM"
	case NodeTypeExtraction:
		return "EXTRACTION"
	}
	return fmt.Sprintf("NodeType(%d)", int(t))
}

// MarshalText encodes the type by name.
func (t NodeType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText decodes a type name (case-insensitive).
func (t *NodeType) UnmarshalText(b []byte) error {
	switch strings.ToUpper(string(b)) {
	case "EXTERNAL":
		*t = NodeTypeExternal
	case "LLM":
		*t = NodeTypeLLM
	case "EXTRACTION":
		*t = NodeTypeExtraction
	default:
		return fmt.Errorf("unknown node type %q", string(b))
	}
	return nil
}

// ContentType is the format of a node's content.
type ContentType int

const (
	// ContentMD is plain markdown, read verbatim.
	ContentMD ContentType = iota
	// ContentJSON is a JSON definition naming its dependencies.
	ContentJSON
	// ContentHBS is a Handlebars template whose references are dependencies.
	ContentHBS
	// ContentHTML is an HTML artifact.
	ContentHTML
	// ContentJS is a JavaScript artifact.
	ContentJS
)

func (c ContentType) String() string {
	switch c {
	case ContentMD:
		return "md"
	case ContentJSON:
		return "json"
	case ContentHBS:
		return "hbs"
	case ContentHTML:
		return "html"
	case ContentJS:
		return "js"
	}
	return fmt.Sprintf("ContentType(%d)", int(c))
}

// MarshalText encodes the content type by name.
func (c ContentType) MarshalText() ([]byte, error) { return []byte(c.String()), nil }

// Node is one unit of content. It is immutable for the duration of a run.
type Node struct {
	Key         NodeKey     `json:"key"`
	Type        NodeType    `json:"type"`
	Content     []byte      `json:"-"`
	ContentType ContentType `json:"contentType"`
}

// -----------------------------------------------------------------------
// Updates
// -----------------------------------------------------------------------

// UpdateKind tags a NodeUpdate.
type UpdateKind string

const (
	UpdateNew         UpdateKind = "NEW"
	UpdateUpdated     UpdateKind = "UPDATED"
	UpdateDeleted     UpdateKind = "DELETED"
	UpdateInvalidated UpdateKind = "INVALIDATED"
)

// NodeUpdate is the lifecycle classification of a single node for one run.
// PreviousHash is empty for NEW; By and BackPropagation are only set for INVALIDATED.
type NodeUpdate struct {
	Kind            UpdateKind `json:"type"`
	PreviousHash    Hash       `json:"previousHash,omitempty"`
	By              NodeKey    `json:"by,omitempty"`
	BackPropagation bool       `json:"backPropagation,omitempty"`
}

func NewNodeUpdate() NodeUpdate { return NodeUpdate{Kind: UpdateNew} }

func UpdatedNode(previous Hash) NodeUpdate {
	return NodeUpdate{Kind: UpdateUpdated, PreviousHash: previous}
}

func DeletedNode(previous Hash) NodeUpdate {
	return NodeUpdate{Kind: UpdateDeleted, PreviousHash: previous}
}

func InvalidatedNode(previous Hash, by NodeKey, backPropagation bool) NodeUpdate {
	return NodeUpdate{Kind: UpdateInvalidated, PreviousHash: previous, By: by, BackPropagation: backPropagation}
}

// NodeUpdates maps a node key to its single classification.
type NodeUpdates map[NodeKey]NodeUpdate

// insert records u for key unless key is already classified.
// It reports whether the update was stored.
func (m NodeUpdates) insert(key NodeKey, u NodeUpdate) bool {
	if _, ok := m[key]; ok {
		return false
	}
	m[key] = u
	return true
}

// Count returns the number of updates of each kind.
func (m NodeUpdates) Count() map[UpdateKind]int {
	out := make(map[UpdateKind]int, 4)
	for _, u := range m {
		out[u.Kind]++
	}
	return out
}

// Edge is a dependency: To depends on From.
type Edge struct {
	From NodeKey `json:"from"`
	To   NodeKey `json:"to"`
}

// Direction selects the closure used by Graph.Flow.
type Direction string

const (
	Up   Direction = "up"
	Down Direction = "down"
)

// ParseDirection accepts "up" or "down".
func ParseDirection(s string) (Direction, error) {
	switch Direction(strings.ToLower(s)) {
	case Up:
		return Up, nil
	case Down:
		return Down, nil
	}
	return "", fmt.Errorf("invalid direction %q (want up or down)", s)
}
