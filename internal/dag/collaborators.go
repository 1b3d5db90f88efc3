package dag

import "context"

// NodeSource discovers nodes and loads their content.
type NodeSource interface {
	Setup(ctx context.Context) error
	Nodes(ctx context.Context) (map[NodeKey]Node, error)
}

// HashStore persists hash snapshots between runs. Load returns an empty
// snapshot when nothing has been stored yet.
type HashStore interface {
	Load(ctx context.Context) (NodeHashes, error)
	Save(ctx context.Context, hashes NodeHashes) error
}
