// Package hashing computes node content hashes.
package hashing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// DefaultWorkers bounds Nodes when the caller passes workers <= 0.
const DefaultWorkers = 8

// Content returns the lowercase hex SHA-256 of b.
func Content(b []byte) dag.Hash {
	sum := sha256.Sum256(b)
	return hex.EncodeToString(sum[:])
}

// Nodes hashes every node's content with at most workers goroutines and
// returns one record per node with no dependencies captured.
func Nodes(ctx context.Context, nodes map[dag.NodeKey]dag.Node, workers int) (dag.NodeHashes, error) {
	if workers <= 0 {
		workers = DefaultWorkers
	}
	var (
		mu  sync.Mutex
		out = make(dag.NodeHashes, len(nodes))
	)
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for key, node := range nodes {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			h := Content(node.Content)
			mu.Lock()
			out[key] = dag.NewNodeHash(h)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
