package hashstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// DefaultRedisKey is where Redis keeps the snapshot when no key is configured.
const DefaultRedisKey = "promptgraph:hashes"

// Redis keeps the snapshot as one JSON string value under key.
type Redis struct {
	client *redis.Client
	key    string
}

// NewRedis returns a store using client.
func NewRedis(client *redis.Client, key string) *Redis {
	if key == "" {
		key = DefaultRedisKey
	}
	return &Redis{client: client, key: key}
}

// Load returns an empty snapshot when the key does not exist.
func (r *Redis) Load(ctx context.Context) (dag.NodeHashes, error) {
	data, err := r.client.Get(ctx, r.key).Bytes()
	if errors.Is(err, redis.Nil) {
		return dag.NodeHashes{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", r.key, err)
	}
	hashes, err := decode(data)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", r.key, err)
	}
	return hashes, nil
}

func (r *Redis) Save(ctx context.Context, hashes dag.NodeHashes) error {
	data, err := json.Marshal(hashes)
	if err != nil {
		return fmt.Errorf("encode hashes: %w", err)
	}
	if err := r.client.Set(ctx, r.key, data, 0).Err(); err != nil {
		return fmt.Errorf("failed to set %s: %w", r.key, err)
	}
	return nil
}
