package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/gyaneshwarpardhi/promptgraph/internal/config"
	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/engine"
	"github.com/gyaneshwarpardhi/promptgraph/internal/hashstore"
	"github.com/gyaneshwarpardhi/promptgraph/internal/queue"
	"github.com/gyaneshwarpardhi/promptgraph/internal/redisclient"
)

// backend holds the connections that outlive a single planning run.
type backend struct {
	redis     *redis.Client
	submitter queue.Submitter
}

func openBackend(ctx context.Context, cfg *config.Config) (*backend, error) {
	b := &backend{}
	if cfg.Hashes.Backend == config.BackendRedis || cfg.Flow.Submit {
		client, err := redisclient.New(ctx, redisclient.Options{URL: cfg.Redis.URL})
		if err != nil {
			return nil, err
		}
		b.redis = client
	}
	if cfg.Flow.Submit {
		b.submitter = queue.NewRedisSubmitter(b.redis, queue.Options{
			Prefix: cfg.Flow.Prefix,
			TTL:    cfg.Flow.TTL,
		})
	}
	return b, nil
}

func (b *backend) store(cfg *config.Config) (dag.HashStore, error) {
	if cfg.Hashes.Backend != config.BackendRedis {
		return hashstore.NewFile(cfg.LockPath()), nil
	}
	if b.redis == nil {
		return nil, fmt.Errorf("hashes backend %q needs a Redis connection opened at startup", cfg.Hashes.Backend)
	}
	return hashstore.NewRedis(b.redis, cfg.Hashes.RedisKey), nil
}

func (b *backend) factory(cfg *config.Config, log *slog.Logger) (engine.Factory, error) {
	store, err := b.store(cfg)
	if err != nil {
		return nil, err
	}
	return engine.NewFactory(cfg, store, log), nil
}

func (b *backend) plannerOptions(cfg *config.Config, log *slog.Logger) engine.Options {
	return engine.Options{
		Kind:              cfg.Graph.Kind,
		Flow:              cfg.Flow.FlowDetails,
		Persist:           cfg.Planner.Persist,
		Submitter:         b.submitter,
		TriggerQueueDepth: cfg.Planner.TriggerQueueDepth,
		Debounce:          cfg.Planner.Debounce,
		Logger:            log,
	}
}

func (b *backend) Close() {
	if b.redis != nil {
		_ = b.redis.Close()
	}
}
