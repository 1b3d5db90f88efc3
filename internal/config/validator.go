package config

import (
	"fmt"
	"net/url"
	"strings"
)

// Validate checks the config for:
//   - Required fields
//   - Known graph kinds and hash backends
//   - Settings that only make sense together (redis backend or submission needs a redis url)
func Validate(cfg *Config) error {
	if cfg.Version == "" {
		return fmt.Errorf("config: version is required")
	}
	var errs []string

	switch cfg.Graph.Kind {
	case KindPrompt, KindArtifact:
	default:
		errs = append(errs, fmt.Sprintf("graph.kind %q: must be %s or %s", cfg.Graph.Kind, KindPrompt, KindArtifact))
	}
	if cfg.Graph.Dir == "" {
		errs = append(errs, "graph.dir is required")
	}
	if cfg.Graph.Kind == KindPrompt && cfg.Graph.Revision != "" {
		errs = append(errs, "graph.revision only applies to artifact graphs")
	}

	needRedis := cfg.Flow.Submit
	switch cfg.Hashes.Backend {
	case BackendFile:
		if cfg.Hashes.LockFile == "" {
			errs = append(errs, "hashes.lock_file is required for the file backend")
		} else if strings.ContainsAny(cfg.Hashes.LockFile, `/\`) {
			errs = append(errs, fmt.Sprintf("hashes.lock_file %q: must be a file name inside graph.dir", cfg.Hashes.LockFile))
		}
	case BackendRedis:
		needRedis = true
		if cfg.Hashes.RedisKey == "" {
			errs = append(errs, "hashes.redis_key is required for the redis backend")
		}
	default:
		errs = append(errs, fmt.Sprintf("hashes.backend %q: must be %s or %s", cfg.Hashes.Backend, BackendFile, BackendRedis))
	}
	if needRedis {
		if cfg.Redis.URL == "" {
			errs = append(errs, "redis.url is required when hashes or flows use redis")
		} else if u, err := url.Parse(cfg.Redis.URL); err != nil || (u.Scheme != "redis" && u.Scheme != "rediss") {
			errs = append(errs, fmt.Sprintf("redis.url %q: must be a redis:// or rediss:// url", cfg.Redis.URL))
		}
	}

	if cfg.Flow.Name == "" {
		errs = append(errs, "flow.name is required")
	}
	if cfg.Flow.FlowQueue == "" {
		errs = append(errs, "flow.flow_queue is required")
	}
	if cfg.Flow.NodeQueue == "" {
		errs = append(errs, "flow.node_queue is required")
	}
	if cfg.Flow.TTL < 0 {
		errs = append(errs, "flow.ttl must not be negative")
	}

	if cfg.Planner.HashWorkers < 1 {
		errs = append(errs, "planner.hash_workers must be at least 1")
	}
	if cfg.Planner.TriggerQueueDepth < 1 {
		errs = append(errs, "planner.trigger_queue_depth must be at least 1")
	}
	if cfg.Planner.Debounce < 0 {
		errs = append(errs, "planner.debounce must not be negative")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation errors:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
