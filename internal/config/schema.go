package config

import (
	"time"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// Config is the top-level YAML structure.
type Config struct {
	Version string      `yaml:"version"`
	Graph   GraphConf   `yaml:"graph"`
	Hashes  HashesConf  `yaml:"hashes"`
	Redis   RedisConf   `yaml:"redis"`
	Flow    FlowConf    `yaml:"flow"`
	Planner PlannerConf `yaml:"planner"`
	Server  ServerConf  `yaml:"server"`
}

// Graph kinds.
const (
	KindPrompt   = "prompt"
	KindArtifact = "artifact"
)

// Hash store backends.
const (
	BackendFile  = "file"
	BackendRedis = "redis"
)

// GraphConf selects the graph variant and where its nodes live.
type GraphConf struct {
	Kind            string `yaml:"kind"`
	Dir             string `yaml:"dir"`
	BackPropagation bool   `yaml:"back_propagation"`
	// Revision pins an artifact graph's revision ID; empty generates one per run.
	Revision string `yaml:"revision"`
}

// HashesConf selects where hash snapshots are kept.
type HashesConf struct {
	Backend  string `yaml:"backend"`
	LockFile string `yaml:"lock_file"` // relative to graph.dir
	RedisKey string `yaml:"redis_key"`
}

type RedisConf struct {
	URL string `yaml:"url"`
}

// FlowConf names the emitted flow and, with Submit, hands it to Redis.
type FlowConf struct {
	dag.FlowDetails `yaml:",inline"`
	Submit          bool          `yaml:"submit"`
	Prefix          string        `yaml:"prefix"`
	TTL             time.Duration `yaml:"ttl"`
}

// PlannerConf holds tunable planning settings.
type PlannerConf struct {
	HashWorkers       int  `yaml:"hash_workers"`
	TriggerQueueDepth int  `yaml:"trigger_queue_depth"`
	Persist           bool `yaml:"persist"`
	Watch             bool `yaml:"watch"`
	// Debounce collapses bursts of file events into one run.
	Debounce time.Duration `yaml:"debounce"`
}

type ServerConf struct {
	Addr string `yaml:"addr"`
}
