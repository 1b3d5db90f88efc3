package engine

import (
	"log/slog"

	"github.com/gyaneshwarpardhi/promptgraph/internal/artifact"
	"github.com/gyaneshwarpardhi/promptgraph/internal/config"
	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/prompt"
	"github.com/gyaneshwarpardhi/promptgraph/internal/source"
)

// NewFactory returns a Factory building graphs of the configured kind over
// the configured directory, with hashes kept in store.
func NewFactory(cfg *config.Config, store dag.HashStore, log *slog.Logger) Factory {
	gc := cfg.Graph
	lockFile := cfg.Hashes.LockFile
	workers := cfg.Planner.HashWorkers
	return func() Graph {
		src := source.NewDir(gc.Dir, source.DirOptions{LockFile: lockFile, Logger: log})
		if gc.Kind == config.KindArtifact {
			return artifact.NewGraph(src, store, artifact.Options{
				BackPropagation: gc.BackPropagation,
				HashWorkers:     workers,
				Revision:        gc.Revision,
				Logger:          log,
			})
		}
		return prompt.NewGraph(src, store, prompt.Options{
			BackPropagation: gc.BackPropagation,
			HashWorkers:     workers,
			Logger:          log,
		})
	}
}
