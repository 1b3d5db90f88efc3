package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/gyaneshwarpardhi/promptgraph/internal/api"
	"github.com/gyaneshwarpardhi/promptgraph/internal/config"
	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/engine"
	"github.com/gyaneshwarpardhi/promptgraph/internal/source"
)

var version = "0.1.0-dev"

func main() {
	rootCmd := &cobra.Command{
		Use:   "promptgraph",
		Short: "Track prompt dependencies and plan incremental regeneration",
		Long: `Promptgraph hashes a directory of prompt templates, extraction configs and
external inputs, derives the dependency graph between them, and emits a job
flow that regenerates only what changed since the last run.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return setupLogging(cmd)
		},
	}
	rootCmd.PersistentFlags().String("config", "configs/promptgraph.yaml", "Path to YAML config")
	rootCmd.PersistentFlags().String("log-level", "info", "Log level: debug|info|warn|error")

	// Plan command - one run, printed as JSON
	planCmd := &cobra.Command{
		Use:   "plan",
		Short: "Classify changes and print the run summary",
		RunE:  runPlan,
	}
	planCmd.Flags().Bool("persist", false, "Persist hashes after planning (default: planner.persist from config)")
	planCmd.Flags().Bool("flow", false, "Print the update flow instead of the run summary")

	flowCmd := &cobra.Command{
		Use:   "flow",
		Short: "Print a job flow without persisting hashes",
		RunE:  runFlow,
	}
	flowCmd.Flags().String("type", "update", "Flow type: full|update|partial")
	flowCmd.Flags().String("start", "", "Start node for a partial flow")
	flowCmd.Flags().String("direction", "down", "Partial flow direction: up|down")

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and re-plan on file changes",
		RunE:  runServe,
	}
	serveCmd.Flags().String("addr", "", "HTTP listen address (default: server.addr from config)")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "promptgraph %s\n", version)
		},
	}

	rootCmd.AddCommand(planCmd, flowCmd, serveCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func setupLogging(cmd *cobra.Command) error {
	raw, err := cmd.Flags().GetString("log-level")
	if err != nil {
		return fmt.Errorf("failed to read --log-level flag: %w", err)
	}
	var level slog.Level
	if err := level.UnmarshalText([]byte(raw)); err != nil {
		return fmt.Errorf("invalid --log-level %q: %w", raw, err)
	}
	// Logs go to stderr so JSON output on stdout stays parseable.
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return nil
}

func loadConfig(cmd *cobra.Command) (*config.Loader, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return nil, fmt.Errorf("failed to read --config flag: %w", err)
	}
	return config.NewLoader(path)
}

// oneShot plans once against the loaded config. Runs never submit from the
// one-shot commands; only serve hands flows to Redis.
func oneShot(cmd *cobra.Command, loaded *config.Config, persist bool) (*engine.Run, error) {
	ctx := cmd.Context()
	cfg := *loaded
	cfg.Flow.Submit = false

	b, err := openBackend(ctx, &cfg)
	if err != nil {
		return nil, err
	}
	defer b.Close()

	factory, err := b.factory(&cfg, slog.Default())
	if err != nil {
		return nil, err
	}
	opts := b.plannerOptions(&cfg, slog.Default())
	opts.Persist = persist

	planner := engine.New(ctx, factory, opts)
	defer planner.Shutdown()

	return planner.Plan(ctx, cmd.Name())
}

func runPlan(cmd *cobra.Command, args []string) error {
	loader, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	persist := loader.Config().Planner.Persist
	if cmd.Flags().Changed("persist") {
		if persist, err = cmd.Flags().GetBool("persist"); err != nil {
			return err
		}
	}
	printFlow, err := cmd.Flags().GetBool("flow")
	if err != nil {
		return err
	}

	run, err := oneShot(cmd, loader.Config(), persist)
	if err != nil {
		return err
	}
	if printFlow {
		return printJSON(cmd, run.Flow)
	}
	return printJSON(cmd, run)
}

func runFlow(cmd *cobra.Command, args []string) error {
	flowType, err := cmd.Flags().GetString("type")
	if err != nil {
		return err
	}
	start, err := cmd.Flags().GetString("start")
	if err != nil {
		return err
	}
	rawDir, err := cmd.Flags().GetString("direction")
	if err != nil {
		return err
	}
	dir, err := dag.ParseDirection(rawDir)
	if err != nil {
		return err
	}
	switch flowType {
	case "full", "update", "partial":
	default:
		return fmt.Errorf("invalid --type %q: want full, update or partial", flowType)
	}
	if flowType == "partial" && start == "" {
		return errors.New("--start is required for a partial flow")
	}

	loader, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	run, err := oneShot(cmd, cfg, false)
	if err != nil {
		return err
	}

	var flow *dag.FlowJob
	switch flowType {
	case "update":
		flow = run.Flow
	case "full":
		flow, err = run.Graph.FullFlow(cfg.Flow.FlowDetails)
	case "partial":
		flow, err = run.Graph.Flow(start, dir, cfg.Flow.FlowDetails)
	default:
		return fmt.Errorf("invalid --type %q: want full, update or partial", flowType)
	}
	if err != nil {
		return err
	}
	return printJSON(cmd, flow)
}

func runServe(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	log := slog.Default()

	// ── Load config ──────────────────────────────────────────────────────────
	loader, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	cfg := loader.Config()
	addr := cfg.Server.Addr
	if cmd.Flags().Changed("addr") {
		if addr, err = cmd.Flags().GetString("addr"); err != nil {
			return err
		}
	}

	// ── Connections ──────────────────────────────────────────────────────────
	b, err := openBackend(ctx, cfg)
	if err != nil {
		return err
	}
	defer b.Close()

	factory, err := b.factory(cfg, log)
	if err != nil {
		return err
	}

	// ── Planner ──────────────────────────────────────────────────────────────
	planCtx, cancel := context.WithCancel(context.Background())
	defer cancel()
	planner := engine.New(planCtx, factory, b.plannerOptions(cfg, log))

	sw := &sourceWatch{planner: planner, log: log}
	sw.restart(cfg)
	defer sw.stop()

	// ── Hot-reload watcher ───────────────────────────────────────────────────
	loader.OnChange(func(newCfg *config.Config) {
		f, err := b.factory(newCfg, log)
		if err != nil {
			log.Warn("hot-reload skipped", "err", err)
			return
		}
		planner.SwapFactory(f)
		sw.restart(newCfg)
		log.Info("config hot-reloaded", "kind", newCfg.Graph.Kind, "dir", newCfg.Graph.Dir)
		planner.Trigger("config reload")
	})
	stopWatch, err := loader.Watch()
	if err != nil {
		log.Warn("config watcher unavailable (hot-reload disabled)", "err", err)
	} else {
		defer stopWatch()
	}

	if _, err := planner.Plan(ctx, "startup"); err != nil {
		// The API still serves /healthz and reports not ready until a run succeeds.
		log.Error("initial plan failed", "err", err)
	}

	// ── HTTP server ──────────────────────────────────────────────────────────
	srv := &http.Server{
		Addr:         addr,
		Handler:      api.New(planner, loader),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	// ── Graceful shutdown ────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	}
	log.Info("shutting down…")

	shutCtx, shutCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutCancel()
	_ = srv.Shutdown(shutCtx)
	cancel()
	planner.Shutdown()
	log.Info("goodbye")
	return nil
}

// sourceWatch re-plans when node files change and follows graph.dir across
// config reloads.
type sourceWatch struct {
	planner *engine.Planner
	log     *slog.Logger

	mu     sync.Mutex
	stopFn func()
}

func (s *sourceWatch) restart(cfg *config.Config) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopFn != nil {
		s.stopFn()
		s.stopFn = nil
	}
	if !cfg.Planner.Watch {
		return
	}
	dir := source.NewDir(cfg.Graph.Dir, source.DirOptions{LockFile: cfg.Hashes.LockFile, Logger: s.log})
	stop, err := dir.Watch(func(file string) {
		if !s.planner.Trigger("file changed: " + file) {
			s.log.Warn("trigger queue full, change dropped", "file", file)
		}
	})
	if err != nil {
		s.log.Warn("source watcher unavailable", "dir", cfg.Graph.Dir, "err", err)
		return
	}
	s.stopFn = stop
}

func (s *sourceWatch) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.stopFn != nil {
		s.stopFn()
		s.stopFn = nil
	}
}

func printJSON(cmd *cobra.Command, v any) error {
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
