package engine_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gyaneshwarpardhi/promptgraph/internal/artifact"
	"github.com/gyaneshwarpardhi/promptgraph/internal/config"
	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/engine"
	"github.com/gyaneshwarpardhi/promptgraph/internal/hashstore"
	"github.com/gyaneshwarpardhi/promptgraph/internal/queue"
)

var details = dag.FlowDetails{Name: "update", FlowQueue: "flows", NodeQueue: "nodes"}

type recordingSubmitter struct {
	mu    sync.Mutex
	flows map[string]*dag.FlowJob
	err   error
}

func (s *recordingSubmitter) Submit(_ context.Context, flowID string, flow *dag.FlowJob) (*queue.Submission, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.flows == nil {
		s.flows = map[string]*dag.FlowJob{}
	}
	s.flows[flowID] = flow
	return &queue.Submission{FlowID: flowID, Jobs: len(flow.Children) + 1}, nil
}

// gatedGraph holds Initialize until gate is closed.
type gatedGraph struct {
	engine.Graph
	started chan<- struct{}
	gate    <-chan struct{}
}

func (g *gatedGraph) Initialize(ctx context.Context) error {
	g.started <- struct{}{}
	<-g.gate
	return g.Graph.Initialize(ctx)
}

func write(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

func setup(t *testing.T, kind string) (*config.Config, string) {
	t.Helper()
	dir := t.TempDir()
	write(t, dir, "notes.md", "notes")
	write(t, dir, "summary.hbs", "{{notes}}")
	cfg := config.Default()
	cfg.Graph.Dir = dir
	cfg.Graph.Kind = kind
	return &cfg, dir
}

func newPlanner(t *testing.T, cfg *config.Config, opts engine.Options) *engine.Planner {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	store := hashstore.NewFile(cfg.LockPath())
	opts.Kind = cfg.Graph.Kind
	opts.Flow = details
	p := engine.New(ctx, engine.NewFactory(cfg, store, nil), opts)
	t.Cleanup(func() {
		cancel()
		p.Shutdown()
	})
	return p
}

func TestPlanner_Plan(t *testing.T) {
	cfg, dir := setup(t, config.KindPrompt)
	sub := &recordingSubmitter{}
	p := newPlanner(t, cfg, engine.Options{Persist: true, Submitter: sub})
	ctx := context.Background()

	assert.Nil(t, p.Latest())

	run, err := p.Plan(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, run, p.Latest())
	assert.Equal(t, 2, run.Nodes)
	assert.Len(t, run.Updates, 2)
	assert.True(t, run.Persisted)
	assert.Empty(t, run.Revision)
	require.NotNil(t, run.Submission)
	assert.Equal(t, run.ID, run.Submission.FlowID)
	assert.Contains(t, sub.flows, run.ID)
	assert.FileExists(t, filepath.Join(dir, "prompts.lock"))

	// Nothing changed: nothing to submit.
	again, err := p.Plan(ctx, "test")
	require.NoError(t, err)
	assert.Empty(t, again.Updates)
	assert.Nil(t, again.Submission)
	assert.NotEqual(t, run.ID, again.ID)
	assert.Empty(t, again.Flow.Children)

	write(t, dir, "notes.md", "new notes")
	third, err := p.Plan(ctx, "test")
	require.NoError(t, err)
	assert.Equal(t, dag.UpdateUpdated, third.Updates["notes"].Kind)
	assert.Equal(t, dag.UpdateInvalidated, third.Updates["summary"].Kind)
}

func TestPlanner_NoPersistKeepsChanges(t *testing.T) {
	cfg, _ := setup(t, config.KindPrompt)
	p := newPlanner(t, cfg, engine.Options{})

	for i := 0; i < 2; i++ {
		run, err := p.Plan(context.Background(), "dry run")
		require.NoError(t, err)
		assert.Len(t, run.Updates, 2)
		assert.False(t, run.Persisted)
	}
}

func TestPlanner_SubmitFailureSkipsPersist(t *testing.T) {
	cfg, dir := setup(t, config.KindPrompt)
	p := newPlanner(t, cfg, engine.Options{Persist: true, Submitter: &recordingSubmitter{err: errors.New("redis down")}})

	_, err := p.Plan(context.Background(), "test")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "redis down")
	assert.Nil(t, p.Latest())
	assert.NoFileExists(t, filepath.Join(dir, "prompts.lock"))
}

func TestPlanner_InitializeFailure(t *testing.T) {
	cfg, dir := setup(t, config.KindPrompt)
	write(t, dir, "a.hbs", "{{b}}")
	write(t, dir, "b.hbs", "{{a}}")
	p := newPlanner(t, cfg, engine.Options{Persist: true})

	_, err := p.Plan(context.Background(), "test")
	assert.ErrorIs(t, err, dag.ErrCycleFound)
	assert.Nil(t, p.Latest())
}

func TestPlanner_DerivationErrorsReported(t *testing.T) {
	cfg, dir := setup(t, config.KindPrompt)
	write(t, dir, "dangling.hbs", "{{ghost}}")
	p := newPlanner(t, cfg, engine.Options{})

	run, err := p.Plan(context.Background(), "test")
	require.NoError(t, err)
	require.Len(t, run.DerivationErrors, 1)
	assert.Contains(t, run.DerivationErrors[0], "ghost")
}

func TestPlanner_ArtifactRevision(t *testing.T) {
	cfg, _ := setup(t, config.KindArtifact)
	cfg.Graph.Revision = "rev-42"
	p := newPlanner(t, cfg, engine.Options{})

	run, err := p.Plan(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, "rev-42", run.Revision)
	require.NotEmpty(t, run.Flow.Children)
	for _, job := range run.Flow.Children {
		assert.Equal(t, "rev-42", job.Data[artifact.RevisionField])
	}
}

func TestPlanner_SwapFactory(t *testing.T) {
	cfg, _ := setup(t, config.KindPrompt)
	p := newPlanner(t, cfg, engine.Options{})

	other, _ := setup(t, config.KindPrompt)
	write(t, other.Graph.Dir, "extra.md", "x")
	p.SwapFactory(engine.NewFactory(other, hashstore.NewFile(other.LockPath()), nil))

	run, err := p.Plan(context.Background(), "test")
	require.NoError(t, err)
	assert.Equal(t, 3, run.Nodes)
}

func TestPlanner_ConcurrentPlans(t *testing.T) {
	cfg, _ := setup(t, config.KindPrompt)
	p := newPlanner(t, cfg, engine.Options{Persist: true})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := p.Plan(context.Background(), "concurrent")
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		assert.NoError(t, err)
	}
	assert.NotNil(t, p.Latest())
}

func TestPlanner_Trigger(t *testing.T) {
	cfg, _ := setup(t, config.KindPrompt)
	p := newPlanner(t, cfg, engine.Options{Persist: true, Debounce: 10 * time.Millisecond})

	for i := 0; i < 5; i++ {
		p.Trigger("file changed")
	}
	require.Eventually(t, func() bool { return p.Latest() != nil }, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "file changed", p.Latest().Reason)
	assert.GreaterOrEqual(t, p.QueueUtilization(), 0.0)
}

func TestPlanner_TriggerQueueFull(t *testing.T) {
	cfg, _ := setup(t, config.KindPrompt)
	p := newPlanner(t, cfg, engine.Options{TriggerQueueDepth: 1, Debounce: time.Hour})

	accepted := 0
	for i := 0; i < 10; i++ {
		if p.Trigger("burst") {
			accepted++
		}
	}
	assert.Less(t, accepted, 10)
	assert.GreaterOrEqual(t, accepted, 1)
}

func TestPlanner_TriggerDuringRunPlansAgain(t *testing.T) {
	cfg, _ := setup(t, config.KindPrompt)
	inner := engine.NewFactory(cfg, hashstore.NewFile(cfg.LockPath()), nil)

	started := make(chan struct{}, 1)
	gate := make(chan struct{})
	var calls atomic.Int32
	factory := func() engine.Graph {
		if calls.Add(1) == 1 {
			return &gatedGraph{Graph: inner(), started: started, gate: gate}
		}
		return inner()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := engine.New(ctx, factory, engine.Options{Kind: cfg.Graph.Kind, Flow: details, Persist: true})
	t.Cleanup(func() {
		cancel()
		p.Shutdown()
	})

	first := make(chan *engine.Run, 1)
	go func() {
		run, err := p.Plan(context.Background(), "api")
		assert.NoError(t, err)
		first <- run
	}()
	<-started

	require.True(t, p.Trigger("file changed"))
	close(gate)

	run := <-first
	require.NotNil(t, run)
	assert.Equal(t, "api", run.Reason)

	require.Eventually(t, func() bool {
		latest := p.Latest()
		return latest != nil && latest.Reason == "file changed"
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, int32(2), calls.Load())
	assert.NotEqual(t, run.ID, p.Latest().ID)
}
