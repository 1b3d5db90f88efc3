package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/singleflight"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/metrics"
	"github.com/gyaneshwarpardhi/promptgraph/internal/queue"
)

// Graph is the query surface shared by prompt and artifact graphs.
type Graph interface {
	Initialize(ctx context.Context) error
	NodeUpdates() (dag.NodeUpdates, error)
	Hashes() (dag.NodeHashes, error)
	Dependencies() ([]dag.Edge, error)
	SortedNodes() ([]dag.NodeKey, error)
	DownstreamKeys(key dag.NodeKey) ([]dag.NodeKey, error)
	UpstreamKeys(key dag.NodeKey) ([]dag.NodeKey, error)
	FullFlow(d dag.FlowDetails) (*dag.FlowJob, error)
	Flow(start dag.NodeKey, dir dag.Direction, d dag.FlowDetails) (*dag.FlowJob, error)
	UpdateFlow(d dag.FlowDetails, extra dag.ExtraJobData) (*dag.FlowJob, error)
	DerivationErrors() []error
	PersistHashes(ctx context.Context) error
}

// Factory returns a fresh, uninitialized graph. Graphs are single-use, so
// every run gets a new one.
type Factory func() Graph

// Run is the outcome of one planning run.
type Run struct {
	ID       string          `json:"id"`
	Kind     string          `json:"kind"`
	Revision string          `json:"revision,omitempty"`
	Reason   string          `json:"reason"`
	Started  time.Time       `json:"started"`
	Duration time.Duration   `json:"duration_ns"`
	Nodes    int             `json:"nodes"`
	Updates  dag.NodeUpdates `json:"updates"`

	// DerivationErrors lists nodes whose dependencies could not be read.
	DerivationErrors []string          `json:"derivation_errors,omitempty"`
	FlowErrors       []string          `json:"flow_errors,omitempty"`
	Submission       *queue.Submission `json:"submission,omitempty"`
	Persisted        bool              `json:"persisted"`

	Graph Graph        `json:"-"`
	Flow  *dag.FlowJob `json:"-"`
}

// Options configures a Planner.
type Options struct {
	// Kind labels runs and metrics, e.g. "prompt".
	Kind    string
	Flow    dag.FlowDetails
	Persist bool
	// Submitter, when set, receives every non-empty update flow.
	Submitter         queue.Submitter
	TriggerQueueDepth int
	// Debounce delays triggered runs; triggers arriving meanwhile collapse
	// into one run.
	Debounce time.Duration
	Logger   *slog.Logger
}

type trigger struct {
	reason string
}

type factoryRef struct{ fn Factory }

// Planner runs the graph engine on demand and keeps the latest successful run.
type Planner struct {
	factory atomic.Pointer[factoryRef]
	latest  atomic.Pointer[Run]
	opts    Options
	log     *slog.Logger

	// runMu serializes runs. group coalesces concurrent Plan callers.
	runMu    sync.Mutex
	group    singleflight.Group
	pending  atomic.Int64
	triggers *workerPool[trigger]
}

// New creates a Planner and starts its trigger worker.
func New(ctx context.Context, factory Factory, opts Options) *Planner {
	if opts.TriggerQueueDepth <= 0 {
		opts.TriggerQueueDepth = 16
	}
	log := opts.Logger
	if log == nil {
		log = slog.Default()
	}
	p := &Planner{opts: opts, log: log}
	p.factory.Store(&factoryRef{fn: factory})

	// One worker: runs never overlap.
	p.triggers = newWorkerPool[trigger](
		ctx,
		1,
		opts.TriggerQueueDepth,
		p.handleTrigger,
	)
	return p
}

// SwapFactory replaces the graph factory (used on config hot-reload). The
// next run uses it.
func (p *Planner) SwapFactory(f Factory) {
	p.factory.Store(&factoryRef{fn: f})
}

// Latest returns the latest successful run, or nil before the first one.
func (p *Planner) Latest() *Run {
	return p.latest.Load()
}

// Plan runs the engine now. Concurrent callers share one run; a triggered run
// never joins it.
func (p *Planner) Plan(ctx context.Context, reason string) (*Run, error) {
	v, err, _ := p.group.Do("plan", func() (any, error) {
		return p.plan(ctx, reason)
	})
	if err != nil {
		return nil, err
	}
	return v.(*Run), nil
}

// Trigger schedules a run without blocking. Returns false if the queue is full.
func (p *Planner) Trigger(reason string) bool {
	p.pending.Add(1)
	if !p.triggers.Submit(trigger{reason: reason}) {
		p.pending.Add(-1)
		metrics.TriggersDropped.Inc()
		return false
	}
	metrics.TriggersEnqueued.Inc()
	metrics.QueueUtilization.Set(p.QueueUtilization())
	return true
}

// QueueUtilization returns trigger queue used / capacity (0–1).
func (p *Planner) QueueUtilization() float64 {
	if p.triggers.QueueCap() == 0 {
		return 0
	}
	return float64(p.triggers.QueueLen()) / float64(p.triggers.QueueCap())
}

// Shutdown drains the trigger queue gracefully.
func (p *Planner) Shutdown() {
	p.triggers.Drain()
}

// handleTrigger starts a fresh run after any run in flight, so a change that
// run may have missed is always planned.
func (p *Planner) handleTrigger(ctx context.Context, t trigger) {
	// A later trigger is queued and will run instead.
	if p.pending.Load() > 1 {
		p.pending.Add(-1)
		return
	}
	if p.opts.Debounce > 0 {
		select {
		case <-time.After(p.opts.Debounce):
		case <-ctx.Done():
			p.pending.Add(-1)
			return
		}
	}
	if p.pending.Add(-1) > 0 {
		return
	}
	if _, err := p.plan(ctx, t.reason); err != nil {
		p.log.Error("triggered plan failed", "reason", t.reason, "err", err)
	}
}

func (p *Planner) plan(ctx context.Context, reason string) (*Run, error) {
	p.runMu.Lock()
	defer p.runMu.Unlock()

	start := time.Now()
	g := p.factory.Load().fn()
	run := &Run{
		ID:      uuid.NewString(),
		Kind:    p.opts.Kind,
		Reason:  reason,
		Started: start,
		Graph:   g,
	}
	if r, ok := g.(interface{ Revision() string }); ok {
		run.Revision = r.Revision()
	}

	if err := g.Initialize(ctx); err != nil {
		metrics.PlanRuns.WithLabelValues(p.opts.Kind, "error").Inc()
		return nil, fmt.Errorf("initialize graph: %w", err)
	}
	run.Duration = time.Since(start)
	metrics.PlanDuration.Observe(float64(run.Duration.Milliseconds()))

	updates, err := g.NodeUpdates()
	if err != nil {
		return nil, err
	}
	hashes, err := g.Hashes()
	if err != nil {
		return nil, err
	}
	run.Updates = updates
	run.Nodes = len(hashes)
	metrics.Nodes.Set(float64(run.Nodes))
	for kind, n := range updates.Count() {
		metrics.NodeUpdates.WithLabelValues(string(kind)).Add(float64(n))
	}
	for _, derr := range g.DerivationErrors() {
		metrics.DerivationErrors.Inc()
		run.DerivationErrors = append(run.DerivationErrors, derr.Error())
	}

	flow, err := g.UpdateFlow(p.opts.Flow, nil)
	if err != nil {
		p.log.Error("update flow is missing jobs", "run", run.ID, "err", err)
		run.FlowErrors = flowErrors(err)
	}
	run.Flow = flow

	if p.opts.Submitter != nil && len(updates) > 0 {
		sub, err := p.opts.Submitter.Submit(ctx, run.ID, flow)
		if err != nil {
			metrics.PlanRuns.WithLabelValues(p.opts.Kind, "error").Inc()
			// Hashes stay unpersisted so the next run sees the same changes.
			return nil, fmt.Errorf("submit flow: %w", err)
		}
		metrics.JobsSubmitted.Add(float64(sub.Jobs))
		run.Submission = sub
	}

	if p.opts.Persist {
		if err := g.PersistHashes(ctx); err != nil {
			metrics.PlanRuns.WithLabelValues(p.opts.Kind, "error").Inc()
			return nil, err
		}
		run.Persisted = true
	}

	metrics.PlanRuns.WithLabelValues(p.opts.Kind, "ok").Inc()
	p.latest.Store(run)
	p.log.Info("plan complete",
		"run", run.ID,
		"reason", reason,
		"nodes", run.Nodes,
		"updates", len(updates),
		"duration", run.Duration,
	)
	return run, nil
}

func flowErrors(err error) []string {
	var joined interface{ Unwrap() []error }
	if errors.As(err, &joined) {
		var out []string
		for _, e := range joined.Unwrap() {
			out = append(out, e.Error())
		}
		return out
	}
	return []string{err.Error()}
}
