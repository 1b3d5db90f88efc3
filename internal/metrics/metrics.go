package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	PlanRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptgraph_plan_runs_total",
		Help: "Total number of planning runs, labelled by graph kind and status.",
	}, []string{"kind", "status"})

	PlanDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "promptgraph_plan_duration_ms",
		Help:    "Graph initialization latency in milliseconds.",
		Buckets: []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500},
	})

	NodeUpdates = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "promptgraph_node_updates_total",
		Help: "Total number of node classifications, labelled by update type.",
	}, []string{"type"})

	Nodes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promptgraph_nodes",
		Help: "Number of nodes in the latest planned graph.",
	})

	DerivationErrors = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptgraph_derivation_errors_total",
		Help: "Total number of nodes whose dependencies could not be derived.",
	})

	TriggersEnqueued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptgraph_triggers_enqueued_total",
		Help: "Total number of planning triggers placed on the trigger queue.",
	})

	TriggersDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptgraph_triggers_dropped_total",
		Help: "Total number of planning triggers rejected due to a full queue.",
	})

	JobsSubmitted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "promptgraph_jobs_submitted_total",
		Help: "Total number of flow jobs handed to the queue runtime.",
	})

	QueueUtilization = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "promptgraph_trigger_queue_utilization_ratio",
		Help: "Current trigger queue utilization (0–1).",
	})
)
