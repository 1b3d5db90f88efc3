package api

import (
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/gyaneshwarpardhi/promptgraph/internal/config"
	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
	"github.com/gyaneshwarpardhi/promptgraph/internal/engine"
	"github.com/gyaneshwarpardhi/promptgraph/internal/metrics"
)

// Handler holds all HTTP handler dependencies.
type Handler struct {
	planner *engine.Planner
	loader  *config.Loader
	mux     *http.ServeMux
}

// New creates an HTTP handler and registers all routes. loader may be nil.
func New(planner *engine.Planner, loader *config.Loader) http.Handler {
	h := &Handler{planner: planner, loader: loader, mux: http.NewServeMux()}

	h.mux.HandleFunc("GET /v1/graph", h.getGraph)
	h.mux.HandleFunc("GET /v1/updates", h.getUpdates)
	h.mux.HandleFunc("GET /v1/nodes/{key}/upstream", h.getUpstream)
	h.mux.HandleFunc("GET /v1/nodes/{key}/downstream", h.getDownstream)
	h.mux.HandleFunc("GET /v1/flows/full", h.getFullFlow)
	h.mux.HandleFunc("GET /v1/flows/update", h.getUpdateFlow)
	h.mux.HandleFunc("GET /v1/flows/{key}", h.getFlow)
	h.mux.HandleFunc("POST /v1/plan", h.plan)
	h.mux.HandleFunc("POST /v1/config/reload", h.reloadConfig)
	h.mux.HandleFunc("GET /healthz", h.healthz)
	h.mux.HandleFunc("GET /readyz", h.readyz)
	h.mux.Handle("GET /metrics", promhttp.Handler())

	return loggingMiddleware(h.mux)
}

// latest writes 503 and returns nil when no run has completed yet.
func (h *Handler) latest(w http.ResponseWriter) *engine.Run {
	run := h.planner.Latest()
	if run == nil {
		writeError(w, http.StatusServiceUnavailable, "no completed plan yet")
	}
	return run
}

func (h *Handler) flowDetails() dag.FlowDetails {
	if h.loader == nil {
		return dag.FlowDetails{Name: "flow", FlowQueue: "flows", NodeQueue: "nodes"}
	}
	return h.loader.Config().Flow.FlowDetails
}

// GET /v1/graph: nodes in topological order, edges and hash records of the latest run.
func (h *Handler) getGraph(w http.ResponseWriter, r *http.Request) {
	run := h.latest(w)
	if run == nil {
		return
	}
	sorted, err := run.Graph.SortedNodes()
	if err != nil {
		writeGraphError(w, err)
		return
	}
	edges, err := run.Graph.Dependencies()
	if err != nil {
		writeGraphError(w, err)
		return
	}
	hashes, err := run.Graph.Hashes()
	if err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"run":    run.ID,
		"sorted": sorted,
		"edges":  edges,
		"hashes": hashes,
	})
}

// GET /v1/updates: the latest run and its classification.
func (h *Handler) getUpdates(w http.ResponseWriter, r *http.Request) {
	run := h.latest(w)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GET /v1/nodes/{key}/upstream
func (h *Handler) getUpstream(w http.ResponseWriter, r *http.Request) {
	h.reach(w, r, dag.Up)
}

// GET /v1/nodes/{key}/downstream
func (h *Handler) getDownstream(w http.ResponseWriter, r *http.Request) {
	h.reach(w, r, dag.Down)
}

func (h *Handler) reach(w http.ResponseWriter, r *http.Request, dir dag.Direction) {
	run := h.latest(w)
	if run == nil {
		return
	}
	key := r.PathValue("key")
	hashes, err := run.Graph.Hashes()
	if err != nil {
		writeGraphError(w, err)
		return
	}
	if _, ok := hashes[key]; !ok {
		writeError(w, http.StatusNotFound, fmt.Sprintf("unknown node %q", key))
		return
	}
	var keys []dag.NodeKey
	if dir == dag.Up {
		keys, err = run.Graph.UpstreamKeys(key)
	} else {
		keys, err = run.Graph.DownstreamKeys(key)
	}
	if err != nil {
		writeGraphError(w, err)
		return
	}
	if keys == nil {
		keys = []dag.NodeKey{}
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"key":       key,
		"direction": dir,
		"keys":      keys,
	})
}

// GET /v1/flows/full
func (h *Handler) getFullFlow(w http.ResponseWriter, r *http.Request) {
	run := h.latest(w)
	if run == nil {
		return
	}
	flow, err := run.Graph.FullFlow(h.flowDetails())
	if err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// GET /v1/flows/update: the flow the latest run emitted.
func (h *Handler) getUpdateFlow(w http.ResponseWriter, r *http.Request) {
	run := h.latest(w)
	if run == nil {
		return
	}
	writeJSON(w, http.StatusOK, run.Flow)
}

// GET /v1/flows/{key}?direction=up|down: partial flow around one node.
func (h *Handler) getFlow(w http.ResponseWriter, r *http.Request) {
	run := h.latest(w)
	if run == nil {
		return
	}
	dirParam := r.URL.Query().Get("direction")
	if dirParam == "" {
		dirParam = string(dag.Down)
	}
	dir, err := dag.ParseDirection(dirParam)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	flow, err := run.Graph.Flow(r.PathValue("key"), dir, h.flowDetails())
	if err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, flow)
}

// POST /v1/plan: run the engine now and return the run.
func (h *Handler) plan(w http.ResponseWriter, r *http.Request) {
	run, err := h.planner.Plan(r.Context(), "api")
	if err != nil {
		writeGraphError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// POST /v1/config/reload: re-read the config file; the next run uses it.
func (h *Handler) reloadConfig(w http.ResponseWriter, r *http.Request) {
	if h.loader == nil {
		writeError(w, http.StatusNotFound, "no config file loaded")
		return
	}
	cfg, err := h.loader.Reload()
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"reloaded": true,
		"kind":     cfg.Graph.Kind,
		"dir":      cfg.Graph.Dir,
	})
}

// GET /healthz: always 200 (liveness).
func (h *Handler) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// GET /readyz: 503 until the first plan completes or if the trigger queue is >80% full.
func (h *Handler) readyz(w http.ResponseWriter, r *http.Request) {
	util := h.planner.QueueUtilization()
	metrics.QueueUtilization.Set(util)
	if h.planner.Latest() == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "planning",
			"queue_utilization": util,
		})
		return
	}
	if util > 0.8 {
		writeJSON(w, http.StatusServiceUnavailable, map[string]interface{}{
			"status":            "overloaded",
			"queue_utilization": util,
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":            "ready",
		"queue_utilization": util,
	})
}
