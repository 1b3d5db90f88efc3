package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// writeJSON encodes v as JSON and writes it with the given status code.
func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// errorResponse is the standard error envelope. Code names the graph error
// kind when there is one.
type errorResponse struct {
	Error string   `json:"error"`
	Code  string   `json:"code,omitempty"`
	Cycle []string `json:"cycle,omitempty"`
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

var errorCodes = []struct {
	kind   error
	code   string
	status int
}{
	{dag.ErrCycleFound, "cycle", http.StatusUnprocessableEntity},
	{dag.ErrDuplicateNodeKey, "duplicate_node_key", http.StatusUnprocessableEntity},
	{dag.ErrReservedKey, "reserved_key", http.StatusUnprocessableEntity},
	{dag.ErrInvalidGraph, "invalid_graph", http.StatusUnprocessableEntity},
	{dag.ErrUnknownNode, "unknown_node", http.StatusNotFound},
	{dag.ErrNotInitialized, "not_initialized", http.StatusServiceUnavailable},
}

// writeGraphError maps err to a status and code; unknown errors are 500.
func writeGraphError(w http.ResponseWriter, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError
	for _, c := range errorCodes {
		if errors.Is(err, c.kind) {
			resp.Code, status = c.code, c.status
			break
		}
	}
	var ge *dag.GraphError
	if errors.As(err, &ge) && len(ge.Cycle) > 0 {
		resp.Cycle = ge.Cycle
	}
	writeJSON(w, status, resp)
}
