package extract

import (
	"encoding/json"
	"strings"

	"github.com/gyaneshwarpardhi/promptgraph/internal/dag"
)

// Source reads the single upstream key of an extraction node from its JSON
// definition, e.g. {"source": "summary", "path": "items[0]"}.
type Source struct{}

func (Source) Type() dag.NodeType { return dag.NodeTypeExtraction }

func (Source) Dependencies(content []byte) ([]dag.NodeKey, error) {
	var def struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(content, &def); err != nil {
		return nil, dag.Errorf(dag.ErrInvalidSource, "parse definition: %v", err)
	}
	src := strings.TrimSpace(def.Source)
	if src == "" {
		return nil, dag.Errorf(dag.ErrInvalidSource, "definition has no source")
	}
	return []dag.NodeKey{src}, nil
}
