package dag

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrInvalidGraph       = errors.New("invalid graph")
	ErrCycleFound         = errors.New("cycle detected")
	ErrNotInitialized     = errors.New("graph not initialized")
	ErrReservedKey        = errors.New("reserved node key")
	ErrMissingDependency  = errors.New("missing dependency")
	ErrInvalidSource      = errors.New("invalid extraction source")
	ErrMissingJob         = errors.New("dependency missing from flow")
	ErrNotImplemented     = errors.New("not implemented")
	ErrUnknownNode        = errors.New("unknown node")
	ErrDuplicateNodeKey   = errors.New("duplicate node key")
	ErrUnsupportedContent = errors.New("unsupported node content")
)

// GraphError wraps a sentinel kind with detail. errors.Is matches the kind.
type GraphError struct {
	Kind error
	Msg  string
	// Cycle holds the member keys of one offending cycle, first key repeated last.
	Cycle []NodeKey
}

func (e *GraphError) Error() string {
	if e == nil {
		return ""
	}
	if e.Msg == "" {
		return e.Kind.Error()
	}
	return fmt.Sprintf("%s: %s", e.Kind.Error(), e.Msg)
}

func (e *GraphError) Unwrap() error { return e.Kind }

func invalidf(format string, args ...any) error {
	return &GraphError{Kind: ErrInvalidGraph, Msg: fmt.Sprintf(format, args...)}
}

// Errorf builds a GraphError of the given kind. Backends use it to report
// per-node derivation failures.
func Errorf(kind error, format string, args ...any) error {
	return &GraphError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

func cycleError(path []NodeKey) error {
	msg := "cycle"
	if len(path) > 0 {
		msg = "cycle: " + strings.Join(path, " -> ")
	}
	return &GraphError{Kind: ErrCycleFound, Msg: msg, Cycle: path}
}
