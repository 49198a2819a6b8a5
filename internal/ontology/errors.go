package ontology

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for ontology construction and queries.
var (
	// ErrMultipleRoots is returned when more than one node has no incoming edges.
	ErrMultipleRoots = errors.New("ontology has more than one root")

	// ErrCycleDetected is returned when the edges contain a directed cycle.
	ErrCycleDetected = errors.New("ontology contains a cycle")

	// ErrEmptyOntology is returned when a graph has no nodes at all.
	ErrEmptyOntology = errors.New("ontology is empty")

	// ErrNodeNotFound is returned when a query or edit names an unknown node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrDuplicateNode is returned when an edit adds a node that already
	// exists, or when two GML node ids carry the same label.
	ErrDuplicateNode = errors.New("node already exists")
)

// ValidationError describes why an ontology was rejected.
// It unwraps to one of ErrMultipleRoots, ErrCycleDetected or ErrEmptyOntology.
type ValidationError struct {
	Err   error
	Roots []string // set for ErrMultipleRoots
	Cycle []string // one offending cycle, first node repeated at the end
}

func (e *ValidationError) Error() string {
	switch {
	case errors.Is(e.Err, ErrMultipleRoots):
		return fmt.Sprintf("%v: %s", e.Err, strings.Join(quoteAll(e.Roots), ", "))
	case errors.Is(e.Err, ErrCycleDetected) && len(e.Cycle) > 0:
		return fmt.Sprintf("%v: %s", e.Err, strings.Join(quoteAll(e.Cycle), " -> "))
	default:
		return e.Err.Error()
	}
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func quoteAll(labels []string) []string {
	out := make([]string, len(labels))
	for i, l := range labels {
		out[i] = fmt.Sprintf("%q", l)
	}
	return out
}
