package term

import (
	"github.com/ppiankov/policheck/internal/subsume"
)

// Relation is how two terms of the same ontology relate.
type Relation int

const (
	RelNone Relation = iota
	RelEqual
	RelNarrower // x < y
	RelBroader  // x > y
	RelApprox
)

func (r Relation) String() string {
	switch r {
	case RelEqual:
		return "equal"
	case RelNarrower:
		return "narrower"
	case RelBroader:
		return "broader"
	case RelApprox:
		return "approx"
	default:
		return "none"
	}
}

// Taxonomy hands out and compares terms of type T over one index.
type Taxonomy[T ~string] struct {
	kind  string
	index *subsume.Index
}

// NewTaxonomy wraps an index. kind names the ontology in errors.
func NewTaxonomy[T ~string](kind string, index *subsume.Index) *Taxonomy[T] {
	return &Taxonomy[T]{kind: kind, index: index}
}

// Index returns the underlying subsumption index.
func (t *Taxonomy[T]) Index() *subsume.Index {
	return t.index
}

// Term returns label as a T, or a *TermError if the ontology lacks it.
func (t *Taxonomy[T]) Term(label string) (T, error) {
	if !t.index.Contains(label) {
		return "", &TermError{Kind: t.kind, Label: label}
	}
	return T(label), nil
}

// Root returns the ontology root as a term.
func (t *Taxonomy[T]) Root() T {
	return T(t.index.Root())
}

// IsRoot reports whether x is the ontology root.
func (t *Taxonomy[T]) IsRoot(x T) bool {
	return string(x) == t.index.Root()
}

// IsSubsumedUnder reports x < y.
func (t *Taxonomy[T]) IsSubsumedUnder(x, y T) bool {
	return t.index.IsSubsumedUnder(string(x), string(y))
}

// IsSubsumedUnderOrEq reports x ≤ y.
func (t *Taxonomy[T]) IsSubsumedUnderOrEq(x, y T) bool {
	return t.index.IsSubsumedUnderOrEq(string(x), string(y))
}

// IsEquivalent reports x ≤ y or y ≤ x.
func (t *Taxonomy[T]) IsEquivalent(x, y T) bool {
	return t.index.IsEquivalent(string(x), string(y))
}

// IsApprox reports that x and y overlap without either subsuming the other.
func (t *Taxonomy[T]) IsApprox(x, y T) bool {
	return t.index.IsApprox(string(x), string(y))
}

// Relate classifies the pair. At most one relation holds for any pair.
func (t *Taxonomy[T]) Relate(x, y T) Relation {
	switch {
	case x == y:
		return RelEqual
	case t.IsSubsumedUnder(x, y):
		return RelNarrower
	case t.IsSubsumedUnder(y, x):
		return RelBroader
	case t.IsApprox(x, y):
		return RelApprox
	default:
		return RelNone
	}
}

// DirectAncestors returns the parents of x.
func (t *Taxonomy[T]) DirectAncestors(x T) []T {
	parents := t.index.DirectAncestors(string(x))
	out := make([]T, len(parents))
	for i, p := range parents {
		out[i] = T(p)
	}
	return out
}
