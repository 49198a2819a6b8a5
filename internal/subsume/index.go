// Package subsume answers subsumption questions over one ontology.
//
// An Index is the only place the higher layers compare terms. Descendant
// sets are computed on first use and memoized for the life of the Index;
// the memo is safe for concurrent use, so one Index can be shared by every
// worker of a run.
package subsume

import (
	"context"
	"sync/atomic"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"github.com/ppiankov/policheck/internal/cache"
	"github.com/ppiankov/policheck/internal/ontology"
)

// Index is a memoizing query layer over a validated graph.
type Index struct {
	graph  *ontology.Graph
	desc   *cache.Memo[ontology.Set]
	approx *cache.Memo[bool]
	group  singleflight.Group

	hits   atomic.Uint64
	misses atomic.Uint64
}

// Stats reports memo effectiveness.
type Stats struct {
	Hits        uint64 `json:"hits"`
	Misses      uint64 `json:"misses"`
	Descendants int    `json:"descendant_sets"`
	ApproxPairs int    `json:"approx_pairs"`
}

// NewIndex creates an index with an empty memo.
func NewIndex(g *ontology.Graph) *Index {
	return &Index{
		graph:  g,
		desc:   cache.NewMemo[ontology.Set](),
		approx: cache.NewMemo[bool](),
	}
}

// Graph returns the indexed ontology.
func (ix *Index) Graph() *ontology.Graph {
	return ix.graph
}

// Root returns the ontology root.
func (ix *Index) Root() string {
	return ix.graph.Root()
}

// Contains reports whether label is a node of the ontology.
func (ix *Index) Contains(label string) bool {
	return ix.graph.Has(label)
}

// IsSubsumedUnder reports x < y: x is a strict descendant of y.
func (ix *Index) IsSubsumedUnder(x, y string) bool {
	return x != y && ix.descendants(y).Has(x)
}

// IsSubsumedUnderOrEq reports x ≤ y.
func (ix *Index) IsSubsumedUnderOrEq(x, y string) bool {
	return x == y || ix.IsSubsumedUnder(x, y)
}

// IsEquivalent reports whether either term subsumes the other.
func (ix *Index) IsEquivalent(x, y string) bool {
	return ix.IsSubsumedUnderOrEq(x, y) || ix.IsSubsumedUnderOrEq(y, x)
}

// IsApprox reports whether x and y are not equivalent but share a
// descendant other than the root.
func (ix *Index) IsApprox(x, y string) bool {
	if ix.IsEquivalent(x, y) {
		return false
	}

	key := pairKey(x, y)
	if v, ok := ix.approx.Get(key); ok {
		ix.hits.Add(1)
		return v
	}
	ix.misses.Add(1)

	dx, dy := ix.descendants(x), ix.descendants(y)
	if len(dy) < len(dx) {
		dx, dy = dy, dx
	}
	root := ix.graph.Root()
	overlap := false
	for n := range dx {
		if n != root && dy.Has(n) {
			overlap = true
			break
		}
	}

	ix.approx.Put(key, overlap)
	return overlap
}

// DirectAncestors returns the parents of label, or nil when label is the
// root or not in the ontology.
func (ix *Index) DirectAncestors(label string) []string {
	parents, err := ix.graph.DirectAncestors(label)
	if err != nil {
		return nil
	}
	return parents
}

// Warm computes every descendant set up front using at most workers
// goroutines.
func (ix *Index) Warm(ctx context.Context, workers int) error {
	g, gctx := errgroup.WithContext(ctx)
	if workers > 0 {
		g.SetLimit(workers)
	}

	for _, node := range ix.graph.Nodes() {
		if gctx.Err() != nil {
			break
		}
		node := node
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			ix.descendants(node)
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// Stats returns a snapshot of memo counters.
func (ix *Index) Stats() Stats {
	return Stats{
		Hits:        ix.hits.Load(),
		Misses:      ix.misses.Load(),
		Descendants: ix.desc.Len(),
		ApproxPairs: ix.approx.Len(),
	}
}

// descendants returns the memoized reachable set of label. A label outside
// the ontology only reaches itself. Callers must not modify the result.
func (ix *Index) descendants(label string) ontology.Set {
	if s, ok := ix.desc.Get(label); ok {
		ix.hits.Add(1)
		return s
	}

	v, _, _ := ix.group.Do(label, func() (any, error) {
		if s, ok := ix.desc.Get(label); ok {
			return s, nil
		}
		ix.misses.Add(1)
		s, err := ix.graph.Descendants(label)
		if err != nil {
			s = ontology.Set{label: {}}
		}
		ix.desc.Put(label, s)
		return s, nil
	})
	return v.(ontology.Set)
}

func pairKey(x, y string) string {
	if y < x {
		x, y = y, x
	}
	return x + "\x00" + y
}
