// Package consistency decides whether observed data flows are justified by
// an app's policy statements and finds statements that contradict each
// other.
package consistency

import (
	"fmt"

	"github.com/ppiankov/policheck/internal/term"
)

// Predicate is one cell of the 4x4 contradiction matrix, numbered 1..16.
//
// Rows are the data relation of p1 to p2 and columns the entity relation,
// each ordered equal, narrower, broader, approx:
//
//	              entity =  entity <  entity >  entity ~
//	data =           1         5         9        13
//	data <           2         6        10        14
//	data >           3         7        11        15
//	data ~           4         8        12        16
type Predicate int

// NoPredicate is stored when a flow has no contradiction to record.
const NoPredicate Predicate = -1

// AllPredicates lists every predicate in order.
var AllPredicates = func() []Predicate {
	out := make([]Predicate, 16)
	for i := range out {
		out[i] = Predicate(i + 1)
	}
	return out
}()

var matrixOrder = [4]term.Relation{term.RelEqual, term.RelNarrower, term.RelBroader, term.RelApprox}

func relationIndex(r term.Relation) int {
	for i, m := range matrixOrder {
		if m == r {
			return i
		}
	}
	return -1
}

// PredicateFor returns the predicate for a data and entity relation pair.
// RelNone on either side has no predicate.
func PredicateFor(data, entity term.Relation) (Predicate, bool) {
	row, col := relationIndex(data), relationIndex(entity)
	if row < 0 || col < 0 {
		return 0, false
	}
	return Predicate(4*col + row + 1), true
}

// Valid reports whether p is one of the 16 predicates.
func (p Predicate) Valid() bool {
	return p >= 1 && p <= 16
}

// DataRelation is the relation p1.data must have to p2.data.
func (p Predicate) DataRelation() term.Relation {
	if !p.Valid() {
		return term.RelNone
	}
	return matrixOrder[(int(p)-1)%4]
}

// EntityRelation is the relation p1.entity must have to p2.entity.
func (p Predicate) EntityRelation() term.Relation {
	if !p.Valid() {
		return term.RelNone
	}
	return matrixOrder[(int(p)-1)/4]
}

func (p Predicate) String() string {
	if !p.Valid() {
		return "none"
	}
	return fmt.Sprintf("#%d (data %s, entity %s)", int(p), p.DataRelation(), p.EntityRelation())
}
