package consistency

import (
	"github.com/ppiankov/policheck/internal/term"
)

// Pair is an ordered pair of statements; A is the collect statement and B
// the not_collect one.
type Pair struct {
	A term.PolicyStatement `json:"p1"`
	B term.PolicyStatement `json:"p2"`
}

// Contradiction is a statement pair matched by a predicate.
type Contradiction struct {
	Pair      Pair      `json:"pair"`
	Predicate Predicate `json:"predicate"`
}

// Impact lists the flows a contradiction touches: those covered by both
// of its statements.
type Impact struct {
	Contradiction
	Flows []term.DataFlow `json:"flows"`
}

// Detector evaluates the contradiction matrix over one vocabulary.
type Detector struct {
	vocab *term.Vocabulary
}

// NewDetector creates a detector.
func NewDetector(v *term.Vocabulary) *Detector {
	return &Detector{vocab: v}
}

// Holds reports whether pred holds for (p1, p2). Every predicate requires
// p1 to collect and p2 to not collect.
func (d *Detector) Holds(pred Predicate, p1, p2 term.PolicyStatement) bool {
	if !pred.Valid() || p1.Action != term.Collect || p2.Action != term.NotCollect {
		return false
	}
	return d.vocab.Data.Relate(p1.Data, p2.Data) == pred.DataRelation() &&
		d.vocab.Entities.Relate(p1.Entity, p2.Entity) == pred.EntityRelation()
}

// Match evaluates all 16 predicates and returns those that hold. Relations
// are mutually exclusive, so the result has at most one element.
func (d *Detector) Match(p1, p2 term.PolicyStatement) []Predicate {
	var out []Predicate
	for _, pred := range AllPredicates {
		if d.Holds(pred, p1, p2) {
			out = append(out, pred)
		}
	}
	return out
}

// GetContradictions scans every ordered pair of distinct positions and
// returns the matches in scan order. Statements naming a root term are
// skipped.
func (d *Detector) GetContradictions(statements []term.PolicyStatement) []Contradiction {
	var out []Contradiction
	for i, p1 := range statements {
		if d.vocab.DiscussesRoot(p1) {
			continue
		}
		for j, p2 := range statements {
			if i == j || d.vocab.DiscussesRoot(p2) {
				continue
			}
			for _, pred := range d.Match(p1, p2) {
				out = append(out, Contradiction{Pair: Pair{A: p1, B: p2}, Predicate: pred})
			}
		}
	}
	return out
}

// Impact pairs every contradiction with the flows both statements cover.
func (d *Detector) Impact(statements []term.PolicyStatement, flows []term.DataFlow) []Impact {
	contradictions := d.GetContradictions(statements)
	out := make([]Impact, 0, len(contradictions))
	for _, c := range contradictions {
		imp := Impact{Contradiction: c}
		for _, f := range flows {
			if d.vocab.Covers(c.Pair.A, f) && d.vocab.Covers(c.Pair.B, f) {
				imp.Flows = append(imp.Flows, f)
			}
		}
		out = append(out, imp)
	}
	return out
}
