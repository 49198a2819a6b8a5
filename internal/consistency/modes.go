package consistency

import (
	"errors"
	"fmt"

	"github.com/ppiankov/policheck/internal/term"
)

// ErrUnknownMode is returned by ParseMode.
var ErrUnknownMode = errors.New("unknown consistency mode")

// Mode selects how a flow is judged.
type Mode string

const (
	ModeStrict        Mode = "strict"
	ModePermissive    Mode = "permissive"
	ModeIntermediate  Mode = "intermediate"
	ModeNearestEntity Mode = "nearest-entity"
	ModeNearestData   Mode = "nearest-data"
)

// Modes lists every mode, strict first.
var Modes = []Mode{ModeStrict, ModePermissive, ModeIntermediate, ModeNearestEntity, ModeNearestData}

// ParseMode validates a mode name. The empty string means strict.
func ParseMode(s string) (Mode, error) {
	if s == "" {
		return ModeStrict, nil
	}
	for _, m := range Modes {
		if string(m) == s {
			return m, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownMode, s)
}

// intermediatePredicates are the cells that veto a collect statement in
// intermediate mode. Left out are the cells where the collect statement is
// the narrower claim (narrower data, or narrower entity over equal data);
// those read as an exception to the not_collect statement.
var intermediatePredicates = map[Predicate]bool{
	1: true, 3: true, 4: true, 7: true, 8: true, 9: true,
	11: true, 12: true, 13: true, 15: true, 16: true,
}

// CheckPermissive justifies flow by the first covering collect statement
// that names no root term.
func (c *Checker) CheckPermissive(statements []term.PolicyStatement, flow term.DataFlow) Result {
	res := Result{Mode: ModePermissive, Flow: flow, Verdict: Unjustified}
	for _, p := range statements {
		if c.vocab.Covers(p, flow) && p.Action.Positive() && !c.vocab.DiscussesRoot(p) {
			res.Verdict = Consistent
			res.Relevant = []term.PolicyStatement{p}
			return res
		}
	}
	return res
}

// CheckIntermediate justifies flow by the first covering collect statement
// that no covering not_collect statement contradicts under the
// intermediate predicates. Root statements are ignored on both sides.
func (c *Checker) CheckIntermediate(statements []term.PolicyStatement, flow term.DataFlow) Result {
	res := Result{Mode: ModeIntermediate, Flow: flow, Verdict: Unjustified}

	var vetoed []term.PolicyStatement
	var conflicts [][]Conflict
	for _, p1 := range statements {
		if !c.vocab.Covers(p1, flow) || !p1.Action.Positive() || c.vocab.DiscussesRoot(p1) {
			continue
		}

		var found []Conflict
		for _, p2 := range statements {
			if p2.Action != term.NotCollect || !c.vocab.Covers(p2, flow) || c.vocab.DiscussesRoot(p2) {
				continue
			}
			for _, pred := range c.detector.Match(p1, p2) {
				if intermediatePredicates[pred] {
					found = append(found, Conflict{Statement: p2, Predicate: pred})
				}
			}
		}

		if len(found) == 0 {
			res.Verdict = Consistent
			res.Relevant = []term.PolicyStatement{p1}
			return res
		}
		vetoed = append(vetoed, p1)
		conflicts = append(conflicts, found)
	}

	if len(vetoed) > 0 {
		res.Verdict = Inconsistent
		res.Relevant = vetoed
		res.Contradictions = conflicts
	}
	return res
}

// CheckNearestEntity climbs the entity ontology from the flow's entity and,
// at each level, the data ontology from the flow's data type, stopping at
// the first level pair with exactly matching statements.
func (c *Checker) CheckNearestEntity(statements []term.PolicyStatement, flow term.DataFlow) Result {
	matches := c.nearest(statements, flow, true)
	return c.judgeMatches(ModeNearestEntity, statements, flow, matches)
}

// CheckNearestData is CheckNearestEntity with the roles of the two
// ontologies swapped: the data level is the outer loop.
func (c *Checker) CheckNearestData(statements []term.PolicyStatement, flow term.DataFlow) Result {
	matches := c.nearest(statements, flow, false)
	return c.judgeMatches(ModeNearestData, statements, flow, matches)
}

func (c *Checker) nearest(statements []term.PolicyStatement, flow term.DataFlow, entityOuter bool) []term.PolicyStatement {
	matchAt := func(entities map[term.Entity]bool, data map[term.Data]bool) []term.PolicyStatement {
		var out []term.PolicyStatement
		for _, p := range statements {
			if entities[p.Entity] && data[p.Data] {
				out = append(out, p)
			}
		}
		return out
	}

	startEntities := map[term.Entity]bool{flow.Entity: true}
	startData := map[term.Data]bool{flow.Data: true}

	if entityOuter {
		for entities := startEntities; len(entities) > 0; entities = parentsOf(c.vocab.Entities, entities) {
			for data := startData; len(data) > 0; data = parentsOf(c.vocab.Data, data) {
				if m := matchAt(entities, data); len(m) > 0 {
					return m
				}
			}
		}
		return nil
	}

	for data := startData; len(data) > 0; data = parentsOf(c.vocab.Data, data) {
		for entities := startEntities; len(entities) > 0; entities = parentsOf(c.vocab.Entities, entities) {
			if m := matchAt(entities, data); len(m) > 0 {
				return m
			}
		}
	}
	return nil
}

// parentsOf returns the union of the direct ancestors of level.
func parentsOf[T ~string](tx *term.Taxonomy[T], level map[T]bool) map[T]bool {
	next := make(map[T]bool)
	for t := range level {
		for _, p := range tx.DirectAncestors(t) {
			next[p] = true
		}
	}
	return next
}

// judgeMatches turns the nearest matches into a verdict: consistent when a
// match collects and none says not_collect. Conflicts of each collecting
// match are taken against the whole statement list.
func (c *Checker) judgeMatches(mode Mode, statements []term.PolicyStatement, flow term.DataFlow, matches []term.PolicyStatement) Result {
	res := Result{Mode: mode, Flow: flow, Verdict: Unjustified}
	if len(matches) == 0 {
		return res
	}
	res.Relevant = matches

	hasPositive, hasNegative := false, false
	for _, p := range matches {
		if p.Action.Positive() {
			hasPositive = true
		} else {
			hasNegative = true
		}
	}

	if !hasNegative {
		res.Verdict = Consistent
		return res
	}
	res.Verdict = Inconsistent
	if !hasPositive {
		return res
	}

	res.Contradictions = make([][]Conflict, len(matches))
	for i, p1 := range matches {
		for _, p2 := range statements {
			for _, pred := range c.detector.Match(p1, p2) {
				res.Contradictions[i] = append(res.Contradictions[i], Conflict{Statement: p2, Predicate: pred})
			}
		}
	}
	return res
}
