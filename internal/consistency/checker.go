package consistency

import (
	"github.com/ppiankov/policheck/internal/term"
)

// Checker decides flow consistency against a statement list.
type Checker struct {
	vocab    *term.Vocabulary
	detector *Detector
}

// NewChecker creates a checker and its detector over v.
func NewChecker(v *term.Vocabulary) *Checker {
	return &Checker{vocab: v, detector: NewDetector(v)}
}

// Detector returns the contradiction detector the checker uses.
func (c *Checker) Detector() *Detector {
	return c.detector
}

// Vocabulary returns the checker's vocabulary.
func (c *Checker) Vocabulary() *term.Vocabulary {
	return c.vocab
}

// Relevant returns the statements that cover flow, in input order.
func (c *Checker) Relevant(statements []term.PolicyStatement, flow term.DataFlow) []term.PolicyStatement {
	var out []term.PolicyStatement
	for _, p := range statements {
		if c.vocab.Covers(p, flow) {
			out = append(out, p)
		}
	}
	return out
}

// CheckStrict justifies flow when at least one covering statement collects
// and none says not_collect.
func (c *Checker) CheckStrict(statements []term.PolicyStatement, flow term.DataFlow) Result {
	res := Result{Mode: ModeStrict, Flow: flow}

	relevant := c.Relevant(statements, flow)
	if len(relevant) == 0 {
		res.Verdict = Unjustified
		return res
	}
	res.Relevant = relevant

	hasPositive, hasNegative := false, false
	for _, p := range relevant {
		if p.Action.Positive() {
			hasPositive = true
		} else {
			hasNegative = true
		}
	}

	if hasPositive && !hasNegative {
		res.Verdict = Consistent
		return res
	}

	res.Verdict = Inconsistent
	if !hasPositive {
		return res
	}

	res.Contradictions = make([][]Conflict, len(relevant))
	for i, p1 := range relevant {
		if !p1.Action.Positive() {
			continue
		}
		for _, p2 := range relevant {
			if p2.Action != term.NotCollect {
				continue
			}
			for _, pred := range c.detector.Match(p1, p2) {
				res.Contradictions[i] = append(res.Contradictions[i], Conflict{Statement: p2, Predicate: pred})
			}
		}
	}
	return res
}

// CheckAll runs CheckStrict for every flow.
func (c *Checker) CheckAll(statements []term.PolicyStatement, flows []term.DataFlow) []Result {
	out := make([]Result, len(flows))
	for i, f := range flows {
		out[i] = c.CheckStrict(statements, f)
	}
	return out
}

// Check runs the check for mode. Unknown modes fall back to strict.
func (c *Checker) Check(mode Mode, statements []term.PolicyStatement, flow term.DataFlow) Result {
	switch mode {
	case ModePermissive:
		return c.CheckPermissive(statements, flow)
	case ModeIntermediate:
		return c.CheckIntermediate(statements, flow)
	case ModeNearestEntity:
		return c.CheckNearestEntity(statements, flow)
	case ModeNearestData:
		return c.CheckNearestData(statements, flow)
	default:
		return c.CheckStrict(statements, flow)
	}
}
