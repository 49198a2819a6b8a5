package score

import (
	"fmt"
	"math"
	"sort"

	"github.com/ppiankov/policheck/internal/consistency"
	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/term"
)

// conflictPenalty is subtracted when a policy contradiction covers an
// observed flow.
const conflictPenalty = 10

// Scorer calculates the consistency index and generates signals
type Scorer struct {
	vocab *term.Vocabulary
}

// NewScorer creates a new scorer. The vocabulary is optional; without it
// the root-statement signal is omitted.
func NewScorer(v *term.Vocabulary) *Scorer {
	return &Scorer{vocab: v}
}

// Calculate scores a report from its verdicts and generates diagnostic signals.
// The index never depends on anything but the report's verdicts and
// contradictions.
func (s *Scorer) Calculate(rep *model.AppReport) model.Score {
	var signals []model.Signal
	counts := rep.Counts()

	// 1. Flow coverage (0-100 points)
	index, coverageSignal := s.calculateCoverage(counts)
	signals = append(signals, coverageSignal)

	// 2. Unjustified and contradicted flows
	if sig, ok := s.unjustifiedSignal(counts); ok {
		signals = append(signals, sig)
	}
	if sig, ok := s.contradictedSignal(rep, counts); ok {
		signals = append(signals, sig)
	}

	// 3. Policy self-contradictions (penalty when they touch a flow)
	conflict, impacted, contradictionSignal := s.detectConflict(rep)
	if conflict {
		signals = append(signals, contradictionSignal)
		if impacted > 0 {
			index -= conflictPenalty
			if index < 0 {
				index = 0
			}
		}
	}

	// 4. Inputs that never reached the checker
	if sig, ok := s.skippedSignal(rep.Skipped); ok {
		signals = append(signals, sig)
	}

	// 5. Statements about a whole ontology
	if sig, ok := s.rootSignal(rep.PolicyStatements(), rep.Skipped); ok {
		signals = append(signals, sig)
	}

	return model.Score{
		Index:      index,
		Confidence: s.determineConfidence(index, counts.Total(), conflict),
		Conflict:   conflict,
		Signals:    signals,
	}
}

// calculateCoverage scores the share of consistent flows (0-100 points)
func (s *Scorer) calculateCoverage(c model.Counts) (int, model.Signal) {
	total := c.Total()
	if total == 0 {
		return 0, model.Signal{
			Type:        model.SignalFlowCoverage,
			Severity:    model.SeverityCritical,
			Description: "No flows to check",
			Data:        map[string]any{"flows": 0},
		}
	}

	ratio := float64(c.Consistent) / float64(total)
	score := int(math.Round(ratio * 100))

	severity := model.SeverityInfo
	if ratio < 0.5 {
		severity = model.SeverityCritical
	} else if ratio < 1.0 {
		severity = model.SeverityWarning
	}

	return score, model.Signal{
		Type:        model.SignalFlowCoverage,
		Severity:    severity,
		Description: fmt.Sprintf("Consistent flows: %d/%d (%.0f%%)", c.Consistent, total, ratio*100),
		Data: map[string]any{
			"consistent":   c.Consistent,
			"inconsistent": c.Inconsistent,
			"unjustified":  c.Unjustified,
			"ratio":        ratio,
			"score":        score,
			"formula":      "round(consistent / flows * 100)",
		},
	}
}

func (s *Scorer) unjustifiedSignal(c model.Counts) (model.Signal, bool) {
	if c.Unjustified == 0 {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalUnjustifiedFlows,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("%d flow(s) not disclosed by any statement", c.Unjustified),
		Data:        map[string]any{"unjustified": c.Unjustified, "flows": c.Total()},
	}, true
}

func (s *Scorer) contradictedSignal(rep *model.AppReport, c model.Counts) (model.Signal, bool) {
	if c.Inconsistent == 0 {
		return model.Signal{}, false
	}
	var flows []string
	for _, f := range rep.Flows {
		if f.Verdict == consistency.Inconsistent {
			flows = append(flows, f.Flow.String())
		}
	}
	return model.Signal{
		Type:        model.SignalContradictedFlows,
		Severity:    model.SeverityCritical,
		Description: fmt.Sprintf("%d flow(s) covered by a not_collect statement", c.Inconsistent),
		Data:        map[string]any{"inconsistent": c.Inconsistent, "flows": flows},
	}, true
}

// detectConflict reports policy self-contradictions and how many observed
// flows they touch.
func (s *Scorer) detectConflict(rep *model.AppReport) (bool, int, model.Signal) {
	if len(rep.Contradictions) == 0 {
		return false, 0, model.Signal{}
	}

	byPredicate := make(map[string]int)
	for _, c := range rep.Contradictions {
		byPredicate[fmt.Sprint(int(c.Predicate))]++
	}
	impacted := 0
	for _, imp := range rep.Impact {
		impacted += len(imp.Flows)
	}

	data := map[string]any{
		"contradictions": len(rep.Contradictions),
		"by_predicate":   byPredicate,
		"impacted_flows": impacted,
	}
	if impacted > 0 {
		data["penalty"] = conflictPenalty
	}

	return true, impacted, model.Signal{
		Type:        model.SignalPolicyContradictions,
		Severity:    model.SeverityWarning,
		Description: fmt.Sprintf("Policy contradicts itself (%d statement pair(s))", len(rep.Contradictions)),
		Data:        data,
	}
}

func (s *Scorer) skippedSignal(skips []model.Skip) (model.Signal, bool) {
	if len(skips) == 0 {
		return model.Signal{}, false
	}
	byKind := make(map[string]int)
	for _, sk := range skips {
		byKind[string(sk.Kind)]++
	}

	severity := model.SeverityInfo
	if byKind[string(model.SkipNoFlows)] > 0 || byKind[string(model.SkipNoStatements)] > 0 {
		severity = model.SeverityWarning
	}

	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, k)
	}
	sort.Strings(kinds)

	return model.Signal{
		Type:        model.SignalSkippedInputs,
		Severity:    severity,
		Description: fmt.Sprintf("%d input(s) skipped during resolution (%v)", len(skips), kinds),
		Data:        map[string]any{"skipped": len(skips), "by_kind": byKind},
	}, true
}

// rootSignal counts statements about an ontology root, both those kept in
// the policy and those dropped at ingest.
func (s *Scorer) rootSignal(stmts []term.PolicyStatement, skips []model.Skip) (model.Signal, bool) {
	kept := 0
	if s.vocab != nil {
		for _, p := range stmts {
			if s.vocab.DiscussesRoot(p) {
				kept++
			}
		}
	}
	dropped := 0
	for _, sk := range skips {
		if sk.Kind == model.SkipRootStatement {
			dropped++
		}
	}
	if kept+dropped == 0 {
		return model.Signal{}, false
	}
	return model.Signal{
		Type:        model.SignalRootStatements,
		Severity:    model.SeverityInfo,
		Description: fmt.Sprintf("%d statement(s) about an ontology root (%d dropped at ingest)", kept+dropped, dropped),
		Data:        map[string]any{"root_statements": kept + dropped, "dropped": dropped, "statements": len(stmts)},
	}, true
}

// determineConfidence determines the confidence level based on the score
func (s *Scorer) determineConfidence(score int, flows int, conflict bool) string {
	if conflict {
		return "low-medium"
	}

	if flows < 3 {
		return "low"
	}

	if score >= 80 {
		return "high"
	} else if score >= 60 {
		return "medium"
	} else {
		return "low"
	}
}
