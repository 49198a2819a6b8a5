package score

import (
	"testing"

	"github.com/ppiankov/policheck/internal/consistency"
	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/ontology/ontologytest"
	"github.com/ppiankov/policheck/internal/term"
)

func vocab() *term.Vocabulary {
	return term.NewVocabulary(ontologytest.Entity(), ontologytest.Data())
}

// buildReport checks flows against statements the way the analyzer does.
func buildReport(v *term.Vocabulary, stmts []term.PolicyStatement, flows []term.DataFlow) *model.AppReport {
	c := consistency.NewChecker(v)
	rep := &model.AppReport{
		Flows:          c.CheckAll(stmts, flows),
		Contradictions: c.Detector().GetContradictions(stmts),
		Impact:         c.Detector().Impact(stmts, flows),
	}
	for _, s := range stmts {
		rep.Statements = append(rep.Statements, model.Statement{PolicyStatement: s})
	}
	return rep
}

func findSignal(signals []model.Signal, typ model.SignalType) *model.Signal {
	for i := range signals {
		if signals[i].Type == typ {
			return &signals[i]
		}
	}
	return nil
}

func TestScorer_Calculate_AllConsistent(t *testing.T) {
	v := vocab()
	stmts := []term.PolicyStatement{
		v.MustStatement("third party", "collect", "personal information"),
	}
	flows := []term.DataFlow{
		v.MustFlow("companyX", "heart rate"),
		v.MustFlow("google admob", "username"),
		v.MustFlow("google analytics", "blood glucose"),
	}

	result := NewScorer(v).Calculate(buildReport(v, stmts, flows))

	if result.Index != 100 {
		t.Errorf("expected index 100, got %d", result.Index)
	}
	if result.Confidence != "high" {
		t.Errorf("expected high confidence, got %s", result.Confidence)
	}
	if result.Conflict {
		t.Error("expected no conflict")
	}
	if len(result.Signals) != 1 {
		t.Errorf("expected only the coverage signal, got %d signals", len(result.Signals))
	}
}

func TestScorer_Calculate_Mixed(t *testing.T) {
	v := vocab()
	stmts := []term.PolicyStatement{
		v.MustStatement("advertiser", "collect", "heart rate"),
		v.MustStatement("advertiser", "not_collect", "biometric information"),
		v.MustStatement("google analytics", "collect", "username"),
	}
	flows := []term.DataFlow{
		v.MustFlow("google analytics", "username"),    // consistent
		v.MustFlow("companyX", "heart rate"),          // inconsistent
		v.MustFlow("google analytics", "fingerprint"), // unjustified
		v.MustFlow("google admob", "fingerprint"),     // inconsistent
	}

	rep := buildReport(v, stmts, flows)
	result := NewScorer(v).Calculate(rep)

	// 1/4 consistent = 25, minus the conflict penalty
	if result.Index != 15 {
		t.Errorf("expected index 15, got %d", result.Index)
	}
	if !result.Conflict {
		t.Error("expected conflict to be detected")
	}
	if result.Confidence != "low-medium" {
		t.Errorf("expected low-medium confidence, got %s", result.Confidence)
	}

	for _, typ := range []model.SignalType{
		model.SignalFlowCoverage,
		model.SignalUnjustifiedFlows,
		model.SignalContradictedFlows,
		model.SignalPolicyContradictions,
	} {
		if findSignal(result.Signals, typ) == nil {
			t.Errorf("expected %s signal", typ)
		}
	}

	contradicted := findSignal(result.Signals, model.SignalContradictedFlows)
	if contradicted.Severity != model.SeverityCritical {
		t.Errorf("expected critical severity, got %s", contradicted.Severity)
	}
	if got := contradicted.Data["inconsistent"]; got != 2 {
		t.Errorf("expected 2 inconsistent flows, got %v", got)
	}
}

func TestScorer_Calculate_NoFlows(t *testing.T) {
	rep := &model.AppReport{
		Skipped: []model.Skip{{Kind: model.SkipNoFlows, Label: "com.example", Reason: "no resolvable flows"}},
	}
	result := NewScorer(nil).Calculate(rep)

	if result.Index != 0 {
		t.Errorf("expected index 0, got %d", result.Index)
	}
	if result.Confidence != "low" {
		t.Errorf("expected low confidence, got %s", result.Confidence)
	}
	coverage := findSignal(result.Signals, model.SignalFlowCoverage)
	if coverage == nil || coverage.Severity != model.SeverityCritical {
		t.Error("expected critical coverage signal")
	}
	skipped := findSignal(result.Signals, model.SignalSkippedInputs)
	if skipped == nil || skipped.Severity != model.SeverityWarning {
		t.Error("expected warning for skipped inputs")
	}
}

func TestScorer_Calculate_RootStatements(t *testing.T) {
	v := vocab()
	stmts := []term.PolicyStatement{
		v.MustStatement("public", "collect", "username"),
		v.MustStatement("advertiser", "collect", "information"),
	}
	rep := buildReport(v, stmts, []term.DataFlow{v.MustFlow("companyX", "username")})

	result := NewScorer(v).Calculate(rep)
	root := findSignal(result.Signals, model.SignalRootStatements)
	if root == nil {
		t.Fatal("expected root statement signal")
	}
	if got := root.Data["root_statements"]; got != 2 {
		t.Errorf("expected 2 root statements, got %v", got)
	}

	if findSignal(NewScorer(nil).Calculate(rep).Signals, model.SignalRootStatements) != nil {
		t.Error("expected no root signal without a vocabulary")
	}

	rep.Skipped = []model.Skip{{Kind: model.SkipRootStatement, Label: "information", Reason: "data type is the ontology root"}}
	root = findSignal(NewScorer(nil).Calculate(rep).Signals, model.SignalRootStatements)
	if root == nil {
		t.Fatal("expected root signal for a statement dropped at ingest")
	}
	if got := root.Data["dropped"]; got != 1 {
		t.Errorf("expected 1 dropped root statement, got %v", got)
	}
}

func TestScorer_DetermineConfidence(t *testing.T) {
	scorer := NewScorer(nil)

	tests := []struct {
		name     string
		score    int
		flows    int
		conflict bool
		want     string
	}{
		{"high score", 85, 10, false, "high"},
		{"medium score", 65, 10, false, "medium"},
		{"low score", 40, 10, false, "low"},
		{"few flows", 100, 2, false, "low"},
		{"conflict", 100, 10, true, "low-medium"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := scorer.determineConfidence(tt.score, tt.flows, tt.conflict)
			if got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}
}
