package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/ppiankov/policheck/internal/consistency"
	"github.com/ppiankov/policheck/internal/term"
)

// AppReport is the complete analysis of one application: every flow's
// verdict and the contradictions inside its policy.
type AppReport struct {
	RunID       string    `json:"run_id"`       // Shared by every app of one run
	AppID       string    `json:"app_id"`       // Package name without version suffix
	GeneratedAt time.Time `json:"generated_at"`

	Mode       consistency.Mode `json:"mode"`
	Ontologies OntologyDigests  `json:"ontologies"`

	Statements     []Statement                 `json:"statements"`
	Flows          []consistency.Result        `json:"flows"`
	Contradictions []consistency.Contradiction `json:"contradictions"`
	Impact         []consistency.Impact        `json:"impact,omitempty"`
	Skipped        []Skip                      `json:"skipped,omitempty"`

	Score      Score      `json:"score"`
	Principles Principles `json:"principles"`

	LLM *LLMSummary `json:"llm,omitempty"` // Optional narrative (separate, never affects verdicts)
}

// OntologyDigests identifies the ontologies a report was computed against.
type OntologyDigests struct {
	Entity string `json:"entity"`
	Data   string `json:"data"`
}

// Statement is a policy statement together with where it came from.
type Statement struct {
	term.PolicyStatement
	Sentence string `json:"sentence,omitempty"` // Source sentence, audit only
	Source   string `json:"source,omitempty"`   // File or extra-policy name
}

// SkipKind classifies an input that could not be resolved.
type SkipKind string

const (
	SkipFlowData      SkipKind = "flow_data"      // Flow data type not in the data map
	SkipFlowOntology  SkipKind = "flow_ontology"  // Mapped data type missing from the ontology
	SkipFlowEntity    SkipKind = "flow_entity"    // Destination resolved to no entity
	SkipStatement     SkipKind = "statement"      // Statement term missing from an ontology
	SkipRootStatement SkipKind = "root_statement" // Statement about an ontology root
	SkipExtraPolicy   SkipKind = "extra_policy"   // Referenced extra policy not found
	SkipNoFlows       SkipKind = "no_flows"       // App has no usable flows
	SkipNoStatements  SkipKind = "no_statements"  // App has no policy statements
)

// Skip records an input dropped during resolution.
type Skip struct {
	Kind   SkipKind `json:"kind"`
	Label  string   `json:"label"`
	Reason string   `json:"reason"`
}

// Counts tallies flow verdicts.
type Counts struct {
	Consistent   int `json:"consistent"`
	Inconsistent int `json:"inconsistent"`
	Unjustified  int `json:"unjustified"`
}

// Total returns the number of flows counted.
func (c Counts) Total() int {
	return c.Consistent + c.Inconsistent + c.Unjustified
}

// Counts tallies the verdicts of the report's flows.
func (r *AppReport) Counts() Counts {
	var c Counts
	for _, f := range r.Flows {
		switch f.Verdict {
		case consistency.Consistent:
			c.Consistent++
		case consistency.Inconsistent:
			c.Inconsistent++
		default:
			c.Unjustified++
		}
	}
	return c
}

// PolicyStatements returns the bare statements in report order.
func (r *AppReport) PolicyStatements() []term.PolicyStatement {
	out := make([]term.PolicyStatement, len(r.Statements))
	for i, s := range r.Statements {
		out[i] = s.PolicyStatement
	}
	return out
}

// Score represents the transparent scoring breakdown
type Score struct {
	Index      int      `json:"index"`      // Percentage of consistent flows (0-100)
	Confidence string   `json:"confidence"` // "low", "medium", "high"
	Conflict   bool     `json:"conflict"`   // Whether the policy contradicts itself
	Signals    []Signal `json:"signals"`    // Diagnostic signals with transparent data
}

// Signal represents a diagnostic signal with transparent scoring data
type Signal struct {
	Type        SignalType     `json:"type"`
	Severity    SignalSeverity `json:"severity"`
	Description string         `json:"description"`
	Data        map[string]any `json:"data,omitempty"` // Inputs behind the signal
}

// SignalType classifies the type of diagnostic signal
type SignalType string

const (
	SignalFlowCoverage         SignalType = "flow_coverage"         // Consistent flows / all flows
	SignalUnjustifiedFlows     SignalType = "unjustified_flows"     // Flows no statement covers
	SignalContradictedFlows    SignalType = "contradicted_flows"    // Flows covered by a negative statement
	SignalPolicyContradictions SignalType = "policy_contradictions" // Statement pairs in conflict
	SignalSkippedInputs        SignalType = "skipped_inputs"        // Unresolvable flows or statements
	SignalRootStatements       SignalType = "root_statements"       // Statements about the ontology roots
)

// SignalSeverity indicates the importance of the signal
type SignalSeverity string

const (
	SeverityInfo     SignalSeverity = "info"
	SeverityWarning  SignalSeverity = "warning"
	SeverityCritical SignalSeverity = "critical"
)

// Principles documents which core principles were applied
type Principles struct {
	Deterministic bool `json:"deterministic"` // Same inputs, same verdicts
	Transparent   bool `json:"transparent"`   // Every verdict lists its statements
	LLMAdvisory   bool `json:"llm_advisory"`  // Narrative never changes a verdict
}

// DefaultPrinciples returns the standard policheck principles
func DefaultPrinciples() Principles {
	return Principles{
		Deterministic: true,
		Transparent:   true,
		LLMAdvisory:   true,
	}
}

// LLMSummary contains optional LLM-generated summary
// CRITICAL: This never affects verdicts and is clearly separated
type LLMSummary struct {
	Enabled        bool     `json:"enabled"`
	Provider       string   `json:"provider,omitempty"` // openai, ollama
	Model          string   `json:"model,omitempty"`
	StrictEvidence bool     `json:"strict_evidence"`    // Whether citation enforcement was enabled
	SummaryMD      string   `json:"summary_md,omitempty"`
	Warnings       []string `json:"warnings,omitempty"` // Any issues (e.g., citation leaks detected)
}

// NewRunID returns a fresh identifier for one analysis run.
func NewRunID() string {
	return uuid.NewString()
}
