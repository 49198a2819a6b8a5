package pipeline

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/policheck/internal/consistency"
	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/term"
)

const banner = "═══════════════════════════════════════════════════════════"

// Renderer writes reports as JSON and Markdown files and prints the
// terminal summary.
type Renderer struct {
	includeFooter bool
	out           io.Writer
}

// NewRenderer creates a renderer that prints to stdout.
func NewRenderer(includeFooter bool) *Renderer {
	return &Renderer{includeFooter: includeFooter, out: os.Stdout}
}

// SetOutput redirects the terminal summary.
func (r *Renderer) SetOutput(w io.Writer) {
	r.out = w
}

// ReportPaths returns the JSON and Markdown paths for appID under dir.
func ReportPaths(dir, appID string) (jsonPath, mdPath string) {
	base := filepath.Join(dir, safeName(appID))
	return base + ".json", base + ".md"
}

func safeName(s string) string {
	return strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, s)
}

// RenderJSON writes report as indented JSON.
func (r *Renderer) RenderJSON(report *model.AppReport, path string) error {
	data, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return writeFile(path, append(data, '\n'))
}

// RenderMarkdown writes report as Markdown.
func (r *Renderer) RenderMarkdown(report *model.AppReport, path string) error {
	return writeFile(path, []byte(r.Markdown(report)))
}

// RenderLLMMarkdown writes an already rendered narrative.
func (r *Renderer) RenderLLMMarkdown(markdown, path string) error {
	return writeFile(path, []byte(markdown))
}

func writeFile(path string, data []byte) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("create output dir: %w", err)
		}
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	return nil
}

// Markdown renders report as a Markdown document.
func (r *Renderer) Markdown(report *model.AppReport) string {
	var b strings.Builder
	counts := report.Counts()

	fmt.Fprintf(&b, "# Policy Consistency Report: %s\n\n", report.AppID)
	fmt.Fprintf(&b, "**Run:** `%s`  \n", report.RunID)
	fmt.Fprintf(&b, "**Generated:** %s  \n", report.GeneratedAt.Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "**Mode:** %s  \n", report.Mode)
	fmt.Fprintf(&b, "**Consistency Index:** %d/100 (confidence: %s)\n\n", report.Score.Index, report.Score.Confidence)

	if len(report.Flows) > 0 {
		b.WriteString("## Flows\n\n")
		fmt.Fprintf(&b, "%d consistent, %d inconsistent, %d unjustified.\n\n",
			counts.Consistent, counts.Inconsistent, counts.Unjustified)
		b.WriteString("| Entity | Data | Verdict | Relevant statements |\n")
		b.WriteString("|---|---|---|---|\n")
		for _, f := range report.Flows {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n",
				cell(string(f.Flow.Entity)), cell(string(f.Flow.Data)), verdictMark(f.Verdict), cell(joinStatements(f.Relevant)))
		}
		b.WriteString("\n")
	}

	b.WriteString("## Policy Contradictions\n\n")
	if len(report.Contradictions) == 0 {
		b.WriteString("_No contradictions found._\n\n")
	} else {
		impacted := impactIndex(report.Impact)
		b.WriteString("| # | Collect | Not collect | Predicate | Impacted flows |\n")
		b.WriteString("|---|---|---|---|---|\n")
		for i, c := range report.Contradictions {
			fmt.Fprintf(&b, "| %d | %s | %s | %s | %s |\n", i+1,
				cell(c.Pair.A.String()), cell(c.Pair.B.String()), c.Predicate, cell(joinFlows(impacted[c])))
		}
		b.WriteString("\n")
	}

	if len(report.Score.Signals) > 0 {
		b.WriteString("## Signals\n\n")
		for _, s := range report.Score.Signals {
			fmt.Fprintf(&b, "- **[%s] %s**: %s\n", s.Severity, s.Type, s.Description)
		}
		b.WriteString("\n")
	}

	if len(report.Skipped) > 0 {
		b.WriteString("## Skipped Inputs\n\n")
		for _, s := range report.Skipped {
			fmt.Fprintf(&b, "- %s `%s`: %s\n", s.Kind, s.Label, s.Reason)
		}
		b.WriteString("\n")
	}

	if len(report.Statements) > 0 {
		b.WriteString("## Policy Statements\n\n")
		b.WriteString("| # | Statement | Source | Sentence |\n")
		b.WriteString("|---|---|---|---|\n")
		for i, s := range report.Statements {
			fmt.Fprintf(&b, "| S%d | %s | %s | %s |\n", i+1,
				cell(s.PolicyStatement.String()), cell(s.Source), cell(s.Sentence))
		}
		b.WriteString("\n")
	}

	if r.includeFooter {
		b.WriteString("---\n\n")
		b.WriteString("*Generated by policheck. Verdicts are deterministic and computed from the ontologies ")
		fmt.Fprintf(&b, "(entity `%s`, data `%s`). ", short(report.Ontologies.Entity), short(report.Ontologies.Data))
		b.WriteString("An LLM narrative, when requested, is written to a separate file.*\n")
	}

	return b.String()
}

// RenderSummary prints a short summary of report.
func (r *Renderer) RenderSummary(report *model.AppReport) {
	counts := report.Counts()

	fmt.Fprintln(r.out, banner)
	fmt.Fprintf(r.out, "  %s  [%s]\n", report.AppID, report.Mode)
	fmt.Fprintln(r.out, banner)
	fmt.Fprintf(r.out, "Consistency Index: %d/100 (%s confidence)\n", report.Score.Index, report.Score.Confidence)
	fmt.Fprintf(r.out, "Flows: %d  ✓ %d consistent  ✗ %d inconsistent  ? %d unjustified\n",
		counts.Total(), counts.Consistent, counts.Inconsistent, counts.Unjustified)
	fmt.Fprintf(r.out, "Statements: %d  Contradictions: %d\n", len(report.Statements), len(report.Contradictions))
	if len(report.Skipped) > 0 {
		fmt.Fprintf(r.out, "Skipped inputs: %d\n", len(report.Skipped))
	}
	for _, s := range report.Score.Signals {
		if s.Severity == model.SeverityCritical {
			fmt.Fprintf(r.out, "⚠ %s\n", s.Description)
		}
	}
	fmt.Fprintln(r.out)
}

func verdictMark(v consistency.Verdict) string {
	switch v {
	case consistency.Consistent:
		return "✓ consistent"
	case consistency.Inconsistent:
		return "✗ inconsistent"
	default:
		return "? unjustified"
	}
}

func joinStatements(stmts []term.PolicyStatement) string {
	if len(stmts) == 0 {
		return "-"
	}
	parts := make([]string, len(stmts))
	for i, s := range stmts {
		parts[i] = s.String()
	}
	return strings.Join(parts, "; ")
}

func joinFlows(flows []term.DataFlow) string {
	if len(flows) == 0 {
		return "-"
	}
	parts := make([]string, len(flows))
	for i, f := range flows {
		parts[i] = f.String()
	}
	return strings.Join(parts, "; ")
}

func impactIndex(impacts []consistency.Impact) map[consistency.Contradiction][]term.DataFlow {
	out := make(map[consistency.Contradiction][]term.DataFlow, len(impacts))
	for _, imp := range impacts {
		out[imp.Contradiction] = imp.Flows
	}
	return out
}

func cell(s string) string {
	s = strings.ReplaceAll(s, "|", `\|`)
	return strings.ReplaceAll(s, "\n", " ")
}

func short(digest string) string {
	if len(digest) > 12 {
		return digest[:12]
	}
	return digest
}
