package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ppiankov/policheck/internal/consistency"
	"github.com/ppiankov/policheck/internal/model"
)

// Provider defines the interface for LLM providers
type Provider interface {
	// Name returns the provider name
	Name() string

	// Summarize generates a narrative of the report with strict evidence mode
	Summarize(ctx context.Context, req SummarizeRequest) (*SummarizeResponse, error)

	// IsAvailable checks if the provider is properly configured and accessible
	IsAvailable(ctx context.Context) bool
}

// SummarizeRequest contains the input for LLM summarization
type SummarizeRequest struct {
	// Report is the analysis to narrate
	Report model.AppReport

	// EvidenceTags is the STRICT allowlist of statement tags ("S1", "S2", ...)
	// the LLM can cite. Anything else it cites is a leak.
	EvidenceTags []string

	// Prompt is an optional custom prompt (if empty, use default)
	Prompt string

	// Model is the specific model to use (provider-specific)
	Model string

	// MaxTokens limits the response length
	MaxTokens int
}

// SummarizeResponse contains the LLM's summary output
type SummarizeResponse struct {
	Summary    string   `json:"summary"`
	Cited      []string `json:"cited,omitempty"` // Statement tags the LLM cited
	Model      string   `json:"model"`
	TokensUsed int      `json:"tokens_used"`
}

// Config holds LLM provider configuration
type Config struct {
	// Provider name: "openai", "ollama", ""
	Provider string

	// Model name (provider-specific)
	Model string

	// APIKey for OpenAI; ignored by Ollama
	APIKey string

	// BaseURL for custom endpoints (e.g., Ollama)
	BaseURL string

	// Timeout for API requests
	Timeout int // seconds

	// StrictEvidence enforces the statement allowlist (should always be true)
	StrictEvidence bool

	// MaxTokens for response generation
	MaxTokens int

	// Narratives are cached under CacheDir for CacheTTL; empty disables
	CacheDir string
	CacheTTL time.Duration

	// Outbound requests per second to the provider host; 0 disables
	RequestsPerSecond float64
	Burst             int

	// Per-host overrides, keyed by host or URL
	HostRates map[string]HostRate

	// Proxy settings
	HTTPProxy  string
	HTTPSProxy string
	NoProxy    string
}

// HostRate is the request rate for one endpoint host.
type HostRate struct {
	RequestsPerSecond float64
	Burst             int
}

// DefaultConfig returns sensible defaults
func DefaultConfig() Config {
	return Config{
		Provider:       "", // Disabled by default
		Model:          "",
		Timeout:        30,
		StrictEvidence: true, // CRITICAL: Always enforce
		MaxTokens:      1000,
	}
}

const maxPromptStatements = 40

// EvidenceTags returns the citable tags for report, one per statement in
// report order, capped at the number of statements the prompt lists.
func EvidenceTags(report model.AppReport) []string {
	n := len(report.Statements)
	if n > maxPromptStatements {
		n = maxPromptStatements
	}
	tags := make([]string, n)
	for i := range tags {
		tags[i] = fmt.Sprintf("S%d", i+1)
	}
	return tags
}

// BuildPrompt constructs the default prompt for summarization with strict evidence mode
func BuildPrompt(report model.AppReport, tags []string) string {
	counts := report.Counts()

	var b strings.Builder
	fmt.Fprintf(&b, `You are summarizing a policheck report. policheck compares the data flows an app was observed sending with the statements of its privacy policy - it NEVER judges legality or intent.

CRITICAL RULES:
1. You MUST ONLY cite policy statements from this allowed list, by tag in brackets (e.g. [S1]):
%s

2. DO NOT infer, speculate, or cite URLs or sources beyond this list.
3. If no statement covers a flow, state that explicitly.
4. Focus on DISCLOSURE CONSISTENCY, not compliance. Use phrases like:
   - "The flow is disclosed by [S2]..."
   - "No statement covers..."
   - "[S1] and [S3] contradict each other on..."
5. Never say the app "complies" or "violates" anything - only describe consistency.

Report Summary:
- App: %s
- Mode: %s
- Consistency Index: %d/100
- Flows: %d (%d consistent, %d inconsistent, %d unjustified)
- Policy Statements: %d
- Contradictions: %d

`, joinStatements(report.Statements, tags), report.AppID, report.Mode, report.Score.Index,
		counts.Total(), counts.Consistent, counts.Inconsistent, counts.Unjustified,
		len(report.Statements), len(report.Contradictions))

	if flows := flaggedFlows(report.Flows); len(flows) > 0 {
		b.WriteString("Flows Needing Attention:\n")
		for i, f := range flows {
			if i >= 10 {
				fmt.Fprintf(&b, "- ... and %d more\n", len(flows)-10)
				break
			}
			fmt.Fprintf(&b, "- %s: %s\n", f.Flow, f.Verdict)
		}
		b.WriteString("\n")
	}

	b.WriteString("Key Signals:\n")
	// Add top 3 signals
	for i, signal := range report.Score.Signals {
		if i >= 3 {
			break
		}
		fmt.Fprintf(&b, "- %s: %s\n", signal.Type, signal.Description)
	}

	b.WriteString("\nProvide a 3-4 sentence summary focusing on disclosure consistency, not compliance.")

	return b.String()
}

// Helper functions

func joinStatements(statements []model.Statement, tags []string) string {
	if len(statements) == 0 || len(tags) == 0 {
		return "(No policy statements available)"
	}
	var b strings.Builder
	for i, tag := range tags {
		if i >= len(statements) {
			break
		}
		s := statements[i]
		fmt.Fprintf(&b, "\n[%s] %s", tag, s.PolicyStatement)
		if s.Sentence != "" {
			fmt.Fprintf(&b, ": %q", s.Sentence)
		}
	}
	if rest := len(statements) - len(tags); rest > 0 {
		fmt.Fprintf(&b, "\n... and %d more statements (not citable)", rest)
	}
	return b.String()
}

func flaggedFlows(results []consistency.Result) []consistency.Result {
	var out []consistency.Result
	for _, r := range results {
		if !r.Consistent() {
			out = append(out, r)
		}
	}
	return out
}
