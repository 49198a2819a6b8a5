package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/policheck/internal/cache"
	"github.com/ppiankov/policheck/internal/logging"
	"github.com/ppiankov/policheck/internal/model"
)

// Request outcomes passed to the OnRequest hook.
const (
	StatusOK          = "ok"
	StatusCached      = "cached"
	StatusError       = "error"
	StatusUnavailable = "unavailable"
)

// Summarizer produces the optional narrative for a report. It never changes
// a verdict and never fails the analysis: problems become warnings.
type Summarizer struct {
	provider  Provider
	config    Config
	cache     cache.Cache
	logger    *slog.Logger
	onRequest func(provider, status string)
}

// NewSummarizer builds a summarizer; a config without a provider yields a
// disabled one.
func NewSummarizer(config Config) (*Summarizer, error) {
	provider, err := NewProvider(config)
	if err != nil {
		return nil, fmt.Errorf("create LLM provider: %w", err)
	}

	s := &Summarizer{provider: provider, config: config}
	if provider != nil && config.CacheDir != "" {
		s.cache = cache.NewMemoryDisk(time.Hour, config.CacheDir, config.CacheTTL)
	}
	return s, nil
}

// SetLogger sets the logger used for cache and provider diagnostics.
func (s *Summarizer) SetLogger(l *slog.Logger) {
	s.logger = l
}

// OnRequest registers fn to be told the outcome of every narrative request.
func (s *Summarizer) OnRequest(fn func(provider, status string)) {
	s.onRequest = fn
}

// IsEnabled reports whether a provider is configured.
func (s *Summarizer) IsEnabled() bool {
	return s.provider != nil
}

// ProviderName returns the configured provider, or "" when disabled.
func (s *Summarizer) ProviderName() string {
	if s.provider == nil {
		return ""
	}
	return s.provider.Name()
}

// GenerateSummary narrates report. It returns nil when disabled; every
// provider failure is reported through the summary's warnings.
func (s *Summarizer) GenerateSummary(ctx context.Context, report model.AppReport) (*model.LLMSummary, error) {
	if s.provider == nil {
		return nil, nil
	}

	name := s.provider.Name()
	summary := &model.LLMSummary{
		Enabled:        true,
		Provider:       name,
		Model:          s.config.Model,
		StrictEvidence: s.config.StrictEvidence,
	}

	tags := EvidenceTags(report)
	prompt := BuildPrompt(report, tags)
	key := cache.Key("narrative", name, s.config.Model, fmt.Sprint(s.config.StrictEvidence), prompt)

	if resp, ok := s.cached(key); ok {
		s.apply(summary, resp, len(tags))
		summary.Warnings = append(summary.Warnings, "Served from narrative cache")
		s.record(name, StatusCached)
		return summary, nil
	}

	if !s.provider.IsAvailable(ctx) {
		summary.Enabled = false
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("LLM provider %s is not available", name))
		s.record(name, StatusUnavailable)
		return summary, nil
	}

	resp, err := s.provider.Summarize(ctx, SummarizeRequest{
		Report:       report,
		EvidenceTags: tags,
		Prompt:       prompt,
		Model:        s.config.Model,
		MaxTokens:    s.config.MaxTokens,
	})
	if err != nil {
		s.log().Warn("llm summary failed", "app", report.AppID, "provider", name, "error", err)
		summary.Warnings = append(summary.Warnings, fmt.Sprintf("LLM summary generation failed: %v", err))
		s.record(name, StatusError)
		return summary, nil
	}

	s.apply(summary, resp, len(tags))
	s.store(key, resp)
	s.record(name, StatusOK)
	return summary, nil
}

func (s *Summarizer) apply(summary *model.LLMSummary, resp *SummarizeResponse, allowed int) {
	summary.SummaryMD = resp.Summary
	if resp.Model != "" {
		summary.Model = resp.Model
	}
	summary.Warnings = append(summary.Warnings, fmt.Sprintf("Tokens used: %d", resp.TokensUsed))
	if s.config.StrictEvidence {
		summary.Warnings = append(summary.Warnings,
			fmt.Sprintf("Verified %d citations against %d policy statements", len(resp.Cited), allowed))
	}
}

func (s *Summarizer) cached(key string) (*SummarizeResponse, bool) {
	if s.cache == nil {
		return nil, false
	}
	data, ok := s.cache.Get(key)
	if !ok {
		return nil, false
	}
	var resp SummarizeResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		s.log().Debug("discarding unreadable narrative cache entry", "error", err)
		return nil, false
	}
	return &resp, true
}

func (s *Summarizer) store(key string, resp *SummarizeResponse) {
	if s.cache == nil {
		return
	}
	data, err := json.Marshal(resp)
	if err == nil {
		err = s.cache.Set(key, data, 0)
	}
	if err != nil {
		s.log().Warn("narrative cache write failed", "error", err)
	}
}

func (s *Summarizer) record(provider, status string) {
	if s.onRequest != nil {
		s.onRequest(provider, status)
	}
}

func (s *Summarizer) log() *slog.Logger {
	if s.logger == nil {
		return logging.Discard()
	}
	return s.logger
}

// RenderSeparateMarkdown renders the narrative as its own document, kept
// apart from the deterministic report.
func RenderSeparateMarkdown(summary *model.LLMSummary) string {
	if summary == nil || !summary.Enabled {
		return ""
	}

	var b strings.Builder
	b.WriteString("# LLM Summary\n\n")
	b.WriteString("> **GENERATED CONTENT.** This narrative was written by a language model from the report below. ")
	b.WriteString("All verdicts and scores were determined independently by the deterministic checker; ")
	b.WriteString("the narrative cannot change them.\n\n")

	b.WriteString("| | |\n|---|---|\n")
	fmt.Fprintf(&b, "| **Provider** | %s |\n", summary.Provider)
	if summary.Model != "" {
		fmt.Fprintf(&b, "| **Model** | %s |\n", summary.Model)
	}
	fmt.Fprintf(&b, "| **Strict Evidence Mode** | %t |\n\n", summary.StrictEvidence)

	b.WriteString("## Summary\n\n")
	if summary.SummaryMD == "" {
		b.WriteString("_No summary generated._\n")
	} else {
		b.WriteString(summary.SummaryMD)
		b.WriteString("\n")
	}

	if len(summary.Warnings) > 0 {
		b.WriteString("\n## Notes\n\n")
		for _, w := range summary.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}

	return b.String()
}
