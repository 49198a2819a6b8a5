// Package pipeline runs the analysis of one app end to end: ingest,
// contradiction detection, per-flow checks, scoring, persistence and the
// optional narrative.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/ppiankov/policheck/internal/consistency"
	"github.com/ppiankov/policheck/internal/ingest"
	"github.com/ppiankov/policheck/internal/llm"
	"github.com/ppiankov/policheck/internal/logging"
	"github.com/ppiankov/policheck/internal/metrics"
	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/ontology"
	"github.com/ppiankov/policheck/internal/score"
	"github.com/ppiankov/policheck/internal/sink"
	"github.com/ppiankov/policheck/internal/term"
)

// Pipeline analyzes apps against one pair of ontologies. It is safe for
// concurrent use by the batch workers.
type Pipeline struct {
	config     *model.Config
	mode       consistency.Mode
	vocab      *term.Vocabulary
	checker    *consistency.Checker
	dataset    *ingest.Dataset
	scorer     *score.Scorer
	renderer   *Renderer
	writer     *sink.Writer
	summarizer *llm.Summarizer // Optional LLM summarizer (nil if disabled)
	metrics    *metrics.Recorder
	logger     *slog.Logger
	runID      string
	digests    model.OntologyDigests

	sinkTarget sink.Sink
}

// Option customizes a Pipeline.
type Option func(*Pipeline)

// WithSink persists every report to s.
func WithSink(s sink.Sink) Option {
	return func(p *Pipeline) { p.sinkTarget = s }
}

// WithSummarizer attaches the narrative generator.
func WithSummarizer(s *llm.Summarizer) Option {
	return func(p *Pipeline) { p.summarizer = s }
}

// WithMetrics records run metrics to r.
func WithMetrics(r *metrics.Recorder) Option {
	return func(p *Pipeline) { p.metrics = r }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

// WithRunID overrides the generated run ID.
func WithRunID(id string) Option {
	return func(p *Pipeline) { p.runID = id }
}

// NewPipeline creates a pipeline over vocab and dataset.
func NewPipeline(cfg *model.Config, vocab *term.Vocabulary, dataset *ingest.Dataset, opts ...Option) (*Pipeline, error) {
	mode, err := consistency.ParseMode(cfg.Analysis.Mode)
	if err != nil {
		return nil, err
	}

	p := &Pipeline{
		config:   cfg,
		mode:     mode,
		vocab:    vocab,
		checker:  consistency.NewChecker(vocab),
		dataset:  dataset,
		scorer:   score.NewScorer(vocab),
		renderer: NewRenderer(cfg.Output.IncludeFooter),
		runID:    model.NewRunID(),
		digests: model.OntologyDigests{
			Entity: vocab.Entities.Index().Graph().Digest(),
			Data:   vocab.Data.Index().Graph().Digest(),
		},
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.logger == nil {
		p.logger = logging.Discard()
	}
	p.writer = sink.NewWriter(p.sinkTarget, p.runID)
	return p, nil
}

// Open builds a pipeline from configuration: it loads and validates both
// ontologies, opens the dataset and the configured sink, and sets up the
// summarizer when a provider is configured. Ontology errors are fatal.
func Open(ctx context.Context, cfg *model.Config, logger *slog.Logger) (*Pipeline, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	vocab, err := LoadVocabulary(ctx, cfg)
	if err != nil {
		return nil, err
	}

	opts, err := ingest.OptionsFromConfig(cfg)
	if err != nil {
		return nil, fmt.Errorf("load data maps: %w", err)
	}
	dataset, err := ingest.Open(opts, vocab, logger)
	if err != nil {
		return nil, fmt.Errorf("open dataset: %w", err)
	}

	target, err := OpenSink(cfg.Sink, logger)
	if err != nil {
		return nil, err
	}

	rec := metrics.NewRecorder(cfg.Metrics.Namespace)
	pipelineOpts := []Option{WithSink(target), WithMetrics(rec), WithLogger(logger)}

	if cfg.LLM.Provider != "" {
		s, err := llm.NewSummarizer(llm.ConfigFromModel(cfg))
		if err != nil {
			logger.Warn("LLM provider disabled", "error", err)
		} else {
			s.SetLogger(logger)
			s.OnRequest(rec.LLMRequest)
			pipelineOpts = append(pipelineOpts, WithSummarizer(s))
		}
	}

	p, err := NewPipeline(cfg, vocab, dataset, pipelineOpts...)
	if err != nil {
		_ = target.Close(ctx)
		return nil, err
	}
	return p, nil
}

// LoadVocabulary loads both ontologies named by cfg, checks their roots and
// optionally warms the subsumption indexes.
func LoadVocabulary(ctx context.Context, cfg *model.Config) (*term.Vocabulary, error) {
	entities, err := ontology.Load(cfg.Data.Path(cfg.Ontology.EntityPath))
	if err != nil {
		return nil, fmt.Errorf("entity ontology: %w", err)
	}
	if err := entities.RequireRoot(cfg.Ontology.EntityRoot); err != nil {
		return nil, fmt.Errorf("entity ontology: %w", err)
	}

	data, err := ontology.Load(cfg.Data.Path(cfg.Ontology.DataPath))
	if err != nil {
		return nil, fmt.Errorf("data ontology: %w", err)
	}
	if err := data.RequireRoot(cfg.Ontology.DataRoot); err != nil {
		return nil, fmt.Errorf("data ontology: %w", err)
	}

	vocab := term.NewVocabulary(entities, data)
	if cfg.Ontology.Warm {
		if err := vocab.Entities.Index().Warm(ctx, cfg.Concurrency.WarmWorkers); err != nil {
			return nil, fmt.Errorf("warm entity index: %w", err)
		}
		if err := vocab.Data.Index().Warm(ctx, cfg.Concurrency.WarmWorkers); err != nil {
			return nil, fmt.Errorf("warm data index: %w", err)
		}
	}
	return vocab, nil
}

// OpenSink opens the sinks named by cfg. Several kinds fan out through a
// sink.Multi.
func OpenSink(cfg model.SinkConfig, logger *slog.Logger) (sink.Sink, error) {
	kinds := cfg.Kinds()
	if len(kinds) == 0 {
		return sink.Discard{}, nil
	}

	var opened sink.Multi
	for _, kind := range kinds {
		s, err := openSink(kind, cfg.PathFor(kind), logger)
		if err != nil {
			_ = opened.Close(context.Background())
			return nil, err
		}
		opened = append(opened, s)
	}
	if len(opened) == 1 {
		return opened[0], nil
	}
	return opened, nil
}

func openSink(kind, path string, logger *slog.Logger) (sink.Sink, error) {
	switch kind {
	case "jsonl":
		s, err := sink.NewFileSink(path)
		if err != nil {
			return nil, fmt.Errorf("open jsonl sink: %w", err)
		}
		return s, nil
	case "badger":
		bc := sink.DefaultBadgerConfig(path)
		bc.Logger = logger
		s, err := sink.OpenBadger(bc)
		if err != nil {
			return nil, fmt.Errorf("open badger sink: %w", err)
		}
		return s, nil
	default:
		return nil, fmt.Errorf("unknown sink kind %q", kind)
	}
}

// RunID returns the ID stamped on every report and record of this run.
func (p *Pipeline) RunID() string {
	return p.runID
}

// Mode returns the consistency mode flows are checked in.
func (p *Pipeline) Mode() consistency.Mode {
	return p.mode
}

// Dataset returns the dataset apps are loaded from.
func (p *Pipeline) Dataset() *ingest.Dataset {
	return p.dataset
}

// Vocabulary returns the shared vocabulary.
func (p *Pipeline) Vocabulary() *term.Vocabulary {
	return p.vocab
}

// Renderer returns the report renderer.
func (p *Pipeline) Renderer() *Renderer {
	return p.renderer
}

// AnalyzeApp loads and analyzes one app.
func (p *Pipeline) AnalyzeApp(ctx context.Context, appID string) (*model.AppReport, error) {
	start := time.Now()

	in, err := p.dataset.Load(appID)
	if err != nil {
		p.metrics.App("error", time.Since(start))
		return nil, fmt.Errorf("load %s: %w", appID, err)
	}

	report, err := p.Analyze(ctx, in)
	if err != nil {
		p.metrics.App("error", time.Since(start))
		return nil, err
	}

	p.metrics.App("ok", time.Since(start))
	return report, nil
}

// Analyze checks every flow of in, detects the policy's contradictions,
// scores the result and persists it. The narrative, when enabled, is
// generated last and never changes a verdict.
func (p *Pipeline) Analyze(ctx context.Context, in *ingest.AppInput) (*model.AppReport, error) {
	logger := logging.ForApp(p.logger, in.AppID)
	statements := in.PolicyStatements()
	detector := p.checker.Detector()

	report := p.newReport(in)
	report.Contradictions = detector.GetContradictions(statements)
	if p.config.Analysis.Impact && len(report.Contradictions) > 0 {
		report.Impact = detector.Impact(statements, in.Flows)
	}

	report.Flows = make([]consistency.Result, 0, len(in.Flows))
	for _, flow := range in.Flows {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res := p.checker.Check(p.mode, statements, flow)
		report.Flows = append(report.Flows, res)
		p.metrics.Flow(string(p.mode), res.Verdict.String())
	}

	p.recordInputs(report)
	report.Score = p.scorer.Calculate(report)

	if err := p.writer.WriteReport(ctx, report); err != nil {
		return nil, fmt.Errorf("persist %s: %w", in.AppID, err)
	}

	p.summarize(ctx, report)

	counts := report.Counts()
	logger.Info("analyzed app",
		"flows", counts.Total(),
		"consistent", counts.Consistent,
		"inconsistent", counts.Inconsistent,
		"unjustified", counts.Unjustified,
		"contradictions", len(report.Contradictions),
		"index", report.Score.Index)
	return report, nil
}

// Audit reports the contradictions of an app's policy without checking
// flows. Nothing is persisted.
func (p *Pipeline) Audit(ctx context.Context, appID string) (*model.AppReport, error) {
	in, err := p.dataset.Load(appID)
	if err != nil {
		return nil, fmt.Errorf("load %s: %w", appID, err)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	statements := in.PolicyStatements()
	detector := p.checker.Detector()

	report := p.newReport(in)
	report.Contradictions = detector.GetContradictions(statements)
	if len(report.Contradictions) > 0 {
		report.Impact = detector.Impact(statements, in.Flows)
	}
	report.Score = p.scorer.Calculate(report)
	return report, nil
}

func (p *Pipeline) newReport(in *ingest.AppInput) *model.AppReport {
	return &model.AppReport{
		RunID:       p.runID,
		AppID:       in.AppID,
		GeneratedAt: time.Now().UTC(),
		Mode:        p.mode,
		Ontologies:  p.digests,
		Statements:  in.Statements,
		Skipped:     in.Skips,
		Principles:  model.DefaultPrinciples(),
	}
}

func (p *Pipeline) recordInputs(report *model.AppReport) {
	for _, c := range report.Contradictions {
		p.metrics.Contradiction(int(c.Predicate))
	}
	for _, s := range report.Skipped {
		p.metrics.Skipped(string(s.Kind))
	}
}

func (p *Pipeline) summarize(ctx context.Context, report *model.AppReport) {
	// Generate LLM summary if enabled (AFTER scoring, never affects score)
	if p.summarizer == nil || !p.summarizer.IsEnabled() {
		return
	}
	summary, err := p.summarizer.GenerateSummary(ctx, *report)
	if err != nil {
		// Don't fail the analysis, just warn
		p.logger.Warn("LLM summary generation failed", "app", report.AppID, "error", err)
		return
	}
	report.LLM = summary
}

// RenderReport writes the report files and prints the summary.
func (p *Pipeline) RenderReport(report *model.AppReport, jsonPath string, mdPath string, verbose bool) error {
	if err := p.WriteReport(report, jsonPath, mdPath, verbose); err != nil {
		return err
	}
	p.renderer.RenderSummary(report)
	return nil
}

// WriteReport writes the JSON and Markdown reports. Empty paths are
// skipped. The narrative goes next to the Markdown report as .llm.md.
func (p *Pipeline) WriteReport(report *model.AppReport, jsonPath string, mdPath string, verbose bool) error {
	// Render JSON
	if jsonPath != "" {
		if err := p.renderer.RenderJSON(report, jsonPath); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		if verbose {
			fmt.Fprintf(p.renderer.out, "✓ Wrote JSON: %s\n", jsonPath)
		}
	}

	// Render Markdown
	if mdPath != "" {
		if err := p.renderer.RenderMarkdown(report, mdPath); err != nil {
			return fmt.Errorf("render markdown: %w", err)
		}
		if verbose {
			fmt.Fprintf(p.renderer.out, "✓ Wrote Markdown: %s\n", mdPath)
		}
	}

	// Render LLM summary to separate file if present
	if report.LLM != nil && report.LLM.Enabled && mdPath != "" {
		llmMdPath := strings.TrimSuffix(mdPath, ".md") + ".llm.md"
		llmMarkdown := llm.RenderSeparateMarkdown(report.LLM)
		if err := p.renderer.RenderLLMMarkdown(llmMarkdown, llmMdPath); err != nil {
			p.logger.Warn("failed to write LLM summary", "path", llmMdPath, "error", err)
		} else if verbose {
			fmt.Fprintf(p.renderer.out, "✓ Wrote LLM Summary: %s\n", llmMdPath)
		}
	}

	return nil
}

// Close flushes metrics and closes the sink. It is safe to call once.
func (p *Pipeline) Close(ctx context.Context) error {
	if p.metrics != nil {
		ent := p.vocab.Entities.Index().Stats()
		dat := p.vocab.Data.Index().Stats()
		p.metrics.Subsumption("entity", ent.Hits, ent.Misses)
		p.metrics.Subsumption("data", dat.Hits, dat.Misses)
	}

	var errs []error
	if p.metrics != nil && p.config.Metrics.File != "" {
		if err := p.metrics.WriteTextfile(p.config.Metrics.File); err != nil {
			errs = append(errs, fmt.Errorf("write metrics: %w", err))
		}
	}
	if err := p.writer.Close(ctx); err != nil {
		errs = append(errs, fmt.Errorf("close sink: %w", err))
	}
	return errors.Join(errs...)
}
