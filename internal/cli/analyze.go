package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/pipeline"
	"github.com/ppiankov/policheck/internal/worker"
)

const banner = "═══════════════════════════════════════════════════════════"

// analysisFlagKeys maps the flags shared by analyze, check and audit to
// config keys.
var analysisFlagKeys = map[string]string{
	"data-dir":        "data.dir",
	"flows":           "data.flows_file",
	"policy-dir":      "data.policy_dir",
	"entity-ontology": "ontology.entity_path",
	"data-ontology":   "ontology.data_path",
	"mode":            "analysis.mode",
	"sink":            "sink.kind",
	"db":              "sink.path",
	"output-dir":      "output.dir",
	"metrics-file":    "metrics.file",
	"concurrency":     "concurrency.workers",
	"timeout":         "concurrency.timeout",
	"llm-provider":    "llm.provider",
	"llm-model":       "llm.model",
}

// analyzeCmd represents the analyze command
var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Check every app of a dataset in parallel",
	Long: `Analyze runs the consistency check for every app in the flows file:
- Load and validate the entity and data ontologies
- Resolve each app's flows and policy statements
- Detect contradictions inside each policy
- Check every flow in the configured mode
- Write a JSON and Markdown report per app and persist results to the sink

Example:
  policheck analyze --data-dir ./data
  policheck analyze --data-dir ./data --concurrency 8 --output-dir ./reports
  policheck analyze --data-dir ./data --sink badger --db ./policheck.db --mode permissive
  policheck analyze --data-dir ./data --apps apps.txt`,
	Args:    cobra.NoArgs,
	PreRunE: bindAnalysisFlags,
	RunE:    runAnalyze,
}

func init() {
	rootCmd.AddCommand(analyzeCmd)
	addAnalysisFlags(analyzeCmd)
	analyzeCmd.Flags().Int("concurrency", 0, "number of concurrent workers (default from config: 4)")
	analyzeCmd.Flags().Duration("timeout", 0, "total timeout for the run (default from config: 10m)")
	analyzeCmd.Flags().String("apps", "", "analyze only the app ids listed in this file (one per line)")
}

func addAnalysisFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("data-dir", "", "directory relative data and ontology paths resolve against")
	f.String("flows", "", "flows CSV (default from config: data/policheck_flows.csv)")
	f.String("policy-dir", "", "directory of per-app statement files")
	f.String("entity-ontology", "", "entity ontology file (.gml, .yaml, .json)")
	f.String("data-ontology", "", "data ontology file (.gml, .yaml, .json)")
	f.String("mode", "", "consistency mode (strict, permissive, intermediate, nearest-entity, nearest-data)")
	f.String("sink", "", "result sink (none, jsonl, badger, or a list such as jsonl,badger)")
	f.String("db", "", "sink path: JSONL file, BadgerDB directory, or a directory for several sinks")
	f.String("output-dir", "", "output directory for reports")
	f.String("metrics-file", "", "write prometheus metrics to this textfile at the end of the run")
	f.Bool("no-footer", false, "disable footer in Markdown reports")

	// LLM flags
	f.Bool("llm", false, "enable LLM summary generation (never affects verdicts)")
	f.String("llm-provider", "", "LLM provider (openai, ollama)")
	f.String("llm-model", "", "LLM model name")
}

func bindAnalysisFlags(cmd *cobra.Command, _ []string) error {
	return bindFlags(cmd, analysisFlagKeys)
}

// prepare loads the configuration for an analysis command and applies the
// flags that are not plain config keys.
func prepare(cmd *cobra.Command) (*model.Config, *slog.Logger, error) {
	cfg, err := loadConfig(viper.GetViper())
	if err != nil {
		return nil, nil, err
	}

	if noFooter, _ := cmd.Flags().GetBool("no-footer"); noFooter {
		cfg.Output.IncludeFooter = false
	}
	llmEnabled, _ := cmd.Flags().GetBool("llm")
	if err := resolveLLM(cfg, llmEnabled); err != nil {
		return nil, nil, err
	}

	logger, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, logger, nil
}

// resolveLLM enables the narrative only when asked for and fills in
// credentials from the environment.
func resolveLLM(cfg *model.Config, enabled bool) error {
	if !enabled {
		cfg.LLM.Provider = ""
		return nil
	}
	if cfg.LLM.Provider == "" {
		cfg.LLM.Provider = "openai"
	}

	switch cfg.LLM.Provider {
	case "openai":
		if cfg.LLM.APIKey == "" {
			cfg.LLM.APIKey = os.Getenv("OPENAI_API_KEY")
		}
		if cfg.LLM.APIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY environment variable not set")
		}
	case "ollama":
		if cfg.LLM.BaseURL == "" {
			cfg.LLM.BaseURL = os.Getenv("OLLAMA_BASE_URL")
		}
	}
	return nil
}

func withTimeout(ctx context.Context, d time.Duration) (context.Context, context.CancelFunc) {
	if d <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, d)
}

// closePipeline closes p and keeps the first error.
func closePipeline(p *pipeline.Pipeline, err *error) {
	if cerr := p.Close(context.Background()); cerr != nil && *err == nil {
		*err = cerr
	}
}

// reportPaths returns the report files enabled in cfg.
func reportPaths(cfg *model.Config, appID string) (jsonPath, mdPath string) {
	jsonPath, mdPath = pipeline.ReportPaths(cfg.Output.Dir, appID)
	if !cfg.Output.JSON {
		jsonPath = ""
	}
	if !cfg.Output.Markdown {
		mdPath = ""
	}
	return jsonPath, mdPath
}

// requireApps fails when the policy directory yields no apps; apps are the
// statement files found there.
func requireApps(cfg *model.Config, apps []string) error {
	if len(apps) == 0 {
		return fmt.Errorf("no apps found: %s has no statement files (.csv, .jsonl)", cfg.Data.Path(cfg.Data.PolicyDir))
	}
	return nil
}

func runAnalyze(cmd *cobra.Command, args []string) (err error) {
	cfg, logger, err := prepare(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(cmd.Context(), cfg.Concurrency.Timeout)
	defer cancel()

	out := cmd.ErrOrStderr()
	fmt.Fprintf(out, "\n%s\n  PoliCheck Analysis\n%s\n\n", banner, banner)
	fmt.Fprintf(out, "  Data dir:     %s\n", cfg.Data.Dir)
	fmt.Fprintf(out, "  Mode:         %s\n", cfg.Analysis.Mode)
	fmt.Fprintf(out, "  Workers:      %d\n", cfg.Concurrency.Workers)
	fmt.Fprintf(out, "  Output dir:   %s\n", cfg.Output.Dir)
	fmt.Fprintf(out, "  Sink:         %s\n", cfg.Sink.Kind)
	if cfg.LLM.Provider != "" {
		fmt.Fprintf(out, "  LLM:          %s/%s\n", cfg.LLM.Provider, cfg.LLM.Model)
	}
	fmt.Fprintf(out, "\n")

	fmt.Fprintf(out, "⚙️  Loading ontologies and dataset...\n")
	p, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePipeline(p, &err)

	apps := p.Dataset().Apps()
	if err := requireApps(cfg, apps); err != nil {
		return err
	}
	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	fmt.Fprintf(out, "✓ Loaded %d apps (run %s)\n\n", len(apps), p.RunID())
	fmt.Fprintf(out, "⚙️  Analyzing apps with %d workers...\n\n", cfg.Concurrency.Workers)

	processor := worker.NewBatchProcessor(p, cfg.Concurrency.Workers)
	if cfg.Output.Verbose {
		processor.OnProgress(func(r *worker.AppResult) {
			logger.Debug("app finished", "app", r.AppID, "duration", r.Duration, "error", r.Error)
		})
	}
	var results []*worker.AppResult
	if appsFile, _ := cmd.Flags().GetString("apps"); appsFile != "" {
		results, err = processor.ProcessFile(ctx, appsFile)
		if err != nil {
			return err
		}
	} else {
		results = processor.ProcessApps(ctx, apps)
	}

	stats := summarizeBatch(out, results, func(report *model.AppReport) error {
		jsonPath, mdPath := reportPaths(cfg, report.AppID)
		return p.WriteReport(report, jsonPath, mdPath, false)
	})

	fmt.Fprintf(out, "\n%s\n  Analysis Complete\n%s\n\n", banner, banner)
	fmt.Fprintf(out, "  Total:           %d apps\n", len(results))
	fmt.Fprintf(out, "  Success:         %d\n", stats.success)
	fmt.Fprintf(out, "  Failures:        %d\n", stats.failures)
	fmt.Fprintf(out, "  Flows:           %d  ✓ %d  ✗ %d  ? %d\n",
		stats.counts.Total(), stats.counts.Consistent, stats.counts.Inconsistent, stats.counts.Unjustified)
	fmt.Fprintf(out, "  Contradictions:  %d\n", stats.contradictions)
	fmt.Fprintf(out, "  Skipped inputs:  %d\n", stats.skipped)
	fmt.Fprintf(out, "  Output:          %s\n", cfg.Output.Dir)
	if cfg.Metrics.File != "" {
		fmt.Fprintf(out, "  Metrics:         %s\n", cfg.Metrics.File)
	}
	fmt.Fprintf(out, "\n")

	return ctx.Err()
}

type batchStats struct {
	success        int
	failures       int
	counts         model.Counts
	contradictions int
	skipped        int
}

// summarizeBatch writes each successful report with write and prints one
// line per app.
func summarizeBatch(out io.Writer, results []*worker.AppResult, write func(*model.AppReport) error) batchStats {
	var stats batchStats
	for _, result := range results {
		if result.Error != nil {
			stats.failures++
			fmt.Fprintf(out, "✗ %s: %v\n", result.AppID, result.Error)
			continue
		}

		report := result.Report
		if err := write(report); err != nil {
			stats.failures++
			fmt.Fprintf(out, "✗ %s: %v\n", result.AppID, err)
			continue
		}

		stats.success++
		c := report.Counts()
		stats.counts.Consistent += c.Consistent
		stats.counts.Inconsistent += c.Inconsistent
		stats.counts.Unjustified += c.Unjustified
		stats.contradictions += len(report.Contradictions)
		stats.skipped += len(report.Skipped)

		fmt.Fprintf(out, "✓ %s (index: %d/100, flows: %d, contradictions: %d, skipped: %d)\n",
			report.AppID, report.Score.Index, c.Total(), len(report.Contradictions), len(report.Skipped))
	}
	return stats
}
