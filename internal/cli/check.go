package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/pipeline"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:   "check <app-id>",
	Short: "Check a single app and write its report",
	Long: `Check analyzes one app of the dataset and writes its JSON and Markdown
reports to the output directory.

Example:
  policheck check com.example.game --data-dir ./data
  policheck check com.example.game --data-dir ./data --mode nearest-entity -v
  policheck check com.example.game --data-dir ./data --llm --llm-provider ollama`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindAnalysisFlags,
	RunE:    runCheck,
}

// auditCmd represents the audit command
var auditCmd = &cobra.Command{
	Use:   "audit <app-id>",
	Short: "Report contradictions inside an app's policy",
	Long: `Audit checks a policy against itself: every pair of statements is
matched against the contradiction predicates, and for each contradiction
the app's flows covered by both statements are listed. Flows are not
checked and nothing is persisted.

Example:
  policheck audit com.example.game --data-dir ./data
  policheck audit com.example.game --data-dir ./data --json audit.json`,
	Args:    cobra.ExactArgs(1),
	PreRunE: bindAnalysisFlags,
	RunE:    runAudit,
}

func init() {
	rootCmd.AddCommand(checkCmd)
	addAnalysisFlags(checkCmd)

	rootCmd.AddCommand(auditCmd)
	auditCmd.Flags().String("data-dir", "", "directory relative data and ontology paths resolve against")
	auditCmd.Flags().String("flows", "", "flows CSV (default from config: data/policheck_flows.csv)")
	auditCmd.Flags().String("policy-dir", "", "directory of per-app statement files")
	auditCmd.Flags().String("entity-ontology", "", "entity ontology file (.gml, .yaml, .json)")
	auditCmd.Flags().String("data-ontology", "", "data ontology file (.gml, .yaml, .json)")
	auditCmd.Flags().String("json", "", "also write the audit as JSON to this path")
}

func runCheck(cmd *cobra.Command, args []string) (err error) {
	appID := args[0]
	cfg, logger, err := prepare(cmd)
	if err != nil {
		return err
	}
	ctx, cancel := withTimeout(cmd.Context(), cfg.Concurrency.Timeout)
	defer cancel()

	if cfg.Output.Verbose {
		fmt.Fprintf(os.Stderr, "Checking: %s\n", appID)
		fmt.Fprintf(os.Stderr, "Mode: %s\n", cfg.Analysis.Mode)
		fmt.Fprintf(os.Stderr, "Sink: %s\n", cfg.Sink.Kind)
		fmt.Fprintln(os.Stderr)
	}

	p, err := pipeline.Open(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closePipeline(p, &err)

	report, err := p.AnalyzeApp(ctx, appID)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(cfg.Output.Dir, 0755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}
	jsonPath, mdPath := reportPaths(cfg, appID)
	return p.RenderReport(report, jsonPath, mdPath, cfg.Output.Verbose)
}

func runAudit(cmd *cobra.Command, args []string) (err error) {
	appID := args[0]
	cfg, logger, err := prepare(cmd)
	if err != nil {
		return err
	}
	// audit never persists
	cfg.Sink.Kind = "none"
	cfg.Metrics.File = ""

	p, err := pipeline.Open(cmd.Context(), cfg, logger)
	if err != nil {
		return err
	}
	defer closePipeline(p, &err)

	report, err := p.Audit(cmd.Context(), appID)
	if err != nil {
		return err
	}

	if path, _ := cmd.Flags().GetString("json"); path != "" {
		if err := p.Renderer().RenderJSON(report, path); err != nil {
			return fmt.Errorf("render JSON: %w", err)
		}
		fmt.Fprintf(os.Stderr, "✓ Wrote JSON: %s\n", path)
	}

	printAudit(cmd.OutOrStdout(), report)
	return nil
}

// printAudit lists the contradictions of a report and the flows each one
// touches.
func printAudit(w io.Writer, report *model.AppReport) {
	fmt.Fprintf(w, "\n%s\n  %s  [policy audit]\n%s\n\n", banner, report.AppID, banner)
	fmt.Fprintf(w, "  Statements:      %d\n", len(report.Statements))
	fmt.Fprintf(w, "  Contradictions:  %d\n\n", len(report.Contradictions))

	if len(report.Contradictions) == 0 {
		fmt.Fprintf(w, "✓ No contradictions found\n\n")
		return
	}

	impacted := make(map[int]int, len(report.Impact))
	for i, imp := range report.Impact {
		for j, c := range report.Contradictions {
			if c == imp.Contradiction {
				impacted[j] = i
				break
			}
		}
	}

	for i, c := range report.Contradictions {
		fmt.Fprintf(w, "✗ %d. %s\n", i+1, c.Predicate)
		fmt.Fprintf(w, "     %s\n", c.Pair.A)
		fmt.Fprintf(w, "     %s\n", c.Pair.B)
		if j, ok := impacted[i]; ok && len(report.Impact[j].Flows) > 0 {
			for _, f := range report.Impact[j].Flows {
				fmt.Fprintf(w, "     ↳ flow %s\n", f)
			}
		}
	}
	fmt.Fprintln(w)
}
