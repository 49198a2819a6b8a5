package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ppiankov/policheck/internal/sink"
)

// exportCmd represents the export command
var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Dump persisted results from a BadgerDB sink as JSONL",
	Long: `Export writes every record of a BadgerDB result store to stdout, one JSON
object per line, in run, app and sequence order.

Example:
  policheck export --db ./policheck.db > results.jsonl
  policheck export --db ./policheck.db --run 6f1c0c9e-... --app com.example.game`,
	Args: cobra.NoArgs,
	RunE: runExport,
}

func init() {
	rootCmd.AddCommand(exportCmd)
	exportCmd.Flags().String("db", "", "BadgerDB directory")
	exportCmd.Flags().String("run", "", "only export records of this run ID")
	exportCmd.Flags().String("app", "", "only export records of this app (requires --run)")
	_ = exportCmd.MarkFlagRequired("db")
}

func runExport(cmd *cobra.Command, args []string) (err error) {
	dir, _ := cmd.Flags().GetString("db")
	run, _ := cmd.Flags().GetString("run")
	app, _ := cmd.Flags().GetString("app")

	prefix, err := exportPrefix(run, app)
	if err != nil {
		return err
	}
	if _, err := os.Stat(dir); err != nil {
		return fmt.Errorf("open database: %w", err)
	}

	db, err := sink.OpenBadger(sink.DefaultBadgerConfig(dir))
	if err != nil {
		return err
	}
	defer func() {
		if cerr := db.Close(cmd.Context()); cerr != nil && err == nil {
			err = fmt.Errorf("close database: %w", cerr)
		}
	}()

	n, err := db.Export(cmd.Context(), prefix, cmd.OutOrStdout())
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	fmt.Fprintf(cmd.ErrOrStderr(), "✓ Exported %d records from %s\n", n, dir)
	return nil
}

// exportPrefix builds the key prefix for a run and app filter.
func exportPrefix(run, app string) (string, error) {
	switch {
	case app != "" && run == "":
		return "", fmt.Errorf("--app requires --run")
	case app != "":
		return run + "/" + app + "/", nil
	case run != "":
		return run + "/", nil
	default:
		return "", nil
	}
}
