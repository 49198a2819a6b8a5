package cli

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/ppiankov/policheck/internal/ontology"
)

// ontologyCmd represents the ontology command
var ontologyCmd = &cobra.Command{
	Use:   "ontology",
	Short: "Inspect and edit ontology files",
	Long: `Inspect and edit entity and data ontologies.

Edits are applied to a copy of the graph and validated (single root, no
cycles) before anything is written. The previous file is kept next to the
original with a .bak suffix.

Example:
  policheck ontology validate data/entity_ontology.gml
  policheck ontology query data/data_ontology.gml "device identifier"
  policheck ontology add data/entity_ontology.gml "acme ads" advertiser
  policheck ontology link data/data_ontology.gml "personal information" "device identifier"`,
}

var ontologyValidateCmd = &cobra.Command{
	Use:   "validate <file>",
	Short: "Check that an ontology has a single root and no cycles",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		root, _ := cmd.Flags().GetString("root")
		g, err := ontology.Load(args[0])
		if err != nil {
			return err
		}
		if err := g.RequireRoot(root); err != nil {
			return err
		}
		printGraphInfo(cmd.OutOrStdout(), args[0], g)
		return nil
	},
}

var ontologyQueryCmd = &cobra.Command{
	Use:   "query <file> <node>",
	Short: "Show a node's parents, children and paths from the root",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := ontology.Load(args[0])
		if err != nil {
			return err
		}
		all, _ := cmd.Flags().GetBool("descendants")
		return printNode(cmd.OutOrStdout(), g, args[1], all)
	},
}

var ontologyAddCmd = &cobra.Command{
	Use:   "add <file> <node> <parent>",
	Short: "Add a node under an existing parent",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editOntology(cmd.OutOrStdout(), args[0], func(g *ontology.Graph) (*ontology.Graph, error) {
			return g.WithNode(args[1], args[2])
		}, "added %q under %q", args[1], args[2])
	},
}

var ontologyLinkCmd = &cobra.Command{
	Use:   "link <file> <parent> <child>",
	Short: "Add a parent -> child edge between existing nodes",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editOntology(cmd.OutOrStdout(), args[0], func(g *ontology.Graph) (*ontology.Graph, error) {
			return g.WithEdge(args[1], args[2])
		}, "linked %q -> %q", args[1], args[2])
	},
}

var ontologyUnlinkCmd = &cobra.Command{
	Use:   "unlink <file> <parent> <child>",
	Short: "Remove a parent -> child edge",
	Args:  cobra.ExactArgs(3),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editOntology(cmd.OutOrStdout(), args[0], func(g *ontology.Graph) (*ontology.Graph, error) {
			return g.WithoutEdge(args[1], args[2])
		}, "unlinked %q -> %q", args[1], args[2])
	},
}

var ontologyRemoveCmd = &cobra.Command{
	Use:   "remove <file> <node>",
	Short: "Remove a node and its edges",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		return editOntology(cmd.OutOrStdout(), args[0], func(g *ontology.Graph) (*ontology.Graph, error) {
			return g.WithoutNode(args[1])
		}, "removed %q", args[1])
	},
}

func init() {
	rootCmd.AddCommand(ontologyCmd)
	ontologyCmd.AddCommand(ontologyValidateCmd)
	ontologyCmd.AddCommand(ontologyQueryCmd)
	ontologyCmd.AddCommand(ontologyAddCmd)
	ontologyCmd.AddCommand(ontologyLinkCmd)
	ontologyCmd.AddCommand(ontologyUnlinkCmd)
	ontologyCmd.AddCommand(ontologyRemoveCmd)

	ontologyValidateCmd.Flags().String("root", "", "fail unless the root is this node")
	ontologyQueryCmd.Flags().Bool("descendants", false, "list every descendant, not just the children")
}

// editOntology loads path, applies edit and, when the result validates,
// backs up the old file to path.bak and writes the new graph.
func editOntology(w io.Writer, path string, edit func(*ontology.Graph) (*ontology.Graph, error), format string, a ...any) error {
	g, err := ontology.Load(path)
	if err != nil {
		return err
	}
	next, err := edit(g)
	if err != nil {
		return fmt.Errorf("edit rejected, %s unchanged: %w", path, err)
	}

	if err := backupFile(path); err != nil {
		return err
	}
	if err := ontology.Write(path, next); err != nil {
		return err
	}

	fmt.Fprintf(w, "✓ %s\n", fmt.Sprintf(format, a...))
	fmt.Fprintf(w, "✓ Backup: %s.bak\n", path)
	printGraphInfo(w, path, next)
	return nil
}

func backupFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read %s: %w", path, err)
	}
	if err := os.WriteFile(path+".bak", data, 0644); err != nil {
		return fmt.Errorf("write backup: %w", err)
	}
	return nil
}

func printGraphInfo(w io.Writer, path string, g *ontology.Graph) {
	fmt.Fprintf(w, "✓ %s is valid\n", path)
	fmt.Fprintf(w, "  Root:    %s\n", g.Root())
	fmt.Fprintf(w, "  Nodes:   %d\n", g.Len())
	fmt.Fprintf(w, "  Edges:   %d\n", len(g.Edges()))
	fmt.Fprintf(w, "  Digest:  %s\n", g.Digest())
}

func printNode(w io.Writer, g *ontology.Graph, node string, all bool) error {
	parents, err := g.DirectAncestors(node)
	if err != nil {
		return err
	}
	children, err := g.Children(node)
	if err != nil {
		return err
	}
	paths, err := g.PathsFromRoot(node)
	if err != nil {
		return err
	}

	fmt.Fprintf(w, "%s\n", node)
	fmt.Fprintf(w, "  Parents:   %s\n", listOrNone(parents))
	fmt.Fprintf(w, "  Children:  %s\n", listOrNone(children))
	fmt.Fprintf(w, "  Paths from root:\n")
	for _, p := range paths {
		fmt.Fprintf(w, "    %s\n", strings.Join(p, " → "))
	}

	if all {
		desc, err := g.Descendants(node)
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "  Descendants (%d):\n", len(desc))
		for _, d := range desc.Sorted() {
			fmt.Fprintf(w, "    %s\n", d)
		}
	}
	return nil
}

func listOrNone(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	return strings.Join(items, ", ")
}
