package ontology

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// ErrRootMismatch is returned when a file or caller names a root that differs
// from the graph's actual root.
var ErrRootMismatch = errors.New("ontology root mismatch")

// ErrUnsupportedFormat is returned for file extensions Load cannot read.
var ErrUnsupportedFormat = errors.New("unsupported ontology format")

// Document is the YAML/JSON file form of an ontology.
//
//	root: information
//	edges:
//	  - [information, personal information]
//	  - parent: personal information
//	    child: account credential
type Document struct {
	Root  string   `yaml:"root,omitempty" json:"root,omitempty"`
	Nodes []string `yaml:"nodes,omitempty" json:"nodes,omitempty"`
	Edges []Edge   `yaml:"edges" json:"edges"`
}

// UnmarshalYAML accepts both the mapping form and a two-element list.
func (e *Edge) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.SequenceNode {
		var pair []string
		if err := node.Decode(&pair); err != nil {
			return err
		}
		if len(pair) != 2 {
			return fmt.Errorf("line %d: edge needs exactly [parent, child], got %d items", node.Line, len(pair))
		}
		e.Parent, e.Child = pair[0], pair[1]
		return nil
	}

	type plain Edge
	var p plain
	if err := node.Decode(&p); err != nil {
		return err
	}
	if p.Parent == "" || p.Child == "" {
		return fmt.Errorf("line %d: edge needs both parent and child", node.Line)
	}
	*e = Edge(p)
	return nil
}

// Load reads and validates an ontology file. The format is chosen by
// extension: .yaml, .yml and .json use Document; .gml uses the networkx
// GML dialect.
func Load(path string) (*Graph, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read ontology: %w", err)
	}

	g, err := Parse(data, filepath.Ext(path))
	if err != nil {
		return nil, fmt.Errorf("load ontology %s: %w", path, err)
	}
	return g, nil
}

// Parse builds a graph from raw file contents of the given extension.
func Parse(data []byte, ext string) (*Graph, error) {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml", ".json":
		var doc Document
		if err := yaml.Unmarshal(data, &doc); err != nil {
			return nil, fmt.Errorf("decode document: %w", err)
		}
		g, err := New(doc.Edges, doc.Nodes...)
		if err != nil {
			return nil, err
		}
		if err := g.RequireRoot(doc.Root); err != nil {
			return nil, err
		}
		return g, nil

	case ".gml":
		edges, nodes, err := parseGML(data)
		if err != nil {
			return nil, fmt.Errorf("decode gml: %w", err)
		}
		return New(edges, nodes...)

	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, ext)
	}
}

// RequireRoot checks that root, when non-empty, is the graph's root.
func (g *Graph) RequireRoot(root string) error {
	if root != "" && root != g.root {
		return fmt.Errorf("%w: expected %q, graph root is %q", ErrRootMismatch, root, g.root)
	}
	return nil
}

// Write stores the graph at path in the format implied by its extension.
func Write(path string, g *Graph) error {
	var (
		data []byte
		err  error
	)

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		data, err = yaml.Marshal(g.Document())
	case ".gml":
		data = encodeGML(g)
	default:
		return fmt.Errorf("%w: %q", ErrUnsupportedFormat, filepath.Ext(path))
	}
	if err != nil {
		return fmt.Errorf("encode ontology: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("write ontology: %w", err)
	}
	return nil
}

// Document returns the file form of the graph.
func (g *Graph) Document() Document {
	doc := Document{Root: g.root, Edges: g.Edges()}
	if len(g.edges) == 0 {
		doc.Nodes = g.Nodes()
	}
	return doc
}

// encodeGML writes the graph the way networkx.write_gml lays it out.
func encodeGML(g *Graph) []byte {
	ids := make(map[string]int, len(g.nodes))

	var b bytes.Buffer
	b.WriteString("graph [\n  directed 1\n")
	for i, n := range g.nodes {
		ids[n] = i
		fmt.Fprintf(&b, "  node [\n    id %d\n    label %s\n  ]\n", i, quoteGML(n))
	}
	for _, e := range g.edges {
		fmt.Fprintf(&b, "  edge [\n    source %d\n    target %d\n  ]\n", ids[e.Parent], ids[e.Child])
	}
	b.WriteString("]\n")
	return b.Bytes()
}
