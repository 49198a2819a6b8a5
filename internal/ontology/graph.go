// Package ontology holds the validated term hierarchies used for entities
// and data types.
//
// A Graph is a directed acyclic graph with exactly one root where an edge
// (parent, child) means "child is a more specific case of parent". Graphs
// are validated when they are built and never change afterwards; edits
// return a new graph. A Graph is safe for concurrent reads.
package ontology

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Edge is a parent -> child relation.
type Edge struct {
	Parent string `yaml:"parent" json:"parent"`
	Child  string `yaml:"child" json:"child"`
}

// Set is an unordered set of node labels.
type Set map[string]struct{}

// Has reports whether label is in the set.
func (s Set) Has(label string) bool {
	_, ok := s[label]
	return ok
}

// Sorted returns the labels in lexical order.
func (s Set) Sorted() []string {
	out := make([]string, 0, len(s))
	for l := range s {
		out = append(out, l)
	}
	sort.Strings(out)
	return out
}

// Graph is an immutable, validated ontology.
type Graph struct {
	root     string
	nodes    []string            // sorted
	children map[string][]string // sorted per parent
	parents  map[string][]string // sorted per child
	edges    []Edge              // sorted, deduplicated
}

// New builds and validates a graph from edges plus optional isolated nodes.
// It never returns a partially valid graph.
func New(edges []Edge, nodes ...string) (*Graph, error) {
	g := &Graph{
		children: make(map[string][]string),
		parents:  make(map[string][]string),
	}

	present := make(map[string]bool)
	addNode := func(label string) {
		if !present[label] {
			present[label] = true
			g.nodes = append(g.nodes, label)
		}
	}
	for _, n := range nodes {
		addNode(n)
	}

	seen := make(map[Edge]bool)
	for _, e := range edges {
		addNode(e.Parent)
		addNode(e.Child)
		if seen[e] {
			continue
		}
		seen[e] = true
		g.edges = append(g.edges, e)
		g.children[e.Parent] = append(g.children[e.Parent], e.Child)
		g.parents[e.Child] = append(g.parents[e.Child], e.Parent)
	}

	if len(g.nodes) == 0 {
		return nil, &ValidationError{Err: ErrEmptyOntology}
	}

	sort.Strings(g.nodes)
	for _, list := range g.children {
		sort.Strings(list)
	}
	for _, list := range g.parents {
		sort.Strings(list)
	}
	sort.Slice(g.edges, func(i, j int) bool {
		if g.edges[i].Parent != g.edges[j].Parent {
			return g.edges[i].Parent < g.edges[j].Parent
		}
		return g.edges[i].Child < g.edges[j].Child
	})

	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// validate enforces the single-root and acyclicity invariants.
// Roots are checked first, matching how the ontology tooling reports errors.
func (g *Graph) validate() error {
	var roots []string
	for _, n := range g.nodes {
		if len(g.parents[n]) == 0 {
			roots = append(roots, n)
		}
	}

	if len(roots) > 1 {
		return &ValidationError{Err: ErrMultipleRoots, Roots: roots}
	}

	if cycle := g.findCycle(); cycle != nil {
		return &ValidationError{Err: ErrCycleDetected, Cycle: cycle}
	}

	// Every node sits in or below a cycle when nothing lacks a parent,
	// so findCycle has already reported it; this guards the invariant.
	if len(roots) == 0 {
		return &ValidationError{Err: ErrCycleDetected}
	}

	g.root = roots[0]
	return nil
}

// findCycle returns one directed cycle, or nil when the graph is acyclic.
// Iterative DFS with three colours keeps deep ontologies off the call stack.
func (g *Graph) findCycle() []string {
	const (
		white = iota
		grey
		black
	)
	colour := make(map[string]int, len(g.nodes))

	type frame struct {
		node string
		next int
	}

	for _, start := range g.nodes {
		if colour[start] != white {
			continue
		}

		stack := []frame{{node: start}}
		colour[start] = grey

		for len(stack) > 0 {
			top := &stack[len(stack)-1]
			kids := g.children[top.node]

			if top.next >= len(kids) {
				colour[top.node] = black
				stack = stack[:len(stack)-1]
				continue
			}

			child := kids[top.next]
			top.next++

			switch colour[child] {
			case white:
				colour[child] = grey
				stack = append(stack, frame{node: child})
			case grey:
				// child is on the current path: unwind to it
				var cycle []string
				for i := range stack {
					if stack[i].node == child {
						for _, f := range stack[i:] {
							cycle = append(cycle, f.node)
						}
						break
					}
				}
				return append(cycle, child)
			}
		}
	}
	return nil
}

// Root returns the unique node without incoming edges.
func (g *Graph) Root() string {
	return g.root
}

// Has reports whether label is a node of the graph.
func (g *Graph) Has(label string) bool {
	i := sort.SearchStrings(g.nodes, label)
	return i < len(g.nodes) && g.nodes[i] == label
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Nodes returns all node labels in lexical order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.nodes...)
}

// Edges returns all edges ordered by parent, then child.
func (g *Graph) Edges() []Edge {
	return append([]Edge(nil), g.edges...)
}

// Children returns the direct children of node.
func (g *Graph) Children(node string) ([]string, error) {
	if !g.Has(node) {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, node)
	}
	return append([]string(nil), g.children[node]...), nil
}

// DirectAncestors returns the nodes with an edge into node.
func (g *Graph) DirectAncestors(node string) ([]string, error) {
	if !g.Has(node) {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, node)
	}
	return append([]string(nil), g.parents[node]...), nil
}

// Descendants returns every node reachable from node, node included.
func (g *Graph) Descendants(node string) (Set, error) {
	if !g.Has(node) {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, node)
	}

	out := Set{node: {}}
	queue := []string{node}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		for _, c := range g.children[cur] {
			if !out.Has(c) {
				out[c] = struct{}{}
				queue = append(queue, c)
			}
		}
	}
	return out, nil
}

// PathsFromRoot returns every simple path from the root down to node.
func (g *Graph) PathsFromRoot(node string) ([][]string, error) {
	if !g.Has(node) {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, node)
	}

	var paths [][]string
	var walk func(cur string, suffix []string)
	walk = func(cur string, suffix []string) {
		path := append([]string{cur}, suffix...)
		if cur == g.root {
			paths = append(paths, path)
			return
		}
		for _, p := range g.parents[cur] {
			walk(p, path)
		}
	}
	walk(node, nil)

	sort.Slice(paths, func(i, j int) bool {
		return fmt.Sprint(paths[i]) < fmt.Sprint(paths[j])
	})
	return paths, nil
}

// Digest fingerprints the graph's structure.
func (g *Graph) Digest() string {
	h := sha256.New()
	for _, n := range g.nodes {
		fmt.Fprintf(h, "n\x00%s\n", n)
	}
	for _, e := range g.edges {
		fmt.Fprintf(h, "e\x00%s\x00%s\n", e.Parent, e.Child)
	}
	return hex.EncodeToString(h.Sum(nil))
}
