package ontology

import "fmt"

// WithNode returns a copy of the graph with node added under parent.
func (g *Graph) WithNode(node, parent string) (*Graph, error) {
	if g.Has(node) {
		return nil, fmt.Errorf("%w: %q", ErrDuplicateNode, node)
	}
	if !g.Has(parent) {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, parent)
	}
	return New(append(g.Edges(), Edge{Parent: parent, Child: node}), g.nodes...)
}

// WithEdge returns a copy of the graph with an extra parent -> child edge.
// Linking can introduce a cycle, in which case the validation error is returned.
func (g *Graph) WithEdge(parent, child string) (*Graph, error) {
	for _, n := range []string{parent, child} {
		if !g.Has(n) {
			return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, n)
		}
	}
	return New(append(g.Edges(), Edge{Parent: parent, Child: child}), g.nodes...)
}

// WithoutEdge returns a copy of the graph without the parent -> child edge.
// Unlinking a node's last parent orphans it and fails validation.
func (g *Graph) WithoutEdge(parent, child string) (*Graph, error) {
	target := Edge{Parent: parent, Child: child}
	edges := make([]Edge, 0, len(g.edges))
	found := false
	for _, e := range g.edges {
		if e == target {
			found = true
			continue
		}
		edges = append(edges, e)
	}
	if !found {
		return nil, fmt.Errorf("%w: edge %q -> %q", ErrNodeNotFound, parent, child)
	}
	return New(edges, g.nodes...)
}

// WithoutNode returns a copy of the graph with node and its edges removed.
// Children left without any parent become extra roots and fail validation.
func (g *Graph) WithoutNode(node string) (*Graph, error) {
	if !g.Has(node) {
		return nil, fmt.Errorf("%w: %q", ErrNodeNotFound, node)
	}

	edges := make([]Edge, 0, len(g.edges))
	for _, e := range g.edges {
		if e.Parent == node || e.Child == node {
			continue
		}
		edges = append(edges, e)
	}

	nodes := make([]string, 0, len(g.nodes)-1)
	for _, n := range g.nodes {
		if n != node {
			nodes = append(nodes, n)
		}
	}
	return New(edges, nodes...)
}
