package ontology_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/policheck/internal/ontology"
	"github.com/ppiankov/policheck/internal/ontology/ontologytest"
)

func TestNew_Valid(t *testing.T) {
	g, err := ontology.New(ontologytest.DataEdges)
	require.NoError(t, err)

	assert.Equal(t, "information", g.Root())
	assert.Equal(t, 10, g.Len())
	assert.True(t, g.Has("heart rate"))
	assert.False(t, g.Has("blood pressure"))
}

func TestNew_MultipleRoots(t *testing.T) {
	edges := []ontology.Edge{
		{Parent: "anyone", Child: "we"},
		{Parent: "orphan", Child: "third_party"},
	}

	_, err := ontology.New(edges)
	require.Error(t, err)
	assert.ErrorIs(t, err, ontology.ErrMultipleRoots)

	var verr *ontology.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, []string{"anyone", "orphan"}, verr.Roots)
}

func TestNew_IsolatedNodeIsExtraRoot(t *testing.T) {
	_, err := ontology.New([]ontology.Edge{{Parent: "a", Child: "b"}}, "lonely")
	assert.ErrorIs(t, err, ontology.ErrMultipleRoots)
}

func TestNew_Cycle(t *testing.T) {
	tests := []struct {
		name  string
		edges []ontology.Edge
	}{
		{
			name: "cycle below the root",
			edges: []ontology.Edge{
				{Parent: "root", Child: "a"},
				{Parent: "a", Child: "b"},
				{Parent: "b", Child: "c"},
				{Parent: "c", Child: "a"},
			},
		},
		{
			name: "self loop",
			edges: []ontology.Edge{
				{Parent: "root", Child: "a"},
				{Parent: "a", Child: "a"},
			},
		},
		{
			name: "no root at all",
			edges: []ontology.Edge{
				{Parent: "a", Child: "b"},
				{Parent: "b", Child: "a"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ontology.New(tt.edges)
			require.Error(t, err)
			assert.ErrorIs(t, err, ontology.ErrCycleDetected)

			var verr *ontology.ValidationError
			require.True(t, errors.As(err, &verr))
			require.NotEmpty(t, verr.Cycle)
			assert.Equal(t, verr.Cycle[0], verr.Cycle[len(verr.Cycle)-1], "cycle should close on itself")
		})
	}
}

func TestNew_RootsCheckedBeforeCycles(t *testing.T) {
	edges := []ontology.Edge{
		{Parent: "r1", Child: "a"},
		{Parent: "r2", Child: "b"},
		{Parent: "a", Child: "c"},
		{Parent: "c", Child: "a"},
	}
	_, err := ontology.New(edges)
	assert.ErrorIs(t, err, ontology.ErrMultipleRoots)
}

func TestNew_Empty(t *testing.T) {
	_, err := ontology.New(nil)
	assert.ErrorIs(t, err, ontology.ErrEmptyOntology)
}

func TestNew_SingleNode(t *testing.T) {
	g, err := ontology.New(nil, "information")
	require.NoError(t, err)
	assert.Equal(t, "information", g.Root())
}

func TestNew_DuplicateEdgesCollapse(t *testing.T) {
	edges := []ontology.Edge{
		{Parent: "r", Child: "a"},
		{Parent: "r", Child: "a"},
	}
	g, err := ontology.New(edges)
	require.NoError(t, err)
	assert.Len(t, g.Edges(), 1)
}

func TestDescendants(t *testing.T) {
	g := ontologytest.Data()

	got, err := g.Descendants("biometric information")
	require.NoError(t, err)
	assert.Equal(t, []string{"biometric information", "fingerprint", "heart rate"}, got.Sorted())

	leaf, err := g.Descendants("heart rate")
	require.NoError(t, err)
	assert.Equal(t, []string{"heart rate"}, leaf.Sorted())

	all, err := g.Descendants(g.Root())
	require.NoError(t, err)
	assert.Len(t, all, g.Len())

	_, err = g.Descendants("blood pressure")
	assert.ErrorIs(t, err, ontology.ErrNodeNotFound)
}

func TestDirectAncestors(t *testing.T) {
	g := ontologytest.Data()

	got, err := g.DirectAncestors("heart rate")
	require.NoError(t, err)
	assert.Equal(t, []string{"biometric information", "medical_health information"}, got)

	root, err := g.DirectAncestors("information")
	require.NoError(t, err)
	assert.Empty(t, root)

	_, err = g.DirectAncestors("nope")
	assert.ErrorIs(t, err, ontology.ErrNodeNotFound)
}

func TestChildren(t *testing.T) {
	g := ontologytest.Entity()

	got, err := g.Children("advertiser")
	require.NoError(t, err)
	assert.Equal(t, []string{"companyX", "google admob"}, got)
}

func TestPathsFromRoot(t *testing.T) {
	g := ontologytest.Data()

	paths, err := g.PathsFromRoot("heart rate")
	require.NoError(t, err)
	assert.Equal(t, [][]string{
		{"information", "personal information", "account credential", "biometric information", "heart rate"},
		{"information", "personal information", "medical treatment information", "medical_health information", "heart rate"},
	}, paths)

	rootPaths, err := g.PathsFromRoot("information")
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"information"}}, rootPaths)
}

func TestDigest_StableAcrossEdgeOrder(t *testing.T) {
	a := ontologytest.Data()

	reversed := make([]ontology.Edge, len(ontologytest.DataEdges))
	for i, e := range ontologytest.DataEdges {
		reversed[len(reversed)-1-i] = e
	}
	b, err := ontology.New(reversed)
	require.NoError(t, err)

	assert.Equal(t, a.Digest(), b.Digest())
	assert.NotEqual(t, a.Digest(), ontologytest.Entity().Digest())
}
