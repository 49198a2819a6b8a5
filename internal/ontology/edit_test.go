package ontology_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ppiankov/policheck/internal/ontology"
	"github.com/ppiankov/policheck/internal/ontology/ontologytest"
)

func TestWithNode(t *testing.T) {
	g := ontologytest.Data()

	next, err := g.WithNode("iris scan", "biometric information")
	require.NoError(t, err)
	assert.True(t, next.Has("iris scan"))
	assert.False(t, g.Has("iris scan"), "original graph must not change")

	_, err = g.WithNode("heart rate", "information")
	assert.ErrorIs(t, err, ontology.ErrDuplicateNode)

	_, err = g.WithNode("iris scan", "eyes")
	assert.ErrorIs(t, err, ontology.ErrNodeNotFound)
}

func TestWithEdge(t *testing.T) {
	g := ontologytest.Data()

	next, err := g.WithEdge("personal information", "heart rate")
	require.NoError(t, err)
	parents, err := next.DirectAncestors("heart rate")
	require.NoError(t, err)
	assert.Len(t, parents, 3)

	_, err = g.WithEdge("heart rate", "personal information")
	assert.ErrorIs(t, err, ontology.ErrCycleDetected)

	_, err = g.WithEdge("heart rate", "nowhere")
	assert.ErrorIs(t, err, ontology.ErrNodeNotFound)
}

func TestWithoutEdge(t *testing.T) {
	g := ontologytest.Data()

	next, err := g.WithoutEdge("medical_health information", "heart rate")
	require.NoError(t, err)
	parents, err := next.DirectAncestors("heart rate")
	require.NoError(t, err)
	assert.Equal(t, []string{"biometric information"}, parents)

	_, err = g.WithoutEdge("biometric information", "fingerprint")
	assert.ErrorIs(t, err, ontology.ErrMultipleRoots, "fingerprint would become a second root")

	_, err = g.WithoutEdge("information", "heart rate")
	assert.ErrorIs(t, err, ontology.ErrNodeNotFound)
}

func TestWithoutNode(t *testing.T) {
	g := ontologytest.Data()

	next, err := g.WithoutNode("heart rate")
	require.NoError(t, err)
	assert.False(t, next.Has("heart rate"))
	assert.Equal(t, g.Len()-1, next.Len())

	_, err = g.WithoutNode("biometric information")
	assert.ErrorIs(t, err, ontology.ErrMultipleRoots)

	_, err = g.WithoutNode("nope")
	assert.ErrorIs(t, err, ontology.ErrNodeNotFound)
}
