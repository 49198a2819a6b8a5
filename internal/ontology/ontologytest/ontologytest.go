// Package ontologytest provides small fixed ontologies for tests.
package ontologytest

import (
	"math/rand"
	"strconv"

	"github.com/ppiankov/policheck/internal/ontology"
)

// EntityEdges is a small entity hierarchy rooted at "public" in which
// "companyX" is both an advertiser and an analytic provider.
var EntityEdges = []ontology.Edge{
	{Parent: "public", Child: "first party"},
	{Parent: "public", Child: "third party"},
	{Parent: "third party", Child: "third party provider"},
	{Parent: "third party provider", Child: "advertiser"},
	{Parent: "third party provider", Child: "analytic provider"},
	{Parent: "advertiser", Child: "companyX"},
	{Parent: "advertiser", Child: "google admob"},
	{Parent: "analytic provider", Child: "companyX"},
	{Parent: "analytic provider", Child: "google analytics"},
}

// DataEdges is a small data hierarchy rooted at "information" in which
// "heart rate" is both biometric and medical information.
var DataEdges = []ontology.Edge{
	{Parent: "information", Child: "personal information"},
	{Parent: "personal information", Child: "account credential"},
	{Parent: "personal information", Child: "medical treatment information"},
	{Parent: "account credential", Child: "biometric information"},
	{Parent: "biometric information", Child: "fingerprint"},
	{Parent: "biometric information", Child: "heart rate"},
	{Parent: "account credential", Child: "username"},
	{Parent: "medical treatment information", Child: "medical_health information"},
	{Parent: "medical_health information", Child: "blood glucose"},
	{Parent: "medical_health information", Child: "heart rate"},
}

// Entity returns the entity fixture graph.
func Entity() *ontology.Graph {
	return mustNew(EntityEdges)
}

// Data returns the data fixture graph.
func Data() *ontology.Graph {
	return mustNew(DataEdges)
}

// RandomDAG returns a valid single-rooted ontology with n nodes labelled
// "n0".."n<n-1>". Node 0 is the root; every other node gets one to three
// parents among the nodes created before it, so the graph is acyclic.
func RandomDAG(rng *rand.Rand, n int) *ontology.Graph {
	if n < 1 {
		n = 1
	}
	var edges []ontology.Edge
	for i := 1; i < n; i++ {
		parents := 1 + rng.Intn(3)
		for p := 0; p < parents; p++ {
			edges = append(edges, ontology.Edge{
				Parent: Label(rng.Intn(i)),
				Child:  Label(i),
			})
		}
	}
	return mustNew(edges, Label(0))
}

// Label returns the RandomDAG label of node i.
func Label(i int) string {
	return "n" + strconv.Itoa(i)
}

func mustNew(edges []ontology.Edge, nodes ...string) *ontology.Graph {
	g, err := ontology.New(edges, nodes...)
	if err != nil {
		panic(err)
	}
	return g
}
