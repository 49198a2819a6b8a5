package term

import (
	"fmt"

	"github.com/ppiankov/policheck/internal/ontology"
	"github.com/ppiankov/policheck/internal/subsume"
)

// Vocabulary pairs the entity and data taxonomies of a run.
type Vocabulary struct {
	Entities *Taxonomy[Entity]
	Data     *Taxonomy[Data]
}

// NewVocabulary indexes both ontologies.
func NewVocabulary(entities, data *ontology.Graph) *Vocabulary {
	return &Vocabulary{
		Entities: NewTaxonomy[Entity]("entity", subsume.NewIndex(entities)),
		Data:     NewTaxonomy[Data]("data", subsume.NewIndex(data)),
	}
}

// Statement builds a checked policy statement from raw labels.
func (v *Vocabulary) Statement(entity, action, data string) (PolicyStatement, error) {
	s, err := ParseSentiment(action)
	if err != nil {
		return PolicyStatement{}, err
	}
	e, err := v.Entities.Term(entity)
	if err != nil {
		return PolicyStatement{}, err
	}
	d, err := v.Data.Term(data)
	if err != nil {
		return PolicyStatement{}, err
	}
	return PolicyStatement{Entity: e, Action: s, Data: d}, nil
}

// Flow builds a checked data flow from raw labels.
func (v *Vocabulary) Flow(entity, data string) (DataFlow, error) {
	e, err := v.Entities.Term(entity)
	if err != nil {
		return DataFlow{}, err
	}
	d, err := v.Data.Term(data)
	if err != nil {
		return DataFlow{}, err
	}
	return DataFlow{Entity: e, Data: d}, nil
}

// MustStatement is Statement for fixtures; it panics on error.
func (v *Vocabulary) MustStatement(entity, action, data string) PolicyStatement {
	p, err := v.Statement(entity, action, data)
	if err != nil {
		panic(fmt.Sprintf("statement %s/%s/%s: %v", entity, action, data, err))
	}
	return p
}

// MustFlow is Flow for fixtures; it panics on error.
func (v *Vocabulary) MustFlow(entity, data string) DataFlow {
	f, err := v.Flow(entity, data)
	if err != nil {
		panic(fmt.Sprintf("flow %s/%s: %v", entity, data, err))
	}
	return f
}

// DiscussesRoot reports whether p names either ontology root.
func (v *Vocabulary) DiscussesRoot(p PolicyStatement) bool {
	return v.Entities.IsRoot(p.Entity) || v.Data.IsRoot(p.Data)
}

// FlowDiscussesRoot reports whether f names either ontology root.
func (v *Vocabulary) FlowDiscussesRoot(f DataFlow) bool {
	return v.Entities.IsRoot(f.Entity) || v.Data.IsRoot(f.Data)
}

// Covers reports whether the statement's claim is general enough for the
// flow: f.Data ≤ p.Data and f.Entity ≤ p.Entity.
func (v *Vocabulary) Covers(p PolicyStatement, f DataFlow) bool {
	return v.Data.IsSubsumedUnderOrEq(f.Data, p.Data) &&
		v.Entities.IsSubsumedUnderOrEq(f.Entity, p.Entity)
}
