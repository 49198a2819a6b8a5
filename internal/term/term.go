// Package term types the labels that flow through the reasoning core.
//
// Entity and Data are distinct string types so an entity can never be
// compared with a data type. Values are only handed out by a Taxonomy,
// which checks them against its ontology.
package term

import (
	"errors"
	"fmt"
)

// ErrUnknownTerm is returned when a label is not a node of the ontology.
var ErrUnknownTerm = errors.New("unknown term")

// ErrInvalidSentiment is returned for an action outside collect/not_collect.
var ErrInvalidSentiment = errors.New("invalid action sentiment")

// Entity is a node of the entity ontology.
type Entity string

// Data is a node of the data-type ontology.
type Data string

// Sentiment is whether a statement says data is collected or not.
type Sentiment int8

const (
	Collect Sentiment = iota + 1
	NotCollect
)

// ParseSentiment accepts exactly "collect" or "not_collect".
func ParseSentiment(s string) (Sentiment, error) {
	switch s {
	case "collect":
		return Collect, nil
	case "not_collect":
		return NotCollect, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidSentiment, s)
	}
}

func (s Sentiment) String() string {
	switch s {
	case Collect:
		return "collect"
	case NotCollect:
		return "not_collect"
	default:
		return fmt.Sprintf("Sentiment(%d)", int8(s))
	}
}

// Positive reports whether s is Collect.
func (s Sentiment) Positive() bool {
	return s == Collect
}

// MarshalText implements encoding.TextMarshaler.
func (s Sentiment) MarshalText() ([]byte, error) {
	if s != Collect && s != NotCollect {
		return nil, fmt.Errorf("%w: %d", ErrInvalidSentiment, int8(s))
	}
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Sentiment) UnmarshalText(text []byte) error {
	v, err := ParseSentiment(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// TermError names the ontology and label a lookup failed for.
type TermError struct {
	Kind  string // "entity" or "data"
	Label string
}

func (e *TermError) Error() string {
	return fmt.Sprintf("%s %q: %v", e.Kind, e.Label, ErrUnknownTerm)
}

func (e *TermError) Unwrap() error {
	return ErrUnknownTerm
}

// DataFlow is an observed transmission of a data type to an entity.
type DataFlow struct {
	Entity Entity `json:"entity"`
	Data   Data   `json:"data"`
}

func (f DataFlow) String() string {
	return fmt.Sprintf("(%s, %s)", f.Entity, f.Data)
}

// PolicyStatement is one (entity, action, data) disclosure.
type PolicyStatement struct {
	Entity Entity    `json:"entity"`
	Action Sentiment `json:"action"`
	Data   Data      `json:"data"`
}

func (p PolicyStatement) String() string {
	return fmt.Sprintf("(%s, %s, %s)", p.Entity, p.Action, p.Data)
}
