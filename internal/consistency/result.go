package consistency

import (
	"fmt"

	"github.com/ppiankov/policheck/internal/term"
)

// Verdict is the outcome of checking one flow.
type Verdict int

const (
	// Unjustified: no statement covers the flow.
	Unjustified Verdict = iota
	Consistent
	Inconsistent
)

func (v Verdict) String() string {
	switch v {
	case Consistent:
		return "consistent"
	case Inconsistent:
		return "inconsistent"
	default:
		return "unjustified"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (v Verdict) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (v *Verdict) UnmarshalText(text []byte) error {
	switch string(text) {
	case "consistent":
		*v = Consistent
	case "inconsistent":
		*v = Inconsistent
	case "unjustified":
		*v = Unjustified
	default:
		return fmt.Errorf("unknown verdict %q", text)
	}
	return nil
}

// Conflict is a not_collect statement that contradicts a collect statement
// under Predicate.
type Conflict struct {
	Statement term.PolicyStatement `json:"statement"`
	Predicate Predicate            `json:"predicate"`
}

// Result is the verdict for one flow.
//
// Contradictions is aligned with Relevant: entry i lists the conflicts of
// Relevant[i] and is nil when Relevant[i] is a not_collect statement or
// conflicts with nothing. Contradictions itself is nil when the flow is
// consistent, unjustified, or no relevant statement collects.
type Result struct {
	Mode           Mode                   `json:"mode"`
	Flow           term.DataFlow          `json:"flow"`
	Verdict        Verdict                `json:"verdict"`
	Relevant       []term.PolicyStatement `json:"relevant,omitempty"`
	Contradictions [][]Conflict           `json:"contradictions,omitempty"`
}

// Consistent reports whether the flow is justified.
func (r Result) Consistent() bool {
	return r.Verdict == Consistent
}

// Conflicts flattens Contradictions into statement pairs.
func (r Result) Conflicts() []Contradiction {
	var out []Contradiction
	for i, list := range r.Contradictions {
		for _, c := range list {
			out = append(out, Contradiction{
				Pair:      Pair{A: r.Relevant[i], B: c.Statement},
				Predicate: c.Predicate,
			})
		}
	}
	return out
}
