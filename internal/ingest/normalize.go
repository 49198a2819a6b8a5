package ingest

import (
	"regexp"
	"slices"
	"strings"

	"github.com/ppiankov/policheck/internal/model"
	"github.com/ppiankov/policheck/internal/term"
)

var (
	// Entities that are the user, not a recipient of data.
	userEntities = []string{"user", "you", "person", "consumer", "participant"}

	// Entities too vague to reason about.
	implicitEntities = []string{"third_party_implicit", "we_implicit", "anyone"}

	firstPartyPronouns = []string{"we", "i", "us", "me"}
	firstPartyProducts = []string{
		"app", "mobile application", "mobile app", "application",
		"service", "website", "web site", "site",
	}
	// "our X" is first party for these X.
	firstPartyOwned = []string{
		"app", "mobile application", "mobile app", "application", "service",
		"company", "business", "web site", "website", "site",
	}

	companySuffixes = []string{"inc", "llc", "ltd"}

	conjunction = regexp.MustCompile(`\b(and/or|and|or|/|&)\b`)
	nonWord     = regexp.MustCompile(`\W+`)
	whitespace  = regexp.MustCompile(`\s+`)

	// Negative sentences carrying one of these qualifiers do not deny
	// collection outright.
	qualifiedNegatives = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(child(ren)?|kids|from\sminor(s)?|under\s1[0-9]+|under\s(thirteen|fourteen|fifteen|sixteen|seventeen|eighteen)|age(s)?(\sof)?\s1[0-9]+|age(s)?(\sof)?\s(thirteen|fourteen|fifteen|sixteen|seventeen|eighteen))\b`),
		regexp.MustCompile(`(?i)\b(you|user)\s(.*\s)?(choose|do|decide|prefer)\s.*\s(provide|send|share|disclose)\b`),
		regexp.MustCompile(`(?i)\b((your\schoice)|(you\sdo\snot\shave\sto\sgive))\b`),
		regexp.MustCompile(`(?i)\b(except\sas\s(stated|described|noted))\b`),
		regexp.MustCompile(`(?i)\b(except\sin(\sthose\slimited)?\s(cases))\b`),
	}
)

// IsQualifiedNegative reports whether a not_collect sentence is qualified
// (about children, left to the user's choice, or deferring to an exception).
func IsQualifiedNegative(sentence string) bool {
	for _, re := range qualifiedNegatives {
		if re.MatchString(sentence) {
			return true
		}
	}
	return false
}

// Normalizer maps raw statement labels onto ontology terms.
type Normalizer struct {
	vocab           *term.Vocabulary
	firstParty      string
	ignoreQualified bool
}

// NewNormalizer creates a normalizer. firstParty is the entity that
// pronouns and the developer's own names map to.
func NewNormalizer(v *term.Vocabulary, firstParty string, ignoreQualified bool) *Normalizer {
	return &Normalizer{vocab: v, firstParty: firstParty, ignoreQualified: ignoreQualified}
}

func clean(s string) string {
	return strings.TrimSpace(whitespace.ReplaceAllString(strings.ToLower(s), " "))
}

// Normalize resolves raw into zero or more statements. Conjunctions such as
// "email and phone number" are split when the whole label is not a term.
// Unresolvable labels and ontology roots are reported as skips; an invalid
// action is an error.
func (n *Normalizer) Normalize(raw RawStatement, firstPartyNames []string) ([]term.PolicyStatement, []model.Skip, error) {
	action, err := term.ParseSentiment(strings.TrimSpace(raw.Action))
	if err != nil {
		return nil, nil, err
	}

	if n.ignoreQualified && action == term.NotCollect && IsQualifiedNegative(raw.Sentence) {
		return nil, []model.Skip{{Kind: model.SkipStatement, Label: raw.Sentence, Reason: "qualified negative sentence"}}, nil
	}

	label, ok := n.entityLabel(raw.Entity, firstPartyNames)
	if !ok {
		return nil, nil, nil
	}

	var skips []model.Skip
	entities := resolveLabels(label, func(s string) (term.Entity, bool) {
		if slices.Contains(implicitEntities, s) {
			return "", false
		}
		e, err := n.vocab.Entities.Term(s)
		if err != nil {
			skips = append(skips, model.Skip{Kind: model.SkipStatement, Label: s, Reason: "entity not in ontology"})
			return "", false
		}
		return e, true
	}, n.vocab.Entities.Term)

	dataLabel := clean(raw.Data)
	if dataLabel == "" {
		return nil, skips, nil
	}
	data := resolveLabels(dataLabel, func(s string) (term.Data, bool) {
		d, err := n.vocab.Data.Term(s)
		if err != nil {
			skips = append(skips, model.Skip{Kind: model.SkipStatement, Label: s, Reason: "data type not in ontology"})
			return "", false
		}
		return d, true
	}, n.vocab.Data.Term)

	// A statement about an ontology root would cover every flow.
	entities = slices.DeleteFunc(entities, func(e term.Entity) bool {
		if n.vocab.Entities.IsRoot(e) {
			skips = append(skips, model.Skip{Kind: model.SkipRootStatement, Label: string(e), Reason: "entity is the ontology root"})
			return true
		}
		return false
	})
	data = slices.DeleteFunc(data, func(d term.Data) bool {
		if n.vocab.Data.IsRoot(d) {
			skips = append(skips, model.Skip{Kind: model.SkipRootStatement, Label: string(d), Reason: "data type is the ontology root"})
			return true
		}
		return false
	})

	var out []term.PolicyStatement
	for _, e := range entities {
		for _, d := range data {
			out = append(out, term.PolicyStatement{Entity: e, Action: action, Data: d})
		}
	}
	return out, skips, nil
}

// resolveLabels returns label as a single term when the ontology has it,
// otherwise resolves each conjunct with piece.
func resolveLabels[T ~string](label string, piece func(string) (T, bool), whole func(string) (T, error)) []T {
	if t, err := whole(label); err == nil {
		return []T{t}
	}
	var out []T
	for _, p := range strings.Split(conjunction.ReplaceAllString(label, "\n"), "\n") {
		p = strings.TrimSpace(strings.Trim(strings.TrimSpace(p), ","))
		if p == "" {
			continue
		}
		if t, ok := piece(p); ok && !slices.Contains(out, t) {
			out = append(out, t)
		}
	}
	return out
}

// entityLabel maps the raw entity to a label. ok is false when the
// statement is about the user or about nobody in particular.
func (n *Normalizer) entityLabel(raw string, firstPartyNames []string) (string, bool) {
	e := clean(raw)
	switch {
	case e == "":
		return "", false
	case slices.Contains(userEntities, e), slices.Contains(implicitEntities, e):
		return "", false
	case slices.Contains(firstPartyPronouns, e), slices.Contains(firstPartyProducts, e):
		return n.firstParty, true
	}
	if rest, found := strings.CutPrefix(e, "our "); found && slices.Contains(firstPartyOwned, rest) {
		return n.firstParty, true
	}
	if matchesCompanyName(e, firstPartyNames) {
		return n.firstParty, true
	}
	return e, true
}

// companyName lowercases a name, splits it on non-word characters and
// drops a trailing legal suffix.
func companyName(s string) string {
	var toks []string
	for _, t := range nonWord.Split(strings.ToLower(s), -1) {
		if t != "" {
			toks = append(toks, t)
		}
	}
	if len(toks) > 1 && slices.Contains(companySuffixes, toks[len(toks)-1]) {
		toks = toks[:len(toks)-1]
	}
	return strings.Join(toks, " ")
}

// matchesCompanyName reports whether entity names one of the developer's
// names, allowing either to be a prefix of the other.
func matchesCompanyName(entity string, names []string) bool {
	test := companyName(entity)
	if test == "" {
		return false
	}
	for _, name := range names {
		fp := companyName(name)
		if fp == "" {
			continue
		}
		if strings.HasPrefix(fp, test) || strings.HasPrefix(test, fp) {
			return true
		}
	}
	return false
}

