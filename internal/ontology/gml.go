package ontology

import (
	"fmt"
	"html"
	"strings"
	"unicode"
)

// gmlValue is a string, a bare token (number or identifier) or a nested list.
type gmlValue struct {
	str  string
	list []gmlPair
	bare bool
}

type gmlPair struct {
	key   string
	value gmlValue
}

type gmlLexer struct {
	src  []rune
	pos  int
	line int
}

func (l *gmlLexer) skipSpace() {
	for l.pos < len(l.src) {
		r := l.src[l.pos]
		switch {
		case r == '\n':
			l.line++
			l.pos++
		case unicode.IsSpace(r):
			l.pos++
		case r == '#':
			for l.pos < len(l.src) && l.src[l.pos] != '\n' {
				l.pos++
			}
		default:
			return
		}
	}
}

// next returns the next token; quoted strings keep their quotes.
func (l *gmlLexer) next() (string, bool) {
	l.skipSpace()
	if l.pos >= len(l.src) {
		return "", false
	}

	start := l.pos
	switch r := l.src[l.pos]; {
	case r == '[' || r == ']':
		l.pos++
	case r == '"':
		l.pos++
		for l.pos < len(l.src) && l.src[l.pos] != '"' {
			if l.src[l.pos] == '\n' {
				l.line++
			}
			l.pos++
		}
		l.pos++ // closing quote
	default:
		for l.pos < len(l.src) && !unicode.IsSpace(l.src[l.pos]) && l.src[l.pos] != '[' && l.src[l.pos] != ']' {
			l.pos++
		}
	}
	if l.pos > len(l.src) {
		return "", false
	}
	return string(l.src[start:l.pos]), true
}

// parseList reads key/value pairs until a closing bracket or end of input.
func (l *gmlLexer) parseList(nested bool) ([]gmlPair, error) {
	var pairs []gmlPair
	for {
		key, ok := l.next()
		if !ok {
			if nested {
				return nil, fmt.Errorf("line %d: unterminated list", l.line)
			}
			return pairs, nil
		}
		if key == "]" {
			if !nested {
				return nil, fmt.Errorf("line %d: unexpected ']'", l.line)
			}
			return pairs, nil
		}

		tok, ok := l.next()
		if !ok {
			return nil, fmt.Errorf("line %d: key %q has no value", l.line, key)
		}

		var v gmlValue
		switch {
		case tok == "[":
			list, err := l.parseList(true)
			if err != nil {
				return nil, err
			}
			v.list = list
		case tok == "]":
			return nil, fmt.Errorf("line %d: key %q has no value", l.line, key)
		case strings.HasPrefix(tok, `"`):
			if len(tok) < 2 || !strings.HasSuffix(tok, `"`) {
				return nil, fmt.Errorf("line %d: unterminated string", l.line)
			}
			v.str = html.UnescapeString(tok[1 : len(tok)-1])
		default:
			v.str = tok
			v.bare = true
		}
		pairs = append(pairs, gmlPair{key: key, value: v})
	}
}

func lookup(pairs []gmlPair, key string) (gmlValue, bool) {
	for _, p := range pairs {
		if p.key == key {
			return p.value, true
		}
	}
	return gmlValue{}, false
}

// parseGML extracts edges and nodes from a GML document. Nodes are named by
// their label attribute, falling back to their id.
func parseGML(data []byte) ([]Edge, []string, error) {
	lx := &gmlLexer{src: []rune(string(data)), line: 1}
	top, err := lx.parseList(false)
	if err != nil {
		return nil, nil, err
	}

	graph, ok := lookup(top, "graph")
	if !ok || graph.list == nil {
		return nil, nil, fmt.Errorf("no graph block")
	}

	labels := make(map[string]string)
	ids := make(map[string]string) // label -> id
	var nodes []string
	var edges []Edge

	for _, p := range graph.list {
		if p.key != "node" {
			continue
		}
		id, ok := lookup(p.value.list, "id")
		if !ok {
			return nil, nil, fmt.Errorf("node without id")
		}
		name := id.str
		if label, ok := lookup(p.value.list, "label"); ok {
			name = label.str
		}
		if _, dup := labels[id.str]; dup {
			return nil, nil, fmt.Errorf("duplicate node id %s", id.str)
		}
		if prev, dup := ids[name]; dup {
			return nil, nil, fmt.Errorf("%w: label %q on node ids %s and %s", ErrDuplicateNode, name, prev, id.str)
		}
		labels[id.str] = name
		ids[name] = id.str
		nodes = append(nodes, name)
	}

	for _, p := range graph.list {
		if p.key != "edge" {
			continue
		}
		src, okS := lookup(p.value.list, "source")
		dst, okT := lookup(p.value.list, "target")
		if !okS || !okT {
			return nil, nil, fmt.Errorf("edge without source or target")
		}
		parent, okP := labels[src.str]
		child, okC := labels[dst.str]
		if !okP || !okC {
			return nil, nil, fmt.Errorf("edge %s -> %s references an unknown node id", src.str, dst.str)
		}
		edges = append(edges, Edge{Parent: parent, Child: child})
	}

	return edges, nodes, nil
}

// quoteGML quotes a label, escaping characters GML strings cannot hold.
func quoteGML(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for _, r := range s {
		switch {
		case r == '&':
			b.WriteString("&amp;")
		case r == '"':
			b.WriteString("&quot;")
		case r > unicode.MaxASCII:
			fmt.Fprintf(&b, "&#%d;", r)
		default:
			b.WriteRune(r)
		}
	}
	b.WriteByte('"')
	return b.String()
}
