package rules

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/leapstack-labs/leapgate/pkg/gateway"
)

// Scope is a parsed row filter:
//
//	predicate := term { AND term }
//	term      := column [NOT] IN '(' literal {',' literal} ')'
//	           | column IS [NOT] NULL
//	           | column ( '=' | '!=' | '<>' ) literal
//	literal   := single-quoted string ('' escapes a quote)
//
// Keywords are case-insensitive; literals are always bound as parameters.
type Scope struct {
	terms []scopeTerm
}

type termOp int

const (
	opIn termOp = iota
	opIsNull
	opEq
)

type scopeTerm struct {
	column string
	op     termOp
	negate bool
	values []string
}

// Columns returns the columns referenced by the scope, in order of appearance.
func (sc *Scope) Columns() []string {
	var cols []string
	seen := make(map[string]struct{})
	for _, t := range sc.terms {
		if _, ok := seen[t.column]; ok {
			continue
		}
		seen[t.column] = struct{}{}
		cols = append(cols, t.column)
	}
	return cols
}

// Render writes the predicate for dialect d. bind records a literal and
// returns its placeholder.
func (sc *Scope) Render(d *gateway.Dialect, bind func(v any) string) string {
	parts := make([]string, len(sc.terms))
	for i, t := range sc.terms {
		col := d.QuoteIdent(t.column)
		switch t.op {
		case opIn:
			phs := make([]string, len(t.values))
			for j, v := range t.values {
				phs[j] = bind(v)
			}
			kw := "IN"
			if t.negate {
				kw = "NOT IN"
			}
			parts[i] = fmt.Sprintf("%s %s (%s)", col, kw, strings.Join(phs, ", "))
		case opIsNull:
			if t.negate {
				parts[i] = col + " IS NOT NULL"
			} else {
				parts[i] = col + " IS NULL"
			}
		case opEq:
			cmp := "="
			if t.negate {
				cmp = "<>"
			}
			parts[i] = fmt.Sprintf("%s %s %s", col, cmp, bind(t.values[0]))
		}
	}
	return strings.Join(parts, " AND ")
}

// ParseScope parses a scope predicate.
func ParseScope(input string) (*Scope, error) {
	toks, err := lexScope(input)
	if err != nil {
		return nil, err
	}
	p := &scopeParser{toks: toks}
	sc, err := p.parse()
	if err != nil {
		return nil, err
	}
	return sc, nil
}

type tokKind int

const (
	tokIdent tokKind = iota
	tokString
	tokPunct
	tokEOF
)

type scopeToken struct {
	kind tokKind
	text string
	pos  int
}

func (t scopeToken) keyword(kw string) bool {
	return t.kind == tokIdent && strings.EqualFold(t.text, kw)
}

func lexScope(input string) ([]scopeToken, error) {
	var toks []scopeToken
	rs := []rune(input)
	for i := 0; i < len(rs); {
		r := rs[i]
		switch {
		case unicode.IsSpace(r):
			i++
		case r == '_' || unicode.IsLetter(r):
			start := i
			for i < len(rs) && (rs[i] == '_' || unicode.IsLetter(rs[i]) || unicode.IsDigit(rs[i])) {
				i++
			}
			toks = append(toks, scopeToken{kind: tokIdent, text: string(rs[start:i]), pos: start})
		case r == '"':
			start := i
			i++
			var b strings.Builder
			for {
				if i >= len(rs) {
					return nil, fmt.Errorf("unterminated quoted identifier at %d", start)
				}
				if rs[i] == '"' {
					if i+1 < len(rs) && rs[i+1] == '"' {
						b.WriteRune('"')
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteRune(rs[i])
				i++
			}
			if b.Len() == 0 {
				return nil, fmt.Errorf("empty quoted identifier at %d", start)
			}
			toks = append(toks, scopeToken{kind: tokIdent, text: b.String(), pos: start})
		case r == '\'':
			start := i
			i++
			var b strings.Builder
			for {
				if i >= len(rs) {
					return nil, fmt.Errorf("unterminated string literal at %d", start)
				}
				if rs[i] == '\'' {
					if i+1 < len(rs) && rs[i+1] == '\'' {
						b.WriteRune('\'')
						i += 2
						continue
					}
					i++
					break
				}
				b.WriteRune(rs[i])
				i++
			}
			toks = append(toks, scopeToken{kind: tokString, text: b.String(), pos: start})
		case r == '(' || r == ')' || r == ',' || r == '=':
			toks = append(toks, scopeToken{kind: tokPunct, text: string(r), pos: i})
			i++
		case r == '!' || r == '<':
			if i+1 < len(rs) && ((r == '!' && rs[i+1] == '=') || (r == '<' && rs[i+1] == '>')) {
				toks = append(toks, scopeToken{kind: tokPunct, text: string(rs[i : i+2]), pos: i})
				i += 2
				continue
			}
			return nil, fmt.Errorf("unexpected %q at %d", r, i)
		default:
			return nil, fmt.Errorf("unexpected %q at %d", r, i)
		}
	}
	toks = append(toks, scopeToken{kind: tokEOF, pos: len(rs)})
	return toks, nil
}

type scopeParser struct {
	toks []scopeToken
	pos  int
}

func (p *scopeParser) peek() scopeToken { return p.toks[p.pos] }

func (p *scopeParser) next() scopeToken {
	t := p.toks[p.pos]
	if t.kind != tokEOF {
		p.pos++
	}
	return t
}

func (p *scopeParser) expectPunct(s string) error {
	t := p.next()
	if t.kind != tokPunct || t.text != s {
		return fmt.Errorf("expected %q at %d", s, t.pos)
	}
	return nil
}

func (p *scopeParser) parse() (*Scope, error) {
	if p.peek().kind == tokEOF {
		return nil, errors.New("empty scope")
	}
	sc := &Scope{}
	for {
		term, err := p.term()
		if err != nil {
			return nil, err
		}
		sc.terms = append(sc.terms, term)

		t := p.next()
		switch {
		case t.kind == tokEOF:
			return sc, nil
		case t.keyword("AND"):
			continue
		default:
			return nil, fmt.Errorf("expected AND or end of scope at %d, got %q", t.pos, t.text)
		}
	}
}

var reservedWords = map[string]bool{"and": true, "or": true, "not": true, "in": true, "is": true, "null": true}

func (p *scopeParser) term() (scopeTerm, error) {
	colTok := p.next()
	if colTok.kind != tokIdent || reservedWords[strings.ToLower(colTok.text)] {
		return scopeTerm{}, fmt.Errorf("expected column name at %d", colTok.pos)
	}
	term := scopeTerm{column: colTok.text}

	t := p.next()
	switch {
	case t.keyword("NOT"):
		if !p.next().keyword("IN") {
			return scopeTerm{}, fmt.Errorf("expected IN after NOT at %d", t.pos)
		}
		term.negate = true
		return p.inList(term)
	case t.keyword("IN"):
		return p.inList(term)
	case t.keyword("IS"):
		term.op = opIsNull
		n := p.next()
		if n.keyword("NOT") {
			term.negate = true
			n = p.next()
		}
		if !n.keyword("NULL") {
			return scopeTerm{}, fmt.Errorf("expected NULL at %d", n.pos)
		}
		return term, nil
	case t.kind == tokPunct && (t.text == "=" || t.text == "!=" || t.text == "<>"):
		term.op = opEq
		term.negate = t.text != "="
		lit := p.next()
		if lit.kind != tokString {
			return scopeTerm{}, fmt.Errorf("expected string literal at %d", lit.pos)
		}
		term.values = []string{lit.text}
		return term, nil
	default:
		return scopeTerm{}, fmt.Errorf("expected IN, NOT IN, IS or comparison after %q at %d", colTok.text, t.pos)
	}
}

func (p *scopeParser) inList(term scopeTerm) (scopeTerm, error) {
	term.op = opIn
	if err := p.expectPunct("("); err != nil {
		return scopeTerm{}, err
	}
	for {
		lit := p.next()
		if lit.kind != tokString {
			return scopeTerm{}, fmt.Errorf("expected string literal at %d", lit.pos)
		}
		term.values = append(term.values, lit.text)

		sep := p.next()
		if sep.kind == tokPunct && sep.text == ")" {
			return term, nil
		}
		if sep.kind != tokPunct || sep.text != "," {
			return scopeTerm{}, fmt.Errorf("expected ',' or ')' at %d", sep.pos)
		}
	}
}
