package rule

import (
	"path"
	"strconv"
	"strings"
)

var keywords = map[string]bool{
	"rule": true, "private": true, "global": true, "meta": true, "strings": true,
	"condition": true, "and": true, "or": true, "not": true, "any": true, "all": true,
	"of": true, "them": true, "true": true, "false": true,
}

// modifiers accepted on text strings
var modifiers = map[string]bool{"ascii": true, "wide": true, "nocase": true}

type stringDef struct {
	name string
	pos  pos
	hex  bool
	raw  string
	mods map[string]bool
}

type ast struct {
	name    string
	tags    []string
	meta    map[string]any
	strings []stringDef
	cond    Node
}

type parser struct {
	toks []token
	i    int
	decl map[string]bool
	// names in declaration order, for "them" and wildcards
	order []string
}

func parse(src string) (*ast, error) {
	toks, err := lex(src)
	if err != nil {
		return nil, err
	}
	p := &parser{toks: toks, decl: map[string]bool{}}
	a, err := p.rule()
	if err != nil {
		return nil, err
	}
	if t := p.cur(); t.kind != tokEOF {
		return nil, errorAt(t.pos, "expected end of input after rule, got %s", describe(t))
	}
	return a, nil
}

func (p *parser) cur() token { return p.toks[p.i] }

func (p *parser) take() token {
	t := p.toks[p.i]
	if t.kind != tokEOF {
		p.i++
	}
	return t
}

func (p *parser) isWord(w string) bool {
	t := p.cur()
	return t.kind == tokIdent && t.text == w
}

func (p *parser) expect(k tokKind) (token, error) {
	t := p.take()
	if t.kind != k {
		return t, errorAt(t.pos, "expected %s, got %s", k, describe(t))
	}
	return t, nil
}

func (p *parser) expectWord(w string) error {
	t := p.take()
	if t.kind != tokIdent || t.text != w {
		return errorAt(t.pos, "expected %q, got %s", w, describe(t))
	}
	return nil
}

func describe(t token) string {
	switch t.kind {
	case tokIdent, tokInt:
		return strconv.Quote(t.text)
	case tokStringID:
		return strconv.Quote("$" + t.text)
	}
	return t.kind.String()
}

func (p *parser) rule() (*ast, error) {
	for p.isWord("private") || p.isWord("global") {
		p.take()
	}
	if err := p.expectWord("rule"); err != nil {
		return nil, err
	}
	name, err := p.identifier()
	if err != nil {
		return nil, err
	}
	a := &ast{name: name, meta: map[string]any{}}

	if p.cur().kind == tokColon {
		p.take()
		for p.cur().kind == tokIdent && !keywords[p.cur().text] {
			a.tags = append(a.tags, p.take().text)
		}
		if len(a.tags) == 0 {
			return nil, errorAt(p.cur().pos, "expected tag after ':'")
		}
	}
	if _, err := p.expect(tokLBrace); err != nil {
		return nil, err
	}

	if p.isWord("meta") {
		if err := p.meta(a); err != nil {
			return nil, err
		}
	}
	if p.isWord("strings") {
		if err := p.stringsSection(a); err != nil {
			return nil, err
		}
	}
	if err := p.expectWord("condition"); err != nil {
		return nil, err
	}
	if _, err := p.expect(tokColon); err != nil {
		return nil, err
	}
	cond, err := p.or()
	if err != nil {
		return nil, err
	}
	a.cond = cond
	if _, err := p.expect(tokRBrace); err != nil {
		return nil, err
	}
	return a, nil
}

func (p *parser) identifier() (string, error) {
	t := p.take()
	if t.kind != tokIdent || keywords[t.text] {
		return "", errorAt(t.pos, "expected identifier, got %s", describe(t))
	}
	return t.text, nil
}

func (p *parser) meta(a *ast) error {
	p.take()
	if _, err := p.expect(tokColon); err != nil {
		return err
	}
	for p.cur().kind == tokIdent && !keywords[p.cur().text] {
		key := p.take().text
		if _, err := p.expect(tokEquals); err != nil {
			return err
		}
		v := p.take()
		switch {
		case v.kind == tokString:
			a.meta[key] = v.text
		case v.kind == tokInt:
			a.meta[key] = v.num
		case v.kind == tokIdent && (v.text == "true" || v.text == "false"):
			a.meta[key] = v.text == "true"
		default:
			return errorAt(v.pos, "expected meta value, got %s", describe(v))
		}
	}
	return nil
}

func (p *parser) stringsSection(a *ast) error {
	p.take()
	if _, err := p.expect(tokColon); err != nil {
		return err
	}
	if p.cur().kind != tokStringID {
		return errorAt(p.cur().pos, "expected string definition, got %s", describe(p.cur()))
	}
	for p.cur().kind == tokStringID {
		id := p.take()
		if id.text == "" || strings.HasSuffix(id.text, "*") {
			return errorAt(id.pos, "invalid string identifier %s", describe(id))
		}
		if p.decl[id.text] {
			return errorAt(id.pos, "duplicate string identifier $%s", id.text)
		}
		if _, err := p.expect(tokEquals); err != nil {
			return err
		}
		v := p.take()
		def := stringDef{name: id.text, pos: id.pos, raw: v.text, mods: map[string]bool{}}
		switch v.kind {
		case tokString:
		case tokHex:
			def.hex = true
		default:
			return errorAt(v.pos, "expected text or hex string, got %s", describe(v))
		}
		for p.cur().kind == tokIdent && !keywords[p.cur().text] {
			m := p.take()
			if !modifiers[m.text] {
				return errorAt(m.pos, "unknown modifier %q", m.text)
			}
			if def.hex {
				return errorAt(m.pos, "modifier %q is not allowed on hex strings", m.text)
			}
			def.mods[m.text] = true
		}
		p.decl[id.text] = true
		p.order = append(p.order, id.text)
		a.strings = append(a.strings, def)
	}
	return nil
}

func (p *parser) or() (Node, error) {
	left, err := p.and()
	if err != nil {
		return nil, err
	}
	for p.isWord("or") {
		p.take()
		right, err := p.and()
		if err != nil {
			return nil, err
		}
		left = Or{L: left, R: right}
	}
	return left, nil
}

func (p *parser) and() (Node, error) {
	left, err := p.not()
	if err != nil {
		return nil, err
	}
	for p.isWord("and") {
		p.take()
		right, err := p.not()
		if err != nil {
			return nil, err
		}
		left = And{L: left, R: right}
	}
	return left, nil
}

func (p *parser) not() (Node, error) {
	if p.isWord("not") {
		p.take()
		x, err := p.not()
		if err != nil {
			return nil, err
		}
		return Not{X: x}, nil
	}
	return p.primary()
}

func (p *parser) primary() (Node, error) {
	t := p.cur()
	switch {
	case t.kind == tokLParen:
		p.take()
		n, err := p.or()
		if err != nil {
			return nil, err
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
		return n, nil

	case t.kind == tokStringID:
		p.take()
		if strings.HasSuffix(t.text, "*") {
			return nil, errorAt(t.pos, "wildcard $%s is only allowed inside an of-set", t.text)
		}
		if !p.decl[t.text] {
			return nil, errorAt(t.pos, "undeclared string $%s", t.text)
		}
		return Ref{Name: t.text}, nil

	case t.kind == tokIdent && (t.text == "true" || t.text == "false"):
		p.take()
		return Bool{V: t.text == "true"}, nil

	case t.kind == tokInt, t.kind == tokIdent && (t.text == "any" || t.text == "all"):
		p.take()
		return p.ofSet(t)
	}
	return nil, errorAt(t.pos, "unexpected %s in condition", describe(t))
}

func (p *parser) ofSet(q token) (Node, error) {
	if err := p.expectWord("of"); err != nil {
		return nil, err
	}
	var names []string
	switch t := p.take(); {
	case t.kind == tokIdent && t.text == "them":
		if len(p.order) == 0 {
			return nil, errorAt(t.pos, "\"them\" used in a rule without strings")
		}
		names = append(names, p.order...)
	case t.kind == tokLParen:
		seen := map[string]bool{}
		for {
			it, err := p.expect(tokStringID)
			if err != nil {
				return nil, err
			}
			matched, err := p.resolve(it)
			if err != nil {
				return nil, err
			}
			for _, n := range matched {
				if !seen[n] {
					seen[n] = true
					names = append(names, n)
				}
			}
			if p.cur().kind != tokComma {
				break
			}
			p.take()
		}
		if _, err := p.expect(tokRParen); err != nil {
			return nil, err
		}
	default:
		return nil, errorAt(t.pos, "expected \"them\" or '(' after \"of\", got %s", describe(t))
	}

	k := 1
	switch {
	case q.kind == tokInt:
		k = q.num
	case q.text == "all":
		k = len(names)
	}
	return OfSet{K: k, Names: names}, nil
}

// resolve expands $name or a $prefix* wildcard against declared strings
func (p *parser) resolve(t token) ([]string, error) {
	if !strings.HasSuffix(t.text, "*") {
		if !p.decl[t.text] {
			return nil, errorAt(t.pos, "undeclared string $%s", t.text)
		}
		return []string{t.text}, nil
	}
	var out []string
	for _, n := range p.order {
		if ok, _ := path.Match(t.text, n); ok {
			out = append(out, n)
		}
	}
	if len(out) == 0 {
		return nil, errorAt(t.pos, "$%s matches no declared string", t.text)
	}
	return out, nil
}
