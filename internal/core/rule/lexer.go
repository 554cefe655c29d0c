package rule

import (
	"strconv"
	"strings"

	perr "mquery/internal/platform/errors"
)

type tokKind int

const (
	tokEOF tokKind = iota
	tokIdent
	tokStringID // $name or $name*; text holds the name without $
	tokString   // decoded bytes in text
	tokHex      // raw body between braces
	tokInt
	tokLBrace
	tokRBrace
	tokLParen
	tokRParen
	tokColon
	tokEquals
	tokComma
)

func (k tokKind) String() string {
	switch k {
	case tokEOF:
		return "end of input"
	case tokIdent:
		return "identifier"
	case tokStringID:
		return "string identifier"
	case tokString:
		return "text string"
	case tokHex:
		return "hex string"
	case tokInt:
		return "integer"
	case tokLBrace:
		return "'{'"
	case tokRBrace:
		return "'}'"
	case tokLParen:
		return "'('"
	case tokRParen:
		return "')'"
	case tokColon:
		return "':'"
	case tokEquals:
		return "'='"
	case tokComma:
		return "','"
	}
	return "token"
}

type pos struct{ line, col int }

type token struct {
	kind tokKind
	text string
	num  int
	pos  pos
}

// errorAt builds the ParseError every compile failure surfaces as
func errorAt(p pos, format string, a ...any) error {
	args := append([]any{p.line, p.col}, a...)
	return perr.WithField(perr.Parsef("line %d col %d: "+format, args...), "raw_yara")
}

type lexer struct {
	src  string
	off  int
	line int
	col  int
	prev tokKind
}

func lex(src string) ([]token, error) {
	l := &lexer{src: src, line: 1, col: 1, prev: tokEOF}
	var out []token
	for {
		t, err := l.next()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		l.prev = t.kind
		if t.kind == tokEOF {
			return out, nil
		}
	}
}

func (l *lexer) peek(n int) byte {
	if l.off+n < len(l.src) {
		return l.src[l.off+n]
	}
	return 0
}

func (l *lexer) advance() byte {
	c := l.src[l.off]
	l.off++
	if c == '\n' {
		l.line++
		l.col = 1
	} else {
		l.col++
	}
	return c
}

func (l *lexer) here() pos { return pos{l.line, l.col} }

func (l *lexer) skipSpaceAndComments() error {
	for l.off < len(l.src) {
		c := l.peek(0)
		switch {
		case c == ' ' || c == '\t' || c == '\r' || c == '\n':
			l.advance()
		case c == '/' && l.peek(1) == '/':
			for l.off < len(l.src) && l.peek(0) != '\n' {
				l.advance()
			}
		case c == '/' && l.peek(1) == '*':
			start := l.here()
			l.advance()
			l.advance()
			for {
				if l.off >= len(l.src) {
					return errorAt(start, "unterminated comment")
				}
				if l.peek(0) == '*' && l.peek(1) == '/' {
					l.advance()
					l.advance()
					break
				}
				l.advance()
			}
		default:
			return nil
		}
	}
	return nil
}

func (l *lexer) next() (token, error) {
	if err := l.skipSpaceAndComments(); err != nil {
		return token{}, err
	}
	p := l.here()
	if l.off >= len(l.src) {
		return token{kind: tokEOF, pos: p}, nil
	}

	c := l.peek(0)
	switch {
	case c == '{' && l.prev == tokEquals:
		return l.hex(p)
	case c == '"':
		return l.text(p)
	case c == '$':
		l.advance()
		start := l.off
		for l.off < len(l.src) && isIdent(l.peek(0)) {
			l.advance()
		}
		name := l.src[start:l.off]
		if l.off < len(l.src) && l.peek(0) == '*' {
			l.advance()
			name += "*"
		}
		return token{kind: tokStringID, text: name, pos: p}, nil
	case isDigit(c):
		start := l.off
		for l.off < len(l.src) && isDigit(l.peek(0)) {
			l.advance()
		}
		n, err := strconv.Atoi(l.src[start:l.off])
		if err != nil {
			return token{}, errorAt(p, "integer out of range")
		}
		return token{kind: tokInt, num: n, text: l.src[start:l.off], pos: p}, nil
	case isIdentStart(c):
		start := l.off
		for l.off < len(l.src) && isIdent(l.peek(0)) {
			l.advance()
		}
		return token{kind: tokIdent, text: l.src[start:l.off], pos: p}, nil
	}

	if k, ok := punct[c]; ok {
		l.advance()
		return token{kind: k, text: string(c), pos: p}, nil
	}
	return token{}, errorAt(p, "unexpected character %q", c)
}

var punct = map[byte]tokKind{
	'{': tokLBrace, '}': tokRBrace, '(': tokLParen, ')': tokRParen,
	':': tokColon, '=': tokEquals, ',': tokComma,
}

func (l *lexer) text(p pos) (token, error) {
	l.advance()
	var b strings.Builder
	for {
		if l.off >= len(l.src) || l.peek(0) == '\n' {
			return token{}, errorAt(p, "unterminated string")
		}
		c := l.advance()
		if c == '"' {
			return token{kind: tokString, text: b.String(), pos: p}, nil
		}
		if c != '\\' {
			b.WriteByte(c)
			continue
		}
		if l.off >= len(l.src) {
			return token{}, errorAt(p, "unterminated string")
		}
		esc := l.here()
		switch e := l.advance(); e {
		case '"', '\\':
			b.WriteByte(e)
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case 'x':
			if l.off+2 > len(l.src) {
				return token{}, errorAt(esc, "bad \\x escape")
			}
			v, err := strconv.ParseUint(l.src[l.off:l.off+2], 16, 8)
			if err != nil {
				return token{}, errorAt(esc, "bad \\x escape")
			}
			l.advance()
			l.advance()
			b.WriteByte(byte(v))
		default:
			return token{}, errorAt(esc, "unknown escape \\%c", e)
		}
	}
}

func (l *lexer) hex(p pos) (token, error) {
	l.advance()
	start := l.off
	for {
		if l.off >= len(l.src) {
			return token{}, errorAt(p, "unterminated hex string")
		}
		if l.peek(0) == '}' {
			body := l.src[start:l.off]
			l.advance()
			return token{kind: tokHex, text: body, pos: p}, nil
		}
		l.advance()
	}
}

func isDigit(c byte) bool      { return c >= '0' && c <= '9' }
func isIdentStart(c byte) bool { return c == '_' || (c|0x20 >= 'a' && c|0x20 <= 'z') }
func isIdent(c byte) bool      { return isIdentStart(c) || isDigit(c) }
