package bundle

import (
	"fmt"
	"iter"
	"strings"
)

// TokenKind classifies a coarse lexical token.
type TokenKind int

const (
	TokenEOF TokenKind = iota
	TokenSpace
	TokenComment
	TokenString
	TokenTemplate
	TokenRegex
	TokenIdent
	TokenNumber
	TokenPunct
)

// Lang selects the lexical rules. Style sheets have no line comments,
// template literals or regex literals, and allow '-' inside identifiers.
type Lang int

const (
	LangScript Lang = iota
	LangStyle
)

// Token is a half-open byte range of the source with its kind.
type Token struct {
	Kind  TokenKind
	Start int
	End   int
}

// ScanError reports an unterminated or unbalanced construct at Pos.
type ScanError struct {
	Pos int
	Msg string
}

func (e *ScanError) Error() string { return fmt.Sprintf("offset %d: %s", e.Pos, e.Msg) }

// keywords after which a '/' starts a regex literal rather than a division.
var regexKeywords = map[string]struct{}{
	"return": {}, "typeof": {}, "instanceof": {}, "in": {}, "of": {}, "new": {},
	"delete": {}, "void": {}, "throw": {}, "case": {}, "do": {}, "else": {},
	"yield": {}, "await": {},
}

// controlKeywords head a parenthesized condition after which a statement,
// and so a regex literal, may start: `if (ok) /x/.test(s)`.
var controlKeywords = map[string]struct{}{
	"if": {}, "while": {}, "for": {}, "with": {},
}

type lexer struct {
	src  string
	pos  int
	lang Lang

	lastKind TokenKind // last significant token; TokenEOF at start
	lastText string

	parens    []bool // open '(' frames; true when the frame is a control header
	closedCtl bool   // the last ')' closed a control header
}

func newLexer(src string, pos int, lang Lang) *lexer {
	return &lexer{src: src, pos: pos, lang: lang}
}

// Tokens returns the coarse tokens of src in order. Iteration stops at the
// first unterminated template literal or block comment; callers copy the
// text after the last yielded token verbatim.
func Tokens(src string, lang Lang) iter.Seq[Token] {
	return func(yield func(Token) bool) {
		l := newLexer(src, 0, lang)
		for {
			t, err := l.next()
			if err != nil || t.Kind == TokenEOF {
				return
			}
			if !yield(t) {
				return
			}
		}
	}
}

func (l *lexer) peek(off int) byte {
	if l.pos+off < len(l.src) {
		return l.src[l.pos+off]
	}
	return 0
}

// significant moves past whitespace and comments.
func (l *lexer) significant() (Token, error) {
	for {
		t, err := l.next()
		if err != nil {
			return t, err
		}
		if t.Kind != TokenSpace && t.Kind != TokenComment {
			return t, nil
		}
	}
}

func (l *lexer) next() (Token, error) {
	if l.pos >= len(l.src) {
		return Token{Kind: TokenEOF, Start: len(l.src), End: len(l.src)}, nil
	}
	start := l.pos
	c := l.src[start]
	var (
		kind TokenKind
		err  error
	)

	switch {
	case isSpace(c):
		for l.pos < len(l.src) && isSpace(l.src[l.pos]) {
			l.pos++
		}
		return Token{Kind: TokenSpace, Start: start, End: l.pos}, nil

	case c == '/' && l.peek(1) == '/' && l.lang == LangScript:
		for l.pos < len(l.src) && l.src[l.pos] != '\n' {
			l.pos++
		}
		return Token{Kind: TokenComment, Start: start, End: l.pos}, nil

	case c == '/' && l.peek(1) == '*':
		end := indexFrom(l.src, "*/", start+2)
		if end < 0 {
			l.pos = len(l.src)
			return Token{Kind: TokenComment, Start: start, End: l.pos}, &ScanError{Pos: start, Msg: "unterminated block comment"}
		}
		l.pos = end + 2
		return Token{Kind: TokenComment, Start: start, End: l.pos}, nil

	case c == '"' || c == '\'':
		kind = TokenString
		l.pos = scanString(l.src, start)

	case c == '`' && l.lang == LangScript:
		kind = TokenTemplate
		l.pos, err = scanTemplate(l.src, start)

	case c == '/' && l.lang == LangScript && l.regexAllowed():
		if end, ok := scanRegex(l.src, start); ok {
			kind = TokenRegex
			l.pos = end
		} else {
			kind = TokenPunct
			l.pos++
		}

	case isDigit(c) || (c == '.' && isDigit(l.peek(1))):
		kind = TokenNumber
		l.pos = l.scanNumber(start)

	case isIdentStart(c):
		kind = TokenIdent
		l.pos++
		for l.pos < len(l.src) && l.isIdentPart(l.src[l.pos]) {
			l.pos++
		}

	default:
		kind = TokenPunct
		l.pos++
	}

	t := Token{Kind: kind, Start: start, End: l.pos}
	if kind == TokenPunct && l.lang == LangScript {
		l.trackParen(c)
	}
	l.lastKind = kind
	l.lastText = l.src[start:l.pos]
	return t, err
}

// trackParen maintains the paren frames. It runs before lastText moves on,
// so an opening paren still sees the keyword in front of it.
func (l *lexer) trackParen(c byte) {
	switch c {
	case '(':
		_, ctl := controlKeywords[l.lastText]
		l.parens = append(l.parens, ctl && l.lastKind == TokenIdent)
	case ')':
		l.closedCtl = false
		if n := len(l.parens); n > 0 {
			l.closedCtl = l.parens[n-1]
			l.parens = l.parens[:n-1]
		}
	}
}

// regexAllowed applies the usual heuristic: a '/' begins a regex literal
// after an operator, an opening delimiter, a keyword, the condition of a
// control statement, or at the start.
func (l *lexer) regexAllowed() bool {
	switch l.lastKind {
	case TokenEOF:
		return true
	case TokenIdent:
		_, ok := regexKeywords[l.lastText]
		return ok
	case TokenPunct:
		switch l.lastText {
		case ")":
			return l.closedCtl
		case "]":
			return false
		}
		return true
	default:
		return false
	}
}

func (l *lexer) scanNumber(start int) int {
	j := start
	hex := len(l.src) > start+1 && l.src[start] == '0' && (l.src[start+1] == 'x' || l.src[start+1] == 'X')
	for j < len(l.src) {
		c := l.src[j]
		switch {
		case isDigit(c) || isLetter(c) || c == '_' || c == '.':
			j++
		case (c == '+' || c == '-') && !hex && j > start && (l.src[j-1] == 'e' || l.src[j-1] == 'E') && isDigit(l.src[start]):
			j++
		default:
			return j
		}
	}
	return j
}

func (l *lexer) isIdentPart(c byte) bool {
	return isIdentStart(c) || isDigit(c) || (l.lang == LangStyle && c == '-')
}

// scanString returns the index just past the closing quote. An unescaped
// newline or EOF ends a malformed string without error.
func scanString(src string, start int) int {
	quote := src[start]
	j := start + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case quote:
			return j + 1
		case '\n':
			return j
		}
		j++
	}
	return len(src)
}

// scanTemplate returns the index just past the closing backtick, matching
// ${...} interpolations as nested code.
func scanTemplate(src string, start int) (int, error) {
	j := start + 1
	for j < len(src) {
		switch src[j] {
		case '\\':
			j += 2
			continue
		case '`':
			return j + 1, nil
		case '$':
			if j+1 < len(src) && src[j+1] == '{' {
				end, err := matchDelims(src, j+1, LangScript)
				if err != nil {
					return len(src), err
				}
				j = end + 1
				continue
			}
		}
		j++
	}
	return len(src), &ScanError{Pos: start, Msg: "unterminated template literal"}
}

// scanRegex returns the end of a regex literal including flags, or false if
// the literal does not terminate on its line.
func scanRegex(src string, start int) (int, bool) {
	j := start + 1
	inClass := false
	for j < len(src) {
		switch c := src[j]; {
		case c == '\\':
			j += 2
			continue
		case c == '\n':
			return 0, false
		case c == '[':
			inClass = true
		case c == ']':
			inClass = false
		case c == '/' && !inClass:
			j++
			for j < len(src) && (isIdentStart(src[j]) || isDigit(src[j])) {
				j++
			}
			return j, true
		}
		j++
	}
	return 0, false
}

// matchDelims returns the index of the closer matching the opener at
// src[open], skipping strings, templates, regexes and comments.
func matchDelims(src string, open int, lang Lang) (int, error) {
	l := newLexer(src, open, lang)
	var stack []byte
	for {
		t, err := l.next()
		if err != nil {
			return t.Start, err
		}
		switch t.Kind {
		case TokenEOF:
			return len(src), &ScanError{Pos: open, Msg: fmt.Sprintf("unbalanced %q reaches end of input", src[open])}
		case TokenPunct:
			c := src[t.Start]
			switch c {
			case '{':
				stack = append(stack, '}')
			case '(':
				stack = append(stack, ')')
			case '[':
				stack = append(stack, ']')
			case '}', ')', ']':
				if len(stack) == 0 || stack[len(stack)-1] != c {
					return t.Start, &ScanError{Pos: t.Start, Msg: fmt.Sprintf("mismatched %q", c)}
				}
				stack = stack[:len(stack)-1]
				if len(stack) == 0 {
					return t.Start, nil
				}
			}
		}
	}
}

func indexFrom(s, sub string, from int) int {
	if from > len(s) {
		return -1
	}
	if i := strings.Index(s[from:], sub); i >= 0 {
		return from + i
	}
	return -1
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\t' || c == '\n' || c == '\r' || c == '\v' || c == '\f'
}

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isIdentStart(c byte) bool {
	return isLetter(c) || c == '_' || c == '$' || c >= 0x80
}
