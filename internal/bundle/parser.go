// Package bundle recovers module registrations from a concatenated script
// bundle. A registration is a call of a loader function with a literal
// module id, an optional literal dependency array, and a factory function:
//
//	define("pages/index/index.js", function(require, module, exports) { ... });
//	define("utils/util.js", ["./fmt.js"], function(require) { ... });
//
// Scanning is string, template, regex and comment aware, so registration
// text inside literals or comments is never mistaken for a call.
package bundle

import (
	"errors"
	"fmt"
	"iter"
	"strings"

	"github.com/starford/wedecode/internal/apperr"
	"github.com/starford/wedecode/internal/models"
)

// DefaultRegistrar is the loader function name used by mini-program bundles.
const DefaultRegistrar = "define"

// Warning records a registration that could not be recovered.
type Warning struct {
	ID   string
	Span models.Span
	Err  error
}

func (w Warning) Error() string {
	if w.ID == "" {
		return fmt.Sprintf("bundle: at [%d, %d): %v", w.Span.Start, w.Span.End, w.Err)
	}
	return fmt.Sprintf("bundle: module %q at [%d, %d): %v", w.ID, w.Span.Start, w.Span.End, w.Err)
}

// Unwrap exposes both the cause and apperr.ErrParse to errors.Is.
func (w Warning) Unwrap() []error { return []error{w.Err, apperr.ErrParse} }

// Option configures a Parser.
type Option func(*Parser)

// WithRegistrars replaces the set of loader function names.
func WithRegistrars(names ...string) Option {
	return func(p *Parser) {
		if len(names) == 0 {
			return
		}
		p.names = make(map[string]struct{}, len(names))
		for _, n := range names {
			p.names[n] = struct{}{}
		}
	}
}

// Parser is a single-use scanner over one bundle buffer. It is not safe for
// concurrent use.
type Parser struct {
	src      string
	lex      *lexer
	names    map[string]struct{}
	seen     map[string]struct{}
	warnings []Warning
	done     bool
}

// NewParser returns a parser positioned at the start of src.
func NewParser(src string, opts ...Option) *Parser {
	p := &Parser{
		src:   src,
		lex:   newLexer(src, 0, LangScript),
		names: map[string]struct{}{DefaultRegistrar: {}},
		seen:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Parse drains a new parser over src.
func Parse(src string, opts ...Option) ([]models.ModuleRecord, []Warning) {
	p := NewParser(src, opts...)
	var out []models.ModuleRecord
	for rec := range p.All() {
		out = append(out, rec)
	}
	return out, p.Warnings()
}

// IsBundle reports whether src contains at least one registration.
func IsBundle(src string, opts ...Option) bool {
	p := NewParser(src, opts...)
	found := false
	for name := range p.names {
		if strings.Contains(src, name) {
			found = true
			break
		}
	}
	if !found {
		return false
	}
	_, ok := p.Next()
	return ok
}

// Warnings returns the warnings recorded so far.
func (p *Parser) Warnings() []Warning { return p.warnings }

// All yields the remaining records. Like Next, it consumes the parser.
func (p *Parser) All() iter.Seq[models.ModuleRecord] {
	return func(yield func(models.ModuleRecord) bool) {
		for {
			rec, ok := p.Next()
			if !ok || !yield(rec) {
				return
			}
		}
	}
}

// Next returns the next registration, or false once the buffer is exhausted.
func (p *Parser) Next() (models.ModuleRecord, bool) {
	for !p.done {
		prevKind, prevText := p.lex.lastKind, p.lex.lastText
		t, err := p.lex.next()
		if err != nil {
			p.warn("", models.Span{Start: t.Start, End: len(p.src)}, err)
			p.done = true
			break
		}
		if t.Kind == TokenEOF {
			p.done = true
			break
		}
		if t.Kind != TokenIdent || (prevKind == TokenPunct && prevText == ".") {
			continue
		}
		if _, ok := p.names[p.src[t.Start:t.End]]; !ok {
			continue
		}

		rec, resume, err := p.parseAt(t.Start, t.End)
		switch {
		case errors.Is(err, errNotRegistration):
			continue
		case err != nil:
			p.warn(rec.ID, rec.Span, err)
			p.lex.pos = resume
			p.lex.lastKind, p.lex.lastText = TokenPunct, "{"
			continue
		}

		p.lex.pos = rec.Span.End
		p.lex.lastKind, p.lex.lastText = TokenPunct, ")"
		if _, dup := p.seen[rec.ID]; dup {
			p.warn(rec.ID, rec.Span, fmt.Errorf("duplicate module id"))
		}
		p.seen[rec.ID] = struct{}{}
		return rec, true
	}
	return models.ModuleRecord{}, false
}

func (p *Parser) warn(id string, span models.Span, err error) {
	p.warnings = append(p.warnings, Warning{ID: id, Span: span, Err: err})
}

var errNotRegistration = errors.New("not a registration")

// parseAt matches the registration shape starting at the loader identifier
// src[start:identEnd]. On failure the returned record carries the id and
// span reached so far, and resume is where scanning continues.
func (p *Parser) parseAt(start, identEnd int) (models.ModuleRecord, int, error) {
	src := p.src
	s := newLexer(src, identEnd, LangScript)
	rec := models.ModuleRecord{Span: models.Span{Start: start, End: identEnd}}

	t, err := s.significant()
	if err != nil || !isPunct(src, t, '(') {
		return rec, identEnd, errNotRegistration
	}
	open := t.Start

	t, err = s.significant()
	if err != nil || !isLiteral(src, t) {
		return rec, identEnd, errNotRegistration
	}
	rec.ID = unquote(src[t.Start:t.End])

	t, err = s.significant()
	if err != nil || !isPunct(src, t, ',') {
		return rec, identEnd, errNotRegistration
	}

	t, err = s.significant()
	if err == nil && isPunct(src, t, '[') {
		rec.DeclaredDeps = true
		rec.Deps = []string{}
		for {
			t, err = s.significant()
			if err != nil {
				return rec, identEnd, errNotRegistration
			}
			if isPunct(src, t, ']') {
				break
			}
			if !isLiteral(src, t) {
				return rec, identEnd, errNotRegistration
			}
			rec.Deps = append(rec.Deps, unquote(src[t.Start:t.End]))
			t, err = s.significant()
			if err != nil {
				return rec, identEnd, errNotRegistration
			}
			if isPunct(src, t, ']') {
				break
			}
			if !isPunct(src, t, ',') {
				return rec, identEnd, errNotRegistration
			}
		}
		if t, err = s.significant(); err != nil || !isPunct(src, t, ',') {
			return rec, identEnd, errNotRegistration
		}
		t, err = s.significant()
	}
	if err != nil {
		return rec, identEnd, errNotRegistration
	}

	bodyOpen, ok := factoryBody(s, t)
	if !ok {
		rec.Span.End = s.pos
		return rec, s.pos, fmt.Errorf("unsupported module factory")
	}

	bodyClose, err := matchDelims(src, bodyOpen, LangScript)
	if err != nil {
		rec.Span.End = max(bodyClose, bodyOpen+1)
		return rec, bodyOpen + 1, fmt.Errorf("unbalanced module body: %w", err)
	}

	s.pos = bodyClose + 1
	s.lastKind, s.lastText = TokenPunct, "}"
	callClose := -1
	if t, err = s.significant(); err == nil && isPunct(src, t, ')') {
		callClose = t.Start
	} else if callClose, err = matchDelims(src, open, LangScript); err != nil {
		rec.Span.End = bodyClose + 1
		return rec, bodyClose + 1, fmt.Errorf("unterminated registration call: %w", err)
	}

	end := callClose + 1
	if end < len(src) && src[end] == ';' {
		end++
	}
	rec.Span.End = end
	rec.Body = src[bodyOpen+1 : bodyClose]
	rec.Source = src[start:end]
	if !rec.DeclaredDeps {
		rec.Deps = Requires(rec.Body)
	}
	return rec, end, nil
}

// factoryBody accepts `function [name](...) {`, `(...) => {` and `x => {`
// starting at token t and returns the offset of the body's opening brace.
func factoryBody(s *lexer, t Token) (int, bool) {
	src := s.src
	var err error
	if t.Kind == TokenIdent && src[t.Start:t.End] == "async" {
		if t, err = s.significant(); err != nil {
			return 0, false
		}
	}

	switch {
	case t.Kind == TokenIdent && src[t.Start:t.End] == "function":
		if t, err = s.significant(); err != nil {
			return 0, false
		}
		if t.Kind == TokenIdent {
			if t, err = s.significant(); err != nil {
				return 0, false
			}
		}
		if !isPunct(src, t, '(') || !skipParams(s, t.Start) {
			return 0, false
		}

	case isPunct(src, t, '('):
		if !skipParams(s, t.Start) || !skipArrow(s) {
			return 0, false
		}

	case t.Kind == TokenIdent:
		if !skipArrow(s) {
			return 0, false
		}

	default:
		return 0, false
	}

	t, err = s.significant()
	if err != nil || !isPunct(src, t, '{') {
		return 0, false
	}
	return t.Start, true
}

func skipParams(s *lexer, open int) bool {
	end, err := matchDelims(s.src, open, LangScript)
	if err != nil {
		return false
	}
	s.pos = end + 1
	s.lastKind, s.lastText = TokenPunct, ")"
	return true
}

func skipArrow(s *lexer) bool {
	t, err := s.significant()
	if err != nil || !isPunct(s.src, t, '=') || t.Start+1 >= len(s.src) || s.src[t.Start+1] != '>' {
		return false
	}
	s.pos = t.Start + 2
	s.lastKind, s.lastText = TokenPunct, "=>"
	return true
}

// Requires returns the literal targets of require("...") calls in body,
// de-duplicated in first-seen order.
func Requires(body string) []string {
	l := newLexer(body, 0, LangScript)
	seen := make(map[string]struct{})
	var out []string
	for {
		prevKind, prevText := l.lastKind, l.lastText
		t, err := l.next()
		if err != nil || t.Kind == TokenEOF {
			return out
		}
		if t.Kind != TokenIdent || body[t.Start:t.End] != "require" || (prevKind == TokenPunct && prevText == ".") {
			continue
		}
		s := newLexer(body, t.End, LangScript)
		if open, err := s.significant(); err != nil || !isPunct(body, open, '(') {
			continue
		}
		lit, err := s.significant()
		if err != nil || !isLiteral(body, lit) {
			continue
		}
		if cls, err := s.significant(); err != nil || !isPunct(body, cls, ')') {
			continue
		}
		dep := unquote(body[lit.Start:lit.End])
		if _, ok := seen[dep]; ok || dep == "" {
			continue
		}
		seen[dep] = struct{}{}
		out = append(out, dep)
	}
}

func isPunct(src string, t Token, c byte) bool {
	return t.Kind == TokenPunct && src[t.Start] == c
}

// isLiteral accepts quoted strings and templates without interpolation.
func isLiteral(src string, t Token) bool {
	switch t.Kind {
	case TokenString:
		return t.End-t.Start >= 2 && src[t.End-1] == src[t.Start]
	case TokenTemplate:
		return !strings.Contains(src[t.Start:t.End], "${")
	default:
		return false
	}
}

// unquote decodes a quoted literal, including its common escapes.
func unquote(lit string) string {
	if len(lit) < 2 {
		return ""
	}
	inner := lit[1 : len(lit)-1]
	if !strings.Contains(inner, `\`) {
		return inner
	}
	var b strings.Builder
	for i := 0; i < len(inner); i++ {
		c := inner[i]
		if c != '\\' || i+1 >= len(inner) {
			b.WriteByte(c)
			continue
		}
		i++
		switch e := inner[i]; e {
		case 'n':
			b.WriteByte('\n')
		case 't':
			b.WriteByte('\t')
		case 'r':
			b.WriteByte('\r')
		case '0':
			b.WriteByte(0)
		case 'x':
			if r, ok := hexRune(inner, i+1, 2); ok {
				b.WriteRune(r)
				i += 2
			} else {
				b.WriteByte(e)
			}
		case 'u':
			if r, ok := hexRune(inner, i+1, 4); ok {
				b.WriteRune(r)
				i += 4
			} else {
				b.WriteByte(e)
			}
		case '\n':
			// line continuation
		default:
			b.WriteByte(e)
		}
	}
	return b.String()
}

func hexRune(s string, at, n int) (rune, bool) {
	if at+n > len(s) {
		return 0, false
	}
	var r rune
	for _, c := range []byte(s[at : at+n]) {
		var v byte
		switch {
		case c >= '0' && c <= '9':
			v = c - '0'
		case c >= 'a' && c <= 'f':
			v = c - 'a' + 10
		case c >= 'A' && c <= 'F':
			v = c - 'A' + 10
		default:
			return 0, false
		}
		r = r<<4 | rune(v)
	}
	return r, true
}
