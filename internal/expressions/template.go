package expressions

import (
	"strconv"
	"strings"

	"github.com/rendis/autoflow/pkg/schema"
)

// Segment is one piece of a parsed template: either literal text or a binding.
type Segment struct {
	Literal string
	Binding *Binding
}

// Binding is a single {{ ... }} or {{{ ... }}} placeholder.
type Binding struct {
	Expr   string // trimmed inner text
	Triple bool
}

// Template is the parsed form of a string input value.
type Template struct {
	Segments []Segment
}

// ParseTemplate splits s into literal and binding segments.
// An unterminated placeholder is a TEMPLATE_ERROR.
func ParseTemplate(s string) (Template, error) {
	var t Template
	i := 0
	for i < len(s) {
		idx := strings.Index(s[i:], "{{")
		if idx == -1 {
			t.appendLiteral(s[i:])
			break
		}
		if idx > 0 {
			t.appendLiteral(s[i : i+idx])
		}
		start := i + idx

		open, closer := "{{", "}}"
		if strings.HasPrefix(s[start:], "{{{") {
			open, closer = "{{{", "}}}"
		}
		body := start + len(open)
		end := strings.Index(s[body:], closer)
		if end == -1 {
			return Template{}, schema.NewErrorf(schema.ErrCodeTemplate,
				"unterminated binding at offset %d in %q", start, s)
		}
		inner := strings.TrimSpace(s[body : body+end])
		if inner == "" {
			return Template{}, schema.NewErrorf(schema.ErrCodeTemplate,
				"empty binding at offset %d in %q", start, s)
		}
		t.Segments = append(t.Segments, Segment{Binding: &Binding{Expr: inner, Triple: open == "{{{"}})
		i = body + end + len(closer)
	}
	return t, nil
}

func (t *Template) appendLiteral(s string) {
	if n := len(t.Segments); n > 0 && t.Segments[n-1].Binding == nil {
		t.Segments[n-1].Literal += s
		return
	}
	t.Segments = append(t.Segments, Segment{Literal: s})
}

// HasBindings reports whether the template contains at least one binding.
func (t Template) HasBindings() bool {
	for _, seg := range t.Segments {
		if seg.Binding != nil {
			return true
		}
	}
	return false
}

// SingleBinding returns the binding when the whole template is exactly one
// placeholder with no surrounding text.
func (t Template) SingleBinding() (*Binding, bool) {
	if len(t.Segments) != 1 || t.Segments[0].Binding == nil {
		return nil, false
	}
	return t.Segments[0].Binding, true
}

// String renders the template back to source form.
func (t Template) String() string {
	var b strings.Builder
	for _, seg := range t.Segments {
		if seg.Binding == nil {
			b.WriteString(seg.Literal)
			continue
		}
		if seg.Binding.Triple {
			b.WriteString("{{{ " + seg.Binding.Expr + " }}}")
		} else {
			b.WriteString("{{ " + seg.Binding.Expr + " }}")
		}
	}
	return b.String()
}

// RewriteRoot replaces references rooted at identifier from with the path to.
// Path bindings keep dotted form; expressions get index syntax for numeric
// segments so they stay valid expr source.
func (t Template) RewriteRoot(from string, to []string) Template {
	out := Template{Segments: make([]Segment, len(t.Segments))}
	for i, seg := range t.Segments {
		if seg.Binding == nil {
			out.Segments[i] = seg
			continue
		}
		b := *seg.Binding
		if path, ok := ParsePath(b.Expr); ok {
			if path[0] == from {
				b.Expr = FormatPath(append(append([]string{}, to...), path[1:]...))
			}
		} else {
			b.Expr = rewriteIdentifier(b.Expr, from, exprPath(to))
		}
		out.Segments[i] = Segment{Binding: &b}
	}
	return out
}

// ParsePath parses a binding as a property path: dot-separated segments
// with optional [n] or [key] accessors. Anything else is an expression.
func ParsePath(s string) ([]string, bool) {
	var path []string
	i := 0
	expectSegment := true
	for i < len(s) {
		switch c := s[i]; {
		case c == '[':
			end := strings.IndexByte(s[i:], ']')
			if end <= 1 {
				return nil, false
			}
			key := strings.Trim(s[i+1:i+end], `"'`)
			path = append(path, key)
			i += end + 1
			expectSegment = false
		case c == '.':
			if expectSegment {
				return nil, false
			}
			expectSegment = true
			i++
		case isPathChar(c):
			if !expectSegment {
				return nil, false
			}
			j := i
			for j < len(s) && isPathChar(s[j]) {
				j++
			}
			path = append(path, s[i:j])
			i = j
			expectSegment = false
		default:
			return nil, false
		}
	}
	if len(path) == 0 || expectSegment {
		return nil, false
	}
	if !isIdentStart(path[0][0]) {
		return nil, false
	}
	if len(path) == 1 {
		switch path[0] {
		case "true", "false", "nil", "null":
			return nil, false
		}
	}
	return path, true
}

// FormatPath renders a path in dotted form, bracketing keys that are not
// plain segments.
func FormatPath(path []string) string {
	var b strings.Builder
	for i, seg := range path {
		if !isPlainSegment(seg) {
			b.WriteString("[" + seg + "]")
			continue
		}
		if i > 0 {
			b.WriteByte('.')
		}
		b.WriteString(seg)
	}
	return b.String()
}

func exprPath(path []string) string {
	var b strings.Builder
	for i, seg := range path {
		switch {
		case i == 0:
			b.WriteString(seg)
		case isNumeric(seg):
			b.WriteString("[" + seg + "]")
		case isPlainSegment(seg) && isIdentStart(seg[0]):
			b.WriteString("." + seg)
		default:
			b.WriteString("[" + strconv.Quote(seg) + "]")
		}
	}
	return b.String()
}

// rewriteIdentifier replaces free occurrences of ident in expression source,
// skipping string literals and member accesses.
func rewriteIdentifier(src, ident, replacement string) string {
	var b strings.Builder
	i := 0
	for i < len(src) {
		c := src[i]
		if c == '"' || c == '\'' || c == '`' {
			j := i + 1
			for j < len(src) && src[j] != c {
				if src[j] == '\\' && c != '`' {
					j++
				}
				j++
			}
			if j < len(src) {
				j++
			}
			b.WriteString(src[i:min(j, len(src))])
			i = j
			continue
		}
		if isIdentStart(c) {
			j := i
			for j < len(src) && isIdentChar(src[j]) {
				j++
			}
			word := src[i:j]
			if word == ident && !precededByDot(src, i) {
				b.WriteString(replacement)
			} else {
				b.WriteString(word)
			}
			i = j
			continue
		}
		b.WriteByte(c)
		i++
	}
	return b.String()
}

func precededByDot(src string, i int) bool {
	for k := i - 1; k >= 0; k-- {
		switch src[k] {
		case ' ', '\t':
			continue
		case '.':
			return true
		default:
			return false
		}
	}
	return false
}

func isIdentStart(c byte) bool {
	return c == '_' || c == '$' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

func isIdentChar(c byte) bool {
	return isIdentStart(c) || (c >= '0' && c <= '9')
}

func isPathChar(c byte) bool {
	return isIdentChar(c) || c == '-'
}

func isPlainSegment(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if !isPathChar(s[i]) {
			return false
		}
	}
	return true
}

func isNumeric(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
