package compiler

import (
	"strings"

	"github.com/addrummond/trellis/ir"
)

const (
	defaultFragment  = `\w+`
	wildcardFragment = `.*?`
)

// Tokenized is a route pattern broken into tokens, together with what the
// compiler needs to know about its captures.
type Tokenized struct {
	Pattern string
	Tokens  []ir.Token
	// Captures in order of appearance.
	Captures []string
	// Captures that are not inside any optional segment.
	Required map[string]struct{}
	// Regexp fragment for each capture that does not use the default.
	Fragments map[string]string
}

// HasOptional reports whether the pattern contains an optional segment.
func (t *Tokenized) HasOptional() bool {
	for _, tok := range t.Tokens {
		if tok.Kind == ir.OptionalBegin {
			return true
		}
	}
	return false
}

// HasCapture reports whether name is captured anywhere in the pattern.
func (t *Tokenized) HasCapture(name string) bool {
	for _, c := range t.Captures {
		if c == name {
			return true
		}
	}
	return false
}

// RequiredCaptures returns the required captures in order of appearance.
func (t *Tokenized) RequiredCaptures() []string {
	var rs []string
	for _, c := range t.Captures {
		if _, ok := t.Required[c]; ok {
			rs = append(rs, c)
		}
	}
	return rs
}

// Tokenize splits a route pattern into literals, captures (:name),
// wildcards (*name) and optional segment delimiters. A backslash escapes
// one of \ : * ( ). A ':' or '*' not followed by a name character is
// literal text.
func Tokenize(pattern string) (Tokenized, []CompileError) {
	t := Tokenized{
		Pattern:   pattern,
		Required:  make(map[string]struct{}),
		Fragments: make(map[string]string),
	}
	var errs []CompileError
	errorAt := func(kind ErrorKind, col int, name string) {
		errs = append(errs, CompileError{Kind: kind, Pattern: pattern, Col: col, Name: name})
	}

	var lit strings.Builder
	flush := func() {
		if lit.Len() > 0 {
			t.Tokens = append(t.Tokens, ir.Token{Kind: ir.Literal, Text: lit.String()})
			lit.Reset()
		}
	}

	seen := make(map[string]struct{})
	depth := 0

	// all special chars are ASCII so we can iterate by byte
	for i := 0; i < len(pattern); {
		b := pattern[i]
		switch b {
		case '\\':
			if i+1 >= len(pattern) {
				errorAt(IllegalEscape, i, "")
				i++
				continue
			}
			switch e := pattern[i+1]; e {
			case '\\', ':', '*', '(', ')':
				lit.WriteByte(e)
			default:
				errorAt(IllegalEscape, i, "")
			}
			i += 2
		case ':', '*':
			j := i + 1
			for j < len(pattern) && isNameByte(pattern[j]) {
				j++
			}
			if j == i+1 {
				lit.WriteByte(b)
				i++
				continue
			}
			name := pattern[i+1 : j]
			flush()

			kind := ir.Capture
			if b == '*' {
				kind = ir.Wildcard
				t.Fragments[name] = wildcardFragment
			}
			if name[0] == '_' {
				errorAt(ReservedCaptureName, i, name)
			}
			if _, ok := seen[name]; ok {
				errorAt(DuplicateCapture, i, name)
			}
			seen[name] = struct{}{}

			t.Tokens = append(t.Tokens, ir.Token{Kind: kind, Text: name})
			t.Captures = append(t.Captures, name)
			if depth == 0 {
				t.Required[name] = struct{}{}
			}
			i = j
		case '(':
			flush()
			depth++
			t.Tokens = append(t.Tokens, ir.Token{Kind: ir.OptionalBegin})
			i++
		case ')':
			if depth == 0 {
				errorAt(UnbalancedOptional, i, "")
				i++
				continue
			}
			flush()
			depth--
			t.Tokens = append(t.Tokens, ir.Token{Kind: ir.OptionalEnd})
			i++
		default:
			lit.WriteByte(b)
			i++
		}
	}
	flush()

	if depth != 0 {
		errorAt(UnbalancedOptional, len(pattern), "")
	}

	return t, errs
}

func isNameByte(b byte) bool {
	return (b >= 'a' && b <= 'z') || (b >= 'A' && b <= 'Z') || (b >= '0' && b <= '9') || b == '_'
}
