package router

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strings"

	"github.com/addrummond/trellis/ir"
)

// ReverseResult is the outcome of Reverse: URL, MissingParams or
// UnknownName.
type ReverseResult interface {
	isReverseResult()
}

// URL is a generated path, relative to the router's mount point.
type URL struct {
	Value string
}

// MissingParams lists, sorted, the required captures that were not given.
type MissingParams struct {
	Names []string
}

// UnknownName is returned for a name no route has.
type UnknownName struct {
	Name string
}

func (URL) isReverseResult()           {}
func (MissingParams) isReverseResult() {}
func (UnknownName) isReverseResult()   {}

var ErrUnknownName = errors.New("unknown route name")

type MissingParamsError struct {
	Route string
	Names []string
}

func (e *MissingParamsError) Error() string {
	return fmt.Sprintf("route %q needs parameters %v", e.Route, strings.Join(e.Names, ", "))
}

// segment is a token, or an optional group of them.
type segment struct {
	kind ir.TokenKind
	text string
	// for OptionalBegin: the group's contents and the captures directly
	// inside it (not inside a nested group)
	children []segment
	direct   []string
}

type reverseEntry struct {
	name     string
	segments []segment
	required []string
	defaults map[string]string
	captures map[string]struct{}
}

func newReverseEntry(e *ir.ReverseEntry) *reverseEntry {
	re := &reverseEntry{
		name:     e.Name,
		segments: buildSegments(e.Tokens),
		required: e.Required,
		defaults: e.Defaults,
		captures: make(map[string]struct{}),
	}
	for _, t := range e.Tokens {
		if t.IsCapture() {
			re.captures[t.Text] = struct{}{}
		}
	}
	return re
}

func buildSegments(tokens []ir.Token) []segment {
	segs, _ := buildGroup(tokens, 0)
	return segs
}

func buildGroup(tokens []ir.Token, i int) ([]segment, int) {
	var segs []segment
	for i < len(tokens) {
		t := tokens[i]
		switch t.Kind {
		case ir.OptionalEnd:
			return segs, i + 1
		case ir.OptionalBegin:
			var children []segment
			children, i = buildGroup(tokens, i+1)
			g := segment{kind: ir.OptionalBegin, children: children}
			for _, c := range children {
				if c.kind == ir.Capture || c.kind == ir.Wildcard {
					g.direct = append(g.direct, c.text)
				}
			}
			segs = append(segs, g)
		default:
			segs = append(segs, segment{kind: t.Kind, text: t.Text})
			i++
		}
	}
	return segs, i
}

// appendSegments writes the path. An optional group is written only if
// every capture directly inside it has a value. Names of the captures
// written are added to used, if it is not nil.
func appendSegments(out []byte, segs []segment, params map[string]string, used map[string]struct{}) []byte {
	for _, s := range segs {
		switch s.kind {
		case ir.Literal:
			out = append(out, s.text...)
		case ir.Capture:
			out = append(out, url.PathEscape(params[s.text])...)
			if used != nil {
				used[s.text] = struct{}{}
			}
		case ir.Wildcard:
			for i, part := range strings.Split(params[s.text], "/") {
				if i != 0 {
					out = append(out, '/')
				}
				out = append(out, url.PathEscape(part)...)
			}
			if used != nil {
				used[s.text] = struct{}{}
			}
		case ir.OptionalBegin:
			complete := true
			for _, name := range s.direct {
				if params[name] == "" {
					complete = false
					break
				}
			}
			if complete {
				out = appendSegments(out, s.children, params, used)
			}
		}
	}
	return out
}

// Reverse builds the URL for the named route. Parameters that the pattern
// does not use, and that are not just the route's own default values, are
// appended as a query string.
func (r *Router) Reverse(name string, params map[string]string) ReverseResult {
	e, ok := r.reverse[name]
	if !ok {
		return UnknownName{Name: name}
	}

	var missing []string
	for _, req := range e.required {
		if params[req] == "" {
			missing = append(missing, req)
		}
	}
	if len(missing) > 0 {
		return MissingParams{Names: missing}
	}

	used := make(map[string]struct{}, len(params))
	out := appendSegments(make([]byte, 0, 64), e.segments, params, used)

	var query url.Values
	for k, v := range params {
		if _, ok := used[k]; ok {
			continue
		}
		if _, ok := e.captures[k]; ok && v == "" {
			continue
		}
		if d, ok := e.defaults[k]; ok && d == v {
			continue
		}
		if query == nil {
			query = make(url.Values)
		}
		query.Set(k, v)
	}
	if len(query) > 0 {
		out = append(out, '?')
		out = append(out, query.Encode()...)
	}

	return URL{Value: string(out)}
}

// URL is Reverse with the result as a string and an error.
func (r *Router) URL(name string, params map[string]string) (string, error) {
	switch res := r.Reverse(name, params).(type) {
	case URL:
		return res.Value, nil
	case MissingParams:
		return "", &MissingParamsError{Route: name, Names: res.Names}
	case UnknownName:
		return "", fmt.Errorf("%w: %q", ErrUnknownName, res.Name)
	}
	panic("unreachable")
}

// Names returns the names of all named routes, sorted.
func (r *Router) Names() []string {
	names := make([]string, 0, len(r.reverse))
	for n := range r.reverse {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
