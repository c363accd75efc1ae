// Package ir holds the compiled form of a route set: the condition tree that
// the router walks when dispatching, and the reverse-routing entries it uses
// to build URLs. A Program is produced by the compiler package and consumed
// by the router package; it can be written out by one of the back ends in
// this package (JSON, Go source) and read back in.
package ir

import (
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// Version is bumped whenever the shape of a Program changes. Artifacts
// written with a different version are treated as stale.
const Version = 1

// Environment keys understood by the compiler. Anything else can be used
// with extra environment conditions.
const (
	EnvPath   = "PATH_INFO"
	EnvMethod = "REQUEST_METHOD"
)

type TokenKind int

const (
	Literal TokenKind = iota
	Capture
	Wildcard
	OptionalBegin
	OptionalEnd
)

var tokenKindNames = [...]string{
	Literal:       "literal",
	Capture:       "capture",
	Wildcard:      "wildcard",
	OptionalBegin: "(",
	OptionalEnd:   ")",
}

func (k TokenKind) String() string {
	if k < 0 || int(k) >= len(tokenKindNames) {
		return fmt.Sprintf("<TokenKind %d>", int(k))
	}
	return tokenKindNames[k]
}

func (k TokenKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *TokenKind) UnmarshalText(text []byte) error {
	for i, n := range tokenKindNames {
		if n == string(text) {
			*k = TokenKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown token kind %q", text)
}

// Token is one element of a tokenized route pattern. Text is the literal
// text for Literal tokens and the capture name for Capture and Wildcard
// tokens.
type Token struct {
	Kind TokenKind `json:"kind"`
	Text string    `json:"text,omitempty"`
}

// IsCapture reports whether the token binds a named value.
func (t Token) IsCapture() bool {
	return t.Kind == Capture || t.Kind == Wildcard
}

// Op is the test a Condition performs on an environment value.
type Op int

const (
	Equals Op = iota
	Matches
)

func (op Op) String() string {
	switch op {
	case Equals:
		return "=="
	case Matches:
		return "=~"
	}
	return fmt.Sprintf("<Op %d>", int(op))
}

func (op Op) MarshalText() ([]byte, error) {
	return []byte(op.String()), nil
}

func (op *Op) UnmarshalText(text []byte) error {
	switch string(text) {
	case "==":
		*op = Equals
	case "=~":
		*op = Matches
	default:
		return fmt.Errorf("unknown condition operator %q", text)
	}
	return nil
}

// Condition tests one environment value. For Matches conditions Value is an
// anchored regexp and Captures maps capture group i+1 to a parameter name.
type Condition struct {
	Key      string   `json:"key"`
	Op       Op       `json:"op"`
	Value    string   `json:"value"`
	Captures []string `json:"captures,omitempty"`
}

// String is the canonical form of the condition. Two conditions with the
// same canonical form are the same test, which is what lets routes share
// nodes in the condition tree.
func (c Condition) String() string {
	var sb strings.Builder
	sb.WriteString(c.Key)
	sb.WriteByte(' ')
	sb.WriteString(c.Op.String())
	sb.WriteByte(' ')
	sb.WriteString(strconv.Quote(c.Value))
	if len(c.Captures) > 0 {
		sb.WriteString(" -> ")
		sb.WriteString(strings.Join(c.Captures, ","))
	}
	return sb.String()
}

type DestinationKind int

const (
	ControllerDestination DestinationKind = iota
	CallbackDestination
	RedirectDestination
	MountDestination
)

var destinationKindNames = [...]string{
	ControllerDestination: "controller",
	CallbackDestination:   "callback",
	RedirectDestination:   "redirect",
	MountDestination:      "mount",
}

func (k DestinationKind) String() string {
	if k < 0 || int(k) >= len(destinationKindNames) {
		return fmt.Sprintf("<DestinationKind %d>", int(k))
	}
	return destinationKindNames[k]
}

func (k DestinationKind) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

func (k *DestinationKind) UnmarshalText(text []byte) error {
	for i, n := range destinationKindNames {
		if n == string(text) {
			*k = DestinationKind(i)
			return nil
		}
	}
	return fmt.Errorf("unknown destination kind %q", text)
}

// Destination says what to do once a route has matched. Controller and
// Action are empty when they are taken from the "controller" and "action"
// parameters at dispatch time. Ref names a callback or a mounted engine.
type Destination struct {
	Kind       DestinationKind `json:"kind"`
	Controller string          `json:"controller,omitempty"`
	Action     string          `json:"action,omitempty"`
	Ref        string          `json:"ref,omitempty"`
	Target     []Token         `json:"target,omitempty"`
	Status     int             `json:"status,omitempty"`
}

func (d Destination) String() string {
	switch d.Kind {
	case ControllerDestination:
		c, a := d.Controller, d.Action
		if c == "" {
			c = ":controller"
		}
		if a == "" {
			a = ":action"
		}
		return c + "#" + a
	case CallbackDestination:
		return "callback " + d.Ref
	case RedirectDestination:
		return fmt.Sprintf("redirect %d %s", d.Status, FormatTokens(d.Target))
	case MountDestination:
		return "mount " + d.Ref
	}
	return d.Kind.String()
}

// Route is a leaf of the condition tree.
type Route struct {
	Index         int               `json:"index"`
	Name          string            `json:"name,omitempty"`
	Pattern       string            `json:"pattern"`
	Methods       []string          `json:"methods,omitempty"`
	Destination   Destination       `json:"destination"`
	CaptureFilter []string          `json:"captureFilter,omitempty"`
	Defaults      map[string]string `json:"defaults,omitempty"`
	Source        string            `json:"source,omitempty"`
}

// Node is a node of the condition tree. The root has no condition. Leaf is
// tried after the first LeafPos children and before the rest, which keeps
// declaration order between a route and the routes that extend its
// conditions.
type Node struct {
	Condition *Condition `json:"condition,omitempty"`
	Children  []*Node    `json:"children,omitempty"`
	Leaf      *Route     `json:"leaf,omitempty"`
	LeafPos   int        `json:"leafPos,omitempty"`
}

// ReverseEntry is everything needed to turn a route name and parameters
// back into a URL.
type ReverseEntry struct {
	Name     string            `json:"name"`
	Tokens   []Token           `json:"tokens"`
	Required []string          `json:"required,omitempty"`
	Defaults map[string]string `json:"defaults,omitempty"`
}

// Program is a compiled route set.
type Program struct {
	Version     int            `json:"version"`
	Fingerprint string         `json:"fingerprint"`
	Root        *Node          `json:"root"`
	Reverse     []ReverseEntry `json:"reverse"`
}

// Walk calls f for every node of the tree, parents before children, with
// the conditions leading to the node.
func (p *Program) Walk(f func(n *Node, path []*Condition)) {
	var rec func(n *Node, path []*Condition)
	rec = func(n *Node, path []*Condition) {
		if n == nil {
			return
		}
		if n.Condition != nil {
			path = append(path, n.Condition)
		}
		f(n, path)
		for _, c := range n.Children {
			rec(c, path[:len(path):len(path)])
		}
	}
	rec(p.Root, nil)
}

// Routes returns every leaf route in declaration order.
func (p *Program) Routes() []*Route {
	var routes []*Route
	p.Walk(func(n *Node, _ []*Condition) {
		if n.Leaf != nil {
			routes = append(routes, n.Leaf)
		}
	})
	sort.Slice(routes, func(i, j int) bool { return routes[i].Index < routes[j].Index })
	return routes
}

// FormatTokens turns a token list back into pattern syntax.
func FormatTokens(tokens []Token) string {
	var sb strings.Builder
	for _, t := range tokens {
		switch t.Kind {
		case Literal:
			for i := 0; i < len(t.Text); i++ {
				switch c := t.Text[i]; c {
				case '\\', ':', '*', '(', ')':
					sb.WriteByte('\\')
					sb.WriteByte(c)
				default:
					sb.WriteByte(c)
				}
			}
		case Capture:
			sb.WriteByte(':')
			sb.WriteString(t.Text)
		case Wildcard:
			sb.WriteByte('*')
			sb.WriteString(t.Text)
		case OptionalBegin:
			sb.WriteByte('(')
		case OptionalEnd:
			sb.WriteByte(')')
		}
	}
	return sb.String()
}
