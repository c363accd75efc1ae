// Package router dispatches requests through a compiled ir.Program and
// builds URLs from route names.
//
// A Router is immutable once built and safe for concurrent use. Each call to
// Dispatch gets its own parameter map and never modifies the caller's
// environment.
package router

import (
	"errors"
	"fmt"
	"regexp"

	"go.uber.org/zap"

	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
)

type Router struct {
	root        *node
	reverse     map[string]*reverseEntry
	routes      []*ir.Route
	fingerprint string
	logger      *zap.Logger
	metrics     *Metrics
}

type node struct {
	cond     *condition
	children []*node
	leaf     *target
	leafPos  int
}

type condition struct {
	key      string
	op       ir.Op
	value    string
	re       *regexp.Regexp
	captures []string
}

type Option func(*Router)

// WithLogger sets the logger. Unmatched requests are logged at debug level.
func WithLogger(l *zap.Logger) Option {
	return func(r *Router) {
		r.logger = l
	}
}

// WithMetrics records dispatch counts and latencies.
func WithMetrics(m *Metrics) Option {
	return func(r *Router) {
		r.metrics = m
	}
}

// New builds a router for prog, resolving destinations in reg. Every
// condition regexp is compiled and every static destination is looked up
// up front; all problems are reported together.
func New(prog *ir.Program, reg handler.Registry, opts ...Option) (*Router, error) {
	if prog.Version != ir.Version {
		return nil, fmt.Errorf("%w (got %v, want %v)", ir.ErrVersionMismatch, prog.Version, ir.Version)
	}

	r := &Router{
		reverse:     make(map[string]*reverseEntry, len(prog.Reverse)),
		fingerprint: prog.Fingerprint,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(r)
	}

	var errs []error
	root := prog.Root
	if root == nil {
		root = &ir.Node{}
	}
	r.root = r.buildNode(root, reg, &errs)

	for i := range prog.Reverse {
		e := &prog.Reverse[i]
		r.reverse[e.Name] = newReverseEntry(e)
	}
	r.routes = prog.Routes()

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}
	return r, nil
}

// MakeRouter constructs a Router from the JSON written by ir.EncodeJSON.
func MakeRouter(jsonInput []byte, reg handler.Registry, opts ...Option) (*Router, error) {
	prog, err := ir.DecodeJSON(jsonInput)
	if err != nil {
		return nil, err
	}
	return New(prog, reg, opts...)
}

func (r *Router) buildNode(in *ir.Node, reg handler.Registry, errs *[]error) *node {
	n := &node{leafPos: in.LeafPos}
	if c := in.Condition; c != nil {
		n.cond = &condition{key: c.Key, op: c.Op, value: c.Value, captures: c.Captures}
		if c.Op == ir.Matches {
			re, err := regexp.Compile(c.Value)
			if err != nil {
				*errs = append(*errs, fmt.Errorf("condition %v: %w", c, err))
			} else if re.NumSubexp() != len(c.Captures) {
				*errs = append(*errs, fmt.Errorf("condition %v: regexp has %v groups for %v captures", c, re.NumSubexp(), len(c.Captures)))
			}
			n.cond.re = re
		}
	}
	if in.Leaf != nil {
		t, err := newTarget(in.Leaf, reg)
		if err != nil {
			*errs = append(*errs, err)
		}
		n.leaf = t
	}
	n.children = make([]*node, len(in.Children))
	for i, c := range in.Children {
		n.children[i] = r.buildNode(c, reg, errs)
	}
	return n
}

// Routes returns the routes in declaration order.
func (r *Router) Routes() []*ir.Route {
	return r.routes
}

// Fingerprint identifies the route set the router was built from.
func (r *Router) Fingerprint() string {
	return r.fingerprint
}
