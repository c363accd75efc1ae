// Package compiler turns a set of route definitions into an ir.Program.
//
// Routes are declared through a Scope (or loaded from a route file), each
// mapping is validated against a handler.Registry, and the resulting
// conditions are merged into a single condition tree together with a
// reverse-routing table. Compilation either succeeds completely or returns
// every error it found.
package compiler

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
)

type options struct {
	logger *zap.Logger
}

type Option func(*options)

// WithLogger sets the logger used for compile statistics and warnings.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		o.logger = l
	}
}

// Compile validates and compiles routes. On failure the program is nil and
// the errors are sorted by source location.
func Compile(routes *Routes, reg handler.Registry, opts ...Option) (*ir.Program, []CompileError) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	start := time.Now()

	errs := append([]CompileError(nil), routes.errors...)

	compiled := make([]*CompiledRoute, 0, len(routes.mappings))
	for _, m := range routes.mappings {
		h := newRouteHandler(m)
		if es := h.prepare(); len(es) > 0 {
			errs = append(errs, es...)
			continue
		}
		if es := h.validate(reg); len(es) > 0 {
			errs = append(errs, es...)
			continue
		}
		cr := h.compile()
		cr.Route.Index = len(compiled)
		compiled = append(compiled, &cr)
	}

	tree, treeErrs := buildConditionTree(compiled)
	errs = append(errs, treeErrs...)
	reverse, revErrs := reverseEntries(compiled)
	errs = append(errs, revErrs...)

	if len(errs) > 0 {
		sortCompileErrors(errs)
		o.logger.Debug("route compilation failed", zap.Int("errors", len(errs)))
		return nil, errs
	}

	nodes, unshared := tree.treeStats()
	o.logger.Debug("compiled routes",
		zap.Int("routes", len(compiled)),
		zap.Int("named", len(reverse)),
		zap.Int("nodes", nodes),
		zap.Int("unsharedConditions", unshared),
		zap.Duration("elapsed", time.Since(start)),
	)

	return &ir.Program{
		Version:     ir.Version,
		Fingerprint: Fingerprint(routes, reg),
		Root:        tree.lower(),
		Reverse:     reverse,
	}, nil
}

// MustCompile is like Compile but panics if the routes do not compile.
func MustCompile(routes *Routes, reg handler.Registry, opts ...Option) *ir.Program {
	p, errs := Compile(routes, reg, opts...)
	if len(errs) > 0 {
		panic(Errors(errs).Error())
	}
	return p
}

// Fingerprint identifies a route set. Anything that can change the
// compiled program contributes to it: the mappings in order and the names
// of the registered controllers (which dynamic controller captures are
// narrowed to).
func Fingerprint(routes *Routes, reg handler.Registry) string {
	h := sha256.New()
	fmt.Fprintf(h, "trellis %d\n", ir.Version)
	for _, m := range routes.mappings {
		writeMappingFingerprint(h, m)
	}
	fmt.Fprintf(h, "controllers %s\n", strings.Join(handler.ControllerNames(reg), ","))
	return hex.EncodeToString(h.Sum(nil))
}

func writeMappingFingerprint(w io.Writer, m *Mapping) {
	fmt.Fprintf(w, "route %q %q", m.pattern, m.name)
	if m.dest != nil {
		fmt.Fprintf(w, " %T %q", m.dest, m.dest.String())
	}
	fmt.Fprintf(w, " methods=%q", m.methods)
	for _, k := range sortedKeys(m.constraints) {
		fmt.Fprintf(w, " c:%q=%q", k, m.constraints[k])
	}
	for _, k := range sortedKeys(m.defaults) {
		fmt.Fprintf(w, " d:%q=%q", k, m.defaults[k])
	}
	for _, e := range m.env {
		fmt.Fprintf(w, " e:%q=%q/%v", e.key, e.value, e.regex)
	}
	fmt.Fprintf(w, " @%q\n", m.source)
}
