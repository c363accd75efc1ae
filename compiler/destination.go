package compiler

import (
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
)

// CompiledRoute is a mapping after validation: the conditions it contributes
// to the condition tree and the leaf that goes at the end of them.
type CompiledRoute struct {
	Mapping    *Mapping
	Tokens     []ir.Token
	Required   []string
	Conditions []ir.Condition
	Route      ir.Route
}

// routeHandler carries one mapping through the three compile phases. Each
// phase returns the errors it found; later phases run only if earlier ones
// found none.
type routeHandler interface {
	prepare() []CompileError
	validate(reg handler.Registry) []CompileError
	compile() CompiledRoute
}

func newRouteHandler(m *Mapping) routeHandler {
	base := baseHandler{m: m}
	switch d := m.dest.(type) {
	case ControllerAction:
		return &controllerHandler{baseHandler: base, dest: d}
	case Callback:
		return &callbackHandler{baseHandler: base, dest: d}
	case RedirectTarget:
		return &redirectHandler{baseHandler: base, dest: d}
	case SubMount:
		return &mountHandler{baseHandler: base, dest: d}
	}
	return &missingHandler{baseHandler: base}
}

type baseHandler struct {
	m         *Mapping
	tok       Tokenized
	fragments map[string]string
	defaults  map[string]string
	extra     []ir.Condition
}

func (h *baseHandler) errorf(kind ErrorKind, name string, format string, args ...any) CompileError {
	e := CompileError{Kind: kind, Pattern: h.m.pattern, Col: -1, Name: name, Source: h.m.source}
	if format != "" {
		e.Detail = fmt.Sprintf(format, args...)
	}
	return e
}

func (h *baseHandler) prepare() []CompileError {
	var errs []CompileError
	h.tok, errs = Tokenize(h.m.pattern)
	for i := range errs {
		errs[i].Source = h.m.source
	}

	h.fragments = make(map[string]string, len(h.tok.Fragments))
	for k, v := range h.tok.Fragments {
		h.fragments[k] = v
	}
	// Scope-level constraints can name captures a particular pattern does
	// not have; those are ignored.
	for k, v := range h.m.constraints {
		if h.tok.HasCapture(k) {
			h.fragments[k] = v
		}
	}

	h.defaults = copyStringMap(h.m.defaults)
	if h.defaults == nil {
		h.defaults = make(map[string]string)
	}

	switch len(h.m.methods) {
	case 0:
	case 1:
		h.extra = append(h.extra, ir.Condition{Key: ir.EnvMethod, Op: ir.Equals, Value: h.m.methods[0]})
	default:
		quoted := make([]string, len(h.m.methods))
		for i, meth := range h.m.methods {
			quoted[i] = regexp.QuoteMeta(meth)
		}
		h.extra = append(h.extra, ir.Condition{Key: ir.EnvMethod, Op: ir.Matches, Value: "^(?:" + strings.Join(quoted, "|") + ")$"})
	}
	for _, ec := range h.m.env {
		if ec.regex {
			h.extra = append(h.extra, ir.Condition{Key: ec.key, Op: ir.Matches, Value: "^(?:" + ec.value + ")$"})
		} else {
			h.extra = append(h.extra, ir.Condition{Key: ec.key, Op: ir.Equals, Value: ec.value})
		}
	}

	return errs
}

func (h *baseHandler) validate(reg handler.Registry) []CompileError {
	var errs []CompileError
	for _, name := range sortedKeys(h.fragments) {
		frag := h.fragments[name]
		re, err := regexp.Compile("^(?:" + frag + ")$")
		if err != nil {
			errs = append(errs, h.errorf(InvalidConstraint, name, "%v", err))
			continue
		}
		if re.NumSubexp() > 0 {
			errs = append(errs, h.errorf(InvalidConstraint, name, "constraint %q contains a capture group; use (?:...) instead", frag))
		}
	}
	for _, c := range h.extra {
		if c.Op != ir.Matches || c.Key == ir.EnvMethod {
			continue
		}
		re, err := regexp.Compile(c.Value)
		if err != nil {
			errs = append(errs, h.errorf(InvalidConstraint, c.Key, "%v", err))
			continue
		}
		if re.NumSubexp() > 0 {
			errs = append(errs, h.errorf(InvalidConstraint, c.Key, "environment regexp %q contains a capture group", c.Value))
		}
	}
	return errs
}

func (h *baseHandler) fragmentFor(t ir.Token) string {
	if f, ok := h.fragments[t.Text]; ok {
		return f
	}
	if t.Kind == ir.Wildcard {
		return wildcardFragment
	}
	return defaultFragment
}

// pathRegexp builds the anchored regexp for the pattern and the table that
// maps capture group i+1 to a capture name.
func (h *baseHandler) pathRegexp() (string, []string) {
	var sb strings.Builder
	var table []string

	sb.WriteByte('^')
	for _, t := range h.tok.Tokens {
		switch t.Kind {
		case ir.Literal:
			sb.WriteString(regexp.QuoteMeta(t.Text))
		case ir.Capture, ir.Wildcard:
			sb.WriteByte('(')
			sb.WriteString(h.fragmentFor(t))
			sb.WriteByte(')')
			table = append(table, t.Text)
		case ir.OptionalBegin:
			sb.WriteString("(?:")
		case ir.OptionalEnd:
			sb.WriteString(")?")
		}
	}
	sb.WriteByte('$')

	return sb.String(), table
}

// compileWith assembles the compiled route around dest. The path condition
// always comes first, so that routes with the same pattern share a node.
// Extra conditions follow, equality tests before regexps and longer regexps
// before shorter ones.
func (h *baseHandler) compileWith(dest ir.Destination) CompiledRoute {
	re, table := h.pathRegexp()

	extra := append([]ir.Condition(nil), h.extra...)
	sort.SliceStable(extra, func(i, j int) bool {
		if extra[i].Op != extra[j].Op {
			return extra[i].Op == ir.Equals
		}
		if extra[i].Op == ir.Matches {
			return len(extra[i].Value) > len(extra[j].Value)
		}
		return false
	})

	conds := make([]ir.Condition, 0, 1+len(extra))
	conds = append(conds, ir.Condition{Key: ir.EnvPath, Op: ir.Matches, Value: re, Captures: table})
	conds = append(conds, extra...)

	filter := make([]string, 0, len(h.tok.Captures)+len(h.defaults))
	filter = append(filter, h.tok.Captures...)
	for k := range h.defaults {
		if !containsString(filter, k) {
			filter = append(filter, k)
		}
	}
	sort.Strings(filter)

	var defaults map[string]string
	if len(h.defaults) > 0 {
		defaults = h.defaults
	}

	return CompiledRoute{
		Mapping:    h.m,
		Tokens:     h.tok.Tokens,
		Required:   h.tok.RequiredCaptures(),
		Conditions: conds,
		Route: ir.Route{
			Name:          h.m.name,
			Pattern:       h.m.pattern,
			Methods:       h.m.methods,
			Destination:   dest,
			CaptureFilter: filter,
			Defaults:      defaults,
			Source:        h.m.source,
		},
	}
}

func (h *baseHandler) hasCaptureOrDefault(name string) bool {
	if h.tok.HasCapture(name) {
		return true
	}
	_, ok := h.defaults[name]
	return ok
}

type controllerHandler struct {
	baseHandler
	dest ControllerAction

	controller string
	action     string
}

func (h *controllerHandler) validate(reg handler.Registry) []CompileError {
	errs := h.baseHandler.validate(reg)

	switch {
	case h.dest.Controller != "":
		h.controller = h.dest.Controller
	case h.tok.HasCapture("controller"):
		names := handler.ControllerNames(reg)
		if len(names) == 0 {
			errs = append(errs, h.errorf(UnknownDestination, "controller", "pattern captures a controller but no controllers are registered"))
			break
		}
		quoted := make([]string, len(names))
		for i, n := range names {
			quoted[i] = regexp.QuoteMeta(n)
		}
		h.fragments["controller"] = strings.Join(quoted, "|")
	case h.defaults["controller"] != "":
		h.controller = h.defaults["controller"]
	default:
		errs = append(errs, h.errorf(MissingCapture, "controller", "route names no controller"))
	}

	var ctrl handler.Handle
	if h.controller != "" {
		h.controller = handler.Canonical(h.controller)
		hd, ok := reg.Lookup(h.controller)
		if !ok || !handler.IsController(hd) {
			errs = append(errs, h.errorf(UnknownDestination, h.controller, ""))
		} else {
			ctrl = hd
		}
	}

	switch {
	case h.dest.Action != "":
		h.action = h.dest.Action
	case h.tok.HasCapture("action"):
	case h.defaults["action"] != "":
		h.action = h.defaults["action"]
	default:
		h.action = "index"
	}

	if c, ok := ctrl.(handler.Controller); ok && h.action != "" {
		if _, ok := c.Action(h.action); !ok {
			errs = append(errs, h.errorf(UnknownDestination, h.controller+"#"+h.action, "controller has no action %q", h.action))
		}
	}

	return errs
}

func (h *controllerHandler) compile() CompiledRoute {
	return h.compileWith(ir.Destination{
		Kind:       ir.ControllerDestination,
		Controller: h.controller,
		Action:     h.action,
	})
}

type callbackHandler struct {
	baseHandler
	dest Callback
}

func (h *callbackHandler) validate(reg handler.Registry) []CompileError {
	errs := h.baseHandler.validate(reg)

	hd, ok := reg.Lookup(h.dest.Ref)
	if !ok {
		return append(errs, h.errorf(UnknownDestination, h.dest.Ref, ""))
	}
	if d, ok := hd.(handler.Declared); ok {
		if d.Kind != handler.DeclaredCallback {
			errs = append(errs, h.errorf(InvalidCallback, h.dest.Ref, "declared as a %v", d.Kind))
		}
		return errs
	}
	if _, err := handler.AdaptCallback(hd); err != nil {
		kind := InvalidCallback
		if errors.Is(err, handler.ErrCallbackArity) {
			kind = InvalidCallbackArity
		}
		errs = append(errs, h.errorf(kind, h.dest.Ref, "%v", err))
	}
	return errs
}

func (h *callbackHandler) compile() CompiledRoute {
	return h.compileWith(ir.Destination{Kind: ir.CallbackDestination, Ref: h.dest.Ref})
}

type redirectHandler struct {
	baseHandler
	dest   RedirectTarget
	target Tokenized
}

func (h *redirectHandler) validate(reg handler.Registry) []CompileError {
	errs := h.baseHandler.validate(reg)

	target, terrs := Tokenize(h.dest.Pattern)
	if len(terrs) > 0 || target.HasOptional() {
		if !h.dest.checked {
			errs = append(errs, h.errorf(InvalidRedirectPattern, "", "target %q", h.dest.Pattern))
		}
		return errs
	}
	if h.dest.Status < 300 || h.dest.Status > 399 {
		errs = append(errs, h.errorf(InvalidRedirectPattern, "", "status %v is not a redirect", h.dest.Status))
	}
	for _, c := range target.Captures {
		_, required := h.tok.Required[c]
		_, hasDefault := h.defaults[c]
		if !required && !hasDefault {
			errs = append(errs, h.errorf(MissingCapture, c, "needed by redirect target %q", h.dest.Pattern))
		}
	}
	h.target = target
	return errs
}

func (h *redirectHandler) compile() CompiledRoute {
	return h.compileWith(ir.Destination{Kind: ir.RedirectDestination, Target: h.target.Tokens, Status: h.dest.Status})
}

type mountHandler struct {
	baseHandler
	dest SubMount
}

func (h *mountHandler) validate(reg handler.Registry) []CompileError {
	errs := h.baseHandler.validate(reg)

	hd, ok := reg.Lookup(h.dest.Engine)
	switch {
	case !ok:
		errs = append(errs, h.errorf(UnknownDestination, h.dest.Engine, ""))
	case !handler.IsEngine(hd):
		errs = append(errs, h.errorf(InvalidMount, h.dest.Engine, "not an engine"))
	}

	if !h.hasCaptureOrDefault("uri") {
		errs = append(errs, h.errorf(MissingCapture, "uri", "mounted engines receive the \"uri\" parameter as their path"))
	} else if h.tok.HasCapture("uri") {
		last := -1
		for i := len(h.tok.Tokens) - 1; i >= 0; i-- {
			if h.tok.Tokens[i].Kind != ir.OptionalEnd {
				last = i
				break
			}
		}
		if last < 0 || !h.tok.Tokens[last].IsCapture() || h.tok.Tokens[last].Text != "uri" {
			errs = append(errs, h.errorf(InvalidMount, h.dest.Engine, "the \"uri\" capture must end the pattern"))
		}
	}

	return errs
}

func (h *mountHandler) compile() CompiledRoute {
	return h.compileWith(ir.Destination{Kind: ir.MountDestination, Ref: h.dest.Engine})
}

type missingHandler struct {
	baseHandler
}

func (h *missingHandler) validate(reg handler.Registry) []CompileError {
	return append(h.baseHandler.validate(reg), h.errorf(MissingDestination, "", ""))
}

func (h *missingHandler) compile() CompiledRoute {
	panic("compile called on a route with no destination")
}
