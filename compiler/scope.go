package compiler

import (
	"net/http"
	"strings"
)

// Routes is an ordered set of route definitions. Declaration order is
// significant: when two routes could both match a request, the one
// declared first wins.
type Routes struct {
	mappings []*Mapping
	errors   []CompileError
}

func NewRoutes() *Routes {
	return &Routes{}
}

// Root returns a scope with no prefix or defaults.
func (rs *Routes) Root() *Scope {
	return &Scope{routes: rs, template: &Mapping{}}
}

// Mappings returns the route definitions in declaration order.
func (rs *Routes) Mappings() []*Mapping {
	return rs.mappings
}

// Errors returns errors found while the routes were being declared (for
// example, an invalid redirect target). Compile reports them too.
func (rs *Routes) Errors() []CompileError {
	return rs.errors
}

func (rs *Routes) addError(e CompileError) {
	rs.errors = append(rs.errors, e)
}

// Scope holds a pattern prefix and a template mapping. Every mapping
// created through the scope starts as a copy of the template, so options
// set on a scope apply to everything declared in it afterwards.
type Scope struct {
	routes     *Routes
	prefix     string
	namePrefix string
	template   *Mapping
}

// Scope returns a child scope that starts with a copy of this scope's
// settings.
func (s *Scope) Scope() *Scope {
	return &Scope{
		routes:     s.routes,
		prefix:     s.prefix,
		namePrefix: s.namePrefix,
		template:   s.template.clone(),
	}
}

// Prefix appends a fragment to the scope's pattern prefix.
func (s *Scope) Prefix(fragment string) *Scope {
	s.prefix = joinPattern(s.prefix, fragment)
	return s
}

// Controller sets the controller used by mappings that do not name one.
func (s *Scope) Controller(name string) *Scope {
	d, _ := s.template.dest.(ControllerAction)
	d.Controller = name
	s.template.dest = d
	return s
}

func (s *Scope) Via(methods ...string) *Scope {
	s.template.Via(methods...)
	return s
}

func (s *Scope) Constraints(cs map[string]string) *Scope {
	s.template.Constraints(cs)
	return s
}

func (s *Scope) Defaults(ds map[string]string) *Scope {
	s.template.Defaults(ds)
	return s
}

func (s *Scope) Env(key, value string) *Scope {
	s.template.Env(key, value)
	return s
}

func (s *Scope) EnvMatch(key, re string) *Scope {
	s.template.EnvMatch(key, re)
	return s
}

// NamePrefix is prepended to the names of mappings declared in the scope.
func (s *Scope) NamePrefix(prefix string) *Scope {
	s.namePrefix += prefix
	return s
}

// Match declares a route for any method (unless the scope restricts
// methods). Constraints given here are merged over the scope's.
func (s *Scope) Match(fragment string, constraints ...map[string]string) *Mapping {
	m := s.template.clone()
	m.pattern = joinPattern(s.prefix, fragment)
	m.name = ""
	m.namePrefix = s.namePrefix
	for _, cs := range constraints {
		m.Constraints(cs)
	}
	s.routes.mappings = append(s.routes.mappings, m)
	return m
}

func (s *Scope) Get(fragment string, constraints ...map[string]string) *Mapping {
	return s.Match(fragment, constraints...).Via(http.MethodGet)
}

func (s *Scope) Post(fragment string, constraints ...map[string]string) *Mapping {
	return s.Match(fragment, constraints...).Via(http.MethodPost)
}

func (s *Scope) Put(fragment string, constraints ...map[string]string) *Mapping {
	return s.Match(fragment, constraints...).Via(http.MethodPut)
}

func (s *Scope) Patch(fragment string, constraints ...map[string]string) *Mapping {
	return s.Match(fragment, constraints...).Via(http.MethodPatch)
}

func (s *Scope) Delete(fragment string, constraints ...map[string]string) *Mapping {
	return s.Match(fragment, constraints...).Via(http.MethodDelete)
}

func (s *Scope) Head(fragment string, constraints ...map[string]string) *Mapping {
	return s.Match(fragment, constraints...).Via(http.MethodHead)
}

// Mount declares a route that hands everything under fragment to a
// registered engine.
func (s *Scope) Mount(fragment, engine string) *Mapping {
	return s.Match(joinPattern(fragment, "(/*uri)")).To(SubMount{Engine: engine})
}

// Redirect builds a redirect destination. The status defaults to 301.
// Targets with optional segments are rejected.
func (s *Scope) Redirect(pattern string, status ...int) RedirectTarget {
	rt := RedirectTarget{Pattern: normalizeSlashes(pattern), Status: http.StatusMovedPermanently, checked: true}
	if len(status) > 0 {
		rt.Status = status[0]
	}
	t, errs := Tokenize(rt.Pattern)
	for _, e := range errs {
		s.routes.addError(e)
	}
	if len(errs) == 0 && t.HasOptional() {
		s.routes.addError(CompileError{Kind: InvalidRedirectPattern, Pattern: rt.Pattern, Col: optionalCol(rt.Pattern)})
	}
	return rt
}

// Resources declares the seven conventional routes for a resource
// collection. Members are captured as "<name>_id" rather than "id" so that
// nested resources do not collide. The returned scope is nested under a
// single member, so that
//
//	root.Resources("posts", nil).Resources("comments", nil)
//
// declares comments routes under "posts/:posts_id/comments". The
// "controller" option overrides the controller (which otherwise is the
// resource name); other options become defaults.
func (s *Scope) Resources(name string, options map[string]string) *Scope {
	controller := name
	defaults := make(map[string]string)
	for k, v := range options {
		if k == "controller" {
			controller = v
			continue
		}
		defaults[k] = v
	}

	rs := s.Scope().Prefix(name)
	namePrefix := s.namePrefix + name + "."
	declare := func(m *Mapping, action string) {
		m.To(ControllerAction{Controller: controller, Action: action})
		if len(defaults) > 0 {
			m.Defaults(defaults)
		}
		m.name = namePrefix + action
	}

	member := ":" + name + "_id"
	declare(rs.Get(""), "index")
	declare(rs.Post(""), "create")
	declare(rs.Get("new"), "newform")
	declare(rs.Get(member), "show")
	declare(rs.Put(member), "update")
	declare(rs.Delete(member), "destroy")
	declare(rs.Get(member+"/edit"), "edit")

	nested := s.Scope().Prefix(name + "/" + member)
	nested.namePrefix = namePrefix
	return nested
}

// joinPattern joins a scope prefix and a pattern fragment with a single
// slash. A fragment that begins with an optional segment is appended
// directly so that "posts" + "(/:id)" stays "posts(/:id)".
func joinPattern(prefix, fragment string) string {
	var joined string
	switch {
	case prefix == "":
		joined = fragment
	case fragment == "":
		joined = prefix
	case fragment[0] == '(':
		joined = prefix + fragment
	default:
		joined = prefix + "/" + fragment
	}
	return normalizeSlashes(joined)
}

// normalizeSlashes collapses runs of slashes and removes leading and
// trailing ones. Patterns are relative to the mount point of the router.
func normalizeSlashes(p string) string {
	var sb strings.Builder
	sb.Grow(len(p))
	prevSlash := false
	for i := 0; i < len(p); i++ {
		c := p[i]
		if c == '/' {
			if prevSlash {
				continue
			}
			prevSlash = true
		} else {
			prevSlash = false
		}
		sb.WriteByte(c)
	}
	return strings.Trim(sb.String(), "/")
}

// optionalCol returns the offset of the first unescaped '(' in pattern.
func optionalCol(pattern string) int {
	for i := 0; i < len(pattern); i++ {
		switch pattern[i] {
		case '\\':
			i++
		case '(':
			return i
		}
	}
	return -1
}
