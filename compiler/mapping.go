package compiler

import (
	"fmt"
	"net/http"
	"sort"
	"strings"
)

// Destination is where a matched route sends the request. It is one of
// ControllerAction, Callback, RedirectTarget or SubMount.
type Destination interface {
	fmt.Stringer
	isDestination()
}

// ControllerAction sends the request to an action of a registered
// controller. An empty Controller means the "controller" capture chooses
// the controller at dispatch time; an empty Action means the "action"
// capture (or default) chooses the action, falling back to "index".
type ControllerAction struct {
	Controller string
	Action     string
}

// Callback sends the request to a registered callable.
type Callback struct {
	Ref string
}

// RedirectTarget answers with a redirect to another pattern, substituting
// captures from the matched route.
type RedirectTarget struct {
	Pattern string
	Status  int

	// set by Scope.Redirect, which has already reported syntax errors
	checked bool
}

// SubMount hands the request to a registered engine. The "uri" capture (or
// default) becomes the engine's PATH_INFO.
type SubMount struct {
	Engine string
}

func (ControllerAction) isDestination() {}
func (Callback) isDestination()         {}
func (RedirectTarget) isDestination()   {}
func (SubMount) isDestination()         {}

func (d ControllerAction) String() string { return d.Controller + "#" + d.Action }
func (d Callback) String() string         { return "callback " + d.Ref }
func (d RedirectTarget) String() string   { return fmt.Sprintf("redirect %d %s", d.Status, d.Pattern) }
func (d SubMount) String() string         { return "mount " + d.Engine }

// Dest parses the "controller#action" shorthand. Either half may be empty.
func Dest(spec string) ControllerAction {
	c, a, _ := strings.Cut(spec, "#")
	return ControllerAction{Controller: c, Action: a}
}

type envCondition struct {
	key   string
	value string
	regex bool
}

// Mapping is one route definition: a pattern, a destination and the
// options that refine them. Mappings are created through a Scope and are
// configured by chaining.
type Mapping struct {
	pattern     string
	dest        Destination
	methods     []string
	constraints map[string]string
	defaults    map[string]string
	env         []envCondition
	name        string
	namePrefix  string
	source      string
}

func (m *Mapping) clone() *Mapping {
	c := *m
	c.methods = append([]string(nil), m.methods...)
	c.env = append([]envCondition(nil), m.env...)
	c.constraints = copyStringMap(m.constraints)
	c.defaults = copyStringMap(m.defaults)
	return &c
}

// To sets the destination. A ControllerAction with no controller keeps the
// controller set on the enclosing scope, if any.
func (m *Mapping) To(d Destination) *Mapping {
	if ca, ok := d.(ControllerAction); ok && ca.Controller == "" {
		if prev, ok := m.dest.(ControllerAction); ok {
			ca.Controller = prev.Controller
			d = ca
		}
	}
	m.dest = d
	return m
}

// Via restricts the route to the given HTTP methods, replacing any
// methods set earlier.
func (m *Mapping) Via(methods ...string) *Mapping {
	m.methods = m.methods[:0]
	for _, meth := range methods {
		meth = strings.ToUpper(strings.TrimSpace(meth))
		if meth != "" && !containsString(m.methods, meth) {
			m.methods = append(m.methods, meth)
		}
	}
	sort.Strings(m.methods)
	return m
}

// Constraints sets regexp fragments for captures. Later calls add to and
// override earlier ones.
func (m *Mapping) Constraints(cs map[string]string) *Mapping {
	if m.constraints == nil {
		m.constraints = make(map[string]string, len(cs))
	}
	for k, v := range cs {
		m.constraints[k] = v
	}
	return m
}

// Defaults sets parameter values used when a capture is absent.
func (m *Mapping) Defaults(ds map[string]string) *Mapping {
	if m.defaults == nil {
		m.defaults = make(map[string]string, len(ds))
	}
	for k, v := range ds {
		m.defaults[k] = v
	}
	return m
}

// Env requires the environment value key to equal value.
func (m *Mapping) Env(key, value string) *Mapping {
	m.env = append(m.env, envCondition{key: key, value: value})
	return m
}

// EnvMatch requires the environment value key to match the regexp re in
// full.
func (m *Mapping) EnvMatch(key, re string) *Mapping {
	m.env = append(m.env, envCondition{key: key, value: re, regex: true})
	return m
}

// Action sets the action of a controller destination, keeping the
// controller chosen by the scope or an earlier To.
func (m *Mapping) Action(name string) *Mapping {
	ca, _ := m.dest.(ControllerAction)
	ca.Action = name
	m.dest = ca
	return m
}

// As names the route for reverse routing. The name prefix of the
// enclosing scope is prepended.
func (m *Mapping) As(name string) *Mapping {
	m.name = m.namePrefix + name
	return m
}

// At records where the mapping was defined. It is reported in errors.
func (m *Mapping) At(source string) *Mapping {
	m.source = source
	return m
}

func (m *Mapping) Pattern() string          { return m.pattern }
func (m *Mapping) Destination() Destination { return m.dest }
func (m *Mapping) Methods() []string        { return m.methods }
func (m *Mapping) Name() string             { return m.name }
func (m *Mapping) Source() string           { return m.source }

func (m *Mapping) String() string {
	var sb strings.Builder
	if len(m.methods) == 0 {
		sb.WriteString("ANY")
	} else {
		sb.WriteString(strings.Join(m.methods, ","))
	}
	sb.WriteByte(' ')
	sb.WriteString(m.pattern)
	if m.dest != nil {
		sb.WriteString(" -> ")
		sb.WriteString(m.dest.String())
	}
	if m.name != "" {
		sb.WriteString(" as ")
		sb.WriteString(m.name)
	}
	return sb.String()
}

var standardMethods = map[string]struct{}{
	http.MethodGet:     {},
	http.MethodHead:    {},
	http.MethodPost:    {},
	http.MethodPut:     {},
	http.MethodPatch:   {},
	http.MethodDelete:  {},
	http.MethodConnect: {},
	http.MethodOptions: {},
	http.MethodTrace:   {},
}

func copyStringMap(m map[string]string) map[string]string {
	if m == nil {
		return nil
	}
	c := make(map[string]string, len(m))
	for k, v := range m {
		c[k] = v
	}
	return c
}

func containsString(ss []string, s string) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}
	return false
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
