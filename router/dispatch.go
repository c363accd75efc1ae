package router

import (
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
)

// Result is the outcome of Dispatch: either Matched or NoMatch.
type Result interface {
	isResult()
}

// Matched is returned when a route matched and its destination ran.
type Matched struct {
	Route    *ir.Route
	Params   handler.Params
	Response handler.Response
}

// NoMatch is returned when no route accepted the request.
type NoMatch struct{}

func (Matched) isResult() {}
func (NoMatch) isResult() {}

// Match is a route that accepts a request, found without running its
// destination.
type Match struct {
	Route  *ir.Route
	Params handler.Params
}

type capture struct {
	name  string
	value string
}

// request is the environment as the conditions see it. PATH_INFO is
// relative: leading and trailing slashes are removed.
type request struct {
	env  handler.Env
	path string
}

func newRequest(env handler.Env) *request {
	return &request{env: env, path: strings.Trim(env[ir.EnvPath], "/")}
}

func (q *request) get(key string) string {
	if key == ir.EnvPath {
		return q.path
	}
	return q.env[key]
}

func (c *condition) test(q *request, caps []capture) ([]capture, bool) {
	v := q.get(c.key)
	if c.op == ir.Equals {
		return caps, v == c.value
	}

	idx := c.re.FindStringSubmatchIndex(v)
	if idx == nil {
		return caps, false
	}
	for i, name := range c.captures {
		start, end := idx[2*(i+1)], idx[2*(i+1)+1]
		if start < 0 {
			// optional segment that did not participate
			continue
		}
		caps = append(caps, capture{name: name, value: v[start:end]})
	}
	return caps, true
}

// visitFunc is called for each leaf whose conditions all hold, in
// declaration order. Returning true stops the walk.
type visitFunc func(t *target, caps []capture) (bool, error)

// walk evaluates n and then its children depth first. Captures appended by
// a failed branch are discarded simply by the caller keeping its own slice
// length.
func walk(n *node, q *request, caps []capture, visit visitFunc) (bool, error) {
	if n.cond != nil {
		var ok bool
		if caps, ok = n.cond.test(q, caps); !ok {
			return false, nil
		}
	}
	for i := 0; i <= len(n.children); i++ {
		if n.leaf != nil && i == n.leafPos {
			if done, err := visit(n.leaf, caps); done || err != nil {
				return done, err
			}
		}
		if i < len(n.children) {
			if done, err := walk(n.children[i], q, caps, visit); done || err != nil {
				return done, err
			}
		}
	}
	return false, nil
}

// Dispatch finds the first route, in declaration order, whose conditions
// hold and whose destination accepts the request, and returns its
// response. A dynamic controller or action that does not exist, or a
// mounted engine that does not match, counts as the route not matching.
func (r *Router) Dispatch(env handler.Env) (Result, error) {
	start := time.Now()
	q := newRequest(env)

	var result Result = NoMatch{}
	_, err := walk(r.root, q, make([]capture, 0, 8), func(t *target, caps []capture) (bool, error) {
		params := t.params(caps)
		resp, matched, err := t.invoke(env, params)
		if err != nil {
			result = Matched{Route: t.route, Params: params}
			return true, err
		}
		if !matched {
			return false, nil
		}
		result = Matched{Route: t.route, Params: params, Response: resp}
		return true, nil
	})

	r.observe(result, err, q, time.Since(start))

	if err != nil {
		return NoMatch{}, err
	}
	return result, nil
}

// Match finds the first route whose conditions hold and whose controller
// and action names resolve, without running any destination. Mounted
// engines are not consulted, so a mount route is reported as matching even
// if Dispatch would find that its engine declines the request.
func (r *Router) Match(env handler.Env) (Match, bool) {
	var m Match
	found, _ := walk(r.root, newRequest(env), make([]capture, 0, 8), func(t *target, caps []capture) (bool, error) {
		params := t.params(caps)
		if t.accepts != nil && !t.accepts(params) {
			return false, nil
		}
		m = Match{Route: t.route, Params: params}
		return true, nil
	})
	return m, found
}

// ServeEnv lets a router be mounted inside another router.
func (r *Router) ServeEnv(env handler.Env) (handler.Response, bool, error) {
	res, err := r.Dispatch(env)
	if err != nil {
		return handler.Response{}, false, err
	}
	if m, ok := res.(Matched); ok {
		return m.Response, true, nil
	}
	return handler.Response{}, false, nil
}

func (r *Router) observe(result Result, err error, q *request, elapsed time.Duration) {
	route := ""
	outcome := outcomeNoMatch
	if m, ok := result.(Matched); ok {
		route = routeLabel(m.Route)
		outcome = outcomeMatched
	}
	if err != nil {
		outcome = outcomeError
	}

	if r.metrics != nil {
		r.metrics.observe(route, outcome, elapsed)
	}

	switch outcome {
	case outcomeError:
		r.logger.Warn("destination failed",
			zap.String("route", route),
			zap.String("path", q.path),
			zap.Error(err),
		)
	case outcomeNoMatch:
		if ce := r.logger.Check(zap.DebugLevel, "no route matched"); ce != nil {
			ce.Write(
				zap.String("path", q.path),
				zap.String("method", q.get(ir.EnvMethod)),
			)
		}
	}
}

func routeLabel(route *ir.Route) string {
	if route.Name != "" {
		return route.Name
	}
	return route.Pattern
}
