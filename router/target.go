package router

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
)

// ErrNotImplemented is returned when a route dispatches to a destination
// that was only declared by name (see handler.Declared).
var ErrNotImplemented = errors.New("destination is declared but has no implementation")

type invokeFunc func(env handler.Env, params handler.Params) (resp handler.Response, matched bool, err error)

// acceptFunc reports, without running anything, whether the names in params
// resolve to a destination.
type acceptFunc func(params handler.Params) bool

// target is a leaf route with its destination resolved. accepts is nil when
// every request that meets the route's conditions resolves.
type target struct {
	route   *ir.Route
	filter  map[string]struct{}
	invoke  invokeFunc
	accepts acceptFunc
}

func newTarget(route *ir.Route, reg handler.Registry) (*target, error) {
	t := &target{route: route, filter: make(map[string]struct{}, len(route.CaptureFilter))}
	for _, c := range route.CaptureFilter {
		t.filter[c] = struct{}{}
	}

	var err error
	d := &route.Destination
	switch d.Kind {
	case ir.ControllerDestination:
		t.invoke, t.accepts, err = controllerInvoker(d, reg)
	case ir.CallbackDestination:
		t.invoke, err = callbackInvoker(d, reg)
	case ir.RedirectDestination:
		t.invoke = redirectInvoker(d)
	case ir.MountDestination:
		t.invoke, err = mountInvoker(d, reg)
	default:
		err = fmt.Errorf("unknown destination kind %v", d.Kind)
	}
	if err != nil {
		return nil, fmt.Errorf("route %q: %w", route.Pattern, err)
	}
	return t, nil
}

// params builds the parameter map: defaults first, then captures, keeping
// only names in the route's capture filter.
func (t *target) params(caps []capture) handler.Params {
	params := make(handler.Params, len(t.route.Defaults)+len(caps))
	for k, v := range t.route.Defaults {
		params[k] = v
	}
	for _, c := range caps {
		if _, ok := t.filter[c.name]; ok {
			params[c.name] = c.value
		}
	}
	return params
}

func notImplemented(handler.Env, handler.Params) (handler.Response, bool, error) {
	return handler.Response{}, false, ErrNotImplemented
}

func lookupController(reg handler.Registry, name string) (handler.Controller, bool, error) {
	h, ok := reg.Lookup(name)
	if !ok {
		return nil, false, fmt.Errorf("unknown controller %q", name)
	}
	if _, ok := h.(handler.Declared); ok {
		return nil, true, nil
	}
	c, ok := h.(handler.Controller)
	if !ok {
		return nil, false, fmt.Errorf("%q is not a controller", name)
	}
	return c, false, nil
}

func controllerInvoker(d *ir.Destination, reg handler.Registry) (invokeFunc, acceptFunc, error) {
	if d.Controller == "" {
		resolve := dynamicResolver(d, reg)
		invoke := func(env handler.Env, params handler.Params) (handler.Response, bool, error) {
			act, declared, ok := resolve(params)
			if !ok {
				return handler.Response{}, false, nil
			}
			if declared {
				return handler.Response{}, false, ErrNotImplemented
			}
			resp, err := act(env, params)
			return resp, true, err
		}
		accepts := func(params handler.Params) bool {
			_, _, ok := resolve(params)
			return ok
		}
		return invoke, accepts, nil
	}

	c, declared, err := lookupController(reg, d.Controller)
	if err != nil {
		return nil, nil, err
	}
	if declared {
		return notImplemented, nil, nil
	}

	if d.Action == "" {
		invoke := func(env handler.Env, params handler.Params) (handler.Response, bool, error) {
			act, ok := c.Action(actionName(params))
			if !ok {
				return handler.Response{}, false, nil
			}
			resp, err := act(env, params)
			return resp, true, err
		}
		accepts := func(params handler.Params) bool {
			_, ok := c.Action(actionName(params))
			return ok
		}
		return invoke, accepts, nil
	}

	act, ok := c.Action(d.Action)
	if !ok {
		return nil, nil, fmt.Errorf("controller %q has no action %q", d.Controller, d.Action)
	}
	return func(env handler.Env, params handler.Params) (handler.Response, bool, error) {
		resp, err := act(env, params)
		return resp, true, err
	}, nil, nil
}

// dynamicResolver resolves the controller (and perhaps the action) from the
// parameters. An unresolvable name means the route does not match, so
// dispatch carries on with later routes. declared is set for a controller
// that has no implementation; act is nil then.
func dynamicResolver(d *ir.Destination, reg handler.Registry) func(params handler.Params) (act handler.Action, declared bool, ok bool) {
	static := d.Action
	return func(params handler.Params) (handler.Action, bool, bool) {
		h, ok := reg.Lookup(params["controller"])
		if !ok {
			return nil, false, false
		}
		if _, ok := h.(handler.Declared); ok {
			return nil, true, true
		}
		c, ok := h.(handler.Controller)
		if !ok {
			return nil, false, false
		}
		name := static
		if name == "" {
			name = actionName(params)
		}
		act, ok := c.Action(name)
		if !ok {
			return nil, false, false
		}
		return act, false, true
	}
}

func actionName(params handler.Params) string {
	if a := params["action"]; a != "" {
		return a
	}
	return "index"
}

func callbackInvoker(d *ir.Destination, reg handler.Registry) (invokeFunc, error) {
	h, ok := reg.Lookup(d.Ref)
	if !ok {
		return nil, fmt.Errorf("unknown callback %q", d.Ref)
	}
	if _, ok := h.(handler.Declared); ok {
		return notImplemented, nil
	}
	cb, err := handler.AdaptCallback(h)
	if err != nil {
		return nil, fmt.Errorf("callback %q: %w", d.Ref, err)
	}
	return func(env handler.Env, _ handler.Params) (handler.Response, bool, error) {
		resp, err := cb(env)
		return resp, true, err
	}, nil
}

func redirectInvoker(d *ir.Destination) invokeFunc {
	segs := buildSegments(d.Target)
	status := d.Status
	if status == 0 {
		status = http.StatusMovedPermanently
	}
	return func(_ handler.Env, params handler.Params) (handler.Response, bool, error) {
		var out []byte
		out = appendSegments(out, segs, params, nil)
		return handler.Response{
			Status:  status,
			Headers: map[string]string{"Location": "/" + string(out)},
		}, true, nil
	}
}

// mountInvoker hands the request to an engine with PATH_INFO set to the
// "uri" parameter. If the engine does not match, neither does the route.
func mountInvoker(d *ir.Destination, reg handler.Registry) (invokeFunc, error) {
	h, ok := reg.Lookup(d.Ref)
	if !ok {
		return nil, fmt.Errorf("unknown engine %q", d.Ref)
	}
	if _, ok := h.(handler.Declared); ok {
		return notImplemented, nil
	}
	engine, ok := h.(handler.Engine)
	if !ok {
		return nil, fmt.Errorf("%q is not an engine", d.Ref)
	}
	return func(env handler.Env, params handler.Params) (handler.Response, bool, error) {
		sub := make(handler.Env, len(env)+1)
		for k, v := range env {
			sub[k] = v
		}
		sub[ir.EnvPath] = "/" + params["uri"]
		return engine.ServeEnv(sub)
	}, nil
}
