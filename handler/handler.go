// Package handler defines the contracts between compiled routes and the code
// they dispatch to: the request environment, extracted parameters, the
// response a destination produces, and the registry the compiler and the
// router use to resolve destination names.
package handler

import "sort"

// Env is the request environment, keyed the CGI way (PATH_INFO,
// REQUEST_METHOD, HTTP_HOST, ...).
type Env map[string]string

// Params are the values bound by a matched route: captures plus the route's
// default options.
type Params map[string]string

// Response is what a destination produces.
type Response struct {
	Status  int
	Headers map[string]string
	Body    string
}

// Action handles one controller action.
type Action func(env Env, params Params) (Response, error)

// Controller resolves action names to actions.
type Controller interface {
	Action(name string) (Action, bool)
}

// Actions is a Controller backed by a map.
type Actions map[string]Action

func (a Actions) Action(name string) (Action, bool) {
	act, ok := a[name]
	return act, ok
}

// ActionNames returns the sorted action names.
func (a Actions) ActionNames() []string {
	names := make([]string, 0, len(a))
	for n := range a {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Engine is a nested router that a route can mount. PATH_INFO in env is the
// remainder of the path below the mount point.
type Engine interface {
	ServeEnv(env Env) (resp Response, matched bool, err error)
}
