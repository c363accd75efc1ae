package handler

import (
	"errors"
	"reflect"
)

var (
	ErrNotCallable       = errors.New("callback is not a function")
	ErrCallbackArity     = errors.New("callback must take at most one parameter (the environment)")
	ErrCallbackSignature = errors.New("callback must take an Env and return a Response, optionally with an error")
)

// Callback is the uniform shape every supported callback signature is
// adapted to.
type Callback func(env Env) (Response, error)

// AdaptCallback converts fn to a Callback. Supported signatures are
//
//	func(Env) (Response, error)
//	func(Env) Response
//	func() (Response, error)
//	func() Response
func AdaptCallback(fn any) (Callback, error) {
	switch f := fn.(type) {
	case Callback:
		return f, nil
	case func(Env) (Response, error):
		return f, nil
	case func(Env) Response:
		return func(env Env) (Response, error) { return f(env), nil }, nil
	case func() (Response, error):
		return func(Env) (Response, error) { return f() }, nil
	case func() Response:
		return func(Env) (Response, error) { return f(), nil }, nil
	}

	t := reflect.TypeOf(fn)
	if t == nil || t.Kind() != reflect.Func {
		return nil, ErrNotCallable
	}
	if t.NumIn() > 1 || t.IsVariadic() {
		return nil, ErrCallbackArity
	}
	return nil, ErrCallbackSignature
}
