package handler

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nullEngine struct{}

func (nullEngine) ServeEnv(Env) (Response, bool, error) { return Response{}, false, nil }

func TestAdaptCallback(t *testing.T) {
	env := Env{"HTTP_HOST": "example.org"}
	supported := []any{
		func(env Env) (Response, error) { return Response{Body: env["HTTP_HOST"]}, nil },
		func(env Env) Response { return Response{Body: env["HTTP_HOST"]} },
		func() (Response, error) { return Response{Body: "example.org"}, nil },
		func() Response { return Response{Body: "example.org"} },
		Callback(func(env Env) (Response, error) { return Response{Body: env["HTTP_HOST"]}, nil }),
	}
	for i, fn := range supported {
		cb, err := AdaptCallback(fn)
		require.NoError(t, err, "case %v", i)
		resp, err := cb(env)
		require.NoError(t, err)
		assert.Equal(t, "example.org", resp.Body, "case %v", i)
	}
}

func TestAdaptCallbackErrors(t *testing.T) {
	_, err := AdaptCallback(42)
	assert.ErrorIs(t, err, ErrNotCallable)
	_, err = AdaptCallback(nil)
	assert.ErrorIs(t, err, ErrNotCallable)
	_, err = AdaptCallback(func(Env, Params) Response { return Response{} })
	assert.ErrorIs(t, err, ErrCallbackArity)
	_, err = AdaptCallback(func(...Env) Response { return Response{} })
	assert.ErrorIs(t, err, ErrCallbackArity)
	_, err = AdaptCallback(func(string) Response { return Response{} })
	assert.ErrorIs(t, err, ErrCallbackSignature)
}

func TestRegistry(t *testing.T) {
	reg := NewRegistry().
		Register("Blog-Posts", Actions{"index": nil}).
		Register("pages", Declared{Kind: DeclaredController}).
		Register("ping", func() Response { return Response{} }).
		Register("blog", nullEngine{}).
		Register("wiki", Declared{Kind: DeclaredEngine})

	h, ok := reg.Lookup("blog_posts")
	require.True(t, ok)
	assert.True(t, IsController(h))
	_, ok = reg.Lookup("BLOG-POSTS")
	assert.True(t, ok)
	_, ok = reg.Lookup("nope")
	assert.False(t, ok)

	assert.Equal(t, []string{"blog", "blog_posts", "pages", "ping", "wiki"}, reg.Names())
	assert.Equal(t, []string{"blog_posts", "pages"}, ControllerNames(reg))

	h, _ = reg.Lookup("blog")
	assert.True(t, IsEngine(h))
	h, _ = reg.Lookup("wiki")
	assert.True(t, IsEngine(h))
	assert.False(t, IsController(h))
	h, _ = reg.Lookup("ping")
	assert.False(t, IsEngine(h))
	assert.False(t, IsController(h))
}

func TestActions(t *testing.T) {
	a := Actions{
		"show":  func(Env, Params) (Response, error) { return Response{Body: "show"}, nil },
		"index": func(Env, Params) (Response, error) { return Response{Body: "index"}, nil },
	}
	assert.Equal(t, []string{"index", "show"}, a.ActionNames())

	act, ok := a.Action("show")
	require.True(t, ok)
	resp, err := act(nil, nil)
	require.NoError(t, err)
	assert.Equal(t, "show", resp.Body)

	_, ok = a.Action("edit")
	assert.False(t, ok)
}

func TestDeclaredKindString(t *testing.T) {
	assert.Equal(t, "controller", DeclaredController.String())
	assert.Equal(t, "callback", DeclaredCallback.String())
	assert.Equal(t, "engine", DeclaredEngine.String())
	assert.Equal(t, "unknown", DeclaredKind(9).String())
}
