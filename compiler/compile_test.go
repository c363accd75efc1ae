package compiler

import (
	"sort"
	"strings"
	"testing"

	"github.com/davecgh/go-spew/spew"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
)

func okAction(handler.Env, handler.Params) (handler.Response, error) {
	return handler.Response{Status: 200}, nil
}

func crud() handler.Actions {
	return handler.Actions{
		"index": okAction, "newform": okAction, "create": okAction, "show": okAction,
		"edit": okAction, "update": okAction, "destroy": okAction,
	}
}

type nullEngine struct{}

func (nullEngine) ServeEnv(handler.Env) (handler.Response, bool, error) {
	return handler.Response{}, false, nil
}

func testRegistry() handler.MapRegistry {
	return handler.NewRegistry().
		Register("posts", crud()).
		Register("comments", crud()).
		Register("ping", func() handler.Response { return handler.Response{Status: 200, Body: "pong"} }).
		Register("two_args", func(handler.Env, handler.Params) handler.Response { return handler.Response{} }).
		Register("not_a_func", 42).
		Register("blog", nullEngine{})
}

func compileOK(t *testing.T, routes *Routes) *ir.Program {
	t.Helper()
	prog, errs := Compile(routes, testRegistry())
	require.Empty(t, errs, "unexpected compile errors:\n%v", Errors(errs))
	require.NotNil(t, prog)
	return prog
}

func compileErrs(t *testing.T, routes *Routes) Errors {
	t.Helper()
	prog, errs := Compile(routes, testRegistry())
	require.NotEmpty(t, errs)
	assert.Nil(t, prog)
	return Errors(errs)
}

func pathCondition(t *testing.T, prog *ir.Program, pattern string) *ir.Condition {
	t.Helper()
	var found *ir.Condition
	prog.Walk(func(n *ir.Node, path []*ir.Condition) {
		if n.Leaf != nil && n.Leaf.Pattern == pattern && found == nil {
			found = path[0]
		}
	})
	require.NotNil(t, found, "no route with pattern %q", pattern)
	return found
}

func TestCompileOptionalRegexp(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("posts(/:id)").To(Dest("posts#show")).As("post")
	prog := compileOK(t, rs)

	c := pathCondition(t, prog, "posts(/:id)")
	assert.Equal(t, ir.EnvPath, c.Key)
	assert.Equal(t, ir.Matches, c.Op)
	assert.Equal(t, `^posts(?:/(\w+))?$`, c.Value)
	assert.Equal(t, []string{"id"}, c.Captures)
}

func TestCompileLiteralsAreQuoted(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("feed.rss").To(Dest("posts#index"))
	rs.Root().Get(`a+b/\(x\)`).To(Dest("posts#index"))
	prog := compileOK(t, rs)

	assert.Equal(t, `^feed\.rss$`, pathCondition(t, prog, "feed.rss").Value)
	assert.Equal(t, `^a\+b/\(x\)$`, pathCondition(t, prog, `a+b/\(x\)`).Value)
}

func TestCompileWildcardAndConstraints(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("files/*path").To(Dest("posts#show"))
	rs.Root().Get("posts/:id").To(Dest("posts#show")).Constraints(map[string]string{"id": `\d+`})
	prog := compileOK(t, rs)

	assert.Equal(t, `^files/(.*?)$`, pathCondition(t, prog, "files/*path").Value)
	assert.Equal(t, `^posts/(\d+)$`, pathCondition(t, prog, "posts/:id").Value)
}

func TestCompileMethodConditions(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("a").To(Dest("posts#index"))
	rs.Root().Match("b").Via("post", "GET", "get").To(Dest("posts#index"))
	rs.Root().Match("c").To(Dest("posts#index"))
	prog := compileOK(t, rs)

	conds := make(map[string][]string)
	prog.Walk(func(n *ir.Node, path []*ir.Condition) {
		if n.Leaf != nil {
			var ss []string
			for _, c := range path {
				ss = append(ss, c.String())
			}
			conds[n.Leaf.Pattern] = ss
		}
	})

	assert.Equal(t, []string{`PATH_INFO =~ "^a$"`, `REQUEST_METHOD == "GET"`}, conds["a"])
	assert.Equal(t, []string{`PATH_INFO =~ "^b$"`, `REQUEST_METHOD =~ "^(?:GET|POST)$"`}, conds["b"])
	assert.Equal(t, []string{`PATH_INFO =~ "^c$"`}, conds["c"])
}

func TestCompileSharesConditions(t *testing.T) {
	rs := NewRoutes()
	root := rs.Root()
	root.Get("posts/:id").To(Dest("posts#show"))
	root.Put("posts/:id").To(Dest("posts#update"))
	root.Delete("posts/:id").To(Dest("posts#destroy"))
	prog := compileOK(t, rs)

	require.Len(t, prog.Root.Children, 1)
	shared := prog.Root.Children[0]
	assert.Equal(t, `^posts/(\w+)$`, shared.Condition.Value)
	require.Len(t, shared.Children, 3)
	var actions []string
	for _, c := range shared.Children {
		require.NotNil(t, c.Leaf)
		actions = append(actions, c.Leaf.Destination.Action)
	}
	assert.Equal(t, []string{"show", "update", "destroy"}, actions)
}

func TestCompileLeafPosition(t *testing.T) {
	rs := NewRoutes()
	root := rs.Root()
	root.Get("x").To(Dest("posts#index"))
	root.Match("x").To(Dest("posts#show"))
	root.Post("x").To(Dest("posts#create"))
	prog := compileOK(t, rs)

	require.Len(t, prog.Root.Children, 1)
	x := prog.Root.Children[0]
	require.NotNil(t, x.Leaf)
	assert.Equal(t, "show", x.Leaf.Destination.Action)
	assert.Equal(t, 1, x.LeafPos)
	require.Len(t, x.Children, 2)
}

func TestCompileConflictingRoutes(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("x").To(Dest("posts#index")).At("routes.yaml:1")
	rs.Root().Get("x").To(Dest("posts#show")).At("routes.yaml:2")
	errs := compileErrs(t, rs)

	require.Len(t, errs, 1)
	assert.Equal(t, ConflictingRoutes, errs[0].Kind)
	assert.Equal(t, "routes.yaml:2", errs[0].Source)
	assert.Equal(t, "routes.yaml:1", errs[0].OtherSource)
	assert.Contains(t, errs[0].Error(), "identical conditions")
}

func TestCompileDifferentMethodsDoNotConflict(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("x").To(Dest("posts#index"))
	rs.Root().Post("x").To(Dest("posts#create"))
	compileOK(t, rs)
}

func TestCompileResources(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Resources("posts", nil).Resources("comments", nil)
	prog := compileOK(t, rs)

	var got []string
	for _, r := range prog.Routes() {
		got = append(got, strings.Join(r.Methods, ",")+" "+r.Pattern+" "+r.Destination.String()+" "+r.Name)
	}
	assert.Equal(t, []string{
		"GET posts posts#index posts.index",
		"POST posts posts#create posts.create",
		"GET posts/new posts#newform posts.newform",
		"GET posts/:posts_id posts#show posts.show",
		"PUT posts/:posts_id posts#update posts.update",
		"DELETE posts/:posts_id posts#destroy posts.destroy",
		"GET posts/:posts_id/edit posts#edit posts.edit",
		"GET posts/:posts_id/comments comments#index posts.comments.index",
		"POST posts/:posts_id/comments comments#create posts.comments.create",
		"GET posts/:posts_id/comments/new comments#newform posts.comments.newform",
		"GET posts/:posts_id/comments/:comments_id comments#show posts.comments.show",
		"PUT posts/:posts_id/comments/:comments_id comments#update posts.comments.update",
		"DELETE posts/:posts_id/comments/:comments_id comments#destroy posts.comments.destroy",
		"GET posts/:posts_id/comments/:comments_id/edit comments#edit posts.comments.edit",
	}, got)

	require.Len(t, prog.Reverse, 14)
}

func TestResourcesExpansion(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Resources("comments", nil)

	expected := []struct {
		method, pattern, action string
	}{
		{"GET", "comments", "index"},
		{"POST", "comments", "create"},
		{"GET", "comments/new", "newform"},
		{"GET", "comments/:comments_id", "show"},
		{"PUT", "comments/:comments_id", "update"},
		{"DELETE", "comments/:comments_id", "destroy"},
		{"GET", "comments/:comments_id/edit", "edit"},
	}

	mappings := rs.Mappings()
	require.Len(t, mappings, len(expected))
	for i, e := range expected {
		m := mappings[i]
		assert.Equal(t, []string{e.method}, m.Methods(), "route %v", i)
		assert.Equal(t, e.pattern, m.Pattern(), "route %v", i)
		assert.Equal(t, ControllerAction{Controller: "comments", Action: e.action}, m.Destination(), "route %v", i)
		assert.Equal(t, "comments."+e.action, m.Name(), "route %v", i)
	}

	prog := compileOK(t, rs)
	for _, r := range prog.Routes() {
		assert.NotContains(t, r.CaptureFilter, "id", r.Pattern)
	}
	show := prog.Routes()[3]
	assert.Equal(t, []string{"comments_id"}, show.CaptureFilter)
}

func TestCompileNestedResourceMemberScope(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Resources("comments", nil).Get("replies").To(Dest("comments#index")).As("replies")
	prog := compileOK(t, rs)

	routes := prog.Routes()
	require.Len(t, routes, 8)
	last := routes[7]
	assert.Equal(t, "comments/:comments_id/replies", last.Pattern)
	assert.Equal(t, "comments.replies", last.Name)
	assert.Contains(t, last.CaptureFilter, "comments_id")
}

func TestCompileScopes(t *testing.T) {
	rs := NewRoutes()
	admin := rs.Root().Scope().Prefix("/admin/").Controller("posts").NamePrefix("admin.").
		Defaults(map[string]string{"format": "html"}).
		Constraints(map[string]string{"id": `\d+`})
	admin.Get(":id").To(Dest("#show")).As("post")
	admin.Get("list").As("list")
	rs.Root().Get("other").To(Dest("comments#index"))
	prog := compileOK(t, rs)

	routes := prog.Routes()
	require.Len(t, routes, 3)

	assert.Equal(t, "admin/:id", routes[0].Pattern)
	assert.Equal(t, "admin.post", routes[0].Name)
	assert.Equal(t, ir.Destination{Kind: ir.ControllerDestination, Controller: "posts", Action: "show"}, routes[0].Destination)
	assert.Equal(t, map[string]string{"format": "html"}, routes[0].Defaults)
	assert.Equal(t, []string{"format", "id"}, routes[0].CaptureFilter)
	assert.Equal(t, `^admin/(\d+)$`, pathCondition(t, prog, "admin/:id").Value)

	assert.Equal(t, "admin/list", routes[1].Pattern)
	assert.Equal(t, "index", routes[1].Destination.Action)

	assert.Equal(t, "other", routes[2].Pattern)
	assert.Empty(t, routes[2].Defaults)
}

func TestCompileMatchConstraints(t *testing.T) {
	rs := NewRoutes()
	s := rs.Root().Scope().Controller("posts").Constraints(map[string]string{"id": `\d+`})
	s.Get(":id/:slug", map[string]string{"slug": `[a-z-]+`}).Action("show")
	s.Match("raw/:id", map[string]string{"id": `[0-9a-f]+`}).Action("index")
	s.Get("plain/:id").Action("edit")
	prog := compileOK(t, rs)

	assert.Equal(t, `^(\d+)/([a-z-]+)$`, pathCondition(t, prog, ":id/:slug").Value)
	assert.Equal(t, `^raw/([0-9a-f]+)$`, pathCondition(t, prog, "raw/:id").Value)
	assert.Equal(t, `^plain/(\d+)$`, pathCondition(t, prog, "plain/:id").Value)

	routes := prog.Routes()
	require.Len(t, routes, 3)
	assert.Equal(t, "posts#show", routes[0].Destination.String())
	assert.Empty(t, routes[1].Methods)
	assert.Equal(t, "posts#index", routes[1].Destination.String())
	assert.Equal(t, "posts#edit", routes[2].Destination.String())
}

func TestCompileDynamicController(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get(":controller(/:action(/:id))").To(ControllerAction{})
	prog := compileOK(t, rs)

	c := pathCondition(t, prog, ":controller(/:action(/:id))")
	assert.Equal(t, `^(comments|posts)(?:/(\w+)(?:/(\w+))?)?$`, c.Value)
	assert.Equal(t, []string{"controller", "action", "id"}, c.Captures)

	r := prog.Routes()[0]
	assert.Equal(t, "", r.Destination.Controller)
	assert.Equal(t, "", r.Destination.Action)
}

func TestCompileUnknownDestinations(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("a").To(Dest("nope#index"))
	rs.Root().Get("b").To(Dest("posts#nope"))
	rs.Root().Get("c").To(Callback{Ref: "nope"})
	rs.Root().Get("d").To(Dest("ping#index"))
	rs.Root().Get("e/*uri").To(SubMount{Engine: "nope"})
	errs := compileErrs(t, rs)

	require.Len(t, errs, 5, spew.Sdump(errs))
	for _, e := range errs {
		assert.Equal(t, UnknownDestination, e.Kind, e.Error())
	}
}

func TestCompileCallbacks(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("ping").To(Callback{Ref: "ping"})
	compileOK(t, rs)

	rs = NewRoutes()
	rs.Root().Get("a").To(Callback{Ref: "two_args"})
	rs.Root().Get("b").To(Callback{Ref: "not_a_func"})
	errs := compileErrs(t, rs)
	require.Len(t, errs, 2)
	assert.Equal(t, InvalidCallbackArity, errs[0].Kind)
	assert.Equal(t, InvalidCallback, errs[1].Kind)
}

func TestCompileRedirects(t *testing.T) {
	rs := NewRoutes()
	root := rs.Root()
	root.Get("old/:id").To(root.Redirect("posts/:id"))
	root.Get("older/:id").To(root.Redirect("/posts/:id/", 302))
	prog := compileOK(t, rs)

	routes := prog.Routes()
	assert.Equal(t, 301, routes[0].Destination.Status)
	assert.Equal(t, "posts/:id", ir.FormatTokens(routes[0].Destination.Target))
	assert.Equal(t, 302, routes[1].Destination.Status)
}

func TestCompileRedirectErrors(t *testing.T) {
	rs := NewRoutes()
	root := rs.Root()
	root.Get("a/:id").To(root.Redirect("posts(/:id)"))
	root.Get("b(/:id)").To(root.Redirect("posts/:id"))
	root.Get("c").To(RedirectTarget{Pattern: "posts", Status: 200})
	errs := compileErrs(t, rs)

	require.Len(t, errs, 3, spew.Sdump(errs))
	assert.True(t, errs.Has(InvalidRedirectPattern))
	assert.True(t, errs.Has(MissingCapture))

	var kinds []string
	for _, e := range errs {
		kinds = append(kinds, e.Kind.String())
	}
	sort.Strings(kinds)
	assert.Equal(t, []string{"InvalidRedirectPattern", "InvalidRedirectPattern", "MissingCapture"}, kinds)
}

func TestCompileRedirectTargetFromDefaults(t *testing.T) {
	rs := NewRoutes()
	root := rs.Root()
	root.Get("b(/:id)").To(root.Redirect("posts/:id")).Defaults(map[string]string{"id": "1"})
	compileOK(t, rs)
}

func TestCompileMounts(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Mount("blog", "blog")
	prog := compileOK(t, rs)
	c := pathCondition(t, prog, "blog(/*uri)")
	assert.Equal(t, `^blog(?:/(.*?))?$`, c.Value)

	rs = NewRoutes()
	rs.Root().Get("a/*uri/b").To(SubMount{Engine: "blog"})
	rs.Root().Get("c").To(SubMount{Engine: "blog"})
	rs.Root().Get("d/*uri").To(SubMount{Engine: "posts"})
	errs := compileErrs(t, rs)
	require.Len(t, errs, 3, spew.Sdump(errs))
	assert.Equal(t, InvalidMount, errs[0].Kind)
	assert.Equal(t, MissingCapture, errs[1].Kind)
	assert.Equal(t, InvalidMount, errs[2].Kind)
}

func TestCompileMissingDestination(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("a")
	errs := compileErrs(t, rs)
	require.Len(t, errs, 1)
	assert.Equal(t, MissingDestination, errs[0].Kind)
}

func TestCompileInvalidConstraints(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("a/:id").To(Dest("posts#show")).Constraints(map[string]string{"id": `(\d+)`})
	rs.Root().Get("b/:id").To(Dest("posts#show")).Constraints(map[string]string{"id": `[`})
	rs.Root().Get("c/:id").To(Dest("posts#show")).Constraints(map[string]string{"other": `[`})
	errs := compileErrs(t, rs)
	require.Len(t, errs, 2, spew.Sdump(errs))
	assert.Equal(t, InvalidConstraint, errs[0].Kind)
	assert.Equal(t, InvalidConstraint, errs[1].Kind)
}

func TestCompileDuplicateRouteNames(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("a").To(Dest("posts#index")).As("x")
	rs.Root().Get("b").To(Dest("posts#index")).As("x")
	errs := compileErrs(t, rs)
	require.Len(t, errs, 1)
	assert.Equal(t, DuplicateRouteName, errs[0].Kind)
	assert.Equal(t, "x", errs[0].Name)
}

func TestCompileReportsEveryError(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("a(b:c").To(Dest("posts#index"))
	rs.Root().Get("a(b)c)").To(Dest("posts#index"))
	rs.Root().Get(":_x").To(Dest("posts#index"))
	errs := compileErrs(t, rs)
	require.Len(t, errs, 3)
	assert.True(t, errs.Has(UnbalancedOptional))
	assert.True(t, errs.Has(ReservedCaptureName))
}

func TestCompileEnvConditions(t *testing.T) {
	rs := NewRoutes()
	rs.Root().Get("a").To(Dest("posts#index")).
		EnvMatch("HTTP_ACCEPT", "json").
		Env("HTTP_HOST", "example.com").
		EnvMatch("HTTP_USER_AGENT", "curl/.*")
	prog := compileOK(t, rs)

	var path []string
	prog.Walk(func(n *ir.Node, p []*ir.Condition) {
		if n.Leaf != nil {
			for _, c := range p {
				path = append(path, c.String())
			}
		}
	})
	assert.Equal(t, []string{
		`PATH_INFO =~ "^a$"`,
		`REQUEST_METHOD == "GET"`,
		`HTTP_HOST == "example.com"`,
		`HTTP_USER_AGENT =~ "^(?:curl/.*)$"`,
		`HTTP_ACCEPT =~ "^(?:json)$"`,
	}, path)
}

func TestFingerprint(t *testing.T) {
	build := func(pattern string) *Routes {
		rs := NewRoutes()
		rs.Root().Get(pattern).To(Dest("posts#show"))
		return rs
	}
	reg := testRegistry()

	a := Fingerprint(build("posts/:id"), reg)
	b := Fingerprint(build("posts/:id"), reg)
	c := Fingerprint(build("posts/:slug"), reg)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 64)

	reg2 := testRegistry().Register("tags", crud())
	assert.NotEqual(t, a, Fingerprint(build("posts/:id"), reg2))

	prog := compileOK(t, build("posts/:id"))
	assert.Equal(t, a, prog.Fingerprint)
}

func TestErrorMessages(t *testing.T) {
	e := CompileError{Kind: UnbalancedOptional, Pattern: "a(b", Col: 3, Source: "routes.yaml:4"}
	assert.Equal(t, `routes.yaml:4: "a(b" (col 4): unbalanced parentheses around optional segment`, e.Error())

	e = CompileError{Kind: RouteFileSyntax, Col: -1, Source: "routes.yaml", Detail: "line 3: bad"}
	assert.Equal(t, `routes.yaml: syntax error in route file: line 3: bad`, e.Error())

	var err error = Errors{e, e}
	assert.Equal(t, e.Error()+"\n"+e.Error(), err.Error())
}
