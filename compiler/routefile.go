package compiler

import (
	"fmt"
	"io"
	"os"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/addrummond/trellis/handler"
)

// A route file is YAML (or JSON, which YAML accepts):
//
//	controllers: [posts, comments]
//	callbacks: [ping]
//	engines: [blog]
//	routes:
//	  - get: "posts(/:id)"
//	    to: "posts#show"
//	    name: post
//	    constraints: {id: '\d+'}
//	  - match: legacy/:id
//	    via: [GET, POST]
//	    redirect: posts/:id
//	    status: 302
//	  - resources: posts
//	    routes:
//	      - resources: comments
//	  - scope: admin
//	    controller: admin
//	    name: "admin."
//	    routes:
//	      - get: ":action"
//	  - mount: blog
//	    engine: blog
//
// ${VAR} and ${VAR:-default} are replaced with environment variables before
// parsing; $$ is a literal dollar sign.
type routeFile struct {
	Controllers []string     `yaml:"controllers"`
	Callbacks   []string     `yaml:"callbacks"`
	Engines     []string     `yaml:"engines"`
	Routes      []routeEntry `yaml:"routes"`
}

type routeEntry struct {
	Match  *string `yaml:"match"`
	Get    *string `yaml:"get"`
	Post   *string `yaml:"post"`
	Put    *string `yaml:"put"`
	Patch  *string `yaml:"patch"`
	Delete *string `yaml:"delete"`
	Head   *string `yaml:"head"`

	Resources *string `yaml:"resources"`
	Scope     *string `yaml:"scope"`
	Mount     *string `yaml:"mount"`

	To       string `yaml:"to"`
	Callback string `yaml:"callback"`
	Redirect string `yaml:"redirect"`
	Status   int    `yaml:"status"`
	Engine   string `yaml:"engine"`

	Controller  string            `yaml:"controller"`
	Via         []string          `yaml:"via"`
	Constraints map[string]string `yaml:"constraints"`
	Defaults    map[string]string `yaml:"defaults"`
	Env         map[string]string `yaml:"env"`
	EnvMatch    map[string]string `yaml:"envMatch"`
	Name        string            `yaml:"name"`

	Routes []routeEntry `yaml:"routes"`

	line int
}

func (e *routeEntry) UnmarshalYAML(value *yaml.Node) error {
	type plain routeEntry
	if err := value.Decode((*plain)(e)); err != nil {
		return err
	}
	e.line = value.Line
	return nil
}

var envVarPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func substituteEnvVars(content string) string {
	content = strings.ReplaceAll(content, "$$", "\x00ESCAPED_DOLLAR\x00")

	result := envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		submatches := envVarPattern.FindStringSubmatch(match)
		if value, exists := os.LookupEnv(submatches[1]); exists {
			return value
		}
		return submatches[2]
	})

	return strings.ReplaceAll(result, "\x00ESCAPED_DOLLAR\x00", "$")
}

func parseRouteFile(r io.Reader, filename string) (*routeFile, []CompileError) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, []CompileError{{Kind: RouteFileSyntax, Col: -1, Source: filename, Detail: err.Error()}}
	}

	var rf routeFile
	if err := yaml.Unmarshal([]byte(substituteEnvVars(string(data))), &rf); err != nil {
		if te, ok := err.(*yaml.TypeError); ok {
			errs := make([]CompileError, len(te.Errors))
			for i, msg := range te.Errors {
				errs[i] = CompileError{Kind: RouteFileSyntax, Col: -1, Source: filename, Detail: msg}
			}
			return nil, errs
		}
		return nil, []CompileError{{Kind: RouteFileSyntax, Col: -1, Source: filename, Detail: strings.TrimPrefix(err.Error(), "yaml: ")}}
	}

	return &rf, nil
}

// LoadRouteFile reads one route file. See LoadRouteFiles.
func LoadRouteFile(r io.Reader, filename string) (*Routes, handler.MapRegistry, []CompileError) {
	return LoadRouteFiles([]string{filename}, []io.Reader{r})
}

// LoadRouteFiles reads route files and declares their routes, in file order,
// in a single route set. The returned registry holds a Declared placeholder
// for every controller, callback and engine the files list, which is
// enough to compile the routes without the code they dispatch to.
func LoadRouteFiles(filenames []string, readers []io.Reader) (*Routes, handler.MapRegistry, []CompileError) {
	if len(filenames) != len(readers) {
		panic("Bad arguments passed to 'LoadRouteFiles': filenames and readers must have same length")
	}

	files := make([]*routeFile, len(readers))
	allErrors := make([][]CompileError, len(readers))

	var wg sync.WaitGroup
	for i, r := range readers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			files[i], allErrors[i] = parseRouteFile(r, filenames[i])
		}()
	}
	wg.Wait()

	routes := NewRoutes()
	reg := handler.NewRegistry()
	errs := flattenErrors(allErrors)

	for i, rf := range files {
		if rf == nil {
			continue
		}
		for _, n := range rf.Controllers {
			reg.Register(n, handler.Declared{Kind: handler.DeclaredController})
		}
		for _, n := range rf.Callbacks {
			reg.Register(n, handler.Declared{Kind: handler.DeclaredCallback})
		}
		for _, n := range rf.Engines {
			reg.Register(n, handler.Declared{Kind: handler.DeclaredEngine})
		}
		errs = append(errs, declareEntries(routes.Root(), rf.Routes, filenames[i])...)
	}

	return routes, reg, errs
}

func flattenErrors(errs [][]CompileError) []CompileError {
	var out []CompileError
	for _, es := range errs {
		out = append(out, es...)
	}
	return out
}

func declareEntries(s *Scope, entries []routeEntry, filename string) []CompileError {
	var errs []CompileError
	for i := range entries {
		errs = append(errs, declareEntry(s, &entries[i], filename)...)
	}
	return errs
}

func declareEntry(s *Scope, e *routeEntry, filename string) []CompileError {
	source := fmt.Sprintf("%s:%d", filename, e.line)
	syntaxError := func(format string, args ...any) []CompileError {
		return []CompileError{{Kind: RouteFileSyntax, Col: -1, Source: source, Detail: fmt.Sprintf(format, args...)}}
	}

	verbs := []struct {
		name    string
		pattern *string
		declare func(string, ...map[string]string) *Mapping
	}{
		{"match", e.Match, s.Match},
		{"get", e.Get, s.Get},
		{"post", e.Post, s.Post},
		{"put", e.Put, s.Put},
		{"patch", e.Patch, s.Patch},
		{"delete", e.Delete, s.Delete},
		{"head", e.Head, s.Head},
		{"resources", e.Resources, nil},
		{"scope", e.Scope, nil},
		{"mount", e.Mount, nil},
	}
	var verb string
	var pattern string
	var declare func(string, ...map[string]string) *Mapping
	for _, v := range verbs {
		if v.pattern == nil {
			continue
		}
		if verb != "" {
			return syntaxError("entry has both '%v' and '%v'", verb, v.name)
		}
		verb, pattern, declare = v.name, *v.pattern, v.declare
	}
	if verb == "" {
		return syntaxError("entry needs one of match, get, post, put, patch, delete, head, resources, scope or mount")
	}
	for _, m := range e.Via {
		if _, ok := standardMethods[strings.ToUpper(m)]; !ok {
			return syntaxError("unknown method %q", m)
		}
	}

	switch verb {
	case "resources":
		opts := make(map[string]string, len(e.Defaults)+1)
		for k, v := range e.Defaults {
			opts[k] = v
		}
		if e.Controller != "" {
			opts["controller"] = e.Controller
		}
		return declareEntries(s.Resources(pattern, opts), e.Routes, filename)
	case "scope":
		child := s.Scope().Prefix(pattern)
		if e.Controller != "" {
			child.Controller(e.Controller)
		}
		if len(e.Via) > 0 {
			child.Via(e.Via...)
		}
		child.Constraints(e.Constraints).Defaults(e.Defaults).NamePrefix(e.Name)
		for _, k := range sortedKeys(e.Env) {
			child.Env(k, e.Env[k])
		}
		for _, k := range sortedKeys(e.EnvMatch) {
			child.EnvMatch(k, e.EnvMatch[k])
		}
		return declareEntries(child, e.Routes, filename)
	case "mount":
		engine := e.Engine
		if engine == "" {
			engine = pattern
		}
		m := s.Mount(pattern, engine).At(source)
		if e.Name != "" {
			m.As(e.Name)
		}
		return nil
	}

	if len(e.Routes) > 0 {
		return syntaxError("'%v' entries cannot have nested routes", verb)
	}

	var dest Destination
	ndest := 0
	if e.To != "" {
		d := Dest(e.To)
		if d.Controller == "" && e.Controller != "" {
			d.Controller = e.Controller
		}
		dest = d
		ndest++
	}
	if e.Callback != "" {
		dest = Callback{Ref: e.Callback}
		ndest++
	}
	if e.Redirect != "" {
		nerrs := len(s.routes.errors)
		if e.Status != 0 {
			dest = s.Redirect(e.Redirect, e.Status)
		} else {
			dest = s.Redirect(e.Redirect)
		}
		for i := nerrs; i < len(s.routes.errors); i++ {
			if s.routes.errors[i].Source == "" {
				s.routes.errors[i].Source = source
			}
		}
		ndest++
	}
	if e.Engine != "" {
		dest = SubMount{Engine: e.Engine}
		ndest++
	}
	if ndest > 1 {
		return syntaxError("entry has more than one of to, callback, redirect and engine")
	}

	m := declare(pattern, e.Constraints).At(source)
	if dest == nil && e.Controller != "" {
		dest = ControllerAction{Controller: e.Controller}
	}
	if dest != nil {
		m.To(dest)
	}
	if len(e.Via) > 0 {
		m.Via(e.Via...)
	}
	m.Defaults(e.Defaults)
	for _, k := range sortedKeys(e.Env) {
		m.Env(k, e.Env[k])
	}
	for _, k := range sortedKeys(e.EnvMatch) {
		m.EnvMatch(k, e.EnvMatch[k])
	}
	if e.Name != "" {
		m.As(e.Name)
	}
	return nil
}
