package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"runtime/debug"
	"sort"
	"strings"
	"text/tabwriter"

	"go.uber.org/zap"

	"github.com/addrummond/trellis/compiler"
	"github.com/addrummond/trellis/glob"
	"github.com/addrummond/trellis/handler"
	"github.com/addrummond/trellis/ir"
	"github.com/addrummond/trellis/logging"
	"github.com/addrummond/trellis/router"
)

type inputAccum struct {
	filenames []string
}

func (ia *inputAccum) String() string {
	return strings.Join(ia.filenames, ", ")
}

func (ia *inputAccum) Set(s string) error {
	ia.filenames = append(ia.filenames, s)
	return nil
}

type filterAccum struct {
	filter *glob.Filter
}

func (fa *filterAccum) String() string {
	if fa.filter == nil {
		return ""
	}
	return fa.filter.String()
}

func (fa *filterAccum) Set(s string) error {
	fa.filter.Add(s)
	return nil
}

func main() {
	version := flag.Bool("version", false, "show version information")
	verbose := flag.Bool("verbose", false, "print diagnostic information")
	inputFiles := &inputAccum{}
	flag.Var(inputFiles, "input", "route file (default stdin); may be repeated")
	output := flag.String("output", "", "output file (default stdout)")
	outputPrefix := flag.String("output-prefix", "", `add a prefix to the output (e.g. "export ROUTES=")`)
	format := flag.String("format", "json", `output format: "json" or "go"`)
	pkg := flag.String("package", "routes", "package name for -format go")
	varName := flag.String("var", "Program", "variable name for -format go")
	list := flag.Bool("list", false, "print the route table instead of the compiled routes")
	var names glob.Filter
	flag.Var(&filterAccum{&names}, "names", `route names to list (comma separated wildcard patterns, "!" to exclude)`)
	urlName := flag.String("url", "", "print the URL for a named route; parameters follow as key=value arguments")
	match := flag.String("match", "", `print the route matching a request (e.g. "GET /posts/1")`)
	flag.Parse()

	// Bare arguments are only meaningful as -url parameters.
	if flag.NArg() > 0 && *urlName == "" {
		flag.PrintDefaults()
		os.Exit(1)
	}

	var filenames []string
	if len(inputFiles.filenames) == 0 {
		filenames = []string{""} // indicates stdin
	} else {
		filenames = inputFiles.filenames
	}

	os.Exit(run(runParams{
		version:      *version,
		inputFiles:   filenames,
		output:       *output,
		outputPrefix: *outputPrefix,
		format:       *format,
		pkg:          *pkg,
		varName:      *varName,
		list:         *list,
		names:        names,
		urlName:      *urlName,
		urlParams:    flag.Args(),
		match:        *match,
		verbose:      *verbose,
		withReader:   withReader,
		withWriter:   withWriter,
		fprintf:      fmt.Fprintf,
	}))
}

type runParams struct {
	version      bool
	inputFiles   []string
	output       string
	outputPrefix string
	format       string
	pkg          string
	varName      string
	list         bool
	names        glob.Filter
	urlName      string
	urlParams    []string
	match        string
	verbose      bool
	withReader   func(string, func(io.Reader)) error
	withWriter   func(string, func(io.Writer)) error
	fprintf      func(w io.Writer, format string, a ...interface{}) (int, error)
}

func run(params runParams) int {
	var exitCode int

	if params.version {
		bi, ok := debug.ReadBuildInfo()
		if !ok || bi.Main.Version == "" {
			_, _ = params.fprintf(os.Stdout, "trellis version unknown\n")
			return 0
		}
		_, _ = params.fprintf(os.Stdout, "trellis %+v (routes format %v)\n", bi.Main.Version, ir.Version)
		return 0
	}

	switch params.format {
	case "", "json", "go":
	default:
		_, _ = params.fprintf(os.Stderr, "unknown output format %q\n", params.format)
		return 1
	}

	logCfg := logging.DefaultConfig()
	if params.verbose {
		logCfg.Level = "debug"
	}
	logger, err := logging.NewLogger(logCfg)
	if err != nil {
		_, _ = params.fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	defer func() { _ = logger.Sync() }()

	err = withReaders([]io.Reader{}, params.inputFiles, params.withReader, func(inputReaders []io.Reader) {
		exitCode = runHelper(params, inputReaders, logger)
	})

	if err != nil {
		_, _ = params.fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	return exitCode
}

func sourceNames(inputFiles []string) []string {
	names := make([]string, len(inputFiles))
	for i, f := range inputFiles {
		if f == "" {
			f = "stdin"
		}
		names[i] = f
	}
	return names
}

func printErrors(params runParams, errs []compiler.CompileError) {
	for _, e := range errs {
		_, _ = params.fprintf(os.Stderr, "%v\n", e)
	}
}

func runHelper(params runParams, inputReaders []io.Reader, logger *zap.Logger) int {
	routes, reg, errs := compiler.LoadRouteFiles(sourceNames(params.inputFiles), inputReaders)
	if len(errs) > 0 {
		printErrors(params, errs)
		return 1
	}

	prog, errs := compiler.Compile(routes, reg, compiler.WithLogger(logger))
	if len(errs) > 0 {
		printErrors(params, errs)
		return 1
	}

	switch {
	case params.list:
		return writeOutput(params, func(w io.Writer) error {
			return listRoutes(w, prog, params.names)
		})
	case params.urlName != "":
		return printURL(params, prog, reg, logger)
	case params.match != "":
		return printMatch(params, prog, reg, logger)
	}

	metadataOut := os.Stdout
	metadataOutDescription := params.output
	if params.output == "" {
		metadataOut = os.Stderr
		metadataOutDescription = "stdout"
	}

	retCode := writeOutput(params, func(w io.Writer) error {
		_, _ = io.WriteString(w, params.outputPrefix)
		if params.format == "go" {
			return ir.WriteGoSource(w, prog, params.pkg, params.varName)
		}
		_, err := w.Write(ir.EncodeJSON(prog))
		return err
	})
	if retCode != 0 {
		return retCode
	}

	nRoutes := len(prog.Routes())
	routesString := "routes"
	if nRoutes == 1 {
		routesString = "route"
	}
	if params.output == "" {
		_, _ = params.fprintf(metadataOut, "\n")
	}
	_, _ = params.fprintf(metadataOut, "%v %v written to %v\n", nRoutes, routesString, metadataOutDescription)

	return 0
}

func writeOutput(params runParams, f func(io.Writer) error) int {
	retCode := 0
	err := params.withWriter(params.output, func(w io.Writer) {
		if err := f(w); err != nil {
			_, _ = params.fprintf(os.Stderr, "%v\n", err)
			retCode = 1
		}
	})
	if err != nil {
		_, _ = params.fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	return retCode
}

// listRoutes writes one line per route in declaration order: name,
// methods, pattern, destination and where the route was declared.
func listRoutes(w io.Writer, prog *ir.Program, names glob.Filter) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, r := range prog.Routes() {
		if !names.Empty() && !names.Match(r.Name) {
			continue
		}
		methods := "ANY"
		if len(r.Methods) > 0 {
			methods = strings.Join(r.Methods, ",")
		}
		name := r.Name
		if name == "" {
			name = "-"
		}
		fmt.Fprintf(tw, "%v\t%v\t/%v\t%v\t%v\n", name, methods, r.Pattern, r.Destination, r.Source)
	}
	return tw.Flush()
}

func parseURLParams(args []string) (map[string]string, error) {
	params := make(map[string]string, len(args))
	for _, a := range args {
		k, v, ok := strings.Cut(a, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad parameter %q (expected key=value)", a)
		}
		params[k] = v
	}
	return params, nil
}

func printURL(params runParams, prog *ir.Program, reg handler.Registry, logger *zap.Logger) int {
	urlParams, err := parseURLParams(params.urlParams)
	if err != nil {
		_, _ = params.fprintf(os.Stderr, "%v\n", err)
		return 1
	}
	r, err := router.New(prog, reg, router.WithLogger(logger))
	if err != nil {
		_, _ = params.fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	u, err := r.URL(params.urlName, urlParams)
	var mpe *router.MissingParamsError
	switch {
	case errors.As(err, &mpe):
		_, _ = params.fprintf(os.Stderr, "route %q needs parameters: %v\n", mpe.Route, strings.Join(mpe.Names, ", "))
		return 1
	case errors.Is(err, router.ErrUnknownName):
		_, _ = params.fprintf(os.Stderr, "no route named %q\n", params.urlName)
		return 1
	case err != nil:
		_, _ = params.fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	return writeOutput(params, func(w io.Writer) error {
		_, err := fmt.Fprintf(w, "/%v\n", u)
		return err
	})
}

func printMatch(params runParams, prog *ir.Program, reg handler.Registry, logger *zap.Logger) int {
	method, path, ok := strings.Cut(strings.TrimSpace(params.match), " ")
	if !ok {
		method, path = "GET", method
	}
	r, err := router.New(prog, reg, router.WithLogger(logger))
	if err != nil {
		_, _ = params.fprintf(os.Stderr, "%v\n", err)
		return 1
	}

	m, found := r.Match(handler.Env{
		ir.EnvMethod: strings.ToUpper(method),
		ir.EnvPath:   strings.TrimSpace(path),
	})
	if !found {
		_, _ = params.fprintf(os.Stderr, "no route matches %v\n", params.match)
		return 1
	}

	return writeOutput(params, func(w io.Writer) error {
		name := m.Route.Name
		if name == "" {
			name = "-"
		}
		keys := make([]string, 0, len(m.Params))
		for k := range m.Params {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		var sb strings.Builder
		for _, k := range keys {
			fmt.Fprintf(&sb, " %v=%v", k, m.Params[k])
		}
		_, err := fmt.Fprintf(w, "%v /%v -> %v%v\n", name, m.Route.Pattern, m.Route.Destination, sb.String())
		return err
	})
}

func withReader(input string, f func(io.Reader)) error {
	if input == "" {
		f(os.Stdin)
		return nil
	}
	inf, err := os.Open(input)
	if err != nil {
		return err
	}
	defer inf.Close()
	f(inf)
	return nil
}

func withWriter(output string, f func(io.Writer)) error {
	if output == "" {
		f(os.Stdout)
		return nil
	}
	outf, err := os.Create(output)
	if err != nil {
		return err
	}
	defer outf.Close()
	f(outf)
	return nil
}

func withReaders(accum []io.Reader, inputFiles []string, withReader func(string, func(io.Reader)) error, f func([]io.Reader)) error {
	if len(inputFiles) == 0 {
		f(accum)
		return nil
	}

	first := inputFiles[0]
	rest := inputFiles[1:]

	var firstErr error
	err := withReader(first, func(r io.Reader) {
		accum = append(accum, r)
		err := withReaders(accum, rest, withReader, f)
		if err != nil {
			firstErr = err
		}
	})
	if err != nil {
		firstErr = err
	}

	return firstErr
}
