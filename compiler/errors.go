package compiler

import (
	"fmt"
	"sort"
	"strings"
)

type ErrorKind int

const (
	UnbalancedOptional ErrorKind = iota
	ReservedCaptureName
	IllegalEscape
	DuplicateCapture
	UnknownDestination
	MissingCapture
	InvalidCallbackArity
	InvalidCallback
	InvalidRedirectPattern
	InvalidConstraint
	InvalidMount
	MissingDestination
	ConflictingRoutes
	DuplicateRouteName
	RouteFileSyntax
)

func (k ErrorKind) String() string {
	switch k {
	case UnbalancedOptional:
		return "UnbalancedOptional"
	case ReservedCaptureName:
		return "ReservedCaptureName"
	case IllegalEscape:
		return "IllegalEscape"
	case DuplicateCapture:
		return "DuplicateCapture"
	case UnknownDestination:
		return "UnknownDestination"
	case MissingCapture:
		return "MissingCapture"
	case InvalidCallbackArity:
		return "InvalidCallbackArity"
	case InvalidCallback:
		return "InvalidCallback"
	case InvalidRedirectPattern:
		return "InvalidRedirectPattern"
	case InvalidConstraint:
		return "InvalidConstraint"
	case InvalidMount:
		return "InvalidMount"
	case MissingDestination:
		return "MissingDestination"
	case ConflictingRoutes:
		return "ConflictingRoutes"
	case DuplicateRouteName:
		return "DuplicateRouteName"
	case RouteFileSyntax:
		return "RouteFileSyntax"
	}
	panic(fmt.Sprintf("Unrecognized ErrorKind %v", int(k)))
}

// CompileError describes a problem with one route definition (or, for
// ConflictingRoutes and DuplicateRouteName, with a pair of them). Col is a
// byte offset into Pattern, or -1.
type CompileError struct {
	Kind         ErrorKind
	Pattern      string
	Col          int
	Name         string
	Detail       string
	Source       string
	OtherPattern string
	OtherSource  string
}

func (e CompileError) Error() string {
	var desc string
	switch e.Kind {
	case UnbalancedOptional:
		desc = "unbalanced parentheses around optional segment"
	case ReservedCaptureName:
		desc = fmt.Sprintf("capture name '%v' is reserved (names beginning with '_' are for internal use)", e.Name)
	case IllegalEscape:
		desc = "illegal backslash escape (only \\\\, \\:, \\*, \\( and \\) are allowed)"
	case DuplicateCapture:
		desc = fmt.Sprintf("capture '%v' appears more than once", e.Name)
	case UnknownDestination:
		desc = fmt.Sprintf("unknown destination '%v'", e.Name)
	case MissingCapture:
		desc = fmt.Sprintf("no capture or default named '%v'", e.Name)
	case InvalidCallbackArity:
		desc = fmt.Sprintf("callback '%v' must take at most one parameter (the environment)", e.Name)
	case InvalidCallback:
		desc = fmt.Sprintf("callback '%v' has an unsupported signature", e.Name)
	case InvalidRedirectPattern:
		desc = "redirect target may not contain optional segments"
	case InvalidConstraint:
		desc = fmt.Sprintf("invalid constraint for '%v'", e.Name)
	case InvalidMount:
		desc = fmt.Sprintf("invalid mount of '%v'", e.Name)
	case MissingDestination:
		desc = "route has no destination"
	case ConflictingRoutes:
		desc = "routes have identical conditions"
	case DuplicateRouteName:
		desc = fmt.Sprintf("two routes have the same name ('%v')", e.Name)
	case RouteFileSyntax:
		desc = "syntax error in route file"
	default:
		panic(fmt.Sprintf("unrecognized ErrorKind %v", int(e.Kind)))
	}

	if e.Detail != "" {
		desc += ": " + e.Detail
	}

	return formatErrorMessage(e, desc)
}

func formatErrorMessage(e CompileError, desc string) string {
	var sb strings.Builder

	if e.Source != "" {
		sb.WriteString(e.Source)
		sb.WriteString(": ")
	}
	if e.Pattern != "" || e.Kind != RouteFileSyntax {
		fmt.Fprintf(&sb, "%q", e.Pattern)
		if e.Col >= 0 {
			fmt.Fprintf(&sb, " (col %v)", e.Col+1)
		}
		if e.Kind == ConflictingRoutes || e.Kind == DuplicateRouteName {
			sb.WriteString(" and ")
			if e.OtherSource != "" {
				sb.WriteString(e.OtherSource)
				sb.WriteString(": ")
			}
			fmt.Fprintf(&sb, "%q", e.OtherPattern)
		}
		sb.WriteString(": ")
	}
	sb.WriteString(desc)

	return sb.String()
}

// Errors wraps a list of compile errors as a single error.
type Errors []CompileError

func (es Errors) Error() string {
	lines := make([]string, len(es))
	for i, e := range es {
		lines[i] = e.Error()
	}
	return strings.Join(lines, "\n")
}

func (es Errors) Unwrap() []error {
	errs := make([]error, len(es))
	for i, e := range es {
		errs[i] = e
	}
	return errs
}

// Has reports whether any of the errors is of kind k.
func (es Errors) Has(k ErrorKind) bool {
	for _, e := range es {
		if e.Kind == k {
			return true
		}
	}
	return false
}

func sortCompileErrors(es []CompileError) {
	sort.SliceStable(es, func(i, j int) bool {
		if es[i].Source != es[j].Source {
			return es[i].Source < es[j].Source
		}
		if es[i].Pattern != es[j].Pattern {
			return es[i].Pattern < es[j].Pattern
		}
		return es[i].Kind < es[j].Kind
	})
}
