package handler

import (
	"sort"
	"strings"
)

// Handle is whatever a registry holds under a name: a Controller, a
// callback function, an Engine, or a Declared placeholder.
type Handle any

// Registry is the set of destinations a route set may refer to.
type Registry interface {
	Lookup(name string) (Handle, bool)
	Names() []string
}

// Canonical returns the canonical identifier for a destination name.
// Lookups are case insensitive and treat '-' and '_' alike.
func Canonical(name string) string {
	return strings.ReplaceAll(strings.ToLower(strings.TrimSpace(name)), "-", "_")
}

// MapRegistry is a Registry backed by a map keyed by canonical name.
type MapRegistry map[string]Handle

// NewRegistry returns an empty MapRegistry.
func NewRegistry() MapRegistry {
	return make(MapRegistry)
}

// Register adds h under the canonical form of name and returns the
// registry so calls can be chained.
func (r MapRegistry) Register(name string, h Handle) MapRegistry {
	r[Canonical(name)] = h
	return r
}

func (r MapRegistry) Lookup(name string) (Handle, bool) {
	h, ok := r[Canonical(name)]
	return h, ok
}

func (r MapRegistry) Names() []string {
	names := make([]string, 0, len(r))
	for n := range r {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

type DeclaredKind int

const (
	DeclaredController DeclaredKind = iota
	DeclaredCallback
	DeclaredEngine
)

func (k DeclaredKind) String() string {
	switch k {
	case DeclaredController:
		return "controller"
	case DeclaredCallback:
		return "callback"
	case DeclaredEngine:
		return "engine"
	}
	return "unknown"
}

// Declared stands in for a destination that is known by name only, as when
// routes are compiled ahead of time from a route file. The compiler checks
// that the name exists and has the right kind but cannot check its shape.
type Declared struct {
	Kind DeclaredKind
}

// IsController reports whether h can serve as a controller.
func IsController(h Handle) bool {
	switch v := h.(type) {
	case Controller:
		return true
	case Declared:
		return v.Kind == DeclaredController
	}
	return false
}

// IsEngine reports whether h can be mounted.
func IsEngine(h Handle) bool {
	switch v := h.(type) {
	case Engine:
		return true
	case Declared:
		return v.Kind == DeclaredEngine
	}
	return false
}

// ControllerNames returns the sorted names in reg whose handles are
// controllers.
func ControllerNames(reg Registry) []string {
	var names []string
	for _, n := range reg.Names() {
		if h, ok := reg.Lookup(n); ok && IsController(h) {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}
