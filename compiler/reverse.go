package compiler

import (
	"sort"

	"github.com/addrummond/trellis/ir"
)

// reverseEntries builds the reverse-routing table from the named routes,
// sorted by name. A name may only be used once.
func reverseEntries(routes []*CompiledRoute) ([]ir.ReverseEntry, []CompileError) {
	var entries []ir.ReverseEntry
	var errs []CompileError
	byName := make(map[string]*CompiledRoute)

	for _, r := range routes {
		name := r.Route.Name
		if name == "" {
			continue
		}
		if prev, ok := byName[name]; ok {
			errs = append(errs, CompileError{
				Kind:         DuplicateRouteName,
				Pattern:      r.Route.Pattern,
				Col:          -1,
				Name:         name,
				Source:       r.Route.Source,
				OtherPattern: prev.Route.Pattern,
				OtherSource:  prev.Route.Source,
			})
			continue
		}
		byName[name] = r

		required := append([]string(nil), r.Required...)
		sort.Strings(required)
		entries = append(entries, ir.ReverseEntry{
			Name:     name,
			Tokens:   r.Tokens,
			Required: required,
			Defaults: r.Route.Defaults,
		})
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, errs
}
