// Package glob matches route names against '*' wildcard patterns.
package glob

import (
	"strings"
)

const wildcard = '*'

// Match reports whether name matches pattern. A '*' in pattern matches any
// run of characters, including '.', and "\*" matches a literal '*'.
func Match(pattern, name string) bool {
	if pattern == "" {
		return name == ""
	}
	if pattern == string(wildcard) {
		return true
	}

	parts := literalParts(pattern)
	last := len(parts) - 1

	if last == 0 {
		return name == parts[0]
	}
	if !strings.HasPrefix(name, parts[0]) {
		return false
	}
	name = name[len(parts[0]):]

	for _, p := range parts[1:last] {
		i := strings.Index(name, p)
		if i < 0 {
			return false
		}
		name = name[i+len(p):]
	}

	return strings.HasSuffix(name, parts[last])
}

// IsLiteral reports whether pattern contains no wildcard, escaped or not,
// so that it can only match itself.
func IsLiteral(pattern string) bool {
	return !strings.ContainsRune(pattern, wildcard)
}

// literalParts splits pattern at unescaped wildcards. A pattern with n
// wildcards gives n+1 parts, some possibly empty.
func literalParts(pattern string) []string {
	var parts []string
	var cur strings.Builder
	for i := 0; i < len(pattern); i++ {
		switch {
		case pattern[i] == '\\' && i+1 < len(pattern) && pattern[i+1] == wildcard:
			i++
			cur.WriteByte(wildcard)
		case pattern[i] == wildcard:
			parts = append(parts, cur.String())
			cur.Reset()
		default:
			cur.WriteByte(pattern[i])
		}
	}
	return append(parts, cur.String())
}

// Filter selects route names by include and exclude patterns.
type Filter struct {
	Include []string
	Exclude []string
}

// ParseFilter reads a comma separated list of patterns. Patterns starting
// with '!' exclude. "posts.*,!*.destroy" selects every posts route except
// destroy.
func ParseFilter(spec string) Filter {
	var f Filter
	f.Add(spec)
	return f
}

// Add adds the patterns in spec, in the format ParseFilter reads.
func (f *Filter) Add(spec string) {
	for _, p := range strings.Split(spec, ",") {
		p = strings.TrimSpace(p)
		switch {
		case p == "" || p == "!":
		case p[0] == '!':
			f.Exclude = append(f.Exclude, p[1:])
		default:
			f.Include = append(f.Include, p)
		}
	}
}

// Empty reports whether the filter has no patterns and so selects every
// name.
func (f Filter) Empty() bool {
	return len(f.Include) == 0 && len(f.Exclude) == 0
}

// Match reports whether name is selected: it matches some include pattern
// (or there are none) and no exclude pattern.
func (f Filter) Match(name string) bool {
	for _, p := range f.Exclude {
		if Match(p, name) {
			return false
		}
	}
	if len(f.Include) == 0 {
		return true
	}
	for _, p := range f.Include {
		if Match(p, name) {
			return true
		}
	}
	return false
}

func (f Filter) String() string {
	var sb strings.Builder
	for _, p := range f.Include {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p)
	}
	for _, p := range f.Exclude {
		if sb.Len() > 0 {
			sb.WriteByte(',')
		}
		sb.WriteByte('!')
		sb.WriteString(p)
	}
	return sb.String()
}
