package ir

import (
	"sort"
	"strconv"
)

// EncodeJSON writes the program as JSON. The output is built directly into
// a byte slice rather than through an intermediate tree, and map keys are
// written in sorted order so that the same program always produces the
// same bytes.
func EncodeJSON(p *Program) []byte {
	out := make([]byte, 0, 4096)

	out = append(out, `{"version":`...)
	out = strconv.AppendInt(out, int64(p.Version), 10)
	out = append(out, `,"fingerprint":`...)
	out = appendJSONString(out, p.Fingerprint)
	out = append(out, `,"root":`...)
	out = appendNode(out, p.Root)
	out = append(out, `,"reverse":[`...)
	for i := range p.Reverse {
		if i != 0 {
			out = append(out, ',')
		}
		out = appendReverseEntry(out, &p.Reverse[i])
	}
	out = append(out, "]}"...)

	return out
}

func appendNode(out []byte, n *Node) []byte {
	if n == nil {
		return append(out, "null"...)
	}
	out = append(out, '{')
	sep := false
	if n.Condition != nil {
		out = append(out, `"condition":`...)
		out = appendCondition(out, n.Condition)
		sep = true
	}
	if n.Leaf != nil {
		if sep {
			out = append(out, ',')
		}
		out = append(out, `"leaf":`...)
		out = appendRoute(out, n.Leaf)
		out = append(out, `,"leafPos":`...)
		out = strconv.AppendInt(out, int64(n.LeafPos), 10)
		sep = true
	}
	if len(n.Children) > 0 {
		if sep {
			out = append(out, ',')
		}
		out = append(out, `"children":[`...)
		for i, c := range n.Children {
			if i != 0 {
				out = append(out, ',')
			}
			out = appendNode(out, c)
		}
		out = append(out, ']')
	}
	return append(out, '}')
}

func appendCondition(out []byte, c *Condition) []byte {
	out = append(out, `{"key":`...)
	out = appendJSONString(out, c.Key)
	out = append(out, `,"op":`...)
	out = appendJSONString(out, c.Op.String())
	out = append(out, `,"value":`...)
	out = appendJSONString(out, c.Value)
	if len(c.Captures) > 0 {
		out = append(out, `,"captures":`...)
		out = appendStrings(out, c.Captures)
	}
	return append(out, '}')
}

func appendRoute(out []byte, r *Route) []byte {
	out = append(out, `{"index":`...)
	out = strconv.AppendInt(out, int64(r.Index), 10)
	if r.Name != "" {
		out = append(out, `,"name":`...)
		out = appendJSONString(out, r.Name)
	}
	out = append(out, `,"pattern":`...)
	out = appendJSONString(out, r.Pattern)
	if len(r.Methods) > 0 {
		out = append(out, `,"methods":`...)
		out = appendStrings(out, r.Methods)
	}
	out = append(out, `,"destination":`...)
	out = appendDestination(out, &r.Destination)
	if len(r.CaptureFilter) > 0 {
		out = append(out, `,"captureFilter":`...)
		out = appendStrings(out, r.CaptureFilter)
	}
	if len(r.Defaults) > 0 {
		out = append(out, `,"defaults":`...)
		out = appendStringMap(out, r.Defaults)
	}
	if r.Source != "" {
		out = append(out, `,"source":`...)
		out = appendJSONString(out, r.Source)
	}
	return append(out, '}')
}

func appendDestination(out []byte, d *Destination) []byte {
	out = append(out, `{"kind":`...)
	out = appendJSONString(out, d.Kind.String())
	if d.Controller != "" {
		out = append(out, `,"controller":`...)
		out = appendJSONString(out, d.Controller)
	}
	if d.Action != "" {
		out = append(out, `,"action":`...)
		out = appendJSONString(out, d.Action)
	}
	if d.Ref != "" {
		out = append(out, `,"ref":`...)
		out = appendJSONString(out, d.Ref)
	}
	if len(d.Target) > 0 {
		out = append(out, `,"target":`...)
		out = appendTokens(out, d.Target)
	}
	if d.Status != 0 {
		out = append(out, `,"status":`...)
		out = strconv.AppendInt(out, int64(d.Status), 10)
	}
	return append(out, '}')
}

func appendReverseEntry(out []byte, e *ReverseEntry) []byte {
	out = append(out, `{"name":`...)
	out = appendJSONString(out, e.Name)
	out = append(out, `,"tokens":`...)
	out = appendTokens(out, e.Tokens)
	if len(e.Required) > 0 {
		out = append(out, `,"required":`...)
		out = appendStrings(out, e.Required)
	}
	if len(e.Defaults) > 0 {
		out = append(out, `,"defaults":`...)
		out = appendStringMap(out, e.Defaults)
	}
	return append(out, '}')
}

func appendTokens(out []byte, tokens []Token) []byte {
	out = append(out, '[')
	for i, t := range tokens {
		if i != 0 {
			out = append(out, ',')
		}
		out = append(out, `{"kind":`...)
		out = appendJSONString(out, t.Kind.String())
		if t.Text != "" {
			out = append(out, `,"text":`...)
			out = appendJSONString(out, t.Text)
		}
		out = append(out, '}')
	}
	return append(out, ']')
}

func appendStrings(out []byte, ss []string) []byte {
	out = append(out, '[')
	for i, s := range ss {
		if i != 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, s)
	}
	return append(out, ']')
}

func appendStringMap(out []byte, m map[string]string) []byte {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out = append(out, '{')
	for i, k := range keys {
		if i != 0 {
			out = append(out, ',')
		}
		out = appendJSONString(out, k)
		out = append(out, ':')
		out = appendJSONString(out, m[k])
	}
	return append(out, '}')
}

var needEscape = [256]bool{
	'"':  true,
	'\\': true,
	0x00: true, 0x01: true, 0x02: true, 0x03: true,
	0x04: true, 0x05: true, 0x06: true, 0x07: true,
	0x08: true, 0x09: true, 0x0a: true, 0x0b: true,
	0x0c: true, 0x0d: true, 0x0e: true, 0x0f: true,
	0x10: true, 0x11: true, 0x12: true, 0x13: true,
	0x14: true, 0x15: true, 0x16: true, 0x17: true,
	0x18: true, 0x19: true, 0x1a: true, 0x1b: true,
	0x1c: true, 0x1d: true, 0x1e: true, 0x1f: true,
	/* 0x20 - 0xff */
}

const hex = "0123456789abcdef"

// appendJSONString copies runs of bytes that need no escaping in one go.
// Bytes >= 0x80 are passed through untouched; patterns are expected to be
// valid UTF-8.
func appendJSONString(buf []byte, s string) []byte {
	buf = append(buf, '"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if !needEscape[c] {
			continue
		}
		buf = append(buf, s[start:i]...)
		switch c {
		case '\\', '"':
			buf = append(buf, '\\', c)
		case '\n':
			buf = append(buf, '\\', 'n')
		case '\r':
			buf = append(buf, '\\', 'r')
		case '\t':
			buf = append(buf, '\\', 't')
		default:
			buf = append(buf, `\u00`...)
			buf = append(buf, hex[c>>4], hex[c&0xF])
		}
		start = i + 1
	}
	buf = append(buf, s[start:]...)
	return append(buf, '"')
}
