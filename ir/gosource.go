package ir

import (
	"bytes"
	"fmt"
	"go/format"
	"io"
	"sort"
	"strconv"
)

const importPath = "github.com/addrummond/trellis/ir"

// WriteGoSource writes a Go file declaring varName as the program, so that
// a route set can be compiled at build time and linked into a binary.
func WriteGoSource(w io.Writer, p *Program, pkg, varName string) error {
	var b bytes.Buffer

	fmt.Fprintf(&b, "// Code generated by trellis. DO NOT EDIT.\n\n")
	fmt.Fprintf(&b, "package %s\n\n", pkg)
	fmt.Fprintf(&b, "import %q\n\n", importPath)
	fmt.Fprintf(&b, "var %s = &ir.Program{\n", varName)
	fmt.Fprintf(&b, "Version: %d,\n", p.Version)
	fmt.Fprintf(&b, "Fingerprint: %q,\n", p.Fingerprint)
	b.WriteString("Root: ")
	writeGoNode(&b, p.Root)
	b.WriteString(",\n")
	b.WriteString("Reverse: []ir.ReverseEntry{\n")
	for _, e := range p.Reverse {
		fmt.Fprintf(&b, "{Name: %q, Tokens: ", e.Name)
		writeGoTokens(&b, e.Tokens)
		if len(e.Required) > 0 {
			b.WriteString(", Required: ")
			writeGoStrings(&b, e.Required)
		}
		if len(e.Defaults) > 0 {
			b.WriteString(", Defaults: ")
			writeGoStringMap(&b, e.Defaults)
		}
		b.WriteString("},\n")
	}
	b.WriteString("},\n}\n")

	src, err := format.Source(b.Bytes())
	if err != nil {
		return fmt.Errorf("formatting generated source: %w", err)
	}
	_, err = w.Write(src)
	return err
}

func writeGoNode(b *bytes.Buffer, n *Node) {
	if n == nil {
		b.WriteString("nil")
		return
	}
	b.WriteString("&ir.Node{")
	if c := n.Condition; c != nil {
		fmt.Fprintf(b, "Condition: &ir.Condition{Key: %q, Op: ir.%s, Value: %q", c.Key, goOpName(c.Op), c.Value)
		if len(c.Captures) > 0 {
			b.WriteString(", Captures: ")
			writeGoStrings(b, c.Captures)
		}
		b.WriteString("},\n")
	}
	if r := n.Leaf; r != nil {
		b.WriteString("Leaf: ")
		writeGoRoute(b, r)
		fmt.Fprintf(b, ",\nLeafPos: %d,\n", n.LeafPos)
	}
	if len(n.Children) > 0 {
		b.WriteString("Children: []*ir.Node{\n")
		for _, c := range n.Children {
			writeGoNode(b, c)
			b.WriteString(",\n")
		}
		b.WriteString("},\n")
	}
	b.WriteString("}")
}

func writeGoRoute(b *bytes.Buffer, r *Route) {
	fmt.Fprintf(b, "&ir.Route{Index: %d, Name: %q, Pattern: %q", r.Index, r.Name, r.Pattern)
	if len(r.Methods) > 0 {
		b.WriteString(", Methods: ")
		writeGoStrings(b, r.Methods)
	}
	d := r.Destination
	fmt.Fprintf(b, ", Destination: ir.Destination{Kind: ir.%s", goDestinationKindName(d.Kind))
	if d.Controller != "" {
		fmt.Fprintf(b, ", Controller: %q", d.Controller)
	}
	if d.Action != "" {
		fmt.Fprintf(b, ", Action: %q", d.Action)
	}
	if d.Ref != "" {
		fmt.Fprintf(b, ", Ref: %q", d.Ref)
	}
	if len(d.Target) > 0 {
		b.WriteString(", Target: ")
		writeGoTokens(b, d.Target)
	}
	if d.Status != 0 {
		fmt.Fprintf(b, ", Status: %d", d.Status)
	}
	b.WriteString("}")
	if len(r.CaptureFilter) > 0 {
		b.WriteString(", CaptureFilter: ")
		writeGoStrings(b, r.CaptureFilter)
	}
	if len(r.Defaults) > 0 {
		b.WriteString(", Defaults: ")
		writeGoStringMap(b, r.Defaults)
	}
	if r.Source != "" {
		fmt.Fprintf(b, ", Source: %q", r.Source)
	}
	b.WriteString("}")
}

func writeGoTokens(b *bytes.Buffer, tokens []Token) {
	b.WriteString("[]ir.Token{")
	for i, t := range tokens {
		if i != 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "{Kind: ir.%s", goTokenKindName(t.Kind))
		if t.Text != "" {
			fmt.Fprintf(b, ", Text: %q", t.Text)
		}
		b.WriteString("}")
	}
	b.WriteString("}")
}

func writeGoStrings(b *bytes.Buffer, ss []string) {
	b.WriteString("[]string{")
	for i, s := range ss {
		if i != 0 {
			b.WriteString(", ")
		}
		b.WriteString(strconv.Quote(s))
	}
	b.WriteString("}")
}

func writeGoStringMap(b *bytes.Buffer, m map[string]string) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	b.WriteString("map[string]string{")
	for i, k := range keys {
		if i != 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(b, "%q: %q", k, m[k])
	}
	b.WriteString("}")
}

func goOpName(op Op) string {
	if op == Matches {
		return "Matches"
	}
	return "Equals"
}

func goTokenKindName(k TokenKind) string {
	switch k {
	case Capture:
		return "Capture"
	case Wildcard:
		return "Wildcard"
	case OptionalBegin:
		return "OptionalBegin"
	case OptionalEnd:
		return "OptionalEnd"
	}
	return "Literal"
}

func goDestinationKindName(k DestinationKind) string {
	switch k {
	case CallbackDestination:
		return "CallbackDestination"
	case RedirectDestination:
		return "RedirectDestination"
	case MountDestination:
		return "MountDestination"
	}
	return "ControllerDestination"
}
