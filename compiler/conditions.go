package compiler

import (
	"github.com/addrummond/trellis/ir"
)

// conditionNode is the compiler's mutable form of ir.Node. Children are
// kept in insertion order and indexed by the canonical form of their
// condition, so routes that begin with the same tests share a path.
type conditionNode struct {
	condition *ir.Condition
	children  []*conditionNode
	index     map[string]*conditionNode
	leaf      *CompiledRoute
	leafPos   int
}

func newConditionNode(c *ir.Condition) *conditionNode {
	return &conditionNode{condition: c, index: make(map[string]*conditionNode)}
}

func (n *conditionNode) child(c ir.Condition) *conditionNode {
	key := c.String()
	if ch, ok := n.index[key]; ok {
		return ch
	}
	ch := newConditionNode(&c)
	n.index[key] = ch
	n.children = append(n.children, ch)
	return ch
}

// buildConditionTree inserts routes in declaration order. Two routes whose
// condition lists are identical would make the second unreachable; that is
// reported as ConflictingRoutes.
func buildConditionTree(routes []*CompiledRoute) (*conditionNode, []CompileError) {
	root := newConditionNode(nil)
	var errs []CompileError

	for _, r := range routes {
		n := root
		for _, c := range r.Conditions {
			n = n.child(c)
		}
		if n.leaf != nil {
			errs = append(errs, CompileError{
				Kind:         ConflictingRoutes,
				Pattern:      r.Route.Pattern,
				Col:          -1,
				Source:       r.Route.Source,
				OtherPattern: n.leaf.Route.Pattern,
				OtherSource:  n.leaf.Route.Source,
			})
			continue
		}
		n.leaf = r
		n.leafPos = len(n.children)
	}

	return root, errs
}

// lower converts the tree into its ir form. Leaves are copied so the
// program does not alias compiler state.
func (n *conditionNode) lower() *ir.Node {
	out := &ir.Node{Condition: n.condition}
	if n.leaf != nil {
		leaf := n.leaf.Route
		out.Leaf = &leaf
		out.LeafPos = n.leafPos
	}
	if len(n.children) > 0 {
		out.Children = make([]*ir.Node, len(n.children))
		for i, c := range n.children {
			out.Children[i] = c.lower()
		}
	}
	return out
}

// treeStats counts the nodes in the tree and the conditions the routes
// would have tested had nothing been shared.
func (n *conditionNode) treeStats() (nodes, unshared int) {
	var walk func(n *conditionNode, depth int)
	walk = func(n *conditionNode, depth int) {
		if n.condition != nil {
			nodes++
		}
		if n.leaf != nil {
			unshared += depth
		}
		for _, c := range n.children {
			walk(c, depth+1)
		}
	}
	walk(n, 0)
	return nodes, unshared
}
