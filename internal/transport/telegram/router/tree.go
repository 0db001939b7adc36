package router

import (
	"sort"
	"strings"
)

type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

// splitRoute lowercases and splits a route on whitespace.
func splitRoute(route string) []string {
	return strings.Fields(strings.ToLower(route))
}

func (n *cmdNode) add(route []string, c Command) {
	cur := n
	for _, tok := range route {
		next, ok := cur.children[tok]
		if !ok {
			next = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = next
		}
		cur = next
	}
	cur.cmd = &c
}

func (n *cmdNode) find(path []string) *cmdNode {
	cur := n
	for _, tok := range path {
		next, ok := cur.children[tok]
		if !ok {
			return nil
		}
		cur = next
	}
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	if n == nil {
		return nil, false
	}
	c, ok := n.children[name]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	out := make([]string, 0, len(n.children))
	for k := range n.children {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// ownerOnly is true for an owner-only command, or a group whose every
// descendant command is owner-only.
func (n *cmdNode) ownerOnly() bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, c := range n.children {
		if !c.ownerOnly() {
			return false
		}
	}
	return len(n.children) > 0
}
