package core

import (
	"sort"
	"strings"
)

// cmdNode is one node of the command route tree. A node may carry a command
// (leaf or container-with-handler) and children (subcommands).
type cmdNode struct {
	name     string
	cmd      *Command
	children map[string]*cmdNode
}

func newRoot() *cmdNode {
	return &cmdNode{children: map[string]*cmdNode{}}
}

func splitRoute(route string) []string {
	parts := strings.Fields(strings.TrimSpace(route))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.ToLower(strings.TrimSpace(p))
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func (n *cmdNode) add(path []string, cmd Command) {
	cur := n
	for _, tok := range path {
		child, ok := cur.children[tok]
		if !ok {
			child = &cmdNode{name: tok, children: map[string]*cmdNode{}}
			cur.children[tok] = child
		}
		cur = child
	}
	cc := cmd
	cur.cmd = &cc
}

func (n *cmdNode) find(path []string) *cmdNode {
	cur := n
	for _, tok := range path {
		child, ok := cur.children[strings.ToLower(tok)]
		if !ok {
			return nil
		}
		cur = child
	}
	return cur
}

func (n *cmdNode) child(name string) (*cmdNode, bool) {
	c, ok := n.children[strings.ToLower(name)]
	return c, ok
}

func (n *cmdNode) childNames() []string {
	names := make([]string, 0, len(n.children))
	for name := range n.children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
