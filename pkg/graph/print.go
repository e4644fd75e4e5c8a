package graph

import (
	"strings"

	"depres/pkg/types"
)

const (
	branch     = "├─── "
	lastBranch = "╰─── "
	through    = "│    "
	blank      = "     "
)

type visitKey struct {
	key     string
	backing any
}

type printer struct {
	dependencies map[string][]Versioned
	focus        *types.Coordinates
	visited      map[visitKey]bool
}

// PrettyPrint renders the graph below root like Gradle does. A node whose subtree was already
// printed gets " (*)" and is not expanded again. Constraints are printed with " (c)", and only
// when they affected the graph or belong to focus.
func PrettyPrint(root Node, focus *types.Coordinates) string {
	p := &printer{
		dependencies: map[string][]Versioned{},
		focus:        focus,
		visited:      map[visitKey]bool{},
	}
	for _, n := range DistinctBFS(root, nil) {
		if v, ok := Unwrap(n).(Versioned); ok && !v.IsConstraint() {
			p.dependencies[v.Key()] = append(p.dependencies[v.Key()], v)
		}
	}
	var b strings.Builder
	p.print(&b, root, nil, false)
	return b.String()
}

func (p *printer) print(b *strings.Builder, n Node, indent []string, addLevel bool) {
	for _, s := range indent {
		b.WriteString(s)
	}
	b.WriteString(n.GraphEntryName())

	unwrapped := Unwrap(n)
	vk := visitKey{key: n.Key(), backing: unwrapped}
	v, versioned := unwrapped.(Versioned)
	if versioned {
		vk.backing = v.Backing()
	}
	seen := p.visited[vk]
	p.visited[vk] = true

	var children []Node
	for _, c := range n.Children() {
		if p.shouldBePrinted(c) {
			children = append(children, c)
		}
	}
	switch {
	case seen && len(children) > 0:
		b.WriteString(" (*)")
	case versioned && v.IsConstraint():
		b.WriteString(" (c)")
	}
	b.WriteString("\n")
	if seen || len(children) == 0 {
		return
	}

	if len(indent) > 0 {
		indent = append([]string(nil), indent...)
		if addLevel {
			indent[len(indent)-1] = through
		} else {
			indent[len(indent)-1] = blank
		}
	}
	for i, c := range children {
		more := i < len(children)-1
		marker := lastBranch
		if more {
			marker = branch
		}
		p.print(b, c, append(append([]string(nil), indent...), marker), more)
	}
}

func (p *printer) shouldBePrinted(n Node) bool {
	c, ok := Unwrap(n).(Versioned)
	if !ok || !c.IsConstraint() {
		return true
	}
	return p.constraintAffectsGraph(c)
}

// constraintAffectsGraph reports whether some dependency ended up at the constraint's version
// without having asked for it, while no dependency asked for that version itself.
func (p *printer) constraintAffectsGraph(c Versioned) bool {
	deps, ok := p.dependencies[c.Key()]
	if !ok {
		return p.focus != nil && p.focus.Group == c.Group() && p.focus.Module == c.Module()
	}
	want := c.OriginalVersion()
	for _, d := range deps {
		if d.OriginalVersion() == d.ResolvedVersion() && d.OriginalVersion() == want {
			return false
		}
	}
	for _, d := range deps {
		if d.ResolvedVersion() == want && d.OriginalVersion() != d.ResolvedVersion() {
			return true
		}
	}
	return false
}
