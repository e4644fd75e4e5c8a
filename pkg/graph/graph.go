// Package graph holds the dependency graph contracts and the algorithms that only need them:
// traversal, printing, insights and serialization.
package graph

import (
	"context"

	"depres/pkg/types"
)

// Node is a graph element. Nodes requesting different versions of one library share a Key.
// Children are only stable once resolution reached the requested level.
type Node interface {
	Key() string
	Parents() []Node
	Children() []Node
	Messages() []types.Message
	// GraphEntryName is the line printed for the node in a dependency tree.
	GraphEntryName() string
}

// Versioned is implemented by Maven dependency and dependency-constraint nodes.
type Versioned interface {
	Node
	Group() string
	Module() string
	// OriginalVersion is the version the node was created with.
	OriginalVersion() string
	// ResolvedVersion is the version the node points at after conflict resolution.
	ResolvedVersion() string
	IsConstraint() bool
	// OverriddenBy lists the nodes that decided ResolvedVersion when it differs from OriginalVersion.
	OverriddenBy() []Node
	// Backing identifies the shared object the node currently delegates to.
	Backing() any
}

// Holder is a root node with a fixed list of children, such as the set of libraries requested
// by a user.
type Holder struct {
	Name string
	kids []Node
}

func NewHolder(name string) *Holder {
	return &Holder{Name: name}
}

// Add appends children. It must be called before resolution starts.
func (h *Holder) Add(children ...Node) {
	h.kids = append(h.kids, children...)
}

func (h *Holder) Key() string { return "holder:" + h.Name }
func (h *Holder) Parents() []Node { return nil }
func (h *Holder) Children() []Node { return h.kids }
func (h *Holder) Messages() []types.Message { return nil }
func (h *Holder) GraphEntryName() string { return h.Name }
func (h *Holder) String() string { return h.Name }

func (h *Holder) ResolveChildren(context.Context, types.ResolutionLevel, bool) error { return nil }

func (h *Holder) DownloadDependencies(context.Context, bool) error { return nil }

// DistinctBFS returns the nodes reachable from root in breadth-first order, each node once.
// keep, when set, prunes a child and the part of the graph only reachable through it. It
// terminates on cyclic graphs.
func DistinctBFS(root Node, keep func(child, parent Node) bool) []Node {
	var result []Node
	visited := map[Node]bool{}
	queue := []Node{root}
	for len(queue) > 0 {
		node := queue[0]
		queue = queue[1:]
		if visited[node] {
			continue
		}
		visited[node] = true
		result = append(result, node)
		for _, child := range node.Children() {
			if visited[child] {
				continue
			}
			if keep != nil && !keep(child, node) {
				continue
			}
			queue = append(queue, child)
		}
	}
	return result
}

// Reachable is the set of nodes DistinctBFS visits from root.
func Reachable(root Node) map[Node]bool {
	nodes := DistinctBFS(root, nil)
	set := make(map[Node]bool, len(nodes))
	for _, n := range nodes {
		set[n] = true
	}
	return set
}

// IsAncestor reports whether candidate is node itself or one of its transitive parents.
func IsAncestor(candidate, node Node) bool {
	visited := map[Node]bool{}
	stack := []Node{node}
	for len(stack) > 0 {
		n := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if n == candidate || n.Key() == candidate.Key() {
			return true
		}
		if visited[n] {
			continue
		}
		visited[n] = true
		stack = append(stack, n.Parents()...)
	}
	return false
}

// Unwrap returns the graph node behind insight wrappers.
func Unwrap(n Node) Node {
	for {
		w, ok := n.(*WithChildren)
		if !ok {
			return n
		}
		n = w.Node
	}
}

func belongsTo(n Node, group, module string) bool {
	v, ok := Unwrap(n).(Versioned)
	return ok && v.Group() == group && v.Module() == module
}

func correspondsToResolvedVersionOf(n Node, group, module string) bool {
	if !belongsTo(n, group, module) {
		return false
	}
	v := Unwrap(n).(Versioned)
	return v.OriginalVersion() == v.ResolvedVersion()
}
