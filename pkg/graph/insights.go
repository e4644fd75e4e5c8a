package graph

import "depres/pkg/types"

// WithChildren wraps a node of the original graph with a filtered list of children.
type WithChildren struct {
	Node Node
	kids []Node
}

func (w *WithChildren) Key() string { return w.Node.Key() }
func (w *WithChildren) Parents() []Node { return w.Node.Parents() }
func (w *WithChildren) Children() []Node { return w.kids }
func (w *WithChildren) Messages() []types.Message { return w.Node.Messages() }
func (w *WithChildren) GraphEntryName() string { return w.Node.GraphEntryName() }

// FilterGraph returns the part of graph explaining why group:module resolved the way it did:
// the paths from the root to the nodes of that library. When the version was forced by a
// constraint, the path to the constraint is kept too. With resolvedVersionOnly only paths to
// the resolved version are kept, and only the first transitive path below a dependency.
func FilterGraph(group, module string, graph Node, resolvedVersionOnly bool) *WithChildren {
	corresponds := func(n Node) bool { return correspondsToResolvedVersionOf(n, group, module) }
	anyChild := func(parent Node) bool {
		for _, c := range parent.Children() {
			if corresponds(c) {
				return true
			}
		}
		return false
	}

	var keep func(child, parent Node) bool
	if resolvedVersionOnly {
		keep = func(child, parent Node) bool {
			return corresponds(child) || (!belongsTo(child, group, module) && !anyChild(parent))
		}
	}
	var matches []Node
	hasDependency := false
	for _, n := range DistinctBFS(graph, keep) {
		if belongsTo(n, group, module) {
			matches = append(matches, n)
			if !Unwrap(n).(Versioned).IsConstraint() {
				hasDependency = true
			}
		}
	}
	if resolvedVersionOnly && hasDependency {
		// redundant constraints
		matches = filterNodes(matches, func(n Node) bool { return !Unwrap(n).(Versioned).IsConstraint() })
	}
	if len(matches) == 0 {
		return &WithChildren{Node: graph}
	}

	decisive := map[Node]bool{}
	addDecisiveParents(matches, decisive, group, module, resolvedVersionOnly)

	return withFilteredChildren(graph, map[Node]*WithChildren{}, resolvedVersionOnly, func(child, parent Node) bool {
		if !decisive[child] {
			return false
		}
		if !resolvedVersionOnly {
			return true
		}
		return corresponds(child) || (!corresponds(parent) && !anyChild(parent))
	})
}

// addDecisiveParents adds nodes, then walks up to the root through the parents that decided
// their versions. Nodes that were not overridden are preferred: once a dependency is overridden
// it is unknown whether its current children were requested by its original version.
func addDecisiveParents(nodes []Node, decisive map[Node]bool, insightGroup, insightModule string, resolvedVersionOnly bool) {
	type coordinate struct{ group, module string }
	var order []coordinate
	grouped := map[coordinate][]Versioned{}
	var selected []Node
	for _, n := range nodes {
		v, ok := Unwrap(n).(Versioned)
		if !ok {
			selected = append(selected, n)
			continue
		}
		c := coordinate{v.Group(), v.Module()}
		if _, seen := grouped[c]; !seen {
			order = append(order, c)
		}
		grouped[c] = append(grouped[c], v)
	}

	for _, c := range order {
		members := grouped[c]
		var effective, dependencies []Versioned
		effectiveDependency := false
		for _, v := range members {
			if !v.IsConstraint() {
				dependencies = append(dependencies, v)
			}
			if v.OriginalVersion() == v.ResolvedVersion() {
				effective = append(effective, v)
				effectiveDependency = effectiveDependency || !v.IsConstraint()
			}
		}

		var chosen []Versioned
		switch {
		case len(effective) == 0:
			chosen = append(chosen, dependencies...)
			for _, v := range members {
				for _, o := range v.OverriddenBy() {
					oc, ok := Unwrap(o).(Versioned)
					if ok && oc.IsConstraint() && oc.Group() == c.group && oc.Module() == c.module &&
						oc.OriginalVersion() == oc.ResolvedVersion() && v.ResolvedVersion() == oc.OriginalVersion() {
						chosen = appendDistinct(chosen, oc)
					}
				}
			}
		case effectiveDependency:
			for _, v := range effective {
				if !v.IsConstraint() {
					chosen = append(chosen, v)
				}
			}
		default:
			chosen = append(chosen, dependencies...)
			for _, v := range effective {
				chosen = appendDistinct(chosen, v)
			}
		}

		for _, v := range chosen {
			if !resolvedVersionOnly ||
				(pathBypassing(v, c.group, c.module, map[Node]bool{}) && pathBypassing(v, insightGroup, insightModule, map[Node]bool{})) {
				selected = append(selected, v)
			}
		}
	}

	var added []Node
	for _, n := range selected {
		if !decisive[n] {
			decisive[n] = true
			added = append(added, n)
		}
	}
	for _, n := range added {
		addDecisiveParents(distinct(n.Parents()), decisive, insightGroup, insightModule, resolvedVersionOnly)
	}
}

// pathBypassing reports whether n reaches the root through a path that avoids the resolved
// version of group:module. A node only reachable through that version was added because of it
// and cannot have affected its version.
func pathBypassing(n Node, group, module string, visiting map[Node]bool) bool {
	parents := n.Parents()
	if len(parents) == 0 {
		return true
	}
	if visiting[n] {
		return false
	}
	visiting[n] = true
	defer delete(visiting, n)

	effective := parents
	if v, ok := Unwrap(n).(Versioned); ok && v.ResolvedVersion() != v.OriginalVersion() {
		effective = v.OverriddenBy()
	}
	for _, p := range effective {
		if correspondsToResolvedVersionOf(p, group, module) {
			continue
		}
		if pathBypassing(p, group, module, visiting) {
			return true
		}
	}
	return false
}

func withFilteredChildren(n Node, cache map[Node]*WithChildren, resolvedVersionOnly bool, filter func(child, parent Node) bool) *WithChildren {
	if w, ok := cache[n]; ok {
		return w
	}
	w := &WithChildren{Node: n}
	cache[n] = w

	var kids []Node
	for _, c := range n.Children() {
		if filter(c, n) {
			kids = append(kids, c)
		}
	}
	if v, ok := n.(Versioned); ok && resolvedVersionOnly && len(kids) > 1 && !v.IsConstraint() {
		kids = kids[:1]
	}
	for _, c := range kids {
		w.kids = append(w.kids, withFilteredChildren(c, cache, resolvedVersionOnly, filter))
	}
	return w
}

func filterNodes(nodes []Node, keep func(Node) bool) []Node {
	var out []Node
	for _, n := range nodes {
		if keep(n) {
			out = append(out, n)
		}
	}
	return out
}

func appendDistinct(vs []Versioned, v Versioned) []Versioned {
	for _, existing := range vs {
		if existing == v {
			return vs
		}
	}
	return append(vs, v)
}

func distinct(nodes []Node) []Node {
	seen := map[Node]bool{}
	var out []Node
	for _, n := range nodes {
		if !seen[n] {
			seen[n] = true
			out = append(out, n)
		}
	}
	return out
}
