package maven

import (
	"context"
	"fmt"
	"sync"

	"depres/pkg/graph"
	"depres/pkg/types"
)

// DependencyNode is the place of a library in the graph. It keeps the version it was requested
// with while conflict resolution may point it at the dependency of another version.
type DependencyNode struct {
	session  *Session
	group    string
	module   string
	original string
	isBom    bool

	mu           sync.RWMutex
	dependency   *Dependency
	overriddenBy []graph.Node
	parents      []graph.Node
	transitive   bool

	kids    []graph.Node
	kidsOf  *Dependency
	kidsGen uint64
}

func newDependencyNode(s *Session, c types.Coordinates, isBom bool) *DependencyNode {
	return &DependencyNode{
		session:    s,
		group:      c.Group,
		module:     c.Module,
		original:   c.Version,
		isBom:      isBom,
		dependency: s.Dependency(c, isBom),
		transitive: true,
	}
}

func (n *DependencyNode) Key() string { return n.group + ":" + n.module }

func (n *DependencyNode) Group() string { return n.group }

func (n *DependencyNode) Module() string { return n.module }

func (n *DependencyNode) OriginalVersion() string { return n.original }

func (n *DependencyNode) IsConstraint() bool { return false }

func (n *DependencyNode) IsBom() bool { return n.isBom }

func (n *DependencyNode) Dependency() *Dependency {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.dependency
}

func (n *DependencyNode) Backing() any { return n.Dependency() }

func (n *DependencyNode) ResolvedVersion() string { return n.Dependency().coords.Version }

func (n *DependencyNode) State() types.ResolutionState { return n.Dependency().State() }

func (n *DependencyNode) Messages() []types.Message { return n.Dependency().Messages() }

func (n *DependencyNode) AddMessage(m types.Message) { n.Dependency().AddMessage(m) }

func (n *DependencyNode) OverriddenBy() []graph.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]graph.Node(nil), n.overriddenBy...)
}

func (n *DependencyNode) Parents() []graph.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]graph.Node(nil), n.parents...)
}

func (n *DependencyNode) addParent(p graph.Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.parents {
		if existing == p {
			return
		}
	}
	n.parents = append(n.parents, p)
}

func (n *DependencyNode) GraphEntryName() string {
	name := n.group + ":" + n.module + ":" + n.original
	if resolved := n.ResolvedVersion(); resolved != n.original {
		name += " -> " + resolved
	}
	return name
}

func (n *DependencyNode) String() string { return n.GraphEntryName() }

// Children are derived from the current dependency and recomputed when it changes. Children
// already on the path from the root are left out.
func (n *DependencyNode) Children() []graph.Node {
	dep := n.Dependency()
	gen := dep.childrenGeneration()
	n.mu.RLock()
	if !n.transitive {
		n.mu.RUnlock()
		return nil
	}
	if n.kidsOf == dep && n.kidsGen == gen {
		kids := n.kids
		n.mu.RUnlock()
		return kids
	}
	n.mu.RUnlock()

	var kids []graph.Node
	for _, c := range dep.Children() {
		child := n.session.node(c.coords, c.isBom)
		if graph.IsAncestor(child, n) {
			continue
		}
		child.addParent(n)
		kids = append(kids, child)
	}
	for _, c := range dep.Constraints() {
		child := n.session.constraintNode(c.coords)
		child.addParent(n)
		kids = append(kids, child)
	}

	n.mu.Lock()
	n.kids, n.kidsOf, n.kidsGen = kids, dep, gen
	n.mu.Unlock()
	return kids
}

// ResolveChildren resolves the current dependency. Without transitive the node reports no
// children, which stops the graph below it.
func (n *DependencyNode) ResolveChildren(ctx context.Context, level types.ResolutionLevel, transitive bool) error {
	n.mu.Lock()
	n.transitive = transitive
	dep := n.dependency
	n.mu.Unlock()
	if dep.coords.Group != n.group || dep.coords.Module != n.module {
		return fmt.Errorf("%w: node %s points at %s", ErrContractViolation, n.Key(), dep.coords)
	}
	return dep.ResolveChildren(ctx, level)
}

func (n *DependencyNode) DownloadDependencies(ctx context.Context, downloadSources bool) error {
	return n.Dependency().DownloadDependencies(ctx, downloadSources)
}

// Paths lists the local files of the resolved artifacts.
func (n *DependencyNode) Paths(downloadSources bool) []string {
	return n.Dependency().Paths(downloadSources)
}

// Override points the node at the dependency of version. Nodes brought back to their requested
// version forget who overrode them.
func (n *DependencyNode) Override(version string, by []graph.Node) error {
	if version == "" {
		return fmt.Errorf("%w: empty version for %s", ErrContractViolation, n.Key())
	}
	dep := n.session.Dependency(types.Coordinates{Group: n.group, Module: n.module, Version: version}, n.isBom)
	if dep.coords.Version != version {
		return fmt.Errorf("%w: %s resolved to %s instead of %s", ErrContractViolation, n.Key(), dep.coords.Version, version)
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	n.dependency = dep
	if version == n.original {
		n.overriddenBy = nil
	} else {
		n.overriddenBy = append([]graph.Node(nil), by...)
	}
	return nil
}

// Constraint is a version recommended by a dependency constraint or a BOM. It is shared like Dependency.
type Constraint struct {
	coords types.Coordinates
}

func (c *Constraint) Coordinates() types.Coordinates { return c.coords }

// ConstraintNode takes part in conflict resolution for its library but has no children.
type ConstraintNode struct {
	session  *Session
	group    string
	module   string
	original string

	mu           sync.RWMutex
	constraint   *Constraint
	overriddenBy []graph.Node
	parents      []graph.Node
}

func newConstraintNode(s *Session, c types.Coordinates) *ConstraintNode {
	return &ConstraintNode{
		session:    s,
		group:      c.Group,
		module:     c.Module,
		original:   c.Version,
		constraint: s.constraint(c),
	}
}

func (n *ConstraintNode) Key() string { return n.group + ":" + n.module }

func (n *ConstraintNode) Group() string { return n.group }

func (n *ConstraintNode) Module() string { return n.module }

func (n *ConstraintNode) OriginalVersion() string { return n.original }

func (n *ConstraintNode) IsConstraint() bool { return true }

func (n *ConstraintNode) Children() []graph.Node { return nil }

func (n *ConstraintNode) Messages() []types.Message { return nil }

func (n *ConstraintNode) Backing() any {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.constraint
}

func (n *ConstraintNode) ResolvedVersion() string {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.constraint.coords.Version
}

// State ranks constraints below dependencies when both asked for the winning version.
func (n *ConstraintNode) State() types.ResolutionState { return types.StateInitial }

func (n *ConstraintNode) OverriddenBy() []graph.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]graph.Node(nil), n.overriddenBy...)
}

func (n *ConstraintNode) Parents() []graph.Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return append([]graph.Node(nil), n.parents...)
}

func (n *ConstraintNode) addParent(p graph.Node) {
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, existing := range n.parents {
		if existing == p {
			return
		}
	}
	n.parents = append(n.parents, p)
}

func (n *ConstraintNode) GraphEntryName() string {
	name := n.group + ":" + n.module + ":" + n.original
	if resolved := n.ResolvedVersion(); resolved != n.original {
		name += " -> " + resolved
	}
	return name
}

func (n *ConstraintNode) ResolveChildren(context.Context, types.ResolutionLevel, bool) error { return nil }

func (n *ConstraintNode) DownloadDependencies(context.Context, bool) error { return nil }

func (n *ConstraintNode) Override(version string, by []graph.Node) error {
	if version == "" {
		return fmt.Errorf("%w: empty version for constraint %s", ErrContractViolation, n.Key())
	}
	c := n.session.constraint(types.Coordinates{Group: n.group, Module: n.module, Version: version})
	n.mu.Lock()
	defer n.mu.Unlock()
	n.constraint = c
	if version == n.original {
		n.overriddenBy = nil
	} else {
		n.overriddenBy = append([]graph.Node(nil), by...)
	}
	return nil
}
