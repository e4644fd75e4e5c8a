package solver

import (
	"sort"

	"depres/pkg/graph"
	"depres/pkg/types"
	"depres/pkg/version"
)

// Overridable is a Maven node whose backing dependency can be swapped for another version.
type Overridable interface {
	graph.Versioned
	State() types.ResolutionState
	// Override points the node at version and records the nodes that decided it.
	Override(version string, by []graph.Node) error
}

// HighestVersion selects the highest version requested among Maven dependency and constraint nodes.
type HighestVersion struct{}

func (HighestVersion) Name() string { return "highest-version" }

func (HighestVersion) IsApplicable(candidates []graph.Node) bool {
	for _, c := range candidates {
		if _, ok := c.(Overridable); !ok {
			return false
		}
	}
	return len(candidates) > 0
}

func (HighestVersion) SeesConflicts(candidates []graph.Node) bool {
	versions := map[string]bool{}
	for _, c := range candidates {
		versions[c.(Overridable).ResolvedVersion()] = true
	}
	return len(versions) > 1
}

func (HighestVersion) ResolveConflicts(candidates []graph.Node) (string, error) {
	nodes := make([]Overridable, 0, len(candidates))
	for _, c := range candidates {
		nodes = append(nodes, c.(Overridable))
	}

	highest := ""
	for _, n := range nodes {
		v := n.OriginalVersion()
		if v != "" && (highest == "" || version.Compare(v, highest) > 0) {
			highest = v
		}
	}
	if highest == "" {
		return "", nil
	}

	// Nodes that asked for the winning version decided it; the most resolved one goes first.
	var winners []Overridable
	for _, n := range nodes {
		if version.Compare(n.OriginalVersion(), highest) == 0 {
			winners = append(winners, n)
		}
	}
	sort.SliceStable(winners, func(i, j int) bool { return winners[i].State() > winners[j].State() })
	by := make([]graph.Node, 0, len(winners))
	for _, w := range winners {
		by = append(by, w)
	}

	for _, n := range nodes {
		if n.ResolvedVersion() == highest {
			continue
		}
		if err := n.Override(highest, by); err != nil {
			return "", err
		}
	}
	return highest, nil
}
