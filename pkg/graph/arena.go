package graph

import (
	"encoding/json"
	"fmt"
	"io"

	"depres/pkg/types"
)

const (
	kindNode       = "node"
	kindDependency = "dependency"
	kindConstraint = "constraint"
)

// Arena is a serializable form of a graph: a flat list of nodes referring to each other by
// index, so shared subgraphs are stored once and cycles need no special care.
type Arena struct {
	Root  int         `json:"root"`
	Nodes []ArenaNode `json:"nodes"`
}

type ArenaNode struct {
	Kind            string          `json:"kind"`
	Key             string          `json:"key"`
	Name            string          `json:"name"`
	Group           string          `json:"group,omitempty"`
	Module          string          `json:"module,omitempty"`
	OriginalVersion string          `json:"originalVersion,omitempty"`
	ResolvedVersion string          `json:"resolvedVersion,omitempty"`
	Messages        []types.Message `json:"messages,omitempty"`
	Children        []int           `json:"children,omitempty"`
	Parents         []int           `json:"parents,omitempty"`
	OverriddenBy    []int           `json:"overriddenBy,omitempty"`
}

// NewArena indexes every node reachable from root before any reference is written.
func NewArena(root Node) *Arena {
	nodes := DistinctBFS(root, nil)
	index := make(map[Node]int, len(nodes))
	for i, n := range nodes {
		index[n] = i
	}
	refs := func(ns []Node) []int {
		var out []int
		for _, n := range ns {
			if i, ok := index[n]; ok {
				out = append(out, i)
			}
		}
		return out
	}

	a := &Arena{Root: 0, Nodes: make([]ArenaNode, len(nodes))}
	for i, n := range nodes {
		an := ArenaNode{
			Kind:     kindNode,
			Key:      n.Key(),
			Name:     n.GraphEntryName(),
			Messages: n.Messages(),
			Children: refs(n.Children()),
			Parents:  refs(n.Parents()),
		}
		if v, ok := Unwrap(n).(Versioned); ok {
			an.Kind = kindDependency
			if v.IsConstraint() {
				an.Kind = kindConstraint
			}
			an.Group = v.Group()
			an.Module = v.Module()
			an.OriginalVersion = v.OriginalVersion()
			an.ResolvedVersion = v.ResolvedVersion()
			an.OverriddenBy = refs(v.OverriddenBy())
		}
		a.Nodes[i] = an
	}
	return a
}

func (a *Arena) Encode(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(a)
}

func DecodeArena(r io.Reader) (*Arena, error) {
	var a Arena
	if err := json.NewDecoder(r).Decode(&a); err != nil {
		return nil, fmt.Errorf("failed to decode graph: %w", err)
	}
	return &a, nil
}

// Graph rebuilds plain nodes from the arena and returns the root.
func (a *Arena) Graph() (Node, error) {
	if len(a.Nodes) == 0 {
		return nil, fmt.Errorf("graph has no nodes")
	}
	plain := make([]*Plain, len(a.Nodes))
	nodes := make([]Node, len(a.Nodes))
	for i, an := range a.Nodes {
		p := &Plain{key: an.Key, name: an.Name, messages: an.Messages}
		plain[i] = p
		switch an.Kind {
		case kindDependency, kindConstraint:
			nodes[i] = &PlainVersioned{
				Plain:      p,
				group:      an.Group,
				module:     an.Module,
				original:   an.OriginalVersion,
				resolved:   an.ResolvedVersion,
				constraint: an.Kind == kindConstraint,
			}
		default:
			nodes[i] = p
		}
	}
	lookup := func(refs []int) ([]Node, error) {
		out := make([]Node, 0, len(refs))
		for _, r := range refs {
			if r < 0 || r >= len(nodes) {
				return nil, fmt.Errorf("node index %d is out of range", r)
			}
			out = append(out, nodes[r])
		}
		return out, nil
	}
	for i, an := range a.Nodes {
		var err error
		if plain[i].children, err = lookup(an.Children); err != nil {
			return nil, err
		}
		if plain[i].parents, err = lookup(an.Parents); err != nil {
			return nil, err
		}
		if v, ok := nodes[i].(*PlainVersioned); ok {
			if v.overriddenBy, err = lookup(an.OverriddenBy); err != nil {
				return nil, err
			}
		}
	}
	if a.Root < 0 || a.Root >= len(nodes) {
		return nil, fmt.Errorf("root index %d is out of range", a.Root)
	}
	return nodes[a.Root], nil
}

// Plain is a decoded node with no resolution behavior.
type Plain struct {
	key      string
	name     string
	messages []types.Message
	parents  []Node
	children []Node
}

func (p *Plain) Key() string { return p.key }
func (p *Plain) Parents() []Node { return p.parents }
func (p *Plain) Children() []Node { return p.children }
func (p *Plain) Messages() []types.Message { return p.messages }
func (p *Plain) GraphEntryName() string { return p.name }

// PlainVersioned is a decoded dependency or constraint node.
type PlainVersioned struct {
	*Plain
	group        string
	module       string
	original     string
	resolved     string
	constraint   bool
	overriddenBy []Node
}

func (p *PlainVersioned) Group() string { return p.group }
func (p *PlainVersioned) Module() string { return p.module }
func (p *PlainVersioned) OriginalVersion() string { return p.original }
func (p *PlainVersioned) ResolvedVersion() string { return p.resolved }
func (p *PlainVersioned) IsConstraint() bool { return p.constraint }
func (p *PlainVersioned) OverriddenBy() []Node { return p.overriddenBy }

// Backing is the resolved coordinate; decoded nodes resolved to one version share it.
func (p *PlainVersioned) Backing() any {
	if p.constraint {
		return "constraint:" + p.group + ":" + p.module + ":" + p.resolved
	}
	return p.group + ":" + p.module + ":" + p.resolved
}
