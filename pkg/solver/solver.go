// Package solver detects and reconciles version conflicts between graph nodes sharing a key.
package solver

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"depres/pkg/concurrency"
	"depres/pkg/graph"
	"depres/pkg/log"
	"depres/pkg/metrics"
)

var ErrMissingCandidates = errors.New("conflict flagged without candidates")

// Strategy reconciles the candidates of one key.
type Strategy interface {
	Name() string
	// IsApplicable is true when the strategy understands every candidate.
	IsApplicable(candidates []graph.Node) bool
	SeesConflicts(candidates []graph.Node) bool
	// ResolveConflicts mutates the candidates and returns the selected version.
	ResolveConflicts(candidates []graph.Node) (string, error)
}

// Conflict records one reconciled key, kept for reports.
type Conflict struct {
	Key      string
	Versions []string
	Selected string
	Strategy string
}

type candidates struct {
	nodes   []graph.Node
	cancels map[graph.Node]context.CancelFunc
}

// ConflictResolver tracks similar nodes per key. Each key set is mutated under its own stripe,
// so registering nodes of unrelated libraries never contends.
type ConflictResolver struct {
	strategies []Strategy
	locks      *concurrency.StripedMutex

	similar    sync.Map // key -> *candidates
	conflicted sync.Map // key -> struct{}

	mu        sync.Mutex
	conflicts []Conflict
}

func NewConflictResolver(strategies ...Strategy) *ConflictResolver {
	return &ConflictResolver{
		strategies: strategies,
		locks:      concurrency.NewStripedMutex(concurrency.DefaultStripes),
	}
}

func (r *ConflictResolver) set(key string) *candidates {
	v, _ := r.similar.LoadOrStore(key, &candidates{cancels: map[graph.Node]context.CancelFunc{}})
	return v.(*candidates)
}

// RegisterAndDetect adds node to its key set and reports whether the set is in conflict.
// cancel stops the running resolution of node; it is called when a later registration of the
// same key detects a conflict.
func (r *ConflictResolver) RegisterAndDetect(ctx context.Context, node graph.Node, cancel context.CancelFunc) (bool, error) {
	key := node.Key()
	unlock, err := r.locks.Lock(ctx, key)
	if err != nil {
		return false, err
	}
	defer unlock()

	set := r.set(key)
	if !containsNode(set.nodes, node) {
		set.nodes = append(set.nodes, node)
	}
	if cancel != nil {
		set.cancels[node] = cancel
	}

	if _, ok := r.conflicted.Load(key); ok {
		return true, nil
	}
	if !r.seesConflicts(set.nodes) {
		return false, nil
	}

	r.conflicted.Store(key, struct{}{})
	log.Debug("Conflict detected", map[string]interface{}{
		"key":        key,
		"candidates": len(set.nodes),
	})
	for other, c := range set.cancels {
		if other != node {
			c()
			delete(set.cancels, other)
		}
	}
	return true, nil
}

// Release forgets the cancel function of node once its resolution finished.
func (r *ConflictResolver) Release(node graph.Node) {
	key := node.Key()
	unlock, _ := r.locks.Lock(context.Background(), key)
	defer unlock()
	if v, ok := r.similar.Load(key); ok {
		delete(v.(*candidates).cancels, node)
	}
}

// Unregister removes a node that is no longer part of the graph.
func (r *ConflictResolver) Unregister(node graph.Node) {
	key := node.Key()
	unlock, _ := r.locks.Lock(context.Background(), key)
	defer unlock()

	v, ok := r.similar.Load(key)
	if !ok {
		return
	}
	set := v.(*candidates)
	delete(set.cancels, node)
	for i, n := range set.nodes {
		if n == node {
			set.nodes = append(set.nodes[:i:i], set.nodes[i+1:]...)
			break
		}
	}
	if len(set.nodes) == 0 {
		r.similar.Delete(key)
	}
}

// Registered returns every registered node.
func (r *ConflictResolver) Registered() []graph.Node {
	var out []graph.Node
	r.similar.Range(func(key, v any) bool {
		unlock, _ := r.locks.Lock(context.Background(), key.(string))
		out = append(out, v.(*candidates).nodes...)
		unlock()
		return true
	})
	return out
}

// Candidates returns a copy of the nodes registered under key.
func (r *ConflictResolver) Candidates(key string) []graph.Node {
	unlock, _ := r.locks.Lock(context.Background(), key)
	defer unlock()
	v, ok := r.similar.Load(key)
	if !ok {
		return nil
	}
	return append([]graph.Node(nil), v.(*candidates).nodes...)
}

// HasConflicts reports whether some key is flagged and not reconciled yet.
func (r *ConflictResolver) HasConflicts() bool {
	found := false
	r.conflicted.Range(func(any, any) bool {
		found = true
		return false
	})
	return found
}

// Conflicts returns every conflict reconciled so far.
func (r *ConflictResolver) Conflicts() []Conflict {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Conflict(nil), r.conflicts...)
}

// ResolveConflicts runs, per flagged key, the first strategy that applies and still sees a
// conflict. It returns the candidates of every flagged key; they need another resolution pass.
func (r *ConflictResolver) ResolveConflicts(ctx context.Context) ([]graph.Node, error) {
	var keys []string
	r.conflicted.Range(func(k, _ any) bool {
		keys = append(keys, k.(string))
		return true
	})
	sort.Strings(keys)

	var touched []graph.Node
	resolved := 0
	for _, key := range keys {
		nodes, err := r.resolveKey(ctx, key)
		if err != nil {
			return nil, err
		}
		if nodes == nil {
			continue
		}
		resolved++
		touched = append(touched, nodes...)
	}
	metrics.ConflictsResolved(resolved)
	return touched, nil
}

func (r *ConflictResolver) resolveKey(ctx context.Context, key string) ([]graph.Node, error) {
	unlock, err := r.locks.Lock(ctx, key)
	if err != nil {
		return nil, err
	}
	defer unlock()

	v, ok := r.similar.Load(key)
	if !ok || len(v.(*candidates).nodes) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrMissingCandidates, key)
	}
	set := v.(*candidates)
	nodes := append([]graph.Node(nil), set.nodes...)
	r.conflicted.Delete(key)

	for _, s := range r.strategies {
		if !s.IsApplicable(nodes) || !s.SeesConflicts(nodes) {
			continue
		}
		versions := resolvedVersions(nodes)
		selected, err := s.ResolveConflicts(nodes)
		if err != nil {
			return nil, fmt.Errorf("failed to resolve conflict on %s: %w", key, err)
		}
		log.Debug("Conflict resolved", map[string]interface{}{
			"key":      key,
			"versions": versions,
			"selected": selected,
			"strategy": s.Name(),
		})
		r.mu.Lock()
		r.conflicts = append(r.conflicts, Conflict{Key: key, Versions: versions, Selected: selected, Strategy: s.Name()})
		r.mu.Unlock()
		break
	}
	return nodes, nil
}

func (r *ConflictResolver) seesConflicts(nodes []graph.Node) bool {
	for _, s := range r.strategies {
		if s.IsApplicable(nodes) && s.SeesConflicts(nodes) {
			return true
		}
	}
	return false
}

func resolvedVersions(nodes []graph.Node) []string {
	seen := map[string]bool{}
	var out []string
	for _, n := range nodes {
		v, ok := graph.Unwrap(n).(graph.Versioned)
		if !ok || seen[v.ResolvedVersion()] {
			continue
		}
		seen[v.ResolvedVersion()] = true
		out = append(out, v.ResolvedVersion())
	}
	return out
}

func containsNode(nodes []graph.Node, node graph.Node) bool {
	for _, n := range nodes {
		if n == node {
			return true
		}
	}
	return false
}
