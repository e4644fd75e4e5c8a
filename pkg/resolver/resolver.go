// Package resolver grows a dependency graph in waves until every node is resolved at the
// requested level and no two nodes of one library disagree on its version.
package resolver

import (
	"context"
	"fmt"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"depres/pkg/graph"
	"depres/pkg/log"
	"depres/pkg/metrics"
	"depres/pkg/solver"
	"depres/pkg/types"
)

// Resolvable is a node able to compute its children and fetch its artifacts.
type Resolvable interface {
	graph.Node
	// ResolveChildren makes Children valid at level. Without transitive the node reports no
	// children. Errors other than cancellation are contract violations.
	ResolveChildren(ctx context.Context, level types.ResolutionLevel, transitive bool) error
	DownloadDependencies(ctx context.Context, downloadSources bool) error
}

// pather is a node backed by files on disk.
type pather interface {
	Paths(downloadSources bool) []string
}

type messenger interface {
	AddMessage(m types.Message)
}

type progress struct {
	state      types.ResolutionState
	transitive bool
}

// Resolver builds the graph below Root. It remembers which nodes are resolved, so BuildGraph
// may be called again with a higher level.
type Resolver struct {
	Root            graph.Node
	Conflicts       *solver.ConflictResolver
	DownloadSources bool

	mu      sync.Mutex
	done    map[graph.Node]progress
	claimed map[graph.Node]bool
}

func New(root graph.Node, conflicts *solver.ConflictResolver, downloadSources bool) *Resolver {
	return &Resolver{
		Root:            root,
		Conflicts:       conflicts,
		DownloadSources: downloadSources,
		done:            map[graph.Node]progress{},
		claimed:         map[graph.Node]bool{},
	}
}

// BuildGraph resolves the graph in waves. Every wave resolves the reachable nodes that are not
// resolved yet; nodes of a library in conflict are left for the next wave, after the conflict
// strategies picked the version all of them point at.
func (r *Resolver) BuildGraph(ctx context.Context, level types.ResolutionLevel, transitive bool) error {
	start := time.Now()
	defer func() { metrics.ObserveBuildGraph(time.Since(start).Seconds()) }()

	want := progress{state: level.State(), transitive: transitive}
	wave := []graph.Node{r.Root}
	for n := 1; len(wave) > 0; n++ {
		metrics.Wave()
		log.Debug("Resolution wave", map[string]interface{}{"wave": n, "nodes": len(wave), "level": level.String()})
		if err := r.runWave(ctx, wave, level, want); err != nil {
			return err
		}

		touched, err := r.Conflicts.ResolveConflicts(ctx)
		if err != nil {
			return err
		}
		for _, t := range touched {
			r.reset(t)
		}

		reachable := graph.Reachable(r.Root)
		for _, registered := range r.Conflicts.Registered() {
			if !reachable[registered] {
				r.Conflicts.Unregister(registered)
			}
		}
		wave = wave[:0]
		for _, node := range graph.DistinctBFS(r.Root, nil) {
			if !r.isDone(node, want) {
				wave = append(wave, node)
			}
		}
	}
	return ctx.Err()
}

func (r *Resolver) runWave(ctx context.Context, wave []graph.Node, level types.ResolutionLevel, want progress) error {
	r.mu.Lock()
	r.claimed = map[graph.Node]bool{}
	r.mu.Unlock()

	g, gctx := errgroup.WithContext(ctx)
	for _, n := range wave {
		n := n
		g.Go(func() error { return r.resolveNode(gctx, g, n, level, want) })
	}
	return g.Wait()
}

// resolveNode resolves n and launches the resolution of its children in g. A node whose library
// is in conflict is left unresolved; its running resolution is cancelled by the registration
// that detected the conflict.
func (r *Resolver) resolveNode(ctx context.Context, g *errgroup.Group, n graph.Node, level types.ResolutionLevel, want progress) error {
	if !r.claim(n, want) {
		return nil
	}
	nctx, cancel := context.WithCancel(ctx)
	defer cancel()

	conflicted, err := r.Conflicts.RegisterAndDetect(ctx, n, cancel)
	if err != nil {
		return err
	}
	defer r.Conflicts.Release(n)
	if conflicted {
		r.unclaim(n)
		return nil
	}

	if res, ok := n.(Resolvable); ok {
		if err := res.ResolveChildren(nctx, level, want.transitive); err != nil {
			switch {
			case ctx.Err() != nil:
				return ctx.Err()
			case nctx.Err() != nil:
				log.Trace("Resolution cancelled by a conflict", map[string]interface{}{"node": n.GraphEntryName()})
				r.unclaim(n)
				return nil
			}
			return fmt.Errorf("failed to resolve %s: %w", n.GraphEntryName(), err)
		}
	}
	r.markDone(n, want)
	metrics.NodeResolved()

	for _, child := range n.Children() {
		child := child
		g.Go(func() error { return r.resolveNode(ctx, g, child, level, want) })
	}
	return nil
}

func (r *Resolver) claim(n graph.Node, want progress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.claimed[n] || r.doneLocked(n, want) {
		return false
	}
	r.claimed[n] = true
	return true
}

func (r *Resolver) unclaim(n graph.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.claimed, n)
}

func (r *Resolver) markDone(n graph.Node, p progress) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if prev, ok := r.done[n]; ok && prev.state >= p.state && prev.transitive {
		return
	}
	r.done[n] = p
}

// reset forgets the progress of a node whose backing version changed.
func (r *Resolver) reset(n graph.Node) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.done, n)
	delete(r.claimed, n)
}

func (r *Resolver) isDone(n graph.Node, want progress) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.doneLocked(n, want)
}

func (r *Resolver) doneLocked(n graph.Node, want progress) bool {
	p, ok := r.done[n]
	return ok && p.state >= want.state && (p.transitive || !want.transitive)
}

// DownloadDependencies fetches the artifacts of every node of the graph. Failures end up as
// messages on the nodes; only cancellation is returned.
func (r *Resolver) DownloadDependencies(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for _, n := range graph.DistinctBFS(r.Root, nil) {
		res, ok := n.(Resolvable)
		if !ok {
			continue
		}
		g.Go(func() error { return res.DownloadDependencies(gctx, r.DownloadSources) })
	}
	return g.Wait()
}

// DependencyPaths lists the artifacts of the graph in breadth-first order, each path once. An
// artifact missing on disk is left out and reported on its node.
func (r *Resolver) DependencyPaths() []string {
	var out []string
	seen := map[string]bool{}
	for _, n := range graph.DistinctBFS(r.Root, nil) {
		p, ok := n.(pather)
		if !ok {
			continue
		}
		for _, path := range p.Paths(r.DownloadSources) {
			if seen[path] {
				continue
			}
			seen[path] = true
			if _, err := os.Stat(path); err != nil {
				if m, ok := n.(messenger); ok {
					m.AddMessage(types.NewMessage(types.DiagFileMissingOnDisk, types.SeverityError,
						"File %s of %s is missing on disk", path, n.GraphEntryName()).WithErr(err))
				}
				continue
			}
			out = append(out, path)
		}
	}
	return out
}

// Messages collects the messages of every node with at least the given severity.
func (r *Resolver) Messages(min types.Severity) map[graph.Node][]types.Message {
	out := map[graph.Node][]types.Message{}
	for _, n := range graph.DistinctBFS(r.Root, nil) {
		for _, m := range n.Messages() {
			if m.Severity >= min {
				out[n] = append(out[n], m)
			}
		}
	}
	return out
}
