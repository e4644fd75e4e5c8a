package solver

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depres/pkg/graph"
	"depres/pkg/types"
)

type fakeNode struct {
	module   string
	original string
	resolved string
	state    types.ResolutionState
	by       []graph.Node
}

func node(module, v string) *fakeNode {
	return &fakeNode{module: module, original: v, resolved: v}
}

func (n *fakeNode) Key() string { return "g:" + n.module }
func (n *fakeNode) Parents() []graph.Node { return nil }
func (n *fakeNode) Children() []graph.Node { return nil }
func (n *fakeNode) Messages() []types.Message { return nil }
func (n *fakeNode) GraphEntryName() string { return n.Key() + ":" + n.original }
func (n *fakeNode) Group() string { return "g" }
func (n *fakeNode) Module() string { return n.module }
func (n *fakeNode) OriginalVersion() string { return n.original }
func (n *fakeNode) ResolvedVersion() string { return n.resolved }
func (n *fakeNode) IsConstraint() bool { return false }
func (n *fakeNode) OverriddenBy() []graph.Node { return n.by }
func (n *fakeNode) Backing() any { return n.resolved }
func (n *fakeNode) State() types.ResolutionState { return n.state }

func (n *fakeNode) Override(v string, by []graph.Node) error {
	n.resolved = v
	n.by = by
	return nil
}

type opaque struct{ graph.Holder }

func (o *opaque) Key() string { return "g:x" }

func TestHighestVersionPicksMaximum(t *testing.T) {
	r := NewConflictResolver(HighestVersion{})
	ctx := context.Background()

	a, b, c := node("x", "1.0"), node("x", "1.2"), node("x", "1.1")
	conflict, err := r.RegisterAndDetect(ctx, a, nil)
	require.NoError(t, err)
	assert.False(t, conflict)

	conflict, err = r.RegisterAndDetect(ctx, b, nil)
	require.NoError(t, err)
	assert.True(t, conflict)

	conflict, err = r.RegisterAndDetect(ctx, c, nil)
	require.NoError(t, err)
	assert.True(t, conflict, "key stays flagged until reconciled")

	touched, err := r.ResolveConflicts(ctx)
	require.NoError(t, err)
	assert.ElementsMatch(t, []graph.Node{a, b, c}, touched)
	for _, n := range []*fakeNode{a, b, c} {
		assert.Equal(t, "1.2", n.ResolvedVersion())
	}
	assert.Equal(t, []graph.Node{b}, a.OverriddenBy())
	assert.Nil(t, b.OverriddenBy())
	assert.False(t, r.HasConflicts())

	require.Len(t, r.Conflicts(), 1)
	assert.Equal(t, Conflict{Key: "g:x", Versions: []string{"1.0", "1.2", "1.1"}, Selected: "1.2", Strategy: "highest-version"}, r.Conflicts()[0])
}

func TestHighestVersionTieBrokenByState(t *testing.T) {
	older := node("x", "1.0")
	unsure, resolved := node("x", "2.0"), node("x", "2.0")
	unsure.state = types.StateUnsure
	resolved.state = types.StateResolved

	selected, err := HighestVersion{}.ResolveConflicts([]graph.Node{older, unsure, resolved})
	require.NoError(t, err)
	assert.Equal(t, "2.0", selected)
	assert.Equal(t, []graph.Node{resolved, unsure}, older.OverriddenBy())
}

func TestHighestVersionUsesMavenOrdering(t *testing.T) {
	rc, release := node("x", "2.0-rc1"), node("x", "2.0")
	selected, err := HighestVersion{}.ResolveConflicts([]graph.Node{release, rc})
	require.NoError(t, err)
	assert.Equal(t, "2.0", selected)
	assert.Equal(t, "2.0", rc.ResolvedVersion())
}

func TestStrategyNotApplicableToForeignNodes(t *testing.T) {
	r := NewConflictResolver(HighestVersion{})
	ctx := context.Background()

	_, err := r.RegisterAndDetect(ctx, node("x", "1.0"), nil)
	require.NoError(t, err)
	conflict, err := r.RegisterAndDetect(ctx, &opaque{}, nil)
	require.NoError(t, err)
	assert.False(t, conflict)
}

func TestConflictCancelsOtherCandidates(t *testing.T) {
	r := NewConflictResolver(HighestVersion{})
	ctx := context.Background()

	first, second := node("x", "1.0"), node("x", "2.0")
	firstCtx, cancelFirst := context.WithCancel(ctx)
	defer cancelFirst()
	secondCtx, cancelSecond := context.WithCancel(ctx)
	defer cancelSecond()

	_, err := r.RegisterAndDetect(ctx, first, cancelFirst)
	require.NoError(t, err)
	conflict, err := r.RegisterAndDetect(ctx, second, cancelSecond)
	require.NoError(t, err)
	require.True(t, conflict)

	assert.ErrorIs(t, firstCtx.Err(), context.Canceled)
	assert.NoError(t, secondCtx.Err())
}

func TestReleasedNodeIsNotCancelled(t *testing.T) {
	r := NewConflictResolver(HighestVersion{})
	ctx := context.Background()

	first := node("x", "1.0")
	firstCtx, cancelFirst := context.WithCancel(ctx)
	defer cancelFirst()
	_, err := r.RegisterAndDetect(ctx, first, cancelFirst)
	require.NoError(t, err)
	r.Release(first)

	_, err = r.RegisterAndDetect(ctx, node("x", "2.0"), nil)
	require.NoError(t, err)
	assert.NoError(t, firstCtx.Err())
}

func TestUnregisterRemovesConflict(t *testing.T) {
	r := NewConflictResolver(HighestVersion{})
	ctx := context.Background()

	kept, orphan := node("x", "1.0"), node("x", "2.0")
	_, err := r.RegisterAndDetect(ctx, kept, nil)
	require.NoError(t, err)
	_, err = r.RegisterAndDetect(ctx, orphan, nil)
	require.NoError(t, err)

	r.Unregister(orphan)
	assert.Equal(t, []graph.Node{kept}, r.Candidates("g:x"))

	touched, err := r.ResolveConflicts(ctx)
	require.NoError(t, err)
	assert.Equal(t, []graph.Node{kept}, touched)
	assert.Equal(t, "1.0", kept.ResolvedVersion())
	assert.Empty(t, r.Conflicts())

	r.Unregister(kept)
	assert.Empty(t, r.Registered())
}

func TestMissingCandidatesIsAnError(t *testing.T) {
	r := NewConflictResolver(HighestVersion{})
	r.conflicted.Store("g:ghost", struct{}{})
	_, err := r.ResolveConflicts(context.Background())
	assert.ErrorIs(t, err, ErrMissingCandidates)
}

func TestConcurrentRegistration(t *testing.T) {
	r := NewConflictResolver(HighestVersion{})
	ctx := context.Background()

	var wg sync.WaitGroup
	versions := []string{"1.0", "1.1", "1.2", "1.3", "1.4", "1.5", "1.6", "1.7"}
	nodes := make([]*fakeNode, len(versions))
	for i, v := range versions {
		nodes[i] = node("x", v)
		wg.Add(1)
		go func(n *fakeNode) {
			defer wg.Done()
			_, err := r.RegisterAndDetect(ctx, n, nil)
			assert.NoError(t, err)
		}(nodes[i])
	}
	wg.Wait()

	assert.Len(t, r.Candidates("g:x"), len(versions))
	_, err := r.ResolveConflicts(ctx)
	require.NoError(t, err)
	for _, n := range nodes {
		assert.Equal(t, "1.7", n.ResolvedVersion())
	}
}
