package cli

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depres/pkg/graph"
	"depres/pkg/installer"
	"depres/pkg/maven/maventest"
)

type fixture struct {
	repo  *maventest.Repo
	cache string
}

func newFixture(t *testing.T) *fixture {
	repo := maventest.NewRepo(t)
	repo.AddPOM(maventest.Coordinates("org.example:app:1.0"), maventest.Dependencies("org.example:lib:1.0", "org.example:util:1.0"))
	repo.AddPOM(maventest.Coordinates("org.example:lib:1.0"), maventest.Dependencies("org.example:util:2.0"))
	repo.AddPOM(maventest.Coordinates("org.example:util:1.0"), "")
	repo.AddPOM(maventest.Coordinates("org.example:util:2.0"), "")
	for _, spec := range []string{"org.example:app:1.0", "org.example:lib:1.0", "org.example:util:2.0"} {
		repo.AddJar(maventest.Coordinates(spec), map[string]string{"X.class": spec})
	}
	return &fixture{repo: repo, cache: t.TempDir()}
}

func (f *fixture) run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--repository", f.repo.URL, "--cache", f.cache, "--config", f.config(t)}, args...))
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

// config writes an empty settings file so a depres.toml above the test directory is never picked up.
func (f *fixture) config(t *testing.T) string {
	path := filepath.Join(t.TempDir(), "depres.toml")
	require.NoError(t, os.WriteFile(path, nil, 0o644))
	return path
}

func TestVersion(t *testing.T) {
	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetArgs([]string{"version"})
	require.NoError(t, cmd.Execute())
	assert.Equal(t, "depres v"+Version+"\n", out.String())

	out.Reset()
	cmd = NewRootCmd(&out)
	cmd.SetArgs([]string{"version", "--json"})
	require.NoError(t, cmd.Execute())
	assert.JSONEq(t, `{"version": "`+Version+`"}`, out.String())
}

func TestResolve(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "resolve", "org.example:app:1.0")
	require.NoError(t, err)

	assert.Contains(t, out, "- Conflict at 'org.example:util':")
	var jars []string
	for _, line := range strings.Split(strings.TrimSpace(out), "\n") {
		if strings.HasSuffix(line, ".jar") {
			jars = append(jars, filepath.Base(line))
			assert.True(t, strings.HasPrefix(line, f.cache), line)
		}
	}
	assert.Equal(t, []string{"app-1.0.jar", "lib-1.0.jar", "util-2.0.jar"}, jars)
}

func TestResolveRequiresDependencies(t *testing.T) {
	f := newFixture(t)
	_, err := f.run(t, "resolve")
	assert.EqualError(t, err, "no dependencies requested")

	_, err = f.run(t, "resolve", "--level", "offline", "org.example:app:1.0")
	assert.Error(t, err)
}

func TestResolveFailsOnUnresolvedDependency(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "resolve", "org.example:absent:1.0")
	assert.ErrorIs(t, err, installer.ErrUnresolved)
	assert.Contains(t, out, "org.example:absent:1.0:")
}

func TestShowDependencies(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "show", "dependencies", "org.example:app:1.0")
	require.NoError(t, err)
	assert.Contains(t, out, "org.example:app:1.0")
	assert.Contains(t, out, "org.example:util:1.0 -> 2.0")
}

func TestInsight(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "insight", "org.example:util", "org.example:app:1.0")
	require.NoError(t, err)
	assert.Contains(t, out, "org.example:util:2.0")
	assert.Contains(t, out, "org.example:lib:1.0")
}

func TestGraph(t *testing.T) {
	f := newFixture(t)
	out, err := f.run(t, "graph", "org.example:app:1.0")
	require.NoError(t, err)

	arena, err := graph.DecodeArena(strings.NewReader(out))
	require.NoError(t, err)
	root, err := arena.Graph()
	require.NoError(t, err)
	require.Len(t, root.Children(), 1)
	assert.Equal(t, "org.example:app:1.0", root.Children()[0].GraphEntryName())
}

func TestBundle(t *testing.T) {
	f := newFixture(t)
	bundle := filepath.Join(t.TempDir(), "deps.tar.gz")
	out, err := f.run(t, "bundle", "-o", bundle, "org.example:app:1.0")
	require.NoError(t, err)
	assert.Equal(t, "Bundled 3 files into "+bundle+"\n", out)

	info, err := os.Stat(bundle)
	require.NoError(t, err)
	assert.Positive(t, info.Size())
}

func TestConfigFileSuppliesDependencies(t *testing.T) {
	f := newFixture(t)
	config := filepath.Join(t.TempDir(), "depres.toml")
	require.NoError(t, os.WriteFile(config, []byte(`dependencies = ["org.example:lib:1.0"]`), 0o644))

	var out bytes.Buffer
	cmd := NewRootCmd(&out)
	cmd.SetArgs([]string{"--config", config, "--repository", f.repo.URL, "--cache", f.cache, "--json", "resolve"})
	require.NoError(t, cmd.Execute())
	assert.Contains(t, out.String(), `"org.example:lib:1.0"`)
	assert.Contains(t, out.String(), "util-2.0.jar")
}

func TestMetricsFile(t *testing.T) {
	f := newFixture(t)
	metricsFile := filepath.Join(t.TempDir(), "metrics.prom")
	_, err := f.run(t, "--metrics", metricsFile, "show", "dependencies", "org.example:lib:1.0")
	require.NoError(t, err)

	data, err := os.ReadFile(metricsFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), "depres_resolution_waves_total")
}
