package repository

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depres/pkg/types"
)

type artifact struct {
	coords types.Coordinates
	sha1   map[string]string
}

func (a artifact) Coordinates() types.Coordinates { return a.coords }

func (a artifact) KnownSHA1(name string) string { return a.sha1[name] }

var guava = artifact{coords: types.Coordinates{Group: "com.google.guava", Module: "guava", Version: "33.0.0-jre"}}

func TestMavenLayout(t *testing.T) {
	root := t.TempDir()
	repo := NewMavenRepository(root)
	want := filepath.Join(root, "com", "google", "guava", "guava", "33.0.0-jre", "guava-33.0.0-jre.jar")
	assert.Equal(t, want, repo.GuessPath(guava, "guava-33.0.0-jre.jar"))
	assert.Equal(t, want, repo.Path(guava, "guava-33.0.0-jre.jar", "ignored"))
	assert.Equal(t, filepath.Dir(want), repo.TempDir(guava))
	assert.Equal(t, "com/google/guava/guava/33.0.0-jre/guava-33.0.0-jre.pom", RelativePath(guava.coords, "guava-33.0.0-jre.pom"))
}

func TestGradleLayoutUsesKnownHash(t *testing.T) {
	root := t.TempDir()
	repo := NewGradleRepository(root)
	a := artifact{coords: guava.coords, sha1: map[string]string{"guava-33.0.0-jre.jar": "abc"}}
	assert.Equal(t, filepath.Join(root, "com.google.guava", "guava", "33.0.0-jre", "abc", "guava-33.0.0-jre.jar"),
		repo.GuessPath(a, "guava-33.0.0-jre.jar"))
}

func TestGradleLayoutSearchesHashDirectories(t *testing.T) {
	root := t.TempDir()
	repo := NewGradleRepository(root)
	assert.Empty(t, repo.GuessPath(guava, "guava-33.0.0-jre.pom"))

	existing := repo.Path(guava, "guava-33.0.0-jre.pom", "0123")
	require.NoError(t, os.MkdirAll(filepath.Dir(existing), 0o755))
	require.NoError(t, os.WriteFile(existing, []byte("<project/>"), 0o644))
	assert.Equal(t, existing, repo.GuessPath(guava, "guava-33.0.0-jre.pom"))
}

func TestMavenLocalRootFromSettings(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("M2_HOME", "")
	assert.Equal(t, filepath.Join(home, ".m2", "repository"), MavenLocalRoot(""))
	assert.Equal(t, "/explicit", MavenLocalRoot("/explicit"))

	require.NoError(t, os.MkdirAll(filepath.Join(home, ".m2"), 0o755))
	settings := `<settings><localRepository>${user.home}/custom-repo</localRepository></settings>`
	require.NoError(t, os.WriteFile(filepath.Join(home, ".m2", "settings.xml"), []byte(settings), 0o644))
	assert.Equal(t, home+"/custom-repo", MavenLocalRoot(""))
}

func TestMavenLocalRootFromM2Home(t *testing.T) {
	home := t.TempDir()
	m2 := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("M2_HOME", m2)
	require.NoError(t, os.MkdirAll(filepath.Join(m2, "conf"), 0o755))
	settings := `<settings><localRepository>/opt/m2</localRepository></settings>`
	require.NoError(t, os.WriteFile(filepath.Join(m2, "conf", "settings.xml"), []byte(settings), 0o644))
	assert.Equal(t, "/opt/m2", MavenLocalRoot(""))
}

func TestFileCacheDirectories(t *testing.T) {
	c := NewFileCache("/cache", NewMavenRepository("/cache/m2"), NewGradleRepository("/gradle"))
	assert.Len(t, c.All(), 2)
	assert.Equal(t, filepath.Join("/cache", "caches", "maven-metadata"), c.MetadataDir())
	assert.Equal(t, filepath.Join("/cache", "kotlin", "kotlinTransformedMetadataLibraries"), c.KotlinMetadataDir())
}
