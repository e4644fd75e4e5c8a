package files

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depres/pkg/concurrency"
	"depres/pkg/hashing"
	"depres/pkg/registry"
	"depres/pkg/repository"
	"depres/pkg/types"
)

type fakeOwner struct {
	coords   types.Coordinates
	declared map[string]Declared

	mu       sync.Mutex
	messages []types.Message
}

func newOwner(v string) *fakeOwner {
	return &fakeOwner{coords: types.Coordinates{Group: "org.example", Module: "lib", Version: v}}
}

func (o *fakeOwner) Coordinates() types.Coordinates { return o.coords }

func (o *fakeOwner) DeclaredFile(name string) (Declared, bool) {
	d, ok := o.declared[name]
	return d, ok
}

func (o *fakeOwner) AddMessage(m types.Message) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.messages = append(o.messages, m)
}

func (o *fakeOwner) ids() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	var ids []string
	for _, m := range o.messages {
		ids = append(ids, m.ID)
	}
	return ids
}

type fakeRepo struct {
	*httptest.Server
	files    map[string]string
	requests atomic.Int32
}

func newRepo(t *testing.T, files map[string]string) *fakeRepo {
	r := &fakeRepo{files: files}
	r.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		r.requests.Add(1)
		body, ok := r.files[req.URL.Path]
		if !ok {
			http.NotFound(w, req)
			return
		}
		_, _ = w.Write([]byte(body))
	}))
	t.Cleanup(r.Close)
	return r
}

func (r *fakeRepo) repository() registry.Repository {
	return registry.Repository{URL: r.URL}
}

func digest(t *testing.T, algorithm, content string) string {
	t.Helper()
	h, err := hashing.NewHasher(algorithm)
	require.NoError(t, err)
	_, _ = h.Write([]byte(content))
	return h.Hash()
}

func newEnv(t *testing.T, root string, repos ...*fakeRepo) *Env {
	t.Helper()
	opts := registry.DefaultOptions()
	opts.Retries = 0
	var repositories []registry.Repository
	for _, r := range repos {
		repositories = append(repositories, r.repository())
	}
	cache := repository.NewFileCache(root,
		repository.NewMavenRepository(filepath.Join(root, "m2")),
		repository.NewGradleRepository(filepath.Join(root, "gradle")))
	return NewEnv(registry.NewClientWith(http.DefaultClient, opts), repositories, cache, concurrency.NewLimiter(2))
}

const jarPath = "/org/example/lib/1.0/lib-1.0.jar"

func TestDownloadVerifiesPublishedChecksum(t *testing.T) {
	content := "jar content"
	repo := newRepo(t, map[string]string{
		jarPath:           content,
		jarPath + ".sha1": digest(t, hashing.SHA1, content) + "  lib-1.0.jar\n",
	})
	root := t.TempDir()
	env := newEnv(t, root, repo)
	owner := newOwner("1.0")

	f := New(owner, env, "lib-1.0", "jar")
	require.True(t, f.IsDownloadedOrDownload(context.Background(), types.LevelNetwork))
	assert.Equal(t, filepath.Join(root, "m2", "org", "example", "lib", "1.0", "lib-1.0.jar"), f.Path())
	data, err := f.ReadBytes()
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
	assert.Equal(t, []string{types.DiagDownloaded}, owner.ids())

	before := repo.requests.Load()
	again := New(newOwner("1.0"), env, "lib-1.0", "jar")
	assert.True(t, again.IsDownloadedOrDownload(context.Background(), types.LevelLocal))
	assert.True(t, again.HasMatchingChecksum(context.Background(), types.LevelNetwork))
	assert.Equal(t, before, repo.requests.Load(), "stored checksums need no requests")
}

func TestDownloadRejectsMismatchingChecksum(t *testing.T) {
	repo := newRepo(t, map[string]string{
		jarPath:           "tampered",
		jarPath + ".sha1": digest(t, hashing.SHA1, "original"),
	})
	root := t.TempDir()
	owner := newOwner("1.0")
	f := New(owner, newEnv(t, root, repo), "lib-1.0", "jar")

	assert.False(t, f.Download(context.Background()))
	assert.Contains(t, owner.ids(), types.DiagHashesMismatch)
	assert.NoFileExists(t, filepath.Join(root, "m2", "org", "example", "lib", "1.0", "lib-1.0.jar"))
}

func TestDownloadWithoutChecksumsFails(t *testing.T) {
	repo := newRepo(t, map[string]string{jarPath: "content"})
	owner := newOwner("1.0")
	f := New(owner, newEnv(t, t.TempDir(), repo), "lib-1.0", "jar")

	assert.False(t, f.Download(context.Background()))
	assert.Equal(t, []string{types.DiagUnableToDownloadChecksums}, owner.ids())
}

func TestDeclaredHashAvoidsChecksumRequests(t *testing.T) {
	content := "declared"
	repo := newRepo(t, map[string]string{jarPath: content})
	owner := newOwner("1.0")
	owner.declared = map[string]Declared{"lib-1.0.jar": {Name: "lib-1.0.jar", Size: int64(len(content)), SHA256: digest(t, hashing.SHA256, content)}}
	f := New(owner, newEnv(t, t.TempDir(), repo), "lib-1.0", "jar")

	require.True(t, f.Download(context.Background()))
	assert.EqualValues(t, 1, repo.requests.Load())
}

func TestDeclaredSizeMismatch(t *testing.T) {
	content := "sized"
	repo := newRepo(t, map[string]string{jarPath: content})
	owner := newOwner("1.0")
	owner.declared = map[string]Declared{"lib-1.0.jar": {Size: 999, SHA1: digest(t, hashing.SHA1, content)}}
	f := New(owner, newEnv(t, t.TempDir(), repo), "lib-1.0", "jar")

	assert.False(t, f.Download(context.Background()))
	assert.Equal(t, []string{types.DiagContentLengthMismatch}, owner.ids())
}

func TestDownloadFallsBackToNextRepository(t *testing.T) {
	empty := newRepo(t, map[string]string{})
	content := "from second"
	full := newRepo(t, map[string]string{
		jarPath:           content,
		jarPath + ".sha1": digest(t, hashing.SHA1, content),
	})
	owner := newOwner("1.0")
	f := New(owner, newEnv(t, t.TempDir(), empty, full), "lib-1.0", "jar")

	require.True(t, f.Download(context.Background()))
	require.Len(t, owner.messages, 1)
	assert.Equal(t, "Downloaded from "+full.URL, owner.messages[0].Text)
}

func TestCorruptedFileIsDownloadedAgain(t *testing.T) {
	content := "good bytes"
	repo := newRepo(t, map[string]string{
		jarPath:           content,
		jarPath + ".sha1": digest(t, hashing.SHA1, content),
	})
	env := newEnv(t, t.TempDir(), repo)
	f := New(newOwner("1.0"), env, "lib-1.0", "jar")
	require.True(t, f.Download(context.Background()))
	require.NoError(t, os.WriteFile(f.Path(), []byte("bit rot"), 0o644))

	again := New(newOwner("1.0"), env, "lib-1.0", "jar")
	assert.False(t, again.HasMatchingChecksum(context.Background(), types.LevelLocal))
	require.True(t, again.IsDownloadedOrDownload(context.Background(), types.LevelNetwork))
	data, err := os.ReadFile(again.Path())
	require.NoError(t, err)
	assert.Equal(t, content, string(data))
}

func TestReadOnlyGradleFileIsCopiedToPrimary(t *testing.T) {
	root := t.TempDir()
	env := newEnv(t, root)
	content := "cached by gradle"
	sha1 := digest(t, hashing.SHA1, content)
	gradlePath := filepath.Join(root, "gradle", "org.example", "lib", "1.0", sha1, "lib-1.0.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(gradlePath), 0o755))
	require.NoError(t, os.WriteFile(gradlePath, []byte(content), 0o644))

	f := New(newOwner("1.0"), env, "lib-1.0", "jar")
	assert.Equal(t, gradlePath, f.Path())
	require.True(t, f.IsDownloadedOrDownload(context.Background(), types.LevelLocal))
	assert.Equal(t, filepath.Join(root, "m2", "org", "example", "lib", "1.0", "lib-1.0.jar"), f.Path())
	assert.FileExists(t, gradlePath)
}

func TestGradleDirectoryNameIsChecked(t *testing.T) {
	root := t.TempDir()
	env := newEnv(t, root)
	wrong := digest(t, hashing.SHA1, "something else")
	gradlePath := filepath.Join(root, "gradle", "org.example", "lib", "1.0", wrong, "lib-1.0.jar")
	require.NoError(t, os.MkdirAll(filepath.Dir(gradlePath), 0o755))
	require.NoError(t, os.WriteFile(gradlePath, []byte("content"), 0o644))

	f := New(newOwner("1.0"), env, "lib-1.0", "jar")
	assert.False(t, f.IsDownloadedOrDownload(context.Background(), types.LevelLocal))
}

func TestSnapshotUsesTimestampedName(t *testing.T) {
	content := "snapshot jar"
	base := "/org/example/lib/1.0-SNAPSHOT/"
	repo := newRepo(t, map[string]string{
		base + "maven-metadata.xml": `<metadata><versioning><snapshotVersions>
<snapshotVersion><extension>jar</extension><value>1.0-20240102.030405-7</value></snapshotVersion>
</snapshotVersions></versioning></metadata>`,
		base + "lib-1.0-20240102.030405-7.jar":      content,
		base + "lib-1.0-20240102.030405-7.jar.sha1": digest(t, hashing.SHA1, content),
	})
	root := t.TempDir()
	env := newEnv(t, root, repo)

	f := New(newOwner("1.0-SNAPSHOT"), env, "lib-1.0-SNAPSHOT", "jar")
	require.True(t, f.IsDownloadedOrDownload(context.Background(), types.LevelNetwork))
	assert.Equal(t, filepath.Join(root, "m2", "org", "example", "lib", "1.0-SNAPSHOT", "lib-1.0-SNAPSHOT.jar"), f.Path())

	recorded, err := os.ReadFile(filepath.Join(root, "caches", "maven-metadata", "org", "example", "lib", "1.0-SNAPSHOT", "jar.version"))
	require.NoError(t, err)
	assert.Equal(t, "1.0-20240102.030405-7", string(recorded))

	again := New(newOwner("1.0-SNAPSHOT"), env, "lib-1.0-SNAPSHOT", "jar")
	assert.True(t, again.IsDownloaded())
}

func TestKeptFileKeepsItsSidecar(t *testing.T) {
	root := t.TempDir()
	env := newEnv(t, root)
	f := New(newOwner("1.0"), env, "lib-1.0", "jar")
	dir := filepath.Join(root, "m2", "org", "example", "lib", "1.0")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	target := filepath.Join(dir, "lib-1.0.jar")

	temp := filepath.Join(dir, "first.tmp")
	require.NoError(t, os.WriteFile(temp, []byte("first"), 0o644))
	require.NoError(t, f.publish(context.Background(), temp, target, digest(t, hashing.SHA1, "first"), registry.Repository{}, false))
	sidecar, err := os.ReadFile(target + ".sha1")
	require.NoError(t, err)
	assert.Equal(t, digest(t, hashing.SHA1, "first"), string(sidecar))

	temp = filepath.Join(dir, "second.tmp")
	require.NoError(t, os.WriteFile(temp, []byte("second"), 0o644))
	require.NoError(t, f.publish(context.Background(), temp, target, digest(t, hashing.SHA1, "second"), registry.Repository{}, false))

	data, err := os.ReadFile(target)
	require.NoError(t, err)
	assert.Equal(t, "first", string(data))
	sidecar, err = os.ReadFile(target + ".sha1")
	require.NoError(t, err)
	assert.Equal(t, digest(t, hashing.SHA1, "first"), string(sidecar))
	assert.NoFileExists(t, temp)
}

func TestOpenBreakerIsNamedInDiagnostic(t *testing.T) {
	server := httptest.NewServer(http.NotFoundHandler())
	url := server.URL
	server.Close()

	opts := registry.DefaultOptions()
	opts.Retries = 0
	opts.BreakerFailures = 1
	root := t.TempDir()
	cache := repository.NewFileCache(root, repository.NewMavenRepository(filepath.Join(root, "m2")))
	env := NewEnv(registry.NewClientWith(http.DefaultClient, opts), []registry.Repository{{URL: url}}, cache, concurrency.NewLimiter(2))
	owner := newOwner("1.0")

	assert.False(t, New(owner, env, "lib-1.0", "pom").Download(context.Background()))
	assert.False(t, New(owner, env, "lib-1.0", "jar").Download(context.Background()))

	owner.mu.Lock()
	defer owner.mu.Unlock()
	require.Len(t, owner.messages, 2)
	assert.Equal(t, types.DiagUnableToReachURL, owner.messages[0].ID)
	assert.NotContains(t, owner.messages[0].Text, "failed repeatedly")
	assert.Equal(t, types.DiagUnableToReachURL, owner.messages[1].ID)
	assert.Contains(t, owner.messages[1].Text, "the repository host failed repeatedly")
	assert.ErrorIs(t, owner.messages[1].Err, registry.ErrBreakerOpen)
}

func TestWithoutBrokenHashes(t *testing.T) {
	hs, err := hashing.New()
	require.NoError(t, err)
	portal := &registry.Repository{URL: "https://plugins.gradle.org/m2/"}
	assert.Len(t, withoutBrokenHashes(hs, portal), 2)
	assert.Len(t, withoutBrokenHashes(hs, &registry.Repository{URL: registry.DefaultRepositoryURL}), 4)
	assert.Len(t, withoutBrokenHashes(hs, nil), 4)
}

func TestSanitizeHash(t *testing.T) {
	assert.Equal(t, "abc", sanitizeHash("ABC  lib.jar\n"))
	assert.Equal(t, "", sanitizeHash("  \n"))
}
