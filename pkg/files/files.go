// Package files acquires artifact files: it finds them in local repositories, downloads them
// from remote ones and verifies their checksums.
package files

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"golang.org/x/sync/singleflight"

	"depres/pkg/concurrency"
	"depres/pkg/hashing"
	"depres/pkg/log"
	"depres/pkg/metrics"
	"depres/pkg/registry"
	"depres/pkg/repository"
	"depres/pkg/types"
	"depres/pkg/version"
)

// ErrChecksumMismatch is attached to HashesMismatch messages.
var ErrChecksumMismatch = errors.New("checksum mismatch")

// gradlePluginPortal publishes sha256 and sha512 files that do not match the artifacts.
const gradlePluginPortal = "https://plugins.gradle.org/m2"

type VerificationResult int

const (
	Passed VerificationResult = iota
	Unknown
	Failed
)

func (r VerificationResult) String() string {
	switch r {
	case Passed:
		return "PASSED"
	case Failed:
		return "FAILED"
	}
	return "UNKNOWN"
}

// Declared is what module metadata states about a file.
type Declared struct {
	Name   string
	Size   int64
	SHA512 string
	SHA256 string
	SHA1   string
	MD5    string
}

func (d Declared) Hash(algorithm string) string {
	switch algorithm {
	case hashing.SHA512:
		return d.SHA512
	case hashing.SHA256:
		return d.SHA256
	case hashing.SHA1:
		return d.SHA1
	case hashing.MD5:
		return d.MD5
	}
	return ""
}

// Owner is the library a file belongs to. Diagnostics about the file are added to it.
type Owner interface {
	Coordinates() types.Coordinates
	// DeclaredFile returns the metadata entry describing name, if any.
	DeclaredFile(name string) (Declared, bool)
	AddMessage(m types.Message)
}

// Env is shared by all files of a resolution.
type Env struct {
	Client       *registry.Client
	Repositories []registry.Repository
	Cache        *repository.FileCache
	Limiter      *concurrency.Limiter

	flight singleflight.Group
}

func NewEnv(client *registry.Client, repositories []registry.Repository, cache *repository.FileCache, limiter *concurrency.Limiter) *Env {
	if limiter == nil {
		limiter = concurrency.NewLimiter(concurrency.DefaultParallelDownloads)
	}
	return &Env{Client: client, Repositories: repositories, Cache: cache, Limiter: limiter}
}

type artifact struct {
	owner Owner
}

func (a artifact) Coordinates() types.Coordinates { return a.owner.Coordinates() }

func (a artifact) KnownSHA1(name string) string {
	if d, ok := a.owner.DeclaredFile(name); ok && d.SHA1 != "" {
		return hashing.PadHash(strings.ToLower(d.SHA1), hashing.SHA1)
	}
	return ""
}

// File is one file of a library, such as its pom, its Gradle module file or a jar.
type File struct {
	NameWithoutExtension string
	Extension            string

	owner    Owner
	env      *Env
	cache    *repository.FileCache
	snapshot *snapshot

	mu   sync.Mutex
	dir  repository.LocalRepository
	path string
}

func New(owner Owner, env *Env, nameWithoutExtension, extension string) *File {
	return newFile(owner, env, env.Cache, nameWithoutExtension, extension)
}

func newFile(owner Owner, env *Env, cache *repository.FileCache, nameWithoutExtension, extension string) *File {
	f := &File{
		NameWithoutExtension: nameWithoutExtension,
		Extension:            extension,
		owner:                owner,
		env:                  env,
		cache:                cache,
	}
	if version.IsSnapshot(owner.Coordinates().Version) {
		f.snapshot = newSnapshot(f)
	}
	return f
}

func (f *File) Name() string {
	return f.NameWithoutExtension + "." + f.Extension
}

func (f *File) String() string {
	return f.owner.Coordinates().String() + ":" + f.Name()
}

func (f *File) artifact() artifact {
	return artifact{owner: f.owner}
}

// directory is the first local repository already holding the file, else the primary one.
func (f *File) directory() repository.LocalRepository {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.dir != nil {
		return f.dir
	}
	for _, r := range f.cache.All() {
		if p := r.GuessPath(f.artifact(), f.Name()); p != "" && exists(p) {
			f.dir = r
			return r
		}
	}
	f.dir = f.cache.Primary
	return f.dir
}

func (f *File) retarget(dir repository.LocalRepository, path string) {
	f.mu.Lock()
	f.dir = dir
	f.path = path
	f.mu.Unlock()
}

func (f *File) isPrimary() bool {
	return f.directory() == f.cache.Primary
}

// Path is where the file is or would be stored, "" when that depends on a hash not known yet.
func (f *File) Path() string {
	f.mu.Lock()
	p := f.path
	f.mu.Unlock()
	if p != "" {
		return p
	}
	return f.directory().GuessPath(f.artifact(), f.Name())
}

func (f *File) IsDownloaded() bool {
	if f.snapshot != nil {
		return f.snapshot.isDownloaded()
	}
	p := f.Path()
	return p != "" && exists(p)
}

func (f *File) ReadBytes() ([]byte, error) {
	p := f.Path()
	if p == "" {
		return nil, fmt.Errorf("%s is not stored locally: %w", f, fs.ErrNotExist)
	}
	return os.ReadFile(p)
}

// HasMatchingChecksum verifies the stored file against every configured repository in order.
// The first repository with an opinion decides. When none has one the file is trusted at the
// LOCAL level only.
func (f *File) HasMatchingChecksum(ctx context.Context, level types.ResolutionLevel) bool {
	return f.hasMatchingChecksum(ctx, level, f.env.Repositories, false)
}

func (f *File) hasMatchingChecksum(ctx context.Context, level types.ResolutionLevel, repos []registry.Repository, locked bool) bool {
	p := f.Path()
	if p == "" {
		return false
	}
	hs, err := hashing.File(p)
	if err != nil {
		log.Debug("Unable to hash file", map[string]interface{}{"path": p, "error": err.Error()})
		return false
	}
	if len(repos) == 0 {
		switch f.verify(ctx, hs, nil, level, locked, false) {
		case Passed:
			return true
		case Failed:
			return false
		}
		return level < types.LevelNetwork
	}
	for i := range repos {
		switch f.verify(ctx, hs, &repos[i], level, locked, false) {
		case Passed:
			return true
		case Failed:
			return false
		}
	}
	return level < types.LevelNetwork
}

// IsDownloadedOrDownload returns true when the file is available and verified at level,
// downloading it first if the level allows network access.
func (f *File) IsDownloadedOrDownload(ctx context.Context, level types.ResolutionLevel) bool {
	if f.IsDownloaded() && f.HasMatchingChecksum(ctx, level) {
		f.adopt(ctx)
		return true
	}
	if level == types.LevelNetwork {
		return f.Download(ctx)
	}
	return false
}

// Download fetches the file from the first repository that has it and whose checksums match.
func (f *File) Download(ctx context.Context) bool {
	return f.download(ctx, f.env.Repositories, true, false)
}

func (f *File) download(ctx context.Context, repos []registry.Repository, verify, locked bool) bool {
	if !f.isPrimary() {
		f.retarget(f.cache.Primary, "")
	}
	dir := f.directory()
	tempDir := dir.TempDir(f.artifact())
	if !locked {
		unlock, err := concurrency.DoubleLock(ctx,
			filepath.Join(tempDir, f.Name()),
			filepath.Join(tempDir, "~"+f.Name()+".lock"))
		if err != nil {
			if ctx.Err() == nil {
				f.owner.AddMessage(types.NewMessage(types.DiagUnableToSaveFile, types.SeverityError,
					"Unable to lock %s", f).WithErr(err))
			}
			return false
		}
		defer unlock()
		if f.IsDownloaded() && (!verify || f.hasMatchingChecksum(ctx, types.LevelNetwork, repos, true)) {
			return true
		}
	}
	return f.downloadLocked(ctx, dir, tempDir, repos, verify)
}

func (f *File) downloadLocked(ctx context.Context, dir repository.LocalRepository, tempDir string, repos []registry.Repository, verify bool) bool {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		f.owner.AddMessage(types.NewMessage(types.DiagUnableToSaveFile, types.SeverityError,
			"Unable to save downloaded file %s", f).WithErr(err))
		return false
	}
	algorithms := []string{hashing.SHA1}
	if verify {
		algorithms = hashing.Algorithms
	}

	for i := range repos {
		if ctx.Err() != nil {
			return false
		}
		repo := &repos[i]
		hs, err := hashing.New(algorithms...)
		if err != nil {
			return false
		}
		hs = withoutBrokenHashes(hs, repo)
		temp := filepath.Join(tempDir, concurrency.TempFileName(f.Name()))
		if !f.fetch(ctx, *repo, temp, hs) {
			_ = os.Remove(temp)
			continue
		}
		if verify {
			switch f.verify(ctx, hs, repo, types.LevelNetwork, true, true) {
			case Passed:
			case Unknown:
				f.owner.AddMessage(types.NewMessage(types.DiagUnableToDownloadChecksums, types.SeverityError,
					"Unable to download checksums of %s", f).WithExtra(repo.URL))
				_ = os.Remove(temp)
				continue
			default:
				_ = os.Remove(temp)
				continue
			}
		}

		sha1, _ := hs.Get(hashing.SHA1)
		target := dir.Path(f.artifact(), f.Name(), sha1.Hash())
		if err := f.publish(ctx, temp, target, sha1.Hash(), *repo, verify); err != nil {
			_ = os.Remove(temp)
			f.owner.AddMessage(types.NewMessage(types.DiagUnableToSaveFile, types.SeverityError,
				"Unable to save downloaded file %s", f).WithErr(err))
			return false
		}
		f.retarget(dir, target)
		if f.snapshot != nil {
			f.snapshot.onDownloaded()
		}
		if verify {
			f.owner.AddMessage(types.NewMessage(types.DiagDownloaded, types.SeverityInfo,
				"Downloaded from %s", repo.URL))
		}
		metrics.File("remote", "downloaded")
		return true
	}
	return false
}

// fetch downloads f from repo into temp, feeding hs along the way.
func (f *File) fetch(ctx context.Context, repo registry.Repository, temp string, hs hashing.Hashers) bool {
	name := f.remoteName(ctx, repo)
	path := repository.RelativePath(f.owner.Coordinates(), name)
	fileURL := repo.FileURL(path)

	out, err := os.Create(temp)
	if err != nil {
		f.owner.AddMessage(types.NewMessage(types.DiagUnableToSaveFile, types.SeverityError,
			"Unable to save downloaded file %s", f).WithErr(err))
		return false
	}
	var written int64
	err = f.env.Limiter.Do(ctx, func() error {
		n, err := f.env.Client.Download(ctx, repo, path, func(int64) (io.Writer, error) {
			if err := out.Truncate(0); err != nil {
				return nil, err
			}
			if _, err := out.Seek(0, io.SeekStart); err != nil {
				return nil, err
			}
			hs.Reset()
			return io.MultiWriter(out, hs.Writer()), nil
		})
		written = n
		return err
	})
	if closeErr := out.Close(); err == nil && closeErr != nil {
		f.owner.AddMessage(types.NewMessage(types.DiagUnableToSaveFile, types.SeverityError,
			"Unable to save downloaded file %s", f).WithErr(closeErr))
		return false
	}

	var lengthErr *registry.ContentLengthError
	switch {
	case err == nil:
	case errors.Is(err, registry.ErrNotFound):
		log.Debug("File not found in repository", map[string]interface{}{"url": fileURL})
		return false
	case ctx.Err() != nil:
		return false
	case errors.As(err, &lengthErr):
		f.owner.AddMessage(types.NewMessage(types.DiagContentLengthMismatch, types.SeverityError,
			"Content length doesn't match for %s", fileURL).
			WithExtra(fmt.Sprintf("expected: %d, actual: %d", lengthErr.Expected, lengthErr.Actual)).WithErr(err))
		return false
	case errors.Is(err, registry.ErrBreakerOpen):
		log.Debug("Request skipped by circuit breaker", map[string]interface{}{"url": fileURL})
		f.owner.AddMessage(types.NewMessage(types.DiagUnableToReachURL, types.SeverityError,
			"Unable to reach %s: not requested, the repository host failed repeatedly", fileURL).WithErr(err))
		return false
	default:
		log.Warn("Unable to reach repository", map[string]interface{}{"url": fileURL, "error": err.Error()})
		f.owner.AddMessage(types.NewMessage(types.DiagUnableToReachURL, types.SeverityError,
			"Unable to reach %s", fileURL).WithErr(err))
		return false
	}

	if d, ok := f.owner.DeclaredFile(f.Name()); ok && d.Size > 0 && written != d.Size {
		f.owner.AddMessage(types.NewMessage(types.DiagContentLengthMismatch, types.SeverityError,
			"Content length doesn't match for %s", fileURL).
			WithExtra(fmt.Sprintf("expected: %d, actual: %d", d.Size, written)))
		return false
	}
	log.Debug("Downloaded file", map[string]interface{}{"url": fileURL, "bytes": written})
	return true
}

// publish moves a verified temp file to target and records its sha1 next to it. An existing
// target that is kept keeps its own sidecar.
func (f *File) publish(ctx context.Context, temp, target, sha1 string, repo registry.Repository, verify bool) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return err
	}
	if exists(target) && !f.shouldOverwrite(ctx, target, repo, verify) {
		log.Trace("Keeping existing file", map[string]interface{}{"path": target})
		return os.Remove(temp)
	}
	if err := os.Rename(temp, target); err != nil {
		return err
	}
	return os.WriteFile(target+".sha1", []byte(sha1), 0o644)
}

func (f *File) shouldOverwrite(ctx context.Context, target string, repo registry.Repository, verify bool) bool {
	if f.snapshot != nil {
		return f.snapshot.shouldOverwrite()
	}
	if !verify {
		return false
	}
	hs, err := hashing.File(target)
	if err != nil {
		return true
	}
	return f.verify(ctx, withoutBrokenHashes(hs, &repo), &repo, types.LevelNetwork, true, false) != Passed
}

// verify compares hs against the expected hashes, strongest algorithm first. The LOCAL level is
// tried before level so that locally known hashes never cost a request. report controls whether a
// mismatch becomes an ERROR message on the owner.
func (f *File) verify(ctx context.Context, hs hashing.Hashers, repo *registry.Repository, level types.ResolutionLevel, locked, report bool) VerificationResult {
	levels := []types.ResolutionLevel{types.LevelLocal}
	if level != types.LevelLocal {
		levels = append(levels, level)
	}
	hs = withoutBrokenHashes(hs, repo)
	for _, lvl := range levels {
		for _, h := range hs {
			expected := f.expectedHash(ctx, h.Algorithm, repo, lvl, locked)
			if expected == "" {
				continue
			}
			actual := h.Hash()
			if expected == actual {
				return Passed
			}
			metrics.ChecksumMismatch()
			fields := map[string]interface{}{"file": f.String(), "algorithm": h.Algorithm, "expected": expected, "actual": actual}
			if report {
				log.Warn("Hashes don't match", fields)
				f.owner.AddMessage(types.NewMessage(types.DiagHashesMismatch, types.SeverityError,
					"Hashes don't match for %s of %s", h.Algorithm, f).
					WithExtra(fmt.Sprintf("expected: %s, actual: %s", expected, actual)).
					WithErr(ErrChecksumMismatch))
			} else {
				log.Debug("Hashes don't match", fields)
			}
			return Failed
		}
	}
	return Unknown
}

// expectedHash looks for the hash of f in metadata, then in the Gradle directory name, then in
// the checksum file published next to f. Checksum files are only downloaded at the NETWORK level.
func (f *File) expectedHash(ctx context.Context, algorithm string, repo *registry.Repository, level types.ResolutionLevel, locked bool) string {
	if d, ok := f.owner.DeclaredFile(f.Name()); ok {
		if h := d.Hash(algorithm); h != "" {
			return hashing.PadHash(strings.ToLower(h), algorithm)
		}
	}
	if algorithm == hashing.SHA1 {
		if _, ok := f.directory().(*repository.GradleRepository); ok {
			if p := f.Path(); p != "" {
				return hashing.PadHash(filepath.Base(filepath.Dir(p)), hashing.SHA1)
			}
		}
	}

	sidecar := newFile(f.owner, f.env, f.cache, f.NameWithoutExtension, f.Extension+"."+algorithm)
	available := sidecar.IsDownloaded()
	if !available && level == types.LevelNetwork && repo != nil {
		available = sidecar.download(ctx, []registry.Repository{*repo}, false, locked)
	}
	if !available {
		return ""
	}
	data, err := sidecar.ReadBytes()
	if err != nil {
		return ""
	}
	return sanitizeHash(string(data))
}

// adopt copies a verified file found in a read-only repository into the primary one. The
// read-only copy stays in use when that fails.
func (f *File) adopt(ctx context.Context) {
	if f.isPrimary() {
		metrics.File("local", "reused")
		return
	}
	src := f.Path()
	primary := f.cache.Primary
	tempDir := primary.TempDir(f.artifact())
	unlock, err := concurrency.DoubleLock(ctx, filepath.Join(tempDir, f.Name()), filepath.Join(tempDir, "~"+f.Name()+".lock"))
	if err != nil {
		return
	}
	defer unlock()

	temp := filepath.Join(tempDir, concurrency.TempFileName(f.Name()))
	sha1, err := copyFile(src, temp)
	if err == nil {
		target := primary.Path(f.artifact(), f.Name(), sha1)
		if err = os.MkdirAll(filepath.Dir(target), 0o755); err == nil {
			if err = os.WriteFile(target+".sha1", []byte(sha1), 0o644); err == nil {
				err = os.Rename(temp, target)
			}
		}
		if err == nil {
			log.Debug("Copied file into the primary repository", map[string]interface{}{"from": src, "to": target})
			f.retarget(primary, target)
			metrics.File("local", "copied")
			return
		}
	}
	_ = os.Remove(temp)
	log.Debug("Unable to copy file into the primary repository", map[string]interface{}{"path": src, "error": err.Error()})
	metrics.File("local", "reused")
}

func copyFile(src, dst string) (string, error) {
	in, err := os.Open(src)
	if err != nil {
		return "", err
	}
	defer in.Close()
	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return "", err
	}
	out, err := os.Create(dst)
	if err != nil {
		return "", err
	}
	hs, err := hashing.New(hashing.SHA1)
	if err != nil {
		_ = out.Close()
		return "", err
	}
	if _, err := hashing.Copy(out, in, hs); err != nil {
		_ = out.Close()
		return "", err
	}
	if err := out.Close(); err != nil {
		return "", err
	}
	return hs[0].Hash(), nil
}

func withoutBrokenHashes(hs hashing.Hashers, repo *registry.Repository) hashing.Hashers {
	if repo != nil && strings.TrimSuffix(repo.URL, "/") == gradlePluginPortal {
		return hs.Without(hashing.SHA512, hashing.SHA256)
	}
	return hs
}

// sanitizeHash keeps the first word of a checksum file; some publish "<hash>  <file name>".
func sanitizeHash(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	return strings.ToLower(fields[0])
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
