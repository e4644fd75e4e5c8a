package files

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"depres/pkg/log"
	"depres/pkg/metadata/mavenmeta"
	"depres/pkg/registry"
	"depres/pkg/repository"
)

// metadataTTL is how long a cached maven-metadata.xml of a snapshot is trusted.
const metadataTTL = 24 * time.Hour

// snapshot resolves the timestamped file name of a -SNAPSHOT version through maven-metadata.xml.
// A "<extension>.version" file next to the cached metadata records which timestamp the local copy
// of the file came from.
type snapshot struct {
	file *File
	// metadata is nil when file is the maven-metadata.xml itself.
	metadata *File

	mu     sync.Mutex
	value  string
	loaded bool
}

func newSnapshot(f *File) *snapshot {
	s := &snapshot{file: f}
	if f.Name() != mavenmeta.FileName {
		cache := repository.NewFileCache(f.cache.Root, repository.NewMavenRepository(f.cache.MetadataDir()))
		name := strings.TrimSuffix(mavenmeta.FileName, ".xml")
		s.metadata = newFile(f.owner, f.env, cache, name, "xml")
	}
	return s
}

func (s *snapshot) isDownloaded() bool {
	p := s.file.Path()
	if p == "" {
		return false
	}
	info, err := os.Stat(p)
	if err != nil {
		return false
	}
	if s.metadata == nil {
		return time.Since(info.ModTime()) < metadataTTL
	}
	if !s.metadata.IsDownloaded() {
		return false
	}
	recorded, ok := s.recordedVersion()
	return ok && recorded == s.snapshotValue()
}

func (s *snapshot) versionFile() string {
	p := s.metadata.Path()
	if p == "" {
		return ""
	}
	return filepath.Join(filepath.Dir(p), s.file.Extension+".version")
}

func (s *snapshot) recordedVersion() (string, bool) {
	vf := s.versionFile()
	if vf == "" {
		return "", false
	}
	data, err := os.ReadFile(vf)
	if err != nil {
		return "", false
	}
	return strings.TrimSpace(string(data)), true
}

// snapshotValue is the timestamped version published for the file's extension, "" when unknown.
func (s *snapshot) snapshotValue() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.loaded {
		return s.value
	}
	data, err := s.metadata.ReadBytes()
	if err != nil {
		return ""
	}
	m, err := mavenmeta.Parse(data)
	if err != nil {
		log.Debug("Unable to parse snapshot metadata", map[string]interface{}{"file": s.metadata.String(), "error": err.Error()})
		s.loaded = true
		return ""
	}
	extension, _, _ := strings.Cut(s.file.Extension, ".")
	s.value, _ = m.SnapshotValue(extension)
	s.loaded = true
	return s.value
}

// remoteName is the file name to request from repo: the version part is replaced by the
// timestamped snapshot version when repo publishes one.
func (s *snapshot) remoteName(ctx context.Context, repo registry.Repository) string {
	name := s.file.Name()
	if s.metadata == nil {
		return name
	}
	if !s.metadata.IsDownloaded() && !s.refreshMetadata(ctx, repo) {
		return name
	}
	value := s.snapshotValue()
	if value == "" {
		return name
	}
	v := s.file.owner.Coordinates().Version
	return strings.Replace(s.file.NameWithoutExtension, v, value, 1) + "." + s.file.Extension
}

// refreshMetadata downloads maven-metadata.xml once per location and repository, however many
// files of the snapshot ask for it concurrently.
func (s *snapshot) refreshMetadata(ctx context.Context, repo registry.Repository) bool {
	key := s.metadata.Path() + "|" + repo.URL
	ok, _, _ := s.file.env.flight.Do(key, func() (interface{}, error) {
		return s.metadata.download(ctx, []registry.Repository{repo}, false, true), nil
	})
	return ok.(bool)
}

func (s *snapshot) shouldOverwrite() bool {
	if s.metadata == nil {
		return true
	}
	recorded, ok := s.recordedVersion()
	return !ok || recorded != s.snapshotValue()
}

func (s *snapshot) onDownloaded() {
	if s.metadata == nil {
		return
	}
	value := s.snapshotValue()
	vf := s.versionFile()
	if value == "" || vf == "" {
		return
	}
	if err := os.MkdirAll(filepath.Dir(vf), 0o755); err != nil {
		return
	}
	if err := os.WriteFile(vf, []byte(value), 0o644); err != nil {
		log.Debug("Unable to record snapshot version", map[string]interface{}{"path": vf, "error": err.Error()})
	}
}

func (f *File) remoteName(ctx context.Context, repo registry.Repository) string {
	if f.snapshot != nil {
		return f.snapshot.remoteName(ctx, repo)
	}
	return f.Name()
}
