// Package repository maps library coordinates onto directories of local artifact repositories.
package repository

import (
	"os"
	"path/filepath"

	"depres/pkg/types"
)

// Artifact is what a layout needs to know about the library a file belongs to.
type Artifact interface {
	Coordinates() types.Coordinates
	// KnownSHA1 returns the sha1 of name when metadata already declared it, or "".
	KnownSHA1(name string) string
}

// LocalRepository is one on-disk layout.
type LocalRepository interface {
	// GuessPath returns where name most likely is, or "" when it cannot be located without its hash.
	GuessPath(a Artifact, name string) string
	// TempDir is where downloads of the artifact are staged before being moved into place.
	TempDir(a Artifact) string
	// Path is the final location of name whose content hashes to sha1.
	Path(a Artifact, name, sha1 string) string
	Root() string
	String() string
}

// GradleRepository lays files out as <root>/<group>/<module>/<version>/<sha1>/<name>.
type GradleRepository struct {
	root string
}

func NewGradleRepository(root string) *GradleRepository {
	return &GradleRepository{root: root}
}

// DefaultGradleRepository is the files cache of the current Gradle user home.
func DefaultGradleRepository() *GradleRepository {
	return NewGradleRepository(filepath.Join(GradleUserHome(), "caches", "modules-2", "files-2.1"))
}

func GradleUserHome() string {
	if home := os.Getenv("GRADLE_USER_HOME"); home != "" {
		return home
	}
	return filepath.Join(userHome(), ".gradle")
}

func (r *GradleRepository) Root() string { return r.root }

func (r *GradleRepository) String() string { return "gradle:" + r.root }

func (r *GradleRepository) versionDir(a Artifact) string {
	c := a.Coordinates()
	return filepath.Join(r.root, c.Group, c.Module, c.Version)
}

func (r *GradleRepository) GuessPath(a Artifact, name string) string {
	if sha1 := a.KnownSHA1(name); sha1 != "" {
		return filepath.Join(r.versionDir(a), sha1, name)
	}
	entries, err := os.ReadDir(r.versionDir(a))
	if err != nil {
		return ""
	}
	for _, entry := range entries {
		if !entry.IsDir() {
			continue
		}
		candidate := filepath.Join(r.versionDir(a), entry.Name(), name)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func (r *GradleRepository) TempDir(a Artifact) string {
	return r.versionDir(a)
}

func (r *GradleRepository) Path(a Artifact, name, sha1 string) string {
	return filepath.Join(r.versionDir(a), sha1, name)
}

// MavenRepository lays files out as <root>/<group as path>/<module>/<version>/<name>.
type MavenRepository struct {
	root string
}

func NewMavenRepository(root string) *MavenRepository {
	return &MavenRepository{root: root}
}

func (r *MavenRepository) Root() string { return r.root }

func (r *MavenRepository) String() string { return "maven:" + r.root }

func (r *MavenRepository) dir(a Artifact) string {
	c := a.Coordinates()
	return filepath.Join(r.root, filepath.FromSlash(c.GroupPath()), c.Module, c.Version)
}

func (r *MavenRepository) GuessPath(a Artifact, name string) string {
	return filepath.Join(r.dir(a), name)
}

func (r *MavenRepository) TempDir(a Artifact) string {
	return r.dir(a)
}

func (r *MavenRepository) Path(a Artifact, name, _ string) string {
	return filepath.Join(r.dir(a), name)
}

// RelativePath is the repository-relative path of name in the Maven layout, as used in URLs.
func RelativePath(c types.Coordinates, name string) string {
	return c.GroupPath() + "/" + c.Module + "/" + c.Version + "/" + name
}

func userHome() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return home
}
