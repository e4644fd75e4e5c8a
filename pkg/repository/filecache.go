package repository

import (
	"encoding/xml"
	"os"
	"path/filepath"
	"regexp"
	"strings"

	"depres/pkg/log"
)

// FileCache groups the writable primary repository with read-only repositories that are only
// consulted to avoid network downloads.
type FileCache struct {
	// Root hosts cache data that belongs to no layout (maven-metadata.xml copies, KMP klibs).
	Root     string
	Primary  LocalRepository
	ReadOnly []LocalRepository
}

func NewFileCache(root string, primary LocalRepository, readOnly ...LocalRepository) *FileCache {
	return &FileCache{Root: root, Primary: primary, ReadOnly: readOnly}
}

// DefaultCacheRoot is $DEPRES_CACHE or ~/.depres.
func DefaultCacheRoot() string {
	if root := os.Getenv("DEPRES_CACHE"); root != "" {
		return root
	}
	return filepath.Join(userHome(), ".depres")
}

// DefaultFileCache writes into a Maven layout under root and reads the Gradle files cache and
// the Maven local repository.
func DefaultFileCache(root, mavenRepoLocal string) *FileCache {
	if root == "" {
		root = DefaultCacheRoot()
	}
	return NewFileCache(root,
		NewMavenRepository(filepath.Join(root, "m2")),
		DefaultGradleRepository(),
		NewMavenRepository(MavenLocalRoot(mavenRepoLocal)),
	)
}

// All returns the primary repository followed by the read-only ones.
func (c *FileCache) All() []LocalRepository {
	return append([]LocalRepository{c.Primary}, c.ReadOnly...)
}

func (c *FileCache) MetadataDir() string {
	return filepath.Join(c.Root, "caches", "maven-metadata")
}

func (c *FileCache) KotlinMetadataDir() string {
	return filepath.Join(c.Root, "kotlin", "kotlinTransformedMetadataLibraries")
}

type mavenSettings struct {
	XMLName         xml.Name `xml:"settings"`
	LocalRepository string   `xml:"localRepository"`
}

var settingsPlaceholder = regexp.MustCompile(`\$\{([^}]+)\}`)

// MavenLocalRoot finds the Maven local repository: an explicit override (maven.repo.local), then
// ~/.m2/settings.xml, then $M2_HOME/conf/settings.xml, then ~/.m2/repository.
func MavenLocalRoot(override string) string {
	if override != "" {
		return override
	}
	candidates := []string{filepath.Join(userHome(), ".m2", "settings.xml")}
	if m2Home := os.Getenv("M2_HOME"); m2Home != "" {
		candidates = append(candidates, filepath.Join(m2Home, "conf", "settings.xml"))
	}
	for _, path := range candidates {
		if local := localRepositoryFromSettings(path); local != "" {
			return local
		}
	}
	return filepath.Join(userHome(), ".m2", "repository")
}

func localRepositoryFromSettings(path string) string {
	data, err := os.ReadFile(path)
	if err != nil {
		return ""
	}
	var settings mavenSettings
	if err := xml.Unmarshal(data, &settings); err != nil {
		log.Debug("Ignoring unparsable Maven settings", map[string]interface{}{"path": path, "error": err.Error()})
		return ""
	}
	local := strings.TrimSpace(settings.LocalRepository)
	if local == "" {
		return ""
	}
	return settingsPlaceholder.ReplaceAllStringFunc(local, func(m string) string {
		name := m[2 : len(m)-1]
		switch {
		case name == "user.home":
			return userHome()
		case strings.HasPrefix(name, "env."):
			return os.Getenv(strings.TrimPrefix(name, "env."))
		}
		return m
	})
}
