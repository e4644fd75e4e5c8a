package maven

import (
	"errors"
	"fmt"

	"depres/pkg/concurrency"
	"depres/pkg/registry"
	"depres/pkg/repository"
	"depres/pkg/solver"
	"depres/pkg/types"
)

var (
	// ErrContractViolation is returned when a node is asked to point at a dependency of another library.
	ErrContractViolation = errors.New("dependency resolution contract violated")

	ErrInvalidSettings = errors.New("invalid settings")
)

// Settings configure a resolution session. They are not modified once the session is created.
type Settings struct {
	Scope        types.Scope
	Platforms    []types.Platform
	Repositories []registry.Repository
	Strategies   []solver.Strategy
	FileCache    *repository.FileCache

	// DownloadSources keeps documentation variants and -sources.jar files.
	DownloadSources bool
	// JdkVersion feeds POM profile activation.
	JdkVersion        string
	HTTP              registry.Options
	ParallelDownloads int
	// POMCacheSize bounds the number of parsed POMs kept by the session.
	POMCacheSize int
}

func DefaultSettings() Settings {
	return Settings{
		Scope:             types.ScopeCompile,
		Platforms:         []types.Platform{types.PlatformJvm},
		Repositories:      []registry.Repository{{URL: registry.DefaultRepositoryURL}},
		Strategies:        []solver.Strategy{solver.HighestVersion{}},
		HTTP:              registry.DefaultOptions(),
		ParallelDownloads: concurrency.DefaultParallelDownloads,
		JdkVersion:        "17",
		POMCacheSize:      1024,
	}
}

// IsMultiplatform reports whether more than one platform is requested, which switches Gradle
// metadata resolution to Kotlin source sets.
func (s Settings) IsMultiplatform() bool {
	return len(s.Platforms) > 1
}

// Validate fills defaults for unset fields and rejects unusable platform sets.
func (s *Settings) Validate() error {
	if len(s.Platforms) == 0 {
		return fmt.Errorf("%w: at least one platform is required", ErrInvalidSettings)
	}
	onlyCommon := true
	for _, p := range s.Platforms {
		if p.Type != types.PlatformTypeCommon {
			onlyCommon = false
		}
	}
	if onlyCommon {
		return fmt.Errorf("%w: COMMON alone is not a resolvable platform", ErrInvalidSettings)
	}
	if s.Scope == "" {
		s.Scope = types.ScopeCompile
	}
	if len(s.Strategies) == 0 {
		s.Strategies = []solver.Strategy{solver.HighestVersion{}}
	}
	if s.FileCache == nil {
		s.FileCache = repository.DefaultFileCache("", "")
	}
	if s.ParallelDownloads <= 0 {
		s.ParallelDownloads = concurrency.DefaultParallelDownloads
	}
	if s.POMCacheSize <= 0 {
		s.POMCacheSize = 1024
	}
	return nil
}

func (s Settings) repositoryList() string {
	out := ""
	for i, r := range s.Repositories {
		if i > 0 {
			out += ", "
		}
		out += r.String()
	}
	return out
}
