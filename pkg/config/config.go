// Package config reads depres settings files, written in TOML (depres.toml) or YAML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"depres/pkg/maven"
	"depres/pkg/registry"
	"depres/pkg/repository"
	"depres/pkg/types"
)

const ConfigFileName = "depres.toml"

// Config mirrors the settings file. Unset fields keep the defaults of maven.DefaultSettings.
type Config struct {
	Scope             string       `toml:"scope" yaml:"scope"`
	Platforms         []string     `toml:"platforms" yaml:"platforms"`
	Repositories      []Repository `toml:"repositories" yaml:"repositories"`
	CacheRoot         string       `toml:"cacheRoot" yaml:"cacheRoot"`
	MavenRepoLocal    string       `toml:"mavenRepoLocal" yaml:"mavenRepoLocal"`
	DownloadSources   bool         `toml:"downloadSources" yaml:"downloadSources"`
	JdkVersion        string       `toml:"jdkVersion" yaml:"jdkVersion"`
	ParallelDownloads int          `toml:"parallelDownloads" yaml:"parallelDownloads"`
	HTTP              HTTP         `toml:"http" yaml:"http"`
	// Dependencies are requested coordinates, "group:module:version" or "bom:group:module:version".
	Dependencies []string `toml:"dependencies" yaml:"dependencies"`
}

// Repository credentials may reference environment variables as ${NAME}.
type Repository struct {
	URL      string `toml:"url" yaml:"url"`
	Username string `toml:"username" yaml:"username"`
	Password string `toml:"password" yaml:"password"`
}

type HTTP struct {
	RequestTimeout    string  `toml:"requestTimeout" yaml:"requestTimeout"`
	ConnectTimeout    string  `toml:"connectTimeout" yaml:"connectTimeout"`
	Retries           *int    `toml:"retries" yaml:"retries"`
	RequestsPerSecond float64 `toml:"requestsPerSecond" yaml:"requestsPerSecond"`
	BreakerFailures   uint32  `toml:"breakerFailures" yaml:"breakerFailures"`
}

// Load reads a settings file; the extension picks YAML (.yaml, .yml) or TOML (anything else).
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	var c Config
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &c)
	default:
		err = toml.Unmarshal(data, &c)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return &c, nil
}

// FindConfigFile looks for depres.toml in dir and its parents and returns "" when there is none.
func FindConfigFile(dir string) string {
	dir, err := filepath.Abs(dir)
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ConfigFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// Settings turns the file into session settings.
func (c *Config) Settings() (maven.Settings, error) {
	s := maven.DefaultSettings()
	if c.Scope != "" {
		scope, err := types.ParseScope(c.Scope)
		if err != nil {
			return s, err
		}
		s.Scope = scope
	}
	if len(c.Platforms) > 0 {
		s.Platforms = nil
		for _, name := range c.Platforms {
			p, err := types.ParsePlatform(name)
			if err != nil {
				return s, err
			}
			s.Platforms = append(s.Platforms, p)
		}
	}
	if len(c.Repositories) > 0 {
		s.Repositories = nil
		for _, r := range c.Repositories {
			if r.URL == "" {
				return s, fmt.Errorf("%w: repository without url", maven.ErrInvalidSettings)
			}
			s.Repositories = append(s.Repositories, registry.Repository{
				URL:      strings.TrimSuffix(r.URL, "/"),
				Username: os.ExpandEnv(r.Username),
				Password: os.ExpandEnv(r.Password),
			})
		}
	}
	s.FileCache = repository.DefaultFileCache(c.CacheRoot, c.MavenRepoLocal)
	s.DownloadSources = c.DownloadSources
	if c.JdkVersion != "" {
		s.JdkVersion = c.JdkVersion
	}
	if c.ParallelDownloads > 0 {
		s.ParallelDownloads = c.ParallelDownloads
	}

	var err error
	if s.HTTP.RequestTimeout, err = duration(c.HTTP.RequestTimeout, s.HTTP.RequestTimeout); err != nil {
		return s, err
	}
	if s.HTTP.ConnectTimeout, err = duration(c.HTTP.ConnectTimeout, s.HTTP.ConnectTimeout); err != nil {
		return s, err
	}
	if c.HTTP.Retries != nil {
		s.HTTP.Retries = *c.HTTP.Retries
	}
	if c.HTTP.RequestsPerSecond > 0 {
		s.HTTP.RequestsPerSecond = c.HTTP.RequestsPerSecond
	}
	if c.HTTP.BreakerFailures > 0 {
		s.HTTP.BreakerFailures = c.HTTP.BreakerFailures
	}
	return s, s.Validate()
}

// Requests parses the dependencies listed in the file.
func (c *Config) Requests() ([]maven.Request, error) {
	out := make([]maven.Request, 0, len(c.Dependencies))
	for _, d := range c.Dependencies {
		r, err := maven.ParseRequest(d)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, nil
}

func duration(value string, fallback time.Duration) (time.Duration, error) {
	if value == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("%w: bad duration %q: %v", maven.ErrInvalidSettings, value, err)
	}
	return d, nil
}
