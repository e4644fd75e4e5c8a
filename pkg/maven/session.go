// Package maven resolves Maven libraries from POM files and Gradle module metadata, and exposes
// them as graph nodes that conflict resolution can repoint at other versions.
package maven

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	lru "github.com/hashicorp/golang-lru/v2"

	"depres/pkg/cache"
	"depres/pkg/concurrency"
	"depres/pkg/files"
	"depres/pkg/graph"
	"depres/pkg/log"
	"depres/pkg/metadata/pom"
	"depres/pkg/registry"
	"depres/pkg/types"
)

var (
	clientKey = cache.NewKey[*registry.Client]("httpClient")
	filesKey  = cache.NewKey[*files.Env]("files")
)

// Session is shared by every node of one resolution. Dependencies, nodes and constraints are
// created once per coordinates and reused, so all nodes asking for g:m:v share one Dependency.
type Session struct {
	Settings Settings

	resolution *cache.Cache
	poms       *lru.Cache[string, *pom.Project]
	pomEnv     pom.Environment
}

type Option func(*Session)

// WithHTTPClient makes the session use c. The session never closes it.
func WithHTTPClient(c *http.Client) Option {
	return func(s *Session) {
		cache.PutUnowned(s.resolution, clientKey, registry.NewClientWith(c, s.Settings.HTTP))
	}
}

// WithPOMEnvironment replaces what POM profile activation sees of the machine.
func WithPOMEnvironment(env pom.Environment) Option {
	return func(s *Session) {
		s.pomEnv = env
	}
}

func NewSession(settings Settings, opts ...Option) (*Session, error) {
	if err := settings.Validate(); err != nil {
		return nil, err
	}
	poms, err := lru.New[string, *pom.Project](settings.POMCacheSize)
	if err != nil {
		return nil, fmt.Errorf("failed to create pom cache: %w", err)
	}
	s := &Session{
		Settings:   settings,
		resolution: cache.New(),
		poms:       poms,
		pomEnv:     pom.DefaultEnvironment(settings.JdkVersion),
	}
	for _, opt := range opts {
		opt(s)
	}
	log.Debug("Session created", map[string]interface{}{
		"scope":        string(settings.Scope),
		"platforms":    fmt.Sprint(settings.Platforms),
		"repositories": settings.repositoryList(),
	})
	return s, nil
}

// Close releases what the session created, the HTTP client included.
func (s *Session) Close() error {
	return s.resolution.Close()
}

func (s *Session) Client() *registry.Client {
	return cache.ComputeIfAbsent(s.resolution, clientKey, func() *registry.Client {
		return registry.NewClient(s.Settings.HTTP)
	})
}

func (s *Session) files() *files.Env {
	return cache.ComputeIfAbsent(s.resolution, filesKey, func() *files.Env {
		return files.NewEnv(s.Client(), s.Settings.Repositories, s.Settings.FileCache,
			concurrency.NewLimiter(s.Settings.ParallelDownloads))
	})
}

func identity(c types.Coordinates, isBom bool) string {
	if isBom {
		return c.String() + ":bom"
	}
	return c.String()
}

// Dependency returns the shared dependency for c.
func (s *Session) Dependency(c types.Coordinates, isBom bool) *Dependency {
	key := cache.NewKey[*Dependency]("dependency:" + identity(c, isBom))
	return cache.ComputeIfAbsent(s.resolution, key, func() *Dependency {
		return newDependency(s, c, isBom)
	})
}

func (s *Session) constraint(c types.Coordinates) *Constraint {
	key := cache.NewKey[*Constraint]("constraint:" + c.String())
	return cache.ComputeIfAbsent(s.resolution, key, func() *Constraint {
		return &Constraint{coords: c}
	})
}

// Node returns the node created for the originally requested coordinates c, adding parent to
// its parents when set.
func (s *Session) Node(c types.Coordinates, isBom bool, parent graph.Node) *DependencyNode {
	n := s.node(c, isBom)
	if parent != nil {
		n.addParent(parent)
	}
	return n
}

func (s *Session) node(c types.Coordinates, isBom bool) *DependencyNode {
	key := cache.NewKey[*DependencyNode]("node:" + identity(c, isBom))
	return cache.ComputeIfAbsent(s.resolution, key, func() *DependencyNode {
		return newDependencyNode(s, c, isBom)
	})
}

func (s *Session) constraintNode(c types.Coordinates) *ConstraintNode {
	key := cache.NewKey[*ConstraintNode]("constraintNode:" + c.String())
	return cache.ComputeIfAbsent(s.resolution, key, func() *ConstraintNode {
		return newConstraintNode(s, c)
	})
}

// Request is a library asked for at the root of a resolution.
type Request struct {
	types.Coordinates
	IsBom bool
}

// ParseRequest parses "group:module:version", or "bom:group:module:version" for a BOM.
func ParseRequest(spec string) (Request, error) {
	isBom := strings.HasPrefix(spec, "bom:")
	spec = strings.TrimPrefix(spec, "bom:")
	c, err := types.ParseCoordinates(spec)
	if err != nil {
		return Request{}, err
	}
	if c.Version == "" {
		return Request{}, fmt.Errorf("invalid coordinates %q: a version is required", spec)
	}
	return Request{Coordinates: c, IsBom: isBom}, nil
}

func (r Request) String() string {
	if r.IsBom {
		return "bom:" + r.Coordinates.String()
	}
	return r.Coordinates.String()
}

// Root builds the holder node whose children are the requested libraries.
func (s *Session) Root(name string, requests ...Request) *graph.Holder {
	h := graph.NewHolder(name)
	for _, r := range requests {
		h.Add(s.Node(r.Coordinates, r.IsBom, h))
	}
	return h
}

// parsePOM parses text once per coordinates while the entry stays in the session cache.
func (s *Session) parsePOM(c types.Coordinates, text []byte) (*pom.Project, error) {
	if p, ok := s.poms.Get(c.String()); ok {
		return p, nil
	}
	p, err := pom.Parse(text, c)
	if err != nil {
		return nil, err
	}
	s.poms.Add(c.String(), p)
	return p, nil
}

// pomSource loads parent and imported POMs on behalf of owner at a fixed level.
type pomSource struct {
	session *Session
	owner   *Dependency
	level   types.ResolutionLevel
}

func (p pomSource) Load(ctx context.Context, c types.Coordinates, isBom bool) (*pom.Project, bool) {
	dep := p.session.Dependency(c, isBom)
	text := dep.pomText(ctx, p.level, false)
	if text == nil {
		log.Debug("Referenced pom is unavailable", map[string]interface{}{"pom": c.String(), "from": p.owner.String()})
		return nil, false
	}
	project, err := p.session.parsePOM(c, text)
	if err != nil {
		p.owner.AddMessage(types.NewMessage(types.DiagUnableToParsePom, types.SeverityError,
			"Unable to parse pom file %s", dep.pom.Name()).WithErr(err))
		return nil, false
	}
	return project, true
}
