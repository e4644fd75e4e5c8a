package maven

import (
	"context"
	"errors"
	"strings"
	"sync"

	"golang.org/x/sync/semaphore"

	"depres/pkg/files"
	"depres/pkg/log"
	"depres/pkg/metadata/module"
	"depres/pkg/metadata/pom"
	"depres/pkg/types"
)

var errModuleMissing = errors.New("module metadata is not available")

// Dependency is one library version. It is shared by all nodes pointing at the same coordinates
// and moves from INITIAL to UNSURE (resolved from local caches) or RESOLVED (network allowed).
type Dependency struct {
	session *Session
	coords  types.Coordinates
	isBom   bool

	// held for the whole resolution attempt; acquiring honors cancellation
	lock *semaphore.Weighted

	pom        *files.File
	moduleFile *files.File

	mu             sync.RWMutex
	state          types.ResolutionState
	module         *module.Module
	packaging      string
	variants       []module.Variant
	files          []*files.File
	sourceSetFiles []SourceSetFile
	children       []*Dependency
	constraints    []*Constraint
	generation     uint64
	messages       []types.Message
}

func newDependency(s *Session, c types.Coordinates, isBom bool) *Dependency {
	d := &Dependency{session: s, coords: c, isBom: isBom, lock: semaphore.NewWeighted(1)}
	base := c.Module + "-" + c.Version
	d.pom = files.New(d, s.files(), base, "pom")
	d.moduleFile = files.New(d, s.files(), base, "module")
	return d
}

func (d *Dependency) Coordinates() types.Coordinates { return d.coords }

func (d *Dependency) IsBom() bool { return d.isBom }

func (d *Dependency) String() string { return d.coords.String() }

func (d *Dependency) State() types.ResolutionState {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.state
}

func (d *Dependency) AddMessage(m types.Message) {
	d.mu.Lock()
	d.messages = append(d.messages, m)
	d.mu.Unlock()
}

func (d *Dependency) Messages() []types.Message {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]types.Message(nil), d.messages...)
}

// DeclaredFile looks name up among the files declared by the Gradle module metadata.
func (d *Dependency) DeclaredFile(name string) (files.Declared, bool) {
	d.mu.RLock()
	m := d.module
	d.mu.RUnlock()
	if m == nil {
		return files.Declared{}, false
	}
	for _, v := range m.Variants {
		for _, f := range v.Files {
			if f.URL == name || f.Name == name {
				return files.Declared{Name: f.Name, Size: f.Size, SHA512: f.SHA512, SHA256: f.SHA256, SHA1: f.SHA1, MD5: f.MD5}, true
			}
		}
	}
	return files.Declared{}, false
}

// Files are the artifacts of the dependency known after resolution.
func (d *Dependency) Files() []*files.File {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*files.File(nil), d.files...)
}

func (d *Dependency) SourceSetFiles() []SourceSetFile {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]SourceSetFile(nil), d.sourceSetFiles...)
}

func (d *Dependency) Variants() []module.Variant {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]module.Variant(nil), d.variants...)
}

func (d *Dependency) Packaging() string {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.packaging
}

func (d *Dependency) Children() []*Dependency {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Dependency(nil), d.children...)
}

func (d *Dependency) Constraints() []*Constraint {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]*Constraint(nil), d.constraints...)
}

// childrenGeneration changes every time a resolution attempt replaces the children.
func (d *Dependency) childrenGeneration() uint64 {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.generation
}

// ResolveChildren resolves the dependency unless it already reached level. The only errors are
// cancellation of ctx.
func (d *Dependency) ResolveChildren(ctx context.Context, level types.ResolutionLevel) error {
	if d.State() >= level.State() {
		return nil
	}
	if err := d.lock.Acquire(ctx, 1); err != nil {
		return err
	}
	defer d.lock.Release(1)
	if d.State() >= level.State() {
		return nil
	}
	d.resolve(ctx, level)
	return ctx.Err()
}

// resolution collects the outcome of one attempt; it is published at once so nodes never see
// half of it.
type resolution struct {
	packaging   string
	variants    []module.Variant
	children    []*Dependency
	constraints []*Constraint
	sourceSets  []SourceSetFile
}

func (r *resolution) addChild(d *Dependency) {
	for _, c := range r.children {
		if c == d {
			return
		}
	}
	r.children = append(r.children, d)
}

func (r *resolution) addConstraint(c *Constraint) {
	for _, existing := range r.constraints {
		if existing == c {
			return
		}
	}
	r.constraints = append(r.constraints, c)
}

func severityFor(level types.ResolutionLevel) types.Severity {
	if level == types.LevelNetwork {
		return types.SeverityError
	}
	return types.SeverityWarning
}

func (d *Dependency) resolve(ctx context.Context, level types.ResolutionLevel) {
	d.mu.Lock()
	d.messages = nil
	d.mu.Unlock()

	var r resolution
	resolved, viaMetadata := false, false
	text := d.pomText(ctx, level, true)
	if text == nil || pom.PublishedWithGradleMetadata(text) {
		m, err := d.loadModule(ctx, level)
		switch {
		case err == nil:
			resolved = d.resolveUsingMetadata(ctx, level, m, &r, text != nil)
			viaMetadata = resolved
		case errors.Is(err, errModuleMissing) && text != nil:
			d.AddMessage(types.NewMessage(types.DiagPomProvidedMetadataNeeded, types.SeverityWarning,
				"Pom provided, but Gradle metadata is required for %s", d.coords))
		case errors.Is(err, errModuleMissing):
			d.AddMessage(types.NewMessage(types.DiagModuleFileNotDownloaded, severityFor(level),
				"Module file %s is not downloaded", d.moduleFile.Name()))
		}
	}
	if !resolved && text != nil {
		resolved = d.resolveUsingPom(ctx, level, text, &r)
	}
	if ctx.Err() != nil {
		return
	}

	switch {
	case !resolved:
		d.reportUnresolved(level)
	case viaMetadata:
		d.downgradePomDiagnostics()
	}
	d.commit(&r, level.State())
	log.Trace("Dependency resolved", map[string]interface{}{
		"dependency": d.String(), "level": level.String(), "children": len(r.children), "constraints": len(r.constraints),
	})
}

func (d *Dependency) commit(r *resolution, state types.ResolutionState) {
	fs := d.filesFor(r)
	d.mu.Lock()
	defer d.mu.Unlock()
	d.packaging = r.packaging
	d.variants = r.variants
	d.files = fs
	d.sourceSetFiles = r.sourceSets
	d.children = r.children
	d.constraints = r.constraints
	d.generation++
	d.state = state
}

// pomText returns the content of the POM, downloading it when level allows. With report set a
// missing POM becomes a message on d.
func (d *Dependency) pomText(ctx context.Context, level types.ResolutionLevel, report bool) []byte {
	if !d.pom.IsDownloadedOrDownload(ctx, level) {
		if report && ctx.Err() == nil {
			d.AddMessage(types.NewMessage(types.DiagPomWasNotFound, severityFor(level),
				"Pom required for %s", d.coords).WithExtra("repositories: "+d.session.Settings.repositoryList()))
		}
		return nil
	}
	text, err := d.pom.ReadBytes()
	if err != nil {
		if report {
			d.AddMessage(types.NewMessage(types.DiagPomWasNotFound, severityFor(level),
				"Pom of %s could not be read", d.coords).WithErr(err))
		}
		return nil
	}
	return text
}

// loadModule returns the parsed Gradle module metadata, errModuleMissing when the file is
// unavailable at level.
func (d *Dependency) loadModule(ctx context.Context, level types.ResolutionLevel) (*module.Module, error) {
	d.mu.RLock()
	m := d.module
	d.mu.RUnlock()
	if m != nil {
		return m, nil
	}
	if !d.moduleFile.IsDownloadedOrDownload(ctx, level) {
		return nil, errModuleMissing
	}
	data, err := d.moduleFile.ReadBytes()
	if err == nil {
		m, err = module.Parse(data)
	}
	if err != nil {
		d.AddMessage(types.NewMessage(types.DiagUnableToParseMetadata, types.SeverityError,
			"Unable to parse module metadata %s", d.moduleFile.Name()).WithErr(err))
		return nil, err
	}
	d.mu.Lock()
	d.module = m
	d.mu.Unlock()
	return m, nil
}

func (d *Dependency) resolveUsingPom(ctx context.Context, level types.ResolutionLevel, text []byte, r *resolution) bool {
	project, err := d.session.parsePOM(d.coords, text)
	if err != nil {
		d.AddMessage(types.NewMessage(types.DiagUnableToParsePom, types.SeverityError,
			"Unable to parse pom file %s", d.pom.Name()).WithErr(err))
		return false
	}
	resolver := pom.Resolver{
		Source: pomSource{session: d.session, owner: d, level: level},
		Env:    d.session.pomEnv,
		Report: d.AddMessage,
	}
	effective := resolver.Resolve(ctx, project)
	r.packaging = effective.Packaging
	if r.packaging == "" {
		r.packaging = "jar"
	}

	if d.isBom {
		d.bomConstraintsFromPom(effective, r)
		return true
	}
	scope := d.session.Settings.Scope
	for _, dep := range effective.Dependencies {
		if !scope.MatchesPomScope(dep.Scope) || dep.Version == "" || dep.IsOptional() {
			continue
		}
		r.addChild(d.session.Dependency(dep.Coordinates(), false))
	}
	return true
}

func (d *Dependency) bomConstraintsFromPom(effective *pom.Project, r *resolution) {
	if effective.DependencyManagement == nil || len(effective.DependencyManagement.Dependencies) == 0 {
		d.AddMessage(types.NewMessage(types.DiagUnsupportedBom, types.SeverityError,
			"%s is imported as a BOM but declares neither a Gradle platform variant nor dependencyManagement", d.coords))
		return
	}
	for _, managed := range effective.DependencyManagement.Dependencies {
		v := pom.ManagedVersion(managed)
		if managed.Scope == "import" || v == "" {
			continue
		}
		c := managed.Coordinates()
		c.Version = v
		r.addConstraint(d.session.constraint(c))
	}
}

// reportUnresolved folds the messages of the failed attempt into one top-level diagnostic.
func (d *Dependency) reportUnresolved(level types.ResolutionLevel) {
	d.mu.Lock()
	defer d.mu.Unlock()
	top := types.NewMessage(types.DiagUnableToResolveDependency, severityFor(level),
		"Unable to resolve dependency %s", d.coords).WithExtra("repositories: " + d.session.Settings.repositoryList())
	top.Suppressed = d.messages
	d.messages = []types.Message{top}
}

// downgradePomDiagnostics lowers POM problems to warnings once Gradle metadata resolved the dependency.
func (d *Dependency) downgradePomDiagnostics() {
	d.mu.Lock()
	defer d.mu.Unlock()
	for i, m := range d.messages {
		switch m.ID {
		case types.DiagPomWasNotFound, types.DiagUnableToParsePom, types.DiagMoreThanTenAncestors:
			if m.Severity > types.SeverityWarning {
				d.messages[i] = m.WithSeverity(types.SeverityWarning)
			}
		}
	}
}

// filesFor lists the artifacts of a resolution: files of the selected variants, then the
// packaging artifact of a POM-resolved library with its sources.
func (d *Dependency) filesFor(r *resolution) []*files.File {
	var out []*files.File
	seen := map[string]bool{}
	add := func(name string) {
		if name == "" || seen[name] {
			return
		}
		seen[name] = true
		out = append(out, d.fileNamed(name))
	}
	for _, v := range r.variants {
		for _, f := range v.Files {
			add(f.URL)
		}
	}
	if r.packaging != "" && r.packaging != "pom" {
		ext := r.packaging
		if ext == "bundle" {
			ext = "jar"
		}
		base := d.coords.Module + "-" + d.coords.Version
		add(base + "." + ext)
		if ext == "jar" {
			add(base + "-sources.jar")
		}
	}
	return out
}

func (d *Dependency) fileNamed(name string) *files.File {
	i := strings.LastIndex(name, ".")
	if i < 0 {
		return files.New(d, d.session.files(), name, "")
	}
	return files.New(d, d.session.files(), name[:i], name[i+1:])
}

// DownloadDependencies downloads the artifacts that are missing or fail verification. Source
// and javadoc jars are skipped unless sources are requested. Multiplatform source sets are
// verified when they are extracted, so there is nothing to download for them.
func (d *Dependency) DownloadDependencies(ctx context.Context, downloadSources bool) error {
	if d.session.Settings.IsMultiplatform() {
		return nil
	}
	for _, f := range d.Files() {
		name := f.Name()
		if !downloadSources && (strings.HasSuffix(name, "-sources.jar") || strings.HasSuffix(name, "-javadoc.jar")) {
			continue
		}
		if f.IsDownloaded() && f.HasMatchingChecksum(ctx, types.LevelNetwork) {
			continue
		}
		if !f.Download(ctx) && ctx.Err() == nil {
			log.Debug("Artifact not downloaded", map[string]interface{}{"dependency": d.String(), "file": name})
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return nil
}

// Paths are the artifacts of the dependency as stored locally, downloaded or not.
func (d *Dependency) Paths(downloadSources bool) []string {
	var out []string
	for _, f := range d.Files() {
		name := f.Name()
		if !downloadSources && (strings.HasSuffix(name, "-sources.jar") || strings.HasSuffix(name, "-javadoc.jar")) {
			continue
		}
		if p := f.Path(); p != "" {
			out = append(out, p)
		}
	}
	for _, s := range d.SourceSetFiles() {
		out = append(out, s.Path)
	}
	return out
}
