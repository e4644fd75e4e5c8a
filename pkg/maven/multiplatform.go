package maven

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"depres/pkg/concurrency"
	"depres/pkg/files"
	"depres/pkg/hashing"
	"depres/pkg/log"
	"depres/pkg/metadata/kmp"
	"depres/pkg/metadata/module"
	"depres/pkg/types"
)

// SourceSetFile is a Kotlin source set extracted from a multiplatform metadata jar into its own klib.
type SourceSetFile struct {
	SourceSet string `json:"sourceSet"`
	Path      string `json:"path"`
}

const sourceSetWorkers = 4

// resolveMultiplatform resolves a Kotlin multiplatform library for several platforms at once:
// the source sets shared by the variants of all requested platforms are extracted from the
// metadata jar, and their module dependencies become the children.
func (d *Dependency) resolveMultiplatform(ctx context.Context, level types.ResolutionLevel, m *module.Module, r *resolution) bool {
	metadataVariant, jar, ok := d.kotlinMetadataLibrary(ctx, level, m, types.PlatformCommon)
	if !ok {
		return true
	}
	descriptor, err := kmp.ReadJarEntry(jar.Path(), kmp.DescriptorEntry)
	var structure *kmp.Metadata
	if err == nil {
		structure, err = kmp.Parse(descriptor)
	}
	if err != nil {
		d.AddMessage(types.NewMessage(types.DiagKotlinProjectStructure, types.SeverityError,
			"Kotlin project structure metadata of %s is missing or broken", d.coords).WithErr(err))
		return true
	}

	var names []string
	for _, p := range d.session.Settings.Platforms {
		if p.Type == types.PlatformTypeCommon {
			continue
		}
		for _, v := range module.WithoutDocumentationAndMetadata(module.SelectVariants(m, d.selection(p))) {
			names = append(names, v.Name)
		}
	}
	shared := structure.SourceSetsFor(names)
	var sourceSets []kmp.SourceSet
	for _, s := range structure.ProjectStructure.SourceSets {
		if shared[s.Name] {
			sourceSets = append(sourceSets, s)
		}
	}

	produced := make([]*SourceSetFile, len(sourceSets))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sourceSetWorkers)
	for i, s := range sourceSets {
		i, name := i, s.Name
		g.Go(func() error {
			f, err := d.sourceSetFile(gctx, level, name, jar, m, structure)
			produced[i] = f
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return true
	}
	for _, f := range produced {
		if f != nil {
			r.sourceSets = append(r.sourceSets, *f)
		}
	}

	versions := map[string]string{}
	for _, dep := range metadataVariant.Dependencies {
		versions[dep.Group+":"+dep.Module] = dep.Version.Resolve()
	}
	for _, s := range sourceSets {
		for _, md := range s.ModuleDependency {
			parts := strings.Split(md, ":")
			if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
				d.AddMessage(types.NewMessage(types.DiagKotlinDependencyFormat, types.SeverityWarning,
					"Unexpected module dependency %q in source set %s of %s", md, s.Name, d.coords))
				continue
			}
			version := versions[md]
			if version == "" {
				d.AddMessage(types.NewMessage(types.DiagUnresolvedVersion, types.SeverityError,
					"Module %s depends on %s, but version of the dependency could not be resolved", d.coords, md))
				continue
			}
			r.addChild(d.session.Dependency(types.Coordinates{Group: parts[0], Module: parts[1], Version: version}, false))
		}
	}
	return true
}

// kotlinMetadataLibrary returns the kotlin-metadata variant for platform and its downloaded jar.
func (d *Dependency) kotlinMetadataLibrary(ctx context.Context, level types.ResolutionLevel, m *module.Module, p types.Platform) (module.Variant, *files.File, bool) {
	var variant *module.Variant
	for i := range m.Variants {
		if m.Variants[i].IsKotlinMetadata(p) {
			variant = &m.Variants[i]
			break
		}
	}
	if variant == nil {
		d.AddMessage(types.NewMessage(types.DiagKotlinMetadataMissing, severityFor(level),
			"Kotlin metadata variant of %s for %s is missing", d.coords, p))
		return module.Variant{}, nil, false
	}
	if len(variant.Files) != 1 {
		d.AddMessage(types.NewMessage(types.DiagKotlinMetadataMissing, severityFor(level),
			"Kotlin metadata variant %s of %s declares %d files, one expected", variant.Name, d.coords, len(variant.Files)))
		return module.Variant{}, nil, false
	}
	jar := d.fileNamed(variant.Files[0].URL)
	if !jar.IsDownloadedOrDownload(ctx, level) {
		d.AddMessage(types.NewMessage(types.DiagKotlinMetadataMissing, severityFor(level),
			"Kotlin metadata library %s of %s is not downloaded", jar.Name(), d.coords))
		return module.Variant{}, nil, false
	}
	return *variant, jar, true
}

// sourceSetFile extracts one source set into the kotlin metadata cache. A nil result without an
// error means the source set is not available and a message explains why when it matters.
func (d *Dependency) sourceSetFile(ctx context.Context, level types.ResolutionLevel, name string, jar *files.File,
	m *module.Module, structure *kmp.Metadata) (*SourceSetFile, error) {
	sha1, err := hashing.FileHash(jar.Path(), hashing.SHA1)
	if err != nil {
		severity := types.SeverityInfo
		if level == types.LevelNetwork {
			severity = types.SeverityError
		}
		d.AddMessage(types.NewMessage(types.DiagKotlinMetadataHashMissing, severity,
			"Hash of kotlin metadata library %s is not resolved", jar.Name()).WithErr(err))
		return nil, nil
	}
	source := d.sourceSetLibrary(ctx, level, name, jar, m, structure)
	if source == "" {
		log.Debug("Source set is not published", map[string]interface{}{"dependency": d.String(), "sourceSet": name})
		return nil, ctx.Err()
	}

	c := d.coords
	target := filepath.Join(d.session.Settings.FileCache.KotlinMetadataDir(), c.Group, c.Module, c.Version, sha1,
		fmt.Sprintf("%s-%s-%s.klib", c.Module, name, c.Version))
	ok, err := concurrency.ProduceFile(ctx, target, filepath.Dir(target), func(temp string) (bool, error) {
		if err := kmp.CopyJarEntryDirToJar(temp, name, source); err != nil {
			d.AddMessage(types.NewMessage(types.DiagKotlinRepackagingFailed, types.SeverityError,
				"Failed to extract source set %s of %s", name, c).WithErr(err))
			return false, nil
		}
		return true, nil
	})
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		d.AddMessage(types.NewMessage(types.DiagKotlinRepackagingFailed, types.SeverityError,
			"Failed to store source set %s of %s", name, c).WithErr(err))
		return nil, nil
	}
	if !ok {
		return nil, nil
	}
	return &SourceSetFile{SourceSet: name, Path: target}, nil
}

// sourceSetLibrary returns the jar holding the source set. Source sets of Apple targets are not
// always part of the common metadata jar; they are then taken from the metadata jar of the
// platform-specific module an iOS variant points to.
func (d *Dependency) sourceSetLibrary(ctx context.Context, level types.ResolutionLevel, name string, jar *files.File,
	m *module.Module, structure *kmp.Metadata) string {
	if has, err := kmp.HasJarEntry(jar.Path(), name); err == nil && has {
		return jar.Path()
	}
	carriers := map[string]bool{}
	for _, v := range structure.VariantsWithSourceSet(name) {
		carriers[v] = true
	}
	for _, p := range d.session.Settings.Platforms {
		if !p.IsIOS() {
			continue
		}
		for _, v := range module.WithoutDocumentationAndMetadata(module.SelectVariants(m, d.selection(p))) {
			if v.AvailableAt == nil || !carriers[strings.TrimSuffix(v.Name, "-published")] {
				continue
			}
			at := v.AvailableAt
			other := d.session.Dependency(types.Coordinates{Group: at.Group, Module: at.Module, Version: at.Version}, false)
			if path := other.platformMetadataLibrary(ctx, level, p); path != "" {
				if has, err := kmp.HasJarEntry(path, name); err == nil && has {
					return path
				}
			}
		}
	}
	return ""
}

func (d *Dependency) platformMetadataLibrary(ctx context.Context, level types.ResolutionLevel, p types.Platform) string {
	m, err := d.loadModule(ctx, level)
	if err != nil {
		return ""
	}
	_, jar, ok := d.kotlinMetadataLibrary(ctx, level, m, p)
	if !ok {
		return ""
	}
	return jar.Path()
}
