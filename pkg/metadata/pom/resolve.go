package pom

import (
	"context"

	"depres/pkg/types"
	"depres/pkg/version"
)

const maxAncestors = 10

// Source loads the POMs a project refers to through <parent> and import-scoped BOMs.
type Source interface {
	// Load returns the parsed POM of c, or false when it is unavailable. Reporting why is up to
	// the source.
	Load(ctx context.Context, c types.Coordinates, isBom bool) (*Project, bool)
}

// Resolver computes effective projects: parents, profiles, imports and templates applied.
type Resolver struct {
	Source Source
	Env    Environment
	Report func(types.Message)
}

// Resolve returns the effective form of p. Dependencies carry versions and scopes taken from
// dependencyManagement, and dependencyManagement merges profiles and direct entries first,
// then imported BOMs, then the parent's.
func (r *Resolver) Resolve(ctx context.Context, p *Project) *Project {
	return r.resolve(ctx, p, 0, p)
}

func (r *Resolver) report(m types.Message) {
	if r.Report != nil {
		r.Report(m)
	}
}

func (r *Resolver) resolve(ctx context.Context, p *Project, depth int, origin *Project) *Project {
	if depth > maxAncestors {
		r.report(types.NewMessage(types.DiagMoreThanTenAncestors, types.SeverityError,
			"Project %s:%s:%s has more than ten ancestors", origin.GroupID, origin.ArtifactID, origin.Version))
		return p
	}

	profiles := p.ActiveProfiles(r.Env)
	project := *p

	var parentProject *Project
	if p.Parent != nil && ctx.Err() == nil {
		if loaded, ok := r.Source.Load(ctx, p.Parent.Coordinates(), false); ok {
			parentProject = r.resolve(ctx, loaded, depth+1, origin)
		}
	}

	switch {
	case parentProject != nil:
		project.GroupID = firstNonEmpty(p.GroupID, parentProject.GroupID)
		project.ArtifactID = firstNonEmpty(p.ArtifactID, parentProject.ArtifactID)
		project.Version = firstNonEmpty(p.Version, parentProject.Version)
		project.Dependencies = concatDistinct(profileDependencies(profiles), p.Dependencies, parentProject.Dependencies)
		project.Properties = parentProject.Properties.Merge(p.Properties).Merge(profileProperties(profiles))
		imported := r.importedManagement(ctx, &project, depth)
		project.DependencyManagement = mergeManagement(profileManagement(profiles), p.DependencyManagement, imported, parentProject.DependencyManagement)
	case p.Parent != nil:
		project.GroupID = firstNonEmpty(p.GroupID, p.Parent.GroupID)
		project.ArtifactID = firstNonEmpty(p.ArtifactID, p.Parent.ArtifactID)
		project.Version = firstNonEmpty(p.Version, p.Parent.Version)
		fallthrough
	default:
		project.Dependencies = concatDistinct(profileDependencies(profiles), p.Dependencies)
		project.Properties = p.Properties.Merge(profileProperties(profiles))
		imported := r.importedManagement(ctx, &project, depth)
		project.DependencyManagement = mergeManagement(profileManagement(profiles), p.DependencyManagement, imported)
	}

	if project.DependencyManagement != nil {
		expanded := make([]Dependency, len(project.DependencyManagement.Dependencies))
		for i, d := range project.DependencyManagement.Dependencies {
			expanded[i] = project.expandDependency(d)
		}
		project.DependencyManagement = &DependencyManagement{Dependencies: expanded}
	}
	project.Dependencies = project.effectiveDependencies()
	project.GroupID = project.Expand(project.GroupID)
	project.ArtifactID = project.Expand(project.ArtifactID)
	project.Version = project.Expand(project.Version)
	project.Packaging = project.Expand(project.Packaging)
	return &project
}

// importedManagement merges the dependencyManagement of every import-scoped BOM, the first
// declared import taking precedence.
func (r *Resolver) importedManagement(ctx context.Context, p *Project, depth int) *DependencyManagement {
	if p.DependencyManagement == nil {
		return nil
	}
	var parts []*DependencyManagement
	for _, d := range p.DependencyManagement.Dependencies {
		d = p.expandDependency(d)
		if d.Scope != "import" || d.Version == "" {
			continue
		}
		bom, ok := r.Source.Load(ctx, d.Coordinates(), true)
		if !ok {
			continue
		}
		resolved := r.resolve(ctx, bom, depth+1, bom)
		parts = append(parts, resolved.DependencyManagement)
	}
	return mergeManagement(parts...)
}

func (p *Project) effectiveDependencies() []Dependency {
	if len(p.Dependencies) == 0 {
		return nil
	}
	result := make([]Dependency, 0, len(p.Dependencies))
	for _, d := range p.Dependencies {
		d = p.expandDependency(d)
		if d.Version != "" && d.Scope != "" {
			d.Version = version.FromSingleVersionRange(d.Version)
			result = append(result, d)
			continue
		}
		if managed, ok := p.FindManaged(d.GroupID, d.ArtifactID); ok {
			if managedVersion := ManagedVersion(managed); d.Version == "" && managedVersion != "" {
				d.Version = managedVersion
			}
			if d.Scope == "" && managed.Scope != "" {
				d.Scope = managed.Scope
			}
		}
		result = append(result, p.expandDependency(d))
	}
	return result
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
