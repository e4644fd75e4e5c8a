package maven

import (
	"context"
	"strings"

	"depres/pkg/metadata/module"
	"depres/pkg/types"
)

func (d *Dependency) selection(p types.Platform) module.Selection {
	return module.Selection{
		Coordinates: d.coords,
		Platform:    p,
		Scope:       d.session.Settings.Scope,
		Sources:     d.session.Settings.DownloadSources,
	}
}

// resolveUsingMetadata expands the Gradle module metadata m. It returns false when the metadata
// cannot describe the dependency and the POM should be used instead.
func (d *Dependency) resolveUsingMetadata(ctx context.Context, level types.ResolutionLevel, m *module.Module, r *resolution, hasPom bool) bool {
	if d.isBom {
		if d.resolveBom(m, r) {
			return true
		}
		if hasPom {
			return false
		}
		d.AddMessage(types.NewMessage(types.DiagUnsupportedBom, types.SeverityError,
			"%s is imported as a BOM but its module metadata has no platform variant", d.coords))
		return true
	}
	if d.session.Settings.IsMultiplatform() {
		return d.resolveMultiplatform(ctx, level, m, r)
	}

	platform := d.session.Settings.Platforms[0]
	variants := module.SelectVariants(m, d.selection(platform))
	consumable := module.WithoutDocumentationAndMetadata(variants)
	switch {
	case len(consumable) == 0 && hasRejectedCapabilities(m, d.coords):
		d.AddMessage(types.NewMessage(types.DiagCapabilitiesConflict, severityFor(level),
			"Variants of %s provide more capabilities than the library itself", d.coords))
	case len(consumable) == 0:
		d.AddMessage(types.NewMessage(types.DiagNoVariantForPlatform, severityFor(level),
			"No variant of %s matches platform %s and scope %s", d.coords, platform, d.session.Settings.Scope))
	case len(consumable) > 1:
		names := make([]string, 0, len(consumable))
		for _, v := range consumable {
			names = append(names, v.Name)
		}
		d.AddMessage(types.NewMessage(types.DiagMoreThanOneVariant, types.SeverityWarning,
			"More than a single variant provided for %s", d.coords).WithExtra(strings.Join(names, ", ")))
	}
	r.variants = variants
	d.expandVariants(ctx, level, variants, r)
	return true
}

func hasRejectedCapabilities(m *module.Module, c types.Coordinates) bool {
	for _, v := range m.Variants {
		if !v.IsDocumentation() && !module.AcceptsCapabilities(v, c) {
			return true
		}
	}
	return false
}

// resolveBom takes the constraints of the platform variants matching the scope.
func (d *Dependency) resolveBom(m *module.Module, r *resolution) bool {
	scope := d.session.Settings.Scope
	platforms := bomVariants(m, scope)
	if len(platforms) == 0 {
		if fallback, ok := scope.Fallback(); ok {
			platforms = bomVariants(m, fallback)
		}
	}
	if len(platforms) == 0 {
		return false
	}
	for _, v := range platforms {
		for _, c := range v.DependencyConstraints {
			if version := c.Version.Resolve(); version != "" {
				r.addConstraint(d.session.constraint(types.Coordinates{Group: c.Group, Module: c.Module, Version: version}))
			}
		}
		for _, dep := range v.Dependencies {
			if version := dep.Version.Resolve(); version != "" && isPlatformDependency(dep) {
				r.addChild(d.session.Dependency(types.Coordinates{Group: dep.Group, Module: dep.Module, Version: version}, true))
			}
		}
	}
	return true
}

func bomVariants(m *module.Module, scope types.Scope) []module.Variant {
	var out []module.Variant
	for _, v := range m.Variants {
		if v.IsPlatform() && v.MatchesScope(scope) {
			out = append(out, v)
		}
	}
	return out
}

func isPlatformDependency(dep module.Dependency) bool {
	c := dep.Attributes.Get(module.AttrCategory)
	return c == module.CategoryPlatform || c == module.CategoryEnforcedPlatform
}

// expandVariants turns the dependencies and constraints of the selected variants into children.
func (d *Dependency) expandVariants(ctx context.Context, level types.ResolutionLevel, variants []module.Variant, r *resolution) {
	var local []module.Dependency
	var boms []module.Dependency
	for _, v := range variants {
		local = append(local, v.DependencyConstraints...)
		for _, dep := range v.Dependencies {
			if isPlatformDependency(dep) {
				boms = append(boms, dep)
			}
		}
	}

	for _, v := range variants {
		deps := v.Dependencies
		if v.AvailableAt != nil {
			deps = append(append([]module.Dependency(nil), deps...), v.AvailableAt.AsDependency())
		}
		for _, dep := range deps {
			version := dep.Version.Resolve()
			if version == "" {
				version = d.versionFromBom(ctx, level, dep, local, boms)
			}
			if version == "" {
				d.AddMessage(types.NewMessage(types.DiagUnresolvedVersion, types.SeverityError,
					"Module %s depends on %s:%s, but version of the dependency could not be resolved: neither 'requires' nor 'prefers' nor 'strictly' attributes are defined",
					d.coords, dep.Group, dep.Module))
				continue
			}
			c := types.Coordinates{Group: dep.Group, Module: dep.Module, Version: version}
			r.addChild(d.session.Dependency(c, isPlatformDependency(dep)))
		}
		for _, c := range v.DependencyConstraints {
			if version := c.Version.Resolve(); version != "" {
				r.addConstraint(d.session.constraint(types.Coordinates{Group: c.Group, Module: c.Module, Version: version}))
			}
		}
	}
}

// versionFromBom finds the version of a dependency declared without one: constraints of the
// module itself come first, then constraints of the BOMs it depends on.
func (d *Dependency) versionFromBom(ctx context.Context, level types.ResolutionLevel, dep module.Dependency, local, boms []module.Dependency) string {
	for _, c := range local {
		if c.Group == dep.Group && c.Module == dep.Module {
			if v := c.Version.Resolve(); v != "" {
				return v
			}
		}
	}
	for _, b := range boms {
		version := b.Version.Resolve()
		if version == "" || (b.Group == dep.Group && b.Module == dep.Module) {
			continue
		}
		bom := d.session.Dependency(types.Coordinates{Group: b.Group, Module: b.Module, Version: version}, true)
		if err := bom.ResolveChildren(ctx, level); err != nil {
			return ""
		}
		for _, c := range bom.Constraints() {
			if c.coords.Group == dep.Group && c.coords.Module == dep.Module {
				return c.coords.Version
			}
		}
	}
	return ""
}
