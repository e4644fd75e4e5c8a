package module

import (
	"sort"
	"strings"

	"depres/pkg/types"
)

// Attribute is a variant attribute key understood by the resolver.
type Attribute string

const (
	AttrCategory         Attribute = "org.gradle.category"
	AttrUsage            Attribute = "org.gradle.usage"
	AttrJvmEnvironment   Attribute = "org.gradle.jvm.environment"
	AttrJvmVersion       Attribute = "org.gradle.jvm.version"
	AttrLibraryElements  Attribute = "org.gradle.libraryelements"
	AttrDocsType         Attribute = "org.gradle.docstype"
	AttrStatus           Attribute = "org.gradle.status"
	AttrBundling         Attribute = "org.gradle.dependency.bundling"
	AttrKotlinPlatform   Attribute = "org.jetbrains.kotlin.platform.type"
	AttrKotlinNative     Attribute = "org.jetbrains.kotlin.native.target"
	AttrKotlinJsCompiler Attribute = "org.jetbrains.kotlin.js.compiler"
	AttrKotlinWasmTarget Attribute = "org.jetbrains.kotlin.wasm.target"
)

const (
	CategoryDocumentation    = "documentation"
	CategoryPlatform         = "platform"
	CategoryEnforcedPlatform = "enforced-platform"
	UsageKotlinAPI           = "kotlin-api"
	UsageKotlinMetadata      = "kotlin-metadata"
	EnvironmentAndroid       = "android"
	EnvironmentStandardJvm   = "standard-jvm"
)

// usedAttributes are matched by the resolver; any other attribute on a variant is incidental.
var usedAttributes = map[Attribute]bool{
	AttrCategory:       true,
	AttrUsage:          true,
	AttrKotlinNative:   true,
	AttrKotlinPlatform: true,
}

func (v Variant) Attr(a Attribute) string {
	return v.Attributes.Get(a)
}

func (v Variant) IsDocumentation() bool {
	return v.Attr(AttrCategory) == CategoryDocumentation
}

// IsCommonKotlinAPI marks the kotlin-api variant of the common platform, which carries
// metadata rather than a consumable artifact.
func (v Variant) IsCommonKotlinAPI() bool {
	return v.Attr(AttrUsage) == UsageKotlinAPI && v.Attr(AttrKotlinPlatform) == string(types.PlatformTypeCommon)
}

// IsPlatform reports whether the variant is a BOM (a Gradle platform).
func (v Variant) IsPlatform() bool {
	c := v.Attr(AttrCategory)
	return c == CategoryPlatform || c == CategoryEnforcedPlatform
}

func (v Variant) MatchesScope(s types.Scope) bool {
	return s.MatchesUsage(v.Attr(AttrUsage))
}

// MatchesPlatformType matches the kotlin platform attribute. Variants of plain Java libraries
// carry none; they match JVM, or ANDROID when the JVM environment says so.
func (v Variant) MatchesPlatformType(t types.PlatformType) bool {
	if v.Attributes.Has(AttrKotlinPlatform) {
		return v.Attr(AttrKotlinPlatform) == string(t)
	}
	env := v.Attr(AttrJvmEnvironment)
	switch t {
	case types.PlatformTypeJvm:
		return env == "" || env == EnvironmentStandardJvm
	case types.PlatformTypeAndroid:
		return env == EnvironmentAndroid
	}
	return false
}

func (v Variant) NativeTargetMatches(p types.Platform) bool {
	return v.Attr(AttrKotlinPlatform) != string(types.PlatformTypeNative) ||
		!v.Attributes.Has(AttrKotlinNative) ||
		v.Attr(AttrKotlinNative) == p.NativeTarget
}

// IsKotlinMetadata reports whether the variant is the kotlin-metadata variant of platform.
func (v Variant) IsKotlinMetadata(p types.Platform) bool {
	return v.Attr(AttrUsage) == UsageKotlinMetadata && v.MatchesPlatformType(p.Type)
}

func (v Variant) incidentalAttributes() int {
	n := 0
	for k := range v.Attributes {
		if !usedAttributes[Attribute(k)] {
			n++
		}
	}
	return n
}

// WithoutDocumentationAndMetadata drops documentation variants and common kotlin-api variants.
func WithoutDocumentationAndMetadata(variants []Variant) []Variant {
	var out []Variant
	for _, v := range variants {
		if !v.IsDocumentation() && !v.IsCommonKotlinAPI() {
			out = append(out, v)
		}
	}
	return out
}

func filterVariants(variants []Variant, keep func(Variant) bool) []Variant {
	var out []Variant
	for _, v := range variants {
		if keep(v) {
			out = append(out, v)
		}
	}
	return out
}

// Selection is what variant selection needs to know about the request.
type Selection struct {
	Coordinates types.Coordinates
	Platform    types.Platform
	Scope       types.Scope
	Sources     bool
}

// SelectVariants returns the variants of m consumable for the selection. Filters are applied in
// order: capabilities, native target, documentation, platform with fallback, scope with
// fallback, and finally the fewest incidental attributes. When the last step still leaves more
// than one candidate all of them are returned and the caller reports the ambiguity.
func SelectVariants(m *Module, sel Selection) []Variant {
	variants := filterVariants(m.Variants, func(v Variant) bool {
		return AcceptsCapabilities(v, sel.Coordinates) && v.NativeTargetMatches(sel.Platform)
	})
	if !sel.Sources {
		variants = WithoutDocumentationAndMetadata(variants)
	}
	variants = withFallbackPlatform(variants, sel.Platform.Type)
	variants = withFallbackScope(variants, sel.Scope)
	return byIncidentalAttributes(variants)
}

func withFallbackPlatform(variants []Variant, t types.PlatformType) []Variant {
	matching := filterVariants(variants, func(v Variant) bool { return v.MatchesPlatformType(t) })
	fallback, ok := t.Fallback()
	if len(WithoutDocumentationAndMetadata(matching)) > 0 || !ok {
		return matching
	}
	return filterVariants(variants, func(v Variant) bool { return v.MatchesPlatformType(fallback) })
}

func withFallbackScope(variants []Variant, s types.Scope) []Variant {
	matching := filterVariants(variants, func(v Variant) bool { return v.MatchesScope(s) })
	if len(WithoutDocumentationAndMetadata(matching)) > 0 {
		return matching
	}
	if fallback, ok := s.Fallback(); ok {
		fallbackMatching := filterVariants(variants, func(v Variant) bool { return v.MatchesScope(fallback) })
		if len(WithoutDocumentationAndMetadata(fallbackMatching)) > 0 {
			return fallbackMatching
		}
	}
	return matching
}

func byIncidentalAttributes(variants []Variant) []Variant {
	if len(WithoutDocumentationAndMetadata(variants)) == 1 || len(variants) == 0 {
		return variants
	}
	least := -1
	for _, v := range variants {
		if n := v.incidentalAttributes(); least < 0 || n < least {
			least = n
		}
	}
	fewest := filterVariants(variants, func(v Variant) bool { return v.incidentalAttributes() == least })
	if len(WithoutDocumentationAndMetadata(fewest)) == 1 {
		return fewest
	}
	return variants
}

// AcceptsCapabilities rejects variants declaring capabilities other than the library itself.
// Two known publications are accepted anyway: kotlin-test-junit(5) providing the test framework
// implementation, and guava providing google-collections in its jre and android flavors.
func AcceptsCapabilities(v Variant, c types.Coordinates) bool {
	own := Capability{Group: c.Group, Name: c.Module, Version: c.Version}
	if len(v.Capabilities) == 0 || (len(v.Capabilities) == 1 && v.Capabilities[0] == own) {
		return true
	}
	return isKotlinTestException(v, c, own) || isGuavaException(v, c, own)
}

func sortedCapabilities(caps []Capability) []Capability {
	out := append([]Capability(nil), caps...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func sameCapabilities(a, b []Capability) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func isKotlinTestException(v Variant, c types.Coordinates, own Capability) bool {
	if c.Group != "org.jetbrains.kotlin" || (c.Module != "kotlin-test-junit" && c.Module != "kotlin-test-junit5") {
		return false
	}
	expected := sortedCapabilities([]Capability{{Group: c.Group, Name: "kotlin-test-framework-impl", Version: c.Version}, own})
	return sameCapabilities(sortedCapabilities(v.Capabilities), expected)
}

func isGuavaException(v Variant, c types.Coordinates, own Capability) bool {
	if c.Group != "com.google.guava" || c.Module != "guava" {
		return false
	}
	expected := sortedCapabilities([]Capability{{Group: "com.google.collections", Name: "google-collections", Version: c.Version}, own})
	if !sameCapabilities(sortedCapabilities(v.Capabilities), expected) {
		return false
	}
	var env string
	switch c.Version[strings.LastIndex(c.Version, "-")+1:] {
	case "android":
		env = EnvironmentAndroid
	case "jre":
		env = EnvironmentStandardJvm
	default:
		return false
	}
	return v.Attr(AttrJvmEnvironment) == env
}
