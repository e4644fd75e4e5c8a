package module

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"depres/pkg/types"
)

const kmpModule = `{
  "formatVersion": "1.1",
  "component": {"group": "org.example", "module": "lib", "version": "1.0", "attributes": {"org.gradle.status": "release"}},
  "variants": [
    {
      "name": "metadataApiElements",
      "attributes": {"org.gradle.category": "library", "org.gradle.usage": "kotlin-metadata", "org.jetbrains.kotlin.platform.type": "common"},
      "dependencies": [{"group": "org.jetbrains.kotlin", "module": "kotlin-stdlib", "version": {"requires": "1.9.0"}}],
      "files": [{"name": "lib-metadata-1.0.jar", "url": "lib-1.0.jar", "size": 10, "sha1": "abc"}]
    },
    {
      "name": "commonMainMetadataElements",
      "attributes": {"org.gradle.category": "library", "org.gradle.usage": "kotlin-api", "org.jetbrains.kotlin.platform.type": "common"}
    },
    {
      "name": "jvmApiElements-published",
      "attributes": {"org.gradle.category": "library", "org.gradle.usage": "java-api", "org.gradle.jvm.environment": "standard-jvm", "org.gradle.jvm.version": 8, "org.jetbrains.kotlin.platform.type": "jvm"},
      "available-at": {"url": "../../lib-jvm/1.0/lib-jvm-1.0.module", "group": "org.example", "module": "lib-jvm", "version": "1.0"}
    },
    {
      "name": "jvmRuntimeElements-published",
      "attributes": {"org.gradle.category": "library", "org.gradle.usage": "java-runtime", "org.jetbrains.kotlin.platform.type": "jvm"}
    },
    {
      "name": "jvmSourcesElements-published",
      "attributes": {"org.gradle.category": "documentation", "org.gradle.docstype": "sources", "org.gradle.usage": "java-runtime", "org.jetbrains.kotlin.platform.type": "jvm"}
    },
    {
      "name": "iosArm64ApiElements-published",
      "attributes": {"org.gradle.category": "library", "org.gradle.usage": "kotlin-api", "org.jetbrains.kotlin.platform.type": "native", "org.jetbrains.kotlin.native.target": "ios_arm64"}
    },
    {
      "name": "iosX64ApiElements-published",
      "attributes": {"org.gradle.category": "library", "org.gradle.usage": "kotlin-api", "org.jetbrains.kotlin.platform.type": "native", "org.jetbrains.kotlin.native.target": "ios_x64"}
    }
  ]
}`

func parse(t *testing.T, text string) *Module {
	t.Helper()
	m, err := Parse([]byte(text))
	require.NoError(t, err)
	return m
}

func variantNames(vs []Variant) []string {
	var out []string
	for _, v := range vs {
		out = append(out, v.Name)
	}
	return out
}

func selection(p types.Platform, s types.Scope) Selection {
	return Selection{
		Coordinates: types.Coordinates{Group: "org.example", Module: "lib", Version: "1.0"},
		Platform:    p,
		Scope:       s,
	}
}

func TestParse(t *testing.T) {
	m := parse(t, kmpModule)
	assert.Equal(t, types.Coordinates{Group: "org.example", Module: "lib", Version: "1.0"}, m.Component.Coordinates())
	require.Len(t, m.Variants, 7)

	meta := m.Variants[0]
	assert.True(t, meta.IsKotlinMetadata(types.PlatformCommon))
	assert.Equal(t, "1.9.0", meta.Dependencies[0].Version.Resolve())
	assert.Equal(t, File{Name: "lib-metadata-1.0.jar", URL: "lib-1.0.jar", Size: 10, SHA1: "abc"}, meta.Files[0])

	jvm := m.Variants[2]
	assert.Equal(t, "8", jvm.Attr(AttrJvmVersion))
	require.NotNil(t, jvm.AvailableAt)
	assert.Equal(t, Dependency{Group: "org.example", Module: "lib-jvm", Version: Version{Requires: "1.0"}}, jvm.AvailableAt.AsDependency())
}

func TestParseRejectsMalformedMetadata(t *testing.T) {
	_, err := Parse([]byte(`{"variants": [{"attributes": {"a": {"nested": 1}}}]}`))
	assert.Error(t, err)
}

func TestVersionResolveOrder(t *testing.T) {
	assert.Equal(t, "3", Version{Strictly: "3", Requires: "2", Prefers: "1"}.Resolve())
	assert.Equal(t, "2", Version{Requires: "2", Prefers: "1"}.Resolve())
	assert.Equal(t, "1", Version{Prefers: "1"}.Resolve())
	assert.Empty(t, Version{}.Resolve())
}

func TestSelectVariants(t *testing.T) {
	m := parse(t, kmpModule)

	tests := []struct {
		name     string
		sel      Selection
		expected []string
	}{
		{"jvm compile", selection(types.PlatformJvm, types.ScopeCompile), []string{"jvmApiElements-published"}},
		{"jvm runtime", selection(types.PlatformJvm, types.ScopeRuntime), []string{"jvmRuntimeElements-published"}},
		{"android falls back to jvm", selection(types.PlatformAndroid, types.ScopeCompile), []string{"jvmApiElements-published"}},
		{"native target", selection(types.PlatformIosArm64, types.ScopeCompile), []string{"iosArm64ApiElements-published"}},
		{"no variant for js", selection(types.PlatformJs, types.ScopeCompile), nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, variantNames(SelectVariants(m, tt.sel)))
		})
	}
}

func TestSelectVariantsKeepsSourcesWhenRequested(t *testing.T) {
	m := parse(t, kmpModule)
	sel := selection(types.PlatformJvm, types.ScopeRuntime)
	sel.Sources = true
	assert.Equal(t, []string{"jvmRuntimeElements-published", "jvmSourcesElements-published"}, variantNames(SelectVariants(m, sel)))
}

func TestCompileFallsBackToRuntime(t *testing.T) {
	m := parse(t, `{"component": {"group": "g", "module": "m", "version": "1"}, "variants": [
		{"name": "runtime", "attributes": {"org.gradle.usage": "java-runtime"}}
	]}`)
	assert.Equal(t, []string{"runtime"}, variantNames(SelectVariants(m, selection(types.PlatformJvm, types.ScopeCompile))))
}

func TestFewestIncidentalAttributesWins(t *testing.T) {
	m := parse(t, `{"component": {"group": "g", "module": "m", "version": "1"}, "variants": [
		{"name": "a", "attributes": {"org.gradle.usage": "java-api", "org.gradle.jvm.version": 11}},
		{"name": "b", "attributes": {"org.gradle.usage": "java-api", "org.gradle.jvm.version": 11, "org.gradle.libraryelements": "jar"}}
	]}`)
	assert.Equal(t, []string{"a"}, variantNames(SelectVariants(m, selection(types.PlatformJvm, types.ScopeCompile))))

	tied := parse(t, `{"component": {"group": "g", "module": "m", "version": "1"}, "variants": [
		{"name": "a", "attributes": {"org.gradle.usage": "java-api", "org.gradle.jvm.version": 11}},
		{"name": "c", "attributes": {"org.gradle.usage": "java-api", "org.gradle.libraryelements": "jar"}}
	]}`)
	assert.Equal(t, []string{"a", "c"}, variantNames(SelectVariants(tied, selection(types.PlatformJvm, types.ScopeCompile))))
}

func TestAcceptsCapabilities(t *testing.T) {
	lib := types.Coordinates{Group: "g", Module: "m", Version: "1"}
	assert.True(t, AcceptsCapabilities(Variant{}, lib))
	assert.True(t, AcceptsCapabilities(Variant{Capabilities: []Capability{{"g", "m", "1"}}}, lib))
	assert.False(t, AcceptsCapabilities(Variant{Capabilities: []Capability{{"g", "other", "1"}}}, lib))
	assert.False(t, AcceptsCapabilities(Variant{Capabilities: []Capability{{"g", "m", "1"}, {"g", "extra", "1"}}}, lib))

	kotlinTest := types.Coordinates{Group: "org.jetbrains.kotlin", Module: "kotlin-test-junit", Version: "1.9.0"}
	assert.True(t, AcceptsCapabilities(Variant{Capabilities: []Capability{
		{"org.jetbrains.kotlin", "kotlin-test-junit", "1.9.0"},
		{"org.jetbrains.kotlin", "kotlin-test-framework-impl", "1.9.0"},
	}}, kotlinTest))
}

func TestGuavaCapabilitiesFollowFlavor(t *testing.T) {
	m := parse(t, `{"component": {"group": "com.google.guava", "module": "guava", "version": "33.0.0-jre"}, "variants": [
		{"name": "jreApiElements", "attributes": {"org.gradle.usage": "java-api", "org.gradle.jvm.environment": "standard-jvm"},
		 "capabilities": [{"group": "com.google.guava", "name": "guava", "version": "33.0.0-jre"}, {"group": "com.google.collections", "name": "google-collections", "version": "33.0.0-jre"}]},
		{"name": "androidApiElements", "attributes": {"org.gradle.usage": "java-api", "org.gradle.jvm.environment": "android"},
		 "capabilities": [{"group": "com.google.guava", "name": "guava", "version": "33.0.0-jre"}, {"group": "com.google.collections", "name": "google-collections", "version": "33.0.0-jre"}]}
	]}`)
	sel := Selection{
		Coordinates: types.Coordinates{Group: "com.google.guava", Module: "guava", Version: "33.0.0-jre"},
		Platform:    types.PlatformJvm,
		Scope:       types.ScopeCompile,
	}
	assert.Equal(t, []string{"jreApiElements"}, variantNames(SelectVariants(m, sel)))

	sel.Platform = types.PlatformAndroid
	assert.Equal(t, []string{"jreApiElements"}, variantNames(SelectVariants(m, sel)), "the android variant does not belong to the jre flavor")
}
