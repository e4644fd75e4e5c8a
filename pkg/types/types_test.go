package types

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCoordinates(t *testing.T) {
	c, err := ParseCoordinates("org.jetbrains.kotlin:kotlin-stdlib:1.9.20")
	require.NoError(t, err)
	assert.Equal(t, "org.jetbrains.kotlin", c.Group)
	assert.Equal(t, "kotlin-stdlib", c.Module)
	assert.Equal(t, "1.9.20", c.Version)
	assert.Equal(t, "org.jetbrains.kotlin:kotlin-stdlib", c.Key())
	assert.Equal(t, "org/jetbrains/kotlin", c.GroupPath())

	c, err = ParseCoordinates("com.example:lib")
	require.NoError(t, err)
	assert.Equal(t, "com.example:lib", c.String())

	for _, bad := range []string{"", "single", "a::b", "a:b:c:d"} {
		_, err := ParseCoordinates(bad)
		assert.Error(t, err, bad)
	}
}

func TestParsePlatform(t *testing.T) {
	p, err := ParsePlatform("jvm")
	require.NoError(t, err)
	assert.Equal(t, PlatformJvm, p)

	p, err = ParsePlatform("iosSimulatorArm64")
	require.NoError(t, err)
	assert.Equal(t, "ios_simulator_arm64", p.NativeTarget)
	assert.True(t, p.IsIOS())

	_, err = ParsePlatform("amiga")
	assert.Error(t, err)
	assert.Contains(t, PlatformNames(), "LINUX_X64")
}

func TestScopeMatching(t *testing.T) {
	assert.True(t, ScopeCompile.MatchesPomScope(""))
	assert.True(t, ScopeCompile.MatchesPomScope("compile"))
	assert.False(t, ScopeCompile.MatchesPomScope("runtime"))
	assert.True(t, ScopeRuntime.MatchesPomScope("runtime"))
	assert.False(t, ScopeRuntime.MatchesPomScope("test"))
	assert.False(t, ScopeRuntime.MatchesPomScope("provided"))

	assert.True(t, ScopeCompile.MatchesUsage("java-api"))
	assert.True(t, ScopeCompile.MatchesUsage("kotlin-api"))
	assert.False(t, ScopeCompile.MatchesUsage("java-runtime"))
	assert.True(t, ScopeRuntime.MatchesUsage("kotlin-runtime"))

	fallback, ok := ScopeCompile.Fallback()
	assert.True(t, ok)
	assert.Equal(t, ScopeRuntime, fallback)
	_, ok = ScopeRuntime.Fallback()
	assert.False(t, ok)
}

func TestResolutionLevelState(t *testing.T) {
	assert.Equal(t, StateUnsure, LevelLocal.State())
	assert.Equal(t, StateResolved, LevelNetwork.State())
	assert.True(t, StateInitial < StateUnsure && StateUnsure < StateResolved)
}

func TestMessageString(t *testing.T) {
	m := NewMessage(DiagUnableToResolveDependency, SeverityError, "Unable to resolve %s", "a:b:1").
		WithExtra("https://repo.example")
	m.Suppressed = []Message{NewMessage(DiagUnableToReachURL, SeverityError, "Unable to reach url").WithErr(errors.New("refused"))}

	s := m.String()
	assert.Contains(t, s, "ERROR: Unable to resolve a:b:1 (https://repo.example)")
	assert.Contains(t, s, "caused by ERROR: Unable to reach url")
	assert.Equal(t, SeverityError, MaxSeverity([]Message{m, NewMessage("x", SeverityInfo, "ok")}))
	assert.Equal(t, SeverityInfo, MaxSeverity(nil))
}
