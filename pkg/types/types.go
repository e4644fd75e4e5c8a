package types

import (
	"fmt"
	"strings"
)

// Coordinates identify a library in a Maven repository.
type Coordinates struct {
	Group   string `json:"group"`
	Module  string `json:"module"`
	Version string `json:"version,omitempty"`
}

func (c Coordinates) String() string {
	if c.Version == "" {
		return c.Group + ":" + c.Module
	}
	return c.Group + ":" + c.Module + ":" + c.Version
}

// Key is the version-less identity shared by all versions of a library.
func (c Coordinates) Key() string {
	return c.Group + ":" + c.Module
}

// GroupPath returns the group with dots replaced by slashes, as used by Maven layouts.
func (c Coordinates) GroupPath() string {
	return strings.ReplaceAll(c.Group, ".", "/")
}

// ParseCoordinates parses "group:module[:version]".
func ParseCoordinates(spec string) (Coordinates, error) {
	parts := strings.Split(strings.TrimSpace(spec), ":")
	if len(parts) < 2 || len(parts) > 3 {
		return Coordinates{}, fmt.Errorf("invalid coordinates %q: expected group:module[:version]", spec)
	}
	for _, p := range parts {
		if strings.TrimSpace(p) == "" {
			return Coordinates{}, fmt.Errorf("invalid coordinates %q: empty part", spec)
		}
	}
	c := Coordinates{Group: parts[0], Module: parts[1]}
	if len(parts) == 3 {
		c.Version = parts[2]
	}
	return c, nil
}

type ResolutionState int

const (
	StateInitial ResolutionState = iota
	StateUnsure
	StateResolved
)

func (s ResolutionState) String() string {
	switch s {
	case StateUnsure:
		return "UNSURE"
	case StateResolved:
		return "RESOLVED"
	default:
		return "INITIAL"
	}
}

// ResolutionLevel is how far resolution is allowed to go: LOCAL never touches the network.
type ResolutionLevel int

const (
	LevelLocal ResolutionLevel = iota
	LevelNetwork
)

// State is the resolution state a dependency reaches when resolved at this level.
func (l ResolutionLevel) State() ResolutionState {
	if l == LevelNetwork {
		return StateResolved
	}
	return StateUnsure
}

func (l ResolutionLevel) String() string {
	if l == LevelNetwork {
		return "NETWORK"
	}
	return "LOCAL"
}

func ParseResolutionLevel(s string) (ResolutionLevel, error) {
	switch strings.ToUpper(s) {
	case "LOCAL":
		return LevelLocal, nil
	case "NETWORK", "":
		return LevelNetwork, nil
	}
	return LevelNetwork, fmt.Errorf("unknown resolution level %q", s)
}

// Scope selects which dependencies of a library are needed.
type Scope string

const (
	ScopeCompile Scope = "COMPILE"
	ScopeRuntime Scope = "RUNTIME"
)

func ParseScope(s string) (Scope, error) {
	switch Scope(strings.ToUpper(s)) {
	case ScopeCompile, "":
		return ScopeCompile, nil
	case ScopeRuntime:
		return ScopeRuntime, nil
	}
	return ScopeCompile, fmt.Errorf("unknown scope %q", s)
}

// Fallback is the scope tried when no Gradle variant matches this one.
func (s Scope) Fallback() (Scope, bool) {
	if s == ScopeCompile {
		return ScopeRuntime, true
	}
	return "", false
}

// MatchesPomScope reports whether a POM dependency with the given <scope> belongs to s.
func (s Scope) MatchesPomScope(pomScope string) bool {
	switch pomScope {
	case "", "compile":
		return true
	case "runtime":
		return s == ScopeRuntime
	}
	return false
}

// MatchesUsage reports whether a Gradle org.gradle.usage value belongs to s.
func (s Scope) MatchesUsage(usage string) bool {
	switch s {
	case ScopeCompile:
		return strings.HasSuffix(usage, "-api")
	case ScopeRuntime:
		return strings.HasSuffix(usage, "-runtime")
	}
	return false
}
