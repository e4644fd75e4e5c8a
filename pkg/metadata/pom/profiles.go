package pom

import (
	"math"
	"os"
	"regexp"
	"runtime"
	"strconv"
	"strings"
)

type Activation struct {
	ActiveByDefault string              `xml:"activeByDefault"`
	JDK             string              `xml:"jdk"`
	OS              *ActivationOS       `xml:"os"`
	Property        *ActivationProperty `xml:"property"`
	File            *ActivationFile     `xml:"file"`
}

type ActivationOS struct {
	Name    string `xml:"name"`
	Family  string `xml:"family"`
	Arch    string `xml:"arch"`
	Version string `xml:"version"`
}

type ActivationProperty struct {
	Name  string `xml:"name"`
	Value string `xml:"value"`
}

type ActivationFile struct {
	Exists  string `xml:"exists"`
	Missing string `xml:"missing"`
}

// Environment is what profile activation may look at.
type Environment struct {
	JDKVersion string
	OSName     string
	OSFamily   string
	OSArch     string
	OSVersion  string
	// Property reads a JVM-style system property.
	Property func(name string) (string, bool)
	Env      func(name string) (string, bool)
	Exists   func(path string) bool
}

// DefaultEnvironment describes the running machine with Java naming conventions.
func DefaultEnvironment(jdkVersion string) Environment {
	env := Environment{
		JDKVersion: jdkVersion,
		OSArch:     runtime.GOARCH,
		Property:   func(string) (string, bool) { return "", false },
		Env:        os.LookupEnv,
		Exists: func(path string) bool {
			_, err := os.Stat(path)
			return err == nil
		},
	}
	switch runtime.GOOS {
	case "darwin":
		env.OSName, env.OSFamily = "Mac OS X", "mac"
	case "windows":
		env.OSName, env.OSFamily = "Windows", "windows"
	default:
		env.OSName, env.OSFamily = strings.ToUpper(runtime.GOOS[:1])+runtime.GOOS[1:], "unix"
	}
	if runtime.GOARCH == "amd64" && runtime.GOOS == "darwin" {
		env.OSArch = "x86_64"
	}
	if runtime.GOARCH == "arm64" && runtime.GOOS == "darwin" {
		env.OSArch = "aarch64"
	}
	return env
}

func (e Environment) property(name string) (string, bool) {
	if name == "java.version" && e.JDKVersion != "" {
		return e.JDKVersion, true
	}
	if e.Property == nil {
		return "", false
	}
	return e.Property(name)
}

// ActiveProfiles returns the explicitly activated profiles or, when there are none, the ones
// active by default.
func (p *Project) ActiveProfiles(env Environment) []Profile {
	var activated, byDefault []Profile
	for _, profile := range p.Profiles {
		if profile.Activation == nil {
			continue
		}
		if profile.Activation.isActivated(env) {
			activated = append(activated, profile)
		}
		if strings.TrimSpace(profile.Activation.ActiveByDefault) == "true" {
			byDefault = append(byDefault, profile)
		}
	}
	if len(activated) > 0 {
		return activated
	}
	return byDefault
}

func (a *Activation) isActivated(env Environment) bool {
	switch {
	case strings.TrimSpace(a.JDK) != "":
		return jdkActive(strings.TrimSpace(a.JDK), env)
	case a.OS != nil:
		return a.OS.isActive(env)
	case a.Property != nil:
		return a.Property.isActive(env)
	case a.File != nil:
		return a.File.isActive(env)
	}
	return false
}

func jdkActive(expected string, env Environment) bool {
	actual, ok := env.property("java.version")
	if !ok || actual == "" {
		return false
	}
	switch {
	case strings.HasPrefix(expected, "!"):
		return !strings.HasPrefix(actual, expected[1:])
	case strings.HasPrefix(expected, "[") || strings.HasPrefix(expected, "("):
		r, ok := parseJDKRange(expected)
		if !ok {
			return false
		}
		v, ok := parseJDKVersion(actual)
		return ok && r.contains(v)
	}
	return strings.HasPrefix(actual, expected)
}

func (o *ActivationOS) isActive(env Environment) bool {
	if o.Name == "" && o.Family == "" && o.Arch == "" && o.Version == "" {
		return false
	}
	if o.Version != "" && strings.HasPrefix(o.Version, "regex:") {
		re, err := regexp.Compile("^(?:" + strings.TrimPrefix(o.Version, "regex:") + ")$")
		if err != nil || !re.MatchString(strings.ToLower(env.OSVersion)) {
			return false
		}
	} else if !osValueMatches(o.Version, env.OSVersion) {
		return false
	}
	return osValueMatches(o.Name, env.OSName) &&
		osValueMatches(o.Family, env.OSFamily) &&
		osValueMatches(o.Arch, env.OSArch)
}

func osValueMatches(expected, actual string) bool {
	if expected == "" {
		return true
	}
	negated := strings.HasPrefix(expected, "!")
	match := strings.EqualFold(strings.TrimPrefix(expected, "!"), actual)
	if negated {
		return !match
	}
	return match
}

func (p *ActivationProperty) isActive(env Environment) bool {
	name := strings.TrimSpace(p.Name)
	if name == "" {
		return false
	}
	negated := strings.HasPrefix(name, "!")
	name = strings.TrimPrefix(name, "!")

	var actual string
	var defined bool
	if strings.HasPrefix(name, "env.") {
		envName := strings.TrimPrefix(name, "env.")
		if runtime.GOOS == "windows" {
			envName = strings.ToUpper(envName)
		}
		if env.Env != nil {
			actual, defined = env.Env(envName)
		}
	} else {
		actual, defined = env.property(name)
	}

	if negated {
		return !defined
	}
	value := strings.TrimSpace(p.Value)
	if value == "" {
		return defined
	}
	if strings.HasPrefix(value, "!") {
		return !defined || actual != value[1:]
	}
	return defined && actual == value
}

func (f *ActivationFile) isActive(env Environment) bool {
	if env.Exists == nil {
		return false
	}
	switch {
	case strings.TrimSpace(f.Exists) != "":
		return env.Exists(strings.TrimSpace(f.Exists))
	case strings.TrimSpace(f.Missing) != "":
		return !env.Exists(strings.TrimSpace(f.Missing))
	}
	return false
}

type jdkVersion []int

var (
	minJDK = jdkVersion{math.MinInt}
	maxJDK = jdkVersion{math.MaxInt}

	jdkRedundant = regexp.MustCompile(`[^\d._-]`)
	jdkDelimiter = regexp.MustCompile(`[._-]`)
)

func parseJDKVersion(s string) (jdkVersion, bool) {
	return jdkParts(jdkDelimiter.Split(jdkRedundant.ReplaceAllString(s, ""), -1))
}

func jdkParts(parts []string) (jdkVersion, bool) {
	v := make(jdkVersion, 0, len(parts))
	for _, part := range parts {
		n, err := strconv.Atoi(part)
		if err != nil {
			return nil, false
		}
		v = append(v, n)
	}
	return v, len(v) > 0
}

func (v jdkVersion) compare(o jdkVersion) int {
	for i := 0; i < len(v) || i < len(o); i++ {
		a, b := math.MinInt, math.MinInt
		if i < len(v) {
			a = v[i]
		}
		if i < len(o) {
			b = o[i]
		}
		if a != b {
			if a < b {
				return -1
			}
			return 1
		}
	}
	return 0
}

type jdkBound struct {
	version jdkVersion
	closed  bool
}

type jdkRange struct {
	left, right jdkBound
}

func (r jdkRange) contains(v jdkVersion) bool {
	left := v.compare(r.left.version)
	right := v.compare(r.right.version)
	leftOK := left > 0 || (r.left.closed && left == 0)
	rightOK := right < 0 || (r.right.closed && right == 0)
	return leftOK && rightOK
}

func parseJDKRange(s string) (jdkRange, bool) {
	parts := strings.Split(s, ",")
	if len(parts) > 2 {
		return jdkRange{}, false
	}

	leftPart := strings.TrimSpace(parts[0])
	left := jdkBound{closed: strings.HasPrefix(leftPart, "[")}
	leftPart = strings.TrimLeft(leftPart, "[(")
	if leftPart == "" {
		left.version = minJDK
	} else if v, ok := jdkParts(strings.Split(leftPart, ".")); ok {
		left.version = v
	} else {
		return jdkRange{}, false
	}

	right := jdkBound{version: maxJDK}
	if len(parts) == 2 {
		rightPart := strings.TrimSpace(parts[1])
		right.closed = strings.HasSuffix(rightPart, "]")
		rightPart = strings.TrimRight(rightPart, "])")
		if rightPart != "" {
			v, ok := jdkParts(strings.Split(rightPart, "."))
			if !ok {
				return jdkRange{}, false
			}
			right.version = v
		}
	}
	return jdkRange{left: left, right: right}, true
}

func profileProperties(profiles []Profile) Properties {
	var result Properties
	for _, p := range profiles {
		result = result.Merge(p.Properties)
	}
	return result
}

func profileDependencies(profiles []Profile) []Dependency {
	var lists [][]Dependency
	for _, p := range profiles {
		lists = append(lists, p.Dependencies)
	}
	return concatDistinct(lists...)
}

func profileManagement(profiles []Profile) *DependencyManagement {
	var parts []*DependencyManagement
	for _, p := range profiles {
		parts = append(parts, p.DependencyManagement)
	}
	m := mergeManagement(parts...)
	if m == nil || len(m.Dependencies) == 0 {
		return nil
	}
	return m
}
