// Package module reads Gradle Module Metadata (.module files).
package module

import (
	"encoding/json"
	"fmt"
	"strconv"

	"depres/pkg/types"
)

// Module is the root of a .module file.
type Module struct {
	FormatVersion string    `json:"formatVersion"`
	Component     Component `json:"component"`
	Variants      []Variant `json:"variants"`
}

type Component struct {
	Group      string     `json:"group"`
	Module     string     `json:"module"`
	Version    string     `json:"version"`
	URL        string     `json:"url,omitempty"`
	Attributes Attributes `json:"attributes,omitempty"`
}

func (c Component) Coordinates() types.Coordinates {
	return types.Coordinates{Group: c.Group, Module: c.Module, Version: c.Version}
}

type Variant struct {
	Name                  string       `json:"name"`
	Attributes            Attributes   `json:"attributes,omitempty"`
	Dependencies          []Dependency `json:"dependencies,omitempty"`
	DependencyConstraints []Dependency `json:"dependencyConstraints,omitempty"`
	Files                 []File       `json:"files,omitempty"`
	Capabilities          []Capability `json:"capabilities,omitempty"`
	AvailableAt           *AvailableAt `json:"available-at,omitempty"`
}

type Dependency struct {
	Group                 string       `json:"group"`
	Module                string       `json:"module"`
	Version               Version      `json:"version"`
	Excludes              []Exclude    `json:"excludes,omitempty"`
	Attributes            Attributes   `json:"attributes,omitempty"`
	RequestedCapabilities []Capability `json:"requestedCapabilities,omitempty"`
	Reason                string       `json:"reason,omitempty"`
}

type Exclude struct {
	Group  string `json:"group"`
	Module string `json:"module"`
}

// Version is a rich version declaration.
type Version struct {
	Requires string   `json:"requires,omitempty"`
	Strictly string   `json:"strictly,omitempty"`
	Prefers  string   `json:"prefers,omitempty"`
	Rejects  []string `json:"rejects,omitempty"`
}

// Resolve picks the version to request: strictly, then requires, then prefers.
// TODO: honor strictly during conflict resolution instead of treating it as requires.
func (v Version) Resolve() string {
	switch {
	case v.Strictly != "":
		return v.Strictly
	case v.Requires != "":
		return v.Requires
	}
	return v.Prefers
}

type File struct {
	Name   string `json:"name"`
	URL    string `json:"url"`
	Size   int64  `json:"size,omitempty"`
	SHA512 string `json:"sha512,omitempty"`
	SHA256 string `json:"sha256,omitempty"`
	SHA1   string `json:"sha1,omitempty"`
	MD5    string `json:"md5,omitempty"`
}

type Capability struct {
	Group   string `json:"group"`
	Name    string `json:"name"`
	Version string `json:"version"`
}

// AvailableAt redirects a variant to another module.
type AvailableAt struct {
	URL     string `json:"url"`
	Group   string `json:"group"`
	Module  string `json:"module"`
	Version string `json:"version"`
}

func (a AvailableAt) AsDependency() Dependency {
	return Dependency{Group: a.Group, Module: a.Module, Version: Version{Requires: a.Version}}
}

// Value is an attribute value. Gradle writes strings, numbers and booleans; all are kept as text.
type Value string

func (v *Value) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*v = Value(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err == nil {
		*v = Value(n.String())
		return nil
	}
	var b bool
	if err := json.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("unsupported attribute value %s", data)
	}
	*v = Value(strconv.FormatBool(b))
	return nil
}

type Attributes map[string]Value

// Get returns the attribute value, or "" when it is absent.
func (a Attributes) Get(attr Attribute) string {
	return string(a[string(attr)])
}

func (a Attributes) Has(attr Attribute) bool {
	_, ok := a[string(attr)]
	return ok
}

func Parse(data []byte) (*Module, error) {
	var m Module
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse module metadata: %w", err)
	}
	return &m, nil
}
