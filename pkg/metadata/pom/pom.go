// Package pom reads Maven POM files and computes effective projects from them.
package pom

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"strings"

	"depres/pkg/types"
	"depres/pkg/version"
)

type Project struct {
	XMLName              xml.Name              `xml:"project"`
	ModelVersion         string                `xml:"modelVersion"`
	Parent               *Parent               `xml:"parent"`
	GroupID              string                `xml:"groupId"`
	ArtifactID           string                `xml:"artifactId"`
	Version              string                `xml:"version"`
	Packaging            string                `xml:"packaging"`
	Name                 string                `xml:"name"`
	Description          string                `xml:"description"`
	URL                  string                `xml:"url"`
	DependencyManagement *DependencyManagement `xml:"dependencyManagement"`
	Properties           Properties            `xml:"properties"`
	Dependencies         []Dependency          `xml:"dependencies>dependency"`
	Profiles             []Profile             `xml:"profiles>profile"`
}

type Parent struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
	Version    string `xml:"version"`
}

func (p Parent) Coordinates() types.Coordinates {
	return types.Coordinates{
		Group:   strings.TrimSpace(p.GroupID),
		Module:  strings.TrimSpace(p.ArtifactID),
		Version: strings.TrimSpace(p.Version),
	}
}

type DependencyManagement struct {
	Dependencies []Dependency `xml:"dependencies>dependency"`
}

type Dependency struct {
	GroupID    string      `xml:"groupId"`
	ArtifactID string      `xml:"artifactId"`
	Version    string      `xml:"version"`
	Type       string      `xml:"type"`
	Classifier string      `xml:"classifier"`
	Scope      string      `xml:"scope"`
	Optional   string      `xml:"optional"`
	Exclusions []Exclusion `xml:"exclusions>exclusion"`
}

type Exclusion struct {
	GroupID    string `xml:"groupId"`
	ArtifactID string `xml:"artifactId"`
}

func (d Dependency) Coordinates() types.Coordinates {
	return types.Coordinates{
		Group:   strings.TrimSpace(d.GroupID),
		Module:  strings.TrimSpace(d.ArtifactID),
		Version: strings.TrimSpace(d.Version),
	}
}

func (d Dependency) IsOptional() bool {
	return strings.TrimSpace(d.Optional) == "true"
}

// IsBOMImport reports a dependencyManagement entry importing another BOM.
func (d Dependency) IsBOMImport() bool {
	return d.Scope == "import" && (d.Type == "" || d.Type == "pom")
}

func (d Dependency) identity() string {
	return strings.Join([]string{d.GroupID, d.ArtifactID, d.Version, d.Type, d.Classifier, d.Scope, d.Optional}, "\x00")
}

type Profile struct {
	ID                   string                `xml:"id"`
	Activation           *Activation           `xml:"activation"`
	Properties           Properties            `xml:"properties"`
	Dependencies         []Dependency          `xml:"dependencies>dependency"`
	DependencyManagement *DependencyManagement `xml:"dependencyManagement"`
}

// Properties keeps <properties> children in declaration order. Both the usual <key>value</key>
// form and the <property><name/><value/></property> form are accepted.
type Properties struct {
	Keys   []string
	Values map[string]string
}

func (p *Properties) Set(key, value string) {
	if p.Values == nil {
		p.Values = make(map[string]string)
	}
	if _, exists := p.Values[key]; !exists {
		p.Keys = append(p.Keys, key)
	}
	p.Values[key] = value
}

func (p Properties) Get(key string) (string, bool) {
	v, ok := p.Values[key]
	return v, ok
}

func (p Properties) Len() int {
	return len(p.Keys)
}

// Merge returns p overlaid with other; values from other win.
func (p Properties) Merge(other Properties) Properties {
	var result Properties
	for _, k := range p.Keys {
		result.Set(k, p.Values[k])
	}
	for _, k := range other.Keys {
		result.Set(k, other.Values[k])
	}
	return result
}

func (p *Properties) UnmarshalXML(d *xml.Decoder, start xml.StartElement) error {
	for {
		tok, err := d.Token()
		if err != nil {
			return err
		}
		switch t := tok.(type) {
		case xml.StartElement:
			if t.Name.Local == "property" {
				var prop struct {
					Name  string `xml:"name"`
					Value string `xml:"value"`
				}
				if err := d.DecodeElement(&prop, &t); err != nil {
					return err
				}
				if prop.Name == "" {
					return fmt.Errorf("property name is not specified")
				}
				p.Set(prop.Name, prop.Value)
				continue
			}
			var value string
			if err := d.DecodeElement(&value, &t); err != nil {
				return err
			}
			p.Set(t.Name.Local, strings.TrimSpace(value))
		case xml.EndElement:
			return nil
		}
	}
}

// Sanitize patches POMs known to be published broken.
func Sanitize(text []byte, c types.Coordinates) []byte {
	switch {
	case c.Group == "org.codehaus.plexus" && c.Module == "plexus":
		return bytes.ReplaceAll(text, []byte("&oslash;"), []byte("ø"))
	case c.Module == "hadoop-project":
		text = bytes.ReplaceAll(text, []byte("<Xlint:-"), []byte("<"))
		return bytes.ReplaceAll(text, []byte("<Xlint:"), []byte("<"))
	}
	return text
}

// Parse decodes a POM after sanitizing it for the coordinates it was downloaded for.
func Parse(text []byte, c types.Coordinates) (*Project, error) {
	decoder := xml.NewDecoder(bytes.NewReader(Sanitize(text, c)))
	decoder.Strict = false
	decoder.Entity = xml.HTMLEntity
	var project Project
	if err := decoder.Decode(&project); err != nil {
		return nil, fmt.Errorf("failed to parse pom of %s: %w", c, err)
	}
	if project.XMLName.Local != "project" {
		return nil, fmt.Errorf("failed to parse pom of %s: root element is <%s>", c, project.XMLName.Local)
	}
	return &project, nil
}

// PublishedWithGradleMetadata reports the marker Gradle puts into POMs that have a .module sibling.
func PublishedWithGradleMetadata(text []byte) bool {
	return bytes.Contains(text, []byte("do_not_remove: published-with-gradle-metadata"))
}

const maxTemplateDepth = 32

// Expand substitutes a value that consists of exactly one ${...} reference. project.groupId and
// project.version come from the project itself, other keys from its properties, recursively.
func (p *Project) Expand(value string) string {
	return p.expand(value, 0)
}

func (p *Project) expand(value string, depth int) string {
	if !strings.HasPrefix(value, "${") || !strings.HasSuffix(value, "}") || depth > maxTemplateDepth {
		return value
	}
	key := value[2 : len(value)-1]
	switch key {
	case "project.groupId", "pom.groupId":
		if p.GroupID != "" {
			return p.GroupID
		}
	case "project.version", "pom.version":
		if p.Version != "" {
			return p.Version
		}
	}
	if v, ok := p.Properties.Get(key); ok {
		return p.expand(v, depth+1)
	}
	return value
}

func (p *Project) expandDependency(d Dependency) Dependency {
	d.GroupID = p.Expand(strings.TrimSpace(d.GroupID))
	d.ArtifactID = p.Expand(strings.TrimSpace(d.ArtifactID))
	d.Version = p.Expand(strings.TrimSpace(d.Version))
	d.Type = p.Expand(strings.TrimSpace(d.Type))
	d.Scope = p.Expand(strings.TrimSpace(d.Scope))
	return d
}

// FindManaged returns the first dependencyManagement entry for group:artifact.
func (p *Project) FindManaged(group, artifact string) (Dependency, bool) {
	if p.DependencyManagement == nil {
		return Dependency{}, false
	}
	for _, d := range p.DependencyManagement.Dependencies {
		if d.GroupID == group && d.ArtifactID == artifact {
			return d, true
		}
	}
	return Dependency{}, false
}

// ManagedVersion returns the single version of a dependencyManagement entry, "[1.2]" read as "1.2".
func ManagedVersion(d Dependency) string {
	return version.FromSingleVersionRange(d.Version)
}

func concatDistinct(lists ...[]Dependency) []Dependency {
	var result []Dependency
	seen := make(map[string]bool)
	for _, list := range lists {
		for _, d := range list {
			id := d.identity()
			if seen[id] {
				continue
			}
			seen[id] = true
			result = append(result, d)
		}
	}
	return result
}

func mergeManagement(parts ...*DependencyManagement) *DependencyManagement {
	var lists [][]Dependency
	present := false
	for _, part := range parts {
		if part == nil {
			continue
		}
		present = true
		lists = append(lists, part.Dependencies)
	}
	if !present {
		return nil
	}
	return &DependencyManagement{Dependencies: concatDistinct(lists...)}
}
