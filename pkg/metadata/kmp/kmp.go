// Package kmp reads the project structure published inside Kotlin Multiplatform metadata jars
// and extracts single source sets from them.
package kmp

import (
	"archive/zip"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// DescriptorEntry is the jar entry holding the project structure.
const DescriptorEntry = "META-INF/kotlin-project-structure-metadata.json"

var ErrEntryNotFound = errors.New("jar entry not found")

type Metadata struct {
	ProjectStructure ProjectStructure `json:"projectStructure"`
}

type ProjectStructure struct {
	FormatVersion     string      `json:"formatVersion"`
	IsPublishedAsRoot string      `json:"isPublishedAsRoot,omitempty"`
	Variants          []Variant   `json:"variants"`
	SourceSets        []SourceSet `json:"sourceSets"`
}

// Variant maps a published Gradle variant to the source sets it is made of.
type Variant struct {
	Name      string   `json:"name"`
	SourceSet []string `json:"sourceSet"`
}

type SourceSet struct {
	Name             string   `json:"name"`
	DependsOn        []string `json:"dependsOn,omitempty"`
	ModuleDependency []string `json:"moduleDependency,omitempty"`
	BinaryLayout     string   `json:"binaryLayout,omitempty"`
	HostSpecific     string   `json:"hostSpecific,omitempty"`
}

func Parse(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse kotlin project structure: %w", err)
	}
	return &m, nil
}

// SourceSetsFor returns the source sets shared by all given variants. Gradle variant names may
// carry a "-published" suffix that the project structure omits.
func (m *Metadata) SourceSetsFor(variantNames []string) map[string]bool {
	wanted := map[string]bool{}
	for _, n := range variantNames {
		wanted[n] = true
		wanted[strings.TrimSuffix(n, "-published")] = true
	}
	var shared map[string]bool
	for _, v := range m.ProjectStructure.Variants {
		if !wanted[v.Name] {
			continue
		}
		current := map[string]bool{}
		for _, s := range v.SourceSet {
			if shared == nil || shared[s] {
				current[s] = true
			}
		}
		shared = current
	}
	if shared == nil {
		return map[string]bool{}
	}
	return shared
}

// VariantsWithSourceSet lists the variants including the source set.
func (m *Metadata) VariantsWithSourceSet(sourceSet string) []string {
	var out []string
	for _, v := range m.ProjectStructure.Variants {
		for _, s := range v.SourceSet {
			if s == sourceSet {
				out = append(out, v.Name)
				break
			}
		}
	}
	return out
}

// ReadJarEntry returns the content of entry, or ErrEntryNotFound.
func ReadJarEntry(jarPath, entry string) ([]byte, error) {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return nil, err
	}
	defer r.Close()
	for _, f := range r.File {
		if f.Name != entry {
			continue
		}
		rc, err := f.Open()
		if err != nil {
			return nil, err
		}
		defer rc.Close()
		return io.ReadAll(rc)
	}
	return nil, fmt.Errorf("%w: %s in %s", ErrEntryNotFound, entry, jarPath)
}

// HasJarEntry reports whether the jar contains an entry named dir or any entry below it.
func HasJarEntry(jarPath, dir string) (bool, error) {
	r, err := zip.OpenReader(jarPath)
	if err != nil {
		return false, err
	}
	defer r.Close()
	prefix := strings.TrimSuffix(dir, "/") + "/"
	for _, f := range r.File {
		if f.Name == dir || strings.HasPrefix(f.Name, prefix) {
			return true, nil
		}
	}
	return false, nil
}

// CopyJarEntryDirToJar writes a new jar at target holding the entries below dir in source, with
// the dir prefix removed.
func CopyJarEntryDirToJar(target, dir, source string) error {
	r, err := zip.OpenReader(source)
	if err != nil {
		return err
	}
	defer r.Close()

	out, err := os.Create(target)
	if err != nil {
		return err
	}
	w := zip.NewWriter(out)
	prefix := strings.TrimSuffix(dir, "/") + "/"
	copied := 0
	for _, f := range r.File {
		if !strings.HasPrefix(f.Name, prefix) || f.Name == prefix {
			continue
		}
		if err := copyEntry(w, f, strings.TrimPrefix(f.Name, prefix)); err != nil {
			_ = w.Close()
			_ = out.Close()
			return fmt.Errorf("failed to copy %s: %w", f.Name, err)
		}
		copied++
	}
	if err := w.Close(); err != nil {
		_ = out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	if copied == 0 {
		return fmt.Errorf("%w: %s in %s", ErrEntryNotFound, dir, source)
	}
	return nil
}

func copyEntry(w *zip.Writer, f *zip.File, name string) error {
	header := &zip.FileHeader{Name: name, Method: f.Method, Modified: f.Modified}
	if strings.HasSuffix(name, "/") {
		_, err := w.CreateHeader(header)
		return err
	}
	dst, err := w.CreateHeader(header)
	if err != nil {
		return err
	}
	src, err := f.Open()
	if err != nil {
		return err
	}
	defer src.Close()
	_, err = io.Copy(dst, src)
	return err
}
