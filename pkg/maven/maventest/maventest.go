// Package maventest serves in-memory Maven repositories over HTTP for tests.
package maventest

import (
	"archive/zip"
	"bytes"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"depres/pkg/hashing"
	"depres/pkg/registry"
	"depres/pkg/types"
)

// Repo is a Maven repository whose checksum files are derived from the stored content.
type Repo struct {
	*httptest.Server

	mu       sync.Mutex
	files    map[string][]byte
	requests atomic.Int32
}

func NewRepo(t testing.TB) *Repo {
	r := &Repo{files: map[string][]byte{}}
	r.Server = httptest.NewServer(http.HandlerFunc(r.serve))
	t.Cleanup(r.Close)
	return r
}

func (r *Repo) serve(w http.ResponseWriter, req *http.Request) {
	r.requests.Add(1)
	p := req.URL.Path
	if body, ok := r.get(p); ok {
		_, _ = w.Write(body)
		return
	}
	ext := path.Ext(p)
	if algorithm := strings.TrimPrefix(ext, "."); hashing.IsAlgorithm(algorithm) {
		if body, ok := r.get(strings.TrimSuffix(p, ext)); ok {
			h, _ := hashing.NewHasher(algorithm)
			_, _ = h.Write(body)
			_, _ = w.Write([]byte(h.Hash()))
			return
		}
	}
	http.NotFound(w, req)
}

func (r *Repo) get(p string) ([]byte, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	body, ok := r.files[p]
	return body, ok
}

// Requests counts every request served so far.
func (r *Repo) Requests() int {
	return int(r.requests.Load())
}

func (r *Repo) Repository() registry.Repository {
	return registry.Repository{URL: r.URL}
}

// Put stores content under the repository-relative path p.
func (r *Repo) Put(p string, content []byte) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.files["/"+strings.TrimPrefix(p, "/")] = content
}

func (r *Repo) Remove(p string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.files, "/"+strings.TrimPrefix(p, "/"))
}

// AddFile stores a file of library c.
func (r *Repo) AddFile(c types.Coordinates, name string, content []byte) {
	r.Put(Path(c, name), content)
}

// AddPOM stores a POM for c whose project element contains body.
func (r *Repo) AddPOM(c types.Coordinates, body string) {
	r.AddFile(c, c.Module+"-"+c.Version+".pom", []byte(POM(c, body)))
}

// AddJar stores a jar named after c and returns its content.
func (r *Repo) AddJar(c types.Coordinates, entries map[string]string) []byte {
	jar := Jar(entries)
	r.AddFile(c, c.Module+"-"+c.Version+".jar", jar)
	return jar
}

// AddModule stores Gradle module metadata for c.
func (r *Repo) AddModule(c types.Coordinates, json string) {
	r.AddFile(c, c.Module+"-"+c.Version+".module", []byte(json))
}

// Path is the repository-relative path of a file of c.
func Path(c types.Coordinates, name string) string {
	return fmt.Sprintf("%s/%s/%s/%s", c.GroupPath(), c.Module, c.Version, name)
}

// GradleMarker is the comment Gradle puts into POMs published next to module metadata.
const GradleMarker = "<!-- do_not_remove: published-with-gradle-metadata -->"

func POM(c types.Coordinates, body string) string {
	return fmt.Sprintf(`<?xml version="1.0" encoding="UTF-8"?>
<project>
  <modelVersion>4.0.0</modelVersion>
  <groupId>%s</groupId>
  <artifactId>%s</artifactId>
  <version>%s</version>
  %s
</project>
`, c.Group, c.Module, c.Version, body)
}

// Dependencies renders a <dependencies> block; each entry is "group:module:version[:scope]".
func Dependencies(specs ...string) string {
	var b strings.Builder
	b.WriteString("<dependencies>")
	for _, s := range specs {
		parts := strings.Split(s, ":")
		b.WriteString("<dependency><groupId>" + parts[0] + "</groupId><artifactId>" + parts[1] + "</artifactId>")
		if len(parts) > 2 && parts[2] != "" {
			b.WriteString("<version>" + parts[2] + "</version>")
		}
		if len(parts) > 3 {
			b.WriteString("<scope>" + parts[3] + "</scope>")
		}
		b.WriteString("</dependency>")
	}
	b.WriteString("</dependencies>")
	return b.String()
}

// Jar builds a zip archive from name to content, entries sorted by name.
func Jar(entries map[string]string) []byte {
	names := make([]string, 0, len(entries))
	for n := range entries {
		names = append(names, n)
	}
	sort.Strings(names)
	var buf bytes.Buffer
	w := zip.NewWriter(&buf)
	for _, n := range names {
		f, err := w.Create(n)
		if err != nil {
			panic(err)
		}
		if _, err := f.Write([]byte(entries[n])); err != nil {
			panic(err)
		}
	}
	if err := w.Close(); err != nil {
		panic(err)
	}
	return buf.Bytes()
}

func SHA1(content []byte) string {
	h, _ := hashing.NewHasher(hashing.SHA1)
	_, _ = h.Write(content)
	return h.Hash()
}

// Coordinates parses "group:module:version" and panics on malformed input.
func Coordinates(spec string) types.Coordinates {
	c, err := types.ParseCoordinates(spec)
	if err != nil {
		panic(err)
	}
	return c
}
