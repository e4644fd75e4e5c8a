package installer

import (
	"archive/tar"
	"compress/gzip"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"depres/pkg/hashing"
	"depres/pkg/log"
	"depres/pkg/repository"
)

// SumsFile lists the sha256 of every bundled file, in the format of sha256sum.
const SumsFile = "SHA256SUMS"

// Bundle writes paths into a gzipped tarball. Files are named after their place in the local
// repository that holds them, so a Maven-layout cache unpacks into a usable repository.
func Bundle(w io.Writer, paths []string, cache *repository.FileCache) error {
	gw := gzip.NewWriter(w)
	tw := tar.NewWriter(gw)

	var sums strings.Builder
	seen := map[string]bool{}
	for _, path := range paths {
		name := entryName(path, cache)
		if seen[name] {
			continue
		}
		seen[name] = true

		sum, err := addFile(tw, path, name)
		if err != nil {
			return err
		}
		fmt.Fprintf(&sums, "%s  %s\n", sum, name)
	}

	if err := tw.WriteHeader(&tar.Header{Name: SumsFile, Mode: 0644, Size: int64(sums.Len())}); err != nil {
		return err
	}
	if _, err := io.WriteString(tw, sums.String()); err != nil {
		return err
	}
	if err := tw.Close(); err != nil {
		return err
	}
	log.Debug("Bundle written", map[string]interface{}{"files": len(seen)})
	return gw.Close()
}

func addFile(tw *tar.Writer, path, name string) (string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return "", err
	}
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return "", err
	}
	header.Name = name
	if err := tw.WriteHeader(header); err != nil {
		return "", err
	}

	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	hs, err := hashing.New(hashing.SHA256)
	if err != nil {
		return "", err
	}
	if _, err := hashing.Copy(tw, f, hs); err != nil {
		return "", fmt.Errorf("failed to bundle %s: %w", path, err)
	}
	return hs[0].Hash(), nil
}

// entryName is the path relative to the local repository holding path, or lib/<file name> for
// files outside the cache.
func entryName(path string, cache *repository.FileCache) string {
	if cache != nil {
		for _, r := range cache.All() {
			rel, err := filepath.Rel(r.Root(), path)
			if err == nil && !strings.HasPrefix(rel, "..") {
				return filepath.ToSlash(rel)
			}
		}
	}
	return "lib/" + filepath.Base(path)
}
