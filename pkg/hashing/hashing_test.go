package hashing

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCopyComputesAllDigestsInOnePass(t *testing.T) {
	hs, err := New()
	require.NoError(t, err)

	var out bytes.Buffer
	n, err := Copy(&out, strings.NewReader("hello"), hs)
	require.NoError(t, err)
	assert.EqualValues(t, 5, n)
	assert.Equal(t, "hello", out.String())

	sums := hs.Sums()
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", sums[SHA1])
	assert.Equal(t, "5d41402abc4b2a76b9719d911017c592", sums[MD5])
	assert.Equal(t, "2cf24dba5fb0a30e26e83b2ac5b9e29e1b161e5c1fa7425e73043362938b9824", sums[SHA256])
	assert.Len(t, sums[SHA512], 128)
}

func TestFileHash(t *testing.T) {
	path := filepath.Join(t.TempDir(), "a.txt")
	require.NoError(t, os.WriteFile(path, []byte("hello"), 0o644))

	sha1, err := FileHash(path, SHA1)
	require.NoError(t, err)
	assert.Equal(t, "aaf4c61ddcc5e8a2dabede0f3b482cd9aea9434d", sha1)

	_, err = FileHash(filepath.Join(t.TempDir(), "missing"), SHA1)
	assert.Error(t, err)
}

func TestHashersFiltering(t *testing.T) {
	hs, err := New()
	require.NoError(t, err)
	filtered := hs.Without(SHA512, SHA256)
	require.Len(t, filtered, 2)
	assert.Equal(t, SHA1, filtered[0].Algorithm)
	_, ok := filtered.Get(SHA512)
	assert.False(t, ok)

	_, err = New("crc32")
	assert.Error(t, err)
}

func TestPadHash(t *testing.T) {
	assert.Equal(t, "00"+strings.Repeat("a", 38), PadHash(strings.Repeat("a", 38), SHA1))
	assert.Equal(t, 32, len(PadHash("1", MD5)))
	assert.True(t, IsAlgorithm("sha256"))
	assert.False(t, IsAlgorithm("jar"))
}
