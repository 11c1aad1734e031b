package nvdeb

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// withTestCache points the cache globals at a temp dir for one test.
func withTestCache(t *testing.T) string {
	t.Helper()
	old := CacheDir
	CacheDir = t.TempDir()
	t.Cleanup(func() { CacheDir = old })
	return CacheDir
}

func writeTempFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestHashFile(t *testing.T) {
	a := writeTempFile(t, "a.tar.gz", "payload")
	b := writeTempFile(t, "b.tar.gz", "payload")
	c := writeTempFile(t, "c.tar.gz", "different payload")

	hashA, err := hashFile(a)
	require.NoError(t, err)
	hashB, err := hashFile(b)
	require.NoError(t, err)
	hashC, err := hashFile(c)
	require.NoError(t, err)

	assert.Len(t, hashA, 64, "32-byte digest as hex")
	assert.Equal(t, hashA, hashB, "same content hashes identically")
	assert.NotEqual(t, hashA, hashC)
}

func TestHashFileMissing(t *testing.T) {
	_, err := hashFile(filepath.Join(t.TempDir(), "nope"))
	require.Error(t, err)
}

func TestVerifySourceChecksum(t *testing.T) {
	withTestCache(t)

	tarball := writeTempFile(t, "libuv-1.48.0.tar.gz", "source bytes")

	// First sighting records the checksum.
	require.NoError(t, verifySourceChecksum("libuv", tarball))
	sums, err := loadChecksums()
	require.NoError(t, err)
	assert.Len(t, sums, 1)

	// Same content verifies cleanly afterwards.
	require.NoError(t, verifySourceChecksum("libuv", tarball))

	// A changed file against a recorded checksum is fatal.
	require.NoError(t, os.WriteFile(tarball, []byte("tampered bytes"), 0o644))
	err = verifySourceChecksum("libuv", tarball)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "checksum mismatch")
}

func TestChecksumsRoundTrip(t *testing.T) {
	withTestCache(t)

	want := map[string]string{
		"libuv libuv-1.48.0.tar.gz":  strings.Repeat("a", 64),
		"luajit v2.1.ROLLING.tar.gz": strings.Repeat("b", 64),
		"lpeg lpeg-1.1.0.tar.gz":     strings.Repeat("c", 64),
	}
	require.NoError(t, saveChecksums(want))

	got, err := loadChecksums()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestLoadChecksumsMissingFile(t *testing.T) {
	withTestCache(t)

	sums, err := loadChecksums()
	require.NoError(t, err)
	assert.Empty(t, sums)
}

func TestWriteChecksumSidecar(t *testing.T) {
	pkg := writeTempFile(t, "nvim-0.10.2-stable-linux-amd64.deb", "deb bytes")

	sidecar, err := writeChecksumSidecar(pkg)
	require.NoError(t, err)
	assert.Equal(t, pkg+".b3", sidecar)

	data, err := os.ReadFile(sidecar)
	require.NoError(t, err)

	sum, err := hashFile(pkg)
	require.NoError(t, err)
	assert.Equal(t, sum+"  nvim-0.10.2-stable-linux-amd64.deb\n", string(data))
}
