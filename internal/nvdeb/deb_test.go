package nvdeb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPackageNaming(t *testing.T) {
	assert.Equal(t, "nvim-stable-linux-amd64.deb", canonicalPackageName("stable", "amd64"))
	assert.Equal(t, "nvim-nightly-linux-aarch64.deb", canonicalPackageName("nightly", "aarch64"))

	assert.Equal(t, "nvim-0.10.2-stable-linux-amd64.deb", versionedPackageName("0.10.2", "stable", "amd64"))
	assert.Equal(t, "nvim-0.11.0-dev-1234-nightly-linux-aarch64.deb", versionedPackageName("0.11.0-dev-1234", "nightly", "aarch64"))

	assert.Equal(t, "nvim-v0.10.2-stable-linux-amd64", releaseTag("0.10.2", "stable", "amd64"))
	assert.Equal(t, "nvim-v0.10.2-nightly-linux-aarch64", releaseTag("0.10.2", "nightly", "aarch64"))
}

func TestRuntimeDepends(t *testing.T) {
	static := runtimeDepends(ModeBuildFromSource)
	system := runtimeDepends(ModeSystemPackages)

	// Statically linked builds only need the base C runtime.
	assert.Equal(t, []string{"libc6", "libgcc-s1"}, static)
	assert.Contains(t, system, "libuv1")
	assert.Contains(t, system, "libluajit-5.1-2")
	assert.Greater(t, len(system), len(static))

	// Callers get copies, not the shared backing slice.
	static[0] = "mutated"
	assert.Equal(t, "libc6", runtimeDepends(ModeBuildFromSource)[0])
}

func TestRenderControl(t *testing.T) {
	control := renderControl("0.10.2", "arm64", []string{"libc6", "libgcc-s1"}, 34000)

	assert.Contains(t, control, "Package: nvim\n")
	assert.Contains(t, control, "Version: 0.10.2\n")
	assert.Contains(t, control, "Architecture: arm64\n")
	assert.Contains(t, control, "Installed-Size: 34000\n")
	assert.Contains(t, control, "Depends: libc6, libgcc-s1\n")
	assert.Contains(t, control, "Section: editors\n")

	// dpkg rejects control files without a trailing newline.
	assert.Equal(t, byte('\n'), control[len(control)-1])
}

func TestInstalledSizeKB(t *testing.T) {
	root := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(root, "usr", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "usr", "bin", "nvim"), make([]byte, 4096), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(root, "usr", "README"), make([]byte, 2048), 0o644))

	assert.Equal(t, int64(6), installedSizeKB(root))
}

func TestCopyTree(t *testing.T) {
	src := t.TempDir()
	dst := filepath.Join(t.TempDir(), "copy")

	require.NoError(t, os.MkdirAll(filepath.Join(src, "usr", "bin"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "usr", "bin", "nvim"), []byte("binary"), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(src, "usr", "copyright"), []byte("text"), 0o644))
	require.NoError(t, os.Symlink("nvim", filepath.Join(src, "usr", "bin", "vi")))

	require.NoError(t, copyTree(src, dst))

	data, err := os.ReadFile(filepath.Join(dst, "usr", "bin", "nvim"))
	require.NoError(t, err)
	assert.Equal(t, "binary", string(data))

	info, err := os.Stat(filepath.Join(dst, "usr", "bin", "nvim"))
	require.NoError(t, err)
	assert.Equal(t, os.FileMode(0o755), info.Mode().Perm())

	link, err := os.Readlink(filepath.Join(dst, "usr", "bin", "vi"))
	require.NoError(t, err)
	assert.Equal(t, "nvim", link)
}
