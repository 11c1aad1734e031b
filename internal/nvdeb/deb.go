package nvdeb

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
)

// PackageDescriptor is the assembler's output: a built .deb plus the names
// it is known by. Immutable once assembled.
type PackageDescriptor struct {
	PkgPath       string // path of the canonical package file
	VersionedPath string // version-qualified copy used for publishing
	Sidecar       string // BLAKE3 checksum sidecar for the versioned file
	Version       string
	Arch          string
	Channel       string
	Depends       []string
}

// Runtime dependencies by mode. The from-source build links its libraries
// statically from the staging prefix, so only the base runtime remains.
var (
	systemModeDepends = []string{
		"libc6",
		"libgcc-s1",
		"libuv1",
		"libluajit-5.1-2",
		"libunibilium4",
		"libutf8proc3",
		"libtree-sitter0",
		"lua-lpeg",
		"libluv1",
	}
	staticModeDepends = []string{
		"libc6",
		"libgcc-s1",
	}
)

// canonicalPackageName is the unversioned, stable filename.
func canonicalPackageName(channel, arch string) string {
	return fmt.Sprintf("%s-%s-linux-%s.deb", productName, channel, arch)
}

// versionedPackageName disambiguates published assets across releases.
func versionedPackageName(version, channel, arch string) string {
	return fmt.Sprintf("%s-%s-%s-linux-%s.deb", productName, version, channel, arch)
}

// releaseTag names the release a package publishes under.
func releaseTag(version, channel, arch string) string {
	return fmt.Sprintf("%s-v%s-%s-linux-%s", productName, version, channel, arch)
}

// runtimeDepends picks the Depends manifest for a dependency mode.
func runtimeDepends(mode DependencyMode) []string {
	if mode == ModeBuildFromSource {
		return append([]string{}, staticModeDepends...)
	}
	return append([]string{}, systemModeDepends...)
}

// assemblePackage wraps a verified BuildArtifact into a Debian package.
// rawVersion is the externally supplied version string and must have the
// vMAJOR.MINOR.PATCH(-suffix) shape.
func assemblePackage(exe *Executor, art *BuildArtifact, spec *TargetSpec, rawVersion, channel string, logw io.Writer) (*PackageDescriptor, error) {
	version, err := parseVersion(rawVersion)
	if err != nil {
		return nil, err
	}

	depends := runtimeDepends(spec.Mode)

	pkgRoot := filepath.Join(PackagesDir, "pkgroot-"+spec.Selector)
	if err := os.RemoveAll(pkgRoot); err != nil {
		return nil, fmt.Errorf("cleaning package root: %w", err)
	}
	if err := copyTree(art.InstallRoot, pkgRoot); err != nil {
		return nil, fmt.Errorf("staging package contents: %w", err)
	}

	control := renderControl(version, spec.DebianArch, depends, installedSizeKB(pkgRoot))
	debianDir := filepath.Join(pkgRoot, "DEBIAN")
	if err := os.MkdirAll(debianDir, 0o755); err != nil {
		return nil, err
	}
	if err := os.WriteFile(filepath.Join(debianDir, "control"), []byte(control), 0o644); err != nil {
		return nil, fmt.Errorf("writing control file: %w", err)
	}

	canonical := filepath.Join(PackagesDir, canonicalPackageName(channel, spec.Arch))
	colArrow.Print("-> ")
	colSuccess.Printf("Assembling %s\n", filepath.Base(canonical))

	buildCmd := exec.Command("dpkg-deb", "--build", "--root-owner-group", pkgRoot, canonical)
	if err := exe.RunCapture(buildCmd, logw); err != nil {
		return nil, fmt.Errorf("dpkg-deb: %w", err)
	}

	versioned := filepath.Join(PackagesDir, versionedPackageName(version, channel, spec.Arch))
	if err := copyFile(canonical, versioned); err != nil {
		return nil, fmt.Errorf("creating versioned package name: %w", err)
	}

	sidecar, err := writeChecksumSidecar(versioned)
	if err != nil {
		return nil, fmt.Errorf("writing checksum sidecar: %w", err)
	}

	return &PackageDescriptor{
		PkgPath:       canonical,
		VersionedPath: versioned,
		Sidecar:       sidecar,
		Version:       version,
		Arch:          spec.Arch,
		Channel:       channel,
		Depends:       depends,
	}, nil
}

// renderControl writes the DEBIAN/control payload.
func renderControl(version, debArch string, depends []string, sizeKB int64) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Package: %s\n", productName)
	fmt.Fprintf(&b, "Version: %s\n", version)
	fmt.Fprintf(&b, "Architecture: %s\n", debArch)
	fmt.Fprintf(&b, "Maintainer: nvdeb <nvdeb@localhost>\n")
	fmt.Fprintf(&b, "Installed-Size: %d\n", sizeKB)
	fmt.Fprintf(&b, "Depends: %s\n", strings.Join(depends, ", "))
	fmt.Fprintf(&b, "Section: editors\n")
	fmt.Fprintf(&b, "Priority: optional\n")
	fmt.Fprintf(&b, "Homepage: https://neovim.io\n")
	fmt.Fprintf(&b, "Description: Vim-fork focused on extensibility and usability\n")
	fmt.Fprintf(&b, " Neovim built and packaged by nvdeb.\n")
	return b.String()
}

// installedSizeKB walks the package root and sums regular file sizes.
func installedSizeKB(root string) int64 {
	var total int64
	_ = filepath.Walk(root, func(_ string, info os.FileInfo, err error) error {
		if err == nil && info.Mode().IsRegular() {
			total += info.Size()
		}
		return nil
	})
	return total / 1024
}

// copyTree copies a directory tree preserving modes and symlinks.
func copyTree(src, dst string) error {
	return filepath.Walk(src, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		target := filepath.Join(dst, rel)

		switch {
		case info.IsDir():
			return os.MkdirAll(target, info.Mode())
		case info.Mode()&os.ModeSymlink != 0:
			link, err := os.Readlink(path)
			if err != nil {
				return err
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return err
			}
			return os.Symlink(link, target)
		default:
			return copyFileMode(path, target, info.Mode())
		}
	})
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return err
	}
	return copyFileMode(src, dst, info.Mode())
}

func copyFileMode(src, dst string, mode os.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
		return err
	}
	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
