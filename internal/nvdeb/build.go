package nvdeb

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
)

// BuildArtifact is the main build's output: one installed binary plus the
// install root it came from. Read-only once produced.
type BuildArtifact struct {
	BinPath     string
	InstallRoot string
	Size        int64
}

// releaseBranch maps a channel to the upstream ref we build.
func releaseBranch(channel string) string {
	if channel == "nightly" {
		return "nightly"
	}
	return "stable"
}

// fetchNeovimSource shallow-clones the pinned release branch into srcDir.
// A previous checkout is reused if present (the clone is pinned, not moving,
// for the stable channel).
func fetchNeovimSource(exe *Executor, channel, srcDir string, logw io.Writer) error {
	if _, err := os.Stat(filepath.Join(srcDir, "CMakeLists.txt")); err == nil {
		debugf("Reusing existing source checkout at %s\n", srcDir)
		return nil
	}
	if err := os.RemoveAll(srcDir); err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(srcDir), 0o755); err != nil {
		return err
	}

	clone := exec.Command("git", "clone",
		"--depth", "1",
		"--branch", releaseBranch(channel),
		neovimRepo, srcDir)
	if err := exe.RunCapture(clone, logw); err != nil {
		return fmt.Errorf("git clone: %w", err)
	}
	return nil
}

// mainBuild compiles Neovim for the target described by spec, resolving
// every library from ds. It is agnostic to whether ds came from system
// packages or from-source staging.
func mainBuild(exe *Executor, spec *TargetSpec, ds DependencySet, channel string, logw io.Writer) (*BuildArtifact, error) {
	// Precondition from the dependency stage: no partial sets downstream.
	if !ds.complete() {
		return nil, fmt.Errorf("%w: dependency set incomplete", errBuildFailed)
	}

	srcDir := filepath.Join(WorkDir, "neovim-"+spec.Selector)
	if err := fetchNeovimSource(exe, channel, srcDir, logw); err != nil {
		return nil, fmt.Errorf("%w: %v", errBuildFailed, err)
	}

	buildDir := filepath.Join(srcDir, "build-"+spec.Arch)
	if err := os.RemoveAll(buildDir); err != nil {
		return nil, fmt.Errorf("%w: cleaning build dir: %v", errBuildFailed, err)
	}
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return nil, fmt.Errorf("%w: %v", errBuildFailed, err)
	}

	args := []string{
		"-S", srcDir,
		"-B", buildDir,
		"-G", "Ninja",
		"-DCMAKE_BUILD_TYPE=RelWithDebInfo",
		"-DCMAKE_INSTALL_PREFIX=/usr",
	}

	switch spec.Mode {
	case ModeBuildFromSource:
		toolchainFile, err := writeToolchainFile(spec, buildDir)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", errBuildFailed, err)
		}
		args = append(args,
			"-DCMAKE_TOOLCHAIN_FILE="+toolchainFile,
			// Libraries come from the staging prefix and nowhere else.
			"-DCMAKE_PREFIX_PATH="+spec.StagingPrefix,
			"-DUSE_BUNDLED=OFF",
		)
	case ModeSystemPackages:
		prefixes := systemPrefixes(ds)
		args = append(args,
			"-DCMAKE_C_COMPILER="+spec.TargetCC,
			"-DCMAKE_PREFIX_PATH="+strings.Join(prefixes, ";"),
			"-DUSE_BUNDLED=OFF",
		)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Configuring neovim (%s, %s)\n", spec.Arch, spec.Mode)
	configure := exec.Command("cmake", args...)
	if err := exe.RunCapture(configure, logw); err != nil {
		return nil, fmt.Errorf("%w: cmake configure: %v", errBuildFailed, err)
	}

	colArrow.Print("-> ")
	colSuccess.Println("Building neovim")
	build := exec.Command("cmake", "--build", buildDir,
		"--parallel", fmt.Sprint(runtime.NumCPU()))
	if err := exe.RunCapture(build, logw); err != nil {
		return nil, fmt.Errorf("%w: cmake build: %v", errBuildFailed, err)
	}

	// Install into an isolated root; the package assembler consumes it.
	installRoot := filepath.Join(OutputDir, spec.Selector)
	if err := os.RemoveAll(installRoot); err != nil {
		return nil, fmt.Errorf("%w: cleaning install root: %v", errBuildFailed, err)
	}
	install := exec.Command("cmake", "--install", buildDir)
	install.Env = append(os.Environ(), "DESTDIR="+installRoot)
	if err := exe.RunCapture(install, logw); err != nil {
		return nil, fmt.Errorf("%w: cmake install: %v", errBuildFailed, err)
	}

	binPath := filepath.Join(installRoot, "usr", "bin", "nvim")
	info, err := os.Stat(binPath)
	if err != nil {
		return nil, fmt.Errorf("%w: built binary missing at %s: %v", errBuildFailed, binPath, err)
	}

	return &BuildArtifact{
		BinPath:     binPath,
		InstallRoot: installRoot,
		Size:        info.Size(),
	}, nil
}

// systemPrefixes collects the distinct install prefixes of a resolved set.
func systemPrefixes(ds DependencySet) []string {
	seen := make(map[string]bool)
	var prefixes []string
	for _, dep := range ds {
		if !seen[dep.Location] {
			seen[dep.Location] = true
			prefixes = append(prefixes, dep.Location)
		}
	}
	sort.Strings(prefixes)
	return prefixes
}
