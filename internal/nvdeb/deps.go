package nvdeb

import (
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// recipeKind selects how a third-party dependency is configured and built.
type recipeKind int

const (
	recipeCMake recipeKind = iota
	recipeMake
	recipeLuaJIT // make-based, needs HOST_CC for the build-time minilua/buildvm
)

// Dependency is one member of the fixed third-party set Neovim links against.
type Dependency struct {
	Name    string
	Version string
	URL     string
	Kind    recipeKind
	// ExtraMakeArgs are appended to the make invocation for recipeMake
	// and recipeLuaJIT entries.
	ExtraMakeArgs []string
}

// The bundled dependency set, built from source for cross targets.
// Versions track Neovim's cmake.deps pins for the stable channel.
var dependencyList = []Dependency{
	{
		Name:    "libuv",
		Version: "1.48.0",
		URL:     "https://github.com/libuv/libuv/archive/refs/tags/v1.48.0.tar.gz",
		Kind:    recipeCMake,
	},
	{
		Name:    "luajit",
		Version: "2.1",
		URL:     "https://github.com/LuaJIT/LuaJIT/archive/refs/tags/v2.1.ROLLING.tar.gz",
		Kind:    recipeLuaJIT,
	},
	{
		Name:    "libluv",
		Version: "1.48.0-2",
		URL:     "https://github.com/luvit/luv/archive/refs/tags/1.48.0-2.tar.gz",
		Kind:    recipeCMake,
	},
	{
		Name:    "lpeg",
		Version: "1.1.0",
		URL:     "https://www.inf.puc-rio.br/~roberto/lpeg/lpeg-1.1.0.tar.gz",
		Kind:    recipeMake,
	},
	{
		Name:    "unibilium",
		Version: "2.1.1",
		URL:     "https://github.com/neovim/unibilium/archive/refs/tags/v2.1.1.tar.gz",
		Kind:    recipeCMake,
	},
	{
		Name:    "utf8proc",
		Version: "2.9.0",
		URL:     "https://github.com/JuliaStrings/utf8proc/archive/refs/tags/v2.9.0.tar.gz",
		Kind:    recipeCMake,
	},
	{
		Name:    "tree-sitter",
		Version: "0.22.6",
		URL:     "https://github.com/tree-sitter/tree-sitter/archive/refs/tags/v0.22.6.tar.gz",
		Kind:    recipeMake,
		ExtraMakeArgs: []string{
			"AMALGAMATED=1",
		},
	},
}

// ResolvedDep records where one library ended up.
type ResolvedDep struct {
	Name     string
	Version  string
	Mode     DependencyMode
	Location string // staging prefix or system prefix
}

// DependencySet maps library name -> resolved entry. The main build stage
// refuses to start unless every member of dependencyList has exactly one
// entry here.
type DependencySet map[string]ResolvedDep

// complete reports whether every required dependency is resolved.
func (ds DependencySet) complete() bool {
	for _, dep := range dependencyList {
		if _, ok := ds[dep.Name]; !ok {
			return false
		}
	}
	return true
}

// resolveSystemDependencies satisfies the dependency set from installed
// system packages. Nothing is built; entries point at /usr.
func resolveSystemDependencies(spec *TargetSpec) (DependencySet, error) {
	ds := make(DependencySet, len(dependencyList))
	for _, dep := range dependencyList {
		ds[dep.Name] = ResolvedDep{
			Name:     dep.Name,
			Version:  dep.Version,
			Mode:     ModeSystemPackages,
			Location: "/usr",
		}
	}
	return ds, nil
}

// buildDependencies builds every member of dependencyList for the target
// architecture into the target's staging prefix and returns the resulting
// DependencySet. Failure of any single dependency aborts the whole stage;
// a partial set is never returned.
func buildDependencies(exe *Executor, spec *TargetSpec, logw io.Writer) (DependencySet, error) {
	if spec.Mode != ModeBuildFromSource {
		return resolveSystemDependencies(spec)
	}

	if err := os.MkdirAll(spec.StagingPrefix, 0o755); err != nil {
		return nil, fmt.Errorf("%w: creating staging prefix: %v", errDepBuildFailed, err)
	}

	ds := make(DependencySet, len(dependencyList))
	for i, dep := range dependencyList {
		colArrow.Print("-> ")
		colSuccess.Printf("[%d/%d] Building %s %s for %s\n", i+1, len(dependencyList), dep.Name, dep.Version, spec.Arch)

		if err := buildOneDependency(exe, dep, spec, logw); err != nil {
			return nil, fmt.Errorf("%w: %s: %v", errDepBuildFailed, dep.Name, err)
		}
		ds[dep.Name] = ResolvedDep{
			Name:     dep.Name,
			Version:  dep.Version,
			Mode:     ModeBuildFromSource,
			Location: spec.StagingPrefix,
		}
	}
	return ds, nil
}

func buildOneDependency(exe *Executor, dep Dependency, spec *TargetSpec, logw io.Writer) error {
	tarball := filepath.Join(SourcesDir, filepath.Base(dep.URL))
	if err := downloadFile(exe.Context, dep.URL, tarball, downloadOptions{Quiet: logw != nil}); err != nil {
		return fmt.Errorf("fetching %s: %w", dep.URL, err)
	}
	if err := verifySourceChecksum(dep.Name, tarball); err != nil {
		return err
	}

	srcDir := filepath.Join(WorkDir, "deps", spec.Arch, dep.Name)
	if err := os.RemoveAll(srcDir); err != nil {
		return fmt.Errorf("cleaning %s: %w", srcDir, err)
	}
	if err := extractArchive(tarball, srcDir); err != nil {
		return fmt.Errorf("extracting %s: %w", tarball, err)
	}

	switch dep.Kind {
	case recipeCMake:
		return buildCMakeDep(exe, dep, spec, srcDir, logw)
	case recipeMake:
		return buildMakeDep(exe, dep, spec, srcDir, logw)
	case recipeLuaJIT:
		return buildLuaJITDep(exe, dep, spec, srcDir, logw)
	}
	return fmt.Errorf("unknown recipe kind for %s", dep.Name)
}

// buildCMakeDep configures and builds a CMake dependency against the
// generated cross toolchain file.
func buildCMakeDep(exe *Executor, dep Dependency, spec *TargetSpec, srcDir string, logw io.Writer) error {
	buildDir := filepath.Join(srcDir, "build")
	if err := os.MkdirAll(buildDir, 0o755); err != nil {
		return err
	}

	toolchainFile, err := writeToolchainFile(spec, buildDir)
	if err != nil {
		return err
	}

	configure := exec.Command("cmake",
		"-S", srcDir,
		"-B", buildDir,
		"-G", "Ninja",
		"-DCMAKE_BUILD_TYPE=Release",
		"-DCMAKE_POSITION_INDEPENDENT_CODE=ON",
		"-DBUILD_SHARED_LIBS=OFF",
		"-DCMAKE_INSTALL_PREFIX="+spec.StagingPrefix,
		"-DCMAKE_TOOLCHAIN_FILE="+toolchainFile,
	)
	if err := exe.RunCapture(configure, logw); err != nil {
		return fmt.Errorf("cmake configure (%s): %w", strings.Join(configure.Args, " "), err)
	}

	build := exec.Command("cmake", "--build", buildDir, "--target", "install",
		"--parallel", fmt.Sprint(runtime.NumCPU()))
	if err := exe.RunCapture(build, logw); err != nil {
		return fmt.Errorf("cmake build (%s): %w", strings.Join(build.Args, " "), err)
	}
	return nil
}

// buildMakeDep builds a plain-Makefile dependency with the target compiler.
// The compiler choice travels in the make arguments, never in ambient env,
// so concurrent architecture runs cannot leak into each other.
func buildMakeDep(exe *Executor, dep Dependency, spec *TargetSpec, srcDir string, logw io.Writer) error {
	args := []string{
		"-C", srcDir,
		"-j", fmt.Sprint(runtime.NumCPU()),
		"CC=" + spec.TargetCC,
		"PREFIX=" + spec.StagingPrefix,
	}
	args = append(args, dep.ExtraMakeArgs...)

	build := exec.Command("make", args...)
	if err := exe.RunCapture(build, logw); err != nil {
		return fmt.Errorf("make (%s): %w", strings.Join(build.Args, " "), err)
	}

	install := exec.Command("make", "-C", srcDir,
		"CC="+spec.TargetCC,
		"PREFIX="+spec.StagingPrefix,
		"install")
	if err := exe.RunCapture(install, logw); err != nil {
		return fmt.Errorf("make install (%s): %w", strings.Join(install.Args, " "), err)
	}
	return nil
}

// buildLuaJITDep builds LuaJIT, the classic two-toolchain case: minilua and
// buildvm run on the build machine during the build, so they must compile
// with the host compiler while the library itself compiles with the target
// compiler. Conflating the two is the most common cross-build failure.
func buildLuaJITDep(exe *Executor, dep Dependency, spec *TargetSpec, srcDir string, logw io.Writer) error {
	args := []string{
		"-C", srcDir,
		"-j", fmt.Sprint(runtime.NumCPU()),
		"HOST_CC=" + spec.HostCC,
		"PREFIX=" + spec.StagingPrefix,
		"BUILDMODE=static",
	}
	if spec.Triplet != "" {
		args = append(args, "CROSS="+spec.Triplet+"-")
	}

	build := exec.Command("make", args...)
	if err := exe.RunCapture(build, logw); err != nil {
		return fmt.Errorf("make (%s): %w", strings.Join(build.Args, " "), err)
	}

	install := exec.Command("make", "-C", srcDir,
		"PREFIX="+spec.StagingPrefix,
		"install")
	if err := exe.RunCapture(install, logw); err != nil {
		return fmt.Errorf("make install (%s): %w", strings.Join(install.Args, " "), err)
	}
	return nil
}

// writeToolchainFile renders the target's CMake toolchain file into dir.
func writeToolchainFile(spec *TargetSpec, dir string) (string, error) {
	content := spec.toolchainCMake()
	if content == "" {
		return "", fmt.Errorf("toolchain file requested for native target")
	}
	path := filepath.Join(dir, "toolchain.cmake")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("writing toolchain file: %w", err)
	}
	return path, nil
}
