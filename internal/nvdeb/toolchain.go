package nvdeb

import (
	"fmt"
	"path/filepath"
)

// DependencyMode selects where the build's libraries come from.
type DependencyMode int

const (
	// ModeSystemPackages resolves libraries from installed -dev packages.
	ModeSystemPackages DependencyMode = iota
	// ModeBuildFromSource builds every library into a private staging prefix.
	// Foreign-architecture apt repositories are deliberately never consulted:
	// mirrors drop or 404 foreign packages too often to depend on.
	ModeBuildFromSource
)

func (m DependencyMode) String() string {
	if m == ModeBuildFromSource {
		return "build-from-source"
	}
	return "system-packages"
}

// TargetSpec describes one build target. Immutable once resolved;
// every downstream stage consumes it by value.
type TargetSpec struct {
	Selector   string // "native" or "cross"
	Arch       string // canonical machine name: amd64, aarch64
	DebianArch string // dpkg architecture field
	Triplet    string // GNU triplet for the cross toolchain, empty for native

	// Two-compiler configuration. Build-time helper tools always compile
	// with the Host pair, target code always with the Target pair. Never
	// passed through ambient process environment.
	HostCC    string
	HostCXX   string
	TargetCC  string
	TargetCXX string

	Mode DependencyMode

	// StagingPrefix is where from-source dependencies install.
	// Empty in system-packages mode.
	StagingPrefix string
}

// Selectors accepted by resolveTarget. The set is closed on purpose.
const (
	SelectorNative = "native"
	SelectorCross  = "cross"
)

// resolveTarget maps an architecture selector to a TargetSpec.
// Unknown selectors fail fast, before any build work.
func resolveTarget(selector string) (*TargetSpec, error) {
	switch selector {
	case SelectorNative:
		return &TargetSpec{
			Selector:   SelectorNative,
			Arch:       "amd64",
			DebianArch: "amd64",
			HostCC:     "gcc",
			HostCXX:    "g++",
			TargetCC:   "gcc",
			TargetCXX:  "g++",
			Mode:       ModeSystemPackages,
		}, nil
	case SelectorCross:
		triplet := "aarch64-linux-gnu"
		return &TargetSpec{
			Selector:      SelectorCross,
			Arch:          "aarch64",
			DebianArch:    "arm64",
			Triplet:       triplet,
			HostCC:        "gcc",
			HostCXX:       "g++",
			TargetCC:      triplet + "-gcc",
			TargetCXX:     triplet + "-g++",
			Mode:          ModeBuildFromSource,
			StagingPrefix: filepath.Join(StagingDir, "aarch64"),
		}, nil
	}
	return nil, fmt.Errorf("%w: %q (want %q or %q)", errUnsupportedArch, selector, SelectorNative, SelectorCross)
}

// expectedELFArch returns the canonical machine name the verifier must see
// for this target. Kept as an explicit enumerated mapping so the comparison
// never degrades into substring matching on tool output.
func (t *TargetSpec) expectedELFArch() string {
	return t.Arch
}

// toolchainCMake renders the CMake toolchain file for a cross target.
// The find-root policy is ONLY: a target-only library search must fail
// closed rather than silently link a host-architecture library.
func (t *TargetSpec) toolchainCMake() string {
	if t.Triplet == "" {
		return ""
	}
	return fmt.Sprintf(`set(CMAKE_SYSTEM_NAME Linux)
set(CMAKE_SYSTEM_PROCESSOR %s)
set(CMAKE_C_COMPILER %s)
set(CMAKE_CXX_COMPILER %s)
set(CMAKE_FIND_ROOT_PATH %s)
set(CMAKE_FIND_ROOT_PATH_MODE_PROGRAM NEVER)
set(CMAKE_FIND_ROOT_PATH_MODE_LIBRARY ONLY)
set(CMAKE_FIND_ROOT_PATH_MODE_INCLUDE ONLY)
set(CMAKE_FIND_ROOT_PATH_MODE_PACKAGE ONLY)
`, t.Arch, t.TargetCC, t.TargetCXX, t.StagingPrefix)
}
