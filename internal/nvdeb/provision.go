package nvdeb

import (
	"fmt"
	"io"
	"os/exec"
)

// Host packages needed for any build.
var hostPackages = []string{
	"build-essential",
	"cmake",
	"ninja-build",
	"gettext",
	"curl",
	"git",
	"file",
	"pkg-config",
	"dpkg-dev",
	"unzip",
}

// Extra packages for the cross target: the aarch64 toolchain itself.
var crossPackages = []string{
	"gcc-aarch64-linux-gnu",
	"g++-aarch64-linux-gnu",
	"binutils-aarch64-linux-gnu",
}

// Development packages that satisfy the dependency set in
// system-packages mode.
var nativeDevPackages = []string{
	"libuv1-dev",
	"libluajit-5.1-dev",
	"libunibilium-dev",
	"libutf8proc-dev",
	"libtree-sitter-dev",
	"lua-lpeg",
	"libluv1-dev",
}

// provisionEnvironment installs host build tools and, for cross targets,
// the cross toolchain. No retries: a failing mirror should be visible,
// not masked.
func provisionEnvironment(exe *Executor, spec *TargetSpec, logw io.Writer) error {
	pkgs := append([]string{}, hostPackages...)
	switch spec.Mode {
	case ModeSystemPackages:
		pkgs = append(pkgs, nativeDevPackages...)
	case ModeBuildFromSource:
		pkgs = append(pkgs, crossPackages...)
	}

	colArrow.Print("-> ")
	colSuccess.Printf("Provisioning %d packages for %s\n", len(pkgs), spec.Selector)

	update := exec.Command("apt-get", "update")
	if err := exe.RunCapture(update, logw); err != nil {
		return fmt.Errorf("%w: apt-get update: %v", errProvisioningFailed, err)
	}

	args := append([]string{"install", "-y", "--no-install-recommends"}, pkgs...)
	install := exec.Command("apt-get", args...)
	if err := exe.RunCapture(install, logw); err != nil {
		return fmt.Errorf("%w: apt-get install: %v", errProvisioningFailed, err)
	}

	// The cross compiler has to actually exist after install; a present
	// package with a missing binary is a broken environment.
	if spec.Mode == ModeBuildFromSource {
		if _, err := exec.LookPath(spec.TargetCC); err != nil {
			return fmt.Errorf("%w: cross compiler %s not on PATH after install", errProvisioningFailed, spec.TargetCC)
		}
	}
	return nil
}
