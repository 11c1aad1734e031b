package nvdeb

import (
	"debug/elf"
	"fmt"
)

// elfArchNames maps ELF machine tags to the canonical architecture names
// used by TargetSpec. Exact enumerated comparison; never substring-match
// human-readable `file` output, which is how this check historically broke.
var elfArchNames = map[elf.Machine]string{
	elf.EM_X86_64:  "amd64",
	elf.EM_AARCH64: "aarch64",
}

// detectELFArch reads the ELF header of a binary and returns its canonical
// architecture name. Pure inspection, no tool output parsing.
func detectELFArch(path string) (string, error) {
	f, err := elf.Open(path)
	if err != nil {
		return "", fmt.Errorf("reading ELF header of %s: %w", path, err)
	}
	defer f.Close()

	name, ok := elfArchNames[f.Machine]
	if !ok {
		return "", fmt.Errorf("unrecognized ELF machine tag %v in %s", f.Machine, path)
	}
	return name, nil
}

// verifyArtifact confirms the built binary matches the requested target.
// A mismatch means a misconfigured toolchain, not a transient fault, so it
// is fatal and never retried. The most dangerous failure in this domain is
// the silent one: a host-architecture binary that linked fine and only
// fails at run time on the target.
func verifyArtifact(art *BuildArtifact, spec *TargetSpec) error {
	detected, err := detectELFArch(art.BinPath)
	if err != nil {
		return fmt.Errorf("%w: %v", errArchMismatch, err)
	}
	if want := spec.expectedELFArch(); detected != want {
		return fmt.Errorf("%w: binary is %s, target is %s", errArchMismatch, detected, want)
	}
	debugf("Verified %s: ELF machine tag matches %s\n", art.BinPath, spec.Arch)
	return nil
}
