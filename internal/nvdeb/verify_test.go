package nvdeb

import (
	"bytes"
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// writeFakeELF writes a minimal but well-formed 64-bit little-endian ELF
// header carrying the given machine tag, which is all detectELFArch reads.
func writeFakeELF(t *testing.T, machine uint16) string {
	t.Helper()

	var buf bytes.Buffer
	ident := make([]byte, 16)
	copy(ident, "\x7fELF")
	ident[4] = 2 // ELFCLASS64
	ident[5] = 1 // ELFDATA2LSB
	ident[6] = 1 // EV_CURRENT
	buf.Write(ident)

	le := binary.LittleEndian
	binary.Write(&buf, le, uint16(2))      // e_type: ET_EXEC
	binary.Write(&buf, le, machine)        // e_machine
	binary.Write(&buf, le, uint32(1))      // e_version
	binary.Write(&buf, le, uint64(0x1000)) // e_entry
	binary.Write(&buf, le, uint64(0))      // e_phoff
	binary.Write(&buf, le, uint64(0))      // e_shoff
	binary.Write(&buf, le, uint32(0))      // e_flags
	binary.Write(&buf, le, uint16(64))     // e_ehsize
	binary.Write(&buf, le, uint16(56))     // e_phentsize
	binary.Write(&buf, le, uint16(0))      // e_phnum
	binary.Write(&buf, le, uint16(64))     // e_shentsize
	binary.Write(&buf, le, uint16(0))      // e_shnum
	binary.Write(&buf, le, uint16(0))      // e_shstrndx

	path := filepath.Join(t.TempDir(), "nvim")
	require.NoError(t, os.WriteFile(path, buf.Bytes(), 0o755))
	return path
}

const (
	machineX8664   = 0x3e // EM_X86_64
	machineAarch64 = 0xb7 // EM_AARCH64
	machineRiscv   = 0xf3 // EM_RISCV
)

func TestDetectELFArch(t *testing.T) {
	tests := []struct {
		name    string
		machine uint16
		want    string
	}{
		{"x86_64", machineX8664, "amd64"},
		{"aarch64", machineAarch64, "aarch64"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := detectELFArch(writeFakeELF(t, tt.machine))
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestDetectELFArchUnknownMachine(t *testing.T) {
	_, err := detectELFArch(writeFakeELF(t, machineRiscv))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unrecognized ELF machine tag")
}

func TestDetectELFArchNotAnELF(t *testing.T) {
	path := filepath.Join(t.TempDir(), "script")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\necho hi\n"), 0o755))

	_, err := detectELFArch(path)
	require.Error(t, err)
}

func TestVerifyArtifact(t *testing.T) {
	native, err := resolveTarget(SelectorNative)
	require.NoError(t, err)
	cross, err := resolveTarget(SelectorCross)
	require.NoError(t, err)

	amd64Bin := writeFakeELF(t, machineX8664)
	aarch64Bin := writeFakeELF(t, machineAarch64)

	tests := []struct {
		name    string
		bin     string
		spec    *TargetSpec
		wantErr bool
	}{
		{"native binary on native target", amd64Bin, native, false},
		{"cross binary on cross target", aarch64Bin, cross, false},
		{"host binary leaked into cross output", amd64Bin, cross, true},
		{"cross binary on native target", aarch64Bin, native, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := verifyArtifact(&BuildArtifact{BinPath: tt.bin}, tt.spec)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errArchMismatch))
				return
			}
			assert.NoError(t, err)
		})
	}
}

func TestVerifyArtifactMissingBinary(t *testing.T) {
	native, err := resolveTarget(SelectorNative)
	require.NoError(t, err)

	err = verifyArtifact(&BuildArtifact{BinPath: filepath.Join(t.TempDir(), "missing")}, native)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errArchMismatch))
}
