package nvdeb

import (
	"bufio"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"lukechampine.com/blake3"
)

// hashFile returns the BLAKE3 hex digest of a file (32-byte output, no key).
func hashFile(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", err
	}
	return fmt.Sprintf("%x", h.Sum(nil)), nil
}

func checksumFilePath() string {
	return filepath.Join(CacheDir, "checksums")
}

// loadChecksums reads the recorded source checksums: one "<hash> <name>"
// entry per line.
func loadChecksums() (map[string]string, error) {
	sums := make(map[string]string)
	f, err := os.Open(checksumFilePath())
	if err != nil {
		if os.IsNotExist(err) {
			return sums, nil
		}
		return nil, err
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		parts := strings.Fields(strings.TrimSpace(scanner.Text()))
		if len(parts) >= 2 {
			sums[strings.Join(parts[1:], " ")] = parts[0]
		}
	}
	return sums, scanner.Err()
}

func saveChecksums(sums map[string]string) error {
	names := make([]string, 0, len(sums))
	for name := range sums {
		names = append(names, name)
	}
	sort.Strings(names)

	var b strings.Builder
	for _, name := range names {
		fmt.Fprintf(&b, "%s %s\n", sums[name], name)
	}
	if err := os.MkdirAll(CacheDir, 0o755); err != nil {
		return err
	}
	return os.WriteFile(checksumFilePath(), []byte(b.String()), 0o644)
}

// verifySourceChecksum checks a downloaded source against the recorded
// checksum. A first-seen source is recorded rather than rejected; a
// mismatch against a recorded checksum is always fatal.
func verifySourceChecksum(name, path string) error {
	sums, err := loadChecksums()
	if err != nil {
		return fmt.Errorf("loading checksums: %w", err)
	}

	got, err := hashFile(path)
	if err != nil {
		return fmt.Errorf("hashing %s: %w", path, err)
	}

	key := name + " " + filepath.Base(path)
	want, ok := sums[key]
	if !ok {
		colArrow.Print("-> ")
		colWarn.Printf("Recording new checksum for %s\n", filepath.Base(path))
		sums[key] = got
		return saveChecksums(sums)
	}
	if got != want {
		return fmt.Errorf("checksum mismatch for %s: got %s, want %s", filepath.Base(path), got, want)
	}
	return nil
}

// writeChecksumSidecar writes "<hash>  <filename>" next to a built package
// so published assets carry an integrity record.
func writeChecksumSidecar(pkgPath string) (string, error) {
	sum, err := hashFile(pkgPath)
	if err != nil {
		return "", err
	}
	sidecar := pkgPath + ".b3"
	line := fmt.Sprintf("%s  %s\n", sum, filepath.Base(pkgPath))
	if err := os.WriteFile(sidecar, []byte(line), 0o644); err != nil {
		return "", err
	}
	return sidecar, nil
}
