package nvdeb

import (
	"archive/tar"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/klauspost/compress/zip"
	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"
	"github.com/ulikunitz/xz"
)

// extractArchive unpacks a source tarball or zip into dest. When the archive
// has a single top-level directory (the usual release-tarball layout), that
// directory is stripped so dest holds the source tree directly.
func extractArchive(archive, dest string) error {
	if err := os.MkdirAll(dest, 0o755); err != nil {
		return err
	}

	switch {
	case strings.HasSuffix(archive, ".zip"):
		return unzipGo(archive, dest)
	case strings.HasSuffix(archive, ".tar.gz"), strings.HasSuffix(archive, ".tgz"):
		f, err := os.Open(archive)
		if err != nil {
			return err
		}
		defer f.Close()
		gz, err := pgzip.NewReader(f)
		if err != nil {
			return fmt.Errorf("gzip reader: %w", err)
		}
		defer gz.Close()
		return untar(gz, dest)
	case strings.HasSuffix(archive, ".tar.xz"):
		f, err := os.Open(archive)
		if err != nil {
			return err
		}
		defer f.Close()
		xr, err := xz.NewReader(f)
		if err != nil {
			return fmt.Errorf("xz reader: %w", err)
		}
		return untar(xr, dest)
	case strings.HasSuffix(archive, ".tar.zst"):
		f, err := os.Open(archive)
		if err != nil {
			return err
		}
		defer f.Close()
		zr, err := zstd.NewReader(f)
		if err != nil {
			return fmt.Errorf("zstd reader: %w", err)
		}
		defer zr.Close()
		return untar(zr, dest)
	}
	return fmt.Errorf("unsupported archive format: %s", filepath.Base(archive))
}

// untar extracts a tar stream into dest, stripping the shared top-level
// directory release tarballs carry. The strip prefix is taken from the
// first entry; entries outside it are placed as-is.
func untar(r io.Reader, dest string) error {
	absDest, err := filepath.Abs(dest)
	if err != nil {
		return err
	}

	tr := tar.NewReader(r)
	strip := ""
	first := true
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("reading tar: %w", err)
		}

		if first {
			first = false
			if idx := strings.IndexByte(hdr.Name, '/'); idx != -1 {
				strip = hdr.Name[:idx+1]
			}
		}

		name := hdr.Name
		if strip != "" && strings.HasPrefix(name, strip) {
			name = strings.TrimPrefix(name, strip)
			if name == "" {
				continue
			}
		}

		fpath := filepath.Join(absDest, name)
		// Path traversal guard.
		if fpath != absDest && !strings.HasPrefix(fpath, absDest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", hdr.Name)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := os.MkdirAll(fpath, os.FileMode(hdr.Mode)|0o700); err != nil {
				return err
			}
		case tar.TypeReg:
			if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
				return err
			}
			out, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, os.FileMode(hdr.Mode))
			if err != nil {
				return err
			}
			if _, err := io.Copy(out, tr); err != nil {
				out.Close()
				return fmt.Errorf("extracting %s: %w", hdr.Name, err)
			}
			if err := out.Close(); err != nil {
				return err
			}
		case tar.TypeSymlink:
			if err := os.MkdirAll(filepath.Dir(fpath), 0o755); err != nil {
				return err
			}
			_ = os.Remove(fpath)
			if err := os.Symlink(hdr.Linkname, fpath); err != nil {
				return err
			}
		}
	}
	return nil
}

func unzipGo(src, dest string) error {
	r, err := zip.OpenReader(src)
	if err != nil {
		return err
	}
	defer r.Close()

	dest, err = filepath.Abs(dest)
	if err != nil {
		return err
	}

	for _, f := range r.File {
		fpath := filepath.Join(dest, f.Name)

		// Security Check: Prevent Zip Slip path traversal attacks.
		if !strings.HasPrefix(fpath, dest+string(os.PathSeparator)) {
			return fmt.Errorf("illegal file path in archive: %s", f.Name)
		}

		if f.FileInfo().IsDir() {
			if err := os.MkdirAll(fpath, os.ModePerm); err != nil {
				return err
			}
			continue
		}

		if err := os.MkdirAll(filepath.Dir(fpath), os.ModePerm); err != nil {
			return err
		}

		outFile, err := os.OpenFile(fpath, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, f.Mode())
		if err != nil {
			return err
		}

		rc, err := f.Open()
		if err != nil {
			outFile.Close()
			return err
		}

		_, err = io.Copy(outFile, rc)

		// Close inside the loop to avoid holding too many descriptors.
		outFile.Close()
		rc.Close()

		if err != nil {
			return err
		}
	}
	return nil
}

// compressLogXZ compresses a finished run log in place, leaving <path>.xz.
func compressLogXZ(path string) error {
	in, err := os.Open(path)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(path + ".xz")
	if err != nil {
		return err
	}
	defer out.Close()

	xw, err := xz.NewWriter(out)
	if err != nil {
		return err
	}
	if _, err := io.Copy(xw, in); err != nil {
		xw.Close()
		return err
	}
	if err := xw.Close(); err != nil {
		return err
	}
	return os.Remove(path)
}
