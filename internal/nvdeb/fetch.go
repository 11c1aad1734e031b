package nvdeb

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/sys/unix"
	"golang.org/x/term"
)

func newHTTPClient() *http.Client {
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.TLSClientConfig = &tls.Config{
		MinVersion: tls.VersionTLS12,
	}
	// Default handshake timeout is 10s; some source hosts are slow.
	transport.TLSHandshakeTimeout = 30 * time.Second

	return &http.Client{
		Transport: transport,
		Timeout:   300 * time.Second, // 5 min total timeout for large downloads
	}
}

type downloadOptions struct {
	Quiet bool // Quiet suppresses all stdout/stderr/progress output
}

// downloadFile fetches url into destFile, keeping a flock around the cache
// entry so concurrent pipeline runs never download the same file twice or
// read a half-written one. The context bounds the transfer, so a stalled
// mirror dies with the run's deadline instead of its own timer.
func downloadFile(ctx context.Context, url, destFile string, opt downloadOptions) error {
	if err := os.MkdirAll(filepath.Dir(destFile), 0o755); err != nil {
		return fmt.Errorf("failed to create parent directory for %s: %w", destFile, err)
	}

	lockPath := destFile + ".lock"
	lFile, err := os.OpenFile(lockPath, os.O_CREATE|os.O_RDWR, 0o644)
	if err != nil {
		return fmt.Errorf("failed to create lock file: %w", err)
	}
	defer lFile.Close()

	// Blocks while another run downloads the same file.
	if err := unix.Flock(int(lFile.Fd()), unix.LOCK_EX); err != nil {
		return fmt.Errorf("failed to acquire lock for download: %w", err)
	}
	defer unix.Flock(int(lFile.Fd()), unix.LOCK_UN)

	// DOUBLE CHECK: the other run may have finished it while we waited.
	if _, err := os.Stat(destFile); err == nil {
		debugf("File %s appeared after acquiring lock, skipping download.\n", destFile)
		_ = os.Remove(lockPath)
		return nil
	}

	defer func() {
		if _, err := os.Stat(destFile); err == nil {
			_ = os.Remove(lockPath)
		}
	}()

	debugf("Downloading %s -> %s\n", url, destFile)

	client := newHTTPClient()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("GET %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET %s: unexpected status %s", url, resp.Status)
	}

	// Download to a .part file and rename, so an interrupted transfer
	// never passes the existence check above.
	partPath := destFile + ".part"
	out, err := os.Create(partPath)
	if err != nil {
		return fmt.Errorf("creating %s: %w", partPath, err)
	}

	var w io.Writer = out
	if !opt.Quiet && term.IsTerminal(int(os.Stderr.Fd())) {
		bar := progressbar.DefaultBytes(resp.ContentLength, filepath.Base(destFile))
		w = io.MultiWriter(out, bar)
	}

	if _, err := io.Copy(w, resp.Body); err != nil {
		out.Close()
		_ = os.Remove(partPath)
		return fmt.Errorf("downloading %s: %w", url, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(partPath)
		return err
	}
	return os.Rename(partPath, destFile)
}

// httpGet fetches url with optional bearer auth and returns the body.
func httpGet(url, token string) ([]byte, error) {
	client := newHTTPClient()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("GET %s: status %s: %s", url, resp.Status, truncateDiag(string(body), 200))
	}
	return body, nil
}

// truncateDiag trims diagnostic text for error messages.
func truncateDiag(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
