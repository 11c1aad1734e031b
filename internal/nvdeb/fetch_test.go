package nvdeb

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDownloadFile(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("tarball bytes"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "libuv-1.48.0.tar.gz")
	require.NoError(t, downloadFile(context.Background(), srv.URL+"/libuv-1.48.0.tar.gz", dest, downloadOptions{Quiet: true}))

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "tarball bytes", string(data))

	// No stray transfer or lock files once the download lands.
	_, err = os.Stat(dest + ".part")
	assert.True(t, os.IsNotExist(err))
	_, err = os.Stat(dest + ".lock")
	assert.True(t, os.IsNotExist(err))
}

func TestDownloadFileUsesCache(t *testing.T) {
	var requests int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requests++
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "cached.tar.gz")
	require.NoError(t, os.WriteFile(dest, []byte("already here"), 0o644))

	require.NoError(t, downloadFile(context.Background(), srv.URL, dest, downloadOptions{Quiet: true}))
	assert.Zero(t, requests, "a cached file is never re-fetched")

	data, err := os.ReadFile(dest)
	require.NoError(t, err)
	assert.Equal(t, "already here", string(data))
}

func TestDownloadFileServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "missing.tar.gz")
	err := downloadFile(context.Background(), srv.URL, dest, downloadOptions{Quiet: true})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}

func TestDownloadFileHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("never delivered"))
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	dest := filepath.Join(t.TempDir(), "aborted.tar.gz")
	err := downloadFile(ctx, srv.URL, dest, downloadOptions{Quiet: true})
	require.Error(t, err)
	assert.True(t, errors.Is(err, context.Canceled))

	_, statErr := os.Stat(dest)
	assert.True(t, os.IsNotExist(statErr))
}
