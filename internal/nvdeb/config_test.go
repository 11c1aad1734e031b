package nvdeb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvdeb.conf")
	content := `# nvdeb configuration
NVDEB_CHANNEL=nightly
NVDEB_CACHE="/srv/nvdeb"
GITHUB_TOKEN='ghp_testtoken'

malformed line without equals
  NVDEB_TIMEOUT_MINUTES = 45
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	cfg, err := loadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "nightly", cfg.Values["NVDEB_CHANNEL"])
	assert.Equal(t, "/srv/nvdeb", cfg.Values["NVDEB_CACHE"], "quotes are stripped")
	assert.Equal(t, "ghp_testtoken", cfg.Values["GITHUB_TOKEN"])
	assert.Equal(t, "45", cfg.Values["NVDEB_TIMEOUT_MINUTES"], "whitespace around = is tolerated")
	assert.Equal(t, "/tmp", cfg.Values["TMPDIR"], "default applies")
}

func TestLoadConfigMissingFile(t *testing.T) {
	cfg, err := loadConfig(filepath.Join(t.TempDir(), "does-not-exist.conf"))
	require.NoError(t, err)
	assert.Equal(t, "stable", cfg.Values["NVDEB_CHANNEL"])
	assert.Equal(t, "/tmp", cfg.Values["TMPDIR"])
}

func TestLoadConfigEnvOverride(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nvdeb.conf")
	require.NoError(t, os.WriteFile(path, []byte("NVDEB_CHANNEL=stable\n"), 0o644))

	t.Setenv("NVDEB_CHANNEL", "nightly")
	t.Setenv("NVDEB_PUBLISH_REPO", "example/nvim-releases")

	cfg, err := loadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "nightly", cfg.Values["NVDEB_CHANNEL"], "environment wins over file")
	assert.Equal(t, "example/nvim-releases", cfg.Values["NVDEB_PUBLISH_REPO"])
}

func TestPipelineTimeout(t *testing.T) {
	tests := []struct {
		name    string
		value   string
		wantMin int
	}{
		{"default", "", defaultTimeoutMinutes},
		{"override", "30", 30},
		{"garbage falls back", "soon", defaultTimeoutMinutes},
		{"zero falls back", "0", defaultTimeoutMinutes},
		{"negative falls back", "-5", defaultTimeoutMinutes},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := &Config{Values: map[string]string{}}
			if tt.value != "" {
				cfg.Values["NVDEB_TIMEOUT_MINUTES"] = tt.value
			}
			assert.Equal(t, tt.wantMin, int(pipelineTimeout(cfg).Minutes()))
		})
	}
}
