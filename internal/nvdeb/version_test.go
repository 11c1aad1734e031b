package nvdeb

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractVersion(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{
			name: "first line",
			body: "NVIM v0.10.2\nRelease notes follow",
			want: "0.10.2",
		},
		{
			name: "embedded in prose",
			body: "## What's new in v0.11.0\n\nLots of things.",
			want: "0.11.0",
		},
		{
			name: "nightly prerelease suffix",
			body: "NVIM v0.12.0-dev-1234+g0abc123f\nBuild type: RelWithDebInfo",
			want: "0.12.0-dev-1234+g0abc123f",
		},
		{
			name: "first match wins over later versions",
			body: "NVIM v0.10.2\nChanges since v0.10.1:\n- fix for v0.9.5 regression",
			want: "0.10.2",
		},
		{
			name: "match on the fifth line",
			body: "line1\nline2\nline3\nline4\nNVIM v0.10.0",
			want: "0.10.0",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := extractVersion(tt.body)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractVersionDeterministic(t *testing.T) {
	body := "NVIM v0.10.2\nChanges since v0.10.1"
	a, err := extractVersion(body)
	require.NoError(t, err)
	b, err := extractVersion(body)
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestExtractVersionUnresolved(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"empty body", ""},
		{"no version anywhere", "Nightly build.\nCommit log attached."},
		{"version beyond the scan window", "l1\nl2\nl3\nl4\nl5\nNVIM v0.10.2"},
		{"two-component version", "release v0.10 is out"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := extractVersion(tt.body)
			require.Error(t, err)
			assert.True(t, errors.Is(err, errVersionUnresolved))
		})
	}
}

func TestParseVersion(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{in: "v0.10.2", want: "0.10.2"},
		{in: "v1.0.0", want: "1.0.0"},
		{in: "v0.11.0-dev-1234+g0abc123", want: "0.11.0-dev-1234+g0abc123"},
		{in: "  v0.10.2\n", want: "0.10.2"},
		{in: "0.10.2", wantErr: true},
		{in: "v0.10", wantErr: true},
		{in: "v0.10.2 trailing", wantErr: true},
		{in: "v0.10.2junk", wantErr: true},
		{in: "", wantErr: true},
		{in: "nightly", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(strings.ReplaceAll(tt.in, " ", "_"), func(t *testing.T) {
			got, err := parseVersion(tt.in)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, errVersionUnresolved))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNightlyVersionRoundTrip(t *testing.T) {
	body := "NVIM v0.12.0-dev-1234+g0abc123f\nBuild type: RelWithDebInfo"
	v, err := extractVersion(body)
	require.NoError(t, err)
	assert.Equal(t, "0.12.0-dev-1234+g0abc123f", v)

	// The assembler re-validates "v"+version; every version the extractor
	// can produce must pass that check, pre-release suffixes included.
	parsed, err := parseVersion("v" + v)
	require.NoError(t, err)
	assert.Equal(t, v, parsed)
}

func TestReleaseBranch(t *testing.T) {
	assert.Equal(t, "stable", releaseBranch("stable"))
	assert.Equal(t, "nightly", releaseBranch("nightly"))
}
