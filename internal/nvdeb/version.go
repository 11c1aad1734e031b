package nvdeb

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"
)

// versionPattern matches vMAJOR.MINOR.PATCH with an optional pre-release
// suffix, e.g. v0.10.2 or v0.11.0-dev-1234+g0abc123.
var versionPattern = regexp.MustCompile(`v(\d+\.\d+\.\d+(?:-[0-9A-Za-z.+-]+)?)`)

// How many leading lines of a release body are scanned for a version.
// Changelog text further down is full of historical version strings.
const versionScanLines = 5

// extractVersion pulls the release version out of free-text release notes.
// Only the first few lines are scanned, and only the first match counts,
// so the result is deterministic for a given body.
func extractVersion(body string) (string, error) {
	lines := strings.SplitN(body, "\n", versionScanLines+1)
	if len(lines) > versionScanLines {
		lines = lines[:versionScanLines]
	}
	for _, line := range lines {
		if m := versionPattern.FindStringSubmatch(line); m != nil {
			return m[1], nil
		}
	}
	return "", fmt.Errorf("%w: no vX.Y.Z pattern in the first %d lines of release notes", errVersionUnresolved, versionScanLines)
}

// exactVersionPattern anchors versionPattern for whole-string validation.
// The suffix class must stay identical to versionPattern's: whatever
// extractVersion produces has to survive re-validation in the assembler.
var exactVersionPattern = regexp.MustCompile(`^v(\d+\.\d+\.\d+(?:-[0-9A-Za-z.+-]+)?)$`)

// parseVersion validates an externally supplied version string against the
// vMAJOR.MINOR.PATCH(-suffix) shape and returns it without the leading v.
func parseVersion(s string) (string, error) {
	m := exactVersionPattern.FindStringSubmatch(strings.TrimSpace(s))
	if m == nil {
		return "", fmt.Errorf("%w: %q does not match vMAJOR.MINOR.PATCH(-suffix)", errVersionUnresolved, s)
	}
	return m[1], nil
}

// githubRelease is the subset of the GitHub release payload we consume.
type githubRelease struct {
	TagName string `json:"tag_name"`
	Name    string `json:"name"`
	Body    string `json:"body"`
}

// fetchReleaseBody retrieves the release notes for a channel (stable or
// nightly) from the GitHub API.
func fetchReleaseBody(channel string, cfg *Config) (string, error) {
	url := fmt.Sprintf("%s/repos/%s/releases/tags/%s", githubAPIBase, githubRepo, releaseBranch(channel))
	data, err := httpGet(url, cfg.Values["GITHUB_TOKEN"])
	if err != nil {
		return "", fmt.Errorf("fetching release metadata: %w", err)
	}
	var rel githubRelease
	if err := json.Unmarshal(data, &rel); err != nil {
		return "", fmt.Errorf("decoding release metadata: %w", err)
	}
	return rel.Body, nil
}

// resolveVersion fetches the channel's release notes and extracts the
// version. Failures block packaging and publishing but do not invalidate
// an already-built, verified binary.
func resolveVersion(channel string, cfg *Config) (string, error) {
	body, err := fetchReleaseBody(channel, cfg)
	if err != nil {
		return "", fmt.Errorf("%w: %v", errVersionUnresolved, err)
	}
	return extractVersion(body)
}
