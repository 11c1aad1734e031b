package nvdeb

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
)

// ReleaseRecord mirrors the publisher's view of a release. The pipeline only
// supplies inputs; the record's lifecycle belongs to the external service.
type ReleaseRecord struct {
	ID        int64    `json:"id"`
	TagName   string   `json:"tag_name"`
	Name      string   `json:"name"`
	UploadURL string   `json:"upload_url"`
	Assets    []string `json:"-"`
}

// publisher talks to the GitHub Releases API of the repository the built
// packages are published under (not the upstream Neovim repository).
type publisher struct {
	repo  string
	token string
}

func newPublisher(cfg *Config) (*publisher, error) {
	repo := cfg.Values["NVDEB_PUBLISH_REPO"]
	token := cfg.Values["GITHUB_TOKEN"]
	if repo == "" || token == "" {
		return nil, fmt.Errorf("%w: NVDEB_PUBLISH_REPO and GITHUB_TOKEN must be configured", errPublishFailed)
	}
	return &publisher{repo: repo, token: token}, nil
}

func (p *publisher) apiRequest(method, apiURL string, body []byte, contentType string) ([]byte, int, error) {
	client := newHTTPClient()
	var rdr io.Reader
	if body != nil {
		rdr = bytes.NewReader(body)
	}
	req, err := http.NewRequest(method, apiURL, rdr)
	if err != nil {
		return nil, 0, err
	}
	req.Header.Set("Accept", "application/vnd.github+json")
	req.Header.Set("Authorization", "Bearer "+p.token)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, 0, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	return data, resp.StatusCode, err
}

// ensureRelease returns the release for tag, creating it when absent.
func (p *publisher) ensureRelease(tag, name, body string) (*ReleaseRecord, error) {
	getURL := fmt.Sprintf("%s/repos/%s/releases/tags/%s", githubAPIBase, p.repo, url.PathEscape(tag))
	data, status, err := p.apiRequest(http.MethodGet, getURL, nil, "")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPublishFailed, err)
	}
	if status == http.StatusOK {
		var rec ReleaseRecord
		if err := json.Unmarshal(data, &rec); err != nil {
			return nil, fmt.Errorf("%w: decoding release: %v", errPublishFailed, err)
		}
		return &rec, nil
	}
	if status != http.StatusNotFound {
		return nil, fmt.Errorf("%w: looking up release %s: status %d: %s", errPublishFailed, tag, status, truncateDiag(string(data), 200))
	}

	payload, _ := json.Marshal(map[string]any{
		"tag_name": tag,
		"name":     name,
		"body":     body,
	})
	createURL := fmt.Sprintf("%s/repos/%s/releases", githubAPIBase, p.repo)
	data, status, err = p.apiRequest(http.MethodPost, createURL, payload, "application/json")
	if err != nil {
		return nil, fmt.Errorf("%w: %v", errPublishFailed, err)
	}
	if status != http.StatusCreated {
		return nil, fmt.Errorf("%w: creating release %s: status %d: %s", errPublishFailed, tag, status, truncateDiag(string(data), 200))
	}
	var rec ReleaseRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: decoding created release: %v", errPublishFailed, err)
	}
	return &rec, nil
}

// uploadAsset attaches one file to a release.
func (p *publisher) uploadAsset(rec *ReleaseRecord, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("%w: reading asset: %v", errPublishFailed, err)
	}

	// upload_url is a URI template: strip the {?name,label} suffix.
	uploadURL := rec.UploadURL
	if idx := strings.IndexByte(uploadURL, '{'); idx != -1 {
		uploadURL = uploadURL[:idx]
	}
	uploadURL += "?name=" + url.QueryEscape(filepath.Base(path))

	body, status, err := p.apiRequest(http.MethodPost, uploadURL, data, "application/octet-stream")
	if err != nil {
		return fmt.Errorf("%w: %v", errPublishFailed, err)
	}
	if status != http.StatusCreated {
		return fmt.Errorf("%w: uploading %s: status %d: %s", errPublishFailed, filepath.Base(path), status, truncateDiag(string(body), 200))
	}
	return nil
}

// publishPackage creates (or reuses) the release for a package descriptor
// and uploads the versioned package plus its checksum sidecar.
func publishPackage(desc *PackageDescriptor, cfg *Config) (*ReleaseRecord, error) {
	p, err := newPublisher(cfg)
	if err != nil {
		return nil, err
	}

	tag := releaseTag(desc.Version, desc.Channel, desc.Arch)
	name := fmt.Sprintf("%s v%s (%s, linux-%s)", productName, desc.Version, desc.Channel, desc.Arch)
	body := fmt.Sprintf("Debian package for %s v%s, %s channel, linux/%s.\nDepends: %s\n",
		productName, desc.Version, desc.Channel, desc.Arch, strings.Join(desc.Depends, ", "))

	rec, err := p.ensureRelease(tag, name, body)
	if err != nil {
		return nil, err
	}

	for _, asset := range []string{desc.VersionedPath, desc.Sidecar} {
		colArrow.Print("-> ")
		colSuccess.Printf("Uploading %s\n", filepath.Base(asset))
		if err := p.uploadAsset(rec, asset); err != nil {
			return nil, err
		}
		rec.Assets = append(rec.Assets, filepath.Base(asset))
	}
	return rec, nil
}
