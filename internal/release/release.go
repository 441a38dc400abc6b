// Package release implements the Release Provider: resolving the latest
// available node-binary version (or container image tag) from a catalog
// endpoint, and for native deployments, downloading and staging the binary.
package release

import (
	"archive/zip"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/coreos/go-semver/semver"
)

// catalogEntry is the shape returned by the version catalog endpoint.
type catalogEntry struct {
	Version     string `json:"version"`
	DownloadURL string `json:"download_url"`
}

// Provider queries an HTTP+JSON release catalog and, for native backends,
// stages downloaded binaries on disk.
type Provider struct {
	CatalogURL string
	UserAgent  string
	httpClient *http.Client
}

// New constructs a Provider against catalogURL.
func New(catalogURL string) *Provider {
	return &Provider{
		CatalogURL: catalogURL,
		UserAgent:  "fleetd-release-provider",
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// Latest returns the newest version string published by the catalog and its
// parsed semver for comparison.
func (p *Provider) Latest(ctx context.Context) (*semver.Version, catalogEntry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.CatalogURL, nil)
	if err != nil {
		return nil, catalogEntry{}, fmt.Errorf("release: build request: %w", err)
	}
	req.Header.Set("User-Agent", p.UserAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return nil, catalogEntry{}, fmt.Errorf("release: fetch catalog: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, catalogEntry{}, fmt.Errorf("release: catalog returned status %d", resp.StatusCode)
	}

	var entry catalogEntry
	if err := json.NewDecoder(resp.Body).Decode(&entry); err != nil {
		return nil, catalogEntry{}, fmt.Errorf("release: decode catalog response: %w", err)
	}

	v, err := ParseVersion(entry.Version)
	if err != nil {
		return nil, catalogEntry{}, fmt.Errorf("release: parse catalog version %q: %w", entry.Version, err)
	}
	return v, entry, nil
}

// ParseVersion parses a version string as semver, treating an unparsable or
// empty string as v0.0.0 so that any real release is always considered newer.
func ParseVersion(s string) (*semver.Version, error) {
	if s == "" {
		return semver.New("0.0.0"), nil
	}
	v, err := semver.NewVersion(trimV(s))
	if err != nil {
		return semver.New("0.0.0"), nil
	}
	return v, nil
}

func trimV(s string) string {
	if len(s) > 0 && (s[0] == 'v' || s[0] == 'V') {
		return s[1:]
	}
	return s
}

// IsNewer reports whether candidate is strictly newer than current.
func IsNewer(current, candidate *semver.Version) bool {
	return candidate.Compare(*current) > 0
}

// StageBinary downloads the archive referenced by version's catalog entry
// and unpacks the single binary inside it into destDir/node, replacing any
// existing staged binary atomically via a temp-file rename.
func (p *Provider) StageBinary(ctx context.Context, version string, destDir string) error {
	_, entry, err := p.Latest(ctx)
	if err != nil {
		return err
	}
	if entry.DownloadURL == "" {
		return fmt.Errorf("release: no download URL for version %s", version)
	}

	archivePath, err := p.downloadArchive(ctx, entry.DownloadURL)
	if err != nil {
		return err
	}
	defer os.Remove(archivePath)

	if err := os.MkdirAll(destDir, 0o755); err != nil {
		return fmt.Errorf("release: create dest dir: %w", err)
	}
	return unpackBinary(archivePath, filepath.Join(destDir, "node"))
}

func (p *Provider) downloadArchive(ctx context.Context, url string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", fmt.Errorf("release: build download request: %w", err)
	}
	req.Header.Set("User-Agent", p.UserAgent)

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("release: download: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("release: download returned status %d", resp.StatusCode)
	}

	tmp, err := os.CreateTemp("", "fleetd-release-*.zip")
	if err != nil {
		return "", fmt.Errorf("release: create temp file: %w", err)
	}
	defer tmp.Close()

	if _, err := io.Copy(tmp, resp.Body); err != nil {
		return "", fmt.Errorf("release: save download: %w", err)
	}
	return tmp.Name(), nil
}

// unpackBinary extracts the single file expected inside a release archive,
// replacing target via an exclusive create-then-rename.
func unpackBinary(archivePath, target string) error {
	zr, err := zip.OpenReader(archivePath)
	if err != nil {
		return fmt.Errorf("release: open archive: %w", err)
	}
	defer zr.Close()

	if len(zr.File) != 1 {
		return fmt.Errorf("release: expected exactly one file in archive, found %d", len(zr.File))
	}
	entry := zr.File[0]

	rc, err := entry.Open()
	if err != nil {
		return fmt.Errorf("release: open archive entry: %w", err)
	}
	defer rc.Close()

	tmpTarget := target + ".new"
	out, err := os.OpenFile(tmpTarget, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o755)
	if err != nil {
		_ = os.Remove(tmpTarget)
		out, err = os.OpenFile(tmpTarget, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o755)
		if err != nil {
			return fmt.Errorf("release: create staged binary: %w", err)
		}
	}
	defer out.Close()

	if _, err := io.Copy(out, rc); err != nil {
		return fmt.Errorf("release: write staged binary: %w", err)
	}
	out.Close()

	return os.Rename(tmpTarget, target)
}
