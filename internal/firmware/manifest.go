// Package firmware fetches upstream release manifests, compares
// versions, and verifies MCUboot image hashes for OTA updates.
package firmware

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"golang.org/x/mod/semver"
)

// manifestCacheTTL bounds how long a fetched manifest is reused before
// a fresh fetch is attempted.
const manifestCacheTTL = 5 * time.Minute

// Release is a single published firmware release.
type Release struct {
	Version      string    `json:"version"`
	Date         time.Time `json:"date"`
	McubootHash  string    `json:"mcuboot_hash"`
	Size         uint64    `json:"size"`
	URL          string    `json:"url"`
	Changelog    *string   `json:"changelog,omitempty"`
}

// Manifest is the "latest.json" document published at a device's
// firmware_manifest_uri.
type Manifest struct {
	Board    string    `json:"board"`
	App      string    `json:"app"`
	Latest   Release   `json:"latest"`
	Previous []Release `json:"previous,omitempty"`
}

// Status is the result of comparing a device's running firmware
// against a manifest's latest release.
type Status struct {
	Kind          StatusKind
	LatestVersion string
	Changelog     *string
}

type StatusKind string

const (
	StatusUpToDate        StatusKind = "up_to_date"
	StatusUpdateAvailable StatusKind = "update_available"
	StatusUnknown         StatusKind = "unknown"
	StatusCheckDisabled   StatusKind = "check_disabled"
)

type manifestCacheKey struct{ board, app string }

type cachedManifest struct {
	manifest  Manifest
	fetchedAt time.Time
}

// Fetcher retrieves and caches firmware manifests by (board, app).
type Fetcher struct {
	client *http.Client

	mu    sync.RWMutex
	cache map[manifestCacheKey]cachedManifest
}

// NewFetcher returns a Fetcher with an empty manifest cache.
func NewFetcher() *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		cache:  make(map[manifestCacheKey]cachedManifest),
	}
}

// ConstructManifestURL appends "/latest.json" to uri, trimming any
// trailing slash first.
func ConstructManifestURL(uri string) string {
	return strings.TrimRight(uri, "/") + "/latest.json"
}

// GetManifest fetches the firmware manifest for board/app from uri,
// serving a cached copy if it was fetched within manifestCacheTTL.
// uri is required: devices without a firmware_manifest_uri configured
// have no default to fall back to, so callers should skip calling
// GetManifest entirely in that case. A 404 or any fetch/parse error
// returns (nil, nil) rather than an error, matching "no update
// information available" rather than a hard failure.
func (f *Fetcher) GetManifest(ctx context.Context, board, app, uri string) (*Manifest, error) {
	key := manifestCacheKey{board, app}

	f.mu.RLock()
	if cached, ok := f.cache[key]; ok && time.Since(cached.fetchedAt) < manifestCacheTTL {
		f.mu.RUnlock()
		m := cached.manifest
		return &m, nil
	}
	f.mu.RUnlock()

	url := ConstructManifestURL(uri)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("firmware: build manifest request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, nil
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, nil
	}
	var manifest Manifest
	if err := json.Unmarshal(body, &manifest); err != nil {
		return nil, nil
	}

	f.mu.Lock()
	f.cache[key] = cachedManifest{manifest: manifest, fetchedAt: time.Now()}
	f.mu.Unlock()

	return &manifest, nil
}

// ClearCache drops every cached manifest.
func (f *Fetcher) ClearCache() {
	f.mu.Lock()
	f.cache = make(map[manifestCacheKey]cachedManifest)
	f.mu.Unlock()
}

// CacheSize reports how many manifests are currently cached.
func (f *Fetcher) CacheSize() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.cache)
}

// DownloadFirmware fetches release.URL and verifies the downloaded
// bytes match release.Size and release.McubootHash before returning.
func (f *Fetcher) DownloadFirmware(ctx context.Context, release Release) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, release.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("firmware: build download request: %w", err)
	}
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("firmware: download %s: %w", release.URL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("firmware: download %s returned status %d", release.URL, resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("firmware: read download body: %w", err)
	}

	if uint64(len(data)) != release.Size {
		return nil, fmt.Errorf("firmware: size mismatch: expected %d bytes, got %d", release.Size, len(data))
	}

	computed, err := McubootHash(data)
	if err != nil {
		return nil, fmt.Errorf("firmware: %w", err)
	}
	if !strings.EqualFold(computed, release.McubootHash) {
		return nil, fmt.Errorf("firmware: mcuboot hash mismatch: expected %s, got %s", release.McubootHash, computed)
	}

	return data, nil
}

// CompareVersions compares a device's reported version (and, as a
// fallback when the version string is not valid semver, its build
// date) against manifest's latest release.
func CompareVersions(deviceVersion *string, deviceDate *time.Time, manifest Manifest) Status {
	if deviceVersion != nil {
		deviceSemver := canonicalSemver(*deviceVersion)
		latestSemver := canonicalSemver(manifest.Latest.Version)
		if semver.IsValid(deviceSemver) && semver.IsValid(latestSemver) {
			if semver.Compare(deviceSemver, latestSemver) < 0 {
				return Status{Kind: StatusUpdateAvailable, LatestVersion: manifest.Latest.Version, Changelog: manifest.Latest.Changelog}
			}
			return Status{Kind: StatusUpToDate}
		}
	}

	if deviceDate != nil {
		if deviceDate.Before(manifest.Latest.Date) {
			return Status{Kind: StatusUpdateAvailable, LatestVersion: manifest.Latest.Version, Changelog: manifest.Latest.Changelog}
		}
		return Status{Kind: StatusUpToDate}
	}

	return Status{Kind: StatusUnknown}
}

// canonicalSemver prefixes version with "v" if missing, as required by
// golang.org/x/mod/semver's canonical form.
func canonicalSemver(version string) string {
	v := strings.TrimSpace(version)
	if v == "" {
		return v
	}
	if v[0] != 'v' && v[0] != 'V' {
		return "v" + v
	}
	return "v" + v[1:]
}

// VerifyImageHash reports whether deviceHash matches expectedSha,
// case-insensitively.
func VerifyImageHash(deviceHash *string, expectedSha string) bool {
	if deviceHash == nil {
		return false
	}
	return strings.EqualFold(*deviceHash, expectedSha)
}
