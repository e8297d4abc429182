package fragment

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// BaseURL is the default root for constructing an HDF URL from
// board/app when a device does not report one directly.
const BaseURL = "https://hcdf.cognipilot.org"

// fetchTimeout bounds a single HTTP round trip.
const fetchTimeout = 30 * time.Second

// Fetcher retrieves HDF documents and the model blobs they reference
// over HTTP, caching both by content SHA.
type Fetcher struct {
	client *http.Client
	cache  *Cache
	logger *zap.Logger
}

// NewFetcher returns a Fetcher backed by cache.
func NewFetcher(cache *Cache, logger *zap.Logger) *Fetcher {
	return &Fetcher{
		client: &http.Client{Timeout: fetchTimeout},
		cache:  cache,
		logger: logger,
	}
}

// ConstructURL builds the fallback HDF URL for board/app:
// "<BaseURL>/<board>/<app>/<app>.hcdf".
func ConstructURL(board, app string) string {
	return fmt.Sprintf("%s/%s/%s/%s.hcdf", BaseURL, board, app, app)
}

// FetchFragment returns the HDF document content for board/app,
// preferring a cache hit on deviceSha, then a live fetch from
// deviceURL (or the constructed fallback URL), then a cached fallback
// by board/app if the device and network are both unreachable.
// deviceURL and deviceSha may be empty when not reported.
func (f *Fetcher) FetchFragment(ctx context.Context, board, app, deviceURL, deviceSha string) ([]byte, error) {
	if deviceSha != "" && f.cache.HasHCDF(deviceSha) {
		content, err := f.cache.ReadHCDF(deviceSha)
		if err == nil {
			f.logf("using cached HCDF (SHA match)", zap.String("sha", deviceSha))
			return content, nil
		}
		f.logf("failed to read cached HCDF, falling through to fetch", zap.String("sha", deviceSha), zap.Error(err))
	}

	fetchURL := deviceURL
	if fetchURL == "" {
		fetchURL = ConstructURL(board, app)
	}

	content, err := f.getWithRetry(ctx, fetchURL)
	if err != nil {
		f.logf("HCDF fetch failed, trying cache fallback", zap.String("url", fetchURL), zap.Error(err))
		if cached, cerr := f.cache.ReadHCDFByBoardApp(board, app); cerr == nil {
			return cached, nil
		}
		return nil, fmt.Errorf("fragment: fetch hcdf: %w", err)
	}

	sha := SHA256Hex(content)
	if deviceSha != "" && !shaCompatible(deviceSha, sha) {
		f.logf("HCDF SHA mismatch, content may have changed",
			zap.String("expected", deviceSha), zap.String("computed", sha))
	}

	if _, err := f.cache.StoreHCDF(fetchURL, sha, board, app, content); err != nil {
		f.logf("failed to cache HCDF", zap.Error(err))
	}
	return content, nil
}

// FetchModel returns the cache-relative path to modelURL's content,
// fetching and storing it if not already cached. expectedSha pins the
// download to a specific content hash reported by the parent HDF's
// <model sha="..."> attribute, if any.
func (f *Fetcher) FetchModel(ctx context.Context, modelURL, expectedSha, hcdfSha string) (string, error) {
	modelName := modelNameFromURL(modelURL)

	if expectedSha != "" && f.cache.HasModel(expectedSha) {
		if rel, ok := f.cache.manifest.ModelsBySha[expectedSha]; ok {
			return rel, nil
		}
	}

	content, err := f.getWithRetry(ctx, modelURL)
	if err != nil {
		return "", fmt.Errorf("fragment: fetch model %s: %w", modelName, err)
	}

	sha := SHA256Hex(content)
	if expectedSha != "" && !shaCompatible(expectedSha, sha) {
		f.logf("model SHA mismatch, content may have changed",
			zap.String("model", modelName), zap.String("expected", expectedSha), zap.String("computed", sha))
	}

	if f.cache.HasModel(sha) {
		if rel, ok := f.cache.manifest.ModelsBySha[sha]; ok {
			return rel, nil
		}
	}

	if _, err := f.cache.StoreModel(hcdfSha, modelName, sha, modelURL, content); err != nil {
		return "", fmt.Errorf("fragment: store model %s: %w", modelName, err)
	}
	return f.cache.manifest.ModelsBySha[sha], nil
}

// getWithRetry performs an HTTP GET, retrying transient (network or
// 5xx) failures with exponential backoff. A non-2xx status other than
// 5xx is treated as permanent.
func (f *Fetcher) getWithRetry(ctx context.Context, rawURL string) ([]byte, error) {
	var body []byte

	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			return fmt.Errorf("fragment: %s returned status %d", rawURL, resp.StatusCode)
		}
		if resp.StatusCode != http.StatusOK {
			return backoff.Permanent(fmt.Errorf("fragment: %s returned status %d", rawURL, resp.StatusCode))
		}

		data, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		body = data
		return nil
	}

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = 200 * time.Millisecond
	bo.MaxElapsedTime = 5 * time.Second
	if err := backoff.Retry(op, backoff.WithContext(bo, ctx)); err != nil {
		return nil, err
	}
	return body, nil
}

func (f *Fetcher) logf(msg string, fields ...zap.Field) {
	if f.logger != nil {
		f.logger.Warn(msg, fields...)
	}
}

// modelNameFromURL returns the final path segment of a model URL, or
// "model.glb" if it cannot be determined.
func modelNameFromURL(rawURL string) string {
	if u, err := url.Parse(rawURL); err == nil {
		if base := path.Base(u.Path); base != "" && base != "." && base != "/" {
			return base
		}
	}
	if idx := strings.LastIndex(rawURL, "/"); idx >= 0 && idx+1 < len(rawURL) {
		return rawURL[idx+1:]
	}
	return "model.glb"
}

// shaCompatible reports whether expected and computed agree, allowing
// either side to be a short (prefix) SHA.
func shaCompatible(expected, computed string) bool {
	short := computed
	if len(short) > 8 {
		short = short[:8]
	}
	expPrefix := expected
	if len(expPrefix) > 8 {
		expPrefix = expPrefix[:8]
	}
	return strings.HasPrefix(computed, expected) || strings.HasPrefix(expected, short) || expPrefix == short
}
