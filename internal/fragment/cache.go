// Package fragment implements the content-addressed on-disk cache for
// Hardware Description Fragments (HDF) and the GLB models they
// reference, plus network fetch with retry/backoff.
package fragment

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/CogniPilot/dendrite/pkg/models"
)

const manifestFileName = "manifest.json"

// Cache manages the on-disk fragment store rooted at a base directory:
//
//	<base>/manifest.json
//	<base>/<sha>.hcdf
//	<base>/models/<short_sha>-<name>
type Cache struct {
	baseDir      string
	manifestPath string
	manifest     *models.CacheManifest
}

// Open loads (or creates) the cache rooted at baseDir.
func Open(baseDir string) (*Cache, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("fragment: create cache dir: %w", err)
	}
	manifestPath := filepath.Join(baseDir, manifestFileName)
	manifest, err := loadOrCreateManifest(manifestPath)
	if err != nil {
		return nil, err
	}
	return &Cache{baseDir: baseDir, manifestPath: manifestPath, manifest: manifest}, nil
}

func loadOrCreateManifest(path string) (*models.CacheManifest, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return models.NewCacheManifest(), nil
	}
	if err != nil {
		return nil, fmt.Errorf("fragment: read manifest: %w", err)
	}
	var m models.CacheManifest
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("fragment: parse manifest: %w", err)
	}
	return &m, nil
}

// save writes the manifest atomically: write to a temp file in the same
// directory, then rename over the target.
func (c *Cache) save() error {
	data, err := json.MarshalIndent(c.manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("fragment: marshal manifest: %w", err)
	}
	tmp := c.manifestPath + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("fragment: write manifest: %w", err)
	}
	return os.Rename(tmp, c.manifestPath)
}

// SHA256Hex returns the lowercase hex SHA-256 digest of data.
func SHA256Hex(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// shortSha returns the first 8 characters of a SHA (or the whole
// string if shorter).
func shortSha(sha string) string {
	if len(sha) <= 8 {
		return sha
	}
	return sha[:8]
}

// hcdfPath returns the on-disk path for an HDF document keyed by sha.
func (c *Cache) hcdfPath(sha string) string {
	return filepath.Join(c.baseDir, sha+".hcdf")
}

// modelsDir is the flat directory holding all cached model blobs.
func (c *Cache) modelsDir() string {
	return filepath.Join(c.baseDir, "models")
}

// HasHCDF reports whether sha is both indexed in the manifest and
// present on disk.
func (c *Cache) HasHCDF(sha string) bool {
	if _, ok := c.manifest.HCDF[sha]; !ok {
		return false
	}
	_, err := os.Stat(c.hcdfPath(sha))
	return err == nil
}

// HasModel reports whether sha is both indexed and present on disk.
func (c *Cache) HasModel(sha string) bool {
	rel, ok := c.manifest.ModelsBySha[sha]
	if !ok {
		return false
	}
	_, err := os.Stat(filepath.Join(c.baseDir, rel))
	return err == nil
}

// StoreHCDF writes content to disk under sha and records it in the
// manifest, deduplicating by SHA: a caller who already has HasHCDF(sha)
// should skip the fetch entirely. board/app may be empty when unknown.
func (c *Cache) StoreHCDF(url, sha, board, app string, content []byte) (string, error) {
	path := c.hcdfPath(sha)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("fragment: write hcdf: %w", err)
	}

	entry := models.CachedHCDF{
		URL:       url,
		Sha:       sha,
		Path:      sha + ".hcdf",
		FetchedAt: time.Now().UTC().Format(time.RFC3339),
		Board:     board,
		App:       app,
		Models:    map[string]models.CachedModel{},
	}
	if existing, ok := c.manifest.HCDF[sha]; ok {
		entry.Models = existing.Models
		if board == "" {
			entry.Board = existing.Board
		}
		if app == "" {
			entry.App = existing.App
		}
	}
	c.manifest.HCDF[sha] = entry

	if err := c.save(); err != nil {
		return "", err
	}
	return path, nil
}

// ReadHCDFByBoardApp returns the most recently fetched cached HDF
// document matching board/app, used as an offline fallback when a
// live fetch fails and no device-reported SHA is available.
func (c *Cache) ReadHCDFByBoardApp(board, app string) ([]byte, error) {
	var best models.CachedHCDF
	found := false
	for _, entry := range c.manifest.HCDF {
		if entry.Board != board || entry.App != app {
			continue
		}
		if !found || entry.FetchedAt > best.FetchedAt {
			best = entry
			found = true
		}
	}
	if !found {
		return nil, fmt.Errorf("fragment: no cached hcdf for board=%s app=%s", board, app)
	}
	return os.ReadFile(filepath.Join(c.baseDir, best.Path))
}

// StoreModel writes a model blob under its SHA-prefixed name and
// records it both in the global model index and the owning HDF's
// model map.
func (c *Cache) StoreModel(hcdfSha, modelName, modelSha, href string, content []byte) (string, error) {
	if err := os.MkdirAll(c.modelsDir(), 0o755); err != nil {
		return "", fmt.Errorf("fragment: create models dir: %w", err)
	}

	short := shortSha(modelSha)
	fileName := fmt.Sprintf("%s-%s", short, modelName)
	path := filepath.Join(c.modelsDir(), fileName)
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return "", fmt.Errorf("fragment: write model: %w", err)
	}

	relPath := filepath.Join("models", fileName)
	c.manifest.ModelsBySha[modelSha] = relPath

	if hcdf, ok := c.manifest.HCDF[hcdfSha]; ok {
		if hcdf.Models == nil {
			hcdf.Models = map[string]models.CachedModel{}
		}
		hcdf.Models[modelName] = models.CachedModel{
			Href: href, Sha: modelSha, ShortSha: short, Name: modelName, Path: relPath,
		}
		c.manifest.HCDF[hcdfSha] = hcdf
	}

	if err := c.save(); err != nil {
		return "", err
	}
	return path, nil
}

// ModelPath returns the path to a cached model by SHA, joined onto the
// cache's base directory.
func (c *Cache) ModelPath(sha string) (string, bool) {
	rel, ok := c.manifest.ModelsBySha[sha]
	if !ok {
		return "", false
	}
	return filepath.Join(c.baseDir, rel), true
}

// HCDFPath returns the path to a cached HDF document by SHA, joined
// onto the cache's base directory.
func (c *Cache) HCDFPath(sha string) (string, bool) {
	entry, ok := c.manifest.HCDF[sha]
	if !ok {
		return "", false
	}
	return filepath.Join(c.baseDir, entry.Path), true
}

// ReadHCDF returns the cached HDF document's contents by SHA.
func (c *Cache) ReadHCDF(sha string) ([]byte, error) {
	path, ok := c.HCDFPath(sha)
	if !ok {
		return nil, fmt.Errorf("fragment: sha %s not cached", sha)
	}
	return os.ReadFile(path)
}

// Entry returns the manifest's record for an HDF document by SHA.
func (c *Cache) Entry(sha string) (models.CachedHCDF, bool) {
	e, ok := c.manifest.HCDF[sha]
	return e, ok
}
