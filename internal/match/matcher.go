// Package match implements the fragment index: a board/app -> model
// template lookup with priority and wildcard scoring.
package match

import (
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/pelletier/go-toml/v2"
)

// Fragment is a single board/app -> model template entry.
type Fragment struct {
	Board       string  `toml:"board"`
	App         string  `toml:"app"`
	Model       string  `toml:"model"`
	Description string  `toml:"description,omitempty"`
	Mass        float64 `toml:"mass,omitempty"`
	Priority    int     `toml:"priority"`
}

// Index is the on-disk fragment index.
type Index struct {
	Version  string     `toml:"version"`
	Fragment []Fragment `toml:"fragment"`
}

// LoadIndexFile reads and parses a fragment index from path.
func LoadIndexFile(path string) (*Index, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("match: read index %s: %w", path, err)
	}
	return ParseIndex(data)
}

// ParseIndex parses a fragment index from TOML content.
func ParseIndex(data []byte) (*Index, error) {
	var idx Index
	if err := toml.Unmarshal(data, &idx); err != nil {
		return nil, fmt.Errorf("match: parse index: %w", err)
	}
	if idx.Version == "" {
		idx.Version = "1.0"
	}
	return &idx, nil
}

// exactAppBonus outweighs any plausible priority spread so an exact
// app match always beats a wildcard at the same board.
const exactAppBonus = 1000

// FindMatch returns the highest-scoring fragment for board/app.
// Matching is case-insensitive; an app of "*" is a wildcard. Among
// fragments for the same board, an exact app match always outranks a
// wildcard; ties within the same match kind are broken by Priority.
func (idx *Index) FindMatch(board, app string) (Fragment, bool) {
	var best Fragment
	bestScore := -1 << 31
	found := false

	for _, f := range idx.Fragment {
		if !strings.EqualFold(f.Board, board) {
			continue
		}
		isExact := strings.EqualFold(f.App, app)
		isWildcard := f.App == "*"
		if !isExact && !isWildcard {
			continue
		}

		score := f.Priority
		if isExact {
			score += exactAppBonus
		}
		if score > bestScore {
			bestScore = score
			best = f
			found = true
		}
	}
	return best, found
}

// GetModel returns the model path for the best-matching fragment, if
// any.
func (idx *Index) GetModel(board, app string) (string, bool) {
	f, ok := idx.FindMatch(board, app)
	if !ok {
		return "", false
	}
	return f.Model, true
}

// Add appends a new fragment entry to the index.
func (idx *Index) Add(f Fragment) {
	idx.Fragment = append(idx.Fragment, f)
}

// cacheKey is a lowercased (board, app) pair.
type cacheKey struct{ board, app string }

// Database wraps an Index with a lookup cache, reloadable from disk.
type Database struct {
	mu    sync.RWMutex
	index *Index
	cache map[cacheKey]string
}

// NewDatabase wraps idx in a Database with an empty lookup cache.
func NewDatabase(idx *Index) *Database {
	return &Database{index: idx, cache: map[cacheKey]string{}}
}

// EmptyDatabase returns a Database with no fragments.
func EmptyDatabase() *Database {
	return NewDatabase(&Index{Version: "1.0"})
}

// GetModel returns the cached (or freshly computed) model path for
// board/app.
func (d *Database) GetModel(board, app string) (string, bool) {
	key := cacheKey{strings.ToLower(board), strings.ToLower(app)}

	d.mu.RLock()
	if model, ok := d.cache[key]; ok {
		d.mu.RUnlock()
		return model, model != ""
	}
	d.mu.RUnlock()

	model, ok := d.index.GetModel(board, app)
	d.mu.Lock()
	d.cache[key] = model
	d.mu.Unlock()
	return model, ok
}

// FindFragment returns the full matching fragment, bypassing the
// model-path cache.
func (d *Database) FindFragment(board, app string) (Fragment, bool) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.index.FindMatch(board, app)
}

// Reload re-reads the index from path and clears the lookup cache.
func (d *Database) Reload(path string) error {
	idx, err := LoadIndexFile(path)
	if err != nil {
		return err
	}
	d.mu.Lock()
	d.index = idx
	d.cache = map[cacheKey]string{}
	d.mu.Unlock()
	return nil
}
