package hdf

import (
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/pkg/models"
)

// Store mirrors the device registry to a single on-disk HDF document
// (§1: "the registry lives in memory and is mirrored to a single XML
// document on disk"). It serializes all access behind one lock since
// registry events and API reads/writes both touch it concurrently.
type Store struct {
	mu   sync.RWMutex
	path string
	doc  *Document

	logger *zap.Logger
}

// NewStore loads path if it exists, or starts from an empty document
// if the file is missing or fails to parse (a parse failure is logged
// as a warning) -- a parse failure at startup must not prevent the
// daemon from running.
func NewStore(path string, logger *zap.Logger) *Store {
	s := &Store{path: path, logger: logger}

	data, err := os.ReadFile(path)
	if err != nil {
		s.doc = &Document{Version: "1.0"}
		return s
	}

	doc, err := ParseDocument(data)
	if err != nil {
		if logger != nil {
			logger.Warn("failed to parse existing hcdf document, starting empty", zap.String("path", path), zap.Error(err))
		}
		doc = &Document{Version: "1.0"}
	}
	s.doc = doc
	return s
}

// Document returns a snapshot of the current in-memory document.
func (s *Store) Document() Document {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return *s.doc
}

// Marshal serializes the current document to XML.
func (s *Store) Marshal() ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.doc.Marshal()
}

// Replace swaps the entire in-memory document (used by POST /api/hcdf)
// and persists it.
func (s *Store) Replace(doc *Document) error {
	s.mu.Lock()
	s.doc = doc
	s.mu.Unlock()
	return s.save()
}

// ApplyDevice upserts device into the document and persists the result.
func (s *Store) ApplyDevice(device models.Device, parentName *string) error {
	s.mu.Lock()
	UpsertDevice(s.doc, device, parentName)
	s.mu.Unlock()
	return s.save()
}

// RemoveDevice removes hwid's mcu entry, if present, and persists the
// result.
func (s *Store) RemoveDevice(hwid string) error {
	s.mu.Lock()
	removed := s.doc.RemoveByHWID(hwid)
	s.mu.Unlock()
	if !removed {
		return nil
	}
	return s.save()
}

// Prune removes mcu entries whose discovered.last_seen is older than
// timeout and persists the result if anything changed.
func (s *Store) Prune(timeout time.Duration) (int, error) {
	s.mu.Lock()
	removed := RemoveStaleDevices(s.doc, time.Now(), timeout)
	s.mu.Unlock()
	if removed == 0 {
		return 0, nil
	}
	return removed, s.save()
}

// save writes the document to disk via a temp-file-then-rename, same
// durability pattern as the fragment cache's manifest writes.
func (s *Store) save() error {
	s.mu.RLock()
	data, err := s.doc.Marshal()
	s.mu.RUnlock()
	if err != nil {
		return err
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, s.path)
}
