package hdf

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/CogniPilot/dendrite/pkg/models"
)

func TestNewStore_MissingFileStartsEmpty(t *testing.T) {
	s := NewStore(filepath.Join(t.TempDir(), "missing.hcdf"), nil)
	doc := s.Document()
	if len(doc.Mcu) != 0 {
		t.Errorf("expected empty document, got %d mcu entries", len(doc.Mcu))
	}
}

func TestNewStore_InvalidFileStartsEmptyWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.hcdf")
	if err := os.WriteFile(path, []byte("not xml"), 0o644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	s := NewStore(path, nil)
	doc := s.Document()
	if len(doc.Mcu) != 0 {
		t.Errorf("expected empty document after parse failure, got %d entries", len(doc.Mcu))
	}
}

func TestStore_ApplyDevicePersists(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.hcdf")
	s := NewStore(path, nil)

	device := models.Device{
		ID:   "hwid-1",
		Name: "optical-flow",
		Discovery: models.Discovery{
			IP:       "10.0.0.5",
			LastSeen: time.Now(),
		},
	}
	if err := s.ApplyDevice(device, nil); err != nil {
		t.Fatalf("ApplyDevice: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile: %v", err)
	}
	reloaded, err := ParseDocument(data)
	if err != nil {
		t.Fatalf("ParseDocument: %v", err)
	}
	if _, ok := reloaded.FindByHWID("hwid-1"); !ok {
		t.Error("expected persisted document to contain hwid-1")
	}
}

func TestStore_RemoveDevice(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.hcdf")
	s := NewStore(path, nil)

	device := models.Device{ID: "hwid-1", Discovery: models.Discovery{IP: "10.0.0.5"}}
	if err := s.ApplyDevice(device, nil); err != nil {
		t.Fatalf("ApplyDevice: %v", err)
	}
	if err := s.RemoveDevice("hwid-1"); err != nil {
		t.Fatalf("RemoveDevice: %v", err)
	}

	doc := s.Document()
	if _, ok := doc.FindByHWID("hwid-1"); ok {
		t.Error("expected hwid-1 to be removed")
	}
}

func TestStore_Prune(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.hcdf")
	s := NewStore(path, nil)

	stale := models.Device{ID: "stale", Discovery: models.Discovery{IP: "10.0.0.1", LastSeen: time.Now().Add(-time.Hour)}}
	fresh := models.Device{ID: "fresh", Discovery: models.Discovery{IP: "10.0.0.2", LastSeen: time.Now()}}
	if err := s.ApplyDevice(stale, nil); err != nil {
		t.Fatalf("ApplyDevice stale: %v", err)
	}
	if err := s.ApplyDevice(fresh, nil); err != nil {
		t.Fatalf("ApplyDevice fresh: %v", err)
	}

	removed, err := s.Prune(time.Minute)
	if err != nil {
		t.Fatalf("Prune: %v", err)
	}
	if removed != 1 {
		t.Errorf("removed = %d, want 1", removed)
	}

	doc := s.Document()
	if _, ok := doc.FindByHWID("stale"); ok {
		t.Error("expected stale entry pruned")
	}
	if _, ok := doc.FindByHWID("fresh"); !ok {
		t.Error("expected fresh entry to remain")
	}
}

func TestStore_Replace(t *testing.T) {
	path := filepath.Join(t.TempDir(), "devices.hcdf")
	s := NewStore(path, nil)

	newDoc := &Document{Version: "1.0", Mcu: []Mcu{{Name: "m1", HWID: "m1"}}}
	if err := s.Replace(newDoc); err != nil {
		t.Fatalf("Replace: %v", err)
	}

	doc := s.Document()
	if len(doc.Mcu) != 1 || doc.Mcu[0].HWID != "m1" {
		t.Errorf("doc = %+v", doc)
	}
}
