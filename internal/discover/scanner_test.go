package discover

import (
	"testing"

	"github.com/CogniPilot/dendrite/internal/registry"
	"github.com/CogniPilot/dendrite/pkg/models"
)

func newDevice(id models.DeviceId, ip string) models.Device {
	return models.Device{ID: id, Status: models.StatusOnline, Discovery: models.Discovery{IP: ip, Port: 1337}}
}

func TestReconcile_NoConflict_Upserts(t *testing.T) {
	reg := registry.New(nil)
	s := &Scanner{registry: reg}
	seen := map[models.DeviceId]bool{}

	s.reconcile(newDevice("dev-1", "10.0.0.1"), seen)

	if _, ok := reg.Get("dev-1"); !ok {
		t.Fatal("expected dev-1 to be registered")
	}
	if !seen["dev-1"] {
		t.Fatal("expected dev-1 marked seen")
	}
}

func TestReconcile_TempIDPromotedToRealID(t *testing.T) {
	reg := registry.New(nil)
	reg.Upsert(newDevice("temp-abc123", "10.0.0.5"))

	s := &Scanner{registry: reg}
	seen := map[models.DeviceId]bool{}

	s.reconcile(newDevice("real-hwid-1", "10.0.0.5"), seen)

	if _, ok := reg.Get("temp-abc123"); ok {
		t.Fatal("expected temp id to be removed")
	}
	if _, ok := reg.Get("real-hwid-1"); !ok {
		t.Fatal("expected real id to be registered")
	}
	if !seen["real-hwid-1"] {
		t.Fatal("expected real id marked seen")
	}
}

func TestReconcile_TempIDIgnoredWhenRealIDAlreadyPresent(t *testing.T) {
	reg := registry.New(nil)
	reg.Upsert(newDevice("real-hwid-1", "10.0.0.5"))
	reg.MarkOffline("real-hwid-1")

	s := &Scanner{registry: reg}
	seen := map[models.DeviceId]bool{}

	s.reconcile(newDevice("temp-xyz", "10.0.0.5"), seen)

	if _, ok := reg.Get("temp-xyz"); ok {
		t.Fatal("temp id should not be registered")
	}
	d, ok := reg.Get("real-hwid-1")
	if !ok || d.Status != models.StatusOnline {
		t.Fatalf("expected real-hwid-1 refreshed online, got %+v ok=%v", d, ok)
	}
	if !seen["real-hwid-1"] {
		t.Fatal("expected real-hwid-1 marked seen")
	}
}

func TestReconcile_BothRealDifferent_StillUpserts(t *testing.T) {
	reg := registry.New(nil)
	reg.Upsert(newDevice("real-a", "10.0.0.5"))

	s := &Scanner{registry: reg}
	seen := map[models.DeviceId]bool{}

	s.reconcile(newDevice("real-b", "10.0.0.5"), seen)

	if _, ok := reg.Get("real-b"); !ok {
		t.Fatal("expected real-b to be upserted despite conflict")
	}
	// Invariant 2: at most one device should claim this IP going forward
	// in the ip index once the scan finishes processing real-b.
	if id, ok := reg.ConflictAt("10.0.0.5", "real-a"); !ok || id != "real-b" {
		t.Fatalf("expected real-b to be the ip-index occupant after the upsert, got %v,%v", id, ok)
	}
}
