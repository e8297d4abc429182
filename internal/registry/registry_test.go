package registry

import (
	"testing"
	"time"

	"github.com/CogniPilot/dendrite/pkg/models"
)

func newTestDevice(id models.DeviceId, ip string) models.Device {
	return models.Device{
		ID:        id,
		Name:      string(id),
		Status:    models.StatusOnline,
		Discovery: models.Discovery{IP: ip, Port: 1337},
		UpdatedAt: time.Now(),
	}
}

func TestUpsert_EmitsDiscoveredThenUpdated(t *testing.T) {
	r := New(nil)
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	r.Upsert(newTestDevice("dev-1", "10.0.0.1"))
	if ev := <-ch; ev.Type != models.EventDeviceDiscovered {
		t.Fatalf("got %v, want device_discovered", ev.Type)
	}

	r.Upsert(newTestDevice("dev-1", "10.0.0.1"))
	if ev := <-ch; ev.Type != models.EventDeviceUpdated {
		t.Fatalf("got %v, want device_updated", ev.Type)
	}
}

func TestUpdateSilent_EmitsNoEvent(t *testing.T) {
	r := New(nil)
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	r.UpdateSilent(newTestDevice("dev-1", "10.0.0.1"))

	select {
	case ev := <-ch:
		t.Fatalf("expected no event, got %v", ev.Type)
	default:
	}
}

func TestRemove_EmitsDeviceRemoved(t *testing.T) {
	r := New(nil)
	r.Upsert(newTestDevice("dev-1", "10.0.0.1"))
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	if !r.Remove("dev-1") {
		t.Fatal("expected Remove to report found")
	}
	if ev := <-ch; ev.Type != models.EventDeviceRemoved || ev.ID != "dev-1" {
		t.Fatalf("got %+v", ev)
	}
	if r.Remove("dev-1") {
		t.Fatal("second Remove should report not-found")
	}
}

func TestConflictAt(t *testing.T) {
	r := New(nil)
	r.Upsert(newTestDevice("dev-1", "10.0.0.1"))

	id, ok := r.ConflictAt("10.0.0.1", "dev-2")
	if !ok || id != "dev-1" {
		t.Fatalf("ConflictAt = %v,%v want dev-1,true", id, ok)
	}
	if _, ok := r.ConflictAt("10.0.0.1", "dev-1"); ok {
		t.Fatal("excluding the occupant itself should report no conflict")
	}
}

func TestMarkOffline_OnlyFromOnline(t *testing.T) {
	r := New(nil)
	r.Upsert(newTestDevice("dev-1", "10.0.0.1"))
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	if !r.MarkOffline("dev-1") {
		t.Fatal("expected online->offline transition")
	}
	if ev := <-ch; ev.Type != models.EventDeviceOffline {
		t.Fatalf("got %v, want device_offline", ev.Type)
	}
	if r.MarkOffline("dev-1") {
		t.Fatal("already-offline device should not re-transition")
	}
}

func TestSubscribe_LossyUnderPressure(t *testing.T) {
	r := New(nil)
	ch := r.Subscribe()
	defer r.Unsubscribe(ch)

	for i := 0; i < eventCapacity+10; i++ {
		r.Upsert(newTestDevice(models.DeviceId("dev"), "10.0.0.1"))
	}
	// Must not deadlock or panic -- excess events are dropped, not blocked on.
}
