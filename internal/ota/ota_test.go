package ota

import (
	"context"
	"testing"
	"time"

	"github.com/CogniPilot/dendrite/internal/firmware"
	"github.com/CogniPilot/dendrite/internal/registry"
	"github.com/CogniPilot/dendrite/pkg/models"
)

func newTestService() *Service {
	return New(firmware.NewFetcher(), registry.New(nil), nil)
}

func TestStartUpdate_RejectsWhileInProgress(t *testing.T) {
	s := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.StartUpdate(ctx, "dev-1", "127.0.0.1", "navq95", "optical-flow", "https://example.invalid"); err != nil {
		t.Fatalf("first StartUpdate: %v", err)
	}
	if err := s.StartUpdate(ctx, "dev-1", "127.0.0.1", "navq95", "optical-flow", "https://example.invalid"); err == nil {
		t.Fatal("expected second StartUpdate to be rejected while in progress")
	}
}

func TestStartUpdate_InitialStateIsDownloading(t *testing.T) {
	s := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.StartUpdate(ctx, "dev-1", "127.0.0.1", "navq95", "optical-flow", "https://example.invalid"); err != nil {
		t.Fatalf("StartUpdate: %v", err)
	}
	state, ok := s.GetState("dev-1")
	if !ok || state.Phase != models.PhaseDownloading {
		t.Errorf("state = %+v, ok=%v", state, ok)
	}
}

func TestCancelUpdate_MarksCancelledAndUnblocksRestart(t *testing.T) {
	s := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := s.StartUpdate(ctx, "dev-1", "127.0.0.1", "navq95", "optical-flow", "https://example.invalid"); err != nil {
		t.Fatalf("StartUpdate: %v", err)
	}
	s.CancelUpdate("dev-1")

	state, ok := s.GetState("dev-1")
	if !ok || state.Phase != models.PhaseCancelled {
		t.Fatalf("state = %+v, ok=%v", state, ok)
	}
	if !state.IsTerminal() {
		t.Error("expected cancelled to be terminal")
	}

	if err := s.StartUpdate(ctx, "dev-1", "127.0.0.1", "navq95", "optical-flow", "https://example.invalid"); err != nil {
		t.Errorf("expected restart after cancel to succeed, got %v", err)
	}
}

func TestCancelUpdate_NoOpWhenNotTracked(t *testing.T) {
	s := newTestService()
	s.CancelUpdate("unknown")
	if _, ok := s.GetState("unknown"); ok {
		t.Error("expected no state created for unknown device")
	}
}

func TestUploadLocalFirmware_RejectsNonMcubootImage(t *testing.T) {
	s := newTestService()
	err := s.UploadLocalFirmware(context.Background(), "dev-1", "127.0.0.1", []byte("not-a-firmware-image"))
	if err == nil {
		t.Fatal("expected error for non-MCUboot image")
	}
}

func TestListUpdates_ReflectsTrackedDevices(t *testing.T) {
	s := newTestService()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	s.StartUpdate(ctx, "dev-1", "127.0.0.1", "navq95", "optical-flow", "https://example.invalid")
	s.StartUpdate(ctx, "dev-2", "127.0.0.1", "navq95", "optical-flow", "https://example.invalid")

	updates := s.ListUpdates()
	if len(updates) != 2 {
		t.Fatalf("got %d updates, want 2", len(updates))
	}

	time.Sleep(10 * time.Millisecond)
}
