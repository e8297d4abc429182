// Package ota runs firmware update pipelines against discovered
// devices: download, upload over FWMP, confirm, reboot, verify.
package ota

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/internal/firmware"
	"github.com/CogniPilot/dendrite/internal/fwmp"
	"github.com/CogniPilot/dendrite/internal/registry"
	"github.com/CogniPilot/dendrite/pkg/models"
)

// fwmpPort is the FWMP listener port on every managed device.
const fwmpPort = 1337

// uploadMTU bounds the per-chunk payload size for image uploads.
const uploadMTU = 512

// controlMTU bounds list/test/reset request sizes.
const controlMTU = 1024

const (
	uploadTimeout  = 10 * time.Second
	controlTimeout = 5 * time.Second
	verifyTimeout  = 2 * time.Second
	rebootGrace    = 5 * time.Second
	verifyInterval = 2 * time.Second
	verifyAttempts = 10
)

// info tracks one device's in-flight (or last-completed) update.
type info struct {
	deviceID models.DeviceId
	ip       string
	board    string
	app      string
	state    models.UpdateState
}

// Service runs and tracks firmware updates for any number of devices
// concurrently, one goroutine per active update.
type Service struct {
	firmware *firmware.Fetcher
	registry *registry.Registry
	logger   *zap.Logger

	mu      sync.Mutex
	updates map[models.DeviceId]*info
}

// New returns a Service backed by fetcher for manifests/binaries and
// reg for publishing ota_progress events.
func New(fetcher *firmware.Fetcher, reg *registry.Registry, logger *zap.Logger) *Service {
	return &Service{
		firmware: fetcher,
		registry: reg,
		logger:   logger,
		updates:  make(map[models.DeviceId]*info),
	}
}

// GetState returns the current update state for a device, if any.
func (s *Service) GetState(deviceID models.DeviceId) (models.UpdateState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.updates[deviceID]
	if !ok {
		return models.UpdateState{}, false
	}
	return in.state, true
}

// ListUpdates returns every tracked update's current state.
func (s *Service) ListUpdates() map[models.DeviceId]models.UpdateState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[models.DeviceId]models.UpdateState, len(s.updates))
	for id, in := range s.updates {
		out[id] = in.state
	}
	return out
}

// CancelUpdate marks an in-progress update cancelled. The running
// goroutine observes this at its next cancellation checkpoint and
// stops without transitioning further.
func (s *Service) CancelUpdate(deviceID models.DeviceId) {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.updates[deviceID]
	if !ok || in.state.IsTerminal() {
		return
	}
	in.state = models.UpdateState{Phase: models.PhaseCancelled}
	s.publish(deviceID, in.state)
}

// StartUpdate begins a firmware update for a device, downloading from
// the manifest at firmwareManifestURI. It returns an error without
// starting a new run if an update is already in progress. The update
// itself runs asynchronously; progress is observed via GetState or the
// registry's event channel.
func (s *Service) StartUpdate(ctx context.Context, deviceID models.DeviceId, ip, board, app, firmwareManifestURI string) error {
	if err := s.beginTracking(deviceID, ip, board, app, models.UpdateState{Phase: models.PhaseDownloading}); err != nil {
		return err
	}

	go s.run(ctx, deviceID, ip, board, app, firmwareManifestURI)
	return nil
}

// UploadLocalFirmware uploads a caller-supplied MCUboot binary
// directly, skipping the download/manifest phases — used for
// development and manual recovery flows.
func (s *Service) UploadLocalFirmware(ctx context.Context, deviceID models.DeviceId, ip string, data []byte) error {
	if _, err := firmware.McubootHash(data); err != nil {
		return fmt.Errorf("ota: invalid firmware image: %w", err)
	}
	if err := s.beginTracking(deviceID, ip, "local", "local", models.UpdateState{Phase: models.PhaseUploading}); err != nil {
		return err
	}

	go s.runLocalUpload(ctx, deviceID, ip, data)
	return nil
}

func (s *Service) beginTracking(deviceID models.DeviceId, ip, board, app string, initial models.UpdateState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if existing, ok := s.updates[deviceID]; ok && !existing.state.IsTerminal() {
		return fmt.Errorf("ota: update already in progress for device %s", deviceID)
	}
	s.updates[deviceID] = &info{deviceID: deviceID, ip: ip, board: board, app: app, state: initial}
	s.publish(deviceID, initial)
	return nil
}

func (s *Service) setState(deviceID models.DeviceId, state models.UpdateState) {
	s.mu.Lock()
	in, ok := s.updates[deviceID]
	if ok && in.state.Phase == models.PhaseCancelled {
		s.mu.Unlock()
		return
	}
	if ok {
		in.state = state
	}
	s.mu.Unlock()
	s.publish(deviceID, state)
}

func (s *Service) isCancelled(deviceID models.DeviceId) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	in, ok := s.updates[deviceID]
	return ok && in.state.Phase == models.PhaseCancelled
}

func (s *Service) publish(deviceID models.DeviceId, state models.UpdateState) {
	if s.registry != nil {
		s.registry.PublishOTA(models.OTAEvent{DeviceID: deviceID, State: state})
	}
}

func (s *Service) fail(deviceID models.DeviceId, err error) {
	if s.logger != nil {
		s.logger.Error("ota update failed", zap.String("device_id", string(deviceID)), zap.Error(err))
	}
	s.setState(deviceID, models.UpdateState{Phase: models.PhaseFailed, Error: err.Error()})
}

// run drives the full downloading -> uploading -> confirming ->
// rebooting -> verifying -> complete pipeline for one device.
func (s *Service) run(ctx context.Context, deviceID models.DeviceId, ip, board, app, firmwareManifestURI string) {
	if firmwareManifestURI == "" {
		s.fail(deviceID, fmt.Errorf("no firmware_manifest_uri configured for %s/%s", board, app))
		return
	}

	manifest, err := s.firmware.GetManifest(ctx, board, app, firmwareManifestURI)
	if err != nil {
		s.fail(deviceID, err)
		return
	}
	if manifest == nil {
		s.fail(deviceID, fmt.Errorf("no firmware manifest found for %s/%s", board, app))
		return
	}
	if s.isCancelled(deviceID) {
		return
	}

	s.setState(deviceID, models.UpdateState{Phase: models.PhaseDownloading, Progress: 0})
	data, err := s.firmware.DownloadFirmware(ctx, manifest.Latest)
	if err != nil {
		s.fail(deviceID, err)
		return
	}
	if s.isCancelled(deviceID) {
		return
	}

	if err := s.uploadAndConfirm(ctx, deviceID, ip, data); err != nil {
		s.fail(deviceID, err)
		return
	}
	if s.isCancelled(deviceID) {
		return
	}

	s.verifyAndComplete(ctx, deviceID, ip, manifest.Latest.McubootHash)
}

// runLocalUpload mirrors run but skips the manifest/download phases,
// using a caller-provided binary and not requiring an expected hash
// for post-reboot verification (local-upload accepts "confirmed").
func (s *Service) runLocalUpload(ctx context.Context, deviceID models.DeviceId, ip string, data []byte) {
	if err := s.uploadAndConfirm(ctx, deviceID, ip, data); err != nil {
		s.fail(deviceID, err)
		return
	}
	if s.isCancelled(deviceID) {
		return
	}
	s.verifyAndComplete(ctx, deviceID, ip, "")
}

// uploadAndConfirm uploads data over FWMP, marks the pending image
// for test-on-next-boot, and resets the device.
func (s *Service) uploadAndConfirm(ctx context.Context, deviceID models.DeviceId, ip string, data []byte) error {
	s.setState(deviceID, models.UpdateState{Phase: models.PhaseUploading, Progress: 0})

	uploadT, err := fwmp.Dial(ip, fwmpPort)
	if err != nil {
		return fmt.Errorf("connect for upload: %w", err)
	}
	defer uploadT.Close()

	err = fwmp.UploadImage(uploadT, data, uploadMTU, func(uploaded, total int) {
		progress := float32(0)
		if total > 0 {
			progress = float32(uploaded) / float32(total)
		}
		s.setState(deviceID, models.UpdateState{Phase: models.PhaseUploading, Progress: progress})
	})
	if err != nil {
		return fmt.Errorf("upload image: %w", err)
	}
	if s.isCancelled(deviceID) {
		return nil
	}

	s.setState(deviceID, models.UpdateState{Phase: models.PhaseConfirming})

	confirmT, err := fwmp.Dial(ip, fwmpPort)
	if err != nil {
		return fmt.Errorf("connect for confirm: %w", err)
	}
	defer confirmT.Close()

	images, err := fwmp.ImageState(confirmT, controlTimeout)
	if err != nil {
		return fmt.Errorf("query image state: %w", err)
	}
	var pending *models.ImageSlot
	for i, img := range images {
		if !img.Confirmed && !img.Active {
			pending = &images[i]
			break
		}
	}
	if pending == nil {
		return fmt.Errorf("no pending image found after upload")
	}
	if err := fwmp.ImageTest(confirmT, pending.Hash, controlTimeout); err != nil {
		return fmt.Errorf("mark image pending test: %w", err)
	}
	if s.isCancelled(deviceID) {
		return nil
	}

	s.setState(deviceID, models.UpdateState{Phase: models.PhaseRebooting})
	resetT, err := fwmp.Dial(ip, fwmpPort)
	if err != nil {
		return fmt.Errorf("connect for reset: %w", err)
	}
	defer resetT.Close()
	if err := fwmp.Reset(resetT, controlTimeout); err != nil {
		return fmt.Errorf("reset device: %w", err)
	}
	return nil
}

// verifyAndComplete waits for the device to reboot, then polls up to
// verifyAttempts times for a confirmed active image whose hash matches
// expectedHash (when non-empty). It always ends in PhaseComplete:
// failure to verify is logged, not reported as a failed update, since
// the device may still be running the new image.
func (s *Service) verifyAndComplete(ctx context.Context, deviceID models.DeviceId, ip, expectedHash string) {
	s.setState(deviceID, models.UpdateState{Phase: models.PhaseVerifying})

	select {
	case <-time.After(rebootGrace):
	case <-ctx.Done():
		return
	}

	verified := false
	for attempt := 0; attempt < verifyAttempts; attempt++ {
		select {
		case <-time.After(verifyInterval):
		case <-ctx.Done():
			return
		}
		if s.isCancelled(deviceID) {
			return
		}

		ok, err := s.checkActiveImage(ip, expectedHash)
		if err != nil {
			if s.logger != nil {
				s.logger.Debug("verify attempt failed", zap.Int("attempt", attempt+1), zap.Error(err))
			}
			continue
		}
		if ok {
			verified = true
			break
		}
	}

	if !verified && s.logger != nil {
		s.logger.Warn("could not verify firmware update, device may still be running new image",
			zap.String("device_id", string(deviceID)))
	}

	s.setState(deviceID, models.UpdateState{Phase: models.PhaseComplete})
}

// checkActiveImage reports whether the device's currently active image
// is confirmed and (when expectedHash is set) matches it by MCUboot
// hash. An empty expectedHash accepts any confirmed active image,
// matching the local-upload verification contract.
func (s *Service) checkActiveImage(ip, expectedHash string) (bool, error) {
	t, err := fwmp.Dial(ip, fwmpPort)
	if err != nil {
		return false, err
	}
	defer t.Close()

	images, err := fwmp.ImageState(t, verifyTimeout)
	if err != nil {
		return false, err
	}
	var active *models.ImageSlot
	for i, img := range images {
		if img.Active {
			active = &images[i]
			break
		}
	}
	if active == nil {
		return false, fmt.Errorf("no active image found")
	}
	if !active.Confirmed {
		return false, nil
	}
	if expectedHash == "" {
		return true, nil
	}
	return firmware.VerifyImageHash(strPtr(fwmp.ImageHashHex(active.Hash)), expectedHash), nil
}

func strPtr(s string) *string { return &s }
