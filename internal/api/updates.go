package server

import (
	"io"
	"net/http"
	"strings"

	"github.com/CogniPilot/dendrite/internal/fwmp"
	"github.com/CogniPilot/dendrite/pkg/models"
)

// startUpdateRequest is the body for POST /api/devices/{id}/update.
type startUpdateRequest struct {
	FirmwareManifestURI string `json:"firmware_manifest_uri"`
}

// boardApp resolves the board/app pair a device last reported, used to
// look up the right firmware manifest or fragment.
func boardApp(device models.Device) (board, app string) {
	if device.Info.Board != nil {
		board = *device.Info.Board
	}
	var banner string
	if device.Info.OSName != nil {
		banner = *device.Info.OSName
	}
	app, _ = fwmp.ParseOSInfoBanner(banner)
	return board, app
}

// handleStartUpdate begins a manifest-driven firmware update. The
// update itself runs on the server's background context so it
// survives past this request's response.
func (s *Server) handleStartUpdate(w http.ResponseWriter, r *http.Request) {
	id := models.DeviceId(r.PathValue("id"))
	device, ok := s.registry.Get(id)
	if !ok {
		NotFound(w, "device not found")
		return
	}

	var req startUpdateRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}

	board, app := boardApp(device)
	if err := s.ota.StartUpdate(s.bgCtx, id, device.Discovery.IP, board, app, req.FirmwareManifestURI); err != nil {
		WriteError(w, http.StatusConflict, err.Error(), "UPDATE_IN_PROGRESS")
		return
	}

	state, _ := s.ota.GetState(id)
	writeJSON(w, http.StatusAccepted, state)
}

// handleStartLocalUpdate begins a firmware update from a caller-
// supplied MCUboot binary, bypassing manifest resolution.
func (s *Server) handleStartLocalUpdate(w http.ResponseWriter, r *http.Request) {
	id := models.DeviceId(r.PathValue("id"))
	device, ok := s.registry.Get(id)
	if !ok {
		NotFound(w, "device not found")
		return
	}

	data, err := io.ReadAll(io.LimitReader(r.Body, 8<<20))
	if err != nil {
		BadRequest(w, "failed to read firmware image")
		return
	}
	if len(data) == 0 {
		BadRequest(w, "empty firmware image")
		return
	}

	if err := s.ota.UploadLocalFirmware(s.bgCtx, id, device.Discovery.IP, data); err != nil {
		status, code := http.StatusConflict, "UPDATE_IN_PROGRESS"
		if strings.Contains(err.Error(), "invalid firmware image") {
			status, code = http.StatusBadRequest, "INVALID_FIRMWARE"
		}
		WriteError(w, status, err.Error(), code)
		return
	}

	state, _ := s.ota.GetState(id)
	writeJSON(w, http.StatusAccepted, state)
}

func (s *Server) handleGetUpdate(w http.ResponseWriter, r *http.Request) {
	id := models.DeviceId(r.PathValue("id"))
	state, ok := s.ota.GetState(id)
	if !ok {
		NotFound(w, "no update found for device")
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleCancelUpdate(w http.ResponseWriter, r *http.Request) {
	id := models.DeviceId(r.PathValue("id"))
	if _, ok := s.ota.GetState(id); !ok {
		NotFound(w, "no update found for device")
		return
	}
	s.ota.CancelUpdate(id)
	state, _ := s.ota.GetState(id)
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) handleListUpdates(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.ota.ListUpdates())
}
