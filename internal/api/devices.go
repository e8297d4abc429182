package server

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/internal/fwmp"
	"github.com/CogniPilot/dendrite/pkg/models"
)

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	id := models.DeviceId(r.PathValue("id"))
	device, ok := s.registry.Get(id)
	if !ok {
		NotFound(w, "device not found")
		return
	}
	writeJSON(w, http.StatusOK, device)
}

func (s *Server) handleDeleteDevice(w http.ResponseWriter, r *http.Request) {
	id := models.DeviceId(r.PathValue("id"))
	if !s.registry.Remove(id) {
		NotFound(w, "device not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// handleQueryDevice re-probes a device over FWMP, updates its registry
// entry, and opportunistically fetches its hardware-description
// fragment and model assignment.
func (s *Server) handleQueryDevice(w http.ResponseWriter, r *http.Request) {
	id := models.DeviceId(r.PathValue("id"))

	device, query, err := s.scanner.QueryOne(r.Context(), id)
	if err != nil {
		WriteError(w, http.StatusServiceUnavailable, "Query failed: "+err.Error(), "QUERY_FAILED")
		return
	}

	s.enrichDevice(r.Context(), &device, query)
	writeJSON(w, http.StatusOK, device)
}

// enrichDevice assigns a model path via the fragment matcher and
// fetches the device's HCDF fragment into the cache, from the URL the
// device advertised or, when it advertised none, from the board/app
// URL the fetcher builds. The enriched device is re-upserted so subscribers (WS, HCDF
// mirror) see the result.
func (s *Server) enrichDevice(ctx context.Context, device *models.Device, query *fwmp.DeviceQuery) {
	var board, banner string
	if device.Info.Board != nil {
		board = *device.Info.Board
	}
	if device.Info.OSName != nil {
		banner = *device.Info.OSName
	}
	app, _ := fwmp.ParseOSInfoBanner(banner)

	if s.matchDB != nil && board != "" && app != "" {
		if model, ok := s.matchDB.GetModel(board, app); ok {
			device.ModelPath = &model
		}
	}

	if s.fetcher != nil && query != nil {
		deviceURL := query.HCDFUrl
		if _, err := s.fetcher.FetchFragment(ctx, board, app, deviceURL, query.HCDFSha); err != nil {
			s.logger.Warn("fragment fetch failed",
				zap.String("device", string(device.ID)),
				zap.String("board", board),
				zap.String("app", app),
				zap.Error(err),
			)
		}
	}

	s.registry.Upsert(*device)
}
