package server

import (
	"io"
	"net/http"

	"github.com/CogniPilot/dendrite/internal/hdf"
)

func (s *Server) handleGetHCDF(w http.ResponseWriter, _ *http.Request) {
	data, err := s.hdfStore.Marshal()
	if err != nil {
		InternalError(w, "failed to marshal hcdf document")
		return
	}
	w.Header().Set("Content-Type", "application/xml")
	_, _ = w.Write(data)
}

func (s *Server) handlePostHCDF(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 16<<20))
	if err != nil {
		BadRequest(w, "failed to read request body")
		return
	}

	doc, err := hdf.ParseDocument(body)
	if err != nil {
		BadRequest(w, "invalid hcdf document: "+err.Error())
		return
	}

	if err := s.hdfStore.Replace(doc); err != nil {
		InternalError(w, "failed to persist hcdf document")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
