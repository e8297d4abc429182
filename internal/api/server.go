// Package server provides Dendrite's HTTP/WebSocket surface: device
// CRUD, topology, HCDF export, scan/config control, and OTA lifecycle
// endpoints over the in-memory registry and its supporting services.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	httpSwagger "github.com/swaggo/http-swagger/v2"
	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/internal/auth"
	"github.com/CogniPilot/dendrite/internal/config"
	"github.com/CogniPilot/dendrite/internal/discover"
	"github.com/CogniPilot/dendrite/internal/fragment"
	"github.com/CogniPilot/dendrite/internal/hdf"
	"github.com/CogniPilot/dendrite/internal/match"
	"github.com/CogniPilot/dendrite/internal/ota"
	"github.com/CogniPilot/dendrite/internal/registry"
	"github.com/CogniPilot/dendrite/internal/ws"
	"github.com/CogniPilot/dendrite/pkg/models"
)

// ReadinessChecker verifies that the server is ready to serve traffic.
// Returns nil if ready, an error describing why not otherwise.
type ReadinessChecker func(ctx context.Context) error

// Server is Dendrite's HTTP server: device registry CRUD, topology,
// HCDF export, scan/config control, OTA lifecycle, and the /ws
// broadcaster, composed over the daemon's domain services.
type Server struct {
	httpServer *http.Server
	mux        *http.ServeMux
	logger     *zap.Logger
	ready      ReadinessChecker

	cfg      *config.Config
	registry *registry.Registry
	scanner  *discover.Scanner
	cache    *fragment.Cache
	fetcher  *fragment.Fetcher
	matchDB  *match.Database
	ota      *ota.Service
	hdfStore *hdf.Store

	// bgCtx outlives any single HTTP request; OTA runs are started from
	// request handlers but must keep going after the response is sent.
	bgCtx context.Context
}

// New builds a Server wired to the given domain services. validator may
// be nil to disable bearer-token checking. When cfg.DevMode is true,
// Swagger UI is served at /swagger/.
func New(
	cfg *config.Config,
	reg *registry.Registry,
	scanner *discover.Scanner,
	cache *fragment.Cache,
	fetcher *fragment.Fetcher,
	matchDB *match.Database,
	otaSvc *ota.Service,
	hdfStore *hdf.Store,
	validator *auth.Validator,
	wsHandler *ws.Handler,
	logger *zap.Logger,
	ready ReadinessChecker,
) *Server {
	mux := http.NewServeMux()

	s := &Server{
		mux:      mux,
		logger:   logger,
		ready:    ready,
		cfg:      cfg,
		registry: reg,
		scanner:  scanner,
		cache:    cache,
		fetcher:  fetcher,
		matchDB:  matchDB,
		ota:      otaSvc,
		hdfStore: hdfStore,
		bgCtx:    context.Background(),
	}

	s.registerRoutes()
	if wsHandler != nil {
		wsHandler.RegisterRoutes(mux)
	}

	if cfg.DevMode {
		mux.Handle("GET /swagger/", httpSwagger.Handler(
			httpSwagger.URL("/swagger/doc.json"),
		))
		logger.Info("swagger UI enabled (dev_mode)", zap.String("path", "/swagger/"))
	}

	middlewares := []Middleware{
		RecoveryMiddleware(logger),
		RequestIDMiddleware,
		LoggingMiddleware(logger, []string{"/healthz", "/readyz", "/metrics"}),
		SecurityHeadersMiddleware,
		VersionHeaderMiddleware,
		RateLimitMiddleware(100, 200, []string{"/healthz", "/readyz", "/metrics"}),
	}
	if validator != nil {
		middlewares = append(middlewares, auth.Middleware(validator))
	}

	handler := Chain(mux, middlewares...)

	s.httpServer = &http.Server{
		Addr:         cfg.Bind,
		Handler:      handler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// registerRoutes mounts the operational and REST API endpoints.
func (s *Server) registerRoutes() {
	s.mux.HandleFunc("GET /healthz", s.handleHealthz)
	s.mux.HandleFunc("GET /readyz", s.handleReadyz)
	s.mux.Handle("GET /metrics", promhttp.Handler())

	s.mux.HandleFunc("GET /api/devices", s.handleListDevices)
	s.mux.HandleFunc("GET /api/devices/{id}", s.handleGetDevice)
	s.mux.HandleFunc("DELETE /api/devices/{id}", s.handleDeleteDevice)
	s.mux.HandleFunc("POST /api/devices/{id}/query", s.handleQueryDevice)

	s.mux.HandleFunc("GET /api/topology", s.handleTopology)

	s.mux.HandleFunc("GET /api/hcdf", s.handleGetHCDF)
	s.mux.HandleFunc("POST /api/hcdf", s.handlePostHCDF)

	s.mux.HandleFunc("POST /api/scan", s.handleScan)
	s.mux.HandleFunc("GET /api/config", s.handleGetConfig)
	s.mux.HandleFunc("GET /api/interfaces", s.handleInterfaces)
	s.mux.HandleFunc("POST /api/subnet", s.handleSubnet)
	s.mux.HandleFunc("GET /api/heartbeat", s.handleGetHeartbeat)
	s.mux.HandleFunc("POST /api/heartbeat", s.handlePostHeartbeat)

	s.mux.HandleFunc("POST /api/devices/{id}/update", s.handleStartUpdate)
	s.mux.HandleFunc("POST /api/devices/{id}/update/local", s.handleStartLocalUpdate)
	s.mux.HandleFunc("GET /api/devices/{id}/update", s.handleGetUpdate)
	s.mux.HandleFunc("POST /api/devices/{id}/update/cancel", s.handleCancelUpdate)
	s.mux.HandleFunc("GET /api/updates", s.handleListUpdates)
}

// Start runs the deep-scan/heartbeat loop, the registry-to-HCDF mirror,
// and the HTTP server, all tied to ctx. It blocks until the server
// stops (either ctx cancellation or a listener error).
func (s *Server) Start(ctx context.Context) error {
	s.bgCtx = ctx
	go s.scanner.Run(ctx)
	go s.mirrorToHDF(ctx)

	s.logger.Info("starting HTTP server", zap.String("addr", s.httpServer.Addr))
	if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("http server error: %w", err)
	}
	return nil
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down HTTP server")
	return s.httpServer.Shutdown(ctx)
}

// mirrorToHDF keeps the on-disk HCDF document in sync with every
// registry mutation, satisfying the "registry lives in memory, mirrored
// to a single XML document on disk" contract independent of any single
// request path.
func (s *Server) mirrorToHDF(ctx context.Context) {
	ch := s.registry.Subscribe()
	defer s.registry.Unsubscribe(ch)

	var parentName *string
	if s.scanner.Config().Parent != nil {
		name := s.scanner.Config().Parent.Name
		parentName = &name
	}

	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			switch ev.Type {
			case models.EventDeviceDiscovered, models.EventDeviceUpdated:
				if ev.Device == nil {
					continue
				}
				if err := s.hdfStore.ApplyDevice(*ev.Device, parentName); err != nil {
					s.logger.Warn("hdf mirror: apply device failed", zap.Error(err))
				}
			case models.EventDeviceRemoved:
				if err := s.hdfStore.RemoveDevice(string(ev.ID)); err != nil {
					s.logger.Warn("hdf mirror: remove device failed", zap.Error(err))
				}
			}
		}
	}
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "alive"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")

	if s.ready != nil {
		if err := s.ready(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_ = json.NewEncoder(w).Encode(map[string]string{
				"status": "not ready",
				"error":  err.Error(),
			})
			return
		}
	}

	_ = json.NewEncoder(w).Encode(map[string]string{"status": "ready"})
}
