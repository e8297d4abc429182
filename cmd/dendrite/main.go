package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/internal/auth"
	"github.com/CogniPilot/dendrite/internal/config"
	"github.com/CogniPilot/dendrite/internal/discover"
	"github.com/CogniPilot/dendrite/internal/firmware"
	"github.com/CogniPilot/dendrite/internal/fragment"
	server "github.com/CogniPilot/dendrite/internal/api"
	"github.com/CogniPilot/dendrite/internal/hdf"
	"github.com/CogniPilot/dendrite/internal/match"
	"github.com/CogniPilot/dendrite/internal/ota"
	"github.com/CogniPilot/dendrite/internal/registry"
	"github.com/CogniPilot/dendrite/internal/ws"
)

// version is set at build time via -ldflags; "dev" otherwise.
var version = "dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "version" {
		fmt.Println("dendrite " + version)
		return
	}

	configPath := flag.String("config", "dendrite.toml", "path to configuration file")
	bind := flag.String("bind", "", "override the configured listen address (host:port)")
	logLevel := flag.String("log-level", "", "override the configured log level")
	scanOnce := flag.Bool("scan-once", false, "run a single deep scan and exit, without starting the HTTP server")
	flag.Parse()

	cfg, v, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	if *bind != "" {
		cfg.Bind = *bind
	}
	if *logLevel != "" {
		v.Set("logging.level", *logLevel)
	}

	logger, err := config.NewLogger(v)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("dendrite starting", zap.String("version", version), zap.String("config", *configPath))

	reg := registry.New(logger.Named("registry"))
	scanner := discover.New(cfg.Scan, reg, logger.Named("discover"))

	cache, err := fragment.Open(cfg.CacheDir)
	if err != nil {
		logger.Fatal("failed to open fragment cache", zap.Error(err), zap.String("cache_dir", cfg.CacheDir))
	}
	fetcher := fragment.NewFetcher(cache, logger.Named("fragment"))

	matchDB := match.EmptyDatabase()
	if idxPath := v.GetString("match.index_path"); idxPath != "" {
		idx, err := match.LoadIndexFile(idxPath)
		if err != nil {
			logger.Warn("failed to load fragment match index, starting empty", zap.Error(err), zap.String("path", idxPath))
		} else {
			matchDB = match.NewDatabase(idx)
		}
	}

	firmwareFetcher := firmware.NewFetcher()
	otaSvc := ota.New(firmwareFetcher, reg, logger.Named("ota"))

	hdfStore := hdf.NewStore(cfg.HCDFPath, logger.Named("hdf"))

	if *scanOnce {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
		defer cancel()
		found, err := scanner.ScanOnce(ctx)
		if err != nil {
			logger.Fatal("scan failed", zap.Error(err))
		}
		logger.Info("scan complete", zap.Int("devices_found", found))
		return
	}

	var validator *auth.Validator
	if cfg.Auth.Enabled {
		validator = auth.NewValidator(cfg.Auth.SessionFilePath)
	}
	wsHandler := ws.NewHandler(reg, validator, logger.Named("ws"))

	readyCheck := func(context.Context) error { return nil }

	srv := server.New(cfg, reg, scanner, cache, fetcher, matchDB, otaSvc, hdfStore, validator, wsHandler, logger.Named("server"), readyCheck)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		if err := srv.Start(ctx); err != nil {
			logger.Fatal("server error", zap.Error(err))
		}
	}()

	logger.Info("dendrite ready", zap.String("addr", cfg.Bind))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info("received shutdown signal", zap.String("signal", sig.String()))

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", zap.Error(err))
	}

	logger.Info("dendrite stopped")
}
