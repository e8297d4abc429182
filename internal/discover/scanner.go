package discover

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/CogniPilot/dendrite/internal/config"
	"github.com/CogniPilot/dendrite/internal/fwmp"
	"github.com/CogniPilot/dendrite/internal/registry"
	"github.com/CogniPilot/dendrite/pkg/models"
)

// Scanner runs the two cooperating discovery loops -- deep scan and
// heartbeat -- against a shared Registry.
type Scanner struct {
	mu  sync.RWMutex
	cfg config.ScanConfig

	registry *registry.Registry
	logger   *zap.Logger

	neighbors *NeighborReader
}

// New builds a Scanner with the given initial configuration.
func New(cfg config.ScanConfig, reg *registry.Registry, logger *zap.Logger) *Scanner {
	return &Scanner{
		cfg:       cfg,
		registry:  reg,
		logger:    logger,
		neighbors: NewNeighborReader(),
	}
}

// UpdateSubnet changes the scan subnet/prefix at runtime; it takes
// effect on the next deep-scan tick.
func (s *Scanner) UpdateSubnet(subnet string, prefixLen int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.Subnet = subnet
	s.cfg.PrefixLen = prefixLen
}

// Config returns a copy of the scanner's current configuration.
func (s *Scanner) Config() config.ScanConfig {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// SetHeartbeatEnabled toggles the heartbeat loop's runtime gate.
func (s *Scanner) SetHeartbeatEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cfg.HeartbeatEnabled = enabled
}

// Run performs an initial deep scan, then serves two tickers from a
// single loop until ctx is cancelled: a deep scan every
// scan.interval_seconds, and a heartbeat every
// scan.heartbeat_interval_seconds (skipped while the runtime
// heartbeat_enabled flag is off). Both intervals are read once when Run
// starts; each scan or heartbeat pass reads the live config, so subnet
// changes apply from the next pass. Because one loop serves both
// tickers, no heartbeat runs while a deep scan is in progress.
func (s *Scanner) Run(ctx context.Context) {
	if _, err := s.ScanOnce(ctx); err != nil && s.logger != nil {
		s.logger.Warn("initial discovery scan failed", zap.Error(err))
	}

	scanTicker := time.NewTicker(s.Config().ScanInterval())
	defer scanTicker.Stop()

	heartbeatTicker := time.NewTicker(s.Config().HeartbeatInterval())
	defer heartbeatTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-scanTicker.C:
			if _, err := s.ScanOnce(ctx); err != nil && s.logger != nil {
				s.logger.Warn("deep scan failed", zap.Error(err))
			}
		case <-heartbeatTicker.C:
			if !s.Config().HeartbeatEnabled {
				continue
			}
			if err := s.Heartbeat(ctx); err != nil && s.logger != nil {
				s.logger.Warn("heartbeat check failed", zap.Error(err))
			}
		}
	}
}

// ScanOnce runs one deep-scan pass: candidate gathering, FWMP probe,
// identity query, LLDP port mapping, reconciliation, and offline
// sweep for devices not re-observed. It returns the number of devices
// that responded this pass.
func (s *Scanner) ScanOnce(ctx context.Context) (int, error) {
	s.registry.PublishScanStarted()
	cfg := s.Config()

	subnetIP := net.ParseIP(cfg.Subnet)
	existingIDs := s.registry.KnownIDs()
	seen := make(map[models.DeviceId]bool)

	candidates := s.gatherCandidates(ctx, cfg, subnetIP)

	var lldpNeighbors []LLDPNeighbor
	if cfg.UseLLDP {
		lldpNeighbors, _ = LLDPNeighbors()
	}

	var macByIP map[string]string
	if cfg.UseARP {
		macByIP = s.macIndex(ctx)
	}

	found := 0
	for _, ip := range candidates {
		if ctx.Err() != nil {
			return found, ctx.Err()
		}
		if !fwmp.Probe(ip.String(), cfg.MCUmgrPort) {
			continue
		}
		query, err := fwmp.QueryDevice(ip.String(), cfg.MCUmgrPort)
		if err != nil {
			continue
		}

		device := s.buildDevice(ip, cfg.MCUmgrPort, query, cfg, macByIP[ip.String()], lldpNeighbors)
		s.reconcile(device, seen)
		found++
	}

	for _, id := range existingIDs {
		if seen[id] {
			continue
		}
		s.registry.MarkOffline(id)
	}

	s.registry.PublishScanCompleted(found)
	return found, nil
}

// gatherCandidates unions neighbor-table entries in the configured
// subnet with active sweep results.
func (s *Scanner) gatherCandidates(ctx context.Context, cfg config.ScanConfig, subnetIP net.IP) []net.IP {
	var candidates []net.IP
	have := map[string]bool{}
	add := func(ip net.IP) {
		key := ip.String()
		if !have[key] {
			have[key] = true
			candidates = append(candidates, ip)
		}
	}

	if cfg.UseARP {
		if table, err := s.neighbors.ReadTable(ctx); err == nil {
			for _, e := range table {
				if IsInSubnet(e.IP, subnetIP, cfg.PrefixLen) {
					add(e.IP)
				}
			}
		}
		if swept, err := Sweep(ctx, subnetIP, cfg.PrefixLen); err == nil {
			for _, ip := range swept {
				add(ip)
			}
		}
	} else {
		if swept, err := Sweep(ctx, subnetIP, cfg.PrefixLen); err == nil {
			for _, ip := range swept {
				add(ip)
			}
		}
	}
	return candidates
}

// macIndex builds an ip->mac lookup from the current neighbor table.
func (s *Scanner) macIndex(ctx context.Context) map[string]string {
	table, err := s.neighbors.ReadTable(ctx)
	if err != nil {
		return nil
	}
	idx := make(map[string]string, len(table))
	for _, e := range table {
		if e.MAC != "" {
			idx[e.IP.String()] = e.MAC
		}
	}
	return idx
}

// buildDevice assembles a Device record from a query result, applying
// MAC/switch-port enrichment, configured overrides, and parent linkage.
func (s *Scanner) buildDevice(ip net.IP, port uint16, q *fwmp.DeviceQuery, cfg config.ScanConfig, mac string, lldpNeighbors []LLDPNeighbor) models.Device {
	id := models.DeviceId(q.HWID)
	if id == "" {
		id = models.DeviceId("temp-" + uuid.NewString())
	}

	app, board := fwmp.ParseOSInfoBanner(q.Banner)
	now := time.Now()

	name := app
	if name == "" {
		name = string(id)
	}

	device := models.Device{
		ID:     id,
		Name:   name,
		Status: models.StatusOnline,
		Discovery: models.Discovery{
			IP:              ip.String(),
			Port:            port,
			FirstSeen:       now,
			LastSeen:        now,
			DiscoveryMethod: models.MethodProbe,
		},
		Info: models.Info{
			OSName:     nonEmpty(q.Banner),
			Board:      nonEmpty(board),
			Processor:  nonEmpty(q.Processor),
			Bootloader: nonEmpty(q.Bootloader),
			BootMode:   nonEmpty(q.BootMode),
		},
		Firmware:  firmwareFromImages(q.Images),
		UpdatedAt: now,
	}

	if mac != "" {
		m := mac
		device.Discovery.MAC = &m
		if port, ok := FindPortForMAC(lldpNeighbors, mac); ok {
			device.Discovery.SwitchPort = &port
		}
	}

	for _, o := range cfg.Overrides {
		if o.HWID != string(id) {
			continue
		}
		if o.Name != nil {
			device.Name = *o.Name
		}
		if o.Port != nil {
			device.Discovery.SwitchPort = o.Port
		}
		if o.ModelPath != nil {
			device.ModelPath = o.ModelPath
		}
	}

	if cfg.Parent != nil {
		pid := models.DeviceId(cfg.Parent.Name)
		device.ParentID = &pid
	}

	return device
}

func firmwareFromImages(images []models.ImageSlot) models.Firmware {
	fw := models.Firmware{Images: images}
	if active, ok := fw.ActiveImage(); ok {
		v := active.Version
		fw.Version = &v
		h := fwmp.ImageHashHex(active.Hash)
		fw.ImageHash = &h
		s := active.Slot
		fw.Slot = &s
		fw.Confirmed = active.Confirmed
		fw.Pending = active.Pending
	}
	return fw
}

func nonEmpty(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// reconcile applies the IP-conflict / temp-ID-promotion rules (§4.F)
// and upserts device into the registry. seen is updated with whichever
// DeviceId ends up representing this IP this scan.
func (s *Scanner) reconcile(device models.Device, seen map[models.DeviceId]bool) {
	conflictID, hasConflict := s.registry.ConflictAt(device.Discovery.IP, device.ID)
	if !hasConflict {
		s.registry.Upsert(device)
		seen[device.ID] = true
		return
	}

	newIsTemp := device.ID.IsTemp()
	oldIsTemp := conflictID.IsTemp()

	switch {
	case !newIsTemp && oldIsTemp:
		// New device has a real hwid, old entry was a placeholder.
		s.registry.Remove(conflictID)
		s.registry.Upsert(device)
		seen[device.ID] = true

	case newIsTemp && !oldIsTemp:
		// Temp ID duplicates an already-real device at this IP; ignore
		// the temp record and refresh the real one's liveness instead.
		s.registry.MarkOnline(conflictID)
		seen[conflictID] = true

	default:
		// Both real (and different) or both temp: log and still upsert.
		if s.logger != nil {
			s.logger.Warn("IP address conflict",
				zap.String("ip", device.Discovery.IP),
				zap.String("existing_id", string(conflictID)),
				zap.String("new_id", string(device.ID)),
			)
		}
		s.registry.Upsert(device)
		seen[device.ID] = true
	}
}

// QueryOne re-probes a single known device at its last-known IP and
// reconciles the result back into the registry, preserving its
// identity even if the freshly parsed banner would otherwise imply a
// different one. It also returns the raw query so callers can drive
// fragment fetching/matching off hcdf_url/hcdf_sha without a second
// round trip to the device.
func (s *Scanner) QueryOne(ctx context.Context, id models.DeviceId) (models.Device, *fwmp.DeviceQuery, error) {
	existing, ok := s.registry.Get(id)
	if !ok {
		return models.Device{}, nil, fmt.Errorf("discover: unknown device %s", id)
	}

	ip := net.ParseIP(existing.Discovery.IP)
	if ip == nil {
		return models.Device{}, nil, fmt.Errorf("discover: device %s has no known address", id)
	}
	if ctx.Err() != nil {
		return models.Device{}, nil, ctx.Err()
	}
	if !fwmp.Probe(ip.String(), existing.Discovery.Port) {
		return models.Device{}, nil, fmt.Errorf("discover: device %s did not respond", id)
	}
	query, err := fwmp.QueryDevice(ip.String(), existing.Discovery.Port)
	if err != nil {
		return models.Device{}, nil, fmt.Errorf("discover: query device %s: %w", id, err)
	}

	cfg := s.Config()
	var lldpNeighbors []LLDPNeighbor
	if cfg.UseLLDP {
		lldpNeighbors, _ = LLDPNeighbors()
	}
	var mac string
	if existing.Discovery.MAC != nil {
		mac = *existing.Discovery.MAC
	}

	device := s.buildDevice(ip, existing.Discovery.Port, query, cfg, mac, lldpNeighbors)
	device.ID = id

	seen := map[models.DeviceId]bool{}
	s.reconcile(device, seen)

	updated, _ := s.registry.Get(id)
	return updated, query, nil
}

// Heartbeat pings every known IPv4 device and flips online<->offline on
// reachability change. No other fields mutate.
func (s *Scanner) Heartbeat(ctx context.Context) error {
	devices := s.registry.List()
	if len(devices) == 0 {
		return nil
	}

	ips := make([]net.IP, 0, len(devices))
	for _, d := range devices {
		if ip := net.ParseIP(d.Discovery.IP); ip != nil {
			ips = append(ips, ip)
		}
	}

	reachable := map[string]bool{}
	for _, ip := range pingAll(ctx, ips) {
		reachable[ip.String()] = true
	}

	for _, d := range devices {
		switch {
		case d.Status == models.StatusOnline && !reachable[d.Discovery.IP]:
			s.registry.MarkOffline(d.ID)
		case d.Status == models.StatusOffline && reachable[d.Discovery.IP]:
			s.registry.MarkOnline(d.ID)
		}
	}
	return nil
}

// pingAll pings every ip in parallel and returns those that responded.
func pingAll(ctx context.Context, ips []net.IP) []net.IP {
	type result struct {
		ip    net.IP
		alive bool
	}
	results := make(chan result, len(ips))
	for _, ip := range ips {
		go func(ip net.IP) {
			results <- result{ip: ip, alive: pingOnce(ctx, ip.String(), false)}
		}(ip)
	}
	var alive []net.IP
	for range ips {
		if r := <-results; r.alive {
			alive = append(alive, r.ip)
		}
	}
	return alive
}
