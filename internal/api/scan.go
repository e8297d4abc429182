package server

import (
	"net"
	"net/http"
	"strings"

	"github.com/CogniPilot/dendrite/internal/config"
)

// scanResult is the response body for POST /api/scan.
type scanResult struct {
	Status       string `json:"status"`
	DevicesFound int    `json:"devices_found"`
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	found, err := s.scanner.ScanOnce(r.Context())
	if err != nil {
		InternalError(w, "scan failed: "+err.Error())
		return
	}
	writeJSON(w, http.StatusOK, scanResult{Status: "completed", DevicesFound: found})
}

func (s *Server) handleGetConfig(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg)
}

// interfaceInfo is one entry of GET /api/interfaces.
type interfaceInfo struct {
	Name      string `json:"name"`
	IP        string `json:"ip"`
	Subnet    string `json:"subnet"`
	PrefixLen int    `json:"prefix_len"`
}

// excludedInterfacePrefixes filters out loopback and virtual
// interfaces that are never useful scan subnets.
var excludedInterfacePrefixes = []string{"lo", "docker", "br-", "veth"}

func (s *Server) handleInterfaces(w http.ResponseWriter, _ *http.Request) {
	ifaces, err := net.Interfaces()
	if err != nil {
		InternalError(w, "failed to list network interfaces")
		return
	}

	out := make([]interfaceInfo, 0, len(ifaces))
	for _, iface := range ifaces {
		if isExcludedInterface(iface.Name) {
			continue
		}
		addrs, err := iface.Addrs()
		if err != nil {
			continue
		}
		for _, addr := range addrs {
			ipNet, ok := addr.(*net.IPNet)
			if !ok || ipNet.IP.To4() == nil {
				continue
			}
			prefixLen, _ := ipNet.Mask.Size()
			out = append(out, interfaceInfo{
				Name:      iface.Name,
				IP:        ipNet.IP.String(),
				Subnet:    ipNet.IP.Mask(ipNet.Mask).String(),
				PrefixLen: prefixLen,
			})
		}
	}
	writeJSON(w, http.StatusOK, out)
}

func isExcludedInterface(name string) bool {
	for _, prefix := range excludedInterfacePrefixes {
		if strings.HasPrefix(name, prefix) {
			return true
		}
	}
	return false
}

// subnetRequest is the body for POST /api/subnet.
type subnetRequest struct {
	Subnet    string `json:"subnet"`
	PrefixLen int    `json:"prefix_len"`
}

func (s *Server) handleSubnet(w http.ResponseWriter, r *http.Request) {
	var req subnetRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	if net.ParseIP(req.Subnet) == nil {
		BadRequest(w, "subnet is not a valid IP address")
		return
	}
	if req.PrefixLen <= 0 || req.PrefixLen > 32 {
		BadRequest(w, "prefix_len out of range")
		return
	}
	hostBits := 32 - req.PrefixLen
	if hostBits > 31 || (uint64(1)<<uint(hostBits)) > uint64(config.MaxCandidateHosts()) {
		BadRequest(w, "prefix_len yields too many candidate hosts")
		return
	}

	s.scanner.UpdateSubnet(req.Subnet, req.PrefixLen)
	w.WriteHeader(http.StatusNoContent)
}

// heartbeatResponse is the response for GET /api/heartbeat.
type heartbeatResponse struct {
	HeartbeatEnabled bool `json:"heartbeat_enabled"`
}

func (s *Server) handleGetHeartbeat(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, heartbeatResponse{HeartbeatEnabled: s.scanner.Config().HeartbeatEnabled})
}

type heartbeatRequest struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handlePostHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req heartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		BadRequest(w, "invalid request body")
		return
	}
	s.scanner.SetHeartbeatEnabled(req.Enabled)
	writeJSON(w, http.StatusOK, heartbeatResponse{HeartbeatEnabled: req.Enabled})
}
