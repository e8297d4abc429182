package discover

import (
	"os/exec"
	"strconv"
	"strings"
)

// LLDPNeighbor is one neighbor record read from the link-layer
// advertisement daemon.
type LLDPNeighbor struct {
	LocalInterface string
	ChassisID      string
	PortID         string
	PortDesc       string
	SystemName     string
}

// LLDPAvailable reports whether a link-layer advertisement daemon is
// reachable on this host.
func LLDPAvailable() bool {
	return exec.Command("lldpcli", "show", "neighbors").Run() == nil
}

// LLDPNeighbors reads neighbor records via lldpcli. Returns an empty
// slice, not an error, when lldpcli is unavailable -- LLDP discovery is
// optional and a no-op in that case.
func LLDPNeighbors() ([]LLDPNeighbor, error) {
	if !LLDPAvailable() {
		return nil, nil
	}
	out, err := exec.Command("lldpcli", "show", "neighbors", "-f", "keyvalue").Output()
	if err != nil {
		return nil, nil
	}
	return parseLLDPKeyValue(string(out)), nil
}

// parseLLDPKeyValue parses lldpcli's keyvalue output, lines shaped
// "lldp.<iface>.<rest.of.key>=<value>".
func parseLLDPKeyValue(output string) []LLDPNeighbor {
	var neighbors []LLDPNeighbor
	current := map[string]string{}
	currentIface := ""

	flush := func() {
		if currentIface == "" {
			return
		}
		chassis, hasChassis := current["chassis.id"]
		port, hasPort := current["port.id"]
		if !hasChassis || !hasPort {
			return
		}
		neighbors = append(neighbors, LLDPNeighbor{
			LocalInterface: currentIface,
			ChassisID:      chassis,
			PortID:         port,
			PortDesc:       current["port.descr"],
			SystemName:     current["chassis.name"],
		})
	}

	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		key, value, ok := strings.Cut(line, "=")
		if !ok {
			continue
		}
		parts := strings.Split(key, ".")
		if len(parts) < 3 || parts[0] != "lldp" {
			continue
		}
		iface := parts[1]
		if iface != currentIface && currentIface != "" {
			flush()
			current = map[string]string{}
		}
		currentIface = iface
		current[strings.Join(parts[2:], ".")] = value
	}
	flush()
	return neighbors
}

// ParsePortNumber extracts the trailing numeric suffix from a port ID
// such as "swp3", "eth1", or "12".
func ParsePortNumber(portID string) (uint8, bool) {
	var digits strings.Builder
	for _, r := range portID {
		if r >= '0' && r <= '9' {
			digits.WriteRune(r)
		}
	}
	if digits.Len() == 0 {
		return 0, false
	}
	n, err := strconv.Atoi(digits.String())
	if err != nil || n < 0 || n > 255 {
		return 0, false
	}
	return uint8(n), true
}

// normalizeMAC lowercases a MAC address and strips ':' and '-'
// separators, for case/format-insensitive comparison.
func normalizeMAC(mac string) string {
	mac = strings.ToLower(mac)
	mac = strings.ReplaceAll(mac, ":", "")
	mac = strings.ReplaceAll(mac, "-", "")
	return mac
}

// FindPortForMAC normalizes mac and each neighbor's chassis ID the same
// way, returning the numeric port suffix of the first match.
func FindPortForMAC(neighbors []LLDPNeighbor, mac string) (uint8, bool) {
	target := normalizeMAC(mac)
	for _, n := range neighbors {
		if normalizeMAC(n.ChassisID) == target {
			return ParsePortNumber(n.PortID)
		}
	}
	return 0, false
}
