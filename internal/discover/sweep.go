package discover

import (
	"context"
	"fmt"
	"net"
	"runtime"
	"time"

	probing "github.com/prometheus-community/pro-bing"
)

// SweepTimeout is the per-host ICMP echo timeout used by Sweep.
const SweepTimeout = 1 * time.Second

// sweepConcurrency bounds the number of in-flight pings during a sweep.
const sweepConcurrency = 64

// Sweep enumerates host addresses in subnet/prefixLen (excluding the
// network and broadcast addresses) and ICMP-pings each in parallel with
// bounded fan-out, returning the set of addresses that responded.
func Sweep(ctx context.Context, subnet net.IP, prefixLen int) ([]net.IP, error) {
	hosts, err := hostsInSubnet(subnet, prefixLen)
	if err != nil {
		return nil, err
	}
	if len(hosts) == 0 {
		return nil, nil
	}

	sem := make(chan struct{}, sweepConcurrency)
	results := make(chan net.IP, len(hosts))
	privileged := runtime.GOOS == "windows"

	for _, ip := range hosts {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sem <- struct{}{}:
		}
		go func(ip net.IP) {
			defer func() { <-sem }()
			if pingOnce(ctx, ip.String(), privileged) {
				results <- ip
			} else {
				results <- nil
			}
		}(ip)
	}

	var alive []net.IP
	for range hosts {
		if ip := <-results; ip != nil {
			alive = append(alive, ip)
		}
	}
	return alive, nil
}

func pingOnce(ctx context.Context, ip string, privileged bool) bool {
	pinger, err := probing.NewPinger(ip)
	if err != nil {
		return false
	}
	pinger.Count = 1
	pinger.Timeout = SweepTimeout
	pinger.SetPrivileged(privileged)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_ = pinger.Run()
	}()

	select {
	case <-done:
	case <-ctx.Done():
		pinger.Stop()
		return false
	}

	return pinger.Statistics().PacketsRecv > 0
}

// hostsInSubnet enumerates all usable host addresses in subnet/prefixLen,
// excluding the network and broadcast addresses.
func hostsInSubnet(subnet net.IP, prefixLen int) ([]net.IP, error) {
	v4 := subnet.To4()
	if v4 == nil {
		return nil, fmt.Errorf("discover: subnet %s is not IPv4", subnet)
	}
	if prefixLen <= 0 || prefixLen > 32 {
		return nil, fmt.Errorf("discover: prefix_len %d out of range", prefixLen)
	}

	mask := net.CIDRMask(prefixLen, 32)
	network := v4.Mask(mask)

	hostBits := 32 - prefixLen
	if hostBits >= 31 {
		return nil, fmt.Errorf("discover: subnet /%d is not permitted", prefixLen)
	}
	total := 1 << uint(hostBits)

	var hosts []net.IP
	for i := 1; i < total-1; i++ {
		ip := offsetIP(network, i)
		hosts = append(hosts, ip)
	}
	return hosts, nil
}

// offsetIP returns a copy of base (a 4-byte IPv4 address) incremented by
// offset, treating base as a big-endian uint32.
func offsetIP(base net.IP, offset int) net.IP {
	ip := make(net.IP, 4)
	copy(ip, base.To4())

	carry := offset
	for i := 3; i >= 0 && carry > 0; i-- {
		val := int(ip[i]) + carry
		ip[i] = byte(val % 256)
		carry = val / 256
	}
	return ip
}

// IsInSubnet reports whether ip falls within subnet/prefixLen.
func IsInSubnet(ip net.IP, subnet net.IP, prefixLen int) bool {
	v4 := ip.To4()
	sub := subnet.To4()
	if v4 == nil || sub == nil || prefixLen <= 0 || prefixLen > 32 {
		return false
	}
	mask := net.CIDRMask(prefixLen, 32)
	return v4.Mask(mask).Equal(sub.Mask(mask))
}
