package discover

import (
	"net"
	"testing"
)

func TestHostsInSubnet_ExcludesNetworkAndBroadcast(t *testing.T) {
	hosts, err := hostsInSubnet(net.ParseIP("192.168.1.0"), 29) // 6 usable hosts
	if err != nil {
		t.Fatalf("hostsInSubnet: %v", err)
	}
	if len(hosts) != 6 {
		t.Fatalf("got %d hosts, want 6", len(hosts))
	}
	if hosts[0].String() != "192.168.1.1" {
		t.Errorf("first host = %s, want .1", hosts[0])
	}
	if hosts[len(hosts)-1].String() != "192.168.1.6" {
		t.Errorf("last host = %s, want .6", hosts[len(hosts)-1])
	}
}

func TestHostsInSubnet_RejectsSlashZero(t *testing.T) {
	if _, err := hostsInSubnet(net.ParseIP("0.0.0.0"), 0); err == nil {
		t.Fatal("expected /0 to be rejected")
	}
}

func TestIsInSubnet(t *testing.T) {
	subnet := net.ParseIP("10.0.0.0")
	if !IsInSubnet(net.ParseIP("10.0.0.42"), subnet, 24) {
		t.Error("10.0.0.42 should be in 10.0.0.0/24")
	}
	if IsInSubnet(net.ParseIP("10.0.1.42"), subnet, 24) {
		t.Error("10.0.1.42 should not be in 10.0.0.0/24")
	}
}

func TestOffsetIP(t *testing.T) {
	base := net.ParseIP("192.168.1.0").To4()
	got := offsetIP(base, 255)
	if got.String() != "192.168.1.255" {
		t.Errorf("offsetIP(.0, 255) = %s", got)
	}
	got2 := offsetIP(base, 256)
	if got2.String() != "192.168.2.0" {
		t.Errorf("offsetIP(.0, 256) = %s, want carry into next octet", got2)
	}
}
