package util

import (
	"net"
	"testing"
)

func TestLANFromNet(t *testing.T) {
	_, ipNet, _ := net.ParseCIDR("192.168.4.0/22")
	ipNet.IP = net.IPv4(192, 168, 5, 17)

	lan, ok := lanFromNet("eth0", ipNet)
	if !ok {
		t.Fatal("expected an IPv4 interface")
	}
	if got := lan.Broadcast.String(); got != "192.168.7.255" {
		t.Fatalf("expected broadcast 192.168.7.255, got %s", got)
	}
	if got := lan.IP.String(); got != "192.168.5.17" {
		t.Fatalf("expected ip 192.168.5.17, got %s", got)
	}
}

func TestLANFromNetRejectsIPv6(t *testing.T) {
	_, ipNet, _ := net.ParseCIDR("fe80::/64")
	if _, ok := lanFromNet("eth0", ipNet); ok {
		t.Fatal("expected IPv6 network to be rejected")
	}
}
