// Package peer defines the fixed-size network identity used to address
// Guild Hall peers and to name game sessions.
package peer

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
)

// AddressSize is the wire size of an Address: 4 bytes IPv4 + 2 bytes port.
const AddressSize = 6

// Address is an opaque peer identifier. A session's group identity is
// its creator's own Address.
type Address [AddressSize]byte

// Blank is the well-known "no group" value.
var Blank Address

// New builds an Address from an IPv4 address and a UDP port.
func New(ip net.IP, port uint16) (Address, error) {
	var a Address
	v4 := ip.To4()
	if v4 == nil {
		return a, fmt.Errorf("not an IPv4 address: %s", ip)
	}
	copy(a[:4], v4)
	binary.BigEndian.PutUint16(a[4:], port)
	return a, nil
}

// FromUDPAddr converts a resolved UDP address.
func FromUDPAddr(addr *net.UDPAddr) (Address, error) {
	if addr == nil {
		return Blank, fmt.Errorf("nil UDP address")
	}
	return New(addr.IP, uint16(addr.Port))
}

// Parse accepts "ip:port".
func Parse(s string) (Address, error) {
	host, portStr, err := net.SplitHostPort(s)
	if err != nil {
		return Blank, fmt.Errorf("invalid address %q: %w", s, err)
	}
	port, err := strconv.ParseUint(portStr, 10, 16)
	if err != nil {
		return Blank, fmt.Errorf("invalid port in %q: %w", s, err)
	}
	ip := net.ParseIP(host)
	if ip == nil {
		return Blank, fmt.Errorf("invalid IP in %q", s)
	}
	return New(ip, uint16(port))
}

// ParseHex accepts the 12-digit hex form produced by Hex.
func ParseHex(s string) (Address, error) {
	var a Address
	b, err := hex.DecodeString(s)
	if err != nil {
		return a, fmt.Errorf("invalid address %q: %w", s, err)
	}
	if len(b) != AddressSize {
		return a, fmt.Errorf("invalid address %q: want %d bytes, got %d", s, AddressSize, len(b))
	}
	copy(a[:], b)
	return a, nil
}

// ParseAny accepts either "ip:port" or the 12-digit hex form.
func ParseAny(s string) (Address, error) {
	if a, err := ParseHex(s); err == nil {
		return a, nil
	}
	return Parse(s)
}

// Equal reports whether two addresses identify the same peer or group.
func Equal(a, b Address) bool {
	return a == b
}

// IsBlank reports whether a is the "no group" value.
func (a Address) IsBlank() bool {
	return a == Blank
}

// IP returns the IPv4 part.
func (a Address) IP() net.IP {
	return net.IPv4(a[0], a[1], a[2], a[3])
}

// Port returns the UDP port part.
func (a Address) Port() uint16 {
	return binary.BigEndian.Uint16(a[4:])
}

// UDPAddr converts the address for socket writes.
func (a Address) UDPAddr() *net.UDPAddr {
	return &net.UDPAddr{IP: a.IP(), Port: int(a.Port())}
}

// Hex returns a compact, URL-safe form used by the API.
func (a Address) Hex() string {
	return hex.EncodeToString(a[:])
}

func (a Address) String() string {
	if a.IsBlank() {
		return "-"
	}
	return net.JoinHostPort(a.IP().String(), strconv.Itoa(int(a.Port())))
}

// MarshalText renders the address as ip:port for JSON payloads.
func (a Address) MarshalText() ([]byte, error) {
	if a.IsBlank() {
		return []byte(""), nil
	}
	return []byte(a.String()), nil
}

// UnmarshalText accepts ip:port, 12-digit hex, or empty for Blank.
func (a *Address) UnmarshalText(text []byte) error {
	s := string(text)
	if s == "" || s == "-" {
		*a = Blank
		return nil
	}
	parsed, err := ParseAny(s)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
