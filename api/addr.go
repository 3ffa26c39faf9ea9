// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Socket address storage in the exact byte layout the socket APIs consume.

package api

import (
	"encoding/binary"
	"fmt"
	"net"
)

// Raw sockaddr sizes for the two supported families.
const (
	rawSockaddr4Size = 16 // family + port + addr + 8 bytes of zero padding
	rawSockaddr6Size = 28 // family + port + flowinfo + addr + scope id
)

// Address is a socket endpoint stored as a raw sockaddr record: the leading
// family tag in host byte order, the port in network byte order, then the
// family-specific body (IPv4 address, or IPv6 flow info, address and scope
// id). Completion backends hand the record to the OS verbatim; readiness
// backends convert it at the syscall boundary.
//
// The zero Address has no family and is rejected by every operation that
// needs an endpoint. Address is comparable and may be used as a map key.
type Address struct {
	raw [rawSockaddr6Size]byte
}

// AddrIPv4 builds an IPv4 endpoint. Port is in host byte order.
func AddrIPv4(ip [4]byte, port uint16) Address {
	var a Address
	binary.NativeEndian.PutUint16(a.raw[0:2], FamilyIPv4)
	binary.BigEndian.PutUint16(a.raw[2:4], port)
	copy(a.raw[4:8], ip[:])
	return a
}

// AddrIPv6 builds an IPv6 endpoint. Port is in host byte order; scope is the
// interface scope id for link-local addresses, zero otherwise.
func AddrIPv6(ip [16]byte, port uint16, scope uint32) Address {
	var a Address
	binary.NativeEndian.PutUint16(a.raw[0:2], FamilyIPv6)
	binary.BigEndian.PutUint16(a.raw[2:4], port)
	copy(a.raw[8:24], ip[:])
	binary.NativeEndian.PutUint32(a.raw[24:28], scope)
	return a
}

// Family reports the address family tag: FamilyIPv4, FamilyIPv6, or zero for
// the unspecified zero Address.
func (a *Address) Family() uint16 {
	return binary.NativeEndian.Uint16(a.raw[0:2])
}

// IsValid reports whether the Address carries one of the supported families.
func (a *Address) IsValid() bool {
	f := a.Family()
	return f == FamilyIPv4 || f == FamilyIPv6
}

// Port returns the port in host byte order.
func (a *Address) Port() uint16 {
	return binary.BigEndian.Uint16(a.raw[2:4])
}

// SetPort overwrites the port, keeping family and address bits intact.
func (a *Address) SetPort(port uint16) {
	binary.BigEndian.PutUint16(a.raw[2:4], port)
}

// IP4 returns the IPv4 address bytes. Valid only when Family is FamilyIPv4.
func (a *Address) IP4() (ip [4]byte) {
	copy(ip[:], a.raw[4:8])
	return ip
}

// IP16 returns the IPv6 address bytes. Valid only when Family is FamilyIPv6.
func (a *Address) IP16() (ip [16]byte) {
	copy(ip[:], a.raw[8:24])
	return ip
}

// Scope returns the IPv6 scope id, zero for IPv4 addresses.
func (a *Address) Scope() uint32 {
	if a.Family() != FamilyIPv6 {
		return 0
	}
	return binary.NativeEndian.Uint32(a.raw[24:28])
}

// Raw exposes the underlying sockaddr record, sized for the family: 16 bytes
// for IPv4, 28 for IPv6, nil for the zero Address. The slice aliases the
// Address storage; backends pass it to the OS without copying.
func (a *Address) Raw() []byte {
	switch a.Family() {
	case FamilyIPv4:
		return a.raw[:rawSockaddr4Size]
	case FamilyIPv6:
		return a.raw[:rawSockaddr6Size]
	default:
		return nil
	}
}

// SetRaw replaces the record from raw sockaddr bytes, as produced by the OS.
// The slice must start with a supported family tag and be long enough for
// that family.
func (a *Address) SetRaw(b []byte) error {
	if len(b) < 2 {
		return fmt.Errorf("address: short sockaddr (%d bytes): %w", len(b), ErrInvalidArgument)
	}
	need := 0
	switch binary.NativeEndian.Uint16(b[0:2]) {
	case FamilyIPv4:
		need = rawSockaddr4Size
	case FamilyIPv6:
		need = rawSockaddr6Size
	default:
		return fmt.Errorf("address: family %d: %w", binary.NativeEndian.Uint16(b[0:2]), ErrAddressFamilyNotSupported)
	}
	if len(b) < need {
		return fmt.Errorf("address: short sockaddr (%d bytes, need %d): %w", len(b), need, ErrInvalidArgument)
	}
	clear(a.raw[:])
	copy(a.raw[:need], b[:need])
	return nil
}

// String renders the endpoint in host:port form for diagnostics.
func (a *Address) String() string {
	switch a.Family() {
	case FamilyIPv4:
		ip := a.IP4()
		return fmt.Sprintf("%s:%d", net.IP(ip[:]).String(), a.Port())
	case FamilyIPv6:
		ip := a.IP16()
		return fmt.Sprintf("[%s]:%d", net.IP(ip[:]).String(), a.Port())
	default:
		return "<unspecified>"
	}
}
