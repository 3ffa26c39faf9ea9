//go:build windows
// +build windows

// File: sock/addr_windows.go
// Author: momentics <momentics@gmail.com>
//
// Address conversions at the Winsock boundary. The api.Address record is
// already in wire layout, so the raw direction is a bounds-checked copy.

package sock

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-io/api"
)

// windowsSockaddr converts an Address for the x/sys calls that take the
// Sockaddr interface (bind, sendto).
func windowsSockaddr(a *api.Address) (windows.Sockaddr, error) {
	switch a.Family() {
	case api.FamilyIPv4:
		return &windows.SockaddrInet4{Port: int(a.Port()), Addr: a.IP4()}, nil
	case api.FamilyIPv6:
		return &windows.SockaddrInet6{Port: int(a.Port()), ZoneId: a.Scope(), Addr: a.IP16()}, nil
	default:
		return nil, fmt.Errorf("sock: address family %d: %w", a.Family(), api.ErrAddressFamilyNotSupported)
	}
}

// addrFromSockaddr converts an x/sys Sockaddr returned by getsockname and
// friends.
func addrFromSockaddr(sa windows.Sockaddr) (api.Address, error) {
	switch v := sa.(type) {
	case *windows.SockaddrInet4:
		return api.AddrIPv4(v.Addr, uint16(v.Port)), nil
	case *windows.SockaddrInet6:
		return api.AddrIPv6(v.Addr, uint16(v.Port), v.ZoneId), nil
	default:
		return api.Address{}, fmt.Errorf("sock: sockaddr %T: %w", sa, api.ErrAddressFamilyNotSupported)
	}
}

// addrFromRawSockaddr fills dst from a raw sockaddr the OS wrote, as left
// behind by WSARecvFrom and GetAcceptExSockaddrs.
func addrFromRawSockaddr(dst *api.Address, rsa *windows.RawSockaddrAny, n int32) error {
	if rsa == nil || n <= 0 {
		return fmt.Errorf("sock: empty sockaddr: %w", api.ErrInvalidArgument)
	}
	if n > int32(unsafe.Sizeof(*rsa)) {
		n = int32(unsafe.Sizeof(*rsa))
	}
	return dst.SetRaw(unsafe.Slice((*byte)(unsafe.Pointer(rsa)), int(n)))
}
