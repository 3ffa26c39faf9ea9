//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

// File: sock/addr_unix.go
// Author: momentics <momentics@gmail.com>
//
// Address conversions at the POSIX boundary. Readiness backends go through
// the x/sys Sockaddr types so each OS builds its own raw layout.

package sock

import (
	"fmt"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-io/api"
)

func unixSockaddr(a *api.Address) (unix.Sockaddr, error) {
	switch a.Family() {
	case api.FamilyIPv4:
		return &unix.SockaddrInet4{Port: int(a.Port()), Addr: a.IP4()}, nil
	case api.FamilyIPv6:
		return &unix.SockaddrInet6{Port: int(a.Port()), ZoneId: a.Scope(), Addr: a.IP16()}, nil
	default:
		return nil, fmt.Errorf("sock: address family %d: %w", a.Family(), api.ErrAddressFamilyNotSupported)
	}
}

func addrFromUnixSockaddr(dst *api.Address, sa unix.Sockaddr) error {
	switch v := sa.(type) {
	case *unix.SockaddrInet4:
		*dst = api.AddrIPv4(v.Addr, uint16(v.Port))
		return nil
	case *unix.SockaddrInet6:
		*dst = api.AddrIPv6(v.Addr, uint16(v.Port), v.ZoneId)
		return nil
	default:
		return fmt.Errorf("sock: sockaddr %T: %w", sa, api.ErrAddressFamilyNotSupported)
	}
}
