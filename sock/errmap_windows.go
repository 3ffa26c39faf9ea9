//go:build windows
// +build windows

// File: sock/errmap_windows.go
// Author: momentics <momentics@gmail.com>
//
// Winsock error code classification.

package sock

import (
	"errors"
	"syscall"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-io/api"
)

// mapErrno classifies a Winsock error into the portable taxonomy. Codes
// outside the taxonomy return nil; the raw errno still travels in OSError.
func mapErrno(err error) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return nil
	}
	switch errno {
	case windows.WSAECONNREFUSED:
		return api.ErrConnectionRefused
	case windows.WSAECONNRESET, windows.WSAENETRESET:
		return api.ErrConnectionReset
	case windows.WSAECONNABORTED:
		return api.ErrConnectionAborted
	case windows.WSAETIMEDOUT:
		return api.ErrTimedOut
	case windows.WSAEADDRINUSE:
		return api.ErrAddressInUse
	case windows.WSAEADDRNOTAVAIL:
		return api.ErrAddressNotAvailable
	case windows.WSAENETUNREACH, windows.WSAEHOSTUNREACH:
		return api.ErrNetworkUnreachable
	case windows.WSAEAFNOSUPPORT:
		return api.ErrAddressFamilyNotSupported
	case windows.WSAEPROTONOSUPPORT, windows.WSAESOCKTNOSUPPORT:
		return api.ErrProtocolNotSupported
	case windows.WSAEMFILE, windows.WSAENOBUFS:
		return api.ErrResourceExhausted
	case windows.WSAEINVAL, windows.WSAEFAULT:
		return api.ErrInvalidArgument
	case windows.WSAENOTSOCK:
		return api.ErrInvalidHandle
	case windows.WSAEOPNOTSUPP:
		return api.ErrNotSupported
	default:
		return nil
	}
}
