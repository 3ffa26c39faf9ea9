//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

// File: sock/errmap_unix.go
// Author: momentics <momentics@gmail.com>
//
// POSIX errno classification.

package sock

import (
	"errors"
	"syscall"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-io/api"
)

// mapErrno classifies an errno into the portable taxonomy. Codes outside
// the taxonomy return nil; the raw errno still travels in OSError.
func mapErrno(err error) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return nil
	}
	switch errno {
	case unix.ECONNREFUSED:
		return api.ErrConnectionRefused
	case unix.ECONNRESET, unix.EPIPE:
		return api.ErrConnectionReset
	case unix.ECONNABORTED:
		return api.ErrConnectionAborted
	case unix.ETIMEDOUT:
		return api.ErrTimedOut
	case unix.EADDRINUSE:
		return api.ErrAddressInUse
	case unix.EADDRNOTAVAIL:
		return api.ErrAddressNotAvailable
	case unix.ENETUNREACH, unix.EHOSTUNREACH:
		return api.ErrNetworkUnreachable
	case unix.EAFNOSUPPORT:
		return api.ErrAddressFamilyNotSupported
	case unix.EPROTONOSUPPORT, unix.ESOCKTNOSUPPORT, unix.EPROTOTYPE:
		return api.ErrProtocolNotSupported
	case unix.EMFILE, unix.ENFILE, unix.ENOBUFS, unix.ENOMEM:
		return api.ErrResourceExhausted
	case unix.EINVAL, unix.EFAULT:
		return api.ErrInvalidArgument
	case unix.EBADF, unix.ENOTSOCK:
		return api.ErrInvalidHandle
	case unix.EOPNOTSUPP:
		return api.ErrNotSupported
	default:
		return nil
	}
}
