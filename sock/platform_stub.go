//go:build !windows && !linux && !darwin && !dragonfly && !freebsd
// +build !windows,!linux,!darwin,!dragonfly,!freebsd

// File: sock/platform_stub.go
// Author: momentics <momentics@gmail.com>
//
// Fallback for platforms without a backend. Everything fails cleanly so
// portable callers get an error instead of a link failure.

package sock

import (
	"fmt"

	"github.com/momentics/hioload-io/api"
)

// Platform is the process-wide lifecycle guard. No backend exists for this
// platform.
type Platform struct{}

// Initialize reports that no backend is available.
func Initialize() (*Platform, error) {
	return nil, fmt.Errorf("sock: no backend for this platform: %w", api.ErrNotSupported)
}

// Cleanup releases process-wide socket state. Nothing to do here.
func (p *Platform) Cleanup() {}

// NewPoller is unavailable on this platform.
func NewPoller(p *Platform) (api.Poller, error) {
	return nil, fmt.Errorf("sock: no poller for this platform: %w", api.ErrNotSupported)
}

// NewSocket is unavailable on this platform.
func NewSocket(p *Platform, flags api.SocketFlags) (api.Socket, error) {
	return nil, fmt.Errorf("sock: no socket for this platform: %w", api.ErrNotSupported)
}

// FromHandle is unavailable on this platform.
func FromHandle(p *Platform, h api.Handle, flags api.SocketFlags) (api.Socket, error) {
	return nil, fmt.Errorf("sock: no socket for this platform: %w", api.ErrNotSupported)
}

// RequiredIncomingSize reports the Incoming.Buf length Accept needs here.
func RequiredIncomingSize() int { return 0 }
