//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

// File: sock/platform_unix.go
// Author: momentics <momentics@gmail.com>
//
// POSIX systems need no process-wide socket initialization; Platform exists
// so callers follow one lifecycle on every OS.

package sock

// Platform is the process-wide lifecycle guard. On POSIX systems it holds
// no state, but constructors still require it so portable code initializes
// exactly once everywhere.
type Platform struct{}

// Initialize returns the lifecycle guard. It never fails on POSIX systems.
func Initialize() (*Platform, error) {
	return &Platform{}, nil
}

// Cleanup releases process-wide socket state. Nothing to do here.
func (p *Platform) Cleanup() {}
