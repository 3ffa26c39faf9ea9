//go:build !windows && !linux && !darwin && !dragonfly && !freebsd
// +build !windows,!linux,!darwin,!dragonfly,!freebsd

// Package api
// Author: momentics <momentics@gmail.com>

package api

// Address family tags for platforms without a native socket API. Only the
// fake backend runs here; the values just need to be distinct and stable.
const (
	FamilyIPv4 uint16 = 2
	FamilyIPv6 uint16 = 23
)
