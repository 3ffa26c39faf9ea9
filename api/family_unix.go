//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

// Package api
// Author: momentics <momentics@gmail.com>

package api

import "golang.org/x/sys/unix"

// Address family tags in the local OS numbering. The values differ between
// platforms, so the constants live in per-OS files.
const (
	FamilyIPv4 uint16 = unix.AF_INET
	FamilyIPv6 uint16 = unix.AF_INET6
)
