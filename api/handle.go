// Package api
// Author: momentics <momentics@gmail.com>
//
// Opaque OS handle type shared by all backends.

package api

// Handle is an opaque reference to an OS-level socket resource: a SOCKET on
// Windows, a file descriptor on POSIX systems, a synthetic id on the fake
// backend. The library never interprets the value beyond equality with
// InvalidHandle.
type Handle uintptr

// InvalidHandle is the sentinel for "no handle". It is never a valid
// argument to Register or to any Socket operation.
const InvalidHandle = ^Handle(0)
