// Package api
// Author: momentics <momentics@gmail.com>
//
// Poll event record and interest/readiness bit sets.

package api

// PollFlags declares the caller's interest when registering a handle.
// Completion backends ignore the bits (every overlapped operation on a
// registered handle reports through the port); readiness backends arm the
// matching filters.
type PollFlags uint32

const (
	PollRead PollFlags = 1 << iota
	PollWrite
)

// Ready carries readiness bits on readiness backends. Completion backends
// leave it zero.
type Ready uint32

const (
	ReadyRead Ready = 1 << iota
	ReadyWrite
	ReadyError
	ReadyHup
)

// Event is one harvested notification. Fields are valid until the next Poll
// call on the same Poller.
//
// Tag is the caller's registration tag, or the tag passed to Send for
// synthetic events. Result is the mechanical outcome mapping: a clean
// completion reports StatusCompleted, a failed completion and every
// readiness notification report StatusRetry. Err carries the decoded OS
// error of a failed completion, nil otherwise.
//
// Op identifies which pending operation completed on completion backends
// (Socket.IsReadable/IsWriteable classify it); it is zero for synthetic
// events and on readiness backends, which use Ready instead.
type Event struct {
	Tag    uintptr
	Result Result
	Err    error
	Op     uintptr
	Ready  Ready
}
