// Package api
// Author: momentics
//
// Event-polling contract implemented by every backend.

package api

import "time"

// Poller owns exactly one kernel event queue: an I/O completion port on
// Windows, an epoll or kqueue instance on POSIX systems, an in-memory queue
// on the fake backend. It owns no sockets; handle lifetime stays with the
// caller.
//
// Poll is the only blocking call in the library. Multiple goroutines may
// poll one Poller concurrently; each event is delivered to exactly one of
// them.
type Poller interface {
	// Register associates a handle with the queue under tag. On completion
	// backends the association is permanent for the handle's lifetime and
	// synchronous successes stop reporting through the queue (the issuing
	// call returns them inline). Registering InvalidHandle fails with
	// ErrInvalidHandle.
	Register(h Handle, flags PollFlags, tag uintptr) error

	// Reregister updates interest and tag for an already registered
	// handle. Completion backends cannot change a live association and
	// only validate the handle; readiness backends re-arm their filters.
	Reregister(h Handle, flags PollFlags, tag uintptr) error

	// Send posts a synthetic completion carrying tag. It is safe from any
	// goroutine and wakes one blocked Poll. Each call produces exactly one
	// event with Result{0, StatusCompleted}.
	Send(tag uintptr) error

	// Poll blocks until events arrive, the timeout expires, or the poller
	// is woken, and fills the prefix of events. A negative timeout blocks
	// indefinitely. Timeout expiry is not an error: Poll returns (0, nil).
	Poll(events []Event, timeout time.Duration) (int, error)

	// Close releases the kernel queue. Events still queued are lost.
	// Closing twice is harmless.
	Close() error

	// Stats snapshots the poller's monotonic counters.
	Stats() PollerStats
}

// PollerStats are monotonic counters maintained by every backend. They are
// observational only; nothing in the library reads them back.
type PollerStats struct {
	Registered uint64 // handles registered over the poller's lifetime
	Polls      uint64 // Poll calls that reached the kernel
	Events     uint64 // events delivered to callers
	Wakeups    uint64 // synthetic completions posted via Send
}
