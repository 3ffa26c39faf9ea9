//go:build windows
// +build windows

// File: sock/poller_windows.go
// Author: momentics <momentics@gmail.com>
//
// I/O completion port poller. One port per poller; handles are associated
// once and stay bound for their lifetime. Completions are harvested in
// batches and translated into the portable event contract.

package sock

import (
	"fmt"
	"sync/atomic"
	"time"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-io/api"
)

// maxBatch bounds one kernel dequeue. Larger caller slices just take
// another trip around Poll.
const maxBatch = 64

type winPoller struct {
	port   windows.Handle
	closed atomic.Bool
	stats  pollerCounters
}

var _ api.Poller = (*winPoller)(nil)

// NewPoller creates an empty completion port.
func NewPoller(p *Platform) (api.Poller, error) {
	if p == nil {
		return nil, fmt.Errorf("sock: platform not initialized: %w", api.ErrInvalidState)
	}
	port, err := windows.CreateIoCompletionPort(windows.InvalidHandle, 0, 0, 0)
	if err != nil {
		return nil, api.NewOSError("create completion port", err, api.ErrInvalidHandle)
	}
	return &winPoller{port: port}, nil
}

// Register binds the handle to the port under tag. The association is
// permanent: the OS offers no way to detach or re-key a handle short of
// closing it. Synchronous successes are configured to skip the port so an
// operation concluded inline by its issuing call is never reported twice.
func (w *winPoller) Register(h api.Handle, _ api.PollFlags, tag uintptr) error {
	if h == api.InvalidHandle {
		return api.ErrInvalidHandle
	}
	if w.closed.Load() {
		return api.ErrInvalidHandle
	}
	if _, err := windows.CreateIoCompletionPort(windows.Handle(h), w.port, tag, 0); err != nil {
		return api.NewOSError("associate handle", err, mapErrno(err))
	}
	err := windows.SetFileCompletionNotificationModes(windows.Handle(h),
		windows.FILE_SKIP_COMPLETION_PORT_ON_SUCCESS|windows.FILE_SKIP_SET_EVENT_ON_HANDLE)
	if err != nil {
		return api.NewOSError("set notification modes", err, mapErrno(err))
	}
	w.stats.registered.Add(1)
	return nil
}

// Reregister validates the handle and nothing else; see Register on why the
// association cannot change here.
func (w *winPoller) Reregister(h api.Handle, _ api.PollFlags, _ uintptr) error {
	if h == api.InvalidHandle || w.closed.Load() {
		return api.ErrInvalidHandle
	}
	return nil
}

// Send posts a synthetic completion with no overlapped record; Poll turns
// it into an event carrying tag.
func (w *winPoller) Send(tag uintptr) error {
	if w.closed.Load() {
		return api.ErrInvalidHandle
	}
	if err := windows.PostQueuedCompletionStatus(w.port, 0, tag, nil); err != nil {
		return api.NewOSError("post completion", err, mapErrno(err))
	}
	w.stats.wakeups.Add(1)
	return nil
}

// Poll dequeues up to len(events) completions. Timeout expiry returns
// (0, nil).
func (w *winPoller) Poll(events []api.Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("sock: empty event buffer: %w", api.ErrInvalidArgument)
	}
	if w.closed.Load() {
		return 0, api.ErrInvalidHandle
	}

	var entries [maxBatch]overlappedEntry
	n := len(events)
	if n > maxBatch {
		n = maxBatch
	}

	w.stats.polls.Add(1)
	removed, errno := getQueuedCompletionStatusEx(w.port, entries[:n], waitMilliseconds(timeout))
	if errno != 0 {
		if errno == windows.WAIT_TIMEOUT {
			return 0, nil
		}
		return 0, api.NewOSError("dequeue completions", errno, mapErrno(errno))
	}

	for i := 0; i < removed; i++ {
		events[i] = decodeEntry(&entries[i])
	}
	w.stats.events.Add(uint64(removed))
	return removed, nil
}

// Close releases the port. Completions still queued are lost.
func (w *winPoller) Close() error {
	if !w.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := windows.CloseHandle(w.port); err != nil {
		return api.NewOSError("close completion port", err, mapErrno(err))
	}
	return nil
}

func (w *winPoller) Stats() api.PollerStats {
	return w.stats.snapshot()
}

// decodeEntry translates one completion entry. A nil overlapped pointer
// marks a synthetic completion from Send. For real operations the terminal
// NTSTATUS sits in the overlapped record: zero maps to StatusCompleted,
// anything else to StatusRetry with the decoded OS error attached.
func decodeEntry(e *overlappedEntry) api.Event {
	ev := api.Event{Tag: e.key}
	if e.overlapped == nil {
		ev.Result = api.Result{Status: api.StatusCompleted}
		return ev
	}

	ev.Op = uintptr(unsafe.Pointer(e.overlapped))
	op := (*operation)(unsafe.Pointer(e.overlapped))
	if e.overlapped.Internal == 0 {
		ev.Result = api.Result{Data: int(e.qty), Status: api.StatusCompleted}
	} else {
		ev.Result = api.Result{Status: api.StatusRetry}
		ev.Err = op.decodeError()
	}
	op.finish(&ev)
	return ev
}

// waitMilliseconds converts the portable timeout: negative blocks forever,
// sub-millisecond values round up so a small positive timeout still waits.
func waitMilliseconds(d time.Duration) uint32 {
	if d < 0 {
		return windows.INFINITE
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return 1
	}
	if ms >= int64(windows.INFINITE) {
		return windows.INFINITE - 1
	}
	return uint32(ms)
}
