//go:build darwin || dragonfly || freebsd
// +build darwin dragonfly freebsd

// File: sock/poller_bsd.go
// Author: momentics <momentics@gmail.com>
//
// kqueue poller for the BSD family. Same shape as the epoll backend:
// edge-triggered filters (EV_CLEAR), a descriptor-keyed tag registry, and a
// FIFO of synthetic tags behind an EVFILT_USER wakeup event.

package sock

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-io/api"
)

const maxBatch = 128

type kqueuePoller struct {
	kq     int
	closed atomic.Bool
	stats  pollerCounters

	// ident → registration tag.
	tags sync.Map

	mu       sync.Mutex
	wakeTags *queue.Queue
}

var _ api.Poller = (*kqueuePoller)(nil)

// NewPoller creates a kqueue instance with the wakeup user event armed.
func NewPoller(p *Platform) (api.Poller, error) {
	if p == nil {
		return nil, fmt.Errorf("sock: platform not initialized: %w", api.ErrInvalidState)
	}
	kq, err := unix.Kqueue()
	if err != nil {
		return nil, api.NewOSError("kqueue", err, api.ErrInvalidHandle)
	}
	var kev [1]unix.Kevent_t
	unix.SetKevent(&kev[0], 0, unix.EVFILT_USER, unix.EV_ADD|unix.EV_CLEAR)
	if _, err := unix.Kevent(kq, kev[:], nil, nil); err != nil {
		unix.Close(kq)
		return nil, api.NewOSError("kevent add user", err, mapErrno(err))
	}
	return &kqueuePoller{kq: kq, wakeTags: queue.New()}, nil
}

func (k *kqueuePoller) Register(h api.Handle, flags api.PollFlags, tag uintptr) error {
	if h == api.InvalidHandle || k.closed.Load() {
		return api.ErrInvalidHandle
	}
	changes := filterChanges(int(h), flags)
	if len(changes) == 0 {
		return fmt.Errorf("sock: no interest flags: %w", api.ErrInvalidArgument)
	}
	if _, err := unix.Kevent(k.kq, changes, nil, nil); err != nil {
		return api.NewOSError("kevent add", err, mapErrno(err))
	}
	k.tags.Store(uint64(h), tag)
	k.stats.registered.Add(1)
	return nil
}

// Reregister re-arms the selected filters and drops the rest. EV_ADD on an
// existing filter is a modification, and deleting an absent filter just
// reports ENOENT, which is ignored.
func (k *kqueuePoller) Reregister(h api.Handle, flags api.PollFlags, tag uintptr) error {
	if h == api.InvalidHandle || k.closed.Load() {
		return api.ErrInvalidHandle
	}
	if changes := filterChanges(int(h), flags); len(changes) > 0 {
		if _, err := unix.Kevent(k.kq, changes, nil, nil); err != nil {
			return api.NewOSError("kevent add", err, mapErrno(err))
		}
	}
	var kev [1]unix.Kevent_t
	if flags&api.PollRead == 0 {
		unix.SetKevent(&kev[0], int(h), unix.EVFILT_READ, unix.EV_DELETE)
		_, _ = unix.Kevent(k.kq, kev[:], nil, nil)
	}
	if flags&api.PollWrite == 0 {
		unix.SetKevent(&kev[0], int(h), unix.EVFILT_WRITE, unix.EV_DELETE)
		_, _ = unix.Kevent(k.kq, kev[:], nil, nil)
	}
	k.tags.Store(uint64(h), tag)
	return nil
}

// Send queues the tag and triggers the user event. Queue first: once the
// user event fires a concurrent Poll must find the tag.
func (k *kqueuePoller) Send(tag uintptr) error {
	if k.closed.Load() {
		return api.ErrInvalidHandle
	}
	k.mu.Lock()
	k.wakeTags.Add(tag)
	k.mu.Unlock()
	if err := k.trigger(); err != nil {
		return err
	}
	k.stats.wakeups.Add(1)
	return nil
}

func (k *kqueuePoller) trigger() error {
	var kev [1]unix.Kevent_t
	unix.SetKevent(&kev[0], 0, unix.EVFILT_USER, 0)
	kev[0].Fflags = unix.NOTE_TRIGGER
	if _, err := unix.Kevent(k.kq, kev[:], nil, nil); err != nil {
		return api.NewOSError("kevent trigger", err, mapErrno(err))
	}
	return nil
}

func (k *kqueuePoller) Poll(events []api.Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("sock: empty event buffer: %w", api.ErrInvalidArgument)
	}
	if k.closed.Load() {
		return 0, api.ErrInvalidHandle
	}

	var scratch [maxBatch]unix.Kevent_t
	n := len(events)
	if n > maxBatch {
		n = maxBatch
	}

	k.stats.polls.Add(1)
	ready, err := unix.Kevent(k.kq, nil, scratch[:n], kqueueTimeout(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, api.NewOSError("kevent wait", err, mapErrno(err))
	}

	// Descriptor events first: they are edge-triggered and would be lost if
	// wake tags filled the buffer ahead of them. Tags then take the leftover
	// slots; the queue keeps the rest for the next Poll.
	out := 0
	sawUser := false
	for i := 0; i < ready; i++ {
		kev := scratch[i]
		if kev.Filter == unix.EVFILT_USER {
			sawUser = true
			continue
		}
		val, ok := k.tags.Load(uint64(kev.Ident))
		if !ok {
			continue // registration raced a close
		}
		events[out] = api.Event{
			Tag:    val.(uintptr),
			Result: api.Result{Status: api.StatusRetry},
			Ready:  keventReady(&kev),
		}
		out++
	}
	if sawUser {
		k.drainWake(events, &out)
	}
	k.stats.events.Add(uint64(out))
	return out, nil
}

// drainWake converts queued tags into events. Tags that do not fit
// re-trigger the user event so the next Poll picks them up.
func (k *kqueuePoller) drainWake(events []api.Event, out *int) {
	k.mu.Lock()
	for *out < len(events) && k.wakeTags.Length() > 0 {
		tag := k.wakeTags.Remove().(uintptr)
		events[*out] = api.Event{Tag: tag, Result: api.Result{Status: api.StatusCompleted}}
		*out++
	}
	leftover := k.wakeTags.Length() > 0
	k.mu.Unlock()

	if leftover {
		_ = k.trigger()
	}
}

func (k *kqueuePoller) Close() error {
	if !k.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := unix.Close(k.kq); err != nil {
		return api.NewOSError("close kqueue", err, mapErrno(err))
	}
	return nil
}

func (k *kqueuePoller) Stats() api.PollerStats {
	return k.stats.snapshot()
}

func filterChanges(fd int, flags api.PollFlags) []unix.Kevent_t {
	changes := make([]unix.Kevent_t, 0, 2)
	if flags&api.PollRead != 0 {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, fd, unix.EVFILT_READ, unix.EV_ADD|unix.EV_CLEAR)
		changes = append(changes, kev)
	}
	if flags&api.PollWrite != 0 {
		var kev unix.Kevent_t
		unix.SetKevent(&kev, fd, unix.EVFILT_WRITE, unix.EV_ADD|unix.EV_CLEAR)
		changes = append(changes, kev)
	}
	return changes
}

func keventReady(kev *unix.Kevent_t) api.Ready {
	var r api.Ready
	switch kev.Filter {
	case unix.EVFILT_READ:
		r |= api.ReadyRead
	case unix.EVFILT_WRITE:
		r |= api.ReadyWrite
	}
	if kev.Flags&unix.EV_EOF != 0 {
		r |= api.ReadyHup
	}
	if kev.Flags&unix.EV_ERROR != 0 {
		r |= api.ReadyError
	}
	return r
}

func kqueueTimeout(d time.Duration) *unix.Timespec {
	if d < 0 {
		return nil
	}
	ts := unix.NsecToTimespec(d.Nanoseconds())
	return &ts
}
