//go:build linux
// +build linux

// File: sock/poller_linux.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Linux epoll poller. Interest is edge-triggered; registered tags live in a
// registry keyed by descriptor because the kernel event record cannot carry
// both the descriptor and a full-width tag. Synthetic completions queue
// their tags in a FIFO and kick an eventfd so a blocked Poll wakes up.

package sock

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"
	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-io/api"
)

const maxBatch = 128

type epollPoller struct {
	epfd   int
	wakefd int
	closed atomic.Bool
	stats  pollerCounters

	// fd → registration tag.
	tags sync.Map

	mu       sync.Mutex
	wakeTags *queue.Queue
}

var _ api.Poller = (*epollPoller)(nil)

// NewPoller creates an epoll instance with its wakeup eventfd already
// registered.
func NewPoller(p *Platform) (api.Poller, error) {
	if p == nil {
		return nil, fmt.Errorf("sock: platform not initialized: %w", api.ErrInvalidState)
	}
	epfd, err := unix.EpollCreate1(unix.EPOLL_CLOEXEC)
	if err != nil {
		return nil, api.NewOSError("epoll create", err, api.ErrInvalidHandle)
	}
	wakefd, err := unix.Eventfd(0, unix.EFD_NONBLOCK|unix.EFD_CLOEXEC)
	if err != nil {
		unix.Close(epfd)
		return nil, api.NewOSError("eventfd", err, api.ErrInvalidHandle)
	}
	ev := unix.EpollEvent{Events: unix.EPOLLIN | unix.EPOLLET, Fd: int32(wakefd)}
	if err := unix.EpollCtl(epfd, unix.EPOLL_CTL_ADD, wakefd, &ev); err != nil {
		unix.Close(wakefd)
		unix.Close(epfd)
		return nil, api.NewOSError("epoll ctl add", err, mapErrno(err))
	}
	return &epollPoller{epfd: epfd, wakefd: wakefd, wakeTags: queue.New()}, nil
}

func (e *epollPoller) Register(h api.Handle, flags api.PollFlags, tag uintptr) error {
	if h == api.InvalidHandle || e.closed.Load() {
		return api.ErrInvalidHandle
	}
	ev := unix.EpollEvent{Events: epollBits(flags), Fd: int32(h)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_ADD, int(h), &ev); err != nil {
		return api.NewOSError("epoll ctl add", err, mapErrno(err))
	}
	e.tags.Store(int32(h), tag)
	e.stats.registered.Add(1)
	return nil
}

// Reregister re-arms interest and replaces the tag. Unlike the completion
// backend this is a real modification.
func (e *epollPoller) Reregister(h api.Handle, flags api.PollFlags, tag uintptr) error {
	if h == api.InvalidHandle || e.closed.Load() {
		return api.ErrInvalidHandle
	}
	ev := unix.EpollEvent{Events: epollBits(flags), Fd: int32(h)}
	if err := unix.EpollCtl(e.epfd, unix.EPOLL_CTL_MOD, int(h), &ev); err != nil {
		return api.NewOSError("epoll ctl mod", err, mapErrno(err))
	}
	e.tags.Store(int32(h), tag)
	return nil
}

// Send queues the tag and kicks the eventfd. The queue entry goes in first:
// once the eventfd is readable a concurrent Poll must find the tag.
func (e *epollPoller) Send(tag uintptr) error {
	if e.closed.Load() {
		return api.ErrInvalidHandle
	}
	e.mu.Lock()
	e.wakeTags.Add(tag)
	e.mu.Unlock()
	e.signalWake()
	e.stats.wakeups.Add(1)
	return nil
}

func (e *epollPoller) signalWake() {
	var buf [8]byte
	binary.NativeEndian.PutUint64(buf[:], 1)
	// EAGAIN means the counter is saturated, which already keeps the
	// eventfd readable.
	_, _ = unix.Write(e.wakefd, buf[:])
}

func (e *epollPoller) Poll(events []api.Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("sock: empty event buffer: %w", api.ErrInvalidArgument)
	}
	if e.closed.Load() {
		return 0, api.ErrInvalidHandle
	}

	var scratch [maxBatch]unix.EpollEvent
	n := len(events)
	if n > maxBatch {
		n = maxBatch
	}

	e.stats.polls.Add(1)
	ready, err := unix.EpollWait(e.epfd, scratch[:n], waitMilliseconds(timeout))
	if err != nil {
		if err == unix.EINTR {
			return 0, nil
		}
		return 0, api.NewOSError("epoll wait", err, mapErrno(err))
	}

	// Descriptor events first: they are edge-triggered and would be lost if
	// wake tags filled the buffer ahead of them. Tags then take the leftover
	// slots; the queue keeps the rest for the next Poll.
	out := 0
	sawWake := false
	for i := 0; i < ready; i++ {
		kev := scratch[i]
		if int(kev.Fd) == e.wakefd {
			sawWake = true
			continue
		}
		val, ok := e.tags.Load(kev.Fd)
		if !ok {
			continue // registration raced a close
		}
		events[out] = api.Event{
			Tag:    val.(uintptr),
			Result: api.Result{Status: api.StatusRetry},
			Ready:  readyBits(kev.Events),
		}
		out++
	}
	if sawWake {
		e.drainWake(events, &out)
	}
	e.stats.events.Add(uint64(out))
	return out, nil
}

// drainWake resets the eventfd and converts queued tags into events. Tags
// that do not fit re-arm the eventfd so the next Poll picks them up.
func (e *epollPoller) drainWake(events []api.Event, out *int) {
	var buf [8]byte
	for {
		if _, err := unix.Read(e.wakefd, buf[:]); err != nil {
			break
		}
	}

	e.mu.Lock()
	for *out < len(events) && e.wakeTags.Length() > 0 {
		tag := e.wakeTags.Remove().(uintptr)
		events[*out] = api.Event{Tag: tag, Result: api.Result{Status: api.StatusCompleted}}
		*out++
	}
	leftover := e.wakeTags.Length() > 0
	e.mu.Unlock()

	if leftover {
		e.signalWake()
	}
}

func (e *epollPoller) Close() error {
	if !e.closed.CompareAndSwap(false, true) {
		return nil
	}
	err1 := unix.Close(e.wakefd)
	err2 := unix.Close(e.epfd)
	if err2 != nil {
		return api.NewOSError("close epoll", err2, mapErrno(err2))
	}
	if err1 != nil {
		return api.NewOSError("close eventfd", err1, mapErrno(err1))
	}
	return nil
}

func (e *epollPoller) Stats() api.PollerStats {
	return e.stats.snapshot()
}

func epollBits(flags api.PollFlags) uint32 {
	bits := uint32(unix.EPOLLET)
	if flags&api.PollRead != 0 {
		bits |= unix.EPOLLIN | unix.EPOLLRDHUP
	}
	if flags&api.PollWrite != 0 {
		bits |= unix.EPOLLOUT
	}
	return bits
}

func readyBits(events uint32) api.Ready {
	var r api.Ready
	if events&(unix.EPOLLIN|unix.EPOLLPRI) != 0 {
		r |= api.ReadyRead
	}
	if events&unix.EPOLLOUT != 0 {
		r |= api.ReadyWrite
	}
	if events&unix.EPOLLERR != 0 {
		r |= api.ReadyError
	}
	if events&(unix.EPOLLHUP|unix.EPOLLRDHUP) != 0 {
		r |= api.ReadyHup
	}
	return r
}

// waitMilliseconds converts the portable timeout: negative blocks forever,
// sub-millisecond values round up so a small positive timeout still waits.
func waitMilliseconds(d time.Duration) int {
	if d < 0 {
		return -1
	}
	ms := d.Milliseconds()
	if ms == 0 && d > 0 {
		return 1
	}
	if ms > math.MaxInt32 {
		ms = math.MaxInt32
	}
	return int(ms)
}
