// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-io/api"
)

// Poller is the loopback event queue. It follows completion semantics:
// socket operations that pend deliver exactly one event here, and Send
// injects synthetic wakeups. Multiple goroutines may call Poll; each
// event is drained by exactly one of them.
type Poller struct {
	net    *Network
	mu     sync.Mutex
	events *queue.Queue // of api.Event
	wake   chan struct{}
	done   chan struct{}
	closed atomic.Bool

	registered atomic.Uint64
	polls      atomic.Uint64
	delivered  atomic.Uint64
	wakeups    atomic.Uint64
}

// NewPoller creates a poller on this network.
func (n *Network) NewPoller() *Poller {
	return &Poller{
		net:    n,
		events: queue.New(),
		wake:   make(chan struct{}, 1),
		done:   make(chan struct{}),
	}
}

// Register binds a socket handle to this poller under tag. All events for
// operations issued on that socket are delivered here. Like the completion
// backend, the binding is permanent for the socket's lifetime.
func (p *Poller) Register(h api.Handle, flags api.PollFlags, tag uintptr) error {
	if p.closed.Load() {
		return api.ErrInvalidHandle
	}
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	s := p.net.lookup(h)
	if s == nil {
		return api.ErrInvalidHandle
	}
	if s.poller != nil && s.poller != p {
		return fmt.Errorf("fake: handle already registered elsewhere: %w", api.ErrInvalidState)
	}
	s.poller = p
	s.tag = tag
	p.registered.Add(1)
	return nil
}

// Reregister revalidates a registration. Interest is implied by issued
// operations on this backend, so only the handle and tag are checked.
func (p *Poller) Reregister(h api.Handle, flags api.PollFlags, tag uintptr) error {
	if p.closed.Load() {
		return api.ErrInvalidHandle
	}
	p.net.mu.Lock()
	defer p.net.mu.Unlock()
	s := p.net.lookup(h)
	if s == nil || s.poller != p {
		return api.ErrInvalidHandle
	}
	if s.tag != tag {
		return fmt.Errorf("fake: tag cannot change after Register: %w", api.ErrInvalidArgument)
	}
	return nil
}

// Send queues a synthetic wakeup carrying tag. Safe from any goroutine.
func (p *Poller) Send(tag uintptr) error {
	if p.closed.Load() {
		return api.ErrInvalidHandle
	}
	p.wakeups.Add(1)
	p.push(api.Event{Tag: tag, Result: api.Result{Status: api.StatusCompleted}})
	return nil
}

// Poll drains pending events into events and blocks per timeout when none
// are queued. A negative timeout blocks until an event or Close; zero
// performs a single non-blocking drain.
func (p *Poller) Poll(events []api.Event, timeout time.Duration) (int, error) {
	if len(events) == 0 {
		return 0, fmt.Errorf("fake: empty event buffer: %w", api.ErrInvalidArgument)
	}
	if p.closed.Load() {
		return 0, api.ErrInvalidHandle
	}
	p.polls.Add(1)

	var expire <-chan time.Time
	if timeout >= 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expire = t.C
	}
	for {
		if n := p.drain(events); n > 0 {
			p.delivered.Add(uint64(n))
			return n, nil
		}
		select {
		case <-p.wake:
		case <-expire:
			return 0, nil
		case <-p.done:
			return 0, api.ErrInvalidHandle
		}
	}
}

// Close shuts the poller down and releases blocked Poll calls.
func (p *Poller) Close() error {
	if p.closed.Swap(true) {
		return nil
	}
	close(p.done)
	return nil
}

// Stats reports counters accumulated since creation.
func (p *Poller) Stats() api.PollerStats {
	return api.PollerStats{
		Registered: p.registered.Load(),
		Polls:      p.polls.Load(),
		Events:     p.delivered.Load(),
		Wakeups:    p.wakeups.Load(),
	}
}

// push appends an event and arms the wake channel. Callers may hold
// net.mu; push only takes the poller's own lock.
func (p *Poller) push(ev api.Event) {
	if p.closed.Load() {
		return
	}
	p.mu.Lock()
	p.events.Add(ev)
	p.mu.Unlock()
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// drain moves queued events into the caller's slice. When events remain
// after filling the slice the wake channel is re-armed so a concurrent
// Poll picks them up.
func (p *Poller) drain(events []api.Event) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for n < len(events) && p.events.Length() > 0 {
		events[n] = p.events.Remove().(api.Event)
		n++
	}
	if p.events.Length() > 0 {
		select {
		case p.wake <- struct{}{}:
		default:
		}
	}
	return n
}

var _ api.Poller = (*Poller)(nil)
