//go:build linux
// +build linux

// File: sock/sock_linux_test.go
// Author: momentics <momentics@gmail.com>
//
// Integration tests for the epoll backend over real loopback sockets.

package sock_test

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-io/api"
	"github.com/momentics/hioload-io/sock"
)

func newPlatform(t *testing.T) *sock.Platform {
	t.Helper()
	p, err := sock.Initialize()
	if err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	t.Cleanup(p.Cleanup)
	return p
}

func newPoller(t *testing.T, p *sock.Platform) api.Poller {
	t.Helper()
	poller, err := sock.NewPoller(p)
	if err != nil {
		t.Fatalf("NewPoller: %v", err)
	}
	t.Cleanup(func() { poller.Close() })
	return poller
}

func newTCP(t *testing.T, p *sock.Platform) api.Socket {
	t.Helper()
	s, err := sock.NewSocket(p, api.SockIPv4|api.SockStream)
	if err != nil {
		t.Fatalf("NewSocket: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func newUDP(t *testing.T, p *sock.Platform) api.Socket {
	t.Helper()
	s, err := sock.NewSocket(p, api.SockIPv4|api.SockDgram)
	if err != nil {
		t.Fatalf("NewSocket: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func bindLoopback(t *testing.T, s api.Socket) api.Address {
	t.Helper()
	if err := s.Bind(api.AddrIPv4([4]byte{127, 0, 0, 1}, 0)); err != nil {
		t.Fatalf("Bind: %v", err)
	}
	la, err := s.LocalAddr()
	if err != nil {
		t.Fatalf("LocalAddr: %v", err)
	}
	if la.Port() == 0 {
		t.Fatal("kernel did not assign a port")
	}
	return la
}

// sink drains a poller and hands out events by predicate. Edge-triggered
// events fire once, so anything drained while waiting for something else is
// kept for later waits instead of being dropped.
type sink struct {
	t       *testing.T
	p       api.Poller
	pending []api.Event
}

func (s *sink) wait(what string, match func(api.Event) bool) api.Event {
	s.t.Helper()
	for i, ev := range s.pending {
		if match(ev) {
			s.pending = append(s.pending[:i], s.pending[i+1:]...)
			return ev
		}
	}
	events := make([]api.Event, 16)
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		n, err := s.p.Poll(events, 100*time.Millisecond)
		if err != nil {
			s.t.Fatalf("Poll: %v", err)
		}
		found := -1
		for i := 0; i < n; i++ {
			if found < 0 && match(events[i]) {
				found = i
				continue
			}
			s.pending = append(s.pending, events[i])
		}
		if found >= 0 {
			return events[found]
		}
	}
	s.t.Fatalf("no event for %s within 2s", what)
	return api.Event{}
}

// connectConverged drives the non-blocking connect until it completes.
func connectConverged(t *testing.T, sk *sink, s api.Socket, tag uintptr, addr api.Address) {
	t.Helper()
	res, err := s.Connect(addr)
	if err != nil {
		t.Fatalf("Connect: %v", err)
	}
	for res.Status == api.StatusRetry {
		sk.wait("connect writability", func(ev api.Event) bool {
			return ev.Tag == tag && s.IsWriteable(ev)
		})
		if res, err = s.Connect(addr); err != nil {
			t.Fatalf("Connect after writability: %v", err)
		}
	}
}

func TestTCPEchoLifecycle(t *testing.T) {
	plat := newPlatform(t)
	poller := newPoller(t, plat)
	sk := &sink{t: t, p: poller}

	listener := newTCP(t, plat)
	if err := listener.SetOption(api.OptReuseAddr, 1); err != nil {
		t.Fatalf("SetOption: %v", err)
	}
	la := bindLoopback(t, listener)
	if err := listener.Listen(16); err != nil {
		t.Fatalf("Listen: %v", err)
	}
	if err := poller.Register(listener.Handle(), api.PollRead, 1); err != nil {
		t.Fatalf("Register: %v", err)
	}

	client := newTCP(t, plat)
	if err := poller.Register(client.Handle(), api.PollRead|api.PollWrite, 2); err != nil {
		t.Fatalf("Register: %v", err)
	}
	connectConverged(t, sk, client, 2, la)

	sk.wait("listener readability", func(ev api.Event) bool {
		return ev.Tag == 1 && listener.IsReadable(ev)
	})
	inc := api.Incoming{Buf: make([]byte, sock.RequiredIncomingSize())}
	res, err := listener.Accept(&inc)
	if err != nil {
		t.Fatalf("Accept: %v", err)
	}
	if res.Status != api.StatusCompleted {
		t.Fatalf("Accept after readability: status %v", res.Status)
	}

	cla, err := client.LocalAddr()
	if err != nil {
		t.Fatalf("client LocalAddr: %v", err)
	}
	if inc.Remote != cla {
		t.Errorf("accepted Remote = %v, want %v", &inc.Remote, &cla)
	}
	if inc.Local != la {
		t.Errorf("accepted Local = %v, want %v", &inc.Local, &la)
	}

	conn, err := listener.FinishAccept(&inc)
	if err != nil {
		t.Fatalf("FinishAccept: %v", err)
	}
	defer conn.Close()
	if err := poller.Register(conn.Handle(), api.PollRead, 3); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// An empty send buffer takes a small gather write inline.
	msg := []byte("ping")
	res, err = client.Send(nil, []api.Buffer{msg[:2], msg[2:]})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != api.StatusCompleted || res.Data != len(msg) {
		t.Fatalf("Send: %+v", res)
	}

	sk.wait("conn readability", func(ev api.Event) bool {
		return ev.Tag == 3 && conn.IsReadable(ev)
	})
	front, back := make([]byte, 2), make([]byte, 16)
	res, err = conn.Recv(nil, []api.Buffer{front, back})
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if res.Status != api.StatusCompleted || res.Data != len(msg) {
		t.Fatalf("Recv: %+v", res)
	}
	got := append(append([]byte{}, front...), back[:res.Data-len(front)]...)
	if !bytes.Equal(got, msg) {
		t.Fatalf("Recv scattered %q, want %q", got, msg)
	}

	// Nothing more queued: the re-issued receive reports StatusRetry.
	if res, err = conn.Recv(nil, []api.Buffer{back}); err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if res.Status != api.StatusRetry {
		t.Fatalf("Recv on drained socket: status %v, want StatusRetry", res.Status)
	}

	// Orderly shutdown: the peer close surfaces as readability, and the
	// receive completes with zero bytes.
	if err := conn.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	sk.wait("end of stream", func(ev api.Event) bool {
		return ev.Tag == 2 && client.IsReadable(ev)
	})
	res, err = client.Recv(nil, []api.Buffer{back})
	if err != nil {
		t.Fatalf("Recv at end of stream: %v", err)
	}
	if res.Status != api.StatusCompleted || res.Data != 0 {
		t.Fatalf("Recv at end of stream: %+v", res)
	}
}

func TestConnectRefused(t *testing.T) {
	plat := newPlatform(t)
	poller := newPoller(t, plat)
	sk := &sink{t: t, p: poller}

	// Bind and close to learn a port nobody listens on.
	probe := newTCP(t, plat)
	gone := bindLoopback(t, probe)
	probe.Close()

	client := newTCP(t, plat)
	if err := poller.Register(client.Handle(), api.PollRead|api.PollWrite, 4); err != nil {
		t.Fatalf("Register: %v", err)
	}

	res, err := client.Connect(gone)
	if err == nil && res.Status == api.StatusRetry {
		// The refusal arrives as writability with the error bit; the
		// re-issued Connect surfaces it.
		sk.wait("connect failure", func(ev api.Event) bool {
			return ev.Tag == 4 && client.IsWriteable(ev)
		})
		_, err = client.Connect(gone)
	}
	if !errors.Is(err, api.ErrConnectionRefused) {
		t.Fatalf("refused connect: %v, want ErrConnectionRefused", err)
	}
	var ose *api.OSError
	if !errors.As(err, &ose) {
		t.Fatalf("refused connect did not carry an OSError: %v", err)
	}
	if !errors.Is(err, unix.ECONNREFUSED) {
		t.Fatalf("raw errno lost: %v", err)
	}
}

func TestSendWakeupTagFidelity(t *testing.T) {
	plat := newPlatform(t)
	poller := newPoller(t, plat)

	events := make([]api.Event, 4)
	for _, tag := range []uintptr{0, ^uintptr(0)} {
		if err := poller.Send(tag); err != nil {
			t.Fatalf("Send(%#x): %v", tag, err)
		}
		n, err := poller.Poll(events, time.Second)
		if err != nil {
			t.Fatalf("Poll: %v", err)
		}
		if n != 1 {
			t.Fatalf("Poll = %d events, want 1", n)
		}
		if events[0].Tag != tag {
			t.Fatalf("wakeup tag %#x arrived as %#x", tag, events[0].Tag)
		}
		if events[0].Result.Status != api.StatusCompleted || events[0].Ready != 0 {
			t.Fatalf("wakeup event: %+v", events[0])
		}
	}
}

func TestSendUnblocksPoll(t *testing.T) {
	plat := newPlatform(t)
	poller := newPoller(t, plat)

	done := make(chan uintptr, 1)
	go func() {
		events := make([]api.Event, 1)
		for {
			n, err := poller.Poll(events, -1)
			if err != nil {
				done <- 0
				return
			}
			if n > 0 {
				done <- events[0].Tag
				return
			}
		}
	}()

	time.Sleep(10 * time.Millisecond)
	if err := poller.Send(99); err != nil {
		t.Fatalf("Send: %v", err)
	}
	select {
	case tag := <-done:
		if tag != 99 {
			t.Fatalf("blocked Poll woke with tag %d, want 99", tag)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not unblock Poll")
	}
}

func TestPollTimeout(t *testing.T) {
	plat := newPlatform(t)
	poller := newPoller(t, plat)

	events := make([]api.Event, 1)

	start := time.Now()
	n, err := poller.Poll(events, 0)
	if err != nil || n != 0 {
		t.Fatalf("Poll(0) = %d, %v", n, err)
	}
	if time.Since(start) > 100*time.Millisecond {
		t.Fatal("Poll with zero timeout blocked")
	}

	start = time.Now()
	n, err = poller.Poll(events, 20*time.Millisecond)
	if err != nil || n != 0 {
		t.Fatalf("Poll(20ms) = %d, %v", n, err)
	}
	if elapsed := time.Since(start); elapsed < 10*time.Millisecond {
		t.Fatalf("Poll returned after %v, before the timeout", elapsed)
	}
}

func TestUDPRoundTrip(t *testing.T) {
	plat := newPlatform(t)
	poller := newPoller(t, plat)
	sk := &sink{t: t, p: poller}

	a := newUDP(t, plat)
	aAddr := bindLoopback(t, a)
	if err := poller.Register(a.Handle(), api.PollRead, 1); err != nil {
		t.Fatalf("Register: %v", err)
	}

	b := newUDP(t, plat)
	bAddr := bindLoopback(t, b)

	payload := []byte("datagram")
	res, err := b.Send(&aAddr, []api.Buffer{payload[:3], payload[3:]})
	if err != nil {
		t.Fatalf("Send: %v", err)
	}
	if res.Status != api.StatusCompleted || res.Data != len(payload) {
		t.Fatalf("Send: %+v", res)
	}

	sk.wait("datagram readability", func(ev api.Event) bool {
		return ev.Tag == 1 && a.IsReadable(ev)
	})
	var from api.Address
	buf := make([]byte, 64)
	res, err = a.Recv(&from, []api.Buffer{buf})
	if err != nil {
		t.Fatalf("Recv: %v", err)
	}
	if res.Data != len(payload) || !bytes.Equal(buf[:res.Data], payload) {
		t.Fatalf("Recv: %d bytes %q", res.Data, buf[:res.Data])
	}
	if from != bAddr {
		t.Fatalf("captured peer %v, want %v", &from, &bAddr)
	}
}

func TestReregisterReplacesInterestAndTag(t *testing.T) {
	plat := newPlatform(t)
	poller := newPoller(t, plat)
	sk := &sink{t: t, p: poller}

	a := newUDP(t, plat)
	aAddr := bindLoopback(t, a)

	// A datagram socket is writable from the start, so write interest
	// yields an immediate edge.
	if err := poller.Register(a.Handle(), api.PollWrite, 5); err != nil {
		t.Fatalf("Register: %v", err)
	}
	sk.wait("initial writability", func(ev api.Event) bool {
		return ev.Tag == 5 && ev.Ready&api.ReadyWrite != 0
	})

	// Swap to read interest under a new tag; traffic must arrive there.
	if err := poller.Reregister(a.Handle(), api.PollRead, 6); err != nil {
		t.Fatalf("Reregister: %v", err)
	}
	b := newUDP(t, plat)
	bindLoopback(t, b)
	if _, err := b.Send(&aAddr, []api.Buffer{[]byte("x")}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	sk.wait("readability on the new tag", func(ev api.Event) bool {
		return ev.Tag == 6 && ev.Ready&api.ReadyRead != 0
	})
}

func TestSocketOptions(t *testing.T) {
	plat := newPlatform(t)

	s := newTCP(t, plat)
	if err := s.SetOption(api.OptNoDelay, 1); err != nil {
		t.Fatalf("SetOption(OptNoDelay): %v", err)
	}
	if v, err := s.GetOption(api.OptNoDelay); err != nil || v == 0 {
		t.Fatalf("GetOption(OptNoDelay) = %d, %v", v, err)
	}
	if err := s.SetOption(api.OptKeepAlive, 1); err != nil {
		t.Fatalf("SetOption(OptKeepAlive): %v", err)
	}
	if v, err := s.GetOption(api.OptKeepAlive); err != nil || v == 0 {
		t.Fatalf("GetOption(OptKeepAlive) = %d, %v", v, err)
	}

	// The kernel may round buffer sizes up, never below the request.
	if err := s.SetOption(api.OptRecvBuffer, 64<<10); err != nil {
		t.Fatalf("SetOption(OptRecvBuffer): %v", err)
	}
	if v, err := s.GetOption(api.OptRecvBuffer); err != nil || v < 64<<10 {
		t.Fatalf("GetOption(OptRecvBuffer) = %d, %v", v, err)
	}

	if err := s.SetOption(api.Option(99), 1); !errors.Is(err, api.ErrInvalidOption) {
		t.Fatalf("unknown option: %v, want ErrInvalidOption", err)
	}
}

func TestBindConflictMapsErrno(t *testing.T) {
	plat := newPlatform(t)

	a := newTCP(t, plat)
	addr := bindLoopback(t, a)
	if err := a.Listen(1); err != nil {
		t.Fatalf("Listen: %v", err)
	}

	b := newTCP(t, plat)
	err := b.Bind(addr)
	if !errors.Is(err, api.ErrAddressInUse) {
		t.Fatalf("conflicting Bind: %v, want ErrAddressInUse", err)
	}
	if !errors.Is(err, unix.EADDRINUSE) {
		t.Fatalf("raw errno lost: %v", err)
	}
}

func TestFromHandleWrapsDescriptor(t *testing.T) {
	plat := newPlatform(t)

	s := newTCP(t, plat)
	addr := bindLoopback(t, s)

	w, err := sock.FromHandle(plat, s.Handle(), api.SockIPv4|api.SockStream)
	if err != nil {
		t.Fatalf("FromHandle: %v", err)
	}
	wa, err := w.LocalAddr()
	if err != nil {
		t.Fatalf("LocalAddr through wrapper: %v", err)
	}
	if wa != addr {
		t.Fatalf("wrapper sees %v, want %v", &wa, &addr)
	}
}

func TestCloseSemantics(t *testing.T) {
	plat := newPlatform(t)
	poller := newPoller(t, plat)

	s := newTCP(t, plat)
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := s.Recv(nil, []api.Buffer{make([]byte, 4)}); !errors.Is(err, api.ErrInvalidHandle) {
		t.Fatalf("Recv on closed socket: %v, want ErrInvalidHandle", err)
	}

	if err := poller.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := poller.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}
	if _, err := poller.Poll(make([]api.Event, 1), 0); !errors.Is(err, api.ErrInvalidHandle) {
		t.Fatalf("Poll on closed poller: %v, want ErrInvalidHandle", err)
	}
	if err := poller.Send(1); !errors.Is(err, api.ErrInvalidHandle) {
		t.Fatalf("Send on closed poller: %v, want ErrInvalidHandle", err)
	}
}

func TestStatsAccumulate(t *testing.T) {
	plat := newPlatform(t)
	poller := newPoller(t, plat)

	s := newUDP(t, plat)
	bindLoopback(t, s)
	if err := poller.Register(s.Handle(), api.PollRead, 1); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := poller.Send(2); err != nil {
		t.Fatalf("Send: %v", err)
	}
	events := make([]api.Event, 4)
	if _, err := poller.Poll(events, time.Second); err != nil {
		t.Fatalf("Poll: %v", err)
	}

	st := poller.Stats()
	if st.Registered != 1 || st.Wakeups != 1 || st.Polls == 0 || st.Events == 0 {
		t.Fatalf("Stats: %+v", st)
	}
}
