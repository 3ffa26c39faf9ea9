// Package fake
// Author: momentics <momentics@gmail.com>

package fake

import (
	"fmt"

	"github.com/eapache/queue"

	"github.com/momentics/hioload-io/api"
)

// pendingRecv records a receive that found no data and is waiting for the
// peer. The buffers stay owned by the operation until its event fires.
type pendingRecv struct {
	addr *api.Address
	bufs []api.Buffer
}

// Socket is a loopback endpoint. Operations must be issued after Register,
// like on the completion backend: events for pending operations go to the
// bound poller. All state lives under the owning Network's mutex.
type Socket struct {
	net    *Network
	id     uint64
	handle api.Handle
	flags  api.SocketFlags
	stream bool

	// guarded by net.mu
	poller        *Poller
	tag           uintptr
	local         api.Address
	remote        api.Address
	bound         bool
	listening     bool
	connected     bool
	closed        bool
	peer          *Socket
	peerClosed    bool
	backlog       *queue.Queue // of *Socket
	acceptPending *api.Incoming
	inbox         *queue.Queue // of chunk
	rcarry        []byte       // stream bytes left over from a short scatter
	recvPending   *pendingRecv
	options       map[api.Option]int
}

// Operation tokens. Each socket owns two, one per operation class, so
// events map back to the issuing operation the same way completion-backend
// events do.
func (s *Socket) recvToken() uintptr { return uintptr(s.id << 1) }
func (s *Socket) sendToken() uintptr { return uintptr(s.id<<1 | 1) }

func (s *Socket) Handle() api.Handle { return s.handle }

// Close removes the socket from the network. The peer sees end of stream:
// a pending receive completes with zero bytes, later receives return zero
// inline, later sends fail with ErrConnectionReset.
func (s *Socket) Close() error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	s.closeLocked()
	return nil
}

func (s *Socket) closeLocked() {
	if s.closed {
		return
	}
	s.closed = true
	delete(s.net.handles, s.handle)
	if s.listening {
		delete(s.net.listeners, s.local)
		for s.backlog.Length() > 0 {
			s.backlog.Remove().(*Socket).closeLocked()
		}
	}
	if !s.stream && s.bound {
		delete(s.net.bound, s.local)
	}
	if p := s.peer; p != nil && !p.closed {
		p.peerClosed = true
		p.peer = nil
		if p.recvPending != nil && p.stream {
			p.recvPending = nil
			p.post(api.Event{Tag: p.tag, Op: p.recvToken(), Result: api.Result{Status: api.StatusCompleted}})
		}
	}
	s.peer = nil
	s.recvPending = nil
	s.acceptPending = nil
}

// Bind claims addr on the network. Port zero picks an ephemeral port.
func (s *Socket) Bind(addr api.Address) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return api.ErrInvalidHandle
	}
	if s.bound {
		return fmt.Errorf("fake: already bound: %w", api.ErrInvalidState)
	}
	if !addr.IsValid() {
		return fmt.Errorf("fake: bind needs a valid address: %w", api.ErrInvalidArgument)
	}
	if addr.Port() == 0 {
		addr.SetPort(s.net.ephemeralPort())
	}
	if _, taken := s.net.listeners[addr]; taken {
		return fmt.Errorf("fake: %v: %w", &addr, api.ErrAddressInUse)
	}
	if _, taken := s.net.bound[addr]; taken {
		return fmt.Errorf("fake: %v: %w", &addr, api.ErrAddressInUse)
	}
	s.local = addr
	s.bound = true
	if !s.stream {
		s.net.bound[addr] = s
	}
	return nil
}

// Listen makes a bound stream socket reachable by Connect.
func (s *Socket) Listen(backlog int) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return api.ErrInvalidHandle
	}
	if !s.stream {
		return fmt.Errorf("fake: listen on datagram socket: %w", api.ErrNotSupported)
	}
	if !s.bound || s.listening {
		return fmt.Errorf("fake: listen needs a bound, non-listening socket: %w", api.ErrInvalidState)
	}
	if _, taken := s.net.listeners[s.local]; taken {
		return fmt.Errorf("fake: %v: %w", &s.local, api.ErrAddressInUse)
	}
	s.net.listeners[s.local] = s
	s.listening = true
	s.backlog = queue.New()
	return nil
}

// Connect reaches the listener at addr. Stream sockets follow completion
// semantics: the call returns StatusRetry and the outcome arrives as an
// event, either StatusCompleted or StatusRetry with ErrConnectionRefused
// when nothing listens there. Datagram sockets just record the default peer
// and complete inline.
func (s *Socket) Connect(addr api.Address) (api.Result, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return api.Result{}, api.ErrInvalidHandle
	}
	if !addr.IsValid() {
		return api.Result{}, fmt.Errorf("fake: connect needs a valid address: %w", api.ErrInvalidArgument)
	}
	if !s.stream {
		s.remote = addr
		s.connected = true
		s.ensureLocalLocked()
		return api.Result{Status: api.StatusCompleted}, nil
	}
	if s.poller == nil {
		return api.Result{}, fmt.Errorf("fake: connect before Register: %w", api.ErrInvalidState)
	}
	if s.connected || s.listening {
		return api.Result{}, fmt.Errorf("fake: connect: %w", api.ErrInvalidState)
	}

	listener := s.net.listeners[addr]
	if listener == nil {
		s.post(api.Event{
			Tag:    s.tag,
			Op:     s.sendToken(),
			Result: api.Result{Status: api.StatusRetry},
			Err:    api.ErrConnectionRefused,
		})
		return api.Result{Status: api.StatusRetry}, nil
	}

	s.ensureLocalLocked()
	conn := s.net.newAcceptedLocked(s, listener)
	s.peer = conn
	s.remote = addr
	s.connected = true

	if inc := listener.acceptPending; inc != nil {
		listener.acceptPending = nil
		inc.Conn = conn.handle
		inc.Remote = conn.remote
		inc.Local = conn.local
		listener.post(api.Event{Tag: listener.tag, Op: listener.recvToken(), Result: api.Result{Status: api.StatusCompleted}})
	} else {
		listener.backlog.Add(conn)
	}

	s.post(api.Event{Tag: s.tag, Op: s.sendToken(), Result: api.Result{Status: api.StatusCompleted}})
	return api.Result{Status: api.StatusRetry}, nil
}

// newAcceptedLocked creates the server side of a fresh connection.
// Runs under net.mu.
func (n *Network) newAcceptedLocked(client, listener *Socket) *Socket {
	id := n.nextID.Add(1)
	conn := &Socket{
		net:       n,
		id:        id,
		handle:    api.Handle(id),
		flags:     listener.flags,
		stream:    true,
		local:     listener.local,
		remote:    client.local,
		bound:     true,
		connected: true,
		peer:      client,
		inbox:     queue.New(),
		options:   make(map[api.Option]int),
	}
	n.handles[conn.handle] = conn
	return conn
}

// ensureLocalLocked assigns an ephemeral local endpoint to sockets that
// start talking without an explicit Bind.
func (s *Socket) ensureLocalLocked() {
	if s.bound {
		return
	}
	port := s.net.ephemeralPort()
	if s.flags&api.SockIPv6 != 0 {
		s.local = api.AddrIPv6([16]byte{15: 1}, port, 0)
	} else {
		s.local = api.AddrIPv4([4]byte{127, 0, 0, 1}, port)
	}
	s.bound = true
	if !s.stream {
		s.net.bound[s.local] = s
	}
}

// Accept takes the next queued connection, or parks inc until one arrives.
// Inline completion fills inc immediately; otherwise the listener's event
// announces it and inc is filled by then.
func (s *Socket) Accept(inc *api.Incoming) (api.Result, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return api.Result{}, api.ErrInvalidHandle
	}
	if inc == nil {
		return api.Result{}, fmt.Errorf("fake: accept needs an Incoming: %w", api.ErrInvalidArgument)
	}
	if s.poller == nil || !s.listening {
		return api.Result{}, fmt.Errorf("fake: accept needs a registered listener: %w", api.ErrInvalidState)
	}
	if s.acceptPending != nil {
		return api.Result{}, fmt.Errorf("fake: accept already pending: %w", api.ErrInvalidState)
	}
	if s.backlog.Length() > 0 {
		conn := s.backlog.Remove().(*Socket)
		inc.Conn = conn.handle
		inc.Remote = conn.remote
		inc.Local = conn.local
		return api.Result{Status: api.StatusCompleted}, nil
	}
	s.acceptPending = inc
	return api.Result{Status: api.StatusRetry}, nil
}

// FinishAccept returns the Socket for a concluded accept. inc.Remote and
// inc.Local were filled when the accept completed.
func (s *Socket) FinishAccept(inc *api.Incoming) (api.Socket, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if inc == nil || inc.Conn == 0 || inc.Conn == api.InvalidHandle {
		return nil, fmt.Errorf("fake: no accepted connection in Incoming: %w", api.ErrInvalidArgument)
	}
	conn := s.net.lookup(inc.Conn)
	if conn == nil {
		return nil, api.ErrInvalidHandle
	}
	return conn, nil
}

// Recv scatters available data into bufs. With nothing to read the
// operation pends and concludes with an event once the peer sends; the
// buffers belong to the operation until then.
func (s *Socket) Recv(addr *api.Address, bufs []api.Buffer) (api.Result, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return api.Result{}, api.ErrInvalidHandle
	}
	if len(bufs) == 0 {
		return api.Result{}, fmt.Errorf("fake: recv needs buffers: %w", api.ErrInvalidArgument)
	}
	if s.poller == nil {
		return api.Result{}, fmt.Errorf("fake: recv before Register: %w", api.ErrInvalidState)
	}
	if s.recvPending != nil {
		return api.Result{}, fmt.Errorf("fake: recv already pending: %w", api.ErrInvalidState)
	}
	if s.inbox == nil {
		s.inbox = queue.New()
	}
	if s.stream && len(s.rcarry) > 0 {
		n := scatter(s.rcarry, bufs)
		s.rcarry = s.rcarry[n:]
		if len(s.rcarry) == 0 {
			s.rcarry = nil
		}
		return api.Result{Data: n, Status: api.StatusCompleted}, nil
	}
	if s.inbox.Length() > 0 {
		ch := s.inbox.Remove().(chunk)
		n := scatter(ch.data, bufs)
		if s.stream && n < len(ch.data) {
			s.rcarry = append(s.rcarry, ch.data[n:]...)
		}
		if addr != nil {
			*addr = ch.from
		}
		return api.Result{Data: n, Status: api.StatusCompleted}, nil
	}
	if s.stream && s.peerClosed {
		return api.Result{Status: api.StatusCompleted}, nil
	}
	s.recvPending = &pendingRecv{addr: addr, bufs: bufs}
	return api.Result{Status: api.StatusRetry}, nil
}

// Send gathers bufs and delivers them to the peer. Loopback transfer is
// immediate, so sends complete inline. Datagrams to an address nobody is
// bound to vanish, like unacknowledged UDP.
func (s *Socket) Send(addr *api.Address, bufs []api.Buffer) (api.Result, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return api.Result{}, api.ErrInvalidHandle
	}
	if len(bufs) == 0 {
		return api.Result{}, fmt.Errorf("fake: send needs buffers: %w", api.ErrInvalidArgument)
	}
	if s.poller == nil {
		return api.Result{}, fmt.Errorf("fake: send before Register: %w", api.ErrInvalidState)
	}

	if s.stream {
		if s.peerClosed {
			return api.Result{}, fmt.Errorf("fake: send: %w", api.ErrConnectionReset)
		}
		if !s.connected || s.peer == nil {
			return api.Result{}, fmt.Errorf("fake: send on unconnected stream socket: %w", api.ErrInvalidState)
		}
		data := flatten(bufs)
		s.peer.deliverLocked(chunk{data: data, from: s.local})
		return api.Result{Data: len(data), Status: api.StatusCompleted}, nil
	}

	var dst api.Address
	switch {
	case addr != nil:
		dst = *addr
	case s.connected:
		dst = s.remote
	default:
		return api.Result{}, fmt.Errorf("fake: datagram send needs a destination: %w", api.ErrInvalidArgument)
	}
	if !dst.IsValid() {
		return api.Result{}, fmt.Errorf("fake: datagram send needs a valid destination: %w", api.ErrInvalidArgument)
	}
	s.ensureLocalLocked()
	data := flatten(bufs)
	if target := s.net.bound[dst]; target != nil && !target.closed {
		target.deliverLocked(chunk{data: data, from: s.local})
	}
	return api.Result{Data: len(data), Status: api.StatusCompleted}, nil
}

// deliverLocked hands a chunk to this socket, completing a parked receive
// when one is waiting. Runs under net.mu.
func (s *Socket) deliverLocked(ch chunk) {
	if pr := s.recvPending; pr != nil {
		s.recvPending = nil
		n := scatter(ch.data, pr.bufs)
		if s.stream && n < len(ch.data) {
			s.rcarry = append(s.rcarry, ch.data[n:]...)
		}
		if pr.addr != nil {
			*pr.addr = ch.from
		}
		s.post(api.Event{
			Tag:    s.tag,
			Op:     s.recvToken(),
			Result: api.Result{Data: n, Status: api.StatusCompleted},
		})
		return
	}
	if s.inbox == nil {
		s.inbox = queue.New()
	}
	s.inbox.Add(ch)
}

// post sends an event to the socket's poller, if it still has one.
func (s *Socket) post(ev api.Event) {
	if s.poller != nil {
		s.poller.push(ev)
	}
}

// IsReadable reports whether ev concludes this socket's recv-class
// operation (receive or accept).
func (s *Socket) IsReadable(ev api.Event) bool { return ev.Op == s.recvToken() }

// IsWriteable reports whether ev concludes this socket's send-class
// operation (send or connect).
func (s *Socket) IsWriteable(ev api.Event) bool { return ev.Op == s.sendToken() }

// SetOption stores the value. The loopback transport has no behavior
// behind the options; they exist so portable setup code runs unchanged.
func (s *Socket) SetOption(opt api.Option, value int) error {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return api.ErrInvalidHandle
	}
	if opt > api.OptNoDelay {
		return fmt.Errorf("fake: option %d: %w", opt, api.ErrInvalidOption)
	}
	s.options[opt] = value
	return nil
}

// GetOption returns the stored value, zero before any SetOption.
func (s *Socket) GetOption(opt api.Option) (int, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return 0, api.ErrInvalidHandle
	}
	if opt > api.OptNoDelay {
		return 0, fmt.Errorf("fake: option %d: %w", opt, api.ErrInvalidOption)
	}
	return s.options[opt], nil
}

// LocalAddr reports the bound endpoint.
func (s *Socket) LocalAddr() (api.Address, error) {
	s.net.mu.Lock()
	defer s.net.mu.Unlock()
	if s.closed {
		return api.Address{}, api.ErrInvalidHandle
	}
	if !s.bound {
		return api.Address{}, fmt.Errorf("fake: socket not bound: %w", api.ErrInvalidState)
	}
	return s.local, nil
}

var _ api.Socket = (*Socket)(nil)
