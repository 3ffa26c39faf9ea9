//go:build windows
// +build windows

// File: sock/sock_windows.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Overlapped socket backend. Every socket carries one recv-class and one
// send-class operation record; the overlapped struct sits first in the
// record so a dequeued completion entry points straight back at it.

package sock

import (
	"fmt"
	"sync/atomic"
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-io/api"
)

// Operation classes. Recv and accept share the recv-class record, connect
// and send the send-class record.
const (
	opNone uint8 = iota
	opRecv
	opSend
	opConnect
	opAccept
)

func opName(mode uint8) string {
	switch mode {
	case opRecv:
		return "recv"
	case opSend:
		return "send"
	case opConnect:
		return "connect"
	case opAccept:
		return "accept"
	default:
		return "op"
	}
}

// acceptAddrLen is the per-address block AcceptEx writes into Incoming.Buf:
// the largest supported sockaddr plus the 16 bytes of slack the provider
// demands.
const acceptAddrLen = uint32(unsafe.Sizeof(windows.RawSockaddrInet6{})) + 16

// RequiredIncomingSize reports the Incoming.Buf length Accept needs on this
// backend: one local and one remote address block.
func RequiredIncomingSize() int { return int(2 * acceptAddrLen) }

// operation is the pinned per-operation state handed to the OS. The
// overlapped struct must stay the first field: completion entries carry its
// address and the poller casts it back to *operation.
type operation struct {
	o       windows.Overlapped
	s       *winSocket
	mode    uint8
	pending atomic.Bool

	// Pinned while the operation is in flight.
	wsabufs []windows.WSABuf
	pinned  []api.Buffer
	raddr   api.Address // ConnectEx destination
	addr    *api.Address
	inc     *api.Incoming
	rsa     windows.RawSockaddrAny
	rsan    int32
	qty     uint32
	flags   uint32
}

func (op *operation) id() uintptr { return uintptr(unsafe.Pointer(&op.o)) }

// begin claims the record for a new operation. Only one operation per class
// may be in flight.
func (op *operation) begin(mode uint8) error {
	if !op.pending.CompareAndSwap(false, true) {
		return fmt.Errorf("sock: %s already pending: %w", opName(mode), api.ErrInvalidState)
	}
	op.o = windows.Overlapped{}
	op.mode = mode
	op.wsabufs = op.wsabufs[:0]
	op.pinned = op.pinned[:0]
	op.addr = nil
	op.inc = nil
	op.qty = 0
	op.flags = 0
	return nil
}

// abort releases the record after a synchronous failure.
func (op *operation) abort() { op.pending.Store(false) }

// pin builds the WSABuf array and keeps the caller's slices reachable until
// the operation concludes.
func (op *operation) pin(bufs []api.Buffer) {
	for _, b := range bufs {
		wb := windows.WSABuf{Len: uint32(len(b))}
		if len(b) > 0 {
			wb.Buf = &b[0]
		}
		op.wsabufs = append(op.wsabufs, wb)
		op.pinned = append(op.pinned, b)
	}
}

// finish runs on the poll path after the completion entry was decoded. It
// copies out the datagram peer, performs the connect-context update a
// successfully connected handle requires, and releases the record.
func (op *operation) finish(ev *api.Event) {
	switch op.mode {
	case opRecv:
		if op.addr != nil && ev.Result.Status == api.StatusCompleted {
			_ = addrFromRawSockaddr(op.addr, &op.rsa, op.rsan)
		}
	case opConnect:
		if ev.Result.Status == api.StatusCompleted {
			if err := op.s.updateConnectContext(); err != nil && ev.Err == nil {
				ev.Err = err
			}
		}
	}
	op.pending.Store(false)
}

// decodeError recovers the OS error of a failed completion.
func (op *operation) decodeError() error {
	errno := wsaGetOverlappedResult(op.s.handle, &op.o)
	if errno == 0 {
		return nil
	}
	return api.NewOSError("overlapped "+opName(op.mode), errno, mapErrno(errno))
}

type winSocket struct {
	handle windows.Handle
	family int32
	sotype int32
	flags  api.SocketFlags
	p      *Platform
	bound  atomic.Bool
	closed atomic.Bool
	rop    operation
	wop    operation
}

var _ api.Socket = (*winSocket)(nil)

// NewSocket creates an overlapped socket for the requested family and type.
func NewSocket(p *Platform, flags api.SocketFlags) (api.Socket, error) {
	if p == nil {
		return nil, fmt.Errorf("sock: platform not initialized: %w", api.ErrInvalidState)
	}
	family, sotype, proto, err := socketParams(flags)
	if err != nil {
		return nil, err
	}
	h, err := windows.WSASocket(family, sotype, proto, nil, 0,
		windows.WSA_FLAG_OVERLAPPED|windows.WSA_FLAG_NO_HANDLE_INHERIT)
	if err != nil {
		return nil, api.NewOSError("wsasocket", err, mapErrno(err))
	}
	return newWinSocket(p, h, family, sotype, flags), nil
}

// FromHandle wraps an existing overlapped socket handle. The flags must
// describe the handle truthfully; the library cannot verify them.
func FromHandle(p *Platform, h api.Handle, flags api.SocketFlags) (api.Socket, error) {
	if p == nil {
		return nil, fmt.Errorf("sock: platform not initialized: %w", api.ErrInvalidState)
	}
	if h == api.InvalidHandle {
		return nil, api.ErrInvalidHandle
	}
	family, sotype, _, err := socketParams(flags)
	if err != nil {
		return nil, err
	}
	return newWinSocket(p, windows.Handle(h), family, sotype, flags), nil
}

func newWinSocket(p *Platform, h windows.Handle, family, sotype int32, flags api.SocketFlags) *winSocket {
	s := &winSocket{handle: h, family: family, sotype: sotype, flags: flags, p: p}
	s.rop.s = s
	s.wop.s = s
	return s
}

func socketParams(flags api.SocketFlags) (family, sotype, proto int32, err error) {
	switch flags & (api.SockIPv4 | api.SockIPv6) {
	case api.SockIPv4:
		family = windows.AF_INET
	case api.SockIPv6:
		family = windows.AF_INET6
	default:
		return 0, 0, 0, fmt.Errorf("sock: exactly one family flag required: %w", api.ErrInvalidArgument)
	}
	switch flags & (api.SockStream | api.SockDgram) {
	case api.SockStream:
		sotype, proto = windows.SOCK_STREAM, windows.IPPROTO_TCP
	case api.SockDgram:
		sotype, proto = windows.SOCK_DGRAM, windows.IPPROTO_UDP
	default:
		return 0, 0, 0, fmt.Errorf("sock: exactly one type flag required: %w", api.ErrInvalidArgument)
	}
	return family, sotype, proto, nil
}

func (s *winSocket) Handle() api.Handle { return api.Handle(s.handle) }

func (s *winSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := windows.Closesocket(s.handle); err != nil {
		return api.NewOSError("closesocket", err, mapErrno(err))
	}
	return nil
}

func (s *winSocket) Bind(addr api.Address) error {
	sa, err := windowsSockaddr(&addr)
	if err != nil {
		return err
	}
	if err := windows.Bind(s.handle, sa); err != nil {
		return api.NewOSError("bind", err, mapErrno(err))
	}
	s.bound.Store(true)
	return nil
}

func (s *winSocket) Listen(backlog int) error {
	if err := windows.Listen(s.handle, backlog); err != nil {
		return api.NewOSError("listen", err, mapErrno(err))
	}
	return nil
}

// Connect starts an asynchronous connect through the resolved ConnectEx
// entry point. ConnectEx refuses unbound sockets, so an explicit Bind is
// replaced by a wildcard bind on first use. The destination is copied into
// the operation record; the OS reads it from there while the connect is in
// flight.
func (s *winSocket) Connect(addr api.Address) (api.Result, error) {
	if s.closed.Load() {
		return api.Result{}, api.ErrInvalidHandle
	}
	if !addr.IsValid() {
		return api.Result{}, fmt.Errorf("sock: connect needs a valid address: %w", api.ErrInvalidArgument)
	}
	if err := s.wop.begin(opConnect); err != nil {
		return api.Result{}, err
	}
	if !s.bound.Load() {
		if err := s.bindWildcard(); err != nil {
			s.wop.abort()
			return api.Result{}, err
		}
	}

	s.wop.raddr = addr
	raw := s.wop.raddr.Raw()
	r1, _, errno := syscall.SyscallN(s.p.connectEx,
		uintptr(s.handle),
		uintptr(unsafe.Pointer(&raw[0])),
		uintptr(len(raw)),
		0, // no send-with-connect buffer
		0,
		uintptr(unsafe.Pointer(&s.wop.qty)),
		uintptr(unsafe.Pointer(&s.wop.o)),
	)
	if r1 == 0 {
		if errno == windows.ERROR_IO_PENDING {
			return api.Result{Status: api.StatusRetry}, nil
		}
		s.wop.abort()
		return api.Result{}, api.NewOSError("connectex", errno, mapErrno(errno))
	}

	// Inline success; the port stays silent for it.
	s.wop.pending.Store(false)
	if err := s.updateConnectContext(); err != nil {
		return api.Result{}, err
	}
	return api.Result{Status: api.StatusCompleted}, nil
}

func (s *winSocket) bindWildcard() error {
	var sa windows.Sockaddr
	if s.family == windows.AF_INET6 {
		sa = &windows.SockaddrInet6{}
	} else {
		sa = &windows.SockaddrInet4{}
	}
	if err := windows.Bind(s.handle, sa); err != nil {
		return api.NewOSError("bind", err, mapErrno(err))
	}
	s.bound.Store(true)
	return nil
}

// updateConnectContext finalizes a ConnectEx-established connection;
// without it the handle rejects getpeername, shutdown and the like.
func (s *winSocket) updateConnectContext() error {
	err := windows.Setsockopt(s.handle, windows.SOL_SOCKET, windows.SO_UPDATE_CONNECT_CONTEXT, nil, 0)
	if err != nil {
		return api.NewOSError("update connect context", err, mapErrno(err))
	}
	return nil
}

// Accept starts an asynchronous accept through the resolved AcceptEx entry
// point. The connection socket is created up front and parked in inc.Conn;
// AcceptEx writes both address blocks into inc.Buf.
func (s *winSocket) Accept(inc *api.Incoming) (api.Result, error) {
	if s.closed.Load() {
		return api.Result{}, api.ErrInvalidHandle
	}
	if inc == nil || len(inc.Buf) < RequiredIncomingSize() {
		return api.Result{}, fmt.Errorf("sock: incoming buffer below %d bytes: %w",
			RequiredIncomingSize(), api.ErrInvalidArgument)
	}
	if err := s.rop.begin(opAccept); err != nil {
		return api.Result{}, err
	}
	conn, err := windows.WSASocket(s.family, s.sotype, 0, nil, 0,
		windows.WSA_FLAG_OVERLAPPED|windows.WSA_FLAG_NO_HANDLE_INHERIT)
	if err != nil {
		s.rop.abort()
		return api.Result{}, api.NewOSError("wsasocket", err, mapErrno(err))
	}
	s.rop.inc = inc
	inc.Conn = api.Handle(conn)

	r1, _, errno := syscall.SyscallN(s.p.acceptEx,
		uintptr(s.handle),
		uintptr(conn),
		uintptr(unsafe.Pointer(&inc.Buf[0])),
		0, // no receive-with-accept data
		uintptr(acceptAddrLen),
		uintptr(acceptAddrLen),
		uintptr(unsafe.Pointer(&s.rop.qty)),
		uintptr(unsafe.Pointer(&s.rop.o)),
	)
	if r1 == 0 {
		if errno == windows.ERROR_IO_PENDING {
			return api.Result{Status: api.StatusRetry}, nil
		}
		_ = windows.Closesocket(conn)
		inc.Conn = api.InvalidHandle
		s.rop.abort()
		return api.Result{}, api.NewOSError("acceptex", errno, mapErrno(errno))
	}

	s.rop.pending.Store(false)
	return api.Result{Status: api.StatusCompleted}, nil
}

// FinishAccept materializes the accepted connection: it runs the mandatory
// accept-context update, parses the two address blocks AcceptEx left in
// inc.Buf, and wraps the handle.
func (s *winSocket) FinishAccept(inc *api.Incoming) (api.Socket, error) {
	if inc == nil || inc.Conn == api.Handle(0) || inc.Conn == api.InvalidHandle {
		return nil, fmt.Errorf("sock: no accepted connection: %w", api.ErrInvalidArgument)
	}
	conn := windows.Handle(inc.Conn)

	// Until the update the handle has no associated provider context and
	// most calls on it fail.
	ls := s.handle
	err := windows.Setsockopt(conn, windows.SOL_SOCKET, windows.SO_UPDATE_ACCEPT_CONTEXT,
		(*byte)(unsafe.Pointer(&ls)), int32(unsafe.Sizeof(ls)))
	if err != nil {
		return nil, api.NewOSError("update accept context", err, mapErrno(err))
	}

	var (
		lrsa, rrsa *windows.RawSockaddrAny
		llen, rlen int32
	)
	windows.GetAcceptExSockaddrs(&inc.Buf[0], 0, acceptAddrLen, acceptAddrLen,
		&lrsa, &llen, &rrsa, &rlen)
	if err := addrFromRawSockaddr(&inc.Local, lrsa, llen); err != nil {
		return nil, err
	}
	if err := addrFromRawSockaddr(&inc.Remote, rrsa, rlen); err != nil {
		return nil, err
	}
	return newWinSocket(s.p, conn, s.family, s.sotype, s.flags), nil
}

// Recv starts a scatter receive. A non-nil addr selects the datagram path
// and receives the peer endpoint when the operation concludes.
func (s *winSocket) Recv(addr *api.Address, bufs []api.Buffer) (api.Result, error) {
	if s.closed.Load() {
		return api.Result{}, api.ErrInvalidHandle
	}
	if len(bufs) == 0 {
		return api.Result{}, fmt.Errorf("sock: recv needs at least one buffer: %w", api.ErrInvalidArgument)
	}
	if err := s.rop.begin(opRecv); err != nil {
		return api.Result{}, err
	}
	op := &s.rop
	op.pin(bufs)
	op.addr = addr

	var err error
	if addr != nil {
		op.rsan = int32(unsafe.Sizeof(op.rsa))
		err = windows.WSARecvFrom(s.handle, &op.wsabufs[0], uint32(len(op.wsabufs)),
			&op.qty, &op.flags, &op.rsa, &op.rsan, &op.o, nil)
	} else {
		err = windows.WSARecv(s.handle, &op.wsabufs[0], uint32(len(op.wsabufs)),
			&op.qty, &op.flags, &op.o, nil)
	}
	if err != nil {
		if err == windows.ERROR_IO_PENDING {
			return api.Result{Status: api.StatusRetry}, nil
		}
		op.abort()
		return api.Result{}, api.NewOSError("wsarecv", err, mapErrno(err))
	}

	// Inline completion; copy out the peer before releasing the record.
	if addr != nil {
		_ = addrFromRawSockaddr(addr, &op.rsa, op.rsan)
	}
	n := int(op.qty)
	op.pending.Store(false)
	return api.Result{Data: n, Status: api.StatusCompleted}, nil
}

// Send starts a gather send. A non-nil addr selects the datagram path and
// names the destination.
func (s *winSocket) Send(addr *api.Address, bufs []api.Buffer) (api.Result, error) {
	if s.closed.Load() {
		return api.Result{}, api.ErrInvalidHandle
	}
	if len(bufs) == 0 {
		return api.Result{}, fmt.Errorf("sock: send needs at least one buffer: %w", api.ErrInvalidArgument)
	}
	if err := s.wop.begin(opSend); err != nil {
		return api.Result{}, err
	}
	op := &s.wop
	op.pin(bufs)

	var err error
	if addr != nil {
		var sa windows.Sockaddr
		if sa, err = windowsSockaddr(addr); err != nil {
			op.abort()
			return api.Result{}, err
		}
		err = windows.WSASendto(s.handle, &op.wsabufs[0], uint32(len(op.wsabufs)),
			&op.qty, 0, sa, &op.o, nil)
	} else {
		err = windows.WSASend(s.handle, &op.wsabufs[0], uint32(len(op.wsabufs)),
			&op.qty, 0, &op.o, nil)
	}
	if err != nil {
		if err == windows.ERROR_IO_PENDING {
			return api.Result{Status: api.StatusRetry}, nil
		}
		op.abort()
		return api.Result{}, api.NewOSError("wsasend", err, mapErrno(err))
	}

	n := int(op.qty)
	op.pending.Store(false)
	return api.Result{Data: n, Status: api.StatusCompleted}, nil
}

// IsReadable reports whether the event belongs to this socket's recv-class
// operation (receive or accept).
func (s *winSocket) IsReadable(ev api.Event) bool {
	return ev.Op != 0 && ev.Op == s.rop.id()
}

// IsWriteable reports whether the event belongs to this socket's send-class
// operation (send or connect).
func (s *winSocket) IsWriteable(ev api.Event) bool {
	return ev.Op != 0 && ev.Op == s.wop.id()
}

func (s *winSocket) SetOption(opt api.Option, value int) error {
	level, name, err := sockoptParams(opt)
	if err != nil {
		return err
	}
	if err := windows.SetsockoptInt(s.handle, level, name, value); err != nil {
		return api.NewOSError("setsockopt", err, mapErrno(err))
	}
	return nil
}

func (s *winSocket) GetOption(opt api.Option) (int, error) {
	level, name, err := sockoptParams(opt)
	if err != nil {
		return 0, err
	}
	var v int32
	l := int32(unsafe.Sizeof(v))
	if err := windows.Getsockopt(s.handle, int32(level), int32(name), (*byte)(unsafe.Pointer(&v)), &l); err != nil {
		return 0, api.NewOSError("getsockopt", err, mapErrno(err))
	}
	return int(v), nil
}

func sockoptParams(opt api.Option) (level, name int, err error) {
	switch opt {
	case api.OptBroadcast:
		return windows.SOL_SOCKET, windows.SO_BROADCAST, nil
	case api.OptReuseAddr:
		return windows.SOL_SOCKET, windows.SO_REUSEADDR, nil
	case api.OptRecvBuffer:
		return windows.SOL_SOCKET, windows.SO_RCVBUF, nil
	case api.OptSendBuffer:
		return windows.SOL_SOCKET, windows.SO_SNDBUF, nil
	case api.OptKeepAlive:
		return windows.SOL_SOCKET, windows.SO_KEEPALIVE, nil
	case api.OptNoDelay:
		return windows.IPPROTO_TCP, windows.TCP_NODELAY, nil
	default:
		return 0, 0, fmt.Errorf("sock: option %d: %w", opt, api.ErrInvalidOption)
	}
}

func (s *winSocket) LocalAddr() (api.Address, error) {
	sa, err := windows.Getsockname(s.handle)
	if err != nil {
		return api.Address{}, api.NewOSError("getsockname", err, mapErrno(err))
	}
	return addrFromSockaddr(sa)
}
