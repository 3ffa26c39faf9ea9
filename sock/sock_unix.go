//go:build linux || darwin || dragonfly || freebsd
// +build linux darwin dragonfly freebsd

// File: sock/sock_unix.go
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Readiness-model socket backend shared by the epoll and kqueue pollers.
// Descriptors are non-blocking; operations either conclude immediately or
// report StatusRetry, and the caller re-issues them after the next
// readiness event. Scatter/gather I/O goes through one sendmsg/recvmsg
// pair.

package sock

import (
	"fmt"
	"sync/atomic"

	"golang.org/x/sys/unix"

	"github.com/momentics/hioload-io/api"
)

// RequiredIncomingSize reports the Incoming.Buf length Accept needs on this
// backend. Readiness accepts deliver addresses through the syscall itself,
// so no buffer is needed.
func RequiredIncomingSize() int { return 0 }

type fdSocket struct {
	fd     int
	family int
	sotype int
	flags  api.SocketFlags
	closed atomic.Bool
}

var _ api.Socket = (*fdSocket)(nil)

// NewSocket creates a non-blocking, close-on-exec socket for the requested
// family and type.
func NewSocket(p *Platform, flags api.SocketFlags) (api.Socket, error) {
	if p == nil {
		return nil, fmt.Errorf("sock: platform not initialized: %w", api.ErrInvalidState)
	}
	family, sotype, proto, err := socketParams(flags)
	if err != nil {
		return nil, err
	}
	fd, err := sysSocket(family, sotype, proto)
	if err != nil {
		return nil, api.NewOSError("socket", err, mapErrno(err))
	}
	return &fdSocket{fd: fd, family: family, sotype: sotype, flags: flags}, nil
}

// FromHandle wraps an existing descriptor. The descriptor must already be
// non-blocking; the flags must describe it truthfully.
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
	return &fdSocket{fd: int(h), family: family, sotype: sotype, flags: flags}, nil
}

func socketParams(flags api.SocketFlags) (family, sotype, proto int, err error) {
	switch flags & (api.SockIPv4 | api.SockIPv6) {
	case api.SockIPv4:
		family = unix.AF_INET
	case api.SockIPv6:
		family = unix.AF_INET6
	default:
		return 0, 0, 0, fmt.Errorf("sock: exactly one family flag required: %w", api.ErrInvalidArgument)
	}
	switch flags & (api.SockStream | api.SockDgram) {
	case api.SockStream:
		sotype, proto = unix.SOCK_STREAM, unix.IPPROTO_TCP
	case api.SockDgram:
		sotype, proto = unix.SOCK_DGRAM, unix.IPPROTO_UDP
	default:
		return 0, 0, 0, fmt.Errorf("sock: exactly one type flag required: %w", api.ErrInvalidArgument)
	}
	return family, sotype, proto, nil
}

func (s *fdSocket) Handle() api.Handle { return api.Handle(s.fd) }

func (s *fdSocket) Close() error {
	if !s.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := unix.Close(s.fd); err != nil {
		return api.NewOSError("close", err, mapErrno(err))
	}
	return nil
}

func (s *fdSocket) Bind(addr api.Address) error {
	sa, err := unixSockaddr(&addr)
	if err != nil {
		return err
	}
	if err := unix.Bind(s.fd, sa); err != nil {
		return api.NewOSError("bind", err, mapErrno(err))
	}
	return nil
}

func (s *fdSocket) Listen(backlog int) error {
	if err := unix.Listen(s.fd, backlog); err != nil {
		return api.NewOSError("listen", err, mapErrno(err))
	}
	return nil
}

// Connect drives the non-blocking connect state machine. The first call
// typically reports StatusRetry with the connect in progress; once the
// poller delivers writability the caller re-issues Connect, which converges
// through EISCONN on success or surfaces the pending socket error.
func (s *fdSocket) Connect(addr api.Address) (api.Result, error) {
	if s.closed.Load() {
		return api.Result{}, api.ErrInvalidHandle
	}
	if !addr.IsValid() {
		return api.Result{}, fmt.Errorf("sock: connect needs a valid address: %w", api.ErrInvalidArgument)
	}
	sa, err := unixSockaddr(&addr)
	if err != nil {
		return api.Result{}, err
	}
	switch err := unix.Connect(s.fd, sa); err {
	case nil, unix.EISCONN:
		return api.Result{Status: api.StatusCompleted}, nil
	case unix.EINPROGRESS, unix.EALREADY, unix.EINTR:
		return api.Result{Status: api.StatusRetry}, nil
	default:
		return api.Result{}, api.NewOSError("connect", err, mapErrno(err))
	}
}

// Accept takes one connection off the backlog. The accepted descriptor
// comes back non-blocking and close-on-exec; both endpoints are filled
// right away since the addresses arrive with the syscall.
func (s *fdSocket) Accept(inc *api.Incoming) (api.Result, error) {
	if s.closed.Load() {
		return api.Result{}, api.ErrInvalidHandle
	}
	if inc == nil {
		return api.Result{}, fmt.Errorf("sock: nil incoming: %w", api.ErrInvalidArgument)
	}
	nfd, sa, err := sysAccept(s.fd)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR, unix.ECONNABORTED:
			return api.Result{Status: api.StatusRetry}, nil
		}
		return api.Result{}, api.NewOSError("accept", err, mapErrno(err))
	}

	inc.Conn = api.Handle(nfd)
	if sa != nil {
		_ = addrFromUnixSockaddr(&inc.Remote, sa)
	}
	if lsa, err := unix.Getsockname(nfd); err == nil {
		_ = addrFromUnixSockaddr(&inc.Local, lsa)
	}
	return api.Result{Status: api.StatusCompleted}, nil
}

// FinishAccept wraps the accepted descriptor. Unlike the completion backend
// there is nothing left to finalize.
func (s *fdSocket) FinishAccept(inc *api.Incoming) (api.Socket, error) {
	if inc == nil || inc.Conn == api.Handle(0) || inc.Conn == api.InvalidHandle {
		return nil, fmt.Errorf("sock: no accepted connection: %w", api.ErrInvalidArgument)
	}
	return &fdSocket{fd: int(inc.Conn), family: s.family, sotype: s.sotype, flags: s.flags}, nil
}

// Recv performs a scatter receive. A non-nil addr captures the datagram
// peer. Zero bytes with a nil error on a stream socket is the peer's
// orderly shutdown.
func (s *fdSocket) Recv(addr *api.Address, bufs []api.Buffer) (api.Result, error) {
	if s.closed.Load() {
		return api.Result{}, api.ErrInvalidHandle
	}
	if len(bufs) == 0 {
		return api.Result{}, fmt.Errorf("sock: recv needs at least one buffer: %w", api.ErrInvalidArgument)
	}
	n, _, _, from, err := unix.RecvmsgBuffers(s.fd, bufferViews(bufs), nil, unix.MSG_DONTWAIT)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR:
			return api.Result{Status: api.StatusRetry}, nil
		}
		return api.Result{}, api.NewOSError("recvmsg", err, mapErrno(err))
	}
	if addr != nil && from != nil {
		_ = addrFromUnixSockaddr(addr, from)
	}
	return api.Result{Data: n, Status: api.StatusCompleted}, nil
}

// Send performs a gather send. A non-nil addr names the datagram
// destination. Partial sends report the transferred byte count; the caller
// advances its buffers and re-issues.
func (s *fdSocket) Send(addr *api.Address, bufs []api.Buffer) (api.Result, error) {
	if s.closed.Load() {
		return api.Result{}, api.ErrInvalidHandle
	}
	if len(bufs) == 0 {
		return api.Result{}, fmt.Errorf("sock: send needs at least one buffer: %w", api.ErrInvalidArgument)
	}
	var to unix.Sockaddr
	if addr != nil {
		var err error
		if to, err = unixSockaddr(addr); err != nil {
			return api.Result{}, err
		}
	}
	n, err := unix.SendmsgBuffers(s.fd, bufferViews(bufs), nil, to, unix.MSG_DONTWAIT)
	if err != nil {
		switch err {
		case unix.EAGAIN, unix.EINTR:
			return api.Result{Status: api.StatusRetry}, nil
		}
		return api.Result{}, api.NewOSError("sendmsg", err, mapErrno(err))
	}
	return api.Result{Data: n, Status: api.StatusCompleted}, nil
}

// IsReadable reports read-class readiness. Error and hangup bits count as
// readable so the caller observes the failure on its next receive.
func (s *fdSocket) IsReadable(ev api.Event) bool {
	return ev.Ready&(api.ReadyRead|api.ReadyError|api.ReadyHup) != 0
}

// IsWriteable reports write-class readiness. Error bits count as writable
// so a failed connect surfaces on the re-issued Connect.
func (s *fdSocket) IsWriteable(ev api.Event) bool {
	return ev.Ready&(api.ReadyWrite|api.ReadyError) != 0
}

func (s *fdSocket) SetOption(opt api.Option, value int) error {
	level, name, err := sockoptParams(opt)
	if err != nil {
		return err
	}
	if err := unix.SetsockoptInt(s.fd, level, name, value); err != nil {
		return api.NewOSError("setsockopt", err, mapErrno(err))
	}
	return nil
}

func (s *fdSocket) GetOption(opt api.Option) (int, error) {
	level, name, err := sockoptParams(opt)
	if err != nil {
		return 0, err
	}
	v, err := unix.GetsockoptInt(s.fd, level, name)
	if err != nil {
		return 0, api.NewOSError("getsockopt", err, mapErrno(err))
	}
	return v, nil
}

func sockoptParams(opt api.Option) (level, name int, err error) {
	switch opt {
	case api.OptBroadcast:
		return unix.SOL_SOCKET, unix.SO_BROADCAST, nil
	case api.OptReuseAddr:
		return unix.SOL_SOCKET, unix.SO_REUSEADDR, nil
	case api.OptRecvBuffer:
		return unix.SOL_SOCKET, unix.SO_RCVBUF, nil
	case api.OptSendBuffer:
		return unix.SOL_SOCKET, unix.SO_SNDBUF, nil
	case api.OptKeepAlive:
		return unix.SOL_SOCKET, unix.SO_KEEPALIVE, nil
	case api.OptNoDelay:
		return unix.IPPROTO_TCP, unix.TCP_NODELAY, nil
	default:
		return 0, 0, fmt.Errorf("sock: option %d: %w", opt, api.ErrInvalidOption)
	}
}

func (s *fdSocket) LocalAddr() (api.Address, error) {
	sa, err := unix.Getsockname(s.fd)
	if err != nil {
		return api.Address{}, api.NewOSError("getsockname", err, mapErrno(err))
	}
	var a api.Address
	if err := addrFromUnixSockaddr(&a, sa); err != nil {
		return api.Address{}, err
	}
	return a, nil
}

// bufferViews converts the contract's buffer list for the x/sys calls.
func bufferViews(bufs []api.Buffer) [][]byte {
	views := make([][]byte, len(bufs))
	for i := range bufs {
		views[i] = bufs[i]
	}
	return views
}
