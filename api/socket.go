// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Non-blocking socket contract implemented by every backend.

package api

// SocketFlags select the address family and socket type at creation.
// Exactly one family bit and one type bit must be set.
type SocketFlags uint32

const (
	SockIPv4 SocketFlags = 1 << iota
	SockIPv6
	SockStream
	SockDgram
)

// Option enumerates the socket options the contract exposes. Backends map
// them to their OS equivalents and reject unknown values with
// ErrInvalidOption.
type Option uint32

const (
	OptBroadcast Option = iota
	OptReuseAddr
	OptRecvBuffer
	OptSendBuffer
	OptKeepAlive
	OptNoDelay
)

// Socket is one OS socket plus the per-operation state the backend needs to
// keep operations asynchronous: on the completion backend a pinned
// recv-class and send-class operation record, on readiness backends just
// the non-blocking descriptor.
//
// No call on Socket blocks. At most one recv-class and one send-class
// operation may be outstanding at a time; issuing a second one while the
// first is pending fails with ErrInvalidState.
type Socket interface {
	// Handle exposes the OS handle for registration with a Poller.
	Handle() Handle

	// Close releases the handle. Outcomes of operations still in flight
	// are undefined. Closing twice is harmless.
	Close() error

	Bind(addr Address) error
	Listen(backlog int) error

	// Connect starts connecting to addr. StatusRetry means in flight:
	// completion backends announce the outcome with an event, readiness
	// backends deliver writability and the caller re-issues Connect to
	// converge on the result.
	Connect(addr Address) (Result, error)

	// Accept starts accepting into inc, which must stay allocated and
	// untouched until the operation concludes. inc.Buf must be at least
	// the backend's RequiredIncomingSize.
	Accept(inc *Incoming) (Result, error)

	// FinishAccept materializes the accepted connection once Accept has
	// concluded, filling inc.Remote/inc.Local and returning the connected
	// Socket. On the completion backend this also runs the accept-context
	// update the new handle needs before any other call works on it.
	FinishAccept(inc *Incoming) (Socket, error)

	// Recv starts a scatter receive. For datagram sockets a non-nil addr
	// captures the peer; stream sockets pass nil. A completed receive of
	// zero bytes on a stream socket means the peer shut down.
	Recv(addr *Address, bufs []Buffer) (Result, error)

	// Send starts a gather send. For unconnected datagram sockets addr
	// names the destination; stream sockets pass nil.
	Send(addr *Address, bufs []Buffer) (Result, error)

	// IsReadable and IsWriteable classify an event against this socket's
	// pending operations (completion backends) or its readiness bits
	// (readiness backends).
	IsReadable(ev Event) bool
	IsWriteable(ev Event) bool

	SetOption(opt Option, value int) error
	GetOption(opt Option) (int, error)

	// LocalAddr reports the locally bound endpoint.
	LocalAddr() (Address, error)
}
