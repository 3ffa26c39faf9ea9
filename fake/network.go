// Package fake
// Author: momentics <momentics@gmail.com>
//
// In-memory loopback backend implementing the full poller/socket contract
// with completion-model semantics. Used by the contract tests and demos;
// behaves like the completion backend (operations pend, events announce
// outcomes) without touching the OS.

package fake

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/momentics/hioload-io/api"
)

// RequiredIncomingSize reports the Incoming.Buf length Accept needs on this
// backend. Addresses travel in-process, so no buffer is needed.
func RequiredIncomingSize() int { return 0 }

// Network is an isolated in-memory address space. Sockets created on the
// same Network can reach each other; nothing else exists. One mutex guards
// all socket state, so state transitions are atomic across the whole
// loopback world.
type Network struct {
	mu        sync.Mutex
	handles   map[api.Handle]*Socket
	listeners map[api.Address]*Socket // stream sockets in Listen
	bound     map[api.Address]*Socket // datagram sockets after Bind
	nextID    atomic.Uint64
	nextPort  atomic.Uint32
}

// NewNetwork creates an empty loopback network.
func NewNetwork() *Network {
	n := &Network{
		handles:   make(map[api.Handle]*Socket),
		listeners: make(map[api.Address]*Socket),
		bound:     make(map[api.Address]*Socket),
	}
	n.nextPort.Store(49152)
	return n
}

// NewSocket creates a loopback socket on this network.
func (n *Network) NewSocket(flags api.SocketFlags) (*Socket, error) {
	switch flags & (api.SockIPv4 | api.SockIPv6) {
	case api.SockIPv4, api.SockIPv6:
	default:
		return nil, fmt.Errorf("fake: exactly one family flag required: %w", api.ErrInvalidArgument)
	}
	stream := false
	switch flags & (api.SockStream | api.SockDgram) {
	case api.SockStream:
		stream = true
	case api.SockDgram:
	default:
		return nil, fmt.Errorf("fake: exactly one type flag required: %w", api.ErrInvalidArgument)
	}

	id := n.nextID.Add(1)
	s := &Socket{
		net:     n,
		id:      id,
		handle:  api.Handle(id),
		flags:   flags,
		stream:  stream,
		options: make(map[api.Option]int),
	}
	n.mu.Lock()
	n.handles[s.handle] = s
	n.mu.Unlock()
	return s, nil
}

// ephemeralPort hands out ports for unbound sockets that start connecting.
func (n *Network) ephemeralPort() uint16 {
	return uint16(n.nextPort.Add(1))
}

// lookup must run under n.mu.
func (n *Network) lookup(h api.Handle) *Socket {
	return n.handles[h]
}

// chunk is one delivery unit: a copied byte run plus the sender for
// datagram traffic.
type chunk struct {
	data []byte
	from api.Address
}

func flatten(bufs []api.Buffer) []byte {
	out := make([]byte, 0, api.TotalLen(bufs))
	for _, b := range bufs {
		out = append(out, b...)
	}
	return out
}

// scatter copies data across the buffer list and reports the bytes placed.
func scatter(data []byte, bufs []api.Buffer) int {
	n := 0
	for _, b := range bufs {
		if len(data) == 0 {
			break
		}
		c := copy(b, data)
		data = data[c:]
		n += c
	}
	return n
}
