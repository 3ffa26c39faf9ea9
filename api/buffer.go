// Package api
// Author: momentics
//
// Non-owning byte views handed to socket operations.
//
// Buffers are never copied or retained beyond the operation that received
// them. On completion backends the OS owns the memory while an operation is
// pending; the caller gets it back with the matching poll event.

package api

// Buffer is a view over caller-owned memory used for scatter/gather socket
// I/O. The library does not allocate, grow, or free Buffers.
//
// Ownership rule: from the moment an operation returns StatusRetry until the
// poll event for that operation is delivered, the memory belongs to the
// kernel. Writing to it, recycling it, or letting it become garbage before
// the event is undefined behavior on completion backends.
type Buffer []byte

// TotalLen sums the byte lengths of a scatter/gather list.
func TotalLen(bufs []Buffer) int {
	n := 0
	for _, b := range bufs {
		n += len(b)
	}
	return n
}
