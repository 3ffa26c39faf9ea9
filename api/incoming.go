// Package api
// Author: momentics <momentics@gmail.com>
//
// Caller-reserved landing area for asynchronous accept.

package api

// Incoming is the target of an Accept operation. The caller allocates it,
// sizes Buf to the backend's reported requirement, and keeps the whole
// struct unmoved and untouched while the accept is pending; the backend
// fills the remaining fields.
//
// On the completion backend the OS writes the local and remote address
// records into Buf during the accept itself, so Buf follows the same
// ownership rule as operation Buffers. Readiness backends need no Buf and
// report a zero required size.
type Incoming struct {
	// Buf receives the raw address block on backends that need one. Its
	// minimum length is backend-specific; see the backend's
	// RequiredIncomingSize.
	Buf []byte

	// Conn is the handle of the accepted connection, valid once the accept
	// completes.
	Conn Handle

	// Remote and Local are the connection endpoints, filled by
	// FinishAccept (completion backend) or by Accept itself (readiness
	// backends).
	Remote Address
	Local  Address
}
