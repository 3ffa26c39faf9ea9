// Package api
// Author: momentics <momentics@gmail.com>
//
// Error taxonomy for the hioload-io library.

package api

import "fmt"

// Sentinel errors reported across all backends. Backends map OS error codes
// onto these so portable callers can branch with errors.Is; the raw code
// stays reachable through OSError.
var (
	ErrInvalidState              = fmt.Errorf("invalid lifecycle state")
	ErrInvalidIOFunction         = fmt.Errorf("extension function not resolved")
	ErrInvalidHandle             = fmt.Errorf("invalid handle")
	ErrInvalidArgument           = fmt.Errorf("invalid argument")
	ErrInvalidOption             = fmt.Errorf("invalid socket option")
	ErrAddressInUse              = fmt.Errorf("address in use")
	ErrAddressNotAvailable       = fmt.Errorf("address not available")
	ErrAddressFamilyNotSupported = fmt.Errorf("address family not supported")
	ErrProtocolNotSupported      = fmt.Errorf("protocol not supported")
	ErrResourceExhausted         = fmt.Errorf("resource exhausted")
	ErrConnectionRefused         = fmt.Errorf("connection refused")
	ErrConnectionReset           = fmt.Errorf("connection reset")
	ErrConnectionAborted         = fmt.Errorf("connection aborted")
	ErrTimedOut                  = fmt.Errorf("operation timed out")
	ErrNetworkUnreachable        = fmt.Errorf("network unreachable")
	ErrNotSupported              = fmt.Errorf("operation not supported")
)

// OSError wraps a raw OS error together with its taxonomy classification.
// Errno is the original error (a syscall errno on real backends), Kind the
// matching sentinel or nil when the code has no mapping. errors.Is matches
// both, so callers can test against the taxonomy or the exact OS code.
type OSError struct {
	Op    string
	Errno error
	Kind  error
}

// Error implements the error interface.
func (e *OSError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Errno)
}

// Unwrap exposes both the sentinel and the raw OS error to errors.Is/As.
func (e *OSError) Unwrap() []error {
	if e.Kind == nil {
		return []error{e.Errno}
	}
	return []error{e.Kind, e.Errno}
}

// NewOSError classifies a raw OS error. kind may be nil for codes outside
// the taxonomy.
func NewOSError(op string, errno, kind error) *OSError {
	return &OSError{Op: op, Errno: errno, Kind: kind}
}
