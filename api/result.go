// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Operation outcome contract shared by completion and readiness backends.

package api

// Status says how an operation concluded.
type Status uint8

const (
	// StatusCompleted: the operation finished; Result.Data is meaningful.
	StatusCompleted Status = iota
	// StatusRetry: the operation did not finish. On completion backends it
	// is in flight and a poll event will announce its outcome. On readiness
	// backends the caller re-issues it after the next readiness event.
	StatusRetry
)

// String implements fmt.Stringer for diagnostics.
func (s Status) String() string {
	switch s {
	case StatusCompleted:
		return "completed"
	case StatusRetry:
		return "retry"
	default:
		return "unknown"
	}
}

// Result is the immediate outcome of a non-blocking socket operation.
// Data counts bytes transferred and is zero unless Status is
// StatusCompleted.
type Result struct {
	Data   int
	Status Status
}
