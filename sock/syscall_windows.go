//go:build windows
// +build windows

// File: sock/syscall_windows.go
// Author: momentics <momentics@gmail.com>
//
// Hand-loaded Win32 entry points that x/sys does not wrap, plus the raw
// completion entry layout they fill.

package sock

import (
	"syscall"
	"unsafe"

	"golang.org/x/sys/windows"
)

var (
	modkernel32 = windows.NewLazySystemDLL("kernel32.dll")
	modws2_32   = windows.NewLazySystemDLL("ws2_32.dll")

	procGetQueuedCompletionStatusEx = modkernel32.NewProc("GetQueuedCompletionStatusEx")
	procWSAGetOverlappedResult      = modws2_32.NewProc("WSAGetOverlappedResult")
)

// overlappedEntry mirrors OVERLAPPED_ENTRY. The internal member is reserved
// by the OS; the terminal NTSTATUS of the operation lives in the pointed-to
// Overlapped's Internal field.
type overlappedEntry struct {
	key        uintptr
	overlapped *windows.Overlapped
	internal   uintptr
	qty        uint32
}

// getQueuedCompletionStatusEx dequeues up to len(entries) completions in one
// call. A zero errno with removed == 0 cannot happen; timeout is reported as
// WAIT_TIMEOUT.
func getQueuedCompletionStatusEx(port windows.Handle, entries []overlappedEntry, ms uint32) (int, syscall.Errno) {
	var removed uint32
	r1, _, errno := syscall.SyscallN(procGetQueuedCompletionStatusEx.Addr(),
		uintptr(port),
		uintptr(unsafe.Pointer(&entries[0])),
		uintptr(len(entries)),
		uintptr(unsafe.Pointer(&removed)),
		uintptr(ms),
		0, // not alertable
	)
	if r1 == 0 {
		if errno == 0 {
			errno = syscall.EINVAL
		}
		return 0, errno
	}
	return int(removed), 0
}

// wsaGetOverlappedResult recovers the final error of a completed overlapped
// operation without waiting.
func wsaGetOverlappedResult(s windows.Handle, o *windows.Overlapped) syscall.Errno {
	var qty, flags uint32
	r1, _, errno := syscall.SyscallN(procWSAGetOverlappedResult.Addr(),
		uintptr(s),
		uintptr(unsafe.Pointer(o)),
		uintptr(unsafe.Pointer(&qty)),
		0, // do not wait: the operation already completed
		uintptr(unsafe.Pointer(&flags)),
	)
	if r1 == 0 {
		if errno == 0 {
			errno = syscall.EINVAL
		}
		return errno
	}
	return 0
}
