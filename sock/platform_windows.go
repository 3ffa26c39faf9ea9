//go:build windows
// +build windows

// File: sock/platform_windows.go
// Author: momentics <momentics@gmail.com>
//
// Winsock lifecycle and runtime resolution of the Winsock extension entry
// points. ConnectEx and AcceptEx are not plain DLL exports; the provider
// hands them out at runtime through WSAIoctl when asked with their 128-bit
// function GUIDs. The resolved pointers live in Platform and are invoked
// through syscall.SyscallN for every asynchronous connect/accept.

package sock

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/windows"

	"github.com/momentics/hioload-io/api"
)

// Function GUID of AcceptEx. x/sys ships the ConnectEx GUID but not this
// one, so it is spelled out here: b5367df1-cbac-11cf-95ca-00805f48a192.
var wsaidAcceptEx = windows.GUID{
	Data1: 0xb5367df1,
	Data2: 0xcbac,
	Data3: 0x11cf,
	Data4: [8]byte{0x95, 0xca, 0x00, 0x80, 0x5f, 0x48, 0xa1, 0x92},
}

// Platform carries the process-wide Winsock state: the negotiated version
// and the resolved extension entry points. Exactly one Initialize must
// succeed before any Poller or Socket is constructed, and Cleanup runs
// after the last of them is closed.
type Platform struct {
	connectEx uintptr
	acceptEx  uintptr
	wsaData   windows.WSAData
}

// Initialize starts Winsock at version 2.2 and resolves the extension
// functions. On any failure the started Winsock state is torn down again
// before the error returns.
func Initialize() (*Platform, error) {
	p := &Platform{}
	if err := windows.WSAStartup(uint32(0x202), &p.wsaData); err != nil {
		return nil, api.NewOSError("wsastartup", err, api.ErrInvalidState)
	}

	if err := p.resolveExtensions(); err != nil {
		_ = windows.WSACleanup()
		return nil, err
	}
	return p, nil
}

// Cleanup tears down Winsock. Best effort: the OS return code is absorbed,
// matching the shutdown path where nothing useful can react to it anymore.
func (p *Platform) Cleanup() {
	_ = windows.WSACleanup()
}

// resolveExtensions asks the provider for ConnectEx and AcceptEx through a
// throwaway overlapped socket. The pointers are provider-global, so one
// resolution serves every socket created afterwards.
func (p *Platform) resolveExtensions() error {
	s, err := windows.WSASocket(windows.AF_INET, windows.SOCK_STREAM, windows.IPPROTO_TCP,
		nil, 0, windows.WSA_FLAG_OVERLAPPED)
	if err != nil {
		return api.NewOSError("wsasocket", err, mapErrno(err))
	}
	defer windows.Closesocket(s)

	if p.connectEx, err = resolveExtension(s, &windows.WSAID_CONNECTEX); err != nil {
		return fmt.Errorf("resolve ConnectEx: %w", err)
	}
	if p.acceptEx, err = resolveExtension(s, &wsaidAcceptEx); err != nil {
		return fmt.Errorf("resolve AcceptEx: %w", err)
	}
	return nil
}

// resolveExtension performs the SIO_GET_EXTENSION_FUNCTION_POINTER ioctl
// for one GUID and returns the resolved entry point.
func resolveExtension(s windows.Handle, guid *windows.GUID) (uintptr, error) {
	var (
		fn    uintptr
		bytes uint32
	)
	err := windows.WSAIoctl(s, windows.SIO_GET_EXTENSION_FUNCTION_POINTER,
		(*byte)(unsafe.Pointer(guid)), uint32(unsafe.Sizeof(*guid)),
		(*byte)(unsafe.Pointer(&fn)), uint32(unsafe.Sizeof(fn)),
		&bytes, nil, 0)
	if err != nil {
		return 0, api.NewOSError("wsaioctl", err, api.ErrInvalidIOFunction)
	}
	if fn == 0 {
		return 0, api.ErrInvalidIOFunction
	}
	return fn, nil
}
