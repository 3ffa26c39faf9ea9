//go:build linux
// +build linux

// File: sock/fd_linux.go
// Author: momentics <momentics@gmail.com>
//
// Descriptor creation. Linux sets non-blocking and close-on-exec atomically
// in the creating syscall.

package sock

import "golang.org/x/sys/unix"

func sysSocket(family, sotype, proto int) (int, error) {
	return unix.Socket(family, sotype|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, proto)
}

func sysAccept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept4(fd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
	if err != nil {
		return -1, nil, err
	}
	return nfd, sa, nil
}
