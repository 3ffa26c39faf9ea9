//go:build darwin || dragonfly || freebsd
// +build darwin dragonfly freebsd

// File: sock/fd_bsd.go
// Author: momentics <momentics@gmail.com>
//
// Descriptor creation. Darwin has no SOCK_NONBLOCK/SOCK_CLOEXEC creation
// flags, so the flags are applied after the fact; SO_NOSIGPIPE keeps
// broken-pipe writes as plain EPIPE.

package sock

import "golang.org/x/sys/unix"

func sysSocket(family, sotype, proto int) (int, error) {
	fd, err := unix.Socket(family, sotype, proto)
	if err != nil {
		return -1, err
	}
	if err := prepareFd(fd); err != nil {
		unix.Close(fd)
		return -1, err
	}
	_ = unix.SetsockoptInt(fd, unix.SOL_SOCKET, unix.SO_NOSIGPIPE, 1)
	return fd, nil
}

func sysAccept(fd int) (int, unix.Sockaddr, error) {
	nfd, sa, err := unix.Accept(fd)
	if err != nil {
		return -1, nil, err
	}
	if err := prepareFd(nfd); err != nil {
		unix.Close(nfd)
		return -1, nil, err
	}
	return nfd, sa, nil
}

func prepareFd(fd int) error {
	unix.CloseOnExec(fd)
	return unix.SetNonblock(fd, true)
}
