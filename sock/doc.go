// Package sock
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// OS socket backends for the hioload-io contract.
//
// One package, build-tagged per platform: the I/O completion port backend on
// Windows, the epoll backend on Linux, the kqueue backend on Darwin and the
// BSDs that ship EVFILT_USER, and failing stubs elsewhere. All of them
// expose the same three entry points:
//
//	Initialize / (*Platform).Cleanup — process-wide lifecycle
//	NewPoller                        — one kernel event queue
//	NewSocket / FromHandle           — non-blocking sockets
//
// Callers hold the returned *Platform for the life of the process and pass
// it to every constructor.
package sock
