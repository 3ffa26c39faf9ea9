// Package api
// Author: momentics <momentics@gmail.com>
// License: Apache-2.0
//
// Shared contract layer for the hioload-io socket reactor. It defines the
// platform-independent vocabulary: handles, buffers, addresses, operation
// results, poll events, the error taxonomy, and the Poller/Socket interfaces
// every backend (IOCP, epoll, kqueue, fake loopback) implements.
//
// The package carries no OS calls of its own. Backends live in sock/ and
// fake/; callers that stay on these interfaces run unchanged on every
// supported platform.
package api
