// File: sock/stats.go
// Author: momentics
//
// Shared counter block behind api.PollerStats.

package sock

import (
	"sync/atomic"

	"github.com/momentics/hioload-io/api"
)

// pollerCounters is embedded by every backend poller. All fields are
// monotonic and updated lock-free.
type pollerCounters struct {
	registered atomic.Uint64
	polls      atomic.Uint64
	events     atomic.Uint64
	wakeups    atomic.Uint64
}

func (c *pollerCounters) snapshot() api.PollerStats {
	return api.PollerStats{
		Registered: c.registered.Load(),
		Polls:      c.polls.Load(),
		Events:     c.events.Load(),
		Wakeups:    c.wakeups.Load(),
	}
}
