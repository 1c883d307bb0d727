package malloc

import "sync"

// threadsEnabled mirrors the process-wide threading switch. Each allocator
// (and the shared free list) captures it once, so it must be set before the
// first allocation in the process and never changed after.
var threadsEnabled = true

// SetThreadsEnabled turns the allocator and empty-chunk cache lock
// operations into no-ops when disabled, letting single-threaded deployments
// skip that synchronisation. The For instance table always locks. Call it
// before the first use of any Allocator.
func SetThreadsEnabled(enabled bool) {
	threadsEnabled = enabled
}

// mutex is a sync.Mutex whose operations collapse to no-ops when the
// thread-enabled flag was off at capture time.
type mutex struct {
	enabled bool
	mu      sync.Mutex
}

// init captures the thread-enabled flag. Must run before first lock.
func (m *mutex) init() {
	m.enabled = threadsEnabled
}

func (m *mutex) lock() {
	if m.enabled {
		m.mu.Lock()
	}
}

func (m *mutex) unlock() {
	if m.enabled {
		m.mu.Unlock()
	}
}
