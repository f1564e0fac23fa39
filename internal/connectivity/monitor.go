// Package connectivity tracks whether the device can reach the remote store.
//
// The effective state is online when the network is reachable and the user has
// not forced offline mode. Reachability starts as true until the first
// observation arrives.
package connectivity

import (
	"sync"

	"github.com/kimhsiao/petstock/internal/logging"
)

// Listener receives the new effective online state.
type Listener func(online bool)

// Monitor holds the reachability signal and the manual offline override.
type Monitor struct {
	mu            sync.Mutex
	reachable     bool
	manualOffline bool
	nextID        int
	listeners     map[int]Listener
}

// NewMonitor creates a Monitor in the online state.
func NewMonitor() *Monitor {
	return &Monitor{
		reachable: true,
		listeners: make(map[int]Listener),
	}
}

// Subscribe registers fn for changes of the effective online state and
// returns a function that removes it.
func (m *Monitor) Subscribe(fn Listener) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.listeners[id] = fn
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		delete(m.listeners, id)
		m.mu.Unlock()
	}
}

// Observe records a reachability observation.
func (m *Monitor) Observe(reachable bool) {
	m.update(func() { m.reachable = reachable })
}

// SetManualOffline sets the user-controlled offline override.
func (m *Monitor) SetManualOffline(offline bool) {
	m.update(func() { m.manualOffline = offline })
}

// IsOnline returns the effective online state.
func (m *Monitor) IsOnline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online()
}

// IsReachable returns the last reachability observation.
func (m *Monitor) IsReachable() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reachable
}

// ManualOffline returns the override flag.
func (m *Monitor) ManualOffline() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.manualOffline
}

func (m *Monitor) online() bool {
	return m.reachable && !m.manualOffline
}

// update applies change and notifies listeners outside the lock when the
// effective state flipped.
func (m *Monitor) update(change func()) {
	m.mu.Lock()
	before := m.online()
	change()
	after := m.online()
	var listeners []Listener
	if before != after {
		listeners = make([]Listener, 0, len(m.listeners))
		for _, l := range m.listeners {
			listeners = append(listeners, l)
		}
	}
	reachable, manual := m.reachable, m.manualOffline
	m.mu.Unlock()

	if before == after {
		return
	}

	logging.Info("connectivity changed", map[string]interface{}{
		"online":         after,
		"reachable":      reachable,
		"manual_offline": manual,
	})
	for _, l := range listeners {
		l(after)
	}
}
