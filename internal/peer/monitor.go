package peer

import (
	"fmt"
	"slotarbiter/internal/arbiter"
	"sync"
)

// ExclusionMonitor is an [arbiter.Observer] shared by the peers of a single process. It checks that no two peers ever hold the same slot at the same time, and counts the acquisitions of every peer.
type ExclusionMonitor struct {
	mu           sync.Mutex
	holders      map[arbiter.SlotID]arbiter.Rank
	acquisitions map[arbiter.Rank]int
	violations   []string
}

// NewExclusionMonitor creates a monitor with no holder.
func NewExclusionMonitor() *ExclusionMonitor {
	return &ExclusionMonitor{
		holders:      make(map[arbiter.SlotID]arbiter.Rank),
		acquisitions: make(map[arbiter.Rank]int),
	}
}

// Observe records the transitions into and out of Holding.
func (m *ExclusionMonitor) Observe(e arbiter.Event) {
	if e.Kind != arbiter.Transition {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.State {
	case arbiter.Holding:
		if holder, ok := m.holders[e.Slot]; ok {
			m.violations = append(m.violations, fmt.Sprintf("%v holds slot %d already held by %v", e.Self, e.Slot, holder))
		}
		m.holders[e.Slot] = e.Self
		m.acquisitions[e.Self]++
	case arbiter.Releasing:
		if holder, ok := m.holders[e.Slot]; ok && holder == e.Self {
			delete(m.holders, e.Slot)
		}
	}
}

// Violations returns a description of every time a slot was held twice.
func (m *ExclusionMonitor) Violations() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.violations...)
}

// Acquisitions returns the number of times rank reached Holding.
func (m *ExclusionMonitor) Acquisitions(rank arbiter.Rank) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.acquisitions[rank]
}
