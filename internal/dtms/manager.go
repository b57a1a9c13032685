package dtms

import (
	"sort"
	"sync"
	"time"
)

// Manager is the arena of per-position machines, keyed by ticket. The
// monitor owns all writes; the HTTP layer reads concurrently through
// Snapshot and Get, so the map is guarded here.
type Manager struct {
	mu       sync.RWMutex
	machines map[int64]*Machine
}

// NewManager builds an empty arena.
func NewManager() *Manager {
	return &Manager{machines: make(map[int64]*Machine)}
}

// Ensure returns the machine for a ticket, creating it in HEALTHY when
// the position is seen for the first time.
func (g *Manager) Ensure(ticket int64, symbol string, now time.Time) *Machine {
	g.mu.Lock()
	defer g.mu.Unlock()
	if m, ok := g.machines[ticket]; ok {
		return m
	}
	m := NewMachine(ticket, symbol, now)
	g.machines[ticket] = m
	return m
}

// Get returns the machine for a ticket, if tracked.
func (g *Manager) Get(ticket int64) (*Machine, bool) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	m, ok := g.machines[ticket]
	return m, ok
}

// Tickets lists tracked tickets in ascending order.
func (g *Manager) Tickets() []int64 {
	g.mu.RLock()
	out := make([]int64, 0, len(g.machines))
	for t := range g.machines {
		out = append(out, t)
	}
	g.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Reap drops machines that reached CLOSED, returning the freed tickets.
func (g *Manager) Reap() []int64 {
	g.mu.Lock()
	var freed []int64
	for t, m := range g.machines {
		if m.Closed() {
			delete(g.machines, t)
			freed = append(freed, t)
		}
	}
	g.mu.Unlock()
	sort.Slice(freed, func(i, j int) bool { return freed[i] < freed[j] })
	return freed
}

// MachineView is the read-only projection served to the HTTP layer.
type MachineView struct {
	Ticket    int64     `json:"ticket"`
	Symbol    string    `json:"symbol"`
	State     string    `json:"state"`
	EnteredAt time.Time `json:"entered_at"`
	Pending   bool      `json:"action_pending"`
}

// Snapshot copies the arena into views, ordered by ticket.
func (g *Manager) Snapshot() []MachineView {
	g.mu.RLock()
	machines := make([]*Machine, 0, len(g.machines))
	for _, m := range g.machines {
		machines = append(machines, m)
	}
	g.mu.RUnlock()

	sort.Slice(machines, func(i, j int) bool { return machines[i].Ticket() < machines[j].Ticket() })
	out := make([]MachineView, 0, len(machines))
	for _, m := range machines {
		out = append(out, m.View())
	}
	return out
}
