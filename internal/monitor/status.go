package monitor

import (
	"time"

	"dtms/internal/dtms"
	"dtms/internal/strike"
	"dtms/internal/types"
)

// PositionView is one tracked position as served over HTTP.
type PositionView struct {
	Ticket        int64      `json:"ticket"`
	Symbol        string     `json:"symbol"`
	Direction     string     `json:"direction"`
	Volume        float64    `json:"volume"`
	EntryPrice    float64    `json:"entry_price"`
	CurrentPrice  float64    `json:"current_price"`
	StopLoss      float64    `json:"stop_loss"`
	TakeProfit    float64    `json:"take_profit,omitempty"`
	UnrealizedR   float64    `json:"unrealized_r"`
	State         string     `json:"state"`
	ActionPending bool       `json:"action_pending"`
	Strikes       int        `json:"strikes"`
	Urgency       string     `json:"urgency"`
	Categories    []string   `json:"categories,omitempty"`
	CooldownUntil *time.Time `json:"cooldown_until,omitempty"`
	OpenedAt      time.Time  `json:"opened_at"`
}

// Status is the full operational picture for one poll of the API.
type Status struct {
	Cycle       int64          `json:"cycle"`
	LastCycleAt time.Time      `json:"last_cycle_at"`
	Account     types.Account  `json:"account"`
	States      map[string]int `json:"states"`
	// DetectorTallies counts triggers per category since start.
	DetectorTallies map[string]int64 `json:"detector_tallies"`
	Positions       []PositionView   `json:"positions"`
}

// Status snapshots the monitor's current picture. Safe to call from any
// goroutine.
func (m *Monitor) Status() Status {
	views := m.machines.Snapshot()

	m.mu.RLock()
	defer m.mu.RUnlock()

	out := Status{
		Cycle:           m.cycle,
		LastCycleAt:     m.lastCycleAt,
		Account:         m.lastAccount,
		States:          make(map[string]int, len(views)),
		DetectorTallies: make(map[string]int64, len(m.tallies)),
		Positions:       make([]PositionView, 0, len(views)),
	}
	for cat, n := range m.tallies {
		out.DetectorTallies[string(cat)] = n
	}
	for _, v := range views {
		out.States[v.State]++
		out.Positions = append(out.Positions, m.positionView(v))
	}
	return out
}

// Position returns the view for one ticket.
func (m *Monitor) Position(ticket int64) (PositionView, bool) {
	mac, ok := m.machines.Get(ticket)
	if !ok {
		return PositionView{}, false
	}
	view := mac.View()
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.positionView(view), true
}

// positionView assembles one view; callers hold at least a read lock.
func (m *Monitor) positionView(v dtms.MachineView) PositionView {
	view := PositionView{
		Ticket:        v.Ticket,
		Symbol:        v.Symbol,
		State:         v.State,
		ActionPending: v.Pending,
	}
	if pos, ok := m.lastPositions[v.Ticket]; ok {
		view.Direction = pos.Direction.String()
		view.Volume = pos.Volume
		view.EntryPrice = pos.EntryPrice
		view.CurrentPrice = pos.CurrentPrice
		view.StopLoss = pos.StopLoss
		view.TakeProfit = pos.TakeProfit
		view.UnrealizedR = pos.UnrealizedR()
		view.OpenedAt = pos.OpenedAt
	}
	if rec, ok := m.lastStrikes[v.Ticket]; ok {
		view.Strikes = rec.Strikes
		view.Urgency = rec.Urgency.String()
		view.Categories = categoryStrings(rec)
	}
	if until, ok := m.exec.CooldownUntil(v.Ticket); ok {
		view.CooldownUntil = &until
	}
	return view
}

func categoryStrings(rec strike.Record) []string {
	if len(rec.Categories) == 0 {
		return nil
	}
	out := make([]string, 0, len(rec.Categories))
	for _, c := range rec.Categories {
		out = append(out, string(c))
	}
	return out
}
