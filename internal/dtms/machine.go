package dtms

import (
	"fmt"
	"sync"
	"time"

	"dtms/internal/executor"
	"dtms/internal/logger"
	"dtms/internal/policy"
	"dtms/internal/strike"
	"dtms/internal/types"
)

// State is the per-position lifecycle stage. Closed is terminal.
type State int

const (
	StateHealthy State = iota
	StateWarningL1
	StateWarningL2
	StateHedged
	StateRecovering
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateHealthy:
		return "HEALTHY"
	case StateWarningL1:
		return "WARNING_L1"
	case StateWarningL2:
		return "WARNING_L2"
	case StateHedged:
		return "HEDGED"
	case StateRecovering:
		return "RECOVERING"
	case StateClosed:
		return "CLOSED"
	default:
		return "UNKNOWN"
	}
}

// Transition is one state change, emitted for logging, persistence and
// notification.
type Transition struct {
	Ticket int64
	Symbol string
	From   State
	To     State
	Reason string
	At     time.Time
}

// StepOutput is everything one evaluation cycle produced for a
// position. Request, when set, must be submitted to the executor and
// bound back via Bind.
type StepOutput struct {
	Transitions []Transition
	Request     *executor.ActionRequest
	// Results holds action results consumed this step.
	Results []executor.ActionResult
	// Unresolved is set when an action failed terminally and the risk
	// the action addressed is still open.
	Unresolved bool
}

// Machine drives one position through the lifecycle. The monitor
// evaluates each position in exactly one task per cycle, so mutation is
// single-writer; the mutex exists because the HTTP layer reads state
// concurrently with that task.
type Machine struct {
	ticket int64
	symbol string

	mu        sync.RWMutex
	state     State
	enteredAt time.Time

	noneStreak int

	// pending is the future of the in-flight action. While non-nil no
	// new request may be emitted for this ticket.
	pending     <-chan executor.ActionResult
	pendingKind executor.ActionKind

	// followUp is the second leg of a partial-close response, issued
	// only after the first leg succeeds.
	followUp *executor.ActionRequest

	recoveryUntil time.Time
	lastResult    *executor.ActionResult
}

// NewMachine starts a position in HEALTHY.
func NewMachine(ticket int64, symbol string, now time.Time) *Machine {
	return &Machine{ticket: ticket, symbol: symbol, state: StateHealthy, enteredAt: now}
}

func (m *Machine) Ticket() int64  { return m.ticket }
func (m *Machine) Symbol() string { return m.symbol }

func (m *Machine) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

func (m *Machine) EnteredAt() time.Time {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.enteredAt
}

func (m *Machine) Closed() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state == StateClosed
}

// Pending reports whether an action is still unresolved.
func (m *Machine) Pending() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.pending != nil
}

// LastResult returns the most recent action result, if any.
func (m *Machine) LastResult() *executor.ActionResult {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.lastResult
}

// View reads all served fields under one lock.
func (m *Machine) View() MachineView {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return MachineView{
		Ticket:    m.ticket,
		Symbol:    m.symbol,
		State:     m.state.String(),
		EnteredAt: m.enteredAt,
		Pending:   m.pending != nil,
	}
}

// Bind attaches the executor future for the request this machine
// emitted. The machine polls it on subsequent steps.
func (m *Machine) Bind(ch <-chan executor.ActionResult, kind executor.ActionKind) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = ch
	m.pendingKind = kind
}

// Step runs one evaluation cycle. pos carries the refreshed broker
// mirror, rec the current cycle's strike picture.
func (m *Machine) Step(pos *types.Position, rec strike.Record, limits policy.Thresholds, now time.Time) StepOutput {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out StepOutput
	if m.state == StateClosed {
		return out
	}

	m.pollPending(&out, now)

	if rec.Urgency == strike.UrgencyNone {
		m.noneStreak++
	} else {
		m.noneStreak = 0
	}

	// An unresolved action blocks everything except closure detection,
	// which the monitor drives through ConfirmClosed.
	if m.pending != nil {
		return out
	}

	switch m.state {
	case StateHealthy:
		if rec.Urgency >= strike.UrgencyWarning {
			m.transition(&out, StateWarningL1, rec.Rationale(), now)
		}
		if rec.Urgency == strike.UrgencyCritical {
			m.transition(&out, StateWarningL2, rec.Rationale(), now)
			m.planAction(&out, pos, rec, limits, now)
		}
	case StateWarningL1:
		switch {
		case rec.Urgency == strike.UrgencyCritical:
			m.transition(&out, StateWarningL2, rec.Rationale(), now)
			m.planAction(&out, pos, rec, limits, now)
		case m.noneStreak >= limits.DebounceCycles:
			m.transition(&out, StateHealthy, "signals cleared", now)
		}
	case StateWarningL2:
		if rec.Urgency == strike.UrgencyCritical {
			m.planAction(&out, pos, rec, limits, now)
		} else if m.noneStreak >= limits.DebounceCycles {
			// Escalation resolved before any action landed.
			m.transition(&out, StateWarningL1, "urgency receded", now)
		}
	case StateHedged:
		switch {
		case rec.Urgency == strike.UrgencyCritical && pos.UnrealizedR() <= limits.RiskFloorR:
			// The hedge did not hold: loss breached the floor anyway.
			m.transition(&out, StateWarningL2, rec.Rationale(), now)
			m.planAction(&out, pos, rec, limits, now)
		case rec.Urgency <= strike.UrgencyWarning:
			m.recoveryUntil = now.Add(limits.RecoveryWindow)
			m.transition(&out, StateRecovering, "hedge holding, risk receding", now)
		}
	case StateRecovering:
		if now.Before(m.recoveryUntil) {
			// Quiet period: observe only.
			return out
		}
		switch {
		case rec.Urgency == strike.UrgencyCritical:
			m.transition(&out, StateWarningL2, rec.Rationale(), now)
			m.planAction(&out, pos, rec, limits, now)
		case m.noneStreak >= limits.DebounceCycles:
			m.transition(&out, StateHealthy, "recovery window elapsed", now)
		}
	}
	return out
}

// ConfirmClosed forces the terminal transition. It wins over anything
// the strike pipeline says and is safe to call repeatedly.
func (m *Machine) ConfirmClosed(reason string, now time.Time) *Transition {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.confirmClosed(reason, now)
}

func (m *Machine) confirmClosed(reason string, now time.Time) *Transition {
	if m.state == StateClosed {
		return nil
	}
	from := m.state
	m.state = StateClosed
	m.enteredAt = now
	m.pending = nil
	m.followUp = nil
	tr := Transition{Ticket: m.ticket, Symbol: m.symbol, From: from, To: StateClosed, Reason: reason, At: now}
	logger.Infof("position %d: %s -> CLOSED (%s)", m.ticket, from, reason)
	return &tr
}

func (m *Machine) pollPending(out *StepOutput, now time.Time) {
	if m.pending == nil {
		return
	}
	select {
	case res := <-m.pending:
		m.pending = nil
		m.lastResult = &res
		out.Results = append(out.Results, res)
		m.applyResult(out, res, now)
	default:
	}
}

func (m *Machine) applyResult(out *StepOutput, res executor.ActionResult, now time.Time) {
	switch res.Status {
	case executor.StatusSuccess:
		switch res.Kind {
		case executor.ActionFullClose:
			if tr := m.confirmClosed("risk exit filled", now); tr != nil {
				out.Transitions = append(out.Transitions, *tr)
			}
		default:
			if m.state == StateWarningL2 {
				m.transition(out, StateHedged, "defensive action filled", now)
			}
			if m.followUp != nil {
				// Second leg goes out now that the first resolved.
				out.Request = m.followUp
				m.followUp = nil
			}
		}
	case executor.StatusPermanentFailure:
		if res.UnknownTicket {
			if tr := m.confirmClosed("ticket gone at broker", now); tr != nil {
				out.Transitions = append(out.Transitions, *tr)
			}
			return
		}
		m.followUp = nil
		out.Unresolved = true
		logger.Errorf("position %d: action %s failed permanently: %v", m.ticket, res.Kind, res.Err)
	case executor.StatusRetriesExhausted:
		m.followUp = nil
		out.Unresolved = true
		logger.Errorf("position %d: action %s exhausted retries: %v", m.ticket, res.Kind, res.Err)
	case executor.StatusSuppressed:
		// Cooldown or duplicate. The risk stays visible through the
		// strike record, so nothing extra to flag.
		logger.Debugf("position %d: action %s suppressed (%s)", m.ticket, res.Kind, res.SuppressedReason)
	}
}

// planAction picks the corrective measure for a CRITICAL cycle. Loss at
// or beyond the risk floor gets a full close; otherwise half the
// position comes off and the stop tightens as a follow-up.
func (m *Machine) planAction(out *StepOutput, pos *types.Position, rec strike.Record, limits policy.Thresholds, now time.Time) {
	if out.Request != nil {
		return
	}
	reason := rec.Rationale()

	if pos.UnrealizedR() <= limits.RiskFloorR {
		req := executor.NewActionRequest(m.ticket, m.symbol, executor.ActionFullClose, 0, reason)
		out.Request = &req
		logger.Warnf("position %d: CRITICAL at %.2fR, requesting full close", m.ticket, pos.UnrealizedR())
		return
	}

	vol := halfVolume(pos.Volume)
	if vol <= 0 {
		req := executor.NewActionRequest(m.ticket, m.symbol, executor.ActionFullClose, 0, reason)
		out.Request = &req
		return
	}
	req := executor.NewActionRequest(m.ticket, m.symbol, executor.ActionPartialClose, vol, reason)
	out.Request = &req
	if stop := tightenedStop(pos); stop > 0 {
		follow := executor.NewActionRequest(m.ticket, m.symbol, executor.ActionTightenStop, stop,
			fmt.Sprintf("tighten after partial %s", reason))
		m.followUp = &follow
	}
	logger.Warnf("position %d: CRITICAL at %.2fR, requesting partial close %.2f", m.ticket, pos.UnrealizedR(), vol)
}

func (m *Machine) transition(out *StepOutput, to State, reason string, now time.Time) {
	if m.state == to || m.state == StateClosed {
		return
	}
	from := m.state
	m.state = to
	m.enteredAt = now
	out.Transitions = append(out.Transitions, Transition{
		Ticket: m.ticket, Symbol: m.symbol, From: from, To: to, Reason: reason, At: now,
	})
	logger.Infof("position %d: %s -> %s (%s)", m.ticket, from, to, reason)
}
