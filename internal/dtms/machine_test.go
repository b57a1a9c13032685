package dtms

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtms/internal/detector"
	"dtms/internal/executor"
	"dtms/internal/policy"
	"dtms/internal/strike"
	"dtms/internal/types"
)

func testPosition(unrealizedR float64) *types.Position {
	// entry 1.0, initial stop 0.99: 1R = 0.01 of price.
	return &types.Position{
		Ticket:          42,
		Symbol:          "EURUSD",
		Direction:       types.DirectionLong,
		Volume:          1.0,
		EntryPrice:      1.0,
		StopLoss:        0.99,
		InitialStopLoss: 0.99,
		CurrentPrice:    1.0 + unrealizedR*0.01,
		OpenedAt:        time.Now().Add(-time.Hour),
	}
}

func recordWith(urgency strike.Urgency, cats ...detector.Category) strike.Record {
	rec := strike.Record{Ticket: 42, Urgency: urgency, Strikes: len(cats), UpdatedAt: time.Now()}
	for _, c := range cats {
		rec.Categories = append(rec.Categories, c)
		rec.Readings = append(rec.Readings, detector.Reading{Category: c, Severity: 0.8, Rationale: string(c) + " fired"})
	}
	return rec
}

func noneRecord() strike.Record {
	return strike.Record{Ticket: 42, Urgency: strike.UrgencyNone, UpdatedAt: time.Now()}
}

func TestMachineHealthyToWarningL1(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	out := m.Step(testPosition(0.5), recordWith(strike.UrgencyWarning, detector.CategoryMomentum), limits, now)
	assert.Equal(t, StateWarningL1, m.State())
	require.Len(t, out.Transitions, 1)
	assert.Equal(t, StateHealthy, out.Transitions[0].From)
	assert.Equal(t, StateWarningL1, out.Transitions[0].To)
	assert.Nil(t, out.Request)
}

func TestMachineCriticalDeepLossRequestsFullClose(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	crit := recordWith(strike.UrgencyCritical,
		detector.CategoryStructure, detector.CategoryMomentum, detector.CategoryVolatility)
	out := m.Step(testPosition(-1.8), crit, limits, now)

	assert.Equal(t, StateWarningL2, m.State())
	require.Len(t, out.Transitions, 2)
	require.NotNil(t, out.Request)
	assert.Equal(t, executor.ActionFullClose, out.Request.Kind)
}

func TestMachineUnknownTicketResultCloses(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	crit := recordWith(strike.UrgencyCritical,
		detector.CategoryStructure, detector.CategoryMomentum, detector.CategoryVolatility)
	out := m.Step(testPosition(-1.8), crit, limits, now)
	require.NotNil(t, out.Request)

	ch := make(chan executor.ActionResult, 1)
	ch <- executor.ActionResult{
		RequestID:     out.Request.ID,
		Ticket:        42,
		Kind:          executor.ActionFullClose,
		Status:        executor.StatusPermanentFailure,
		UnknownTicket: true,
	}
	m.Bind(ch, executor.ActionFullClose)

	next := m.Step(testPosition(-1.8), crit, limits, now.Add(5*time.Second))
	assert.True(t, m.Closed())
	assert.Nil(t, next.Request, "no retry for a vanished ticket")
	require.NotEmpty(t, next.Transitions)
	assert.Equal(t, StateClosed, next.Transitions[len(next.Transitions)-1].To)
}

func TestMachineDebounceBeforeHealthy(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()
	require.Equal(t, 2, limits.DebounceCycles)

	m.Step(testPosition(0.2), recordWith(strike.UrgencyWarning, detector.CategoryTime), limits, now)
	require.Equal(t, StateWarningL1, m.State())

	m.Step(testPosition(0.2), noneRecord(), limits, now.Add(5*time.Second))
	assert.Equal(t, StateWarningL1, m.State(), "one quiet cycle is not enough")

	m.Step(testPosition(0.2), noneRecord(), limits, now.Add(10*time.Second))
	assert.Equal(t, StateHealthy, m.State())
}

func TestMachineDebounceResetsOnNewSignal(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	m.Step(testPosition(0.2), recordWith(strike.UrgencyWarning, detector.CategoryTime), limits, now)
	m.Step(testPosition(0.2), noneRecord(), limits, now.Add(5*time.Second))
	m.Step(testPosition(0.2), recordWith(strike.UrgencyWarning, detector.CategoryTime), limits, now.Add(10*time.Second))
	m.Step(testPosition(0.2), noneRecord(), limits, now.Add(15*time.Second))
	assert.Equal(t, StateWarningL1, m.State(), "streak must restart after a new signal")
}

func TestMachineClosedIsTerminal(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	require.NotNil(t, m.ConfirmClosed("closed externally", now))
	assert.Nil(t, m.ConfirmClosed("again", now))

	crit := recordWith(strike.UrgencyCritical,
		detector.CategoryStructure, detector.CategoryMomentum, detector.CategoryVolatility)
	out := m.Step(testPosition(-2.0), crit, limits, now.Add(time.Minute))
	assert.Empty(t, out.Transitions)
	assert.Nil(t, out.Request)
	assert.Equal(t, StateClosed, m.State())
}

func TestMachinePartialCloseAboveFloorThenHedged(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	crit := recordWith(strike.UrgencyCritical,
		detector.CategoryStructure, detector.CategoryMomentum, detector.CategoryVolatility)
	out := m.Step(testPosition(-0.5), crit, limits, now)
	require.NotNil(t, out.Request)
	assert.Equal(t, executor.ActionPartialClose, out.Request.Kind)
	assert.InDelta(t, 0.5, out.Request.TargetValue, 1e-9)

	ch := make(chan executor.ActionResult, 1)
	ch <- executor.ActionResult{Ticket: 42, Kind: executor.ActionPartialClose, Status: executor.StatusSuccess}
	m.Bind(ch, executor.ActionPartialClose)

	next := m.Step(testPosition(-0.5), crit, limits, now.Add(5*time.Second))
	assert.Equal(t, StateHedged, m.State())
	require.NotNil(t, next.Request, "stop tighten follows the partial close")
	assert.Equal(t, executor.ActionTightenStop, next.Request.Kind)
}

func TestMachineHedgedEscalatesWhenFloorBreached(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	crit := recordWith(strike.UrgencyCritical,
		detector.CategoryStructure, detector.CategoryMomentum, detector.CategoryVolatility)
	m.Step(testPosition(-0.5), crit, limits, now)

	ch := make(chan executor.ActionResult, 1)
	ch <- executor.ActionResult{Ticket: 42, Kind: executor.ActionPartialClose, Status: executor.StatusSuccess}
	m.Bind(ch, executor.ActionPartialClose)
	m.Step(testPosition(-0.5), crit, limits, now.Add(5*time.Second))
	require.Equal(t, StateHedged, m.State())

	// Critical pressure above the floor: the hedge stays in place.
	held := m.Step(testPosition(-1.0), crit, limits, now.Add(10*time.Second))
	assert.Equal(t, StateHedged, m.State())
	assert.Nil(t, held.Request)

	// Loss deepens through the floor anyway: escalate and close out.
	out := m.Step(testPosition(-1.8), crit, limits, now.Add(15*time.Second))
	assert.Equal(t, StateWarningL2, m.State())
	require.NotNil(t, out.Request)
	assert.Equal(t, executor.ActionFullClose, out.Request.Kind)
}

func TestMachineBlocksSecondRequestWhilePending(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	crit := recordWith(strike.UrgencyCritical,
		detector.CategoryStructure, detector.CategoryMomentum, detector.CategoryVolatility)
	out := m.Step(testPosition(-1.8), crit, limits, now)
	require.NotNil(t, out.Request)

	m.Bind(make(chan executor.ActionResult), executor.ActionFullClose)
	next := m.Step(testPosition(-1.8), crit, limits, now.Add(5*time.Second))
	assert.Nil(t, next.Request)
	assert.True(t, m.Pending())
}

func TestMachineExhaustedRetriesKeepsStateAndFlags(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	crit := recordWith(strike.UrgencyCritical,
		detector.CategoryStructure, detector.CategoryMomentum, detector.CategoryVolatility)
	out := m.Step(testPosition(-1.8), crit, limits, now)
	require.NotNil(t, out.Request)

	ch := make(chan executor.ActionResult, 1)
	ch <- executor.ActionResult{Ticket: 42, Kind: executor.ActionFullClose, Status: executor.StatusRetriesExhausted}
	m.Bind(ch, executor.ActionFullClose)

	next := m.Step(testPosition(-1.8), crit, limits, now.Add(5*time.Second))
	assert.True(t, next.Unresolved, "exhausted retries must surface, never drop silently")
	assert.Equal(t, StateWarningL2, m.State())
	require.NotNil(t, next.Request, "risk is re-addressed on the next cycle")
}

func TestMachineRecoveryWindowBlocksActions(t *testing.T) {
	now := time.Now()
	m := NewMachine(42, "EURUSD", now)
	limits := policy.Defaults()

	crit := recordWith(strike.UrgencyCritical,
		detector.CategoryStructure, detector.CategoryMomentum, detector.CategoryVolatility)
	m.Step(testPosition(-0.5), crit, limits, now)

	ch := make(chan executor.ActionResult, 1)
	ch <- executor.ActionResult{Ticket: 42, Kind: executor.ActionPartialClose, Status: executor.StatusSuccess}
	m.Bind(ch, executor.ActionPartialClose)
	m.Step(testPosition(-0.5), crit, limits, now.Add(5*time.Second))
	require.Equal(t, StateHedged, m.State())

	// Risk recedes: HEDGED -> RECOVERING.
	m.Step(testPosition(-0.3), noneRecord(), limits, now.Add(10*time.Second))
	require.Equal(t, StateRecovering, m.State())

	// Inside the window even a CRITICAL cycle requests nothing.
	inWindow := m.Step(testPosition(-0.6), crit, limits, now.Add(time.Minute))
	assert.Nil(t, inWindow.Request)
	assert.Equal(t, StateRecovering, m.State())

	// After the window quiet cycles walk it back to HEALTHY.
	after := now.Add(10*time.Second + limits.RecoveryWindow + time.Second)
	m.Step(testPosition(0.1), noneRecord(), limits, after)
	m.Step(testPosition(0.1), noneRecord(), limits, after.Add(5*time.Second))
	assert.Equal(t, StateHealthy, m.State())
}
