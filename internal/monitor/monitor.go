package monitor

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"dtms/internal/broker"
	"dtms/internal/detector"
	"dtms/internal/dtms"
	"dtms/internal/executor"
	"dtms/internal/logger"
	"dtms/internal/market"
	"dtms/internal/notifier"
	"dtms/internal/policy"
	"dtms/internal/store"
	"dtms/internal/strike"
	"dtms/internal/types"
)

// Config tunes the polling loop.
type Config struct {
	// FastInterval is the cheap-signal cadence.
	FastInterval time.Duration
	// SlowEvery runs expensive detectors once per this many fast cycles.
	SlowEvery int
	// StaleAfter skips a position whose snapshot is older than this.
	StaleAfter time.Duration
	// MaxConcurrent bounds parallel per-position evaluation.
	MaxConcurrent int
}

func (c Config) withDefaults() Config {
	if c.FastInterval <= 0 {
		c.FastInterval = 5 * time.Second
	}
	if c.SlowEvery <= 0 {
		c.SlowEvery = 6
	}
	if c.StaleAfter <= 0 {
		c.StaleAfter = 20 * time.Second
	}
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 4
	}
	return c
}

// Monitor drives the whole pipeline: poll positions, evaluate each one
// through the detector bank, aggregate strikes, step its state machine
// and forward any resulting action to the executor.
type Monitor struct {
	cfg      Config
	broker   broker.Broker
	source   market.Source
	bank     *detector.Bank
	policies *policy.Registry
	exec     *executor.Executor
	machines *dtms.Manager
	history  *store.Store
	events   *notifier.Publisher

	mu            sync.RWMutex
	lastPositions map[int64]types.Position
	lastStrikes   map[int64]strike.Record
	lastAccount   types.Account
	lastCycleAt   time.Time
	cycle         int64
	// tallies counts detector triggers per category since start.
	tallies map[detector.Category]int64

	nowFn func() time.Time
}

// New wires the monitor. history may be nil (no persistence).
func New(cfg Config, b broker.Broker, src market.Source, bank *detector.Bank,
	policies *policy.Registry, exec *executor.Executor, events *notifier.Publisher,
	history *store.Store) *Monitor {
	return &Monitor{
		cfg:           cfg.withDefaults(),
		broker:        b,
		source:        src,
		bank:          bank,
		policies:      policies,
		exec:          exec,
		machines:      dtms.NewManager(),
		history:       history,
		events:        events,
		lastPositions: make(map[int64]types.Position),
		lastStrikes:   make(map[int64]strike.Record),
		tallies:       make(map[detector.Category]int64),
		nowFn:         time.Now,
	}
}

// Run blocks until ctx is done, executing one cycle per fast interval.
func (m *Monitor) Run(ctx context.Context) error {
	logger.Infof("monitor started (fast=%s, slow every %d cycles, stale after %s)",
		m.cfg.FastInterval, m.cfg.SlowEvery, m.cfg.StaleAfter)
	ticker := time.NewTicker(m.cfg.FastInterval)
	defer ticker.Stop()

	m.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			logger.Infof("monitor stopping: %v", ctx.Err())
			return ctx.Err()
		case <-ticker.C:
			m.runCycle(ctx)
		}
	}
}

func (m *Monitor) runCycle(ctx context.Context) {
	now := m.nowFn()
	m.mu.Lock()
	m.cycle++
	cycle := m.cycle
	m.lastCycleAt = now
	m.mu.Unlock()

	includeExpensive := cycle%int64(m.cfg.SlowEvery) == 1

	positions, err := m.broker.ListOpenPositions(ctx)
	if err != nil {
		logger.Warnf("monitor: listing positions failed, cycle %d skipped: %v", cycle, err)
		return
	}
	account, err := m.broker.AccountSummary(ctx)
	if err != nil {
		logger.Warnf("monitor: account summary failed, using last known: %v", err)
		m.mu.RLock()
		account = m.lastAccount
		m.mu.RUnlock()
	}

	m.detectExternalCloses(positions, now)

	limits := m.policies.Current()
	snapshots := m.fetchSnapshots(ctx, positions)

	// Machines are created serially; evaluation then fans out with each
	// task touching only its own slot.
	for i := range positions {
		m.machines.Ensure(positions[i].Ticket, positions[i].Symbol, now)
	}

	var g errgroup.Group
	g.SetLimit(m.cfg.MaxConcurrent)
	for i := range positions {
		pos := positions[i]
		g.Go(func() error {
			m.evaluateOne(&pos, snapshots[pos.Symbol], account, limits, includeExpensive, now)
			return nil
		})
	}
	_ = g.Wait()

	m.mu.Lock()
	m.lastAccount = account
	m.lastPositions = make(map[int64]types.Position, len(positions))
	for _, p := range positions {
		m.lastPositions[p.Ticket] = p
	}
	m.mu.Unlock()

	for _, freed := range m.machines.Reap() {
		m.mu.Lock()
		delete(m.lastStrikes, freed)
		m.mu.Unlock()
		logger.Debugf("monitor: ticket %d reaped", freed)
	}
}

// detectExternalCloses transitions machines whose positions disappeared
// at the broker without an action from this system.
func (m *Monitor) detectExternalCloses(open []types.Position, now time.Time) {
	alive := make(map[int64]bool, len(open))
	for _, p := range open {
		alive[p.Ticket] = true
	}
	for _, ticket := range m.machines.Tickets() {
		if alive[ticket] {
			continue
		}
		mac, ok := m.machines.Get(ticket)
		if !ok || mac.Closed() {
			continue
		}
		if tr := mac.ConfirmClosed("closed externally", now); tr != nil {
			m.recordTransition(*tr, strike.Record{Ticket: ticket, UpdatedAt: now})
			m.events.ExternalClose(ticket, mac.Symbol(), now)
		}
	}
}

func (m *Monitor) fetchSnapshots(ctx context.Context, positions []types.Position) map[string]*market.Snapshot {
	symbols := make(map[string]bool, len(positions))
	for _, p := range positions {
		symbols[p.Symbol] = true
	}
	var mu sync.Mutex
	out := make(map[string]*market.Snapshot, len(symbols))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.cfg.MaxConcurrent)
	for symbol := range symbols {
		symbol := symbol
		g.Go(func() error {
			snap, err := m.source.Snapshot(gctx, symbol)
			if err != nil {
				logger.Warnf("monitor: snapshot for %s failed: %v", symbol, err)
				return nil
			}
			mu.Lock()
			out[symbol] = snap
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return out
}

func (m *Monitor) evaluateOne(pos *types.Position, snap *market.Snapshot,
	account types.Account, limits policy.Thresholds, includeExpensive bool, now time.Time) {
	mac, ok := m.machines.Get(pos.Ticket)
	if !ok || mac.Closed() {
		return
	}

	// Stale or missing data: no signals, no transitions, try again next
	// cycle. The position's risk is unknowable, not absent.
	if snap == nil || snap.Stale(m.cfg.StaleAfter, now) {
		logger.Debugf("monitor: ticket %d skipped, snapshot stale or missing for %s", pos.Ticket, pos.Symbol)
		return
	}

	readings := m.bank.Evaluate(detector.Input{
		Position: pos,
		Snapshot: snap,
		Account:  account,
		Limits:   limits,
		Now:      now,
	}, includeExpensive)
	rec := strike.Aggregate(pos.Ticket, readings, now)

	m.mu.Lock()
	m.lastStrikes[pos.Ticket] = rec
	for _, r := range readings {
		m.tallies[r.Category]++
	}
	m.mu.Unlock()

	out := mac.Step(pos, rec, limits, now)
	m.applyStep(mac, pos, rec, out, now)
}

func (m *Monitor) applyStep(mac *dtms.Machine, pos *types.Position,
	rec strike.Record, out dtms.StepOutput, now time.Time) {
	for _, tr := range out.Transitions {
		m.recordTransition(tr, rec)
		m.events.Transition(tr.Ticket, tr.Symbol, tr.From.String(), tr.To.String(),
			tr.Reason, rec.Strikes, rec.Urgency.String(), tr.At)
	}
	for _, res := range out.Results {
		m.recordOutcome(pos.Symbol, res)
		errMsg := ""
		if res.Err != nil {
			errMsg = res.Err.Error()
		}
		m.events.ActionOutcome(res.Ticket, pos.Symbol, res.Kind.String(),
			res.Status.String(), res.Retries, errMsg, res.CompletedAt)
	}
	if out.Unresolved {
		detail := "corrective action did not land"
		if last := mac.LastResult(); last != nil && last.Err != nil {
			detail = last.Err.Error()
		}
		m.events.UnresolvedRisk(pos.Ticket, pos.Symbol, detail, now)
	}
	if out.Request != nil {
		req := *out.Request
		ch := m.exec.Submit(req)
		mac.Bind(ch, req.Kind)
		logger.Infof("monitor: submitted %s for ticket %d (target=%.5f)", req.Kind, req.Ticket, req.TargetValue)
	}
}

func (m *Monitor) recordTransition(tr dtms.Transition, rec strike.Record) {
	if m.history == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.history.RecordTransition(ctx, tr, rec); err != nil {
		logger.Warnf("monitor: persisting transition failed: %v", err)
	}
}

func (m *Monitor) recordOutcome(symbol string, res executor.ActionResult) {
	if m.history == nil {
		return
	}
	errMsg := ""
	if res.Err != nil {
		errMsg = res.Err.Error()
	}
	if res.SuppressedReason != "" {
		errMsg = res.SuppressedReason
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := m.history.RecordOutcome(ctx, store.OutcomeRecord{
		RequestID: res.RequestID,
		Ticket:    res.Ticket,
		Symbol:    symbol,
		Kind:      res.Kind.String(),
		Status:    res.Status.String(),
		Retries:   res.Retries,
		Error:     errMsg,
		At:        res.CompletedAt,
	}); err != nil {
		logger.Warnf("monitor: persisting outcome failed: %v", err)
	}
}
