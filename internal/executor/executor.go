package executor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"dtms/internal/broker"
	"dtms/internal/executor/journal"
	"dtms/internal/logger"
)

// Config tunes the execution proxy.
type Config struct {
	// MaxAttempts bounds calls per request, first try included.
	MaxAttempts int
	// BackoffBase is the first retry delay; it doubles per retry.
	BackoffBase time.Duration
	// AttemptTimeout bounds one broker call.
	AttemptTimeout time.Duration
	// Cooldown is the per-ticket quiet period after any terminal
	// outcome that reached the broker.
	Cooldown time.Duration
	// QueueSize bounds the submission queue.
	QueueSize int
}

func (c Config) withDefaults() Config {
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 3
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 300 * time.Millisecond
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 10 * time.Second
	}
	if c.Cooldown <= 0 {
		c.Cooldown = 3 * time.Minute
	}
	if c.QueueSize <= 0 {
		c.QueueSize = 64
	}
	return c
}

type submission struct {
	req     ActionRequest
	replyCh chan ActionResult
}

// Executor is the only component allowed to call the broker's mutating
// API. All requests funnel through one queue drained by one worker
// goroutine, so no two calls are ever concurrently in flight; the
// per-ticket gate additionally rejects a second request for a ticket
// whose first has not resolved yet.
type Executor struct {
	broker  broker.Broker
	journal *journal.Store
	cfg     Config

	queue  chan submission
	stopCh chan struct{}
	wg     sync.WaitGroup

	mu            sync.Mutex
	stopped       bool
	inflight      map[int64]bool
	cooldownUntil map[int64]time.Time

	nowFn   func() time.Time
	sleepFn func(time.Duration)
}

// New builds an executor. The journal is optional; without it cooldowns
// live only in memory.
func New(b broker.Broker, jnl *journal.Store, cfg Config) *Executor {
	e := &Executor{
		broker:        b,
		journal:       jnl,
		cfg:           cfg.withDefaults(),
		stopCh:        make(chan struct{}),
		inflight:      make(map[int64]bool),
		cooldownUntil: make(map[int64]time.Time),
		nowFn:         time.Now,
		sleepFn:       time.Sleep,
	}
	e.queue = make(chan submission, e.cfg.QueueSize)
	if jnl != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if persisted, err := jnl.LoadCooldowns(ctx); err != nil {
			logger.Warnf("executor: loading persisted cooldowns failed: %v", err)
		} else {
			for ticket, until := range persisted {
				e.cooldownUntil[ticket] = until
			}
		}
	}
	return e
}

// Start launches the single worker.
func (e *Executor) Start() {
	e.wg.Add(1)
	go e.run()
}

// Stop halts the worker, then resolves every still-queued request with
// a suppressed result so callers never hang. Submits happening after
// the stopped flag is set resolve the same way, so nothing can land in
// the queue once the drain runs.
func (e *Executor) Stop() {
	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		return
	}
	e.stopped = true
	e.mu.Unlock()

	close(e.stopCh)
	e.wg.Wait()
	for {
		select {
		case sub := <-e.queue:
			e.clearInflight(sub.req.Ticket)
			e.finish(sub, ActionResult{
				RequestID:        sub.req.ID,
				Ticket:           sub.req.Ticket,
				Kind:             sub.req.Kind,
				Status:           StatusSuppressed,
				SuppressedReason: "executor stopped",
				CompletedAt:      e.nowFn().UTC(),
			})
		default:
			return
		}
	}
}

// Submit hands a request to the worker and returns the future carrying
// its result. Requests suppressed by the in-flight gate or a cooldown
// resolve immediately. The enqueue happens under the mutex so a
// concurrent Stop either sees the submission in the queue or suppresses
// it here, never neither.
func (e *Executor) Submit(req ActionRequest) <-chan ActionResult {
	replyCh := make(chan ActionResult, 1)
	now := e.nowFn()

	e.mu.Lock()
	if e.stopped {
		e.mu.Unlock()
		replyCh <- e.suppressed(req, "executor stopped")
		return replyCh
	}
	if e.inflight[req.Ticket] {
		e.mu.Unlock()
		replyCh <- e.suppressed(req, "duplicate")
		return replyCh
	}
	if until, ok := e.cooldownUntil[req.Ticket]; ok && now.Before(until) {
		e.mu.Unlock()
		replyCh <- e.suppressed(req, "cooldown")
		return replyCh
	}

	select {
	case e.queue <- submission{req: req, replyCh: replyCh}:
		e.inflight[req.Ticket] = true
		e.mu.Unlock()
	default:
		e.mu.Unlock()
		replyCh <- e.suppressed(req, "queue full")
	}
	return replyCh
}

// CooldownUntil reports the active quiet period for a ticket, if any.
func (e *Executor) CooldownUntil(ticket int64) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	until, ok := e.cooldownUntil[ticket]
	if !ok || !e.nowFn().Before(until) {
		return time.Time{}, false
	}
	return until, true
}

func (e *Executor) run() {
	defer e.wg.Done()
	logger.Infof("executor worker started (max_attempts=%d, cooldown=%s)", e.cfg.MaxAttempts, e.cfg.Cooldown)
	for {
		select {
		case sub := <-e.queue:
			res := e.execute(sub.req)
			e.clearInflight(sub.req.Ticket)
			if res.Status == StatusSuccess || res.Status == StatusRetriesExhausted {
				e.startCooldown(sub.req.Ticket)
			}
			e.finish(sub, res)
		case <-e.stopCh:
			logger.Infof("executor worker stopping")
			return
		}
	}
}

func (e *Executor) execute(req ActionRequest) ActionResult {
	res := ActionResult{RequestID: req.ID, Ticket: req.Ticket, Kind: req.Kind}
	comment := SanitizeComment(req.Reason)
	payloadRetried := false

	for attempt := 1; attempt <= e.cfg.MaxAttempts; attempt++ {
		err := e.dispatch(req, comment)
		if err == nil {
			res.Status = StatusSuccess
			res.Retries = attempt - 1
			res.CompletedAt = e.nowFn().UTC()
			return res
		}
		res.Err = err
		res.Retries = attempt - 1

		switch broker.Classify(err) {
		case broker.KindPermanent:
			res.Status = StatusPermanentFailure
			res.UnknownTicket = broker.IsUnknownTicket(err)
			res.CompletedAt = e.nowFn().UTC()
			return res
		case broker.KindPayloadRejected:
			if payloadRetried {
				res.Status = StatusPermanentFailure
				res.CompletedAt = e.nowFn().UTC()
				return res
			}
			// One forced re-sanitization, then the rejection is final.
			payloadRetried = true
			comment = SanitizeComment(comment)
			logger.Warnf("executor: payload rejected for ticket %d, re-sanitized comment and retrying once", req.Ticket)
		case broker.KindRetryable:
			if attempt < e.cfg.MaxAttempts {
				backoff := e.cfg.BackoffBase << (attempt - 1)
				logger.Debugf("executor: attempt %d/%d for ticket %d failed (%v), backing off %s",
					attempt, e.cfg.MaxAttempts, req.Ticket, err, backoff)
				e.sleepFn(backoff)
			}
		}
	}

	res.Status = StatusRetriesExhausted
	res.Retries = e.cfg.MaxAttempts - 1
	res.CompletedAt = e.nowFn().UTC()
	return res
}

func (e *Executor) dispatch(req ActionRequest, comment string) error {
	ctx, cancel := context.WithTimeout(context.Background(), e.cfg.AttemptTimeout)
	defer cancel()
	switch req.Kind {
	case ActionTightenStop:
		return e.broker.ModifyStopLoss(ctx, req.Ticket, req.TargetValue, comment)
	case ActionPartialClose:
		return e.broker.PartialClose(ctx, req.Ticket, req.TargetValue, comment)
	case ActionFullClose:
		return e.broker.ClosePosition(ctx, req.Ticket, comment)
	default:
		return fmt.Errorf("unknown action kind %d", req.Kind)
	}
}

func (e *Executor) suppressed(req ActionRequest, reason string) ActionResult {
	res := ActionResult{
		RequestID:        req.ID,
		Ticket:           req.Ticket,
		Kind:             req.Kind,
		Status:           StatusSuppressed,
		SuppressedReason: reason,
		CompletedAt:      e.nowFn().UTC(),
	}
	e.record(req, res)
	return res
}

func (e *Executor) finish(sub submission, res ActionResult) {
	e.record(sub.req, res)
	sub.replyCh <- res
}

func (e *Executor) record(req ActionRequest, res ActionResult) {
	if e.journal == nil {
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
	if err := e.journal.Append(ctx, journal.Entry{
		RequestID: req.ID,
		Ticket:    req.Ticket,
		Kind:      req.Kind.String(),
		Target:    req.TargetValue,
		Reason:    req.Reason,
		Status:    res.Status.String(),
		Retries:   res.Retries,
		Error:     errMsg,
		CreatedAt: res.CompletedAt,
	}); err != nil {
		logger.Warnf("executor: journal append failed: %v", err)
	}
}

func (e *Executor) clearInflight(ticket int64) {
	e.mu.Lock()
	delete(e.inflight, ticket)
	e.mu.Unlock()
}

func (e *Executor) startCooldown(ticket int64) {
	until := e.nowFn().Add(e.cfg.Cooldown)
	e.mu.Lock()
	e.cooldownUntil[ticket] = until
	e.mu.Unlock()
	if e.journal != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		if err := e.journal.SetCooldown(ctx, ticket, until); err != nil {
			logger.Warnf("executor: persisting cooldown for ticket %d failed: %v", ticket, err)
		}
	}
}
