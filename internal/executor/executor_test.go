package executor

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dtms/internal/broker"
	"dtms/internal/types"
)

// scriptedBroker returns the scripted errors in order, then nil.
type scriptedBroker struct {
	mu       sync.Mutex
	script   []error
	calls    int
	comments []string

	inFlight    atomic.Int32
	maxInFlight atomic.Int32

	block chan struct{}
}

func (b *scriptedBroker) Name() string { return "scripted" }

func (b *scriptedBroker) ListOpenPositions(context.Context) ([]types.Position, error) {
	return nil, nil
}

func (b *scriptedBroker) AccountSummary(context.Context) (types.Account, error) {
	return types.Account{}, nil
}

func (b *scriptedBroker) call(comment string) error {
	cur := b.inFlight.Add(1)
	defer b.inFlight.Add(-1)
	for {
		max := b.maxInFlight.Load()
		if cur <= max || b.maxInFlight.CompareAndSwap(max, cur) {
			break
		}
	}
	if b.block != nil {
		<-b.block
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.comments = append(b.comments, comment)
	idx := b.calls
	b.calls++
	if idx < len(b.script) {
		return b.script[idx]
	}
	return nil
}

func (b *scriptedBroker) ModifyStopLoss(_ context.Context, _ int64, _ float64, comment string) error {
	return b.call(comment)
}

func (b *scriptedBroker) PartialClose(_ context.Context, _ int64, _ float64, comment string) error {
	return b.call(comment)
}

func (b *scriptedBroker) ClosePosition(_ context.Context, _ int64, comment string) error {
	return b.call(comment)
}

func (b *scriptedBroker) callCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.calls
}

func newTestExecutor(b broker.Broker) *Executor {
	e := New(b, nil, Config{MaxAttempts: 3, BackoffBase: time.Millisecond, Cooldown: time.Minute})
	e.sleepFn = func(time.Duration) {}
	e.Start()
	return e
}

func await(t *testing.T, ch <-chan ActionResult) ActionResult {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for action result")
		return ActionResult{}
	}
}

func retryable() error {
	return broker.NewError(broker.CodeConnection, "no connection")
}

func TestExecutorSucceedsAfterTransientFailures(t *testing.T) {
	b := &scriptedBroker{script: []error{retryable(), retryable()}}
	e := newTestExecutor(b)
	defer e.Stop()

	res := await(t, e.Submit(NewActionRequest(101, "EURUSD", ActionFullClose, 0, "risk floor hit")))
	assert.Equal(t, StatusSuccess, res.Status)
	assert.Equal(t, 2, res.Retries)
	assert.True(t, res.OK())
	assert.Equal(t, 3, b.callCount())

	_, active := e.CooldownUntil(101)
	assert.True(t, active, "success must start the cooldown window")
}

func TestExecutorStopsAtRetryBound(t *testing.T) {
	b := &scriptedBroker{script: []error{retryable(), retryable(), retryable(), retryable()}}
	e := newTestExecutor(b)
	defer e.Stop()

	res := await(t, e.Submit(NewActionRequest(102, "EURUSD", ActionFullClose, 0, "x")))
	assert.Equal(t, StatusRetriesExhausted, res.Status)
	assert.Equal(t, 2, res.Retries)
	assert.Equal(t, 3, b.callCount(), "never more than max attempts")
}

func TestExecutorDoesNotRetryPermanentFailures(t *testing.T) {
	b := &scriptedBroker{script: []error{broker.NewError(broker.CodeInvalidStops, "invalid stops")}}
	e := newTestExecutor(b)
	defer e.Stop()

	res := await(t, e.Submit(NewActionRequest(103, "EURUSD", ActionTightenStop, 1.1, "x")))
	assert.Equal(t, StatusPermanentFailure, res.Status)
	assert.False(t, res.UnknownTicket)
	assert.Equal(t, 1, b.callCount())
}

func TestExecutorFlagsUnknownTicket(t *testing.T) {
	b := &scriptedBroker{script: []error{broker.NewError(broker.CodePositionGone, "position closed")}}
	e := newTestExecutor(b)
	defer e.Stop()

	res := await(t, e.Submit(NewActionRequest(104, "EURUSD", ActionFullClose, 0, "x")))
	assert.Equal(t, StatusPermanentFailure, res.Status)
	assert.True(t, res.UnknownTicket)
	assert.Equal(t, 1, b.callCount())
}

func TestExecutorRetriesPayloadRejectionOnce(t *testing.T) {
	b := &scriptedBroker{script: []error{
		broker.NewError(broker.CodeInvalidRequest, "invalid request"),
		broker.NewError(broker.CodeInvalidRequest, "invalid request"),
	}}
	e := newTestExecutor(b)
	defer e.Stop()

	res := await(t, e.Submit(NewActionRequest(105, "EURUSD", ActionFullClose, 0, "weird [comment]")))
	assert.Equal(t, StatusPermanentFailure, res.Status)
	assert.Equal(t, 2, b.callCount(), "one forced re-sanitization then escalate")
}

func TestExecutorSuppressesDuplicateForSameTicket(t *testing.T) {
	b := &scriptedBroker{block: make(chan struct{})}
	e := newTestExecutor(b)
	defer e.Stop()

	first := e.Submit(NewActionRequest(106, "EURUSD", ActionFullClose, 0, "x"))
	// Worker is blocked inside the broker call; a second request for
	// the same ticket must resolve immediately as suppressed.
	second := await(t, e.Submit(NewActionRequest(106, "EURUSD", ActionTightenStop, 1.2, "y")))
	assert.Equal(t, StatusSuppressed, second.Status)
	assert.Equal(t, "duplicate", second.SuppressedReason)

	close(b.block)
	res := await(t, first)
	assert.Equal(t, StatusSuccess, res.Status)
}

func TestExecutorSuppressesDuringCooldown(t *testing.T) {
	b := &scriptedBroker{}
	e := newTestExecutor(b)
	defer e.Stop()

	res := await(t, e.Submit(NewActionRequest(107, "EURUSD", ActionFullClose, 0, "x")))
	require.Equal(t, StatusSuccess, res.Status)

	second := await(t, e.Submit(NewActionRequest(107, "EURUSD", ActionTightenStop, 1.2, "y")))
	assert.Equal(t, StatusSuppressed, second.Status)
	assert.Equal(t, "cooldown", second.SuppressedReason)
	assert.Equal(t, 1, b.callCount())
}

func TestExecutorSerializesBrokerCalls(t *testing.T) {
	b := &scriptedBroker{}
	e := newTestExecutor(b)
	defer e.Stop()

	var chans []<-chan ActionResult
	for ticket := int64(200); ticket < 210; ticket++ {
		chans = append(chans, e.Submit(NewActionRequest(ticket, "EURUSD", ActionFullClose, 0, "x")))
	}
	for _, ch := range chans {
		await(t, ch)
	}
	assert.Equal(t, int32(1), b.maxInFlight.Load(), "no two broker calls may overlap")
}

func TestExecutorSuppressesSubmitAfterStop(t *testing.T) {
	b := &scriptedBroker{}
	e := newTestExecutor(b)
	e.Stop()

	res := await(t, e.Submit(NewActionRequest(109, "EURUSD", ActionFullClose, 0, "x")))
	assert.Equal(t, StatusSuppressed, res.Status)
	assert.Equal(t, "executor stopped", res.SuppressedReason)
	assert.Equal(t, 0, b.callCount())
}

func TestExecutorStopResolvesQueuedRequests(t *testing.T) {
	b := &scriptedBroker{}
	e := New(b, nil, Config{BackoffBase: time.Millisecond})
	// Worker never started: the request sits in the queue until Stop
	// drains it.
	ch := e.Submit(NewActionRequest(110, "EURUSD", ActionFullClose, 0, "x"))
	e.Stop()

	res := await(t, ch)
	assert.Equal(t, StatusSuppressed, res.Status)
	assert.Equal(t, "executor stopped", res.SuppressedReason)

	e.mu.Lock()
	inflight := e.inflight[110]
	e.mu.Unlock()
	assert.False(t, inflight, "drained request must release the in-flight mark")
}

func TestExecutorSuppressesWhenQueueFull(t *testing.T) {
	b := &scriptedBroker{}
	e := New(b, nil, Config{QueueSize: 1})
	defer e.Stop()

	first := e.Submit(NewActionRequest(111, "EURUSD", ActionFullClose, 0, "x"))
	res := await(t, e.Submit(NewActionRequest(112, "EURUSD", ActionFullClose, 0, "y")))
	assert.Equal(t, StatusSuppressed, res.Status)
	assert.Equal(t, "queue full", res.SuppressedReason)

	e.Stop()
	assert.Equal(t, StatusSuppressed, await(t, first).Status)
}

func TestExecutorSanitizesOutboundComment(t *testing.T) {
	b := &scriptedBroker{}
	e := newTestExecutor(b)
	defer e.Stop()

	await(t, e.Submit(NewActionRequest(108, "EURUSD", ActionFullClose, 0, "risk: [adx=15], (close)")))
	require.Len(t, b.comments, 1)
	assert.Equal(t, "risk adx15 close", b.comments[0])
}
