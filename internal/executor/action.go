package executor

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// ActionKind is the corrective measure requested by the state machine.
type ActionKind int

const (
	ActionTightenStop ActionKind = iota
	ActionPartialClose
	ActionFullClose
)

func (k ActionKind) String() string {
	switch k {
	case ActionTightenStop:
		return "tighten_stop"
	case ActionPartialClose:
		return "partial_close"
	case ActionFullClose:
		return "full_close"
	default:
		return "unknown"
	}
}

// ActionRequest asks the executor to perform one mutating call for one
// position. TargetValue is the new stop for ActionTightenStop and the
// volume to close for ActionPartialClose; it is unused for full closes.
type ActionRequest struct {
	ID          string
	Ticket      int64
	Symbol      string
	Kind        ActionKind
	TargetValue float64
	Reason      string
	CooldownKey string

	SubmittedAt time.Time
}

// NewActionRequest stamps a request with an id and submission time.
func NewActionRequest(ticket int64, symbol string, kind ActionKind, target float64, reason string) ActionRequest {
	return ActionRequest{
		ID:          uuid.NewString(),
		Ticket:      ticket,
		Symbol:      symbol,
		Kind:        kind,
		TargetValue: target,
		Reason:      reason,
		CooldownKey: fmt.Sprintf("%d/%s", ticket, kind),
		SubmittedAt: time.Now().UTC(),
	}
}

// ResultStatus is the terminal outcome of one ActionRequest.
type ResultStatus int

const (
	// StatusSuccess: the broker accepted the call, possibly after retries.
	StatusSuccess ResultStatus = iota
	// StatusRetriesExhausted: every allowed attempt failed retryably.
	StatusRetriesExhausted
	// StatusPermanentFailure: the broker refused in a way retrying cannot fix.
	StatusPermanentFailure
	// StatusSuppressed: the request never reached the broker (duplicate
	// in flight or ticket still cooling down). Not a fault.
	StatusSuppressed
)

func (s ResultStatus) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusRetriesExhausted:
		return "retries_exhausted"
	case StatusPermanentFailure:
		return "permanent_failure"
	case StatusSuppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// ActionResult travels back to the state machine, which alone decides
// what happens next.
type ActionResult struct {
	RequestID string
	Ticket    int64
	Kind      ActionKind

	Status  ResultStatus
	Retries int
	Err     error

	// SuppressedReason is set for StatusSuppressed ("duplicate" or
	// "cooldown").
	SuppressedReason string

	// UnknownTicket marks the permanent failure meaning the position no
	// longer exists at the broker.
	UnknownTicket bool

	CompletedAt time.Time
}

// OK reports whether the action took effect.
func (r ActionResult) OK() bool { return r.Status == StatusSuccess }
