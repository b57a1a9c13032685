package broker

import (
	"errors"
	"fmt"
)

// ErrorKind classifies a failed mutating call so the executor can decide
// between retry, escalation, and giving up.
type ErrorKind int

const (
	// KindRetryable covers connectivity loss and transient rejections
	// (requotes, price off, busy server).
	KindRetryable ErrorKind = iota
	// KindPermanent covers failures retrying cannot fix, including an
	// unknown or already-closed ticket.
	KindPermanent
	// KindPayloadRejected means the request body itself was refused,
	// typically a comment with characters the protocol does not allow.
	// The executor re-sanitizes once before escalating to permanent.
	KindPayloadRejected
)

func (k ErrorKind) String() string {
	switch k {
	case KindPermanent:
		return "permanent"
	case KindPayloadRejected:
		return "payload_rejected"
	default:
		return "retryable"
	}
}

// Bridge return codes, following the MT5 trade-server convention.
const (
	CodeDone           = 10009
	CodeRequote        = 10004
	CodeRejected       = 10006
	CodeInvalidRequest = 10013
	CodeInvalidVolume  = 10014
	CodeInvalidPrice   = 10015
	CodeInvalidStops   = 10016
	CodeMarketClosed   = 10018
	CodePriceOff       = 10021
	CodeConnection     = 10031
	CodePositionGone   = 10036
	CodeTooManyReqs    = 10043
)

// Error is a classified failure from the execution collaborator.
type Error struct {
	Code int
	Desc string
	Kind ErrorKind
}

func (e *Error) Error() string {
	return fmt.Sprintf("broker: %s (code=%d, %s)", e.Desc, e.Code, e.Kind)
}

// NewError builds a classified error from a bridge return code.
func NewError(code int, desc string) *Error {
	return &Error{Code: code, Desc: desc, Kind: classifyCode(code)}
}

func classifyCode(code int) ErrorKind {
	switch code {
	case CodeRequote, CodeRejected, CodeMarketClosed, CodePriceOff, CodeConnection, CodeTooManyReqs:
		return KindRetryable
	case CodeInvalidRequest:
		return KindPayloadRejected
	case CodePositionGone, CodeInvalidVolume, CodeInvalidPrice, CodeInvalidStops:
		return KindPermanent
	default:
		return KindRetryable
	}
}

// Classify extracts the kind of a broker failure. Plain transport errors
// (timeouts, refused connections) count as retryable.
func Classify(err error) ErrorKind {
	var be *Error
	if errors.As(err, &be) {
		return be.Kind
	}
	return KindRetryable
}

// IsUnknownTicket reports whether the failure means the position no
// longer exists at the broker. The caller treats this as confirmation
// of an external close, not as a fault.
func IsUnknownTicket(err error) bool {
	var be *Error
	return errors.As(err, &be) && be.Code == CodePositionGone
}
