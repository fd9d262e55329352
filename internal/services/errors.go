package services

import (
	"errors"
	"fmt"
)

var (
	ErrForbidden              = errors.New("forbidden")
	ErrNotFound               = errors.New("not found")
	ErrInvalidInput           = errors.New("invalid input")
	ErrInvalidStateTransition = errors.New("invalid state transition")
	ErrRefundExceedsBalance   = errors.New("refund exceeds remaining balance")
	ErrMissingPaymentMethod   = errors.New("payer has no saved payment method")

	ErrAlreadyProcessed   = errors.New("already processed")
	ErrMissingLinkage     = errors.New("payment record not linked")
	ErrCapacityReached    = errors.New("purchasable no longer available")
	ErrNoUnclaimedSegment = errors.New("no unclaimed overtime segment")
)

// ErrorKind tells a caller what to do with a failed reconciliation step.
type ErrorKind int

const (
	// KindIdempotent: the effect already happened; report success.
	KindIdempotent ErrorKind = iota + 1
	// KindConflict: the purchasable became unavailable and was compensated.
	KindConflict
	// KindTransient: retry the whole delivery.
	KindTransient
	// KindFatal: redelivery cannot help; needs manual intervention.
	KindFatal
)

func (k ErrorKind) String() string {
	switch k {
	case KindIdempotent:
		return "idempotent"
	case KindConflict:
		return "conflict"
	case KindTransient:
		return "transient"
	case KindFatal:
		return "fatal"
	default:
		return "unknown"
	}
}

type ReconciliationError struct {
	Kind ErrorKind
	Op   string
	Err  error
}

func (e *ReconciliationError) Error() string {
	return fmt.Sprintf("%s (%s): %v", e.Op, e.Kind, e.Err)
}

func (e *ReconciliationError) Unwrap() error {
	return e.Err
}

func newReconciliationError(kind ErrorKind, op string, err error) *ReconciliationError {
	return &ReconciliationError{Kind: kind, Op: op, Err: err}
}

func idempotent(op string) error {
	return newReconciliationError(KindIdempotent, op, ErrAlreadyProcessed)
}

func fatal(op string, err error) error {
	return newReconciliationError(KindFatal, op, err)
}

// KindOf classifies err. Errors that are not reconciliation errors are
// treated as transient so the processor redelivers.
func KindOf(err error) ErrorKind {
	var rerr *ReconciliationError
	if errors.As(err, &rerr) {
		return rerr.Kind
	}
	return KindTransient
}
