package lifecycle

import (
	"errors"

	"github.com/uhyunpark/limitpredicate/pkg/ledger"
	"github.com/uhyunpark/limitpredicate/pkg/predicate"
)

// Outcome is the coarse result of a flow, for callers that branch on it.
type Outcome int

const (
	Succeeded Outcome = iota
	// Rejected: the predicate refused the attempt; resubmitting it unchanged is pointless
	Rejected
	// AlreadyConsumed: another spend won the deposit
	AlreadyConsumed
	// TimedOut: the spend's fate is unknown; check the deposit before resubmitting
	TimedOut
	Failed
)

func (o Outcome) String() string {
	switch o {
	case Succeeded:
		return "succeeded"
	case Rejected:
		return "rejected"
	case AlreadyConsumed:
		return "already_consumed"
	case TimedOut:
		return "timed_out"
	default:
		return "failed"
	}
}

func Classify(err error) Outcome {
	switch {
	case err == nil:
		return Succeeded
	case errors.Is(err, predicate.ErrRejected):
		return Rejected
	case errors.Is(err, ledger.ErrAlreadyConsumed):
		return AlreadyConsumed
	case errors.Is(err, ledger.ErrSubmissionTimedOut):
		return TimedOut
	default:
		return Failed
	}
}

// RejectionReason extracts the predicate's reason from a rejected flow.
func RejectionReason(err error) (predicate.Reason, bool) {
	var rej *predicate.Rejection
	if errors.As(err, &rej) {
		return rej.Reason, true
	}
	return 0, false
}
