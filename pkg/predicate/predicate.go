// Package predicate implements the limit-order spend rules.
//
// Evaluate is a pure function of the order terms, the locked deposit and a
// spend attempt. It holds no state and never logs, so any number of
// evaluators may call it concurrently and always reach the same decision.
package predicate

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"

	"github.com/uhyunpark/limitpredicate/pkg/order"
)

var (
	ErrRejected      = errors.New("spend rejected by predicate")
	ErrUnknownKind   = errors.New("unknown spend kind")
	ErrAssetMismatch = errors.New("locked asset does not match order terms")
)

// Kind tags a spend attempt.
type Kind uint8

const (
	Cancel Kind = iota + 1
	Fulfill
)

func (k Kind) String() string {
	switch k {
	case Cancel:
		return "cancel"
	case Fulfill:
		return "fulfill"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Reason explains a rejection.
type Reason uint8

const (
	NotMaker Reason = iota + 1
	BelowMinimumFill
	InsufficientPayment
)

func (r Reason) String() string {
	switch r {
	case NotMaker:
		return "NotMaker"
	case BelowMinimumFill:
		return "BelowMinimumFill"
	case InsufficientPayment:
		return "InsufficientPayment"
	default:
		return fmt.Sprintf("Reason(%d)", uint8(r))
	}
}

// Rejection is a negative decision. It matches ErrRejected under errors.Is.
type Rejection struct {
	Reason Reason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return fmt.Sprintf("rejected: %s", r.Reason)
	}
	return fmt.Sprintf("rejected: %s: %s", r.Reason, r.Detail)
}

func (r *Rejection) Is(target error) bool { return target == ErrRejected }

// Output is a coin a spending transaction creates.
type Output struct {
	Owner  common.Address
	Asset  common.Hash
	Amount uint64
}

// Locked describes the deposit being spent.
type Locked struct {
	Asset  common.Hash
	Amount uint64
}

// Attempt is a proposed spend of a locked deposit.
type Attempt struct {
	Kind   Kind
	Signer common.Address

	// Fulfill only
	Amount0Taken   uint64
	Amount1Offered uint64
	Recipient0     common.Address

	Inputs  []Output // Coins the signer contributes
	Outputs []Output // Coins the transaction creates
}

type Decision struct {
	Authorized bool
	Reason     Reason // Set when not authorized
	Required   uint64 // Asset1 owed to the maker (fulfill only)
	Detail     string
}

// Err returns nil for an authorized decision and a *Rejection otherwise.
func (d Decision) Err() error {
	if d.Authorized {
		return nil
	}
	return &Rejection{Reason: d.Reason, Detail: d.Detail}
}

func reject(reason Reason, required uint64, format string, args ...interface{}) Decision {
	return Decision{Reason: reason, Required: required, Detail: fmt.Sprintf(format, args...)}
}

// Evaluate decides whether attempt may consume the locked deposit.
// Rejections are returned as a Decision; the error is reserved for attempts
// that cannot be evaluated at all (overflow, unknown kind, wrong asset).
func Evaluate(terms order.Terms, locked Locked, attempt Attempt) (Decision, error) {
	if locked.Asset != terms.Asset0 {
		return Decision{}, fmt.Errorf("%w: deposit holds %s, terms offer %s", ErrAssetMismatch, locked.Asset.Hex(), terms.Asset0.Hex())
	}

	switch attempt.Kind {
	case Cancel:
		if attempt.Signer != terms.Maker {
			return reject(NotMaker, 0, "signer %s is not maker %s", attempt.Signer.Hex(), terms.Maker.Hex()), nil
		}
		return Decision{Authorized: true}, nil
	case Fulfill:
		return evaluateFulfill(terms, locked, attempt)
	default:
		return Decision{}, fmt.Errorf("%w: %s", ErrUnknownKind, attempt.Kind)
	}
}

func evaluateFulfill(terms order.Terms, locked Locked, a Attempt) (Decision, error) {
	// Exact fill: the whole deposit goes in one spend
	if a.Amount0Taken != locked.Amount || a.Amount0Taken < terms.MinFulfillAmount0 {
		return reject(BelowMinimumFill, 0, "took %d of %d locked (min %d)",
			a.Amount0Taken, locked.Amount, terms.MinFulfillAmount0), nil
	}

	required, err := terms.RequiredAmount1(a.Amount0Taken)
	if err != nil {
		return Decision{}, err
	}

	if a.Amount1Offered < required {
		return reject(InsufficientPayment, required, "offered %d, required %d", a.Amount1Offered, required), nil
	}
	if a.Recipient0 != a.Signer {
		return reject(InsufficientPayment, required, "asset0 recipient %s is not taker %s", a.Recipient0.Hex(), a.Signer.Hex()), nil
	}

	var contributed uint64
	for _, in := range a.Inputs {
		if in.Owner == a.Signer && in.Asset == terms.Asset1 {
			var overflow bool
			if contributed, overflow = math.SafeAdd(contributed, in.Amount); overflow {
				return Decision{}, fmt.Errorf("asset1 inputs overflow")
			}
		}
	}
	if contributed < a.Amount1Offered {
		return reject(InsufficientPayment, required, "offered %d, inputs carry %d", a.Amount1Offered, contributed), nil
	}

	var makerPaid, takerGot0 uint64
	for _, out := range a.Outputs {
		var overflow bool
		switch {
		case out.Asset == terms.Asset0:
			if out.Owner != a.Signer {
				return reject(InsufficientPayment, required, "asset0 routed to %s", out.Owner.Hex()), nil
			}
			takerGot0, overflow = math.SafeAdd(takerGot0, out.Amount)
		case out.Asset == terms.Asset1 && out.Owner == terms.Maker:
			makerPaid, overflow = math.SafeAdd(makerPaid, out.Amount)
		case out.Asset == terms.Asset1 && out.Owner != a.Signer:
			// Change must return to the taker
			return reject(InsufficientPayment, required, "asset1 change routed to %s", out.Owner.Hex()), nil
		}
		if overflow {
			return Decision{}, fmt.Errorf("output sum overflow")
		}
	}

	if makerPaid < required {
		return reject(InsufficientPayment, required, "maker paid %d, required %d", makerPaid, required), nil
	}
	if takerGot0 != a.Amount0Taken {
		return reject(InsufficientPayment, required, "taker receives %d asset0, took %d", takerGot0, a.Amount0Taken), nil
	}
	return Decision{Authorized: true, Required: required}, nil
}
