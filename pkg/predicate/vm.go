package predicate

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitpredicate/pkg/ledger"
	"github.com/uhyunpark/limitpredicate/pkg/order"
)

var ErrMalformedSpend = errors.New("malformed predicate spend")

// VM runs the limit-order predicate for the ledger.
type VM struct {
	MaxDecimals uint8
}

var _ ledger.PredicateVM = (*VM)(nil)

func NewVM() *VM {
	return &VM{MaxDecimals: order.MaxDecimals}
}

func (vm *VM) terms(data []byte) (order.Terms, error) {
	terms, err := order.DecodeTerms(data)
	if err != nil {
		return order.Terms{}, err
	}
	if err := terms.ValidateMax(vm.MaxDecimals); err != nil {
		return order.Terms{}, err
	}
	return terms, nil
}

// Root implements ledger.PredicateVM.
func (vm *VM) Root(data []byte) (common.Address, error) {
	terms, err := vm.terms(data)
	if err != nil {
		return common.Address{}, err
	}
	return Root(terms)
}

// Evaluate implements ledger.PredicateVM. A rejection comes back as *Rejection.
func (vm *VM) Evaluate(dep *ledger.Deposit, tx *ledger.Transaction) error {
	if tx.Spend == nil {
		return fmt.Errorf("%w: no spend input", ErrMalformedSpend)
	}
	terms, err := vm.terms(dep.Data)
	if err != nil {
		return err
	}
	w, err := DecodeWitness(tx.Spend.Witness)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedSpend, err)
	}

	attempt := Attempt{
		Kind:           w.Kind,
		Signer:         tx.Signer,
		Amount0Taken:   w.Amount0,
		Amount1Offered: w.Amount1,
		Recipient0:     w.Recipient0,
		Inputs:         toOutputs(tx.Inputs),
		Outputs:        toOutputs(tx.Outputs),
	}
	decision, err := Evaluate(terms, Locked{Asset: dep.Asset, Amount: dep.Amount}, attempt)
	if err != nil {
		return err
	}
	return decision.Err()
}

func toOutputs(coins []ledger.Coin) []Output {
	out := make([]Output, len(coins))
	for i, c := range coins {
		out[i] = Output{Owner: c.Owner, Asset: c.Asset, Amount: c.Amount}
	}
	return out
}
