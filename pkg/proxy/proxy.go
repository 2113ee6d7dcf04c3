// Package proxy moves a maker's funds from their account into a deposit
// locked to a limit-order predicate.
//
// Accounts are address-keyed while locked deposits are predicate-keyed; the
// ledger only accepts lock outputs that originate from an authorized proxy.
package proxy

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitpredicate/pkg/crypto"
	"github.com/uhyunpark/limitpredicate/pkg/ledger"
	"github.com/uhyunpark/limitpredicate/pkg/order"
	"github.com/uhyunpark/limitpredicate/pkg/predicate"
	"github.com/uhyunpark/limitpredicate/pkg/util"
)

// Ledger is the subset of the ledger the proxy submits through.
type Ledger interface {
	BalanceOf(ctx context.Context, owner common.Address, asset common.Hash) (uint64, error)
	NonceOf(ctx context.Context, addr common.Address) (uint64, error)
	Submit(ctx context.Context, tx *ledger.Transaction) (*ledger.Receipt, error)
}

type Proxy struct {
	address common.Address
	ledger  Ledger

	MaxDecimals uint8
	Logger      *zap.SugaredLogger
}

// DepositReceipt locates the deposit a Create produced.
type DepositReceipt struct {
	TxHash    common.Hash       `json:"tx_hash"`
	Ref       ledger.DepositRef `json:"ref"`
	Predicate common.Address    `json:"predicate"`
	Asset     common.Hash       `json:"asset"`
	Amount    uint64            `json:"amount"`
}

func New(address common.Address, l Ledger) *Proxy {
	return &Proxy{
		address:     address,
		ledger:      l,
		MaxDecimals: order.MaxDecimals,
		Logger:      util.NopSugar(),
	}
}

func (p *Proxy) Address() common.Address { return p.address }

// Create debits amount0 of terms.Asset0 from maker and locks it at
// predicateAddr with terms as the locking data.
func (p *Proxy) Create(ctx context.Context, maker *crypto.Signer, predicateAddr common.Address, terms order.Terms, amount0 uint64) (*DepositReceipt, error) {
	if err := terms.ValidateMax(min(p.MaxDecimals, order.MaxDecimals)); err != nil {
		return nil, err
	}
	if terms.Maker != maker.Address() {
		return nil, fmt.Errorf("%w: terms maker %s, signer %s", order.ErrInvalidOrderTerms, terms.Maker.Hex(), maker.Address().Hex())
	}
	if amount0 == 0 || amount0 < terms.MinFulfillAmount0 {
		return nil, fmt.Errorf("%w: deposit %d below min_fulfill_amount0 %d", order.ErrInvalidOrderTerms, amount0, terms.MinFulfillAmount0)
	}
	root, err := predicate.Root(terms)
	if err != nil {
		return nil, err
	}
	if root != predicateAddr {
		return nil, fmt.Errorf("%w: terms commit to predicate %s, not %s", order.ErrInvalidOrderTerms, root.Hex(), predicateAddr.Hex())
	}

	bal, err := p.ledger.BalanceOf(ctx, maker.Address(), terms.Asset0)
	if err != nil {
		return nil, err
	}
	if bal < amount0 {
		return nil, fmt.Errorf("%w: maker holds %d, deposit needs %d", ledger.ErrInsufficientBalance, bal, amount0)
	}

	data, err := terms.Encode()
	if err != nil {
		return nil, fmt.Errorf("encode terms: %w", err)
	}
	nonce, err := p.ledger.NonceOf(ctx, maker.Address())
	if err != nil {
		return nil, err
	}

	tx := &ledger.Transaction{
		Nonce:  nonce + 1,
		Via:    p.address,
		Inputs: []ledger.Coin{{Owner: maker.Address(), Asset: terms.Asset0, Amount: amount0}},
		Lock: &ledger.LockOutput{
			Predicate: predicateAddr,
			Asset:     terms.Asset0,
			Amount:    amount0,
			Data:      data,
		},
	}
	if err := tx.Sign(maker); err != nil {
		return nil, err
	}

	receipt, err := p.ledger.Submit(ctx, tx)
	if err != nil {
		p.Logger.Warnw("deposit_failed", "maker", maker.Address().Hex(), "predicate", predicateAddr.Hex(), "err", err)
		return nil, err
	}

	p.Logger.Infow("deposit_created",
		"maker", maker.Address().Hex(),
		"predicate", predicateAddr.Hex(),
		"ref", receipt.Created.Ref.Hex(),
		"amount0", amount0,
	)
	return &DepositReceipt{
		TxHash:    receipt.TxHash,
		Ref:       receipt.Created.Ref,
		Predicate: predicateAddr,
		Asset:     terms.Asset0,
		Amount:    amount0,
	}, nil
}
