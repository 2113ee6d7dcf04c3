// Package lifecycle drives the three order flows: create, cancel and fulfill.
// Each flow is single-shot; nothing is retried.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitpredicate/pkg/crypto"
	"github.com/uhyunpark/limitpredicate/pkg/ledger"
	"github.com/uhyunpark/limitpredicate/pkg/order"
	"github.com/uhyunpark/limitpredicate/pkg/predicate"
	"github.com/uhyunpark/limitpredicate/pkg/proxy"
	"github.com/uhyunpark/limitpredicate/pkg/util"
)

var (
	ErrOrderCancelRejected  = errors.New("order cancel rejected")
	ErrOrderFulfillRejected = errors.New("order fulfill rejected")
)

// Ledger is what the service needs from the ledger.
type Ledger interface {
	proxy.Ledger
	FindDeposit(ctx context.Context, root common.Address, asset common.Hash, amount uint64) (*ledger.Deposit, error)
}

type Service struct {
	ledger Ledger

	// SubmitTimeout bounds each flow; zero leaves the caller's context alone
	SubmitTimeout time.Duration
	Logger        *zap.SugaredLogger
}

func New(l Ledger) *Service {
	return &Service{
		ledger: l,
		Logger: util.NopSugar(),
	}
}

func (s *Service) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.SubmitTimeout > 0 {
		return context.WithTimeout(ctx, s.SubmitTimeout)
	}
	return context.WithCancel(ctx)
}

// CreateOrder deposits amount0 of terms.Asset0 through p into the predicate
// instance for terms and returns where the deposit lives.
func (s *Service) CreateOrder(ctx context.Context, maker *crypto.Signer, p *proxy.Proxy, terms order.Terms, amount0 uint64) (*proxy.DepositReceipt, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	inst, err := predicate.New(terms)
	if err != nil {
		return nil, err
	}
	receipt, err := p.Create(ctx, maker, inst.Root, terms, amount0)
	if err != nil {
		s.Logger.Warnw("order_create_failed", "maker", maker.Address().Hex(), "err", err)
		return nil, err
	}

	s.Logger.Infow("order_created",
		"maker", maker.Address().Hex(),
		"predicate", inst.Root.Hex(),
		"deposit", receipt.Ref.Hex(),
		"amount0", amount0,
		"price", terms.Price,
	)
	return receipt, nil
}

// CancelOrder returns amount0 of asset0 locked at inst to maker.
func (s *Service) CancelOrder(ctx context.Context, maker *crypto.Signer, inst *predicate.Instance, asset0 common.Hash, amount0 uint64) (*ledger.Receipt, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	dep, err := s.ledger.FindDeposit(ctx, inst.Root, asset0, amount0)
	if err != nil {
		return nil, err
	}
	witness, err := predicate.Witness{Kind: predicate.Cancel}.Encode()
	if err != nil {
		return nil, err
	}

	tx := &ledger.Transaction{
		Spend:   &ledger.SpendInput{Deposit: dep.Ref, Witness: witness},
		Outputs: []ledger.Coin{{Owner: maker.Address(), Asset: asset0, Amount: amount0}},
	}
	receipt, err := s.submit(ctx, maker, tx)
	if err != nil {
		if errors.Is(err, predicate.ErrRejected) {
			s.Logger.Infow("order_cancel_rejected", "signer", maker.Address().Hex(), "deposit", dep.Ref.Hex(), "err", err)
			return nil, fmt.Errorf("%w: %w", ErrOrderCancelRejected, err)
		}
		return nil, err
	}

	s.Logger.Infow("order_cancelled", "maker", maker.Address().Hex(), "deposit", dep.Ref.Hex(), "amount0", amount0)
	return receipt, nil
}

// FulfillOrder takes amount0 of asset0 locked at inst, paying up to amount1
// of asset1. The maker is paid the required amount; anything above it returns
// to the taker as change.
func (s *Service) FulfillOrder(ctx context.Context, taker *crypto.Signer, inst *predicate.Instance, makerAddr common.Address,
	asset0 common.Hash, amount0 uint64, asset1 common.Hash, amount1 uint64) (*ledger.Receipt, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	dep, err := s.ledger.FindDeposit(ctx, inst.Root, asset0, amount0)
	if err != nil {
		return nil, err
	}
	required, err := inst.Terms.RequiredAmount1(amount0)
	if err != nil {
		return nil, err
	}
	witness, err := predicate.Witness{
		Kind:       predicate.Fulfill,
		Amount0:    amount0,
		Amount1:    amount1,
		Recipient0: taker.Address(),
	}.Encode()
	if err != nil {
		return nil, err
	}

	pay := min(amount1, required)
	tx := &ledger.Transaction{
		Spend: &ledger.SpendInput{Deposit: dep.Ref, Witness: witness},
		Outputs: []ledger.Coin{
			{Owner: taker.Address(), Asset: asset0, Amount: amount0},
		},
	}
	if amount1 > 0 {
		tx.Inputs = []ledger.Coin{{Owner: taker.Address(), Asset: asset1, Amount: amount1}}
	}
	if pay > 0 {
		tx.Outputs = append(tx.Outputs, ledger.Coin{Owner: makerAddr, Asset: asset1, Amount: pay})
	}
	if change := amount1 - pay; change > 0 {
		tx.Outputs = append(tx.Outputs, ledger.Coin{Owner: taker.Address(), Asset: asset1, Amount: change})
	}

	receipt, err := s.submit(ctx, taker, tx)
	if err != nil {
		if errors.Is(err, predicate.ErrRejected) {
			s.Logger.Infow("order_fulfill_rejected",
				"taker", taker.Address().Hex(),
				"deposit", dep.Ref.Hex(),
				"offered", amount1,
				"required", required,
				"err", err,
			)
			return nil, fmt.Errorf("%w: %w", ErrOrderFulfillRejected, err)
		}
		return nil, err
	}

	s.Logger.Infow("order_fulfilled",
		"taker", taker.Address().Hex(),
		"maker", makerAddr.Hex(),
		"deposit", dep.Ref.Hex(),
		"amount0", amount0,
		"paid", pay,
	)
	return receipt, nil
}

func (s *Service) submit(ctx context.Context, signer *crypto.Signer, tx *ledger.Transaction) (*ledger.Receipt, error) {
	nonce, err := s.ledger.NonceOf(ctx, signer.Address())
	if err != nil {
		return nil, err
	}
	tx.Nonce = nonce + 1
	if err := tx.Sign(signer); err != nil {
		return nil, err
	}
	return s.ledger.Submit(ctx, tx)
}
