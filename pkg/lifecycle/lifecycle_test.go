package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/uhyunpark/limitpredicate/pkg/crypto"
	"github.com/uhyunpark/limitpredicate/pkg/ledger"
	"github.com/uhyunpark/limitpredicate/pkg/order"
	"github.com/uhyunpark/limitpredicate/pkg/predicate"
	"github.com/uhyunpark/limitpredicate/pkg/pricemath"
	"github.com/uhyunpark/limitpredicate/pkg/proxy"
)

var (
	usdc      = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000c1")
	uni       = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000c2")
	proxyAddr = common.HexToAddress("0x9000000000000000000000000000000000000009")
)

const (
	amount0   = 1_000_000_000   // 1000 USDC, 6 decimals
	required1 = 200_000_000_000 // 200 UNI, 9 decimals
)

type fixture struct {
	l     *ledger.Ledger
	svc   *Service
	proxy *proxy.Proxy
	maker *crypto.Signer
	taker *crypto.Signer
	terms order.Terms
	inst  *predicate.Instance
}

func newFixture(t *testing.T, opts ledger.Options) *fixture {
	t.Helper()
	opts.VM = predicate.NewVM()
	l, err := ledger.Open(opts)
	if err != nil {
		t.Fatalf("open ledger: %v", err)
	}
	t.Cleanup(func() { l.Close() })
	l.AuthorizeProxy(proxyAddr)

	maker, _ := crypto.GenerateKey()
	taker, _ := crypto.GenerateKey()

	// Price derived from the amounts the maker wants to trade
	price, err := pricemath.Price(amount0, required1, 9, 6, 9)
	if err != nil {
		t.Fatalf("price: %v", err)
	}
	terms, err := order.NewTerms(order.Terms{
		Asset0:            usdc,
		Asset1:            uni,
		Decimals0:         6,
		Decimals1:         9,
		Maker:             maker.Address(),
		Price:             price,
		PriceDecimals:     9,
		MinFulfillAmount0: 1,
	})
	if err != nil {
		t.Fatalf("terms: %v", err)
	}
	inst, err := predicate.New(terms)
	if err != nil {
		t.Fatalf("instance: %v", err)
	}

	ctx := context.Background()
	if err := l.Mint(ctx, maker.Address(), usdc, amount0); err != nil {
		t.Fatalf("mint: %v", err)
	}
	if err := l.Mint(ctx, taker.Address(), uni, required1); err != nil {
		t.Fatalf("mint: %v", err)
	}

	return &fixture{
		l:     l,
		svc:   New(l),
		proxy: proxy.New(proxyAddr, l),
		maker: maker,
		taker: taker,
		terms: terms,
		inst:  inst,
	}
}

func (f *fixture) balance(t *testing.T, who *crypto.Signer, asset common.Hash) uint64 {
	t.Helper()
	bal, err := f.l.BalanceOf(context.Background(), who.Address(), asset)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return bal
}

func (f *fixture) create(t *testing.T) *proxy.DepositReceipt {
	t.Helper()
	receipt, err := f.svc.CreateOrder(context.Background(), f.maker, f.proxy, f.terms, amount0)
	if err != nil {
		t.Fatalf("create order: %v", err)
	}
	return receipt
}

func (f *fixture) fulfill(amount1 uint64) error {
	_, err := f.svc.FulfillOrder(context.Background(), f.taker, f.inst, f.maker.Address(), usdc, amount0, uni, amount1)
	return err
}

func (f *fixture) cancel(signer *crypto.Signer) error {
	_, err := f.svc.CancelOrder(context.Background(), signer, f.inst, usdc, amount0)
	return err
}

func TestCreateOrder(t *testing.T) {
	f := newFixture(t, ledger.Options{})
	receipt := f.create(t)

	if receipt.Predicate != f.inst.Root {
		t.Errorf("deposit predicate = %s, want %s", receipt.Predicate.Hex(), f.inst.Root.Hex())
	}
	if got := f.balance(t, f.maker, usdc); got != 0 {
		t.Errorf("maker usdc = %d after create, want 0", got)
	}
	dep, err := f.l.FindDeposit(context.Background(), f.inst.Root, usdc, amount0)
	if err != nil || dep.Ref != receipt.Ref {
		t.Errorf("find deposit = %v, %v", dep, err)
	}
}

func TestScenario_CreateThenCancel(t *testing.T) {
	f := newFixture(t, ledger.Options{})
	f.create(t)

	if err := f.cancel(f.maker); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := f.balance(t, f.maker, usdc); got != amount0 {
		t.Errorf("maker usdc = %d after cancel, want %d", got, amount0)
	}
	if got := f.balance(t, f.maker, uni); got != 0 {
		t.Errorf("maker uni = %d after cancel, want 0", got)
	}
}

func TestScenario_CreateThenFulfill(t *testing.T) {
	f := newFixture(t, ledger.Options{})
	receipt := f.create(t)

	if err := f.fulfill(required1); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got := f.balance(t, f.maker, uni); got != required1 {
		t.Errorf("maker uni = %d, want %d", got, required1)
	}
	if got := f.balance(t, f.taker, usdc); got != amount0 {
		t.Errorf("taker usdc = %d, want %d", got, amount0)
	}
	if got := f.balance(t, f.taker, uni); got != 0 {
		t.Errorf("taker uni = %d, want 0", got)
	}

	dep, err := f.l.Deposit(context.Background(), receipt.Ref)
	if err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if !dep.Consumed {
		t.Error("deposit not consumed after fulfill")
	}
}

func TestScenario_ShortFulfillThenCancel(t *testing.T) {
	f := newFixture(t, ledger.Options{})
	f.create(t)

	err := f.fulfill(required1 - 1)
	if !errors.Is(err, ErrOrderFulfillRejected) {
		t.Fatalf("err = %v, want ErrOrderFulfillRejected", err)
	}
	if reason, ok := RejectionReason(err); !ok || reason != predicate.InsufficientPayment {
		t.Errorf("reason = %v, want InsufficientPayment", reason)
	}
	if Classify(err) != Rejected {
		t.Errorf("classify = %s, want rejected", Classify(err))
	}

	// Identical attempt rejects identically
	again := f.fulfill(required1 - 1)
	if reason, _ := RejectionReason(again); reason != predicate.InsufficientPayment {
		t.Errorf("resubmission = %v, want InsufficientPayment", again)
	}

	if got := f.balance(t, f.taker, uni); got != required1 {
		t.Errorf("taker uni = %d after rejection, want %d", got, required1)
	}
	if err := f.cancel(f.maker); err != nil {
		t.Fatalf("cancel after rejected fill: %v", err)
	}
	if got := f.balance(t, f.maker, usdc); got != amount0 {
		t.Errorf("maker usdc = %d, want %d", got, amount0)
	}
}

func TestCancelByStranger(t *testing.T) {
	f := newFixture(t, ledger.Options{})
	f.create(t)

	err := f.cancel(f.taker)
	if !errors.Is(err, ErrOrderCancelRejected) {
		t.Fatalf("err = %v, want ErrOrderCancelRejected", err)
	}
	if reason, _ := RejectionReason(err); reason != predicate.NotMaker {
		t.Errorf("reason = %s, want NotMaker", reason)
	}
	if got := f.balance(t, f.taker, usdc); got != 0 {
		t.Errorf("taker usdc = %d, want 0", got)
	}
}

func TestFulfillOverpayReturnsChange(t *testing.T) {
	f := newFixture(t, ledger.Options{})
	f.create(t)
	const extra = 50_000_000_000
	if err := f.l.Mint(context.Background(), f.taker.Address(), uni, extra); err != nil {
		t.Fatalf("mint: %v", err)
	}

	if err := f.fulfill(required1 + extra); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	if got := f.balance(t, f.maker, uni); got != required1 {
		t.Errorf("maker uni = %d, want exactly %d", got, required1)
	}
	if got := f.balance(t, f.taker, uni); got != extra {
		t.Errorf("taker uni = %d, want change %d", got, extra)
	}
}

func TestFulfillPartialRejected(t *testing.T) {
	f := newFixture(t, ledger.Options{})
	f.create(t)

	_, err := f.svc.FulfillOrder(context.Background(), f.taker, f.inst, f.maker.Address(), usdc, amount0/2, uni, required1/2)
	if reason, _ := RejectionReason(err); reason != predicate.BelowMinimumFill {
		t.Fatalf("err = %v, want BelowMinimumFill", err)
	}
	if Classify(err) != Rejected {
		t.Errorf("classify = %s, want rejected", Classify(err))
	}
	if got := f.balance(t, f.taker, uni); got != required1 {
		t.Errorf("taker uni = %d, want %d", got, required1)
	}
}

func TestCancelByStrangerAnyAmount(t *testing.T) {
	for _, amount := range []uint64{1, amount0 / 2, amount0} {
		t.Run(fmt.Sprintf("amount%d", amount), func(t *testing.T) {
			f := newFixture(t, ledger.Options{})
			f.create(t)

			_, err := f.svc.CancelOrder(context.Background(), f.taker, f.inst, usdc, amount)
			if Classify(err) != Rejected {
				t.Fatalf("classify = %s (%v), want rejected", Classify(err), err)
			}
			if reason, _ := RejectionReason(err); reason != predicate.NotMaker {
				t.Errorf("reason = %s, want NotMaker", reason)
			}
			if got := f.balance(t, f.taker, usdc); got != 0 {
				t.Errorf("taker usdc = %d, want 0", got)
			}
		})
	}
}

func TestExclusivity(t *testing.T) {
	f := newFixture(t, ledger.Options{})
	f.create(t)

	if err := f.fulfill(required1); err != nil {
		t.Fatalf("fulfill: %v", err)
	}
	err := f.cancel(f.maker)
	if !errors.Is(err, ledger.ErrAlreadyConsumed) {
		t.Fatalf("cancel after fill err = %v, want ErrAlreadyConsumed", err)
	}
	if Classify(err) != AlreadyConsumed {
		t.Errorf("classify = %s, want already_consumed", Classify(err))
	}
	if got := f.balance(t, f.maker, usdc); got != 0 {
		t.Errorf("maker usdc = %d, want 0", got)
	}
}

func TestCancelFulfillRace(t *testing.T) {
	for i := 0; i < 10; i++ {
		t.Run(fmt.Sprintf("round%d", i), func(t *testing.T) {
			f := newFixture(t, ledger.Options{})
			f.create(t)

			var wg sync.WaitGroup
			errs := make([]error, 2)
			wg.Add(2)
			go func() { defer wg.Done(); errs[0] = f.cancel(f.maker) }()
			go func() { defer wg.Done(); errs[1] = f.fulfill(required1) }()
			wg.Wait()

			wins := 0
			for _, err := range errs {
				switch Classify(err) {
				case Succeeded:
					wins++
				case AlreadyConsumed:
				default:
					t.Errorf("unexpected outcome: %v", err)
				}
			}
			if wins != 1 {
				t.Fatalf("wins = %d, want exactly 1 (errs %v)", wins, errs)
			}

			makerUSDC := f.balance(t, f.maker, usdc)
			takerUSDC := f.balance(t, f.taker, usdc)
			if makerUSDC+takerUSDC != amount0 {
				t.Errorf("usdc not conserved: maker %d + taker %d", makerUSDC, takerUSDC)
			}
		})
	}
}

// stuckClock never delivers, so submissions only end when the context does.
type stuckClock struct{}

func (stuckClock) After(time.Duration) <-chan time.Time { return make(chan time.Time) }
func (stuckClock) Now() time.Time                       { return time.Unix(1700000000, 0) }

func TestSubmitTimeout(t *testing.T) {
	f := newFixture(t, ledger.Options{Latency: time.Hour, Clock: stuckClock{}})
	f.svc.SubmitTimeout = 20 * time.Millisecond

	_, err := f.svc.CreateOrder(context.Background(), f.maker, f.proxy, f.terms, amount0)
	if !errors.Is(err, ledger.ErrSubmissionTimedOut) {
		t.Fatalf("err = %v, want ErrSubmissionTimedOut", err)
	}
	if Classify(err) != TimedOut {
		t.Errorf("classify = %s, want timed_out", Classify(err))
	}
	if got := f.balance(t, f.maker, usdc); got != amount0 {
		t.Errorf("maker usdc = %d after timeout, want %d", got, amount0)
	}
}

func TestClassify(t *testing.T) {
	tests := []struct {
		err  error
		want Outcome
	}{
		{nil, Succeeded},
		{fmt.Errorf("%w: %w", ErrOrderFulfillRejected, &predicate.Rejection{Reason: predicate.InsufficientPayment}), Rejected},
		{fmt.Errorf("wrap: %w", ledger.ErrAlreadyConsumed), AlreadyConsumed},
		{ledger.ErrSubmissionTimedOut, TimedOut},
		{ledger.ErrSubmissionFailed, Failed},
		{order.ErrInvalidOrderTerms, Failed},
	}
	for _, tt := range tests {
		if got := Classify(tt.err); got != tt.want {
			t.Errorf("Classify(%v) = %s, want %s", tt.err, got, tt.want)
		}
	}
}
