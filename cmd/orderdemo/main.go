// orderdemo walks one limit order through its lifecycle against an in-memory
// ledger: create then cancel, and create then fulfill (with a rejected short
// payment in between).
package main

import (
	"context"
	"log"

	"github.com/ethereum/go-ethereum/common"
	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitpredicate/params"
	"github.com/uhyunpark/limitpredicate/pkg/crypto"
	"github.com/uhyunpark/limitpredicate/pkg/ledger"
	"github.com/uhyunpark/limitpredicate/pkg/lifecycle"
	"github.com/uhyunpark/limitpredicate/pkg/order"
	"github.com/uhyunpark/limitpredicate/pkg/predicate"
	"github.com/uhyunpark/limitpredicate/pkg/pricemath"
	"github.com/uhyunpark/limitpredicate/pkg/proxy"
	"github.com/uhyunpark/limitpredicate/pkg/util"
)

const (
	usdcDecimals = 6
	uniDecimals  = 9

	amount0 = 1000 * 1_000_000    // 1000 USDC
	amount1 = 200 * 1_000_000_000 // 200 UNI
)

var (
	usdc = ethcrypto.Keccak256Hash([]byte("USDC"))
	uni  = ethcrypto.Keccak256Hash([]byte("UNI"))
)

func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger()
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	vm := predicate.NewVM()
	vm.MaxDecimals = cfg.Orders.MaxDecimals
	l, err := ledger.Open(ledger.Options{Latency: cfg.Ledger.Latency, VM: vm})
	if err != nil {
		sugar.Fatalw("ledger_open_failed", "err", err)
	}
	defer l.Close()
	l.Logger = sugar

	proxyAddr := common.HexToAddress(cfg.Ledger.ProxyAddress)
	l.AuthorizeProxy(proxyAddr)
	px := proxy.New(proxyAddr, l)
	px.MaxDecimals = cfg.Orders.MaxDecimals
	px.Logger = sugar

	svc := lifecycle.New(l)
	svc.SubmitTimeout = cfg.Orders.SubmitTimeout
	svc.Logger = sugar

	ctx := context.Background()
	maker, err := crypto.GenerateKey()
	if err != nil {
		sugar.Fatalw("keygen_failed", "err", err)
	}
	taker, err := crypto.GenerateKey()
	if err != nil {
		sugar.Fatalw("keygen_failed", "err", err)
	}
	sugar.Infow("wallets", "maker", maker.Address().Hex(), "taker", taker.Address().Hex())

	if err := l.Mint(ctx, maker.Address(), usdc, amount0); err != nil {
		sugar.Fatalw("mint_failed", "err", err)
	}
	if err := l.Mint(ctx, taker.Address(), uni, amount1); err != nil {
		sugar.Fatalw("mint_failed", "err", err)
	}

	// Price at which amount0 USDC trades for exactly amount1 UNI
	price, err := pricemath.Price(amount0, amount1, cfg.Orders.PriceDecimals, usdcDecimals, uniDecimals)
	if err != nil {
		sugar.Fatalw("price_failed", "err", err)
	}
	terms, err := order.NewTerms(order.Terms{
		Asset0:            usdc,
		Asset1:            uni,
		Decimals0:         usdcDecimals,
		Decimals1:         uniDecimals,
		Maker:             maker.Address(),
		Price:             price,
		PriceDecimals:     cfg.Orders.PriceDecimals,
		MinFulfillAmount0: 1,
	})
	if err != nil {
		sugar.Fatalw("invalid_terms", "err", err)
	}
	inst, err := predicate.New(terms)
	if err != nil {
		sugar.Fatalw("predicate_failed", "err", err)
	}
	sugar.Infow("order_terms", "predicate", inst.Root.Hex(), "price", price, "price_decimals", terms.PriceDecimals)

	// ---- Create, then cancel ----
	if _, err := svc.CreateOrder(ctx, maker, px, terms, amount0); err != nil {
		sugar.Fatalw("create_failed", "err", err)
	}
	report(ctx, sugar, l, "after_create", maker.Address(), taker.Address())

	if _, err := svc.CancelOrder(ctx, maker, inst, usdc, amount0); err != nil {
		sugar.Fatalw("cancel_failed", "err", err)
	}
	report(ctx, sugar, l, "after_cancel", maker.Address(), taker.Address())

	// ---- Create, short fill, then fill ----
	if _, err := svc.CreateOrder(ctx, maker, px, terms, amount0); err != nil {
		sugar.Fatalw("create_failed", "err", err)
	}

	_, err = svc.FulfillOrder(ctx, taker, inst, maker.Address(), usdc, amount0, uni, amount1-1)
	reason, _ := lifecycle.RejectionReason(err)
	sugar.Infow("short_fill_result", "outcome", lifecycle.Classify(err).String(), "reason", reason.String())

	if _, err := svc.FulfillOrder(ctx, taker, inst, maker.Address(), usdc, amount0, uni, amount1); err != nil {
		sugar.Fatalw("fulfill_failed", "err", err)
	}
	report(ctx, sugar, l, "after_fulfill", maker.Address(), taker.Address())

	_, err = svc.CancelOrder(ctx, maker, inst, usdc, amount0)
	sugar.Infow("late_cancel_result", "outcome", lifecycle.Classify(err).String())
}

func report(ctx context.Context, sugar *zap.SugaredLogger, l *ledger.Ledger, step string, maker, taker common.Address) {
	bal := func(who common.Address, asset common.Hash) uint64 {
		v, err := l.BalanceOf(ctx, who, asset)
		if err != nil {
			sugar.Fatalw("balance_failed", "err", err)
		}
		return v
	}
	sugar.Infow(step,
		"maker_usdc", bal(maker, usdc),
		"maker_uni", bal(maker, uni),
		"taker_usdc", bal(taker, usdc),
		"taker_uni", bal(taker, uni),
	)
}
