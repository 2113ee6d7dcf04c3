package predicate

import (
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"pgregory.net/rapid"

	"github.com/uhyunpark/limitpredicate/pkg/order"
	"github.com/uhyunpark/limitpredicate/pkg/pricemath"
)

var (
	usdc  = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000c1")
	uni   = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000c2")
	maker = common.HexToAddress("0xAA00000000000000000000000000000000000000")
	taker = common.HexToAddress("0xBB00000000000000000000000000000000000000")
	thief = common.HexToAddress("0xCC00000000000000000000000000000000000000")
)

const (
	locked0   = 1_000_000_000   // 1000 USDC at 6 decimals
	required1 = 200_000_000_000 // 200 UNI at 9 decimals
)

func testTerms() order.Terms {
	return order.Terms{
		Asset0:            usdc,
		Asset1:            uni,
		Decimals0:         6,
		Decimals1:         9,
		Maker:             maker,
		Price:             200_000_000,
		PriceDecimals:     9,
		MinFulfillAmount0: 1,
	}
}

// fill builds the fulfill attempt a well-behaved taker would submit.
func fill(offered, paid uint64) Attempt {
	a := Attempt{
		Kind:           Fulfill,
		Signer:         taker,
		Amount0Taken:   locked0,
		Amount1Offered: offered,
		Recipient0:     taker,
		Inputs:         []Output{{Owner: taker, Asset: uni, Amount: offered}},
		Outputs: []Output{
			{Owner: taker, Asset: usdc, Amount: locked0},
			{Owner: maker, Asset: uni, Amount: paid},
		},
	}
	if offered > paid {
		a.Outputs = append(a.Outputs, Output{Owner: taker, Asset: uni, Amount: offered - paid})
	}
	return a
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		name       string
		attempt    func() Attempt
		authorized bool
		reason     Reason
	}{
		{
			name:       "maker cancels",
			attempt:    func() Attempt { return Attempt{Kind: Cancel, Signer: maker} },
			authorized: true,
		},
		{
			name:    "stranger cancels",
			attempt: func() Attempt { return Attempt{Kind: Cancel, Signer: taker} },
			reason:  NotMaker,
		},
		{
			name:       "exact payment",
			attempt:    func() Attempt { return fill(required1, required1) },
			authorized: true,
		},
		{
			name:       "overpay with change back to taker",
			attempt:    func() Attempt { return fill(required1+5, required1) },
			authorized: true,
		},
		{
			name:    "one unit short",
			attempt: func() Attempt { return fill(required1-1, required1-1) },
			reason:  InsufficientPayment,
		},
		{
			name: "partial take",
			attempt: func() Attempt {
				a := fill(required1, required1)
				a.Amount0Taken = locked0 / 2
				return a
			},
			reason: BelowMinimumFill,
		},
		{
			name: "offer not backed by inputs",
			attempt: func() Attempt {
				a := fill(required1, required1)
				a.Inputs[0].Amount = required1 - 1
				return a
			},
			reason: InsufficientPayment,
		},
		{
			name: "maker underpaid despite offer",
			attempt: func() Attempt {
				a := fill(required1, required1-1)
				a.Outputs = append(a.Outputs, Output{Owner: taker, Asset: uni, Amount: 1})
				return a
			},
			reason: InsufficientPayment,
		},
		{
			name: "change routed to third party",
			attempt: func() Attempt {
				a := fill(required1+5, required1)
				a.Outputs[2].Owner = thief
				return a
			},
			reason: InsufficientPayment,
		},
		{
			name: "asset0 routed to third party",
			attempt: func() Attempt {
				a := fill(required1, required1)
				a.Outputs[0].Owner = thief
				return a
			},
			reason: InsufficientPayment,
		},
		{
			name: "recipient is not the taker",
			attempt: func() Attempt {
				a := fill(required1, required1)
				a.Recipient0 = thief
				return a
			},
			reason: InsufficientPayment,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := Evaluate(testTerms(), Locked{Asset: usdc, Amount: locked0}, tt.attempt())
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if d.Authorized != tt.authorized {
				t.Fatalf("authorized = %v, want %v (decision %+v)", d.Authorized, tt.authorized, d)
			}
			if !tt.authorized && d.Reason != tt.reason {
				t.Errorf("reason = %s, want %s", d.Reason, tt.reason)
			}
		})
	}
}

func TestEvaluate_RequiredReported(t *testing.T) {
	d, err := Evaluate(testTerms(), Locked{Asset: usdc, Amount: locked0}, fill(required1, required1))
	if err != nil {
		t.Fatalf("evaluate: %v", err)
	}
	if d.Required != required1 {
		t.Errorf("required = %d, want %d", d.Required, required1)
	}
}

func TestEvaluate_Errors(t *testing.T) {
	if _, err := Evaluate(testTerms(), Locked{Asset: uni, Amount: locked0}, Attempt{Kind: Cancel, Signer: maker}); !errors.Is(err, ErrAssetMismatch) {
		t.Errorf("wrong asset: err = %v, want ErrAssetMismatch", err)
	}
	if _, err := Evaluate(testTerms(), Locked{Asset: usdc, Amount: locked0}, Attempt{Kind: 9}); !errors.Is(err, ErrUnknownKind) {
		t.Errorf("unknown kind: err = %v, want ErrUnknownKind", err)
	}

	huge := testTerms()
	huge.PriceDecimals = 0
	huge.Decimals1 = 6
	huge.Price = 1 << 40
	_, err := Evaluate(huge, Locked{Asset: usdc, Amount: 1 << 40}, Attempt{
		Kind: Fulfill, Signer: taker, Amount0Taken: 1 << 40, Recipient0: taker,
	})
	if !errors.Is(err, pricemath.ErrArithmeticOverflow) {
		t.Errorf("overflow: err = %v, want ErrArithmeticOverflow", err)
	}
}

func TestDecisionErr(t *testing.T) {
	if err := (Decision{Authorized: true}).Err(); err != nil {
		t.Errorf("authorized decision err = %v", err)
	}

	err := Decision{Reason: NotMaker}.Err()
	if !errors.Is(err, ErrRejected) {
		t.Fatalf("err = %v, want ErrRejected", err)
	}
	var rej *Rejection
	if !errors.As(err, &rej) || rej.Reason != NotMaker {
		t.Errorf("errors.As = %v, want NotMaker rejection", rej)
	}
}

func drawTerms(t *rapid.T) order.Terms {
	d0 := rapid.Uint8Range(0, 18).Draw(t, "d0")
	d1 := rapid.Uint8Range(d0-min(d0, 6), 18).Draw(t, "d1")
	// Keep the exponent within [0, 6] so that amounts >= 10^6 always owe something
	diff := int(d0) - int(d1)
	pd := rapid.Uint8Range(uint8(max(0, -diff)), uint8(min(18, 6-diff))).Draw(t, "pd")

	terms := order.Terms{
		Asset0:            usdc,
		Asset1:            uni,
		Decimals0:         d0,
		Decimals1:         d1,
		Maker:             maker,
		Price:             rapid.Uint64Range(1, 1<<30).Draw(t, "price"),
		PriceDecimals:     pd,
		MinFulfillAmount0: 1,
	}
	if exp, err := pricemath.Exponent(pd, d0, d1); err != nil || exp > 6 {
		t.Fatalf("exponent %d out of range (%v)", exp, err)
	}
	return terms
}

func TestProperty_StrangerCancelAlwaysNotMaker(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		terms := drawTerms(t)
		amount := rapid.Uint64Range(1, 1<<62).Draw(t, "amount")
		signer := common.BigToAddress(common.Big1)
		if rapid.Bool().Draw(t, "taker") {
			signer = taker
		}

		d, err := Evaluate(terms, Locked{Asset: usdc, Amount: amount}, Attempt{Kind: Cancel, Signer: signer})
		if err != nil {
			t.Fatalf("evaluate: %v", err)
		}
		if d.Authorized || d.Reason != NotMaker {
			t.Fatalf("decision = %+v, want NotMaker", d)
		}
	})
}

func TestProperty_ExactPaymentBoundary(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		terms := drawTerms(t)
		amount := rapid.Uint64Range(1_000_000, 1<<30).Draw(t, "amount")
		terms.MinFulfillAmount0 = rapid.Uint64Range(1, amount).Draw(t, "min")

		required, err := terms.RequiredAmount1(amount)
		if err != nil {
			t.Fatalf("required: %v", err)
		}
		if required == 0 {
			t.Fatalf("required is zero for amount %d", amount)
		}

		attempt := func(offered uint64) Attempt {
			return Attempt{
				Kind:           Fulfill,
				Signer:         taker,
				Amount0Taken:   amount,
				Amount1Offered: offered,
				Recipient0:     taker,
				Inputs:         []Output{{Owner: taker, Asset: uni, Amount: offered}},
				Outputs: []Output{
					{Owner: taker, Asset: usdc, Amount: amount},
					{Owner: maker, Asset: uni, Amount: offered},
				},
			}
		}
		locked := Locked{Asset: usdc, Amount: amount}

		ok, err := Evaluate(terms, locked, attempt(required))
		if err != nil || !ok.Authorized {
			t.Fatalf("exact payment: decision %+v, err %v", ok, err)
		}
		short, err := Evaluate(terms, locked, attempt(required-1))
		if err != nil || short.Authorized || short.Reason != InsufficientPayment {
			t.Fatalf("one short: decision %+v, err %v", short, err)
		}

		// Same inputs, same decision
		again, _ := Evaluate(terms, locked, attempt(required-1))
		if again != short {
			t.Fatalf("re-evaluation changed decision: %+v vs %+v", again, short)
		}
	})
}
