// Package pricemath converts between a limit price and the counter-asset amount
// owed for a quantity of the offered asset.
//
// Prices are integers: asset1 per asset0 scaled by 10^priceDecimals. Amounts are
// integers in each asset's smallest unit. All intermediate products are computed
// on 256-bit words so two uint64 operands can never wrap; only a result that
// does not fit back into uint64 is reported as ErrArithmeticOverflow.
//
// Division truncates. A maker may receive slightly less than the real-valued
// price implies, never more than the taker offered.
package pricemath

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"
)

var (
	ErrInvalidDecimalConfiguration = errors.New("invalid decimal configuration")
	ErrArithmeticOverflow          = errors.New("arithmetic overflow")
	ErrZeroAmount                  = errors.New("zero amount")
)

// maxExactExponent is the largest exponent for which 10^exp can still divide a
// product of two uint64 values to a non-zero quotient (2^128 < 10^39).
const maxExactExponent = 38

// Exponent returns priceDecimals + decimals0 - decimals1, failing when it
// would be negative.
func Exponent(priceDecimals, decimals0, decimals1 uint8) (uint, error) {
	lhs := uint(priceDecimals) + uint(decimals0)
	if lhs < uint(decimals1) {
		return 0, fmt.Errorf("%w: price_decimals(%d) + decimals0(%d) < decimals1(%d)",
			ErrInvalidDecimalConfiguration, priceDecimals, decimals0, decimals1)
	}
	return lhs - uint(decimals1), nil
}

// RequiredAmount1 returns amount0 * price / 10^(priceDecimals + decimals0 - decimals1).
func RequiredAmount1(amount0, price uint64, priceDecimals, decimals0, decimals1 uint8) (uint64, error) {
	exp, err := Exponent(priceDecimals, decimals0, decimals1)
	if err != nil {
		return 0, err
	}
	return mulDiv(amount0, price, exp)
}

// Price is the inverse of RequiredAmount1: the price at which amount0 trades
// for exactly amount1, i.e. amount1 * 10^exp / amount0.
func Price(amount0, amount1 uint64, priceDecimals, decimals0, decimals1 uint8) (uint64, error) {
	if amount0 == 0 {
		return 0, fmt.Errorf("%w: amount0", ErrZeroAmount)
	}
	exp, err := Exponent(priceDecimals, decimals0, decimals1)
	if err != nil {
		return 0, err
	}
	scale, ok := pow10(exp)
	if !ok {
		return 0, fmt.Errorf("%w: 10^%d", ErrArithmeticOverflow, exp)
	}
	num, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(amount1), scale)
	if overflow {
		return 0, fmt.Errorf("%w: %d * 10^%d", ErrArithmeticOverflow, amount1, exp)
	}
	return toUint64(num.Div(num, uint256.NewInt(amount0)))
}

// mulDiv computes a * b / 10^exp.
func mulDiv(a, b uint64, exp uint) (uint64, error) {
	if exp > maxExactExponent {
		return 0, nil
	}
	num, overflow := new(uint256.Int).MulOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow {
		return 0, fmt.Errorf("%w: %d * %d", ErrArithmeticOverflow, a, b)
	}
	scale, _ := pow10(exp)
	return toUint64(num.Div(num, scale))
}

func pow10(exp uint) (*uint256.Int, bool) {
	ten := uint256.NewInt(10)
	out := uint256.NewInt(1)
	for i := uint(0); i < exp; i++ {
		var overflow bool
		if out, overflow = out.MulOverflow(out, ten); overflow {
			return nil, false
		}
	}
	return out, true
}

func toUint64(v *uint256.Int) (uint64, error) {
	if !v.IsUint64() {
		return 0, fmt.Errorf("%w: result %s exceeds uint64", ErrArithmeticOverflow, v.Dec())
	}
	return v.Uint64(), nil
}
