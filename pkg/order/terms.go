// Package order holds the immutable economic parameters of a single limit order.
package order

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"

	"github.com/uhyunpark/limitpredicate/pkg/crypto"
	"github.com/uhyunpark/limitpredicate/pkg/pricemath"
)

// MaxDecimals is the largest asset or price scale accepted by default.
const MaxDecimals uint8 = 18

var ErrInvalidOrderTerms = errors.New("invalid order terms")

// Terms are the configurables a limit-order predicate is instantiated with.
// They are fixed when the order is created; changing the price means cancelling
// and creating a new order.
type Terms struct {
	Asset0            common.Hash    // Offered asset (deposited by the maker)
	Asset1            common.Hash    // Requested asset (paid by the taker)
	Decimals0         uint8          // Scale of Asset0's smallest unit
	Decimals1         uint8          // Scale of Asset1's smallest unit
	Maker             common.Address // Only this identity may cancel
	Price             uint64         // Asset1 per Asset0, scaled by 10^PriceDecimals
	PriceDecimals     uint8          // Scale of Price
	MinFulfillAmount0 uint64         // Smallest Asset0 quantity a fulfillment may take
}

// NewTerms validates t against MaxDecimals and returns it.
func NewTerms(t Terms) (Terms, error) {
	if err := t.Validate(); err != nil {
		return Terms{}, err
	}
	return t, nil
}

func (t Terms) Validate() error {
	return t.ValidateMax(MaxDecimals)
}

// ValidateMax checks the terms with a ledger-specific decimals ceiling.
func (t Terms) ValidateMax(maxDecimals uint8) error {
	switch {
	case t.Asset0 == (common.Hash{}) || t.Asset1 == (common.Hash{}):
		return fmt.Errorf("%w: zero asset id", ErrInvalidOrderTerms)
	case t.Asset0 == t.Asset1:
		return fmt.Errorf("%w: asset0 equals asset1 (%s)", ErrInvalidOrderTerms, t.Asset0.Hex())
	case t.Maker == (common.Address{}):
		return fmt.Errorf("%w: zero maker", ErrInvalidOrderTerms)
	case t.Decimals0 > maxDecimals:
		return fmt.Errorf("%w: decimals0 %d > %d", ErrInvalidOrderTerms, t.Decimals0, maxDecimals)
	case t.Decimals1 > maxDecimals:
		return fmt.Errorf("%w: decimals1 %d > %d", ErrInvalidOrderTerms, t.Decimals1, maxDecimals)
	case t.PriceDecimals > maxDecimals:
		return fmt.Errorf("%w: price_decimals %d > %d", ErrInvalidOrderTerms, t.PriceDecimals, maxDecimals)
	case t.Price == 0:
		return fmt.Errorf("%w: zero price", ErrInvalidOrderTerms)
	case t.MinFulfillAmount0 == 0:
		return fmt.Errorf("%w: min_fulfill_amount0 must be positive", ErrInvalidOrderTerms)
	}

	if _, err := pricemath.Exponent(t.PriceDecimals, t.Decimals0, t.Decimals1); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidOrderTerms, err)
	}
	return nil
}

// RequiredAmount1 is the Asset1 amount owed for amount0 of Asset0 at these terms.
func (t Terms) RequiredAmount1(amount0 uint64) (uint64, error) {
	return pricemath.RequiredAmount1(amount0, t.Price, t.PriceDecimals, t.Decimals0, t.Decimals1)
}

// ToEIP712 converts the terms for typed-data hashing.
func (t Terms) ToEIP712() *crypto.TermsEIP712 {
	return &crypto.TermsEIP712{
		Asset0:            t.Asset0,
		Asset1:            t.Asset1,
		Decimals0:         t.Decimals0,
		Decimals1:         t.Decimals1,
		Maker:             t.Maker,
		Price:             new(big.Int).SetUint64(t.Price),
		PriceDecimals:     t.PriceDecimals,
		MinFulfillAmount0: new(big.Int).SetUint64(t.MinFulfillAmount0),
	}
}

// Encode serializes the terms as the locking data carried by a deposit.
func (t Terms) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(&t)
}

// DecodeTerms parses deposit locking data and re-validates it.
func DecodeTerms(data []byte) (Terms, error) {
	var t Terms
	if err := rlp.DecodeBytes(data, &t); err != nil {
		return Terms{}, fmt.Errorf("%w: decode: %v", ErrInvalidOrderTerms, err)
	}
	if err := t.Validate(); err != nil {
		return Terms{}, err
	}
	return t, nil
}
