package predicate

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/limitpredicate/pkg/crypto"
	"github.com/uhyunpark/limitpredicate/pkg/order"
)

// CodeTag identifies the predicate program. Bumping it moves every root.
const CodeTag = "limit-order-predicate/v1"

var termsHasher = crypto.NewEIP712Signer(crypto.DefaultDomain())

// Root returns the predicate address for terms:
// keccak256(CodeTag || eip712(terms))[12:].
func Root(terms order.Terms) (common.Address, error) {
	digest, err := termsHasher.HashTerms(terms.ToEIP712())
	if err != nil {
		return common.Address{}, fmt.Errorf("hash terms: %w", err)
	}

	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(CodeTag))
	h.Write(digest)
	return common.BytesToAddress(h.Sum(nil)[12:]), nil
}

// Instance is the predicate configured with one order's terms.
type Instance struct {
	Terms order.Terms
	Root  common.Address
}

func New(terms order.Terms) (*Instance, error) {
	if err := terms.Validate(); err != nil {
		return nil, err
	}
	root, err := Root(terms)
	if err != nil {
		return nil, err
	}
	return &Instance{Terms: terms, Root: root}, nil
}

// LockData is the predicate data a deposit for this instance carries.
func (i *Instance) LockData() ([]byte, error) {
	return i.Terms.Encode()
}

// Witness is the spend data a transaction hands to the predicate.
type Witness struct {
	Kind       Kind
	Amount0    uint64
	Amount1    uint64
	Recipient0 common.Address
}

func (w Witness) Encode() ([]byte, error) {
	return rlp.EncodeToBytes(&w)
}

func DecodeWitness(data []byte) (Witness, error) {
	var w Witness
	if err := rlp.DecodeBytes(data, &w); err != nil {
		return Witness{}, fmt.Errorf("decode witness: %w", err)
	}
	return w, nil
}
