package crypto

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// EIP712Domain represents the domain separator for EIP-712 typed data
// This prevents the same terms from hashing identically across chains/deployments
type EIP712Domain struct {
	Name              string         // Protocol name
	Version           string         // Predicate code version
	ChainID           *big.Int       // Chain ID (1337 for local)
	VerifyingContract common.Address // Proxy contract address (or zero)
}

// TermsEIP712 is the typed-data view of a limit order's configurables.
type TermsEIP712 struct {
	Asset0            common.Hash
	Asset1            common.Hash
	Decimals0         uint8
	Decimals1         uint8
	Maker             common.Address
	Price             *big.Int
	PriceDecimals     uint8
	MinFulfillAmount0 *big.Int
}

// EIP712Signer hashes typed order terms under a fixed domain
type EIP712Signer struct {
	domain EIP712Domain
}

// NewEIP712Signer creates a new EIP-712 signer with given domain
func NewEIP712Signer(domain EIP712Domain) *EIP712Signer {
	return &EIP712Signer{domain: domain}
}

// DefaultDomain returns the domain every limit-order predicate root is derived under
func DefaultDomain() EIP712Domain {
	return EIP712Domain{
		Name:              "LimitOrderPredicate",
		Version:           "1",
		ChainID:           big.NewInt(1337),
		VerifyingContract: common.Address{},
	}
}

var termsTypes = apitypes.Types{
	"EIP712Domain": []apitypes.Type{
		{Name: "name", Type: "string"},
		{Name: "version", Type: "string"},
		{Name: "chainId", Type: "uint256"},
		{Name: "verifyingContract", Type: "address"},
	},
	"LimitOrder": []apitypes.Type{
		{Name: "asset0", Type: "bytes32"},
		{Name: "asset1", Type: "bytes32"},
		{Name: "decimals0", Type: "uint8"},
		{Name: "decimals1", Type: "uint8"},
		{Name: "maker", Type: "address"},
		{Name: "price", Type: "uint256"},
		{Name: "priceDecimals", Type: "uint8"},
		{Name: "minFulfillAmount0", Type: "uint256"},
	},
}

func (e *EIP712Signer) typedTerms(terms *TermsEIP712) apitypes.TypedData {
	return apitypes.TypedData{
		Types:       termsTypes,
		PrimaryType: "LimitOrder",
		Domain: apitypes.TypedDataDomain{
			Name:              e.domain.Name,
			Version:           e.domain.Version,
			ChainId:           (*math.HexOrDecimal256)(e.domain.ChainID),
			VerifyingContract: e.domain.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"asset0":            terms.Asset0.Hex(),
			"asset1":            terms.Asset1.Hex(),
			"decimals0":         fmt.Sprintf("%d", terms.Decimals0),
			"decimals1":         fmt.Sprintf("%d", terms.Decimals1),
			"maker":             terms.Maker.Hex(),
			"price":             terms.Price.String(),
			"priceDecimals":     fmt.Sprintf("%d", terms.PriceDecimals),
			"minFulfillAmount0": terms.MinFulfillAmount0.String(),
		},
	}
}

// HashTerms hashes order terms according to EIP-712
// Returns keccak256("\x19\x01" || domainSeparator || structHash)
func (e *EIP712Signer) HashTerms(terms *TermsEIP712) ([]byte, error) {
	typedData := e.typedTerms(terms)

	domainSeparator, err := typedData.HashStruct("EIP712Domain", typedData.Domain.Map())
	if err != nil {
		return nil, fmt.Errorf("failed to hash domain: %w", err)
	}

	structHash, err := typedData.HashStruct(typedData.PrimaryType, typedData.Message)
	if err != nil {
		return nil, fmt.Errorf("failed to hash message: %w", err)
	}

	rawData := []byte(fmt.Sprintf("\x19\x01%s%s", string(domainSeparator), string(structHash)))
	return crypto.Keccak256Hash(rawData).Bytes(), nil
}

// TermsToJSON renders the terms as eth_signTypedData_v4 JSON so wallets and
// explorers can display exactly what a predicate root commits to.
func (e *EIP712Signer) TermsToJSON(terms *TermsEIP712) (string, error) {
	jsonBytes, err := json.MarshalIndent(e.typedTerms(terms), "", "  ")
	if err != nil {
		return "", fmt.Errorf("failed to marshal JSON: %w", err)
	}
	return string(jsonBytes), nil
}
