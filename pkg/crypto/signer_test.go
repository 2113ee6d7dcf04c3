package crypto

import (
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	eth_crypto "github.com/ethereum/go-ethereum/crypto"
)

func TestGenerateKey(t *testing.T) {
	signer, err := GenerateKey()
	if err != nil {
		t.Fatalf("failed to generate key: %v", err)
	}

	if signer.Address() == (common.Address{}) {
		t.Error("generated zero address")
	}

	if len(signer.PrivateKeyHex()) != 64 {
		t.Errorf("private key hex length = %d, want 64", len(signer.PrivateKeyHex()))
	}
}

func TestFromPrivateKeyHex(t *testing.T) {
	signer1, _ := GenerateKey()

	signer2, err := FromPrivateKeyHex(signer1.PrivateKeyHex())
	if err != nil {
		t.Fatalf("failed to load key: %v", err)
	}
	if signer2.Address() != signer1.Address() {
		t.Errorf("address = %s, want %s", signer2.Address().Hex(), signer1.Address().Hex())
	}

	if _, err := FromPrivateKeyHex("not-hex"); err == nil {
		t.Error("expected error for malformed key")
	}
}

func TestSignAndRecover(t *testing.T) {
	signer, _ := GenerateKey()
	message := []byte("cancel limit order")

	signature, err := signer.SignMessage(message)
	if err != nil {
		t.Fatalf("failed to sign: %v", err)
	}
	if len(signature) != 65 {
		t.Errorf("signature length = %d, want 65", len(signature))
	}

	hash := eth_crypto.Keccak256Hash(message).Bytes()
	recovered, err := RecoverAddress(hash, signature)
	if err != nil {
		t.Fatalf("failed to recover address: %v", err)
	}
	if recovered != signer.Address() {
		t.Errorf("recovered address = %s, want %s", recovered.Hex(), signer.Address().Hex())
	}

	if !VerifySignature(signer.Address(), hash, signature) {
		t.Error("signature verification failed")
	}
	wrongAddr := common.HexToAddress("0x0000000000000000000000000000000000000001")
	if VerifySignature(wrongAddr, hash, signature) {
		t.Error("signature should not verify with wrong address")
	}
}

func TestSignRejectsShortHash(t *testing.T) {
	signer, _ := GenerateKey()
	if _, err := signer.Sign([]byte("short")); err == nil {
		t.Error("expected error for non-32-byte hash")
	}
	if _, err := RecoverAddress(make([]byte, 32), []byte{1, 2, 3}); err == nil {
		t.Error("expected error for short signature")
	}
}

func sampleTerms() *TermsEIP712 {
	return &TermsEIP712{
		Asset0:            common.HexToHash("0x01"),
		Asset1:            common.HexToHash("0x02"),
		Decimals0:         6,
		Decimals1:         9,
		Maker:             common.HexToAddress("0xAA00000000000000000000000000000000000000"),
		Price:             big.NewInt(200_000_000),
		PriceDecimals:     9,
		MinFulfillAmount0: big.NewInt(1),
	}
}

func TestHashTerms_Deterministic(t *testing.T) {
	e := NewEIP712Signer(DefaultDomain())

	h1, err := e.HashTerms(sampleTerms())
	if err != nil {
		t.Fatalf("hash terms: %v", err)
	}
	h2, _ := e.HashTerms(sampleTerms())
	if string(h1) != string(h2) {
		t.Error("identical terms hashed differently")
	}
	if len(h1) != 32 {
		t.Errorf("digest length = %d, want 32", len(h1))
	}

	changed := sampleTerms()
	changed.Price = big.NewInt(200_000_001)
	h3, _ := e.HashTerms(changed)
	if string(h1) == string(h3) {
		t.Error("price change did not change digest")
	}

	other := DefaultDomain()
	other.ChainID = big.NewInt(1)
	h4, _ := NewEIP712Signer(other).HashTerms(sampleTerms())
	if string(h1) == string(h4) {
		t.Error("domain change did not change digest")
	}
}

func TestTermsToJSON(t *testing.T) {
	out, err := NewEIP712Signer(DefaultDomain()).TermsToJSON(sampleTerms())
	if err != nil {
		t.Fatalf("terms to json: %v", err)
	}
	for _, want := range []string{`"primaryType": "LimitOrder"`, `"minFulfillAmount0"`, `"LimitOrderPredicate"`} {
		if !strings.Contains(out, want) {
			t.Errorf("json missing %s", want)
		}
	}
}
