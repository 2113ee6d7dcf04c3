package ledger

import (
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"golang.org/x/crypto/sha3"

	"github.com/uhyunpark/limitpredicate/pkg/crypto"
)

var (
	ErrInsufficientBalance = errors.New("insufficient balance")
	ErrAlreadyConsumed     = errors.New("deposit already consumed")
	ErrDepositNotFound     = errors.New("deposit not found")
	ErrSubmissionFailed    = errors.New("submission failed")
	ErrSubmissionTimedOut  = errors.New("submission timed out")
	ErrInvalidSignature    = errors.New("invalid signature")
	ErrBadNonce            = errors.New("bad nonce")
	ErrUnbalanced          = errors.New("transaction does not conserve assets")
	ErrUnauthorizedOrigin  = errors.New("lock output not originated by an authorized proxy")
	ErrInvalidLock         = errors.New("invalid lock output")
)

// DepositRef identifies a locked deposit on the ledger.
type DepositRef [32]byte

func (r DepositRef) Hex() string    { return hexutil.Encode(r[:]) }
func (r DepositRef) String() string { return r.Hex() }

func (r DepositRef) MarshalText() ([]byte, error) {
	return hexutil.Bytes(r[:]).MarshalText()
}

func (r *DepositRef) UnmarshalText(input []byte) error {
	return hexutil.UnmarshalFixedText("DepositRef", input, r[:])
}

// HexToDepositRef parses a 0x-prefixed 32-byte reference.
func HexToDepositRef(s string) (DepositRef, error) {
	var ref DepositRef
	if err := ref.UnmarshalText([]byte(s)); err != nil {
		return DepositRef{}, err
	}
	return ref, nil
}

// Coin is an amount of one asset attributed to an account.
type Coin struct {
	Owner  common.Address
	Asset  common.Hash
	Amount uint64
}

// SpendInput consumes a locked deposit; Witness is handed to the predicate.
type SpendInput struct {
	Deposit DepositRef
	Witness []byte
}

// LockOutput creates a new locked deposit owned by a predicate address.
type LockOutput struct {
	Predicate common.Address
	Asset     common.Hash
	Amount    uint64
	Data      []byte // predicate configuration, opaque to the ledger
}

// Transaction moves assets between accounts and locked deposits.
// Inputs are debited from the signer. A transaction carries at most one
// spent deposit and at most one new lock.
type Transaction struct {
	Signer    common.Address
	Nonce     uint64
	Via       common.Address // Proxy that originated the transaction (zero if none)
	Inputs    []Coin
	Spend     *SpendInput `rlp:"nil"`
	Outputs   []Coin
	Lock      *LockOutput `rlp:"nil"`
	Signature []byte
}

type unsignedTx struct {
	Signer  common.Address
	Nonce   uint64
	Via     common.Address
	Inputs  []Coin
	Spend   *SpendInput `rlp:"nil"`
	Outputs []Coin
	Lock    *LockOutput `rlp:"nil"`
}

// Hash is keccak256(rlp(tx without signature)).
func (tx *Transaction) Hash() common.Hash {
	return rlpHash(&unsignedTx{
		Signer:  tx.Signer,
		Nonce:   tx.Nonce,
		Via:     tx.Via,
		Inputs:  tx.Inputs,
		Spend:   tx.Spend,
		Outputs: tx.Outputs,
		Lock:    tx.Lock,
	})
}

// Sign sets the signer field and signs the transaction hash.
func (tx *Transaction) Sign(s *crypto.Signer) error {
	tx.Signer = s.Address()
	hash := tx.Hash()
	sig, err := s.Sign(hash.Bytes())
	if err != nil {
		return fmt.Errorf("sign tx: %w", err)
	}
	tx.Signature = sig
	return nil
}

// VerifySignature checks that Signature was produced by Signer.
func (tx *Transaction) VerifySignature() error {
	hash := tx.Hash()
	recovered, err := crypto.RecoverAddress(hash.Bytes(), tx.Signature)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	if recovered != tx.Signer {
		return fmt.Errorf("%w: recovered %s, claimed %s", ErrInvalidSignature, recovered.Hex(), tx.Signer.Hex())
	}
	return nil
}

func rlpHash(x interface{}) (h common.Hash) {
	sha := sha3.NewLegacyKeccak256()
	_ = rlp.Encode(sha, x)
	sha.Sum(h[:0])
	return h
}

// lockRef derives the reference of the deposit created by a transaction.
func lockRef(txHash common.Hash) DepositRef {
	return DepositRef(rlpHash([]interface{}{txHash, uint64(0)}))
}

// Deposit is a predicate-locked output. Consumed deposits are kept for history.
type Deposit struct {
	Ref        DepositRef     `json:"ref"`
	Predicate  common.Address `json:"predicate"`
	Asset      common.Hash    `json:"asset"`
	Amount     uint64         `json:"amount"`
	Data       hexutil.Bytes  `json:"data"`
	Origin     common.Address `json:"origin"` // Account that funded the deposit
	Via        common.Address `json:"via"`
	CreatedTx  common.Hash    `json:"created_tx"`
	Seq        uint64         `json:"seq"`
	Consumed   bool           `json:"consumed"`
	ConsumedTx common.Hash    `json:"consumed_tx,omitempty"`
	CreatedAt  time.Time      `json:"created_at"`
}

// Effects are the balance changes a spend applies once its deposit is consumed.
type Effects struct {
	TxHash  common.Hash
	Signer  common.Address
	Nonce   uint64
	Debits  []Coin
	Credits []Coin
}

// Receipt reports an applied transaction.
type Receipt struct {
	TxHash   common.Hash `json:"tx_hash"`
	Created  *Deposit    `json:"created,omitempty"`
	Consumed *Deposit    `json:"consumed,omitempty"`
}

type EventType string

const (
	EventDepositCreated  EventType = "deposit_created"
	EventDepositConsumed EventType = "deposit_consumed"
	EventTransfer        EventType = "transfer"
)

// Event is emitted after every committed transaction.
type Event struct {
	Type     EventType        `json:"type"`
	TxHash   common.Hash      `json:"tx_hash"`
	Deposit  *Deposit         `json:"deposit,omitempty"`
	Accounts []common.Address `json:"accounts"` // Accounts whose balances changed
}
