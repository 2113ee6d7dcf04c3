package ledger

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Pebble key schema
//
//	bal:{address}:{asset}        -> uint64 big-endian balance
//	nonce:{address}              -> uint64 big-endian nonce
//	dep:{ref}                    -> Deposit (JSON)
//	root:{predicate}:{seq}:{ref} -> ref (creation-ordered index per predicate)
//	seq                          -> last deposit sequence number
const (
	prefixBalance = "bal:"
	prefixNonce   = "nonce:"
	prefixDeposit = "dep:"
	prefixRoot    = "root:"
	keySeq        = "seq"
)

// Format: "bal:{address}:{asset}"
func balanceKey(addr common.Address, asset common.Hash) []byte {
	return []byte(fmt.Sprintf("%s%s:%s", prefixBalance, addr.Hex(), asset.Hex()))
}

// balancePrefix returns the prefix for all balances of an account
// Format: "bal:{address}:"
func balancePrefix(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixBalance, addr.Hex()))
}

func nonceKey(addr common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixNonce, addr.Hex()))
}

func depositKey(ref DepositRef) []byte {
	return []byte(fmt.Sprintf("%s%s", prefixDeposit, ref.Hex()))
}

// rootKey indexes a deposit under its predicate address.
// Sequence is zero-padded (20 digits) so a prefix scan yields creation order.
// Format: "root:{predicate}:{seq}:{ref}"
func rootKey(pred common.Address, seq uint64, ref DepositRef) []byte {
	return []byte(fmt.Sprintf("%s%s:%020d:%s", prefixRoot, pred.Hex(), seq, ref.Hex()))
}

// Format: "root:{predicate}:"
func rootPrefix(pred common.Address) []byte {
	return []byte(fmt.Sprintf("%s%s:", prefixRoot, pred.Hex()))
}

// keyUpperBound returns the exclusive upper bound for a prefix scan
// Example: prefix "bal:0x123:" -> upper bound "bal:0x123;" (next byte after ':')
func keyUpperBound(prefix []byte) []byte {
	bound := make([]byte, len(prefix))
	copy(bound, prefix)
	bound[len(bound)-1]++
	return bound
}

// assetFromBalanceKey extracts the asset id from a balance key.
// Inverse of balanceKey() for iterator keys.
func assetFromBalanceKey(key []byte) (common.Hash, error) {
	// "bal:" + 42-char address + ":" + 66-char hash
	want := len(prefixBalance) + 42 + 1 + 66
	if len(key) != want {
		return common.Hash{}, fmt.Errorf("invalid balance key length: %d", len(key))
	}
	return common.HexToHash(string(key[len(key)-66:])), nil
}
