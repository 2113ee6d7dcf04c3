package ledger

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/cockroachdb/pebble"
	"github.com/cockroachdb/pebble/vfs"
	"github.com/ethereum/go-ethereum/common"
)

// Store provides Pebble-based persistence for balances, nonces and deposits.
// Thread-safe for reads; writes go through Ledger's mutex as batches.
type Store struct {
	db *pebble.DB
}

// OpenStore opens a Pebble database at dbPath. An empty path keeps the whole
// database on an in-memory filesystem.
func OpenStore(dbPath string) (*Store, error) {
	opts := &pebble.Options{
		Cache:        pebble.NewCache(64 << 20), // 64MB cache
		MemTableSize: 32 << 20,
		MaxOpenFiles: 1000,
		BytesPerSync: 512 << 10,
	}
	defer opts.Cache.Unref()

	if dbPath == "" {
		opts.FS = vfs.NewMem()
		dbPath = "ledger"
	}

	db, err := pebble.Open(dbPath, opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble db at %s: %w", dbPath, err)
	}
	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// get copies the value for key; found is false when the key is absent.
func (s *Store) get(key []byte) (value []byte, found bool, err error) {
	data, closer, err := s.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer closer.Close()

	value = make([]byte, len(data))
	copy(value, data)
	return value, true, nil
}

func (s *Store) getUint64(key []byte) (uint64, error) {
	data, found, err := s.get(key)
	if err != nil || !found {
		return 0, err
	}
	if len(data) != 8 {
		return 0, fmt.Errorf("corrupt uint64 at %q: %d bytes", key, len(data))
	}
	return binary.BigEndian.Uint64(data), nil
}

// Balance returns the balance of asset held by addr (zero if never credited)
func (s *Store) Balance(addr common.Address, asset common.Hash) (uint64, error) {
	bal, err := s.getUint64(balanceKey(addr, asset))
	if err != nil {
		return 0, fmt.Errorf("failed to get balance: %w", err)
	}
	return bal, nil
}

// Balances loads every non-zero balance of an account
func (s *Store) Balances(addr common.Address) (map[common.Hash]uint64, error) {
	prefix := balancePrefix(addr)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	balances := make(map[common.Hash]uint64)
	for iter.First(); iter.Valid(); iter.Next() {
		asset, err := assetFromBalanceKey(iter.Key())
		if err != nil || len(iter.Value()) != 8 {
			continue // Skip invalid entries
		}
		if amt := binary.BigEndian.Uint64(iter.Value()); amt > 0 {
			balances[asset] = amt
		}
	}
	return balances, nil
}

func (s *Store) Nonce(addr common.Address) (uint64, error) {
	n, err := s.getUint64(nonceKey(addr))
	if err != nil {
		return 0, fmt.Errorf("failed to get nonce: %w", err)
	}
	return n, nil
}

// LastSeq returns the sequence number of the most recently created deposit
func (s *Store) LastSeq() (uint64, error) {
	return s.getUint64([]byte(keySeq))
}

// LoadDeposit loads a deposit by reference
// Returns nil if the deposit doesn't exist
func (s *Store) LoadDeposit(ref DepositRef) (*Deposit, error) {
	data, found, err := s.get(depositKey(ref))
	if err != nil {
		return nil, fmt.Errorf("failed to get deposit: %w", err)
	}
	if !found {
		return nil, nil
	}

	var dep Deposit
	if err := json.Unmarshal(data, &dep); err != nil {
		return nil, fmt.Errorf("failed to unmarshal deposit: %w", err)
	}
	return &dep, nil
}

// DepositsByPredicate loads every deposit ever locked to pred, oldest first
func (s *Store) DepositsByPredicate(pred common.Address) ([]*Deposit, error) {
	prefix := rootPrefix(pred)
	iter, err := s.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: keyUpperBound(prefix),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open iterator: %w", err)
	}
	defer iter.Close()

	var deposits []*Deposit
	for iter.First(); iter.Valid(); iter.Next() {
		var ref DepositRef
		if len(iter.Value()) != len(ref) {
			continue
		}
		copy(ref[:], iter.Value())

		dep, err := s.LoadDeposit(ref)
		if err != nil {
			return nil, err
		}
		if dep != nil {
			deposits = append(deposits, dep)
		}
	}
	return deposits, nil
}

// BatchWrite provides atomic batch writes for the effects of one transaction
type BatchWrite struct {
	batch *pebble.Batch
}

func (s *Store) NewBatch() *BatchWrite {
	return &BatchWrite{batch: s.db.NewBatch()}
}

func putUint64(v uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], v)
	return buf[:]
}

func (bw *BatchWrite) SetBalance(addr common.Address, asset common.Hash, amount uint64) error {
	return bw.batch.Set(balanceKey(addr, asset), putUint64(amount), nil)
}

func (bw *BatchWrite) SetNonce(addr common.Address, nonce uint64) error {
	return bw.batch.Set(nonceKey(addr), putUint64(nonce), nil)
}

// SaveDeposit adds a deposit save to the batch. A newly created deposit also
// gets its predicate index entry and bumps the stored sequence.
func (bw *BatchWrite) SaveDeposit(dep *Deposit, created bool) error {
	data, err := json.Marshal(dep)
	if err != nil {
		return fmt.Errorf("failed to marshal deposit: %w", err)
	}
	if err := bw.batch.Set(depositKey(dep.Ref), data, nil); err != nil {
		return err
	}
	if !created {
		return nil
	}
	if err := bw.batch.Set(rootKey(dep.Predicate, dep.Seq, dep.Ref), dep.Ref[:], nil); err != nil {
		return err
	}
	return bw.batch.Set([]byte(keySeq), putUint64(dep.Seq), nil)
}

// Commit writes the batch to Pebble atomically
func (bw *BatchWrite) Commit() error {
	return bw.batch.Commit(pebble.Sync)
}

// Close closes the batch without committing
func (bw *BatchWrite) Close() error {
	return bw.batch.Close()
}
