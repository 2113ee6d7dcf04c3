// Package ledger is a single-process UTXO-style ledger: account balances plus
// predicate-locked deposits that can be consumed exactly once.
package ledger

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/math"
	"go.uber.org/zap"

	"github.com/uhyunpark/limitpredicate/pkg/util"
)

// PredicateVM evaluates the scripts deposits are locked under.
type PredicateVM interface {
	// Root returns the predicate address that locking data commits to.
	Root(data []byte) (common.Address, error)
	// Evaluate returns nil iff tx is authorized to consume dep.
	Evaluate(dep *Deposit, tx *Transaction) error
}

type Options struct {
	Path    string        // Pebble directory; empty for in-memory
	Latency time.Duration // Simulated inclusion delay per submission
	Clock   util.Clock
	VM      PredicateVM
}

type Ledger struct {
	mu      sync.Mutex
	store   *Store
	vm      PredicateVM
	clock   util.Clock
	latency time.Duration
	seq     uint64

	proxyMu sync.RWMutex
	proxies map[common.Address]bool

	Logger *zap.SugaredLogger
	// OnCommit is called after every committed transaction, outside the ledger lock.
	OnCommit func(Event)
}

func Open(opts Options) (*Ledger, error) {
	store, err := OpenStore(opts.Path)
	if err != nil {
		return nil, err
	}
	seq, err := store.LastSeq()
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("failed to load deposit sequence: %w", err)
	}

	clock := opts.Clock
	if clock == nil {
		clock = util.RealClock{}
	}
	return &Ledger{
		store:   store,
		vm:      opts.VM,
		clock:   clock,
		latency: opts.Latency,
		seq:     seq,
		proxies: make(map[common.Address]bool),
		Logger:  util.NopSugar(),
	}, nil
}

func (l *Ledger) Close() error {
	return l.store.Close()
}

// AuthorizeProxy allows addr to originate lock outputs.
func (l *Ledger) AuthorizeProxy(addr common.Address) {
	l.proxyMu.Lock()
	defer l.proxyMu.Unlock()
	l.proxies[addr] = true
}

func (l *Ledger) isProxy(addr common.Address) bool {
	l.proxyMu.RLock()
	defer l.proxyMu.RUnlock()
	return l.proxies[addr]
}

// Mint credits amount of asset to an account. It stands in for token issuance.
func (l *Ledger) Mint(ctx context.Context, to common.Address, asset common.Hash, amount uint64) error {
	if err := ctx.Err(); err != nil {
		return submissionErr(err)
	}

	l.mu.Lock()
	bal, err := l.store.Balance(to, asset)
	if err != nil {
		l.mu.Unlock()
		return err
	}
	sum, overflow := math.SafeAdd(bal, amount)
	if overflow {
		l.mu.Unlock()
		return fmt.Errorf("mint %d to %s: balance overflow", amount, to.Hex())
	}

	batch := l.store.NewBatch()
	defer batch.Close()
	if err := batch.SetBalance(to, asset, sum); err != nil {
		l.mu.Unlock()
		return err
	}
	err = batch.Commit()
	l.mu.Unlock()
	if err != nil {
		return fmt.Errorf("failed to commit mint: %w", err)
	}

	l.Logger.Infow("ledger_mint", "to", to.Hex(), "asset", asset.Hex(), "amount", amount)
	l.emit(Event{Type: EventTransfer, Accounts: []common.Address{to}})
	return nil
}

func (l *Ledger) BalanceOf(ctx context.Context, owner common.Address, asset common.Hash) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, submissionErr(err)
	}
	return l.store.Balance(owner, asset)
}

func (l *Ledger) Balances(ctx context.Context, owner common.Address) (map[common.Hash]uint64, error) {
	if err := ctx.Err(); err != nil {
		return nil, submissionErr(err)
	}
	return l.store.Balances(owner)
}

// NonceOf returns the nonce of the last transaction applied for addr.
// The next transaction must carry NonceOf+1.
func (l *Ledger) NonceOf(ctx context.Context, addr common.Address) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, submissionErr(err)
	}
	return l.store.Nonce(addr)
}

// Deposit returns a deposit by reference, consumed or not.
func (l *Ledger) Deposit(ctx context.Context, ref DepositRef) (*Deposit, error) {
	if err := ctx.Err(); err != nil {
		return nil, submissionErr(err)
	}
	dep, err := l.store.LoadDeposit(ref)
	if err != nil {
		return nil, err
	}
	if dep == nil {
		return nil, fmt.Errorf("%w: %s", ErrDepositNotFound, ref.Hex())
	}
	return dep, nil
}

// DepositsByPredicate lists every deposit locked to root, oldest first.
func (l *Ledger) DepositsByPredicate(ctx context.Context, root common.Address) ([]*Deposit, error) {
	if err := ctx.Err(); err != nil {
		return nil, submissionErr(err)
	}
	return l.store.DepositsByPredicate(root)
}

// FindDeposit resolves the oldest unspent deposit of asset locked to root
// holding at least amount. When only consumed deposits match it fails with
// ErrAlreadyConsumed.
func (l *Ledger) FindDeposit(ctx context.Context, root common.Address, asset common.Hash, amount uint64) (*Deposit, error) {
	deposits, err := l.DepositsByPredicate(ctx, root)
	if err != nil {
		return nil, err
	}

	consumed := false
	for _, dep := range deposits {
		if dep.Asset != asset || dep.Amount < amount {
			continue
		}
		if !dep.Consumed {
			return dep, nil
		}
		consumed = true
	}
	if consumed {
		return nil, fmt.Errorf("%w: predicate %s holds no unspent %d of %s", ErrAlreadyConsumed, root.Hex(), amount, asset.Hex())
	}
	return nil, fmt.Errorf("%w: predicate %s, %d of %s", ErrDepositNotFound, root.Hex(), amount, asset.Hex())
}

// Submit validates and applies a signed transaction. It blocks for the
// configured latency; a context that expires first yields ErrSubmissionTimedOut
// and nothing is applied. Predicate rejections are returned unwrapped.
func (l *Ledger) Submit(ctx context.Context, tx *Transaction) (*Receipt, error) {
	if err := l.wait(ctx); err != nil {
		return nil, err
	}
	if err := tx.VerifySignature(); err != nil {
		return nil, err
	}

	txHash := tx.Hash()
	eff := Effects{
		TxHash:  txHash,
		Signer:  tx.Signer,
		Nonce:   tx.Nonce,
		Credits: tx.Outputs,
	}
	for _, in := range tx.Inputs {
		if in.Owner != tx.Signer {
			return nil, fmt.Errorf("%w: input owned by %s, signed by %s", ErrInvalidSignature, in.Owner.Hex(), tx.Signer.Hex())
		}
		eff.Debits = append(eff.Debits, in)
	}

	switch {
	case tx.Spend != nil && tx.Lock != nil:
		return nil, fmt.Errorf("%w: spend and lock in one transaction", ErrInvalidLock)

	case tx.Spend != nil:
		dep, err := l.Deposit(ctx, tx.Spend.Deposit)
		if err != nil {
			return nil, err
		}
		if dep.Consumed {
			return nil, fmt.Errorf("%w: %s by %s", ErrAlreadyConsumed, dep.Ref.Hex(), dep.ConsumedTx.Hex())
		}
		if l.vm == nil {
			return nil, fmt.Errorf("%w: no predicate vm configured", ErrSubmissionFailed)
		}
		if err := l.vm.Evaluate(dep, tx); err != nil {
			l.Logger.Infow("ledger_spend_rejected", "tx", txHash.Hex(), "deposit", dep.Ref.Hex(), "err", err)
			return nil, err
		}
		if err := conserve(tx, dep); err != nil {
			return nil, err
		}
		consumed, err := l.ConsumeIfUnspent(ctx, dep.Ref, eff)
		if err != nil {
			return nil, err
		}
		return &Receipt{TxHash: txHash, Consumed: consumed}, nil

	case tx.Lock != nil:
		if err := conserve(tx, nil); err != nil {
			return nil, err
		}
		dep, err := l.newDeposit(tx, txHash)
		if err != nil {
			return nil, err
		}
		return l.commit(ctx, eff, nil, dep)

	default:
		if err := conserve(tx, nil); err != nil {
			return nil, err
		}
		return l.commit(ctx, eff, nil, nil)
	}
}

// ConsumeIfUnspent atomically marks ref consumed and applies eff. It fails
// with ErrAlreadyConsumed if another transaction consumed ref first, and with
// ErrUnbalanced unless eff.Credits equal eff.Debits plus the deposit, per asset.
func (l *Ledger) ConsumeIfUnspent(ctx context.Context, ref DepositRef, eff Effects) (*Deposit, error) {
	receipt, err := l.commit(ctx, eff, &ref, nil)
	if err != nil {
		return nil, err
	}
	return receipt.Consumed, nil
}

func (l *Ledger) newDeposit(tx *Transaction, txHash common.Hash) (*Deposit, error) {
	lock := tx.Lock
	if !l.isProxy(tx.Via) {
		return nil, fmt.Errorf("%w: via %s", ErrUnauthorizedOrigin, tx.Via.Hex())
	}
	if lock.Amount == 0 {
		return nil, fmt.Errorf("%w: zero amount", ErrInvalidLock)
	}
	if l.vm == nil {
		return nil, fmt.Errorf("%w: no predicate vm configured", ErrSubmissionFailed)
	}
	root, err := l.vm.Root(lock.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidLock, err)
	}
	if root != lock.Predicate {
		return nil, fmt.Errorf("%w: data commits to %s, locked to %s", ErrInvalidLock, root.Hex(), lock.Predicate.Hex())
	}

	return &Deposit{
		Ref:       lockRef(txHash),
		Predicate: lock.Predicate,
		Asset:     lock.Asset,
		Amount:    lock.Amount,
		Data:      append([]byte(nil), lock.Data...),
		Origin:    tx.Signer,
		Via:       tx.Via,
		CreatedTx: txHash,
	}, nil
}

// conserve checks that, per asset, inputs plus the spent deposit equal
// outputs plus the new lock.
func conserve(tx *Transaction, spent *Deposit) error {
	var locked *Coin
	if tx.Lock != nil {
		locked = &Coin{Asset: tx.Lock.Asset, Amount: tx.Lock.Amount}
	}
	return balanced(tx.Inputs, spent, tx.Outputs, locked)
}

func balanced(inputs []Coin, spent *Deposit, outputs []Coin, locked *Coin) error {
	in := make(map[common.Hash]uint64)
	out := make(map[common.Hash]uint64)
	add := func(m map[common.Hash]uint64, asset common.Hash, amount uint64) error {
		if amount == 0 {
			return fmt.Errorf("%w: zero-amount coin of %s", ErrUnbalanced, asset.Hex())
		}
		sum, overflow := math.SafeAdd(m[asset], amount)
		if overflow {
			return fmt.Errorf("%w: %s total overflows", ErrUnbalanced, asset.Hex())
		}
		m[asset] = sum
		return nil
	}

	for _, c := range inputs {
		if err := add(in, c.Asset, c.Amount); err != nil {
			return err
		}
	}
	if spent != nil {
		if err := add(in, spent.Asset, spent.Amount); err != nil {
			return err
		}
	}
	for _, c := range outputs {
		if err := add(out, c.Asset, c.Amount); err != nil {
			return err
		}
	}
	if locked != nil {
		if err := add(out, locked.Asset, locked.Amount); err != nil {
			return err
		}
	}

	if len(in) != len(out) {
		return fmt.Errorf("%w: %d assets in, %d out", ErrUnbalanced, len(in), len(out))
	}
	for asset, amt := range in {
		if out[asset] != amt {
			return fmt.Errorf("%w: %s in %d, out %d", ErrUnbalanced, asset.Hex(), amt, out[asset])
		}
	}
	return nil
}

type balanceID struct {
	owner common.Address
	asset common.Hash
}

// commit applies eff under the ledger lock: nonce check, optional consumption
// of spend, optional creation of lock, all in one pebble batch.
func (l *Ledger) commit(ctx context.Context, eff Effects, spend *DepositRef, lock *Deposit) (*Receipt, error) {
	receipt, event, err := l.commitLocked(ctx, eff, spend, lock)
	if err != nil {
		return nil, err
	}
	l.Logger.Infow("ledger_tx_applied",
		"tx", eff.TxHash.Hex(),
		"signer", eff.Signer.Hex(),
		"nonce", eff.Nonce,
		"event", event.Type,
	)
	l.emit(event)
	return receipt, nil
}

func (l *Ledger) commitLocked(ctx context.Context, eff Effects, spend *DepositRef, lock *Deposit) (*Receipt, Event, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return nil, Event{}, submissionErr(err)
	}

	nonce, err := l.store.Nonce(eff.Signer)
	if err != nil {
		return nil, Event{}, err
	}
	if eff.Nonce != nonce+1 {
		return nil, Event{}, fmt.Errorf("%w: got %d, want %d", ErrBadNonce, eff.Nonce, nonce+1)
	}

	receipt := &Receipt{TxHash: eff.TxHash}
	event := Event{Type: EventTransfer, TxHash: eff.TxHash}

	var consumed *Deposit
	if spend != nil {
		dep, err := l.store.LoadDeposit(*spend)
		if err != nil {
			return nil, Event{}, err
		}
		if dep == nil {
			return nil, Event{}, fmt.Errorf("%w: %s", ErrDepositNotFound, spend.Hex())
		}
		if dep.Consumed {
			return nil, Event{}, fmt.Errorf("%w: %s by %s", ErrAlreadyConsumed, dep.Ref.Hex(), dep.ConsumedTx.Hex())
		}
		dep.Consumed = true
		dep.ConsumedTx = eff.TxHash
		consumed = dep
		receipt.Consumed = dep
		event.Type = EventDepositConsumed
		event.Deposit = dep
	}
	var locked *Coin
	if lock != nil {
		locked = &Coin{Asset: lock.Asset, Amount: lock.Amount}
	}
	if consumed != nil || locked != nil {
		if err := balanced(eff.Debits, consumed, eff.Credits, locked); err != nil {
			return nil, Event{}, err
		}
	}

	balances := make(map[balanceID]uint64)
	var touched []balanceID
	load := func(id balanceID) (uint64, error) {
		if bal, ok := balances[id]; ok {
			return bal, nil
		}
		bal, err := l.store.Balance(id.owner, id.asset)
		if err != nil {
			return 0, err
		}
		balances[id] = bal
		touched = append(touched, id)
		return bal, nil
	}

	for _, c := range eff.Debits {
		id := balanceID{c.Owner, c.Asset}
		bal, err := load(id)
		if err != nil {
			return nil, Event{}, err
		}
		if bal < c.Amount {
			return nil, Event{}, fmt.Errorf("%w: %s holds %d of %s, needs %d",
				ErrInsufficientBalance, c.Owner.Hex(), bal, c.Asset.Hex(), c.Amount)
		}
		balances[id] = bal - c.Amount
	}
	for _, c := range eff.Credits {
		id := balanceID{c.Owner, c.Asset}
		bal, err := load(id)
		if err != nil {
			return nil, Event{}, err
		}
		sum, overflow := math.SafeAdd(bal, c.Amount)
		if overflow {
			return nil, Event{}, fmt.Errorf("credit %d of %s to %s: balance overflow", c.Amount, c.Asset.Hex(), c.Owner.Hex())
		}
		balances[id] = sum
	}

	batch := l.store.NewBatch()
	defer batch.Close()

	seen := make(map[common.Address]bool)
	for _, id := range touched {
		if err := batch.SetBalance(id.owner, id.asset, balances[id]); err != nil {
			return nil, Event{}, err
		}
		if !seen[id.owner] {
			seen[id.owner] = true
			event.Accounts = append(event.Accounts, id.owner)
		}
	}
	if err := batch.SetNonce(eff.Signer, eff.Nonce); err != nil {
		return nil, Event{}, err
	}
	if consumed != nil {
		if err := batch.SaveDeposit(consumed, false); err != nil {
			return nil, Event{}, err
		}
	}
	if lock != nil {
		lock.Seq = l.seq + 1
		lock.CreatedAt = l.clock.Now().UTC()
		if err := batch.SaveDeposit(lock, true); err != nil {
			return nil, Event{}, err
		}
		receipt.Created = lock
		event.Type = EventDepositCreated
		event.Deposit = lock
	}

	if err := batch.Commit(); err != nil {
		return nil, Event{}, fmt.Errorf("%w: commit: %v", ErrSubmissionFailed, err)
	}
	if lock != nil {
		l.seq = lock.Seq
	}
	return receipt, event, nil
}

func (l *Ledger) emit(ev Event) {
	if l.OnCommit != nil {
		l.OnCommit(ev)
	}
}

// wait simulates the inclusion round-trip.
func (l *Ledger) wait(ctx context.Context) error {
	if l.latency > 0 {
		select {
		case <-l.clock.After(l.latency):
		case <-ctx.Done():
		}
	}
	return submissionErr(ctx.Err())
}

func submissionErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %v", ErrSubmissionTimedOut, err)
	default:
		return fmt.Errorf("%w: %v", ErrSubmissionFailed, err)
	}
}
