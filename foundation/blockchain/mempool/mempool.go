// Package mempool maintains the mempool for the blockchain.
package mempool

import (
	"errors"
	"fmt"
	"sync"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/mempool/selector"
)

// Set of errors returned by mempool admission.
var (
	// ErrDuplicate is returned when the pool already holds the transaction.
	ErrDuplicate = errors.New("transaction already in mempool")

	// ErrOutpointReserved is returned when another pending transaction
	// already spends one of the submitted inputs.
	ErrOutpointReserved = errors.New("outpoint already reserved by pending transaction")
)

// Mempool represents a cache of pending transactions organized by id, with a
// reservation index on the outpoints they consume. Two pending transactions
// can never spend the same output.
type Mempool struct {
	mu       sync.RWMutex
	pool     map[string]database.Tx
	reserved map[database.Outpoint]string
	selectFn selector.Func
}

// New constructs a new mempool using the default sort strategy.
func New() (*Mempool, error) {
	return NewWithStrategy(selector.StrategyFee)
}

// NewWithStrategy constructs a new mempool with specified sort strategy.
func NewWithStrategy(strategy string) (*Mempool, error) {
	selectFn, err := selector.Retrieve(strategy)
	if err != nil {
		return nil, err
	}

	mp := Mempool{
		pool:     make(map[string]database.Tx),
		reserved: make(map[database.Outpoint]string),
		selectFn: selectFn,
	}

	return &mp, nil
}

// Count returns the current number of transactions in the pool.
func (mp *Mempool) Count() int {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	return len(mp.pool)
}

// Add admits a transaction into the mempool and reserves the outpoints it
// spends. Admission is atomic; a rejected transaction reserves nothing.
func (mp *Mempool) Add(tx database.Tx) (int, error) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	if _, exists := mp.pool[tx.ID]; exists {
		return len(mp.pool), fmt.Errorf("tx %s: %w", tx, ErrDuplicate)
	}

	for _, in := range tx.Inputs {
		if spender, exists := mp.reserved[in.Outpoint()]; exists {
			return len(mp.pool), fmt.Errorf("outpoint %s held by tx %s: %w", in.Outpoint(), spender[:10], ErrOutpointReserved)
		}
	}

	mp.pool[tx.ID] = tx
	for _, in := range tx.Inputs {
		mp.reserved[in.Outpoint()] = tx.ID
	}

	return len(mp.pool), nil
}

// Delete removes a transaction from the mempool and releases its
// reservations.
func (mp *Mempool) Delete(tx database.Tx) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.deleteLocked(tx)
}

// DeleteByOutpoint removes whatever pending transaction spends the specified
// outpoint. Used when a confirmed block consumes an output a pending
// transaction was counting on.
func (mp *Mempool) DeleteByOutpoint(op database.Outpoint) {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	txID, exists := mp.reserved[op]
	if !exists {
		return
	}

	if tx, exists := mp.pool[txID]; exists {
		mp.deleteLocked(tx)
	}
}

func (mp *Mempool) deleteLocked(tx database.Tx) {
	if _, exists := mp.pool[tx.ID]; !exists {
		return
	}

	delete(mp.pool, tx.ID)
	for _, in := range tx.Inputs {
		if mp.reserved[in.Outpoint()] == tx.ID {
			delete(mp.reserved, in.Outpoint())
		}
	}
}

// Truncate clears all the transactions from the pool.
func (mp *Mempool) Truncate() {
	mp.mu.Lock()
	defer mp.mu.Unlock()

	mp.pool = make(map[string]database.Tx)
	mp.reserved = make(map[database.Outpoint]string)
}

// SpenderOf returns the id of the pending transaction holding a reservation
// on the specified outpoint.
func (mp *Mempool) SpenderOf(op database.Outpoint) (string, bool) {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txID, exists := mp.reserved[op]
	return txID, exists
}

// Copy returns every pending transaction in no particular order.
func (mp *Mempool) Copy() []database.Tx {
	mp.mu.RLock()
	defer mp.mu.RUnlock()

	txs := make([]database.Tx, 0, len(mp.pool))
	for _, tx := range mp.pool {
		txs = append(txs, tx)
	}

	return txs
}

// PickBest uses the configured sort strategy to return the next set of
// transactions for the next block. Pass -1 for all of them.
func (mp *Mempool) PickBest(howMany int) []database.Tx {
	txs := mp.Copy()

	if howMany == -1 {
		howMany = len(txs)
	}

	return mp.selectFn(txs, howMany)
}
