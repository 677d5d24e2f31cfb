// Package database handles all the lower level support for maintaining the
// blockchain state: blocks, transactions and the UTXO set they produce.
package database

import (
	"errors"
	"fmt"
	"math/big"
	"sort"
	"sync"

	"github.com/orecoin/orecoin/foundation/blockchain/genesis"
	"github.com/orecoin/orecoin/foundation/blockchain/merkle"
	"github.com/orecoin/orecoin/foundation/blockchain/signature"
)

// Storage interface represents the behavior required to be implemented by
// any package providing support for reading and writing the blockchain.
type Storage interface {
	Write(blockData BlockData) error
	GetBlock(num uint64) (BlockData, error)
	ForEach() Iterator
	Reset() error
	Close() error
}

// Iterator interface represents the behavior required to be implemented by
// any package providing support to iterate over the blocks.
type Iterator interface {
	Next() (BlockData, error)
	Done() bool
}

// =============================================================================

// Database manages data related to blocks and the unspent outputs they
// produce. All exported methods are safe for concurrent use.
type Database struct {
	mu        sync.RWMutex
	genesis   genesis.Genesis
	blocks    []Block
	utxos     *UTXOSet
	storage   Storage
	evHandler func(v string, args ...any)
}

// New constructs a new database and applies any persisted blocks. When the
// storage is empty the genesis block is built and written.
func New(gen genesis.Genesis, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	db := Database{
		genesis:   gen,
		utxos:     NewUTXOSet(),
		storage:   storage,
		evHandler: evHandler,
	}

	// Read all the blocks from storage and bring the UTXO set current.
	iter := storage.ForEach()
	for blockData, err := iter.Next(); !iter.Done(); blockData, err = iter.Next() {
		if err != nil {
			return nil, err
		}

		block, err := ToBlock(blockData)
		if err != nil {
			return nil, err
		}

		if err := db.applyBlock(block); err != nil {
			return nil, fmt.Errorf("block %d: %w", block.Header.Height, err)
		}
	}

	if len(db.blocks) > 0 {
		evHandler("database: New: loaded %d blocks from storage", len(db.blocks))
		return &db, nil
	}

	// Fresh storage. Build the genesis block and persist it.
	genBlock, err := genesisBlock(gen)
	if err != nil {
		return nil, err
	}

	if err := db.applyBlock(genBlock); err != nil {
		return nil, fmt.Errorf("genesis block: %w", err)
	}

	if err := storage.Write(NewBlockData(genBlock)); err != nil {
		return nil, err
	}

	evHandler("database: New: genesis block created: %s", genBlock.Hash())

	return &db, nil
}

// genesisBlock builds the deterministic height zero block that funds the
// initial balances. The prefunding outputs are coinbase style so the set of
// value creating transactions stays uniform.
func genesisBlock(gen genesis.Genesis) (Block, error) {
	addresses := make([]string, 0, len(gen.Balances))
	for address := range gen.Balances {
		addresses = append(addresses, address)
	}
	sort.Strings(addresses)

	trans := make([]Tx, 0, len(addresses))
	for _, address := range addresses {
		in := TxInput{
			TxID:        signature.ZeroHash,
			OutputIndex: CoinbaseOutputIndex,
			UnlockSig:   []byte("genesis"),
		}
		out := TxOutput{
			Address:       AccountID(address),
			Amount:        Unit(gen.Balances[address]),
			LockCondition: address,
		}

		tx := Tx{
			Version:   TxVersion,
			Inputs:    []TxInput{in},
			Outputs:   []TxOutput{out},
			TimeStamp: uint64(gen.Date.Unix()),
		}
		tx.ComputeID()

		trans = append(trans, tx)
	}

	tree, err := merkle.NewTree(trans)
	if err != nil {
		return Block{}, err
	}

	block := Block{
		Header: BlockHeader{
			PrevBlockHash: signature.ZeroHash,
			MerkleRoot:    tree.RootHex(),
			TimeStamp:     uint64(gen.Date.Unix()),
			Difficulty:    gen.Difficulty,
			Nonce:         0,
			Height:        0,
		},
		Trans: tree,
	}

	return block, nil
}

// applyBlock runs the transactions of a block through the UTXO set and
// appends the block. The caller either holds the lock or owns the database
// exclusively. On failure the UTXO set is restored.
func (db *Database) applyBlock(block Block) error {
	snapshot := db.utxos.Clone()

	for _, tx := range block.Trans.Values() {
		if err := db.utxos.Apply(tx, block.Header.Height); err != nil {
			db.utxos = snapshot
			return fmt.Errorf("tx %s: %w", tx, err)
		}
	}

	db.blocks = append(db.blocks, block)

	return nil
}

// =============================================================================

// ApplyBlock adds the block to the in-memory chain and UTXO set.
func (db *Database) ApplyBlock(block Block) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	return db.applyBlock(block)
}

// Write persists the specified block to storage.
func (db *Database) Write(block Block) error {
	return db.storage.Write(NewBlockData(block))
}

// RevertLatestBlock undoes the chain tip in memory: the tip's transactions
// are reverted in reverse order and the block is removed. Storage is not
// touched; the caller persists once the chain settles, see Persist.
func (db *Database) RevertLatestBlock() (Block, error) {
	db.mu.Lock()
	defer db.mu.Unlock()

	if len(db.blocks) <= 1 {
		return Block{}, errors.New("cannot revert the genesis block")
	}

	tip := db.blocks[len(db.blocks)-1]

	trans := tip.Trans.Values()
	for i := len(trans) - 1; i >= 0; i-- {
		if err := db.utxos.Revert(trans[i], tip.Header.Height); err != nil {
			return Block{}, fmt.Errorf("tx %s: %w", trans[i], err)
		}
	}

	db.blocks = db.blocks[:len(db.blocks)-1]

	return tip, nil
}

// Persist rewrites storage to match the in-memory chain. Used after a reorg
// where blocks were reverted and replaced.
func (db *Database) Persist() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if err := db.storage.Reset(); err != nil {
		return err
	}

	for _, block := range db.blocks {
		if err := db.storage.Write(NewBlockData(block)); err != nil {
			return err
		}
	}

	return nil
}

// =============================================================================

// Snapshot captures the full in-memory state for restore semantics around a
// tentative chain rewrite.
type Snapshot struct {
	blocks []Block
	utxos  *UTXOSet
}

// TakeSnapshot captures the current chain and UTXO state.
func (db *Database) TakeSnapshot() Snapshot {
	db.mu.RLock()
	defer db.mu.RUnlock()

	blocks := make([]Block, len(db.blocks))
	copy(blocks, db.blocks)

	return Snapshot{
		blocks: blocks,
		utxos:  db.utxos.Clone(),
	}
}

// RestoreSnapshot puts the database back to a previously captured state.
func (db *Database) RestoreSnapshot(snapshot Snapshot) {
	db.mu.Lock()
	defer db.mu.Unlock()

	db.blocks = snapshot.blocks
	db.utxos = snapshot.utxos
}

// =============================================================================

// LatestBlock returns the current chain tip.
func (db *Database) LatestBlock() Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.blocks[len(db.blocks)-1]
}

// Height returns the height of the chain tip.
func (db *Database) Height() uint64 {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.blocks[len(db.blocks)-1].Header.Height
}

// GetBlock returns the block at the specified height.
func (db *Database) GetBlock(height uint64) (Block, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if height >= uint64(len(db.blocks)) {
		return Block{}, fmt.Errorf("no block at height %d", height)
	}

	return db.blocks[height], nil
}

// BlocksByHeight returns the blocks in the half open range [from, from+limit).
// A limit of zero returns everything from the starting height.
func (db *Database) BlocksByHeight(from uint64, limit uint64) []Block {
	db.mu.RLock()
	defer db.mu.RUnlock()

	if from >= uint64(len(db.blocks)) {
		return nil
	}

	to := uint64(len(db.blocks))
	if limit > 0 && from+limit < to {
		to = from + limit
	}

	blocks := make([]Block, to-from)
	copy(blocks, db.blocks[from:to])

	return blocks
}

// CumulativeWork returns the total proof-of-work the chain represents, the
// sum of 16^difficulty over every block.
func (db *Database) CumulativeWork() *big.Int {
	db.mu.RLock()
	defer db.mu.RUnlock()

	work := big.NewInt(0)
	for _, block := range db.blocks {
		work.Add(work, block.Work())
	}

	return work
}

// =============================================================================

// Get implements the UTXOResolver interface over the live UTXO set.
func (db *Database) Get(op Outpoint) (UTXO, bool) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.utxos.Get(op)
}

// Balance returns the spendable total the specified address owns.
func (db *Database) Balance(address AccountID) Unit {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.utxos.Balance(address)
}

// UTXOsByAddress returns the unspent outputs the specified address owns.
func (db *Database) UTXOsByAddress(address AccountID) []UTXO {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.utxos.ByAddress(address)
}

// SelectForPayment runs coin selection against the live UTXO set.
func (db *Database) SelectForPayment(address AccountID, amount Unit, feeRatePercent Unit) (Selection, error) {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.utxos.SelectForPayment(address, amount, feeRatePercent)
}

// TotalSupply returns the sum of all unspent amounts on the chain.
func (db *Database) TotalSupply() Unit {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.utxos.TotalSupply()
}

// UTXOSnapshot returns a deep copy of the UTXO set so validation can run
// without holding the database lock.
func (db *Database) UTXOSnapshot() *UTXOSet {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.utxos.Clone()
}

// VerifyUTXOSet checks the internal invariants of the live UTXO set.
func (db *Database) VerifyUTXOSet() error {
	db.mu.RLock()
	defer db.mu.RUnlock()

	return db.utxos.Verify()
}

// =============================================================================

// ChainState is the serialized form of the whole ledger: configuration,
// blocks and the derived UTXO set. Reimporting it reproduces a node with
// identical height, tip hash and balances.
type ChainState struct {
	ChainID         uint16      `json:"chain_id"`
	ChainName       string      `json:"chain_name"`
	TargetBlockTime uint64      `json:"target_block_time"`
	BaseReward      uint64      `json:"base_reward"`
	HalvingInterval uint64      `json:"halving_interval"`
	Blocks          []BlockData `json:"blocks"`
	UTXOSet         UTXOSetData `json:"utxo_set"`
}

// ExportState captures the chain for transfer or backup.
func (db *Database) ExportState() ChainState {
	db.mu.RLock()
	defer db.mu.RUnlock()

	blocks := make([]BlockData, len(db.blocks))
	for i, block := range db.blocks {
		blocks[i] = NewBlockData(block)
	}

	return ChainState{
		ChainID:         db.genesis.ChainID,
		ChainName:       db.genesis.ChainName,
		TargetBlockTime: db.genesis.TargetBlockTime,
		BaseReward:      db.genesis.BaseReward,
		HalvingInterval: db.genesis.HalvingInterval,
		Blocks:          blocks,
		UTXOSet:         db.utxos.Export(),
	}
}

// ImportState reconstructs a database from its serialized form. The blocks
// are replayed so the UTXO set is rebuilt rather than trusted, and the
// embedded set is compared against the result.
func ImportState(state ChainState, gen genesis.Genesis, storage Storage, evHandler func(v string, args ...any)) (*Database, error) {
	if state.ChainID != gen.ChainID {
		return nil, fmt.Errorf("chain id mismatch: state %d, genesis %d", state.ChainID, gen.ChainID)
	}

	if evHandler == nil {
		evHandler = func(v string, args ...any) {}
	}

	db := Database{
		genesis:   gen,
		utxos:     NewUTXOSet(),
		storage:   storage,
		evHandler: evHandler,
	}

	for _, blockData := range state.Blocks {
		block, err := ToBlock(blockData)
		if err != nil {
			return nil, err
		}

		if err := db.applyBlock(block); err != nil {
			return nil, fmt.Errorf("block %d: %w", block.Header.Height, err)
		}
	}

	if got, exp := db.utxos.TotalSupply(), state.UTXOSet.TotalSupply; got != exp {
		return nil, fmt.Errorf("replayed supply %d does not match state %d", got, exp)
	}

	if err := db.Persist(); err != nil {
		return nil, err
	}

	return &db, nil
}
