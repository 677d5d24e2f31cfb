// Package state is the core API for the blockchain and implements all the
// business rules and processing.
package state

import (
	"sync"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/genesis"
	"github.com/orecoin/orecoin/foundation/blockchain/mempool"
	"github.com/orecoin/orecoin/foundation/blockchain/mempool/selector"
	"github.com/orecoin/orecoin/foundation/blockchain/peer"
)

// EventHandler defines a function that is called when events
// occur in the processing of persisting blocks.
type EventHandler func(v string, args ...any)

// Worker interface represents the behavior required to be implemented by any
// package providing support for mining and transaction sharing.
type Worker interface {
	Shutdown()
	SignalStartMining()
	SignalCancelMining() (done func())
	SignalShareTx(tx database.Tx)
}

// =============================================================================

// Config represents the configuration required to start
// the blockchain node.
type Config struct {
	BeneficiaryAddress database.AccountID
	Host               string
	Storage            database.Storage
	Genesis            genesis.Genesis
	SelectStrategy     string
	KnownPeers         *peer.PeerSet
	EvHandler          EventHandler
}

// State manages the blockchain database.
type State struct {
	mu sync.Mutex

	beneficiaryAddress database.AccountID
	host               string
	evHandler          EventHandler
	allowMining        bool

	knownPeers *peer.PeerSet
	genesis    genesis.Genesis
	mempool    *mempool.Mempool
	db         *database.Database

	orphans map[string]database.Block

	blockListeners []func(database.BlockData)
	txListeners    []func(database.Tx)

	stats MiningStats

	Worker Worker
}

// MiningStats carries counters about local mining activity.
type MiningStats struct {
	BlocksMined  uint64
	HashAttempts uint64
}

// New constructs a new blockchain for data management.
func New(cfg Config) (*State, error) {

	// Build a safe event handler function for use.
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	// Access the storage for the blockchain.
	db, err := database.New(cfg.Genesis, cfg.Storage, ev)
	if err != nil {
		return nil, err
	}

	// Construct a mempool with the specified sort strategy.
	strategy := cfg.SelectStrategy
	if strategy == "" {
		strategy = selector.StrategyFee
	}
	mp, err := mempool.NewWithStrategy(strategy)
	if err != nil {
		return nil, err
	}

	// Create the State to provide support for managing the blockchain.
	state := State{
		beneficiaryAddress: cfg.BeneficiaryAddress,
		host:               cfg.Host,
		evHandler:          ev,
		allowMining:        true,

		knownPeers: cfg.KnownPeers,
		genesis:    cfg.Genesis,
		mempool:    mp,
		db:         db,

		orphans: make(map[string]database.Block),
	}

	// The Worker is not set here. The call to worker.Run will assign itself
	// and start everything up and running for the node.

	return &state, nil
}

// Shutdown cleanly brings the node down.
func (s *State) Shutdown() error {
	s.evHandler("state: shutdown: started")
	defer s.evHandler("state: shutdown: completed")

	// Stop all blockchain writing activity.
	if s.Worker != nil {
		s.Worker.Shutdown()
	}

	return nil
}

// =============================================================================

// IsMiningAllowed identifies if we are allowed to mine blocks. This
// might be turned off if the blockchain needs to be re-synced.
func (s *State) IsMiningAllowed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.allowMining
}

// TurnMiningOn sets the allowMining flag back to true.
func (s *State) TurnMiningOn() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allowMining = true
}

// TurnMiningOff sets the allowMining flag to false preventing mining.
func (s *State) TurnMiningOff() {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.allowMining = false
}

// =============================================================================

// RegisterBlockListener adds a callback invoked for every locally accepted
// block, mined here or adopted through a reorganization. Listeners run on
// their own goroutine so a slow consumer can't stall block processing.
func (s *State) RegisterBlockListener(fn func(database.BlockData)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.blockListeners = append(s.blockListeners, fn)
}

// RegisterTxListener adds a callback invoked for every transaction admitted
// through the wallet surface that should be shared with peers.
func (s *State) RegisterTxListener(fn func(database.Tx)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.txListeners = append(s.txListeners, fn)
}

func (s *State) notifyBlockListeners(block database.Block) {
	blockData := database.NewBlockData(block)

	s.mu.Lock()
	listeners := make([]func(database.BlockData), len(s.blockListeners))
	copy(listeners, s.blockListeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		go fn(blockData)
	}
}

// NotifyTxShare hands an admitted transaction to the registered share
// listeners. The worker calls this off the hot path.
func (s *State) NotifyTxShare(tx database.Tx) {
	s.mu.Lock()
	listeners := make([]func(database.Tx), len(s.txListeners))
	copy(listeners, s.txListeners)
	s.mu.Unlock()

	for _, fn := range listeners {
		go fn(tx)
	}
}
