package state

import (
	"context"
	"sync/atomic"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// MineNewBlock attempts to create a new block with a proper hash that can
// become the next block in the chain. The POW search runs without holding
// the state lock so peer traffic keeps flowing while mining.
func (s *State) MineNewBlock(ctx context.Context) (database.Block, error) {
	defer s.evHandler("state: MineNewBlock: completed")

	s.evHandler("state: MineNewBlock: MINING: check mining allowed")

	if !s.IsMiningAllowed() {
		return database.Block{}, ErrMiningDisabled
	}

	s.evHandler("state: MineNewBlock: MINING: check mempool count")

	if s.mempool.Count() == 0 {
		return database.Block{}, ErrNoTransactions
	}

	s.evHandler("state: MineNewBlock: MINING: select transactions")

	tip := s.db.LatestBlock()
	trans, fees := s.selectTransactions(tip)
	if len(trans) == 0 {
		return database.Block{}, ErrNoTransactions
	}

	// The coinbase pays the block subsidy plus every selected fee and is
	// always the first transaction in the block.
	height := tip.Header.Height + 1
	reward := database.Unit(s.genesis.BlockReward(height)) + fees
	coinbase := database.NewCoinbaseTx(s.beneficiaryAddress, reward, height)
	blockTxs := append([]database.Tx{coinbase}, trans...)

	s.evHandler("state: MineNewBlock: MINING: perform POW")

	block, err := database.POW(ctx, database.POWArgs{
		Difficulty: s.nextDifficulty(tip),
		PrevBlock:  tip,
		Trans:      blockTxs,
		EvHandler:  s.evHandler,
		ProgressFn: func(attempts uint64) {
			atomic.StoreUint64(&s.stats.HashAttempts, attempts)
		},
	})
	if err != nil {
		return database.Block{}, err
	}

	// Just check one more time we were not cancelled.
	if ctx.Err() != nil {
		return database.Block{}, ctx.Err()
	}

	s.evHandler("state: MineNewBlock: MINING: accept mined block")

	// The tip may have moved while we were mining. acceptBlock revalidates
	// against whatever the chain looks like now and fails if we lost the race.
	if err := s.acceptBlock(block); err != nil {
		return database.Block{}, err
	}

	atomic.AddUint64(&s.stats.BlocksMined, 1)

	s.notifyBlockListeners(block)

	return block, nil
}

// selectTransactions picks the best candidates from the mempool and drops
// any that no longer validate against the current UTXO set. Stale entries
// are evicted so they don't poison the next attempt.
func (s *State) selectTransactions(tip database.Block) ([]database.Tx, database.Unit) {
	capacity := -1
	if s.genesis.TransPerBlock > 0 {
		capacity = int(s.genesis.TransPerBlock)
	}

	utxos := s.db.UTXOSnapshot()

	var final []database.Tx
	var fees database.Unit

	for _, tx := range s.mempool.PickBest(capacity) {
		if err := tx.Validate(utxos, false); err != nil {
			s.evHandler("state: selectTransactions: evict stale tx[%s]: %s", tx, err)
			s.mempool.Delete(tx)
			continue
		}

		final = append(final, tx)
		fees += tx.Fee
	}

	return final, fees
}

// MiningStatsSnapshot returns the current mining counters.
func (s *State) MiningStatsSnapshot() MiningStats {
	return MiningStats{
		BlocksMined:  atomic.LoadUint64(&s.stats.BlocksMined),
		HashAttempts: atomic.LoadUint64(&s.stats.HashAttempts),
	}
}
