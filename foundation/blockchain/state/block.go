package state

import (
	"fmt"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// ProcessPeerBlock takes a block received from a peer, validates it and if
// that passes, adds the block to the chain. A block that does not extend the
// current tip is handed to the fork resolver.
func (s *State) ProcessPeerBlock(blockData database.BlockData) error {
	s.evHandler("state: ProcessPeerBlock: started: blk[%s]", blockData.Hash)
	defer s.evHandler("state: ProcessPeerBlock: completed")

	// If the runMiningOperation function is being executed it needs to stop
	// immediately. The G executing runMiningOperation will not return from
	// the function until done is called. That allows this function to
	// complete its state changes before a new mining operation takes place.
	if s.Worker != nil {
		done := s.Worker.SignalCancelMining()
		defer func() {
			s.evHandler("state: ProcessPeerBlock: signal runMiningOperation to terminate")
			done()
		}()
	}

	// ToBlock rebuilds the merkle tree and rejects a tampered hash.
	block, err := database.ToBlock(blockData)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidTransaction, err)
	}

	if err := s.acceptBlock(block); err == nil {
		return nil
	}

	// The block does not extend our tip. Give the fork resolver a chance.
	return s.processForkBlock(block)
}

// acceptBlock validates a block against the current tip and commits it to
// the database, storage and mempool in one critical section.
func (s *State) acceptBlock(block database.Block) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.acceptBlockLocked(block)
}

func (s *State) acceptBlockLocked(block database.Block) error {
	tip := s.db.LatestBlock()

	// The difficulty is consensus, not miner's choice. Enforce the retarget
	// schedule before any expensive validation.
	if exp := s.nextDifficulty(tip); block.Header.Difficulty != exp {
		return fmt.Errorf("block difficulty %d, exp %d", block.Header.Difficulty, exp)
	}

	if err := block.ValidateBlock(tip, s.genesis, s.db.UTXOSnapshot(), s.evHandler); err != nil {
		return err
	}

	// If storage refuses the block the in-memory chain must not keep it.
	// Continuing on a tip storage never recorded would diverge on restart.
	snapshot := s.db.TakeSnapshot()

	if err := s.db.ApplyBlock(block); err != nil {
		return err
	}

	if err := s.db.Write(block); err != nil {
		s.db.RestoreSnapshot(snapshot)
		return fmt.Errorf("write block: %w", err)
	}

	// Drop confirmed transactions from the mempool along with any pending
	// transaction that lost its inputs to this block.
	for _, tx := range block.Trans.Values() {
		s.mempool.Delete(tx)
		for _, in := range tx.Inputs {
			s.mempool.DeleteByOutpoint(in.Outpoint())
		}
	}

	s.evHandler("state: acceptBlock: accepted: blk[%d] hash[%s]", block.Header.Height, block.Hash())

	return nil
}
