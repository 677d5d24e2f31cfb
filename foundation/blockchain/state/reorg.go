package state

import (
	"fmt"
	"math/big"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// maxOrphanBlocks bounds the side block cache so a hostile peer can't grow
// it without bound.
const maxOrphanBlocks = 256

// processForkBlock handles a block that does not extend the current tip. The
// block is cached as a side block and, if the branch it completes carries
// strictly more cumulative work than the main chain, the chain reorganizes
// onto it.
func (s *State) processForkBlock(block database.Block) error {
	s.evHandler("state: processForkBlock: started: blk[%d] hash[%s]", block.Header.Height, block.Hash())
	defer s.evHandler("state: processForkBlock: completed")

	newTip, err := s.reorganize(block)
	if err != nil {
		return err
	}

	s.notifyBlockListeners(newTip)

	return nil
}

func (s *State) reorganize(block database.Block) (database.Block, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	// A side block must at least carry valid work before it earns a cache
	// slot.
	if !block.IsSolved() {
		return database.Block{}, fmt.Errorf("side block %s hash not solved: %w", block.Hash(), ErrInvalidTransaction)
	}

	if len(s.orphans) >= maxOrphanBlocks {
		s.evictOldestOrphan()
	}
	s.orphans[block.Hash()] = block

	// Walk the parent links back through the side block cache until the
	// branch attaches to the main chain.
	mainByHash := make(map[string]database.Block)
	for _, b := range s.db.BlocksByHeight(0, 0) {
		mainByHash[b.Hash()] = b
	}

	// Already on the main chain, nothing to do.
	if _, exists := mainByHash[block.Hash()]; exists {
		delete(s.orphans, block.Hash())
		return database.Block{}, ErrNotEnoughWork
	}

	branch := []database.Block{block}
	cursor := block
	for {
		if _, exists := mainByHash[cursor.Header.PrevBlockHash]; exists {
			break
		}

		parent, exists := s.orphans[cursor.Header.PrevBlockHash]
		if !exists {
			return database.Block{}, fmt.Errorf("blk[%d] hash[%s]: %w", block.Header.Height, block.Hash(), ErrOrphanBlock)
		}

		branch = append([]database.Block{parent}, branch...)
		cursor = parent
	}

	forkBlock := mainByHash[cursor.Header.PrevBlockHash]
	forkHeight := forkBlock.Header.Height

	// Adoption requires strictly more work. Equal work keeps the chain we
	// already have.
	currentWork := s.db.CumulativeWork()
	candidateWork := big.NewInt(0)
	for _, b := range s.db.BlocksByHeight(0, forkHeight+1) {
		candidateWork.Add(candidateWork, b.Work())
	}
	for _, b := range branch {
		candidateWork.Add(candidateWork, b.Work())
	}

	if candidateWork.Cmp(currentWork) <= 0 {
		s.evHandler("state: reorganize: side branch cached: work[%s] <= current[%s]", candidateWork, currentWork)
		return database.Block{}, ErrNotEnoughWork
	}

	s.evHandler("state: reorganize: REORG: fork at blk[%d]: reverting %d blocks, applying %d", forkHeight, s.db.Height()-forkHeight, len(branch))

	// From here the rewrite is tentative. Any failure restores the snapshot
	// and the node carries on with the original chain.
	snapshot := s.db.TakeSnapshot()

	var reverted []database.Tx
	for s.db.Height() > forkHeight {
		b, err := s.db.RevertLatestBlock()
		if err != nil {
			s.db.RestoreSnapshot(snapshot)
			return database.Block{}, fmt.Errorf("revert: %w", err)
		}

		for _, tx := range b.Trans.Values() {
			if !tx.IsCoinbase() {
				reverted = append(reverted, tx)
			}
		}
	}

	for _, b := range branch {
		if err := s.applyBranchBlock(b); err != nil {
			s.db.RestoreSnapshot(snapshot)
			return database.Block{}, fmt.Errorf("apply branch blk[%d]: %w", b.Header.Height, err)
		}
	}

	if err := s.db.Persist(); err != nil {
		s.db.RestoreSnapshot(snapshot)
		return database.Block{}, fmt.Errorf("persist: %w", err)
	}

	// The branch is now the main chain. Clean the caches and give the
	// transactions that fell out of the old chain another shot at the pool.
	confirmed := make(map[string]struct{})
	for _, b := range branch {
		delete(s.orphans, b.Hash())

		for _, tx := range b.Trans.Values() {
			confirmed[tx.ID] = struct{}{}
			s.mempool.Delete(tx)
			for _, in := range tx.Inputs {
				s.mempool.DeleteByOutpoint(in.Outpoint())
			}
		}
	}

	for _, tx := range reverted {
		if _, exists := confirmed[tx.ID]; exists {
			continue
		}
		if err := tx.Validate(s.db, false); err != nil {
			s.evHandler("state: reorganize: dropped reverted tx[%s]: %s", tx, err)
			continue
		}
		if _, err := s.mempool.Add(tx); err != nil {
			s.evHandler("state: reorganize: dropped reverted tx[%s]: %s", tx, err)
		}
	}

	tip := s.db.LatestBlock()
	s.evHandler("state: reorganize: REORG: complete: new tip blk[%d] hash[%s]", tip.Header.Height, tip.Hash())

	return tip, nil
}

// applyBranchBlock validates and applies one block during a reorganization.
// Storage is not written here; the whole chain is persisted once the branch
// lands.
func (s *State) applyBranchBlock(block database.Block) error {
	tip := s.db.LatestBlock()

	if exp := s.nextDifficulty(tip); block.Header.Difficulty != exp {
		return fmt.Errorf("block difficulty %d, exp %d", block.Header.Difficulty, exp)
	}

	if err := block.ValidateBlock(tip, s.genesis, s.db.UTXOSnapshot(), s.evHandler); err != nil {
		return err
	}

	return s.db.ApplyBlock(block)
}

// evictOldestOrphan drops the lowest side block so the cache stays bounded.
func (s *State) evictOldestOrphan() {
	var victim string
	var lowest uint64

	for hash, b := range s.orphans {
		if victim == "" || b.Header.Height < lowest {
			victim = hash
			lowest = b.Header.Height
		}
	}

	if victim != "" {
		delete(s.orphans, victim)
	}
}
