package storage

import (
	"errors"
	"sync"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// Memory represents the storage implementation for keeping blocks only in
// memory. Useful for tests and ephemeral nodes. This implements the
// database.Storage interface.
type Memory struct {
	mu     sync.RWMutex
	blocks []database.BlockData
}

// NewMemory constructs a Memory value for use.
func NewMemory() (*Memory, error) {
	return &Memory{}, nil
}

// Close in this implementation has nothing to do.
func (m *Memory) Close() error {
	return nil
}

// Write appends the specified block data, overwriting any block already
// stored at that height.
func (m *Memory) Write(blockData database.BlockData) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	height := blockData.Header.Height
	if height < uint64(len(m.blocks)) {
		m.blocks[height] = blockData
		m.blocks = m.blocks[:height+1]
		return nil
	}

	if height != uint64(len(m.blocks)) {
		return errors.New("block height out of sequence")
	}

	m.blocks = append(m.blocks, blockData)

	return nil
}

// GetBlock returns the block stored at the specified height.
func (m *Memory) GetBlock(num uint64) (database.BlockData, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if num >= uint64(len(m.blocks)) {
		return database.BlockData{}, errors.New("block not found")
	}

	return m.blocks[num], nil
}

// ForEach returns an iterator to walk through all the blocks starting with
// the genesis block at height 0.
func (m *Memory) ForEach() database.Iterator {
	m.mu.RLock()
	defer m.mu.RUnlock()

	blocks := make([]database.BlockData, len(m.blocks))
	copy(blocks, m.blocks)

	return &MemoryIterator{blocks: blocks}
}

// Reset clears out the stored blocks.
func (m *Memory) Reset() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.blocks = nil

	return nil
}

// =============================================================================

// MemoryIterator represents the iteration implementation for walking through
// a snapshot of the stored blocks. This implements the database.Iterator
// interface.
type MemoryIterator struct {
	blocks  []database.BlockData
	current int
	eoc     bool
}

// Next retrieves the next block from the snapshot.
func (mi *MemoryIterator) Next() (database.BlockData, error) {
	if mi.current >= len(mi.blocks) {
		mi.eoc = true
		return database.BlockData{}, nil
	}

	blockData := mi.blocks[mi.current]
	mi.current++

	return blockData, nil
}

// Done returns the end of chain value.
func (mi *MemoryIterator) Done() bool {
	return mi.eoc
}
