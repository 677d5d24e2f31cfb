package storage

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/cockroachdb/pebble"
	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// blockPrefix keys block records by big-endian height so pebble iteration
// walks the chain in order.
const blockPrefix = "blk:"

// Pebble represents the storage implementation for reading and storing
// blocks inside a pebble key-value store. This implements the
// database.Storage interface.
type Pebble struct {
	db *pebble.DB
}

// NewPebble constructs a Pebble value for use.
func NewPebble(dbPath string) (*Pebble, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	db, err := pebble.Open(dbPath, &pebble.Options{})
	if err != nil {
		return nil, err
	}

	return &Pebble{db: db}, nil
}

// Close releases the underlying pebble database.
func (p *Pebble) Close() error {
	return p.db.Close()
}

// Write stores the specified block data keyed by its height.
func (p *Pebble) Write(blockData database.BlockData) error {
	data, err := json.Marshal(blockData)
	if err != nil {
		return err
	}

	return p.db.Set(blockKey(blockData.Header.Height), data, pebble.Sync)
}

// GetBlock returns the block stored at the specified height.
func (p *Pebble) GetBlock(num uint64) (database.BlockData, error) {
	value, closer, err := p.db.Get(blockKey(num))
	if err != nil {
		if errors.Is(err, pebble.ErrNotFound) {
			return database.BlockData{}, fmt.Errorf("block %d: %w", num, pebble.ErrNotFound)
		}
		return database.BlockData{}, err
	}
	defer closer.Close()

	var blockData database.BlockData
	if err := json.Unmarshal(value, &blockData); err != nil {
		return database.BlockData{}, err
	}

	return blockData, nil
}

// ForEach returns an iterator to walk through all the blocks starting with
// the genesis block at height 0.
func (p *Pebble) ForEach() database.Iterator {
	return &PebbleIterator{pebble: p, current: ^uint64(0)}
}

// Reset deletes every stored block in a single batch.
func (p *Pebble) Reset() error {
	lower := []byte(blockPrefix)
	upper := []byte(blockPrefix)
	upper = append(upper[:len(upper):len(upper)], 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff, 0xff)

	batch := p.db.NewBatch()
	defer batch.Close()

	if err := batch.DeleteRange(lower, upper, nil); err != nil {
		return err
	}

	return batch.Commit(pebble.Sync)
}

// blockKey forms the pebble key for the specified block height.
func blockKey(height uint64) []byte {
	key := make([]byte, 0, len(blockPrefix)+8)
	key = append(key, blockPrefix...)
	key = binary.BigEndian.AppendUint64(key, height)

	return key
}

// =============================================================================

// PebbleIterator represents the iteration implementation for walking through
// and reading blocks from pebble. This implements the database.Iterator
// interface.
type PebbleIterator struct {
	pebble  *Pebble
	current uint64
	eoc     bool
}

// Next retrieves the next block from the store.
func (pi *PebbleIterator) Next() (database.BlockData, error) {
	if pi.eoc {
		return database.BlockData{}, errors.New("end of chain")
	}

	pi.current++
	blockData, err := pi.pebble.GetBlock(pi.current)
	if errors.Is(err, pebble.ErrNotFound) {
		pi.eoc = true
		return database.BlockData{}, nil
	}

	return blockData, err
}

// Done returns the end of chain value.
func (pi *PebbleIterator) Done() bool {
	return pi.eoc
}
