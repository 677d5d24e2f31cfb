// Package storage implements the database.Storage interface for persisting
// blocks on disk, in memory and inside a pebble key-value store.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path"
	"strconv"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// Disk represents the serialization implementation for reading and storing
// blocks in their own separate files on disk. This implements the
// database.Storage interface.
type Disk struct {
	dbPath string
}

// NewDisk constructs a Disk value for use.
func NewDisk(dbPath string) (*Disk, error) {
	if err := os.MkdirAll(dbPath, 0755); err != nil {
		return nil, err
	}

	return &Disk{dbPath: dbPath}, nil
}

// Close in this implementation has nothing to do since a new file is
// written to disk for each new block and then immediately closed.
func (d *Disk) Close() error {
	return nil
}

// Write takes the specified block data and stores it on disk in a file
// labeled with the block height.
func (d *Disk) Write(blockData database.BlockData) error {

	// Marshal the block for writing to disk in a more human readable format.
	data, err := json.MarshalIndent(blockData, "", "  ")
	if err != nil {
		return err
	}

	// Create a new file for this block and name it based on the block height.
	f, err := os.OpenFile(d.getPath(blockData.Header.Height), os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0600)
	if err != nil {
		return err
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return err
	}

	return nil
}

// GetBlock searches the blockchain on disk to locate and return the
// contents of the specified block by height.
func (d *Disk) GetBlock(num uint64) (database.BlockData, error) {
	f, err := os.OpenFile(d.getPath(num), os.O_RDONLY, 0600)
	if err != nil {
		return database.BlockData{}, err
	}
	defer f.Close()

	var blockData database.BlockData
	if err := json.NewDecoder(f).Decode(&blockData); err != nil {
		return database.BlockData{}, err
	}

	return blockData, nil
}

// ForEach returns an iterator to walk through all the blocks starting with
// the genesis block at height 0.
func (d *Disk) ForEach() database.Iterator {
	return &DiskIterator{disk: d, current: ^uint64(0)}
}

// Reset clears out the blockchain on disk.
func (d *Disk) Reset() error {
	entries, err := os.ReadDir(d.dbPath)
	if err != nil {
		return err
	}

	for _, entry := range entries {
		if entry.IsDir() || path.Ext(entry.Name()) != ".json" {
			continue
		}
		if err := os.Remove(path.Join(d.dbPath, entry.Name())); err != nil {
			return err
		}
	}

	return nil
}

// getPath forms the path to the specified block.
func (d *Disk) getPath(height uint64) string {
	name := strconv.FormatUint(height, 10)
	return path.Join(d.dbPath, fmt.Sprintf("%s.json", name))
}

// =============================================================================

// DiskIterator represents the iteration implementation for walking through
// and reading blocks on disk. This implements the database.Iterator
// interface.
type DiskIterator struct {
	disk    *Disk  // Access to the Disk storage API.
	current uint64 // Current block height being iterated over.
	eoc     bool   // Represents the iterator is at the end of the chain.
}

// Next retrieves the next block from disk.
func (di *DiskIterator) Next() (database.BlockData, error) {
	if di.eoc {
		return database.BlockData{}, errors.New("end of chain")
	}

	di.current++
	blockData, err := di.disk.GetBlock(di.current)
	if errors.Is(err, fs.ErrNotExist) {
		di.eoc = true
		return database.BlockData{}, nil
	}

	return blockData, err
}

// Done returns the end of chain value.
func (di *DiskIterator) Done() bool {
	return di.eoc
}
