// Package p2p implements the gossip protocol between nodes: newline
// delimited JSON messages over plain TCP connections.
package p2p

import (
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// Message types carried on the wire.
const (
	TypeNewBlock       = "NEW_BLOCK"
	TypeNewTransaction = "NEW_TRANSACTION"
)

// Message is the envelope for every line exchanged between peers.
type Message struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// =============================================================================

// blockHeaderWire is the network form of a block header. The timestamp
// travels as RFC3339 and the height as a decimal string so readers in any
// language parse them without integer precision surprises.
type blockHeaderWire struct {
	PrevBlockHash string `json:"prev_block_hash"`
	MerkleRoot    string `json:"merkle_root"`
	TimeStamp     string `json:"timestamp"`
	Difficulty    uint16 `json:"difficulty"`
	Nonce         uint64 `json:"nonce"`
	Height        string `json:"height"`
}

// blockWire is the network form of a full block.
type blockWire struct {
	Hash   string          `json:"hash"`
	Header blockHeaderWire `json:"block"`
	Trans  []database.Tx   `json:"trans"`
}

// NewBlockMessage builds the wire message announcing a block.
func NewBlockMessage(blockData database.BlockData) (Message, error) {
	bw := blockWire{
		Hash: blockData.Hash,
		Header: blockHeaderWire{
			PrevBlockHash: blockData.Header.PrevBlockHash,
			MerkleRoot:    blockData.Header.MerkleRoot,
			TimeStamp:     time.Unix(int64(blockData.Header.TimeStamp), 0).UTC().Format(time.RFC3339),
			Difficulty:    blockData.Header.Difficulty,
			Nonce:         blockData.Header.Nonce,
			Height:        strconv.FormatUint(blockData.Header.Height, 10),
		},
		Trans: blockData.Trans,
	}

	payload, err := json.Marshal(bw)
	if err != nil {
		return Message{}, err
	}

	return Message{Type: TypeNewBlock, Payload: payload}, nil
}

// ToBlockData converts a NEW_BLOCK payload back to the database form.
func ToBlockData(payload json.RawMessage) (database.BlockData, error) {
	var bw blockWire
	if err := json.Unmarshal(payload, &bw); err != nil {
		return database.BlockData{}, fmt.Errorf("decode block payload: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, bw.Header.TimeStamp)
	if err != nil {
		return database.BlockData{}, fmt.Errorf("block timestamp %q: %w", bw.Header.TimeStamp, err)
	}

	height, err := strconv.ParseUint(bw.Header.Height, 10, 64)
	if err != nil {
		return database.BlockData{}, fmt.Errorf("block height %q: %w", bw.Header.Height, err)
	}

	return database.BlockData{
		Hash: bw.Hash,
		Header: database.BlockHeader{
			PrevBlockHash: bw.Header.PrevBlockHash,
			MerkleRoot:    bw.Header.MerkleRoot,
			TimeStamp:     uint64(ts.Unix()),
			Difficulty:    bw.Header.Difficulty,
			Nonce:         bw.Header.Nonce,
			Height:        height,
		},
		Trans: bw.Trans,
	}, nil
}

// =============================================================================

// NewTransactionMessage builds the wire message announcing a transaction.
func NewTransactionMessage(tx database.Tx) (Message, error) {
	payload, err := json.Marshal(tx)
	if err != nil {
		return Message{}, err
	}

	return Message{Type: TypeNewTransaction, Payload: payload}, nil
}

// ToTx converts a NEW_TRANSACTION payload back to the database form.
func ToTx(payload json.RawMessage) (database.Tx, error) {
	var tx database.Tx
	if err := json.Unmarshal(payload, &tx); err != nil {
		return database.Tx{}, fmt.Errorf("decode transaction payload: %w", err)
	}

	return tx, nil
}
