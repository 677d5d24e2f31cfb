package database

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/orecoin/orecoin/foundation/blockchain/genesis"
	"github.com/orecoin/orecoin/foundation/blockchain/merkle"
	"github.com/orecoin/orecoin/foundation/blockchain/signature"
)

// allowedClockSkew bounds how far ahead of local time a block timestamp may
// sit before the block is rejected.
const allowedClockSkew = 2 * time.Hour

// progressCadence is the number of hash attempts between progress callback
// invocations while mining.
const progressCadence = 50_000

// =============================================================================

// BlockHeader represents common information required for each block.
type BlockHeader struct {
	PrevBlockHash string `json:"prev_block_hash"` // Hash of the previous block in the chain.
	MerkleRoot    string `json:"merkle_root"`     // Merkle tree root hash for the transactions in this block.
	TimeStamp     uint64 `json:"timestamp"`       // Time the block was mined.
	Difficulty    uint16 `json:"difficulty"`      // Number of leading zero nibbles needed to solve the hash puzzle.
	Nonce         uint64 `json:"nonce"`           // Value identified to solve the hash puzzle.
	Height        uint64 `json:"height"`          // Block height in the chain.
}

// Block represents a group of transactions batched together.
type Block struct {
	Header BlockHeader
	Trans  *merkle.Tree[Tx]
}

// =============================================================================

// POWArgs represents the set of arguments required to run POW.
type POWArgs struct {
	Difficulty uint16
	PrevBlock  Block
	Trans      []Tx
	EvHandler  func(v string, args ...any)
	ProgressFn func(attempts uint64)
}

// POW constructs a new Block and performs the work to find a nonce that
// solves the cryptographic POW puzzle.
func POW(ctx context.Context, args POWArgs) (Block, error) {
	prevBlockHash := signature.ZeroHash
	if args.PrevBlock.Trans != nil {
		prevBlockHash = args.PrevBlock.Hash()
	}

	tree, err := merkle.NewTree(args.Trans)
	if err != nil {
		return Block{}, err
	}

	nb := Block{
		Header: BlockHeader{
			PrevBlockHash: prevBlockHash,
			MerkleRoot:    tree.RootHex(),
			TimeStamp:     uint64(time.Now().UTC().Unix()),
			Difficulty:    args.Difficulty,
			Nonce:         0, // Will be identified by the POW algorithm.
			Height:        args.PrevBlock.Header.Height + 1,
		},
		Trans: tree,
	}

	// Block timestamps are strictly increasing. A fast miner on a coarse
	// clock can land on the parent's second.
	if nb.Header.TimeStamp <= args.PrevBlock.Header.TimeStamp {
		nb.Header.TimeStamp = args.PrevBlock.Header.TimeStamp + 1
	}

	if err := nb.performPOW(ctx, args.EvHandler, args.ProgressFn); err != nil {
		return Block{}, err
	}

	return nb, nil
}

// performPOW does the work of mining to find a valid hash for a specified
// block. Pointer semantics are being used since a nonce is being discovered.
func (b *Block) performPOW(ctx context.Context, ev func(v string, args ...any), progressFn func(attempts uint64)) error {
	if ev == nil {
		ev = func(v string, args ...any) {}
	}

	ev("database: performPOW: MINING: started: blk[%d]", b.Header.Height)
	defer ev("database: performPOW: MINING: completed: blk[%d]", b.Header.Height)

	// The nonce search starts at zero so mining is deterministic given the
	// header fields and difficulty.
	var attempts uint64
	for {
		attempts++
		if attempts%progressCadence == 0 {
			if progressFn != nil {
				progressFn(attempts)
			}
			ev("database: performPOW: MINING: attempts[%d]", attempts)
		}

		if ctx.Err() != nil {
			ev("database: performPOW: MINING: CANCELLED")
			return ctx.Err()
		}

		hash := b.Hash()
		if !isHashSolved(b.Header.Difficulty, hash) {
			b.Header.Nonce++
			continue
		}

		ev("database: performPOW: MINING: SOLVED: prevBlk[%s]: newBlk[%s]", b.Header.PrevBlockHash, hash)
		if progressFn != nil {
			progressFn(attempts)
		}

		return nil
	}
}

// Hash returns the unique hash for the Block by hashing only the header.
// The chain can be cryptographically checked with headers alone.
func (b Block) Hash() string {
	return signature.Hash(b.Header)
}

// IsSolved reports whether the block hash satisfies its own declared
// difficulty. Side chain blocks get this check before the full contextual
// validation can run.
func (b Block) IsSolved() bool {
	return isHashSolved(b.Header.Difficulty, b.Hash())
}

// Work returns the amount of proof-of-work the block represents. Each extra
// zero nibble multiplies the expected search space by 16.
func (b Block) Work() *big.Int {
	return new(big.Int).Exp(big.NewInt(16), big.NewInt(int64(b.Header.Difficulty)), nil)
}

// =============================================================================

// ValidateBlock takes a block and validates it to be included into the
// blockchain. When a UTXO snapshot is supplied the transactions are checked
// against it with unlock proofs skipped; signatures were already verified
// at mempool admission.
func (b Block) ValidateBlock(previousBlock Block, gen genesis.Genesis, utxos UTXOResolver, evHandler func(v string, args ...any)) error {
	ev := func(v string, args ...any) {
		if evHandler != nil {
			evHandler(v, args...)
		}
	}

	nextHeight := previousBlock.Header.Height + 1

	ev("database: ValidateBlock: blk[%d]: check: block height is the next height", b.Header.Height)

	if b.Header.Height != nextHeight {
		return fmt.Errorf("this block is not the next height, got %d, exp %d", b.Header.Height, nextHeight)
	}

	ev("database: ValidateBlock: blk[%d]: check: parent hash matches parent block", b.Header.Height)

	if b.Header.PrevBlockHash != previousBlock.Hash() {
		return fmt.Errorf("parent block hash doesn't match our known parent, got %s, exp %s", b.Header.PrevBlockHash, previousBlock.Hash())
	}

	ev("database: ValidateBlock: blk[%d]: check: timestamp ordering", b.Header.Height)

	parentTime := time.Unix(int64(previousBlock.Header.TimeStamp), 0)
	blockTime := time.Unix(int64(b.Header.TimeStamp), 0)
	if !blockTime.After(parentTime) {
		return fmt.Errorf("block timestamp is not after parent block, parent %s, block %s", parentTime, blockTime)
	}

	if blockTime.After(time.Now().UTC().Add(allowedClockSkew)) {
		return fmt.Errorf("block timestamp %s is too far in the future", blockTime)
	}

	ev("database: ValidateBlock: blk[%d]: check: block hash has been solved", b.Header.Height)

	hash := b.Hash()
	if !isHashSolved(b.Header.Difficulty, hash) {
		return fmt.Errorf("%s invalid block hash", hash)
	}

	ev("database: ValidateBlock: blk[%d]: check: merkle root matches transactions", b.Header.Height)

	if b.Header.MerkleRoot != b.Trans.RootHex() {
		return fmt.Errorf("merkle root does not match transactions, got %s, exp %s", b.Trans.RootHex(), b.Header.MerkleRoot)
	}

	ev("database: ValidateBlock: blk[%d]: check: block caps", b.Header.Height)

	trans := b.Trans.Values()
	if gen.TransPerBlock > 0 && len(trans) > int(gen.TransPerBlock)+1 {
		return fmt.Errorf("too many transactions, got %d, cap %d", len(trans), gen.TransPerBlock)
	}

	if gen.MaxBlockSize > 0 {
		data, err := json.Marshal(NewBlockData(b))
		if err != nil {
			return err
		}
		if uint64(len(data)) > gen.MaxBlockSize {
			return fmt.Errorf("block size %d over cap %d", len(data), gen.MaxBlockSize)
		}
	}

	if utxos == nil {
		return nil
	}

	ev("database: ValidateBlock: blk[%d]: check: coinbase discipline", b.Header.Height)

	if len(trans) == 0 || !trans[0].IsCoinbase() {
		return fmt.Errorf("first transaction is not coinbase")
	}

	var fees Unit
	for i, tx := range trans[1:] {
		if tx.IsCoinbase() {
			return fmt.Errorf("transaction %d is an extra coinbase", i+1)
		}
		fees += tx.Fee
	}

	expReward := Unit(gen.BlockReward(b.Header.Height)) + fees
	if got := trans[0].OutputTotal(); got != expReward {
		return fmt.Errorf("coinbase pays %d, exp %d", got, expReward)
	}

	ev("database: ValidateBlock: blk[%d]: check: transactions against utxo snapshot", b.Header.Height)

	for i, tx := range trans[1:] {
		if err := tx.Validate(utxos, true); err != nil {
			return fmt.Errorf("transaction %d: %w", i+1, err)
		}
	}

	return nil
}

// MaxSolvableDifficulty is the widest zero-nibble prefix a proof of work
// check can express. Difficulty never exceeds this regardless of genesis.
const MaxSolvableDifficulty = 32

// isHashSolved checks the hash to make sure it complies with the POW rules.
// We need to match a difficulty number of leading zero nibbles.
func isHashSolved(difficulty uint16, hash string) bool {
	const match = "0x00000000000000000000000000000000"

	if len(hash) != 66 {
		return false
	}

	// A peer header can claim any difficulty. Nothing satisfies a prefix
	// wider than the check can express.
	if difficulty > MaxSolvableDifficulty {
		return false
	}

	return hash[2:2+difficulty] == match[2:2+difficulty]
}

// =============================================================================

// BlockData represents what can be serialized to disk and over the network.
type BlockData struct {
	Hash   string      `json:"hash"`
	Header BlockHeader `json:"block"`
	Trans  []Tx        `json:"trans"`
}

// NewBlockData constructs the serializable form of a block.
func NewBlockData(block Block) BlockData {
	return BlockData{
		Hash:   block.Hash(),
		Header: block.Header,
		Trans:  block.Trans.Values(),
	}
}

// ToBlock converts a serialized block into a usable block.
func ToBlock(blockData BlockData) (Block, error) {
	tree, err := merkle.NewTree(blockData.Trans)
	if err != nil {
		return Block{}, err
	}

	nb := Block{
		Header: blockData.Header,
		Trans:  tree,
	}

	if nb.Hash() != blockData.Hash {
		return Block{}, fmt.Errorf("stored hash %s does not match recomputed %s", blockData.Hash, nb.Hash())
	}

	return nb, nil
}
