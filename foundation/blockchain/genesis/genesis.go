// Package genesis maintains access to the genesis file.
package genesis

import (
	"encoding/json"
	"os"
	"time"
)

// Genesis represents the genesis file.
type Genesis struct {
	Date             time.Time         `json:"date"`
	ChainID          uint16            `json:"chain_id"`          // Unique id for this running instance.
	ChainName        string            `json:"chain_name"`        // Human readable name for the chain.
	Difficulty       uint16            `json:"difficulty"`        // Starting number of leading zero nibbles for the work problem.
	MaxDifficulty    uint16            `json:"max_difficulty"`    // Upper clamp for the retarget algorithm.
	TargetBlockTime  uint64            `json:"target_block_time"` // Seconds a block should take to mine.
	RetargetInterval uint64            `json:"retarget_interval"` // Blocks between difficulty adjustments.
	BaseReward       uint64            `json:"base_reward"`       // Reward for mining a block before halving.
	HalvingInterval  uint64            `json:"halving_interval"`  // Blocks between reward halvings.
	TransPerBlock    uint16            `json:"trans_per_block"`   // Maximum number of transactions in a block.
	MaxBlockSize     uint64            `json:"max_block_size"`    // Maximum serialized size of a block in bytes.
	Balances         map[string]uint64 `json:"balances"`          // Pre-funded addresses in minimal units.
}

// =============================================================================

// Load opens and consumes the genesis file.
func Load(path string) (Genesis, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return Genesis{}, err
	}

	var genesis Genesis
	err = json.Unmarshal(content, &genesis)
	if err != nil {
		return Genesis{}, err
	}

	return genesis, nil
}

// BlockReward returns the base reward for a block at the specified height,
// applying the halving schedule.
func (g Genesis) BlockReward(height uint64) uint64 {
	if g.HalvingInterval == 0 {
		return g.BaseReward
	}

	halvings := height / g.HalvingInterval
	if halvings > 63 {
		return 0
	}

	return g.BaseReward >> halvings
}
