package state

import (
	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// Retarget returns the difficulty for the next window given the current
// difficulty and how long the previous window actually took against its
// expected duration. The adjustment is coarse on purpose: blocks arriving
// far too fast add nibbles, far too slow removes them, anything within a
// factor of two stands.
func Retarget(current uint16, actualSecs uint64, expectedSecs uint64, maxDifficulty uint16) uint16 {
	if expectedSecs == 0 {
		return clampDifficulty(current, maxDifficulty)
	}

	// An empty window means every block landed on the same second.
	if actualSecs == 0 {
		actualSecs = 1
	}

	next := int(current)
	switch {
	case actualSecs*4 < expectedSecs:
		next += 2
	case actualSecs*2 < expectedSecs:
		next++
	case actualSecs > expectedSecs*4:
		next -= 2
	case actualSecs > expectedSecs*2:
		next--
	}

	if next < 1 {
		next = 1
	}

	return clampDifficulty(uint16(next), maxDifficulty)
}

func clampDifficulty(d uint16, maxDifficulty uint16) uint16 {
	if maxDifficulty == 0 || maxDifficulty > database.MaxSolvableDifficulty {
		maxDifficulty = database.MaxSolvableDifficulty
	}

	if d < 1 {
		return 1
	}
	if d > maxDifficulty {
		return maxDifficulty
	}

	return d
}

// nextDifficulty computes the difficulty required for the block after the
// specified tip. Outside a retarget boundary the tip's difficulty carries
// forward unchanged.
func (s *State) nextDifficulty(tip database.Block) uint16 {
	interval := s.genesis.RetargetInterval
	nextHeight := tip.Header.Height + 1

	if interval == 0 || nextHeight%interval != 0 {
		return clampDifficulty(tip.Header.Difficulty, s.genesis.MaxDifficulty)
	}

	windowStart, err := s.db.GetBlock(nextHeight - interval)
	if err != nil {
		return clampDifficulty(tip.Header.Difficulty, s.genesis.MaxDifficulty)
	}

	actual := tip.Header.TimeStamp - windowStart.Header.TimeStamp
	expected := interval * s.genesis.TargetBlockTime

	next := Retarget(tip.Header.Difficulty, actual, expected, s.genesis.MaxDifficulty)
	if next != tip.Header.Difficulty {
		s.evHandler("state: nextDifficulty: retarget at blk[%d]: %d -> %d", nextHeight, tip.Header.Difficulty, next)
	}

	return next
}
