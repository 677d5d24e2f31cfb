package genesis_test

import (
	"testing"

	"github.com/orecoin/orecoin/foundation/blockchain/genesis"
)

func Test_BlockReward(t *testing.T) {
	gen := genesis.Genesis{
		BaseReward:      700,
		HalvingInterval: 100,
	}

	type table struct {
		height uint64
		exp    uint64
	}

	tt := []table{
		{height: 0, exp: 700},
		{height: 99, exp: 700},
		{height: 100, exp: 350},
		{height: 250, exp: 175},
		{height: 100 * 64, exp: 0},
	}

	for _, tst := range tt {
		if got := gen.BlockReward(tst.height); got != tst.exp {
			t.Logf("got: %d", got)
			t.Logf("exp: %d", tst.exp)
			t.Fatalf("Should compute the reward at height %d.", tst.height)
		}
	}
}

func Test_BlockRewardNoHalving(t *testing.T) {
	gen := genesis.Genesis{BaseReward: 700}

	if got := gen.BlockReward(1_000_000); got != 700 {
		t.Fatalf("Should keep the base reward without a halving interval, got %d.", got)
	}
}
