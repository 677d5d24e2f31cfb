package state_test

import (
	"testing"

	"github.com/orecoin/orecoin/foundation/blockchain/state"
)

func Test_Retarget(t *testing.T) {
	type table struct {
		name     string
		current  uint16
		actual   uint64
		expected uint64
		max      uint16
		exp      uint16
	}

	tt := []table{
		{name: "far too fast", current: 5, actual: 100, expected: 500, max: 16, exp: 7},
		{name: "too fast", current: 5, actual: 200, expected: 500, max: 16, exp: 6},
		{name: "on pace", current: 5, actual: 400, expected: 500, max: 16, exp: 5},
		{name: "slightly slow", current: 5, actual: 900, expected: 500, max: 16, exp: 5},
		{name: "too slow", current: 5, actual: 1100, expected: 500, max: 16, exp: 4},
		{name: "far too slow", current: 5, actual: 2100, expected: 500, max: 16, exp: 3},
		{name: "floor clamp", current: 1, actual: 2100, expected: 500, max: 16, exp: 1},
		{name: "ceiling clamp", current: 15, actual: 100, expected: 500, max: 16, exp: 16},
		{name: "zero window", current: 5, actual: 0, expected: 500, max: 16, exp: 7},
		{name: "no expectation", current: 5, actual: 100, expected: 0, max: 16, exp: 5},
		{name: "unbounded genesis", current: 31, actual: 100, expected: 500, max: 0, exp: 32},
		{name: "cap beyond hash width", current: 31, actual: 100, expected: 500, max: 64, exp: 32},
	}

	t.Log("Given the need to retarget the difficulty after each window.")
	{
		for testID, tst := range tt {
			t.Logf("\tTest %d:\tWhen the window ran %ds against %ds expected.", testID, tst.actual, tst.expected)
			{
				f := func(t *testing.T) {
					got := state.Retarget(tst.current, tst.actual, tst.expected, tst.max)
					if got != tst.exp {
						t.Logf("\t%s\tTest %d:\tgot: %d", failed, testID, got)
						t.Logf("\t%s\tTest %d:\texp: %d", failed, testID, tst.exp)
						t.Fatalf("\t%s\tTest %d:\tShould compute the right difficulty.", failed, testID)
					}
					t.Logf("\t%s\tTest %d:\tShould compute the right difficulty.", success, testID)
				}

				t.Run(tst.name, f)
			}
		}
	}
}
