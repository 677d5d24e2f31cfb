// Package selector provides different transaction ordering strategies for
// picking mempool transactions into a block.
package selector

import (
	"fmt"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// List of the different selectors.
const (
	StrategyFee  = "fee"
	StrategyTime = "time"
)

// Map of strategies with functions.
var strategies = map[string]Func{
	StrategyFee:  feeSelect,
	StrategyTime: timeSelect,
}

// Func defines a function that takes the candidate transactions and returns
// the ones that should go into the next block.
type Func func(txs []database.Tx, howMany int) []database.Tx

// Retrieve returns the specified select strategy function.
func Retrieve(strategy string) (Func, error) {
	fn, exists := strategies[strategy]
	if !exists {
		return nil, fmt.Errorf("strategy %q does not exist", strategy)
	}

	return fn, nil
}
