package selector

import (
	"sort"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// feeSelect returns the transactions paying the highest fee. Ties fall back
// to the older transaction and finally the id, so a given pool always
// produces the same block candidate.
var feeSelect = func(txs []database.Tx, howMany int) []database.Tx {
	sorted := make([]database.Tx, len(txs))
	copy(sorted, txs)

	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i].Fee != sorted[j].Fee {
			return sorted[i].Fee > sorted[j].Fee
		}
		if sorted[i].TimeStamp != sorted[j].TimeStamp {
			return sorted[i].TimeStamp < sorted[j].TimeStamp
		}
		return sorted[i].ID < sorted[j].ID
	})

	if howMany >= 0 && len(sorted) > howMany {
		sorted = sorted[:howMany]
	}

	return sorted
}
