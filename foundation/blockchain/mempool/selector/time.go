package selector

import (
	"sort"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// timeSelect returns the oldest transactions first regardless of fee.
var timeSelect = func(txs []database.Tx, howMany int) []database.Tx {
	sorted := make([]database.Tx, len(txs))
	copy(sorted, txs)

	sort.Slice(sorted, func(i, j int) bool {
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
