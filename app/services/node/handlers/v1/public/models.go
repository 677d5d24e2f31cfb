package public

import (
	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// balance is the response form for a single address balance.
type balance struct {
	Address database.AccountID `json:"address"`
	Balance database.Unit      `json:"balance"`
}
