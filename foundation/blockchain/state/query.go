package state

import (
	"sort"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/signature"
)

// Direction values for transaction history records.
const (
	DirSent     = "sent"
	DirReceived = "received"
	DirSelf     = "self"
)

// TxRecord is one entry of an address's transaction history.
type TxRecord struct {
	Tx          database.Tx `json:"tx"`
	BlockHeight uint64      `json:"block_height"`
	BlockHash   string      `json:"block_hash"`
	Direction   string      `json:"direction"`
	Pending     bool        `json:"pending"`
}

// ChainStatus is a point in time summary of the node.
type ChainStatus struct {
	Height          uint64        `json:"height"`
	LatestBlockHash string        `json:"latest_block_hash"`
	NextDifficulty  uint16        `json:"next_difficulty"`
	TotalSupply     database.Unit `json:"total_supply"`
	CumulativeWork  string        `json:"cumulative_work"`
	MempoolCount    int           `json:"mempool_count"`
	KnownPeers      int           `json:"known_peers"`
	MiningAllowed   bool          `json:"mining_allowed"`
}

// =============================================================================

// QueryBalance returns the confirmed spendable balance for the address.
func (s *State) QueryBalance(address database.AccountID) database.Unit {
	return s.db.Balance(address)
}

// QueryUTXOs returns the unspent outputs the address owns.
func (s *State) QueryUTXOs(address database.AccountID) []database.UTXO {
	return s.db.UTXOsByAddress(address)
}

// QuerySelectForPayment runs coin selection for the address against the
// confirmed UTXO set.
func (s *State) QuerySelectForPayment(address database.AccountID, amount database.Unit, feeRatePercent database.Unit) (database.Selection, error) {
	return s.db.SelectForPayment(address, amount, feeRatePercent)
}

// QueryBlocksByHeight returns blocks in the half open range [from, from+limit).
func (s *State) QueryBlocksByHeight(from uint64, limit uint64) []database.Block {
	return s.db.BlocksByHeight(from, limit)
}

// QueryStatus returns a summary of the node for the status endpoints.
func (s *State) QueryStatus() ChainStatus {
	tip := s.db.LatestBlock()

	var peers int
	if s.knownPeers != nil {
		peers = s.knownPeers.Count()
	}

	return ChainStatus{
		Height:          tip.Header.Height,
		LatestBlockHash: tip.Hash(),
		NextDifficulty:  s.nextDifficulty(tip),
		TotalSupply:     s.db.TotalSupply(),
		CumulativeWork:  s.db.CumulativeWork().String(),
		MempoolCount:    s.mempool.Count(),
		KnownPeers:      peers,
		MiningAllowed:   s.IsMiningAllowed(),
	}
}

// =============================================================================

// QueryTransactionHistory returns every transaction touching the address,
// newest first, pending transactions ahead of confirmed ones.
func (s *State) QueryTransactionHistory(address database.AccountID) []TxRecord {
	var records []TxRecord

	for _, tx := range s.mempool.Copy() {
		if dir, touches := txDirection(tx, address); touches {
			records = append(records, TxRecord{
				Tx:        tx,
				Direction: dir,
				Pending:   true,
			})
		}
	}

	sort.Slice(records, func(i, j int) bool {
		return records[i].Tx.TimeStamp > records[j].Tx.TimeStamp
	})

	blocks := s.db.BlocksByHeight(0, 0)
	for i := len(blocks) - 1; i >= 0; i-- {
		block := blocks[i]
		for _, tx := range block.Trans.Values() {
			if dir, touches := txDirection(tx, address); touches {
				records = append(records, TxRecord{
					Tx:          tx,
					BlockHeight: block.Header.Height,
					BlockHash:   block.Hash(),
					Direction:   dir,
				})
			}
		}
	}

	return records
}

// txDirection classifies a transaction relative to an address: sent if the
// address signs any input, received if any output pays it, self for both.
func txDirection(tx database.Tx, address database.AccountID) (string, bool) {
	var sends, receives bool

	for _, in := range tx.Inputs {
		if in.IsCoinbase() {
			continue
		}
		pub, err := signature.ToPublicKey(in.UnlockPubKey)
		if err != nil {
			continue
		}
		if signature.Address(pub) == string(address) {
			sends = true
			break
		}
	}

	for _, out := range tx.Outputs {
		if out.Address == address {
			receives = true
			break
		}
	}

	switch {
	case sends && receives:
		return DirSelf, true
	case sends:
		return DirSent, true
	case receives:
		return DirReceived, true
	}

	return "", false
}
