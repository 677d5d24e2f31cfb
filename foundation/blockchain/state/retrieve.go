package state

import (
	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/genesis"
	"github.com/orecoin/orecoin/foundation/blockchain/peer"
)

// RetrieveHost returns a copy of the host information.
func (s *State) RetrieveHost() string {
	return s.host
}

// RetrieveBeneficiaryAddress returns the address receiving mining rewards.
func (s *State) RetrieveBeneficiaryAddress() database.AccountID {
	return s.beneficiaryAddress
}

// RetrieveGenesis returns a copy of the genesis information.
func (s *State) RetrieveGenesis() genesis.Genesis {
	return s.genesis
}

// RetrieveLatestBlock returns a copy of the current latest block.
func (s *State) RetrieveLatestBlock() database.Block {
	return s.db.LatestBlock()
}

// RetrieveMempool returns a copy of the mempool.
func (s *State) RetrieveMempool() []database.Tx {
	return s.mempool.PickBest(-1)
}

// RetrieveKnownPeers retrieves a copy of the known peer list.
func (s *State) RetrieveKnownPeers() []peer.Peer {
	if s.knownPeers == nil {
		return nil
	}

	return s.knownPeers.Copy(s.host)
}

// AddKnownPeer provides the ability to add a new peer to
// the known peer list.
func (s *State) AddKnownPeer(p peer.Peer) bool {
	if s.knownPeers == nil {
		return false
	}

	return s.knownPeers.Add(p)
}

// RemoveKnownPeer provides the ability to remove a peer from
// the known peer list.
func (s *State) RemoveKnownPeer(p peer.Peer) {
	if s.knownPeers == nil {
		return
	}

	s.knownPeers.Remove(p)
}

// MempoolCount returns the current number of pending transactions.
func (s *State) MempoolCount() int {
	return s.mempool.Count()
}

// ExportChainState captures the whole ledger for transfer or backup.
func (s *State) ExportChainState() database.ChainState {
	return s.db.ExportState()
}
