package state

import (
	"fmt"

	"github.com/orecoin/orecoin/foundation/blockchain/database"
)

// UpsertWalletTransaction accepts a transaction from the wallet surface,
// validates it against the confirmed UTXO set and the pending pool, admits
// it and signals the worker to share and mine.
func (s *State) UpsertWalletTransaction(tx database.Tx) error {
	s.evHandler("state: UpsertWalletTransaction: started: tx[%s]", tx)
	defer s.evHandler("state: UpsertWalletTransaction: completed")

	if err := s.admitTransaction(tx); err != nil {
		return err
	}

	if s.Worker != nil {
		s.Worker.SignalShareTx(tx)
		s.Worker.SignalStartMining()
	}

	return nil
}

// UpsertPeerTransaction accepts a transaction relayed by a peer. The same
// validation applies but the transaction is not shared again; the sender
// already broadcast it.
func (s *State) UpsertPeerTransaction(tx database.Tx) error {
	s.evHandler("state: UpsertPeerTransaction: started: tx[%s]", tx)
	defer s.evHandler("state: UpsertPeerTransaction: completed")

	if err := s.admitTransaction(tx); err != nil {
		return err
	}

	if s.Worker != nil {
		s.Worker.SignalStartMining()
	}

	return nil
}

// admitTransaction runs full admission checks and places the transaction in
// the mempool. It shares the serialization point with block acceptance so a
// block can't spend the same outpoints between validation and reservation.
func (s *State) admitTransaction(tx database.Tx) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	// The id must commit to the content actually received.
	check := tx
	check.ComputeID()
	if check.ID != tx.ID {
		return fmt.Errorf("id does not match content: %w", ErrInvalidTransaction)
	}

	// No transaction may consume the same output twice.
	seen := make(map[database.Outpoint]struct{}, len(tx.Inputs))
	for _, in := range tx.Inputs {
		if _, dup := seen[in.Outpoint()]; dup {
			return fmt.Errorf("outpoint %s: %w", in.Outpoint(), ErrDoubleSpendInTx)
		}
		seen[in.Outpoint()] = struct{}{}
	}

	// A coinbase only ever arrives inside a block.
	if tx.IsCoinbase() {
		return fmt.Errorf("coinbase submitted outside a block: %w", ErrInvalidTransaction)
	}

	// Validate against the confirmed UTXO set with full proof checking.
	if err := tx.Validate(s.db, false); err != nil {
		return fmt.Errorf("%w: %w", ErrInvalidTransaction, err)
	}

	// The declared fee must match the resolved amounts.
	var inputTotal database.Unit
	for _, in := range tx.Inputs {
		utxo, _ := s.db.Get(in.Outpoint())
		inputTotal += utxo.Amount
	}
	if tx.Fee != inputTotal-tx.OutputTotal() {
		return fmt.Errorf("declared fee %d, actual %d: %w", tx.Fee, inputTotal-tx.OutputTotal(), ErrInvalidTransaction)
	}

	// Admission reserves the outpoints so a conflicting pending spend is
	// rejected here.
	n, err := s.mempool.Add(tx)
	if err != nil {
		return err
	}

	s.evHandler("state: admitTransaction: admitted: tx[%s]: mempool[%d]", tx, n)

	return nil
}
