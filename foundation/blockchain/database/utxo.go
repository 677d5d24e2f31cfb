package database

import (
	"fmt"
	"sort"
)

// UTXO represents a single unspent (or historically spent) transaction
// output. Once spent it never transitions back, except through an explicit
// revert while a tentative chain extension is being undone.
type UTXO struct {
	TxID             string    `json:"tx_id"`
	OutputIndex      uint32    `json:"output_index"`
	Address          AccountID `json:"address"`
	Amount           Unit      `json:"amount"`
	ConfirmingHeight uint64    `json:"confirming_height"`
	LockCondition    string    `json:"lock_condition"`
	Spent            bool      `json:"spent"`
	SpendingTxID     string    `json:"spending_tx_id,omitempty"`
	SpendingHeight   uint64    `json:"spending_height,omitempty"`
}

// Outpoint returns the outpoint identifying this output.
func (u UTXO) Outpoint() Outpoint {
	return Outpoint{TxID: u.TxID, Index: u.OutputIndex}
}

// =============================================================================

// UTXOResolver represents the behavior required to resolve an outpoint to
// its output record.
type UTXOResolver interface {
	Get(op Outpoint) (UTXO, bool)
}

// =============================================================================

// Selection is the result of picking outputs to cover a payment.
type Selection struct {
	UTXOs         []UTXO `json:"utxos"`
	TotalSelected Unit   `json:"total_selected"`
	Fee           Unit   `json:"fee"`
	Change        Unit   `json:"change"`
}

// =============================================================================

// UTXOSet is the authoritative mapping from outpoint to unspent output for
// the chain tip. It is not safe for concurrent use; the owning Database
// provides the locking.
type UTXOSet struct {
	utxos       map[Outpoint]UTXO
	spent       map[Outpoint]UTXO
	byAddress   map[AccountID]map[Outpoint]struct{}
	totalSupply Unit
	lastHeight  uint64
}

// NewUTXOSet constructs an empty UTXO set.
func NewUTXOSet() *UTXOSet {
	return &UTXOSet{
		utxos:     make(map[Outpoint]UTXO),
		spent:     make(map[Outpoint]UTXO),
		byAddress: make(map[AccountID]map[Outpoint]struct{}),
	}
}

// Get resolves an outpoint to its live output record.
func (us *UTXOSet) Get(op Outpoint) (UTXO, bool) {
	if utxo, exists := us.utxos[op]; exists {
		return utxo, true
	}
	if utxo, exists := us.spent[op]; exists {
		return utxo, true
	}

	return UTXO{}, false
}

// ByAddress returns the unspent outputs owned by the specified address,
// sorted ascending by amount. The ordering biases coin selection toward
// consuming small outputs first.
func (us *UTXOSet) ByAddress(address AccountID) []UTXO {
	ops, exists := us.byAddress[address]
	if !exists {
		return nil
	}

	utxos := make([]UTXO, 0, len(ops))
	for op := range ops {
		utxos = append(utxos, us.utxos[op])
	}

	sort.Slice(utxos, func(i, j int) bool {
		if utxos[i].Amount != utxos[j].Amount {
			return utxos[i].Amount < utxos[j].Amount
		}
		return utxos[i].Outpoint().String() < utxos[j].Outpoint().String()
	})

	return utxos
}

// Balance returns the sum of unspent amounts owned by the address.
func (us *UTXOSet) Balance(address AccountID) Unit {
	var total Unit
	for _, utxo := range us.ByAddress(address) {
		total += utxo.Amount
	}

	return total
}

// SelectForPayment picks outputs to cover targetAmount plus a percentage
// fee using a first-fit-ascending selector. The result is deterministic
// given the same UTXO snapshot; it is not an optimal selection.
func (us *UTXOSet) SelectForPayment(address AccountID, targetAmount Unit, feeRatePercent Unit) (Selection, error) {
	fee := targetAmount * feeRatePercent / 100
	required := targetAmount + fee

	var sel Selection
	sel.Fee = fee

	for _, utxo := range us.ByAddress(address) {
		sel.UTXOs = append(sel.UTXOs, utxo)
		sel.TotalSelected += utxo.Amount

		if sel.TotalSelected >= required {
			sel.Change = sel.TotalSelected - required
			return sel, nil
		}
	}

	return Selection{}, fmt.Errorf("address %s, need %d, have %d: %w", address, required, sel.TotalSelected, ErrInsufficientFunds)
}

// =============================================================================

/// Apply records the effect of a transaction at the specified height: every
// referenced output is marked spent and every new output becomes unspent.
// The application is all or nothing; on error nothing was committed.
func (us *UTXOSet) Apply(tx Tx, height uint64) error {

	// Check every input first so a failure can't leave a partial spend.
	if !tx.IsCoinbase() {
		seen := make(map[Outpoint]struct{}, len(tx.Inputs))
		for _, in := range tx.Inputs {
			op := in.Outpoint()
			if _, dup := seen[op]; dup {
				return fmt.Errorf("tx %s: duplicate input %s: %w", tx, op, ErrUTXOApplication)
			}
			seen[op] = struct{}{}

			utxo, exists := us.utxos[op]
			if !exists || utxo.Spent {
				return fmt.Errorf("tx %s: input %s missing or spent: %w", tx, op, ErrUTXOApplication)
			}
		}
	}

	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			op := in.Outpoint()
			utxo := us.utxos[op]

			utxo.Spent = true
			utxo.SpendingTxID = tx.ID
			utxo.SpendingHeight = height

			delete(us.utxos, op)
			us.spent[op] = utxo
			us.removeAddressIndex(utxo.Address, op)
			us.totalSupply -= utxo.Amount
		}
	}

	for i, out := range tx.Outputs {
		utxo := UTXO{
			TxID:             tx.ID,
			OutputIndex:      uint32(i),
			Address:          out.Address,
			Amount:           out.Amount,
			ConfirmingHeight: height,
			LockCondition:    out.LockCondition,
		}

		us.utxos[utxo.Outpoint()] = utxo
		us.addAddressIndex(out.Address, utxo.Outpoint())
		us.totalSupply += out.Amount
	}

	us.lastHeight = height

	return nil
}

// Revert undoes the effect of a previously applied transaction: the outputs
// it created are deleted and the outputs it consumed become unspent again.
// Transactions must be reverted in the reverse of their application order.
func (us *UTXOSet) Revert(tx Tx, height uint64) error {

	// The created outputs must still be unspent or the revert order is wrong.
	for i := range tx.Outputs {
		op := Outpoint{TxID: tx.ID, Index: uint32(i)}
		if _, exists := us.utxos[op]; !exists {
			return fmt.Errorf("tx %s: output %s not live: %w", tx, op, ErrUTXOApplication)
		}
	}

	for i, out := range tx.Outputs {
		op := Outpoint{TxID: tx.ID, Index: uint32(i)}
		delete(us.utxos, op)
		us.removeAddressIndex(out.Address, op)
		us.totalSupply -= out.Amount
	}

	if !tx.IsCoinbase() {
		for _, in := range tx.Inputs {
			op := in.Outpoint()

			utxo, exists := us.spent[op]
			if !exists {
				return fmt.Errorf("tx %s: spent record %s missing: %w", tx, op, ErrUTXOApplication)
			}

			utxo.Spent = false
			utxo.SpendingTxID = ""
			utxo.SpendingHeight = 0

			delete(us.spent, op)
			us.utxos[op] = utxo
			us.addAddressIndex(utxo.Address, op)
			us.totalSupply += utxo.Amount
		}
	}

	if height > 0 {
		us.lastHeight = height - 1
	}

	return nil
}

// =============================================================================

// TotalSupply returns the tracked sum of all unspent amounts.
func (us *UTXOSet) TotalSupply() Unit {
	return us.totalSupply
}

// LastProcessedHeight returns the height of the last applied block.
func (us *UTXOSet) LastProcessedHeight() uint64 {
	return us.lastHeight
}

// Verify checks the global invariants of the set: the running supply equals
// the sum of unspent amounts and every output is reachable from exactly one
// address index entry.
func (us *UTXOSet) Verify() error {
	var sum Unit
	for op, utxo := range us.utxos {
		sum += utxo.Amount

		ops, exists := us.byAddress[utxo.Address]
		if !exists {
			return fmt.Errorf("utxo %s: address %s not indexed: %w", op, utxo.Address, ErrUTXOApplication)
		}
		if _, exists := ops[op]; !exists {
			return fmt.Errorf("utxo %s: missing from address index: %w", op, ErrUTXOApplication)
		}
	}

	if sum != us.totalSupply {
		return fmt.Errorf("supply mismatch: tracked %d, actual %d: %w", us.totalSupply, sum, ErrUTXOApplication)
	}

	var indexed int
	for _, ops := range us.byAddress {
		indexed += len(ops)
	}
	if indexed != len(us.utxos) {
		return fmt.Errorf("index mismatch: indexed %d, live %d: %w", indexed, len(us.utxos), ErrUTXOApplication)
	}

	return nil
}

// Clone makes a deep copy of the set for snapshot and restore semantics.
func (us *UTXOSet) Clone() *UTXOSet {
	clone := UTXOSet{
		utxos:       make(map[Outpoint]UTXO, len(us.utxos)),
		spent:       make(map[Outpoint]UTXO, len(us.spent)),
		byAddress:   make(map[AccountID]map[Outpoint]struct{}, len(us.byAddress)),
		totalSupply: us.totalSupply,
		lastHeight:  us.lastHeight,
	}

	for op, utxo := range us.utxos {
		clone.utxos[op] = utxo
	}
	for op, utxo := range us.spent {
		clone.spent[op] = utxo
	}
	for address, ops := range us.byAddress {
		cops := make(map[Outpoint]struct{}, len(ops))
		for op := range ops {
			cops[op] = struct{}{}
		}
		clone.byAddress[address] = cops
	}

	return &clone
}

// =============================================================================

// UTXOSetData is the serialized form of the set for snapshot and restore.
type UTXOSetData struct {
	UTXOs               []UTXO `json:"utxos"`
	SpentUTXOs          []UTXO `json:"spent_utxos"`
	TotalSupply         Unit   `json:"total_supply"`
	LastProcessedHeight uint64 `json:"last_processed_height"`
}

// Export captures the current state of the set.
func (us *UTXOSet) Export() UTXOSetData {
	data := UTXOSetData{
		UTXOs:               make([]UTXO, 0, len(us.utxos)),
		SpentUTXOs:          make([]UTXO, 0, len(us.spent)),
		TotalSupply:         us.totalSupply,
		LastProcessedHeight: us.lastHeight,
	}

	for _, utxo := range us.utxos {
		data.UTXOs = append(data.UTXOs, utxo)
	}
	for _, utxo := range us.spent {
		data.SpentUTXOs = append(data.SpentUTXOs, utxo)
	}

	sort.Slice(data.UTXOs, func(i, j int) bool {
		return data.UTXOs[i].Outpoint().String() < data.UTXOs[j].Outpoint().String()
	})
	sort.Slice(data.SpentUTXOs, func(i, j int) bool {
		return data.SpentUTXOs[i].Outpoint().String() < data.SpentUTXOs[j].Outpoint().String()
	})

	return data
}

// ImportUTXOSet reconstructs a set from its serialized form.
func ImportUTXOSet(data UTXOSetData) *UTXOSet {
	us := NewUTXOSet()

	for _, utxo := range data.UTXOs {
		us.utxos[utxo.Outpoint()] = utxo
		us.addAddressIndex(utxo.Address, utxo.Outpoint())
	}
	for _, utxo := range data.SpentUTXOs {
		us.spent[utxo.Outpoint()] = utxo
	}

	us.totalSupply = data.TotalSupply
	us.lastHeight = data.LastProcessedHeight

	return us
}

// =============================================================================

func (us *UTXOSet) addAddressIndex(address AccountID, op Outpoint) {
	ops, exists := us.byAddress[address]
	if !exists {
		ops = make(map[Outpoint]struct{})
		us.byAddress[address] = ops
	}
	ops[op] = struct{}{}
}

func (us *UTXOSet) removeAddressIndex(address AccountID, op Outpoint) {
	if ops, exists := us.byAddress[address]; exists {
		delete(ops, op)
		if len(ops) == 0 {
			delete(us.byAddress, address)
		}
	}
}
