package database

import (
	"crypto/ecdsa"
	"fmt"
	"math"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/orecoin/orecoin/foundation/blockchain/signature"
)

// TxVersion identifies the current transaction serialization rules.
const TxVersion uint16 = 1

// CoinbaseOutputIndex is the reserved output index used by the single input
// of a coinbase transaction.
const CoinbaseOutputIndex uint32 = math.MaxUint32

// =============================================================================

// Outpoint identifies a specific output of a specific transaction.
type Outpoint struct {
	TxID  string `json:"tx_id"`
	Index uint32 `json:"output_index"`
}

// String implements the fmt.Stringer interface for logging.
func (op Outpoint) String() string {
	return fmt.Sprintf("%s:%d", op.TxID, op.Index)
}

// =============================================================================

// TxInput consumes a previous output. The unlock proof is a signature over
// the canonical spend message and the unlock key is the serialized public
// key the owning address derives from. A coinbase input references the zero
// hash with the reserved index and carries arbitrary data in UnlockSig.
type TxInput struct {
	TxID         string        `json:"tx_id"`
	OutputIndex  uint32        `json:"output_index"`
	UnlockSig    hexutil.Bytes `json:"unlock_sig"`
	UnlockPubKey hexutil.Bytes `json:"unlock_pub_key"`
}

// Outpoint returns the outpoint this input consumes.
func (in TxInput) Outpoint() Outpoint {
	return Outpoint{TxID: in.TxID, Index: in.OutputIndex}
}

// IsCoinbase reports whether this input is the reserved reward input.
func (in TxInput) IsCoinbase() bool {
	return in.TxID == signature.ZeroHash && in.OutputIndex == CoinbaseOutputIndex
}

// TxOutput assigns an amount to an address. The lock condition is the
// address itself: the model uses an address equality lock, not an arbitrary
// script language.
type TxOutput struct {
	Address       AccountID `json:"address"`
	Amount        Unit      `json:"amount"`
	LockCondition string    `json:"lock_condition"`
}

// =============================================================================

// SpendMessage is the canonical value an input signature covers. Binding the
// owner address and amount into the message keeps a signature from being
// replayed against a different output.
type SpendMessage struct {
	TxID         string    `json:"tx_id"`
	InputIndex   int       `json:"input_index"`
	OwnerAddress AccountID `json:"owner_address"`
	Amount       Unit      `json:"amount"`
}

// =============================================================================

// Tx is a transfer of value between addresses, consuming unspent outputs
// and producing new ones.
type Tx struct {
	ID        string     `json:"id"`
	Version   uint16     `json:"version"`
	Inputs    []TxInput  `json:"inputs"`
	Outputs   []TxOutput `json:"outputs"`
	LockTime  uint64     `json:"lock_time"`
	Fee       Unit       `json:"fee"`
	TimeStamp uint64     `json:"timestamp"`
}

// NewTx constructs an unsigned transaction. The id and fee are set once the
// inputs carry their proofs, see SignInputs.
func NewTx(inputs []TxInput, outputs []TxOutput) Tx {
	tx := Tx{
		Version:   TxVersion,
		Inputs:    inputs,
		Outputs:   outputs,
		TimeStamp: uint64(time.Now().UTC().Unix()),
	}
	tx.ComputeID()

	return tx
}

// NewCoinbaseTx constructs the reward transaction for a block at the
// specified height paying the beneficiary the block reward plus fees.
func NewCoinbaseTx(beneficiary AccountID, amount Unit, height uint64) Tx {
	in := TxInput{
		TxID:        signature.ZeroHash,
		OutputIndex: CoinbaseOutputIndex,
		UnlockSig:   []byte(fmt.Sprintf("height %d", height)),
	}

	out := TxOutput{
		Address:       beneficiary,
		Amount:        amount,
		LockCondition: string(beneficiary),
	}

	tx := Tx{
		Version:   TxVersion,
		Inputs:    []TxInput{in},
		Outputs:   []TxOutput{out},
		TimeStamp: uint64(time.Now().UTC().Unix()),
	}
	tx.ComputeID()

	return tx
}

// txContent is the subset of fields the transaction id commits to.
type txContent struct {
	Version  uint16     `json:"version"`
	Inputs   []TxInput  `json:"inputs"`
	Outputs  []TxOutput `json:"outputs"`
	LockTime uint64     `json:"lock_time"`
}

// ComputeID recalculates the content hash. It must be called again whenever
// inputs, outputs or the lock time change, signing included. A stale id is
// a correctness bug.
func (tx *Tx) ComputeID() {
	tx.ID = signature.Hash(txContent{
		Version:  tx.Version,
		Inputs:   tx.Inputs,
		Outputs:  tx.Outputs,
		LockTime: tx.LockTime,
	})
}

// IsCoinbase reports whether this is a reward transaction.
func (tx Tx) IsCoinbase() bool {
	return len(tx.Inputs) == 1 && tx.Inputs[0].IsCoinbase()
}

// OutputTotal returns the sum of all output amounts.
func (tx Tx) OutputTotal() Unit {
	var total Unit
	for _, out := range tx.Outputs {
		total += out.Amount
	}

	return total
}

// =============================================================================

// SignInputs produces the unlock proof for every input using the specified
// private key, resolving each referenced output through the resolver. The
// fee and id are recomputed afterwards.
func (tx *Tx) SignInputs(privateKey *ecdsa.PrivateKey, resolver UTXOResolver) error {
	var inputTotal Unit

	for i := range tx.Inputs {
		in := &tx.Inputs[i]

		utxo, exists := resolver.Get(in.Outpoint())
		if !exists {
			return fmt.Errorf("input %d: %s: %w", i, in.Outpoint(), ErrUnknownOutpoint)
		}

		msg := SpendMessage{
			TxID:         in.TxID,
			InputIndex:   i,
			OwnerAddress: utxo.Address,
			Amount:       utxo.Amount,
		}

		sig, err := signature.Sign(msg, privateKey)
		if err != nil {
			return fmt.Errorf("input %d: signing: %w", i, err)
		}

		in.UnlockSig = sig
		in.UnlockPubKey = signature.PublicKeyBytes(&privateKey.PublicKey)

		inputTotal += utxo.Amount
	}

	outputTotal := tx.OutputTotal()
	if inputTotal < outputTotal {
		return fmt.Errorf("in %d, out %d: %w", inputTotal, outputTotal, ErrInsufficientInput)
	}

	tx.Fee = inputTotal - outputTotal
	tx.ComputeID()

	return nil
}

// Validate checks the transaction against the specified UTXO resolver. When
// skipProofCheck is set the unlock proofs are not verified; that path exists
// for block level re-validation where signatures were already checked at
// mempool admission, and for a trusted relay that authenticated the request
// by other means.
func (tx Tx) Validate(resolver UTXOResolver, skipProofCheck bool) error {

	// Coinbase value limits are checked at the block level.
	if tx.IsCoinbase() {
		return nil
	}

	if len(tx.Inputs) == 0 {
		return fmt.Errorf("transaction has no inputs: %w", ErrScriptValidation)
	}
	if len(tx.Outputs) == 0 {
		return fmt.Errorf("transaction has no outputs: %w", ErrScriptValidation)
	}

	var inputTotal Unit

	for i, in := range tx.Inputs {
		utxo, exists := resolver.Get(in.Outpoint())
		if !exists {
			return fmt.Errorf("input %d: %s: %w", i, in.Outpoint(), ErrUnknownOutpoint)
		}
		if utxo.Spent {
			return fmt.Errorf("input %d: %s: %w", i, in.Outpoint(), ErrAlreadySpent)
		}

		if !skipProofCheck {
			if err := verifyUnlock(in, i, utxo); err != nil {
				return err
			}
		}

		inputTotal += utxo.Amount
	}

	if inputTotal < tx.OutputTotal() {
		return fmt.Errorf("in %d, out %d: %w", inputTotal, tx.OutputTotal(), ErrInsufficientInput)
	}

	return nil
}

// verifyUnlock checks one input's proof against the output it spends: the
// unlock key must derive the lock condition, the lock condition must match
// the owning address, and the signature must cover the canonical spend
// message.
func verifyUnlock(in TxInput, index int, utxo UTXO) error {
	pub, err := signature.ToPublicKey(in.UnlockPubKey)
	if err != nil {
		return fmt.Errorf("input %d: bad unlock key: %w", index, ErrScriptValidation)
	}

	if signature.Address(pub) != utxo.LockCondition {
		return fmt.Errorf("input %d: unlock key does not satisfy lock: %w", index, ErrScriptValidation)
	}

	if utxo.LockCondition != string(utxo.Address) {
		return fmt.Errorf("input %d: lock condition does not match owner: %w", index, ErrScriptValidation)
	}

	msg := SpendMessage{
		TxID:         in.TxID,
		InputIndex:   index,
		OwnerAddress: utxo.Address,
		Amount:       utxo.Amount,
	}

	if err := signature.Verify(msg, in.UnlockSig, pub); err != nil {
		return fmt.Errorf("input %d: %s: %w", index, err, ErrScriptValidation)
	}

	return nil
}

// =============================================================================

// Hash implements the merkle Hashable interface for providing a hash of the
// transaction id.
func (tx Tx) Hash() ([]byte, error) {
	return hexutil.Decode(tx.ID)
}

// Equals implements the merkle Hashable interface for providing an equality
// check between two transactions.
func (tx Tx) Equals(otherTx Tx) bool {
	return tx.ID == otherTx.ID
}

// String implements the fmt.Stringer interface for logging.
func (tx Tx) String() string {
	if len(tx.ID) > 10 {
		return tx.ID[:10]
	}
	return tx.ID
}
