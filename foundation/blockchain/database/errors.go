package database

import "errors"

// Set of errors returned by transaction and UTXO operations. The caller is
// expected to check for these with errors.Is since most are wrapped with
// outpoint context.
var (
	// ErrUnknownOutpoint is returned when an input references an output
	// this node has never seen.
	ErrUnknownOutpoint = errors.New("referenced output does not exist")

	// ErrAlreadySpent is returned when an input references an output that
	// was already consumed by another transaction.
	ErrAlreadySpent = errors.New("referenced output already spent")

	// ErrScriptValidation is returned when the unlock proof of an input does
	// not satisfy the lock condition of the referenced output.
	ErrScriptValidation = errors.New("script validation failed")

	// ErrInsufficientInput is returned when a transaction's outputs total
	// more than its resolved inputs.
	ErrInsufficientInput = errors.New("input total less than output total")

	// ErrInsufficientFunds is returned by coin selection when an address
	// doesn't own enough unspent value to cover a payment plus fee.
	ErrInsufficientFunds = errors.New("insufficient funds")

	// ErrUTXOApplication is returned when applying an otherwise valid block
	// hits an inconsistent UTXO set. The caller must roll back.
	ErrUTXOApplication = errors.New("utxo application failed")
)
