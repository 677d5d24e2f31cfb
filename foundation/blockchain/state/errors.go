package state

import "errors"

// Set of errors returned by the state API. Handlers map these onto trusted
// error responses, the p2p layer uses them to decide whether a peer
// connection should be dropped.
var (
	// ErrNoTransactions is returned when a block is requested to be created
	// and there are not enough transactions.
	ErrNoTransactions = errors.New("no transactions in mempool")

	// ErrMiningDisabled is returned when mining is requested while the node
	// has mining turned off.
	ErrMiningDisabled = errors.New("mining is turned off")

	// ErrInvalidTransaction is returned when a submitted transaction fails
	// stateless or stateful validation.
	ErrInvalidTransaction = errors.New("invalid transaction")

	// ErrDoubleSpendInTx is returned when a transaction references the same
	// outpoint twice.
	ErrDoubleSpendInTx = errors.New("duplicate outpoint within transaction")

	// ErrNotEnoughWork is returned when a competing chain does not carry
	// strictly more cumulative work than the current one.
	ErrNotEnoughWork = errors.New("candidate chain does not have more work")

	// ErrOrphanBlock is returned when a received block attaches to no known
	// block. It is cached in case the gap fills in later.
	ErrOrphanBlock = errors.New("block does not attach to a known block")
)
