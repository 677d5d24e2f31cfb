// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/websocket"
	"github.com/orecoin/orecoin/business/web/errs"
	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/state"
	"github.com/orecoin/orecoin/foundation/events"
	"github.com/orecoin/orecoin/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
	WS    websocket.Upgrader
	Evts  *events.Events
}

// Events handles a web socket to provide events to a client.
func (h Handlers) Events(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	h.WS.CheckOrigin = func(r *http.Request) bool { return true }

	c, err := h.WS.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	ch := h.Evts.Acquire(v.TraceID)
	defer h.Evts.Release(v.TraceID)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case msg, wd := <-ch:
			if !wd {
				return nil
			}

			if err := c.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
				return err
			}

		case <-ticker.C:
			if err := c.WriteMessage(websocket.PingMessage, []byte("ping")); err != nil {
				return nil
			}
		}
	}
}

// SubmitWalletTransaction adds a new signed transaction to the mempool.
func (h Handlers) SubmitWalletTransaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	v, err := web.GetValues(ctx)
	if err != nil {
		return web.NewShutdownError("web value missing from context")
	}

	var tx database.Tx
	if err := web.Decode(r, &tx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	h.Log.Infow("add user tran", "traceid", v.TraceID, "tx", tx.ID, "outputs", len(tx.Outputs), "fee", tx.Fee)

	if err := h.State.UpsertWalletTransaction(tx); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := struct {
		Status string `json:"status"`
		TxID   string `json:"tx_id"`
	}{
		Status: "transaction added to mempool",
		TxID:   tx.ID,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// Genesis returns the genesis information.
func (h Handlers) Genesis(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	gen := h.State.RetrieveGenesis()
	return web.Respond(ctx, w, gen, http.StatusOK)
}

// Status returns a summary of the node and chain.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.QueryStatus(), http.StatusOK)
}

// Balance returns the confirmed balance for the specified address.
func (h Handlers) Balance(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address, err := database.ToAccountID(web.Param(r, "address"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	resp := balance{
		Address: address,
		Balance: h.State.QueryBalance(address),
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// UTXOs returns the unspent outputs owned by the specified address.
func (h Handlers) UTXOs(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address, err := database.ToAccountID(web.Param(r, "address"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, h.State.QueryUTXOs(address), http.StatusOK)
}

// SelectForPayment runs coin selection for the address so a wallet can
// build a payment without holding the full output set.
func (h Handlers) SelectForPayment(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address, err := database.ToAccountID(web.Param(r, "address"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	amount, err := strconv.ParseUint(web.Param(r, "amount"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	feeRate, err := strconv.ParseUint(web.Param(r, "feerate"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	sel, err := h.State.QuerySelectForPayment(address, database.Unit(amount), database.Unit(feeRate))
	if err != nil {
		return errs.NewTrusted(err, http.StatusConflict)
	}

	return web.Respond(ctx, w, sel, http.StatusOK)
}

// History returns the transaction history for the specified address.
func (h Handlers) History(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address, err := database.ToAccountID(web.Param(r, "address"))
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	return web.Respond(ctx, w, h.State.QueryTransactionHistory(address), http.StatusOK)
}

// Mempool returns the set of uncommitted transactions.
func (h Handlers) Mempool(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveMempool(), http.StatusOK)
}

// BlocksByHeight returns blocks starting at :from, at most :limit of them.
func (h Handlers) BlocksByHeight(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	from, err := strconv.ParseUint(web.Param(r, "from"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	limit, err := strconv.ParseUint(web.Param(r, "limit"), 10, 64)
	if err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	dbBlocks := h.State.QueryBlocksByHeight(from, limit)
	if len(dbBlocks) == 0 {
		return web.Respond(ctx, w, nil, http.StatusNoContent)
	}

	blocks := make([]database.BlockData, len(dbBlocks))
	for i, blk := range dbBlocks {
		blocks[i] = database.NewBlockData(blk)
	}

	return web.Respond(ctx, w, blocks, http.StatusOK)
}
