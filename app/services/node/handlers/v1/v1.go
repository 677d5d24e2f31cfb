// Package v1 contains the full set of handler functions and routes
// supported by the v1 web api.
package v1

import (
	"net/http"

	"github.com/orecoin/orecoin/app/services/node/handlers/v1/private"
	"github.com/orecoin/orecoin/app/services/node/handlers/v1/public"
	"github.com/orecoin/orecoin/foundation/blockchain/state"
	"github.com/orecoin/orecoin/foundation/events"
	"github.com/orecoin/orecoin/foundation/web"
	"go.uber.org/zap"
)

const version = "v1"

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	Evts  *events.Events
}

// PublicRoutes binds all the version 1 public routes.
func PublicRoutes(app *web.App, cfg Config) {
	pbl := public.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		Evts:  cfg.Evts,
	}

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/genesis/list", pbl.Genesis)
	app.Handle(http.MethodGet, version, "/node/status", pbl.Status)
	app.Handle(http.MethodGet, version, "/balances/:address", pbl.Balance)
	app.Handle(http.MethodGet, version, "/utxos/:address", pbl.UTXOs)
	app.Handle(http.MethodGet, version, "/utxos/:address/select/:amount/:feerate", pbl.SelectForPayment)
	app.Handle(http.MethodGet, version, "/history/:address", pbl.History)
	app.Handle(http.MethodGet, version, "/blocks/list/:from/:limit", pbl.BlocksByHeight)
	app.Handle(http.MethodGet, version, "/tx/uncommitted/list", pbl.Mempool)
	app.Handle(http.MethodPost, version, "/tx/submit", pbl.SubmitWalletTransaction)
}

// PrivateRoutes binds all the version 1 private routes.
func PrivateRoutes(app *web.App, cfg Config) {
	prv := private.Handlers{
		Log:   cfg.Log,
		State: cfg.State,
	}

	app.Handle(http.MethodGet, version, "/node/status", prv.Status)
	app.Handle(http.MethodGet, version, "/node/chain/export", prv.ExportChain)
	app.Handle(http.MethodGet, version, "/node/peers/list", prv.Peers)
	app.Handle(http.MethodPost, version, "/node/peers/add", prv.AddPeer)
	app.Handle(http.MethodPost, version, "/node/peers/remove", prv.RemovePeer)
	app.Handle(http.MethodGet, version, "/node/mining/stats", prv.MiningStats)
	app.Handle(http.MethodPost, version, "/node/mining/on", prv.MiningOn)
	app.Handle(http.MethodPost, version, "/node/mining/off", prv.MiningOff)
}
