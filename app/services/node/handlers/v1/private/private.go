// Package private maintains the group of handlers for node to node access.
package private

import (
	"context"
	"net/http"

	"github.com/orecoin/orecoin/business/sys/validate"
	"github.com/orecoin/orecoin/business/web/errs"
	"github.com/orecoin/orecoin/foundation/blockchain/database"
	"github.com/orecoin/orecoin/foundation/blockchain/peer"
	"github.com/orecoin/orecoin/foundation/blockchain/state"
	"github.com/orecoin/orecoin/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of node to node endpoints.
type Handlers struct {
	Log   *zap.SugaredLogger
	State *state.State
}

// Status returns the current status of the node.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	latestBlock := h.State.RetrieveLatestBlock()

	resp := struct {
		Host        string             `json:"host"`
		Beneficiary database.AccountID `json:"beneficiary"`
		peer.PeerStatus
	}{
		Host:        h.State.RetrieveHost(),
		Beneficiary: h.State.RetrieveBeneficiaryAddress(),
		PeerStatus: peer.PeerStatus{
			LatestBlockHash:   latestBlock.Hash(),
			LatestBlockHeight: latestBlock.Header.Height,
			KnownPeers:        h.State.RetrieveKnownPeers(),
		},
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// ExportChain returns the full serialized chain state.
func (h Handlers) ExportChain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.ExportChainState(), http.StatusOK)
}

// Peers returns the known peer list.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	return web.Respond(ctx, w, h.State.RetrieveKnownPeers(), http.StatusOK)
}

// AddPeer records a new peer for gossip.
func (h Handlers) AddPeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req addPeerRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	added := h.State.AddKnownPeer(peer.New(req.Host))

	resp := struct {
		Host  string `json:"host"`
		Added bool   `json:"added"`
	}{
		Host:  req.Host,
		Added: added,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// RemovePeer drops a peer from the gossip set.
func (h Handlers) RemovePeer(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req addPeerRequest
	if err := web.Decode(r, &req); err != nil {
		return errs.NewTrusted(err, http.StatusBadRequest)
	}

	if err := validate.Check(req); err != nil {
		return err
	}

	h.State.RemoveKnownPeer(peer.New(req.Host))

	resp := struct {
		Host string `json:"host"`
	}{
		Host: req.Host,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// MiningStats returns the local mining counters.
func (h Handlers) MiningStats(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	stats := h.State.MiningStatsSnapshot()

	resp := struct {
		Mining       bool   `json:"mining"`
		BlocksMined  uint64 `json:"blocks_mined"`
		HashAttempts uint64 `json:"hash_attempts"`
	}{
		Mining:       h.State.IsMiningAllowed(),
		BlocksMined:  stats.BlocksMined,
		HashAttempts: stats.HashAttempts,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// MiningOn turns mining on for this node.
func (h Handlers) MiningOn(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.TurnMiningOn()

	resp := struct {
		Mining bool `json:"mining"`
	}{
		Mining: true,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// MiningOff turns mining off for this node.
func (h Handlers) MiningOff(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	h.State.TurnMiningOff()

	resp := struct {
		Mining bool `json:"mining"`
	}{
		Mining: false,
	}

	return web.Respond(ctx, w, resp, http.StatusOK)
}

// addPeerRequest is the request form for adding a peer.
type addPeerRequest struct {
	Host string `json:"host" validate:"required,hostname_port"`
}
