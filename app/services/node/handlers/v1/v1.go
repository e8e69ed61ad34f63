// Package v1 contains the full set of handler functions and routes supported
// by the v1 web api.
package v1

import (
	"net/http"
	"time"

	"github.com/The-Sycorax/denaro/app/services/node/handlers/v1/peergrp"
	"github.com/The-Sycorax/denaro/app/services/node/handlers/v1/public"
	"github.com/The-Sycorax/denaro/business/web/v1/mid"
	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/blockchain/state"
	"github.com/The-Sycorax/denaro/foundation/blockchain/worker"
	"github.com/The-Sycorax/denaro/foundation/events"
	"github.com/The-Sycorax/denaro/foundation/web"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log         *zap.SugaredLogger
	State       *state.State
	Worker      *worker.Worker
	Registry    *peer.Registry
	Evts        *events.Events
	Limiter     *peer.RateLimiter
	NodeVersion string
	SelfURL     string
	IsPublic    bool
	StartTime   time.Time
}

// Routes binds all the version 1 routes.
func Routes(app *web.App, cfg Config) {
	rl := mid.RateLimit(cfg.Limiter)
	auth := mid.PeerAuth(cfg.Registry)

	pbl := public.Handlers{
		Log:         cfg.Log,
		State:       cfg.State,
		Worker:      cfg.Worker,
		Registry:    cfg.Registry,
		Evts:        cfg.Evts,
		NodeVersion: cfg.NodeVersion,
		SelfURL:     cfg.SelfURL,
		IsPublic:    cfg.IsPublic,
		StartTime:   cfg.StartTime,
	}

	app.Handle(http.MethodGet, "/", pbl.Root, rl)
	app.Handle(http.MethodGet, "/get_status", pbl.Status, rl)
	app.Handle(http.MethodGet, "/get_peers", pbl.Peers, rl)
	app.Handle(http.MethodPost, "/get_peers", pbl.Peers, rl)
	app.Handle(http.MethodGet, "/get_block", pbl.Block, rl)
	app.Handle(http.MethodGet, "/get_blocks", pbl.Blocks, rl)
	app.Handle(http.MethodGet, "/get_transaction", pbl.Transaction, rl)
	app.Handle(http.MethodGet, "/get_address_info", pbl.AddressInfo, rl)
	app.Handle(http.MethodGet, "/get_mining_info", pbl.MiningInfo, rl)
	app.Handle(http.MethodGet, "/get_pending_transactions", pbl.PendingTransactions, rl)
	app.Handle(http.MethodGet, "/sync_blockchain", pbl.SyncBlockchain, rl)
	app.Handle(http.MethodPost, "/submit_block", pbl.SubmitBlock, rl)
	app.Handle(http.MethodPost, "/push_tx", pbl.PushTx, rl)
	app.Handle(http.MethodGet, "/events", pbl.Events)

	prg := peergrp.Handlers{
		Log:         cfg.Log,
		State:       cfg.State,
		Worker:      cfg.Worker,
		Registry:    cfg.Registry,
		Challenges:  peergrp.NewChallengeManager(),
		NodeVersion: cfg.NodeVersion,
		SelfURL:     cfg.SelfURL,
		IsPublic:    cfg.IsPublic,
	}

	app.Handle(http.MethodPost, "/push_block", prg.PushBlock, rl, auth)
	app.Handle(http.MethodPost, "/push_blocks", prg.PushBlocks, rl, auth)
	app.Handle(http.MethodPost, "/peers", prg.GetPeers, rl, auth)
	app.Handle(http.MethodGet, "/handshake/challenge", prg.HandshakeChallenge, rl)
	app.Handle(http.MethodPost, "/handshake/response", prg.HandshakeResponse, rl, auth)
}
