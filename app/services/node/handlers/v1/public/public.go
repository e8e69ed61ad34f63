// Package public maintains the group of handlers for public access.
package public

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	v1 "github.com/The-Sycorax/denaro/business/web/v1"
	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/blockchain/state"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/The-Sycorax/denaro/foundation/blockchain/worker"
	"github.com/The-Sycorax/denaro/foundation/events"
	"github.com/The-Sycorax/denaro/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Handlers manages the set of public endpoints.
type Handlers struct {
	Log         *zap.SugaredLogger
	State       *state.State
	Worker      *worker.Worker
	Registry    *peer.Registry
	Evts        *events.Events
	WS          websocket.Upgrader
	NodeVersion string
	SelfURL     string
	IsPublic    bool
	StartTime   time.Time
}

// githubRepository is reported on the landing endpoint.
const githubRepository = "https://github.com/The-Sycorax/denaro"

// Root returns the node's calling card.
func (h Handlers) Root(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	info := rootInfo{
		NodeVersion:      h.NodeVersion,
		GithubRepository: githubRepository,
		APIDocs:          h.SelfURL + "/docs",
	}

	return v1.Respond(ctx, w, info, http.StatusOK)
}

// Status returns the node identity and chain position.
func (h Handlers) Status(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	info := statusInfo{
		NodeID:        h.Registry.NodeID(),
		Pubkey:        h.Registry.Identity().PublicKeyHex(),
		URL:           h.SelfURL,
		IsPublic:      h.IsPublic,
		NodeVersion:   h.NodeVersion,
		Height:        h.State.Height(),
		UptimeSeconds: int64(time.Since(h.StartTime).Seconds()),
	}
	if tip, haveTip := h.State.Tip(); haveTip {
		info.LastBlockHash = tip.Hash
	}

	return v1.Respond(ctx, w, info, http.StatusOK)
}

// Peers returns the peer table, filtered by the query flags.
func (h Handlers) Peers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	_, showStats := web.Query(r, "show_stats")
	_, onlyPublic := web.Query(r, "public")
	_, onlyPrivate := web.Query(r, "private")
	_, showBanned := web.Query(r, "show_banned")
	_, pretty := web.Query(r, "pretty")

	now := time.Now().UTC().Unix()
	var peers []peerInfo
	stats := peerStats{}

	for _, rec := range h.Registry.All() {
		stats.Total++
		if rec.IsPublic {
			stats.Public++
		}
		banned := rec.BannedUntil > now
		if banned {
			stats.Banned++
		}

		if banned && !showBanned {
			continue
		}
		if onlyPublic && !rec.IsPublic {
			continue
		}
		if onlyPrivate && rec.IsPublic {
			continue
		}

		peers = append(peers, peerInfo{
			NodeID:          rec.NodeID,
			Pubkey:          rec.Pubkey,
			URL:             rec.URL,
			IsPublic:        rec.IsPublic,
			NodeVersion:     rec.NodeVersion,
			ReputationScore: rec.ReputationScore,
			LastSeen:        rec.LastSeen,
			BannedUntil:     rec.BannedUntil,
		})
	}

	result := struct {
		Peers []peerInfo `json:"peers"`
		Stats *peerStats `json:"stats,omitempty"`
	}{Peers: peers}
	if showStats {
		result.Stats = &stats
	}

	if pretty {
		return v1.RespondPretty(ctx, w, result, http.StatusOK)
	}
	return v1.Respond(ctx, w, result, http.StatusOK)
}

// Block returns one block by height or hash together with its transactions.
func (h Handlers) Block(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var row storage.BlockRow
	var found bool

	switch {
	case hasQuery(r, "id"):
		idRaw, _ := web.Query(r, "id")
		id, err := strconv.ParseUint(idRaw, 10, 64)
		if err != nil {
			return fmt.Errorf("id %q: %w", idRaw, chain.ErrMalformedInput)
		}
		row, found, err = h.State.GetBlockByHeight(ctx, id)
		if err != nil {
			return err
		}

	case hasQuery(r, "hash"):
		hash, _ := web.Query(r, "hash")
		var err error
		row, found, err = h.State.GetBlockByHash(ctx, hash)
		if err != nil {
			return err
		}

	default:
		return fmt.Errorf("id or hash required: %w", chain.ErrMalformedInput)
	}

	if !found {
		return v1.NewRequestError(errors.New("block not found"), http.StatusNotFound)
	}

	payload, err := h.assemblePayload(ctx, row)
	if err != nil {
		return err
	}

	return v1.Respond(ctx, w, payload, http.StatusOK)
}

// hasQuery reports whether the query parameter is present at all.
func hasQuery(r *http.Request, key string) bool {
	_, found := web.Query(r, key)
	return found
}

// Blocks returns a forward range of blocks with their transactions.
func (h Handlers) Blocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	offset := uint64(1)
	if raw, ok := web.Query(r, "offset"); ok {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("offset %q: %w", raw, chain.ErrMalformedInput)
		}
		offset = v
	}
	limit := uint64(100)
	if raw, ok := web.Query(r, "limit"); ok {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return fmt.Errorf("limit %q: %w", raw, chain.ErrMalformedInput)
		}
		limit = v
	}

	rows, err := h.State.GetBlockRange(ctx, offset, limit)
	if err != nil {
		return err
	}

	payloads := make([]blockPayload, 0, len(rows))
	for _, row := range rows {
		p, err := h.assemblePayload(ctx, row)
		if err != nil {
			return err
		}
		payloads = append(payloads, p)
	}

	return v1.Respond(ctx, w, payloads, http.StatusOK)
}

// Transaction returns one committed transaction by hash.
func (h Handlers) Transaction(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	hash, ok := web.Query(r, "hash")
	if !ok {
		return fmt.Errorf("hash required: %w", chain.ErrMalformedInput)
	}

	row, found, err := h.State.GetTransaction(ctx, hash)
	if err != nil {
		return err
	}
	if !found {
		return v1.NewRequestError(errors.New("transaction not found"), http.StatusNotFound)
	}

	info := txInfo{
		TxHash:           row.TxHash,
		BlockHash:        row.BlockHash,
		TxHex:            row.TxHex,
		InputsAddresses:  row.InputsAddresses,
		OutputsAddresses: row.OutputsAddresses,
		OutputsAmounts:   row.OutputsAmounts,
		Fees:             row.Fees,
		TimeReceived:     row.TimeReceived,
	}

	return v1.Respond(ctx, w, info, http.StatusOK)
}

// AddressInfo returns the balance and spendable outputs of an address.
func (h Handlers) AddressInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	address, ok := web.Query(r, "address")
	if !ok {
		return fmt.Errorf("address required: %w", chain.ErrMalformedInput)
	}

	outputs, balance, err := h.State.AddressInfo(ctx, address)
	if err != nil {
		return err
	}

	type outputInfo struct {
		TxHash string `json:"tx_hash"`
		Index  uint8  `json:"index"`
		Amount string `json:"amount"`
	}

	infos := make([]outputInfo, 0, len(outputs))
	for _, o := range outputs {
		infos = append(infos, outputInfo{TxHash: o.TxHash, Index: o.Index, Amount: o.Amount.String()})
	}

	payload := struct {
		Balance        string       `json:"balance"`
		SpendableOutputs []outputInfo `json:"spendable_outputs"`
	}{balance.String(), infos}

	return v1.Respond(ctx, w, payload, http.StatusOK)
}

// MiningInfo returns the block template for miners.
func (h Handlers) MiningInfo(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	mi, err := h.State.GetMiningInfo(ctx)
	if err != nil {
		return err
	}

	info := miningInfo{
		Difficulty: mi.Difficulty,
		MerkleRoot: mi.MerkleRoot,
	}
	if mi.LastBlock != nil {
		b := toBlockData(*mi.LastBlock)
		info.LastBlock = &b
	}
	info.PendingTransactions = mi.PendingHashes
	for _, row := range mi.PendingTransactions {
		info.PendingTransactionsHex = append(info.PendingTransactionsHex, row.TxHex)
	}

	return v1.Respond(ctx, w, info, http.StatusOK)
}

// PendingTransactions returns the pool ordered by fee density.
func (h Handlers) PendingTransactions(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	rows, err := h.State.ListPending(ctx)
	if err != nil {
		return err
	}

	infos := make([]pendingInfo, 0, len(rows))
	for _, row := range rows {
		infos = append(infos, pendingInfo{
			TxHash:          row.TxHash,
			TxHex:           row.TxHex,
			Fees:            row.Fees,
			PropagationTime: row.PropagationTime,
			TimeReceived:    row.TimeReceived,
		})
	}

	return v1.Respond(ctx, w, infos, http.StatusOK)
}

// SubmitBlock accepts a mined block from a miner, applies it, and announces
// it to the network.
func (h Handlers) SubmitBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req submitBlockRequest
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("%s: %w", err, chain.ErrMalformedInput)
	}

	result, err := h.State.SubmitBlock(ctx, req.BlockContent, req.Txs)
	if err != nil {
		return err
	}

	if result.Outcome == chain.Applied || result.Outcome == chain.Reorg {
		go h.Worker.PropagateBlock(req.BlockContent, req.Txs, h.State.Height(), "")
	}

	payload := struct {
		Outcome string `json:"outcome"`
		Depth   int    `json:"reorg_depth,omitempty"`
		Height  uint64 `json:"height"`
	}{result.Outcome.String(), result.Depth, h.State.Height()}

	return v1.Respond(ctx, w, payload, http.StatusOK)
}

// PushTx admits a transaction to the pool and relays it to the network.
func (h Handlers) PushTx(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	var req pushTxRequest
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("%s: %w", err, chain.ErrMalformedInput)
	}

	txHash, err := h.State.SubmitTransaction(ctx, req.TxHex, time.Now().UTC().Unix())
	switch {
	case err == nil:
		go h.Worker.PropagateTx(req.TxHex, "")

	case errors.Is(err, chain.ErrStale):
		// Already known; nothing to relay.

	default:
		return err
	}

	payload := struct {
		TxHash string `json:"tx_hash"`
	}{txHash}

	return v1.Respond(ctx, w, payload, http.StatusOK)
}

// SyncBlockchain runs one synchronisation cycle, optionally against a named
// peer. A cycle already in progress reports SyncInProgress.
func (h Handlers) SyncBlockchain(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	nodeID, _ := web.Query(r, "node_id")
	if nodeID == "true" {
		nodeID = ""
	}

	if err := h.Worker.Sync(nodeID); err != nil {
		return err
	}

	payload := struct {
		Height uint64 `json:"height"`
	}{h.State.Height()}

	return v1.Respond(ctx, w, payload, http.StatusOK)
}

// Events handles a web socket to stream node events to a client.
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

// assemblePayload pairs a block row with its transaction hex.
func (h Handlers) assemblePayload(ctx context.Context, row storage.BlockRow) (blockPayload, error) {
	txRows, err := h.State.GetBlockTransactions(ctx, row.Hash)
	if err != nil {
		return blockPayload{}, err
	}

	txs := make([]string, 0, len(txRows))
	for _, tr := range txRows {
		txs = append(txs, tr.TxHex)
	}

	return blockPayload{Block: toBlockData(row), Transactions: txs}, nil
}
