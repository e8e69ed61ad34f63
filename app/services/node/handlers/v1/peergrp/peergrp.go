// Package peergrp maintains the group of handlers for authenticated
// peer-to-peer access.
package peergrp

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	v1 "github.com/The-Sycorax/denaro/business/web/v1"
	"github.com/The-Sycorax/denaro/business/web/v1/mid"
	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/blockchain/state"
	"github.com/The-Sycorax/denaro/foundation/blockchain/worker"
	"github.com/The-Sycorax/denaro/foundation/web"
	"go.uber.org/zap"
)

// Handlers manages the set of signed peer endpoints.
type Handlers struct {
	Log         *zap.SugaredLogger
	State       *state.State
	Worker      *worker.Worker
	Registry    *peer.Registry
	Challenges  *ChallengeManager
	NodeVersion string
	SelfURL     string
	IsPublic    bool
}

// submitBlockRequest is the peer block push payload.
type submitBlockRequest struct {
	BlockContent string   `json:"block_content" validate:"required"`
	Txs          []string `json:"txs"`
	ID           uint64   `json:"id"`
}

// submitBlocksRequest is the bulk push payload.
type submitBlocksRequest struct {
	Blocks []submitBlockRequest `json:"blocks" validate:"required,max=512,dive"`
}

// handshakeResponseRequest is a peer's answer to our challenge.
type handshakeResponseRequest struct {
	Challenge     string `json:"challenge" validate:"required"`
	URL           string `json:"url"`
	IsPublic      bool   `json:"is_public"`
	NodeVersion   string `json:"node_version"`
	Height        uint64 `json:"height"`
	LastBlockHash string `json:"last_block_hash"`
}

// PushBlock accepts a block announced by an authenticated peer and relays it
// onward on success.
func (h Handlers) PushBlock(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	sender, err := mid.GetSender(ctx)
	if err != nil {
		return err
	}

	var req submitBlockRequest
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("%s: %w", err, chain.ErrMalformedInput)
	}

	result, err := h.State.SubmitBlock(ctx, req.BlockContent, req.Txs)
	switch {
	case err == nil:
		h.Registry.RecordEvent(sender.NodeID, peer.EventValidRelay)

	case errors.Is(err, chain.ErrStale):
		// A block we already hold costs nothing.

	case errors.Is(err, chain.ErrOrphanBlock):
		// An orphan means this node is behind, not that the peer lied.
		h.Worker.SignalSync(sender.NodeID)
		return err

	default:
		h.Registry.RecordEvent(sender.NodeID, peer.EventInvalidPayload)
		return err
	}

	if result.Outcome == chain.Applied || result.Outcome == chain.Reorg {
		go h.Worker.PropagateBlock(req.BlockContent, req.Txs, h.State.Height(), sender.NodeID)
	}

	payload := struct {
		Outcome string `json:"outcome"`
		Height  uint64 `json:"height"`
	}{result.Outcome.String(), h.State.Height()}

	return v1.Respond(ctx, w, payload, http.StatusOK)
}

// PushBlocks accepts a contiguous run of blocks from an authenticated peer.
func (h Handlers) PushBlocks(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	sender, err := mid.GetSender(ctx)
	if err != nil {
		return err
	}

	var req submitBlocksRequest
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("%s: %w", err, chain.ErrMalformedInput)
	}

	subs := make([]state.BlockSubmission, len(req.Blocks))
	for i, b := range req.Blocks {
		subs[i] = state.BlockSubmission{Content: b.BlockContent, Transactions: b.Txs}
	}

	accepted, err := h.State.SubmitBlocks(ctx, subs)
	if err != nil && !errors.Is(err, chain.ErrStale) {
		h.Registry.RecordEvent(sender.NodeID, peer.EventInvalidPayload)

		// Anything committed before the failure stays committed.
		payload := struct {
			Accepted int    `json:"accepted"`
			Height   uint64 `json:"height"`
		}{accepted, h.State.Height()}
		env := v1.Envelope{Ok: false, Result: payload, Error: &v1.ErrorDetail{Code: chain.Code(err), Message: err.Error()}}
		return web.Respond(ctx, w, env, v1.StatusFor(err))
	}

	if accepted > 0 {
		h.Registry.RecordEvent(sender.NodeID, peer.EventValidRelay)
	}

	payload := struct {
		Accepted int    `json:"accepted"`
		Height   uint64 `json:"height"`
	}{accepted, h.State.Height()}

	return v1.Respond(ctx, w, payload, http.StatusOK)
}

// GetPeers shares the active peer table with an authenticated peer.
func (h Handlers) GetPeers(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	if _, err := mid.GetSender(ctx); err != nil {
		return err
	}

	type peerInfo struct {
		NodeID   string `json:"node_id"`
		Pubkey   string `json:"pubkey"`
		URL      string `json:"url,omitempty"`
		IsPublic bool   `json:"is_public"`
	}

	var peers []peerInfo
	for _, rec := range h.Registry.ActivePeers(time.Now()) {
		peers = append(peers, peerInfo{
			NodeID:   rec.NodeID,
			Pubkey:   rec.Pubkey,
			URL:      rec.URL,
			IsPublic: rec.IsPublic,
		})
	}

	return v1.Respond(ctx, w, peers, http.StatusOK)
}

// HandshakeChallenge issues a short-lived challenge nonce. The request is
// unauthenticated; identity is proven by signing the response.
func (h Handlers) HandshakeChallenge(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	challenge, err := h.Challenges.Issue()
	if err != nil {
		return err
	}

	payload := struct {
		Challenge string `json:"challenge"`
	}{challenge}

	return v1.Respond(ctx, w, payload, http.StatusOK)
}

// HandshakeResponse completes the handshake: the signed envelope proves the
// peer's identity, the challenge proves freshness, and both sides exchange
// chain state. A peer claiming a longer chain triggers a sync.
func (h Handlers) HandshakeResponse(ctx context.Context, w http.ResponseWriter, r *http.Request) error {
	sender, err := mid.GetSender(ctx)
	if err != nil {
		return err
	}

	var req handshakeResponseRequest
	if err := web.Decode(r, &req); err != nil {
		return fmt.Errorf("%s: %w", err, chain.ErrMalformedInput)
	}

	if !h.Challenges.Redeem(req.Challenge) {
		h.Registry.RecordEvent(sender.NodeID, peer.EventProtocolViolation)
		return fmt.Errorf("unknown or expired challenge: %w", chain.ErrPeerUnauthenticated)
	}

	if _, _, err := h.Registry.Upsert(peer.Record{
		NodeID:      sender.NodeID,
		Pubkey:      sender.PubkeyHex,
		URL:         req.URL,
		IsPublic:    req.IsPublic,
		NodeVersion: req.NodeVersion,
	}); err != nil {
		return err
	}

	if req.Height > h.State.Height() {
		h.Worker.SignalSync(sender.NodeID)
	}

	payload := struct {
		NodeID        string `json:"node_id"`
		Pubkey        string `json:"pubkey"`
		URL           string `json:"url"`
		IsPublic      bool   `json:"is_public"`
		NodeVersion   string `json:"node_version"`
		Height        uint64 `json:"height"`
		LastBlockHash string `json:"last_block_hash,omitempty"`
	}{
		NodeID:      h.Registry.NodeID(),
		Pubkey:      h.Registry.Identity().PublicKeyHex(),
		URL:         h.SelfURL,
		IsPublic:    h.IsPublic,
		NodeVersion: h.NodeVersion,
		Height:      h.State.Height(),
	}
	if tip, haveTip := h.State.Tip(); haveTip {
		payload.LastBlockHash = tip.Hash
	}

	return v1.Respond(ctx, w, payload, http.StatusOK)
}

// =============================================================================

// challengeTTL bounds how long an issued challenge stays redeemable.
const challengeTTL = 2 * time.Minute

// ChallengeManager issues and redeems single-use handshake challenges.
type ChallengeManager struct {
	mu         sync.Mutex
	challenges map[string]time.Time
}

// NewChallengeManager constructs an empty manager.
func NewChallengeManager() *ChallengeManager {
	return &ChallengeManager{challenges: make(map[string]time.Time)}
}

// Issue creates a fresh challenge nonce.
func (cm *ChallengeManager) Issue() (string, error) {
	var nonce [16]byte
	if _, err := rand.Read(nonce[:]); err != nil {
		return "", fmt.Errorf("generating challenge: %w", err)
	}
	challenge := hex.EncodeToString(nonce[:])

	cm.mu.Lock()
	defer cm.mu.Unlock()

	now := time.Now()
	for c, issued := range cm.challenges {
		if now.Sub(issued) > challengeTTL {
			delete(cm.challenges, c)
		}
	}
	cm.challenges[challenge] = now

	return challenge, nil
}

// Redeem consumes a challenge, reporting whether it was live.
func (cm *ChallengeManager) Redeem(challenge string) bool {
	cm.mu.Lock()
	defer cm.mu.Unlock()

	issued, found := cm.challenges[challenge]
	if !found {
		return false
	}
	delete(cm.challenges, challenge)

	return time.Since(issued) <= challengeTTL
}
