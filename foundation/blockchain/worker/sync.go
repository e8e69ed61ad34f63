package worker

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/blockchain/state"
)

// syncBatchLimit is the number of blocks requested per batch; the byte size
// of a response is separately bounded by MaxBatchBytes.
const syncBatchLimit = 100

// Sync runs one pull synchronisation cycle against the named peer, or a
// random active peer when nodeID is empty. A cycle already in progress
// rejects the attempt with SyncInProgress.
func (w *Worker) Sync(nodeID string) error {
	if !w.syncMu.TryLock() {
		return chain.ErrSyncInProgress
	}
	defer w.syncMu.Unlock()

	w.evHandler("worker: sync: started")
	defer w.evHandler("worker: sync: completed")

	rec, err := w.pickSyncPeer(nodeID)
	if err != nil {
		return err
	}

	c := newClient(rec.URL, w.registry.Identity(), w.nodeVersion)

	statusCtx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
	status, err := c.Status(statusCtx)
	cancel()
	if err != nil {
		w.handleUnreachable(rec.NodeID, rec.URL, "status")
		return err
	}

	localHeight := w.state.Height()
	if status.Height <= localHeight {
		w.evHandler("worker: sync: local[%d] >= remote[%d], nothing to do", localHeight, status.Height)
		return nil
	}

	// The cycle deadline scales with the amount of work left.
	toFetch := status.Height - localHeight
	deadline := time.Duration(toFetch)*time.Second + time.Minute
	if deadline > 30*time.Minute {
		deadline = 30 * time.Minute
	}
	ctx, cancel := context.WithTimeout(context.Background(), deadline)
	defer cancel()

	ancestor, err := w.findCommonAncestor(ctx, c, localHeight)
	if err != nil {
		return err
	}

	w.evHandler("worker: sync: peer[%s] local[%d] remote[%d] ancestor[%d]", rec.NodeID[:10], localHeight, status.Height, ancestor)

	offset := ancestor + 1
	for offset <= status.Height {
		batch, err := c.Blocks(ctx, offset, syncBatchLimit)
		if err != nil {
			w.handleUnreachable(rec.NodeID, rec.URL, "block fetch")
			return err
		}
		if len(batch) == 0 {
			break
		}

		subs := make([]state.BlockSubmission, len(batch))
		for i, p := range batch {
			subs[i] = state.BlockSubmission{Content: p.Block.Content, Transactions: p.Transactions}
		}

		accepted, err := w.state.SubmitBlocks(ctx, subs)
		switch {
		case err == nil:

		case errors.Is(err, chain.ErrStale):
			// Duplicates are harmless during overlapping fetches.

		default:
			w.evHandler("worker: sync: invalid block from peer[%s]: %s", rec.NodeID[:10], err)
			w.registry.RecordEvent(rec.NodeID, peer.EventInvalidPayload)
			return err
		}

		if accepted == 0 {
			break
		}
		offset += uint64(len(batch))
		w.registry.RecordEvent(rec.NodeID, peer.EventValidRelay)
	}

	return nil
}

// pickSyncPeer resolves the peer to sync from.
func (w *Worker) pickSyncPeer(nodeID string) (syncPeer, error) {
	if nodeID != "" {
		p, found := w.registry.Get(nodeID)
		if !found {
			return syncPeer{}, fmt.Errorf("unknown peer %s", nodeID)
		}
		rec := p.Snapshot()
		if rec.URL == "" {
			return syncPeer{}, fmt.Errorf("peer %s has no url", nodeID)
		}
		return syncPeer{NodeID: rec.NodeID, URL: rec.URL}, nil
	}

	peers := w.registry.PickRandom(1, time.Now())
	if len(peers) == 0 {
		return syncPeer{}, errors.New("no peer to sync from")
	}

	return syncPeer{NodeID: peers[0].NodeID, URL: peers[0].URL}, nil
}

type syncPeer struct {
	NodeID string
	URL    string
}

// findCommonAncestor probes the remote chain at exponentially receding local
// heights and returns the highest height where both chains agree. Height
// zero means the chains share nothing but genesis rules.
func (w *Worker) findCommonAncestor(ctx context.Context, c *client, localHeight uint64) (uint64, error) {
	if localHeight == 0 {
		return 0, nil
	}

	for _, h := range locatorHeights(localHeight) {
		local, found, err := w.state.GetBlockByHeight(ctx, h)
		if err != nil {
			return 0, err
		}
		if !found {
			continue
		}

		remote, err := c.BlockAt(ctx, h)
		if err != nil {
			continue
		}
		if remote.Block.Hash == local.Hash {
			return h, nil
		}
	}

	// No agreement within the locator; cap the walk-back at the
	// reorganisation depth limit.
	if localHeight > genesis.MaxReorgDepth {
		return localHeight - genesis.MaxReorgDepth, nil
	}

	return 0, nil
}

// locatorHeights returns h, h-1, h-2, h-4, h-8, ... 1.
func locatorHeights(h uint64) []uint64 {
	heights := []uint64{h}
	step := uint64(1)
	for h > step {
		heights = append(heights, h-step)
		step *= 2
	}
	if heights[len(heights)-1] != 1 {
		heights = append(heights, 1)
	}

	return heights
}

// handleUnreachable drops a peer that stopped answering. Not punitive: the
// peer can be re-discovered later.
func (w *Worker) handleUnreachable(nodeID string, url string, context string) {
	w.evHandler("worker: peer %s at %s unreachable (%s), removing", nodeID[:10], url, context)
	w.registry.Remove(nodeID)
}
