package worker

import (
	"context"
	"time"

	"golang.org/x/sync/errgroup"
)

// propagationFanout bounds how many peers a block or transaction is offered
// to in one round.
const propagationFanout = 16

// PropagateBlock offers a freshly accepted block to a random subset of
// peers in parallel. Individual failures do not abort the round; a send is
// settled on a 2xx response or the per-request timeout.
func (w *Worker) PropagateBlock(contentHex string, txsHex []string, height uint64, excludeNodeID string) {
	peers := w.registry.PickRandom(propagationFanout, time.Now())
	if len(peers) == 0 {
		return
	}

	w.evHandler("worker: propagateBlock: height[%d] peers[%d]", height, len(peers))

	var g errgroup.Group
	for _, rec := range peers {
		if rec.NodeID == excludeNodeID {
			continue
		}

		rec := rec
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
			defer cancel()

			c := newClient(rec.URL, w.registry.Identity(), w.nodeVersion)
			if err := c.PushBlock(ctx, contentHex, txsHex, height); err != nil {
				w.evHandler("worker: propagateBlock: peer[%s]: WARNING: %s", rec.NodeID[:10], err)
			}
			return nil
		})
	}
	g.Wait()
}

// PropagateTx relays an admitted transaction to a random subset of peers in
// parallel.
func (w *Worker) PropagateTx(txHex string, excludeNodeID string) {
	peers := w.registry.PickRandom(propagationFanout, time.Now())
	if len(peers) == 0 {
		return
	}

	var g errgroup.Group
	for _, rec := range peers {
		if rec.NodeID == excludeNodeID {
			continue
		}

		rec := rec
		g.Go(func() error {
			ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
			defer cancel()

			c := newClient(rec.URL, w.registry.Identity(), w.nodeVersion)
			if err := c.PushTx(ctx, txHex); err != nil {
				w.evHandler("worker: propagateTx: peer[%s]: WARNING: %s", rec.NodeID[:10], err)
			}
			return nil
		})
	}
	g.Wait()
}
