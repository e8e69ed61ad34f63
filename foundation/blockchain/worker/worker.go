// Package worker implements the network workflows of the node: periodic
// peer discovery, chain synchronisation, block and transaction propagation,
// and pending pool garbage collection.
package worker

import (
	"context"
	"sync"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/peer"
	"github.com/The-Sycorax/denaro/foundation/blockchain/state"
)

// Cadence of the background loops.
const (
	discoveryInterval = time.Minute
	pendingGCInterval = 2 * time.Minute
	discoveryFanout   = 2
)

// BootstrapSelf and BootstrapDiscover are the non-URL bootstrap modes.
const (
	BootstrapSelf     = "self"
	BootstrapDiscover = "discover"
)

// Config represents the dependencies and identity of the worker.
type Config struct {
	State       *state.State
	Registry    *peer.Registry
	SelfURL     string
	IsPublic    bool
	NodeVersion string
	Bootstrap   string
	EvHandler   state.EventHandler
}

// Worker runs the node's background goroutines. The sync guard permits one
// synchronisation cycle at a time.
type Worker struct {
	state       *state.State
	registry    *peer.Registry
	selfURL     string
	isPublic    bool
	nodeVersion string
	bootstrap   string
	evHandler   state.EventHandler

	syncMu sync.Mutex

	wg        sync.WaitGroup
	shut      chan struct{}
	syncQueue chan string
}

// Run constructs the worker, performs the bootstrap handshake, and starts
// the background goroutines.
func Run(cfg Config) *Worker {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	w := Worker{
		state:       cfg.State,
		registry:    cfg.Registry,
		selfURL:     cfg.SelfURL,
		isPublic:    cfg.IsPublic,
		nodeVersion: cfg.NodeVersion,
		bootstrap:   cfg.Bootstrap,
		evHandler:   ev,
		shut:        make(chan struct{}),
		syncQueue:   make(chan string, 1),
	}

	w.bootstrapNetwork()

	operations := []func(){
		w.discoveryOperations,
		w.syncOperations,
		w.gcOperations,
	}

	g := len(operations)
	w.wg.Add(g)

	hasStarted := make(chan bool)
	for _, op := range operations {
		go func(op func()) {
			defer w.wg.Done()
			hasStarted <- true
			op()
		}(op)
	}
	for i := 0; i < g; i++ {
		<-hasStarted
	}

	return &w
}

// Shutdown terminates the background goroutines and waits for the in-flight
// work to finish.
func (w *Worker) Shutdown() {
	w.evHandler("worker: shutdown: started")
	defer w.evHandler("worker: shutdown: completed")

	close(w.shut)
	w.wg.Wait()
}

func (w *Worker) isShutdown() bool {
	select {
	case <-w.shut:
		return true
	default:
		return false
	}
}

// =============================================================================

// bootstrapNetwork makes first contact according to the bootstrap mode: a
// peer URL is handshaken and synced from, self starts a fresh network, and
// discover relies on the persisted peer table.
func (w *Worker) bootstrapNetwork() {
	switch w.bootstrap {
	case "", BootstrapSelf:
		w.evHandler("worker: bootstrap: standalone")

	case BootstrapDiscover:
		w.evHandler("worker: bootstrap: discovering from %d persisted peers", len(w.registry.All()))
		w.SignalSync("")

	default:
		w.evHandler("worker: bootstrap: contacting %s", w.bootstrap)
		ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
		defer cancel()

		if rec, err := w.handshake(ctx, w.bootstrap); err != nil {
			w.evHandler("worker: bootstrap: handshake: ERROR: %s", err)
		} else {
			w.SignalSync(rec.NodeID)
		}
	}
}

// discoveryOperations runs the periodic peer discovery loop.
func (w *Worker) discoveryOperations() {
	w.evHandler("worker: discoveryOperations: G started")
	defer w.evHandler("worker: discoveryOperations: G completed")

	ticker := time.NewTicker(discoveryInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if !w.isShutdown() {
				w.runDiscovery()
			}
		case <-w.shut:
			return
		}
	}
}

// syncOperations waits for sync triggers and runs one cycle at a time.
func (w *Worker) syncOperations() {
	w.evHandler("worker: syncOperations: G started")
	defer w.evHandler("worker: syncOperations: G completed")

	for {
		select {
		case nodeID := <-w.syncQueue:
			if !w.isShutdown() {
				if err := w.Sync(nodeID); err != nil {
					w.evHandler("worker: syncOperations: ERROR: %s", err)
				}
			}
		case <-w.shut:
			return
		}
	}
}

// gcOperations sweeps the pending pool on a timer.
func (w *Worker) gcOperations() {
	w.evHandler("worker: gcOperations: G started")
	defer w.evHandler("worker: gcOperations: G completed")

	ticker := time.NewTicker(pendingGCInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if w.isShutdown() {
				return
			}
			ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
			if err := w.state.ClearStalePending(ctx); err != nil {
				w.evHandler("worker: gcOperations: ERROR: %s", err)
			}
			cancel()
		case <-w.shut:
			return
		}
	}
}

// SignalSync queues a sync cycle against the given peer, or against a random
// peer when empty. A cycle already queued absorbs the signal; a signal sent
// while a cycle runs is queued and runs after it.
func (w *Worker) SignalSync(nodeID string) {
	select {
	case w.syncQueue <- nodeID:
	default:
	}
}

// runDiscovery handshakes a couple of random peers and triggers a sync when
// one of them has a longer chain.
func (w *Worker) runDiscovery() {
	w.evHandler("worker: runDiscovery: started")
	defer w.evHandler("worker: runDiscovery: completed")

	peers := w.registry.PickRandom(discoveryFanout, time.Now())
	if len(peers) == 0 {
		return
	}

	localHeight := w.state.Height()

	for _, rec := range peers {
		ctx, cancel := context.WithTimeout(context.Background(), ConnectionTimeout)
		result, err := w.handshake(ctx, rec.URL)
		cancel()

		if err != nil {
			w.evHandler("worker: runDiscovery: handshake %s: ERROR: %s", rec.NodeID[:10], err)
			continue
		}

		if result.Height > localHeight {
			w.evHandler("worker: runDiscovery: peer %s ahead: height[%d] local[%d]", result.NodeID[:10], result.Height, localHeight)
			w.SignalSync(result.NodeID)
		}
	}
}

// handshake performs the challenge and response exchange with a peer at the
// given URL and records it in the registry.
func (w *Worker) handshake(ctx context.Context, url string) (HandshakeResult, error) {
	c := newClient(url, w.registry.Identity(), w.nodeVersion)

	challenge, err := c.Challenge(ctx)
	if err != nil {
		return HandshakeResult{}, err
	}

	tip, haveTip := w.state.Tip()
	body := map[string]any{
		"challenge":    challenge,
		"url":          w.selfURL,
		"is_public":    w.isPublic,
		"node_version": w.nodeVersion,
		"height":       w.state.Height(),
	}
	if haveTip {
		body["last_block_hash"] = tip.Hash
	}

	result, err := c.HandshakeResponse(ctx, body)
	if err != nil {
		return HandshakeResult{}, err
	}

	if _, _, err := w.registry.Upsert(peer.Record{
		NodeID:      result.NodeID,
		Pubkey:      result.Pubkey,
		URL:         url,
		IsPublic:    result.IsPublic,
		NodeVersion: result.NodeVersion,
	}); err != nil {
		return HandshakeResult{}, err
	}

	return result, nil
}
