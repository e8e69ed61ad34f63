package state

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/The-Sycorax/denaro/foundation/blockchain/mempool"
	"github.com/The-Sycorax/denaro/foundation/blockchain/merkle"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
	"github.com/scylladb/go-set/strset"
	"github.com/shopspring/decimal"
)

// SubmitTransaction validates a transaction against the committed unspent
// set extended by the pending pool and admits it. Admission briefly takes the
// chain lock so it is serialised with block application.
func (s *State) SubmitTransaction(ctx context.Context, txHex string, propagationTime int64) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.admitTransaction(ctx, txHex, propagationTime)
}

func (s *State) admitTransaction(ctx context.Context, txHex string, propagationTime int64) (string, error) {
	t, err := tx.DecodeHex(txHex)
	if err != nil {
		return "", err
	}
	txHash, err := t.Hash()
	if err != nil {
		return "", err
	}

	if _, found, err := s.store.GetTransaction(ctx, txHash); err != nil {
		return "", err
	} else if found {
		return txHash, chain.ErrStale
	}

	// A known pending transaction just refreshes its propagation time.
	if _, found, err := s.store.GetPending(ctx, txHash); err != nil {
		return "", err
	} else if found {
		row := storage.PendingRow{TxHash: txHash, PropagationTime: propagationTime}
		if err := s.store.UpsertPending(ctx, row, nil); err != nil {
			return "", err
		}
		return txHash, nil
	}

	for _, in := range t.Inputs {
		reserved, err := s.store.IsOutputReserved(ctx, storage.Outpoint{TxHash: in.TxHash, Index: in.Index})
		if err != nil {
			return "", err
		}
		if reserved {
			return "", fmt.Errorf("input %s:%d reserved: %w", in.TxHash, in.Index, chain.ErrDoubleSpend)
		}
	}

	view, err := newPendingView(ctx, s.store)
	if err != nil {
		return "", err
	}
	fee, err := tx.Validate(t, view)
	if err != nil {
		return "", err
	}

	inputAddrs := make([]string, len(t.Inputs))
	reservations := make([]storage.Outpoint, len(t.Inputs))
	for i, in := range t.Inputs {
		out, err := view.Resolve(in.TxHash, in.Index)
		if err != nil {
			return "", err
		}
		inputAddrs[i] = out.Address
		reservations[i] = storage.Outpoint{TxHash: in.TxHash, Index: in.Index}
	}

	row := storage.PendingRow{
		TxHash:          txHash,
		TxHex:           txHex,
		InputsAddresses: inputAddrs,
		Fees:            fee.Decimal(),
		PropagationTime: propagationTime,
		TimeReceived:    time.Now().UTC().Unix(),
	}

	pool, err := s.store.ListPending(ctx, storage.PendingByAge)
	if err != nil {
		return "", err
	}
	if len(pool) >= genesis.MaxMempoolSize {
		victim, found := mempool.EvictionCandidate(pool, row)
		if !found {
			return "", fmt.Errorf("pool at %d entries: %w", len(pool), chain.ErrMempoolFull)
		}
		if err := s.store.DeletePending(ctx, victim); err != nil {
			return "", err
		}
		s.evHandler("state: admitTransaction: evicted[%s] for[%s]", victim, txHash)
	}

	if err := s.store.UpsertPending(ctx, row, reservations); err != nil {
		return "", err
	}

	s.evHandler("state: admitTransaction: pooled[%s] fee[%s]", txHash, fee)

	return txHash, nil
}

// =============================================================================

// MiningInfo is the block template handed to miners: the schedule difficulty
// for the next block, the block to build on, and a fee-ordered transaction
// selection within the block data budget.
type MiningInfo struct {
	Difficulty          decimal.Decimal
	LastBlock           *storage.BlockRow
	PendingTransactions []storage.PendingRow
	PendingHashes       []string
	MerkleRoot          string

	pendingCount int
}

// GetMiningInfo assembles the block template for the current tip. The
// template is cached until the tip changes or the number of pending
// transactions changes; a pool change that keeps the count does not rebuild
// it.
func (s *State) GetMiningInfo(ctx context.Context) (MiningInfo, error) {
	tip, haveTip := s.Tip()

	pool, err := s.store.ListPending(ctx, storage.PendingByFeeDensity)
	if err != nil {
		return MiningInfo{}, err
	}

	s.miningMu.Lock()
	defer s.miningMu.Unlock()

	if s.miningCache != nil && s.miningCache.pendingCount == len(pool) {
		return *s.miningCache, nil
	}

	var parent *blockMeta
	var lastBlock *storage.BlockRow
	if haveTip {
		meta := metaOfRow(tip)
		parent = &meta
		lastBlock = &tip
	}

	difficulty, err := s.expectedDifficulty(ctx, parent, nil)
	if err != nil {
		return MiningInfo{}, err
	}

	inUnspentSet := func(txHash string, index uint8) bool {
		r, exists, err := s.store.ResolveOutput(ctx, storage.Outpoint{TxHash: txHash, Index: index})
		return err == nil && exists && r.Unspent
	}
	sel := mempool.Select(pool, genesis.MaxTxDataSize, inUnspentSet)

	hashes := make([]string, len(sel.Rows))
	for i, row := range sel.Rows {
		hashes[i] = row.TxHash
	}
	root, err := merkle.Root(hashes)
	if err != nil {
		return MiningInfo{}, err
	}

	info := MiningInfo{
		Difficulty:          difficulty,
		LastBlock:           lastBlock,
		PendingTransactions: sel.Rows,
		PendingHashes:       hashes,
		MerkleRoot:          root,
		pendingCount:        len(pool),
	}
	s.miningCache = &info

	return info, nil
}

// =============================================================================

// ClearStalePending sweeps the pending pool, evicting transactions that
// conflict with each other or no longer validate against the committed
// unspent set. The sync and discovery worker runs this periodically.
func (s *State) ClearStalePending(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.store.ListPending(ctx, storage.PendingByAge)
	if err != nil {
		return err
	}

	used := strset.New()
	for _, row := range rows {
		t, err := tx.DecodeHex(row.TxHex)
		if err != nil {
			if err := s.store.DeletePending(ctx, row.TxHash); err != nil {
				return err
			}
			continue
		}

		conflict := false
		for _, in := range t.Inputs {
			if used.Has(tx.OutpointKey(in.TxHash, in.Index)) {
				conflict = true
				break
			}
		}
		if !conflict {
			for _, in := range t.Inputs {
				r, exists, err := s.store.ResolveOutput(ctx, storage.Outpoint{TxHash: in.TxHash, Index: in.Index})
				if err != nil {
					return err
				}
				if exists && !r.Unspent {
					conflict = true
					break
				}
			}
		}

		if conflict {
			if err := s.store.DeletePending(ctx, row.TxHash); err != nil {
				return err
			}
			s.evHandler("state: clearStalePending: removed[%s]", row.TxHash)
			continue
		}

		for _, in := range t.Inputs {
			used.Add(tx.OutpointKey(in.TxHash, in.Index))
		}
	}

	return nil
}

// IsStale reports whether an error marks input already seen rather than a
// validation failure.
func IsStale(err error) bool {
	return errors.Is(err, chain.ErrStale)
}
