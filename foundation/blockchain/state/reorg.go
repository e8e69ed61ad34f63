package state

import (
	"context"
	"fmt"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/block"
	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/consensus"
	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
)

// sideBlock is a structurally checked block parked on a non-canonical
// branch.
type sideBlock struct {
	meta       blockMeta
	content    block.Content
	contentHex string
	txsHex     []string
}

// sideCache holds competing branch blocks until they either win a
// reorganisation or fall too far behind the tip.
type sideCache struct {
	byHash map[string]sideBlock
}

func newSideCache() *sideCache {
	return &sideCache{byHash: make(map[string]sideBlock)}
}

func (sc *sideCache) add(sb sideBlock) {
	sc.byHash[sb.meta.Hash] = sb
}

func (sc *sideCache) get(hash string) (sideBlock, bool) {
	sb, found := sc.byHash[hash]
	return sb, found
}

func (sc *sideCache) remove(hash string) {
	delete(sc.byHash, hash)
}

// prune drops side blocks that can no longer win within the reorganisation
// depth limit.
func (sc *sideCache) prune(tipID uint64) {
	if tipID <= genesis.MaxReorgDepth {
		return
	}
	floor := tipID - genesis.MaxReorgDepth
	for hash, sb := range sc.byHash {
		if sb.meta.ID <= floor {
			delete(sc.byHash, hash)
		}
	}
}

// =============================================================================

// submitSideBlock handles a block that does not extend the tip: it attaches
// to a canonical ancestor or to a known side branch. The block is checked
// structurally, parked, and the branch it completes is weighed against the
// canonical chain.
func (s *State) submitSideBlock(ctx context.Context, contentHex string, content block.Content, hash string, txsHex []string) (chain.Result, error) {
	var parent blockMeta
	if row, found, err := s.store.GetBlockByHash(ctx, content.PreviousHash); err != nil {
		return chain.Result{}, err
	} else if found {
		parent = metaOfRow(row)
	} else if sb, found := s.side.get(content.PreviousHash); found {
		parent = sb.meta
	} else {
		return chain.Result{}, fmt.Errorf("no parent %s: %w", content.PreviousHash, chain.ErrOrphanBlock)
	}

	height := parent.ID + 1
	if s.tip.ID >= genesis.MaxReorgDepth && height <= s.tip.ID-genesis.MaxReorgDepth {
		return chain.Result{Outcome: chain.Stale}, chain.ErrStale
	}

	// Structural checks only: transactions are validated against the full
	// overlay if the branch ever wins.
	branchMap := s.branchMetas(content.PreviousHash)
	expected, err := s.expectedDifficulty(ctx, &parent, branchMap)
	if err != nil {
		return chain.Result{}, err
	}
	if !content.Difficulty.Equal(expected) {
		return chain.Result{}, fmt.Errorf("difficulty %s, schedule requires %s: %w", content.Difficulty, expected, chain.ErrBadDifficulty)
	}
	if !block.SatisfiesDifficulty(hash, parent.Hash, content.Difficulty) {
		return chain.Result{}, fmt.Errorf("hash %s does not satisfy difficulty %s: %w", hash, content.Difficulty, chain.ErrPoWInvalid)
	}
	now := uint32(time.Now().UTC().Unix())
	if err := consensus.ValidateTimestamp(height, content.Timestamp, parent.Timestamp, now); err != nil {
		return chain.Result{}, err
	}

	sb := sideBlock{
		meta:       blockMeta{ID: height, Hash: hash, Difficulty: content.Difficulty, Timestamp: content.Timestamp},
		content:    content,
		contentHex: contentHex,
		txsHex:     txsHex,
	}
	s.side.add(sb)

	branch, ancestor, err := s.walkBranch(ctx, sb)
	if err != nil {
		return chain.Result{}, err
	}

	heavier, err := s.branchIsHeavier(ctx, branch, ancestor)
	if err != nil {
		return chain.Result{}, err
	}
	if !heavier {
		s.evHandler("state: sideBlock: parked height[%d] blk[%s]", height, hash)
		return chain.Result{Outcome: chain.SideChain}, nil
	}

	return s.reorganize(ctx, branch, ancestor)
}

// branchMetas collects the metas of the side chain ending at the given hash,
// keyed by height. Canonical blocks are not included.
func (s *State) branchMetas(hash string) map[uint64]blockMeta {
	metas := make(map[uint64]blockMeta)
	for {
		sb, found := s.side.get(hash)
		if !found {
			return metas
		}
		metas[sb.meta.ID] = sb.meta
		hash = sb.content.PreviousHash
	}
}

// walkBranch walks a side branch back to its canonical ancestor and returns
// the branch oldest-first.
func (s *State) walkBranch(ctx context.Context, head sideBlock) ([]sideBlock, blockMeta, error) {
	var reversed []sideBlock
	sb := head
	for {
		reversed = append(reversed, sb)

		row, found, err := s.store.GetBlockByHash(ctx, sb.content.PreviousHash)
		if err != nil {
			return nil, blockMeta{}, err
		}
		if found {
			branch := make([]sideBlock, 0, len(reversed))
			for i := len(reversed) - 1; i >= 0; i-- {
				branch = append(branch, reversed[i])
			}
			return branch, metaOfRow(row), nil
		}

		parent, found := s.side.get(sb.content.PreviousHash)
		if !found {
			return nil, blockMeta{}, fmt.Errorf("branch detached at %s: %w", sb.content.PreviousHash, chain.ErrOrphanBlock)
		}
		sb = parent
	}
}

// branchIsHeavier compares the cumulative work of the branch against the
// canonical blocks it would replace. Work is the sum of 16^difficulty; on a
// tie the chain observed first wins.
func (s *State) branchIsHeavier(ctx context.Context, branch []sideBlock, ancestor blockMeta) (bool, error) {
	var branchWork float64
	for _, sb := range branch {
		branchWork += consensus.Work(sb.meta.Difficulty)
	}

	rows, err := s.store.GetBlockRange(ctx, ancestor.ID+1, s.tip.ID)
	if err != nil {
		return false, err
	}
	var canonicalWork float64
	for _, row := range rows {
		canonicalWork += consensus.Work(row.Difficulty)
	}

	return branchWork > canonicalWork, nil
}

// reorganize replaces the canonical suffix after the ancestor with the
// branch: undo blocks newest-first, apply branch blocks oldest-first, all in
// one unit of work. Any failure rolls the whole operation back and keeps the
// original tip.
func (s *State) reorganize(ctx context.Context, branch []sideBlock, ancestor blockMeta) (chain.Result, error) {
	depth := int(s.tip.ID - ancestor.ID)
	if depth > genesis.MaxReorgDepth {
		return chain.Result{Outcome: chain.Stale}, chain.ErrStale
	}

	s.evHandler("state: reorg: started: ancestor[%d] depth[%d] branch[%d]", ancestor.ID, depth, len(branch))

	undoRows, err := s.store.GetBlockRange(ctx, ancestor.ID+1, s.tip.ID)
	if err != nil {
		return chain.Result{}, err
	}

	// Everything the dying branch confirmed is collected up front so it can
	// be offered back to the pool after the switch.
	undoneBlocks := make(map[string]bool, len(undoRows))
	for _, row := range undoRows {
		undoneBlocks[row.Hash] = true
	}

	type undoTx struct {
		row     storage.TxRow
		decoded tx.Tx
	}
	txsByBlock := make(map[string][]undoTx, len(undoRows))
	var orphanedHex []string
	for _, row := range undoRows {
		txRows, err := s.store.GetBlockTransactions(ctx, row.Hash)
		if err != nil {
			return chain.Result{}, err
		}
		for _, tr := range txRows {
			t, err := tx.DecodeHex(tr.TxHex)
			if err != nil {
				return chain.Result{}, fmt.Errorf("decoding committed %s: %w", tr.TxHash, chain.ErrInternal)
			}
			txsByBlock[row.Hash] = append(txsByBlock[row.Hash], undoTx{row: tr, decoded: t})
			if !t.IsCoinbase() {
				orphanedHex = append(orphanedHex, tr.TxHex)
			}
		}
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return chain.Result{}, err
	}
	defer uow.Rollback(ctx)

	view := newOverlay(ctx, s.store)
	supply, err := s.supplyAmount(ctx)
	if err != nil {
		return chain.Result{}, err
	}

	// Undo newest-first: every output the dying blocks produced disappears,
	// every output they consumed is rematerialised unless its producer dies
	// with them.
	for i := len(undoRows) - 1; i >= 0; i-- {
		row := undoRows[i]
		for _, ut := range txsByBlock[row.Hash] {
			for j := range ut.decoded.Outputs {
				view.markDeleted(storage.Outpoint{TxHash: ut.row.TxHash, Index: uint8(j)})
			}
		}
		for _, ut := range txsByBlock[row.Hash] {
			for _, in := range ut.decoded.Inputs {
				producer, found, err := s.store.GetTransaction(ctx, in.TxHash)
				if err != nil {
					return chain.Result{}, err
				}
				if !found || int(in.Index) >= len(producer.OutputsAddresses) {
					return chain.Result{}, fmt.Errorf("producer of %s:%d missing: %w", in.TxHash, in.Index, chain.ErrInternal)
				}
				if undoneBlocks[producer.BlockHash] {
					continue
				}

				op := storage.Outpoint{TxHash: in.TxHash, Index: in.Index}
				view.markAvailable(op, tx.Output{
					Address: producer.OutputsAddresses[in.Index],
					Amount:  currency.Amount(producer.OutputsAmounts[in.Index]),
				})
				if err := uow.CreateOutput(ctx, op, producer.OutputsAddresses[in.Index]); err != nil {
					return chain.Result{}, err
				}
			}
		}

		if err := uow.DeleteBlock(ctx, row.ID); err != nil {
			return chain.Result{}, err
		}

		reward, err := currency.FromDecimal(row.Reward)
		if err != nil {
			return chain.Result{}, err
		}
		supply -= reward
	}

	// Apply the branch oldest-first through the full validation pipeline.
	parent := ancestor
	branchMap := make(map[uint64]blockMeta)
	var spent []storage.Outpoint
	for _, sb := range branch {
		expected, err := s.expectedDifficulty(ctx, &parent, branchMap)
		if err != nil {
			return chain.Result{}, err
		}

		c, err := s.validateBlock(sb.contentHex, sb.content, sb.meta.Hash, sb.txsHex, &parent, expected, supply, view)
		if err != nil {
			return chain.Result{}, fmt.Errorf("branch block %d: %w", sb.meta.ID, err)
		}
		if err := stageCandidate(ctx, uow, c); err != nil {
			return chain.Result{}, err
		}

		spent = append(spent, c.spent...)
		supply += c.reward
		parent = c.meta
		branchMap[c.meta.ID] = c.meta
	}

	if err := uow.Commit(ctx); err != nil {
		return chain.Result{}, err
	}

	newTip, found, err := s.store.GetTip(ctx)
	if err != nil || !found {
		return chain.Result{}, fmt.Errorf("tip missing after reorg: %w", chain.ErrInternal)
	}
	s.setTip(newTip)

	for _, sb := range branch {
		s.side.remove(sb.meta.Hash)
	}
	s.side.prune(newTip.ID)

	// Orphaned transactions are re-admitted opportunistically; whatever no
	// longer validates is gone.
	for _, txHex := range orphanedHex {
		if _, err := s.admitTransaction(ctx, txHex, time.Now().UTC().Unix()); err != nil {
			continue
		}
	}
	s.evictConflicting(ctx, spent)

	s.evHandler("state: reorg: completed: tip[%d] blk[%s] undone[%d]", newTip.ID, newTip.Hash, depth)

	return chain.Result{Outcome: chain.Reorg, Depth: depth}, nil
}
