package state

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/block"
	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/consensus"
	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/The-Sycorax/denaro/foundation/blockchain/merkle"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
	"github.com/scylladb/go-set/strset"
	"github.com/shopspring/decimal"
)

// blockMeta carries the block fields validation chains on.
type blockMeta struct {
	ID         uint64
	Hash       string
	Difficulty decimal.Decimal
	Timestamp  uint32
}

func metaOfRow(row storage.BlockRow) blockMeta {
	return blockMeta{
		ID:         row.ID,
		Hash:       row.Hash,
		Difficulty: row.Difficulty,
		Timestamp:  uint32(row.Timestamp),
	}
}

// candidate is a fully validated block ready to be staged into a unit of
// work.
type candidate struct {
	meta       blockMeta
	content    block.Content
	contentHex string

	coinbase    *tx.Tx
	regular     []tx.Tx
	regularHash []string
	regularHex  []string
	regularFees []currency.Amount
	inputAddrs  [][]string
	spent       []storage.Outpoint

	fees   currency.Amount
	reward currency.Amount
}

// SubmitBlock runs a decoded block through the consensus pipeline: parent
// lookup, schedule checks, proof of work, transaction validation, and then
// either tip extension, reorganisation, or side-branch storage.
func (s *State) SubmitBlock(ctx context.Context, contentHex string, txsHex []string) (chain.Result, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.submitBlock(ctx, contentHex, txsHex)
}

// SubmitBlocks accepts a contiguous run of blocks, aborting on the first
// invalid one; a stale block, such as one already held, is skipped. Blocks
// already committed before the failure stay committed. It returns the number
// of blocks processed before the failure, skipped ones included.
func (s *State) SubmitBlocks(ctx context.Context, blocks []BlockSubmission) (int, error) {
	if len(blocks) > genesis.MaxBlocksPerSubmission {
		return 0, fmt.Errorf("%d blocks in one submission: %w", len(blocks), chain.ErrInvalidStructure)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for i, b := range blocks {
		if _, err := s.submitBlock(ctx, b.Content, b.Transactions); err != nil {
			if IsStale(err) {
				continue
			}
			return i, err
		}
	}

	return len(blocks), nil
}

// BlockSubmission is one element of a bulk submission.
type BlockSubmission struct {
	Content      string
	Transactions []string
}

func (s *State) submitBlock(ctx context.Context, contentHex string, txsHex []string) (chain.Result, error) {
	content, err := block.DecodeContent(contentHex)
	if err != nil {
		return chain.Result{}, err
	}
	hash, err := block.HashContent(contentHex)
	if err != nil {
		return chain.Result{}, err
	}

	if _, found, err := s.store.GetBlockByHash(ctx, hash); err != nil {
		return chain.Result{}, err
	} else if found {
		return chain.Result{Outcome: chain.Stale}, chain.ErrStale
	}

	switch {

	// Empty chain: only the genesis block connects.
	case !s.haveTip:
		if content.PreviousHash != genesis.PreviousHashSentinel() {
			return chain.Result{}, fmt.Errorf("no parent %s: %w", content.PreviousHash, chain.ErrOrphanBlock)
		}
		return s.extendTip(ctx, contentHex, content, hash, txsHex, nil)

	// The usual case: the block extends the canonical tip.
	case content.PreviousHash == s.tip.Hash:
		parent := metaOfRow(s.tip)
		return s.extendTip(ctx, contentHex, content, hash, txsHex, &parent)
	}

	// The block attaches somewhere else: a canonical ancestor or a known
	// side branch.
	return s.submitSideBlock(ctx, contentHex, content, hash, txsHex)
}

// extendTip validates and applies a block on top of the current tip. A nil
// parent means genesis.
func (s *State) extendTip(ctx context.Context, contentHex string, content block.Content, hash string, txsHex []string, parent *blockMeta) (chain.Result, error) {
	expected, err := s.expectedDifficulty(ctx, parent, nil)
	if err != nil {
		return chain.Result{}, err
	}

	supply, err := s.supplyAmount(ctx)
	if err != nil {
		return chain.Result{}, err
	}

	view := newOverlay(ctx, s.store)
	c, err := s.validateBlock(contentHex, content, hash, txsHex, parent, expected, supply, view)
	if err != nil {
		return chain.Result{}, err
	}

	uow, err := s.store.Begin(ctx)
	if err != nil {
		return chain.Result{}, err
	}
	defer uow.Rollback(ctx)

	if err := stageCandidate(ctx, uow, c); err != nil {
		return chain.Result{}, err
	}
	if err := uow.Commit(ctx); err != nil {
		return chain.Result{}, err
	}

	s.setTip(rowOfCandidate(c))
	s.evHandler("state: extendTip: height[%d] blk[%s] txs[%d]", c.meta.ID, c.meta.Hash, len(c.regular))

	s.evictConflicting(ctx, c.spent)
	s.side.prune(s.tip.ID)

	return chain.Result{Outcome: chain.Applied}, nil
}

// validateBlock performs every consensus check for a block whose parent
// context is known and returns the staging candidate. The overlay view and
// the supply must reflect the chain state at the parent.
func (s *State) validateBlock(contentHex string, content block.Content, hash string, txsHex []string, parent *blockMeta, expectedDifficulty decimal.Decimal, supply currency.Amount, view *overlay) (candidate, error) {
	height := uint64(1)
	parentHash := genesis.PreviousHashSentinel()
	parentTS := uint32(0)
	if parent != nil {
		height = parent.ID + 1
		parentHash = parent.Hash
		parentTS = parent.Timestamp
	}

	if content.PreviousHash != parentHash {
		return candidate{}, fmt.Errorf("previous hash mismatch: %w", chain.ErrOrphanBlock)
	}

	now := uint32(time.Now().UTC().Unix())
	if err := consensus.ValidateTimestamp(height, content.Timestamp, parentTS, now); err != nil {
		return candidate{}, err
	}

	if !content.Difficulty.Equal(expectedDifficulty) {
		return candidate{}, fmt.Errorf("difficulty %s, schedule requires %s: %w", content.Difficulty, expectedDifficulty, chain.ErrBadDifficulty)
	}

	if !block.SatisfiesDifficulty(hash, parentHash, content.Difficulty) {
		return candidate{}, fmt.Errorf("hash %s does not satisfy difficulty %s: %w", hash, content.Difficulty, chain.ErrPoWInvalid)
	}

	var txDataSize int
	for _, h := range txsHex {
		txDataSize += len(h)
	}
	if txDataSize > genesis.MaxTxDataSize {
		return candidate{}, fmt.Errorf("transaction data of %d hex chars: %w", txDataSize, chain.ErrBlockTooLarge)
	}

	c := candidate{
		meta:       blockMeta{ID: height, Hash: hash, Difficulty: content.Difficulty, Timestamp: content.Timestamp},
		content:    content,
		contentHex: contentHex,
		regularHex: txsHex,
	}

	seen := strset.New()
	for _, h := range txsHex {
		t, err := tx.DecodeHex(h)
		if err != nil {
			return candidate{}, err
		}
		if t.IsCoinbase() {
			return candidate{}, fmt.Errorf("submitted coinbase: %w", chain.ErrInvalidStructure)
		}
		txHash, err := t.Hash()
		if err != nil {
			return candidate{}, err
		}
		if seen.Has(txHash) {
			return candidate{}, fmt.Errorf("duplicate transaction %s: %w", txHash, chain.ErrInvalidStructure)
		}
		seen.Add(txHash)

		c.regular = append(c.regular, t)
		c.regularHash = append(c.regularHash, txHash)
	}

	root, err := merkle.Root(c.regularHash)
	if err != nil {
		return candidate{}, err
	}
	if root != content.MerkleRoot {
		return candidate{}, fmt.Errorf("transaction digest mismatch: %w", chain.ErrInvalidStructure)
	}

	// Validate in block order against the overlay so intra-block spends
	// resolve and conflicting spends surface as double spends.
	for i, t := range c.regular {
		fee, err := tx.Validate(t, view)
		if err != nil {
			return candidate{}, fmt.Errorf("transaction %s: %w", c.regularHash[i], err)
		}

		addrs := make([]string, len(t.Inputs))
		for j, in := range t.Inputs {
			out, err := view.Resolve(in.TxHash, in.Index)
			if err != nil {
				return candidate{}, fmt.Errorf("transaction %s input %d: %w", c.regularHash[i], j, err)
			}
			addrs[j] = out.Address

			op := storage.Outpoint{TxHash: in.TxHash, Index: in.Index}
			view.markSpent(op)
			c.spent = append(c.spent, op)
		}
		c.inputAddrs = append(c.inputAddrs, addrs)

		if err := view.addTxOutputs(t); err != nil {
			return candidate{}, err
		}

		c.regularFees = append(c.regularFees, fee)
		c.fees += fee
	}

	c.reward = consensus.CappedReward(height, supply)

	if minted := c.reward + c.fees; minted > 0 {
		cb := coinbaseFor(hash, content.MinerAddress, minted)
		if err := tx.ValidateCoinbase(cb, minted); err != nil {
			return candidate{}, err
		}
		c.coinbase = &cb
		if err := view.addTxOutputs(cb); err != nil {
			return candidate{}, err
		}
	}

	return c, nil
}

// coinbaseFor builds the minting transaction of a block. The block hash is
// carried in the message so the coinbase hash is unique per block.
func coinbaseFor(blockHash string, minerAddress string, amount currency.Amount) tx.Tx {
	raw, _ := hex.DecodeString(blockHash)
	return tx.New(nil, []tx.Output{{Address: minerAddress, Amount: amount}}, raw)
}

// stageCandidate stages every mutation of a validated block into the unit of
// work: the block row, its transactions, the consumed and created outputs,
// and eviction of the pending transactions it confirms.
func stageCandidate(ctx context.Context, uow storage.UnitOfWork, c candidate) error {
	if err := uow.InsertBlock(ctx, rowOfCandidate(c)); err != nil {
		return err
	}

	now := time.Now().UTC().Unix()
	var txRows []storage.TxRow

	ordered := make([]tx.Tx, 0, len(c.regular)+1)
	hashes := make([]string, 0, len(c.regular)+1)
	if c.coinbase != nil {
		cbHash, err := c.coinbase.Hash()
		if err != nil {
			return err
		}
		cbHex, err := c.coinbase.EncodeHex()
		if err != nil {
			return err
		}
		ordered = append(ordered, *c.coinbase)
		hashes = append(hashes, cbHash)
		txRows = append(txRows, storage.TxRow{
			BlockHash:        c.meta.Hash,
			TxHash:           cbHash,
			TxHex:            cbHex,
			OutputsAddresses: outputAddresses(*c.coinbase),
			OutputsAmounts:   outputAmounts(*c.coinbase),
			Fees:             decimal.Zero,
			TimeReceived:     now,
		})
		now++
	}

	for i, t := range c.regular {
		ordered = append(ordered, t)
		hashes = append(hashes, c.regularHash[i])
		txRows = append(txRows, storage.TxRow{
			BlockHash:        c.meta.Hash,
			TxHash:           c.regularHash[i],
			TxHex:            c.regularHex[i],
			InputsAddresses:  c.inputAddrs[i],
			OutputsAddresses: outputAddresses(t),
			OutputsAmounts:   outputAmounts(t),
			Fees:             c.regularFees[i].Decimal(),
			TimeReceived:     now,
		})
		now++
	}

	if err := uow.InsertTransactions(ctx, txRows); err != nil {
		return err
	}

	// Spend and create in block order so intra-block references stay valid.
	for i, t := range ordered {
		for _, in := range t.Inputs {
			if err := uow.SpendOutput(ctx, storage.Outpoint{TxHash: in.TxHash, Index: in.Index}); err != nil {
				return err
			}
		}
		for j, out := range t.Outputs {
			if err := uow.CreateOutput(ctx, storage.Outpoint{TxHash: hashes[i], Index: uint8(j)}, out.Address); err != nil {
				return err
			}
		}
	}

	for _, h := range c.regularHash {
		if err := uow.DeletePending(ctx, h); err != nil {
			return err
		}
	}

	return nil
}

// rowOfCandidate converts a validated block into its storage row.
func rowOfCandidate(c candidate) storage.BlockRow {
	return storage.BlockRow{
		ID:           c.meta.ID,
		Hash:         c.meta.Hash,
		Content:      c.contentHex,
		MinerAddress: c.content.MinerAddress,
		Nonce:        uint64(c.content.Nonce),
		Difficulty:   c.content.Difficulty,
		Reward:       c.reward.Decimal(),
		Timestamp:    uint64(c.content.Timestamp),
	}
}

// expectedDifficulty computes the difficulty the schedule requires of the
// block after the parent. The branch map supplies timestamps for window
// blocks replaced during a reorganisation.
func (s *State) expectedDifficulty(ctx context.Context, parent *blockMeta, branch map[uint64]blockMeta) (decimal.Decimal, error) {
	if parent == nil {
		return genesis.StartDifficulty, nil
	}
	if parent.ID < genesis.BlocksPerAdjustment || parent.ID%genesis.BlocksPerAdjustment != 0 {
		return consensus.NextDifficulty(parent.ID, parent.Difficulty, 0, 0), nil
	}

	firstID := parent.ID - genesis.BlocksPerAdjustment + 1
	var firstTS uint32
	if bm, found := branch[firstID]; found {
		firstTS = bm.Timestamp
	} else {
		row, found, err := s.store.GetBlockByHeight(ctx, firstID)
		if err != nil {
			return decimal.Zero, err
		}
		if !found {
			return decimal.Zero, fmt.Errorf("window block %d missing: %w", firstID, chain.ErrInternal)
		}
		firstTS = uint32(row.Timestamp)
	}

	return consensus.NextDifficulty(parent.ID, parent.Difficulty, firstTS, parent.Timestamp), nil
}

// evictConflicting removes pending transactions whose inputs were consumed
// by a just-committed block.
func (s *State) evictConflicting(ctx context.Context, spent []storage.Outpoint) {
	if len(spent) == 0 {
		return
	}

	spentSet := strset.NewWithSize(len(spent))
	for _, op := range spent {
		spentSet.Add(tx.OutpointKey(op.TxHash, op.Index))
	}

	rows, err := s.store.ListPending(ctx, storage.PendingByAge)
	if err != nil {
		s.evHandler("state: evictConflicting: ERROR: %s", err)
		return
	}

	for _, row := range rows {
		t, err := tx.DecodeHex(row.TxHex)
		if err != nil {
			continue
		}
		for _, in := range t.Inputs {
			if spentSet.Has(tx.OutpointKey(in.TxHash, in.Index)) {
				if err := s.store.DeletePending(ctx, row.TxHash); err != nil {
					s.evHandler("state: evictConflicting: ERROR: %s", err)
				}
				break
			}
		}
	}
}

// outputAddresses denormalises a transaction's output addresses.
func outputAddresses(t tx.Tx) []string {
	out := make([]string, len(t.Outputs))
	for i, o := range t.Outputs {
		out[i] = o.Address
	}
	return out
}

// outputAmounts denormalises a transaction's output amounts in smallest
// units.
func outputAmounts(t tx.Tx) []int64 {
	out := make([]int64, len(t.Outputs))
	for i, o := range t.Outputs {
		out[i] = int64(o.Amount)
	}
	return out
}
