package state_test

import (
	"context"
	"crypto/ecdsa"
	"errors"
	"testing"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/block"
	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/The-Sycorax/denaro/foundation/blockchain/merkle"
	"github.com/The-Sycorax/denaro/foundation/blockchain/signature"
	"github.com/The-Sycorax/denaro/foundation/blockchain/state"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage/memory"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
	"github.com/shopspring/decimal"
)

// Success and failure markers.
const (
	success = "✓"
	failed  = "✗"
)

// testDifficulty keeps proof of work cheap enough for the test suite: a one
// character prefix solves in a handful of hashes.
var testDifficulty = decimal.RequireFromString("1.0")

func newTestState(t *testing.T) (*state.State, *memory.Memory) {
	t.Helper()

	saved := genesis.StartDifficulty
	genesis.StartDifficulty = testDifficulty
	t.Cleanup(func() { genesis.StartDifficulty = saved })

	store := memory.New()
	s, err := state.New(context.Background(), state.Config{Store: store})
	if err != nil {
		t.Fatalf("\t%s\tShould be able to construct the state: %v", failed, err)
	}

	return s, store
}

func newKey(t *testing.T) (*ecdsa.PrivateKey, string) {
	t.Helper()
	privateKey, err := signature.GenerateKey()
	if err != nil {
		t.Fatalf("\t%s\tShould be able to generate a key: %v", failed, err)
	}
	return privateKey, signature.AddressFromPublicKey(&privateKey.PublicKey)
}

// mineBlock searches a nonce satisfying the difficulty predicate for a block
// on the given parent and returns the content hex plus transaction hex.
func mineBlock(t *testing.T, parentHash string, parentTS uint32, difficulty decimal.Decimal, miner string, txs []tx.Tx) (string, []string) {
	t.Helper()

	var txsHex []string
	var hashes []string
	for _, trn := range txs {
		h, err := trn.Hash()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to hash a transaction: %v", failed, err)
		}
		hashes = append(hashes, h)
		txHex, err := trn.EncodeHex()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to encode a transaction: %v", failed, err)
		}
		txsHex = append(txsHex, txHex)
	}

	root, err := merkle.Root(hashes)
	if err != nil {
		t.Fatalf("\t%s\tShould be able to compute the digest: %v", failed, err)
	}

	content := block.Content{
		PreviousHash: parentHash,
		MinerAddress: miner,
		MerkleRoot:   root,
		Timestamp:    parentTS + 1,
		Difficulty:   difficulty,
	}

	for nonce := uint32(0); ; nonce++ {
		content.Nonce = nonce
		contentHex, err := content.EncodeHex()
		if err != nil {
			t.Fatalf("\t%s\tShould be able to encode content: %v", failed, err)
		}
		hash, err := block.HashContent(contentHex)
		if err != nil {
			t.Fatalf("\t%s\tShould be able to hash content: %v", failed, err)
		}
		if block.SatisfiesDifficulty(hash, parentHash, difficulty) {
			return contentHex, txsHex
		}
	}
}

// genesisTimestamp anchors test chains a little behind wall time so child
// blocks stay within the future skew bound.
func genesisTimestamp() uint32 {
	return uint32(time.Now().UTC().Unix()) - 60
}

func TestGenesisAccept(t *testing.T) {
	t.Log("Given an empty database and a valid genesis block.")
	{
		s, _ := newTestState(t)
		ctx := context.Background()
		_, miner := newKey(t)

		contentHex, txsHex := mineBlock(t, genesis.PreviousHashSentinel(), genesisTimestamp(), testDifficulty, miner, nil)

		result, err := s.SubmitBlock(ctx, contentHex, txsHex)
		if err != nil {
			t.Fatalf("\t%s\tShould accept the genesis block: %v", failed, err)
		}
		if result.Outcome != chain.Applied {
			t.Fatalf("\t%s\tShould report Applied, got %s.", failed, result.Outcome)
		}
		t.Logf("\t%s\tShould accept the genesis block.", success)

		if h := s.Height(); h != 1 {
			t.Fatalf("\t%s\tShould be at height 1, got %d.", failed, h)
		}
		t.Logf("\t%s\tShould be at height 1.", success)

		supply, err := s.Supply(ctx)
		if err != nil {
			t.Fatalf("\t%s\tShould read the supply: %v", failed, err)
		}
		if !supply.Equal(decimal.RequireFromString("64")) {
			t.Fatalf("\t%s\tShould have supply 64, got %s.", failed, supply)
		}
		t.Logf("\t%s\tShould have supply 64.", success)
	}
}

func TestLinearExtend(t *testing.T) {
	t.Log("Given a chain at height 1 and a valid successor.")
	{
		s, _ := newTestState(t)
		ctx := context.Background()
		_, miner := newKey(t)

		g, _ := mineBlock(t, genesis.PreviousHashSentinel(), genesisTimestamp(), testDifficulty, miner, nil)
		if _, err := s.SubmitBlock(ctx, g, nil); err != nil {
			t.Fatalf("\t%s\tShould accept the genesis block: %v", failed, err)
		}

		tip, _ := s.Tip()
		b2, _ := mineBlock(t, tip.Hash, uint32(tip.Timestamp), testDifficulty, miner, nil)
		if _, err := s.SubmitBlock(ctx, b2, nil); err != nil {
			t.Fatalf("\t%s\tShould accept block 2: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept block 2.", success)

		if h := s.Height(); h != 2 {
			t.Fatalf("\t%s\tShould be at height 2, got %d.", failed, h)
		}
		supply, _ := s.Supply(ctx)
		if !supply.Equal(decimal.RequireFromString("128")) {
			t.Fatalf("\t%s\tShould have supply 128, got %s.", failed, supply)
		}
		t.Logf("\t%s\tShould be at height 2 with supply 128.", success)

		if _, err := s.SubmitBlock(ctx, b2, nil); !errors.Is(err, chain.ErrStale) {
			t.Fatalf("\t%s\tShould report Stale for a duplicate: %v", failed, err)
		}
		t.Logf("\t%s\tShould report Stale for a duplicate.", success)
	}
}

func TestBadDifficultyReject(t *testing.T) {
	t.Log("Given a block whose difficulty deviates from the schedule.")
	{
		s, _ := newTestState(t)
		ctx := context.Background()
		_, miner := newKey(t)

		g, _ := mineBlock(t, genesis.PreviousHashSentinel(), genesisTimestamp(), testDifficulty, miner, nil)
		if _, err := s.SubmitBlock(ctx, g, nil); err != nil {
			t.Fatalf("\t%s\tShould accept the genesis block: %v", failed, err)
		}

		tip, _ := s.Tip()
		bad, _ := mineBlock(t, tip.Hash, uint32(tip.Timestamp), decimal.RequireFromString("2.0"), miner, nil)

		if _, err := s.SubmitBlock(ctx, bad, nil); !errors.Is(err, chain.ErrBadDifficulty) {
			t.Fatalf("\t%s\tShould report BadDifficulty: %v", failed, err)
		}
		t.Logf("\t%s\tShould report BadDifficulty.", success)

		if h := s.Height(); h != 1 {
			t.Fatalf("\t%s\tShould leave the chain unchanged, height %d.", failed, h)
		}
		t.Logf("\t%s\tShould leave the chain unchanged.", success)
	}
}

func TestOrphanReject(t *testing.T) {
	t.Log("Given a block whose parent is unknown.")
	{
		s, _ := newTestState(t)
		ctx := context.Background()
		_, miner := newKey(t)

		unknown := signature.Hash([]byte("no such block"))
		orphan, _ := mineBlock(t, unknown, genesisTimestamp(), testDifficulty, miner, nil)

		if _, err := s.SubmitBlock(ctx, orphan, nil); !errors.Is(err, chain.ErrOrphanBlock) {
			t.Fatalf("\t%s\tShould report OrphanBlock: %v", failed, err)
		}
		t.Logf("\t%s\tShould report OrphanBlock.", success)
	}
}

// coinbaseOf digs the coinbase transaction out of a committed block.
func coinbaseOf(ctx context.Context, t *testing.T, s *state.State, blockHash string) (string, tx.Tx) {
	t.Helper()

	rows, err := s.GetBlockTransactions(ctx, blockHash)
	if err != nil || len(rows) == 0 {
		t.Fatalf("\t%s\tShould find the block's transactions: %v", failed, err)
	}
	for _, row := range rows {
		trn, err := tx.DecodeHex(row.TxHex)
		if err != nil {
			t.Fatalf("\t%s\tShould decode a committed transaction: %v", failed, err)
		}
		if trn.IsCoinbase() {
			return row.TxHash, trn
		}
	}

	t.Fatalf("\t%s\tShould find a coinbase in block %s.", failed, blockHash)
	return "", tx.Tx{}
}

func TestMempoolDoubleSpendReject(t *testing.T) {
	t.Log("Given two pending transactions spending the same output.")
	{
		s, _ := newTestState(t)
		ctx := context.Background()
		minerKey, miner := newKey(t)
		_, dest := newKey(t)

		g, _ := mineBlock(t, genesis.PreviousHashSentinel(), genesisTimestamp(), testDifficulty, miner, nil)
		if _, err := s.SubmitBlock(ctx, g, nil); err != nil {
			t.Fatalf("\t%s\tShould accept the genesis block: %v", failed, err)
		}
		tip, _ := s.Tip()
		cbHash, _ := coinbaseOf(ctx, t, s, tip.Hash)

		t1 := tx.New([]tx.Input{{TxHash: cbHash, Index: 0}}, []tx.Output{{Address: dest, Amount: 63_000_000}}, nil)
		if err := t1.Sign(minerKey, []string{miner}); err != nil {
			t.Fatalf("\t%s\tShould sign T1: %v", failed, err)
		}
		t1Hex, _ := t1.EncodeHex()

		if _, err := s.SubmitTransaction(ctx, t1Hex, time.Now().Unix()); err != nil {
			t.Fatalf("\t%s\tShould admit T1: %v", failed, err)
		}
		t.Logf("\t%s\tShould admit T1.", success)

		t2 := tx.New([]tx.Input{{TxHash: cbHash, Index: 0}}, []tx.Output{{Address: dest, Amount: 62_000_000}}, nil)
		if err := t2.Sign(minerKey, []string{miner}); err != nil {
			t.Fatalf("\t%s\tShould sign T2: %v", failed, err)
		}
		t2Hex, _ := t2.EncodeHex()

		if _, err := s.SubmitTransaction(ctx, t2Hex, time.Now().Unix()); !errors.Is(err, chain.ErrDoubleSpend) {
			t.Fatalf("\t%s\tShould reject T2 with DoubleSpend: %v", failed, err)
		}
		t.Logf("\t%s\tShould reject T2 with DoubleSpend.", success)
	}
}

func TestReorgDepthTwo(t *testing.T) {
	t.Log("Given a two block chain and a heavier competing branch.")
	{
		s, _ := newTestState(t)
		ctx := context.Background()
		minerKey, miner := newKey(t)
		_, rival := newKey(t)
		_, dest := newKey(t)

		// Chain A: genesis A1 then A2 confirming a spend of A1's coinbase.
		a1, _ := mineBlock(t, genesis.PreviousHashSentinel(), genesisTimestamp(), testDifficulty, miner, nil)
		if _, err := s.SubmitBlock(ctx, a1, nil); err != nil {
			t.Fatalf("\t%s\tShould accept A1: %v", failed, err)
		}
		a1Row, _ := s.Tip()
		cbHash, _ := coinbaseOf(ctx, t, s, a1Row.Hash)

		spend := tx.New([]tx.Input{{TxHash: cbHash, Index: 0}}, []tx.Output{{Address: dest, Amount: 63_000_000}}, nil)
		if err := spend.Sign(minerKey, []string{miner}); err != nil {
			t.Fatalf("\t%s\tShould sign the spend: %v", failed, err)
		}
		spendHash, _ := spend.Hash()

		a2, a2txs := mineBlock(t, a1Row.Hash, uint32(a1Row.Timestamp), testDifficulty, miner, []tx.Tx{spend})
		if _, err := s.SubmitBlock(ctx, a2, a2txs); err != nil {
			t.Fatalf("\t%s\tShould accept A2: %v", failed, err)
		}
		t.Logf("\t%s\tShould accept chain A at height 2.", success)

		// Branch B: B2 and B3 on A1, with more cumulative work.
		b2, _ := mineBlock(t, a1Row.Hash, uint32(a1Row.Timestamp), testDifficulty, rival, nil)
		result, err := s.SubmitBlock(ctx, b2, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould park B2: %v", failed, err)
		}
		if result.Outcome != chain.SideChain {
			t.Fatalf("\t%s\tShould report SideChain for B2, got %s.", failed, result.Outcome)
		}
		t.Logf("\t%s\tShould park B2 as a side chain.", success)

		b2Hash, err := block.HashContent(b2)
		if err != nil {
			t.Fatalf("\t%s\tShould hash B2: %v", failed, err)
		}
		b2Content, _ := block.DecodeContent(b2)

		b3, _ := mineBlock(t, b2Hash, b2Content.Timestamp, testDifficulty, rival, nil)
		result, err = s.SubmitBlock(ctx, b3, nil)
		if err != nil {
			t.Fatalf("\t%s\tShould reorganize onto branch B: %v", failed, err)
		}
		if result.Outcome != chain.Reorg || result.Depth != 1 {
			t.Fatalf("\t%s\tShould report a depth 1 reorg, got %s depth %d.", failed, result.Outcome, result.Depth)
		}
		t.Logf("\t%s\tShould reorganize onto branch B.", success)

		if h := s.Height(); h != 3 {
			t.Fatalf("\t%s\tShould be at height 3, got %d.", failed, h)
		}
		tip, _ := s.Tip()
		if tip.MinerAddress != rival {
			t.Fatalf("\t%s\tShould have the rival miner's block at the tip.", failed)
		}
		t.Logf("\t%s\tShould have branch B at the tip.", success)

		// The orphaned spend returns to the pool; its input is unspent again.
		pending, err := s.ListPending(ctx)
		if err != nil {
			t.Fatalf("\t%s\tShould list the pool: %v", failed, err)
		}
		foundSpend := false
		for _, row := range pending {
			if row.TxHash == spendHash {
				foundSpend = true
			}
		}
		if !foundSpend {
			t.Fatalf("\t%s\tShould re-admit the orphaned transaction.", failed)
		}
		t.Logf("\t%s\tShould re-admit the orphaned transaction.", success)

		supply, _ := s.Supply(ctx)
		if !supply.Equal(decimal.RequireFromString("192")) {
			t.Fatalf("\t%s\tShould have supply 192 after the reorg, got %s.", failed, supply)
		}
		t.Logf("\t%s\tShould have supply 192 after the reorg.", success)
	}
}

func TestMiningInfo(t *testing.T) {
	t.Log("Given the need for a block template.")
	{
		s, _ := newTestState(t)
		ctx := context.Background()
		_, miner := newKey(t)

		mi, err := s.GetMiningInfo(ctx)
		if err != nil {
			t.Fatalf("\t%s\tShould build a template on an empty chain: %v", failed, err)
		}
		if !mi.Difficulty.Equal(testDifficulty) {
			t.Fatalf("\t%s\tShould use the start difficulty, got %s.", failed, mi.Difficulty)
		}
		if mi.LastBlock != nil {
			t.Fatalf("\t%s\tShould have no last block on an empty chain.", failed)
		}
		t.Logf("\t%s\tShould build an empty chain template.", success)

		g, _ := mineBlock(t, genesis.PreviousHashSentinel(), genesisTimestamp(), testDifficulty, miner, nil)
		if _, err := s.SubmitBlock(ctx, g, nil); err != nil {
			t.Fatalf("\t%s\tShould accept the genesis block: %v", failed, err)
		}

		mi, err = s.GetMiningInfo(ctx)
		if err != nil {
			t.Fatalf("\t%s\tShould rebuild the template: %v", failed, err)
		}
		if mi.LastBlock == nil || mi.LastBlock.ID != 1 {
			t.Fatalf("\t%s\tShould template on top of block 1.", failed)
		}
		t.Logf("\t%s\tShould template on top of block 1.", success)
	}
}
