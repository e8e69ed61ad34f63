// Package state is the core API for the blockchain node. It owns the chain
// lock, drives block application and reorganisation, and keeps the pending
// pool consistent with the committed unspent set.
package state

import (
	"context"
	"sync"

	"github.com/The-Sycorax/denaro/foundation/blockchain/currency"
	"github.com/The-Sycorax/denaro/foundation/blockchain/genesis"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/shopspring/decimal"
)

// EventHandler defines a function that is called when events occur in the
// processing of blocks and transactions.
type EventHandler func(v string, args ...any)

// Config represents the configuration required to build the state.
type Config struct {
	Store     storage.Store
	EvHandler EventHandler
}

// State manages the blockchain database and the pending pool. All block
// application and reorganisation is serialised through its chain lock;
// mempool admission briefly takes the same lock.
type State struct {
	mu        sync.Mutex
	store     storage.Store
	evHandler EventHandler

	tip     storage.BlockRow
	haveTip bool

	side *sideCache

	miningMu    sync.Mutex
	miningCache *MiningInfo
}

// New constructs the state and loads the current tip.
func New(ctx context.Context, cfg Config) (*State, error) {
	ev := func(v string, args ...any) {
		if cfg.EvHandler != nil {
			cfg.EvHandler(v, args...)
		}
	}

	tip, haveTip, err := cfg.Store.GetTip(ctx)
	if err != nil {
		return nil, err
	}

	s := State{
		store:     cfg.Store,
		evHandler: ev,
		tip:       tip,
		haveTip:   haveTip,
		side:      newSideCache(),
	}

	return &s, nil
}

// Tip returns the current canonical tip, if any.
func (s *State) Tip() (storage.BlockRow, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	return s.tip, s.haveTip
}

// Height returns the canonical chain height, zero when empty.
func (s *State) Height() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.haveTip {
		return 0
	}
	return s.tip.ID
}

// Supply returns the accumulated coin supply.
func (s *State) Supply(ctx context.Context) (decimal.Decimal, error) {
	return s.store.GetSupply(ctx)
}

// supplyAmount reads the supply in smallest units.
func (s *State) supplyAmount(ctx context.Context) (currency.Amount, error) {
	d, err := s.store.GetSupply(ctx)
	if err != nil {
		return 0, err
	}

	return currency.FromDecimal(d)
}

// GetBlockByHeight exposes a committed block to the query surface.
func (s *State) GetBlockByHeight(ctx context.Context, id uint64) (storage.BlockRow, bool, error) {
	return s.store.GetBlockByHeight(ctx, id)
}

// GetBlockByHash exposes a committed block to the query surface.
func (s *State) GetBlockByHash(ctx context.Context, hash string) (storage.BlockRow, bool, error) {
	return s.store.GetBlockByHash(ctx, hash)
}

// GetBlockRange exposes a height range of committed blocks, capped at the
// bulk submission limit per call.
func (s *State) GetBlockRange(ctx context.Context, lo uint64, limit uint64) ([]storage.BlockRow, error) {
	if limit == 0 || limit > genesis.MaxBlocksPerSubmission {
		limit = genesis.MaxBlocksPerSubmission
	}

	return s.store.GetBlockRange(ctx, lo, lo+limit-1)
}

// GetBlockTransactions exposes the transactions of a committed block.
func (s *State) GetBlockTransactions(ctx context.Context, blockHash string) ([]storage.TxRow, error) {
	return s.store.GetBlockTransactions(ctx, blockHash)
}

// GetTransaction exposes a committed transaction.
func (s *State) GetTransaction(ctx context.Context, txHash string) (storage.TxRow, bool, error) {
	return s.store.GetTransaction(ctx, txHash)
}

// GetUnspentForAddress exposes the unspent outputs of an address.
func (s *State) GetUnspentForAddress(ctx context.Context, address string) ([]storage.UTXORow, error) {
	return s.store.GetUnspentForAddress(ctx, address)
}

// AddressOutput is one spendable output of an address with its amount
// resolved.
type AddressOutput struct {
	TxHash string
	Index  uint8
	Amount currency.Amount
}

// AddressInfo resolves the spendable outputs of an address and their total.
func (s *State) AddressInfo(ctx context.Context, address string) ([]AddressOutput, currency.Amount, error) {
	rows, err := s.store.GetUnspentForAddress(ctx, address)
	if err != nil {
		return nil, 0, err
	}

	var outputs []AddressOutput
	var balance currency.Amount
	for _, row := range rows {
		r, exists, err := s.store.ResolveOutput(ctx, storage.Outpoint{TxHash: row.TxHash, Index: row.Index})
		if err != nil {
			return nil, 0, err
		}
		if !exists {
			continue
		}
		outputs = append(outputs, AddressOutput{TxHash: row.TxHash, Index: row.Index, Amount: currency.Amount(r.Amount)})
		balance += currency.Amount(r.Amount)
	}

	return outputs, balance, nil
}

// ListPending exposes the pending pool ordered by fee density.
func (s *State) ListPending(ctx context.Context) ([]storage.PendingRow, error) {
	return s.store.ListPending(ctx, storage.PendingByFeeDensity)
}

// setTip updates the cached tip and drops any mining template built on the
// old one.
func (s *State) setTip(row storage.BlockRow) {
	s.tip = row
	s.haveTip = true
	s.invalidateMiningInfo()
}

// invalidateMiningInfo clears the cached block template.
func (s *State) invalidateMiningInfo() {
	s.miningMu.Lock()
	defer s.miningMu.Unlock()

	s.miningCache = nil
}
