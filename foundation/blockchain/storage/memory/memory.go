// Package memory implements the storage contract in memory. It backs the
// state machine tests and mirrors the relational semantics of the postgres
// adapter, including delete cascades.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/storage"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
	"github.com/shopspring/decimal"
)

// Memory is an in-memory Store.
type Memory struct {
	mu       sync.RWMutex
	blocks   map[uint64]storage.BlockRow
	txs      map[string]storage.TxRow
	txOrder  map[string][]string // block hash -> tx hashes in insertion order
	unspent  map[storage.Outpoint]string
	pending  map[string]storage.PendingRow
	reserved map[storage.Outpoint]bool
}

// New constructs an empty store.
func New() *Memory {
	return &Memory{
		blocks:   make(map[uint64]storage.BlockRow),
		txs:      make(map[string]storage.TxRow),
		txOrder:  make(map[string][]string),
		unspent:  make(map[storage.Outpoint]string),
		pending:  make(map[string]storage.PendingRow),
		reserved: make(map[storage.Outpoint]bool),
	}
}

// Close implements the Store interface.
func (m *Memory) Close() {}

// Begin opens a unit of work that stages mutations and applies them all on
// Commit.
func (m *Memory) Begin(ctx context.Context) (storage.UnitOfWork, error) {
	return &unit{m: m}, nil
}

// GetTip returns the block with the greatest height.
func (m *Memory) GetTip(ctx context.Context) (storage.BlockRow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var tip storage.BlockRow
	var found bool
	for _, b := range m.blocks {
		if !found || b.ID > tip.ID {
			tip = b
			found = true
		}
	}

	return tip, found, nil
}

// GetBlockByHeight returns the block at the given height.
func (m *Memory) GetBlockByHeight(ctx context.Context, id uint64) (storage.BlockRow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	b, found := m.blocks[id]
	return b, found, nil
}

// GetBlockByHash returns the block with the given hash.
func (m *Memory) GetBlockByHash(ctx context.Context, hash string) (storage.BlockRow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, b := range m.blocks {
		if b.Hash == hash {
			return b, true, nil
		}
	}

	return storage.BlockRow{}, false, nil
}

// GetBlockRange returns blocks with lo <= id <= hi in height order.
func (m *Memory) GetBlockRange(ctx context.Context, lo uint64, hi uint64) ([]storage.BlockRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []storage.BlockRow
	for id := lo; id <= hi; id++ {
		if b, found := m.blocks[id]; found {
			out = append(out, b)
		}
	}

	return out, nil
}

// GetBlockTransactions returns the transactions of the block in insertion
// order.
func (m *Memory) GetBlockTransactions(ctx context.Context, blockHash string) ([]storage.TxRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []storage.TxRow
	for _, h := range m.txOrder[blockHash] {
		out = append(out, m.txs[h])
	}

	return out, nil
}

// GetTransaction returns a committed transaction by hash.
func (m *Memory) GetTransaction(ctx context.Context, txHash string) (storage.TxRow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, found := m.txs[txHash]
	return r, found, nil
}

// ResolveOutput looks up an output reference.
func (m *Memory) ResolveOutput(ctx context.Context, op storage.Outpoint) (storage.ResolvedOutput, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, found := m.txs[op.TxHash]
	if !found || int(op.Index) >= len(r.OutputsAddresses) {
		return storage.ResolvedOutput{}, false, nil
	}

	_, unspent := m.unspent[op]
	return storage.ResolvedOutput{
		Address: r.OutputsAddresses[op.Index],
		Amount:  r.OutputsAmounts[op.Index],
		Unspent: unspent,
	}, true, nil
}

// GetUnspentForAddress returns the unspent outputs held by an address.
func (m *Memory) GetUnspentForAddress(ctx context.Context, address string) ([]storage.UTXORow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []storage.UTXORow
	for op, addr := range m.unspent {
		if addr == address {
			out = append(out, storage.UTXORow{TxHash: op.TxHash, Index: op.Index, Address: addr})
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].TxHash != out[j].TxHash {
			return out[i].TxHash < out[j].TxHash
		}
		return out[i].Index < out[j].Index
	})

	return out, nil
}

// GetSupply returns the sum of block rewards.
func (m *Memory) GetSupply(ctx context.Context) (decimal.Decimal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	supply := decimal.Zero
	for _, b := range m.blocks {
		supply = supply.Add(b.Reward)
	}

	return supply, nil
}

// ListPending returns the pending pool in the requested order.
func (m *Memory) ListPending(ctx context.Context, order storage.PendingOrder) ([]storage.PendingRow, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]storage.PendingRow, 0, len(m.pending))
	for _, r := range m.pending {
		out = append(out, r)
	}

	switch order {
	case storage.PendingByFeeDensity:
		sort.Slice(out, func(i, j int) bool {
			di := feeDensity(out[i])
			dj := feeDensity(out[j])
			if !di.Equal(dj) {
				return di.GreaterThan(dj)
			}
			return out[i].TimeReceived < out[j].TimeReceived
		})
	case storage.PendingByAge:
		sort.Slice(out, func(i, j int) bool { return out[i].TimeReceived < out[j].TimeReceived })
	}

	return out, nil
}

// GetPending returns a pending transaction by hash.
func (m *Memory) GetPending(ctx context.Context, txHash string) (storage.PendingRow, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	r, found := m.pending[txHash]
	return r, found, nil
}

// IsOutputReserved reports whether a pending transaction holds the output.
func (m *Memory) IsOutputReserved(ctx context.Context, op storage.Outpoint) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	return m.reserved[op], nil
}

// UpsertPending admits or refreshes a pending transaction with its
// reservations.
func (m *Memory) UpsertPending(ctx context.Context, row storage.PendingRow, reservations []storage.Outpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if existing, found := m.pending[row.TxHash]; found {
		existing.PropagationTime = row.PropagationTime
		m.pending[row.TxHash] = existing
		return nil
	}

	m.pending[row.TxHash] = row
	for _, op := range reservations {
		m.reserved[op] = true
	}

	return nil
}

// DeletePending evicts a pending transaction and releases its reservations.
func (m *Memory) DeletePending(ctx context.Context, txHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.deletePendingLocked(txHash)
}

func (m *Memory) deletePendingLocked(txHash string) error {
	row, found := m.pending[txHash]
	if !found {
		return nil
	}

	t, err := tx.DecodeHex(row.TxHex)
	if err != nil {
		return fmt.Errorf("decoding pending %s: %w", txHash, err)
	}
	for _, in := range t.Inputs {
		delete(m.reserved, storage.Outpoint{TxHash: in.TxHash, Index: in.Index})
	}
	delete(m.pending, txHash)

	return nil
}

// feeDensity is fees per hex character, the mempool ordering key.
func feeDensity(r storage.PendingRow) decimal.Decimal {
	size := len(r.TxHex)
	if size == 0 {
		size = 1
	}

	return r.Fees.Div(decimal.New(int64(size), 0))
}

// =============================================================================

type op func(m *Memory) error

// unit stages mutations until Commit.
type unit struct {
	m    *Memory
	ops  []op
	done bool
}

// InsertBlock stages a block insert.
func (u *unit) InsertBlock(ctx context.Context, row storage.BlockRow) error {
	u.ops = append(u.ops, func(m *Memory) error {
		if _, exists := m.blocks[row.ID]; exists {
			return fmt.Errorf("block %d exists: %w", row.ID, chain.ErrInternal)
		}
		m.blocks[row.ID] = row
		return nil
	})

	return nil
}

// InsertTransactions stages a transaction batch insert.
func (u *unit) InsertTransactions(ctx context.Context, rows []storage.TxRow) error {
	u.ops = append(u.ops, func(m *Memory) error {
		for _, r := range rows {
			if _, exists := m.txs[r.TxHash]; exists {
				return fmt.Errorf("transaction %s exists: %w", r.TxHash, chain.ErrInternal)
			}
			m.txs[r.TxHash] = r
			m.txOrder[r.BlockHash] = append(m.txOrder[r.BlockHash], r.TxHash)
		}
		return nil
	})

	return nil
}

// SpendOutput stages the removal of an unspent output.
func (u *unit) SpendOutput(ctx context.Context, op storage.Outpoint) error {
	u.ops = append(u.ops, func(m *Memory) error {
		if _, unspent := m.unspent[op]; !unspent {
			return fmt.Errorf("output %s:%d not unspent: %w", op.TxHash, op.Index, chain.ErrDoubleSpend)
		}
		delete(m.unspent, op)
		return nil
	})

	return nil
}

// CreateOutput stages a new unspent output.
func (u *unit) CreateOutput(ctx context.Context, op storage.Outpoint, address string) error {
	u.ops = append(u.ops, func(m *Memory) error {
		m.unspent[op] = address
		return nil
	})

	return nil
}

// DeleteBlock stages a cascading block delete.
func (u *unit) DeleteBlock(ctx context.Context, id uint64) error {
	u.ops = append(u.ops, func(m *Memory) error {
		b, found := m.blocks[id]
		if !found {
			return nil
		}
		for _, h := range m.txOrder[b.Hash] {
			for op := range m.unspent {
				if op.TxHash == h {
					delete(m.unspent, op)
				}
			}
			delete(m.txs, h)
		}
		delete(m.txOrder, b.Hash)
		delete(m.blocks, id)
		return nil
	})

	return nil
}

// DeletePending stages a pending eviction.
func (u *unit) DeletePending(ctx context.Context, txHash string) error {
	u.ops = append(u.ops, func(m *Memory) error {
		return m.deletePendingLocked(txHash)
	})

	return nil
}

// Commit applies the staged mutations atomically. A failing operation leaves
// the store untouched.
func (u *unit) Commit(ctx context.Context) error {
	if u.done {
		return fmt.Errorf("unit of work finished: %w", chain.ErrInternal)
	}
	u.done = true

	u.m.mu.Lock()
	defer u.m.mu.Unlock()

	snapshot := u.m.clone()
	for _, f := range u.ops {
		if err := f(u.m); err != nil {
			u.m.restore(snapshot)
			return err
		}
	}

	return nil
}

// Rollback discards the staged mutations.
func (u *unit) Rollback(ctx context.Context) error {
	u.done = true
	u.ops = nil
	return nil
}

// =============================================================================

type snapshot struct {
	blocks   map[uint64]storage.BlockRow
	txs      map[string]storage.TxRow
	txOrder  map[string][]string
	unspent  map[storage.Outpoint]string
	pending  map[string]storage.PendingRow
	reserved map[storage.Outpoint]bool
}

func (m *Memory) clone() snapshot {
	s := snapshot{
		blocks:   make(map[uint64]storage.BlockRow, len(m.blocks)),
		txs:      make(map[string]storage.TxRow, len(m.txs)),
		txOrder:  make(map[string][]string, len(m.txOrder)),
		unspent:  make(map[storage.Outpoint]string, len(m.unspent)),
		pending:  make(map[string]storage.PendingRow, len(m.pending)),
		reserved: make(map[storage.Outpoint]bool, len(m.reserved)),
	}
	for k, v := range m.blocks {
		s.blocks[k] = v
	}
	for k, v := range m.txs {
		s.txs[k] = v
	}
	for k, v := range m.txOrder {
		s.txOrder[k] = append([]string(nil), v...)
	}
	for k, v := range m.unspent {
		s.unspent[k] = v
	}
	for k, v := range m.pending {
		s.pending[k] = v
	}
	for k, v := range m.reserved {
		s.reserved[k] = v
	}

	return s
}

func (m *Memory) restore(s snapshot) {
	m.blocks = s.blocks
	m.txs = s.txs
	m.txOrder = s.txOrder
	m.unspent = s.unspent
	m.pending = s.pending
	m.reserved = s.reserved
}
