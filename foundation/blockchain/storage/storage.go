// Package storage defines the persistence contract for the chain state: the
// five relations of the schema, the read primitives, and the unit-of-work
// abstraction every block application and reorganisation runs under.
package storage

import (
	"context"

	"github.com/shopspring/decimal"
)

// Outpoint identifies a single transaction output.
type Outpoint struct {
	TxHash string
	Index  uint8
}

// BlockRow is a row of the blocks relation.
type BlockRow struct {
	ID           uint64
	Hash         string
	Content      string
	MinerAddress string
	Nonce        uint64
	Difficulty   decimal.Decimal
	Reward       decimal.Decimal
	Timestamp    uint64
}

// TxRow is a row of the transactions relation. Addresses and amounts are
// denormalised for address-indexed queries.
type TxRow struct {
	BlockHash        string
	TxHash           string
	TxHex            string
	InputsAddresses  []string
	OutputsAddresses []string
	OutputsAmounts   []int64
	Fees             decimal.Decimal
	TimeReceived     int64
}

// PendingRow is a row of the pending_transactions relation.
type PendingRow struct {
	TxHash          string
	TxHex           string
	InputsAddresses []string
	Fees            decimal.Decimal
	PropagationTime int64
	TimeReceived    int64
}

// UTXORow is a row of the unspent_outputs relation.
type UTXORow struct {
	TxHash  string
	Index   uint8
	Address string
}

// ResolvedOutput is an output reference resolved through the transactions
// and unspent_outputs relations.
type ResolvedOutput struct {
	Address string
	Amount  int64
	Unspent bool
}

// PendingOrder selects the ordering of a pending transaction listing.
type PendingOrder int

const (
	// PendingByFeeDensity orders highest fee per hex byte first.
	PendingByFeeDensity PendingOrder = iota

	// PendingByAge orders oldest first.
	PendingByAge
)

// Store is the behaviour the chain engine requires from persistence. Read
// methods observe the latest committed unit of work.
type Store interface {
	Begin(ctx context.Context) (UnitOfWork, error)

	GetTip(ctx context.Context) (BlockRow, bool, error)
	GetBlockByHeight(ctx context.Context, id uint64) (BlockRow, bool, error)
	GetBlockByHash(ctx context.Context, hash string) (BlockRow, bool, error)
	GetBlockRange(ctx context.Context, lo uint64, hi uint64) ([]BlockRow, error)
	GetBlockTransactions(ctx context.Context, blockHash string) ([]TxRow, error)
	GetTransaction(ctx context.Context, txHash string) (TxRow, bool, error)
	ResolveOutput(ctx context.Context, op Outpoint) (ResolvedOutput, bool, error)
	GetUnspentForAddress(ctx context.Context, address string) ([]UTXORow, error)
	GetSupply(ctx context.Context) (decimal.Decimal, error)

	ListPending(ctx context.Context, order PendingOrder) ([]PendingRow, error)
	GetPending(ctx context.Context, txHash string) (PendingRow, bool, error)
	IsOutputReserved(ctx context.Context, op Outpoint) (bool, error)
	UpsertPending(ctx context.Context, row PendingRow, reservations []Outpoint) error
	DeletePending(ctx context.Context, txHash string) error

	Close()
}

// UnitOfWork batches mutations that must commit or revert together. Deleting
// a block cascades to its transactions and, through them, to the unspent
// outputs they produced.
type UnitOfWork interface {
	InsertBlock(ctx context.Context, row BlockRow) error
	InsertTransactions(ctx context.Context, rows []TxRow) error
	SpendOutput(ctx context.Context, op Outpoint) error
	CreateOutput(ctx context.Context, op Outpoint, address string) error
	DeleteBlock(ctx context.Context, id uint64) error
	DeletePending(ctx context.Context, txHash string) error

	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}
