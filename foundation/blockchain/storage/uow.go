package storage

import (
	"context"
	"fmt"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
	"github.com/jackc/pgx/v5"
)

// pgUnit is a unit of work over a single database transaction.
type pgUnit struct {
	tx pgx.Tx
}

// InsertBlock writes the block row.
func (u *pgUnit) InsertBlock(ctx context.Context, row BlockRow) error {
	const q = `INSERT INTO blocks (id, hash, content, address, random, difficulty, reward, timestamp)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	_, err := u.tx.Exec(ctx, q, row.ID, row.Hash, row.Content, row.MinerAddress, int64(row.Nonce), row.Difficulty, row.Reward, int64(row.Timestamp))
	if err != nil {
		return fmt.Errorf("inserting block %d: %w", row.ID, err)
	}

	return nil
}

// InsertTransactions writes a batch of transaction rows.
func (u *pgUnit) InsertTransactions(ctx context.Context, rows []TxRow) error {
	const q = `INSERT INTO transactions
	             (block_hash, tx_hash, tx_hex, inputs_addresses, outputs_addresses, outputs_amounts, fees, time_received)
	           VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`

	for _, r := range rows {
		if _, err := u.tx.Exec(ctx, q, r.BlockHash, r.TxHash, r.TxHex, r.InputsAddresses, r.OutputsAddresses, r.OutputsAmounts, r.Fees, r.TimeReceived); err != nil {
			return fmt.Errorf("inserting transaction %s: %w", r.TxHash, err)
		}
	}

	return nil
}

// SpendOutput removes the output from the unspent set.
func (u *pgUnit) SpendOutput(ctx context.Context, op Outpoint) error {
	const q = `DELETE FROM unspent_outputs WHERE tx_hash = $1 AND index = $2`

	tag, err := u.tx.Exec(ctx, q, op.TxHash, int16(op.Index))
	if err != nil {
		return fmt.Errorf("spending output: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("output %s:%d not unspent: %w", op.TxHash, op.Index, chain.ErrDoubleSpend)
	}

	return nil
}

// CreateOutput adds the output to the unspent set.
func (u *pgUnit) CreateOutput(ctx context.Context, op Outpoint, address string) error {
	const q = `INSERT INTO unspent_outputs (tx_hash, index, address) VALUES ($1, $2, $3)`

	if _, err := u.tx.Exec(ctx, q, op.TxHash, int16(op.Index), address); err != nil {
		return fmt.Errorf("creating output: %w", err)
	}

	return nil
}

// DeleteBlock removes the block row; the schema cascades the delete to the
// block's transactions and the unspent outputs they produced.
func (u *pgUnit) DeleteBlock(ctx context.Context, id uint64) error {
	const q = `DELETE FROM blocks WHERE id = $1`

	if _, err := u.tx.Exec(ctx, q, id); err != nil {
		return fmt.Errorf("deleting block %d: %w", id, err)
	}

	return nil
}

// DeletePending evicts a pending transaction and releases its reservations
// inside the unit of work.
func (u *pgUnit) DeletePending(ctx context.Context, txHash string) error {
	const sel = `SELECT tx_hex FROM pending_transactions WHERE tx_hash = $1`

	var txHex string
	err := u.tx.QueryRow(ctx, sel, txHash).Scan(&txHex)
	if err == pgx.ErrNoRows {
		return nil
	}
	if err != nil {
		return fmt.Errorf("loading pending %s: %w", txHash, err)
	}

	t, err := tx.DecodeHex(txHex)
	if err != nil {
		return fmt.Errorf("decoding pending %s: %w", txHash, err)
	}

	for _, in := range t.Inputs {
		const q = `DELETE FROM pending_spent_outputs WHERE tx_hash = $1 AND index = $2`
		if _, err := u.tx.Exec(ctx, q, in.TxHash, int16(in.Index)); err != nil {
			return fmt.Errorf("releasing reservation: %w", err)
		}
	}

	const del = `DELETE FROM pending_transactions WHERE tx_hash = $1`
	if _, err := u.tx.Exec(ctx, del, txHash); err != nil {
		return fmt.Errorf("deleting pending %s: %w", txHash, err)
	}

	return nil
}

// Commit makes the unit of work durable.
func (u *pgUnit) Commit(ctx context.Context) error {
	if err := u.tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w: %w", err, chain.ErrStorageUnavailable)
	}

	return nil
}

// Rollback reverts the unit of work. Safe to call after Commit.
func (u *pgUnit) Rollback(ctx context.Context) error {
	if err := u.tx.Rollback(ctx); err != nil && err != pgx.ErrTxClosed {
		return fmt.Errorf("rollback: %w", err)
	}

	return nil
}
