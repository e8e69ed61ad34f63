package storage

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/The-Sycorax/denaro/foundation/blockchain/chain"
	"github.com/The-Sycorax/denaro/foundation/blockchain/tx"
	"github.com/avast/retry-go"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

// Config is the information required to open the database.
type Config struct {
	User     string
	Password string
	Host     string
	Name     string
}

// Postgres implements the Store contract over a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// Open connects to the database, applies the schema, and returns the store.
// Transient connection failures are retried with exponential backoff before
// the node gives up and fails closed.
func Open(ctx context.Context, cfg Config) (*Postgres, error) {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(cfg.User, cfg.Password),
		Host:     cfg.Host,
		Path:     cfg.Name,
		RawQuery: "sslmode=disable",
	}

	pool, err := pgxpool.New(ctx, u.String())
	if err != nil {
		return nil, fmt.Errorf("constructing pool: %w", err)
	}

	err = retry.Do(
		func() error { return pool.Ping(ctx) },
		retry.Context(ctx),
		retry.Attempts(8),
		retry.Delay(250*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
	)
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w: %w", err, chain.ErrStorageUnavailable)
	}

	pg := Postgres{pool: pool}
	if err := pg.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	return &pg, nil
}

// Close releases the connection pool.
func (pg *Postgres) Close() {
	pg.pool.Close()
}

// Begin opens a unit of work.
func (pg *Postgres) Begin(ctx context.Context) (UnitOfWork, error) {
	tx, err := pg.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin: %w: %w", err, chain.ErrStorageUnavailable)
	}

	return &pgUnit{tx: tx}, nil
}

// GetTip returns the block with the greatest height.
func (pg *Postgres) GetTip(ctx context.Context) (BlockRow, bool, error) {
	const q = `SELECT id, hash, content, address, random, difficulty, reward, timestamp
	           FROM blocks ORDER BY id DESC LIMIT 1`
	return pg.queryBlock(ctx, q)
}

// GetBlockByHeight returns the block at the given 1-based height.
func (pg *Postgres) GetBlockByHeight(ctx context.Context, id uint64) (BlockRow, bool, error) {
	const q = `SELECT id, hash, content, address, random, difficulty, reward, timestamp
	           FROM blocks WHERE id = $1`
	return pg.queryBlock(ctx, q, id)
}

// GetBlockByHash returns the block with the given hash.
func (pg *Postgres) GetBlockByHash(ctx context.Context, hash string) (BlockRow, bool, error) {
	const q = `SELECT id, hash, content, address, random, difficulty, reward, timestamp
	           FROM blocks WHERE hash = $1`
	return pg.queryBlock(ctx, q, hash)
}

// GetBlockRange returns blocks with lo <= id <= hi in height order.
func (pg *Postgres) GetBlockRange(ctx context.Context, lo uint64, hi uint64) ([]BlockRow, error) {
	const q = `SELECT id, hash, content, address, random, difficulty, reward, timestamp
	           FROM blocks WHERE id >= $1 AND id <= $2 ORDER BY id`

	rows, err := pg.pool.Query(ctx, q, lo, hi)
	if err != nil {
		return nil, fmt.Errorf("block range: %w: %w", err, chain.ErrStorageUnavailable)
	}
	defer rows.Close()

	var out []BlockRow
	for rows.Next() {
		row, err := scanBlock(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, row)
	}

	return out, rows.Err()
}

// GetBlockTransactions returns the transactions of the block in insertion
// order.
func (pg *Postgres) GetBlockTransactions(ctx context.Context, blockHash string) ([]TxRow, error) {
	const q = `SELECT block_hash, tx_hash, tx_hex, inputs_addresses, outputs_addresses,
	                  outputs_amounts, fees, time_received
	           FROM transactions WHERE block_hash = $1 ORDER BY time_received, tx_hash`

	rows, err := pg.pool.Query(ctx, q, blockHash)
	if err != nil {
		return nil, fmt.Errorf("block transactions: %w: %w", err, chain.ErrStorageUnavailable)
	}
	defer rows.Close()

	var out []TxRow
	for rows.Next() {
		var r TxRow
		if err := rows.Scan(&r.BlockHash, &r.TxHash, &r.TxHex, &r.InputsAddresses, &r.OutputsAddresses, &r.OutputsAmounts, &r.Fees, &r.TimeReceived); err != nil {
			return nil, fmt.Errorf("scanning transaction: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetTransaction returns a committed transaction by hash.
func (pg *Postgres) GetTransaction(ctx context.Context, txHash string) (TxRow, bool, error) {
	const q = `SELECT block_hash, tx_hash, tx_hex, inputs_addresses, outputs_addresses,
	                  outputs_amounts, fees, time_received
	           FROM transactions WHERE tx_hash = $1`

	var r TxRow
	err := pg.pool.QueryRow(ctx, q, txHash).Scan(&r.BlockHash, &r.TxHash, &r.TxHex, &r.InputsAddresses, &r.OutputsAddresses, &r.OutputsAmounts, &r.Fees, &r.TimeReceived)
	if errors.Is(err, pgx.ErrNoRows) {
		return TxRow{}, false, nil
	}
	if err != nil {
		return TxRow{}, false, fmt.Errorf("transaction: %w: %w", err, chain.ErrStorageUnavailable)
	}

	return r, true, nil
}

// ResolveOutput looks up an output reference. The second return reports
// whether the producing transaction and output index exist at all.
func (pg *Postgres) ResolveOutput(ctx context.Context, op Outpoint) (ResolvedOutput, bool, error) {
	const q = `SELECT t.outputs_addresses[$2 + 1], t.outputs_amounts[$2 + 1],
	                  EXISTS(SELECT 1 FROM unspent_outputs u WHERE u.tx_hash = $1 AND u.index = $2)
	           FROM transactions t WHERE t.tx_hash = $1`

	var address *string
	var amount *int64
	var unspent bool
	err := pg.pool.QueryRow(ctx, q, op.TxHash, int16(op.Index)).Scan(&address, &amount, &unspent)
	if errors.Is(err, pgx.ErrNoRows) {
		return ResolvedOutput{}, false, nil
	}
	if err != nil {
		return ResolvedOutput{}, false, fmt.Errorf("resolving output: %w: %w", err, chain.ErrStorageUnavailable)
	}
	if address == nil || amount == nil {
		return ResolvedOutput{}, false, nil
	}

	return ResolvedOutput{Address: *address, Amount: *amount, Unspent: unspent}, true, nil
}

// GetUnspentForAddress returns the unspent outputs held by an address.
func (pg *Postgres) GetUnspentForAddress(ctx context.Context, address string) ([]UTXORow, error) {
	const q = `SELECT tx_hash, index, address FROM unspent_outputs WHERE address = $1`

	rows, err := pg.pool.Query(ctx, q, address)
	if err != nil {
		return nil, fmt.Errorf("unspent for address: %w: %w", err, chain.ErrStorageUnavailable)
	}
	defer rows.Close()

	var out []UTXORow
	for rows.Next() {
		var r UTXORow
		var idx int16
		if err := rows.Scan(&r.TxHash, &idx, &r.Address); err != nil {
			return nil, fmt.Errorf("scanning unspent output: %w", err)
		}
		r.Index = uint8(idx)
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetSupply returns the accumulated coin supply, the sum of block rewards.
func (pg *Postgres) GetSupply(ctx context.Context) (decimal.Decimal, error) {
	const q = `SELECT COALESCE(SUM(reward), 0) FROM blocks`

	var supply decimal.Decimal
	if err := pg.pool.QueryRow(ctx, q).Scan(&supply); err != nil {
		return decimal.Zero, fmt.Errorf("supply: %w: %w", err, chain.ErrStorageUnavailable)
	}

	return supply, nil
}

// ListPending returns the pending pool in the requested order.
func (pg *Postgres) ListPending(ctx context.Context, order PendingOrder) ([]PendingRow, error) {
	q := `SELECT tx_hash, tx_hex, inputs_addresses, fees, propagation_time, time_received
	      FROM pending_transactions `
	switch order {
	case PendingByFeeDensity:
		q += `ORDER BY fees / GREATEST(length(tx_hex), 1) DESC, time_received`
	case PendingByAge:
		q += `ORDER BY time_received`
	}

	rows, err := pg.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("pending list: %w: %w", err, chain.ErrStorageUnavailable)
	}
	defer rows.Close()

	var out []PendingRow
	for rows.Next() {
		var r PendingRow
		if err := rows.Scan(&r.TxHash, &r.TxHex, &r.InputsAddresses, &r.Fees, &r.PropagationTime, &r.TimeReceived); err != nil {
			return nil, fmt.Errorf("scanning pending transaction: %w", err)
		}
		out = append(out, r)
	}

	return out, rows.Err()
}

// GetPending returns a pending transaction by hash.
func (pg *Postgres) GetPending(ctx context.Context, txHash string) (PendingRow, bool, error) {
	const q = `SELECT tx_hash, tx_hex, inputs_addresses, fees, propagation_time, time_received
	           FROM pending_transactions WHERE tx_hash = $1`

	var r PendingRow
	err := pg.pool.QueryRow(ctx, q, txHash).Scan(&r.TxHash, &r.TxHex, &r.InputsAddresses, &r.Fees, &r.PropagationTime, &r.TimeReceived)
	if errors.Is(err, pgx.ErrNoRows) {
		return PendingRow{}, false, nil
	}
	if err != nil {
		return PendingRow{}, false, fmt.Errorf("pending: %w: %w", err, chain.ErrStorageUnavailable)
	}

	return r, true, nil
}

// IsOutputReserved reports whether a pending transaction already holds the
// output.
func (pg *Postgres) IsOutputReserved(ctx context.Context, op Outpoint) (bool, error) {
	const q = `SELECT EXISTS(SELECT 1 FROM pending_spent_outputs WHERE tx_hash = $1 AND index = $2)`

	var reserved bool
	if err := pg.pool.QueryRow(ctx, q, op.TxHash, int16(op.Index)).Scan(&reserved); err != nil {
		return false, fmt.Errorf("reservation check: %w: %w", err, chain.ErrStorageUnavailable)
	}

	return reserved, nil
}

// UpsertPending admits or refreshes a pending transaction together with its
// input reservations, atomically.
func (pg *Postgres) UpsertPending(ctx context.Context, row PendingRow, reservations []Outpoint) error {
	tx, err := pg.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w: %w", err, chain.ErrStorageUnavailable)
	}
	defer tx.Rollback(ctx)

	const q = `INSERT INTO pending_transactions
	             (tx_hash, tx_hex, inputs_addresses, fees, propagation_time, time_received)
	           VALUES ($1, $2, $3, $4, $5, $6)
	           ON CONFLICT (tx_hash) DO UPDATE SET propagation_time = EXCLUDED.propagation_time`
	if _, err := tx.Exec(ctx, q, row.TxHash, row.TxHex, row.InputsAddresses, row.Fees, row.PropagationTime, row.TimeReceived); err != nil {
		return fmt.Errorf("upsert pending: %w", err)
	}

	for _, op := range reservations {
		const q = `INSERT INTO pending_spent_outputs (tx_hash, index) VALUES ($1, $2) ON CONFLICT DO NOTHING`
		if _, err := tx.Exec(ctx, q, op.TxHash, int16(op.Index)); err != nil {
			return fmt.Errorf("reserving output: %w", err)
		}
	}

	return tx.Commit(ctx)
}

// DeletePending evicts a pending transaction and releases the reservations
// its inputs hold. Reservation rows key on the consumed output, so they are
// recovered by decoding the pending transaction before removal.
func (pg *Postgres) DeletePending(ctx context.Context, txHash string) error {
	row, found, err := pg.GetPending(ctx, txHash)
	if err != nil {
		return err
	}
	if !found {
		return nil
	}

	t, err := tx.DecodeHex(row.TxHex)
	if err != nil {
		return fmt.Errorf("decoding pending %s: %w", txHash, err)
	}

	dbtx, err := pg.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w: %w", err, chain.ErrStorageUnavailable)
	}
	defer dbtx.Rollback(ctx)

	for _, in := range t.Inputs {
		const q = `DELETE FROM pending_spent_outputs WHERE tx_hash = $1 AND index = $2`
		if _, err := dbtx.Exec(ctx, q, in.TxHash, int16(in.Index)); err != nil {
			return fmt.Errorf("releasing reservation: %w", err)
		}
	}

	const q = `DELETE FROM pending_transactions WHERE tx_hash = $1`
	if _, err := dbtx.Exec(ctx, q, txHash); err != nil {
		return fmt.Errorf("deleting pending: %w", err)
	}

	return dbtx.Commit(ctx)
}

// =============================================================================

// queryBlock runs a single-row block query.
func (pg *Postgres) queryBlock(ctx context.Context, q string, args ...any) (BlockRow, bool, error) {
	rows, err := pg.pool.Query(ctx, q, args...)
	if err != nil {
		return BlockRow{}, false, fmt.Errorf("block query: %w: %w", err, chain.ErrStorageUnavailable)
	}
	defer rows.Close()

	if !rows.Next() {
		return BlockRow{}, false, rows.Err()
	}

	row, err := scanBlock(rows)
	if err != nil {
		return BlockRow{}, false, err
	}

	return row, true, nil
}

// scanBlock reads one blocks row.
func scanBlock(rows pgx.Rows) (BlockRow, error) {
	var r BlockRow
	var nonce int64
	var ts int64
	if err := rows.Scan(&r.ID, &r.Hash, &r.Content, &r.MinerAddress, &nonce, &r.Difficulty, &r.Reward, &ts); err != nil {
		return BlockRow{}, fmt.Errorf("scanning block: %w", err)
	}
	r.Nonce = uint64(nonce)
	r.Timestamp = uint64(ts)

	return r, nil
}
