package storage

import (
	"context"
	"fmt"
)

// schema is the authoritative relational layout. The random column holds the
// mining nonce.
const schema = `
CREATE TABLE IF NOT EXISTS blocks (
	id        SERIAL PRIMARY KEY,
	hash      CHAR(64) NOT NULL UNIQUE,
	content   TEXT NOT NULL,
	address   VARCHAR(128) NOT NULL,
	random    BIGINT NOT NULL,
	difficulty NUMERIC(3,1) NOT NULL,
	reward    NUMERIC(14,6) NOT NULL,
	timestamp BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS transactions (
	block_hash        CHAR(64) NOT NULL REFERENCES blocks (hash) ON DELETE CASCADE,
	tx_hash           CHAR(64) NOT NULL UNIQUE,
	tx_hex            TEXT NOT NULL,
	inputs_addresses  TEXT[],
	outputs_addresses TEXT[],
	outputs_amounts   BIGINT[],
	fees              NUMERIC(14,6) NOT NULL,
	time_received     BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS unspent_outputs (
	tx_hash CHAR(64) NOT NULL REFERENCES transactions (tx_hash) ON DELETE CASCADE,
	index   SMALLINT NOT NULL,
	address TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_transactions (
	tx_hash          CHAR(64) NOT NULL UNIQUE,
	tx_hex           TEXT NOT NULL,
	inputs_addresses TEXT[],
	fees             NUMERIC(14,6) NOT NULL,
	propagation_time BIGINT NOT NULL,
	time_received    BIGINT NOT NULL
);

CREATE TABLE IF NOT EXISTS pending_spent_outputs (
	tx_hash CHAR(64) NOT NULL,
	index   SMALLINT NOT NULL
);

CREATE INDEX IF NOT EXISTS unspent_outputs_tx_hash ON unspent_outputs (tx_hash);
CREATE INDEX IF NOT EXISTS transactions_block_hash ON transactions (block_hash);
`

// ensureSchema applies the schema idempotently at startup.
func (pg *Postgres) ensureSchema(ctx context.Context) error {
	if _, err := pg.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}

	return nil
}
