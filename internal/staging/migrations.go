package staging

import (
	"context"

	"github.com/jackc/pgx/v5/pgxpool"
)

// migrations are idempotent and run at startup, before the server accepts
// requests. Staged tables are keyed by transaction_id; served_notices and
// notice_components are the permanent stores written only at execution.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS staged_transactions (
		transaction_id     TEXT PRIMARY KEY,
		session_id         TEXT NOT NULL,
		status             TEXT NOT NULL DEFAULT 'staged',
		network            TEXT NOT NULL DEFAULT 'mainnet',
		server_address     TEXT NOT NULL,
		contract_address   TEXT,
		recipient_count    INTEGER NOT NULL,
		total_fee          NUMERIC(20,6) NOT NULL,
		created_at         TIMESTAMPTZ NOT NULL DEFAULT now(),
		expires_at         TIMESTAMPTZ NOT NULL,
		blockchain_tx_hash TEXT,
		energy_used        BIGINT,
		executed_at        TIMESTAMPTZ
	)`,

	`CREATE TABLE IF NOT EXISTS staged_notices (
		transaction_id     TEXT PRIMARY KEY REFERENCES staged_transactions(transaction_id),
		notice_type        TEXT,
		case_number        TEXT,
		issuing_agency     TEXT,
		public_text        TEXT,
		case_details       TEXT,
		legal_rights       TEXT,
		has_document       BOOLEAN NOT NULL DEFAULT false,
		requires_signature BOOLEAN NOT NULL DEFAULT false,
		token_name         TEXT,
		delivery_method    TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS staged_files (
		transaction_id          TEXT PRIMARY KEY REFERENCES staged_transactions(transaction_id),
		thumbnail_name          TEXT,
		document_name           TEXT,
		encrypted_document_name TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS staged_ipfs (
		transaction_id TEXT PRIMARY KEY REFERENCES staged_transactions(transaction_id),
		ipfs_hash      TEXT,
		encrypted_ipfs TEXT,
		encryption_key TEXT,
		metadata_uri   TEXT
	)`,

	`CREATE TABLE IF NOT EXISTS staged_recipients (
		transaction_id    TEXT NOT NULL REFERENCES staged_transactions(transaction_id),
		recipient_index   INTEGER NOT NULL,
		recipient_address TEXT NOT NULL,
		notice_id         TEXT NOT NULL,
		status            TEXT NOT NULL DEFAULT 'pending',
		alert_id          TEXT,
		document_id       TEXT,
		PRIMARY KEY (transaction_id, recipient_index)
	)`,

	`CREATE TABLE IF NOT EXISTS staged_energy_estimates (
		transaction_id   TEXT PRIMARY KEY REFERENCES staged_transactions(transaction_id),
		estimated_energy BIGINT NOT NULL,
		burning_cost_trx NUMERIC(20,6) NOT NULL,
		rental_cost_trx  NUMERIC(20,6) NOT NULL,
		savings_trx      NUMERIC(20,6) NOT NULL
	)`,

	`CREATE TABLE IF NOT EXISTS served_notices (
		notice_id         TEXT PRIMARY KEY,
		batch_id          TEXT NOT NULL,
		server_address    TEXT NOT NULL,
		recipient_address TEXT NOT NULL,
		notice_type       TEXT,
		case_number       TEXT,
		issuing_agency    TEXT,
		has_document      BOOLEAN NOT NULL DEFAULT false,
		alert_id          TEXT,
		document_id       TEXT,
		tx_hash           TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE TABLE IF NOT EXISTS notice_components (
		notice_id              TEXT NOT NULL,
		chain_type             TEXT NOT NULL,
		batch_id               TEXT NOT NULL,
		server_address         TEXT NOT NULL,
		recipient_address      TEXT NOT NULL,
		notice_type            TEXT,
		case_number            TEXT,
		thumbnail_url          TEXT,
		document_url           TEXT,
		encrypted_document_url TEXT,
		alert_id               TEXT,
		document_id            TEXT,
		tx_hash                TEXT,
		created_at             TIMESTAMPTZ NOT NULL DEFAULT now(),
		updated_at             TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,

	`CREATE UNIQUE INDEX IF NOT EXISTS notice_components_notice_chain
		ON notice_components (notice_id, chain_type)`,

	`CREATE INDEX IF NOT EXISTS staged_transactions_status_expiry
		ON staged_transactions (status, expires_at)`,

	`CREATE TABLE IF NOT EXISTS staging_idempotency_records (
		session_id      TEXT NOT NULL,
		idempotency_key TEXT NOT NULL,
		endpoint        TEXT NOT NULL,
		response_status INTEGER NOT NULL,
		response_body   JSONB NOT NULL,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT now(),
		PRIMARY KEY (session_id, idempotency_key, endpoint)
	)`,

	`CREATE TABLE IF NOT EXISTS staging_audit_events (
		id             BIGSERIAL PRIMARY KEY,
		transaction_id TEXT,
		event_type     TEXT NOT NULL,
		payload        JSONB,
		occurred_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
}

func RunMigrations(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range migrations {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
