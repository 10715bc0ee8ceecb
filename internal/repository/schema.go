package repository

import (
	"context"
	"fmt"
)

// schema is applied on startup and by the integration tests. The unique
// index on mappings.code is the arbiter for code generation, and the unique
// (owner_id, target) index is the arbiter for idempotent reuse: inserts race
// against the constraints rather than pre-checking.
const schema = `
CREATE TABLE IF NOT EXISTS accounts (
	id            BIGSERIAL PRIMARY KEY,
	custom_domain TEXT UNIQUE
);

CREATE TABLE IF NOT EXISTS mappings (
	id          BIGSERIAL PRIMARY KEY,
	code        TEXT NOT NULL UNIQUE,
	target      TEXT NOT NULL,
	owner_id    BIGINT NOT NULL REFERENCES accounts(id),
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at  TIMESTAMPTZ NOT NULL DEFAULT now(),
	clicks      BIGINT NOT NULL DEFAULT 0,
	referrers   JSONB NOT NULL DEFAULT '{"Unknowns": 0}',
	qr_artifact TEXT
);

CREATE INDEX IF NOT EXISTS idx_mappings_owner ON mappings(owner_id);
CREATE UNIQUE INDEX IF NOT EXISTS idx_mappings_owner_target ON mappings(owner_id, target);

CREATE TABLE IF NOT EXISTS deleted_mappings (
	id         BIGSERIAL PRIMARY KEY,
	target     TEXT NOT NULL,
	owner_id   BIGINT NOT NULL REFERENCES accounts(id),
	created_at TIMESTAMPTZ NOT NULL,
	deleted_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_deleted_mappings_owner ON deleted_mappings(owner_id);
`

// InitSchema creates the tables and indexes if they do not exist yet.
func InitSchema(ctx context.Context, db *PostgresDB) error {
	if _, err := db.Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	return nil
}
