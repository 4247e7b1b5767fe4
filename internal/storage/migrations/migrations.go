// Package migrations holds the postgres schema of vaultd.
package migrations

import (
	"context"
	"database/sql"
	"fmt"
)

// Migration is one idempotent schema step.
type Migration struct {
	Name string
	SQL  string
}

// All lists the schema steps in the order they are applied.
var All = []Migration{
	{
		Name: "create_vault_checkpoints",
		SQL: `CREATE TABLE IF NOT EXISTS vault_checkpoints (
	id          UUID PRIMARY KEY,
	version     INTEGER NOT NULL,
	taken_at    TIMESTAMPTZ NOT NULL,
	vault_count INTEGER NOT NULL DEFAULT 0,
	digest      TEXT NOT NULL,
	registry    JSONB NOT NULL,
	ledgers     JSONB NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
	},
	{
		Name: "index_vault_checkpoints_taken_at",
		SQL:  `CREATE INDEX IF NOT EXISTS vault_checkpoints_taken_at_idx ON vault_checkpoints (taken_at DESC)`,
	},
	{
		Name: "create_vault_events",
		SQL: `CREATE TABLE IF NOT EXISTS vault_events (
	id         TEXT PRIMARY KEY,
	type       TEXT NOT NULL,
	vault_id   BIGINT NOT NULL,
	actor      TEXT NOT NULL DEFAULT '',
	trace_id   TEXT NOT NULL DEFAULT '',
	payload    JSONB NOT NULL,
	occurred_at TIMESTAMPTZ NOT NULL
)`,
	},
	{
		Name: "index_vault_events_vault",
		SQL:  `CREATE INDEX IF NOT EXISTS vault_events_vault_idx ON vault_events (vault_id, occurred_at DESC)`,
	},
}

// Apply runs every migration against db.
func Apply(ctx context.Context, db *sql.DB) error {
	for _, m := range All {
		if _, err := db.ExecContext(ctx, m.SQL); err != nil {
			return fmt.Errorf("migration %s: %w", m.Name, err)
		}
	}
	return nil
}
