// Package postgres implements the storage interfaces on PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/storage"
)

// Store implements the storage interfaces backed by PostgreSQL.
type Store struct {
	db *sqlx.DB
}

var _ storage.CheckpointStore = (*Store)(nil)
var _ storage.EventStore = (*Store)(nil)

// PoolConfig bounds the connection pool opened by Open.
type PoolConfig struct {
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// New creates a Store using the provided database handle.
func New(db *sqlx.DB) *Store {
	return &Store{db: db}
}

// Open connects to dsn and verifies the connection.
func Open(ctx context.Context, dsn string, pool PoolConfig) (*sqlx.DB, error) {
	db, err := sqlx.ConnectContext(ctx, "postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if pool.MaxOpenConns > 0 {
		db.SetMaxOpenConns(pool.MaxOpenConns)
	}
	if pool.MaxIdleConns > 0 {
		db.SetMaxIdleConns(pool.MaxIdleConns)
	}
	if pool.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(pool.ConnMaxLifetime)
	}
	return db, nil
}

// --- CheckpointStore --------------------------------------------------------

func (s *Store) SaveCheckpoint(ctx context.Context, cp *storage.Checkpoint) error {
	if cp.ID == "" {
		cp.ID = uuid.NewString()
	}
	if cp.CreatedAt.IsZero() {
		cp.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO vault_checkpoints (id, version, taken_at, vault_count, digest, registry, ledgers, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, cp.ID, cp.Version, cp.TakenAt, cp.VaultCount, cp.Digest, cp.Registry, cp.Ledgers, cp.CreatedAt)
	return err
}

func (s *Store) LatestCheckpoint(ctx context.Context) (*storage.Checkpoint, error) {
	var cp storage.Checkpoint
	err := s.db.GetContext(ctx, &cp, `
		SELECT id, version, taken_at, vault_count, digest, registry, ledgers, created_at
		FROM vault_checkpoints
		ORDER BY taken_at DESC
		LIMIT 1
	`)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &cp, nil
}

func (s *Store) ListCheckpoints(ctx context.Context, limit int) ([]storage.CheckpointInfo, error) {
	if limit <= 0 {
		limit = 100
	}
	var out []storage.CheckpointInfo
	err := s.db.SelectContext(ctx, &out, `
		SELECT id, version, taken_at, vault_count, digest
		FROM vault_checkpoints
		ORDER BY taken_at DESC
		LIMIT $1
	`, limit)
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Store) PruneCheckpoints(ctx context.Context, keep int) (int64, error) {
	if keep < 0 {
		return 0, nil
	}
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM vault_checkpoints
		WHERE id NOT IN (
			SELECT id FROM vault_checkpoints ORDER BY taken_at DESC LIMIT $1
		)
	`, keep)
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}

// --- EventStore -------------------------------------------------------------

func (s *Store) RecordEvent(ctx context.Context, e events.Event) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}
	payload, err := json.Marshal(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO vault_events (id, type, vault_id, actor, trace_id, payload, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, e.ID, string(e.Type), int64(e.VaultID), e.Actor, e.TraceID, payload, e.Timestamp)
	return err
}

func (s *Store) VaultEvents(ctx context.Context, vaultID uint64, limit int) ([]events.Event, error) {
	if limit <= 0 {
		limit = 100
	}
	var payloads [][]byte
	err := s.db.SelectContext(ctx, &payloads, `
		SELECT payload
		FROM vault_events
		WHERE vault_id = $1
		ORDER BY occurred_at DESC
		LIMIT $2
	`, int64(vaultID), limit)
	if err != nil {
		return nil, err
	}

	out := make([]events.Event, 0, len(payloads))
	for _, p := range payloads {
		var e events.Event
		if err := json.Unmarshal(p, &e); err != nil {
			return nil, fmt.Errorf("decode event payload: %w", err)
		}
		out = append(out, e)
	}
	return out, nil
}
