// Package storage defines the persistence interfaces of vaultd: registry
// checkpoints and the vault event archive. Implementations live in memory
// (tests, single-process runs) and in postgres.
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/R3E-Network/xvault/internal/events"
)

// ErrNotFound is returned when no checkpoint exists.
var ErrNotFound = errors.New("storage: not found")

// Checkpoint is a persisted registry snapshot together with the ledger state
// captured at the same instant. Registry and Ledgers hold JSON documents.
type Checkpoint struct {
	ID         string    `db:"id"`
	Version    int       `db:"version"`
	TakenAt    time.Time `db:"taken_at"`
	VaultCount int       `db:"vault_count"`
	Digest     string    `db:"digest"`
	Registry   []byte    `db:"registry"`
	Ledgers    []byte    `db:"ledgers"`
	CreatedAt  time.Time `db:"created_at"`
}

// CheckpointInfo describes a checkpoint without its payload.
type CheckpointInfo struct {
	ID         string    `db:"id" json:"id"`
	Version    int       `db:"version" json:"version"`
	TakenAt    time.Time `db:"taken_at" json:"taken_at"`
	VaultCount int       `db:"vault_count" json:"vault_count"`
	Digest     string    `db:"digest" json:"digest"`
}

// Info returns the payload-free description of c.
func (c *Checkpoint) Info() CheckpointInfo {
	return CheckpointInfo{
		ID:         c.ID,
		Version:    c.Version,
		TakenAt:    c.TakenAt,
		VaultCount: c.VaultCount,
		Digest:     c.Digest,
	}
}

// CheckpointStore persists checkpoints.
type CheckpointStore interface {
	SaveCheckpoint(ctx context.Context, cp *Checkpoint) error
	LatestCheckpoint(ctx context.Context) (*Checkpoint, error)
	ListCheckpoints(ctx context.Context, limit int) ([]CheckpointInfo, error)
	PruneCheckpoints(ctx context.Context, keep int) (int64, error)
}

// EventStore archives vault events.
type EventStore interface {
	RecordEvent(ctx context.Context, e events.Event) error
	VaultEvents(ctx context.Context, vaultID uint64, limit int) ([]events.Event, error)
}
