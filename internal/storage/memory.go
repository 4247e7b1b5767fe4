package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/xvault/internal/events"
)

// Memory is a thread-safe in-memory implementation of the storage
// interfaces.
type Memory struct {
	mu          sync.RWMutex
	checkpoints []Checkpoint
	events      []events.Event
}

var (
	_ CheckpointStore = (*Memory)(nil)
	_ EventStore      = (*Memory)(nil)
)

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{}
}

// SaveCheckpoint stores a copy of cp.
func (m *Memory) SaveCheckpoint(_ context.Context, cp *Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	stored := *cp
	stored.Registry = append([]byte(nil), cp.Registry...)
	stored.Ledgers = append([]byte(nil), cp.Ledgers...)
	if stored.CreatedAt.IsZero() {
		stored.CreatedAt = time.Now().UTC()
	}
	m.checkpoints = append(m.checkpoints, stored)
	sort.SliceStable(m.checkpoints, func(i, j int) bool {
		return m.checkpoints[i].TakenAt.Before(m.checkpoints[j].TakenAt)
	})
	return nil
}

// LatestCheckpoint returns the most recent checkpoint or ErrNotFound.
func (m *Memory) LatestCheckpoint(_ context.Context) (*Checkpoint, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if len(m.checkpoints) == 0 {
		return nil, ErrNotFound
	}
	cp := m.checkpoints[len(m.checkpoints)-1]
	cp.Registry = append([]byte(nil), cp.Registry...)
	cp.Ledgers = append([]byte(nil), cp.Ledgers...)
	return &cp, nil
}

// ListCheckpoints returns up to limit checkpoints, newest first.
func (m *Memory) ListCheckpoints(_ context.Context, limit int) ([]CheckpointInfo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []CheckpointInfo
	for i := len(m.checkpoints) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		out = append(out, m.checkpoints[i].Info())
	}
	return out, nil
}

// PruneCheckpoints keeps the newest keep checkpoints.
func (m *Memory) PruneCheckpoints(_ context.Context, keep int) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if keep < 0 || len(m.checkpoints) <= keep {
		return 0, nil
	}
	removed := len(m.checkpoints) - keep
	m.checkpoints = append([]Checkpoint(nil), m.checkpoints[removed:]...)
	return int64(removed), nil
}

// RecordEvent archives e.
func (m *Memory) RecordEvent(_ context.Context, e events.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, e)
	return nil
}

// VaultEvents returns up to limit archived events of a vault, newest first.
func (m *Memory) VaultEvents(_ context.Context, vaultID uint64, limit int) ([]events.Event, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []events.Event
	for i := len(m.events) - 1; i >= 0 && (limit <= 0 || len(out) < limit); i-- {
		if m.events[i].VaultID == vaultID {
			out = append(out, m.events[i])
		}
	}
	return out, nil
}
