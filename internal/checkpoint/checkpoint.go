// Package checkpoint persists the registry together with the in-memory
// ledgers and restores both when vaultd restarts.
package checkpoint

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/R3E-Network/xvault/internal/ledger"
	"github.com/R3E-Network/xvault/internal/logging"
	"github.com/R3E-Network/xvault/internal/storage"
	"github.com/R3E-Network/xvault/internal/vault"
)

// Ledgers is the ledger half of a checkpoint.
type Ledgers struct {
	Directory ledger.State        `json:"directory"`
	Bank      map[string]*big.Int `json:"bank"`
}

// Options configures a Checkpointer.
type Options struct {
	Store     storage.CheckpointStore
	Registry  *vault.Registry
	Directory *ledger.Directory
	Bank      *ledger.Token
	Logger    *logging.Logger

	// Schedule is a cron spec such as "@every 1m". Empty disables Start.
	Schedule string

	// Keep bounds the stored checkpoints. Zero keeps all of them.
	Keep int
}

// Checkpointer captures consistent checkpoints on a cron schedule.
type Checkpointer struct {
	store     storage.CheckpointStore
	registry  *vault.Registry
	directory *ledger.Directory
	bank      *ledger.Token
	log       *logging.Logger
	schedule  string
	keep      int

	mu         sync.Mutex
	lastDigest string
	cron       *cron.Cron
	cancel     context.CancelFunc
}

// New validates opts and creates a Checkpointer.
func New(opts Options) (*Checkpointer, error) {
	if opts.Store == nil || opts.Registry == nil || opts.Directory == nil || opts.Bank == nil {
		return nil, errors.New("checkpoint: store, registry, directory and bank are required")
	}
	if opts.Schedule != "" {
		if _, err := cron.ParseStandard(opts.Schedule); err != nil {
			return nil, fmt.Errorf("checkpoint: invalid schedule %q: %w", opts.Schedule, err)
		}
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default("checkpoint")
	}
	return &Checkpointer{
		store:     opts.Store,
		registry:  opts.Registry,
		directory: opts.Directory,
		bank:      opts.Bank,
		log:       opts.Logger,
		schedule:  opts.Schedule,
		keep:      opts.Keep,
	}, nil
}

func (c *Checkpointer) Name() string { return "checkpointer" }

// Capture snapshots the registry and ledgers and stores the result unless
// nothing changed since the previous checkpoint. It reports whether a
// checkpoint was written.
func (c *Checkpointer) Capture(ctx context.Context) (*storage.Checkpoint, bool, error) {
	var ledgers Ledgers
	snap, err := c.registry.SnapshotWith(ctx, func() error {
		ledgers.Directory = c.directory.State()
		ledgers.Bank = c.bank.Balances()
		return nil
	})
	if err != nil {
		return nil, false, fmt.Errorf("snapshot registry: %w", err)
	}

	registryJSON, err := json.Marshal(snap)
	if err != nil {
		return nil, false, err
	}
	ledgersJSON, err := json.Marshal(ledgers)
	if err != nil {
		return nil, false, err
	}
	digest, err := digestOf(snap, ledgersJSON)
	if err != nil {
		return nil, false, err
	}

	c.mu.Lock()
	unchanged := digest == c.lastDigest
	c.mu.Unlock()
	if unchanged {
		return nil, false, nil
	}

	cp := &storage.Checkpoint{
		ID:         uuid.NewString(),
		Version:    snap.Version,
		TakenAt:    snap.TakenAt,
		VaultCount: len(snap.Vaults),
		Digest:     digest,
		Registry:   registryJSON,
		Ledgers:    ledgersJSON,
		CreatedAt:  time.Now().UTC(),
	}
	if err := c.store.SaveCheckpoint(ctx, cp); err != nil {
		return nil, false, fmt.Errorf("save checkpoint: %w", err)
	}

	c.mu.Lock()
	c.lastDigest = digest
	c.mu.Unlock()

	entry := c.log.WithContext(ctx).WithFields(map[string]interface{}{
		"checkpoint_id": cp.ID,
		"vaults":        cp.VaultCount,
		"digest":        digest,
	})
	if c.keep > 0 {
		removed, err := c.store.PruneCheckpoints(ctx, c.keep)
		if err != nil {
			entry.WithError(err).Warn("prune checkpoints failed")
		} else if removed > 0 {
			entry = entry.WithField("pruned", removed)
		}
	}
	entry.Info("checkpoint saved")
	return cp, true, nil
}

// Restore loads the latest checkpoint into the empty registry, directory and
// bank. It reports false when the store holds no checkpoint.
func (c *Checkpointer) Restore(ctx context.Context) (bool, error) {
	cp, err := c.store.LatestCheckpoint(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load checkpoint: %w", err)
	}
	if c.registry.Len() != 0 {
		return false, errors.New("checkpoint: registry is not empty")
	}

	var snap vault.Snapshot
	if err := json.Unmarshal(cp.Registry, &snap); err != nil {
		return false, fmt.Errorf("decode checkpoint %s registry: %w", cp.ID, err)
	}
	digest, err := digestOf(&snap, cp.Ledgers)
	if err != nil {
		return false, err
	}
	if digest != cp.Digest {
		return false, fmt.Errorf("checkpoint %s: digest mismatch", cp.ID)
	}

	var ledgers Ledgers
	if err := json.Unmarshal(cp.Ledgers, &ledgers); err != nil {
		return false, fmt.Errorf("decode checkpoint %s ledgers: %w", cp.ID, err)
	}
	if err := c.directory.LoadState(ledgers.Directory); err != nil {
		return false, err
	}
	if err := c.bank.LoadBalances(ledgers.Bank); err != nil {
		return false, err
	}
	if err := c.registry.Restore(ctx, cp.Registry); err != nil {
		return false, err
	}

	c.mu.Lock()
	c.lastDigest = cp.Digest
	c.mu.Unlock()

	c.log.WithContext(ctx).WithFields(map[string]interface{}{
		"checkpoint_id": cp.ID,
		"vaults":        cp.VaultCount,
		"taken_at":      cp.TakenAt,
	}).Info("restored from checkpoint")
	return true, nil
}

// Start runs Capture on the configured schedule until Stop.
func (c *Checkpointer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cron != nil || c.schedule == "" {
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	sched := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)))
	if _, err := sched.AddFunc(c.schedule, func() { c.tick(runCtx) }); err != nil {
		cancel()
		return fmt.Errorf("checkpoint: schedule %q: %w", c.schedule, err)
	}
	sched.Start()
	c.cron = sched
	c.cancel = cancel

	c.log.WithField("schedule", c.schedule).Info("checkpointer started")
	return nil
}

// Stop halts the schedule and waits for a running capture to finish.
func (c *Checkpointer) Stop(ctx context.Context) error {
	c.mu.Lock()
	sched, cancel := c.cron, c.cancel
	c.cron, c.cancel = nil, nil
	c.mu.Unlock()
	if sched == nil {
		return nil
	}

	stopped := sched.Stop()
	select {
	case <-stopped.Done():
	case <-ctx.Done():
		cancel()
		return ctx.Err()
	}
	cancel()
	c.log.Info("checkpointer stopped")
	return nil
}

func (c *Checkpointer) tick(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()
	if _, _, err := c.Capture(ctx); err != nil {
		c.log.WithError(err).Warn("scheduled checkpoint failed")
	}
}

// digestOf hashes the state of a checkpoint, ignoring when it was taken.
func digestOf(snap *vault.Snapshot, ledgersJSON []byte) (string, error) {
	stable := *snap
	stable.TakenAt = time.Time{}
	registryJSON, err := json.Marshal(stable)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(registryJSON)
	h.Write([]byte{0})
	h.Write(ledgersJSON)
	return hex.EncodeToString(h.Sum(nil)), nil
}
