package vault

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"sort"
	"time"

	"github.com/tidwall/gjson"

	"github.com/R3E-Network/xvault/internal/errors"
	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/vault/bounty"
	"github.com/R3E-Network/xvault/internal/vault/eligibility"
	"github.com/R3E-Network/xvault/internal/vault/fee"
	"github.com/R3E-Network/xvault/internal/vault/mintreq"
)

// SnapshotVersion is the layout version written by Snapshot. Restore refuses
// any other version.
const SnapshotVersion = 1

// Snapshot is the complete, serialisable registry state. Its JSON layout is
// stable across releases of the same version, so a registry built by a newer
// binary can restore it unchanged.
type Snapshot struct {
	Version int          `json:"version"`
	Owner   string       `json:"owner"`
	Custody string       `json:"custody"`
	NextID  uint64       `json:"next_id"`
	TakenAt time.Time    `json:"taken_at"`
	Vaults  []VaultState `json:"vaults"`
}

// VaultState is the serialisable state of one vault.
type VaultState struct {
	ID            uint64            `json:"id"`
	Kind          Kind              `json:"kind"`
	ClaimTokenRef string            `json:"claim_token"`
	AssetRef      string            `json:"asset"`
	Manager       string            `json:"manager"`
	Finalized     bool              `json:"finalized"`
	CreatedAt     time.Time         `json:"created_at"`
	Eligibility   eligibility.State `json:"eligibility"`
	Fees          fee.Schedule      `json:"fees"`
	Bounty        bounty.Bounty     `json:"bounty"`
	Reserve       *big.Int          `json:"reserve"`
	Holdings      []string          `json:"holdings"`
	HeldAmount    *big.Int          `json:"held_amount"`
	Requests      mintreq.State     `json:"requests"`
}

// Snapshot captures the registry.
func (r *Registry) Snapshot(ctx context.Context) (*Snapshot, error) {
	return r.SnapshotWith(ctx, nil)
}

// SnapshotWith captures the registry with every vault locked and runs
// capture before the locks are released, so ledger state read by capture
// matches the snapshot exactly.
func (r *Registry) SnapshotWith(ctx context.Context, capture func() error) (*Snapshot, error) {
	for {
		r.mu.RLock()
		snap := &Snapshot{
			Version: SnapshotVersion,
			Owner:   r.owner,
			Custody: r.custody,
			NextID:  r.nextID,
			TakenAt: r.now().UTC(),
		}
		vaults := make([]*Vault, 0, len(r.vaults))
		for _, v := range r.vaults {
			vaults = append(vaults, v)
		}
		r.mu.RUnlock()
		sort.Slice(vaults, func(i, j int) bool { return vaults[i].id < vaults[j].id })

		for _, v := range vaults {
			if isActive(ctx, v.id) {
				return nil, errors.Reentrant(v.id)
			}
		}
		for _, v := range vaults {
			v.mu.Lock()
		}
		unlock := func() {
			for _, v := range vaults {
				v.mu.Unlock()
			}
		}

		// A vault created after the list was taken forces a retry.
		r.mu.RLock()
		stale := r.nextID != snap.NextID
		r.mu.RUnlock()
		if stale {
			unlock()
			continue
		}

		snap.Vaults = make([]VaultState, 0, len(vaults))
		for _, v := range vaults {
			snap.Vaults = append(snap.Vaults, v.state())
		}
		var err error
		if capture != nil {
			err = capture()
		}
		unlock()
		if err != nil {
			return nil, err
		}
		return snap, nil
	}
}

// MarshalSnapshot returns the JSON encoding of Snapshot.
func (r *Registry) MarshalSnapshot(ctx context.Context) ([]byte, error) {
	snap, err := r.Snapshot(ctx)
	if err != nil {
		return nil, err
	}
	return json.Marshal(snap)
}

func (v *Vault) state() VaultState {
	return VaultState{
		ID:            v.id,
		Kind:          v.kind,
		ClaimTokenRef: v.claimTokenRef,
		AssetRef:      v.assetRef,
		Manager:       v.manager,
		Finalized:     v.finalized,
		CreatedAt:     v.createdAt,
		Eligibility:   v.rules.State(),
		Fees:          v.fees.Clone(),
		Bounty:        v.bounty.Clone(),
		Reserve:       new(big.Int).Set(v.reserve),
		Holdings:      append([]string{}, v.holdings...),
		HeldAmount:    new(big.Int).Set(v.held),
		Requests:      v.requests.State(),
	}
}

// Restore loads a JSON snapshot into an empty registry. The registry keeps
// its own modules, bank and logger; owner and custody come from the snapshot.
func (r *Registry) Restore(ctx context.Context, data []byte) error {
	if !gjson.ValidBytes(data) {
		return errors.InvalidInput("snapshot is not valid JSON")
	}
	version := gjson.GetBytes(data, "version")
	if !version.Exists() {
		return errors.InvalidInput("snapshot has no version")
	}
	if version.Int() != SnapshotVersion {
		return errors.InvalidInput(fmt.Sprintf("unsupported snapshot version %d", version.Int()))
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return errors.InvalidInput("decode snapshot: " + err.Error())
	}
	return r.RestoreSnapshot(ctx, &snap)
}

// RestoreSnapshot loads snap into an empty registry.
func (r *Registry) RestoreSnapshot(ctx context.Context, snap *Snapshot) error {
	if snap.Version != SnapshotVersion {
		return errors.InvalidInput(fmt.Sprintf("unsupported snapshot version %d", snap.Version))
	}
	vaults := make(map[uint64]*Vault, len(snap.Vaults))
	bound := make(map[string]uint64, len(snap.Vaults))
	for _, s := range snap.Vaults {
		if s.ID >= snap.NextID {
			return errors.InvalidInput(fmt.Sprintf("vault %d is not below next id %d", s.ID, snap.NextID))
		}
		if _, dup := vaults[s.ID]; dup {
			return errors.InvalidInput(fmt.Sprintf("vault %d appears twice", s.ID))
		}
		if other, dup := bound[s.ClaimTokenRef]; dup {
			return errors.AlreadyBound(s.ClaimTokenRef, other)
		}
		v := vaultFromState(s)
		v.requests.SetClock(r.now)
		vaults[s.ID] = v
		bound[s.ClaimTokenRef] = s.ID
	}

	r.mu.Lock()
	if len(r.vaults) != 0 || r.nextID != 0 {
		r.mu.Unlock()
		return errors.InvalidInput("snapshots can only be restored into an empty registry")
	}
	if snap.Owner != "" {
		r.owner = snap.Owner
	}
	if snap.Custody != "" {
		r.custody = snap.Custody
	}
	r.nextID = snap.NextID
	r.vaults = vaults
	r.bound = bound
	r.mu.Unlock()

	r.log.WithContext(ctx).WithFields(map[string]interface{}{
		"vaults":   len(vaults),
		"next_id":  snap.NextID,
		"taken_at": snap.TakenAt,
	}).Info("registry restored from snapshot")
	r.publish(ctx, events.Event{
		Type:     events.EventStateRestored,
		Metadata: map[string]string{"vaults": fmt.Sprint(len(vaults)), "next_id": fmt.Sprint(snap.NextID)},
	})
	return nil
}

func vaultFromState(s VaultState) *Vault {
	v := newVault(s.ID, s.Kind, s.ClaimTokenRef, s.AssetRef, s.Manager, s.CreatedAt)
	v.finalized = s.Finalized
	v.rules = eligibility.FromState(s.Eligibility)
	v.fees = fee.Schedule{
		Mint: fee.NewCurve(s.Fees.Mint.Base, s.Fees.Mint.PerItem),
		Burn: fee.NewCurve(s.Fees.Burn.Base, s.Fees.Burn.PerItem),
		Dual: fee.NewCurve(s.Fees.Dual.Base, s.Fees.Dual.PerItem),
	}
	v.bounty = bounty.New(s.Bounty.AmountPerUnit, s.Bounty.Levels)
	if s.Reserve != nil {
		v.reserve = new(big.Int).Set(s.Reserve)
	}
	if s.HeldAmount != nil {
		v.held = new(big.Int).Set(s.HeldAmount)
	}
	v.holdings = append([]string(nil), s.Holdings...)
	v.requests = mintreq.FromState(s.ID, s.Requests)
	return v
}

// =============================================================================
// Invariants
// =============================================================================

// CheckInvariants verifies, for every vault, that the claim token supply
// matches the holdings and that the custody account holds the reserve.
func (r *Registry) CheckInvariants(ctx context.Context) error {
	r.mu.RLock()
	vaults := make([]*Vault, 0, len(r.vaults))
	for _, v := range r.vaults {
		vaults = append(vaults, v)
	}
	r.mu.RUnlock()
	sort.Slice(vaults, func(i, j int) bool { return vaults[i].id < vaults[j].id })

	for _, v := range vaults {
		if err := r.checkVault(ctx, v); err != nil {
			return err
		}
	}
	return nil
}

func (r *Registry) checkVault(ctx context.Context, v *Vault) error {
	if isActive(ctx, v.id) {
		return errors.Reentrant(v.id)
	}
	v.mu.Lock()
	defer v.mu.Unlock()

	claim, err := r.modules.ClaimToken(v.claimTokenRef)
	if err != nil {
		return errors.Internal("claim token module unavailable", err)
	}
	supply, err := claim.TotalSupply(ctx)
	if err != nil {
		return externalError(err)
	}
	if expected := v.expectedSupply(); supply.Cmp(expected) != 0 {
		return errors.Internal(fmt.Sprintf("vault %d: claim supply %s does not match holdings %s", v.id, supply, expected), nil)
	}

	custody, err := r.bank.BalanceOf(ctx, r.CustodyAccount(v.id))
	if err != nil {
		return externalError(err)
	}
	if custody.Cmp(v.reserve) != 0 {
		return errors.Internal(fmt.Sprintf("vault %d: custody balance %s does not match reserve %s", v.id, custody, v.reserve), nil)
	}
	return nil
}
