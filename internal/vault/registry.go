package vault

import (
	"context"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/R3E-Network/xvault/internal/errors"
	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/logging"
	"github.com/R3E-Network/xvault/internal/vault/bounty"
	"github.com/R3E-Network/xvault/internal/vault/fee"
)

// DefaultCustody is the account prefix under which vaults hold collateral.
const DefaultCustody = "vault-custody"

// Options configures a Registry.
type Options struct {
	// Owner is the global admin and the privileged actor of finalized vaults.
	Owner string

	// Custody prefixes the per-vault custody accounts.
	Custody string

	Modules Modules
	Bank    Bank
	Logger  *logging.Logger
	Events  events.Publisher
	Clock   func() time.Time
}

// Registry creates vaults, allocates ids and routes every operation to the
// named vault.
type Registry struct {
	mu      sync.RWMutex
	owner   string
	custody string
	nextID  uint64
	vaults  map[uint64]*Vault
	bound   map[string]uint64

	modules Modules
	bank    Bank
	log     *logging.Logger
	events  events.Publisher
	now     func() time.Time
}

// NewRegistry creates an empty registry.
func NewRegistry(opts Options) (*Registry, error) {
	if opts.Owner == "" {
		return nil, fmt.Errorf("registry owner is required")
	}
	if opts.Modules == nil {
		return nil, fmt.Errorf("module directory is required")
	}
	if opts.Bank == nil {
		return nil, fmt.Errorf("bank is required")
	}
	if opts.Custody == "" {
		opts.Custody = DefaultCustody
	}
	if opts.Logger == nil {
		opts.Logger = logging.Default("vault")
	}
	if opts.Clock == nil {
		opts.Clock = time.Now
	}
	return &Registry{
		owner:   opts.Owner,
		custody: opts.Custody,
		vaults:  make(map[uint64]*Vault),
		bound:   make(map[string]uint64),
		modules: opts.Modules,
		bank:    opts.Bank,
		log:     opts.Logger,
		events:  opts.Events,
		now:     opts.Clock,
	}, nil
}

// Owner returns the registry owner.
func (r *Registry) Owner() string {
	return r.owner
}

// CustodyAccount returns the account holding vaultID's collateral, escrowed
// items and reserve.
func (r *Registry) CustodyAccount(vaultID uint64) string {
	return fmt.Sprintf("%s:%d", r.custody, vaultID)
}

// =============================================================================
// Creation and lookup
// =============================================================================

// CreateVault allocates a vault with empty holdings, zero fees and bounty,
// allow-all eligibility and the caller as manager.
func (r *Registry) CreateVault(ctx context.Context, call Call, claimTokenRef, assetRef string, fungible bool) (uint64, error) {
	if call.Caller == "" {
		return 0, errors.InvalidInput("caller is required")
	}
	if claimTokenRef == "" || assetRef == "" {
		return 0, errors.InvalidInput("claim token and asset refs are required")
	}
	if claimTokenRef == assetRef {
		return 0, errors.InvalidInput("claim token and asset must differ")
	}

	claim, err := r.modules.ClaimToken(claimTokenRef)
	if err != nil {
		return 0, errors.InvalidInput("unknown claim token").WithDetails("claim_token", claimTokenRef)
	}
	kind := NonFungible
	if fungible {
		kind = Fungible
		_, err = r.modules.Token(assetRef)
	} else {
		_, err = r.modules.Collection(assetRef)
	}
	if err != nil {
		return 0, errors.InvalidInput("unknown asset").WithDetails("asset", assetRef)
	}
	r.mu.RLock()
	existing, bound := r.bound[claimTokenRef]
	r.mu.RUnlock()
	if bound {
		return 0, errors.AlreadyBound(claimTokenRef, existing)
	}
	supply, err := claim.TotalSupply(ctx)
	if err != nil {
		return 0, externalError(err)
	}
	if supply.Sign() != 0 {
		return 0, errors.InvalidInput("claim token already has supply").WithDetails("claim_token", claimTokenRef)
	}

	r.mu.Lock()
	if existing, ok := r.bound[claimTokenRef]; ok {
		r.mu.Unlock()
		return 0, errors.AlreadyBound(claimTokenRef, existing)
	}
	id := r.nextID
	r.nextID++
	v := newVault(id, kind, claimTokenRef, assetRef, call.Caller, r.now().UTC())
	v.requests.SetClock(r.now)
	r.vaults[id] = v
	r.bound[claimTokenRef] = id
	r.mu.Unlock()

	r.log.WithContext(ctx).WithFields(map[string]interface{}{
		"vault_id":    id,
		"kind":        kind.String(),
		"claim_token": claimTokenRef,
		"asset":       assetRef,
		"manager":     call.Caller,
	}).Info("vault created")
	r.publish(ctx, events.Event{
		Type:     events.EventVaultCreated,
		VaultID:  id,
		Actor:    call.Caller,
		Metadata: map[string]string{"kind": kind.String(), "claim_token": claimTokenRef, "asset": assetRef},
	})
	return id, nil
}

func (r *Registry) lookup(vaultID uint64) (*Vault, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	v, ok := r.vaults[vaultID]
	if !ok {
		return nil, errors.VaultNotFound(vaultID)
	}
	return v, nil
}

// enter locks vaultID for one operation. It fails if ctx is already running
// external calls for that vault.
func (r *Registry) enter(ctx context.Context, vaultID uint64) (*Vault, func(), error) {
	if err := ctx.Err(); err != nil {
		return nil, nil, err
	}
	v, err := r.lookup(vaultID)
	if err != nil {
		return nil, nil, err
	}
	if isActive(ctx, vaultID) {
		return nil, nil, errors.Reentrant(vaultID)
	}
	v.mu.Lock()
	return v, v.mu.Unlock, nil
}

// Len returns the number of vaults.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.vaults)
}

// =============================================================================
// Read-only queries
// =============================================================================

// VaultInfo returns a view of vaultID.
func (r *Registry) VaultInfo(ctx context.Context, vaultID uint64) (Info, error) {
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return Info{}, err
	}
	defer unlock()
	return v.info(), nil
}

// Vaults returns views of every vault ordered by id.
func (r *Registry) Vaults(ctx context.Context) ([]Info, error) {
	r.mu.RLock()
	ids := make([]uint64, 0, len(r.vaults))
	for id := range r.vaults {
		ids = append(ids, id)
	}
	r.mu.RUnlock()
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	out := make([]Info, 0, len(ids))
	for _, id := range ids {
		info, err := r.VaultInfo(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, nil
}

// IsEligible reports whether itemID may currently be minted into vaultID.
// Fungible vaults accept any amount.
func (r *Registry) IsEligible(ctx context.Context, vaultID uint64, itemID string) (bool, error) {
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return false, err
	}
	defer unlock()
	if v.kind == Fungible {
		return true, nil
	}
	return v.rules.IsEligible(itemID), nil
}

// =============================================================================
// Administration
// =============================================================================

// privileged reports whether caller may administer v: the manager before
// finalization and the registry owner after.
func (r *Registry) privileged(v *Vault, caller string) bool {
	if v.finalized {
		return caller == r.owner
	}
	return caller == v.manager
}

// configure runs an admin mutation under the vault lock after the privilege
// and finalization checks.
func (r *Registry) configure(ctx context.Context, call Call, vaultID uint64, setting string, apply func(v *Vault) (map[string]string, error)) error {
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return err
	}
	defer unlock()

	if !r.privileged(v, call.Caller) {
		return r.fail(ctx, setting, vaultID, call.Caller, errors.Unauthorized("caller is not the vault's privileged actor").
			WithDetails("vault_id", vaultID).
			WithDetails("caller", call.Caller))
	}
	if v.finalized {
		return r.fail(ctx, setting, vaultID, call.Caller, errors.VaultFinalized(vaultID))
	}
	meta, err := apply(v)
	if err != nil {
		return r.fail(ctx, setting, vaultID, call.Caller, err)
	}

	if meta == nil {
		meta = map[string]string{}
	}
	meta["setting"] = setting
	r.log.WithContext(ctx).WithFields(map[string]interface{}{
		"vault_id": vaultID,
		"setting":  setting,
		"caller":   call.Caller,
	}).Info("vault configuration changed")
	r.publish(ctx, events.Event{
		Type:     events.EventConfigChanged,
		VaultID:  vaultID,
		Actor:    call.Caller,
		Metadata: meta,
	})
	return nil
}

// SetMintFees sets the deposit fee curve.
func (r *Registry) SetMintFees(ctx context.Context, call Call, vaultID uint64, base, perItem *big.Int) error {
	return r.setFee(ctx, call, vaultID, "mint_fees", base, perItem, func(v *Vault) *fee.Curve { return &v.fees.Mint })
}

// SetBurnFees sets the withdrawal fee curve.
func (r *Registry) SetBurnFees(ctx context.Context, call Call, vaultID uint64, base, perItem *big.Int) error {
	return r.setFee(ctx, call, vaultID, "burn_fees", base, perItem, func(v *Vault) *fee.Curve { return &v.fees.Burn })
}

// SetDualFees sets the swap fee curve.
func (r *Registry) SetDualFees(ctx context.Context, call Call, vaultID uint64, base, perItem *big.Int) error {
	return r.setFee(ctx, call, vaultID, "dual_fees", base, perItem, func(v *Vault) *fee.Curve { return &v.fees.Dual })
}

func (r *Registry) setFee(ctx context.Context, call Call, vaultID uint64, setting string, base, perItem *big.Int, target func(v *Vault) *fee.Curve) error {
	curve := fee.NewCurve(base, perItem)
	if err := curve.Validate(); err != nil {
		return errors.InvalidInput(err.Error())
	}
	return r.configure(ctx, call, vaultID, setting, func(v *Vault) (map[string]string, error) {
		*target(v) = curve
		return map[string]string{"base": curve.Base.String(), "per_item": curve.PerItem.String()}, nil
	})
}

// SetSupplierBounty sets the decaying deposit incentive.
func (r *Registry) SetSupplierBounty(ctx context.Context, call Call, vaultID uint64, amountPerUnit *big.Int, levels int64) error {
	b := bounty.New(amountPerUnit, levels)
	if err := b.Validate(); err != nil {
		return errors.InvalidInput(err.Error())
	}
	return r.configure(ctx, call, vaultID, "supplier_bounty", func(v *Vault) (map[string]string, error) {
		v.bounty = b
		return map[string]string{"amount_per_unit": b.AmountPerUnit.String(), "levels": fmt.Sprint(levels)}, nil
	})
}

// SetEligible adds or removes item ids from the eligibility set.
func (r *Registry) SetEligible(ctx context.Context, call Call, vaultID uint64, itemIDs []string, eligible bool) error {
	if err := validateItems(itemIDs); err != nil {
		return err
	}
	return r.configure(ctx, call, vaultID, "eligibility", func(v *Vault) (map[string]string, error) {
		if v.kind == Fungible {
			return nil, errors.InvalidInput("fungible vaults have no item eligibility")
		}
		v.rules.SetEligible(itemIDs, eligible)
		return map[string]string{"eligible": fmt.Sprint(eligible), "count": fmt.Sprint(len(itemIDs))}, nil
	})
}

// SetNegateEligibility switches the eligibility set between allow-list and
// deny-list.
func (r *Registry) SetNegateEligibility(ctx context.Context, call Call, vaultID uint64, negate bool) error {
	return r.configure(ctx, call, vaultID, "negate_eligibility", func(v *Vault) (map[string]string, error) {
		v.rules.SetNegate(negate)
		return map[string]string{"negate": fmt.Sprint(negate)}, nil
	})
}

// SetFlipEligibilityOnRedeem enables the post-redeem cooldown.
func (r *Registry) SetFlipEligibilityOnRedeem(ctx context.Context, call Call, vaultID uint64, flip bool) error {
	return r.configure(ctx, call, vaultID, "flip_eligibility_on_redeem", func(v *Vault) (map[string]string, error) {
		v.rules.SetFlipOnRedeem(flip)
		return map[string]string{"flip": fmt.Sprint(flip)}, nil
	})
}

// SetManager hands the curator role to another account.
func (r *Registry) SetManager(ctx context.Context, call Call, vaultID uint64, manager string) error {
	if manager == "" {
		return errors.InvalidInput("manager is required")
	}
	return r.configure(ctx, call, vaultID, "manager", func(v *Vault) (map[string]string, error) {
		v.manager = manager
		return map[string]string{"manager": manager}, nil
	})
}

// FinalizeVault permanently locks the vault's configuration. Finalizing an
// already finalized vault is a no-op for its manager or the registry owner.
func (r *Registry) FinalizeVault(ctx context.Context, call Call, vaultID uint64) error {
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return err
	}
	defer unlock()

	if v.finalized && (call.Caller == v.manager || call.Caller == r.owner) {
		return nil
	}
	if !r.privileged(v, call.Caller) {
		return r.fail(ctx, "finalize", vaultID, call.Caller, errors.Unauthorized("caller is not the vault's privileged actor").
			WithDetails("vault_id", vaultID).
			WithDetails("caller", call.Caller))
	}
	v.finalized = true

	r.log.WithContext(ctx).WithFields(map[string]interface{}{
		"vault_id": vaultID,
		"caller":   call.Caller,
	}).Info("vault finalized")
	r.publish(ctx, events.Event{Type: events.EventVaultFinalized, VaultID: vaultID, Actor: call.Caller})
	return nil
}

// =============================================================================
// Helpers
// =============================================================================

func (r *Registry) publish(ctx context.Context, e events.Event) {
	if r.events == nil {
		return
	}
	r.events.LogWithContext(ctx, e)
}

// fail logs and publishes a rejected operation and returns err unchanged.
func (r *Registry) fail(ctx context.Context, op string, vaultID uint64, caller string, err error) error {
	code := string(errors.CodeInternal)
	if se := errors.GetServiceError(err); se != nil {
		code = string(se.Code)
	}
	entry := r.log.WithContext(ctx).WithFields(map[string]interface{}{
		"vault_id":  vaultID,
		"operation": op,
		"caller":    caller,
		"code":      code,
	})
	if code == string(errors.CodeInternal) {
		entry.WithError(err).Error("vault operation failed")
	} else {
		entry.Debug("vault operation rejected")
	}
	r.publish(ctx, events.Event{
		Type:      events.EventOperationFailed,
		VaultID:   vaultID,
		Actor:     caller,
		Operation: op,
		Error:     code,
	})
	return err
}

// validateItems rejects empty batches and duplicate ids.
func validateItems(itemIDs []string) error {
	if len(itemIDs) == 0 {
		return errors.InvalidInput("at least one item id is required")
	}
	seen := make(map[string]struct{}, len(itemIDs))
	for _, id := range itemIDs {
		if id == "" {
			return errors.InvalidInput("item id must not be empty")
		}
		if _, dup := seen[id]; dup {
			return errors.InvalidInput("duplicate item id").WithDetails("item_id", id)
		}
		seen[id] = struct{}{}
	}
	return nil
}
