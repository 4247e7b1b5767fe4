package main

import (
	"context"
	"fmt"
	"math/big"

	"github.com/R3E-Network/xvault/internal/config"
	"github.com/R3E-Network/xvault/internal/ledger"
	"github.com/R3E-Network/xvault/internal/logging"
	"github.com/R3E-Network/xvault/internal/vault"
)

// eligibilityBatch bounds the item ids sent in one SetEligible call.
const eligibilityBatch = 500

// applyPresets creates and configures every preset vault. Presets without a
// manager are managed by owner.
func applyPresets(ctx context.Context, registry *vault.Registry, directory *ledger.Directory, presets *config.Presets, owner string, log *logging.Logger) error {
	for _, p := range presets.Vaults {
		manager := p.Manager
		if manager == "" {
			manager = owner
		}
		call := vault.Call{Caller: manager}
		claim := p.ClaimTokenRef()

		directory.Ensure(claim, true)
		directory.Ensure(p.Asset, p.Fungible)
		id, err := registry.CreateVault(ctx, call, claim, p.Asset, p.Fungible)
		if err != nil {
			return fmt.Errorf("preset %s: create vault: %w", p.Ticker, err)
		}
		if err := configurePreset(ctx, registry, id, call, p); err != nil {
			return fmt.Errorf("preset %s: %w", p.Ticker, err)
		}

		log.WithFields(map[string]interface{}{
			"vault_id":  id,
			"ticker":    p.Ticker,
			"name":      p.Name,
			"asset":     p.Asset,
			"eligible":  len(p.Eligible),
			"finalized": p.Finalize,
		}).Info("preset vault created")
	}
	return nil
}

func configurePreset(ctx context.Context, registry *vault.Registry, id uint64, call vault.Call, p config.VaultPreset) error {
	for start := 0; start < len(p.Eligible); start += eligibilityBatch {
		end := start + eligibilityBatch
		if end > len(p.Eligible) {
			end = len(p.Eligible)
		}
		if err := registry.SetEligible(ctx, call, id, p.Eligible[start:end], true); err != nil {
			return fmt.Errorf("set eligible: %w", err)
		}
	}
	if p.NegateEligibility {
		if err := registry.SetNegateEligibility(ctx, call, id, true); err != nil {
			return fmt.Errorf("negate eligibility: %w", err)
		}
	}
	if p.FlipEligibilityOnRedeem {
		if err := registry.SetFlipEligibilityOnRedeem(ctx, call, id, true); err != nil {
			return fmt.Errorf("flip eligibility: %w", err)
		}
	}

	fees := []struct {
		name  string
		curve *config.CurvePreset
		set   func(context.Context, vault.Call, uint64, *big.Int, *big.Int) error
	}{
		{"mint", p.Fees.Mint, registry.SetMintFees},
		{"burn", p.Fees.Burn, registry.SetBurnFees},
		{"dual", p.Fees.Dual, registry.SetDualFees},
	}
	for _, f := range fees {
		if f.curve == nil {
			continue
		}
		base, perItem, err := f.curve.Amounts()
		if err != nil {
			return fmt.Errorf("%s fee: %w", f.name, err)
		}
		if err := f.set(ctx, call, id, base, perItem); err != nil {
			return fmt.Errorf("%s fee: %w", f.name, err)
		}
	}

	if p.Bounty != nil {
		amount, err := p.Bounty.Amount()
		if err != nil {
			return fmt.Errorf("bounty: %w", err)
		}
		if err := registry.SetSupplierBounty(ctx, call, id, amount, p.Bounty.Levels); err != nil {
			return fmt.Errorf("bounty: %w", err)
		}
	}
	if p.Finalize {
		if err := registry.FinalizeVault(ctx, call, id); err != nil {
			return fmt.Errorf("finalize: %w", err)
		}
	}
	return nil
}
