package vault

import (
	"context"
	"math/big"

	"github.com/R3E-Network/xvault/internal/errors"
	"github.com/R3E-Network/xvault/internal/events"
)

// Receipt summarises the value flows of a completed operation.
type Receipt struct {
	VaultID   uint64   `json:"vault_id"`
	Items     []string `json:"items,omitempty"`
	Withdrawn []string `json:"withdrawn,omitempty"`
	Amount    *big.Int `json:"amount"`
	Fee       *big.Int `json:"fee"`
	Bounty    *big.Int `json:"bounty"`
	Paid      *big.Int `json:"paid"`
	Reserve   *big.Int `json:"reserve"`
}

// =============================================================================
// Mint
// =============================================================================

// Mint deposits itemIDs into a non-fungible vault and issues one UnitScale of
// claim token per item to the caller. The mint fee is charged from the
// attached value and the supplier bounty is paid out of the reserve.
func (r *Registry) Mint(ctx context.Context, call Call, vaultID uint64, itemIDs []string) (*Receipt, error) {
	if err := validateItems(itemIDs); err != nil {
		return nil, err
	}
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	receipt, err := r.mint(ctx, v, call, itemIDs)
	if err != nil {
		return nil, r.fail(ctx, "mint", vaultID, call.Caller, err)
	}
	return receipt, nil
}

func (r *Registry) mint(ctx context.Context, v *Vault, call Call, itemIDs []string) (*Receipt, error) {
	if v.kind != NonFungible {
		return nil, errors.InvalidInput("vault holds a fungible asset, mint an amount instead")
	}
	for _, id := range itemIDs {
		if !v.rules.IsEligible(id) {
			return nil, errors.NotEligible(v.id, id)
		}
	}
	collection, claim, err := r.nonFungibleModules(v)
	if err != nil {
		return nil, err
	}
	if err := r.checkOwnership(ctx, v, collection, call.Caller, itemIDs); err != nil {
		return nil, err
	}

	n := int64(len(itemIDs))
	value := call.value()
	charge := v.fees.Mint.For(n)
	if value.Cmp(charge) < 0 {
		return nil, errors.InsufficientPayment(v.id, charge, value)
	}
	if err := r.checkFunds(ctx, v, call.Caller, value); err != nil {
		return nil, err
	}
	payout := v.bounty.Discrete(n, 0)
	if err := checkReserve(v, value, payout); err != nil {
		return nil, err
	}
	minted := itemsToUnits(len(itemIDs))

	j := &journal{}
	prevHoldings := len(v.holdings)
	prevReserve := new(big.Int).Set(v.reserve)
	v.holdings = append(v.holdings, itemIDs...)
	v.reserve.Add(v.reserve, value).Sub(v.reserve, payout)
	j.pushLocal(func() {
		v.holdings = v.holdings[:prevHoldings]
		v.reserve = prevReserve
	})

	custody := r.CustodyAccount(v.id)
	x := &external{ctx: markActive(ctx, v.id), journal: j}
	err = func() error {
		if err := x.moveAmount(r.bank, call.Caller, custody, value); err != nil {
			return err
		}
		for _, id := range itemIDs {
			if err := x.moveItem(collection, call.Caller, custody, id); err != nil {
				return err
			}
		}
		if err := x.mintClaim(claim, call.Caller, minted); err != nil {
			return err
		}
		return x.moveAmount(r.bank, custody, call.Caller, payout)
	}()
	if err != nil {
		j.rollback(ctx, r.log, v.id)
		return nil, externalError(err)
	}

	receipt := &Receipt{
		VaultID: v.id,
		Items:   append([]string(nil), itemIDs...),
		Amount:  minted,
		Fee:     charge,
		Bounty:  payout,
		Paid:    value,
		Reserve: new(big.Int).Set(v.reserve),
	}
	r.logFlow(ctx, "mint", call.Caller, receipt)
	r.publish(ctx, flowEvent(events.EventMinted, call.Caller, receipt))
	return receipt, nil
}

// MintAmount deposits amount base units into a fungible vault and issues the
// same amount of claim token.
func (r *Registry) MintAmount(ctx context.Context, call Call, vaultID uint64, amount *big.Int) (*Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.InvalidInput("amount must be positive")
	}
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	receipt, err := r.mintAmount(ctx, v, call, new(big.Int).Set(amount))
	if err != nil {
		return nil, r.fail(ctx, "mint", vaultID, call.Caller, err)
	}
	return receipt, nil
}

func (r *Registry) mintAmount(ctx context.Context, v *Vault, call Call, amount *big.Int) (*Receipt, error) {
	if v.kind != Fungible {
		return nil, errors.InvalidInput("vault holds non-fungible items, mint item ids instead")
	}
	asset, claim, err := r.fungibleModules(v)
	if err != nil {
		return nil, err
	}
	held, err := asset.BalanceOf(ctx, call.Caller)
	if err != nil {
		return nil, externalError(err)
	}
	if held.Cmp(amount) < 0 {
		return nil, errors.InsufficientBalance(v.id, amount, held).WithDetails("asset", v.assetRef)
	}

	value := call.value()
	charge := v.fees.Mint.ForAmount(amount)
	if value.Cmp(charge) < 0 {
		return nil, errors.InsufficientPayment(v.id, charge, value)
	}
	if err := r.checkFunds(ctx, v, call.Caller, value); err != nil {
		return nil, err
	}
	payout := v.bounty.Continuous(amount, nil)
	if err := checkReserve(v, value, payout); err != nil {
		return nil, err
	}

	j := &journal{}
	prevHeld := new(big.Int).Set(v.held)
	prevReserve := new(big.Int).Set(v.reserve)
	v.held = new(big.Int).Add(v.held, amount)
	v.reserve.Add(v.reserve, value).Sub(v.reserve, payout)
	j.pushLocal(func() {
		v.held = prevHeld
		v.reserve = prevReserve
	})

	custody := r.CustodyAccount(v.id)
	x := &external{ctx: markActive(ctx, v.id), journal: j}
	err = func() error {
		if err := x.moveAmount(r.bank, call.Caller, custody, value); err != nil {
			return err
		}
		if err := x.moveAmount(asset, call.Caller, custody, amount); err != nil {
			return err
		}
		if err := x.mintClaim(claim, call.Caller, amount); err != nil {
			return err
		}
		return x.moveAmount(r.bank, custody, call.Caller, payout)
	}()
	if err != nil {
		j.rollback(ctx, r.log, v.id)
		return nil, externalError(err)
	}

	receipt := &Receipt{
		VaultID: v.id,
		Amount:  amount,
		Fee:     charge,
		Bounty:  payout,
		Paid:    value,
		Reserve: new(big.Int).Set(v.reserve),
	}
	r.logFlow(ctx, "mint", call.Caller, receipt)
	r.publish(ctx, flowEvent(events.EventMinted, call.Caller, receipt))
	return receipt, nil
}

// =============================================================================
// Redeem
// =============================================================================

// Redeem burns quantity*UnitScale claim tokens from the caller and returns the
// most recently deposited items. The caller pays the burn fee plus the bounty
// clawback for the redeemed quantity.
func (r *Registry) Redeem(ctx context.Context, call Call, vaultID uint64, quantity int) (*Receipt, error) {
	if quantity <= 0 {
		return nil, errors.InvalidInput("quantity must be positive")
	}
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	receipt, err := r.redeem(ctx, v, call, quantity)
	if err != nil {
		return nil, r.fail(ctx, "redeem", vaultID, call.Caller, err)
	}
	return receipt, nil
}

func (r *Registry) redeem(ctx context.Context, v *Vault, call Call, quantity int) (*Receipt, error) {
	if v.kind != NonFungible {
		return nil, errors.InvalidInput("vault holds a fungible asset, redeem an amount instead")
	}
	if quantity > len(v.holdings) {
		return nil, errors.InsufficientHoldings(v.id, quantity, len(v.holdings))
	}
	collection, claim, err := r.nonFungibleModules(v)
	if err != nil {
		return nil, err
	}
	burned := itemsToUnits(quantity)
	if err := r.checkClaimBalance(ctx, v, claim, call.Caller, burned); err != nil {
		return nil, err
	}

	withdrawn := v.lastHoldings(quantity)
	remaining := len(v.holdings) - quantity
	charge := v.fees.Burn.For(int64(quantity))
	clawback := v.bounty.Discrete(int64(quantity), 0)
	required := new(big.Int).Add(charge, clawback)
	value := call.value()
	if value.Cmp(required) < 0 {
		return nil, errors.InsufficientPayment(v.id, required, value)
	}
	if err := r.checkFunds(ctx, v, call.Caller, value); err != nil {
		return nil, err
	}

	j := &journal{}
	prevHoldings := append([]string(nil), v.holdings...)
	prevReserve := new(big.Int).Set(v.reserve)
	v.holdings = v.holdings[:remaining]
	v.reserve.Add(v.reserve, value)
	j.pushLocal(func() {
		v.holdings = prevHoldings
		v.reserve = prevReserve
	})
	r.flipWithdrawn(v, j, withdrawn)

	custody := r.CustodyAccount(v.id)
	x := &external{ctx: markActive(ctx, v.id), journal: j}
	err = func() error {
		if err := x.moveAmount(r.bank, call.Caller, custody, value); err != nil {
			return err
		}
		if err := x.burnClaim(claim, call.Caller, burned); err != nil {
			return err
		}
		for _, id := range withdrawn {
			if err := x.moveItem(collection, custody, call.Caller, id); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		j.rollback(ctx, r.log, v.id)
		return nil, externalError(err)
	}

	receipt := &Receipt{
		VaultID:   v.id,
		Withdrawn: withdrawn,
		Amount:    burned,
		Fee:       charge,
		Bounty:    clawback,
		Paid:      value,
		Reserve:   new(big.Int).Set(v.reserve),
	}
	r.logFlow(ctx, "redeem", call.Caller, receipt)
	r.publish(ctx, flowEvent(events.EventRedeemed, call.Caller, receipt))
	return receipt, nil
}

// RedeemAmount burns amount claim-token base units from the caller and
// returns the same amount of the fungible asset.
func (r *Registry) RedeemAmount(ctx context.Context, call Call, vaultID uint64, amount *big.Int) (*Receipt, error) {
	if amount == nil || amount.Sign() <= 0 {
		return nil, errors.InvalidInput("amount must be positive")
	}
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	receipt, err := r.redeemAmount(ctx, v, call, new(big.Int).Set(amount))
	if err != nil {
		return nil, r.fail(ctx, "redeem", vaultID, call.Caller, err)
	}
	return receipt, nil
}

func (r *Registry) redeemAmount(ctx context.Context, v *Vault, call Call, amount *big.Int) (*Receipt, error) {
	if v.kind != Fungible {
		return nil, errors.InvalidInput("vault holds non-fungible items, redeem a quantity instead")
	}
	asset, claim, err := r.fungibleModules(v)
	if err != nil {
		return nil, err
	}
	if err := r.checkClaimBalance(ctx, v, claim, call.Caller, amount); err != nil {
		return nil, err
	}
	if v.held.Cmp(amount) < 0 {
		return nil, errors.InsufficientBalance(v.id, amount, v.held).WithDetails("asset", v.assetRef)
	}

	remaining := new(big.Int).Sub(v.held, amount)
	charge := v.fees.Burn.ForAmount(amount)
	clawback := v.bounty.Continuous(amount, nil)
	required := new(big.Int).Add(charge, clawback)
	value := call.value()
	if value.Cmp(required) < 0 {
		return nil, errors.InsufficientPayment(v.id, required, value)
	}
	if err := r.checkFunds(ctx, v, call.Caller, value); err != nil {
		return nil, err
	}

	j := &journal{}
	prevHeld := v.held
	prevReserve := new(big.Int).Set(v.reserve)
	v.held = remaining
	v.reserve.Add(v.reserve, value)
	j.pushLocal(func() {
		v.held = prevHeld
		v.reserve = prevReserve
	})

	custody := r.CustodyAccount(v.id)
	x := &external{ctx: markActive(ctx, v.id), journal: j}
	err = func() error {
		if err := x.moveAmount(r.bank, call.Caller, custody, value); err != nil {
			return err
		}
		if err := x.burnClaim(claim, call.Caller, amount); err != nil {
			return err
		}
		return x.moveAmount(asset, custody, call.Caller, amount)
	}()
	if err != nil {
		j.rollback(ctx, r.log, v.id)
		return nil, externalError(err)
	}

	receipt := &Receipt{
		VaultID: v.id,
		Amount:  amount,
		Fee:     charge,
		Bounty:  clawback,
		Paid:    value,
		Reserve: new(big.Int).Set(v.reserve),
	}
	r.logFlow(ctx, "redeem", call.Caller, receipt)
	r.publish(ctx, flowEvent(events.EventRedeemed, call.Caller, receipt))
	return receipt, nil
}

// =============================================================================
// Swap
// =============================================================================

// MintAndRedeem deposits itemIDs and withdraws the same number of previously
// held items in one step. Only the dual fee is charged and no bounty flows.
func (r *Registry) MintAndRedeem(ctx context.Context, call Call, vaultID uint64, itemIDs []string) (*Receipt, error) {
	if err := validateItems(itemIDs); err != nil {
		return nil, err
	}
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	receipt, err := r.mintAndRedeem(ctx, v, call, itemIDs)
	if err != nil {
		return nil, r.fail(ctx, "mint_and_redeem", vaultID, call.Caller, err)
	}
	return receipt, nil
}

func (r *Registry) mintAndRedeem(ctx context.Context, v *Vault, call Call, itemIDs []string) (*Receipt, error) {
	if v.kind != NonFungible {
		return nil, errors.InvalidInput("swaps are only supported by non-fungible vaults")
	}
	n := len(itemIDs)
	if n > len(v.holdings) {
		return nil, errors.InsufficientHoldings(v.id, n, len(v.holdings))
	}
	for _, id := range itemIDs {
		if !v.rules.IsEligible(id) {
			return nil, errors.NotEligible(v.id, id)
		}
	}
	collection, _, err := r.nonFungibleModules(v)
	if err != nil {
		return nil, err
	}
	if err := r.checkOwnership(ctx, v, collection, call.Caller, itemIDs); err != nil {
		return nil, err
	}
	value := call.value()
	charge := v.fees.Dual.For(int64(n))
	if value.Cmp(charge) < 0 {
		return nil, errors.InsufficientPayment(v.id, charge, value)
	}
	if err := r.checkFunds(ctx, v, call.Caller, value); err != nil {
		return nil, err
	}

	withdrawn := v.lastHoldings(n)

	j := &journal{}
	prevHoldings := append([]string(nil), v.holdings...)
	prevReserve := new(big.Int).Set(v.reserve)
	kept := v.holdings[:len(v.holdings)-n]
	v.holdings = append(append(make([]string, 0, len(prevHoldings)), kept...), itemIDs...)
	v.reserve.Add(v.reserve, value)
	j.pushLocal(func() {
		v.holdings = prevHoldings
		v.reserve = prevReserve
	})
	r.flipWithdrawn(v, j, withdrawn)

	custody := r.CustodyAccount(v.id)
	x := &external{ctx: markActive(ctx, v.id), journal: j}
	err = func() error {
		if err := x.moveAmount(r.bank, call.Caller, custody, value); err != nil {
			return err
		}
		for _, id := range itemIDs {
			if err := x.moveItem(collection, call.Caller, custody, id); err != nil {
				return err
			}
		}
		for _, id := range withdrawn {
			if err := x.moveItem(collection, custody, call.Caller, id); err != nil {
				return err
			}
		}
		return nil
	}()
	if err != nil {
		j.rollback(ctx, r.log, v.id)
		return nil, externalError(err)
	}

	receipt := &Receipt{
		VaultID:   v.id,
		Items:     append([]string(nil), itemIDs...),
		Withdrawn: withdrawn,
		Amount:    new(big.Int),
		Fee:       charge,
		Bounty:    new(big.Int),
		Paid:      value,
		Reserve:   new(big.Int).Set(v.reserve),
	}
	r.logFlow(ctx, "mint_and_redeem", call.Caller, receipt)
	r.publish(ctx, flowEvent(events.EventSwapped, call.Caller, receipt))
	return receipt, nil
}

// =============================================================================
// Reserve
// =============================================================================

// DepositETH credits the attached value to the vault's bounty reserve. Anyone
// may fund a vault, finalized or not.
func (r *Registry) DepositETH(ctx context.Context, call Call, vaultID uint64) (*big.Int, error) {
	value := call.value()
	if value.Sign() <= 0 {
		return nil, errors.InvalidInput("deposit value must be positive")
	}
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer unlock()

	if err := r.checkFunds(ctx, v, call.Caller, value); err != nil {
		return nil, r.fail(ctx, "deposit", vaultID, call.Caller, err)
	}

	j := &journal{}
	prevReserve := new(big.Int).Set(v.reserve)
	v.reserve.Add(v.reserve, value)
	j.pushLocal(func() { v.reserve = prevReserve })

	x := &external{ctx: markActive(ctx, v.id), journal: j}
	if err := x.moveAmount(r.bank, call.Caller, r.CustodyAccount(v.id), value); err != nil {
		j.rollback(ctx, r.log, v.id)
		return nil, r.fail(ctx, "deposit", vaultID, call.Caller, externalError(err))
	}

	reserve := new(big.Int).Set(v.reserve)
	r.log.WithContext(ctx).WithFields(map[string]interface{}{
		"vault_id": vaultID,
		"caller":   call.Caller,
		"amount":   value.String(),
		"reserve":  reserve.String(),
	}).Info("reserve funded")
	r.publish(ctx, events.Event{
		Type:    events.EventReserveDeposited,
		VaultID: vaultID,
		Actor:   call.Caller,
		Amount:  value.String(),
		Reserve: reserve.String(),
	})
	return reserve, nil
}

// =============================================================================
// Shared checks
// =============================================================================

func (r *Registry) nonFungibleModules(v *Vault) (Collection, ClaimToken, error) {
	collection, err := r.modules.Collection(v.assetRef)
	if err != nil {
		return nil, nil, errors.Internal("asset module unavailable", err)
	}
	claim, err := r.modules.ClaimToken(v.claimTokenRef)
	if err != nil {
		return nil, nil, errors.Internal("claim token module unavailable", err)
	}
	return collection, claim, nil
}

func (r *Registry) fungibleModules(v *Vault) (Token, ClaimToken, error) {
	asset, err := r.modules.Token(v.assetRef)
	if err != nil {
		return nil, nil, errors.Internal("asset module unavailable", err)
	}
	claim, err := r.modules.ClaimToken(v.claimTokenRef)
	if err != nil {
		return nil, nil, errors.Internal("claim token module unavailable", err)
	}
	return asset, claim, nil
}

// checkOwnership requires owner to hold every item.
func (r *Registry) checkOwnership(ctx context.Context, v *Vault, c Collection, owner string, itemIDs []string) error {
	for _, id := range itemIDs {
		current, err := c.OwnerOf(ctx, id)
		if err != nil || current != owner {
			return errors.NotOwner(v.id, id, owner)
		}
	}
	return nil
}

// checkFunds requires the caller to hold the attached native value.
func (r *Registry) checkFunds(ctx context.Context, v *Vault, caller string, value *big.Int) error {
	if value.Sign() == 0 {
		return nil
	}
	balance, err := r.bank.BalanceOf(ctx, caller)
	if err != nil {
		return externalError(err)
	}
	if balance.Cmp(value) < 0 {
		return errors.InsufficientBalance(v.id, value, balance).WithDetails("asset", "native")
	}
	return nil
}

func (r *Registry) checkClaimBalance(ctx context.Context, v *Vault, claim ClaimToken, holder string, amount *big.Int) error {
	balance, err := claim.BalanceOf(ctx, holder)
	if err != nil {
		return externalError(err)
	}
	if balance.Cmp(amount) < 0 {
		return errors.InsufficientBalance(v.id, amount, balance).WithDetails("asset", v.claimTokenRef)
	}
	return nil
}

// checkReserve requires the reserve plus this call's payment to cover payout.
func checkReserve(v *Vault, value, payout *big.Int) error {
	if payout.Sign() == 0 {
		return nil
	}
	available := new(big.Int).Add(v.reserve, value)
	if available.Cmp(payout) < 0 {
		return errors.InsufficientReserve(v.id, payout, available)
	}
	return nil
}

// flipWithdrawn applies the redeem cooldown to withdrawn items.
func (r *Registry) flipWithdrawn(v *Vault, j *journal, withdrawn []string) {
	for _, id := range withdrawn {
		id := id
		prev, had := v.rules.Redeemed(id)
		j.pushLocal(func() { v.rules.RestoreOverride(id, prev, had) })
	}
}

func (r *Registry) logFlow(ctx context.Context, op, caller string, receipt *Receipt) {
	r.log.WithContext(ctx).WithFields(map[string]interface{}{
		"vault_id":  receipt.VaultID,
		"operation": op,
		"caller":    caller,
		"items":     len(receipt.Items),
		"withdrawn": len(receipt.Withdrawn),
		"amount":    receipt.Amount.String(),
		"fee":       receipt.Fee.String(),
		"bounty":    receipt.Bounty.String(),
		"reserve":   receipt.Reserve.String(),
	}).Debug("vault operation completed")
}

func flowEvent(t events.EventType, caller string, receipt *Receipt) events.Event {
	items := receipt.Items
	if t == events.EventRedeemed {
		items = receipt.Withdrawn
	}
	return events.Event{
		Type:    t,
		VaultID: receipt.VaultID,
		Actor:   caller,
		Items:   append([]string(nil), items...),
		Amount:  receipt.Amount.String(),
		Fee:     receipt.Fee.String(),
		Bounty:  receipt.Bounty.String(),
		Reserve: receipt.Reserve.String(),
	}
}
