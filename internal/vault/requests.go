package vault

import (
	"context"

	"github.com/R3E-Network/xvault/internal/errors"
	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/vault/mintreq"
)

// RequestMint escrows ineligible items with the vault and opens a Pending
// request for each so the curator can approve them.
func (r *Registry) RequestMint(ctx context.Context, call Call, vaultID uint64, itemIDs []string) error {
	if err := validateItems(itemIDs); err != nil {
		return err
	}
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.requestMint(ctx, v, call, itemIDs); err != nil {
		return r.fail(ctx, "request_mint", vaultID, call.Caller, err)
	}
	return nil
}

func (r *Registry) requestMint(ctx context.Context, v *Vault, call Call, itemIDs []string) error {
	if v.kind != NonFungible {
		return errors.InvalidInput("mint requests are only supported by non-fungible vaults")
	}
	for _, id := range itemIDs {
		if v.rules.IsEligible(id) {
			return errors.AlreadyEligible(v.id, id)
		}
	}
	if err := v.requests.CheckOpen(itemIDs); err != nil {
		return err
	}
	collection, _, err := r.nonFungibleModules(v)
	if err != nil {
		return err
	}
	if err := r.checkOwnership(ctx, v, collection, call.Caller, itemIDs); err != nil {
		return err
	}

	j := &journal{}
	j.pushLocal(v.requests.Open(call.Caller, itemIDs))

	custody := r.CustodyAccount(v.id)
	x := &external{ctx: markActive(ctx, v.id), journal: j}
	for _, id := range itemIDs {
		if err := x.moveItem(collection, call.Caller, custody, id); err != nil {
			j.rollback(ctx, r.log, v.id)
			return externalError(err)
		}
	}

	r.logRequests(ctx, "mint request opened", v.id, call.Caller, itemIDs)
	r.publish(ctx, events.Event{
		Type:    events.EventMintRequested,
		VaultID: v.id,
		Actor:   call.Caller,
		Items:   append([]string(nil), itemIDs...),
	})
	return nil
}

// RevokeMintRequests cancels the caller's Pending requests and returns the
// escrowed items.
func (r *Registry) RevokeMintRequests(ctx context.Context, call Call, vaultID uint64, itemIDs []string) error {
	if err := validateItems(itemIDs); err != nil {
		return err
	}
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.revokeMintRequests(ctx, v, call, itemIDs); err != nil {
		return r.fail(ctx, "revoke_mint_requests", vaultID, call.Caller, err)
	}
	return nil
}

func (r *Registry) revokeMintRequests(ctx context.Context, v *Vault, call Call, itemIDs []string) error {
	if err := v.requests.CheckRevoke(call.Caller, itemIDs); err != nil {
		return err
	}
	collection, _, err := r.nonFungibleModules(v)
	if err != nil {
		return err
	}

	j := &journal{}
	j.pushLocal(v.requests.Revoke(itemIDs))

	custody := r.CustodyAccount(v.id)
	x := &external{ctx: markActive(ctx, v.id), journal: j}
	for _, id := range itemIDs {
		if err := x.moveItem(collection, custody, call.Caller, id); err != nil {
			j.rollback(ctx, r.log, v.id)
			return externalError(err)
		}
	}

	r.logRequests(ctx, "mint request revoked", v.id, call.Caller, itemIDs)
	r.publish(ctx, events.Event{
		Type:    events.EventMintRevoked,
		VaultID: v.id,
		Actor:   call.Caller,
		Items:   append([]string(nil), itemIDs...),
	})
	return nil
}

// ApproveMintRequest whitelists the requested items, moves them into the
// holdings and issues one UnitScale of claim token to each requester. No fee
// or bounty applies. Items already approved are skipped; items without a
// Pending request fail with NotPending.
func (r *Registry) ApproveMintRequest(ctx context.Context, call Call, vaultID uint64, itemIDs []string) error {
	if err := validateItems(itemIDs); err != nil {
		return err
	}
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return err
	}
	defer unlock()

	if err := r.approveMintRequest(ctx, v, call, itemIDs); err != nil {
		return r.fail(ctx, "approve_mint_request", vaultID, call.Caller, err)
	}
	return nil
}

func (r *Registry) approveMintRequest(ctx context.Context, v *Vault, call Call, itemIDs []string) error {
	if !r.privileged(v, call.Caller) {
		return errors.Unauthorized("only the vault's privileged actor can approve mint requests").
			WithDetails("vault_id", v.id).
			WithDetails("caller", call.Caller)
	}
	pending, err := v.requests.CheckApprove(itemIDs)
	if err != nil {
		return err
	}
	if len(pending) == 0 {
		return nil
	}
	_, claim, err := r.nonFungibleModules(v)
	if err != nil {
		return err
	}

	ids := make([]string, 0, len(pending))
	for _, req := range pending {
		ids = append(ids, req.ItemID)
	}

	j := &journal{}
	j.pushLocal(v.requests.Approve(ids))
	prevHoldings := len(v.holdings)
	v.holdings = append(v.holdings, ids...)
	j.pushLocal(func() { v.holdings = v.holdings[:prevHoldings] })
	for _, id := range ids {
		id := id
		prev, had := v.rules.Override(id)
		v.rules.Approve(id)
		j.pushLocal(func() { v.rules.RestoreOverride(id, prev, had) })
	}

	x := &external{ctx: markActive(ctx, v.id), journal: j}
	for _, req := range pending {
		if err := x.mintClaim(claim, req.Requester, itemsToUnits(1)); err != nil {
			j.rollback(ctx, r.log, v.id)
			return externalError(err)
		}
	}

	r.logRequests(ctx, "mint request approved", v.id, call.Caller, ids)
	r.publish(ctx, events.Event{
		Type:    events.EventMintApproved,
		VaultID: v.id,
		Actor:   call.Caller,
		Items:   ids,
		Amount:  itemsToUnits(len(ids)).String(),
	})
	return nil
}

// PendingRequests lists the vault's Pending requests, oldest first.
func (r *Registry) PendingRequests(ctx context.Context, vaultID uint64) ([]mintreq.Request, error) {
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return nil, err
	}
	defer unlock()
	return v.requests.Pending(), nil
}

// MintRequest returns the latest request recorded for itemID.
func (r *Registry) MintRequest(ctx context.Context, vaultID uint64, itemID string) (mintreq.Request, bool, error) {
	v, unlock, err := r.enter(ctx, vaultID)
	if err != nil {
		return mintreq.Request{}, false, err
	}
	defer unlock()
	req, ok := v.requests.Get(itemID)
	return req, ok, nil
}

func (r *Registry) logRequests(ctx context.Context, msg string, vaultID uint64, caller string, itemIDs []string) {
	r.log.WithContext(ctx).WithFields(map[string]interface{}{
		"vault_id": vaultID,
		"caller":   caller,
		"items":    itemIDs,
	}).Info(msg)
}
