package vault

import (
	"context"
	"math/big"

	"github.com/R3E-Network/xvault/internal/errors"
	"github.com/R3E-Network/xvault/internal/logging"
)

// journal collects compensating actions for one operation. Bookkeeping
// changes and completed external transfers each push an undo step; rollback
// runs them newest first.
type journal struct {
	steps []func(ctx context.Context) error
}

func (j *journal) push(step func(ctx context.Context) error) {
	j.steps = append(j.steps, step)
}

// pushLocal records an undo step that cannot fail.
func (j *journal) pushLocal(step func()) {
	j.push(func(context.Context) error {
		step()
		return nil
	})
}

func (j *journal) rollback(ctx context.Context, log *logging.Logger, vaultID uint64) {
	ctx = context.WithoutCancel(ctx)
	for i := len(j.steps) - 1; i >= 0; i-- {
		if err := j.steps[i](ctx); err != nil {
			log.WithContext(ctx).WithError(err).WithField("vault_id", vaultID).
				Error("rollback step failed, ledgers may be inconsistent")
		}
	}
	j.steps = nil
}

// external runs the transfers of one operation, recording a compensating
// transfer for each that succeeds.
type external struct {
	ctx     context.Context
	journal *journal
}

func (x *external) moveItem(c Collection, from, to, itemID string) error {
	if err := c.TransferFrom(x.ctx, from, to, itemID); err != nil {
		return err
	}
	x.journal.push(func(ctx context.Context) error {
		return c.TransferFrom(ctx, to, from, itemID)
	})
	return nil
}

func (x *external) moveAmount(t Token, from, to string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := t.Transfer(x.ctx, from, to, amount); err != nil {
		return err
	}
	x.journal.push(func(ctx context.Context) error {
		return t.Transfer(ctx, to, from, amount)
	})
	return nil
}

func (x *external) mintClaim(c ClaimToken, to string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := c.Mint(x.ctx, to, amount); err != nil {
		return err
	}
	x.journal.push(func(ctx context.Context) error {
		return c.Burn(ctx, to, amount)
	})
	return nil
}

func (x *external) burnClaim(c ClaimToken, from string, amount *big.Int) error {
	if amount.Sign() == 0 {
		return nil
	}
	if err := c.Burn(x.ctx, from, amount); err != nil {
		return err
	}
	x.journal.push(func(ctx context.Context) error {
		return c.Mint(ctx, from, amount)
	})
	return nil
}

// externalError keeps engine errors raised inside module callbacks and wraps
// everything else as internal.
func externalError(err error) error {
	if se := errors.GetServiceError(err); se != nil {
		return se
	}
	return errors.Internal("external module call failed", err)
}

// =============================================================================
// Re-entrancy
// =============================================================================

type activeVaultKey struct{ id uint64 }

// markActive tags ctx as running external calls for vaultID.
func markActive(ctx context.Context, vaultID uint64) context.Context {
	return context.WithValue(ctx, activeVaultKey{id: vaultID}, true)
}

func isActive(ctx context.Context, vaultID uint64) bool {
	v, _ := ctx.Value(activeVaultKey{id: vaultID}).(bool)
	return v
}
