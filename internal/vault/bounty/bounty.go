// Package bounty computes the decaying supplier bounty paid on deposits into
// an under-supplied vault and charged back on withdrawals.
//
// The rate starts at AmountPerUnit for the first unit transacted in a call and
// decays linearly to zero at Levels units. Every call restarts the curve at
// position zero. Both directions evaluate the same curve over the quantity
// transacted, so depositing and then withdrawing the same quantity nets to
// zero.
package bounty

import (
	"fmt"
	"math/big"

	"github.com/R3E-Network/xvault/internal/vault/fee"
)

// Bounty is a vault's supplier bounty configuration.
type Bounty struct {
	AmountPerUnit *big.Int `json:"amount_per_unit"`
	Levels        int64    `json:"levels"`
}

// New returns a bounty with a copy of amountPerUnit.
func New(amountPerUnit *big.Int, levels int64) Bounty {
	a := new(big.Int)
	if amountPerUnit != nil {
		a.Set(amountPerUnit)
	}
	return Bounty{AmountPerUnit: a, Levels: levels}
}

// Validate rejects negative parameters.
func (b Bounty) Validate() error {
	if b.AmountPerUnit != nil && b.AmountPerUnit.Sign() < 0 {
		return fmt.Errorf("bounty amount per unit must not be negative")
	}
	if b.Levels < 0 {
		return fmt.Errorf("bounty levels must not be negative")
	}
	return nil
}

// Active reports whether the bounty can pay anything.
func (b Bounty) Active() bool {
	return b.Levels > 0 && b.AmountPerUnit != nil && b.AmountPerUnit.Sign() > 0
}

// Clone returns a deep copy.
func (b Bounty) Clone() Bounty {
	return New(b.AmountPerUnit, b.Levels)
}

// Discrete returns the bounty for n whole items transacted at positions
// start, start+1, ..., start+n-1 of a call. The item at position p earns
// AmountPerUnit*(Levels-p)/Levels, floored per item, and nothing at or past
// Levels.
func (b Bounty) Discrete(n, start int64) *big.Int {
	total := new(big.Int)
	if !b.Active() || n <= 0 || start < 0 {
		return total
	}
	levels := big.NewInt(b.Levels)
	share := new(big.Int)
	for p := start; p < start+n && p < b.Levels; p++ {
		share.Mul(b.AmountPerUnit, big.NewInt(b.Levels-p))
		share.Quo(share, levels)
		total.Add(total, share)
	}
	return total
}

// Continuous returns the area under the decay line between positions start and
// start+amount, both given in claim-token base units. A nil start is zero. Levels and AmountPerUnit
// are expressed per whole unit, so the closed form is
// AmountPerUnit*(d0²-d1²)/(2*Levels*UnitScale²) with d0 = max(L-start, 0) and
// d1 = max(L-start-amount, 0), L being Levels in base units.
func (b Bounty) Continuous(amount, start *big.Int) *big.Int {
	if !b.Active() || amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	if start == nil {
		start = new(big.Int)
	}
	limit := new(big.Int).Mul(big.NewInt(b.Levels), fee.UnitScale)

	d0 := new(big.Int).Sub(limit, start)
	if d0.Sign() <= 0 {
		return new(big.Int)
	}
	d1 := new(big.Int).Sub(d0, amount)
	if d1.Sign() < 0 {
		d1.SetInt64(0)
	}

	area := new(big.Int).Mul(d0, d0)
	area.Sub(area, new(big.Int).Mul(d1, d1))
	area.Mul(area, b.AmountPerUnit)

	denom := new(big.Int).Mul(fee.UnitScale, fee.UnitScale)
	denom.Mul(denom, big.NewInt(2*b.Levels))
	return area.Quo(area, denom)
}

func (b Bounty) String() string {
	a := b.AmountPerUnit
	if a == nil {
		a = new(big.Int)
	}
	return fmt.Sprintf("{amount_per_unit:%s levels:%d}", a, b.Levels)
}
