// Package fee implements the linear fee curves charged on vault operations.
package fee

import (
	"fmt"
	"math/big"
)

// UnitScale is the number of claim-token base units backed by one item.
var UnitScale = new(big.Int).Exp(big.NewInt(10), big.NewInt(18), nil)

// Curve is a linear fee: Base for the first item, PerItem for each additional.
type Curve struct {
	Base    *big.Int `json:"base"`
	PerItem *big.Int `json:"per_item"`
}

// NewCurve returns a curve with copies of base and perItem. Nil means zero.
func NewCurve(base, perItem *big.Int) Curve {
	return Curve{Base: clone(base), PerItem: clone(perItem)}
}

// Zero returns a free curve.
func Zero() Curve {
	return NewCurve(nil, nil)
}

// Validate rejects negative parameters.
func (c Curve) Validate() error {
	if c.Base != nil && c.Base.Sign() < 0 {
		return fmt.Errorf("fee base must not be negative")
	}
	if c.PerItem != nil && c.PerItem.Sign() < 0 {
		return fmt.Errorf("fee per item must not be negative")
	}
	return nil
}

// For returns the fee for n items. For(0) is zero.
func (c Curve) For(n int64) *big.Int {
	if n <= 0 {
		return new(big.Int)
	}
	total := new(big.Int).Mul(orZero(c.PerItem), big.NewInt(n-1))
	return total.Add(total, orZero(c.Base))
}

// ForAmount prices a fungible amount as floor(amount / UnitScale) items.
func (c Curve) ForAmount(amount *big.Int) *big.Int {
	if amount == nil || amount.Sign() <= 0 {
		return new(big.Int)
	}
	units := new(big.Int).Quo(amount, UnitScale)
	if !units.IsInt64() {
		return c.forBig(units)
	}
	return c.For(units.Int64())
}

func (c Curve) forBig(n *big.Int) *big.Int {
	extra := new(big.Int).Sub(n, big.NewInt(1))
	total := new(big.Int).Mul(orZero(c.PerItem), extra)
	return total.Add(total, orZero(c.Base))
}

// IsZero reports whether the curve charges nothing.
func (c Curve) IsZero() bool {
	return orZero(c.Base).Sign() == 0 && orZero(c.PerItem).Sign() == 0
}

// Clone returns a deep copy.
func (c Curve) Clone() Curve {
	return NewCurve(c.Base, c.PerItem)
}

func (c Curve) String() string {
	return fmt.Sprintf("{base:%s per_item:%s}", orZero(c.Base), orZero(c.PerItem))
}

// Schedule is the full fee configuration of a vault.
type Schedule struct {
	Mint Curve `json:"mint"`
	Burn Curve `json:"burn"`
	Dual Curve `json:"dual"`
}

// Clone returns a deep copy.
func (s Schedule) Clone() Schedule {
	return Schedule{Mint: s.Mint.Clone(), Burn: s.Burn.Clone(), Dual: s.Dual.Clone()}
}

var zero = new(big.Int)

func orZero(v *big.Int) *big.Int {
	if v == nil {
		return zero
	}
	return v
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(v)
}
