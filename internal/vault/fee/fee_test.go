package fee

import (
	"math/big"
	"testing"
)

func TestCurve_For(t *testing.T) {
	c := NewCurve(big.NewInt(5), big.NewInt(1))

	tests := []struct {
		n    int64
		want int64
	}{
		{0, 0},
		{1, 5},
		{2, 6},
		{10, 14},
	}
	for _, tt := range tests {
		if got := c.For(tt.n); got.Cmp(big.NewInt(tt.want)) != 0 {
			t.Errorf("For(%d) = %s, want %d", tt.n, got, tt.want)
		}
	}
}

func TestCurve_ForAmount(t *testing.T) {
	c := NewCurve(big.NewInt(5), big.NewInt(1))

	half := new(big.Int).Div(UnitScale, big.NewInt(2))
	if got := c.ForAmount(half); got.Sign() != 0 {
		t.Errorf("fractional amount fee = %s, want 0", got)
	}

	three := new(big.Int).Mul(UnitScale, big.NewInt(3))
	three.Add(three, half)
	if got := c.ForAmount(three); got.Cmp(big.NewInt(7)) != 0 {
		t.Errorf("3.5 units fee = %s, want 7", got)
	}
}

func TestCurve_NilFieldsAreZero(t *testing.T) {
	var c Curve
	if !c.IsZero() {
		t.Fatal("zero value curve should be free")
	}
	if c.For(3).Sign() != 0 {
		t.Fatal("zero value curve charged a fee")
	}
}

func TestCurve_Validate(t *testing.T) {
	if err := NewCurve(big.NewInt(-1), nil).Validate(); err == nil {
		t.Error("expected negative base to fail")
	}
	if err := NewCurve(nil, big.NewInt(-1)).Validate(); err == nil {
		t.Error("expected negative per item to fail")
	}
	if err := NewCurve(big.NewInt(1), big.NewInt(0)).Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestCurve_CloneIsIndependent(t *testing.T) {
	base := big.NewInt(5)
	c := NewCurve(base, big.NewInt(1))
	base.SetInt64(99)
	if c.Base.Int64() != 5 {
		t.Fatal("NewCurve must copy its inputs")
	}
	d := c.Clone()
	d.Base.SetInt64(7)
	if c.Base.Int64() != 5 {
		t.Fatal("Clone must not share storage")
	}
}
