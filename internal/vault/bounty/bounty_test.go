package bounty

import (
	"math/big"
	"testing"

	"github.com/R3E-Network/xvault/internal/vault/fee"
)

func units(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), fee.UnitScale)
}

func TestDiscrete(t *testing.T) {
	b := New(big.NewInt(10), 5)

	tests := []struct {
		name  string
		n     int64
		start int64
		want  int64
	}{
		{"five from empty", 5, 0, 30},
		{"six from empty", 6, 0, 30},
		{"one from empty", 1, 0, 10},
		{"two from position three", 2, 3, 6},
		{"past levels", 3, 5, 0},
		{"zero items", 0, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Discrete(tt.n, tt.start); got.Cmp(big.NewInt(tt.want)) != 0 {
				t.Errorf("Discrete(%d, %d) = %s, want %d", tt.n, tt.start, got, tt.want)
			}
		})
	}
}

func TestDiscrete_PositionsAreAdditive(t *testing.T) {
	b := New(big.NewInt(10), 5)
	sum := new(big.Int)
	for p := int64(0); p < 5; p++ {
		sum.Add(sum, b.Discrete(1, p))
	}
	if sum.Cmp(b.Discrete(5, 0)) != 0 {
		t.Fatalf("per-position sum %s differs from batch payout %s", sum, b.Discrete(5, 0))
	}
}

func TestContinuous(t *testing.T) {
	b := New(big.NewInt(10), 5)

	tests := []struct {
		name   string
		amount *big.Int
		start  *big.Int
		want   int64
	}{
		{"exactly levels", units(5), nil, 25},
		{"beyond levels", units(9), nil, 25},
		{"partial from empty", units(1), big.NewInt(0), 9},
		{"tail from position one", units(4), units(1), 16},
		{"at levels", units(1), units(5), 0},
		{"zero amount", big.NewInt(0), nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := b.Continuous(tt.amount, tt.start); got.Cmp(big.NewInt(tt.want)) != 0 {
				t.Errorf("Continuous = %s, want %d", got, tt.want)
			}
		})
	}
}

func TestInactive(t *testing.T) {
	for _, b := range []Bounty{{}, New(big.NewInt(10), 0), New(nil, 5)} {
		if b.Active() {
			t.Errorf("%s should be inactive", b)
		}
		if b.Discrete(3, 0).Sign() != 0 || b.Continuous(units(3), nil).Sign() != 0 {
			t.Errorf("%s paid a bounty", b)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := New(big.NewInt(-1), 5).Validate(); err == nil {
		t.Error("expected negative amount to fail")
	}
	if err := New(big.NewInt(1), -1).Validate(); err == nil {
		t.Error("expected negative levels to fail")
	}
}
