package config

import (
	"math/big"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
)

func TestParseUnits(t *testing.T) {
	tests := []struct {
		in      string
		want    string
		wantErr bool
	}{
		{"", "0", false},
		{"0", "0", false},
		{"1", "1000000000000000000", false},
		{"0.05", "50000000000000000", false},
		{".5", "500000000000000000", false},
		{"10.", "10000000000000000000", false},
		{"0.000000000000000001", "1", false},
		{"0.0000000000000000001", "", true},
		{"-1", "", true},
		{"1e18", "", true},
		{"1.2.3", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseUnits(tt.in)
			if (err != nil) != tt.wantErr {
				t.Fatalf("ParseUnits(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if err == nil && got.String() != tt.want {
				t.Errorf("ParseUnits(%q) = %s, want %s", tt.in, got, tt.want)
			}
		})
	}
}

func TestParsePresets(t *testing.T) {
	data := `
vaults:
  - ticker: PUNK-BASIC
    asset: cryptopunks
    negate_eligibility: true
    fees:
      mint: { base: "5", per_item: "1" }
    bounty: { amount_per_unit: "10", levels: 5 }
  - ticker: GLYPH
    claim_token: glyph-claim
    asset: autoglyphs
    eligible: ["1", "2"]
    finalize: true
`
	p, err := ParsePresets([]byte(data))
	if err != nil {
		t.Fatalf("ParsePresets() error = %v", err)
	}
	if len(p.Vaults) != 2 {
		t.Fatalf("len(Vaults) = %d, want 2", len(p.Vaults))
	}

	basic := p.Vaults[0]
	if basic.ClaimTokenRef() != "PUNK-BASIC" || !basic.NegateEligibility {
		t.Errorf("basic = %+v", basic)
	}
	base, perItem, err := basic.Fees.Mint.Amounts()
	if err != nil {
		t.Fatalf("Amounts() error = %v", err)
	}
	if base.Cmp(new(big.Int).Mul(big.NewInt(5), unit())) != 0 || perItem.Cmp(unit()) != 0 {
		t.Errorf("mint fee = %s/%s", base, perItem)
	}
	if basic.Fees.Burn != nil {
		t.Error("burn fee should be unset")
	}
	amount, err := basic.Bounty.Amount()
	if err != nil || amount.Cmp(new(big.Int).Mul(big.NewInt(10), unit())) != 0 {
		t.Errorf("bounty amount = %v, %v", amount, err)
	}

	glyph := p.Vaults[1]
	if glyph.ClaimTokenRef() != "glyph-claim" || !glyph.Finalize || len(glyph.Eligible) != 2 {
		t.Errorf("glyph = %+v", glyph)
	}
}

func TestParsePresets_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{"unknown field", "vaults:\n  - ticker: A\n    asset: x\n    colour: red\n", "colour"},
		{"missing ticker", "vaults:\n  - asset: x\n", "ticker is required"},
		{"missing asset", "vaults:\n  - ticker: A\n", "asset is required"},
		{"claim equals asset", "vaults:\n  - ticker: A\n    asset: A\n", "must differ"},
		{"duplicate claim", "vaults:\n  - ticker: A\n    asset: x\n  - ticker: A\n    asset: y\n", "used twice"},
		{"fungible with rules", "vaults:\n  - ticker: A\n    asset: x\n    fungible: true\n    eligible: [\"1\"]\n", "no eligibility"},
		{"bad fee", "vaults:\n  - ticker: A\n    asset: x\n    fees:\n      burn: { base: abc }\n", "burn fee"},
		{"bad bounty", "vaults:\n  - ticker: A\n    asset: x\n    bounty: { amount_per_unit: \"1\", levels: -1 }\n", "levels"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParsePresets([]byte(tt.yaml))
			if err == nil {
				t.Fatal("ParsePresets() should fail")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %q, want it to mention %q", err, tt.want)
			}
		})
	}
}

func TestLoadPresets_ShippedFile(t *testing.T) {
	_, file, _, _ := runtime.Caller(0)
	path := filepath.Join(filepath.Dir(file), "..", "..", "config", "vaults.yaml")
	if _, err := os.Stat(path); err != nil {
		t.Skipf("presets file not found: %v", err)
	}

	p, err := LoadPresets(path)
	if err != nil {
		t.Fatalf("LoadPresets() error = %v", err)
	}
	if len(p.Vaults) == 0 {
		t.Error("shipped presets define no vaults")
	}
}

func TestLoadPresets_MissingFile(t *testing.T) {
	if _, err := LoadPresets(filepath.Join(t.TempDir(), "nope.yaml")); err == nil {
		t.Error("LoadPresets() should fail for a missing file")
	}
}

func unit() *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(unitDecimals), nil)
}
