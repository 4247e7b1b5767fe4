package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Presets describes vaults to create when the daemon starts on an empty
// registry.
type Presets struct {
	Vaults []VaultPreset `yaml:"vaults"`
}

// VaultPreset is one vault definition. Amounts are decimal strings in whole
// native units ("0.05" is 5 * 10^16 base units).
type VaultPreset struct {
	Ticker     string `yaml:"ticker"`
	Name       string `yaml:"name"`
	Asset      string `yaml:"asset"`
	ClaimToken string `yaml:"claim_token"`
	Fungible   bool   `yaml:"fungible"`
	Manager    string `yaml:"manager"`

	NegateEligibility       bool     `yaml:"negate_eligibility"`
	FlipEligibilityOnRedeem bool     `yaml:"flip_eligibility_on_redeem"`
	Eligible                []string `yaml:"eligible"`

	Fees   FeePresets    `yaml:"fees"`
	Bounty *BountyPreset `yaml:"bounty"`

	Finalize bool `yaml:"finalize"`
}

// FeePresets holds the three fee curves of a vault.
type FeePresets struct {
	Mint *CurvePreset `yaml:"mint"`
	Burn *CurvePreset `yaml:"burn"`
	Dual *CurvePreset `yaml:"dual"`
}

// CurvePreset is a linear fee curve.
type CurvePreset struct {
	Base    string `yaml:"base"`
	PerItem string `yaml:"per_item"`
}

// BountyPreset is a supplier bounty.
type BountyPreset struct {
	AmountPerUnit string `yaml:"amount_per_unit"`
	Levels        int64  `yaml:"levels"`
}

// ClaimTokenRef returns the claim token ref, defaulting to the ticker.
func (p VaultPreset) ClaimTokenRef() string {
	if p.ClaimToken != "" {
		return p.ClaimToken
	}
	return p.Ticker
}

// LoadPresets reads and validates a presets file.
func LoadPresets(path string) (*Presets, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read presets: %w", err)
	}
	return ParsePresets(data)
}

// ParsePresets decodes and validates presets YAML.
func ParsePresets(data []byte) (*Presets, error) {
	var p Presets
	dec := yaml.NewDecoder(strings.NewReader(string(data)))
	dec.KnownFields(true)
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("parse presets: %w", err)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// Validate checks every preset for required fields, duplicate claim tokens
// and parseable amounts.
func (p *Presets) Validate() error {
	seen := make(map[string]bool, len(p.Vaults))
	for i, v := range p.Vaults {
		where := fmt.Sprintf("vault %d (%s)", i, v.Ticker)
		if strings.TrimSpace(v.Ticker) == "" {
			return fmt.Errorf("vault %d: ticker is required", i)
		}
		if strings.TrimSpace(v.Asset) == "" {
			return fmt.Errorf("%s: asset is required", where)
		}
		ref := v.ClaimTokenRef()
		if ref == v.Asset {
			return fmt.Errorf("%s: claim token must differ from asset", where)
		}
		if seen[ref] {
			return fmt.Errorf("%s: claim token %q used twice", where, ref)
		}
		seen[ref] = true

		if v.Fungible && (len(v.Eligible) > 0 || v.NegateEligibility || v.FlipEligibilityOnRedeem) {
			return fmt.Errorf("%s: fungible vaults have no eligibility rules", where)
		}
		for name, c := range map[string]*CurvePreset{"mint": v.Fees.Mint, "burn": v.Fees.Burn, "dual": v.Fees.Dual} {
			if c == nil {
				continue
			}
			if _, _, err := c.Amounts(); err != nil {
				return fmt.Errorf("%s: %s fee: %w", where, name, err)
			}
		}
		if v.Bounty != nil {
			if _, err := ParseUnits(v.Bounty.AmountPerUnit); err != nil {
				return fmt.Errorf("%s: bounty: %w", where, err)
			}
			if v.Bounty.Levels < 0 {
				return fmt.Errorf("%s: bounty levels must not be negative", where)
			}
		}
	}
	return nil
}

// Amounts returns the curve in base units.
func (c *CurvePreset) Amounts() (base, perItem *big.Int, err error) {
	if base, err = ParseUnits(c.Base); err != nil {
		return nil, nil, fmt.Errorf("base: %w", err)
	}
	if perItem, err = ParseUnits(c.PerItem); err != nil {
		return nil, nil, fmt.Errorf("per_item: %w", err)
	}
	return base, perItem, nil
}

// Amount returns the bounty amount per unit in base units.
func (b *BountyPreset) Amount() (*big.Int, error) {
	return ParseUnits(b.AmountPerUnit)
}

const unitDecimals = 18

// ParseUnits converts a non-negative decimal in whole units to base units.
// An empty string is zero.
func ParseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	whole, frac, _ := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if len(frac) > unitDecimals {
		return nil, fmt.Errorf("amount %q has more than %d decimals", s, unitDecimals)
	}
	digits := whole + frac + strings.Repeat("0", unitDecimals-len(frac))
	for _, r := range digits {
		if r < '0' || r > '9' {
			return nil, fmt.Errorf("amount %q is not a non-negative decimal", s)
		}
	}
	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("amount %q is not a non-negative decimal", s)
	}
	return n, nil
}
