// Package vault implements the vault engine: collateral deposit and
// withdrawal against a claim token, eligibility gating, fee and bounty
// accounting, and the curator approval workflow for mint requests.
//
// All vault state is owned by a Registry. Each operation validates
// everything it needs first, applies its own bookkeeping second and only
// then calls the external asset, claim token and bank modules. A failing
// external call rolls the whole operation back.
package vault

import (
	"encoding/json"
	"fmt"
	"math/big"
	"sync"
	"time"

	"github.com/R3E-Network/xvault/internal/vault/bounty"
	"github.com/R3E-Network/xvault/internal/vault/eligibility"
	"github.com/R3E-Network/xvault/internal/vault/fee"
	"github.com/R3E-Network/xvault/internal/vault/mintreq"
)

// UnitScale is the number of claim-token base units backed by one item.
var UnitScale = fee.UnitScale

// Kind is the kind of collateral a vault holds.
type Kind int

const (
	NonFungible Kind = iota
	Fungible
)

func (k Kind) String() string {
	switch k {
	case NonFungible:
		return "non_fungible"
	case Fungible:
		return "fungible"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// MarshalJSON implements json.Marshaler.
func (k Kind) MarshalJSON() ([]byte, error) {
	return json.Marshal(k.String())
}

// UnmarshalJSON implements json.Unmarshaler.
func (k *Kind) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	switch s {
	case "non_fungible":
		*k = NonFungible
	case "fungible":
		*k = Fungible
	default:
		return fmt.Errorf("unknown vault kind %q", s)
	}
	return nil
}

// Call carries the caller identity and the native currency attached to an
// operation.
type Call struct {
	Caller string
	Value  *big.Int
}

// value returns a non-nil copy of the attached payment.
func (c Call) value() *big.Int {
	if c.Value == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(c.Value)
}

// Vault is the aggregate record of one vault. Fields are guarded by mu.
type Vault struct {
	mu sync.Mutex

	id            uint64
	kind          Kind
	claimTokenRef string
	assetRef      string
	manager       string
	finalized     bool
	createdAt     time.Time

	rules    *eligibility.Rules
	fees     fee.Schedule
	bounty   bounty.Bounty
	reserve  *big.Int
	holdings []string
	held     *big.Int
	requests *mintreq.Queue
}

func newVault(id uint64, kind Kind, claimTokenRef, assetRef, manager string, now time.Time) *Vault {
	return &Vault{
		id:            id,
		kind:          kind,
		claimTokenRef: claimTokenRef,
		assetRef:      assetRef,
		manager:       manager,
		createdAt:     now,
		rules:         eligibility.New(),
		fees:          fee.Schedule{Mint: fee.Zero(), Burn: fee.Zero(), Dual: fee.Zero()},
		bounty:        bounty.New(nil, 0),
		reserve:       new(big.Int),
		held:          new(big.Int),
		requests:      mintreq.New(id),
	}
}

// Info is a read-only view of a vault.
type Info struct {
	ID                      uint64        `json:"id"`
	Kind                    Kind          `json:"kind"`
	ClaimTokenRef           string        `json:"claim_token"`
	AssetRef                string        `json:"asset"`
	Manager                 string        `json:"manager"`
	Finalized               bool          `json:"finalized"`
	NegateEligibility       bool          `json:"negate_eligibility"`
	FlipEligibilityOnRedeem bool          `json:"flip_eligibility_on_redeem"`
	EligibilitySet          []string      `json:"eligibility_set"`
	MintFee                 fee.Curve     `json:"mint_fee"`
	BurnFee                 fee.Curve     `json:"burn_fee"`
	DualFee                 fee.Curve     `json:"dual_fee"`
	Bounty                  bounty.Bounty `json:"bounty"`
	Reserve                 *big.Int      `json:"reserve"`
	Holdings                []string      `json:"holdings,omitempty"`
	HeldAmount              *big.Int      `json:"held_amount"`
	Supply                  *big.Int      `json:"supply"`
	PendingRequests         int           `json:"pending_requests"`
	CreatedAt               time.Time     `json:"created_at"`
}

// info builds the view. Caller holds v.mu.
func (v *Vault) info() Info {
	state := v.rules.State()
	fees := v.fees.Clone()
	return Info{
		ID:                      v.id,
		Kind:                    v.kind,
		ClaimTokenRef:           v.claimTokenRef,
		AssetRef:                v.assetRef,
		Manager:                 v.manager,
		Finalized:               v.finalized,
		NegateEligibility:       state.Negate,
		FlipEligibilityOnRedeem: state.FlipOnRedeem,
		EligibilitySet:          state.Set,
		MintFee:                 fees.Mint,
		BurnFee:                 fees.Burn,
		DualFee:                 fees.Dual,
		Bounty:                  v.bounty.Clone(),
		Reserve:                 new(big.Int).Set(v.reserve),
		Holdings:                append([]string(nil), v.holdings...),
		HeldAmount:              new(big.Int).Set(v.held),
		Supply:                  v.expectedSupply(),
		PendingRequests:         v.requests.Len(),
		CreatedAt:               v.createdAt,
	}
}

// expectedSupply is the claim token supply the holdings back.
func (v *Vault) expectedSupply() *big.Int {
	if v.kind == Fungible {
		return new(big.Int).Set(v.held)
	}
	return itemsToUnits(len(v.holdings))
}

// lastHoldings returns the n most recently deposited items, newest first.
func (v *Vault) lastHoldings(n int) []string {
	out := make([]string, 0, n)
	for i := len(v.holdings) - 1; i >= len(v.holdings)-n; i-- {
		out = append(out, v.holdings[i])
	}
	return out
}

func (v *Vault) holds(itemID string) bool {
	for _, id := range v.holdings {
		if id == itemID {
			return true
		}
	}
	return false
}

func itemsToUnits(n int) *big.Int {
	return new(big.Int).Mul(big.NewInt(int64(n)), UnitScale)
}
