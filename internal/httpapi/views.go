package httpapi

import (
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/xvault/internal/errors"
	"github.com/R3E-Network/xvault/internal/logging"
	"github.com/R3E-Network/xvault/internal/vault"
	"github.com/R3E-Network/xvault/internal/vault/fee"
	"github.com/R3E-Network/xvault/internal/vault/mintreq"
)

type curveView struct {
	Base    string `json:"base"`
	PerItem string `json:"per_item"`
}

type bountyView struct {
	AmountPerUnit string `json:"amount_per_unit"`
	Levels        int64  `json:"levels"`
}

type vaultView struct {
	ID                      uint64     `json:"id"`
	Kind                    vault.Kind `json:"kind"`
	ClaimToken              string     `json:"claim_token"`
	Asset                   string     `json:"asset"`
	Manager                 string     `json:"manager"`
	Finalized               bool       `json:"finalized"`
	NegateEligibility       bool       `json:"negate_eligibility"`
	FlipEligibilityOnRedeem bool       `json:"flip_eligibility_on_redeem"`
	EligibilitySet          []string   `json:"eligibility_set"`
	MintFee                 curveView  `json:"mint_fee"`
	BurnFee                 curveView  `json:"burn_fee"`
	DualFee                 curveView  `json:"dual_fee"`
	Bounty                  bountyView `json:"bounty"`
	Reserve                 string     `json:"reserve"`
	Holdings                []string   `json:"holdings"`
	HeldAmount              string     `json:"held_amount"`
	Supply                  string     `json:"supply"`
	PendingRequests         int        `json:"pending_requests"`
	CreatedAt               time.Time  `json:"created_at"`
}

type receiptView struct {
	VaultID   uint64   `json:"vault_id"`
	Items     []string `json:"items,omitempty"`
	Withdrawn []string `json:"withdrawn,omitempty"`
	Amount    string   `json:"amount"`
	Fee       string   `json:"fee"`
	Bounty    string   `json:"bounty"`
	Paid      string   `json:"paid"`
	Reserve   string   `json:"reserve"`
}

type requestView struct {
	ItemID    string    `json:"item_id"`
	Requester string    `json:"requester"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func decimal(n *big.Int) string {
	if n == nil {
		return "0"
	}
	return n.String()
}

func toCurveView(c fee.Curve) curveView {
	return curveView{Base: decimal(c.Base), PerItem: decimal(c.PerItem)}
}

func toVaultView(info vault.Info) vaultView {
	set := info.EligibilitySet
	if set == nil {
		set = []string{}
	}
	holdings := info.Holdings
	if holdings == nil {
		holdings = []string{}
	}
	return vaultView{
		ID:                      info.ID,
		Kind:                    info.Kind,
		ClaimToken:              info.ClaimTokenRef,
		Asset:                   info.AssetRef,
		Manager:                 info.Manager,
		Finalized:               info.Finalized,
		NegateEligibility:       info.NegateEligibility,
		FlipEligibilityOnRedeem: info.FlipEligibilityOnRedeem,
		EligibilitySet:          set,
		MintFee:                 toCurveView(info.MintFee),
		BurnFee:                 toCurveView(info.BurnFee),
		DualFee:                 toCurveView(info.DualFee),
		Bounty:                  bountyView{AmountPerUnit: decimal(info.Bounty.AmountPerUnit), Levels: info.Bounty.Levels},
		Reserve:                 decimal(info.Reserve),
		Holdings:                holdings,
		HeldAmount:              decimal(info.HeldAmount),
		Supply:                  decimal(info.Supply),
		PendingRequests:         info.PendingRequests,
		CreatedAt:               info.CreatedAt,
	}
}

func toReceiptView(rc *vault.Receipt) receiptView {
	return receiptView{
		VaultID:   rc.VaultID,
		Items:     rc.Items,
		Withdrawn: rc.Withdrawn,
		Amount:    decimal(rc.Amount),
		Fee:       decimal(rc.Fee),
		Bounty:    decimal(rc.Bounty),
		Paid:      decimal(rc.Paid),
		Reserve:   decimal(rc.Reserve),
	}
}

func toRequestViews(reqs []mintreq.Request) []requestView {
	out := make([]requestView, 0, len(reqs))
	for _, req := range reqs {
		out = append(out, requestView{
			ItemID:    req.ItemID,
			Requester: req.Requester,
			Status:    req.Status.String(),
			CreatedAt: req.CreatedAt,
			UpdatedAt: req.UpdatedAt,
		})
	}
	return out
}

// =============================================================================
// Request parsing
// =============================================================================

// parseAmount reads a decimal string of base units. An empty string is zero.
func parseAmount(field, s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return new(big.Int), nil
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok || n.Sign() < 0 {
		return nil, errors.InvalidFormat(field, "must be a non-negative decimal integer")
	}
	return n, nil
}

func vaultID(r *http.Request) (uint64, error) {
	raw := mux.Vars(r)["id"]
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.InvalidFormat("id", "must be a vault id")
	}
	return id, nil
}

// callFor builds the vault call of the authenticated user with the attached
// value.
func callFor(r *http.Request, value string) (vault.Call, error) {
	caller := logging.GetUserID(r.Context())
	if caller == "" {
		return vault.Call{}, errors.Unauthorized("authentication required")
	}
	v, err := parseAmount("value", value)
	if err != nil {
		return vault.Call{}, err
	}
	return vault.Call{Caller: caller, Value: v}, nil
}

func parseVaultQuery(raw string) (uint64, error) {
	id, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return 0, errors.InvalidFormat("vault", "must be a vault id")
	}
	return id, nil
}

func queryLimit(r *http.Request, def, max int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return 0, errors.InvalidFormat("limit", "must be a positive integer")
	}
	if n > max {
		n = max
	}
	return n, nil
}
