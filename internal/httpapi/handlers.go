package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/xvault/internal/errors"
	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/httputil"
	"github.com/R3E-Network/xvault/internal/vault"
)

func (s *Server) notFound(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, r, errors.New(errors.CodeInvalidInput, "route not found", http.StatusNotFound))
}

func (s *Server) methodNotAllowed(w http.ResponseWriter, r *http.Request) {
	httputil.WriteError(w, r, errors.New(errors.CodeInvalidInput, "method not allowed", http.StatusMethodNotAllowed))
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":  "ok",
		"vaults":  s.registry.Len(),
		"version": s.version,
	})
}

// handleEvents lists recent events, optionally filtered by vault and type.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 100, 1000)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	q := r.URL.Query()

	var out []events.Event
	switch {
	case q.Get("vault") != "":
		id, err := parseVaultQuery(q.Get("vault"))
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		out = s.events.RecentByVault(id, limit)
		if t := q.Get("type"); t != "" {
			out = filterType(out, events.EventType(t))
		}
	case q.Get("type") != "":
		out = s.events.RecentByType(events.EventType(q.Get("type")), limit)
	default:
		out = s.events.Recent(limit)
	}
	if out == nil {
		out = []events.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func filterType(in []events.Event, t events.EventType) []events.Event {
	out := in[:0]
	for _, e := range in {
		if e.Type == t {
			out = append(out, e)
		}
	}
	return out
}

// =============================================================================
// Vault lifecycle
// =============================================================================

func (s *Server) handleCreateVault(w http.ResponseWriter, r *http.Request) {
	var input struct {
		ClaimToken string `json:"claim_token"`
		Asset      string `json:"asset"`
		Fungible   bool   `json:"fungible"`
	}
	if err := httputil.DecodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	call, err := callFor(r, "")
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	input.ClaimToken = strings.TrimSpace(input.ClaimToken)
	input.Asset = strings.TrimSpace(input.Asset)

	// The daemon's ledgers are in memory, so unknown refs are provisioned.
	if s.directory != nil && input.ClaimToken != "" && input.Asset != "" && input.ClaimToken != input.Asset {
		s.directory.Ensure(input.ClaimToken, true)
		s.directory.Ensure(input.Asset, input.Fungible)
	}

	id, err := s.registry.CreateVault(r.Context(), call, input.ClaimToken, input.Asset, input.Fungible)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	info, err := s.registry.VaultInfo(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, toVaultView(info))
}

func (s *Server) handleListVaults(w http.ResponseWriter, r *http.Request) {
	infos, err := s.registry.Vaults(r.Context())
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	out := make([]vaultView, 0, len(infos))
	for _, info := range infos {
		out = append(out, toVaultView(info))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

func (s *Server) handleGetVault(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	info, err := s.registry.VaultInfo(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVaultView(info))
}

func (s *Server) handleIsEligible(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	item := mux.Vars(r)["item"]
	eligible, err := s.registry.IsEligible(r.Context(), id, item)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"vault_id": id,
		"item_id":  item,
		"eligible": eligible,
	})
}

func (s *Server) handleFinalize(w http.ResponseWriter, r *http.Request) {
	id, call, ok := s.vaultCall(w, r, "")
	if !ok {
		return
	}
	if err := s.registry.FinalizeVault(r.Context(), call, id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.respondVault(w, r, id)
}

// =============================================================================
// Value operations
// =============================================================================

type valueInput struct {
	Items    []string `json:"items"`
	Amount   string   `json:"amount"`
	Quantity int      `json:"quantity"`
	Value    string   `json:"value"`
}

// handleMint mints items into a non-fungible vault, or amount into a
// fungible one.
func (s *Server) handleMint(w http.ResponseWriter, r *http.Request) {
	id, input, call, ok := s.decodeValue(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if input.Amount != "" {
		amount, err := parseAmount("amount", input.Amount)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		s.respondReceipt(w, r)(s.registry.MintAmount(ctx, call, id, amount))
		return
	}
	s.respondReceipt(w, r)(s.registry.Mint(ctx, call, id, input.Items))
}

// handleRedeem redeems quantity items, or amount of a fungible asset.
func (s *Server) handleRedeem(w http.ResponseWriter, r *http.Request) {
	id, input, call, ok := s.decodeValue(w, r)
	if !ok {
		return
	}
	ctx := r.Context()
	if input.Amount != "" {
		amount, err := parseAmount("amount", input.Amount)
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		s.respondReceipt(w, r)(s.registry.RedeemAmount(ctx, call, id, amount))
		return
	}
	s.respondReceipt(w, r)(s.registry.Redeem(ctx, call, id, input.Quantity))
}

func (s *Server) handleMintAndRedeem(w http.ResponseWriter, r *http.Request) {
	id, input, call, ok := s.decodeValue(w, r)
	if !ok {
		return
	}
	s.respondReceipt(w, r)(s.registry.MintAndRedeem(r.Context(), call, id, input.Items))
}

func (s *Server) handleDeposit(w http.ResponseWriter, r *http.Request) {
	id, _, call, ok := s.decodeValue(w, r)
	if !ok {
		return
	}
	reserve, err := s.registry.DepositETH(r.Context(), call, id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"vault_id": id,
		"deposit":  decimal(call.Value),
		"reserve":  decimal(reserve),
	})
}

// =============================================================================
// Mint requests
// =============================================================================

type itemsOp func(ctx context.Context, call vault.Call, vaultID uint64, itemIDs []string) error

type itemsInput struct {
	Items []string `json:"items"`
}

func (s *Server) handleRequestMint(w http.ResponseWriter, r *http.Request) {
	s.itemsOperation(w, r, s.registry.RequestMint)
}

func (s *Server) handleApproveRequests(w http.ResponseWriter, r *http.Request) {
	s.itemsOperation(w, r, s.registry.ApproveMintRequest)
}

func (s *Server) handleRevokeRequests(w http.ResponseWriter, r *http.Request) {
	s.itemsOperation(w, r, s.registry.RevokeMintRequests)
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	pending, err := s.registry.PendingRequests(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestViews(pending))
}

// =============================================================================
// Configuration
// =============================================================================

func (s *Server) handleSetFees(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Base    string `json:"base"`
		PerItem string `json:"per_item"`
	}
	id, call, ok := s.decodeConfig(w, r, &input)
	if !ok {
		return
	}
	base, err := parseAmount("base", input.Base)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	perItem, err := parseAmount("per_item", input.PerItem)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}

	set := s.registry.SetMintFees
	switch mux.Vars(r)["kind"] {
	case "burn":
		set = s.registry.SetBurnFees
	case "dual":
		set = s.registry.SetDualFees
	}
	if err := set(r.Context(), call, id, base, perItem); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.respondVault(w, r, id)
}

func (s *Server) handleSetBounty(w http.ResponseWriter, r *http.Request) {
	var input struct {
		AmountPerUnit string `json:"amount_per_unit"`
		Levels        int64  `json:"levels"`
	}
	id, call, ok := s.decodeConfig(w, r, &input)
	if !ok {
		return
	}
	amount, err := parseAmount("amount_per_unit", input.AmountPerUnit)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if err := s.registry.SetSupplierBounty(r.Context(), call, id, amount, input.Levels); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.respondVault(w, r, id)
}

func (s *Server) handleSetEligible(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Items    []string `json:"items"`
		Eligible bool     `json:"eligible"`
	}
	id, call, ok := s.decodeConfig(w, r, &input)
	if !ok {
		return
	}
	if err := s.registry.SetEligible(r.Context(), call, id, input.Items, input.Eligible); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.respondVault(w, r, id)
}

type toggleInput struct {
	Enabled bool `json:"enabled"`
}

func (s *Server) handleSetNegate(w http.ResponseWriter, r *http.Request) {
	var input toggleInput
	id, call, ok := s.decodeConfig(w, r, &input)
	if !ok {
		return
	}
	if err := s.registry.SetNegateEligibility(r.Context(), call, id, input.Enabled); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.respondVault(w, r, id)
}

func (s *Server) handleSetFlip(w http.ResponseWriter, r *http.Request) {
	var input toggleInput
	id, call, ok := s.decodeConfig(w, r, &input)
	if !ok {
		return
	}
	if err := s.registry.SetFlipEligibilityOnRedeem(r.Context(), call, id, input.Enabled); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.respondVault(w, r, id)
}

func (s *Server) handleSetManager(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Manager string `json:"manager"`
	}
	id, call, ok := s.decodeConfig(w, r, &input)
	if !ok {
		return
	}
	if err := s.registry.SetManager(r.Context(), call, id, strings.TrimSpace(input.Manager)); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	s.respondVault(w, r, id)
}

// =============================================================================
// Helpers
// =============================================================================

func (s *Server) vaultCall(w http.ResponseWriter, r *http.Request, value string) (uint64, vault.Call, bool) {
	id, err := vaultID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return 0, vault.Call{}, false
	}
	call, err := callFor(r, value)
	if err != nil {
		httputil.WriteError(w, r, err)
		return 0, vault.Call{}, false
	}
	return id, call, true
}

func (s *Server) decodeValue(w http.ResponseWriter, r *http.Request) (uint64, valueInput, vault.Call, bool) {
	var input valueInput
	if err := httputil.DecodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err)
		return 0, input, vault.Call{}, false
	}
	id, call, ok := s.vaultCall(w, r, input.Value)
	return id, input, call, ok
}

func (s *Server) decodeConfig(w http.ResponseWriter, r *http.Request, dst interface{}) (uint64, vault.Call, bool) {
	if err := httputil.DecodeJSON(w, r, dst); err != nil {
		httputil.WriteError(w, r, err)
		return 0, vault.Call{}, false
	}
	return s.vaultCall(w, r, "")
}

func (s *Server) itemsOperation(w http.ResponseWriter, r *http.Request, op itemsOp) {
	var input itemsInput
	id, call, ok := s.decodeConfig(w, r, &input)
	if !ok {
		return
	}
	if err := op(r.Context(), call, id, input.Items); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	pending, err := s.registry.PendingRequests(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toRequestViews(pending))
}

func (s *Server) respondVault(w http.ResponseWriter, r *http.Request, id uint64) {
	info, err := s.registry.VaultInfo(r.Context(), id)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, toVaultView(info))
}

func (s *Server) respondReceipt(w http.ResponseWriter, r *http.Request) func(*vault.Receipt, error) {
	return func(rc *vault.Receipt, err error) {
		if err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, toReceiptView(rc))
	}
}
