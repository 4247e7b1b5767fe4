package httpapi

import (
	"net/http"
	"sort"
	"strings"

	"github.com/gorilla/mux"

	"github.com/R3E-Network/xvault/internal/errors"
	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/httputil"
	"github.com/R3E-Network/xvault/internal/storage"
)

// handleBalances reports what account holds on every in-memory ledger.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	account := mux.Vars(r)["account"]
	native, err := s.bank.BalanceOf(r.Context(), account)
	if err != nil {
		httputil.WriteError(w, r, errors.Internal("read balance", err))
		return
	}

	tokens := make(map[string]string)
	items := make(map[string][]string)
	collectionRefs, tokenRefs := s.directory.Refs()
	for _, ref := range tokenRefs {
		t, ok := s.directory.LookupToken(ref)
		if !ok {
			continue
		}
		if b, err := t.BalanceOf(r.Context(), account); err == nil && b.Sign() > 0 {
			tokens[ref] = b.String()
		}
	}
	for _, ref := range collectionRefs {
		c, ok := s.directory.LookupCollection(ref)
		if !ok {
			continue
		}
		if held := c.ItemsOf(account); len(held) > 0 {
			sort.Strings(held)
			items[ref] = held
		}
	}

	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"account": account,
		"native":  native.String(),
		"tokens":  tokens,
		"items":   items,
	})
}

// handleIssueItems creates items in a collection, registering the collection
// if needed.
func (s *Server) handleIssueItems(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Collection string   `json:"collection"`
		Owner      string   `json:"owner"`
		Items      []string `json:"items"`
	}
	if err := httputil.DecodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	input.Collection = strings.TrimSpace(input.Collection)
	input.Owner = strings.TrimSpace(input.Owner)
	if input.Collection == "" || input.Owner == "" || len(input.Items) == 0 {
		httputil.WriteError(w, r, errors.InvalidInput("collection, owner and items are required"))
		return
	}
	if _, isToken := s.directory.LookupToken(input.Collection); isToken {
		httputil.WriteError(w, r, errors.InvalidInput("ref is registered as a token").WithDetails("collection", input.Collection))
		return
	}

	s.directory.Ensure(input.Collection, false)
	collection, _ := s.directory.LookupCollection(input.Collection)
	issued := make([]string, 0, len(input.Items))
	for _, id := range input.Items {
		if err := collection.Issue(input.Owner, id); err != nil {
			httputil.WriteError(w, r, errors.InvalidInput(err.Error()).WithDetails("issued", issued))
			return
		}
		issued = append(issued, id)
	}

	s.log.WithContext(r.Context()).WithFields(map[string]interface{}{
		"collection": input.Collection,
		"owner":      input.Owner,
		"count":      len(issued),
	}).Info("items issued")
	httputil.WriteJSON(w, http.StatusCreated, map[string]interface{}{
		"collection": input.Collection,
		"owner":      input.Owner,
		"items":      issued,
	})
}

// handleMintFunds credits native currency, or a fungible asset token, to an
// account. Claim tokens cannot be minted here.
func (s *Server) handleMintFunds(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Token   string `json:"token"`
		Account string `json:"account"`
		Amount  string `json:"amount"`
	}
	if err := httputil.DecodeJSON(w, r, &input); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	input.Token = strings.TrimSpace(input.Token)
	input.Account = strings.TrimSpace(input.Account)
	amount, err := parseAmount("amount", input.Amount)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if input.Account == "" || amount.Sign() == 0 {
		httputil.WriteError(w, r, errors.InvalidInput("account and a positive amount are required"))
		return
	}

	target := s.bank
	if input.Token != "" && input.Token != s.bank.Name() {
		if err := s.checkNotClaimToken(r, input.Token); err != nil {
			httputil.WriteError(w, r, err)
			return
		}
		if _, isCollection := s.directory.LookupCollection(input.Token); isCollection {
			httputil.WriteError(w, r, errors.InvalidInput("ref is registered as a collection").WithDetails("token", input.Token))
			return
		}
		s.directory.Ensure(input.Token, true)
		target, _ = s.directory.LookupToken(input.Token)
	}

	if err := target.Mint(r.Context(), input.Account, amount); err != nil {
		httputil.WriteError(w, r, errors.Internal("mint funds", err))
		return
	}
	balance, err := target.BalanceOf(r.Context(), input.Account)
	if err != nil {
		httputil.WriteError(w, r, errors.Internal("read balance", err))
		return
	}

	s.log.WithContext(r.Context()).WithFields(map[string]interface{}{
		"token":   target.Name(),
		"account": input.Account,
		"amount":  amount.String(),
	}).Info("funds minted")
	httputil.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"token":   target.Name(),
		"account": input.Account,
		"balance": balance.String(),
	})
}

func (s *Server) checkNotClaimToken(r *http.Request, ref string) error {
	infos, err := s.registry.Vaults(r.Context())
	if err != nil {
		return err
	}
	for _, info := range infos {
		if info.ClaimTokenRef == ref {
			return errors.InvalidInput("claim tokens are only minted by their vault").
				WithDetails("token", ref).
				WithDetails("vault_id", info.ID)
		}
	}
	return nil
}

func (s *Server) handleListCheckpoints(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, 20, 100)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	list, err := s.checkpoints.ListCheckpoints(r.Context(), limit)
	if err != nil {
		httputil.WriteError(w, r, errors.Internal("list checkpoints", err))
		return
	}
	if list == nil {
		list = []storage.CheckpointInfo{}
	}
	httputil.WriteJSON(w, http.StatusOK, list)
}

// handleHistory serves a vault's archived events.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	id, err := vaultID(r)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	if _, err := s.registry.VaultInfo(r.Context(), id); err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	limit, err := queryLimit(r, 100, 1000)
	if err != nil {
		httputil.WriteError(w, r, err)
		return
	}
	history, err := s.archive.VaultEvents(r.Context(), id, limit)
	if err != nil {
		httputil.WriteError(w, r, errors.Internal("load history", err))
		return
	}
	if history == nil {
		history = []events.Event{}
	}
	httputil.WriteJSON(w, http.StatusOK, history)
}
