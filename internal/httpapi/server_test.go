package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/R3E-Network/xvault/internal/events"
	"github.com/R3E-Network/xvault/internal/logging"
	"github.com/R3E-Network/xvault/internal/metrics"
	"github.com/R3E-Network/xvault/internal/middleware"
	"github.com/R3E-Network/xvault/internal/storage"
	"github.com/R3E-Network/xvault/internal/testutil"
)

var testSecret = []byte("httpapi-test-secret")

type testAPI struct {
	handler http.Handler
	fixture *testutil.Fixture
	archive *storage.Memory
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	f := testutil.New(t)
	collector := metrics.NewCollector("xvault")
	collector.Attach(f.Events)
	archive := storage.NewMemory()
	f.Events.Subscribe(func(e events.Event) {
		_ = archive.RecordEvent(f.Ctx, e)
	})

	log := logging.Discard()
	server := New(Options{
		Registry:    f.Registry,
		Directory:   f.Directory,
		Bank:        f.Bank,
		Events:      f.Events,
		Metrics:     collector,
		Archive:     archive,
		Checkpoints: storage.NewMemory(),
		Logger:      log,
		Version:     "test",
	})
	router := server.Router(middleware.Metrics(collector))
	auth := middleware.NewAuthMiddleware(testSecret, log, []string{"/health", "/metrics", "/events"})
	tracing := middleware.NewTracingMiddleware(log)
	return &testAPI{
		handler: tracing.Handler(auth.Handler(router)),
		fixture: f,
		archive: archive,
	}
}

func token(t *testing.T, userID, role string) string {
	t.Helper()
	claims := &middleware.Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(testSecret)
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func (a *testAPI) do(t *testing.T, user, method, path string, body interface{}) *httptest.ResponseRecorder {
	return a.doRole(t, user, "user", method, path, body)
}

func (a *testAPI) doRole(t *testing.T, user, role, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	switch b := body.(type) {
	case nil:
		reader = bytes.NewReader(nil)
	case string:
		reader = bytes.NewReader([]byte(b))
	default:
		data, err := json.Marshal(b)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		reader = bytes.NewReader(data)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if user != "" {
		req.Header.Set("Authorization", "Bearer "+token(t, user, role))
	}
	rec := httptest.NewRecorder()
	a.handler.ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, dst interface{}) {
	t.Helper()
	if err := json.Unmarshal(rec.Body.Bytes(), dst); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, want int) {
	t.Helper()
	if rec.Code != want {
		t.Fatalf("expected %d, got %d: %s", want, rec.Code, rec.Body.String())
	}
}

func expectError(t *testing.T, rec *httptest.ResponseRecorder, status int, code string) {
	t.Helper()
	expectStatus(t, rec, status)
	var body struct {
		Error struct {
			Code string `json:"code"`
		} `json:"error"`
	}
	decode(t, rec, &body)
	if body.Error.Code != code {
		t.Fatalf("expected error code %s, got %s", code, body.Error.Code)
	}
}

// createPunkVault creates vault 0 managed by alice and issues items 1-3 to bob.
func (a *testAPI) createPunkVault(t *testing.T) {
	t.Helper()
	rec := a.do(t, testutil.Alice, http.MethodPost, "/vaults", map[string]interface{}{
		"claim_token": "PUNK",
		"asset":       "PUNK-items",
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = a.doRole(t, "ops", AdminRole, http.MethodPost, "/admin/ledger/items", map[string]interface{}{
		"collection": "PUNK-items",
		"owner":      testutil.Bob,
		"items":      []string{"1", "2", "3"},
	})
	expectStatus(t, rec, http.StatusCreated)
}

func TestVaultLifecycle(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, testutil.Alice, http.MethodPost, "/vaults", map[string]interface{}{
		"claim_token": "PUNK",
		"asset":       "PUNK-items",
	})
	expectStatus(t, rec, http.StatusCreated)
	var created vaultView
	decode(t, rec, &created)
	if created.ID != 0 || created.Manager != testutil.Alice || created.Kind.String() != "non_fungible" {
		t.Fatalf("unexpected vault %+v", created)
	}
	if created.Supply != "0" || created.Reserve != "0" {
		t.Fatalf("expected empty vault, got %+v", created)
	}

	rec = api.doRole(t, "ops", AdminRole, http.MethodPost, "/admin/ledger/items", map[string]interface{}{
		"collection": "PUNK-items",
		"owner":      testutil.Bob,
		"items":      []string{"1", "2", "3"},
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = api.do(t, testutil.Alice, http.MethodPut, "/vaults/0/negate", map[string]bool{"enabled": true})
	expectStatus(t, rec, http.StatusOK)
	rec = api.do(t, testutil.Alice, http.MethodPut, "/vaults/0/fees/mint", map[string]string{"base": "5"})
	expectStatus(t, rec, http.StatusOK)
	var configured vaultView
	decode(t, rec, &configured)
	if !configured.NegateEligibility || configured.MintFee.Base != "5" || configured.MintFee.PerItem != "0" {
		t.Fatalf("unexpected configuration %+v", configured)
	}

	rec = api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/mint", map[string]interface{}{
		"items": []string{"1", "2"},
		"value": "4",
	})
	expectError(t, rec, http.StatusPaymentRequired, "INSUFFICIENT_PAYMENT")

	rec = api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/mint", map[string]interface{}{
		"items": []string{"1", "2"},
		"value": "5",
	})
	expectStatus(t, rec, http.StatusOK)
	var minted receiptView
	decode(t, rec, &minted)
	if minted.Fee != "5" || minted.Reserve != "5" || minted.Amount != testutil.Units(2).String() {
		t.Fatalf("unexpected mint receipt %+v", minted)
	}

	rec = api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/redeem", map[string]int{"quantity": 1})
	expectStatus(t, rec, http.StatusOK)
	var redeemed receiptView
	decode(t, rec, &redeemed)
	if len(redeemed.Withdrawn) != 1 || redeemed.Withdrawn[0] != "2" {
		t.Fatalf("expected item 2 withdrawn, got %+v", redeemed)
	}

	rec = api.do(t, testutil.Bob, http.MethodGet, "/vaults/0", nil)
	expectStatus(t, rec, http.StatusOK)
	var info vaultView
	decode(t, rec, &info)
	if len(info.Holdings) != 1 || info.Holdings[0] != "1" || info.Supply != testutil.Units(1).String() {
		t.Fatalf("unexpected vault state %+v", info)
	}

	rec = api.do(t, testutil.Bob, http.MethodGet, "/vaults/0/eligible/3", nil)
	expectStatus(t, rec, http.StatusOK)
	var eligible struct {
		Eligible bool `json:"eligible"`
	}
	decode(t, rec, &eligible)
	if !eligible.Eligible {
		t.Fatalf("expected item 3 to be eligible")
	}

	rec = api.do(t, testutil.Bob, http.MethodGet, "/ledger/"+testutil.Bob, nil)
	expectStatus(t, rec, http.StatusOK)
	var balances struct {
		Tokens map[string]string   `json:"tokens"`
		Items  map[string][]string `json:"items"`
	}
	decode(t, rec, &balances)
	if balances.Tokens["PUNK"] != testutil.Units(1).String() || len(balances.Items["PUNK-items"]) != 2 {
		t.Fatalf("unexpected balances %+v", balances)
	}

	if err := api.fixture.Registry.CheckInvariants(api.fixture.Ctx); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}

func TestFungibleVaultRoutes(t *testing.T) {
	api := newTestAPI(t)

	rec := api.do(t, testutil.Alice, http.MethodPost, "/vaults", map[string]interface{}{
		"claim_token": "vWETH",
		"asset":       "WETH",
		"fungible":    true,
	})
	expectStatus(t, rec, http.StatusCreated)

	rec = api.doRole(t, "ops", AdminRole, http.MethodPost, "/admin/ledger/mint", map[string]string{
		"token":   "WETH",
		"account": testutil.Bob,
		"amount":  testutil.Units(3).String(),
	})
	expectStatus(t, rec, http.StatusOK)

	rec = api.doRole(t, "ops", AdminRole, http.MethodPost, "/admin/ledger/mint", map[string]string{
		"token":   "vWETH",
		"account": testutil.Bob,
		"amount":  "1",
	})
	expectError(t, rec, http.StatusBadRequest, "INVALID_INPUT")

	rec = api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/mint", map[string]string{"amount": testutil.Units(2).String()})
	expectStatus(t, rec, http.StatusOK)
	rec = api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/redeem", map[string]string{"amount": testutil.Units(1).String()})
	expectStatus(t, rec, http.StatusOK)

	rec = api.do(t, testutil.Bob, http.MethodGet, "/vaults/0", nil)
	expectStatus(t, rec, http.StatusOK)
	var info vaultView
	decode(t, rec, &info)
	if info.HeldAmount != testutil.Units(1).String() || info.Kind.String() != "fungible" {
		t.Fatalf("unexpected fungible vault %+v", info)
	}
}

func TestMintRequestRoutes(t *testing.T) {
	api := newTestAPI(t)
	api.createPunkVault(t)

	rec := api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/requests", map[string][]string{"items": {"1", "2"}})
	expectStatus(t, rec, http.StatusOK)
	var pending []requestView
	decode(t, rec, &pending)
	if len(pending) != 2 || pending[0].Requester != testutil.Bob {
		t.Fatalf("unexpected pending requests %+v", pending)
	}

	rec = api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/requests/approve", map[string][]string{"items": {"1"}})
	expectError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")

	rec = api.do(t, testutil.Alice, http.MethodPost, "/vaults/0/requests/approve", map[string][]string{"items": {"1"}})
	expectStatus(t, rec, http.StatusOK)
	rec = api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/requests/revoke", map[string][]string{"items": {"2"}})
	expectStatus(t, rec, http.StatusOK)

	rec = api.do(t, testutil.Bob, http.MethodGet, "/vaults/0/requests", nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &pending)
	if len(pending) != 0 {
		t.Fatalf("expected no pending requests, got %+v", pending)
	}

	rec = api.do(t, testutil.Bob, http.MethodGet, "/vaults/0", nil)
	expectStatus(t, rec, http.StatusOK)
	var info vaultView
	decode(t, rec, &info)
	if len(info.Holdings) != 1 || info.Holdings[0] != "1" || info.Supply != testutil.Units(1).String() {
		t.Fatalf("expected approved item in holdings, got %+v", info)
	}

	// The revoked item went back to bob and is still not eligible.
	rec = api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/mint", map[string][]string{"items": {"2"}})
	expectError(t, rec, http.StatusUnprocessableEntity, "NOT_ELIGIBLE")
}

func TestConfigurationRoutes(t *testing.T) {
	api := newTestAPI(t)
	api.createPunkVault(t)

	rec := api.do(t, testutil.Alice, http.MethodPut, "/vaults/0/bounty", map[string]interface{}{
		"amount_per_unit": "10",
		"levels":          5,
	})
	expectStatus(t, rec, http.StatusOK)
	var info vaultView
	decode(t, rec, &info)
	if info.Bounty.AmountPerUnit != "10" || info.Bounty.Levels != 5 {
		t.Fatalf("unexpected bounty %+v", info.Bounty)
	}

	rec = api.do(t, testutil.Alice, http.MethodPut, "/vaults/0/eligibility", map[string]interface{}{
		"items":    []string{"3"},
		"eligible": true,
	})
	expectStatus(t, rec, http.StatusOK)
	rec = api.do(t, testutil.Alice, http.MethodPut, "/vaults/0/flip", map[string]bool{"enabled": true})
	expectStatus(t, rec, http.StatusOK)
	rec = api.do(t, testutil.Alice, http.MethodPut, "/vaults/0/fees/dual", map[string]string{"base": "1", "per_item": "2"})
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &info)
	if !info.FlipEligibilityOnRedeem || len(info.EligibilitySet) != 1 || info.DualFee.PerItem != "2" {
		t.Fatalf("unexpected configuration %+v", info)
	}

	rec = api.do(t, testutil.Alice, http.MethodPut, "/vaults/0/manager", map[string]string{"manager": testutil.Misc})
	expectStatus(t, rec, http.StatusOK)
	rec = api.do(t, testutil.Alice, http.MethodPut, "/vaults/0/negate", map[string]bool{"enabled": true})
	expectError(t, rec, http.StatusUnauthorized, "UNAUTHORIZED")

	rec = api.do(t, testutil.Misc, http.MethodPost, "/vaults/0/finalize", nil)
	expectStatus(t, rec, http.StatusOK)
	decode(t, rec, &info)
	if !info.Finalized {
		t.Fatalf("expected finalized vault")
	}

	rec = api.do(t, testutil.Bob, http.MethodPost, "/vaults/0/deposit", map[string]string{"value": "7"})
	expectStatus(t, rec, http.StatusOK)
	var deposit struct {
		Reserve string `json:"reserve"`
	}
	decode(t, rec, &deposit)
	if deposit.Reserve != "7" {
		t.Fatalf("expected reserve 7, got %s", deposit.Reserve)
	}
}

func TestErrorResponses(t *testing.T) {
	api := newTestAPI(t)
	api.createPunkVault(t)
	expectStatus(t, api.do(t, testutil.Alice, http.MethodPut, "/vaults/0/negate", map[string]bool{"enabled": true}), http.StatusOK)

	tests := []struct {
		name   string
		user   string
		method string
		path   string
		body   interface{}
		status int
		code   string
	}{
		{"no token", "", http.MethodPost, "/vaults", map[string]string{}, http.StatusUnauthorized, "UNAUTHORIZED"},
		{"unknown field", testutil.Bob, http.MethodPost, "/vaults", `{"claim":"X"}`, http.StatusBadRequest, "INVALID_INPUT"},
		{"bad amount", testutil.Bob, http.MethodPost, "/vaults/0/deposit", map[string]string{"value": "-1"}, http.StatusBadRequest, "INVALID_INPUT"},
		{"zero deposit", testutil.Bob, http.MethodPost, "/vaults/0/deposit", map[string]string{}, http.StatusBadRequest, "INVALID_INPUT"},
		{"missing vault", testutil.Bob, http.MethodGet, "/vaults/9", nil, http.StatusNotFound, "VAULT_NOT_FOUND"},
		{"bound claim token", testutil.Bob, http.MethodPost, "/vaults", map[string]string{"claim_token": "PUNK", "asset": "OTHER"}, http.StatusConflict, "ALREADY_BOUND"},
		{"not owner", testutil.Alice, http.MethodPost, "/vaults/0/mint", map[string][]string{"items": {"1"}}, http.StatusForbidden, "NOT_OWNER"},
		{"admin only", testutil.Bob, http.MethodPost, "/admin/ledger/mint", map[string]string{"account": "x", "amount": "1"}, http.StatusForbidden, "FORBIDDEN"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := api.do(t, tt.user, tt.method, tt.path, tt.body)
			expectError(t, rec, tt.status, tt.code)
		})
	}
}

func TestPublicEndpoints(t *testing.T) {
	api := newTestAPI(t)
	api.createPunkVault(t)

	rec := api.do(t, "", http.MethodGet, "/health", nil)
	expectStatus(t, rec, http.StatusOK)
	if rec.Header().Get(middleware.TraceHeader) == "" {
		t.Fatalf("expected trace header")
	}

	rec = api.do(t, "", http.MethodGet, "/events?vault=0&type=vault.created", nil)
	expectStatus(t, rec, http.StatusOK)
	var evs []events.Event
	decode(t, rec, &evs)
	if len(evs) != 1 || evs[0].Actor != testutil.Alice {
		t.Fatalf("unexpected events %+v", evs)
	}

	rec = api.do(t, "", http.MethodGet, "/events?limit=0", nil)
	expectError(t, rec, http.StatusBadRequest, "INVALID_INPUT")

	rec = api.do(t, "", http.MethodGet, "/metrics", nil)
	expectStatus(t, rec, http.StatusOK)
	body := rec.Body.String()
	if !strings.Contains(body, `xvault_http_requests_total{method="POST",path="/vaults",status="201"} 1`) {
		t.Fatalf("expected http metrics for vault creation, got:\n%s", body)
	}
	if !strings.Contains(body, `xvault_vault_events_total{type="vault.created"} 1`) {
		t.Fatalf("expected vault event metrics, got:\n%s", body)
	}
}

func TestHistoryAndCheckpoints(t *testing.T) {
	api := newTestAPI(t)
	api.createPunkVault(t)

	rec := api.do(t, testutil.Bob, http.MethodGet, "/vaults/0/history?limit=5", nil)
	expectStatus(t, rec, http.StatusOK)
	var history []events.Event
	decode(t, rec, &history)
	if len(history) != 1 || history[0].Type != events.EventVaultCreated {
		t.Fatalf("unexpected history %+v", history)
	}

	rec = api.do(t, testutil.Bob, http.MethodGet, "/vaults/7/history", nil)
	expectError(t, rec, http.StatusNotFound, "VAULT_NOT_FOUND")

	rec = api.doRole(t, "ops", AdminRole, http.MethodGet, "/admin/checkpoints", nil)
	expectStatus(t, rec, http.StatusOK)
	if strings.TrimSpace(rec.Body.String()) != "[]" {
		t.Fatalf("expected empty checkpoint list, got %s", rec.Body.String())
	}
}
