package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/R3E-Network/xvault/internal/errors"
	"github.com/R3E-Network/xvault/internal/logging"
)

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) ErrorBody {
	t.Helper()
	var resp ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	return resp.Error
}

func TestWriteError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"service error", errors.VaultNotFound(7), http.StatusNotFound, "VAULT_NOT_FOUND"},
		{"wrapped service error", fmt.Errorf("op: %w", errors.VaultFinalized(1)), http.StatusConflict, "VAULT_FINALIZED"},
		{"payment", errors.InsufficientPayment(0, big.NewInt(5), big.NewInt(4)), http.StatusPaymentRequired, "INSUFFICIENT_PAYMENT"},
		{"plain error", fmt.Errorf("boom"), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"missing status", &errors.ServiceError{Code: "X", Message: "x"}, http.StatusInternalServerError, "X"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			WriteError(rec, httptest.NewRequest(http.MethodGet, "/", nil), tt.err)

			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
			if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
				t.Errorf("Content-Type = %q", ct)
			}
			if body := decodeError(t, rec); body.Code != tt.wantCode {
				t.Errorf("code = %q, want %q", body.Code, tt.wantCode)
			}
		})
	}
}

func TestWriteError_DetailsAndTrace(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(logging.WithTraceID(context.Background(), "trace-1"))
	rec := httptest.NewRecorder()

	WriteError(rec, req, errors.NotEligible(3, "42"))

	body := decodeError(t, rec)
	if body.TraceID != "trace-1" {
		t.Errorf("trace_id = %q, want trace-1", body.TraceID)
	}
	if body.Details["item_id"] != "42" {
		t.Errorf("details = %v, want item_id 42", body.Details)
	}
}

func TestWriteError_HidesCause(t *testing.T) {
	rec := httptest.NewRecorder()
	WriteError(rec, nil, fmt.Errorf("password=hunter2"))
	if strings.Contains(rec.Body.String(), "hunter2") {
		t.Error("internal cause leaked into response")
	}
}

func TestDecodeJSON(t *testing.T) {
	type payload struct {
		Items []string `json:"items"`
	}

	tests := []struct {
		name    string
		body    string
		wantErr bool
	}{
		{"valid", `{"items":["1","2"]}`, false},
		{"unknown field", `{"items":[],"extra":true}`, true},
		{"empty", ``, true},
		{"malformed", `{"items":`, true},
		{"trailing", `{"items":[]} {"items":[]}`, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(tt.body))
			var p payload
			err := DecodeJSON(httptest.NewRecorder(), req, &p)
			if (err != nil) != tt.wantErr {
				t.Fatalf("DecodeJSON() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.HasCode(err, errors.CodeInvalidInput) {
				t.Errorf("error code = %v, want INVALID_INPUT", err)
			}
		})
	}
}
