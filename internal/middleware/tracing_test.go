package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/R3E-Network/xvault/internal/httputil"
	"github.com/R3E-Network/xvault/internal/logging"
)

func decodeCode(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var resp httputil.ErrorResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal error body: %v", err)
	}
	return resp.Error.Code
}

func TestTracingMiddleware(t *testing.T) {
	var seen string
	handler := NewTracingMiddleware(logging.Discard()).Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = logging.GetTraceID(r.Context())
		w.WriteHeader(http.StatusAccepted)
	}))

	t.Run("generates trace id", func(t *testing.T) {
		rec := serve(handler, httptest.NewRequest(http.MethodGet, "/vaults", nil))
		if seen == "" {
			t.Fatal("handler saw no trace id")
		}
		if got := rec.Header().Get(TraceHeader); got != seen {
			t.Errorf("response header = %q, want %q", got, seen)
		}
		if rec.Code != http.StatusAccepted {
			t.Errorf("status = %d, want 202", rec.Code)
		}
	})

	t.Run("propagates incoming trace id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/vaults", nil)
		req.Header.Set(TraceHeader, "abc-123")
		rec := serve(handler, req)
		if seen != "abc-123" || rec.Header().Get(TraceHeader) != "abc-123" {
			t.Errorf("trace id = %q / %q, want abc-123", seen, rec.Header().Get(TraceHeader))
		}
	})

	t.Run("replaces oversized trace id", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodGet, "/vaults", nil)
		req.Header.Set(TraceHeader, strings.Repeat("x", 200))
		serve(handler, req)
		if len(seen) > 128 {
			t.Errorf("oversized trace id was kept")
		}
	})
}

func TestResponseWriter_FirstStatusWins(t *testing.T) {
	rec := httptest.NewRecorder()
	rw := wrap(rec)
	rw.WriteHeader(http.StatusCreated)
	rw.WriteHeader(http.StatusInternalServerError)
	_, _ = rw.Write([]byte("ok"))

	if rw.statusCode != http.StatusCreated || rec.Code != http.StatusCreated {
		t.Errorf("status = %d/%d, want 201", rw.statusCode, rec.Code)
	}
}
