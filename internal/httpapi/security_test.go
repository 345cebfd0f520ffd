package httpapi

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func TestMiddlewareSetsSecurityHeaders(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Content-Type-Options"); got != "nosniff" {
		t.Fatalf("expected X-Content-Type-Options nosniff, got %q", got)
	}
	if got := res.Header().Get("X-Frame-Options"); got != "DENY" {
		t.Fatalf("expected X-Frame-Options DENY, got %q", got)
	}
	if got := res.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("expected wildcard CORS origin, got %q", got)
	}
	if got := res.Header().Get("Access-Control-Allow-Headers"); !strings.Contains(got, "X-Secret") {
		t.Fatalf("expected X-Secret in allowed headers, got %q", got)
	}
	if got := res.Header().Get("X-Request-ID"); got == "" {
		t.Fatalf("expected generated X-Request-ID")
	}
}

func TestMiddlewareKeepsCallerRequestID(t *testing.T) {
	api := newTestAPI(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	req.Header.Set("X-Request-ID", "req-123")
	res := httptest.NewRecorder()

	api.Handler().ServeHTTP(res, req)

	if got := res.Header().Get("X-Request-ID"); got != "req-123" {
		t.Fatalf("expected caller request id, got %q", got)
	}
}

func TestPreflightReturns204(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for _, path := range []string{"/invoices", "/revenue", "/admin/reconcile"} {
		req := httptest.NewRequest(http.MethodOptions, path, nil)
		res := httptest.NewRecorder()
		handler.ServeHTTP(res, req)
		if res.Code != http.StatusNoContent {
			t.Fatalf("OPTIONS %s: expected 204, got %d", path, res.Code)
		}
	}
}

func TestFailedSecretRateLimitReturns429(t *testing.T) {
	handler := newTestAPI(t).Handler()
	body := `{"numero_facture":"F-1","montant_ttc":10}`

	for i := 0; i < 11; i++ {
		req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(body))
		req.Header.Set("X-Secret", "wrong-secret")
		req.RemoteAddr = "127.0.0.1:5000"
		res := httptest.NewRecorder()

		handler.ServeHTTP(res, req)

		if i < 10 && res.Code != http.StatusUnauthorized {
			t.Fatalf("attempt %d expected 401 before limit, got %d", i+1, res.Code)
		}
		if i == 10 && res.Code != http.StatusTooManyRequests {
			t.Fatalf("attempt 11 expected 429, got %d", res.Code)
		}
	}

	req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(body))
	req.Header.Set("X-Secret", "still-wrong")
	req.RemoteAddr = "127.0.0.1:5000"
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusTooManyRequests {
		t.Fatalf("expected limited client to stay limited on bad secret, got %d", res.Code)
	}
}

func TestCorrectSecretPassesFromLimitedAddress(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for i := 0; i < 12; i++ {
		req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(`{"numero_facture":"F-1","montant_ttc":10}`))
		req.Header.Set("X-Secret", "misconfigured-till")
		req.RemoteAddr = "203.0.113.7:4100"
		handler.ServeHTTP(httptest.NewRecorder(), req)
	}

	req := httptest.NewRequest(http.MethodPost, "/invoices", strings.NewReader(`{"numero_facture":"F-2","montant_ttc":10,"vendeur":"Alice"}`))
	req.Header.Set("X-Secret", testIngestSecret)
	req.RemoteAddr = "203.0.113.7:4200"
	res := httptest.NewRecorder()
	handler.ServeHTTP(res, req)
	if res.Code != http.StatusOK {
		t.Fatalf("expected till with the right secret behind the same address to pass, got %d", res.Code)
	}
}

func TestOutOfRangeAmountReturns400(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for _, body := range []string{
		`{"numero_facture":"BIG-1","montant_ttc":"100000000000000000","vendeur":"Alice"}`,
		`{"numero_facture":"BIG-2","montant_ttc":"1e9999999","vendeur":"Alice"}`,
	} {
		rec := postInvoice(t, handler, testIngestSecret, body)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", body, rec.Code)
		}
	}

	payload := getJSON(t, handler, "/revenue?vendorId=alice")
	if payload["total"] != 0.0 {
		t.Fatalf("expected nothing recorded, got %v", payload["total"])
	}
}

func TestSuccessfulPostsDoNotCountTowardsLimit(t *testing.T) {
	handler := newTestAPI(t).Handler()

	for i := 0; i < 15; i++ {
		body := fmt.Sprintf(`{"numero_facture":"F-%d","montant_ttc":10,"vendeur":"Alice"}`, i)
		rec := postInvoice(t, handler, testIngestSecret, body)
		if rec.Code != http.StatusOK {
			t.Fatalf("post %d: expected 200, got %d", i+1, rec.Code)
		}
	}
}

func TestJSONBodyTooLargeRejected(t *testing.T) {
	api := newTestAPI(t)
	veryLong := strings.Repeat("a", (1<<20)+1024)
	body := fmt.Sprintf(`{"numero_facture":"%s","montant_ttc":1}`, veryLong)

	rec := postInvoice(t, api.Handler(), testIngestSecret, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for oversized body, got %d", rec.Code)
	}
}

func TestInternalErrorsAreGeneric(t *testing.T) {
	rec := httptest.NewRecorder()
	writeError(rec, http.StatusInternalServerError, fmt.Errorf("pq: relation invoices does not exist"))

	if strings.Contains(rec.Body.String(), "relation") {
		t.Fatalf("expected internal details to be hidden, got %s", rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "internal server error") {
		t.Fatalf("expected generic message, got %s", rec.Body.String())
	}
}
