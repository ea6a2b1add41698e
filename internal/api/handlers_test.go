package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"shipflosync/internal/config"
	"shipflosync/internal/logging"
	"shipflosync/internal/model"
	"shipflosync/internal/webhook"
)

func testConfig() *config.Config {
	cfg := &config.Config{}
	cfg.App.Name = "shipflosync"
	cfg.App.AdminToken = "admin-token"
	cfg.App.SecretSalt = "unit-test-salt"
	cfg.API.BaseURL = "http://127.0.0.1:0" // unreachable; tests that call out override this
	cfg.API.Version = "v1"
	cfg.API.RequestTimeout = 2 * time.Second
	cfg.API.RatePerSec = 100
	cfg.API.RateBurst = 10
	cfg.LogShip.Interval = 30 * time.Minute
	cfg.Dispatch.MaxRetry = 5
	cfg.Dispatch.GuardTTL = time.Hour
	return cfg
}

func newTestServer(t *testing.T) *Server {
	t.Helper()
	s, err := NewServer(testConfig(), logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	return s
}

func do(t *testing.T, h http.Handler, method, path string, body []byte, admin bool) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	if admin {
		req.Header.Set("Authorization", "Bearer admin-token")
	}
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	return rr
}

func TestHealth(t *testing.T) {
	s := newTestServer(t)
	rr := do(t, s.Handler(), http.MethodGet, "/healthz", nil, false)
	if rr.Code != 200 {
		t.Fatalf("health: got %d", rr.Code)
	}
}

func TestOrderCreateAndSyncView(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	body, _ := json.Marshal(model.Order{ID: 11, Status: "pending", Billing: model.Contact{PostalCode: "90210"}})
	rr := do(t, h, http.MethodPost, "/v1/orders", body, false)
	if rr.Code != http.StatusCreated {
		t.Fatalf("create: got %d: %s", rr.Code, rr.Body.String())
	}

	rr = do(t, h, http.MethodGet, "/v1/orders/11", nil, false)
	if rr.Code != 200 {
		t.Fatalf("get: got %d", rr.Code)
	}

	rr = do(t, h, http.MethodGet, "/v1/orders/11/sync", nil, false)
	if rr.Code != 200 {
		t.Fatalf("sync view: got %d", rr.Code)
	}
	var state model.SyncState
	if err := json.Unmarshal(rr.Body.Bytes(), &state); err != nil {
		t.Fatalf("sync body: %v", err)
	}
	if state.DispatchStatus != model.DispatchUnset {
		t.Fatalf("fresh order state: %+v", state)
	}

	rr = do(t, h, http.MethodGet, "/v1/orders/99/sync", nil, false)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown order sync: got %d", rr.Code)
	}
}

func TestStatusTransitionTriggersDispatch(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	body, _ := json.Marshal(model.Order{ID: 5, Status: "pending", Billing: model.Contact{PostalCode: "90210"}})
	_ = do(t, h, http.MethodPost, "/v1/orders", body, false)

	rr := do(t, h, http.MethodPost, "/v1/orders/5/status", []byte(`{"status":"processing"}`), false)
	if rr.Code != 200 {
		t.Fatalf("status: got %d: %s", rr.Code, rr.Body.String())
	}
	var resp struct {
		DispatchTriggered bool `json:"dispatchTriggered"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &resp)
	if !resp.DispatchTriggered {
		t.Fatal("processing transition must trigger dispatch")
	}

	rr = do(t, h, http.MethodPost, "/v1/orders/404/status", []byte(`{"status":"processing"}`), false)
	if rr.Code != http.StatusNotFound {
		t.Fatalf("unknown order status: got %d", rr.Code)
	}
}

func TestManualRetryNeedsAdminAndToken(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	body, _ := json.Marshal(model.Order{ID: 7, Status: "processing", Billing: model.Contact{PostalCode: "90210"}})
	_ = do(t, h, http.MethodPost, "/v1/orders", body, false)

	// No admin token.
	rr := do(t, h, http.MethodPost, "/v1/orders/7/retry-token", nil, false)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("token without admin: got %d", rr.Code)
	}
	rr = do(t, h, http.MethodPost, "/v1/orders/7/dispatch", []byte(`{"token":"x"}`), false)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("dispatch without admin: got %d", rr.Code)
	}

	// Mint a token, then a bogus token must be rejected while the real one works.
	rr = do(t, h, http.MethodPost, "/v1/orders/7/retry-token", nil, true)
	if rr.Code != 200 {
		t.Fatalf("mint token: got %d", rr.Code)
	}
	var mint struct {
		Token string `json:"token"`
	}
	_ = json.Unmarshal(rr.Body.Bytes(), &mint)
	if mint.Token == "" {
		t.Fatal("empty token")
	}

	rr = do(t, h, http.MethodPost, "/v1/orders/7/dispatch", []byte(`{"token":"bogus"}`), true)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("bogus token: got %d", rr.Code)
	}
	tb, _ := json.Marshal(map[string]string{"token": mint.Token})
	rr = do(t, h, http.MethodPost, "/v1/orders/7/dispatch", tb, true)
	if rr.Code != 200 {
		t.Fatalf("manual dispatch: got %d: %s", rr.Code, rr.Body.String())
	}

	// The token is one-time.
	rr = do(t, h, http.MethodPost, "/v1/orders/7/dispatch", tb, true)
	if rr.Code != http.StatusForbidden {
		t.Fatalf("token replay: got %d", rr.Code)
	}
}

func TestASAPFlag(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()

	body, _ := json.Marshal(model.Order{ID: 3, Status: "pending"})
	_ = do(t, h, http.MethodPost, "/v1/orders", body, false)

	rr := do(t, h, http.MethodPost, "/v1/orders/3/asap", []byte(`{"asap":true}`), false)
	if rr.Code != 200 {
		t.Fatalf("asap: got %d", rr.Code)
	}
	state, _ := s.Store.GetSyncState(context.Background(), 3)
	if !state.ASAPDelivery {
		t.Fatal("asap flag not persisted")
	}
}

func TestCredentialsProvisioning(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/verify-api-key" {
			http.NotFound(w, r)
			return
		}
		var req map[string]string
		_ = json.NewDecoder(r.Body).Decode(&req)
		if r.Header.Get("X-API-KEY") != "good-key" {
			w.WriteHeader(http.StatusUnauthorized)
			_ = json.NewEncoder(w).Encode(map[string]any{"error": "bad key"})
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"merchant_id":              "m-1",
			"merchant_registered_uuid": "b7f9d2d4-0000-4000-8000-000000000001",
			"merchant_name":            "Test Store",
			"webhook_secret":           req["webhook_secret"],
		})
	}))
	defer backend.Close()

	cfg := testConfig()
	cfg.API.BaseURL = backend.URL
	s, err := NewServer(cfg, logging.NewNop())
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	h := s.Handler()

	// A rejected key persists nothing.
	body := []byte(`{"api_key":"bad-key","webhook_secret":"whs"}`)
	rr := do(t, h, http.MethodPost, "/v1/admin/credentials", body, true)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("bad key: got %d", rr.Code)
	}
	if _, err := s.Vault.APIKey(context.Background()); err == nil {
		t.Fatal("rejected key was persisted")
	}

	body = []byte(`{"api_key":"good-key","webhook_secret":"whs"}`)
	rr = do(t, h, http.MethodPost, "/v1/admin/credentials", body, true)
	if rr.Code != 200 {
		t.Fatalf("provision: got %d: %s", rr.Code, rr.Body.String())
	}
	key, err := s.Vault.APIKey(context.Background())
	if err != nil || key != "good-key" {
		t.Fatalf("stored key: %q %v", key, err)
	}
	if id, _ := s.Vault.MerchantID(context.Background()); id != "m-1" {
		t.Fatalf("merchant id: %q", id)
	}

	// A later failed re-verification leaves the stored credentials alone.
	body = []byte(`{"api_key":"bad-key","webhook_secret":"whs"}`)
	_ = do(t, h, http.MethodPost, "/v1/admin/credentials", body, true)
	if key, _ := s.Vault.APIKey(context.Background()); key != "good-key" {
		t.Fatal("failed re-verification wiped credentials")
	}

	// Teardown clears everything.
	rr = do(t, h, http.MethodDelete, "/v1/admin/credentials", nil, true)
	if rr.Code != http.StatusNoContent {
		t.Fatalf("teardown: got %d", rr.Code)
	}
	if _, err := s.Vault.APIKey(context.Background()); err == nil {
		t.Fatal("teardown left the key behind")
	}
}

func TestWebhookRouteEndToEnd(t *testing.T) {
	s := newTestServer(t)
	h := s.Handler()
	ctx := context.Background()

	if err := s.Vault.SetWebhookSecret(ctx, "whs"); err != nil {
		t.Fatal(err)
	}
	body, _ := json.Marshal(model.Order{ID: 21, Status: "processing"})
	_ = do(t, h, http.MethodPost, "/v1/orders", body, false)

	evt := []byte(`{"order_id":21,"status":"delivered","success":true}`)
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/shipflo/order-updated", bytes.NewReader(evt))
	req.Header.Set(webhook.SignatureHeader, webhook.Sign("whs", evt))
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)
	if rr.Code != 200 {
		t.Fatalf("webhook: got %d: %s", rr.Code, rr.Body.String())
	}
	ord, _ := s.Store.GetOrder(ctx, 21)
	if ord.Status != "completed" {
		t.Fatalf("order status = %q", ord.Status)
	}
}
