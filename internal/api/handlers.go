package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"shipflosync/internal/model"
	"shipflosync/internal/store"
)

// OrdersHandler handles POST /v1/orders: mirror an order into the local
// store. An order arriving already in processing triggers dispatch.
func (s *Server) OrdersHandler(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var ord model.Order
	if err := json.NewDecoder(r.Body).Decode(&ord); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if ord.ID <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid order", "id must be positive", r.URL.Path)
		return
	}
	if err := s.Store.PutOrder(r.Context(), ord); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Store order failed", err.Error(), r.URL.Path)
		return
	}
	if ord.Status == "processing" {
		if err := s.Dispatcher.OnOrderProcessing(r.Context(), ord.ID); err != nil {
			s.Log.Errorf("[ShipFlo] order %d: dispatch on create: %v", ord.ID, err)
		}
	}
	writeJSON(w, http.StatusCreated, map[string]any{"id": ord.ID})
}

// OrderByIDHandler routes /v1/orders/{id} and its subresources:
// GET  /v1/orders/{id}            order record
// GET  /v1/orders/{id}/sync       sync state incl. tracking links
// POST /v1/orders/{id}/status     status transition (processing triggers dispatch)
// POST /v1/orders/{id}/asap       toggle the fastest-delivery flag
// POST /v1/orders/{id}/retry-token  mint a one-time manual-retry token (admin)
// POST /v1/orders/{id}/dispatch   manual retry, consumes the token (admin)
func (s *Server) OrderByIDHandler(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/v1/orders/")
	idStr, sub := rest, ""
	if i := strings.IndexByte(rest, '/'); i >= 0 {
		idStr, sub = rest[:i], strings.Trim(rest[i+1:], "/")
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil || id <= 0 {
		writeProblem(w, http.StatusBadRequest, "Invalid order id", idStr, r.URL.Path)
		return
	}

	switch sub {
	case "":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		ord, err := s.Store.GetOrder(r.Context(), id)
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
			return
		}
		if err != nil {
			writeProblem(w, http.StatusInternalServerError, "Load order failed", err.Error(), r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, ord)
	case "sync":
		s.syncStateHandler(w, r, id)
	case "status":
		s.orderStatusHandler(w, r, id)
	case "asap":
		s.asapHandler(w, r, id)
	case "retry-token":
		s.retryTokenHandler(w, r, id)
	case "dispatch":
		s.manualDispatchHandler(w, r, id)
	default:
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
	}
}

func (s *Server) syncStateHandler(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if _, err := s.Store.GetOrder(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	state, err := s.Store.GetSyncState(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Load sync state failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, state)
}

func (s *Server) orderStatusHandler(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Status string `json:"status"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Status == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", "status is required", r.URL.Path)
		return
	}
	if err := s.Store.UpdateOrderStatus(r.Context(), id, req.Status); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
			return
		}
		writeProblem(w, http.StatusInternalServerError, "Update status failed", err.Error(), r.URL.Path)
		return
	}
	triggered := false
	if req.Status == "processing" {
		triggered = true
		if err := s.Dispatcher.OnOrderProcessing(r.Context(), id); err != nil {
			s.Log.Errorf("[ShipFlo] order %d: dispatch on status change: %v", id, err)
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": req.Status, "dispatchTriggered": triggered})
}

func (s *Server) asapHandler(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		ASAP bool `json:"asap"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", err.Error(), r.URL.Path)
		return
	}
	if _, err := s.Store.GetOrder(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	if err := s.Store.SetASAPDelivery(r.Context(), id, req.ASAP); err != nil {
		writeProblem(w, http.StatusInternalServerError, "Set ASAP failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"asap": req.ASAP})
}

func (s *Server) retryTokenHandler(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	if _, err := s.Store.GetOrder(r.Context(), id); errors.Is(err, store.ErrNotFound) {
		writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
		return
	}
	tok, err := s.Store.CreateRetryToken(r.Context(), id)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Create token failed", err.Error(), r.URL.Path)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"token": tok})
}

// manualDispatchHandler is the manual retry entry point. It requires the
// admin token plus a fresh per-order anti-replay token and responds in the
// flash style the admin screen renders directly.
func (s *Server) manualDispatchHandler(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	if !s.requireAdmin(w, r) {
		return
	}
	var req struct {
		Token string `json:"token"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Token == "" {
		writeProblem(w, http.StatusBadRequest, "Invalid JSON", "token is required", r.URL.Path)
		return
	}
	ok, err := s.Store.ConsumeRetryToken(r.Context(), id, req.Token)
	if err != nil {
		writeProblem(w, http.StatusInternalServerError, "Token check failed", err.Error(), r.URL.Path)
		return
	}
	if !ok {
		writeProblem(w, http.StatusForbidden, "Forbidden", "invalid or spent retry token", r.URL.Path)
		return
	}

	if err := s.Dispatcher.Retry(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeProblem(w, http.StatusNotFound, "Not Found", "", r.URL.Path)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": err.Error()})
		return
	}
	state, _ := s.Store.GetSyncState(r.Context(), id)
	if state.DispatchStatus == model.DispatchPosted {
		writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "Order sent to ShipFlo."})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": false, "message": state.LastError})
}

// CredentialsHandler provisions and tears down the backend credentials.
// POST verifies the key against the backend before anything is persisted;
// a failed verification leaves previously stored credentials untouched.
func (s *Server) CredentialsHandler(w http.ResponseWriter, r *http.Request) {
	if !s.requireAdmin(w, r) {
		return
	}
	switch r.Method {
	case http.MethodPost:
		var req struct {
			APIKey        string `json:"api_key"`
			WebhookSecret string `json:"webhook_secret"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.APIKey == "" || req.WebhookSecret == "" {
			writeProblem(w, http.StatusBadRequest, "Invalid JSON", "api_key and webhook_secret are required", r.URL.Path)
			return
		}
		details, ok := s.Client.VerifyAPIKey(r.Context(), req.APIKey, req.WebhookSecret)
		if !ok {
			writeProblem(w, http.StatusUnprocessableEntity, "Verification failed", "the backend rejected the API key", r.URL.Path)
			return
		}
		ctx := r.Context()
		if err := s.Vault.SetAPIKey(ctx, req.APIKey); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Persist credentials failed", err.Error(), r.URL.Path)
			return
		}
		_ = s.Vault.SetWebhookSecret(ctx, req.WebhookSecret)
		_ = s.Vault.SetMerchantID(ctx, details.MerchantID)
		_ = s.Vault.SetRegisteredUUID(ctx, details.RegisteredUUID)
		writeJSON(w, http.StatusOK, map[string]any{
			"merchant_id":   details.MerchantID,
			"merchant_name": details.Name,
		})
	case http.MethodDelete:
		if err := s.Vault.ClearAll(r.Context()); err != nil {
			writeProblem(w, http.StatusInternalServerError, "Teardown failed", err.Error(), r.URL.Path)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) HealthHandler(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "inFlight": s.Dispatcher.InFlight()})
}
