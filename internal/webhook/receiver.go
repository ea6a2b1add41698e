// Package webhook receives signed order-updated callbacks from the backend
// and reconciles the local sync state with the reported outcome.
package webhook

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"shipflosync/internal/logging"
	"shipflosync/internal/metrics"
	"shipflosync/internal/model"
	"shipflosync/internal/store"
)

const maxBodyBytes = 1 << 20

// terminalStatus maps remote terminal statuses to local order statuses.
// Remote "new" and "processing" are non-terminal and absent by design.
var terminalStatus = map[string]string{
	"cancelled":          "cancelled",
	"delivered":          "completed",
	"delivery_attempted": "processing",
}

// SecretSource yields the shared webhook signing secret.
type SecretSource interface {
	WebhookSecret(ctx context.Context) (string, error)
}

// Receiver handles POST order-updated callbacks. Authentication failures
// never touch sync state; once a request is authenticated and well formed,
// the response is 200 regardless of reconciliation outcome so the remote
// does not redeliver.
type Receiver struct {
	Store   store.Store
	Secrets SecretSource
	Log     logging.Logger
	Events  func(model.DispatchEvent)
	now     func() time.Time
}

func NewReceiver(st store.Store, secrets SecretSource, log logging.Logger) *Receiver {
	return &Receiver{Store: st, Secrets: secrets, Log: log, now: time.Now}
}

func (rc *Receiver) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	secret, err := rc.Secrets.WebhookSecret(ctx)
	if err != nil || secret == "" {
		rc.reject(w, http.StatusInternalServerError, "webhook secret not configured")
		return
	}

	provided := r.Header.Get(SignatureHeader)
	if provided == "" {
		rc.reject(w, http.StatusUnauthorized, "missing signature")
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		rc.reject(w, http.StatusBadRequest, "unreadable body")
		return
	}
	if !Verify(secret, body, provided) {
		rc.Log.Warnf("[ShipFlo] webhook rejected: signature mismatch")
		rc.reject(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	var ev model.WebhookEvent
	if err := json.Unmarshal(body, &ev); err != nil || ev.OrderID == nil || (ev.Status == nil && ev.Success == nil) {
		rc.reject(w, http.StatusBadRequest, "malformed payload")
		return
	}
	orderID := *ev.OrderID

	if _, err := rc.Store.GetOrder(ctx, orderID); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			rc.reject(w, http.StatusNotFound, "order not found")
			return
		}
		rc.reject(w, http.StatusInternalServerError, "store unavailable")
		return
	}

	// Authenticated and well formed from here on: the remote gets a 200 no
	// matter how reconciliation goes.
	metrics.WebhookReceipts.WithLabelValues("accepted").Inc()
	rc.emit(orderID, ev)

	status := ""
	if ev.Status != nil {
		status = *ev.Status
	}
	if status != "" {
		if err := rc.Store.SetRemoteStatus(ctx, orderID, status); err != nil {
			rc.Log.Errorf("[ShipFlo] order %d: persist remote status: %v", orderID, err)
		}
	}

	if local, ok := terminalStatus[status]; ok {
		if err := rc.Store.UpdateOrderStatus(ctx, orderID, local); err != nil {
			rc.Log.Errorf("[ShipFlo] order %d: apply status %q: %v", orderID, local, err)
		} else {
			rc.Log.Infof("[ShipFlo] order %d: remote status %q applied as %q", orderID, status, local)
		}
		rc.ack(w)
		return
	}

	if ev.Success != nil && *ev.Success {
		if err := rc.Store.SetRemoteOrder(ctx, orderID, ev.ShipfloOrderID, ev.MerchantTrackingLink, ev.CustomerTrackingLink); err != nil {
			rc.Log.Errorf("[ShipFlo] order %d: persist remote order: %v", orderID, err)
		}
		_ = rc.Store.SetLastError(ctx, orderID, "")
		_ = rc.Store.SetLastAttemptedAt(ctx, orderID, rc.now())
		rc.Log.Infof("[ShipFlo] order %d: backend confirmed dispatch (remote id %q)", orderID, ev.ShipfloOrderID)
	} else {
		msg := ev.Error
		if msg == "" {
			msg = "remote reported failure"
		}
		_ = rc.Store.SetLastError(ctx, orderID, msg)
		if _, err := rc.Store.IncrementRetryCount(ctx, orderID); err != nil {
			rc.Log.Errorf("[ShipFlo] order %d: retry count update failed: %v", orderID, err)
		}
		_ = rc.Store.SetLastAttemptedAt(ctx, orderID, rc.now())
		rc.Log.Errorf("[ShipFlo] order %d: backend reported failure - %s", orderID, msg)
	}

	rc.ack(w)
}

func (rc *Receiver) ack(w http.ResponseWriter) {
	writeJSON(w, http.StatusOK, map[string]any{"success": true})
}

func (rc *Receiver) reject(w http.ResponseWriter, status int, msg string) {
	metrics.WebhookReceipts.WithLabelValues("rejected").Inc()
	writeJSON(w, status, map[string]any{"success": false, "error": msg})
}

func (rc *Receiver) emit(orderID int64, ev model.WebhookEvent) {
	if rc.Events == nil {
		return
	}
	data := map[string]any{}
	if ev.Status != nil {
		data["status"] = *ev.Status
	}
	if ev.Success != nil {
		data["success"] = *ev.Success
	}
	rc.Events(model.DispatchEvent{
		Type:    "webhook.received",
		OrderID: orderID,
		TS:      rc.now().UTC().Format(time.RFC3339),
		Data:    data,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
