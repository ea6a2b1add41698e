// Package dispatch orchestrates order delivery to the backend: dedup guard,
// eligibility, payload build, post, sync-state bookkeeping. All dispatch-path
// failures are converted into sync-state mutations here; nothing escapes as
// a panic.
package dispatch

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"go.uber.org/atomic"

	"shipflosync/internal/client"
	"shipflosync/internal/dedup"
	"shipflosync/internal/logging"
	"shipflosync/internal/metrics"
	"shipflosync/internal/model"
	"shipflosync/internal/payload"
	"shipflosync/internal/store"
)

// PickupMethodID is the fulfillment method excluded from dispatch.
const PickupMethodID = "local_pickup"

// PostClient is the slice of the dispatch client the orchestrator uses.
type PostClient interface {
	PostOrder(ctx context.Context, p model.DispatchPayload, apiKey string) client.Result
}

// AreaFilter decides service-area membership; fail-closed.
type AreaFilter interface {
	IsInServiceArea(ctx context.Context, rawPostal string) bool
}

// PayloadBuilder assembles the outbound record.
type PayloadBuilder interface {
	Build(ctx context.Context, ord payload.OrderAccessor) (model.DispatchPayload, error)
}

// APIKeySource yields the decrypted API key.
type APIKeySource interface {
	APIKey(ctx context.Context) (string, error)
}

// EventSink receives dispatch lifecycle events for ops streaming. May be nil.
type EventSink func(model.DispatchEvent)

type Dispatcher struct {
	Store    store.Store
	Guard    dedup.Guard
	Filter   AreaFilter
	Builder  PayloadBuilder
	Client   PostClient
	Secrets  APIKeySource
	Log      logging.Logger
	Events   EventSink
	MaxRetry int

	inFlight atomic.Int64
	now      func() time.Time
}

func New(st store.Store, g dedup.Guard, f AreaFilter, b PayloadBuilder, c PostClient, keys APIKeySource, log logging.Logger) *Dispatcher {
	return &Dispatcher{
		Store:    st,
		Guard:    g,
		Filter:   f,
		Builder:  b,
		Client:   c,
		Secrets:  keys,
		Log:      log,
		MaxRetry: model.MaxRetry,
		now:      time.Now,
	}
}

// InFlight reports the number of dispatches currently executing.
func (d *Dispatcher) InFlight() int64 { return d.inFlight.Load() }

// OnOrderProcessing is the order-status-transition entry point.
func (d *Dispatcher) OnOrderProcessing(ctx context.Context, orderID int64) error {
	return d.process(ctx, orderID, false)
}

// Retry is the manual entry point. It bypasses only the automatic trigger
// condition and its retry ceiling; the rest of the state machine is shared.
// Callers are responsible for authorization and the anti-replay token.
func (d *Dispatcher) Retry(ctx context.Context, orderID int64) error {
	return d.process(ctx, orderID, true)
}

func (d *Dispatcher) process(ctx context.Context, orderID int64, manual bool) error {
	d.inFlight.Inc()
	defer d.inFlight.Dec()

	st, err := d.Store.GetSyncState(ctx, orderID)
	if err != nil {
		return fmt.Errorf("dispatch: read sync state: %w", err)
	}
	if !manual && st.RetryCount >= d.MaxRetry {
		d.Log.Infof("[ShipFlo] order %d: reached max retries (%d), automatic dispatch stopped", orderID, st.RetryCount)
		return nil
	}

	ok, err := d.Guard.Acquire(ctx, orderID)
	if err != nil {
		return fmt.Errorf("dispatch: guard: %w", err)
	}
	if !ok {
		d.Log.Infof("[ShipFlo] order %d: dispatch already posted or in flight, skipping", orderID)
		metrics.DispatchAttempts.WithLabelValues("deduped").Inc()
		return nil
	}
	d.Log.Infof("[ShipFlo] order %d: dispatch started", orderID)

	ord, err := d.Store.GetOrder(ctx, orderID)
	if err != nil {
		// Validation failure: release the guard so a data fix can retry.
		_ = d.Guard.Release(ctx, orderID)
		return fmt.Errorf("dispatch: load order %d: %w", orderID, err)
	}

	// Eligibility exclusions are terminal: the guard stays set so the same
	// ineligible order is not re-evaluated on every trigger.
	if ord.ShippingMethodID == PickupMethodID {
		d.Log.Infof("[ShipFlo] order %d: filtered out as pickup order", orderID)
		metrics.DispatchAttempts.WithLabelValues("filtered").Inc()
		d.emit("order.filtered", orderID, map[string]any{"reason": "pickup"})
		return nil
	}
	if !d.Filter.IsInServiceArea(ctx, destinationPostal(ord)) {
		d.Log.Infof("[ShipFlo] order %d: filtered out as outside service area", orderID)
		metrics.DispatchAttempts.WithLabelValues("filtered").Inc()
		d.emit("order.filtered", orderID, map[string]any{"reason": "service_area"})
		return nil
	}

	pl, err := d.Builder.Build(ctx, payload.Wrap(ord))
	if err != nil {
		d.Log.Errorf("[ShipFlo] order %d: payload build failed: %v", orderID, err)
		_ = d.Store.SetLastError(ctx, orderID, err.Error())
		_ = d.Guard.Release(ctx, orderID)
		return fmt.Errorf("dispatch: build payload: %w", err)
	}

	apiKey, err := d.Secrets.APIKey(ctx)
	if err != nil {
		d.Log.Errorf("[ShipFlo] order %d: missing API key", orderID)
		_ = d.Store.SetLastError(ctx, orderID, "missing API key")
		_ = d.Guard.Release(ctx, orderID)
		return fmt.Errorf("dispatch: api key: %w", err)
	}

	res := d.Client.PostOrder(ctx, pl, apiKey)
	_ = d.Store.SetLastAttemptedAt(ctx, orderID, d.now())

	// A 202 is accepted-but-pending upstream; treat it like a failure so the
	// retry path keeps watching the order. An embedded application error in
	// a 2xx response is a failure too.
	failed := !res.Success || res.Error != "" || res.Status == http.StatusAccepted
	if !failed {
		_ = d.Store.SetDispatchStatus(ctx, orderID, model.DispatchPosted)
		d.Log.Infof("[ShipFlo] order %d: successfully posted [HTTP %d]", orderID, res.Status)
		metrics.DispatchAttempts.WithLabelValues("posted").Inc()
		d.emit("order.posted", orderID, map[string]any{"status": res.Status})
		return nil
	}

	msg := res.Error
	if msg == "" {
		if m, ok := res.Data["message"].(string); ok && m != "" {
			msg = m
		} else {
			msg = fmt.Sprintf("unknown error [HTTP %d]", res.Status)
		}
	}
	_ = d.Store.SetDispatchStatus(ctx, orderID, model.DispatchFailed)
	_ = d.Store.SetLastError(ctx, orderID, msg)
	n, err := d.Store.IncrementRetryCount(ctx, orderID)
	if err != nil {
		d.Log.Errorf("[ShipFlo] order %d: retry count update failed: %v", orderID, err)
	}
	_ = d.Guard.Release(ctx, orderID)

	d.Log.Errorf("[ShipFlo] order %d: post failed - %s [HTTP %d]", orderID, msg, res.Status)
	metrics.DispatchAttempts.WithLabelValues("failed").Inc()
	d.emit("order.failed", orderID, map[string]any{"error": msg, "status": res.Status})
	if n >= d.MaxRetry {
		d.Log.Infof("[ShipFlo] order %d: reached max retries (%d)", orderID, n)
	}
	return nil
}

func (d *Dispatcher) emit(typ string, orderID int64, data map[string]any) {
	if d.Events == nil {
		return
	}
	d.Events(model.DispatchEvent{
		Type:    typ,
		OrderID: orderID,
		TS:      d.now().UTC().Format(time.RFC3339),
		Data:    data,
	})
}

// destinationPostal prefers the shipping postal code and falls back to
// billing, mirroring the payload's contact fallback.
func destinationPostal(o model.Order) string {
	if o.Shipping != nil && o.Shipping.PostalCode != "" {
		return o.Shipping.PostalCode
	}
	return o.Billing.PostalCode
}
