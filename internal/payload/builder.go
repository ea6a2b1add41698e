// Package payload assembles the versioned dispatch record posted to the
// backend. Building never fails on missing optional order data: absent
// values become empty strings so the remote schema never sees nulls.
package payload

import (
	"context"
	"fmt"
	"strings"
	"time"

	"shipflosync/internal/buildinfo"
	"shipflosync/internal/logging"
	"shipflosync/internal/model"
)

// ASAPNote is appended to the notes field when the customer asked for
// fastest-possible delivery.
const ASAPNote = "Please deliver as soon as possible"

// isoUTC is the wire format for window timestamps.
const isoUTC = "2006-01-02T15:04:05Z"

// OrderAccessor is the capability set the builder needs from an order:
// contact, line items, payment, fulfillment, delivery window. Nothing else.
type OrderAccessor interface {
	ID() int64
	ShippingContact() model.Contact
	Items() []model.LineItem
	PaymentMethod() string
	Total() float64
	CustomerNote() string
	FulfillmentMethod() string
	DeliveryWindow() (pickupAfter, deliverAfter *time.Time)
}

// StoreInfo is the merchant site identity stamped on every payload.
type StoreInfo interface {
	StoreName() string
	StoreAddress() string
	SiteURL() string
	Timezone() string
}

// SyncStore is the slice of persistence the builder needs: the immutable
// order UUID and the ASAP flag.
type SyncStore interface {
	EnsureOrderUUID(ctx context.Context, orderID int64) (string, error)
	GetSyncState(ctx context.Context, orderID int64) (model.SyncState, error)
}

// MerchantUUIDSource yields the merchant-registered UUID from the vault.
// Empty when provisioning has not completed.
type MerchantUUIDSource interface {
	RegisteredUUID(ctx context.Context) string
}

// Filter lets deployments adjust the outgoing payload; applied last.
type Filter func(model.DispatchPayload) model.DispatchPayload

type Builder struct {
	Sync     SyncStore
	Info     StoreInfo
	Windows  DeliveryWindowResolver
	Merchant MerchantUUIDSource
	Log      logging.Logger
	Filter   Filter
}

// Build assembles the payload for one order. The order UUID is fetched or
// created atomically as part of the build; the second build of the same
// order always sees the UUID the first one persisted.
func (b *Builder) Build(ctx context.Context, ord OrderAccessor) (model.DispatchPayload, error) {
	uid, err := b.Sync.EnsureOrderUUID(ctx, ord.ID())
	if err != nil {
		return model.DispatchPayload{}, fmt.Errorf("payload: ensure order uuid: %w", err)
	}

	ct := ord.ShippingContact()
	p := model.DispatchPayload{
		OrderID:          ord.ID(),
		OrderUUID:        uid,
		CustomerName:     strings.TrimSpace(ct.FirstName + " " + ct.LastName),
		Email:            ct.Email,
		CustomerPhone:    ct.Phone,
		CustomerAddress:  ct.Address1,
		CustomerAddress2: ct.Address2,
		CustomerCity:     ct.City,
		CustomerRegion:   ct.Region,
		CustomerCountry:  ct.Country,
		CustomerZipCode:  ct.PostalCode,
		OrderItems:       items(ord.Items()),
		Platform:         buildinfo.Platform,
		StoreName:        b.Info.StoreName(),
		StoreAddress:     optional(b.Info.StoreAddress()),
		MerchantUUID:     b.Merchant.RegisteredUUID(ctx),
		Signature: model.Signature{
			Integration:  buildinfo.Integration,
			Version:      buildinfo.Version,
			APIVersion:   buildinfo.APIVersion,
			SiteURL:      b.Info.SiteURL(),
			SiteTimezone: b.Info.Timezone(),
		},
	}

	// cod carries the order total, tax and shipping inclusive.
	if ord.PaymentMethod() == "cod" {
		p.PaymentMethod = model.PaymentCashPickup
		total := ord.Total()
		p.COD = &total
	} else {
		p.PaymentMethod = model.PaymentPaid
	}

	p.NotesPersonal = b.notes(ctx, ord, ct)

	if pickup, deliver, werr := b.Windows.Window(ctx, ord); werr == nil {
		if pickup != nil {
			p.PickupAfter = pickup.UTC().Format(isoUTC)
		}
		if deliver != nil {
			p.DeliverAfter = deliver.UTC().Format(isoUTC)
		}
	} else if b.Log != nil {
		b.Log.Warnf("[ShipFlo] order %d: delivery window resolution failed: %v", ord.ID(), werr)
	}

	if b.Filter != nil {
		p = b.Filter(p)
	}
	return p, nil
}

// notes joins shipping address line 2, the customer note and the ASAP marker
// with ". ", dropping empty parts. Nil when nothing remains.
func (b *Builder) notes(ctx context.Context, ord OrderAccessor, ct model.Contact) *string {
	parts := make([]string, 0, 3)
	if v := strings.TrimSpace(ct.Address2); v != "" {
		parts = append(parts, v)
	}
	if v := strings.TrimSpace(ord.CustomerNote()); v != "" {
		parts = append(parts, v)
	}
	if st, err := b.Sync.GetSyncState(ctx, ord.ID()); err == nil && st.ASAPDelivery {
		parts = append(parts, ASAPNote)
	}
	if len(parts) == 0 {
		return nil
	}
	joined := strings.Join(parts, ". ")
	return &joined
}

func items(in []model.LineItem) []model.PayloadItem {
	out := make([]model.PayloadItem, 0, len(in))
	for _, it := range in {
		out = append(out, model.PayloadItem{
			PackageName:     it.Name,
			PackageQuantity: it.Quantity,
			PackageLength:   it.Length,
			PackageWidth:    it.Width,
			PackageHeight:   it.Height,
			PackageWeight:   it.Weight,
		})
	}
	return out
}

func optional(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}

// Wrap adapts the platform order aggregate to the builder's capability
// interface. Shipping contact falls back to billing, field by field for
// phone and e-mail, wholesale when no shipping address was captured.
func Wrap(o model.Order) OrderAccessor { return orderAdapter{o} }

type orderAdapter struct{ o model.Order }

func (a orderAdapter) ID() int64 { return a.o.ID }

func (a orderAdapter) ShippingContact() model.Contact {
	if a.o.Shipping == nil {
		return a.o.Billing
	}
	ct := *a.o.Shipping
	if ct.Phone == "" {
		ct.Phone = a.o.Billing.Phone
	}
	if ct.Email == "" {
		ct.Email = a.o.Billing.Email
	}
	return ct
}

func (a orderAdapter) Items() []model.LineItem   { return a.o.Items }
func (a orderAdapter) PaymentMethod() string     { return a.o.PaymentMethod }
func (a orderAdapter) Total() float64            { return a.o.Total }
func (a orderAdapter) CustomerNote() string      { return a.o.CustomerNote }
func (a orderAdapter) FulfillmentMethod() string { return a.o.ShippingMethodID }

func (a orderAdapter) DeliveryWindow() (*time.Time, *time.Time) {
	return a.o.PickupAfter, a.o.DeliverAfter
}
