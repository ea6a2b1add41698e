package model

import "time"

// Dispatch status values persisted per order.
const (
	DispatchUnset  = "unset"
	DispatchPosted = "posted"
	DispatchFailed = "failed"
)

// Payment methods accepted by the ShipFlo order schema.
const (
	PaymentCashPickup = "cash_pickup"
	PaymentPaid       = "paid"
)

// MaxRetry bounds automatic dispatch attempts per order. Manual retries are
// allowed past this.
const MaxRetry = 5

// Contact is a shipping or billing contact as captured at checkout.
type Contact struct {
	FirstName  string `json:"firstName,omitempty"`
	LastName   string `json:"lastName,omitempty"`
	Email      string `json:"email,omitempty"`
	Phone      string `json:"phone,omitempty"`
	Address1   string `json:"address1,omitempty"`
	Address2   string `json:"address2,omitempty"`
	City       string `json:"city,omitempty"`
	Region     string `json:"region,omitempty"`
	Country    string `json:"country,omitempty"`
	PostalCode string `json:"postalCode,omitempty"`
}

type LineItem struct {
	Name     string `json:"name"`
	Quantity int    `json:"quantity"`
	Length   string `json:"length,omitempty"`
	Width    string `json:"width,omitempty"`
	Height   string `json:"height,omitempty"`
	Weight   string `json:"weight,omitempty"`
}

// Order is the platform order aggregate the sync service reads from.
type Order struct {
	ID               int64      `json:"id"`
	Status           string     `json:"status"` // pending, processing, completed, cancelled
	Billing          Contact    `json:"billing"`
	Shipping         *Contact   `json:"shipping,omitempty"` // nil when no shipping address captured
	Items            []LineItem `json:"items"`
	PaymentMethod    string     `json:"paymentMethod"` // platform gateway id, e.g. "cod"
	Total            float64    `json:"total"`         // tax + shipping inclusive
	CustomerNote     string     `json:"customerNote,omitempty"`
	ShippingMethodID string     `json:"shippingMethodId,omitempty"` // e.g. "local_pickup"
	PickupAfter      *time.Time `json:"pickupAfter,omitempty"`      // from a delivery-window integration
	DeliverAfter     *time.Time `json:"deliverAfter,omitempty"`
}

// SyncState is the per-order dispatch record. It is created lazily on the
// first dispatch attempt and lives as long as the order does.
type SyncState struct {
	DispatchStatus   string    `json:"dispatchStatus"`
	RemoteStatus     string    `json:"remoteStatus,omitempty"`
	RemoteOrderID    string    `json:"remoteOrderId,omitempty"`
	MerchantTrackURL string    `json:"merchantTrackUrl,omitempty"`
	CustomerTrackURL string    `json:"customerTrackUrl,omitempty"`
	LastError        string    `json:"lastError,omitempty"`
	LastAttemptedAt  time.Time `json:"lastAttemptedAt,omitempty"`
	RetryCount       int       `json:"retryCount"`
	OrderUUID        string    `json:"orderUuid,omitempty"`
	ASAPDelivery     bool      `json:"asapDelivery,omitempty"`
}

// DispatchPayload is the versioned flat record posted to orders/add. String
// fields are never null: missing values are sent as empty strings so the
// remote schema never sees nulls where strings are expected.
type DispatchPayload struct {
	OrderID          int64         `json:"order_id"`
	OrderUUID        string        `json:"order_uuid"`
	CustomerName     string        `json:"customer_name"`
	Email            string        `json:"email"`
	CustomerPhone    string        `json:"customer_phone"`
	CustomerAddress  string        `json:"customer_address"`
	CustomerAddress2 string        `json:"customer_address2"`
	CustomerCity     string        `json:"customer_city"`
	CustomerRegion   string        `json:"customer_region"`
	CustomerCountry  string        `json:"customer_country"`
	CustomerZipCode  string        `json:"customer_zip_code"`
	OrderItems       []PayloadItem `json:"order_items"`
	PaymentMethod    string        `json:"payment_method"`
	COD              *float64      `json:"cod,omitempty"`
	NotesPersonal    *string       `json:"notes_personal"`
	StoreName        string        `json:"store_name"`
	StoreAddress     *string       `json:"store_address"`
	PickupAfter      string        `json:"pickup_after,omitempty"`
	DeliverAfter     string        `json:"deliver_after,omitempty"`
	Platform         string        `json:"platform"`
	Signature        Signature     `json:"signature"`
	MerchantUUID     string        `json:"merchant_registered_uuid"`
}

type PayloadItem struct {
	PackageName     string `json:"package_name"`
	PackageQuantity int    `json:"package_quantity"`
	PackageLength   string `json:"package_length"`
	PackageWidth    string `json:"package_width"`
	PackageHeight   string `json:"package_height"`
	PackageWeight   string `json:"package_weight"`
}

// Signature identifies the sending integration to the backend.
type Signature struct {
	Integration     string `json:"plugin"`
	PlatformVersion string `json:"woo_version"`
	Version         string `json:"plugin_version"`
	APIVersion      string `json:"shipflo_api_version"`
	SiteURL         string `json:"site_url"`
	SiteTimezone    string `json:"site_timezone"`
}

// WebhookEvent is the inbound order-updated callback body. Pointer fields let
// the receiver distinguish absent from zero-valued.
type WebhookEvent struct {
	OrderID              *int64  `json:"order_id"`
	Status               *string `json:"status"`
	Success              *bool   `json:"success"`
	MerchantTrackingLink string  `json:"merchant_tracking_link,omitempty"`
	CustomerTrackingLink string  `json:"customer_tracking_link,omitempty"`
	ShipfloOrderID       string  `json:"shipflo_order_id,omitempty"`
	Error                string  `json:"error,omitempty"`
}

// DispatchEvent is broadcast on the event broker for ops streaming.
type DispatchEvent struct {
	Type    string         `json:"type"` // order.posted, order.failed, order.filtered, webhook.received
	OrderID int64          `json:"orderId"`
	TS      string         `json:"ts"`
	Data    map[string]any `json:"data,omitempty"`
}
