package store

import (
	"context"
	"errors"
	"time"

	"shipflosync/internal/model"
)

var ErrNotFound = errors.New("not found")

// Store is the persistence interface shared by the dispatcher, the webhook
// receiver and the HTTP handlers. Sync-state writes go through the owning
// order aggregate when it exists and fall back to a bare key-value
// association when it does not, so state survives even a half-deleted order.
type Store interface {
	// Orders (platform aggregate)
	PutOrder(ctx context.Context, o model.Order) error
	GetOrder(ctx context.Context, id int64) (model.Order, error)
	UpdateOrderStatus(ctx context.Context, id int64, status string) error

	// Sync state. GetSyncState returns a zero state with DispatchStatus
	// "unset" when none has been recorded yet.
	GetSyncState(ctx context.Context, orderID int64) (model.SyncState, error)
	SetDispatchStatus(ctx context.Context, orderID int64, status string) error
	SetRemoteStatus(ctx context.Context, orderID int64, status string) error
	SetRemoteOrder(ctx context.Context, orderID int64, remoteID, merchantURL, customerURL string) error
	SetLastError(ctx context.Context, orderID int64, msg string) error
	SetLastAttemptedAt(ctx context.Context, orderID int64, at time.Time) error
	SetASAPDelivery(ctx context.Context, orderID int64, flag bool) error

	// IncrementRetryCount is atomic per order: concurrent failure reports
	// must not lose updates.
	IncrementRetryCount(ctx context.Context, orderID int64) (int, error)

	// EnsureOrderUUID returns the persisted order UUID, generating and
	// persisting one atomically when absent or malformed. The UUID is
	// immutable once assigned.
	EnsureOrderUUID(ctx context.Context, orderID int64) (string, error)

	// Secrets key-value backing for the vault.
	GetSecret(ctx context.Context, name string) (string, error)
	SetSecret(ctx context.Context, name, value string) error
	DeleteSecret(ctx context.Context, name string) error

	// One-time anti-replay tokens for manual retry.
	CreateRetryToken(ctx context.Context, orderID int64) (string, error)
	ConsumeRetryToken(ctx context.Context, orderID int64, token string) (bool, error)

	// Byte offset bookkeeping for incremental log shipping.
	GetLogOffset(ctx context.Context, file string) (int64, error)
	SetLogOffset(ctx context.Context, file string, offset int64) error
}
