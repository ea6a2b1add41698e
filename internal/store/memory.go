package store

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"shipflosync/internal/model"
)

// Memory is the in-memory store used when no database DSN is configured and
// throughout the test suite.
type Memory struct {
	mu      sync.Mutex
	orders  map[int64]model.Order
	sync    map[int64]*model.SyncState // attached to a live order
	orphans map[int64]*model.SyncState // sync state whose order is gone
	secrets map[string]string
	tokens  map[int64]string
	offsets map[string]int64
}

func NewMemory() *Memory {
	return &Memory{
		orders:  map[int64]model.Order{},
		sync:    map[int64]*model.SyncState{},
		orphans: map[int64]*model.SyncState{},
		secrets: map[string]string{},
		tokens:  map[int64]string{},
		offsets: map[string]int64{},
	}
}

func (m *Memory) PutOrder(ctx context.Context, o model.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.orders[o.ID] = o
	// Re-attach any orphaned sync state to the aggregate.
	if st, ok := m.orphans[o.ID]; ok {
		m.sync[o.ID] = st
		delete(m.orphans, o.ID)
	}
	return nil
}

func (m *Memory) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return model.Order{}, ErrNotFound
	}
	return o, nil
}

func (m *Memory) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return ErrNotFound
	}
	o.Status = status
	m.orders[id] = o
	return nil
}

// stateFor returns the mutable sync state for an order, creating it lazily.
// Prefers the order-attached record, falls back to the orphan map.
func (m *Memory) stateFor(orderID int64) *model.SyncState {
	if st, ok := m.sync[orderID]; ok {
		return st
	}
	if st, ok := m.orphans[orderID]; ok {
		return st
	}
	st := &model.SyncState{DispatchStatus: model.DispatchUnset}
	if _, ok := m.orders[orderID]; ok {
		m.sync[orderID] = st
	} else {
		m.orphans[orderID] = st
	}
	return st
}

func (m *Memory) GetSyncState(ctx context.Context, orderID int64) (model.SyncState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.sync[orderID]; ok {
		return *st, nil
	}
	if st, ok := m.orphans[orderID]; ok {
		return *st, nil
	}
	return model.SyncState{DispatchStatus: model.DispatchUnset}, nil
}

func (m *Memory) SetDispatchStatus(ctx context.Context, orderID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFor(orderID).DispatchStatus = status
	return nil
}

func (m *Memory) SetRemoteStatus(ctx context.Context, orderID int64, status string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFor(orderID).RemoteStatus = status
	return nil
}

func (m *Memory) SetRemoteOrder(ctx context.Context, orderID int64, remoteID, merchantURL, customerURL string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(orderID)
	st.RemoteOrderID = remoteID
	st.MerchantTrackURL = merchantURL
	st.CustomerTrackURL = customerURL
	return nil
}

func (m *Memory) SetLastError(ctx context.Context, orderID int64, msg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFor(orderID).LastError = msg
	return nil
}

func (m *Memory) SetLastAttemptedAt(ctx context.Context, orderID int64, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFor(orderID).LastAttemptedAt = at
	return nil
}

func (m *Memory) SetASAPDelivery(ctx context.Context, orderID int64, flag bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stateFor(orderID).ASAPDelivery = flag
	return nil
}

func (m *Memory) IncrementRetryCount(ctx context.Context, orderID int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(orderID)
	st.RetryCount++
	return st.RetryCount, nil
}

func (m *Memory) EnsureOrderUUID(ctx context.Context, orderID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.stateFor(orderID)
	if _, err := uuid.Parse(st.OrderUUID); err == nil {
		return st.OrderUUID, nil
	}
	st.OrderUUID = uuid.NewString()
	return st.OrderUUID, nil
}

func (m *Memory) GetSecret(ctx context.Context, name string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.secrets[name]
	if !ok {
		return "", ErrNotFound
	}
	return v, nil
}

func (m *Memory) SetSecret(ctx context.Context, name, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.secrets[name] = value
	return nil
}

func (m *Memory) DeleteSecret(ctx context.Context, name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.secrets, name)
	return nil
}

func (m *Memory) CreateRetryToken(ctx context.Context, orderID int64) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	tok := uuid.NewString()
	m.tokens[orderID] = tok
	return tok, nil
}

func (m *Memory) ConsumeRetryToken(ctx context.Context, orderID int64, token string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tokens[orderID]
	if !ok || token == "" || cur != token {
		return false, nil
	}
	delete(m.tokens, orderID)
	return true, nil
}

func (m *Memory) GetLogOffset(ctx context.Context, file string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.offsets[file], nil
}

func (m *Memory) SetLogOffset(ctx context.Context, file string, offset int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.offsets[file] = offset
	return nil
}
