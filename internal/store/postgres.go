package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"

	"shipflosync/internal/model"
)

// Postgres persists orders and sync state. Sync state lives in order_sync,
// tied to the orders row; writes fall back to the sync_overflow key-value
// table when the aggregate row is missing.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(dsn string) (*Postgres, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{db: db}, nil
}

// EnsureSchema creates the tables when absent. Dev helper, same spirit as a
// migration directory.
func (p *Postgres) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS orders (
			id BIGINT PRIMARY KEY,
			status TEXT NOT NULL DEFAULT 'pending',
			data JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS order_sync (
			order_id BIGINT PRIMARY KEY REFERENCES orders(id),
			dispatch_status TEXT NOT NULL DEFAULT 'unset',
			remote_status TEXT NOT NULL DEFAULT '',
			remote_order_id TEXT NOT NULL DEFAULT '',
			merchant_track_url TEXT NOT NULL DEFAULT '',
			customer_track_url TEXT NOT NULL DEFAULT '',
			last_error TEXT NOT NULL DEFAULT '',
			last_attempted_at TIMESTAMPTZ,
			retry_count INT NOT NULL DEFAULT 0,
			order_uuid TEXT NOT NULL DEFAULT '',
			asap_delivery BOOLEAN NOT NULL DEFAULT FALSE
		)`,
		`CREATE TABLE IF NOT EXISTS sync_overflow (
			order_id BIGINT PRIMARY KEY,
			state JSONB NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name TEXT PRIMARY KEY,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS retry_tokens (
			order_id BIGINT PRIMARY KEY,
			token TEXT NOT NULL,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS log_offsets (
			file TEXT PRIMARY KEY,
			byte_offset BIGINT NOT NULL DEFAULT 0
		)`,
	}
	for _, s := range stmts {
		if _, err := p.db.ExecContext(ctx, s); err != nil {
			return err
		}
	}
	return nil
}

func (p *Postgres) PutOrder(ctx context.Context, o model.Order) error {
	data, err := json.Marshal(o)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO orders (id, status, data) VALUES ($1,$2,$3)
		 ON CONFLICT (id) DO UPDATE SET status=EXCLUDED.status, data=EXCLUDED.data`,
		o.ID, o.Status, data)
	return err
}

func (p *Postgres) GetOrder(ctx context.Context, id int64) (model.Order, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT data FROM orders WHERE id=$1`, id).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.Order{}, ErrNotFound
	}
	if err != nil {
		return model.Order{}, err
	}
	var o model.Order
	if err := json.Unmarshal(data, &o); err != nil {
		return model.Order{}, err
	}
	return o, nil
}

func (p *Postgres) UpdateOrderStatus(ctx context.Context, id int64, status string) error {
	res, err := p.db.ExecContext(ctx,
		`UPDATE orders SET status=$2, data = jsonb_set(data, '{status}', to_jsonb($2::text)) WHERE id=$1`,
		id, status)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// ensureSyncRow creates the order_sync row for a live order. Returns false
// when the order aggregate is gone and the caller must use the overflow table.
func (p *Postgres) ensureSyncRow(ctx context.Context, orderID int64) (bool, error) {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO order_sync (order_id) VALUES ($1) ON CONFLICT (order_id) DO NOTHING`, orderID)
	if err == nil {
		return true, nil
	}
	// Foreign key violation means no owning order row.
	var exists bool
	if qerr := p.db.QueryRowContext(ctx, `SELECT EXISTS(SELECT 1 FROM orders WHERE id=$1)`, orderID).Scan(&exists); qerr == nil && !exists {
		return false, nil
	}
	return false, err
}

func (p *Postgres) GetSyncState(ctx context.Context, orderID int64) (model.SyncState, error) {
	var st model.SyncState
	var attempted sql.NullTime
	err := p.db.QueryRowContext(ctx,
		`SELECT dispatch_status, remote_status, remote_order_id, merchant_track_url, customer_track_url,
		        last_error, last_attempted_at, retry_count, order_uuid, asap_delivery
		 FROM order_sync WHERE order_id=$1`, orderID).
		Scan(&st.DispatchStatus, &st.RemoteStatus, &st.RemoteOrderID, &st.MerchantTrackURL,
			&st.CustomerTrackURL, &st.LastError, &attempted, &st.RetryCount, &st.OrderUUID, &st.ASAPDelivery)
	if errors.Is(err, sql.ErrNoRows) {
		return p.overflowState(ctx, orderID)
	}
	if err != nil {
		return model.SyncState{}, err
	}
	if attempted.Valid {
		st.LastAttemptedAt = attempted.Time
	}
	return st, nil
}

func (p *Postgres) overflowState(ctx context.Context, orderID int64) (model.SyncState, error) {
	var data []byte
	err := p.db.QueryRowContext(ctx, `SELECT state FROM sync_overflow WHERE order_id=$1`, orderID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return model.SyncState{DispatchStatus: model.DispatchUnset}, nil
	}
	if err != nil {
		return model.SyncState{}, err
	}
	var st model.SyncState
	if err := json.Unmarshal(data, &st); err != nil {
		return model.SyncState{}, err
	}
	return st, nil
}

// mutateState applies fn to the sync state, preferring the aggregate-backed
// row and falling back to the overflow table.
func (p *Postgres) mutateState(ctx context.Context, orderID int64, aggregate func(context.Context) error, fn func(*model.SyncState)) error {
	ok, err := p.ensureSyncRow(ctx, orderID)
	if err != nil {
		return err
	}
	if ok {
		return aggregate(ctx)
	}
	st, err := p.overflowState(ctx, orderID)
	if err != nil {
		return err
	}
	fn(&st)
	data, err := json.Marshal(st)
	if err != nil {
		return err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO sync_overflow (order_id, state) VALUES ($1,$2)
		 ON CONFLICT (order_id) DO UPDATE SET state=EXCLUDED.state`, orderID, data)
	return err
}

func (p *Postgres) SetDispatchStatus(ctx context.Context, orderID int64, status string) error {
	return p.mutateState(ctx, orderID, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `UPDATE order_sync SET dispatch_status=$2 WHERE order_id=$1`, orderID, status)
		return err
	}, func(st *model.SyncState) { st.DispatchStatus = status })
}

func (p *Postgres) SetRemoteStatus(ctx context.Context, orderID int64, status string) error {
	return p.mutateState(ctx, orderID, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `UPDATE order_sync SET remote_status=$2 WHERE order_id=$1`, orderID, status)
		return err
	}, func(st *model.SyncState) { st.RemoteStatus = status })
}

func (p *Postgres) SetRemoteOrder(ctx context.Context, orderID int64, remoteID, merchantURL, customerURL string) error {
	return p.mutateState(ctx, orderID, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx,
			`UPDATE order_sync SET remote_order_id=$2, merchant_track_url=$3, customer_track_url=$4 WHERE order_id=$1`,
			orderID, remoteID, merchantURL, customerURL)
		return err
	}, func(st *model.SyncState) {
		st.RemoteOrderID = remoteID
		st.MerchantTrackURL = merchantURL
		st.CustomerTrackURL = customerURL
	})
}

func (p *Postgres) SetLastError(ctx context.Context, orderID int64, msg string) error {
	return p.mutateState(ctx, orderID, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `UPDATE order_sync SET last_error=$2 WHERE order_id=$1`, orderID, msg)
		return err
	}, func(st *model.SyncState) { st.LastError = msg })
}

func (p *Postgres) SetLastAttemptedAt(ctx context.Context, orderID int64, at time.Time) error {
	return p.mutateState(ctx, orderID, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `UPDATE order_sync SET last_attempted_at=$2 WHERE order_id=$1`, orderID, at)
		return err
	}, func(st *model.SyncState) { st.LastAttemptedAt = at })
}

func (p *Postgres) SetASAPDelivery(ctx context.Context, orderID int64, flag bool) error {
	return p.mutateState(ctx, orderID, func(ctx context.Context) error {
		_, err := p.db.ExecContext(ctx, `UPDATE order_sync SET asap_delivery=$2 WHERE order_id=$1`, orderID, flag)
		return err
	}, func(st *model.SyncState) { st.ASAPDelivery = flag })
}

func (p *Postgres) IncrementRetryCount(ctx context.Context, orderID int64) (int, error) {
	ok, err := p.ensureSyncRow(ctx, orderID)
	if err != nil {
		return 0, err
	}
	if ok {
		var n int
		err = p.db.QueryRowContext(ctx,
			`UPDATE order_sync SET retry_count = retry_count + 1 WHERE order_id=$1 RETURNING retry_count`,
			orderID).Scan(&n)
		return n, err
	}
	// Overflow path: single-statement upsert keeps the increment atomic.
	var n int
	err = p.db.QueryRowContext(ctx,
		`INSERT INTO sync_overflow (order_id, state)
		 VALUES ($1, jsonb_build_object('dispatchStatus','unset','retryCount',1))
		 ON CONFLICT (order_id) DO UPDATE
		 SET state = jsonb_set(sync_overflow.state, '{retryCount}',
		     to_jsonb(COALESCE((sync_overflow.state->>'retryCount')::int, 0) + 1))
		 RETURNING (state->>'retryCount')::int`, orderID).Scan(&n)
	return n, err
}

func (p *Postgres) EnsureOrderUUID(ctx context.Context, orderID int64) (string, error) {
	ok, err := p.ensureSyncRow(ctx, orderID)
	if err != nil {
		return "", err
	}
	fresh := uuid.NewString()
	if ok {
		var got string
		// Keep an existing well-formed UUID, otherwise install the fresh one.
		err = p.db.QueryRowContext(ctx,
			`UPDATE order_sync SET order_uuid = CASE
			    WHEN order_uuid ~ '^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$' THEN order_uuid
			    ELSE $2 END
			 WHERE order_id=$1 RETURNING order_uuid`, orderID, fresh).Scan(&got)
		return got, err
	}
	st, err := p.overflowState(ctx, orderID)
	if err != nil {
		return "", err
	}
	if _, perr := uuid.Parse(st.OrderUUID); perr == nil {
		return st.OrderUUID, nil
	}
	st.OrderUUID = fresh
	data, err := json.Marshal(st)
	if err != nil {
		return "", err
	}
	_, err = p.db.ExecContext(ctx,
		`INSERT INTO sync_overflow (order_id, state) VALUES ($1,$2)
		 ON CONFLICT (order_id) DO UPDATE SET state=EXCLUDED.state`, orderID, data)
	return st.OrderUUID, err
}

func (p *Postgres) GetSecret(ctx context.Context, name string) (string, error) {
	var v string
	err := p.db.QueryRowContext(ctx, `SELECT value FROM secrets WHERE name=$1`, name).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return v, err
}

func (p *Postgres) SetSecret(ctx context.Context, name, value string) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO secrets (name, value) VALUES ($1,$2)
		 ON CONFLICT (name) DO UPDATE SET value=EXCLUDED.value`, name, value)
	return err
}

func (p *Postgres) DeleteSecret(ctx context.Context, name string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM secrets WHERE name=$1`, name)
	return err
}

func (p *Postgres) CreateRetryToken(ctx context.Context, orderID int64) (string, error) {
	tok := uuid.NewString()
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO retry_tokens (order_id, token, created_at) VALUES ($1,$2,now())
		 ON CONFLICT (order_id) DO UPDATE SET token=EXCLUDED.token, created_at=now()`, orderID, tok)
	return tok, err
}

func (p *Postgres) ConsumeRetryToken(ctx context.Context, orderID int64, token string) (bool, error) {
	if token == "" {
		return false, nil
	}
	res, err := p.db.ExecContext(ctx,
		`DELETE FROM retry_tokens WHERE order_id=$1 AND token=$2`, orderID, token)
	if err != nil {
		return false, err
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func (p *Postgres) GetLogOffset(ctx context.Context, file string) (int64, error) {
	var off int64
	err := p.db.QueryRowContext(ctx, `SELECT byte_offset FROM log_offsets WHERE file=$1`, file).Scan(&off)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return off, err
}

func (p *Postgres) SetLogOffset(ctx context.Context, file string, offset int64) error {
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO log_offsets (file, byte_offset) VALUES ($1,$2)
		 ON CONFLICT (file) DO UPDATE SET byte_offset=EXCLUDED.byte_offset`, file, offset)
	return err
}
