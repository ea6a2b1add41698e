package api

import (
	"bufio"
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	redis "github.com/redis/go-redis/v9"

	"shipflosync/internal/client"
	"shipflosync/internal/config"
	"shipflosync/internal/dedup"
	"shipflosync/internal/dispatch"
	"shipflosync/internal/logging"
	"shipflosync/internal/logship"
	"shipflosync/internal/metrics"
	"shipflosync/internal/payload"
	"shipflosync/internal/secrets"
	"shipflosync/internal/servicearea"
	"shipflosync/internal/store"
	"shipflosync/internal/webhook"
)

type Server struct {
	Cfg        *config.Config
	Store      store.Store
	Client     *client.Client
	Vault      *secrets.Vault
	Dispatcher *dispatch.Dispatcher
	Receiver   *webhook.Receiver
	Broker     EventBroker
	Log        logging.Logger
}

// NewServer wires the full dispatch pipeline. An empty database DSN selects
// the in-memory store; an empty Redis address selects the in-process guard,
// cache and broker.
func NewServer(cfg *config.Config, log logging.Logger) (*Server, error) {
	metrics.RegisterDefault()

	var st store.Store
	if cfg.Database.DSN == "" {
		st = store.NewMemory()
	} else {
		pg, err := store.NewPostgres(cfg.Database.DSN)
		if err != nil {
			return nil, err
		}
		if err := pg.EnsureSchema(context.Background()); err != nil {
			return nil, err
		}
		st = pg
	}

	var rdb *redis.Client
	if cfg.Redis.Addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
	}

	vault, err := secrets.NewVault(st, cfg.App.SecretSalt)
	if err != nil {
		return nil, err
	}
	cl := client.New(cfg, log)

	var cache servicearea.Cache
	var guard dedup.Guard
	var broker EventBroker
	if rdb != nil {
		cache = servicearea.NewRedisCache(rdb)
		guard = dedup.NewRedisGuard(rdb, cfg.Dispatch.GuardTTL)
		broker = NewRedisBroker(rdb)
	} else {
		cache = servicearea.NewMemoryCache()
		guard = dedup.NewMemoryGuard(cfg.Dispatch.GuardTTL)
		broker = NewBroker()
	}

	filter := &servicearea.Filter{
		Source: &postalCodeSource{client: cl, vault: vault},
		Cache:  cache,
		Log:    log,
	}
	builder := &payload.Builder{
		Sync:     st,
		Info:     merchantInfo{cfg},
		Windows:  payload.SelectResolver(payload.OrderWindowResolver{}),
		Merchant: vault,
		Log:      log,
	}

	d := dispatch.New(st, guard, filter, builder, cl, vault, log)
	d.MaxRetry = cfg.Dispatch.MaxRetry
	d.Events = broker.Publish

	rc := webhook.NewReceiver(st, vault, log)
	rc.Events = broker.Publish

	return &Server{
		Cfg:        cfg,
		Store:      st,
		Client:     cl,
		Vault:      vault,
		Dispatcher: d,
		Receiver:   rc,
		Broker:     broker,
		Log:        log,
	}, nil
}

// NewLogPusher creates the background log shipper for the configured file.
func (s *Server) NewLogPusher() *logship.Pusher {
	return logship.NewPusher(s.Store, s.Client, s.Vault, s.Log, s.Cfg.App.LogFile, s.Cfg.LogShip.Interval)
}

// Handler assembles the route table.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/v1/orders", s.OrdersHandler)
	mux.HandleFunc("/v1/orders/", s.OrderByIDHandler)

	mux.Handle("/v1/webhooks/shipflo/order-updated", s.Receiver)

	mux.HandleFunc("/v1/admin/credentials", s.CredentialsHandler)
	mux.HandleFunc("/v1/events/stream", s.EventsStreamHandler)

	mux.HandleFunc("/healthz", s.HealthHandler)
	mux.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return s.instrument(mux)
}

// instrument counts every request by method, route and status.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)
		metrics.HTTPRequests.WithLabelValues(r.Method, routeLabel(r.URL.Path), strconv.Itoa(sw.status)).Inc()
	})
}

// routeLabel collapses order ids so the path label stays low-cardinality.
func routeLabel(path string) string {
	if rest, ok := strings.CutPrefix(path, "/v1/orders/"); ok {
		if i := strings.IndexByte(rest, '/'); i >= 0 {
			return "/v1/orders/{id}" + rest[i:]
		}
		return "/v1/orders/{id}"
	}
	return path
}

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

// Hijack keeps the WebSocket upgrade working through the wrapper.
func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, http.ErrNotSupported
	}
	return h.Hijack()
}

// postalCodeSource fetches the active service-area set from the backend
// using the vault's API key.
type postalCodeSource struct {
	client *client.Client
	vault  *secrets.Vault
}

func (p *postalCodeSource) ActivePostalCodes(ctx context.Context) ([]string, bool) {
	key, err := p.vault.APIKey(ctx)
	if err != nil {
		return nil, false
	}
	return p.client.FetchPostalCodes(ctx, key)
}

// merchantInfo exposes the configured store identity to the payload builder.
type merchantInfo struct{ cfg *config.Config }

func (m merchantInfo) StoreName() string    { return m.cfg.Merchant.StoreName }
func (m merchantInfo) StoreAddress() string { return m.cfg.Merchant.StoreAddress }
func (m merchantInfo) SiteURL() string      { return m.cfg.Merchant.SiteURL }
func (m merchantInfo) Timezone() string     { return m.cfg.Merchant.Timezone }
