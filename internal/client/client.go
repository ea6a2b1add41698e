// Package client wraps outbound HTTP calls to the ShipFlo backend. Every
// call returns a Result; transport, protocol and application failures all
// surface there rather than as errors.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"shipflosync/internal/config"
	"shipflosync/internal/logging"
	"shipflosync/internal/metrics"
	"shipflosync/internal/model"
)

// Result is the structured outcome of one backend call. Status 0 means no
// HTTP response was received (DNS, connect, timeout).
type Result struct {
	Success bool
	Status  int
	Data    map[string]any
	Error   string
}

// MerchantDetails is the verified identity returned by verify-api-key.
type MerchantDetails struct {
	MerchantID     string
	RegisteredUUID string
	Name           string
	Email          string
}

type Client struct {
	cfg     *config.Config
	http    *http.Client
	limiter *rate.Limiter
	log     logging.Logger
}

func New(cfg *config.Config, log logging.Logger) *Client {
	timeout := cfg.API.RequestTimeout
	if timeout <= 0 {
		timeout = 45 * time.Second
	}
	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Limit(cfg.API.RatePerSec), cfg.API.RateBurst),
		log:     log,
	}
}

// request performs one JSON call. The API key, when present, rides in the
// X-API-KEY header after being stripped of whitespace and non-printables.
func (c *Client) request(ctx context.Context, method, url, apiKey string, body any) Result {
	if err := c.limiter.Wait(ctx); err != nil {
		return Result{Status: 0, Error: err.Error()}
	}

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return Result{Status: 0, Error: err.Error()}
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, strings.ToUpper(method), url, rdr)
	if err != nil {
		return Result{Status: 0, Error: err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if apiKey != "" {
		req.Header.Set("X-API-KEY", sanitizeKey(apiKey))
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Errorf("[ShipFlo] request error: %v", err)
		metrics.OutboundRequests.WithLabelValues(method, "transport_error").Inc()
		return Result{Success: false, Status: 0, Error: err.Error()}
	}
	defer func() { _ = resp.Body.Close() }()
	metrics.OutboundDuration.WithLabelValues(method).Observe(time.Since(start).Seconds())

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{Success: false, Status: resp.StatusCode, Error: err.Error()}
	}
	var data map[string]any
	if err := json.Unmarshal(raw, &data); err != nil {
		c.log.Errorf("[ShipFlo] invalid JSON from %s: %.300s", url, string(raw))
		metrics.OutboundRequests.WithLabelValues(method, "invalid_json").Inc()
		return Result{Success: false, Status: resp.StatusCode, Error: "invalid JSON"}
	}

	success := resp.StatusCode >= 200 && resp.StatusCode < 300
	if success {
		metrics.OutboundRequests.WithLabelValues(method, "ok").Inc()
	} else {
		metrics.OutboundRequests.WithLabelValues(method, "http_error").Inc()
	}
	errMsg, _ := data["error"].(string)
	return Result{Success: success, Status: resp.StatusCode, Data: data, Error: errMsg}
}

// sanitizeKey trims the key and drops anything outside printable ASCII; keys
// pasted from rich-text admin screens arrive with invisible junk.
func sanitizeKey(key string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(key) {
		if r >= 0x21 && r <= 0x7e {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// VerifyAPIKey round-trips the webhook secret through verify-api-key. The
// response must carry a merchant id and echo the secret back; anything less
// is a failed verification.
func (c *Client) VerifyAPIKey(ctx context.Context, apiKey, webhookSecret string) (MerchantDetails, bool) {
	res := c.request(ctx, http.MethodPost, c.cfg.VerifyURL(), apiKey, map[string]any{
		"webhook_secret": webhookSecret,
	})
	merchantID, _ := res.Data["merchant_id"].(string)
	echo, _ := res.Data["webhook_secret"].(string)
	if !res.Success || merchantID == "" || echo != webhookSecret {
		c.log.Errorf("[ShipFlo] API key verification failed [%d]", res.Status)
		return MerchantDetails{}, false
	}
	d := MerchantDetails{MerchantID: merchantID}
	d.RegisteredUUID, _ = res.Data["merchant_registered_uuid"].(string)
	d.Name, _ = res.Data["merchant_name"].(string)
	d.Email, _ = res.Data["merchant_email"].(string)
	c.log.Infof("[ShipFlo] API key verified successfully")
	return d, true
}

// FetchPostalCodes returns the active service-area postal codes, or false on
// any failure. Callers own the caching.
func (c *Client) FetchPostalCodes(ctx context.Context, apiKey string) ([]string, bool) {
	res := c.request(ctx, http.MethodGet, c.cfg.PostalCodesURL(), apiKey, nil)
	if !res.Success {
		c.log.Errorf("[ShipFlo] failed to fetch postal codes [%d]", res.Status)
		return nil, false
	}
	raw, _ := res.Data["postal_codes"].([]any)
	codes := make([]string, 0, len(raw))
	for _, v := range raw {
		if s, ok := v.(string); ok {
			codes = append(codes, s)
		}
	}
	if len(codes) == 0 {
		c.log.Errorf("[ShipFlo] invalid postal codes response structure")
		return nil, false
	}
	return codes, true
}

// PostOrder submits a dispatch payload. A missing order id or an obviously
// invalid API key fails fast locally with no remote call.
func (c *Client) PostOrder(ctx context.Context, payload model.DispatchPayload, apiKey string) Result {
	if payload.OrderID == 0 || len(sanitizeKey(apiKey)) < 3 {
		return Result{Success: false, Status: 0, Error: "invalid API key or missing order_id"}
	}
	return c.request(ctx, http.MethodPost, c.cfg.OrdersURL(), apiKey, payload)
}

// PushLogChunk ships an incremental slice of the local log file.
func (c *Client) PushLogChunk(ctx context.Context, apiKey, file string, offset int64, content string) Result {
	return c.request(ctx, http.MethodPost, c.cfg.LogsURL(), apiKey, map[string]any{
		"file":    file,
		"offset":  offset,
		"content": content,
	})
}
