package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	path := writeConfig(t, "app:\n  secret_salt: s\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.API.RequestTimeout != 45*time.Second {
		t.Fatalf("timeout default: %v", cfg.API.RequestTimeout)
	}
	if cfg.Dispatch.MaxRetry != 5 {
		t.Fatalf("max_retry default: %d", cfg.Dispatch.MaxRetry)
	}
	if cfg.LogShip.Interval != 30*time.Minute {
		t.Fatalf("interval default: %v", cfg.LogShip.Interval)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestValidateRejectsBadInterval(t *testing.T) {
	path := writeConfig(t, "app:\n  secret_salt: s\nlog_ship:\n  interval: 2m\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("interval below 5m must be rejected")
	}
}

func TestValidateRequiresSalt(t *testing.T) {
	path := writeConfig(t, "app:\n  name: x\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Fatal("missing salt must be rejected")
	}
}

func TestEndpointURLs(t *testing.T) {
	path := writeConfig(t, "app:\n  secret_salt: s\napi:\n  base_url: https://api.example.com/\n")
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if got := cfg.OrdersURL(); got != "https://api.example.com/v1/orders/add" {
		t.Fatalf("orders url: %s", got)
	}
	if got := cfg.VerifyURL(); got != "https://api.example.com/v1/verify-api-key" {
		t.Fatalf("verify url: %s", got)
	}
	if got := cfg.LogsURL(); got != "https://api.example.com/logs/woocommerce" {
		t.Fatalf("logs url: %s", got)
	}
}
