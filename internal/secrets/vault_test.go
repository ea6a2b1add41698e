package secrets

import (
	"context"
	"errors"
	"strings"
	"testing"
)

type memKV struct{ m map[string]string }

func newMemKV() *memKV { return &memKV{m: map[string]string{}} }

func (k *memKV) GetSecret(ctx context.Context, name string) (string, error) {
	v, ok := k.m[name]
	if !ok {
		return "", errors.New("not found")
	}
	return v, nil
}
func (k *memKV) SetSecret(ctx context.Context, name, value string) error {
	k.m[name] = value
	return nil
}
func (k *memKV) DeleteSecret(ctx context.Context, name string) error {
	delete(k.m, name)
	return nil
}

func TestAPIKeyRoundTrip(t *testing.T) {
	kv := newMemKV()
	v, err := NewVault(kv, "site-salt")
	if err != nil {
		t.Fatalf("NewVault: %v", err)
	}
	ctx := context.Background()
	if err := v.SetAPIKey(ctx, "sk_live_abc123"); err != nil {
		t.Fatalf("SetAPIKey: %v", err)
	}
	if strings.Contains(kv.m["api_key"], "sk_live_abc123") {
		t.Fatal("API key stored in the clear")
	}
	got, err := v.APIKey(ctx)
	if err != nil || got != "sk_live_abc123" {
		t.Fatalf("APIKey: got %q err %v", got, err)
	}
}

func TestAPIKeyDifferentSaltFails(t *testing.T) {
	kv := newMemKV()
	v1, _ := NewVault(kv, "salt-a")
	_ = v1.SetAPIKey(context.Background(), "key")
	v2, _ := NewVault(kv, "salt-b")
	if got, err := v2.APIKey(context.Background()); err == nil && got == "key" {
		t.Fatal("decryption succeeded under the wrong salt")
	}
}

func TestEmptySaltRejected(t *testing.T) {
	if _, err := NewVault(newMemKV(), ""); err == nil {
		t.Fatal("expected error for empty salt")
	}
}

func TestClearAll(t *testing.T) {
	kv := newMemKV()
	v, _ := NewVault(kv, "salt")
	ctx := context.Background()
	_ = v.SetAPIKey(ctx, "key")
	_ = v.SetWebhookSecret(ctx, "whsec")
	_ = v.SetMerchantID(ctx, "m_1")
	_ = v.SetRegisteredUUID(ctx, "u_1")
	if err := v.ClearAll(ctx); err != nil {
		t.Fatalf("ClearAll: %v", err)
	}
	if _, err := v.APIKey(ctx); err == nil {
		t.Fatal("API key survived teardown")
	}
	if _, err := v.WebhookSecret(ctx); err == nil {
		t.Fatal("webhook secret survived teardown")
	}
}
