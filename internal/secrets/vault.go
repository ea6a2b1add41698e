// Package secrets holds the integration credentials. The API key is
// encrypted at rest with AES-256-CBC under a key derived from a site-wide
// salt; the webhook secret and merchant identity are stored as-is.
package secrets

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
)

// Secret names in the backing key-value store.
const (
	nameAPIKey        = "api_key"
	nameWebhookSecret = "webhook_secret"
	nameMerchantID    = "merchant_id"
	nameRegisteredID  = "registered_uuid"
)

var ErrNotConfigured = errors.New("secret not configured")

// KV is the persistence the vault writes through.
type KV interface {
	GetSecret(ctx context.Context, name string) (string, error)
	SetSecret(ctx context.Context, name, value string) error
	DeleteSecret(ctx context.Context, name string) error
}

type Vault struct {
	kv  KV
	key [32]byte
}

// NewVault derives the at-rest key from the site salt. The salt is required
// configuration; an empty salt is a startup error, not a runtime condition.
func NewVault(kv KV, salt string) (*Vault, error) {
	if salt == "" {
		return nil, errors.New("secrets: empty salt")
	}
	v := &Vault{kv: kv}
	v.key = sha256.Sum256([]byte(salt))
	return v, nil
}

// APIKey returns the decrypted API key, or ErrNotConfigured.
func (v *Vault) APIKey(ctx context.Context) (string, error) {
	enc, err := v.kv.GetSecret(ctx, nameAPIKey)
	if err != nil {
		return "", ErrNotConfigured
	}
	return v.decrypt(enc)
}

func (v *Vault) SetAPIKey(ctx context.Context, key string) error {
	enc, err := v.encrypt(key)
	if err != nil {
		return err
	}
	return v.kv.SetSecret(ctx, nameAPIKey, enc)
}

func (v *Vault) WebhookSecret(ctx context.Context) (string, error) {
	s, err := v.kv.GetSecret(ctx, nameWebhookSecret)
	if err != nil || s == "" {
		return "", ErrNotConfigured
	}
	return s, nil
}

func (v *Vault) SetWebhookSecret(ctx context.Context, secret string) error {
	return v.kv.SetSecret(ctx, nameWebhookSecret, secret)
}

func (v *Vault) MerchantID(ctx context.Context) (string, error) {
	return v.kv.GetSecret(ctx, nameMerchantID)
}

func (v *Vault) SetMerchantID(ctx context.Context, id string) error {
	return v.kv.SetSecret(ctx, nameMerchantID, id)
}

// RegisteredUUID is the merchant UUID assigned at verification; it is stamped
// on every dispatch payload. Empty until provisioning completes.
func (v *Vault) RegisteredUUID(ctx context.Context) string {
	s, _ := v.kv.GetSecret(ctx, nameRegisteredID)
	return s
}

func (v *Vault) SetRegisteredUUID(ctx context.Context, id string) error {
	return v.kv.SetSecret(ctx, nameRegisteredID, id)
}

// ClearAll removes every stored credential. Explicit integration teardown
// only; nothing else deletes secrets.
func (v *Vault) ClearAll(ctx context.Context) error {
	for _, n := range []string{nameAPIKey, nameWebhookSecret, nameMerchantID, nameRegisteredID} {
		if err := v.kv.DeleteSecret(ctx, n); err != nil {
			return err
		}
	}
	return nil
}

func (v *Vault) encrypt(plain string) (string, error) {
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", err
	}
	iv := make([]byte, aes.BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return "", err
	}
	padded := pkcs7Pad([]byte(plain), aes.BlockSize)
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return base64.StdEncoding.EncodeToString(append(iv, out...)), nil
}

func (v *Vault) decrypt(enc string) (string, error) {
	raw, err := base64.StdEncoding.DecodeString(enc)
	if err != nil {
		return "", fmt.Errorf("secrets: corrupted ciphertext: %w", err)
	}
	if len(raw) < aes.BlockSize || (len(raw)-aes.BlockSize)%aes.BlockSize != 0 {
		return "", errors.New("secrets: corrupted ciphertext")
	}
	block, err := aes.NewCipher(v.key[:])
	if err != nil {
		return "", err
	}
	iv, ct := raw[:aes.BlockSize], raw[aes.BlockSize:]
	out := make([]byte, len(ct))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(out, ct)
	plain, err := pkcs7Unpad(out, aes.BlockSize)
	if err != nil {
		return "", err
	}
	return string(plain), nil
}

func pkcs7Pad(b []byte, size int) []byte {
	n := size - len(b)%size
	pad := make([]byte, n)
	for i := range pad {
		pad[i] = byte(n)
	}
	return append(b, pad...)
}

func pkcs7Unpad(b []byte, size int) ([]byte, error) {
	if len(b) == 0 || len(b)%size != 0 {
		return nil, errors.New("secrets: bad padding")
	}
	n := int(b[len(b)-1])
	if n == 0 || n > size || n > len(b) {
		return nil, errors.New("secrets: bad padding")
	}
	for _, c := range b[len(b)-n:] {
		if int(c) != n {
			return nil, errors.New("secrets: bad padding")
		}
	}
	return b[:len(b)-n], nil
}
