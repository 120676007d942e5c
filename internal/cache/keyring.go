package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/99designs/keyring"
)

// KeyringConfig selects the OS keyring backend for secrets
type KeyringConfig struct {
	ServiceName string
	// Backend is one of keychain, secret-service, wincred, pass or file.
	// Empty lets the keyring pick.
	Backend string
	// FileDir and FilePassword configure the encrypted file backend
	FileDir      string
	FilePassword string
}

// KeyringStore is a BlobStore kept in the OS keyring
type KeyringStore struct {
	ring keyring.Keyring
}

// OpenKeyring opens the configured keyring
func OpenKeyring(cfg KeyringConfig) (*KeyringStore, error) {
	backends := []keyring.BackendType{
		keyring.KeychainBackend,
		keyring.SecretServiceBackend,
		keyring.WinCredBackend,
		keyring.PassBackend,
		keyring.FileBackend,
	}
	if cfg.Backend != "" {
		backends = []keyring.BackendType{keyring.BackendType(cfg.Backend)}
	}

	ring, err := keyring.Open(keyring.Config{
		ServiceName:              cfg.ServiceName,
		AllowedBackends:          backends,
		FileDir:                  cfg.FileDir,
		FilePasswordFunc:         keyring.FixedStringPrompt(cfg.FilePassword),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return NewKeyringStore(ring), nil
}

// NewKeyringStore wraps an open keyring
func NewKeyringStore(ring keyring.Keyring) *KeyringStore {
	return &KeyringStore{ring: ring}
}

// Read returns the secret stored under key
func (k *KeyringStore) Read(_ context.Context, key string) ([]byte, bool, error) {
	item, err := k.ring.Get(key)
	if errors.Is(err, keyring.ErrKeyNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("getting credential %q: %w", key, err)
	}
	return item.Data, true, nil
}

// Write stores a secret under key
func (k *KeyringStore) Write(_ context.Context, key string, data []byte) error {
	err := k.ring.Set(keyring.Item{
		Key:  key,
		Data: data,
	})
	if err != nil {
		return fmt.Errorf("setting credential %q: %w", key, err)
	}
	return nil
}

// Delete removes key. A missing key is not an error.
func (k *KeyringStore) Delete(_ context.Context, key string) error {
	err := k.ring.Remove(key)
	if err != nil && !errors.Is(err, keyring.ErrKeyNotFound) {
		return fmt.Errorf("deleting credential %q: %w", key, err)
	}
	return nil
}

// Keys lists stored keys starting with prefix
func (k *KeyringStore) Keys(_ context.Context, prefix string) ([]string, error) {
	all, err := k.ring.Keys()
	if err != nil {
		return nil, fmt.Errorf("listing credentials: %w", err)
	}
	var keys []string
	for _, key := range all {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys, nil
}
