package vault

import (
	"fmt"

	"github.com/99designs/keyring"
)

// KeyringSource loads the vault secret from the OS keyring.
type KeyringSource struct {
	Service string
	Key     string
	FileDir string

	open func(keyring.Config) (keyring.Keyring, error)
}

func (s KeyringSource) ring() (keyring.Keyring, error) {
	open := s.open
	if open == nil {
		open = keyring.Open
	}
	dir := s.FileDir
	if dir == "" {
		dir = "~/.config/gotrs-ingest/credentials"
	}
	ring, err := open(keyring.Config{
		ServiceName: s.Service,
		AllowedBackends: []keyring.BackendType{
			keyring.KeychainBackend,
			keyring.SecretServiceBackend,
			keyring.WinCredBackend,
			keyring.PassBackend,
			keyring.FileBackend,
		},
		FileDir:                  dir,
		FilePasswordFunc:         keyring.FixedStringPrompt(s.Service + "-file-key"),
		KeychainTrustApplication: true,
	})
	if err != nil {
		return nil, fmt.Errorf("opening keyring: %w", err)
	}
	return ring, nil
}

// Secret retrieves the vault secret.
func (s KeyringSource) Secret() (string, error) {
	ring, err := s.ring()
	if err != nil {
		return "", err
	}
	item, err := ring.Get(s.Key)
	if err != nil {
		return "", fmt.Errorf("getting vault secret %q: %w", s.Key, err)
	}
	return string(item.Data), nil
}

// Store writes the vault secret.
func (s KeyringSource) Store(secret string) error {
	ring, err := s.ring()
	if err != nil {
		return err
	}
	if err := ring.Set(keyring.Item{Key: s.Key, Data: []byte(secret)}); err != nil {
		return fmt.Errorf("setting vault secret %q: %w", s.Key, err)
	}
	return nil
}

// FromConfig returns a vault built from secret, or from the keyring when a
// keyring service is configured.
func FromConfig(secret, keyringService, keyringKey string) (*Vault, error) {
	if keyringService != "" {
		if keyringKey == "" {
			keyringKey = "vault-secret"
		}
		s, err := KeyringSource{Service: keyringService, Key: keyringKey}.Secret()
		if err != nil {
			return nil, err
		}
		secret = s
	}
	return New(secret)
}
