package session

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/zalando/go-keyring"
)

const keyringService = "consolegate"

// KeyringStore persists the session token in the OS keychain/credential
// manager, one entry per console host. The CLI uses it so a session survives
// between invocations.
type KeyringStore struct {
	key string
}

// NewKeyringStore creates a keyring-backed store for the console at consoleURL
func NewKeyringStore(consoleURL string) (*KeyringStore, error) {
	u, err := url.Parse(consoleURL)
	if err != nil || u.Host == "" {
		return nil, fmt.Errorf("invalid console URL %q", consoleURL)
	}
	return &KeyringStore{key: getKeyringKey(u.Host)}, nil
}

// getKeyringKey returns a unique key for storing session tokens per console host
func getKeyringKey(host string) string {
	return fmt.Sprintf("session-%s", host)
}

// Token implements Store. Keyring failures read as "no session" so callers
// fall back to the most restrictive behavior.
func (s *KeyringStore) Token() (string, bool) {
	token, err := keyring.Get(keyringService, s.key)
	if err != nil {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// Set implements Store
func (s *KeyringStore) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}
	if err := keyring.Set(keyringService, s.key, token); err != nil {
		return fmt.Errorf("failed to save session token: %w", err)
	}
	return nil
}

// Clear implements Store
func (s *KeyringStore) Clear() error {
	if err := keyring.Delete(keyringService, s.key); err != nil {
		if errors.Is(err, keyring.ErrNotFound) {
			return nil // Already deleted
		}
		return fmt.Errorf("failed to delete session token: %w", err)
	}
	return nil
}
