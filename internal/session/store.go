// Package session holds the session token that the routing guard reads on
// every request. The auth state observer is its only writer.
package session

import (
	"errors"
	"strings"
	"sync"
)

// ErrEmptyToken is returned when a blank token is written to a Store
var ErrEmptyToken = errors.New("empty session token")

// Store holds the current session token
type Store interface {
	// Token returns the current token and whether one is present
	Token() (string, bool)
	// Set replaces the current token
	Set(token string) error
	// Clear removes the current token. Clearing an empty store is not an error.
	Clear() error
}

// MemoryStore is a Store kept in process memory
type MemoryStore struct {
	mu    sync.RWMutex
	token string
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Token implements Store
func (s *MemoryStore) Token() (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.token, s.token != ""
}

// Set implements Store
func (s *MemoryStore) Set(token string) error {
	token = strings.TrimSpace(token)
	if token == "" {
		return ErrEmptyToken
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = token
	return nil
}

// Clear implements Store
func (s *MemoryStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.token = ""
	return nil
}
