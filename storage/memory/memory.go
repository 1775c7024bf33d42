package memory

import (
	"context"
	"sync"

	apperrors "github.com/jrsteele09/go-auth-client/internal/errors"
	"github.com/jrsteele09/go-auth-client/storage"
)

var _ storage.Storage = (*Store)(nil)

// Store is an in-memory implementation of storage.Storage
type Store struct {
	mu     sync.RWMutex
	values map[string]string
}

// New creates an empty in-memory store
func New() *Store {
	return &Store{
		values: make(map[string]string),
	}
}

func (s *Store) Get(_ context.Context, key string) (string, bool, error) {
	if key == "" {
		return "", false, apperrors.ErrEmptyKey
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.values[key]
	return v, ok, nil
}

func (s *Store) Set(_ context.Context, key, value string) error {
	if key == "" {
		return apperrors.ErrEmptyKey
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	s.values[key] = value
	return nil
}

// MultiSet writes all pairs or none of them
func (s *Store) MultiSet(_ context.Context, pairs []storage.KV) error {
	for _, p := range pairs {
		if p.Key == "" {
			return apperrors.ErrEmptyKey
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, p := range pairs {
		s.values[p.Key] = p.Value
	}
	return nil
}

// Remove deletes key; a missing key is not an error
func (s *Store) Remove(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.values, key)
	return nil
}

func (s *Store) MultiRemove(_ context.Context, keys []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, k := range keys {
		delete(s.values, k)
	}
	return nil
}

// Len returns the number of stored keys
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.values)
}
