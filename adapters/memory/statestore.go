package memory

import (
	"context"
	"sync"

	"github.com/artpar/mockengine/ports"
)

// StateStore is an in-memory implementation of ports.ServiceStateRepository.
type StateStore struct {
	mu     sync.RWMutex
	values map[string]map[string]string // serviceID -> key -> value
}

// NewStateStore creates a new in-memory state store.
func NewStateStore() *StateStore {
	return &StateStore{
		values: make(map[string]map[string]string),
	}
}

// Get retrieves a value for (serviceID, key).
func (s *StateStore) Get(ctx context.Context, serviceID, key string) (string, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	scope, ok := s.values[serviceID]
	if !ok {
		return "", false, nil
	}
	v, ok := scope[key]
	return v, ok, nil
}

// Set stores a value for (serviceID, key).
func (s *StateStore) Set(ctx context.Context, serviceID, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	scope, ok := s.values[serviceID]
	if !ok {
		scope = make(map[string]string)
		s.values[serviceID] = scope
	}
	scope[key] = value
	return nil
}

// Delete removes a value for (serviceID, key).
func (s *StateStore) Delete(ctx context.Context, serviceID, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if scope, ok := s.values[serviceID]; ok {
		delete(scope, key)
	}
	return nil
}

// Ensure interface compliance.
var _ ports.ServiceStateRepository = (*StateStore)(nil)
