// Package memory provides in-memory repository implementations, loadable
// from a YAML fixture and hot-reloadable via fsnotify.
package memory

import (
	"context"
	"sync"

	"github.com/artpar/mockengine/domain/mockdef"
	"github.com/artpar/mockengine/ports"
)

// MockStore is an in-memory implementation of ports.ServiceRepository and
// ports.ResponseRepository. Reads take a shared lock; Replace swaps the
// whole dataset at once, which is how fixture reloads stay consistent.
type MockStore struct {
	mu        sync.RWMutex
	services  []mockdef.Service
	responses []mockdef.Response
}

// NewMockStore creates an empty in-memory store.
func NewMockStore() *MockStore {
	return &MockStore{}
}

// Replace swaps in a new dataset atomically.
func (s *MockStore) Replace(services []mockdef.Service, responses []mockdef.Response) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.services = services
	s.responses = responses
}

// FindByNameAndVersion retrieves a service, or nil when unknown.
func (s *MockStore) FindByNameAndVersion(ctx context.Context, name, version string) (*mockdef.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for i := range s.services {
		if s.services[i].Name == name && s.services[i].Version == version {
			svc := s.services[i]
			return &svc, nil
		}
	}
	return nil, nil
}

// List returns all services.
func (s *MockStore) List(ctx context.Context) ([]mockdef.Service, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]mockdef.Service, len(s.services))
	copy(out, s.services)
	return out, nil
}

// FindByOperationIDAndDispatchCriteria returns responses matching the
// stored dispatch criteria.
func (s *MockStore) FindByOperationIDAndDispatchCriteria(ctx context.Context, operationID, criteria string) ([]mockdef.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []mockdef.Response
	for _, r := range s.responses {
		if r.OperationID == operationID && r.DispatchCriteria == criteria {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindByOperationIDAndName returns responses by name.
func (s *MockStore) FindByOperationIDAndName(ctx context.Context, operationID, name string) ([]mockdef.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []mockdef.Response
	for _, r := range s.responses {
		if r.OperationID == operationID && r.Name == name {
			out = append(out, r)
		}
	}
	return out, nil
}

// FindByOperationID returns every response of an operation.
func (s *MockStore) FindByOperationID(ctx context.Context, operationID string) ([]mockdef.Response, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []mockdef.Response
	for _, r := range s.responses {
		if r.OperationID == operationID {
			out = append(out, r)
		}
	}
	return out, nil
}

// Ensure interface compliance.
var (
	_ ports.ServiceRepository  = (*MockStore)(nil)
	_ ports.ResponseRepository = (*MockStore)(nil)
)
