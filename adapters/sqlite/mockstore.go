package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/artpar/mockengine/domain/mockdef"
	"github.com/artpar/mockengine/ports"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// MockStore implements ports.ServiceRepository and ports.ResponseRepository
// using SQLite. It is read-mostly: the dispatch hot path only queries;
// SaveService/SaveResponse exist for ingestion tooling and tests.
type MockStore struct {
	db *DB
}

// NewMockStore creates a new SQLite mock definition store.
func NewMockStore(db *DB) *MockStore {
	return &MockStore{db: db}
}

// FindByNameAndVersion retrieves a service with its operations, or nil when
// no service matches.
func (s *MockStore) FindByNameAndVersion(ctx context.Context, name, version string) (*mockdef.Service, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, name, version
		FROM services
		WHERE name = ? AND version = ?
	`, name, version)

	var svc mockdef.Service
	err := row.Scan(&svc.ID, &svc.Name, &svc.Version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}

	ops, err := s.loadOperations(ctx, svc.ID)
	if err != nil {
		return nil, err
	}
	svc.Operations = ops
	return &svc, nil
}

// List returns all services with their operations.
func (s *MockStore) List(ctx context.Context) ([]mockdef.Service, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, version
		FROM services
		ORDER BY name ASC, version ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var services []mockdef.Service
	for rows.Next() {
		var svc mockdef.Service
		if err := rows.Scan(&svc.ID, &svc.Name, &svc.Version); err != nil {
			return nil, err
		}
		services = append(services, svc)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	for i := range services {
		ops, err := s.loadOperations(ctx, services[i].ID)
		if err != nil {
			return nil, err
		}
		services[i].Operations = ops
	}
	return services, nil
}

func (s *MockStore) loadOperations(ctx context.Context, serviceID string) ([]mockdef.Operation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT name, method, resource_paths, dispatcher, dispatcher_rules,
		       constraints, default_delay_ms, id_path, fallback, proxy_fallback
		FROM operations
		WHERE service_id = ?
		ORDER BY position ASC
	`, serviceID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []mockdef.Operation
	for rows.Next() {
		var op mockdef.Operation
		var dispatcher string
		var resourcePathsJSON, constraintsJSON sql.NullString
		var fallbackJSON, proxyFallbackJSON sql.NullString
		var delayMillis int64

		err := rows.Scan(
			&op.Name, &op.Method, &resourcePathsJSON, &dispatcher, &op.DispatcherRules,
			&constraintsJSON, &delayMillis, &op.IDPath, &fallbackJSON, &proxyFallbackJSON,
		)
		if err != nil {
			return nil, err
		}

		op.Dispatcher = mockdef.Dispatcher(dispatcher)
		op.DefaultDelay = time.Duration(delayMillis) * time.Millisecond

		if resourcePathsJSON.Valid && resourcePathsJSON.String != "" {
			if err := json.Unmarshal([]byte(resourcePathsJSON.String), &op.ResourcePaths); err != nil {
				return nil, err
			}
		}
		if constraintsJSON.Valid && constraintsJSON.String != "" {
			if err := json.Unmarshal([]byte(constraintsJSON.String), &op.ParameterConstraints); err != nil {
				return nil, err
			}
		}
		if fallbackJSON.Valid && fallbackJSON.String != "" {
			var f mockdef.FallbackSpecification
			if err := json.Unmarshal([]byte(fallbackJSON.String), &f); err != nil {
				return nil, err
			}
			op.Fallback = &f
		}
		if proxyFallbackJSON.Valid && proxyFallbackJSON.String != "" {
			var f mockdef.ProxyFallbackSpecification
			if err := json.Unmarshal([]byte(proxyFallbackJSON.String), &f); err != nil {
				return nil, err
			}
			op.ProxyFallback = &f
		}

		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// SaveService stores a service with all its operations, replacing any
// previous definition.
func (s *MockStore) SaveService(ctx context.Context, svc mockdef.Service) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO services (id, name, version) VALUES (?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET name = excluded.name, version = excluded.version
	`, svc.ID, svc.Name, svc.Version); err != nil {
		return err
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM operations WHERE service_id = ?`, svc.ID); err != nil {
		return err
	}

	for i, op := range svc.Operations {
		resourcePathsJSON, err := marshalNullable(op.ResourcePaths, len(op.ResourcePaths) == 0)
		if err != nil {
			return err
		}
		constraintsJSON, err := marshalNullable(op.ParameterConstraints, len(op.ParameterConstraints) == 0)
		if err != nil {
			return err
		}
		fallbackJSON, err := marshalNullable(op.Fallback, op.Fallback == nil)
		if err != nil {
			return err
		}
		proxyFallbackJSON, err := marshalNullable(op.ProxyFallback, op.ProxyFallback == nil)
		if err != nil {
			return err
		}

		if _, err := tx.ExecContext(ctx, `
			INSERT INTO operations (
				id, service_id, name, method, resource_paths,
				dispatcher, dispatcher_rules, constraints,
				default_delay_ms, id_path, fallback, proxy_fallback, position
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		`,
			svc.OperationID(op), svc.ID, op.Name, op.Method, resourcePathsJSON,
			string(op.Dispatcher), op.DispatcherRules, constraintsJSON,
			op.DefaultDelay.Milliseconds(), op.IDPath, fallbackJSON, proxyFallbackJSON, i,
		); err != nil {
			return err
		}
	}

	return tx.Commit()
}

// FindByOperationIDAndDispatchCriteria returns responses matching the
// stored dispatch criteria.
func (s *MockStore) FindByOperationIDAndDispatchCriteria(ctx context.Context, operationID, criteria string) ([]mockdef.Response, error) {
	return s.queryResponses(ctx, `
		SELECT id, operation_id, name, status, media_type, content, headers, dispatch_criteria
		FROM responses
		WHERE operation_id = ? AND dispatch_criteria = ?
		ORDER BY position ASC
	`, operationID, criteria)
}

// FindByOperationIDAndName returns responses by name.
func (s *MockStore) FindByOperationIDAndName(ctx context.Context, operationID, name string) ([]mockdef.Response, error) {
	return s.queryResponses(ctx, `
		SELECT id, operation_id, name, status, media_type, content, headers, dispatch_criteria
		FROM responses
		WHERE operation_id = ? AND name = ?
		ORDER BY position ASC
	`, operationID, name)
}

// FindByOperationID returns every response of an operation.
func (s *MockStore) FindByOperationID(ctx context.Context, operationID string) ([]mockdef.Response, error) {
	return s.queryResponses(ctx, `
		SELECT id, operation_id, name, status, media_type, content, headers, dispatch_criteria
		FROM responses
		WHERE operation_id = ?
		ORDER BY position ASC
	`, operationID)
}

func (s *MockStore) queryResponses(ctx context.Context, query string, args ...any) ([]mockdef.Response, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var responses []mockdef.Response
	for rows.Next() {
		var r mockdef.Response
		var headersJSON sql.NullString

		err := rows.Scan(&r.ID, &r.OperationID, &r.Name, &r.Status, &r.MediaType, &r.Content, &headersJSON, &r.DispatchCriteria)
		if err != nil {
			return nil, err
		}

		if headersJSON.Valid && headersJSON.String != "" {
			if err := json.Unmarshal([]byte(headersJSON.String), &r.Headers); err != nil {
				return nil, err
			}
		}

		responses = append(responses, r)
	}
	return responses, rows.Err()
}

// SaveResponse stores one canned response.
func (s *MockStore) SaveResponse(ctx context.Context, r mockdef.Response, position int) error {
	headersJSON, err := marshalNullable(r.Headers, len(r.Headers) == 0)
	if err != nil {
		return err
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO responses (
			id, operation_id, name, status, media_type, content, headers, dispatch_criteria, position
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			operation_id = excluded.operation_id,
			name = excluded.name,
			status = excluded.status,
			media_type = excluded.media_type,
			content = excluded.content,
			headers = excluded.headers,
			dispatch_criteria = excluded.dispatch_criteria,
			position = excluded.position
	`, r.ID, r.OperationID, r.Name, r.Status, r.MediaType, r.Content, headersJSON, r.DispatchCriteria, position)
	return err
}

func marshalNullable(v any, empty bool) (sql.NullString, error) {
	if empty {
		return sql.NullString{}, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(b), Valid: true}, nil
}

// Ensure interface compliance.
var (
	_ ports.ServiceRepository  = (*MockStore)(nil)
	_ ports.ResponseRepository = (*MockStore)(nil)
)
