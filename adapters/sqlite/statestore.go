package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/artpar/mockengine/ports"
)

// StateStore implements ports.ServiceStateRepository using SQLite. The
// upsert makes each Set atomic, which is all the atomicity the dispatch
// engine delegates here.
type StateStore struct {
	db *DB
}

// NewStateStore creates a new SQLite service state store.
func NewStateStore(db *DB) *StateStore {
	return &StateStore{db: db}
}

// Get retrieves a value for (serviceID, key).
func (s *StateStore) Get(ctx context.Context, serviceID, key string) (string, bool, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT value FROM service_state WHERE service_id = ? AND key = ?
	`, serviceID, key)

	var value string
	err := row.Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return value, true, nil
}

// Set stores a value for (serviceID, key).
func (s *StateStore) Set(ctx context.Context, serviceID, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO service_state (service_id, key, value, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(service_id, key) DO UPDATE SET
			value = excluded.value,
			updated_at = excluded.updated_at
	`, serviceID, key, value, time.Now().UTC())
	return err
}

// Delete removes a value for (serviceID, key).
func (s *StateStore) Delete(ctx context.Context, serviceID, key string) error {
	_, err := s.db.ExecContext(ctx, `
		DELETE FROM service_state WHERE service_id = ? AND key = ?
	`, serviceID, key)
	return err
}

// Ensure interface compliance.
var _ ports.ServiceStateRepository = (*StateStore)(nil)
