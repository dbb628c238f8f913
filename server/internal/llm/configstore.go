package llm

import (
	"context"
	"fmt"
	"strconv"
	"sync"

	"github.com/jmoiron/sqlx"
)

// PGConfigStore backs the kill switch and token counter with a single
// key/value table, used in place of a managed parameter service when
// none is configured.
type PGConfigStore struct {
	db *sqlx.DB
}

// NewPGConfigStore builds a PGConfigStore.
func NewPGConfigStore(db *sqlx.DB) *PGConfigStore {
	return &PGConfigStore{db: db}
}

// GetFlag returns the stored value for key, or "" if absent.
func (s *PGConfigStore) GetFlag(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.GetContext(ctx, &value, `SELECT value FROM config_store WHERE key = $1`, key)
	if err != nil {
		if err.Error() == "sql: no rows in result set" {
			return "", nil
		}
		return "", fmt.Errorf("configstore: getting %q: %w", key, err)
	}
	return value, nil
}

// SetFlag upserts key to value.
func (s *PGConfigStore) SetFlag(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO config_store (key, value) VALUES ($1, $2)
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = now()
	`, key, value)
	if err != nil {
		return fmt.Errorf("configstore: setting %q: %w", key, err)
	}
	return nil
}

// IncrCounter atomically adds delta to the integer stored at key
// (starting from 0) and returns the new total.
func (s *PGConfigStore) IncrCounter(ctx context.Context, key string, delta int64) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO config_store (key, value) VALUES ($1, $2::text)
		ON CONFLICT (key) DO UPDATE SET
			value = (COALESCE(NULLIF(config_store.value, '')::bigint, 0) + $2)::text,
			updated_at = now()
		RETURNING value::bigint
	`, key, delta).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("configstore: incrementing %q: %w", key, err)
	}
	return total, nil
}

// MemConfigStore is an in-memory ConfigStore for development, where
// there is no managed parameter service to consult.
type MemConfigStore struct {
	mu     sync.Mutex
	values map[string]string
}

// NewMemConfigStore builds a MemConfigStore.
func NewMemConfigStore() *MemConfigStore {
	return &MemConfigStore{values: make(map[string]string)}
}

func (s *MemConfigStore) GetFlag(ctx context.Context, key string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[key], nil
}

func (s *MemConfigStore) SetFlag(ctx context.Context, key, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[key] = value
	return nil
}

func (s *MemConfigStore) IncrCounter(ctx context.Context, key string, delta int64) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	current, _ := strconv.ParseInt(s.values[key], 10, 64)
	current += delta
	s.values[key] = strconv.FormatInt(current, 10)
	return current, nil
}
