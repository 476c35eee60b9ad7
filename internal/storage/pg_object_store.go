package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// Compile-time check
var _ ObjectStore = (*pgObjectStore)(nil)

type pgObjectStore struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewPgObjectStore создает ObjectStore поверх PostgreSQL (одна таблица
// ключ-значение) и гарантирует наличие схемы.
func NewPgObjectStore(ctx context.Context, pool *pgxpool.Pool, logger *zap.Logger) (ObjectStore, error) {
	s := &pgObjectStore{
		pool:   pool,
		logger: logger.Named("PgObjectStore"),
	}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *pgObjectStore) ensureSchema(ctx context.Context) error {
	const query = `
		CREATE TABLE IF NOT EXISTS storage_objects (
			key        TEXT PRIMARY KEY,
			data       BYTEA NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := s.pool.Exec(ctx, query); err != nil {
		s.logger.Error("Failed to ensure storage_objects schema", zap.Error(err))
		return fmt.Errorf("failed to ensure storage_objects schema: %w", err)
	}
	return nil
}

func (s *pgObjectStore) Get(ctx context.Context, key string) ([]byte, error) {
	const query = `SELECT data FROM storage_objects WHERE key = $1`
	var data []byte
	err := s.pool.QueryRow(ctx, query, key).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrObjectNotFound
		}
		s.logger.Error("Failed to get object", zap.String("key", key), zap.Error(err))
		return nil, fmt.Errorf("failed to get object %q: %w", key, err)
	}
	return data, nil
}

func (s *pgObjectStore) Put(ctx context.Context, key string, data []byte) error {
	const query = `
		INSERT INTO storage_objects (key, data, updated_at)
		VALUES ($1, $2, now())
		ON CONFLICT (key) DO UPDATE SET data = EXCLUDED.data, updated_at = now()`
	if _, err := s.pool.Exec(ctx, query, key, data); err != nil {
		s.logger.Error("Failed to put object",
			zap.String("key", key),
			zap.Int("size_bytes", len(data)),
			zap.Error(err),
		)
		return fmt.Errorf("failed to put object %q: %w", key, err)
	}
	s.logger.Debug("Object stored", zap.String("key", key), zap.Int("size_bytes", len(data)))
	return nil
}

func (s *pgObjectStore) Delete(ctx context.Context, key string) error {
	const query = `DELETE FROM storage_objects WHERE key = $1`
	if _, err := s.pool.Exec(ctx, query, key); err != nil {
		s.logger.Error("Failed to delete object", zap.String("key", key), zap.Error(err))
		return fmt.Errorf("failed to delete object %q: %w", key, err)
	}
	return nil
}
