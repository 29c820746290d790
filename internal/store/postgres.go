package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresKV is the production KV backend, one JSONB row per record
type PostgresKV struct {
	pool *pgxpool.Pool
}

// NewPostgresKV connects to the database and ensures the records table exists
func NewPostgresKV(ctx context.Context, databaseURL string) (*PostgresKV, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}

	ddl := `
		CREATE TABLE IF NOT EXISTS records (
			collection TEXT NOT NULL,
			key TEXT NOT NULL,
			value JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collection, key)
		)
	`
	if _, err := pool.Exec(ctx, ddl); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure records table: %w", err)
	}

	return &PostgresKV{pool: pool}, nil
}

func (s *PostgresKV) Get(ctx context.Context, c Collection, key string) ([]byte, error) {
	query := `SELECT value FROM records WHERE collection = $1 AND key = $2`

	var value []byte
	err := s.pool.QueryRow(ctx, query, string(c), key).Scan(&value)
	if err == pgx.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}

	return value, nil
}

func (s *PostgresKV) Put(ctx context.Context, c Collection, key string, value []byte) error {
	query := `
		INSERT INTO records (collection, key, value, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (collection, key)
		DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`

	if _, err := s.pool.Exec(ctx, query, string(c), key, value); err != nil {
		return fmt.Errorf("put record: %w", err)
	}

	return nil
}

func (s *PostgresKV) Delete(ctx context.Context, c Collection, key string) error {
	query := `DELETE FROM records WHERE collection = $1 AND key = $2`

	if _, err := s.pool.Exec(ctx, query, string(c), key); err != nil {
		return fmt.Errorf("delete record: %w", err)
	}

	return nil
}

func (s *PostgresKV) List(ctx context.Context, c Collection) (map[string][]byte, error) {
	query := `SELECT key, value FROM records WHERE collection = $1`

	rows, err := s.pool.Query(ctx, query, string(c))
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer rows.Close()

	out := map[string][]byte{}
	for rows.Next() {
		var key string
		var value []byte
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out[key] = value
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate records: %w", err)
	}

	return out, nil
}

func (s *PostgresKV) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresKV) Close() error {
	s.pool.Close()
	return nil
}
