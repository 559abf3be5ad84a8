package store

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Compile-time interface assertion.
var _ Backend = (*PostgresBackend)(nil)

// schema creates the dictionary table. Idempotent.
const schema = `
CREATE TABLE IF NOT EXISTS dictionary_entries (
	pair        TEXT             NOT NULL,
	source      TEXT             NOT NULL,
	translation TEXT             NOT NULL,
	confidence  DOUBLE PRECISION NOT NULL,
	engine      TEXT             NOT NULL DEFAULT '',
	updated_at  TIMESTAMPTZ      NOT NULL DEFAULT now(),
	usage_count INTEGER          NOT NULL DEFAULT 0,
	PRIMARY KEY (pair, source)
);`

// PostgresBackend persists dictionary entries in a PostgreSQL table, for
// deployments where several Lenslate instances share one learned dictionary.
// All operations are safe for concurrent use.
type PostgresBackend struct {
	pool *pgxpool.Pool
}

// NewPostgresBackend connects to the database at dsn and ensures the
// dictionary table exists.
func NewPostgresBackend(ctx context.Context, dsn string) (*PostgresBackend, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("store: postgres backend: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres backend: ping: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("store: postgres backend: migrate: %w", err)
	}
	return &PostgresBackend{pool: pool}, nil
}

// Load implements Backend.
func (b *PostgresBackend) Load(ctx context.Context, pair string) (map[string]DictionaryEntry, error) {
	const q = `
		SELECT source, translation, confidence, engine, updated_at, usage_count
		FROM dictionary_entries
		WHERE pair = $1`

	rows, err := b.pool.Query(ctx, q, pair)
	if err != nil {
		return nil, fmt.Errorf("query pair %s: %w", pair, err)
	}
	defer rows.Close()

	entries := make(map[string]DictionaryEntry)
	for rows.Next() {
		var e DictionaryEntry
		if err := rows.Scan(&e.Source, &e.Translation, &e.Confidence, &e.Engine, &e.UpdatedAt, &e.UsageCount); err != nil {
			return nil, fmt.Errorf("scan pair %s: %w", pair, err)
		}
		entries[e.Source] = e
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pair %s: %w", pair, err)
	}
	return entries, nil
}

// Save implements Backend. Entries are upserted in one batch; rows removed
// from the in-memory map are left in place (the dictionary is append/update
// only).
func (b *PostgresBackend) Save(ctx context.Context, pair string, entries map[string]DictionaryEntry) error {
	const q = `
		INSERT INTO dictionary_entries
			(pair, source, translation, confidence, engine, updated_at, usage_count)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (pair, source) DO UPDATE SET
			translation = EXCLUDED.translation,
			confidence  = EXCLUDED.confidence,
			engine      = EXCLUDED.engine,
			updated_at  = EXCLUDED.updated_at,
			usage_count = EXCLUDED.usage_count`

	batch := &pgx.Batch{}
	for _, e := range entries {
		batch.Queue(q, pair, e.Source, e.Translation, e.Confidence, e.Engine, e.UpdatedAt, e.UsageCount)
	}
	if err := b.pool.SendBatch(ctx, batch).Close(); err != nil {
		return fmt.Errorf("upsert pair %s: %w", pair, err)
	}
	return nil
}

// Close implements Backend.
func (b *PostgresBackend) Close() error {
	b.pool.Close()
	return nil
}
