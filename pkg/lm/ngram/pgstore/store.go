// Package pgstore persists n-gram models in PostgreSQL.
//
// Each model is a named set of rows in the ngrams table. [Store.Import]
// replaces a model atomically using COPY; [Store.Load] reads it back into an
// in-memory [ngram.Model] that the decoder can query without touching the
// database.
//
// Usage:
//
//	store, err := pgstore.Open(ctx, dsn)
//	if err != nil { … }
//	defer store.Close()
//
//	_ = store.Import(ctx, "letters", 3, entries)
//	model, _ := store.Load(ctx, "letters")
package pgstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MrWong99/ctcdecode/pkg/lm/ngram"
)

// ErrModelNotFound is returned by [Store.Load] for an unknown model name.
var ErrModelNotFound = errors.New("pgstore: model not found")

// ModelInfo summarises a stored model.
type ModelInfo struct {
	Name   string
	Order  int
	NGrams int
}

// Store is a PostgreSQL-backed n-gram model repository. All operations are
// safe for concurrent use.
type Store struct {
	pool *pgxpool.Pool
}

// Open connects to the database at dsn, verifies the connection and runs
// [Migrate].
func Open(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	if err := Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Ping checks that the database is reachable.
func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Import stores entries as model name, replacing any previous model of that
// name in a single transaction.
func (s *Store) Import(ctx context.Context, name string, order int, entries []ngram.Entry) error {
	if order < 1 || order > ngram.MaxOrder {
		return fmt.Errorf("pgstore: import %q: %w: %d", name, ngram.ErrOrder, order)
	}
	for i, e := range entries {
		if len(e.Words) == 0 || len(e.Words) > order {
			return fmt.Errorf("pgstore: import %q: entry %d: %w", name, i, ngram.ErrOrder)
		}
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("pgstore: import %q: begin: %w", name, err)
	}
	defer tx.Rollback(ctx) //nolint:errcheck // no-op after commit

	if _, err := tx.Exec(ctx, `DELETE FROM ngram_models WHERE name = $1`, name); err != nil {
		return fmt.Errorf("pgstore: import %q: delete: %w", name, err)
	}
	if _, err := tx.Exec(ctx, `INSERT INTO ngram_models (name, ord) VALUES ($1, $2)`, name, order); err != nil {
		return fmt.Errorf("pgstore: import %q: insert model: %w", name, err)
	}

	n, err := tx.CopyFrom(ctx,
		pgx.Identifier{"ngrams"},
		[]string{"model", "ord", "words", "log_prob", "backoff"},
		pgx.CopyFromSlice(len(entries), func(i int) ([]any, error) {
			e := entries[i]
			return []any{name, int16(len(e.Words)), e.Words, e.LogProb, e.Backoff}, nil
		}),
	)
	if err != nil {
		return fmt.Errorf("pgstore: import %q: copy: %w", name, err)
	}
	if int(n) != len(entries) {
		return fmt.Errorf("pgstore: import %q: copied %d of %d rows", name, n, len(entries))
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("pgstore: import %q: commit: %w", name, err)
	}
	return nil
}

// Load reads model name into memory.
func (s *Store) Load(ctx context.Context, name string, opts ...ngram.Option) (*ngram.Model, error) {
	var order int16
	err := s.pool.QueryRow(ctx, `SELECT ord FROM ngram_models WHERE name = $1`, name).Scan(&order)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("%w: %q", ErrModelNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("pgstore: load %q: %w", name, err)
	}

	m, err := ngram.New(int(order), opts...)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load %q: %w", name, err)
	}

	rows, err := s.pool.Query(ctx,
		`SELECT words, log_prob, backoff FROM ngrams WHERE model = $1 ORDER BY ord`, name)
	if err != nil {
		return nil, fmt.Errorf("pgstore: load %q: query: %w", name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			words   []string
			logProb float64
			backoff float64
		)
		if err := rows.Scan(&words, &logProb, &backoff); err != nil {
			return nil, fmt.Errorf("pgstore: load %q: scan: %w", name, err)
		}
		if err := m.Add(words, logProb, backoff); err != nil {
			return nil, fmt.Errorf("pgstore: load %q: %w", name, err)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: load %q: rows: %w", name, err)
	}
	return m, nil
}

// Models lists stored models ordered by name.
func (s *Store) Models(ctx context.Context) ([]ModelInfo, error) {
	rows, err := s.pool.Query(ctx, `
SELECT m.name, m.ord, COUNT(n.words)
FROM ngram_models m
LEFT JOIN ngrams n ON n.model = m.name
GROUP BY m.name, m.ord
ORDER BY m.name`)
	if err != nil {
		return nil, fmt.Errorf("pgstore: list models: %w", err)
	}
	defer rows.Close()

	var out []ModelInfo
	for rows.Next() {
		var (
			info  ModelInfo
			order int16
			count int64
		)
		if err := rows.Scan(&info.Name, &order, &count); err != nil {
			return nil, fmt.Errorf("pgstore: list models: scan: %w", err)
		}
		info.Order = int(order)
		info.NGrams = int(count)
		out = append(out, info)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgstore: list models: %w", err)
	}
	return out, nil
}

// Delete removes model name. Deleting an unknown model is not an error.
func (s *Store) Delete(ctx context.Context, name string) error {
	if _, err := s.pool.Exec(ctx, `DELETE FROM ngram_models WHERE name = $1`, name); err != nil {
		return fmt.Errorf("pgstore: delete %q: %w", name, err)
	}
	return nil
}
