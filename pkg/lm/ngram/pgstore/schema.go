package pgstore

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

const ddlModels = `
CREATE TABLE IF NOT EXISTS ngram_models (
    name        TEXT         PRIMARY KEY,
    ord         SMALLINT     NOT NULL CHECK (ord BETWEEN 1 AND 6),
    created_at  TIMESTAMPTZ  NOT NULL DEFAULT now()
);
`

const ddlNGrams = `
CREATE TABLE IF NOT EXISTS ngrams (
    model     TEXT              NOT NULL REFERENCES ngram_models (name) ON DELETE CASCADE,
    ord       SMALLINT          NOT NULL,
    words     TEXT[]            NOT NULL,
    log_prob  DOUBLE PRECISION  NOT NULL,
    backoff   DOUBLE PRECISION  NOT NULL DEFAULT 0,
    PRIMARY KEY (model, words)
);

CREATE INDEX IF NOT EXISTS idx_ngrams_model_ord
    ON ngrams (model, ord);
`

// Migrate creates the n-gram tables if they do not exist. It is idempotent
// and safe to call on every start.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for _, stmt := range []string{ddlModels, ddlNGrams} {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("pgstore migrate: %w", err)
		}
	}
	return nil
}
