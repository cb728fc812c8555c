package ratelimit

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/tooeysb/gmail-obsidian-integration/internal/db"
)

// ensureBucketSQL creates a full bucket the first time a key is used.
const ensureBucketSQL = `INSERT INTO rate_limit_buckets (key, tokens, refilled_at)
VALUES ($1, $2, clock_timestamp())
ON CONFLICT (key) DO NOTHING`

// takeSQL refills and decrements in one statement. The row lock taken by
// UPDATE serializes concurrent callers, and the WHERE clause is re-checked
// against the latest row version, so two workers can never spend the same
// token. No row is returned when the bucket is short.
const takeSQL = `WITH now AS (SELECT clock_timestamp() AS ts)
UPDATE rate_limit_buckets b
SET tokens = LEAST($2::float8, b.tokens + EXTRACT(EPOCH FROM (now.ts - b.refilled_at)) * $3::float8) - $4::float8,
    refilled_at = now.ts
FROM now
WHERE b.key = $1
  AND LEAST($2::float8, b.tokens + EXTRACT(EPOCH FROM (now.ts - b.refilled_at)) * $3::float8) >= $4::float8
RETURNING b.tokens`

// PostgresStore keeps bucket state in the rate_limit_buckets table so the
// budget is shared by every worker connected to the same database.
type PostgresStore struct {
	pool db.Pool

	mu      sync.Mutex
	ensured map[string]bool
}

// NewPostgresStore creates a store on an existing pool.
func NewPostgresStore(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool, ensured: make(map[string]bool)}
}

// Take implements Store.
func (s *PostgresStore) Take(ctx context.Context, key string, n float64, spec Spec) (bool, error) {
	if err := s.ensure(ctx, key, spec); err != nil {
		return false, err
	}

	var remaining float64
	err := s.pool.QueryRow(ctx, takeSQL, key, spec.MaxTokens, spec.RefillRate, n).Scan(&remaining)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, eris.Wrapf(err, "postgres: take tokens %s", key)
	}
	return true, nil
}

func (s *PostgresStore) ensure(ctx context.Context, key string, spec Spec) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ensured[key] {
		return nil
	}
	if _, err := s.pool.Exec(ctx, ensureBucketSQL, key, spec.MaxTokens); err != nil {
		return eris.Wrapf(err, "postgres: ensure bucket %s", key)
	}
	s.ensured[key] = true
	return nil
}
