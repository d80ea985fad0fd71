package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/buyeewatch/buyee-watcher/internal/crawler"
)

// PgxPool is the subset of pgxpool.Pool the store needs; pgxmock satisfies it.
type PgxPool interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Close()
}

// PostgresStore implements Provider on a pgx connection pool.
type PostgresStore struct {
	pool PgxPool
}

const schemaDDL = `
CREATE TABLE IF NOT EXISTS runs (
	id            TEXT PRIMARY KEY,
	status        TEXT NOT NULL,
	trigger       TEXT NOT NULL,
	submitted_at  TIMESTAMPTZ NOT NULL,
	started_at    TIMESTAMPTZ,
	finished_at   TIMESTAMPTZ,
	error_text    TEXT NOT NULL DEFAULT '',
	codes_crawled INT NOT NULL DEFAULT 0,
	codes_failed  INT NOT NULL DEFAULT 0,
	listings_added INT NOT NULL DEFAULT 0,
	listings_seen  INT NOT NULL DEFAULT 0,
	listings_priced_out INT NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS listings (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	code       TEXT NOT NULL,
	title      TEXT NOT NULL,
	price      TEXT NOT NULL,
	price_yen  INT NOT NULL,
	image_url  TEXT NOT NULL,
	url        TEXT NOT NULL,
	fetched_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS listings_run_id_idx ON listings (run_id);
CREATE TABLE IF NOT EXISTS seen_urls (
	url        TEXT PRIMARY KEY,
	first_seen TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// NewPostgresProvider connects a pool and ensures the schema exists.
func NewPostgresProvider(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store := NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewPostgresStore wraps an existing pool (or a pgxmock pool in tests).
func NewPostgresStore(pool PgxPool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schemaDDL); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}
	return nil
}

// CreateRun inserts a new run row.
func (s *PostgresStore) CreateRun(ctx context.Context, run crawler.Run) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO runs (id, status, trigger, submitted_at) VALUES ($1, $2, $3, $4)`,
		run.ID, string(run.Status), string(run.Trigger), run.Submitted,
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// UpdateRunStatus updates status, counters, and lifecycle timestamps.
// Terminal rows are left untouched: a run canceled while queued must not be
// revived by a worker that dequeues it later.
func (s *PostgresStore) UpdateRunStatus(
	ctx context.Context,
	runID string,
	status crawler.RunStatus,
	errText string,
	counters crawler.RunCounters,
) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE runs SET
			status = $2,
			error_text = $3,
			codes_crawled = $4,
			codes_failed = $5,
			listings_added = $6,
			listings_seen = $7,
			listings_priced_out = $8,
			started_at = CASE WHEN $2 = 'running' AND started_at IS NULL THEN now() ELSE started_at END,
			finished_at = CASE WHEN $2 IN ('succeeded','failed','canceled') THEN now() ELSE finished_at END
		WHERE id = $1 AND status NOT IN ('succeeded','failed','canceled')`,
		runID, string(status), errText,
		counters.CodesCrawled, counters.CodesFailed,
		counters.ListingsAdded, counters.ListingsSeen, counters.ListingsPriced,
	)
	if err != nil {
		return fmt.Errorf("update run status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("run %s not found or already finished", runID)
	}
	return nil
}

// RecordListing appends a listing row for a run.
func (s *PostgresStore) RecordListing(ctx context.Context, runID string, l crawler.Listing) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO listings (run_id, code, title, price, price_yen, image_url, url, fetched_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		runID, l.Code, l.Title, l.Price, l.PriceYen, l.ImageURL, l.URL, l.FetchedAt,
	)
	if err != nil {
		return fmt.Errorf("insert listing: %w", err)
	}
	return nil
}

// SeenURL reports whether a listing URL has been recorded before.
func (s *PostgresStore) SeenURL(ctx context.Context, url string) (bool, error) {
	var seen bool
	err := s.pool.QueryRow(ctx,
		`SELECT EXISTS (SELECT 1 FROM seen_urls WHERE url = $1)`, url,
	).Scan(&seen)
	if err != nil {
		return false, fmt.Errorf("query seen url: %w", err)
	}
	return seen, nil
}

// MarkSeen records a listing URL in the dedup index.
func (s *PostgresStore) MarkSeen(ctx context.Context, url string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO seen_urls (url) VALUES ($1) ON CONFLICT (url) DO NOTHING`, url,
	)
	if err != nil {
		return fmt.Errorf("mark url seen: %w", err)
	}
	return nil
}

// GetRun fetches a run by ID.
func (s *PostgresStore) GetRun(ctx context.Context, runID string) (crawler.Run, error) {
	var run crawler.Run
	var status, trigger string
	err := s.pool.QueryRow(ctx,
		`SELECT id, status, trigger, submitted_at, started_at, finished_at, error_text,
			codes_crawled, codes_failed, listings_added, listings_seen, listings_priced_out
		 FROM runs WHERE id = $1`, runID,
	).Scan(
		&run.ID, &status, &trigger, &run.Submitted, &run.Started, &run.Finished, &run.ErrorText,
		&run.Counters.CodesCrawled, &run.Counters.CodesFailed,
		&run.Counters.ListingsAdded, &run.Counters.ListingsSeen, &run.Counters.ListingsPriced,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return crawler.Run{}, fmt.Errorf("run %s not found", runID)
		}
		return crawler.Run{}, fmt.Errorf("query run: %w", err)
	}
	run.Status = crawler.RunStatus(status)
	run.Trigger = crawler.Trigger(trigger)
	return run, nil
}

// ListListings returns all listings recorded for a run.
func (s *PostgresStore) ListListings(ctx context.Context, runID string) ([]crawler.Listing, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT code, title, price, price_yen, image_url, url, fetched_at
		 FROM listings WHERE run_id = $1 ORDER BY fetched_at DESC`, runID,
	)
	if err != nil {
		return nil, fmt.Errorf("query listings: %w", err)
	}
	defer rows.Close()

	var listings []crawler.Listing
	for rows.Next() {
		var l crawler.Listing
		if err := rows.Scan(&l.Code, &l.Title, &l.Price, &l.PriceYen, &l.ImageURL, &l.URL, &l.FetchedAt); err != nil {
			return nil, fmt.Errorf("scan listing: %w", err)
		}
		listings = append(listings, l)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate listings: %w", err)
	}
	return listings, nil
}

// Close releases the pool.
func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}
