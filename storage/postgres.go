package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"listing_dedup/models"
)

type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	config, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2
	config.MaxConnLifetime = 30 * time.Minute
	config.MaxConnIdleTime = 5 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}

	store := &PostgresStore{pool: pool}
	if err := store.migrate(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) migrate(ctx context.Context) error {
	schema := `
	CREATE EXTENSION IF NOT EXISTS pg_trgm;

	CREATE TABLE IF NOT EXISTS collected_listings (
		id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
		source_id VARCHAR(50) NOT NULL,
		source_url TEXT NOT NULL,
		title VARCHAR(500) NOT NULL,
		price VARCHAR(100),
		price_value NUMERIC(15, 2),
		location TEXT,
		city VARCHAR(100),
		district VARCHAR(100),
		neighborhood VARCHAR(200),
		category TEXT NOT NULL CHECK (category IN ('konut', 'isyeri', 'arsa', 'bina')),
		transaction_type TEXT NOT NULL CHECK (transaction_type IN
			('satilik', 'kiralik', 'devren-satilik', 'devren-kiralik', 'kat-karsiligi')),
		status TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending', 'approved', 'rejected', 'duplicate')),
		duplicate_of UUID,
		duplicate_score NUMERIC(5, 2),
		duplicate_reason TEXT,
		crawled_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		processed_at TIMESTAMPTZ,
		approved_at TIMESTAMPTZ
	);

	CREATE TABLE IF NOT EXISTS scan_runs (
		id BIGSERIAL PRIMARY KEY,
		started_at TIMESTAMPTZ NOT NULL,
		finished_at TIMESTAMPTZ,
		status TEXT NOT NULL,
		triggered_by TEXT NOT NULL,
		total INTEGER NOT NULL DEFAULT 0,
		scanned INTEGER NOT NULL DEFAULT 0,
		duplicates_found INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		skipped_count INTEGER NOT NULL DEFAULT 0,
		error_message TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_collected_source_id ON collected_listings(source_id);
	CREATE INDEX IF NOT EXISTS idx_collected_sweep ON collected_listings(crawled_at, id) WHERE status <> 'duplicate';
	CREATE INDEX IF NOT EXISTS idx_collected_duplicate_of ON collected_listings(duplicate_of) WHERE duplicate_of IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_collected_title_trgm ON collected_listings USING gin (title gin_trgm_ops);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON scan_runs(started_at);
	`
	_, err := s.pool.Exec(ctx, schema)
	return err
}

const pgListingColumns = `id, source_id, source_url, title, price, price_value, location, city, district,
	neighborhood, category, transaction_type, status, duplicate_of, duplicate_score, duplicate_reason,
	crawled_at, processed_at, approved_at`

func scanPgListing(row pgx.Row) (*models.CollectedListing, error) {
	var l models.CollectedListing
	var category, transactionType, status string
	var reason *string
	err := row.Scan(
		&l.ID, &l.SourceID, &l.SourceURL, &l.Title, &l.Price, &l.PriceValue, &l.Location, &l.City, &l.District,
		&l.Neighborhood, &category, &transactionType, &status, &l.DuplicateOf, &l.DuplicateScore, &reason,
		&l.CrawledAt, &l.ProcessedAt, &l.ApprovedAt,
	)
	if err != nil {
		return nil, err
	}
	l.Category = models.Category(category)
	l.TransactionType = models.TransactionType(transactionType)
	l.Status = models.ListingStatus(status)
	if reason != nil {
		r := models.DuplicateReason(*reason)
		l.DuplicateReason = &r
	}
	return &l, nil
}

// =============================================================================
// Listings
// =============================================================================

func (s *PostgresStore) InsertListing(ctx context.Context, l *models.CollectedListing) error {
	if err := prepareInsert(l); err != nil {
		return err
	}

	query := `
		INSERT INTO collected_listings (
			id, source_id, source_url, title, price, price_value, location, city, district, neighborhood,
			category, transaction_type, status, duplicate_of, duplicate_score, duplicate_reason,
			crawled_at, processed_at, approved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19)`

	var reason *string
	if l.DuplicateReason != nil {
		r := string(*l.DuplicateReason)
		reason = &r
	}

	_, err := s.pool.Exec(ctx, query,
		l.ID, l.SourceID, l.SourceURL, l.Title, l.Price, l.PriceValue, l.Location, l.City, l.District, l.Neighborhood,
		string(l.Category), string(l.TransactionType), string(l.Status), l.DuplicateOf, l.DuplicateScore, reason,
		l.CrawledAt, l.ProcessedAt, l.ApprovedAt,
	)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return fmt.Errorf("insert listing %s: %w", l.ID, ErrAlreadyExists)
	}
	if err != nil {
		return unavailable("insert listing", err)
	}
	return nil
}

func (s *PostgresStore) GetListing(ctx context.Context, id uuid.UUID) (*models.CollectedListing, error) {
	query := `SELECT ` + pgListingColumns + ` FROM collected_listings WHERE id = $1`

	l, err := scanPgListing(s.pool.QueryRow(ctx, query, id))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get listing", err)
	}
	return l, nil
}

func (s *PostgresStore) FindBySourceID(ctx context.Context, q ExactQuery) (*models.CollectedListing, error) {
	query := `SELECT ` + pgListingColumns + `
		FROM collected_listings
		WHERE source_id = $1 AND status <> 'duplicate'`
	args := []interface{}{q.SourceID}

	if q.Exclude != nil {
		args = append(args, *q.Exclude)
		query += fmt.Sprintf(" AND id <> $%d", len(args))
	}
	if q.Before != nil {
		args = append(args, q.Before.CrawledAt, q.Before.ID)
		query += fmt.Sprintf(" AND (crawled_at < $%d OR (crawled_at = $%d AND id < $%d))", len(args)-1, len(args)-1, len(args))
	}
	query += " ORDER BY crawled_at ASC, id ASC LIMIT 1"

	l, err := scanPgListing(s.pool.QueryRow(ctx, query, args...))
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find by source id", err)
	}
	return l, nil
}

func (s *PostgresStore) FindSimilar(ctx context.Context, q SimilarQuery) ([]models.Candidate, error) {
	query := `
		SELECT id, source_id, title, price, price_value, location, city, district, crawled_at,
			similarity(title, $1) AS sim
		FROM collected_listings
		WHERE status <> 'duplicate' AND duplicate_of IS NULL
			AND similarity(title, $1) > $2::float8`
	args := []interface{}{q.Title, q.Threshold}

	add := func(clause string, v interface{}) {
		args = append(args, v)
		query += fmt.Sprintf(clause, len(args))
	}
	if q.Category != nil {
		add(" AND category = $%d", string(*q.Category))
	}
	if q.TransactionType != nil {
		add(" AND transaction_type = $%d", string(*q.TransactionType))
	}
	if q.City != nil {
		add(" AND (city IS NULL OR city = $%d)", *q.City)
	}
	if q.District != nil {
		add(" AND (district IS NULL OR district = $%d)", *q.District)
	}
	if q.Exclude != nil {
		add(" AND id <> $%d", *q.Exclude)
	}
	if q.Before != nil {
		args = append(args, q.Before.CrawledAt, q.Before.ID)
		query += fmt.Sprintf(" AND (crawled_at < $%d OR (crawled_at = $%d AND id < $%d))", len(args)-1, len(args)-1, len(args))
	}
	add(" ORDER BY sim DESC, crawled_at ASC, id ASC LIMIT $%d", q.Limit)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("find similar", err)
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		var c models.Candidate
		var sim float32
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Title, &c.Price, &c.PriceValue, &c.Location,
			&c.City, &c.District, &c.CrawledAt, &sim); err != nil {
			return nil, unavailable("scan candidate", err)
		}
		c.Similarity = float64(sim)
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("find similar", err)
	}
	return candidates, nil
}

func (s *PostgresStore) MarkDuplicate(ctx context.Context, m DuplicateMark) error {
	if err := checkMark(m); err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("begin mark", err)
	}
	defer tx.Rollback(ctx)

	// both rows are locked in id order so crossing marks serialize
	rows, err := tx.Query(ctx, `
		SELECT id, status FROM collected_listings
		WHERE id IN ($1, $2)
		ORDER BY id
		FOR UPDATE`,
		m.ID, m.DuplicateOf)
	if err != nil {
		return unavailable("lock mark rows", err)
	}
	var exists bool
	var targetStatus *models.ListingStatus
	for rows.Next() {
		var id uuid.UUID
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			rows.Close()
			return unavailable("lock mark rows", err)
		}
		if id == m.ID {
			exists = true
		} else {
			st := models.ListingStatus(status)
			targetStatus = &st
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return unavailable("lock mark rows", err)
	}
	if err := checkMarkTarget(m, exists, targetStatus); err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`UPDATE collected_listings SET duplicate_of = $1 WHERE duplicate_of = $2`,
		m.DuplicateOf, m.ID); err != nil {
		return unavailable("move dependents", err)
	}
	if _, err := tx.Exec(ctx, `
		UPDATE collected_listings SET
			status = 'duplicate', duplicate_of = $2, duplicate_score = $3, duplicate_reason = $4, processed_at = $5
		WHERE id = $1`,
		m.ID, m.DuplicateOf, m.Score, string(m.Reason), m.ProcessedAt); err != nil {
		return unavailable("mark duplicate", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return unavailable("commit mark", err)
	}
	return nil
}

func (s *PostgresStore) ListUnresolved(ctx context.Context, since *time.Time) ([]models.CollectedListing, error) {
	query := `SELECT ` + pgListingColumns + `
		FROM collected_listings
		WHERE status <> 'duplicate' AND duplicate_of IS NULL`
	args := []interface{}{}
	if since != nil {
		args = append(args, *since)
		query += " AND crawled_at >= $1"
	}
	query += " ORDER BY crawled_at ASC, id ASC"

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list unresolved", err)
	}
	defer rows.Close()

	var listings []models.CollectedListing
	for rows.Next() {
		l, err := scanPgListing(rows)
		if err != nil {
			return nil, unavailable("scan listing", err)
		}
		listings = append(listings, *l)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("list unresolved", err)
	}
	return listings, nil
}

func (s *PostgresStore) PurgeRejected(ctx context.Context, before time.Time) (int64, error) {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM collected_listings
		WHERE status = 'rejected' AND processed_at < $1
			AND id NOT IN (SELECT duplicate_of FROM collected_listings WHERE duplicate_of IS NOT NULL)`,
		before)
	if err != nil {
		return 0, unavailable("purge rejected", err)
	}
	return tag.RowsAffected(), nil
}

// =============================================================================
// Stats
// =============================================================================

func (s *PostgresStore) CountByStatus(ctx context.Context) (map[models.ListingStatus]int, error) {
	rows, err := s.pool.Query(ctx, `SELECT status, COUNT(*) FROM collected_listings GROUP BY status`)
	if err != nil {
		return nil, unavailable("count by status", err)
	}
	defer rows.Close()

	counts := make(map[models.ListingStatus]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, unavailable("count by status", err)
		}
		counts[models.ListingStatus(status)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("count by status", err)
	}
	return counts, nil
}

func (s *PostgresStore) CountByReason(ctx context.Context) (map[models.DuplicateReason]int, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT duplicate_reason, COUNT(*) FROM collected_listings
		WHERE status = 'duplicate' AND duplicate_reason IS NOT NULL
		GROUP BY duplicate_reason`)
	if err != nil {
		return nil, unavailable("count by reason", err)
	}
	defer rows.Close()

	counts := make(map[models.DuplicateReason]int)
	for rows.Next() {
		var reason string
		var n int
		if err := rows.Scan(&reason, &n); err != nil {
			return nil, unavailable("count by reason", err)
		}
		counts[models.DuplicateReason(reason)] = n
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("count by reason", err)
	}
	return counts, nil
}

func (s *PostgresStore) RecentDuplicates(ctx context.Context, limit int) ([]models.RecentDuplicate, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, title, duplicate_of, COALESCE(duplicate_score, 0), COALESCE(duplicate_reason, ''), processed_at
		FROM collected_listings
		WHERE status = 'duplicate' AND duplicate_of IS NOT NULL
		ORDER BY processed_at DESC NULLS LAST, id ASC
		LIMIT $1`, limit)
	if err != nil {
		return nil, unavailable("recent duplicates", err)
	}
	defer rows.Close()

	var recent []models.RecentDuplicate
	for rows.Next() {
		var r models.RecentDuplicate
		var reason string
		if err := rows.Scan(&r.ID, &r.Title, &r.DuplicateOf, &r.Score, &reason, &r.ProcessedAt); err != nil {
			return nil, unavailable("recent duplicates", err)
		}
		r.Reason = models.DuplicateReason(reason)
		recent = append(recent, r)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("recent duplicates", err)
	}
	return recent, nil
}

// =============================================================================
// Scan Runs
// =============================================================================

func (s *PostgresStore) CreateScanRun(ctx context.Context, run *models.ScanRun) error {
	query := `
		INSERT INTO scan_runs (started_at, status, triggered_by, total)
		VALUES ($1, $2, $3, $4)
		RETURNING id`

	err := s.pool.QueryRow(ctx, query, run.StartedAt, string(run.Status), run.Trigger, run.Total).Scan(&run.ID)
	if err != nil {
		return unavailable("create scan run", err)
	}
	return nil
}

func (s *PostgresStore) UpdateScanRun(ctx context.Context, run *models.ScanRun) error {
	query := `
		UPDATE scan_runs SET
			finished_at = $2, status = $3, total = $4, scanned = $5, duplicates_found = $6,
			failed_count = $7, skipped_count = $8, error_message = $9
		WHERE id = $1`

	_, err := s.pool.Exec(ctx, query,
		run.ID, run.FinishedAt, string(run.Status), run.Total, run.Scanned, run.DuplicatesFound,
		run.FailedCount, run.SkippedCount, run.ErrorMessage,
	)
	if err != nil {
		return unavailable("update scan run", err)
	}
	return nil
}

func (s *PostgresStore) GetScanRun(ctx context.Context, id int64) (*models.ScanRun, error) {
	query := `
		SELECT id, started_at, finished_at, status, triggered_by, total, scanned,
			duplicates_found, failed_count, skipped_count, error_message
		FROM scan_runs WHERE id = $1`

	var run models.ScanRun
	var status string
	err := s.pool.QueryRow(ctx, query, id).Scan(
		&run.ID, &run.StartedAt, &run.FinishedAt, &status, &run.Trigger, &run.Total, &run.Scanned,
		&run.DuplicatesFound, &run.FailedCount, &run.SkippedCount, &run.ErrorMessage,
	)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get scan run", err)
	}
	run.Status = models.RunStatus(status)
	return &run, nil
}
