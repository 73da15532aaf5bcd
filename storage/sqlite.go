package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/mattn/go-sqlite3"
	"listing_dedup/models"
	"listing_dedup/similarity"
)

const sqliteDriverName = "sqlite3_trgm"

// Fixed width, UTC. String order equals time order.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000Z"

func init() {
	sql.Register(sqliteDriverName, &sqlite3.SQLiteDriver{
		ConnectHook: func(conn *sqlite3.SQLiteConn) error {
			return conn.RegisterFunc("similarity", similarity.Similarity, true)
		},
	})
}

type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (and migrates) the database at dbPath. ":memory:" is
// supported; the pool is pinned to one connection so every query sees the
// same in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open(sqliteDriverName, dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.migrate(); err != nil {
		db.Close()
		return nil, err
	}

	return store, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS collected_listings (
		id TEXT PRIMARY KEY,
		source_id TEXT NOT NULL,
		source_url TEXT NOT NULL,
		title TEXT NOT NULL,
		price TEXT,
		price_value REAL,
		location TEXT,
		city TEXT,
		district TEXT,
		neighborhood TEXT,
		category TEXT NOT NULL,
		transaction_type TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		duplicate_of TEXT,
		duplicate_score REAL,
		duplicate_reason TEXT,
		crawled_at TEXT NOT NULL,
		processed_at TEXT,
		approved_at TEXT
	);

	CREATE TABLE IF NOT EXISTS scan_runs (
		id INTEGER PRIMARY KEY,
		started_at TEXT NOT NULL,
		finished_at TEXT,
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
	CREATE INDEX IF NOT EXISTS idx_collected_sweep ON collected_listings(crawled_at, id);
	CREATE INDEX IF NOT EXISTS idx_collected_duplicate_of ON collected_listings(duplicate_of) WHERE duplicate_of IS NOT NULL;
	CREATE INDEX IF NOT EXISTS idx_collected_status ON collected_listings(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

func sqliteTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func sqliteTimePtr(t *time.Time) interface{} {
	if t == nil {
		return nil
	}
	return sqliteTime(*t)
}

func parseSQLiteTime(ns sql.NullString) (*time.Time, error) {
	if !ns.Valid {
		return nil, nil
	}
	t, err := time.Parse(sqliteTimeLayout, ns.String)
	if err != nil {
		return nil, fmt.Errorf("parse time %q: %w", ns.String, err)
	}
	return &t, nil
}

func nullFloat(f sql.NullFloat64) *float64 {
	if !f.Valid {
		return nil
	}
	v := f.Float64
	return &v
}

func nullString(s sql.NullString) *string {
	if !s.Valid {
		return nil
	}
	v := s.String
	return &v
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

const sqliteListingColumns = `id, source_id, source_url, title, price, price_value, location, city, district,
	neighborhood, category, transaction_type, status, duplicate_of, duplicate_score, duplicate_reason,
	crawled_at, processed_at, approved_at`

func scanSQLiteListing(row rowScanner) (*models.CollectedListing, error) {
	var l models.CollectedListing
	var price, location, city, district, neighborhood, reason sql.NullString
	var crawledAt, processedAt, approvedAt sql.NullString
	var category, transactionType, status string
	var priceValue, score sql.NullFloat64
	var duplicateOf uuid.NullUUID

	err := row.Scan(
		&l.ID, &l.SourceID, &l.SourceURL, &l.Title, &price, &priceValue, &location, &city, &district,
		&neighborhood, &category, &transactionType, &status, &duplicateOf, &score, &reason,
		&crawledAt, &processedAt, &approvedAt,
	)
	if err != nil {
		return nil, err
	}

	l.Price = nullString(price)
	l.PriceValue = nullFloat(priceValue)
	l.Location = nullString(location)
	l.City = nullString(city)
	l.District = nullString(district)
	l.Neighborhood = nullString(neighborhood)
	l.Category = models.Category(category)
	l.TransactionType = models.TransactionType(transactionType)
	l.Status = models.ListingStatus(status)
	if duplicateOf.Valid {
		id := duplicateOf.UUID
		l.DuplicateOf = &id
	}
	l.DuplicateScore = nullFloat(score)
	if reason.Valid {
		r := models.DuplicateReason(reason.String)
		l.DuplicateReason = &r
	}

	crawled, err := parseSQLiteTime(crawledAt)
	if err != nil {
		return nil, err
	}
	if crawled != nil {
		l.CrawledAt = *crawled
	}
	if l.ProcessedAt, err = parseSQLiteTime(processedAt); err != nil {
		return nil, err
	}
	if l.ApprovedAt, err = parseSQLiteTime(approvedAt); err != nil {
		return nil, err
	}
	return &l, nil
}

// precedence appends the exclude-self and precedes-cursor filters
func precedence(query string, args []interface{}, exclude *uuid.UUID, before *Cursor) (string, []interface{}) {
	if exclude != nil {
		query += " AND id <> ?"
		args = append(args, exclude.String())
	}
	if before != nil {
		at := sqliteTime(before.CrawledAt)
		query += " AND (crawled_at < ? OR (crawled_at = ? AND id < ?))"
		args = append(args, at, at, before.ID.String())
	}
	return query, args
}

// =============================================================================
// Listings
// =============================================================================

func (s *SQLiteStore) InsertListing(ctx context.Context, l *models.CollectedListing) error {
	if err := prepareInsert(l); err != nil {
		return err
	}

	var duplicateOf interface{}
	if l.DuplicateOf != nil {
		duplicateOf = l.DuplicateOf.String()
	}
	var reason interface{}
	if l.DuplicateReason != nil {
		reason = string(*l.DuplicateReason)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO collected_listings (
			id, source_id, source_url, title, price, price_value, location, city, district, neighborhood,
			category, transaction_type, status, duplicate_of, duplicate_score, duplicate_reason,
			crawled_at, processed_at, approved_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		l.ID.String(), l.SourceID, l.SourceURL, l.Title, l.Price, l.PriceValue, l.Location, l.City, l.District,
		l.Neighborhood, string(l.Category), string(l.TransactionType), string(l.Status), duplicateOf,
		l.DuplicateScore, reason, sqliteTime(l.CrawledAt), sqliteTimePtr(l.ProcessedAt), sqliteTimePtr(l.ApprovedAt),
	)
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey {
		return fmt.Errorf("insert listing %s: %w", l.ID, ErrAlreadyExists)
	}
	if err != nil {
		return unavailable("insert listing", err)
	}
	return nil
}

func (s *SQLiteStore) GetListing(ctx context.Context, id uuid.UUID) (*models.CollectedListing, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+sqliteListingColumns+` FROM collected_listings WHERE id = ?`, id.String())

	l, err := scanSQLiteListing(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get listing", err)
	}
	return l, nil
}

func (s *SQLiteStore) FindBySourceID(ctx context.Context, q ExactQuery) (*models.CollectedListing, error) {
	query := `SELECT ` + sqliteListingColumns + `
		FROM collected_listings
		WHERE source_id = ? AND status <> 'duplicate'`
	args := []interface{}{q.SourceID}
	query, args = precedence(query, args, q.Exclude, q.Before)
	query += " ORDER BY crawled_at ASC, id ASC LIMIT 1"

	l, err := scanSQLiteListing(s.db.QueryRowContext(ctx, query, args...))
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("find by source id", err)
	}
	return l, nil
}

func (s *SQLiteStore) FindSimilar(ctx context.Context, q SimilarQuery) ([]models.Candidate, error) {
	query := `
		SELECT id, source_id, title, price, price_value, location, city, district, crawled_at,
			similarity(title, ?) AS sim
		FROM collected_listings
		WHERE status <> 'duplicate' AND duplicate_of IS NULL
			AND similarity(title, ?) > ?`
	args := []interface{}{q.Title, q.Title, q.Threshold}

	if q.Category != nil {
		query += " AND category = ?"
		args = append(args, string(*q.Category))
	}
	if q.TransactionType != nil {
		query += " AND transaction_type = ?"
		args = append(args, string(*q.TransactionType))
	}
	if q.City != nil {
		query += " AND (city IS NULL OR city = ?)"
		args = append(args, *q.City)
	}
	if q.District != nil {
		query += " AND (district IS NULL OR district = ?)"
		args = append(args, *q.District)
	}
	query, args = precedence(query, args, q.Exclude, q.Before)
	query += " ORDER BY sim DESC, crawled_at ASC, id ASC LIMIT ?"
	args = append(args, q.Limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("find similar", err)
	}
	defer rows.Close()

	var candidates []models.Candidate
	for rows.Next() {
		var c models.Candidate
		var price, location, city, district, crawledAt sql.NullString
		var priceValue sql.NullFloat64
		if err := rows.Scan(&c.ID, &c.SourceID, &c.Title, &price, &priceValue, &location,
			&city, &district, &crawledAt, &c.Similarity); err != nil {
			return nil, unavailable("scan candidate", err)
		}
		c.Price = nullString(price)
		c.PriceValue = nullFloat(priceValue)
		c.Location = nullString(location)
		c.City = nullString(city)
		c.District = nullString(district)
		crawled, err := parseSQLiteTime(crawledAt)
		if err != nil {
			return nil, unavailable("scan candidate", err)
		}
		if crawled != nil {
			c.CrawledAt = *crawled
		}
		candidates = append(candidates, c)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("find similar", err)
	}
	return candidates, nil
}

func (s *SQLiteStore) MarkDuplicate(ctx context.Context, m DuplicateMark) error {
	if err := checkMark(m); err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return unavailable("begin mark", err)
	}
	defer tx.Rollback()

	id, target := m.ID.String(), m.DuplicateOf.String()
	var exists bool
	var targetStatus sql.NullString
	err = tx.QueryRowContext(ctx, `
		SELECT
			EXISTS (SELECT 1 FROM collected_listings WHERE id = ?),
			(SELECT status FROM collected_listings WHERE id = ?)`,
		id, target,
	).Scan(&exists, &targetStatus)
	if err != nil {
		return unavailable("inspect mark", err)
	}
	var st *models.ListingStatus
	if targetStatus.Valid {
		v := models.ListingStatus(targetStatus.String)
		st = &v
	}
	if err := checkMarkTarget(m, exists, st); err != nil {
		return err
	}

	// records already linked to id follow it to the new canonical record
	if _, err := tx.ExecContext(ctx,
		`UPDATE collected_listings SET duplicate_of = ? WHERE duplicate_of = ?`, target, id); err != nil {
		return unavailable("move dependents", err)
	}
	if _, err := tx.ExecContext(ctx, `
		UPDATE collected_listings SET
			status = 'duplicate', duplicate_of = ?, duplicate_score = ?, duplicate_reason = ?, processed_at = ?
		WHERE id = ?`,
		target, m.Score, string(m.Reason), sqliteTime(m.ProcessedAt), id); err != nil {
		return unavailable("mark duplicate", err)
	}

	if err := tx.Commit(); err != nil {
		return unavailable("commit mark", err)
	}
	return nil
}

func (s *SQLiteStore) ListUnresolved(ctx context.Context, since *time.Time) ([]models.CollectedListing, error) {
	query := `SELECT ` + sqliteListingColumns + `
		FROM collected_listings
		WHERE status <> 'duplicate' AND duplicate_of IS NULL`
	var args []interface{}
	if since != nil {
		query += " AND crawled_at >= ?"
		args = append(args, sqliteTime(*since))
	}
	query += " ORDER BY crawled_at ASC, id ASC"

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, unavailable("list unresolved", err)
	}
	defer rows.Close()

	var listings []models.CollectedListing
	for rows.Next() {
		l, err := scanSQLiteListing(rows)
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

func (s *SQLiteStore) PurgeRejected(ctx context.Context, before time.Time) (int64, error) {
	result, err := s.db.ExecContext(ctx, `
		DELETE FROM collected_listings
		WHERE status = 'rejected' AND processed_at < ?
			AND id NOT IN (SELECT duplicate_of FROM collected_listings WHERE duplicate_of IS NOT NULL)`,
		sqliteTime(before))
	if err != nil {
		return 0, unavailable("purge rejected", err)
	}
	return result.RowsAffected()
}

// =============================================================================
// Stats
// =============================================================================

func (s *SQLiteStore) CountByStatus(ctx context.Context) (map[models.ListingStatus]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM collected_listings GROUP BY status`)
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

func (s *SQLiteStore) CountByReason(ctx context.Context) (map[models.DuplicateReason]int, error) {
	rows, err := s.db.QueryContext(ctx, `
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

func (s *SQLiteStore) RecentDuplicates(ctx context.Context, limit int) ([]models.RecentDuplicate, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title, duplicate_of, COALESCE(duplicate_score, 0), COALESCE(duplicate_reason, ''), processed_at
		FROM collected_listings
		WHERE status = 'duplicate' AND duplicate_of IS NOT NULL
		ORDER BY processed_at IS NULL, processed_at DESC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, unavailable("recent duplicates", err)
	}
	defer rows.Close()

	var recent []models.RecentDuplicate
	for rows.Next() {
		var r models.RecentDuplicate
		var reason string
		var processedAt sql.NullString
		if err := rows.Scan(&r.ID, &r.Title, &r.DuplicateOf, &r.Score, &reason, &processedAt); err != nil {
			return nil, unavailable("recent duplicates", err)
		}
		r.Reason = models.DuplicateReason(reason)
		if r.ProcessedAt, err = parseSQLiteTime(processedAt); err != nil {
			return nil, unavailable("recent duplicates", err)
		}
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

func (s *SQLiteStore) CreateScanRun(ctx context.Context, run *models.ScanRun) error {
	result, err := s.db.ExecContext(ctx, `
		INSERT INTO scan_runs (started_at, status, triggered_by, total)
		VALUES (?, ?, ?, ?)`,
		sqliteTime(run.StartedAt), string(run.Status), run.Trigger, run.Total)
	if err != nil {
		return unavailable("create scan run", err)
	}
	run.ID, err = result.LastInsertId()
	return err
}

func (s *SQLiteStore) UpdateScanRun(ctx context.Context, run *models.ScanRun) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scan_runs SET finished_at = ?, status = ?, total = ?, scanned = ?,
			duplicates_found = ?, failed_count = ?, skipped_count = ?, error_message = ?
		WHERE id = ?`,
		sqliteTimePtr(run.FinishedAt), string(run.Status), run.Total, run.Scanned,
		run.DuplicatesFound, run.FailedCount, run.SkippedCount, run.ErrorMessage, run.ID)
	if err != nil {
		return unavailable("update scan run", err)
	}
	return nil
}

func (s *SQLiteStore) GetScanRun(ctx context.Context, id int64) (*models.ScanRun, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, started_at, finished_at, status, triggered_by, total, scanned,
			duplicates_found, failed_count, skipped_count, error_message
		FROM scan_runs WHERE id = ?`, id)

	var run models.ScanRun
	var startedAt, finishedAt sql.NullString
	var status string
	err := row.Scan(&run.ID, &startedAt, &finishedAt, &status, &run.Trigger, &run.Total, &run.Scanned,
		&run.DuplicatesFound, &run.FailedCount, &run.SkippedCount, &run.ErrorMessage)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, unavailable("get scan run", err)
	}
	run.Status = models.RunStatus(status)
	started, err := parseSQLiteTime(startedAt)
	if err != nil {
		return nil, err
	}
	if started != nil {
		run.StartedAt = *started
	}
	if run.FinishedAt, err = parseSQLiteTime(finishedAt); err != nil {
		return nil, err
	}
	return &run, nil
}

// ResetAllData clears all tables
func (s *SQLiteStore) ResetAllData() error {
	for _, table := range []string{"scan_runs", "collected_listings"} {
		if _, err := s.db.Exec(fmt.Sprintf("DELETE FROM %s", table)); err != nil {
			return fmt.Errorf("clear %s: %w", table, err)
		}
	}
	return nil
}
