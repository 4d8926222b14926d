package store

import (
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const timeFormat = time.RFC3339

var migrations = []string{
	`CREATE TABLE listings (
		id TEXT NOT NULL,
		task_id TEXT NOT NULL,
		title TEXT NOT NULL DEFAULT '',
		price TEXT NOT NULL DEFAULT '',
		mileage TEXT NOT NULL DEFAULT '',
		year INTEGER NOT NULL DEFAULT 0,
		make TEXT NOT NULL DEFAULT '',
		model TEXT NOT NULL DEFAULT '',
		location TEXT NOT NULL DEFAULT '',
		link TEXT NOT NULL DEFAULT '',
		image_url TEXT NOT NULL DEFAULT '',
		platform TEXT NOT NULL DEFAULT '',
		overall_score REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		PRIMARY KEY (id, task_id)
	);
	CREATE INDEX idx_listings_created_at ON listings(created_at);
	CREATE TABLE searches (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		task_id TEXT NOT NULL,
		query TEXT NOT NULL,
		result_count INTEGER NOT NULL DEFAULT 0,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL
	);
	CREATE INDEX idx_searches_created_at ON searches(created_at);`,
}

// SQLiteStore implements Store using modernc.org/sqlite (pure Go, zero CGO).
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens (or creates) a SQLite database and runs migrations.
// The database file is created with 0600 permissions and its parent directory with 0700.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, fmt.Errorf("creating database directory: %w", err)
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY, 0600)
		if err != nil {
			return nil, fmt.Errorf("creating database file: %w", err)
		}
		_ = f.Close()
	}

	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=ON"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(1) // SQLite handles one writer at a time
	db.SetMaxIdleConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return s, nil
}

func (s *SQLiteStore) migrate() error {
	_, err := s.db.Exec(`CREATE TABLE IF NOT EXISTS schema_version (
		version INTEGER PRIMARY KEY,
		applied_at TEXT NOT NULL DEFAULT (datetime('now'))
	)`)
	if err != nil {
		return fmt.Errorf("creating schema_version table: %w", err)
	}

	var current int
	row := s.db.QueryRow("SELECT COALESCE(MAX(version), 0) FROM schema_version")
	if err := row.Scan(&current); err != nil {
		return fmt.Errorf("reading schema version: %w", err)
	}

	for i := current; i < len(migrations); i++ {
		slog.Info("applying migration", "version", i+1)
		if _, err := s.db.Exec(migrations[i]); err != nil {
			return fmt.Errorf("migration %d: %w", i+1, err)
		}
		if _, err := s.db.Exec("INSERT INTO schema_version (version) VALUES (?)", i+1); err != nil {
			return fmt.Errorf("recording migration %d: %w", i+1, err)
		}
	}

	return nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// --- Listings ---

func (s *SQLiteStore) SaveListings(taskID string, cars []ListingRecord) error {
	if len(cars) == 0 {
		return nil
	}

	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := formatTime(time.Now())
	for _, c := range cars {
		_, err := tx.Exec(`INSERT OR REPLACE INTO listings
			(id, task_id, title, price, mileage, year, make, model, location, link, image_url, platform, overall_score, created_at)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			c.ID, taskID, c.Title, c.Price, c.Mileage, c.Year, c.Make, c.Model,
			c.Location, c.Link, c.ImageURL, c.Platform, c.OverallScore, now)
		if err != nil {
			return fmt.Errorf("inserting listing %s: %w", c.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing listings: %w", err)
	}
	return nil
}

func (s *SQLiteStore) RecentListings(limit int) ([]ListingRecord, error) {
	if limit <= 0 {
		limit = 50
	}

	rows, err := s.db.Query(`SELECT id, task_id, title, price, mileage, year, make, model,
		location, link, image_url, platform, overall_score, created_at
		FROM listings ORDER BY created_at DESC, overall_score DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent listings: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []ListingRecord
	for rows.Next() {
		var c ListingRecord
		var createdAt string
		if err := rows.Scan(&c.ID, &c.TaskID, &c.Title, &c.Price, &c.Mileage, &c.Year,
			&c.Make, &c.Model, &c.Location, &c.Link, &c.ImageURL, &c.Platform,
			&c.OverallScore, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning listing: %w", err)
		}
		c.CreatedAt = parseTime(createdAt)
		out = append(out, c)
	}
	return out, rows.Err()
}

// --- Search history ---

func (s *SQLiteStore) RecordSearch(rec *SearchRecord) error {
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now()
	}
	res, err := s.db.Exec(`INSERT INTO searches (task_id, query, result_count, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?)`,
		rec.TaskID, rec.Query, rec.ResultCount, rec.Duration.Milliseconds(), formatTime(rec.CreatedAt))
	if err != nil {
		return fmt.Errorf("recording search: %w", err)
	}
	if id, err := res.LastInsertId(); err == nil {
		rec.ID = id
	}
	return nil
}

func (s *SQLiteStore) RecentSearches(limit int) ([]SearchRecord, error) {
	if limit <= 0 {
		limit = 20
	}

	rows, err := s.db.Query(`SELECT id, task_id, query, result_count, duration_ms, created_at
		FROM searches ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing recent searches: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SearchRecord
	for rows.Next() {
		var rec SearchRecord
		var durationMS int64
		var createdAt string
		if err := rows.Scan(&rec.ID, &rec.TaskID, &rec.Query, &rec.ResultCount, &durationMS, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning search: %w", err)
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		rec.CreatedAt = parseTime(createdAt)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- Maintenance ---

// Cleanup removes listings and search history older than retention.
func (s *SQLiteStore) Cleanup(retention time.Duration) (int64, error) {
	cutoff := formatTime(time.Now().Add(-retention))

	var total int64
	res, err := s.db.Exec("DELETE FROM listings WHERE created_at < ?", cutoff)
	if err != nil {
		return 0, fmt.Errorf("cleaning listings: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	res, err = s.db.Exec("DELETE FROM searches WHERE created_at < ?", cutoff)
	if err != nil {
		return total, fmt.Errorf("cleaning searches: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil {
		total += n
	}

	return total, nil
}

// --- Helpers ---

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.Format(timeFormat)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, _ := time.Parse(timeFormat, s)
	return t
}
