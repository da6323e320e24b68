// Package store provides SQLite persistence for downloaded strips and the
// fetch attempt history.
package store

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/robertmeta/strip-cli/model"
	_ "modernc.org/sqlite"
)

// ErrNotFound is returned when a requested row does not exist.
var ErrNotFound = errors.New("not found")

// Store manages the SQLite database.
type Store struct {
	db *sql.DB
}

// QueryOptions specifies how to query fetch attempts.
type QueryOptions struct {
	Limit   int
	Offset  int
	Outcome model.Outcome
	CycleID string
	Since   time.Time // zero means no lower bound
}

// New creates a new Store with the given database path.
// Use ":memory:" for an in-memory database (useful for testing).
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// The scheduler and the fetch goroutines share the handle; a single
	// connection keeps ":memory:" databases coherent and serialises writers.
	db.SetMaxOpenConns(1)

	store := &Store{db: db}

	if err := store.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return store, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) createSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS strips (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cache_token TEXT NOT NULL DEFAULT '',
		source_uri TEXT NOT NULL DEFAULT '',
		image BLOB NOT NULL,
		image_type TEXT NOT NULL,
		retrieved_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS fetch_attempts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		cycle_id TEXT NOT NULL DEFAULT '',
		attempted_at INTEGER NOT NULL,
		outcome TEXT NOT NULL,
		message TEXT NOT NULL DEFAULT '',
		cache_token TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_strips_retrieved_at ON strips(retrieved_at DESC);
	CREATE INDEX IF NOT EXISTS idx_fetch_attempts_attempted_at ON fetch_attempts(attempted_at DESC);
	CREATE INDEX IF NOT EXISTS idx_fetch_attempts_cycle_id ON fetch_attempts(cycle_id);
	`

	_, err := s.db.Exec(schema)
	return err
}

// SaveStrip archives a strip and returns its row id. The strip itself is
// left untouched; use strip.WithID for an archived copy.
func (s *Store) SaveStrip(strip *model.Strip) (int64, error) {
	if strip == nil || strip.Size() == 0 {
		return 0, errors.New("refusing to save a strip without image data")
	}

	result, err := s.db.Exec(
		"INSERT INTO strips (cache_token, source_uri, image, image_type, retrieved_at) VALUES (?, ?, ?, ?, ?)",
		strip.CacheToken(), strip.SourceURI(), strip.Bytes(), strip.ImageType().String(), strip.RetrievedAt().UnixMilli(),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert strip: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}
	return id, nil
}

// LatestStrip returns the most recently retrieved strip, or ErrNotFound.
func (s *Store) LatestStrip() (*model.Strip, error) {
	row := s.db.QueryRow(
		"SELECT id, cache_token, source_uri, image, retrieved_at FROM strips ORDER BY retrieved_at DESC, id DESC LIMIT 1",
	)
	return scanStrip(row)
}

// GetStrip retrieves a strip by ID.
func (s *Store) GetStrip(id int64) (*model.Strip, error) {
	row := s.db.QueryRow(
		"SELECT id, cache_token, source_uri, image, retrieved_at FROM strips WHERE id = ?",
		id,
	)
	return scanStrip(row)
}

// StripSummary describes an archived strip without its image data.
type StripSummary struct {
	ID          int64     `json:"id"`
	CacheToken  string    `json:"cache_token"`
	SourceURI   string    `json:"source_uri"`
	ImageType   string    `json:"image_type"`
	Size        int       `json:"size"`
	RetrievedAt time.Time `json:"retrieved_at"`
}

// ListStrips returns summaries of archived strips, newest first.
func (s *Store) ListStrips(limit int) ([]*StripSummary, error) {
	query := "SELECT id, cache_token, source_uri, image_type, length(image), retrieved_at FROM strips ORDER BY retrieved_at DESC, id DESC"
	args := []interface{}{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query strips: %w", err)
	}
	defer rows.Close()

	var strips []*StripSummary
	for rows.Next() {
		sum := &StripSummary{}
		var retrievedMillis int64
		if err := rows.Scan(&sum.ID, &sum.CacheToken, &sum.SourceURI, &sum.ImageType, &sum.Size, &retrievedMillis); err != nil {
			return nil, fmt.Errorf("failed to scan strip: %w", err)
		}
		sum.RetrievedAt = millisToTime(retrievedMillis)
		strips = append(strips, sum)
	}

	return strips, rows.Err()
}

// PruneStrips deletes all but the newest keep strips and returns how many
// rows were removed.
func (s *Store) PruneStrips(keep int) (int64, error) {
	if keep < 0 {
		return 0, fmt.Errorf("keep must not be negative: %d", keep)
	}
	result, err := s.db.Exec(
		"DELETE FROM strips WHERE id NOT IN (SELECT id FROM strips ORDER BY retrieved_at DESC, id DESC LIMIT ?)",
		keep,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to prune strips: %w", err)
	}
	return result.RowsAffected()
}

// RecordAttempt stores a fetch attempt and sets its ID.
func (s *Store) RecordAttempt(a *model.FetchAttempt) error {
	result, err := s.db.Exec(
		"INSERT INTO fetch_attempts (cycle_id, attempted_at, outcome, message, cache_token) VALUES (?, ?, ?, ?, ?)",
		a.CycleID, a.AttemptedAt.UnixMilli(), string(a.Outcome), a.Message, a.CacheToken,
	)
	if err != nil {
		return fmt.Errorf("failed to insert fetch attempt: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to get last insert ID: %w", err)
	}
	a.ID = id
	return nil
}

// GetAttempts retrieves fetch attempts with optional filtering, pagination.
func (s *Store) GetAttempts(opts QueryOptions) ([]*model.FetchAttempt, error) {
	query := "SELECT id, cycle_id, attempted_at, outcome, message, cache_token FROM fetch_attempts WHERE 1=1"
	args := []interface{}{}

	if opts.Outcome != "" {
		query += " AND outcome = ?"
		args = append(args, string(opts.Outcome))
	}

	if opts.CycleID != "" {
		query += " AND cycle_id = ?"
		args = append(args, opts.CycleID)
	}

	if !opts.Since.IsZero() {
		query += " AND attempted_at >= ?"
		args = append(args, opts.Since.UnixMilli())
	}

	query += " ORDER BY attempted_at DESC, id DESC"

	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	} else if opts.Offset > 0 {
		query += " LIMIT -1"
	}

	if opts.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, opts.Offset)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query fetch attempts: %w", err)
	}
	defer rows.Close()

	var attempts []*model.FetchAttempt
	for rows.Next() {
		a := &model.FetchAttempt{}
		var attemptedMillis int64
		var outcome string

		if err := rows.Scan(&a.ID, &a.CycleID, &attemptedMillis, &outcome, &a.Message, &a.CacheToken); err != nil {
			return nil, fmt.Errorf("failed to scan fetch attempt: %w", err)
		}

		a.AttemptedAt = millisToTime(attemptedMillis)
		a.Outcome = model.Outcome(outcome)
		attempts = append(attempts, a)
	}

	return attempts, rows.Err()
}

func scanStrip(row *sql.Row) (*model.Strip, error) {
	var (
		id              int64
		token, uri      string
		image           []byte
		retrievedMillis int64
	)
	err := row.Scan(&id, &token, &uri, &image, &retrievedMillis)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("strip %w", ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get strip: %w", err)
	}

	return model.NewStrip(image, token, uri, millisToTime(retrievedMillis)).WithID(id), nil
}

func millisToTime(ms int64) time.Time {
	return time.UnixMilli(ms)
}
