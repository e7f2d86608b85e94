package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"go-extractor/internal/model"
)

var pragmas = []string{
	"PRAGMA journal_mode = WAL",
	"PRAGMA busy_timeout = 10000",
	"PRAGMA synchronous = NORMAL",
	"PRAGMA foreign_keys = ON",
}

const schemaSQL = `CREATE TABLE IF NOT EXISTS jobs (
    id TEXT PRIMARY KEY,
    owner TEXT NOT NULL,
    url TEXT NOT NULL,
    document TEXT NOT NULL,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS pages (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    job_id TEXT NOT NULL REFERENCES jobs(id),
    url TEXT NOT NULL,
    title TEXT,
    record TEXT NOT NULL,
    fetched_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_pages_job_id ON pages(job_id);`

// SQLiteStore is the durable job store. One file per process; WAL mode
// keeps concurrent worker writes and control-plane reads from blocking
// each other.
type SQLiteStore struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies schema and
// pragmas. Use ":memory:" for an in-process database in tests.
func Open(path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			db.Close()
			return nil, fmt.Errorf("apply pragma %q: %w", p, err)
		}
	}
	if _, err := db.Exec(schemaSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("run schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// CreateJob inserts the initial job document. Calling it again for the
// same job replaces the document (at-least-once safe).
func (s *SQLiteStore) CreateJob(ctx context.Context, doc *model.JobDocument) error {
	raw, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("marshal job document: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, owner, url, document, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(id) DO UPDATE SET document = excluded.document, updated_at = excluded.updated_at`,
		doc.ID, doc.Owner, doc.URL, string(raw), now, now)
	if err != nil {
		return fmt.Errorf("insert job %s: %w", doc.ID, err)
	}
	return nil
}

// ApplyPartialUpdate patches the stored job document with dotted-path
// fields. Each call is independent; overlapping fields resolve
// last-write-wins. Returns ErrNotFound for unknown jobs.
func (s *SQLiteStore) ApplyPartialUpdate(ctx context.Context, jobID string, fields map[string]any) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update for job %s: %w", jobID, err)
	}
	defer tx.Rollback()

	var raw string
	err = tx.QueryRowContext(ctx, `SELECT document FROM jobs WHERE id = ?`, jobID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("load job %s: %w", jobID, err)
	}

	var doc map[string]any
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return fmt.Errorf("decode job %s document: %w", jobID, err)
	}
	for path, value := range fields {
		if err := setPath(doc, path, value); err != nil {
			return err
		}
	}
	patched, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("encode job %s document: %w", jobID, err)
	}

	if _, err := tx.ExecContext(ctx,
		`UPDATE jobs SET document = ?, updated_at = ? WHERE id = ?`,
		string(patched), time.Now().UTC(), jobID); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	return tx.Commit()
}

// GetJob loads the stored job document.
func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.JobDocument, error) {
	var raw string
	err := s.db.QueryRowContext(ctx, `SELECT document FROM jobs WHERE id = ?`, jobID).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load job %s: %w", jobID, err)
	}
	var doc model.JobDocument
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return nil, fmt.Errorf("decode job %s document: %w", jobID, err)
	}
	return &doc, nil
}

// InsertPage stores one scraped page record.
func (s *SQLiteStore) InsertPage(ctx context.Context, rec *model.PageRecord) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal page record: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO pages (job_id, url, title, record, fetched_at) VALUES (?, ?, ?, ?, ?)`,
		rec.JobID, rec.URL, rec.Title, string(raw), rec.FetchedAt)
	if err != nil {
		return fmt.Errorf("insert page %s: %w", rec.URL, err)
	}
	return nil
}

// GetPagesByJobID returns the stored page records for one job in insertion
// order.
func (s *SQLiteStore) GetPagesByJobID(ctx context.Context, jobID string) ([]model.PageRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT record FROM pages WHERE job_id = ? ORDER BY id`, jobID)
	if err != nil {
		return nil, fmt.Errorf("load pages for job %s: %w", jobID, err)
	}
	defer rows.Close()

	var pages []model.PageRecord
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, err
		}
		var rec model.PageRecord
		if err := json.Unmarshal([]byte(raw), &rec); err != nil {
			return nil, fmt.Errorf("decode page record: %w", err)
		}
		pages = append(pages, rec)
	}
	return pages, rows.Err()
}
