// Package store is the sqlite-backed job definition store.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"webcron/internal/domain"
)

var ErrNotFound = errors.New("job not found")

// EnsureSchema creates the jobs table if it doesn't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
PRAGMA journal_mode=WAL;
CREATE TABLE IF NOT EXISTS jobs (
  id TEXT PRIMARY KEY,
  name TEXT NOT NULL,
  url TEXT NOT NULL,
  method TEXT NOT NULL DEFAULT 'GET',
  headers TEXT NOT NULL DEFAULT '{}',
  body BLOB,
  content_type TEXT NOT NULL DEFAULT '',
  cron_spec TEXT NOT NULL,
  active INTEGER NOT NULL DEFAULT 1,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  last_run DATETIME,
  last_status TEXT
);
CREATE INDEX IF NOT EXISTS idx_jobs_active ON jobs(active);
`
	_, err := db.Exec(schema)
	return err
}

type Store struct{ db *sql.DB }

func New(db *sql.DB) *Store { return &Store{db: db} }

func (s *Store) Create(ctx context.Context, j domain.Job) (string, error) {
	id := j.ID
	if id == "" {
		id = "job_" + uuid.NewString()
	}
	if j.Method == "" {
		j.Method = "GET"
	}
	headers, err := json.Marshal(j.Headers)
	if err != nil {
		return "", fmt.Errorf("encode headers: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO jobs (id,name,url,method,headers,body,content_type,cron_spec,active,created_at)
VALUES (?,?,?,?,?,?,?,?,?,CURRENT_TIMESTAMP)
`, id, j.Name, j.URL, j.Method, string(headers), j.Body, j.ContentType, j.CronSpec, j.Active)
	return id, err
}

func (s *Store) Get(ctx context.Context, id string) (domain.Job, error) {
	row := s.db.QueryRowContext(ctx, `
SELECT id,name,url,method,headers,body,content_type,cron_spec,active,created_at,last_run,last_status
FROM jobs WHERE id=?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return domain.Job{}, ErrNotFound
	}
	return j, err
}

func (s *Store) List(ctx context.Context) ([]domain.Job, error) {
	return s.list(ctx, `
SELECT id,name,url,method,headers,body,content_type,cron_spec,active,created_at,last_run,last_status
FROM jobs ORDER BY created_at`)
}

func (s *Store) ListActive(ctx context.Context) ([]domain.Job, error) {
	return s.list(ctx, `
SELECT id,name,url,method,headers,body,content_type,cron_spec,active,created_at,last_run,last_status
FROM jobs WHERE active=1 ORDER BY created_at`)
}

func (s *Store) Delete(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, "DELETE FROM jobs WHERE id=?", id)
	return err
}

func (s *Store) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx, "UPDATE jobs SET active=? WHERE id=?", active, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateLastRun records the job's last-run summary after an attempt.
func (s *Store) UpdateLastRun(ctx context.Context, id string, at time.Time, status string) error {
	_, err := s.db.ExecContext(ctx, "UPDATE jobs SET last_run=?, last_status=? WHERE id=?", at, status, id)
	return err
}

type rowScanner interface{ Scan(dest ...any) error }

func scanJob(row rowScanner) (domain.Job, error) {
	var (
		j          domain.Job
		headers    string
		body       []byte
		lastRun    sql.NullTime
		lastStatus sql.NullString
	)
	err := row.Scan(&j.ID, &j.Name, &j.URL, &j.Method, &headers, &body, &j.ContentType,
		&j.CronSpec, &j.Active, &j.CreatedAt, &lastRun, &lastStatus)
	if err != nil {
		return domain.Job{}, err
	}
	if err := json.Unmarshal([]byte(headers), &j.Headers); err != nil {
		j.Headers = map[string]string{}
	}
	j.Body = body
	if lastRun.Valid {
		j.LastRun = &lastRun.Time
	}
	if lastStatus.Valid {
		j.LastStatus = lastStatus.String
	}
	return j, nil
}

func (s *Store) list(ctx context.Context, query string) ([]domain.Job, error) {
	rows, err := s.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []domain.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}
