// Package history is the durable execution log. It retains the most
// recent MaxRecords attempts, evicting oldest first.
package history

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"webcron/internal/domain"
)

// MaxRecords caps the retained log. On overflow the oldest records are
// evicted, never the newest.
const MaxRecords = 1000

// EnsureSchema creates the executions table if it doesn't exist.
func EnsureSchema(db *sql.DB) error {
	schema := `
CREATE TABLE IF NOT EXISTS executions (
  id TEXT PRIMARY KEY,
  job_id TEXT NOT NULL,
  created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
  status_code INTEGER,
  duration_ms INTEGER NOT NULL DEFAULT 0,
  success INTEGER NOT NULL DEFAULT 0,
  error_message TEXT,
  response_excerpt TEXT
);
CREATE INDEX IF NOT EXISTS idx_executions_job ON executions(job_id);
`
	_, err := db.Exec(schema)
	return err
}

type Recorder struct {
	db  *sql.DB
	cap int
}

func New(db *sql.DB) *Recorder { return &Recorder{db: db, cap: MaxRecords} }

// Append durably records one outcome and returns the record id. It
// never fails the caller: a persistence hiccup is logged and swallowed
// so it cannot mask the execution result already computed.
func (r *Recorder) Append(ctx context.Context, o domain.Outcome) string {
	id := "run_" + uuid.NewString()

	var status any
	if o.StatusCode != 0 {
		status = o.StatusCode
	}
	var errMsg any
	if o.ErrorMessage != "" {
		errMsg = o.ErrorMessage
	}
	var excerpt any
	if o.ResponseExcerpt != "" {
		excerpt = o.ResponseExcerpt
	}

	_, err := r.db.ExecContext(ctx, `
INSERT INTO executions (id,job_id,created_at,status_code,duration_ms,success,error_message,response_excerpt)
VALUES (?,?,?,?,?,?,?,?)
`, id, o.JobID, o.StartedAt.UTC(), status, o.Duration.Milliseconds(), o.Success, errMsg, excerpt)
	if err != nil {
		log.Error().Err(err).Str("job_id", o.JobID).Msg("append execution history")
		return id
	}

	// FIFO eviction past the cap. rowid order tracks insertion order
	// even when timestamps collide.
	_, err = r.db.ExecContext(ctx, `
DELETE FROM executions WHERE rowid NOT IN (
  SELECT rowid FROM executions ORDER BY rowid DESC LIMIT ?
)`, r.cap)
	if err != nil {
		log.Error().Err(err).Msg("trim execution history")
	}
	return id
}

// List returns up to limit records, most recent first. A non-positive
// limit returns the full retained log.
func (r *Recorder) List(ctx context.Context, limit int) ([]domain.HistoryRecord, error) {
	if limit <= 0 || limit > r.cap {
		limit = r.cap
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT id,job_id,created_at,status_code,duration_ms,success,error_message,response_excerpt
FROM executions ORDER BY rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []domain.HistoryRecord
	for rows.Next() {
		var (
			rec        domain.HistoryRecord
			status     sql.NullInt64
			durationMS int64
			errMsg     sql.NullString
			excerpt    sql.NullString
		)
		if err := rows.Scan(&rec.ID, &rec.JobID, &rec.Timestamp, &status, &durationMS,
			&rec.Success, &errMsg, &excerpt); err != nil {
			return nil, err
		}
		if status.Valid {
			v := int(status.Int64)
			rec.StatusCode = &v
		}
		rec.Duration = time.Duration(durationMS) * time.Millisecond
		if errMsg.Valid {
			rec.ErrorMessage = &errMsg.String
		}
		if excerpt.Valid {
			rec.ResponseExcerpt = &excerpt.String
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Clear drops the entire retained log.
func (r *Recorder) Clear(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, "DELETE FROM executions")
	if err == nil {
		log.Info().Msg("execution history cleared")
	}
	return err
}

// Stats aggregates all retained records for one job.
func (r *Recorder) Stats(ctx context.Context, jobID string) (domain.Stats, error) {
	row := r.db.QueryRowContext(ctx, `
SELECT COUNT(*), COALESCE(SUM(success),0), COALESCE(AVG(duration_ms),0)
FROM executions WHERE job_id=?`, jobID)

	var (
		total, successes int
		avgMS            float64
	)
	if err := row.Scan(&total, &successes, &avgMS); err != nil {
		return domain.Stats{}, err
	}
	st := domain.Stats{
		Total:       total,
		Successes:   successes,
		Failures:    total - successes,
		AvgDuration: time.Duration(avgMS * float64(time.Millisecond)),
	}
	if total > 0 {
		st.SuccessRate = float64(successes) / float64(total) * 100
	}
	return st, nil
}
