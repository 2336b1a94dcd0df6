package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/speclens/internal/model"
)

// SQLiteStore implements JobStore using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY,
	category_id  TEXT NOT NULL,
	params       TEXT NOT NULL,
	status       TEXT NOT NULL DEFAULT 'created',
	progress     INTEGER NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	results      TEXT,
	error        TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL DEFAULT (datetime('now')),
	updated_at   DATETIME NOT NULL DEFAULT (datetime('now'))
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_category ON jobs(category_id);
CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) CreateJob(ctx context.Context, params model.JobParams) (*model.JobRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: marshal params")
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO jobs (id, category_id, params, status, created_at, updated_at) VALUES (?, ?, ?, ?, ?, ?)`,
		id, params.CategoryID, string(paramsJSON), string(model.JobStatusCreated), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: insert job")
	}

	return &model.JobRecord{
		JobID:     id,
		Params:    params,
		Status:    model.JobStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *SQLiteStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, progress int, currentStep string) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, current_step = ?, updated_at = ? WHERE id = ?`,
		string(status), progress, currentStep, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job status %s", jobID)
	}
	return checkRowsAffected(res, jobID)
}

func (s *SQLiteStore) UpdateJobRecord(ctx context.Context, rec *model.JobRecord) error {
	resultsJSON, err := marshalResults(rec)
	if err != nil {
		return err
	}

	var results any
	if resultsJSON != nil {
		results = string(resultsJSON)
	}

	res, err := s.db.ExecContext(ctx,
		`UPDATE jobs SET status = ?, progress = ?, current_step = ?, results = ?, error = ?, updated_at = ? WHERE id = ?`,
		string(rec.Status), rec.Progress, rec.CurrentStep, results, rec.Error, time.Now().UTC(), rec.JobID,
	)
	if err != nil {
		return eris.Wrapf(err, "sqlite: update job record %s", rec.JobID)
	}
	return checkRowsAffected(res, rec.JobID)
}

func (s *SQLiteStore) GetJob(ctx context.Context, jobID string) (*model.JobRecord, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, params, status, progress, current_step, results, error, created_at, updated_at
		 FROM jobs WHERE id = ?`,
		jobID,
	)
	rec, err := scanJob(row.Scan)
	if err == sql.ErrNoRows {
		return nil, eris.Wrapf(ErrJobNotFound, "sqlite: %s", jobID)
	}
	return rec, err
}

func (s *SQLiteStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.JobRecord, error) {
	query := `SELECT id, params, status, progress, current_step, results, error, created_at, updated_at
	          FROM jobs WHERE 1=1`
	var args []any

	if filter.Status != "" {
		query += ` AND status = ?`
		args = append(args, string(filter.Status))
	}
	if filter.CategoryID != "" {
		query += ` AND category_id = ?`
		args = append(args, filter.CategoryID)
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += ` LIMIT ?`
	args = append(args, limit)

	if filter.Offset > 0 {
		query += ` OFFSET ?`
		args = append(args, filter.Offset)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: list jobs")
	}
	defer rows.Close()

	var jobs []model.JobRecord
	for rows.Next() {
		rec, err := scanJob(rows.Scan)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, *rec)
	}
	return jobs, eris.Wrap(rows.Err(), "sqlite: list jobs iterate")
}

func (s *SQLiteStore) DeleteExpiredJobs(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM jobs WHERE updated_at < ? AND status IN (?, ?, ?)`,
		cutoff,
		string(model.JobStatusCompleted), string(model.JobStatusFailed), string(model.JobStatusCancelled),
	)
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired jobs")
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, eris.Wrap(err, "sqlite: delete expired rows affected")
	}
	return int(n), nil
}

// scanJob reads one jobs row regardless of whether it came from QueryRow
// or Query.
func scanJob(scan func(dest ...any) error) (*model.JobRecord, error) {
	var rec model.JobRecord
	var paramsJSON, status string
	var resultsJSON sql.NullString

	err := scan(&rec.JobID, &paramsJSON, &status, &rec.Progress, &rec.CurrentStep,
		&resultsJSON, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, err
	}
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: scan job")
	}

	rec.Status = model.JobStatus(status)
	if err := json.Unmarshal([]byte(paramsJSON), &rec.Params); err != nil {
		return nil, eris.Wrap(err, "sqlite: unmarshal params")
	}
	if resultsJSON.Valid {
		if err := unmarshalResults([]byte(resultsJSON.String), &rec); err != nil {
			return nil, err
		}
	}
	return &rec, nil
}

func checkRowsAffected(res sql.Result, jobID string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return eris.Wrap(err, "sqlite: rows affected")
	}
	if n == 0 {
		return eris.Wrapf(ErrJobNotFound, "sqlite: %s", jobID)
	}
	return nil
}
