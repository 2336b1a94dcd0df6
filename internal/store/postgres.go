package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/speclens/internal/db"
	"github.com/sells-group/speclens/internal/model"
)

// PostgresStore implements JobStore using pgxpool.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// preparedStatements lists queries to prepare on each new connection for
// faster execution of the most frequently used store operations.
var preparedStatements = map[string]string{
	"insert_job":        `INSERT INTO jobs (id, category_id, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
	"update_job_status": `UPDATE jobs SET status = $1, progress = $2, current_step = $3, updated_at = $4 WHERE id = $5`,
	"update_job_record": `UPDATE jobs SET status = $1, progress = $2, current_step = $3, results = $4, error = $5, updated_at = $6 WHERE id = $7`,
	"get_job":           `SELECT id, params, status, progress, current_step, results, error, created_at, updated_at FROM jobs WHERE id = $1`,
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	// Apply pool sizing from config with sensible defaults.
	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns
	pgxCfg.MaxConnLifetime = 30 * time.Minute
	pgxCfg.MaxConnIdleTime = 5 * time.Minute

	// Prepare frequently-used statements on each new connection.
	pgxCfg.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		for name, sql := range preparedStatements {
			if _, err := conn.Prepare(ctx, name, sql); err != nil {
				return eris.Wrapf(err, "postgres: prepare %s", name)
			}
		}
		return nil
	}

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: create pool")
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, eris.Wrap(err, "postgres: ping")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// Pool returns the underlying database pool for subsystems that need
// direct query access.
func (s *PostgresStore) Pool() db.Pool {
	return s.pool
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS jobs (
	id           TEXT PRIMARY KEY DEFAULT gen_random_uuid()::text,
	category_id  TEXT NOT NULL,
	params       JSONB NOT NULL,
	status       TEXT NOT NULL DEFAULT 'created',
	progress     INTEGER NOT NULL DEFAULT 0,
	current_step TEXT NOT NULL DEFAULT '',
	results      JSONB,
	error        TEXT NOT NULL DEFAULT '',
	created_at   TIMESTAMPTZ NOT NULL DEFAULT now(),
	updated_at   TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON jobs(status);
CREATE INDEX IF NOT EXISTS idx_jobs_category ON jobs(category_id);
CREATE INDEX IF NOT EXISTS idx_jobs_updated_at ON jobs(updated_at);

CREATE TABLE IF NOT EXISTS consensus_rows (
	job_id          TEXT NOT NULL REFERENCES jobs(id) ON DELETE CASCADE,
	rank            INTEGER NOT NULL,
	attribute       TEXT NOT NULL,
	options         JSONB NOT NULL,
	agreement_score INTEGER NOT NULL,
	total_frequency INTEGER NOT NULL,
	presence        JSONB NOT NULL,
	PRIMARY KEY (job_id, rank)
);

CREATE INDEX IF NOT EXISTS idx_consensus_rows_attribute ON consensus_rows(attribute);
`

func (s *PostgresStore) Ping(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, "SELECT 1")
	return eris.Wrap(err, "postgres: ping")
}

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) CreateJob(ctx context.Context, params model.JobParams) (*model.JobRecord, error) {
	id := uuid.New().String()
	now := time.Now().UTC()

	paramsJSON, err := json.Marshal(params)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: marshal params")
	}

	_, err = s.pool.Exec(ctx,
		`INSERT INTO jobs (id, category_id, params, status, created_at, updated_at) VALUES ($1, $2, $3, $4, $5, $6)`,
		id, params.CategoryID, paramsJSON, string(model.JobStatusCreated), now, now,
	)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: insert job")
	}

	return &model.JobRecord{
		JobID:     id,
		Params:    params,
		Status:    model.JobStatusCreated,
		CreatedAt: now,
		UpdatedAt: now,
	}, nil
}

func (s *PostgresStore) UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, progress int, currentStep string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, progress = $2, current_step = $3, updated_at = $4 WHERE id = $5`,
		string(status), progress, currentStep, time.Now().UTC(), jobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job status %s", jobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrJobNotFound, "postgres: %s", jobID)
	}
	return nil
}

func (s *PostgresStore) UpdateJobRecord(ctx context.Context, rec *model.JobRecord) error {
	resultsJSON, err := marshalResults(rec)
	if err != nil {
		return err
	}

	tag, err := s.pool.Exec(ctx,
		`UPDATE jobs SET status = $1, progress = $2, current_step = $3, results = $4, error = $5, updated_at = $6 WHERE id = $7`,
		string(rec.Status), rec.Progress, rec.CurrentStep, resultsJSON, rec.Error, time.Now().UTC(), rec.JobID,
	)
	if err != nil {
		return eris.Wrapf(err, "postgres: update job record %s", rec.JobID)
	}
	if tag.RowsAffected() == 0 {
		return eris.Wrapf(ErrJobNotFound, "postgres: %s", rec.JobID)
	}

	if len(rec.Consensus) > 0 {
		if err := s.upsertConsensusRows(ctx, rec.JobID, rec.Consensus); err != nil {
			return err
		}
	}
	return nil
}

// upsertConsensusRows mirrors the final ranking into a relational table so
// attributes can be queried across jobs without unpacking the results blob.
func (s *PostgresStore) upsertConsensusRows(ctx context.Context, jobID string, rows []model.ConsensusRow) error {
	columns := []string{"job_id", "rank", "attribute", "options", "agreement_score", "total_frequency", "presence"}
	data := make([][]any, 0, len(rows))
	for _, r := range rows {
		optionsJSON, err := json.Marshal(r.Options)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal options")
		}
		presenceJSON, err := json.Marshal(r.Presence)
		if err != nil {
			return eris.Wrap(err, "postgres: marshal presence")
		}
		data = append(data, []any{jobID, r.Rank, r.Attribute, optionsJSON, r.AgreementScore, r.TotalFrequency, presenceJSON})
	}

	_, err := db.BulkUpsert(ctx, s.pool, db.UpsertConfig{
		Table:        "consensus_rows",
		Columns:      columns,
		ConflictKeys: []string{"job_id", "rank"},
	}, data)
	return err
}

func (s *PostgresStore) GetJob(ctx context.Context, jobID string) (*model.JobRecord, error) {
	var rec model.JobRecord
	var paramsJSON []byte
	var status string
	var resultsJSON []byte

	err := s.pool.QueryRow(ctx,
		`SELECT id, params, status, progress, current_step, results, error, created_at, updated_at FROM jobs WHERE id = $1`,
		jobID,
	).Scan(&rec.JobID, &paramsJSON, &status, &rec.Progress, &rec.CurrentStep,
		&resultsJSON, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, eris.Wrapf(ErrJobNotFound, "postgres: %s", jobID)
		}
		return nil, eris.Wrapf(err, "postgres: get job %s", jobID)
	}

	rec.Status = model.JobStatus(status)
	if err := json.Unmarshal(paramsJSON, &rec.Params); err != nil {
		return nil, eris.Wrap(err, "postgres: unmarshal params")
	}
	if err := unmarshalResults(resultsJSON, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *PostgresStore) ListJobs(ctx context.Context, filter JobFilter) ([]model.JobRecord, error) {
	query := `SELECT id, params, status, progress, current_step, results, error, created_at, updated_at FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, string(filter.Status))
		argIdx++
	}
	if filter.CategoryID != "" {
		query += fmt.Sprintf(` AND category_id = $%d`, argIdx)
		args = append(args, filter.CategoryID)
		argIdx++
	}
	query += ` ORDER BY created_at DESC`

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit)
	argIdx++

	if filter.Offset > 0 {
		query += fmt.Sprintf(` OFFSET $%d`, argIdx)
		args = append(args, filter.Offset)
		argIdx++
	}

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: list jobs")
	}
	defer rows.Close()

	var jobs []model.JobRecord
	for rows.Next() {
		var rec model.JobRecord
		var paramsJSON []byte
		var status string
		var resultsJSON []byte

		if err := rows.Scan(&rec.JobID, &paramsJSON, &status, &rec.Progress, &rec.CurrentStep,
			&resultsJSON, &rec.Error, &rec.CreatedAt, &rec.UpdatedAt); err != nil {
			return nil, eris.Wrap(err, "postgres: scan job")
		}
		rec.Status = model.JobStatus(status)
		if err := json.Unmarshal(paramsJSON, &rec.Params); err != nil {
			return nil, eris.Wrap(err, "postgres: unmarshal params")
		}
		if err := unmarshalResults(resultsJSON, &rec); err != nil {
			return nil, err
		}
		jobs = append(jobs, rec)
	}
	return jobs, eris.Wrap(rows.Err(), "postgres: list jobs iterate")
}

func (s *PostgresStore) DeleteExpiredJobs(ctx context.Context, retention time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-retention)
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM jobs WHERE updated_at < $1 AND status IN ($2, $3, $4)`,
		cutoff,
		string(model.JobStatusCompleted), string(model.JobStatusFailed), string(model.JobStatusCancelled),
	)
	if err != nil {
		return 0, eris.Wrap(err, "postgres: delete expired jobs")
	}
	return int(tag.RowsAffected()), nil
}
