// Package store persists job records in SQLite or Postgres behind a
// common interface.
package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"

	"github.com/sells-group/speclens/internal/model"
)

// ErrJobNotFound reports a lookup of a job ID the store has never seen.
var ErrJobNotFound = eris.New("store: job not found")

// JobFilter specifies criteria for listing jobs.
type JobFilter struct {
	Status     model.JobStatus `json:"status,omitempty"`
	CategoryID string          `json:"category_id,omitempty"`
	Limit      int             `json:"limit,omitempty"`
	Offset     int             `json:"offset,omitempty"`
}

// JobStore defines the persistence interface for analysis jobs. The full
// record is written as one row so that readers always observe the fields
// of a single transition together.
type JobStore interface {
	CreateJob(ctx context.Context, params model.JobParams) (*model.JobRecord, error)
	UpdateJobStatus(ctx context.Context, jobID string, status model.JobStatus, progress int, currentStep string) error
	UpdateJobRecord(ctx context.Context, rec *model.JobRecord) error
	GetJob(ctx context.Context, jobID string) (*model.JobRecord, error)
	ListJobs(ctx context.Context, filter JobFilter) ([]model.JobRecord, error)
	DeleteExpiredJobs(ctx context.Context, retention time.Duration) (int, error)

	Migrate(ctx context.Context) error
	Close() error
}

// jobResults is the JSON shape of the results column: everything the
// pipeline produces beyond status bookkeeping.
type jobResults struct {
	SourceResults map[model.SourceID]*model.SourceResult `json:"source_results,omitempty"`
	Consensus     []model.ConsensusRow                   `json:"consensus,omitempty"`
	Summary       *model.ProcessingSummary               `json:"processing_summary,omitempty"`
}

func marshalResults(rec *model.JobRecord) ([]byte, error) {
	if rec.SourceResults == nil && rec.Consensus == nil && rec.Summary == nil {
		return nil, nil
	}
	data, err := json.Marshal(jobResults{
		SourceResults: rec.SourceResults,
		Consensus:     rec.Consensus,
		Summary:       rec.Summary,
	})
	return data, eris.Wrap(err, "store: marshal results")
}

func unmarshalResults(data []byte, rec *model.JobRecord) error {
	if len(data) == 0 {
		return nil
	}
	var res jobResults
	if err := json.Unmarshal(data, &res); err != nil {
		return eris.Wrap(err, "store: unmarshal results")
	}
	rec.SourceResults = res.SourceResults
	rec.Consensus = res.Consensus
	rec.Summary = res.Summary
	return nil
}
