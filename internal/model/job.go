package model

import "time"

// JobStatus represents the current state of an analysis job.
type JobStatus string

const (
	JobStatusCreated       JobStatus = "created"
	JobStatusFetching      JobStatus = "fetching"
	JobStatusExtracting    JobStatus = "extracting"
	JobStatusTriangulating JobStatus = "triangulating_per_source"
	JobStatusConsensus     JobStatus = "consensus"
	JobStatusCompleted     JobStatus = "completed"
	JobStatusFailed        JobStatus = "failed"
	JobStatusCancelled     JobStatus = "cancelled"
)

// Terminal reports whether the status admits no further transitions.
func (s JobStatus) Terminal() bool {
	switch s {
	case JobStatusCompleted, JobStatusFailed, JobStatusCancelled:
		return true
	}
	return false
}

// JobParams are the caller-supplied inputs for one analysis job.
type JobParams struct {
	// CategoryID identifies the product category under analysis (the
	// key used to fetch the expert payload and source datasets).
	CategoryID string `json:"category_id"`

	// Sources selects the non-expert channels to analyze. Empty means
	// all configured channels.
	Sources []SourceID `json:"sources,omitempty"`

	// ExpertRequired enables two-stage validation: attributes missing
	// from the expert source are dropped from the final consensus.
	ExpertRequired bool `json:"expert_required"`

	// MinSupport drops (attribute, option) groups below this frequency
	// during intra-source triangulation. Zero or one disables filtering.
	// Never applied to the expert source.
	MinSupport int `json:"min_support,omitempty"`
}

// ProcessingSummary records attempted-vs-succeeded counts and stage outputs
// for one job. Recoverable errors are absorbed here rather than failing the
// job.
type ProcessingSummary struct {
	SourcesAttempted int     `json:"sources_attempted"`
	SourcesSucceeded int     `json:"sources_succeeded"`
	ChunksAttempted  int     `json:"chunks_attempted"`
	ChunksSucceeded  int     `json:"chunks_succeeded"`
	ChunksFailed     int     `json:"chunks_failed"`
	ExpertSpecs      int     `json:"expert_specs"`
	ConsensusSpecs   int     `json:"consensus_specs"`
	ElapsedSeconds   float64 `json:"elapsed_seconds"`
}

// JobRecord is the durable record for one analysis job. It is mutated only
// by the job's own task; readers always see the fields of a single
// transition applied together.
type JobRecord struct {
	JobID       string    `json:"job_id"`
	Params      JobParams `json:"params"`
	Status      JobStatus `json:"status"`
	Progress    int       `json:"progress"`
	CurrentStep string    `json:"current_step"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`

	// SourceResults holds the per-source deduplicated spec lists.
	// A source absent from the map was fetch-failed, extraction-failed,
	// or not configured; consensus treats it as presence=false everywhere.
	SourceResults map[SourceID]*SourceResult `json:"source_results,omitempty"`

	Consensus []ConsensusRow     `json:"consensus,omitempty"`
	Summary   *ProcessingSummary `json:"processing_summary,omitempty"`

	// Error carries one taxonomy code plus a human-readable cause when
	// Status is failed. Never a raw internal stack.
	Error string `json:"error,omitempty"`
}
