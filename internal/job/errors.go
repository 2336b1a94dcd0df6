// Package job owns the analysis job lifecycle: the per-job pipeline state
// machine and the orchestrator that schedules jobs under a global
// concurrency limit.
package job

import (
	"github.com/rotisserie/eris"

	"github.com/sells-group/speclens/internal/model"
)

// Sentinel errors forming the job failure taxonomy. The JobRecord.Error
// field carries one of these codes plus a human-readable cause; the eris
// chain stays in the logs.
var (
	ErrInvalidParameters    = eris.New("invalid_job_parameters")
	ErrSourceFetchFailed    = eris.New("source_fetch_failed")
	ErrSourceExtractFailed  = eris.New("source_extraction_failed")
	ErrExpertUnavailable    = eris.New("expert_source_unavailable")
	ErrConsensusComputation = eris.New("consensus_computation_error")
	ErrQueueFull            = eris.New("job queue full")
)

// validateParams rejects malformed submissions before a record is created.
func validateParams(params model.JobParams) error {
	if params.CategoryID == "" {
		return eris.Wrap(ErrInvalidParameters, "category_id is required")
	}
	if params.MinSupport < 0 {
		return eris.Wrap(ErrInvalidParameters, "min_support must be >= 0")
	}
	for _, src := range params.Sources {
		if !src.Valid() {
			return eris.Wrapf(ErrInvalidParameters, "unknown source %q", src)
		}
		if src.IsExpert() {
			return eris.Wrap(ErrInvalidParameters, "pns is implicit and cannot be listed as a source")
		}
	}
	return nil
}

// failureMessage renders the terminal Error field: taxonomy code plus
// cause, without the internal wrap chain.
func failureMessage(code error, cause string) string {
	return code.Error() + ": " + cause
}
