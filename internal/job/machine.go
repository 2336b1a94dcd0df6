package job

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/speclens/internal/extract"
	"github.com/sells-group/speclens/internal/fetch"
	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/normalize"
	"github.com/sells-group/speclens/internal/store"
	"github.com/sells-group/speclens/internal/triangulate"
)

// Progress checkpoints per stage. Extraction and per-source triangulation
// interpolate linearly within their bands as sources complete.
const (
	progressFetching        = 10
	progressExtractBase     = 20
	progressExtractSpan     = 40 // 20..60
	progressTriangulateBase = 60
	progressTriangulateSpan = 15 // 60..75
	progressConsensus       = 80
	progressDone            = 100
)

// DatasetSource retrieves raw source datasets and the expert payload.
type DatasetSource interface {
	FetchRows(ctx context.Context, spec fetch.DatasetSpec, categoryID string) ([]string, error)
	FetchPayload(ctx context.Context, url, categoryID string) ([]byte, error)
}

// ChunkScheduler fans one source's rows out to the extraction adapter.
type ChunkScheduler interface {
	Schedule(ctx context.Context, sourceID model.SourceID, rows []string) ([]model.NormalizedItem, extract.ChunkStats, error)
}

// ExpertProcessor parses the expert payload into a SourceResult.
type ExpertProcessor interface {
	Process(data []byte) (*model.SourceResult, error)
}

// PipelineConfig wires the collaborators' inputs for every job.
type PipelineConfig struct {
	// Datasets maps each configured non-expert source to its retrieval spec.
	Datasets map[model.SourceID]fetch.DatasetSpec

	// ExpertURL locates the expert payload; may contain {category_id}.
	ExpertURL string

	// SourceWorkers bounds how many sources extract concurrently.
	SourceWorkers int
}

// Pipeline runs one job through the state machine. The pipeline task is
// the record's only writer; every persisted update carries the fields of
// one transition together.
type Pipeline struct {
	store  store.JobStore
	data   DatasetSource
	sched  ChunkScheduler
	expert ExpertProcessor
	policy *normalize.Policy
	cfg    PipelineConfig
}

// NewPipeline assembles a Pipeline.
func NewPipeline(st store.JobStore, data DatasetSource, sched ChunkScheduler, expert ExpertProcessor, policy *normalize.Policy, cfg PipelineConfig) *Pipeline {
	if cfg.SourceWorkers <= 0 {
		cfg.SourceWorkers = 4
	}
	return &Pipeline{store: st, data: data, sched: sched, expert: expert, policy: policy, cfg: cfg}
}

// sources resolves the non-expert channels for a job: the requested subset,
// or every configured channel when the request names none.
func (p *Pipeline) sources(params model.JobParams) []model.SourceID {
	if len(params.Sources) > 0 {
		return params.Sources
	}
	var out []model.SourceID
	for _, src := range model.NonExpertSources {
		if _, ok := p.cfg.Datasets[src]; ok {
			out = append(out, src)
		}
	}
	return out
}

// Run drives rec from created to a terminal state. All failure handling is
// internal; the record always ends terminal unless persistence itself is
// unreachable.
func (p *Pipeline) Run(ctx context.Context, rec *model.JobRecord) {
	log := zap.L().With(
		zap.String("job_id", rec.JobID),
		zap.String("category_id", rec.Params.CategoryID),
	)
	start := time.Now()

	sources := p.sources(rec.Params)
	summary := &model.ProcessingSummary{}
	rec.SourceResults = make(map[model.SourceID]*model.SourceResult)

	// Stage: fetching.
	if !p.advance(ctx, rec, summary, start, model.JobStatusFetching, progressFetching, "fetching source datasets") {
		return
	}

	var expertData []byte
	if p.cfg.ExpertURL != "" {
		summary.SourcesAttempted++
		data, err := p.data.FetchPayload(ctx, p.cfg.ExpertURL, rec.Params.CategoryID)
		if ctx.Err() != nil {
			p.cancelled(rec, summary, start)
			return
		}
		switch {
		case err == nil:
			expertData = data
		case rec.Params.ExpertRequired:
			log.Error("expert payload fetch failed", zap.Error(err))
			p.fail(rec, summary, start, failureMessage(ErrExpertUnavailable, "expert payload could not be fetched"))
			return
		default:
			log.Warn("expert payload fetch failed, continuing without expert source", zap.Error(err))
		}
	} else if rec.Params.ExpertRequired {
		p.fail(rec, summary, start, failureMessage(ErrExpertUnavailable, "no expert payload URL configured"))
		return
	}

	rowsBySource := make(map[model.SourceID][]string, len(sources))
	for _, src := range sources {
		summary.SourcesAttempted++
		spec, ok := p.cfg.Datasets[src]
		if !ok {
			log.Warn("no dataset configured for source", zap.String("source", string(src)))
			continue
		}
		rows, err := p.data.FetchRows(ctx, spec, rec.Params.CategoryID)
		if ctx.Err() != nil {
			p.cancelled(rec, summary, start)
			return
		}
		if err != nil {
			// Degrades the source to absent; the job continues.
			log.Warn("source fetch failed",
				zap.String("source", string(src)),
				zap.Error(err),
			)
			continue
		}
		rowsBySource[src] = rows
	}

	if len(rowsBySource) == 0 && expertData == nil {
		p.fail(rec, summary, start, failureMessage(ErrSourceFetchFailed, "no source dataset could be fetched"))
		return
	}

	// Stage: extracting. One task per source, bounded pool, chunk-level
	// failures absorbed inside the scheduler.
	if !p.advance(ctx, rec, summary, start, model.JobStatusExtracting, progressExtractBase, "extracting specifications") {
		return
	}

	type sourceItems struct {
		items []model.NormalizedItem
		stats extract.ChunkStats
		rows  int
	}
	extracted := make(map[model.SourceID]*sourceItems, len(rowsBySource))

	var mu sync.Mutex
	completed := 0
	total := len(rowsBySource)

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.cfg.SourceWorkers)
	for src, rows := range rowsBySource {
		g.Go(func() error {
			items, stats, err := p.sched.Schedule(gCtx, src, rows)

			mu.Lock()
			defer mu.Unlock()

			summary.ChunksAttempted += stats.Attempted
			summary.ChunksSucceeded += stats.Succeeded
			summary.ChunksFailed += stats.Failed

			if err != nil {
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				// Source-level failure is absorbed; the job continues on
				// the sources that produced items.
				log.Warn("source extraction failed",
					zap.String("source", string(src)),
					zap.Error(err),
				)
			} else {
				extracted[src] = &sourceItems{items: items, stats: stats, rows: len(rows)}
			}

			completed++
			rec.Progress = maxProgress(rec.Progress, progressExtractBase+progressExtractSpan*completed/total)
			if gCtx.Err() == nil {
				if err := p.store.UpdateJobStatus(ctx, rec.JobID, rec.Status, rec.Progress, rec.CurrentStep); err != nil {
					log.Warn("persist job progress", zap.Error(err))
				}
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		p.cancelled(rec, summary, start)
		return
	}

	// Stage: triangulating per source. Sequential dedup over the extracted
	// items; each completed source is persisted so partial artifacts stay
	// visible.
	if !p.advance(ctx, rec, summary, start, model.JobStatusTriangulating, progressTriangulateBase, "deduplicating per-source specifications") {
		return
	}

	if expertData != nil {
		result, err := p.expert.Process(expertData)
		switch {
		case err == nil:
			rec.SourceResults[model.SourcePNS] = result
			summary.ExpertSpecs = len(result.Specs)
		case rec.Params.ExpertRequired:
			log.Error("expert payload unparseable", zap.Error(err))
			p.fail(rec, summary, start, failureMessage(ErrExpertUnavailable, "expert payload could not be parsed"))
			return
		default:
			log.Warn("expert payload unparseable, continuing without expert source", zap.Error(err))
		}
	}

	done := 0
	for _, src := range sources {
		si, ok := extracted[src]
		if !ok {
			continue
		}
		if ctx.Err() != nil {
			p.cancelled(rec, summary, start)
			return
		}

		result := triangulate.Triangulate(src, si.items, p.policy, rec.Params.MinSupport)
		result.RowsProcessed = si.rows
		result.ChunksAttempted = si.stats.Attempted
		result.ChunksFailed = si.stats.Failed
		rec.SourceResults[src] = result

		done++
		rec.Status = model.JobStatusTriangulating
		rec.Progress = maxProgress(rec.Progress, progressTriangulateBase+progressTriangulateSpan*done/len(extracted))
		rec.CurrentStep = "deduplicating " + string(src)
		if err := p.store.UpdateJobRecord(ctx, rec); err != nil {
			log.Warn("persist partial source results", zap.Error(err))
		}
	}

	summary.SourcesSucceeded = len(rec.SourceResults)
	if len(rec.SourceResults) == 0 {
		p.fail(rec, summary, start, failureMessage(ErrSourceExtractFailed, "no source produced any specifications"))
		return
	}

	// Stage: consensus. Runs only after every source task is terminal.
	if !p.advance(ctx, rec, summary, start, model.JobStatusConsensus, progressConsensus, "computing cross-source consensus") {
		return
	}

	rows, err := triangulate.Consensus(rec.SourceResults, triangulate.ConsensusOptions{
		ExpertPresenceRequired: rec.Params.ExpertRequired,
		NonExpertSources:       sources,
	})
	if err != nil {
		log.Error("consensus computation failed", zap.Error(err))
		p.fail(rec, summary, start, failureMessage(ErrConsensusComputation, "consensus computation failed"))
		return
	}

	summary.ConsensusSpecs = len(rows)
	summary.ElapsedSeconds = time.Since(start).Seconds()

	// Terminal write: consensus, summary and progress land together.
	rec.Status = model.JobStatusCompleted
	rec.Progress = progressDone
	rec.CurrentStep = ""
	rec.Consensus = rows
	rec.Summary = summary
	if err := p.store.UpdateJobRecord(ctx, rec); err != nil {
		log.Error("persist completed job", zap.Error(err))
		return
	}

	log.Info("job completed",
		zap.Int("sources_succeeded", summary.SourcesSucceeded),
		zap.Int("consensus_specs", summary.ConsensusSpecs),
		zap.Float64("elapsed_seconds", summary.ElapsedSeconds),
	)
}

// advance moves the record to the given stage unless the job was
// cancelled. Progress never goes backwards. Returns false when the run
// must stop.
func (p *Pipeline) advance(ctx context.Context, rec *model.JobRecord, summary *model.ProcessingSummary, start time.Time, status model.JobStatus, progress int, step string) bool {
	if ctx.Err() != nil {
		p.cancelled(rec, summary, start)
		return false
	}

	rec.Status = status
	rec.Progress = maxProgress(rec.Progress, progress)
	rec.CurrentStep = step
	if err := p.store.UpdateJobStatus(ctx, rec.JobID, rec.Status, rec.Progress, rec.CurrentStep); err != nil {
		zap.L().Warn("persist job status",
			zap.String("job_id", rec.JobID),
			zap.String("status", string(status)),
			zap.Error(err),
		)
	}
	return true
}

// fail writes the failed terminal state, keeping progress and any partial
// artifacts already attached to the record.
func (p *Pipeline) fail(rec *model.JobRecord, summary *model.ProcessingSummary, start time.Time, message string) {
	if summary != nil {
		summary.SourcesSucceeded = len(rec.SourceResults)
		summary.ElapsedSeconds = time.Since(start).Seconds()
		rec.Summary = summary
	}
	rec.Status = model.JobStatusFailed
	rec.CurrentStep = ""
	rec.Error = message

	// Terminal writes must land even when the job context is gone.
	if err := p.store.UpdateJobRecord(context.Background(), rec); err != nil {
		zap.L().Error("persist failed job", zap.String("job_id", rec.JobID), zap.Error(err))
	}
}

// cancelled writes the cancelled terminal state at a safe checkpoint,
// keeping computed source results.
func (p *Pipeline) cancelled(rec *model.JobRecord, summary *model.ProcessingSummary, start time.Time) {
	if summary != nil {
		summary.SourcesSucceeded = len(rec.SourceResults)
		summary.ElapsedSeconds = time.Since(start).Seconds()
		rec.Summary = summary
	}
	rec.Status = model.JobStatusCancelled
	rec.CurrentStep = ""

	if err := p.store.UpdateJobRecord(context.Background(), rec); err != nil {
		zap.L().Error("persist cancelled job", zap.String("job_id", rec.JobID), zap.Error(err))
	}
	zap.L().Info("job cancelled", zap.String("job_id", rec.JobID))
}

func maxProgress(cur, next int) int {
	if next > cur {
		return next
	}
	return cur
}
