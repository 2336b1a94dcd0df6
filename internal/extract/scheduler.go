package extract

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/resilience"
)

// ErrNoChunksSucceeded reports that every chunk of a source failed
// extraction. The source is failed; the job is not.
var ErrNoChunksSucceeded = eris.New("extract: no chunks succeeded")

// Extractor is the text-understanding collaborator. Given one chunk of raw
// source data it returns normalized (attribute, option) observations. It
// may fail per chunk; it is deterministic enough to dedupe but not
// idempotent byte-for-byte.
type Extractor interface {
	Extract(ctx context.Context, sourceID model.SourceID, chunk Chunk) ([]model.NormalizedItem, error)
}

// SchedulerConfig tunes the per-source extraction fan-out.
type SchedulerConfig struct {
	Chunker ChunkerConfig

	// Workers bounds concurrent extraction calls for one source within
	// one job. Pools are independent across jobs and sources.
	Workers int

	// ChunkTimeout bounds each extraction call. A timed-out call counts
	// as that chunk's failure, subject to the single-retry policy.
	ChunkTimeout time.Duration

	// RetryBackoff is the pause before a failed chunk's single retry.
	RetryBackoff time.Duration
}

// DefaultSchedulerConfig returns the per-job defaults.
func DefaultSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Chunker:      DefaultChunkerConfig(),
		Workers:      4,
		ChunkTimeout: 30 * time.Second,
		RetryBackoff: time.Second,
	}
}

// ChunkStats records the partial-failure outcome of one source's fan-out.
type ChunkStats struct {
	Attempted int
	Succeeded int
	Failed    int
}

// Scheduler fans extraction calls out over a bounded worker pool and
// aggregates partial results. Aggregation is order-independent; chunk
// completion order is nondeterministic under concurrency.
type Scheduler struct {
	extractor Extractor
	cfg       SchedulerConfig
}

// NewScheduler creates a Scheduler around the given extraction adapter.
func NewScheduler(extractor Extractor, cfg SchedulerConfig) *Scheduler {
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.ChunkTimeout <= 0 {
		cfg.ChunkTimeout = 30 * time.Second
	}
	if cfg.RetryBackoff <= 0 {
		cfg.RetryBackoff = time.Second
	}
	return &Scheduler{extractor: extractor, cfg: cfg}
}

// Schedule splits the dataset, extracts every chunk with bounded
// concurrency, and returns the combined items. A chunk that fails its
// initial call and its single retry is recorded and skipped; the source is
// produced from the chunks that succeeded. Zero successes returns
// ErrNoChunksSucceeded.
func (s *Scheduler) Schedule(ctx context.Context, sourceID model.SourceID, rows []string) ([]model.NormalizedItem, ChunkStats, error) {
	chunks := BuildChunks(rows, s.cfg.Chunker)
	stats := ChunkStats{Attempted: len(chunks)}
	if len(chunks) == 0 {
		return nil, stats, nil
	}

	log := zap.L().With(zap.String("source", string(sourceID)))
	log.Info("extract: scheduling chunks",
		zap.Int("rows", len(rows)),
		zap.Int("chunks", len(chunks)),
		zap.Int("workers", s.cfg.Workers),
	)

	perChunk := make([][]model.NormalizedItem, len(chunks))
	failed := make([]bool, len(chunks))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for i, chunk := range chunks {
		g.Go(func() error {
			// Cancellation checkpoint between chunks.
			if gCtx.Err() != nil {
				failed[i] = true
				return gCtx.Err()
			}

			retry := resilience.SingleRetry(s.cfg.RetryBackoff)
			retry.OnRetry = func(attempt int, err error) {
				log.Warn("extract: chunk failed, retrying once",
					zap.Int("chunk", chunk.Index),
					zap.Error(err),
				)
			}

			items, err := resilience.DoVal(gCtx, retry, func(ctx context.Context) ([]model.NormalizedItem, error) {
				callCtx, cancel := context.WithTimeout(ctx, s.cfg.ChunkTimeout)
				defer cancel()
				return s.extractor.Extract(callCtx, sourceID, chunk)
			})
			if err != nil {
				// Chunk-level failure is absorbed; remaining chunks
				// still produce the source.
				failed[i] = true
				if gCtx.Err() != nil {
					return gCtx.Err()
				}
				log.Warn("extract: chunk failed after retry, skipping",
					zap.Int("chunk", chunk.Index),
					zap.Int("chunk_rows", len(chunk.Rows)),
					zap.Error(err),
				)
				return nil
			}

			perChunk[i] = items
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, stats, eris.Wrapf(err, "extract: %s cancelled", sourceID)
	}

	var items []model.NormalizedItem
	for i := range chunks {
		if failed[i] {
			stats.Failed++
			continue
		}
		stats.Succeeded++
		items = append(items, perChunk[i]...)
	}

	if stats.Succeeded == 0 {
		return nil, stats, eris.Wrapf(ErrNoChunksSucceeded, "extract: source %s", sourceID)
	}

	log.Info("extract: source complete",
		zap.Int("chunks_succeeded", stats.Succeeded),
		zap.Int("chunks_failed", stats.Failed),
		zap.Int("items", len(items)),
	)
	return items, stats, nil
}
