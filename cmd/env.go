package main

import (
	"context"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speclens/internal/extract"
	"github.com/sells-group/speclens/internal/fetch"
	"github.com/sells-group/speclens/internal/job"
	"github.com/sells-group/speclens/internal/normalize"
	"github.com/sells-group/speclens/internal/pns"
	"github.com/sells-group/speclens/internal/store"
)

// analysisEnv holds the initialized store, pipeline and orchestrator
// needed by the serve/analyze/jobs commands.
type analysisEnv struct {
	Store        store.JobStore
	Pipeline     *job.Pipeline
	Orchestrator *job.Orchestrator
	Sweeper      *job.Sweeper
}

// Close releases resources held by the environment.
func (e *analysisEnv) Close() {
	if e.Store != nil {
		_ = e.Store.Close()
	}
}

func initStore(ctx context.Context) (store.JobStore, error) {
	switch cfg.Store.Driver {
	case "sqlite":
		dsn := cfg.Store.DatabaseURL
		if dsn == "" {
			dsn = "speclens.db"
		}
		return store.NewSQLite(dsn)
	case "postgres":
		return store.NewPostgres(ctx, cfg.Store.DatabaseURL, &store.PoolConfig{
			MaxConns: int32(cfg.Store.MaxConns),
		})
	default:
		return nil, eris.Errorf("unsupported store driver: %s", cfg.Store.Driver)
	}
}

// initEnv sets up the store, the dataset fetchers, the extraction adapter
// and the job machinery. Callers should defer env.Close().
func initEnv(ctx context.Context) (*analysisEnv, error) {
	if cfg.Anthropic.Key == "" {
		return nil, eris.New("anthropic API key is required (SPECLENS_ANTHROPIC_KEY)")
	}

	st, err := initStore(ctx)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, eris.Wrap(err, "migrate store")
	}

	var policy *normalize.Policy
	if cfg.Normalize.SynonymFile != "" {
		policy, err = normalize.LoadPolicy(cfg.Normalize.SynonymFile)
		if err != nil {
			_ = st.Close()
			return nil, err
		}
		zap.L().Info("synonym policy loaded", zap.String("version", policy.Version()))
	}

	httpDL := fetch.NewHTTPFetcher(fetch.HTTPOptions{
		UserAgent:         cfg.Fetch.UserAgent,
		Timeout:           time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
		MaxRetries:        cfg.Fetch.MaxRetries,
		RequestsPerSecond: cfg.Fetch.RequestsPerSecond,
	})
	ftpDL := fetch.NewFTPFetcher(fetch.FTPOptions{
		Timeout: time.Duration(cfg.Fetch.TimeoutSecs) * time.Second,
	})
	datasets := fetch.NewDatasetFetcher(httpDL, ftpDL)

	extractor := extract.NewLLMExtractor(
		extract.NewMessageClient(cfg.Anthropic.Key),
		extract.LLMConfig{
			Model:             cfg.Anthropic.Model,
			MaxTokens:         int64(cfg.Anthropic.MaxTokens),
			RequestsPerSecond: cfg.Extraction.RequestsPerSecond,
			Burst:             cfg.Extraction.Burst,
		},
		policy,
	)
	scheduler := extract.NewScheduler(extractor, extract.SchedulerConfig{
		Chunker: extract.ChunkerConfig{
			MinRows: cfg.Extraction.ChunkMinRows,
			MaxRows: cfg.Extraction.ChunkMaxRows,
		},
		Workers:      cfg.Extraction.Workers,
		ChunkTimeout: time.Duration(cfg.Extraction.ChunkTimeoutSecs) * time.Second,
	})

	pipeline := job.NewPipeline(st, datasets, scheduler, pns.NewProcessor(policy, pns.DefaultTopSpecs), policy, job.PipelineConfig{
		Datasets:      cfg.Sources.DatasetMap(),
		ExpertURL:     cfg.Sources.ExpertURL,
		SourceWorkers: cfg.Jobs.SourceWorkers,
	})

	orchestrator := job.NewOrchestrator(st, pipeline, job.OrchestratorConfig{
		MaxConcurrentJobs: cfg.Jobs.MaxConcurrent,
		QueueCapacity:     cfg.Jobs.QueueCapacity,
	})

	return &analysisEnv{
		Store:        st,
		Pipeline:     pipeline,
		Orchestrator: orchestrator,
		Sweeper:      job.NewSweeper(st, cfg.Jobs.Retention(), time.Hour),
	}, nil
}
