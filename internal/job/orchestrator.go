package job

import (
	"context"
	"sync"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/store"
)

// Runner executes one job to a terminal state.
type Runner interface {
	Run(ctx context.Context, rec *model.JobRecord)
}

// OrchestratorConfig tunes global job scheduling.
type OrchestratorConfig struct {
	// MaxConcurrentJobs bounds how many jobs run at once. Submissions
	// beyond the limit queue FIFO and stay in created until a slot frees.
	MaxConcurrentJobs int

	// QueueCapacity bounds the FIFO backlog. A full queue rejects the
	// submission.
	QueueCapacity int
}

// DefaultOrchestratorConfig returns the scheduling defaults.
func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxConcurrentJobs: 10,
		QueueCapacity:     256,
	}
}

// Orchestrator accepts job submissions, runs them under the global
// concurrency limit, and answers snapshot reads from the store.
type Orchestrator struct {
	store  store.JobStore
	runner Runner
	cfg    OrchestratorConfig

	queue chan string
	wg    sync.WaitGroup

	mu      sync.Mutex
	running map[string]context.CancelFunc
}

// NewOrchestrator creates an Orchestrator. Call Start before Submit.
func NewOrchestrator(st store.JobStore, runner Runner, cfg OrchestratorConfig) *Orchestrator {
	if cfg.MaxConcurrentJobs <= 0 {
		cfg.MaxConcurrentJobs = DefaultOrchestratorConfig().MaxConcurrentJobs
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = DefaultOrchestratorConfig().QueueCapacity
	}
	return &Orchestrator{
		store:   st,
		runner:  runner,
		cfg:     cfg,
		queue:   make(chan string, cfg.QueueCapacity),
		running: make(map[string]context.CancelFunc),
	}
}

// Start launches the worker pool. Workers exit when ctx is cancelled; Wait
// blocks until they have drained.
func (o *Orchestrator) Start(ctx context.Context) {
	for range o.cfg.MaxConcurrentJobs {
		o.wg.Add(1)
		go func() {
			defer o.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case jobID := <-o.queue:
					o.runJob(ctx, jobID)
				}
			}
		}()
	}
	zap.L().Info("orchestrator started",
		zap.Int("max_concurrent_jobs", o.cfg.MaxConcurrentJobs),
		zap.Int("queue_capacity", o.cfg.QueueCapacity),
	)
}

// Wait blocks until every worker has exited. Valid after the Start context
// is cancelled.
func (o *Orchestrator) Wait() {
	o.wg.Wait()
}

func (o *Orchestrator) runJob(ctx context.Context, jobID string) {
	rec, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		zap.L().Error("dequeue job", zap.String("job_id", jobID), zap.Error(err))
		return
	}
	// Cancelled while still queued.
	if rec.Status.Terminal() {
		return
	}

	jobCtx, cancel := context.WithCancel(ctx)
	o.mu.Lock()
	o.running[jobID] = cancel
	o.mu.Unlock()

	defer func() {
		cancel()
		o.mu.Lock()
		delete(o.running, jobID)
		o.mu.Unlock()
	}()

	o.runner.Run(jobCtx, rec)
}

// Submit validates the parameters, durably creates the job, and enqueues
// it. The returned record is in created; processing is asynchronous.
func (o *Orchestrator) Submit(ctx context.Context, params model.JobParams) (*model.JobRecord, error) {
	if err := validateParams(params); err != nil {
		return nil, err
	}

	rec, err := o.store.CreateJob(ctx, params)
	if err != nil {
		return nil, eris.Wrap(err, "job: create")
	}

	select {
	case o.queue <- rec.JobID:
	default:
		rec.Status = model.JobStatusFailed
		rec.Error = failureMessage(ErrQueueFull, "submission rejected")
		if upErr := o.store.UpdateJobRecord(ctx, rec); upErr != nil {
			zap.L().Error("persist rejected job", zap.String("job_id", rec.JobID), zap.Error(upErr))
		}
		return nil, eris.Wrapf(ErrQueueFull, "job %s", rec.JobID)
	}

	zap.L().Info("job submitted",
		zap.String("job_id", rec.JobID),
		zap.String("category_id", params.CategoryID),
	)
	return rec, nil
}

// Status returns a snapshot of the job record. The snapshot never shows a
// transition half-applied.
func (o *Orchestrator) Status(ctx context.Context, jobID string) (*model.JobRecord, error) {
	return o.store.GetJob(ctx, jobID)
}

// Results returns the job record including per-source results, consensus
// rows and the processing summary. Partial artifacts are returned for
// failed and cancelled jobs too.
func (o *Orchestrator) Results(ctx context.Context, jobID string) (*model.JobRecord, error) {
	return o.store.GetJob(ctx, jobID)
}

// List returns job records matching the filter.
func (o *Orchestrator) List(ctx context.Context, filter store.JobFilter) ([]model.JobRecord, error) {
	return o.store.ListJobs(ctx, filter)
}

// Cancel requests cooperative cancellation. A running job stops at its
// next checkpoint; a queued job is marked cancelled immediately; a
// terminal job is left untouched.
func (o *Orchestrator) Cancel(ctx context.Context, jobID string) error {
	o.mu.Lock()
	cancel, isRunning := o.running[jobID]
	o.mu.Unlock()

	if isRunning {
		cancel()
		zap.L().Info("job cancellation requested", zap.String("job_id", jobID))
		return nil
	}

	rec, err := o.store.GetJob(ctx, jobID)
	if err != nil {
		return err
	}
	if rec.Status.Terminal() {
		return nil
	}

	if err := o.store.UpdateJobStatus(ctx, jobID, model.JobStatusCancelled, rec.Progress, ""); err != nil {
		return eris.Wrapf(err, "job: cancel %s", jobID)
	}
	zap.L().Info("queued job cancelled", zap.String("job_id", jobID))
	return nil
}
