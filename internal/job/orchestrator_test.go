package job

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/speclens/internal/model"
	"github.com/sells-group/speclens/internal/store"
)

// completingRunner marks every job completed as soon as it runs.
type completingRunner struct {
	store store.JobStore
}

func (r *completingRunner) Run(ctx context.Context, rec *model.JobRecord) {
	_ = r.store.UpdateJobStatus(ctx, rec.JobID, model.JobStatusCompleted, 100, "")
}

// blockingRunner parks each job until its context is cancelled, then
// persists the cancelled state the way the pipeline does.
type blockingRunner struct {
	store   store.JobStore
	started chan string
}

func (r *blockingRunner) Run(ctx context.Context, rec *model.JobRecord) {
	r.started <- rec.JobID
	<-ctx.Done()
	_ = r.store.UpdateJobStatus(context.Background(), rec.JobID, model.JobStatusCancelled, rec.Progress, "")
}

func waitForStatus(t *testing.T, st store.JobStore, jobID string, want model.JobStatus) *model.JobRecord {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		rec, err := st.GetJob(context.Background(), jobID)
		require.NoError(t, err)
		if rec.Status == want {
			return rec
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("job %s never reached status %s", jobID, want)
	return nil
}

func TestOrchestrator_SubmitRejectsInvalidParams(t *testing.T) {
	st := newTestStore(t)
	o := NewOrchestrator(st, &completingRunner{store: st}, DefaultOrchestratorConfig())

	_, err := o.Submit(context.Background(), model.JobParams{})
	require.ErrorIs(t, err, ErrInvalidParameters)

	_, err = o.Submit(context.Background(), model.JobParams{CategoryID: "x", MinSupport: -1})
	require.ErrorIs(t, err, ErrInvalidParameters)

	_, err = o.Submit(context.Background(), model.JobParams{
		CategoryID: "x",
		Sources:    []model.SourceID{model.SourcePNS},
	})
	require.ErrorIs(t, err, ErrInvalidParameters)

	jobs, err := o.List(context.Background(), store.JobFilter{})
	require.NoError(t, err)
	assert.Empty(t, jobs)
}

func TestOrchestrator_SubmitAndRun(t *testing.T) {
	st := newTestStore(t)
	o := NewOrchestrator(st, &completingRunner{store: st}, DefaultOrchestratorConfig())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	rec, err := o.Submit(ctx, model.JobParams{CategoryID: "flour-mill"})
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCreated, rec.Status)

	done := waitForStatus(t, st, rec.JobID, model.JobStatusCompleted)
	assert.Equal(t, 100, done.Progress)

	got, err := o.Results(ctx, rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCompleted, got.Status)

	cancel()
	o.Wait()
}

func TestOrchestrator_QueueFull(t *testing.T) {
	st := newTestStore(t)
	o := NewOrchestrator(st, &completingRunner{store: st}, OrchestratorConfig{
		MaxConcurrentJobs: 1,
		QueueCapacity:     1,
	})
	// Workers never started, so the first submission occupies the queue.

	first, err := o.Submit(context.Background(), model.JobParams{CategoryID: "a"})
	require.NoError(t, err)

	_, err = o.Submit(context.Background(), model.JobParams{CategoryID: "b"})
	require.ErrorIs(t, err, ErrQueueFull)

	got, err := st.GetJob(context.Background(), first.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCreated, got.Status)

	jobs, err := o.List(context.Background(), store.JobFilter{Status: model.JobStatusFailed})
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	assert.Contains(t, jobs[0].Error, "job queue full")
}

func TestOrchestrator_CancelQueuedJob(t *testing.T) {
	st := newTestStore(t)
	o := NewOrchestrator(st, &completingRunner{store: st}, DefaultOrchestratorConfig())
	// Workers never started, so the job stays queued in created.

	rec, err := o.Submit(context.Background(), model.JobParams{CategoryID: "flour-mill"})
	require.NoError(t, err)

	require.NoError(t, o.Cancel(context.Background(), rec.JobID))
	got, err := st.GetJob(context.Background(), rec.JobID)
	require.NoError(t, err)
	assert.Equal(t, model.JobStatusCancelled, got.Status)

	// Terminal jobs are a no-op.
	require.NoError(t, o.Cancel(context.Background(), rec.JobID))
}

func TestOrchestrator_CancelRunningJob(t *testing.T) {
	st := newTestStore(t)
	runner := &blockingRunner{store: st, started: make(chan string, 1)}
	o := NewOrchestrator(st, runner, OrchestratorConfig{MaxConcurrentJobs: 1, QueueCapacity: 4})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	rec, err := o.Submit(ctx, model.JobParams{CategoryID: "flour-mill"})
	require.NoError(t, err)

	select {
	case <-runner.started:
	case <-time.After(5 * time.Second):
		t.Fatal("job never started")
	}

	require.NoError(t, o.Cancel(ctx, rec.JobID))
	waitForStatus(t, st, rec.JobID, model.JobStatusCancelled)

	cancel()
	o.Wait()
}

func TestOrchestrator_CancelUnknownJob(t *testing.T) {
	st := newTestStore(t)
	o := NewOrchestrator(st, &completingRunner{store: st}, DefaultOrchestratorConfig())

	err := o.Cancel(context.Background(), "no-such-job")
	require.ErrorIs(t, err, store.ErrJobNotFound)
}

func TestOrchestrator_FIFOUnderSingleWorker(t *testing.T) {
	st := newTestStore(t)

	var mu sync.Mutex
	var order []string
	runner := runnerFunc(func(_ context.Context, rec *model.JobRecord) {
		mu.Lock()
		order = append(order, rec.Params.CategoryID)
		mu.Unlock()
		_ = st.UpdateJobStatus(context.Background(), rec.JobID, model.JobStatusCompleted, 100, "")
	})
	o := NewOrchestrator(st, runner, OrchestratorConfig{MaxConcurrentJobs: 1, QueueCapacity: 8})

	var last *model.JobRecord
	for _, cat := range []string{"a", "b", "c"} {
		rec, err := o.Submit(context.Background(), model.JobParams{CategoryID: cat})
		require.NoError(t, err)
		last = rec
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	o.Start(ctx)

	waitForStatus(t, st, last.JobID, model.JobStatusCompleted)
	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

type runnerFunc func(ctx context.Context, rec *model.JobRecord)

func (f runnerFunc) Run(ctx context.Context, rec *model.JobRecord) { f(ctx, rec) }

func TestSweeper_DeletesExpiredJobs(t *testing.T) {
	st := newTestStore(t)
	ctx := context.Background()

	rec, err := st.CreateJob(ctx, model.JobParams{CategoryID: "flour-mill"})
	require.NoError(t, err)
	require.NoError(t, st.UpdateJobStatus(ctx, rec.JobID, model.JobStatusCompleted, 100, ""))

	// Negative retention treats every terminal job as expired.
	s := &Sweeper{store: st, retention: -time.Second, interval: time.Hour}
	s.sweep(ctx)

	_, err = st.GetJob(ctx, rec.JobID)
	require.ErrorIs(t, err, store.ErrJobNotFound)
}
