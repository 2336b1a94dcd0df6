package extract

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/speclens/internal/model"
)

// fakeExtractor scripts per-chunk behavior and records call counts.
type fakeExtractor struct {
	mu    sync.Mutex
	calls map[int]int

	// failFor maps chunk index to the number of calls that fail before
	// one succeeds. A negative value fails forever.
	failFor map[int]int

	items func(chunk Chunk) []model.NormalizedItem

	inFlight    int
	maxInFlight int
}

func newFakeExtractor() *fakeExtractor {
	return &fakeExtractor{
		calls:   make(map[int]int),
		failFor: make(map[int]int),
		items: func(chunk Chunk) []model.NormalizedItem {
			return []model.NormalizedItem{
				{Attribute: "capacity", Option: "500 kg", SourceWeight: 1},
			}
		},
	}
}

func (f *fakeExtractor) Extract(ctx context.Context, sourceID model.SourceID, chunk Chunk) ([]model.NormalizedItem, error) {
	f.mu.Lock()
	f.calls[chunk.Index]++
	call := f.calls[chunk.Index]
	f.inFlight++
	if f.inFlight > f.maxInFlight {
		f.maxInFlight = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	budget := f.failFor[chunk.Index]
	f.mu.Unlock()
	if budget < 0 || call <= budget {
		return nil, errors.New("model unavailable")
	}
	return f.items(chunk), nil
}

func (f *fakeExtractor) callCount(chunk int) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[chunk]
}

func testSchedulerConfig() SchedulerConfig {
	return SchedulerConfig{
		Chunker:      ChunkerConfig{MinRows: 2, MaxRows: 4},
		Workers:      2,
		ChunkTimeout: time.Second,
		RetryBackoff: time.Millisecond,
	}
}

func TestScheduler_AllChunksSucceed(t *testing.T) {
	fake := newFakeExtractor()
	s := NewScheduler(fake, testSchedulerConfig())

	items, stats, err := s.Schedule(context.Background(), model.SourceLMSChats, makeRows(12))

	require.NoError(t, err)
	assert.Equal(t, ChunkStats{Attempted: 3, Succeeded: 3, Failed: 0}, stats)
	assert.Len(t, items, 3)
}

func TestScheduler_EmptyDataset(t *testing.T) {
	fake := newFakeExtractor()
	s := NewScheduler(fake, testSchedulerConfig())

	items, stats, err := s.Schedule(context.Background(), model.SourceLMSChats, nil)

	require.NoError(t, err)
	assert.Empty(t, items)
	assert.Equal(t, ChunkStats{}, stats)
}

func TestScheduler_ChunkRetriedOnceThenSucceeds(t *testing.T) {
	fake := newFakeExtractor()
	fake.failFor[1] = 1 // first call fails, retry succeeds
	s := NewScheduler(fake, testSchedulerConfig())

	items, stats, err := s.Schedule(context.Background(), model.SourceWhatsappSpecs, makeRows(12))

	require.NoError(t, err)
	assert.Equal(t, ChunkStats{Attempted: 3, Succeeded: 3, Failed: 0}, stats)
	assert.Len(t, items, 3)
	assert.Equal(t, 2, fake.callCount(1))
}

func TestScheduler_FailedChunkIsSkipped(t *testing.T) {
	// One chunk times out on both attempts; the source is still built
	// from the chunks that succeeded.
	fake := newFakeExtractor()
	fake.failFor[1] = -1
	s := NewScheduler(fake, testSchedulerConfig())

	items, stats, err := s.Schedule(context.Background(), model.SourceLMSChats, makeRows(12))

	require.NoError(t, err)
	assert.Equal(t, ChunkStats{Attempted: 3, Succeeded: 2, Failed: 1}, stats)
	assert.Len(t, items, 2)
	assert.Equal(t, 2, fake.callCount(1), "initial call plus exactly one retry")
}

func TestScheduler_AllChunksFail(t *testing.T) {
	fake := newFakeExtractor()
	fake.failFor[0] = -1
	fake.failFor[1] = -1
	fake.failFor[2] = -1
	s := NewScheduler(fake, testSchedulerConfig())

	items, stats, err := s.Schedule(context.Background(), model.SourceRejectionComments, makeRows(12))

	require.Error(t, err)
	assert.ErrorIs(t, err, ErrNoChunksSucceeded)
	assert.Nil(t, items)
	assert.Equal(t, ChunkStats{Attempted: 3, Succeeded: 0, Failed: 3}, stats)
}

func TestScheduler_BoundedConcurrency(t *testing.T) {
	fake := newFakeExtractor()
	base := fake.items
	fake.items = func(chunk Chunk) []model.NormalizedItem {
		time.Sleep(10 * time.Millisecond)
		return base(chunk)
	}
	cfg := testSchedulerConfig()
	cfg.Workers = 2
	s := NewScheduler(fake, cfg)

	_, _, err := s.Schedule(context.Background(), model.SourceSearchKeywords, makeRows(24))

	require.NoError(t, err)
	assert.LessOrEqual(t, fake.maxInFlight, 2)
}

func TestScheduler_Cancellation(t *testing.T) {
	fake := newFakeExtractor()
	base := fake.items
	fake.items = func(chunk Chunk) []model.NormalizedItem {
		time.Sleep(50 * time.Millisecond)
		return base(chunk)
	}
	s := NewScheduler(fake, testSchedulerConfig())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	items, _, err := s.Schedule(ctx, model.SourceLMSChats, makeRows(12))

	require.Error(t, err)
	assert.Nil(t, items)
}
