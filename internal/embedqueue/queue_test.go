package embedqueue

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"memoria/internal/embedding"
	"memoria/internal/obslog"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeEngine struct {
	mu         sync.Mutex
	calls      int
	failFirst  bool
	zeroVector bool
	dims       int
}

func (f *fakeEngine) Embed(ctx context.Context, text string) ([]float32, embedding.TokenUsage, error) {
	v, u, err := f.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, embedding.TokenUsage{}, err
	}
	return v[0], u, nil
}

func (f *fakeEngine) EmbedBatch(_ context.Context, texts []string) ([][]float32, embedding.TokenUsage, error) {
	f.mu.Lock()
	f.calls++
	call := f.calls
	f.mu.Unlock()

	if f.failFirst && call == 1 {
		return nil, embedding.TokenUsage{}, fmt.Errorf("transient provider error")
	}

	out := make([][]float32, len(texts))
	for i := range texts {
		v := make([]float32, f.dims)
		if !f.zeroVector {
			v[0] = 1
		}
		out[i] = v
	}
	return out, embedding.TokenUsage{}, nil
}

func (f *fakeEngine) Dimensions() int { return f.dims }
func (f *fakeEngine) Name() string    { return "fake" }

type fakeVectorWriter struct {
	mu      sync.Mutex
	added   map[uint64][]float32
}

func newFakeVectorWriter() *fakeVectorWriter { return &fakeVectorWriter{added: map[uint64][]float32{}} }

func (f *fakeVectorWriter) Add(label uint64, vector []float32) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.added[label] = vector
	return nil
}

type fakeEntryUpdater struct {
	mu      sync.Mutex
	cleared map[string]bool
	failed  []string
}

func newFakeEntryUpdater() *fakeEntryUpdater {
	return &fakeEntryUpdater{cleared: map[string]bool{}}
}

func (f *fakeEntryUpdater) ClearPendingEmbedding(_ context.Context, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cleared[id] = true
	return nil
}

func (f *fakeEntryUpdater) LogFailure(_ context.Context, kind, entryID, message string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failed = append(f.failed, entryID)
	return nil
}

func testConfig() Config {
	return Config{BatchSize: 2, FlushInterval: time.Hour, MaxRetries: 2, RetryDelay: time.Millisecond, FlushTimeout: time.Second}
}

func TestEnqueue_BelowBatchSizeDoesNotAutoFlush(t *testing.T) {
	engine := &fakeEngine{dims: 4}
	vec := newFakeVectorWriter()
	store := newFakeEntryUpdater()
	q := New(testConfig(), engine, vec, store, obslog.New(obslog.CategoryEmbedding, nil))

	q.Enqueue("e1", 1, "hello")
	time.Sleep(10 * time.Millisecond)

	stats := q.Stats()
	assert.Equal(t, 1, stats.PendingCount)
}

func TestFlush_EmbedsAndClearsPendingFlag(t *testing.T) {
	engine := &fakeEngine{dims: 4}
	vec := newFakeVectorWriter()
	store := newFakeEntryUpdater()
	q := New(testConfig(), engine, vec, store, obslog.New(obslog.CategoryEmbedding, nil))

	q.Enqueue("e1", 1, "hello")
	require.NoError(t, q.Flush(context.Background()))

	assert.True(t, store.cleared["e1"])
	assert.Contains(t, vec.added, uint64(1))
	assert.Equal(t, 0, q.Stats().PendingCount)
}

func TestEnqueue_ReachingBatchSizeTriggersAsyncFlush(t *testing.T) {
	engine := &fakeEngine{dims: 4}
	vec := newFakeVectorWriter()
	store := newFakeEntryUpdater()
	q := New(testConfig(), engine, vec, store, obslog.New(obslog.CategoryEmbedding, nil))

	q.Enqueue("e1", 1, "hello")
	q.Enqueue("e2", 2, "world")

	require.Eventually(t, func() bool {
		return q.Stats().PendingCount == 0
	}, time.Second, 5*time.Millisecond)
	assert.True(t, store.cleared["e1"])
	assert.True(t, store.cleared["e2"])
}

func TestFlush_RetriesTransientFailureThenSucceeds(t *testing.T) {
	engine := &fakeEngine{dims: 4, failFirst: true}
	vec := newFakeVectorWriter()
	store := newFakeEntryUpdater()
	q := New(testConfig(), engine, vec, store, obslog.New(obslog.CategoryEmbedding, nil))

	q.Enqueue("e1", 1, "hello")
	require.NoError(t, q.Flush(context.Background()))

	assert.True(t, store.cleared["e1"])
}

func TestFlush_ConcurrentCallsAreSerialized(t *testing.T) {
	engine := &fakeEngine{dims: 4}
	vec := newFakeVectorWriter()
	store := newFakeEntryUpdater()
	q := New(testConfig(), engine, vec, store, obslog.New(obslog.CategoryEmbedding, nil))

	for i := 0; i < 5; i++ {
		q.Enqueue(fmt.Sprintf("e%d", i), uint64(i), "x")
	}

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = q.Flush(context.Background())
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, q.Stats().PendingCount)
}

func TestStartStop_RunsPeriodicFlushAndExitsCleanly(t *testing.T) {
	engine := &fakeEngine{dims: 4}
	vec := newFakeVectorWriter()
	store := newFakeEntryUpdater()
	cfg := testConfig()
	cfg.FlushInterval = 10 * time.Millisecond
	q := New(cfg, engine, vec, store, obslog.New(obslog.CategoryEmbedding, nil))

	q.Enqueue("e1", 1, "hello")
	q.Start(context.Background())

	require.Eventually(t, func() bool {
		return store.cleared["e1"]
	}, time.Second, 5*time.Millisecond)

	q.Stop()
}

func TestFlush_ZeroVectorLeavesEntryPendingAndLogsFailure(t *testing.T) {
	engine := &fakeEngine{dims: 4, zeroVector: true}
	vec := newFakeVectorWriter()
	store := newFakeEntryUpdater()
	q := New(testConfig(), engine, vec, store, obslog.New(obslog.CategoryEmbedding, nil))

	q.Enqueue("e1", 1, "hello")
	require.NoError(t, q.Flush(context.Background()))

	assert.False(t, store.cleared["e1"])
	assert.NotContains(t, vec.added, uint64(1))
	assert.Contains(t, store.failed, "e1")
	assert.Equal(t, 0, q.Stats().PendingCount)
}

func TestStats_ReportsOldestPendingAge(t *testing.T) {
	engine := &fakeEngine{dims: 4}
	vec := newFakeVectorWriter()
	store := newFakeEntryUpdater()
	q := New(testConfig(), engine, vec, store, obslog.New(obslog.CategoryEmbedding, nil))

	q.Enqueue("e1", 1, "hello")
	time.Sleep(20 * time.Millisecond)

	assert.GreaterOrEqual(t, q.Stats().OldestPendingAge, 15*time.Millisecond)
}
