package batch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feichai0017/ocr-batch/internal/engine"
	"github.com/feichai0017/ocr-batch/internal/guard"
	"github.com/feichai0017/ocr-batch/internal/ledger"
	"github.com/feichai0017/ocr-batch/internal/models"
	"github.com/feichai0017/ocr-batch/pkg/logger"
)

type fakeEngine struct {
	id     int
	closed bool
}

func (e *fakeEngine) Recognize(ctx context.Context, path string) (*models.Result, error) {
	return &models.Result{Source: "fake"}, nil
}

func (e *fakeEngine) Close() error {
	e.closed = true
	return nil
}

type fakeFactory struct {
	engines []*fakeEngine
	err     error
}

func (f *fakeFactory) create(ctx context.Context) (engine.Engine, error) {
	if f.err != nil {
		return nil, f.err
	}
	eng := &fakeEngine{id: len(f.engines)}
	f.engines = append(f.engines, eng)
	return eng, nil
}

func (f *fakeFactory) closedCount() int {
	n := 0
	for _, eng := range f.engines {
		if eng.closed {
			n++
		}
	}
	return n
}

type fakeGuard struct {
	overThreshold bool
	reclaims      int
	samples       int
}

func (g *fakeGuard) Sample() (guard.ResourceSample, error) {
	g.samples++
	return guard.ResourceSample{ResidentBytes: 1}, nil
}

func (g *fakeGuard) ShouldReclaim(sample guard.ResourceSample, thresholdBytes uint64) bool {
	return g.overThreshold
}

func (g *fakeGuard) ShouldRecycleHandle(itemsProcessedInChunk, chunkSize int) bool {
	return itemsProcessedInChunk >= chunkSize
}

func (g *fakeGuard) Reclaim() {
	g.reclaims++
}

func makeItems(n int) []models.Item {
	items := make([]models.Item, n)
	for i := range items {
		name := fmt.Sprintf("%02d.png", i)
		items[i] = models.Item{Path: filepath.Join("/images", name), Key: name}
	}
	return items
}

func succeedFunc() ProcessFunc {
	return func(ctx context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		return &models.Result{Source: "test"}, nil
	}
}

func failOnKeys(keys ...string) ProcessFunc {
	failing := make(map[string]struct{}, len(keys))
	for _, key := range keys {
		failing[key] = struct{}{}
	}
	return func(ctx context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		if _, ok := failing[item.Key]; ok {
			return nil, fmt.Errorf("unreadable image")
		}
		return &models.Result{Source: "test"}, nil
	}
}

func newTestProcessor(t *testing.T, cfg Config, factory *fakeFactory, g guard.Guard) (*Processor, *ledger.FileLedger, string) {
	t.Helper()

	path := filepath.Join(t.TempDir(), "progress.ndjson")
	led, err := ledger.NewFileLedger(path)
	require.NoError(t, err)
	t.Cleanup(func() { led.Close() })

	p, err := NewProcessor(cfg, factory.create, led, g, nil, logger.NewTestLogger())
	require.NoError(t, err)
	return p, led, path
}

func reload(t *testing.T, path string) ledger.Progress {
	t.Helper()
	led, err := ledger.NewFileLedger(path)
	require.NoError(t, err)
	defer led.Close()
	progress, err := led.Load(context.Background())
	require.NoError(t, err)
	return progress
}

func TestRunProcessesAllItems(t *testing.T) {
	factory := &fakeFactory{}
	p, _, path := newTestProcessor(t, Config{BatchSize: 4, ChunkSize: 10}, factory, &fakeGuard{})

	summary, err := p.Run(context.Background(), makeItems(7), succeedFunc())
	require.NoError(t, err)

	assert.Equal(t, 7, summary.Processed)
	assert.Equal(t, 0, summary.Skipped)
	assert.Equal(t, 0, summary.Failed)
	assert.False(t, summary.Cancelled)
	assert.NotEmpty(t, summary.RunID)

	progress := reload(t, path)
	assert.Len(t, progress, 7)
}

func TestChunkBoundaryHandleRecycling(t *testing.T) {
	factory := &fakeFactory{}
	p, _, _ := newTestProcessor(t, Config{BatchSize: 100, ChunkSize: 5}, factory, &fakeGuard{})

	// Item at position 8 fails: recycling must be unaffected.
	summary, err := p.Run(context.Background(), makeItems(12), failOnKeys("08.png"))
	require.NoError(t, err)

	assert.Equal(t, 3, len(factory.engines), "chunks of 5, 5, 2 need exactly 3 handles")
	assert.Equal(t, 3, factory.closedCount(), "every handle must be released")
	assert.Equal(t, 11, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
}

func TestPartialFailureIsolation(t *testing.T) {
	factory := &fakeFactory{}
	p, _, path := newTestProcessor(t, Config{BatchSize: 5, ChunkSize: 100}, factory, &fakeGuard{})

	summary, err := p.Run(context.Background(), makeItems(20), failOnKeys("03.png", "07.png", "12.png"))
	require.NoError(t, err)

	assert.Equal(t, 17, summary.Processed)
	assert.Equal(t, 3, summary.Failed)
	require.Len(t, summary.Failures, 3)
	assert.Equal(t, "03.png", summary.Failures[0].Key)

	progress := reload(t, path)
	assert.Len(t, progress, 17)
	assert.False(t, progress.IsDone("03.png"))
	assert.False(t, progress.IsDone("07.png"))
	assert.False(t, progress.IsDone("12.png"))
}

func TestReclamationTriggeredEveryBatch(t *testing.T) {
	factory := &fakeFactory{}
	g := &fakeGuard{overThreshold: true}
	p, _, _ := newTestProcessor(t, Config{BatchSize: 2, ChunkSize: 100}, factory, g)

	_, err := p.Run(context.Background(), makeItems(12), succeedFunc())
	require.NoError(t, err)

	assert.Equal(t, 6, g.reclaims, "one reclamation per batch of 2")
}

func TestConcreteScenario(t *testing.T) {
	factory := &fakeFactory{}
	p, _, path := newTestProcessor(t, Config{BatchSize: 2, ChunkSize: 3}, factory, &fakeGuard{})

	items := []models.Item{
		{Path: "a.png", Key: "a.png"},
		{Path: "b.png", Key: "b.png"},
		{Path: "c.png", Key: "c.png"},
		{Path: "d.png", Key: "d.png"},
		{Path: "e.png", Key: "e.png"},
	}

	summary, err := p.Run(context.Background(), items, failOnKeys("c.png"))
	require.NoError(t, err)

	assert.Equal(t, 2, len(factory.engines), "chunk1=[a,b,c], chunk2=[d,e]")
	assert.Equal(t, 2, factory.closedCount())
	assert.Equal(t, 4, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Skipped)
	require.Len(t, summary.Failures, 1)
	assert.Equal(t, "c.png", summary.Failures[0].Key)

	progress := reload(t, path)
	assert.Len(t, progress, 4)
	for _, key := range []string{"a.png", "b.png", "d.png", "e.png"} {
		assert.True(t, progress.IsDone(key), key)
	}
	assert.False(t, progress.IsDone("c.png"))
}

func TestResumeSkipsCompletedItems(t *testing.T) {
	factory := &fakeFactory{}
	p, led, path := newTestProcessor(t, Config{BatchSize: 2, ChunkSize: 3}, factory, &fakeGuard{})

	// Prior run completed a and b.
	progress, err := led.Load(context.Background())
	require.NoError(t, err)
	require.NoError(t, led.MarkDone(context.Background(), progress, "a.png"))
	require.NoError(t, led.MarkDone(context.Background(), progress, "b.png"))

	items := []models.Item{
		{Path: "a.png", Key: "a.png"},
		{Path: "b.png", Key: "b.png"},
		{Path: "c.png", Key: "c.png"},
		{Path: "d.png", Key: "d.png"},
		{Path: "e.png", Key: "e.png"},
	}

	var invoked []string
	processOne := func(ctx context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		invoked = append(invoked, item.Key)
		if item.Key == "c.png" {
			return nil, fmt.Errorf("unreadable image")
		}
		return &models.Result{}, nil
	}

	summary, err := p.Run(context.Background(), items, processOne)
	require.NoError(t, err)

	assert.Equal(t, []string{"c.png", "d.png", "e.png"}, invoked)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 1, summary.Failed)

	final := reload(t, path)
	assert.Len(t, final, 4)
	assert.False(t, final.IsDone("c.png"))
}

func TestIdempotentResumeAfterInterruption(t *testing.T) {
	items := makeItems(10)
	path := filepath.Join(t.TempDir(), "progress.ndjson")

	// First run: cancel after 4 items have completed.
	ctx, cancel := context.WithCancel(context.Background())
	processed := 0
	interrupting := func(c context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		processed++
		if processed == 4 {
			cancel()
		}
		return &models.Result{}, nil
	}

	led1, err := ledger.NewFileLedger(path)
	require.NoError(t, err)
	factory1 := &fakeFactory{}
	p1, err := NewProcessor(Config{BatchSize: 2, ChunkSize: 4}, factory1.create, led1, &fakeGuard{}, nil, logger.NewTestLogger())
	require.NoError(t, err)

	partial, err := p1.Run(ctx, items, interrupting)
	require.NoError(t, err)
	require.NoError(t, led1.Close())
	assert.True(t, partial.Cancelled)
	assert.Equal(t, 4, partial.Processed)
	assert.Equal(t, len(factory1.engines), factory1.closedCount(), "cancelled run must still release its handles")

	// Resumed run processes exactly the remainder.
	led2, err := ledger.NewFileLedger(path)
	require.NoError(t, err)
	defer led2.Close()
	factory2 := &fakeFactory{}
	p2, err := NewProcessor(Config{BatchSize: 2, ChunkSize: 4}, factory2.create, led2, &fakeGuard{}, nil, logger.NewTestLogger())
	require.NoError(t, err)

	var resumed []string
	resume := func(c context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		resumed = append(resumed, item.Key)
		return &models.Result{}, nil
	}

	full, err := p2.Run(context.Background(), items, resume)
	require.NoError(t, err)

	assert.Equal(t, 6, full.Processed)
	assert.Equal(t, 4, full.Skipped)
	assert.False(t, full.Cancelled)

	// Union of both runs covers every item exactly once.
	final := reload(t, path)
	assert.Len(t, final, 10)
	for _, item := range items {
		assert.True(t, final.IsDone(item.Key), item.Key)
	}
	assert.Len(t, resumed, 6)
}

func TestLedgerDurableBeforeNextItem(t *testing.T) {
	factory := &fakeFactory{}
	p, _, path := newTestProcessor(t, Config{BatchSize: 10, ChunkSize: 10}, factory, &fakeGuard{})

	items := makeItems(5)
	var previous string
	processOne := func(ctx context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		if previous != "" {
			onDisk := reload(t, path)
			assert.True(t, onDisk.IsDone(previous),
				"item %s must be durable before %s starts", previous, item.Key)
		}
		previous = item.Key
		return &models.Result{}, nil
	}

	_, err := p.Run(context.Background(), items, processOne)
	require.NoError(t, err)
}

func TestEngineInitFailureAbortsRun(t *testing.T) {
	factory := &fakeFactory{err: fmt.Errorf("model files missing")}
	p, _, _ := newTestProcessor(t, Config{BatchSize: 2, ChunkSize: 5}, factory, &fakeGuard{})

	summary, err := p.Run(context.Background(), makeItems(3), succeedFunc())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrEngineInit)
	assert.Nil(t, summary)
}

func TestCorruptLedgerAbortsRun(t *testing.T) {
	path := filepath.Join(t.TempDir(), "progress.ndjson")
	require.NoError(t, os.WriteFile(path, []byte("not json\n"), 0644))

	led, err := ledger.NewFileLedger(path)
	require.NoError(t, err)
	defer led.Close()

	factory := &fakeFactory{}
	p, err := NewProcessor(Config{BatchSize: 2, ChunkSize: 5}, factory.create, led, &fakeGuard{}, nil, logger.NewTestLogger())
	require.NoError(t, err)

	summary, err := p.Run(context.Background(), makeItems(3), succeedFunc())
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrLedgerCorrupt)
	assert.Nil(t, summary)
	assert.Empty(t, factory.engines, "no engine may be created when the ledger is unreadable")
}

func TestCancelledBeforeStart(t *testing.T) {
	factory := &fakeFactory{}
	p, _, _ := newTestProcessor(t, Config{BatchSize: 2, ChunkSize: 5}, factory, &fakeGuard{})

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	summary, err := p.Run(ctx, makeItems(5), succeedFunc())
	require.NoError(t, err)
	assert.True(t, summary.Cancelled)
	assert.Equal(t, 0, summary.Processed)
	assert.Empty(t, factory.engines)
}

func TestEnginePanicCountsAsItemFailure(t *testing.T) {
	factory := &fakeFactory{}
	p, _, _ := newTestProcessor(t, Config{BatchSize: 2, ChunkSize: 5}, factory, &fakeGuard{})

	processOne := func(ctx context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		if item.Key == "01.png" {
			panic("segfault in native code")
		}
		return &models.Result{}, nil
	}

	summary, err := p.Run(context.Background(), makeItems(3), processOne)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.Contains(t, summary.Failures[0].Error, "panicked")
	assert.Equal(t, 1, factory.closedCount())
}

func TestItemTimeoutExpiresAsFailure(t *testing.T) {
	factory := &fakeFactory{}
	p, _, _ := newTestProcessor(t, Config{BatchSize: 2, ChunkSize: 5, ItemTimeout: 10 * time.Millisecond}, factory, &fakeGuard{})

	processOne := func(ctx context.Context, eng engine.Engine, item models.Item) (*models.Result, error) {
		if item.Key == "00.png" {
			<-ctx.Done()
			return nil, ctx.Err()
		}
		return &models.Result{}, nil
	}

	summary, err := p.Run(context.Background(), makeItems(3), processOne)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.Processed)
	assert.Equal(t, 1, summary.Failed)
	assert.False(t, summary.Cancelled, "a per-item timeout is not a run cancellation")
}
