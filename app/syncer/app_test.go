package syncworker

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/canopy-network/balanceblocks/pkg/db/chain"
	"github.com/canopy-network/balanceblocks/pkg/syncer"
	"github.com/go-jose/go-jose/v4/json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
)

type fakeRunner struct {
	calls  atomic.Int32
	result syncer.Result
	err    error
	block  chan struct{}
}

func (f *fakeRunner) Run(ctx context.Context) (syncer.Result, error) {
	f.calls.Add(1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
		}
	}
	return f.result, f.err
}

type fakeCompactor struct {
	calls atomic.Int32
	err   error
}

func (f *fakeCompactor) Compact(context.Context) ([]chain.CompactionResult, error) {
	f.calls.Add(1)
	return []chain.CompactionResult{{Table: "accounts", Err: f.err}}, f.err
}

func TestCompactOnce(t *testing.T) {
	app := New(zaptest.NewLogger(t), &fakeRunner{})
	compactor := &fakeCompactor{}
	app.Compactor = compactor

	app.CompactOnce(context.Background())
	compactor.err = errors.New("merge failed")
	app.CompactOnce(context.Background())
	assert.Equal(t, int32(2), compactor.calls.Load())
}

func TestSetupScheduler_RegistersCompaction(t *testing.T) {
	app := New(zap.NewNop(), &fakeRunner{})
	require.NoError(t, app.SetupScheduler(context.Background(), app.CronSpec))
	assert.Len(t, app.Cron.Entries(), 1)

	app.Compactor = &fakeCompactor{}
	require.NoError(t, app.SetupScheduler(context.Background(), app.CronSpec))
	assert.Len(t, app.Cron.Entries(), 2)

	app.CompactSpec = "bogus"
	assert.Error(t, app.SetupScheduler(context.Background(), app.CronSpec))
}

func TestRunOnce_RecordsOutcome(t *testing.T) {
	runner := &fakeRunner{result: syncer.Result{FromHeight: 5, ToHeight: 9}}
	app := New(zaptest.NewLogger(t), runner)

	app.RunOnce(context.Background())
	assert.Equal(t, uint64(9), app.SyncedHeight.Load())
	_, ok := app.Status.Load(statusLastSuccess)
	assert.True(t, ok)

	// An empty run keeps the height.
	runner.result = syncer.Result{FromHeight: 10, ToHeight: 9}
	app.RunOnce(context.Background())
	assert.Equal(t, uint64(9), app.SyncedHeight.Load())

	runner.err = errors.New("rpc down")
	app.RunOnce(context.Background())
	_, ok = app.Status.Load(statusLastFailure)
	assert.True(t, ok)
	assert.Equal(t, int32(3), runner.calls.Load())
}

func TestReady(t *testing.T) {
	app := New(zap.NewNop(), &fakeRunner{})
	assert.True(t, app.Ready(), "ready during the startup grace period")

	app.started = time.Now().Add(-time.Hour)
	assert.False(t, app.Ready())

	app.Status.Store(statusLastSuccess, time.Now())
	assert.True(t, app.Ready())

	app.Status.Store(statusLastSuccess, time.Now().Add(-time.Hour))
	assert.False(t, app.Ready())
}

func TestRouter(t *testing.T) {
	app := New(zap.NewNop(), &fakeRunner{result: syncer.Result{FromHeight: 1, ToHeight: 42}})
	app.RunOnce(context.Background())
	router := app.NewRouter()

	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)

	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	var status statusResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
	assert.Equal(t, uint64(42), status.SyncedHeight)
	assert.NotNil(t, status.LastSuccess)
	assert.Nil(t, status.LastFailure)

	app.started = time.Now().Add(-time.Hour)
	app.Status.Store(statusLastSuccess, time.Now().Add(-time.Hour))
	rec = httptest.NewRecorder()
	router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

type fakeProgress struct {
	last uint64
	err  error
}

func (f fakeProgress) LastSynced(context.Context) (uint64, error) { return f.last, f.err }

func TestLoadProgress(t *testing.T) {
	app := New(zap.NewNop(), &fakeRunner{result: syncer.Result{FromHeight: 78, ToHeight: 77}})
	require.NoError(t, app.LoadProgress(context.Background(), fakeProgress{last: 77}))
	assert.Equal(t, uint64(77), app.SyncedHeight.Load())

	// A run at the head keeps the stored height.
	app.RunOnce(context.Background())
	assert.Equal(t, uint64(77), app.SyncedHeight.Load())

	assert.Error(t, app.LoadProgress(context.Background(), fakeProgress{err: errors.New("down")}))
	assert.Equal(t, uint64(77), app.SyncedHeight.Load())
}

func TestStatus_ListsJobs(t *testing.T) {
	app := New(zap.NewNop(), &fakeRunner{})
	app.Compactor = &fakeCompactor{}
	require.NoError(t, app.SetupScheduler(context.Background(), app.CronSpec))
	router := app.NewRouter()

	get := func() statusResponse {
		rec := httptest.NewRecorder()
		router.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/status", nil))
		require.Equal(t, http.StatusOK, rec.Code)
		var status statusResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &status))
		return status
	}

	status := get()
	require.Len(t, status.Jobs, 2)
	specs := map[string]string{}
	for _, j := range status.Jobs {
		specs[j.Name] = j.Spec
		assert.Nil(t, j.Next, "not scheduled before start")
	}
	assert.Equal(t, map[string]string{jobSync: app.CronSpec, jobCompact: app.CompactSpec}, specs)

	app.StartCron()
	t.Cleanup(app.StopCron)
	for _, j := range get().Jobs {
		require.NotNil(t, j.Next, j.Name)
		assert.True(t, j.Next.After(time.Now().Add(-time.Second)), j.Name)
	}
}

func TestSetupScheduler_SkipsOverlappingRuns(t *testing.T) {
	runner := &fakeRunner{block: make(chan struct{})}
	app := New(zaptest.NewLogger(t), runner)

	require.NoError(t, app.SetupScheduler(context.Background(), "@every 1s"))
	app.StartCron()

	// The first run blocks, so later ticks are skipped rather than queued.
	require.Eventually(t, func() bool { return runner.calls.Load() == 1 }, 5*time.Second, 20*time.Millisecond)
	time.Sleep(2500 * time.Millisecond)
	assert.Equal(t, int32(1), runner.calls.Load())

	close(runner.block)
	app.StopCron()
}

func TestSetupScheduler_InvalidSpec(t *testing.T) {
	app := New(zap.NewNop(), &fakeRunner{})
	assert.Error(t, app.SetupScheduler(context.Background(), "not a spec"))
}

func TestCronLogger(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	logger := NewCronLogger(zap.New(core))

	logger.Info("tick", "entry", 1)
	logger.Error(errors.New("boom"), "panic", "entry", 2)

	entries := logs.All()
	require.Len(t, entries, 2)
	assert.Equal(t, "tick", entries[0].Message)
	assert.Equal(t, "panic", entries[1].Message)
	assert.Equal(t, "boom", entries[1].ContextMap()["error"])
}
