package gc

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"

	"github.com/wolfeidau/swstore"
	"github.com/wolfeidau/swstore/control"
	"github.com/wolfeidau/swstore/resource"
)

type fakePurger struct {
	mu        sync.Mutex
	purgeable []swstore.ResourceID
	orphans   []swstore.ResourceID
	failIDs   map[swstore.ResourceID]bool
	purged    []swstore.ResourceID
	listErr   error
}

func (f *fakePurger) PurgeableResourceIDs(_ context.Context, limit int) ([]swstore.ResourceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return head(f.purgeable, limit), nil
}

func (f *fakePurger) OrphanResourceIDs(_ context.Context, limit int) ([]swstore.ResourceID, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return head(f.orphans, limit), nil
}

func (f *fakePurger) PurgeResources(_ context.Context, ids []swstore.ResourceID) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var err error
	n := 0
	for _, id := range ids {
		if f.failIDs[id] {
			err = errors.New("disk full")
			continue
		}
		f.purged = append(f.purged, id)
		n++
	}
	return n, err
}

func head(ids []swstore.ResourceID, limit int) []swstore.ResourceID {
	if limit > 0 && len(ids) > limit {
		return ids[:limit]
	}
	return ids
}

func TestManager_RunNow(t *testing.T) {
	ctx := context.Background()
	p := &fakePurger{
		purgeable: []swstore.ResourceID{1, 2},
		orphans:   []swstore.ResourceID{7},
	}

	mgr := New(p, DefaultConfig())
	result, err := mgr.RunNow(ctx)

	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, 2, result.PendingPurged)
	assert.Equal(t, 1, result.OrphansPurged)
	assert.Empty(t, result.Errors)
	assert.Greater(t, result.Duration, time.Duration(0))
	assert.Equal(t, []swstore.ResourceID{1, 2, 7}, p.purged)
}

func TestManager_BatchSize(t *testing.T) {
	p := &fakePurger{purgeable: []swstore.ResourceID{1, 2, 3, 4}}

	config := DefaultConfig()
	config.BatchSize = 3
	result, err := New(p, config).RunNow(context.Background())

	require.NoError(t, err)
	assert.Equal(t, 3, result.PendingPurged)
}

func TestManager_Errors(t *testing.T) {
	ctx := context.Background()

	t.Run("partial purge failure", func(t *testing.T) {
		p := &fakePurger{
			purgeable: []swstore.ResourceID{1, 2},
			failIDs:   map[swstore.ResourceID]bool{2: true},
		}
		result, err := New(p, DefaultConfig()).RunNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.PendingPurged)
		assert.Equal(t, 1, result.PendingSkipped)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "disk full")
	})

	t.Run("list failure continues with orphans", func(t *testing.T) {
		p := &fakePurger{
			listErr: errors.New("database closed"),
			orphans: []swstore.ResourceID{9},
		}
		result, err := New(p, DefaultConfig()).RunNow(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, result.OrphansPurged)
		require.Len(t, result.Errors, 1)
		assert.Contains(t, result.Errors[0], "get purgeable resources")
	})
}

func TestManager_Status(t *testing.T) {
	ctx := context.Background()
	mgr := New(&fakePurger{orphans: []swstore.ResourceID{3}}, DefaultConfig())

	assert.Nil(t, mgr.Status(), "status should be nil before first run")

	result, err := mgr.RunNow(ctx)
	require.NoError(t, err)

	status := mgr.Status()
	require.NotNil(t, status)
	assert.Equal(t, result.StartedAt, status.StartedAt)
	assert.Equal(t, result.Duration, status.Duration)
	assert.Equal(t, result.OrphansPurged, status.OrphansPurged)
	assert.Equal(t, result.PendingPurged, status.PendingPurged)
}

func TestManager_StartStop(t *testing.T) {
	ctx := context.Background()

	config := DefaultConfig()
	config.StartupDelay = 10 * time.Millisecond
	config.Interval = 50 * time.Millisecond

	mgr := New(&fakePurger{}, config)
	mgr.Start(ctx)

	require.Eventually(t, func() bool { return mgr.Status() != nil }, time.Second, 10*time.Millisecond,
		"should have run at least once")

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	require.NoError(t, mgr.Stop(stopCtx))
	require.NoError(t, mgr.Stop(stopCtx), "stop should be idempotent")
}

func TestManager_DoubleStart(t *testing.T) {
	ctx := context.Background()

	config := DefaultConfig()
	config.StartupDelay = time.Hour

	mgr := New(&fakePurger{}, config)
	mgr.Start(ctx)
	mgr.Start(ctx)

	stopCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()

	require.NoError(t, mgr.Stop(stopCtx))
	assert.Nil(t, mgr.Status())
}

func TestManager_ContextCancellation(t *testing.T) {
	config := DefaultConfig()
	config.StartupDelay = time.Second

	ctx, cancel := context.WithCancel(context.Background())
	mgr := New(&fakePurger{}, config)
	mgr.Start(ctx)
	cancel()

	require.Eventually(t, func() bool {
		mgr.mu.Lock()
		defer mgr.mu.Unlock()
		return !mgr.running
	}, time.Second, 10*time.Millisecond)
	require.NoError(t, mgr.Stop(context.Background()))
}

func TestManager_Metrics(t *testing.T) {
	ctx := context.Background()
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(ctx) })

	p := &fakePurger{purgeable: []swstore.ResourceID{1}, orphans: []swstore.ResourceID{2, 3}}
	mgr := New(p, DefaultConfig(), WithMetrics(mp.Meter("test")))
	_, err := mgr.RunNow(ctx)
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(ctx, &rm))

	sums := map[string]int64{}
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			if sum, ok := m.Data.(metricdata.Sum[int64]); ok {
				for _, dp := range sum.DataPoints {
					sums[m.Name] += dp.Value
				}
			}
		}
	}
	assert.Equal(t, int64(1), sums["swstore_gc_runs_total"])
	assert.Equal(t, int64(1), sums["swstore_gc_pending_purged_total"])
	assert.Equal(t, int64(2), sums["swstore_gc_orphans_purged_total"])
	assert.Equal(t, int64(0), sums["swstore_gc_errors_total"])
}

func writeOrphan(t *testing.T, c *control.Control, id swstore.ResourceID) {
	t.Helper()
	ctx := context.Background()
	w, err := c.CreateResourceWriter(ctx, id)
	require.NoError(t, err)
	_, err = w.WriteResponseHead(ctx, &resource.ResponseHead{StatusCode: http.StatusOK, StatusText: "OK"})
	require.NoError(t, err)
	_, err = w.WriteData(ctx, []byte("left behind"))
	require.NoError(t, err)
	require.NoError(t, w.Commit(ctx))
}

func TestManager_Control(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	cfg := control.DefaultConfig(dir)
	cfg.NoSync = true

	c := control.New(cfg)
	require.NoError(t, c.Initialize(ctx))
	id, err := c.GetNewResourceID(ctx)
	require.NoError(t, err)
	writeOrphan(t, c, id)
	require.NoError(t, c.Close(ctx))

	c = control.New(cfg)
	require.NoError(t, c.Initialize(ctx))
	t.Cleanup(func() { _ = c.Close(ctx) })

	result, err := New(c, DefaultConfig()).RunNow(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, result.OrphansPurged)
	assert.Empty(t, result.Errors)

	r, err := c.CreateResourceReader(ctx, id)
	require.NoError(t, err)
	_, err = r.ReadResponseHead(ctx)
	require.ErrorIs(t, err, resource.ErrCacheMiss)

	result, err = New(c, DefaultConfig()).RunNow(ctx)
	require.NoError(t, err)
	assert.Zero(t, result.OrphansPurged, "second run has nothing left")
}
