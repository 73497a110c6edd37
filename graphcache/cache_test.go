package graphcache

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/defistate/defistate-router-go/differ"
	"github.com/defistate/defistate-router-go/engine"
	"github.com/defistate/defistate-router-go/grapher"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	xlmUSDC  = engine.PoolEdge{ID: "p1", AssetA: "XLM", AssetB: "USDC", Liquidity: 0.98, Fee: 0.003, Protocol: "soroswap"}
	usdcYXLM = engine.PoolEdge{ID: "p2", AssetA: "USDC", AssetB: "yXLM", Liquidity: 0.95, Fee: 0.002, Protocol: "aqua"}
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// countingBuild wraps grapher.Build and counts its calls.
func countingBuild(count *atomic.Int32) BuildFunc {
	return func(pools []engine.PoolEdge) (*grapher.Graph, error) {
		count.Add(1)
		return grapher.Build(pools)
	}
}

func newCache(t *testing.T, opts ...Option) *Cache {
	t.Helper()
	c, err := New(testLogger(), opts...)
	require.NoError(t, err)
	return c
}

func TestNew_RequiresLogger(t *testing.T) {
	_, err := New(nil)
	assert.EqualError(t, err, "config: Logger cannot be nil")
}

func TestCache_BuildsOncePerSnapshot(t *testing.T) {
	var builds atomic.Int32
	c := newCache(t, WithBuildFunc(countingBuild(&builds)))
	require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 1, Pools: []engine.PoolEdge{xlmUSDC}}))

	first, err := c.Graph("s")
	require.NoError(t, err)
	second, err := c.Graph("s")
	require.NoError(t, err)

	assert.Same(t, first, second)
	assert.Equal(t, int32(1), builds.Load())
	assert.True(t, first.HasAsset("XLM"))
}

func TestCache_ConcurrentCallersShareOneBuild(t *testing.T) {
	var builds atomic.Int32
	release := make(chan struct{})
	c := newCache(t, WithBuildFunc(func(pools []engine.PoolEdge) (*grapher.Graph, error) {
		builds.Add(1)
		<-release
		return grapher.Build(pools)
	}))
	require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 1, Pools: []engine.PoolEdge{xlmUSDC}}))

	const callers = 16
	graphs := make([]*grapher.Graph, callers)
	var wg sync.WaitGroup
	for i := range callers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			g, err := c.Graph("s")
			assert.NoError(t, err)
			graphs[i] = g
		}()
	}
	close(release)
	wg.Wait()

	assert.Equal(t, int32(1), builds.Load())
	for _, g := range graphs {
		assert.Same(t, graphs[0], g)
	}
}

func TestCache_RacedBuildIsNotCached(t *testing.T) {
	var builds atomic.Int32
	started := make(chan struct{}, 1)
	release := make(chan struct{})
	c := newCache(t, WithBuildFunc(func(pools []engine.PoolEdge) (*grapher.Graph, error) {
		if builds.Add(1) == 1 {
			started <- struct{}{}
			<-release
		}
		return grapher.Build(pools)
	}))
	require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 1, Pools: []engine.PoolEdge{xlmUSDC}}))

	done := make(chan *grapher.Graph)
	go func() {
		g, err := c.Graph("s")
		assert.NoError(t, err)
		done <- g
	}()

	<-started
	require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 2, Pools: []engine.PoolEdge{xlmUSDC, usdcYXLM}}))
	close(release)

	stale := <-done
	assert.False(t, stale.HasAsset("yXLM"), "the caller still receives the graph it asked for")

	fresh, err := c.Graph("s")
	require.NoError(t, err)
	assert.True(t, fresh.HasAsset("yXLM"))
	assert.Equal(t, int32(2), builds.Load())
}

func TestCache_PutDropsGraphOnChange(t *testing.T) {
	var builds atomic.Int32
	d, err := differ.NewSnapshotDiffer(&differ.Config{Registry: prometheus.NewRegistry(), Logger: testLogger()})
	require.NoError(t, err)
	c := newCache(t, WithBuildFunc(countingBuild(&builds)), WithDiffer(d))

	require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 1, Pools: []engine.PoolEdge{xlmUSDC}}))
	_, err = c.Graph("s")
	require.NoError(t, err)

	t.Run("unchanged pools keep the graph", func(t *testing.T) {
		require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 2, Pools: []engine.PoolEdge{xlmUSDC}}))
		_, err := c.Graph("s")
		require.NoError(t, err)
		assert.Equal(t, int32(1), builds.Load())
	})

	t.Run("changed pools rebuild", func(t *testing.T) {
		require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 3, Pools: []engine.PoolEdge{xlmUSDC, usdcYXLM}}))
		g, err := c.Graph("s")
		require.NoError(t, err)
		assert.True(t, g.HasAsset("yXLM"))
		assert.Equal(t, int32(2), builds.Load())
	})

	t.Run("older versions are refused", func(t *testing.T) {
		err := c.Put(&engine.Snapshot{ID: "s", Version: 1})
		assert.ErrorContains(t, err, "older than cached version 3")
	})
}

func TestCache_Apply(t *testing.T) {
	var builds atomic.Int32
	c := newCache(t, WithBuildFunc(countingBuild(&builds)))
	require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 1, Pools: []engine.PoolEdge{xlmUSDC}}))
	_, err := c.Graph("s")
	require.NoError(t, err)

	patched, err := c.Apply(&differ.SnapshotDiff{SnapshotID: "s", FromVersion: 1, ToVersion: 2, Added: []engine.PoolEdge{usdcYXLM}})
	require.NoError(t, err)
	assert.Equal(t, uint64(2), patched.Version)
	assert.Len(t, patched.Pools, 2)

	g, err := c.Graph("s")
	require.NoError(t, err)
	assert.True(t, g.HasAsset("yXLM"))
	assert.Equal(t, int32(2), builds.Load())

	t.Run("empty diff keeps the graph", func(t *testing.T) {
		_, err := c.Apply(&differ.SnapshotDiff{SnapshotID: "s", FromVersion: 2, ToVersion: 3})
		require.NoError(t, err)
		_, err = c.Graph("s")
		require.NoError(t, err)
		assert.Equal(t, int32(2), builds.Load())
	})

	t.Run("stale diff is refused", func(t *testing.T) {
		_, err := c.Apply(&differ.SnapshotDiff{SnapshotID: "s", FromVersion: 1, ToVersion: 2})
		assert.ErrorContains(t, err, "mismatch fromVersion")
	})

	t.Run("unknown snapshot", func(t *testing.T) {
		_, err := c.Apply(&differ.SnapshotDiff{SnapshotID: "missing"})
		assert.ErrorIs(t, err, engine.ErrUnavailable)
	})
}

func TestCache_InvalidateAndErrors(t *testing.T) {
	c := newCache(t, WithBuildFunc(func([]engine.PoolEdge) (*grapher.Graph, error) {
		return nil, errors.New("boom")
	}))

	_, err := c.Graph("s")
	assert.ErrorIs(t, err, engine.ErrUnavailable)

	assert.ErrorIs(t, c.Put(&engine.Snapshot{}), engine.ErrMalformedInput)

	require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 1}))
	_, err = c.Graph("s")
	assert.ErrorContains(t, err, "boom")

	snapshot, ok := c.Snapshot("s")
	require.True(t, ok)
	assert.Equal(t, uint64(1), snapshot.Version)
	assert.Equal(t, 1, c.Len())

	c.Invalidate("s")
	assert.Zero(t, c.Len())
	_, ok = c.Snapshot("s")
	assert.False(t, ok)
}

func TestCache_PutCopiesPools(t *testing.T) {
	c := newCache(t)
	pools := []engine.PoolEdge{xlmUSDC}
	require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 1, Pools: pools}))

	pools[0].AssetB = "EURC"
	g, err := c.Graph("s")
	require.NoError(t, err)
	assert.True(t, g.HasAsset("USDC"))
}

func TestCache_SnapshotsOrderedByID(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Put(&engine.Snapshot{ID: "b", Version: 1, Pools: []engine.PoolEdge{xlmUSDC}}))
	require.NoError(t, c.Put(&engine.Snapshot{ID: "a", Version: 3, Pools: []engine.PoolEdge{usdcYXLM}}))

	snapshots := c.Snapshots()
	require.Len(t, snapshots, 2)
	assert.Equal(t, "a", snapshots[0].ID)
	assert.Equal(t, uint64(3), snapshots[0].Version)
	assert.Equal(t, "b", snapshots[1].ID)
}

func TestCache_ReadsReturnCopies(t *testing.T) {
	c := newCache(t)
	require.NoError(t, c.Put(&engine.Snapshot{ID: "s", Version: 1, Pools: []engine.PoolEdge{xlmUSDC}}))

	snapshot, ok := c.Snapshot("s")
	require.True(t, ok)
	snapshot.Version = 99
	snapshot.Pools[0].AssetB = "EURC"

	c.Snapshots()[0].Pools[0].AssetA = "BTC"

	stored, ok := c.Snapshot("s")
	require.True(t, ok)
	assert.Equal(t, uint64(1), stored.Version)
	assert.Equal(t, xlmUSDC, stored.Pools[0])

	g, err := c.Graph("s")
	require.NoError(t, err)
	assert.True(t, g.HasAsset("USDC"))
	assert.False(t, g.HasAsset("EURC"))
}
