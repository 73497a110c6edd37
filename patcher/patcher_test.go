package patcher

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/defistate/defistate-router-go/differ"
	"github.com/defistate/defistate-router-go/engine"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func makeSnapshot(version uint64, pools ...engine.PoolEdge) *engine.Snapshot {
	return &engine.Snapshot{ID: "stellar", Version: version, Timestamp: time.Unix(int64(version), 0), Pools: pools}
}

var (
	p1 = engine.PoolEdge{ID: "p1", AssetA: "XLM", AssetB: "USDC", Liquidity: 0.9, Fee: 0.003, Protocol: "soroswap"}
	p2 = engine.PoolEdge{ID: "p2", AssetA: "USDC", AssetB: "yXLM", Liquidity: 0.8, Fee: 0.002, Protocol: "aqua"}
	p3 = engine.PoolEdge{ID: "p3", AssetA: "XLM", AssetB: "yXLM", Liquidity: 0.7, Fee: 0.001, Protocol: "phoenix"}
)

func TestPatch_HappyPath(t *testing.T) {
	p1Updated := p1
	p1Updated.Liquidity = 0.5
	p4 := engine.PoolEdge{ID: "p4", AssetA: "XLM", AssetB: "EURC", Liquidity: 0.6, Protocol: "aqua"}

	old := makeSnapshot(100, p1, p2, p3)
	diff := &differ.SnapshotDiff{
		SnapshotID:  "stellar",
		FromVersion: 100,
		ToVersion:   101,
		Timestamp:   time.Unix(101, 0),
		Added:       []engine.PoolEdge{p4},
		Updated:     []engine.PoolEdge{p1Updated},
		Removed:     []string{"p2"},
	}

	patched, err := Patch(old, diff)
	require.NoError(t, err)

	assert.Equal(t, uint64(101), patched.Version)
	assert.Equal(t, time.Unix(101, 0), patched.Timestamp)
	assert.Equal(t, []engine.PoolEdge{p1Updated, p3, p4}, patched.Pools)

	// the old snapshot is untouched
	assert.Equal(t, []engine.PoolEdge{p1, p2, p3}, old.Pools)
	assert.Equal(t, uint64(100), old.Version)
}

func TestPatch_RemoveThenReAdd(t *testing.T) {
	replacement := p2
	replacement.Protocol = "aqua-v2"

	patched, err := Patch(makeSnapshot(1, p1, p2), &differ.SnapshotDiff{
		SnapshotID:  "stellar",
		FromVersion: 1,
		ToVersion:   2,
		Removed:     []string{"p2"},
		Added:       []engine.PoolEdge{replacement},
	})
	require.NoError(t, err)
	assert.Equal(t, []engine.PoolEdge{p1, replacement}, patched.Pools)
}

func TestPatch_IntegrityChecks(t *testing.T) {
	old := makeSnapshot(100, p1, p2)

	testCases := []struct {
		name string
		diff *differ.SnapshotDiff
		want string
	}{
		{"version mismatch", &differ.SnapshotDiff{SnapshotID: "stellar", FromVersion: 99}, "mismatch fromVersion"},
		{"id mismatch", &differ.SnapshotDiff{SnapshotID: "other", FromVersion: 100}, "mismatch snapshot id"},
		{"unknown removal", &differ.SnapshotDiff{SnapshotID: "stellar", FromVersion: 100, Removed: []string{"p9"}}, "removed pool p9 does not exist"},
		{"unknown update", &differ.SnapshotDiff{SnapshotID: "stellar", FromVersion: 100, Updated: []engine.PoolEdge{p3}}, "updated pool p3 does not exist"},
		{"existing addition", &differ.SnapshotDiff{SnapshotID: "stellar", FromVersion: 100, Added: []engine.PoolEdge{p1}}, "added pool p1 already exists"},
		{"update of removed pool", &differ.SnapshotDiff{SnapshotID: "stellar", FromVersion: 100, Removed: []string{"p1"}, Updated: []engine.PoolEdge{p1}}, "both updated and removed"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Patch(old, tc.diff)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.want)
		})
	}

	_, err := Patch(nil, &differ.SnapshotDiff{})
	assert.Error(t, err)
}

// Patching old with the diff of (old, new) reproduces new up to pool order.
func TestPatch_InvertsDiff(t *testing.T) {
	d, err := differ.NewSnapshotDiffer(&differ.Config{
		Registry: prometheus.NewRegistry(),
		Logger:   slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	require.NoError(t, err)

	p3Updated := p3
	p3Updated.Fee = 0.01
	p5 := engine.PoolEdge{AssetA: "USDC", AssetB: "EURC", Liquidity: 0.99, Protocol: "phoenix"}

	old := makeSnapshot(7, p1, p2, p3)
	next := makeSnapshot(8, p3Updated, p5, p1)

	diff, err := d.Diff(old, next)
	require.NoError(t, err)

	patched, err := Patch(old, diff)
	require.NoError(t, err)
	assert.ElementsMatch(t, next.Pools, patched.Pools)
	assert.Equal(t, next.Version, patched.Version)
}
