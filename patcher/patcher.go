package patcher

import (
	"errors"
	"fmt"
	"slices"

	"github.com/defistate/defistate-router-go/differ"
	"github.com/defistate/defistate-router-go/engine"
)

// Patch creates a new Snapshot by applying diff to old. The old snapshot is
// never mutated: the new one owns a fresh pool slice. Untouched pools keep
// their position, updated pools are replaced in place, removed pools are
// dropped and added pools are appended in diff order.
func Patch(old *engine.Snapshot, diff *differ.SnapshotDiff) (*engine.Snapshot, error) {
	if old == nil || diff == nil {
		return nil, errors.New("patcher: snapshot and diff cannot be nil")
	}

	// 1. Integrity checks
	if old.ID != diff.SnapshotID {
		return nil, fmt.Errorf("patcher: mismatch snapshot id (snapshot=%s, diff=%s)", old.ID, diff.SnapshotID)
	}
	if old.Version != diff.FromVersion {
		return nil, fmt.Errorf("patcher: mismatch fromVersion (snapshot=%d, diff=%d)", old.Version, diff.FromVersion)
	}

	positions := make(map[string]int, len(old.Pools))
	for i, pool := range old.Pools {
		positions[pool.Key()] = i
	}

	// 2. Copy, then apply removals and updates by position
	pools := slices.Clone(old.Pools)
	removed := make(map[int]struct{}, len(diff.Removed))
	for _, key := range diff.Removed {
		i, ok := positions[key]
		if !ok {
			return nil, fmt.Errorf("patcher: removed pool %s does not exist", key)
		}
		removed[i] = struct{}{}
	}
	for _, pool := range diff.Updated {
		i, ok := positions[pool.Key()]
		if !ok {
			return nil, fmt.Errorf("patcher: updated pool %s does not exist", pool.Key())
		}
		if _, gone := removed[i]; gone {
			return nil, fmt.Errorf("patcher: pool %s is both updated and removed", pool.Key())
		}
		pools[i] = pool
	}

	next := make([]engine.PoolEdge, 0, len(pools)-len(removed)+len(diff.Added))
	for i, pool := range pools {
		if _, gone := removed[i]; !gone {
			next = append(next, pool)
		}
	}

	// 3. Additions
	for _, pool := range diff.Added {
		if i, exists := positions[pool.Key()]; exists {
			if _, gone := removed[i]; !gone {
				return nil, fmt.Errorf("patcher: added pool %s already exists", pool.Key())
			}
		}
		next = append(next, pool)
	}

	return &engine.Snapshot{
		ID:        old.ID,
		Version:   diff.ToVersion,
		Timestamp: diff.Timestamp,
		Pools:     next,
	}, nil
}
