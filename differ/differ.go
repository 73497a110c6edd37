package differ

import (
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-router-go/engine"
	"github.com/prometheus/client_golang/prometheus"
)

// Config holds the dependencies of a SnapshotDiffer.
type Config struct {
	Registry prometheus.Registerer
	Logger   Logger
}

// validate checks if the configuration is valid, ensuring required dependencies are present.
func (c *Config) validate() error {
	if c.Registry == nil {
		return errors.New("config: Registry cannot be nil")
	}
	if c.Logger == nil {
		return errors.New("config: Logger cannot be nil")
	}
	return nil
}

// SnapshotDiffer computes pool-level diffs between snapshot versions.
type SnapshotDiffer struct {
	metrics *Metrics
	logger  Logger
}

// NewSnapshotDiffer constructs a new differ from a configuration, returning an error if the config is invalid.
func NewSnapshotDiffer(cfg *Config) (*SnapshotDiffer, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &SnapshotDiffer{
		metrics: NewMetrics(cfg.Registry),
		logger:  cfg.Logger,
	}, nil
}

// Diff compares two versions of the same snapshot. Added and updated pools
// follow their order in new, removed keys their order in old.
func (d *SnapshotDiffer) Diff(old, new *engine.Snapshot) (*SnapshotDiff, error) {
	timer := prometheus.NewTimer(d.metrics.diffDuration.WithLabelValues())
	defer timer.ObserveDuration()

	diff, err := diffSnapshots(old, new)
	if err != nil {
		d.metrics.diffErrors.Inc()
		d.logger.Warn("snapshot diff failed", "error", err)
		return nil, err
	}

	d.metrics.poolChanges.WithLabelValues("added").Add(float64(len(diff.Added)))
	d.metrics.poolChanges.WithLabelValues("updated").Add(float64(len(diff.Updated)))
	d.metrics.poolChanges.WithLabelValues("removed").Add(float64(len(diff.Removed)))
	d.logger.Debug("snapshot diffed",
		"snapshot", diff.SnapshotID,
		"from", diff.FromVersion,
		"to", diff.ToVersion,
		"added", len(diff.Added),
		"updated", len(diff.Updated),
		"removed", len(diff.Removed),
	)
	return diff, nil
}

func diffSnapshots(old, new *engine.Snapshot) (*SnapshotDiff, error) {
	if old == nil || new == nil {
		return nil, errors.New("differ: snapshots cannot be nil")
	}
	if old.ID != new.ID {
		return nil, fmt.Errorf("differ: snapshot id mismatch (old=%s, new=%s)", old.ID, new.ID)
	}
	if new.Version < old.Version {
		return nil, fmt.Errorf("differ: version went backwards (old=%d, new=%d)", old.Version, new.Version)
	}

	oldPools, err := indexPools(old.Pools)
	if err != nil {
		return nil, fmt.Errorf("differ: old snapshot: %w", err)
	}
	newPools, err := indexPools(new.Pools)
	if err != nil {
		return nil, fmt.Errorf("differ: new snapshot: %w", err)
	}

	timestamp := new.Timestamp
	if timestamp.IsZero() {
		timestamp = time.Now()
	}
	diff := &SnapshotDiff{
		SnapshotID:  new.ID,
		FromVersion: old.Version,
		ToVersion:   new.Version,
		Timestamp:   timestamp,
	}

	for _, pool := range new.Pools {
		prev, exists := oldPools[pool.Key()]
		if !exists {
			diff.Added = append(diff.Added, pool)
		} else if prev != pool {
			diff.Updated = append(diff.Updated, pool)
		}
	}
	for _, pool := range old.Pools {
		if _, exists := newPools[pool.Key()]; !exists {
			diff.Removed = append(diff.Removed, pool.Key())
		}
	}
	return diff, nil
}

func indexPools(pools []engine.PoolEdge) (map[string]engine.PoolEdge, error) {
	index := make(map[string]engine.PoolEdge, len(pools))
	for _, pool := range pools {
		key := pool.Key()
		if _, exists := index[key]; exists {
			return nil, fmt.Errorf("duplicate pool %s", key)
		}
		index[key] = pool
	}
	return index, nil
}
