package graphcache

import (
	"errors"
	"fmt"
	"slices"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/defistate/defistate-router-go/differ"
	"github.com/defistate/defistate-router-go/engine"
	"github.com/defistate/defistate-router-go/grapher"
	"github.com/defistate/defistate-router-go/patcher"
	"golang.org/x/sync/singleflight"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// BuildFunc turns a pool set into a graph.
type BuildFunc func(pools []engine.PoolEdge) (*grapher.Graph, error)

type entry struct {
	snapshot *engine.Snapshot
	// generation distinguishes entries that share a snapshot version.
	generation uint64
	graph      atomic.Pointer[grapher.Graph]
}

// Cache keeps the latest snapshot per identifier and the graph built from it.
// At most one build runs per snapshot version, and a graph is only published
// while its snapshot is still current.
type Cache struct {
	mu         sync.RWMutex
	entries    map[string]*entry
	generation uint64
	group      singleflight.Group

	build  BuildFunc
	differ *differ.SnapshotDiffer
	logger Logger
}

// Option configures the Cache.
type Option interface {
	apply(*Cache)
}

type funcOption func(*Cache)

func (f funcOption) apply(c *Cache) {
	f(c)
}

func newOption(f func(*Cache)) Option {
	return funcOption(f)
}

// WithBuildFunc replaces grapher.Build.
func WithBuildFunc(build BuildFunc) Option {
	return newOption(func(c *Cache) {
		c.build = build
	})
}

// WithDiffer lets Put keep the cached graph when a new snapshot version
// carries no pool changes.
func WithDiffer(d *differ.SnapshotDiffer) Option {
	return newOption(func(c *Cache) {
		c.differ = d
	})
}

// New creates an empty cache.
func New(logger Logger, opts ...Option) (*Cache, error) {
	if logger == nil {
		return nil, errors.New("config: Logger cannot be nil")
	}
	c := &Cache{
		entries: make(map[string]*entry),
		build:   grapher.Build,
		logger:  logger,
	}
	for _, opt := range opts {
		opt.apply(c)
	}
	return c, nil
}

// Put stores snapshot as the current version of its identifier. Older
// versions than the cached one are refused.
func (c *Cache) Put(snapshot *engine.Snapshot) error {
	if snapshot == nil || snapshot.ID == "" {
		return engine.Malformed("snapshot id is required")
	}
	next := cloneSnapshot(snapshot)

	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.entries[next.ID]
	if exists && next.Version < current.snapshot.Version {
		return fmt.Errorf("graphcache: snapshot %s version %d is older than cached version %d",
			next.ID, next.Version, current.snapshot.Version)
	}

	replacement := c.newEntry(next)
	if exists && c.differ != nil {
		diff, err := c.differ.Diff(current.snapshot, next)
		if err != nil {
			return fmt.Errorf("graphcache: %w", err)
		}
		if diff.Empty() {
			replacement.graph.Store(current.graph.Load())
		}
	}
	c.entries[next.ID] = replacement
	c.logger.Debug("snapshot stored", "snapshot", next.ID, "version", next.Version, "pools", len(next.Pools))
	return nil
}

// Apply patches the cached snapshot with diff and returns the new snapshot.
// A diff without pool changes keeps the cached graph.
func (c *Cache) Apply(diff *differ.SnapshotDiff) (*engine.Snapshot, error) {
	if diff == nil {
		return nil, engine.Malformed("diff is required")
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	current, exists := c.entries[diff.SnapshotID]
	if !exists {
		return nil, engine.Unavailable("snapshot %s is not cached", diff.SnapshotID)
	}
	patched, err := patcher.Patch(current.snapshot, diff)
	if err != nil {
		return nil, err
	}

	replacement := c.newEntry(patched)
	if diff.Empty() {
		replacement.graph.Store(current.graph.Load())
	}
	c.entries[diff.SnapshotID] = replacement
	c.logger.Debug("snapshot patched",
		"snapshot", diff.SnapshotID,
		"version", patched.Version,
		"added", len(diff.Added),
		"updated", len(diff.Updated),
		"removed", len(diff.Removed),
	)
	return cloneSnapshot(patched), nil
}

// Snapshot returns a copy of the cached snapshot for id.
func (c *Cache) Snapshot(id string) (*engine.Snapshot, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	current, ok := c.entries[id]
	if !ok {
		return nil, false
	}
	return cloneSnapshot(current.snapshot), true
}

// Snapshots returns copies of every cached snapshot ordered by id.
func (c *Cache) Snapshots() []*engine.Snapshot {
	c.mu.RLock()
	defer c.mu.RUnlock()
	snapshots := make([]*engine.Snapshot, 0, len(c.entries))
	for _, e := range c.entries {
		snapshots = append(snapshots, cloneSnapshot(e.snapshot))
	}
	slices.SortFunc(snapshots, func(a, b *engine.Snapshot) int {
		return strings.Compare(a.ID, b.ID)
	})
	return snapshots
}

// Graph returns the graph of the current snapshot for id, building it on
// first use. Concurrent callers share one build. A build that finishes after
// the snapshot changed is returned to its callers but not cached.
func (c *Cache) Graph(id string) (*grapher.Graph, error) {
	current, ok := c.current(id)
	if !ok {
		return nil, engine.Unavailable("snapshot %s is not cached", id)
	}
	if g := current.graph.Load(); g != nil {
		return g, nil
	}

	key := fmt.Sprintf("%s@%d#%d", id, current.snapshot.Version, current.generation)
	v, err, _ := c.group.Do(key, func() (any, error) {
		if g := current.graph.Load(); g != nil {
			return g, nil
		}
		g, err := c.build(current.snapshot.Pools)
		if err != nil {
			return nil, err
		}

		c.mu.Lock()
		defer c.mu.Unlock()
		if c.entries[id] != current {
			c.logger.Warn("discarding graph of replaced snapshot", "snapshot", id, "version", current.snapshot.Version)
			return g, nil
		}
		current.graph.Store(g)
		c.logger.Debug("graph built",
			"snapshot", id,
			"version", current.snapshot.Version,
			"assets", len(g.Assets()),
			"rejected", len(g.Rejected()),
		)
		return g, nil
	})
	if err != nil {
		return nil, fmt.Errorf("graphcache: build %s: %w", key, err)
	}
	return v.(*grapher.Graph), nil
}

// Invalidate drops the snapshot and graph cached for id.
func (c *Cache) Invalidate(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, id)
}

// Len returns the number of cached snapshots.
func (c *Cache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}

// newEntry must be called with c.mu held.
func (c *Cache) newEntry(snapshot *engine.Snapshot) *entry {
	c.generation++
	return &entry{snapshot: snapshot, generation: c.generation}
}

func (c *Cache) current(id string) (*entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	current, ok := c.entries[id]
	return current, ok
}

func cloneSnapshot(snapshot *engine.Snapshot) *engine.Snapshot {
	return &engine.Snapshot{
		ID:        snapshot.ID,
		Version:   snapshot.Version,
		Timestamp: snapshot.Timestamp,
		Pools:     slices.Clone(snapshot.Pools),
	}
}
