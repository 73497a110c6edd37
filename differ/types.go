package differ

import (
	"time"

	"github.com/defistate/defistate-router-go/engine"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SnapshotDiff summarizes the pool changes from one snapshot version to the next.
type SnapshotDiff struct {
	SnapshotID  string    `json:"snapshotId"`
	FromVersion uint64    `json:"fromVersion"`
	ToVersion   uint64    `json:"toVersion"`
	Timestamp   time.Time `json:"timestamp"`

	Added   []engine.PoolEdge `json:"added,omitempty"`
	Updated []engine.PoolEdge `json:"updated,omitempty"`
	// Removed holds pool keys.
	Removed []string `json:"removed,omitempty"`
}

// Empty reports whether the diff changes no pool.
func (d *SnapshotDiff) Empty() bool {
	return len(d.Added) == 0 && len(d.Updated) == 0 && len(d.Removed) == 0
}
