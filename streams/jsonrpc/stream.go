// Package jsonrpc holds the wire types shared by the router RPC server and the
// snapshot stream client.
package jsonrpc

import "encoding/json"

const (
	// Namespace is the RPC namespace the router API is registered under.
	Namespace = "router"
	// SnapshotStreamMethod is the subscription that streams snapshot changes.
	SnapshotStreamMethod = "subscribeSnapshotStream"
)

// Event types carried by SubscriptionEvent.
const (
	EventFull = "full"
	EventDiff = "diff"
)

// SubscriptionEvent wraps one snapshot stream message. A full event carries an
// engine.Snapshot, a diff event a differ.SnapshotDiff.
type SubscriptionEvent struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
	// SentAt is the server send time in Unix nanoseconds.
	SentAt int64 `json:"sentAt"`
}
