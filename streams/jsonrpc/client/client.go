package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/defistate/defistate-router-go/differ"
	"github.com/defistate/defistate-router-go/engine"
	"github.com/defistate/defistate-router-go/streams/jsonrpc"
	"github.com/ethereum/go-ethereum/rpc"
)

// Constants for reconnection logic
const (
	initialReconnectDelay = 1 * time.Second
	maxReconnectDelay     = 30 * time.Second

	getSnapshotMethod = jsonrpc.Namespace + "_getSnapshot"
)

// Logger defines a standard interface for structured, leveled logging.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SnapshotStore receives the snapshots and diffs read from the stream.
// *graphcache.Cache satisfies it.
type SnapshotStore interface {
	Put(snapshot *engine.Snapshot) error
	Apply(diff *differ.SnapshotDiff) (*engine.Snapshot, error)
}

// ResyncFunc fetches the current snapshot for id after the stream skipped a
// version.
type ResyncFunc func(id string) (*engine.Snapshot, error)

// Config holds the configuration for the client.
type Config struct {
	URL        string
	Logger     Logger
	BufferSize uint
	Store      SnapshotStore
}

// validate checks if the configuration is valid.
func (c *Config) validate() error {
	if c.URL == "" {
		return errors.New("config: URL is required")
	}
	if c.BufferSize < 1 {
		return errors.New("config: BufferSize must be greater than 0")
	}
	if c.Logger == nil {
		return errors.New("config: Logger is required")
	}
	if c.Store == nil {
		return errors.New("config: Store is required")
	}
	return nil
}

// -----------------------------------------------------------------------------
// StreamProcessor
// -----------------------------------------------------------------------------

// StreamProcessor parses snapshot stream events, keeps the store in step with
// the stream and broadcasts every stored snapshot. It is decoupled from the
// networking layer and must be driven from one goroutine.
type StreamProcessor struct {
	store    SnapshotStore
	versions map[string]uint64
	resync   ResyncFunc
	updateCh chan *engine.Snapshot
	logger   Logger
}

// NewStreamProcessor creates a pure logic processor without networking.
func NewStreamProcessor(logger Logger, bufferSize uint, store SnapshotStore) *StreamProcessor {
	return &StreamProcessor{
		store:    store,
		versions: make(map[string]uint64),
		updateCh: make(chan *engine.Snapshot, bufferSize),
		logger:   logger,
	}
}

// SetResync installs the fetch used to recover from a skipped version. Without
// one, diffs after a gap are discarded until the next full snapshot.
func (sp *StreamProcessor) SetResync(resync ResyncFunc) {
	sp.resync = resync
}

// Updates returns a read-only channel receiving every stored snapshot.
func (sp *StreamProcessor) Updates() <-chan *engine.Snapshot {
	return sp.updateCh
}

// Version returns the last stored version of snapshot id.
func (sp *StreamProcessor) Version(id string) (uint64, bool) {
	v, ok := sp.versions[id]
	return v, ok
}

// ProcessMessage accepts a raw JSON event, applies it to the store and
// broadcasts the resulting snapshot.
func (sp *StreamProcessor) ProcessMessage(rawData json.RawMessage) error {
	processingStart := time.Now()
	var event jsonrpc.SubscriptionEvent

	if err := json.Unmarshal(rawData, &event); err != nil {
		return fmt.Errorf("failed to unmarshal subscription event: %w", err)
	}

	switch event.Type {
	case jsonrpc.EventFull:
		return sp.handleFull(event, processingStart)
	case jsonrpc.EventDiff:
		return sp.handleDiff(event, processingStart)
	default:
		return fmt.Errorf("received unknown event type: %s", event.Type)
	}
}

func (sp *StreamProcessor) handleFull(event jsonrpc.SubscriptionEvent, start time.Time) error {
	var snapshot engine.Snapshot
	if err := json.Unmarshal(event.Payload, &snapshot); err != nil {
		return fmt.Errorf("failed to unmarshal full snapshot payload: %w", err)
	}
	if err := sp.store.Put(&snapshot); err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", snapshot.ID, err)
	}
	sp.publish(&snapshot, event.SentAt, start, jsonrpc.EventFull)
	return nil
}

func (sp *StreamProcessor) handleDiff(event jsonrpc.SubscriptionEvent, start time.Time) error {
	var diff differ.SnapshotDiff
	if err := json.Unmarshal(event.Payload, &diff); err != nil {
		return fmt.Errorf("failed to unmarshal diff payload: %w", err)
	}

	last, ok := sp.versions[diff.SnapshotID]
	if !ok {
		return fmt.Errorf("received diff before full snapshot; snapshot: %s, from_version: %d, to_version: %d",
			diff.SnapshotID, diff.FromVersion, diff.ToVersion)
	}
	if diff.ToVersion <= last {
		sp.logger.Debug("ignoring stale diff", "snapshot", diff.SnapshotID, "version", last, "diff_to_version", diff.ToVersion)
		return nil
	}
	if diff.FromVersion != last {
		sp.logger.Warn(
			"received out-of-order diff; snapshot may be out of sync",
			"snapshot", diff.SnapshotID,
			"last_known_version", last,
			"diff_from_version", diff.FromVersion,
			"diff_to_version", diff.ToVersion,
		)
		return sp.resynchronize(diff.SnapshotID, event.SentAt, start)
	}

	snapshot, err := sp.store.Apply(&diff)
	if err != nil {
		return fmt.Errorf("failed to patch snapshot %s: %w", diff.SnapshotID, err)
	}
	sp.publish(snapshot, event.SentAt, start, jsonrpc.EventDiff)
	return nil
}

func (sp *StreamProcessor) resynchronize(id string, sentAt int64, start time.Time) error {
	if sp.resync == nil {
		return nil // Non-fatal, waits for the next full snapshot
	}
	snapshot, err := sp.resync(id)
	if err != nil {
		return fmt.Errorf("failed to resynchronize snapshot %s: %w", id, err)
	}
	if err := sp.store.Put(snapshot); err != nil {
		return fmt.Errorf("failed to store snapshot %s: %w", id, err)
	}
	sp.publish(snapshot, sentAt, start, "resync")
	return nil
}

func (sp *StreamProcessor) publish(snapshot *engine.Snapshot, sentAt int64, start time.Time, eventType string) {
	sp.versions[snapshot.ID] = snapshot.Version

	processingDur := time.Since(start)
	transportTime := start.Sub(time.Unix(0, sentAt))
	sp.logger.Debug("Snapshot Processed",
		"snapshot", snapshot.ID,
		"version", snapshot.Version,
		"type", eventType,
		"pools", len(snapshot.Pools),
		"latency_transport_ms", transportTime.Milliseconds(),
		"latency_proc_ms", processingDur.Milliseconds(),
	)
	sp.updateCh <- snapshot
}

// -----------------------------------------------------------------------------
// Client (Networking Wrapper)
// -----------------------------------------------------------------------------

// Client follows a router snapshot stream and uses StreamProcessor for logic.
type Client struct {
	processor *StreamProcessor
	errCh     chan error
	logger    Logger
}

// NewClient creates a new client with networking enabled.
func NewClient(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}

	client := &Client{
		processor: NewStreamProcessor(cfg.Logger, cfg.BufferSize, cfg.Store),
		errCh:     make(chan error, 1),
		logger:    cfg.Logger,
	}

	go client.run(ctx, cfg.URL)
	return client, nil
}

// Updates delegates to the processor's update channel.
func (c *Client) Updates() <-chan *engine.Snapshot {
	return c.processor.Updates()
}

// Err returns a read-only channel for receiving fatal (unrecoverable) errors.
// It is closed when the client stops.
func (c *Client) Err() <-chan error {
	return c.errCh
}

// run handles the networking lifecycle and feeds data to the processor.
func (c *Client) run(ctx context.Context, url string) {
	defer close(c.errCh)
	reconnectDelay := initialReconnectDelay

	for {
		if ctx.Err() != nil {
			c.logger.Info("Client context canceled, shutting down.")
			return
		}

		c.logger.Info("Attempting to connect to RPC server", "url", url)
		rpcClient, err := rpc.DialContext(ctx, url)
		if err != nil {
			c.logger.Error("Failed to connect to RPC server, will retry...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
			continue
		}

		c.logger.Info("Successfully connected to RPC server.")
		reconnectDelay = initialReconnectDelay

		err = c.subscribeAndProcess(ctx, rpcClient)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				c.logger.Info("Context canceled, shutting down.")
				return
			}
			c.logger.Error("Subscription failed, will reconnect...", "error", err, "delay", reconnectDelay)
			if !sleep(ctx, reconnectDelay) {
				return
			}
			reconnectDelay = min(reconnectDelay*2, maxReconnectDelay)
		}
	}
}

func (c *Client) subscribeAndProcess(ctx context.Context, rpcClient *rpc.Client) error {
	defer rpcClient.Close()

	c.processor.SetResync(func(id string) (*engine.Snapshot, error) {
		var snapshot engine.Snapshot
		if err := rpcClient.CallContext(ctx, &snapshot, getSnapshotMethod, id); err != nil {
			return nil, err
		}
		return &snapshot, nil
	})

	rawCh := make(chan json.RawMessage)
	sub, err := rpcClient.Subscribe(ctx, jsonrpc.Namespace, rawCh, jsonrpc.SnapshotStreamMethod)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}
	defer sub.Unsubscribe()

	c.logger.Info("Successfully subscribed. Waiting for data...")
	for {
		select {
		case rawData := <-rawCh:
			if err := c.processor.ProcessMessage(rawData); err != nil {
				c.logger.Error("Error processing message", "error", err)
			}
		case err := <-sub.Err():
			return err
		case <-ctx.Done():
			c.logger.Info("Context cancelled, stopping subscription.")
			return ctx.Err()
		}
	}
}

// sleep waits for d and reports false if ctx ended first.
func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-time.After(d):
		return true
	case <-ctx.Done():
		return false
	}
}
