package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/defistate/defistate-router-go/bundle"
	"github.com/defistate/defistate-router-go/differ"
	"github.com/defistate/defistate-router-go/engine"
	"github.com/defistate/defistate-router-go/grapher"
	"github.com/defistate/defistate-router-go/mevpolicy"
	"github.com/defistate/defistate-router-go/router"
	"github.com/defistate/defistate-router-go/streams/jsonrpc"
	"github.com/ethereum/go-ethereum/rpc"
)

// GraphSource selects the graph a request runs on: a cached snapshot or an
// inline pool set.
type GraphSource struct {
	SnapshotID string            `json:"snapshotId,omitempty"`
	Pools      []engine.PoolEdge `json:"pools,omitempty"`
}

type FindRouteArgs struct {
	GraphSource
	Request engine.RouteRequest `json:"request"`
}

type QuoteArgs struct {
	GraphSource
	Request engine.QuoteRequest `json:"request"`
}

type BatchQuoteArgs struct {
	GraphSource
	Requests []engine.QuoteRequest `json:"requests"`
}

type ScanArgs struct {
	GraphSource
	// Params defaults to the router scan configuration.
	Params *grapher.ScanParams `json:"params,omitempty"`
}

type BundleArgs struct {
	Operations       []bundle.OperationSpec `json:"operations"`
	Atomic           bool                   `json:"atomic"`
	Account          string                 `json:"account"`
	StartingSequence uint64                 `json:"startingSequence"`
}

// AddressValidation is the answer to validateAddress.
type AddressValidation struct {
	Valid  bool   `json:"valid"`
	Reason string `json:"reason,omitempty"`
}

// SnapshotInfo describes a stored snapshot.
type SnapshotInfo struct {
	ID      string `json:"id"`
	Version uint64 `json:"version"`
	Pools   int    `json:"pools"`
}

// API is the router JSON-RPC service. Malformed requests fail with an RPC
// error; requests that are well formed but have no answer report it in the
// result.
type API struct {
	router *router.Router
	logger Logger
	feed   *feed
	// streamMu orders snapshot writes with the events that announce them.
	streamMu sync.Mutex
}

// NewAPI creates the router API from cfg.
func NewAPI(cfg *Config) (*API, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	buffer := cfg.BufferSize
	if buffer == 0 {
		buffer = DefaultBufferSize
	}
	return &API{
		router: cfg.Router,
		logger: cfg.Logger,
		feed:   newFeed(buffer),
	}, nil
}

func (api *API) graph(src GraphSource) (*grapher.Graph, error) {
	switch {
	case src.SnapshotID != "" && len(src.Pools) > 0:
		return nil, engine.Malformed("set either snapshotId or pools, not both")
	case src.SnapshotID != "":
		return api.router.Graph(src.SnapshotID)
	case len(src.Pools) > 0:
		g, _, err := api.router.BuildGraph(src.Pools)
		return g, err
	}
	return nil, engine.Malformed("snapshotId or pools is required")
}

// FindRoute finds the best route for a known input amount.
func (api *API) FindRoute(ctx context.Context, args FindRouteArgs) (router.RouteResult, error) {
	g, err := api.graph(args.GraphSource)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			return router.RouteResult{Reason: err.Error()}, nil
		}
		return router.RouteResult{}, toRPCError(err)
	}
	result, err := api.router.FindRoute(ctx, g, args.Request)
	return result, toRPCError(err)
}

// Quote prices receiving a destination amount.
func (api *API) Quote(ctx context.Context, args QuoteArgs) (router.QuoteResult, error) {
	g, err := api.graph(args.GraphSource)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			return router.QuoteResult{Reason: err.Error()}, nil
		}
		return router.QuoteResult{}, toRPCError(err)
	}
	result, err := api.router.Quote(ctx, g, args.Request)
	return result, toRPCError(err)
}

// BatchQuote quotes every request over one graph, in request order.
func (api *API) BatchQuote(ctx context.Context, args BatchQuoteArgs) (router.BatchQuoteResult, error) {
	g, err := api.graph(args.GraphSource)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			results := make([]router.QuoteResult, len(args.Requests))
			for i := range results {
				results[i].Reason = err.Error()
			}
			return router.BatchQuoteResult{Results: results}, nil
		}
		return router.BatchQuoteResult{}, toRPCError(err)
	}
	result, err := api.router.BatchQuote(ctx, g, args.Requests)
	return result, toRPCError(err)
}

// ScanArbitrage searches the graph for profitable cycles.
func (api *API) ScanArbitrage(ctx context.Context, args ScanArgs) (grapher.ScanResult, error) {
	g, err := api.graph(args.GraphSource)
	if err != nil {
		return grapher.ScanResult{}, toRPCError(err)
	}
	params := api.router.Config().Scan
	if args.Params != nil {
		params = *args.Params
	}
	result, err := api.router.ScanArbitrage(ctx, g, params)
	return result, toRPCError(err)
}

// BuildBundle places operations into a bundle.
func (api *API) BuildBundle(args BundleArgs) (bundle.Bundle, error) {
	b, err := api.router.BuildBundle(args.Operations, args.Atomic, args.Account, args.StartingSequence)
	return b, toRPCError(err)
}

// EvaluateMEV scores an MEV protection configuration.
func (api *API) EvaluateMEV(cfg engine.MEVConfig) mevpolicy.Assessment {
	return api.router.EvaluateMEV(cfg)
}

// ValidateAddress reports whether account is a well formed account id.
func (api *API) ValidateAddress(account string) AddressValidation {
	if err := api.router.ValidateAddress(account); err != nil {
		return AddressValidation{Reason: err.Error()}
	}
	return AddressValidation{Valid: true}
}

// Info reports the router version and totals.
func (api *API) Info() router.Info {
	return api.router.Info()
}

func (api *API) cache() error {
	if api.router.Cache() == nil {
		return toRPCError(engine.Unavailable("graph cache is not configured"))
	}
	return nil
}

// PutSnapshot stores a snapshot and streams it to subscribers.
func (api *API) PutSnapshot(snapshot engine.Snapshot) (SnapshotInfo, error) {
	if err := api.cache(); err != nil {
		return SnapshotInfo{}, err
	}
	api.streamMu.Lock()
	defer api.streamMu.Unlock()
	if err := api.router.Cache().Put(&snapshot); err != nil {
		return SnapshotInfo{}, toRPCError(err)
	}
	api.publish(jsonrpc.EventFull, snapshot)
	return SnapshotInfo{ID: snapshot.ID, Version: snapshot.Version, Pools: len(snapshot.Pools)}, nil
}

// ApplySnapshotDiff patches a stored snapshot and streams the diff to
// subscribers.
func (api *API) ApplySnapshotDiff(diff differ.SnapshotDiff) (SnapshotInfo, error) {
	if err := api.cache(); err != nil {
		return SnapshotInfo{}, err
	}
	api.streamMu.Lock()
	defer api.streamMu.Unlock()
	patched, err := api.router.Cache().Apply(&diff)
	if err != nil {
		return SnapshotInfo{}, toRPCError(err)
	}
	api.publish(jsonrpc.EventDiff, diff)
	return SnapshotInfo{ID: patched.ID, Version: patched.Version, Pools: len(patched.Pools)}, nil
}

// GetSnapshot returns the stored snapshot for id.
func (api *API) GetSnapshot(id string) (*engine.Snapshot, error) {
	if err := api.cache(); err != nil {
		return nil, err
	}
	snapshot, ok := api.router.Cache().Snapshot(id)
	if !ok {
		return nil, toRPCError(engine.Unavailable("snapshot %s is not cached", id))
	}
	return snapshot, nil
}

// SubscribeSnapshotStream streams every stored snapshot as a full event, then
// each later change as it is stored.
func (api *API) SubscribeSnapshotStream(ctx context.Context) (*rpc.Subscription, error) {
	notifier, supported := rpc.NotifierFromContext(ctx)
	if !supported {
		return nil, rpc.ErrNotificationsUnsupported
	}

	rpcSub := notifier.CreateSubscription()
	id, events, initial, err := api.subscribe()
	if err != nil {
		return nil, toRPCError(err)
	}

	go func() {
		defer api.feed.unsubscribe(id)
		for _, event := range initial {
			if err := notifier.Notify(rpcSub.ID, event); err != nil {
				api.logger.Warn("failed to notify subscriber", "subscription", rpcSub.ID, "error", err)
				return
			}
		}
		for {
			select {
			case event := <-events:
				event.SentAt = time.Now().UnixNano()
				if err := notifier.Notify(rpcSub.ID, event); err != nil {
					api.logger.Warn("failed to notify subscriber", "subscription", rpcSub.ID, "error", err)
					return
				}
			case <-rpcSub.Err():
				api.logger.Debug("snapshot stream subscription closed", "subscription", rpcSub.ID)
				return
			}
		}
	}()
	api.logger.Info("snapshot stream subscribed", "subscription", rpcSub.ID, "snapshots", len(initial))
	return rpcSub, nil
}

// subscribe registers a stream consumer together with the full events that
// bring it up to date. No write can land between the two.
func (api *API) subscribe() (uint64, <-chan jsonrpc.SubscriptionEvent, []jsonrpc.SubscriptionEvent, error) {
	api.streamMu.Lock()
	defer api.streamMu.Unlock()

	var initial []jsonrpc.SubscriptionEvent
	if cache := api.router.Cache(); cache != nil {
		for _, snapshot := range cache.Snapshots() {
			event, err := newEvent(jsonrpc.EventFull, snapshot)
			if err != nil {
				return 0, nil, nil, err
			}
			initial = append(initial, event)
		}
	}
	id, events := api.feed.subscribe()
	return id, events, initial, nil
}

func (api *API) publish(eventType string, payload any) {
	event, err := newEvent(eventType, payload)
	if err != nil {
		api.logger.Error("failed to encode stream event", "type", eventType, "error", err)
		return
	}
	if dropped := api.feed.publish(event); dropped > 0 {
		api.logger.Warn("slow subscribers missed a stream event", "type", eventType, "subscribers", dropped)
	}
}

func newEvent(eventType string, payload any) (jsonrpc.SubscriptionEvent, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return jsonrpc.SubscriptionEvent{}, fmt.Errorf("encode %s event: %w", eventType, err)
	}
	return jsonrpc.SubscriptionEvent{Type: eventType, Payload: data, SentAt: time.Now().UnixNano()}, nil
}
