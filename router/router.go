package router

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/defistate/defistate-router-go/bundle"
	"github.com/defistate/defistate-router-go/engine"
	"github.com/defistate/defistate-router-go/graphcache"
	"github.com/defistate/defistate-router-go/grapher"
	"github.com/defistate/defistate-router-go/mevpolicy"
	"github.com/defistate/defistate-router-go/quote"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// Router serves routing, quoting, scanning and bundling requests over graphs
// built from pool snapshots. It keeps no per-request state and is safe for
// concurrent use.
type Router struct {
	cfg        Config
	logger     Logger
	registerer prometheus.Registerer
	metrics    *Metrics
	validator  bundle.AddressValidator
	builder    *bundle.Builder
	policy     *mevpolicy.Policy
	cache      *graphcache.Cache

	searches    atomic.Int64
	searchNanos atomic.Int64
	quotes      atomic.Int64
	scans       atomic.Int64
	bundles     atomic.Int64
}

// New creates a Router. Without options it uses DefaultConfig, discards logs
// and registers metrics with a private registry.
func New(opts ...Option) (*Router, error) {
	r := &Router{
		cfg:       DefaultConfig(),
		validator: StellarAddressValidator{},
	}
	for _, opt := range opts {
		opt.apply(r)
	}
	if err := r.cfg.validate(); err != nil {
		return nil, err
	}
	if r.logger == nil {
		r.logger = slog.New(slog.DiscardHandler)
	}
	if r.registerer == nil {
		r.registerer = prometheus.NewRegistry()
	}

	r.metrics = NewMetrics(r.registerer)
	r.builder = bundle.NewBuilder(
		bundle.WithBaseCost(r.cfg.BundleBaseCost),
		bundle.WithMaxOperations(r.cfg.MaxBundleOperations),
		bundle.WithAddressValidator(r.validator),
	)
	r.policy = mevpolicy.New(r.cfg.MaxPriorityFee)
	return r, nil
}

// Config returns the router configuration.
func (r *Router) Config() Config {
	return r.cfg
}

// BuildReport describes a graph build.
type BuildReport struct {
	Assets   int                   `json:"assets"`
	Pools    int                   `json:"pools"`
	Rejected []engine.RejectedEdge `json:"rejected"`
	Elapsed  time.Duration         `json:"elapsed"`
}

// BuildGraph builds a graph from pools, logging every rejected pool.
func (r *Router) BuildGraph(pools []engine.PoolEdge) (*grapher.Graph, BuildReport, error) {
	started := time.Now()
	g, err := grapher.Build(pools)
	if err != nil {
		return nil, BuildReport{}, err
	}
	rejected := g.Rejected()
	for _, edge := range rejected {
		r.logger.Warn("pool rejected", "index", edge.Index, "pool", edge.Pool.Key(), "reason", edge.Reason)
	}
	r.metrics.rejectedEdges.Add(float64(len(rejected)))
	return g, BuildReport{
		Assets:   len(g.Assets()),
		Pools:    len(g.Pools()),
		Rejected: rejected,
		Elapsed:  time.Since(started),
	}, nil
}

// Graph returns the cached graph of a snapshot.
func (r *Router) Graph(snapshotID string) (*grapher.Graph, error) {
	if r.cache == nil {
		return nil, engine.Unavailable("graph cache is not configured")
	}
	return r.cache.Graph(snapshotID)
}

// Cache returns the graph cache, or nil when none is configured.
func (r *Router) Cache() *graphcache.Cache {
	return r.cache
}

// RouteResult is the answer to a route request. Reason is set when the route
// is not available.
type RouteResult struct {
	Available bool          `json:"available"`
	Reason    string        `json:"reason,omitempty"`
	Route     *engine.Route `json:"route,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// FindRoute finds the best route for req on g. Malformed requests fail with
// an error; unavailable routes are reported in the result.
func (r *Router) FindRoute(ctx context.Context, g *grapher.Graph, req engine.RouteRequest) (RouteResult, error) {
	started := time.Now()
	if req.SourceAsset == "" || req.DestinationAsset == "" {
		return RouteResult{}, engine.Malformed("source and destination assets are required")
	}
	amount, err := decimal.NewFromString(req.InputAmount)
	if err != nil {
		return RouteResult{}, engine.Malformed("input amount %q is not a number", req.InputAmount)
	}

	route, err := r.search(ctx, g, req.SourceAsset, req.DestinationAsset, amount.InexactFloat64(), r.maxHops(req.MaxHops))
	var result RouteResult
	switch {
	case err == nil:
		result.Available = true
		result.Route = &route
	case errors.Is(err, engine.ErrUnavailable):
		result.Reason = err.Error()
		r.logger.Debug("route unavailable", "from", req.SourceAsset, "to", req.DestinationAsset, "reason", result.Reason)
	default:
		return RouteResult{}, err
	}
	result.Elapsed = time.Since(started)
	return result, nil
}

// QuoteResult is the answer to a quote request. The route amounts are per
// unit of source asset.
type QuoteResult struct {
	Available bool          `json:"available"`
	Reason    string        `json:"reason,omitempty"`
	Route     *engine.Route `json:"route,omitempty"`
	Quote     *quote.Quote  `json:"quote,omitempty"`
	Elapsed   time.Duration `json:"elapsed"`
}

// Quote prices receiving req.DestinationAmount on g with the configured
// slippage model.
func (r *Router) Quote(ctx context.Context, g *grapher.Graph, req engine.QuoteRequest) (QuoteResult, error) {
	started := time.Now()
	result, err := r.quote(ctx, g, req)
	if err != nil {
		r.metrics.quotes.WithLabelValues("malformed").Inc()
		return QuoteResult{}, err
	}
	r.quotes.Add(1)
	if result.Available {
		r.metrics.quotes.WithLabelValues("available").Inc()
	} else {
		r.metrics.quotes.WithLabelValues("unavailable").Inc()
		r.logger.Debug("quote unavailable", "from", req.SourceAsset, "to", req.DestinationAsset, "reason", result.Reason)
	}
	result.Elapsed = time.Since(started)
	return result, nil
}

func (r *Router) quote(ctx context.Context, g *grapher.Graph, req engine.QuoteRequest) (QuoteResult, error) {
	if req.SourceAsset == "" || req.DestinationAsset == "" {
		return QuoteResult{}, engine.Malformed("source and destination assets are required")
	}
	route, err := r.search(ctx, g, req.SourceAsset, req.DestinationAsset, 1, r.maxHops(req.MaxHops))
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			return QuoteResult{Reason: err.Error()}, nil
		}
		return QuoteResult{}, err
	}

	q, err := quote.New(route, req.DestinationAmount, r.cfg.Slippage, req.VolatilityIndex)
	if err != nil {
		if errors.Is(err, engine.ErrUnavailable) {
			return QuoteResult{Reason: err.Error(), Route: &route}, nil
		}
		return QuoteResult{}, err
	}
	return QuoteResult{Available: true, Route: &route, Quote: &q}, nil
}

// BatchQuoteResult holds one result per request, in request order.
type BatchQuoteResult struct {
	Results []QuoteResult `json:"results"`
	Elapsed time.Duration `json:"elapsed"`
}

// BatchQuote quotes every request concurrently over the shared graph. A
// malformed request fails the whole batch.
func (r *Router) BatchQuote(ctx context.Context, g *grapher.Graph, reqs []engine.QuoteRequest) (BatchQuoteResult, error) {
	started := time.Now()
	results := make([]QuoteResult, len(reqs))

	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(r.cfg.BatchConcurrency)
	for i, req := range reqs {
		eg.Go(func() error {
			result, err := r.Quote(ctx, g, req)
			if err != nil {
				return fmt.Errorf("request %d: %w", i, err)
			}
			results[i] = result
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return BatchQuoteResult{}, err
	}
	return BatchQuoteResult{Results: results, Elapsed: time.Since(started)}, nil
}

// ScanArbitrage searches g for profitable cycles.
func (r *Router) ScanArbitrage(ctx context.Context, g *grapher.Graph, params grapher.ScanParams) (grapher.ScanResult, error) {
	if r.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SearchTimeout)
		defer cancel()
	}

	timer := prometheus.NewTimer(r.metrics.scanDuration)
	result, err := g.Scan(ctx, params)
	timer.ObserveDuration()
	if err != nil {
		return grapher.ScanResult{}, err
	}

	r.scans.Add(1)
	r.metrics.cyclesFound.Add(float64(len(result.Cycles)))
	r.logger.Info("arbitrage scan",
		"cycles", len(result.Cycles),
		"candidates", result.Candidates,
		"filtered", result.Filtered,
		"truncated", result.Truncated,
		"elapsed", result.Elapsed,
	)
	return result, nil
}

// BuildBundle places ops into a bundle for account.
func (r *Router) BuildBundle(ops []bundle.OperationSpec, atomic bool, account string, startingSequence uint64) (bundle.Bundle, error) {
	b, err := r.builder.Build(ops, atomic, account, startingSequence)
	if err != nil {
		return bundle.Bundle{}, err
	}
	mode := "independent"
	if atomic {
		mode = "atomic"
	}
	r.bundles.Add(1)
	r.metrics.bundles.WithLabelValues(mode).Inc()
	return b, nil
}

// BundleRoute bundles one swap per hop of route.
func (r *Router) BundleRoute(route engine.Route, account string, startingSequence uint64, atomic bool) (bundle.Bundle, error) {
	return r.BuildBundle(bundle.FromRoute(route), atomic, account, startingSequence)
}

// BundleCycle bundles the flash-loan funded execution of cycle. Cycle bundles
// are always atomic.
func (r *Router) BundleCycle(cycle engine.ArbitrageCycle, account string, startingSequence uint64) (bundle.Bundle, error) {
	return r.BuildBundle(bundle.FromCycle(cycle), true, account, startingSequence)
}

// EvaluateMEV scores an MEV protection configuration.
func (r *Router) EvaluateMEV(cfg engine.MEVConfig) mevpolicy.Assessment {
	return r.policy.Evaluate(cfg)
}

// ValidateAddress checks account with the configured validator.
func (r *Router) ValidateAddress(account string) error {
	if r.validator == nil {
		return nil
	}
	return r.validator.ValidateAddress(account)
}

// Info summarizes the router since it was created.
type Info struct {
	Version           string        `json:"version"`
	TotalSearches     int64         `json:"total_searches"`
	TotalQuotes       int64         `json:"total_quotes"`
	TotalScans        int64         `json:"total_scans"`
	TotalBundles      int64         `json:"total_bundles"`
	AverageSearchTime time.Duration `json:"average_search_time"`
	CachedSnapshots   int           `json:"cached_snapshots"`
}

// Info reports the version and request totals of the router.
func (r *Router) Info() Info {
	info := Info{
		Version:       r.cfg.Version,
		TotalSearches: r.searches.Load(),
		TotalQuotes:   r.quotes.Load(),
		TotalScans:    r.scans.Load(),
		TotalBundles:  r.bundles.Load(),
	}
	if info.TotalSearches > 0 {
		info.AverageSearchTime = time.Duration(r.searchNanos.Load() / info.TotalSearches)
	}
	if r.cache != nil {
		info.CachedSnapshots = r.cache.Len()
	}
	return info
}

func (r *Router) maxHops(requested int) int {
	if requested == 0 {
		return r.cfg.MaxHops
	}
	return requested
}

// search runs one route search under the configured budgets and records it.
func (r *Router) search(ctx context.Context, g *grapher.Graph, source, destination string, amount float64, maxHops int) (engine.Route, error) {
	if r.cfg.SearchTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.cfg.SearchTimeout)
		defer cancel()
	}

	started := time.Now()
	route, err := g.FindRoute(ctx, source, destination, amount, maxHops, grapher.WithMaxSteps(r.cfg.MaxSearchSteps))
	elapsed := time.Since(started)

	outcome := "found"
	switch {
	case errors.Is(err, engine.ErrUnavailable):
		outcome = "unavailable"
	case err != nil:
		outcome = "malformed"
	}
	r.metrics.routeSearch.WithLabelValues(outcome).Observe(elapsed.Seconds())
	r.searches.Add(1)
	r.searchNanos.Add(int64(elapsed))
	return route, err
}
