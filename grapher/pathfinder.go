package grapher

import (
	"context"
	"fmt"
	"math"

	"github.com/defistate/defistate-router-go/engine"
)

// SearchOption tunes a single search.
type SearchOption func(*searchOptions)

type searchOptions struct {
	maxSteps int
}

// WithMaxSteps aborts the search after n edge relaxations. Zero means no limit.
func WithMaxSteps(n int) SearchOption {
	return func(o *searchOptions) {
		o.maxSteps = n
	}
}

// FindRoute returns the route from source to destination with the highest
// compounded rate using at most maxHops edges.
//
// The search is abandoned, and the route reported unavailable, when ctx is
// done or the step budget runs out before the search completes.
func (g *Graph) FindRoute(
	ctx context.Context,
	source, destination string,
	amountIn float64,
	maxHops int,
	opts ...SearchOption,
) (engine.Route, error) {
	if source == "" || destination == "" {
		return engine.Route{}, engine.Malformed("source and destination assets are required")
	}
	if math.IsNaN(amountIn) || math.IsInf(amountIn, 0) || amountIn <= 0 {
		return engine.Route{}, engine.Malformed("input amount must be positive, got %v", amountIn)
	}
	if maxHops < 1 {
		return engine.Route{}, engine.Malformed("max hops must be at least 1, got %d", maxHops)
	}

	var o searchOptions
	for _, opt := range opts {
		opt(&o)
	}

	start, err := g.vertex(source, "source")
	if err != nil {
		return engine.Route{}, err
	}
	end, err := g.vertex(destination, "destination")
	if err != nil {
		return engine.Route{}, err
	}
	if start == end {
		return engine.Route{}, engine.Unavailable("source and destination are both %s", source)
	}

	res := g.run(ctx, search{
		start:      start,
		rounds:     maxHops,
		maxPathLen: maxHops,
		choice:     g.defaultChoice,
		maxSteps:   o.maxSteps,
	})
	if res.truncated {
		return engine.Route{}, engine.Unavailable("search budget exhausted after %d steps", res.steps)
	}

	target := res.labels[end]
	if !target.reached() {
		return engine.Route{}, fmt.Errorf("%s to %s within %d hops: %w", source, destination, maxHops, engine.ErrNoPathFound)
	}

	route := g.route(start, target.path, amountIn)
	route.NegativeCycleDetected = res.negativeCycle
	return route, nil
}

// route materializes a path, compounding amountIn hop by hop. Price impact is
// measured against the same path with every pool at full depth.
func (g *Graph) route(start int, path []step, amountIn float64) engine.Route {
	route := engine.Route{
		Assets:             make([]string, 0, len(path)+1),
		Hops:               make([]engine.Hop, 0, len(path)),
		InputAmount:        amountIn,
		AggregateLiquidity: 1,
	}
	route.Assets = append(route.Assets, g.view.Assets[start])

	amount, reference := amountIn, amountIn
	for _, s := range path {
		poolIndex := g.view.EdgePools[s.edge][s.slot]
		pool := g.pools[poolIndex]
		from := g.view.Assets[g.edgeSources[s.edge]]
		to := g.view.Assets[g.view.EdgeTargets[s.edge]]
		rate := g.edgeRates[s.edge][s.slot]
		price := pool.QuotedPrice(from)

		out := amount * rate
		route.Hops = append(route.Hops, engine.Hop{
			From:         from,
			To:           to,
			PoolRef:      poolIndex,
			PoolKey:      pool.Key(),
			Protocol:     pool.Protocol,
			Rate:         rate,
			Price:        price,
			Fee:          pool.Fee,
			Liquidity:    pool.Liquidity,
			AmountIn:     amount,
			AmountOut:    out,
			ResourceCost: pool.ResourceCost,
		})
		route.Assets = append(route.Assets, to)
		route.Weight += s.weight
		route.AggregateLiquidity *= pool.Liquidity
		route.ResourceCost += pool.ResourceCost

		reference *= price * (1 - pool.Fee)
		amount = out
	}

	route.OutputAmount = amount
	if reference > 0 {
		route.PriceImpact = 1 - amount/reference
	}
	return route
}
